package catalog

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/vk/treepump/internal/endpoint"
)

// newDataFile names the file holding one item's content.
func newDataFile() string {
	return uuid.NewString()
}

func (c *Catalog) dataPath(file string) string {
	return filepath.Join(c.dataDir, file)
}

type reader struct {
	*os.File
	size int64
}

func (r *reader) Size() int64 { return r.size }

func (c *Catalog) openContent(path, file string) (endpoint.Reader, error) {
	f, err := os.Open(c.dataPath(file))
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return &reader{File: f, size: info.Size()}, nil
}

// writer records the final size of the item in the catalog on Close.
type writer struct {
	*os.File
	ctx  context.Context
	cat  *Catalog
	path string
}

func (c *Catalog) createContent(ctx context.Context, path, file string) (*writer, error) {
	f, err := os.OpenFile(c.dataPath(file), os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o640)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", path, err)
	}
	return &writer{File: f, ctx: ctx, cat: c, path: path}, nil
}

func (w *writer) Close() error {
	info, err := w.File.Stat()
	if cerr := w.File.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("close %s: %w", w.path, err)
	}
	_, err = w.cat.db.ExecContext(w.ctx, `UPDATE objects SET size = $1 WHERE path = $2`, info.Size(), w.path)
	if err != nil {
		return fmt.Errorf("close %s: %w", w.path, err)
	}
	return nil
}

func (w *writer) discard() {
	name := w.File.Name()
	w.File.Close()
	os.Remove(name)
}
