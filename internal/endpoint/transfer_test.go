package endpoint

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memReader struct{ *bytes.Reader }

func (memReader) Close() error { return nil }

type memWriter struct {
	mu      sync.Mutex
	buf     []byte
	failAt  int64
	failErr error
}

func (w *memWriter) WriteAt(p []byte, off int64) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.failErr != nil && off+int64(len(p)) > w.failAt {
		return 0, w.failErr
	}
	if end := off + int64(len(p)); end > int64(len(w.buf)) {
		w.buf = append(w.buf, make([]byte, end-int64(len(w.buf)))...)
	}
	copy(w.buf[off:], p)
	return len(p), nil
}

func (w *memWriter) Close() error { return nil }

func payload(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i % 251)
	}
	return b
}

func TestCopy(t *testing.T) {
	testCases := []struct {
		name    string
		size    int
		streams int
	}{
		{name: "empty item", size: 0, streams: 1},
		{name: "single stream", size: 1024, streams: 1},
		{name: "streams capped by size", size: 1024, streams: 8},
		{name: "multi stream over several chunks", size: 3*chunkSize + 17, streams: 3},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			// --- Arrange ---
			data := payload(tc.size)
			src := memReader{bytes.NewReader(data)}
			dst := &memWriter{}

			// --- Act ---
			n, err := Copy(context.Background(), "/z/item", dst, src, int64(len(data)), tc.streams)

			// --- Assert ---
			require.NoError(t, err)
			assert.Equal(t, int64(tc.size), n)
			assert.True(t, bytes.Equal(data, dst.buf), "copied content differs")
		})
	}
}

func TestCopy_WriteFailure(t *testing.T) {
	t.Parallel()

	// --- Arrange ---
	boom := errors.New("disk full")
	data := payload(2048)
	dst := &memWriter{failAt: 1024, failErr: boom}

	// --- Act ---
	_, err := Copy(context.Background(), "/z/item", dst, memReader{bytes.NewReader(data)}, int64(len(data)), 1)

	// --- Assert ---
	var terr *TransferError
	require.ErrorAs(t, err, &terr)
	assert.False(t, terr.SizeMismatch())
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, "/z/item", terr.Path)
}

func TestHasCode(t *testing.T) {
	err := &ProtocolError{Op: "add metadata", Path: "/z/a", Code: CodeAlreadyPresent}
	assert.True(t, HasCode(err, CodeAlreadyPresent))
	assert.False(t, HasCode(errors.New("plain"), CodeAlreadyPresent))
}
