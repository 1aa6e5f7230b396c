package endpoint

import (
	"context"
	"io"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

// chunkSize bounds how much one stream copies between context checks.
const chunkSize = 4 << 20

// Copy moves size bytes from src to dst using up to streams parallel
// ranges. It returns the number of bytes written; a failure is reported as
// a *TransferError carrying the underlying cause.
func Copy(ctx context.Context, path string, dst Writer, src Reader, size int64, streams int) (int64, error) {
	if streams < 1 {
		streams = 1
	}
	if int64(streams) > size/chunkSize+1 {
		streams = int(size/chunkSize + 1)
	}

	var written atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	span := size / int64(streams)

	for i := 0; i < streams; i++ {
		off := int64(i) * span
		n := span
		if i == streams-1 {
			n = size - off
		}
		g.Go(func() error {
			return copyRange(gctx, dst, src, off, n, &written)
		})
	}

	if err := g.Wait(); err != nil {
		return written.Load(), &TransferError{Path: path, Expected: size, Actual: written.Load(), Err: err}
	}
	return written.Load(), nil
}

func copyRange(ctx context.Context, dst io.WriterAt, src io.ReaderAt, off, n int64, written *atomic.Int64) error {
	r := io.NewSectionReader(src, off, n)
	w := io.NewOffsetWriter(dst, off)
	for n > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		step := min(int64(chunkSize), n)
		copied, err := io.CopyN(w, r, step)
		written.Add(copied)
		if err != nil {
			return err
		}
		n -= copied
	}
	return nil
}
