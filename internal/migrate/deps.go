package migrate

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/vk/treepump/internal/completion"
	"github.com/vk/treepump/internal/ctxlog"
	"github.com/vk/treepump/internal/metrics"
	"github.com/vk/treepump/internal/task"
)

// Recorder receives completion records.
type Recorder interface {
	Done(path string)
	Error(path, detail string)
	Advisory(status completion.Status, path string)
}

// Deps is shared by every step of a run.
type Deps struct {
	Log Recorder
	// Streams is the parallel stream count for large items.
	Streams int
	// MultiStreamThreshold is the item size from which Streams applies.
	MultiStreamThreshold int64
	Metrics              *metrics.Recorder

	copied atomic.Int64
}

// BytesCopied returns the content bytes written so far.
func (d *Deps) BytesCopied() int64 { return d.copied.Load() }

func (d *Deps) addBytes(n int64) {
	d.copied.Add(n)
	d.Metrics.AddBytes(n)
}

func (d *Deps) streamsFor(size int64) int {
	if d.Streams > 1 && size >= d.MultiStreamThreshold {
		return d.Streams
	}
	return 1
}

// fail records err against path and stops the branch. The error is passed
// on so the runner resets the session.
func (d *Deps) fail(path string, err error) (task.Outcome, error) {
	d.Log.Error(path, err.Error())
	return task.Stop, err
}

func stepLogger(ctx context.Context, s task.Step) *slog.Logger {
	return ctxlog.FromContext(ctx).With("step", s.Kind(), "path", s.Path())
}
