package migrate

import (
	"context"
	"errors"
	"fmt"

	"github.com/vk/treepump/internal/endpoint"
	"github.com/vk/treepump/internal/model"
	"github.com/vk/treepump/internal/precond"
	"github.com/vk/treepump/internal/session"
	"github.com/vk/treepump/internal/task"
)

// CopyContent transfers a data item and signals ObjectExists for it. An
// item already present with the right size is not transferred again.
type CopyContent struct {
	Object model.Object
	Deps   *Deps
}

func (s *CopyContent) Kind() string { return "copy-content" }
func (s *CopyContent) Path() string { return s.Object.Path }

func (s *CopyContent) Run(ctx context.Context, t *task.Task, env task.Env) (task.Outcome, error) {
	logger := stepLogger(ctx, s)
	sess := env.Session
	dst := sess.Destination()
	target := sess.DestinationPath(s.Object.Path)

	if sess.Impersonating() {
		ok, err := dst.CheckAccess(ctx, dst.Acting(), model.Parent(target), model.AccessWrite)
		if err != nil {
			return s.Deps.fail(s.Object.Path, fmt.Errorf("check access on %s: %w", model.Parent(target), err))
		}
		if !ok {
			return task.Escalate, nil
		}
	}

	stat, err := dst.Stat(ctx, target)
	switch {
	case err == nil && stat.Size == s.Object.Size:
		logger.Debug("Destination item already present; skipping transfer.", "destination", target)
		env.Signal(precond.Exists(s.Object.Path))
		return task.Continue, nil
	case err == nil:
		detail := fmt.Sprintf("destination %s exists with size %d, source has %d", target, stat.Size, s.Object.Size)
		logger.Error("Destination item exists with a different size.", "destination", target, "size", stat.Size, "expected", s.Object.Size)
		s.Deps.Log.Error(s.Object.Path, detail)
		return task.Stop, nil
	case !errors.Is(err, endpoint.ErrNotFound):
		return s.Deps.fail(s.Object.Path, fmt.Errorf("stat %s: %w", target, err))
	}

	size, written, err := s.transfer(ctx, sess, target)
	s.Deps.addBytes(written)
	if err != nil {
		logger.Error("Transfer failed; removing partial item.", "destination", target, "written", written, "error", err)
		s.discard(ctx, sess, target)
		sess.Disconnect()
		s.Deps.Log.Error(s.Object.Path, err.Error())
		return task.Stop, nil
	}

	stat, err = dst.Stat(ctx, target)
	if err != nil {
		return s.Deps.fail(s.Object.Path, fmt.Errorf("stat %s after transfer: %w", target, err))
	}
	if stat.Size != size {
		mismatch := &endpoint.TransferError{Path: target, Expected: size, Actual: stat.Size}
		logger.Error("Transferred item has the wrong size; removing it.", "destination", target, "error", mismatch)
		s.discard(ctx, sess, target)
		s.Deps.Log.Error(s.Object.Path, mismatch.Error())
		return task.Stop, nil
	}

	logger.Info("Item transferred.", "destination", target, "bytes", size)
	env.Signal(precond.Exists(s.Object.Path))
	return task.Continue, nil
}

// transfer copies the source item to target and returns the source size and
// the number of bytes written.
func (s *CopyContent) transfer(ctx context.Context, sess *session.Context, target string) (int64, int64, error) {
	r, err := sess.Source().Open(ctx, s.Object.Path)
	if err != nil {
		return 0, 0, fmt.Errorf("open source: %w", err)
	}
	defer r.Close()

	w, err := sess.Destination().Create(ctx, target)
	if err != nil {
		return r.Size(), 0, fmt.Errorf("create destination: %w", err)
	}

	size := r.Size()
	written, err := endpoint.Copy(ctx, target, w, r, size, s.Deps.streamsFor(size))
	if cerr := w.Close(); err == nil && cerr != nil {
		err = &endpoint.TransferError{Path: target, Expected: size, Actual: written, Err: cerr}
	}
	return size, written, err
}

func (s *CopyContent) discard(ctx context.Context, sess *session.Context, target string) {
	err := sess.Destination().Unlink(ctx, target)
	if err != nil && !errors.Is(err, endpoint.ErrNotFound) {
		stepLogger(ctx, s).Warn("Unable to remove partial item.", "destination", target, "error", err)
	}
}
