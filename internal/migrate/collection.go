package migrate

import (
	"context"
	"errors"
	"fmt"

	"github.com/vk/treepump/internal/completion"
	"github.com/vk/treepump/internal/endpoint"
	"github.com/vk/treepump/internal/model"
	"github.com/vk/treepump/internal/precond"
	"github.com/vk/treepump/internal/session"
	"github.com/vk/treepump/internal/task"
)

// CreateCollection creates the destination counterpart of a collection and
// signals ObjectExists for it.
type CreateCollection struct {
	Object model.Object
	Deps   *Deps
}

func (s *CreateCollection) Kind() string { return "create-collection" }
func (s *CreateCollection) Path() string { return s.Object.Path }

func (s *CreateCollection) Run(ctx context.Context, t *task.Task, env task.Env) (task.Outcome, error) {
	logger := stepLogger(ctx, s)
	dst := env.Session.Destination()
	target := env.Session.DestinationPath(s.Object.Path)

	_, err := dst.Stat(ctx, target)
	switch {
	case err == nil:
		logger.Debug("Destination collection already exists.", "destination", target)
		env.Signal(precond.Exists(s.Object.Path))
		return task.Continue, nil
	case !errors.Is(err, endpoint.ErrNotFound):
		return s.Deps.fail(s.Object.Path, fmt.Errorf("stat %s: %w", target, err))
	}

	if env.Session.Impersonating() {
		ok, err := dst.CheckAccess(ctx, dst.Acting(), model.Parent(target), model.AccessWrite)
		if err != nil {
			return s.Deps.fail(s.Object.Path, fmt.Errorf("check access on %s: %w", model.Parent(target), err))
		}
		if !ok {
			return task.Escalate, nil
		}
	}

	if err := dst.CreateCollection(ctx, target); err != nil && !errors.Is(err, endpoint.ErrAlreadyExists) {
		return s.Deps.fail(s.Object.Path, fmt.Errorf("create collection %s: %w", target, err))
	}
	logger.Info("Collection created.", "destination", target, "owner", dst.Acting())
	env.Signal(precond.Exists(s.Object.Path))
	return task.Continue, nil
}

// GrantAccess gives the elevated identity own access on the destination
// object and signals AdminAccess for it.
type GrantAccess struct {
	Object model.Object
	Deps   *Deps
}

func (s *GrantAccess) Kind() string { return "grant-access" }
func (s *GrantAccess) Path() string { return s.Object.Path }

func (s *GrantAccess) Run(ctx context.Context, t *task.Task, env task.Env) (task.Outcome, error) {
	dst := env.Session.Destination()
	target := env.Session.DestinationPath(s.Object.Path)

	if env.Session.Impersonating() {
		ok, err := dst.CheckAccess(ctx, dst.Acting(), target, model.AccessOwn)
		if err != nil {
			return s.Deps.fail(s.Object.Path, fmt.Errorf("check access on %s: %w", target, err))
		}
		if !ok {
			return task.Escalate, nil
		}
	}

	admin := env.Session.AdminOn(session.Destination)
	if err := dst.SetAccess(ctx, target, admin, model.AccessOwn, false); err != nil {
		return s.Deps.fail(s.Object.Path, fmt.Errorf("grant own to %s on %s: %w", admin, target, err))
	}
	stepLogger(ctx, s).Debug("Elevated identity granted own access.", "destination", target)
	env.Signal(precond.Admin(s.Object.Path))
	return task.Continue, nil
}

// CheckRepublication reports vault collections whose publication state must
// be refreshed by the operator, then signals Republished.
type CheckRepublication struct {
	Object model.Object
	Deps   *Deps
}

func (s *CheckRepublication) Kind() string { return "check-republication" }
func (s *CheckRepublication) Path() string { return s.Object.Path }

func (s *CheckRepublication) Run(ctx context.Context, t *task.Task, env task.Env) (task.Outcome, error) {
	if IsVault(s.Object.Path) {
		target := env.Session.DestinationPath(s.Object.Path)
		avus, err := env.Session.Destination().Metadata(ctx, target)
		if err != nil {
			return s.Deps.fail(s.Object.Path, fmt.Errorf("read metadata of %s: %w", target, err))
		}
		for _, avu := range avus {
			if avu.Attribute != attrVaultStatus {
				continue
			}
			switch avu.Value {
			case VaultPublished:
				s.Deps.Log.Advisory(completion.Republish, target)
				stepLogger(ctx, s).Warn("Published data package needs republication.", "destination", target)
			case VaultDepublished:
				s.Deps.Log.Advisory(completion.Redepublish, target)
				stepLogger(ctx, s).Warn("Depublished data package needs re-depublication.", "destination", target)
			}
		}
	}
	env.Signal(precond.Republish(s.Object.Path))
	return task.Continue, nil
}

// LogDone appends the source path to the completion log. It ends a chain.
type LogDone struct {
	Object model.Object
	Deps   *Deps
}

func (s *LogDone) Kind() string { return "log-done" }
func (s *LogDone) Path() string { return s.Object.Path }

func (s *LogDone) Run(ctx context.Context, t *task.Task, env task.Env) (task.Outcome, error) {
	s.Deps.Log.Done(s.Object.Path)
	stepLogger(ctx, s).Info("Object migrated.", "kind", s.Object.Kind)
	return task.Continue, nil
}
