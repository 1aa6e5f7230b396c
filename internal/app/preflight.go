package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/vk/treepump/internal/builder"
	"github.com/vk/treepump/internal/completion"
	"github.com/vk/treepump/internal/ctxlog"
	"github.com/vk/treepump/internal/endpoint"
	"github.com/vk/treepump/internal/migrate"
	"github.com/vk/treepump/internal/model"
	"github.com/vk/treepump/internal/session"
)

// Stage names the check a run failed before any task was executed.
type Stage string

const (
	StageConfig           Stage = "config"
	StageSourceLogin      Stage = "source-login"
	StageDestinationLogin Stage = "destination-login"
	StageResume           Stage = "resume"
	StageMissingObject    Stage = "missing-object"
	StageNotCollection    Stage = "not-collection"
	StagePolicy           Stage = "policy"
	StageLocalZone        Stage = "local-zone"
	StageAccess           Stage = "access"
	StageInventory        Stage = "inventory"
)

// PreflightError is a fatal failure detected before the migration started.
type PreflightError struct {
	Stage Stage
	Err   error
}

func (e *PreflightError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *PreflightError) Unwrap() error { return e.Err }

func fail(stage Stage, err error) error {
	return &PreflightError{Stage: stage, Err: err}
}

// plan is everything preflight learned that the graph and the pool need.
type plan struct {
	root      model.Object
	inventory []model.Object
	completed completion.Set
	mappable  map[model.Identity]bool
	session   session.Options
}

// objects returns the objects the graph is built from.
func (p *plan) objects() []model.Object {
	if p.root.IsCollection() {
		return p.inventory
	}
	return []model.Object{p.root}
}

// preflight validates both endpoints and collects the source inventory with
// a single elevated session. It grants the service identity recursive own
// access on both roots before returning.
func (a *App) preflight(ctx context.Context) (*plan, error) {
	logger := ctxlog.FromContext(ctx)
	logger.Debug("Preflight started.", "source", a.opts.Source, "destination", a.opts.Destination)

	opts := a.sessionOptions()
	sess := session.New(opts)
	defer sess.Disconnect()

	if err := sess.LoginElevated(ctx); err != nil {
		var le *session.LoginError
		if errors.As(err, &le) && le.Side == session.Destination {
			return nil, fail(StageDestinationLogin, err)
		}
		return nil, fail(StageSourceLogin, err)
	}
	src, dst := sess.Source(), sess.Destination()
	if err := requireAdmin(ctx, src, sess.AdminOn(session.Source)); err != nil {
		return nil, fail(StageSourceLogin, err)
	}
	if err := requireAdmin(ctx, dst, sess.AdminOn(session.Destination)); err != nil {
		return nil, fail(StageDestinationLogin, err)
	}

	p := &plan{completed: completion.Set{}}
	if a.opts.Resume != "" {
		set, err := completion.ParseFile(a.opts.Resume)
		if err != nil {
			return nil, fail(StageResume, err)
		}
		p.completed = set
		logger.Info("Resuming from completion log.", "path", a.opts.Resume, "completed", len(set))
	}

	srcStat, err := src.Stat(ctx, a.opts.Source)
	if err != nil {
		return nil, fail(StageMissingObject, fmt.Errorf("source %s: %w", a.opts.Source, err))
	}
	dstStat, err := dst.Stat(ctx, a.opts.Destination)
	if err != nil {
		return nil, fail(StageMissingObject, fmt.Errorf("destination %s: %w", a.opts.Destination, err))
	}
	if dstStat.Kind != model.KindCollection {
		return nil, fail(StageNotCollection, fmt.Errorf("destination %s: %w", a.opts.Destination, endpoint.ErrNotCollection))
	}
	p.root = model.Object{Path: a.opts.Source, Kind: srcStat.Kind, Owner: srcStat.Owner, Size: srcStat.Size}

	srcRoot := p.root.Parent()
	if p.root.IsCollection() {
		srcRoot = p.root.Path
		avus, err := src.Metadata(ctx, srcRoot)
		if err != nil {
			return nil, fail(StagePolicy, fmt.Errorf("read metadata of %s: %w", srcRoot, err))
		}
		if err := migrate.CheckMovable(avus); err != nil {
			return nil, fail(StagePolicy, fmt.Errorf("source %s: %w", srcRoot, err))
		}
		if p.inventory, err = src.Enumerate(ctx, srcRoot); err != nil {
			return nil, fail(StageInventory, fmt.Errorf("enumerate %s: %w", srcRoot, err))
		}
	}
	logger.Info("Source inventory collected.", "root", p.root.Path, "kind", p.root.Kind, "objects", len(p.objects()))

	srcZone, err := src.LocalZone(ctx)
	if err != nil {
		return nil, fail(StageLocalZone, fmt.Errorf("source: %w", err))
	}
	dstZone, err := dst.LocalZone(ctx)
	if err != nil {
		return nil, fail(StageLocalZone, fmt.Errorf("destination: %w", err))
	}

	p.mappable, err = mappableOwners(ctx, src, dst, builder.Owners(p.objects()), srcZone, dstZone)
	if err != nil {
		return nil, fail(StageInventory, err)
	}

	if err := src.SetAccess(ctx, srcRoot, sess.AdminOn(session.Source), model.AccessOwn, true); err != nil {
		return nil, fail(StageAccess, fmt.Errorf("source %s: %w", srcRoot, err))
	}
	if err := dst.SetAccess(ctx, a.opts.Destination, sess.AdminOn(session.Destination), model.AccessOwn, true); err != nil {
		return nil, fail(StageAccess, fmt.Errorf("destination %s: %w", a.opts.Destination, err))
	}
	logger.Debug("Elevated identity owns both roots.", "source", srcRoot, "destination", a.opts.Destination)

	opts.Source.LocalZone, opts.Source.Root = srcZone, srcRoot
	opts.Destination.LocalZone, opts.Destination.Root = dstZone, a.opts.Destination
	p.session = opts
	return p, nil
}

func requireAdmin(ctx context.Context, s endpoint.Session, id model.Identity) error {
	admin, err := s.IsAdmin(ctx, id)
	if err != nil {
		return fmt.Errorf("look up %s: %w", id, err)
	}
	if !admin {
		return fmt.Errorf("%s is not an administrator", id)
	}
	return nil
}

// mappableOwners returns the owners that can be impersonated: members of the
// source local zone known by name on both endpoints.
func mappableOwners(ctx context.Context, src, dst endpoint.Session, owners []model.Identity, srcZone, dstZone string) (map[model.Identity]bool, error) {
	logger := ctxlog.FromContext(ctx)
	out := make(map[model.Identity]bool, len(owners))
	for _, owner := range owners {
		if owner.Zone != srcZone {
			logger.Info("Owner is not local; their objects are migrated by the service account.", "identity", owner)
			continue
		}
		onSource, err := src.UserExists(ctx, owner)
		if err != nil {
			return nil, fmt.Errorf("look up %s: %w", owner, err)
		}
		onDestination, err := dst.UserExists(ctx, owner.InZone(dstZone))
		if err != nil {
			return nil, fmt.Errorf("look up %s on destination: %w", owner.Name, err)
		}
		if !onSource || !onDestination {
			logger.Info("Owner is unknown on one side; their objects are migrated by the service account.",
				"identity", owner, "source", onSource, "destination", onDestination)
			continue
		}
		out[owner] = true
	}
	logger.Debug("Owner mapping complete.", "owners", len(owners), "mappable", len(out))
	return out, nil
}
