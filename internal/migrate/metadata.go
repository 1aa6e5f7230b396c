package migrate

import (
	"context"
	"errors"
	"fmt"

	"github.com/vk/treepump/internal/endpoint"
	"github.com/vk/treepump/internal/model"
	"github.com/vk/treepump/internal/precond"
	"github.com/vk/treepump/internal/task"
)

// CopyMetadata copies the selected metadata of one object and signals
// MetadataCopied for it.
type CopyMetadata struct {
	Object model.Object
	Deps   *Deps
}

func (s *CopyMetadata) Kind() string { return "copy-metadata" }
func (s *CopyMetadata) Path() string { return s.Object.Path }

func (s *CopyMetadata) Run(ctx context.Context, t *task.Task, env task.Env) (task.Outcome, error) {
	logger := stepLogger(ctx, s)
	target := env.Session.DestinationPath(s.Object.Path)

	avus, err := env.Session.Source().Metadata(ctx, s.Object.Path)
	if err != nil {
		return s.Deps.fail(s.Object.Path, fmt.Errorf("read metadata: %w", err))
	}
	if s.Object.IsCollection() {
		avus = CollectionMetadata(s.Object.Path, avus)
	} else {
		avus = ItemMetadata(s.Object.Path, avus)
	}

	dst := env.Session.Destination()
	var failed []error
	for _, avu := range avus {
		var err error
		if replaces(avu.Attribute) {
			err = dst.SetMetadata(ctx, target, avu)
		} else {
			err = dst.AddMetadata(ctx, target, avu)
		}
		if err != nil && !endpoint.HasCode(err, endpoint.CodeAlreadyPresent) {
			failed = append(failed, fmt.Errorf("%s: %w", avu.Attribute, err))
		}
	}
	if len(failed) > 0 {
		err := errors.Join(failed...)
		logger.Error("Unable to copy metadata.", "destination", target, "error", err)
		s.Deps.Log.Error(s.Object.Path, err.Error())
		return task.Stop, nil
	}

	logger.Debug("Metadata copied.", "count", len(avus))
	env.Signal(precond.Metadata(s.Object.Path))
	return task.Continue, nil
}
