package builder

import (
	"context"

	"github.com/vk/treepump/internal/completion"
	"github.com/vk/treepump/internal/ctxlog"
	"github.com/vk/treepump/internal/migrate"
	"github.com/vk/treepump/internal/model"
	"github.com/vk/treepump/internal/precond"
	"github.com/vk/treepump/internal/task"
)

// Plan is the input of Build.
type Plan struct {
	// Root is the source object named on the command line.
	Root model.Object
	// Inventory lists the objects strictly below a collection root. It is
	// ignored when Root is a data item.
	Inventory []model.Object
	Completed completion.Set
	Elevated  model.Identity
	// Mappable holds the owners that may be impersonated.
	Mappable map[model.Identity]bool
	Deps     *migrate.Deps
}

// Summary counts what Build produced.
type Summary struct {
	Objects      int
	Skipped      int
	Tasks        int
	Impersonated int
}

// Build adds the graph for p to s and primes its entry keys.
func Build(ctx context.Context, s task.Scheduler, p Plan) Summary {
	logger := ctxlog.FromContext(ctx)
	logger.Debug("Build: Starting graph construction.", "root", p.Root.Path)

	objects := p.Inventory
	entry := []precond.Key{precond.Admin(p.Root.Parent())}
	if p.Root.IsCollection() {
		entry = []precond.Key{precond.Exists(p.Root.Path), precond.Admin(p.Root.Path)}
	} else {
		objects = []model.Object{p.Root}
	}

	b := &graph{plan: p, sched: s}
	for _, obj := range objects {
		if p.Completed.Has(obj.Path) {
			b.summary.Skipped++
			if obj.IsCollection() {
				entry = append(entry, precond.Exists(obj.Path), precond.Admin(obj.Path))
			}
			continue
		}
		b.summary.Objects++
		if obj.IsCollection() {
			b.collection(obj)
		} else {
			b.item(obj)
		}
	}
	logger.Debug("Build: Task creation complete.", "tasks", b.summary.Tasks, "skipped", b.summary.Skipped)

	for _, key := range entry {
		s.Signal(key)
	}
	logger.Debug("Build: Entry keys signaled.", "count", len(entry))

	logger.Info("Build: Graph construction successful.",
		"objects", b.summary.Objects, "tasks", b.summary.Tasks, "impersonated", b.summary.Impersonated)
	return b.summary
}

type graph struct {
	plan    Plan
	sched   task.Scheduler
	summary Summary
}

// actor decides who runs the first, owner-sensitive step of obj.
func (g *graph) actor(obj model.Object) (model.Identity, bool) {
	if g.plan.Mappable[obj.Owner] {
		g.summary.Impersonated++
		return obj.Owner, true
	}
	return g.plan.Elevated, false
}

func (g *graph) add(key precond.Key, actor model.Identity, impersonate bool, step task.Step) {
	g.sched.AddBlocked(task.New(key, actor, impersonate, step))
	g.summary.Tasks++
}

func (g *graph) elevated(key precond.Key, step task.Step) {
	g.add(key, g.plan.Elevated, false, step)
}

func (g *graph) collection(obj model.Object) {
	deps := g.plan.Deps
	actor, impersonate := g.actor(obj)
	g.add(precond.Exists(obj.Parent()), actor, impersonate, &migrate.CreateCollection{Object: obj, Deps: deps})
	g.elevated(precond.Exists(obj.Path), &migrate.GrantAccess{Object: obj, Deps: deps})
	g.elevated(precond.Admin(obj.Path), &migrate.CopyMetadata{Object: obj, Deps: deps})
	g.elevated(precond.Metadata(obj.Path), &migrate.CheckRepublication{Object: obj, Deps: deps})
	g.elevated(precond.Republish(obj.Path), &migrate.LogDone{Object: obj, Deps: deps})
}

func (g *graph) item(obj model.Object) {
	deps := g.plan.Deps
	actor, impersonate := g.actor(obj)
	g.add(precond.Admin(obj.Parent()), actor, impersonate, &migrate.CopyContent{Object: obj, Deps: deps})
	g.elevated(precond.Exists(obj.Path), &migrate.GrantAccess{Object: obj, Deps: deps})
	g.elevated(precond.Admin(obj.Path), &migrate.CopyMetadata{Object: obj, Deps: deps})
	g.elevated(precond.Metadata(obj.Path), &migrate.LogDone{Object: obj, Deps: deps})
}

// Owners returns the distinct owners found in objs, in first-seen order.
func Owners(objs []model.Object) []model.Identity {
	seen := make(map[model.Identity]bool)
	var out []model.Identity
	for _, obj := range objs {
		if obj.Owner.IsZero() || seen[obj.Owner] {
			continue
		}
		seen[obj.Owner] = true
		out = append(out, obj.Owner)
	}
	return out
}
