package executor

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/vk/treepump/internal/ctxlog"
	"github.com/vk/treepump/internal/metrics"
	"github.com/vk/treepump/internal/model"
	"github.com/vk/treepump/internal/scheduler"
	"github.com/vk/treepump/internal/session"
)

const defaultPollInterval = 100 * time.Millisecond

// Config configures a Pool.
type Config struct {
	// Width is the number of runners that may be active at once.
	Width int
	// MaxTasksPerSession forces a reconnect after that many tasks on one
	// session. Zero disables the limit.
	MaxTasksPerSession int
	Session            session.Options
	// Limiter throttles task dispatch across all runners when set.
	Limiter *rate.Limiter
	Tracer  trace.Tracer
	Metrics *metrics.Recorder
	// PollInterval bounds how long the pool waits before rechecking the
	// scheduler when no runner finished.
	PollInterval time.Duration
}

// Pool runs the tasks of one scheduler with bounded concurrency.
type Pool struct {
	sched *scheduler.Scheduler
	cfg   Config
	stats stats
}

// NewPool creates a Pool over s.
func NewPool(s *scheduler.Scheduler, cfg Config) *Pool {
	if cfg.Width < 1 {
		cfg.Width = 1
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.Tracer == nil {
		cfg.Tracer = otel.Tracer("github.com/vk/treepump/internal/executor")
	}
	return &Pool{sched: s, cfg: cfg}
}

// Run drives the scheduler until no work is runnable and no runner is
// active, or until ctx is cancelled and the active runners have returned.
func (p *Pool) Run(ctx context.Context) (Totals, error) {
	logger := ctxlog.FromContext(ctx)
	logger.Debug("Pool started.", "width", p.cfg.Width)

	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()

	done := make(chan model.Identity)
	active := make(map[model.Identity]bool)
	for {
		if ctx.Err() == nil {
			for _, id := range p.sched.PendingIdentities() {
				if len(active) >= p.cfg.Width {
					break
				}
				if active[id] {
					continue
				}
				active[id] = true
				p.stats.runners.Add(1)
				go func(r *Runner) {
					r.Run(ctx)
					done <- r.identity
				}(p.newRunner(id))
			}
		}

		// No runner is active, so nothing can make more work runnable.
		if len(active) == 0 {
			break
		}

		select {
		case id := <-done:
			delete(active, id)
		case <-p.sched.Wake():
		case <-ticker.C:
		}
	}

	totals := p.stats.snapshot()
	logger.Debug("Pool finished.", "executed", totals.Executed, "runners", totals.Runners)
	return totals, ctx.Err()
}

func (p *Pool) newRunner(id model.Identity) *Runner {
	return &Runner{
		identity: id,
		sched:    p.sched,
		sess:     session.New(p.cfg.Session),
		cfg:      &p.cfg,
		stats:    &p.stats,
	}
}
