package executor

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/vk/treepump/internal/ctxlog"
	"github.com/vk/treepump/internal/model"
	"github.com/vk/treepump/internal/scheduler"
	"github.com/vk/treepump/internal/session"
	"github.com/vk/treepump/internal/task"
)

// Runner drains the runnable queue of one identity.
type Runner struct {
	identity model.Identity
	sched    *scheduler.Scheduler
	sess     *session.Context
	cfg      *Config
	stats    *stats
}

// Run executes tasks until the identity's queue is empty or ctx is done.
// Both sessions are closed on return.
func (r *Runner) Run(ctx context.Context) {
	ctx, logger := ctxlog.With(ctx, "identity", r.identity)
	r.cfg.Metrics.RunnerStarted()
	defer r.cfg.Metrics.RunnerStopped()
	defer r.sess.Disconnect()

	logger.Debug("Runner started.")
	processed, onSession := 0, 0
	for ctx.Err() == nil {
		if r.cfg.Limiter != nil {
			if err := r.cfg.Limiter.Wait(ctx); err != nil {
				logger.Debug("Runner stopped while throttled.", "error", err)
				break
			}
		}
		t := r.sched.PollRunnable(r.identity)
		if t == nil {
			break
		}
		processed++

		if r.cfg.MaxTasksPerSession > 0 && onSession >= r.cfg.MaxTasksPerSession {
			logger.Debug("Session task limit reached; reconnecting.", "limit", r.cfg.MaxTasksPerSession)
			r.sess.Disconnect()
			r.stats.reconnects.Add(1)
			onSession = 0
		}
		onSession++

		if err := r.login(ctx, t); err != nil {
			logger.Error("Dropping task: login failed.", "task", t.String(), "error", err)
			r.stats.dropped.Add(1)
			continue
		}
		r.execute(ctx, t)
	}
	logger.Debug("Runner finished.", "tasks", processed)
}

func (r *Runner) login(ctx context.Context, t *task.Task) error {
	if t.Impersonate {
		return r.sess.LoginImpersonated(ctx, t.Actor)
	}
	return r.sess.LoginElevated(ctx)
}

func (r *Runner) execute(ctx context.Context, t *task.Task) {
	logger := ctxlog.FromContext(ctx)
	start := time.Now()
	ctx, span := r.cfg.Tracer.Start(ctx, t.Step.Kind(), trace.WithAttributes(
		attribute.String("treepump.path", t.Step.Path()),
		attribute.String("treepump.key", t.Key.String()),
		attribute.String("treepump.identity", t.Actor.String()),
		attribute.Bool("treepump.impersonate", t.Impersonate),
		attribute.Int("treepump.attempt", t.Attempt()),
	))
	defer span.End()

	logger.Debug("Runner picked up task for execution.", "task", t.String())
	outcome, err := r.safeExecute(ctx, t)
	if err != nil {
		logger.Error("Task failed; resetting session.", "task", t.String(), "error", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		r.sess.Disconnect()
		r.stats.errors.Add(1)
	}
	span.SetAttributes(attribute.String("treepump.outcome", outcome.String()))

	r.stats.outcome(outcome)
	r.cfg.Metrics.ObserveTask(t.Step.Kind(), outcome.String(), time.Since(start))
	if outcome == task.Escalated {
		r.cfg.Metrics.IncEscalations()
	}
}

// safeExecute turns a panicking step into a session-level failure.
func (r *Runner) safeExecute(ctx context.Context, t *task.Task) (outcome task.Outcome, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			outcome = task.Stop
			err = fmt.Errorf("task panicked: %v", rec)
		}
	}()
	return t.Execute(ctx, task.Env{Session: r.sess, Scheduler: r.sched})
}
