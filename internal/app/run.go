package app

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/vk/treepump/internal/builder"
	"github.com/vk/treepump/internal/completion"
	"github.com/vk/treepump/internal/config"
	"github.com/vk/treepump/internal/ctxlog"
	"github.com/vk/treepump/internal/endpoint"
	"github.com/vk/treepump/internal/executor"
	"github.com/vk/treepump/internal/migrate"
	"github.com/vk/treepump/internal/report"
	"github.com/vk/treepump/internal/scheduler"
	"github.com/vk/treepump/internal/session"
)

// Run executes the migration. Failures detected before the first task are
// returned as *PreflightError. The report is returned whenever the pool ran.
func (a *App) Run(ctx context.Context) (*report.Report, error) {
	ctx = ctxlog.WithLogger(ctx, a.logger)
	a.logger.Debug("App.Run method started.")
	started := time.Now()

	if addr := a.config.Run.MetricsAddr; addr != "" {
		a.startHealthcheckServer(ctx, addr)
		defer a.closeHealthcheckServer(ctx)
	}

	if err := a.openEndpoints(ctx); err != nil {
		return nil, err
	}
	defer a.closeEndpoints()

	p, err := a.preflight(ctx)
	if err != nil {
		return nil, err
	}

	log, err := completion.Open(a.opts.CompletionLog, a.runID)
	if err != nil {
		return nil, fail(StageResume, err)
	}
	deps := &migrate.Deps{
		Log:                  log,
		Streams:              a.config.Run.TransferStreams,
		MultiStreamThreshold: a.config.Run.MultiStreamThreshold,
		Metrics:              a.metrics,
	}

	var schedOpts []scheduler.Option
	if a.config.Run.LatchSignals {
		schedOpts = append(schedOpts, scheduler.WithLatch())
	}
	sched := scheduler.New(schedOpts...)
	summary := builder.Build(ctx, sched, builder.Plan{
		Root:      p.root,
		Inventory: p.inventory,
		Completed: p.completed,
		Elevated:  p.session.Source.Credentials.Identity(),
		Mappable:  p.mappable,
		Deps:      deps,
	})

	a.logger.Info("🚀 Starting migration...", "run_id", a.runID, "source", a.opts.Source,
		"destination", a.opts.Destination, "workers", a.config.Run.Workers)
	totals, runErr := executor.NewPool(sched, a.poolConfig(p.session)).Run(ctx)
	stranded := a.stranded(sched)
	a.logger.Info("🏁 Migration finished.", "executed", totals.Executed, "escalated", totals.Escalated,
		"stopped", totals.Stopped, "stranded", len(stranded))

	if err := log.Close(); err != nil {
		a.logger.Error("Unable to close completion log.", "path", a.opts.CompletionLog, "error", err)
	}

	rep := &report.Report{
		RunID:       a.runID,
		Source:      a.opts.Source,
		Destination: a.opts.Destination,
		Started:     started,
		Finished:    time.Now(),
		Graph: report.Graph{
			Objects:      summary.Objects,
			Skipped:      summary.Skipped,
			Tasks:        summary.Tasks,
			Impersonated: summary.Impersonated,
		},
		Tasks:       totals,
		BytesCopied: deps.BytesCopied(),
		Stranded:    stranded,
	}
	if path := a.config.Run.ReportFile; path != "" {
		if err := report.Write(path, rep); err != nil {
			a.logger.Error("Unable to write run report.", "path", path, "error", err)
		} else {
			a.logger.Info("Run report written.", "path", path)
		}
	}

	a.logger.Debug("App.Run method finished.")
	if runErr != nil {
		return rep, fmt.Errorf("migration interrupted: %w", runErr)
	}
	return rep, nil
}

func (a *App) sessionOptions() session.Options {
	return session.Options{
		Source:        session.Endpoint{Dialer: a.source, Credentials: credentials(a.config.Source)},
		Destination:   session.Endpoint{Dialer: a.destination, Credentials: credentials(a.config.Destination)},
		LoginAttempts: a.config.Run.LoginAttempts,
		Metrics:       a.metrics,
	}
}

func credentials(e config.Endpoint) endpoint.Credentials {
	return endpoint.Credentials{
		Username:   e.Username,
		Zone:       e.Zone,
		Password:   e.Password,
		AuthScheme: e.AuthScheme,
	}
}

func (a *App) poolConfig(opts session.Options) executor.Config {
	cfg := executor.Config{
		Width:              a.config.Run.Workers,
		MaxTasksPerSession: a.config.Run.MaxTasksPerSession,
		Session:            opts,
		Metrics:            a.metrics,
	}
	if ops := a.config.Run.OpsPerSecond; ops > 0 {
		cfg.Limiter = rate.NewLimiter(rate.Limit(ops), 1)
	}
	return cfg
}

// stranded logs every key that was never signaled. Tasks waiting on them
// did not run.
func (a *App) stranded(sched *scheduler.Scheduler) []string {
	keys := sched.BlockedKeys()
	out := make([]string, 0, len(keys))
	for _, key := range keys {
		a.logger.Warn("Precondition never satisfied; waiting tasks did not run.", "key", key)
		out = append(out, key.String())
	}
	a.metrics.SetStranded(len(keys))
	return out
}
