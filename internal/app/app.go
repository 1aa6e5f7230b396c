package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/vk/treepump/internal/catalog"
	"github.com/vk/treepump/internal/config"
	"github.com/vk/treepump/internal/ctxlog"
	"github.com/vk/treepump/internal/endpoint"
	"github.com/vk/treepump/internal/metrics"
)

// Option customizes an App.
type Option func(*App)

// WithDialers replaces the catalog endpoints named by the configuration.
func WithDialers(source, destination endpoint.Dialer) Option {
	return func(a *App) {
		a.source = source
		a.destination = destination
	}
}

// App encapsulates the application's dependencies, configuration, and lifecycle.
type App struct {
	outW   io.Writer
	logger *slog.Logger
	opts   Options
	config *config.Config
	runID  string

	registry   *prometheus.Registry
	metrics    *metrics.Recorder
	httpServer *http.Server

	source      endpoint.Dialer
	destination endpoint.Dialer
	closers     []io.Closer
}

// NewApp is the constructor for the main application. It loads and validates
// the configuration; failures are returned as a *PreflightError.
func NewApp(outW io.Writer, opts Options, options ...Option) (*App, error) {
	logger := newLogger(opts.LogLevel, opts.LogFormat, outW)
	ctx := ctxlog.WithLogger(context.Background(), logger)
	logger.Debug("Logger configured successfully.")

	cfg, err := loadConfig(ctx, &opts)
	if err != nil {
		return nil, fail(StageConfig, err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	a := &App{
		outW:     outW,
		logger:   logger,
		opts:     opts,
		config:   cfg,
		runID:    uuid.NewString(),
		registry: reg,
		metrics:  metrics.New(reg),
	}
	for _, option := range options {
		option(a)
	}
	logger.Debug("App created.", "run_id", a.runID)
	return a, nil
}

// RunID identifies the run in the completion log and the report.
func (a *App) RunID() string { return a.runID }

// Registry returns the application's metrics registry. This is primarily for testing.
func (a *App) Registry() *prometheus.Registry { return a.registry }

// openEndpoints opens the catalogs named by the configuration unless dialers
// were supplied.
func (a *App) openEndpoints(ctx context.Context) error {
	if a.source != nil && a.destination != nil {
		return nil
	}
	src, err := catalog.Open(ctx, a.config.Source)
	if err != nil {
		return fail(StageSourceLogin, fmt.Errorf("open source catalog: %w", err))
	}
	dst, err := catalog.Open(ctx, a.config.Destination)
	if err != nil {
		_ = src.Close()
		return fail(StageDestinationLogin, fmt.Errorf("open destination catalog: %w", err))
	}
	a.source, a.destination = src, dst
	a.closers = append(a.closers, src, dst)
	return nil
}

func (a *App) closeEndpoints() {
	for _, c := range a.closers {
		if err := c.Close(); err != nil {
			a.logger.Warn("Unable to close catalog.", "error", err)
		}
	}
	a.closers = nil
}
