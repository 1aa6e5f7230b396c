package app

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/vk/treepump/internal/config"
	"github.com/vk/treepump/internal/ctxlog"
	"github.com/vk/treepump/internal/hcl"
	"github.com/vk/treepump/internal/model"
	"github.com/vk/treepump/internal/propsfile"
)

// DefaultCompletionLog is used when Options.CompletionLog is empty.
const DefaultCompletionLog = "treepump.log"

// Options holds everything an App takes from its entrypoint.
type Options struct {
	ConfigPath string
	// Source is the object to migrate. Destination is the collection it is
	// migrated into.
	Source      string
	Destination string
	// CompletionLog receives the DONE and ERROR records of the run.
	CompletionLog string
	// Resume names a completion log whose DONE records are skipped.
	Resume string

	LogFormat string
	LogLevel  string

	// Overrides of configuration file values. Zero values keep the file value.
	Workers     int
	Streams     int
	MetricsAddr string
	ReportFile  string
}

// loaderFor picks the configuration loader matching the file extension.
func loaderFor(path string) (config.Loader, error) {
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".hcl":
		return hcl.NewLoader(), nil
	case ".ini", ".properties", ".conf":
		return propsfile.NewLoader(), nil
	default:
		return nil, fmt.Errorf("unsupported configuration format %q", ext)
	}
}

// loadConfig reads, overrides and validates the run configuration.
func loadConfig(ctx context.Context, opts *Options) (*config.Config, error) {
	logger := ctxlog.FromContext(ctx)

	if opts.Source == "" || opts.Destination == "" {
		return nil, errors.New("a source object and a destination collection are required")
	}
	opts.Source = model.Clean(opts.Source)
	opts.Destination = model.Clean(opts.Destination)
	if opts.CompletionLog == "" {
		opts.CompletionLog = DefaultCompletionLog
	}

	loader, err := loaderFor(opts.ConfigPath)
	if err != nil {
		return nil, err
	}
	cfg, err := loader.Load(ctx, opts.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	logger.Debug("Configuration loaded.", "path", opts.ConfigPath)

	opts.override(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func (o *Options) override(cfg *config.Config) {
	if o.Workers > 0 {
		cfg.Run.Workers = o.Workers
	}
	if o.Streams > 0 {
		cfg.Run.TransferStreams = o.Streams
	}
	if o.MetricsAddr != "" {
		cfg.Run.MetricsAddr = o.MetricsAddr
	}
	if o.ReportFile != "" {
		cfg.Run.ReportFile = o.ReportFile
	}
}
