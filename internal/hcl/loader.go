package hcl

import (
	"context"
	"fmt"

	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"

	"github.com/vk/treepump/internal/config"
	"github.com/vk/treepump/internal/ctxlog"
)

// Loader is the HCL implementation of config.Loader.
type Loader struct{}

// NewLoader creates a new HCL configuration loader.
func NewLoader() *Loader {
	return &Loader{}
}

// fileRoot decodes the top-level blocks of a configuration file. Unknown
// blocks and attributes are decode errors.
type fileRoot struct {
	Source      endpointBlock `hcl:"source,block"`
	Destination endpointBlock `hcl:"destination,block"`
	Run         *runBlock     `hcl:"run,block"`
}

// Unset optional attributes stay nil so defaults survive.
type endpointBlock struct {
	Driver     *string `hcl:"driver,optional"`
	DSN        *string `hcl:"dsn,optional"`
	DataDir    *string `hcl:"data_dir,optional"`
	Username   *string `hcl:"username,optional"`
	Zone       *string `hcl:"zone,optional"`
	Password   *string `hcl:"password,optional"`
	AuthScheme *string `hcl:"auth_scheme,optional"`
}

type runBlock struct {
	Workers              *int     `hcl:"workers,optional"`
	TransferStreams      *int     `hcl:"transfer_streams,optional"`
	MultiStreamThreshold *int64   `hcl:"multi_stream_threshold,optional"`
	MaxTasksPerSession   *int     `hcl:"max_tasks_per_session,optional"`
	LoginAttempts        *int     `hcl:"login_attempts,optional"`
	OpsPerSecond         *float64 `hcl:"ops_per_second,optional"`
	LatchSignals         *bool    `hcl:"latch_signals,optional"`
	MetricsAddr          *string  `hcl:"metrics_addr,optional"`
	ReportFile           *string  `hcl:"report_file,optional"`
}

// Load parses path and merges it over config.Default. The result is not
// validated.
func (l *Loader) Load(ctx context.Context, path string) (*config.Config, error) {
	logger := ctxlog.FromContext(ctx)
	logger.Debug("HCL loader started.", "path", path)

	parser := hclparse.NewParser()
	file, diags := parser.ParseHCLFile(path)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to parse HCL file %s: %w", path, diags)
	}

	var root fileRoot
	diags = gohcl.DecodeBody(file.Body, evalContext(), &root)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to decode HCL file %s: %w", path, diags)
	}

	cfg := config.Default()
	root.Source.apply(&cfg.Source)
	root.Destination.apply(&cfg.Destination)
	if root.Run != nil {
		root.Run.apply(&cfg.Run)
	}

	logger.Debug("HCL loading complete.", "workers", cfg.Run.Workers, "source_driver", cfg.Source.Driver, "destination_driver", cfg.Destination.Driver)
	return cfg, nil
}

func set[T any](dst *T, v *T) {
	if v != nil {
		*dst = *v
	}
}

func (b endpointBlock) apply(e *config.Endpoint) {
	set(&e.Driver, b.Driver)
	set(&e.DSN, b.DSN)
	set(&e.DataDir, b.DataDir)
	set(&e.Username, b.Username)
	set(&e.Zone, b.Zone)
	set(&e.Password, b.Password)
	set(&e.AuthScheme, b.AuthScheme)
}

func (b *runBlock) apply(r *config.Run) {
	set(&r.Workers, b.Workers)
	set(&r.TransferStreams, b.TransferStreams)
	set(&r.MultiStreamThreshold, b.MultiStreamThreshold)
	set(&r.MaxTasksPerSession, b.MaxTasksPerSession)
	set(&r.LoginAttempts, b.LoginAttempts)
	set(&r.OpsPerSecond, b.OpsPerSecond)
	set(&r.LatchSignals, b.LatchSignals)
	set(&r.MetricsAddr, b.MetricsAddr)
	set(&r.ReportFile, b.ReportFile)
}
