package config

import (
	"context"
	"errors"
	"fmt"
)

// Supported catalog drivers.
const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "pgx"
)

const (
	MaxWorkers = 64
	MaxStreams = 16
)

// Loader reads a Config from a file in one specific format.
type Loader interface {
	Load(ctx context.Context, path string) (*Config, error)
}

// Endpoint describes how to reach and log into one storage endpoint.
type Endpoint struct {
	Driver string
	DSN    string
	// DataDir holds the content of data items.
	DataDir    string
	Username   string
	Zone       string
	Password   string
	AuthScheme string
}

// Run holds the knobs of one migration run.
type Run struct {
	Workers         int
	TransferStreams int
	// MultiStreamThreshold is the item size from which TransferStreams applies.
	MultiStreamThreshold int64
	// MaxTasksPerSession forces a reconnect every that many tasks. Zero disables it.
	MaxTasksPerSession int
	LoginAttempts      int
	// OpsPerSecond throttles task dispatch. Zero means unthrottled.
	OpsPerSecond float64
	LatchSignals bool
	MetricsAddr  string
	ReportFile   string
}

// Config is the complete configuration of a run.
type Config struct {
	Source      Endpoint
	Destination Endpoint
	Run         Run
}

// Default returns a Config with every optional value filled in.
func Default() *Config {
	return &Config{
		Source:      Endpoint{Driver: DriverSQLite, AuthScheme: "native"},
		Destination: Endpoint{Driver: DriverSQLite, AuthScheme: "native"},
		Run: Run{
			Workers:              2,
			TransferStreams:      4,
			MultiStreamThreshold: 32 << 20,
			MaxTasksPerSession:   3000,
			LoginAttempts:        3,
		},
	}
}

// Validate reports every problem found in c at once.
func (c *Config) Validate() error {
	var errs []error
	errs = append(errs, c.Source.validate("source")...)
	errs = append(errs, c.Destination.validate("destination")...)

	r := c.Run
	if r.Workers < 1 || r.Workers > MaxWorkers {
		errs = append(errs, fmt.Errorf("run.workers must be between 1 and %d, got %d", MaxWorkers, r.Workers))
	}
	if r.TransferStreams < 1 || r.TransferStreams > MaxStreams {
		errs = append(errs, fmt.Errorf("run.transfer_streams must be between 1 and %d, got %d", MaxStreams, r.TransferStreams))
	}
	if r.MultiStreamThreshold < 0 {
		errs = append(errs, errors.New("run.multi_stream_threshold must not be negative"))
	}
	if r.MaxTasksPerSession < 0 {
		errs = append(errs, errors.New("run.max_tasks_per_session must not be negative"))
	}
	if r.LoginAttempts < 1 {
		errs = append(errs, errors.New("run.login_attempts must be at least 1"))
	}
	if r.OpsPerSecond < 0 {
		errs = append(errs, errors.New("run.ops_per_second must not be negative"))
	}
	return errors.Join(errs...)
}

func (e Endpoint) validate(name string) []error {
	var errs []error
	switch e.Driver {
	case DriverSQLite, DriverPostgres:
	default:
		errs = append(errs, fmt.Errorf("%s.driver must be %q or %q, got %q", name, DriverSQLite, DriverPostgres, e.Driver))
	}
	for _, f := range []struct{ key, value string }{
		{"dsn", e.DSN},
		{"data_dir", e.DataDir},
		{"username", e.Username},
		{"zone", e.Zone},
	} {
		if f.value == "" {
			errs = append(errs, fmt.Errorf("%s.%s is required", name, f.key))
		}
	}
	return errs
}
