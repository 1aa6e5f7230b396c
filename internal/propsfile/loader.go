package propsfile

import (
	"context"
	"fmt"

	"github.com/spf13/viper"

	"github.com/vk/treepump/internal/config"
	"github.com/vk/treepump/internal/ctxlog"
)

// EnvPrefix prefixes the environment variables that override file values.
const EnvPrefix = "TREEPUMP"

// Loader is the properties-file implementation of config.Loader.
type Loader struct{}

// NewLoader creates a new properties-file loader.
func NewLoader() *Loader {
	return &Loader{}
}

// Load reads path and merges it over config.Default. The result is not
// validated.
func (l *Loader) Load(ctx context.Context, path string) (*config.Config, error) {
	logger := ctxlog.FromContext(ctx)
	logger.Debug("Properties loader started.", "path", path)

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("properties")
	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()

	cfg := config.Default()
	setDefaults(v, cfg)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read configuration file %s: %w", path, err)
	}

	cfg.Source = endpoint(v, "source")
	cfg.Destination = endpoint(v, "destination")
	cfg.Run = config.Run{
		Workers:              v.GetInt("workers"),
		TransferStreams:      v.GetInt("transfer_streams"),
		MultiStreamThreshold: v.GetInt64("multi_stream_threshold"),
		MaxTasksPerSession:   v.GetInt("max_tasks_per_session"),
		LoginAttempts:        v.GetInt("login_attempts"),
		OpsPerSecond:         v.GetFloat64("ops_per_second"),
		LatchSignals:         v.GetBool("latch_signals"),
		MetricsAddr:          v.GetString("metrics_addr"),
		ReportFile:           v.GetString("report_file"),
	}

	logger.Debug("Properties loading complete.", "keys", len(v.AllKeys()))
	return cfg, nil
}

func setDefaults(v *viper.Viper, cfg *config.Config) {
	for prefix, e := range map[string]config.Endpoint{"source": cfg.Source, "destination": cfg.Destination} {
		v.SetDefault(prefix+"_driver", e.Driver)
		v.SetDefault(prefix+"_auth_scheme", e.AuthScheme)
		for _, key := range []string{"dsn", "data_dir", "username", "zone", "password"} {
			v.SetDefault(prefix+"_"+key, "")
		}
	}
	r := cfg.Run
	v.SetDefault("workers", r.Workers)
	v.SetDefault("transfer_streams", r.TransferStreams)
	v.SetDefault("multi_stream_threshold", r.MultiStreamThreshold)
	v.SetDefault("max_tasks_per_session", r.MaxTasksPerSession)
	v.SetDefault("login_attempts", r.LoginAttempts)
	v.SetDefault("ops_per_second", r.OpsPerSecond)
	v.SetDefault("latch_signals", r.LatchSignals)
	v.SetDefault("metrics_addr", r.MetricsAddr)
	v.SetDefault("report_file", r.ReportFile)
}

func endpoint(v *viper.Viper, prefix string) config.Endpoint {
	get := func(key string) string { return v.GetString(prefix + "_" + key) }
	return config.Endpoint{
		Driver:     get("driver"),
		DSN:        get("dsn"),
		DataDir:    get("data_dir"),
		Username:   get("username"),
		Zone:       get("zone"),
		Password:   get("password"),
		AuthScheme: get("auth_scheme"),
	}
}
