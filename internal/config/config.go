// Package config loads the meshd daemon configuration from YAML with
// MESHD_* environment overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/signalsfoundry/meshgraph/internal/analytics"
	"github.com/signalsfoundry/meshgraph/internal/bridge"
	"github.com/signalsfoundry/meshgraph/internal/observability"
	"github.com/signalsfoundry/meshgraph/internal/supervisor"
)

const (
	DefaultGRPCListen       = ":50051"
	DefaultMetricsListen    = ":9090"
	DefaultDialTimeout      = 5 * time.Second
	DefaultSnapshotInterval = time.Minute
	DefaultLogLevel         = "info"
	DefaultLogFormat        = "text"
)

// Config is the daemon configuration.
type Config struct {
	GRPCListen    string `yaml:"grpc_listen"`
	MetricsListen string `yaml:"metrics_listen"` // empty disables /metrics

	ConfigTimeout time.Duration `yaml:"config_timeout"`
	DialTimeout   time.Duration `yaml:"dial_timeout"`

	// SnapshotInterval is how often the graph is recorded into the analytics
	// history between explicit runs. Negative disables periodic capture.
	SnapshotInterval time.Duration `yaml:"snapshot_interval"`
	// MaxSnapshots bounds the history; 0 keeps everything.
	MaxSnapshots         *int    `yaml:"max_snapshots,omitempty"`
	DiffusionProbability float64 `yaml:"diffusion_probability"`

	SubscriberBuffer int `yaml:"subscriber_buffer"`

	// Autoconnect lists host:port decoder addresses connected at startup.
	Autoconnect []string `yaml:"autoconnect"`

	Log     LogConfig                   `yaml:"log"`
	Tracing observability.TracingConfig `yaml:"tracing"`
}

// LogConfig selects the log level and handler format.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns a configuration with every default applied.
func Default() Config {
	cfg := Config{Tracing: observability.DefaultTracingConfig()}
	ApplyDefaults(&cfg)
	return cfg
}

// Load reads and parses a YAML config file. An empty path yields the
// defaults. Environment overrides are applied last.
func Load(path string) (Config, error) {
	cfg := Config{Tracing: observability.DefaultTracingConfig()}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, err
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", path, err)
		}
	}

	ApplyDefaults(&cfg)
	if err := ApplyEnv(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ApplyDefaults fills in default values when empty.
func ApplyDefaults(cfg *Config) {
	if cfg.GRPCListen == "" {
		cfg.GRPCListen = DefaultGRPCListen
	}
	if cfg.ConfigTimeout == 0 {
		cfg.ConfigTimeout = supervisor.DefaultConfigTimeout
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = DefaultDialTimeout
	}
	if cfg.SnapshotInterval == 0 {
		cfg.SnapshotInterval = DefaultSnapshotInterval
	}
	if cfg.MaxSnapshots == nil {
		n := analytics.DefaultMaxSnapshots
		cfg.MaxSnapshots = &n
	}
	if cfg.DiffusionProbability == 0 {
		cfg.DiffusionProbability = analytics.DefaultDiffusionProbability
	}
	if cfg.SubscriberBuffer == 0 {
		cfg.SubscriberBuffer = bridge.DefaultSubscriberBuffer
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = DefaultLogLevel
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = DefaultLogFormat
	}
	if cfg.Tracing.ServiceName == "" {
		cfg.Tracing.ServiceName = observability.DefaultTracingConfig().ServiceName
	}
	if cfg.Tracing.Exporter == "" {
		cfg.Tracing.Exporter = observability.DefaultTracingConfig().Exporter
	}
}

// ApplyEnv overrides cfg with any MESHD_* variables that are set.
func ApplyEnv(cfg *Config) error {
	if v := os.Getenv("MESHD_GRPC_ADDR"); v != "" {
		cfg.GRPCListen = v
	}
	if v, ok := os.LookupEnv("MESHD_METRICS_ADDR"); ok {
		cfg.MetricsListen = v
	}
	for _, d := range []struct {
		env string
		dst *time.Duration
	}{
		{"MESHD_CONFIG_TIMEOUT", &cfg.ConfigTimeout},
		{"MESHD_DIAL_TIMEOUT", &cfg.DialTimeout},
		{"MESHD_SNAPSHOT_INTERVAL", &cfg.SnapshotInterval},
	} {
		if raw := os.Getenv(d.env); raw != "" {
			parsed, err := time.ParseDuration(raw)
			if err != nil {
				return fmt.Errorf("%s: %w", d.env, err)
			}
			*d.dst = parsed
		}
	}
	if raw := os.Getenv("MESHD_MAX_SNAPSHOTS"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return fmt.Errorf("MESHD_MAX_SNAPSHOTS: %w", err)
		}
		cfg.MaxSnapshots = &n
	}
	if raw := os.Getenv("MESHD_DIFFUSION_PROBABILITY"); raw != "" {
		q, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return fmt.Errorf("MESHD_DIFFUSION_PROBABILITY: %w", err)
		}
		cfg.DiffusionProbability = q
	}
	if raw := os.Getenv("MESHD_AUTOCONNECT"); raw != "" {
		cfg.Autoconnect = cfg.Autoconnect[:0:0]
		for _, addr := range strings.Split(raw, ",") {
			if addr = strings.TrimSpace(addr); addr != "" {
				cfg.Autoconnect = append(cfg.Autoconnect, addr)
			}
		}
	}
	if v := os.Getenv("MESHD_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("MESHD_LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
	cfg.Tracing = observability.ApplyTracingEnv(cfg.Tracing)
	return nil
}

// Validate checks ranges and required fields.
func Validate(cfg Config) error {
	if cfg.GRPCListen == "" {
		return fmt.Errorf("grpc_listen is required")
	}
	if cfg.ConfigTimeout <= 0 {
		return fmt.Errorf("config_timeout must be positive, got %s", cfg.ConfigTimeout)
	}
	if cfg.DialTimeout <= 0 {
		return fmt.Errorf("dial_timeout must be positive, got %s", cfg.DialTimeout)
	}
	if cfg.MaxSnapshots != nil && *cfg.MaxSnapshots < 0 {
		return fmt.Errorf("max_snapshots must be >= 0, got %d", *cfg.MaxSnapshots)
	}
	if cfg.DiffusionProbability <= 0 || cfg.DiffusionProbability > 1 {
		return fmt.Errorf("diffusion_probability must be in (0, 1], got %v", cfg.DiffusionProbability)
	}
	if cfg.SubscriberBuffer < 0 {
		return fmt.Errorf("subscriber_buffer must be >= 0, got %d", cfg.SubscriberBuffer)
	}
	switch cfg.Tracing.Exporter {
	case "stdout", "otlp":
	default:
		return fmt.Errorf("tracing.exporter must be stdout or otlp, got %q", cfg.Tracing.Exporter)
	}
	if cfg.Tracing.SampleRatio < 0 || cfg.Tracing.SampleRatio > 1 {
		return fmt.Errorf("tracing.sample_ratio must be in [0, 1], got %v", cfg.Tracing.SampleRatio)
	}
	for _, addr := range cfg.Autoconnect {
		if !strings.Contains(addr, ":") {
			return fmt.Errorf("autoconnect address %q must be host:port", addr)
		}
	}
	return nil
}

// AnalyticsOptions converts the analytics settings.
func (c Config) AnalyticsOptions() analytics.Options {
	opts := analytics.DefaultOptions()
	if c.MaxSnapshots != nil {
		opts.MaxSnapshots = *c.MaxSnapshots
	}
	if c.DiffusionProbability > 0 {
		opts.DiffusionProbability = c.DiffusionProbability
	}
	return opts
}
