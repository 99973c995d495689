// Package config loads and validates linkaudit configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"github.com/spf13/viper"

	"github.com/JakeFAU/linkaudit/internal/report"
	"github.com/JakeFAU/linkaudit/internal/source"
)

// AppName names the XDG data directory.
const AppName = "linkaudit"

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Audit     AuditConfig     `mapstructure:"audit"`
	Probe     ProbeConfig     `mapstructure:"probe"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
	Headless  HeadlessConfig  `mapstructure:"headless"`
	Source    SourceConfig    `mapstructure:"source"`
	Storage   StorageConfig   `mapstructure:"storage"`
	DB        DBConfig        `mapstructure:"db"`
	Export    ExportConfig    `mapstructure:"export"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	Progress  ProgressConfig  `mapstructure:"progress"`
	Tracing   TracingConfig   `mapstructure:"tracing"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	MaxBodyBytes    int64         `mapstructure:"max_body_bytes"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// AuditConfig tunes the run pipeline. Concurrency 0 selects the CPU heuristic.
type AuditConfig struct {
	Concurrency    int           `mapstructure:"concurrency"`
	Timeout        time.Duration `mapstructure:"timeout"`
	PersistTimeout time.Duration `mapstructure:"persist_timeout"`
}

// ProbeConfig configures the HTTP prober.
type ProbeConfig struct {
	UserAgent   string            `mapstructure:"user_agent"`
	Timeout     time.Duration     `mapstructure:"timeout"`
	GetFallback bool              `mapstructure:"get_fallback"`
	Headers     map[string]string `mapstructure:"headers"`
}

// RateLimitConfig bounds requests per host. RPS <= 0 disables limiting.
type RateLimitConfig struct {
	RPS   float64 `mapstructure:"rps"`
	Burst int     `mapstructure:"burst"`
}

// HeadlessConfig configures the headless fallback prober.
type HeadlessConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	MaxParallel int           `mapstructure:"max_parallel"`
	NavTimeout  time.Duration `mapstructure:"nav_timeout"`
}

// SourceConfig names the default bookmark file.
type SourceConfig struct {
	Path   string `mapstructure:"path"`
	Format string `mapstructure:"format"`
}

// StorageConfig selects the blob store for exported reports.
type StorageConfig struct {
	Backend  string `mapstructure:"backend"`
	LocalDir string `mapstructure:"local_dir"`
	Bucket   string `mapstructure:"bucket"`
	Prefix   string `mapstructure:"prefix"`
	Endpoint string `mapstructure:"endpoint"`
}

// DBConfig selects the run store.
type DBConfig struct {
	Driver          string        `mapstructure:"driver"`
	DSN             string        `mapstructure:"dsn"`
	Path            string        `mapstructure:"path"`
	RunsTable       string        `mapstructure:"runs_table"`
	ReportsTable    string        `mapstructure:"reports_table"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

// ExportConfig controls report artifacts. Empty Formats disables export.
type ExportConfig struct {
	Formats []string `mapstructure:"formats"`
	Prefix  string   `mapstructure:"prefix"`
}

// PubSubConfig holds completion announcement settings. An empty ProjectID
// keeps announcements in memory.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
	Endpoint  string `mapstructure:"endpoint"`
}

// ProgressConfig tunes the progress hub and its sinks.
type ProgressConfig struct {
	BufferSize    int           `mapstructure:"buffer_size"`
	MaxBatch      int           `mapstructure:"max_batch"`
	MaxBatchWait  time.Duration `mapstructure:"max_batch_wait"`
	SinkTimeout   time.Duration `mapstructure:"sink_timeout"`
	LogEnabled    bool          `mapstructure:"log_enabled"`
	MetricsEnable bool          `mapstructure:"metrics_enabled"`
}

// TracingConfig controls OpenTelemetry spans.
type TracingConfig struct {
	Exporter    string  `mapstructure:"exporter"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("LINKAUDIT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// DataDir returns the XDG data directory used for default file locations.
func DataDir() string {
	return filepath.Join(xdg.DataHome, AppName)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.request_timeout", "60s")
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("server.max_body_bytes", 16<<20)
	v.SetDefault("audit.concurrency", 0)
	v.SetDefault("audit.timeout", "5s")
	v.SetDefault("audit.persist_timeout", "30s")
	v.SetDefault("probe.user_agent", "linkaudit/0.1")
	v.SetDefault("probe.timeout", "10s")
	v.SetDefault("probe.get_fallback", true)
	v.SetDefault("ratelimit.rps", 0)
	v.SetDefault("ratelimit.burst", 1)
	v.SetDefault("headless.enabled", false)
	v.SetDefault("headless.max_parallel", 1)
	v.SetDefault("headless.nav_timeout", "30s")
	v.SetDefault("storage.backend", "memory")
	v.SetDefault("storage.local_dir", filepath.Join(DataDir(), "reports"))
	v.SetDefault("db.driver", "memory")
	v.SetDefault("db.path", filepath.Join(DataDir(), "linkaudit.db"))
	v.SetDefault("db.runs_table", "audit_runs")
	v.SetDefault("db.reports_table", "audit_reports")
	v.SetDefault("db.max_conns", 4)
	v.SetDefault("db.min_conns", 0)
	v.SetDefault("db.max_conn_lifetime", "30m")
	v.SetDefault("export.formats", []string{"json"})
	v.SetDefault("export.prefix", "reports")
	v.SetDefault("pubsub.topic", "linkaudit-runs")
	v.SetDefault("progress.buffer_size", 1024)
	v.SetDefault("progress.max_batch", 64)
	v.SetDefault("progress.max_batch_wait", "250ms")
	v.SetDefault("progress.sink_timeout", "2s")
	v.SetDefault("progress.log_enabled", true)
	v.SetDefault("progress.metrics_enabled", true)
	v.SetDefault("tracing.exporter", "none")
	v.SetDefault("tracing.sample_ratio", 1.0)
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return errors.New("server.port must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return errors.New("auth.api_key must be set when auth is enabled")
	}
	if c.Audit.Concurrency < 0 {
		return errors.New("audit.concurrency must be >= 0")
	}
	if c.Audit.Timeout <= 0 {
		return errors.New("audit.timeout must be > 0")
	}
	if c.RateLimit.RPS < 0 {
		return errors.New("ratelimit.rps must be >= 0")
	}
	if c.Headless.Enabled && c.Headless.MaxParallel <= 0 {
		return errors.New("headless.max_parallel must be > 0 when headless is enabled")
	}
	if c.Source.Format != "" {
		if _, err := source.ParseFormat(c.Source.Format); err != nil {
			return fmt.Errorf("source.format: %w", err)
		}
	}
	switch c.Storage.Backend {
	case "memory":
	case "local":
		if c.Storage.LocalDir == "" {
			return errors.New("storage.local_dir is required for the local backend")
		}
	case "gcs":
		if c.Storage.Bucket == "" {
			return errors.New("storage.bucket is required for the gcs backend")
		}
	default:
		return fmt.Errorf("unknown storage.backend %q", c.Storage.Backend)
	}
	switch c.DB.Driver {
	case "memory":
	case "sqlite":
		if c.DB.Path == "" {
			return errors.New("db.path is required for the sqlite driver")
		}
	case "postgres":
		if c.DB.DSN == "" {
			return errors.New("db.dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("unknown db.driver %q", c.DB.Driver)
	}
	if _, err := c.ExportFormats(); err != nil {
		return err
	}
	if c.PubSub.ProjectID != "" && c.PubSub.Topic == "" {
		return errors.New("pubsub.topic must be set when pubsub.project_id is set")
	}
	switch c.Tracing.Exporter {
	case "", "none", "stdout":
	default:
		return fmt.Errorf("unknown tracing.exporter %q", c.Tracing.Exporter)
	}
	return nil
}

// ExportFormats parses Export.Formats.
func (c Config) ExportFormats() ([]report.Format, error) {
	out := make([]report.Format, 0, len(c.Export.Formats))
	for _, name := range c.Export.Formats {
		f, err := report.ParseFormat(name)
		if err != nil {
			return nil, fmt.Errorf("export.formats: %w", err)
		}
		out = append(out, f)
	}
	return out, nil
}
