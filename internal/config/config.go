// Package config loads simulator settings from an optional YAML file,
// AIRROUTE_* environment variables and built-in defaults.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"github.com/signalsfoundry/airroute-simulator/internal/logging"
	"github.com/signalsfoundry/airroute-simulator/internal/observability"
	"github.com/signalsfoundry/airroute-simulator/internal/progress"
)

// EnvPrefix prefixes every environment override, e.g. AIRROUTE_LOG_LEVEL.
const EnvPrefix = "AIRROUTE"

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid configuration")

// RetryConfig mirrors progress.RetryPolicy.
type RetryConfig struct {
	BaseInterval time.Duration `mapstructure:"base_interval"`
	MaxInterval  time.Duration `mapstructure:"max_interval"`
	Multiplier   float64       `mapstructure:"multiplier"`
	MaxRetries   int           `mapstructure:"max_retries"`
}

// SimulationConfig tunes the progress scheduler.
type SimulationConfig struct {
	SpeedKmh       float64       `mapstructure:"speed_kmh"`
	Lookahead      time.Duration `mapstructure:"lookahead"`
	RecheckPeriod  time.Duration `mapstructure:"recheck_period"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	Retry          RetryConfig   `mapstructure:"retry"`
}

// ClockConfig drives the simulation clock.
type ClockConfig struct {
	Tick        time.Duration `mapstructure:"tick"`
	Accelerated bool          `mapstructure:"accelerated"`
	TimeScale   float64       `mapstructure:"time_scale"`
}

// RouteServiceConfig locates the route-finding service.
type RouteServiceConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// CatalogConfig locates the waypoint catalog (JSON or msgpack).
type CatalogConfig struct {
	Path string `mapstructure:"path"`
}

// LogConfig mirrors logging.Config.
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	File       string `mapstructure:"file"`
	AddSource  bool   `mapstructure:"add_source"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

// MetricsConfig configures the Prometheus endpoint. An empty Addr disables it.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// OpsConfig configures the operator gRPC server. An empty GRPCAddr disables it.
type OpsConfig struct {
	GRPCAddr string `mapstructure:"grpc_addr"`
}

// TracingConfig mirrors observability.TracingConfig.
type TracingConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	Exporter    string  `mapstructure:"exporter"`
	Endpoint    string  `mapstructure:"endpoint"`
	ServiceName string  `mapstructure:"service_name"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

// Config is the full simulator configuration.
type Config struct {
	Simulation   SimulationConfig   `mapstructure:"simulation"`
	Clock        ClockConfig        `mapstructure:"clock"`
	RouteService RouteServiceConfig `mapstructure:"route_service"`
	Catalog      CatalogConfig      `mapstructure:"catalog"`
	Log          LogConfig          `mapstructure:"log"`
	Metrics      MetricsConfig      `mapstructure:"metrics"`
	Ops          OpsConfig          `mapstructure:"ops"`
	Tracing      TracingConfig      `mapstructure:"tracing"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("simulation.speed_kmh", progress.DefaultSpeedKmh)
	v.SetDefault("simulation.lookahead", progress.DefaultLookahead)
	v.SetDefault("simulation.recheck_period", progress.DefaultRecheckPeriod)
	v.SetDefault("simulation.request_timeout", progress.DefaultRequestTimeout)
	retry := progress.DefaultRetryPolicy()
	v.SetDefault("simulation.retry.base_interval", retry.BaseInterval)
	v.SetDefault("simulation.retry.max_interval", retry.MaxInterval)
	v.SetDefault("simulation.retry.multiplier", retry.Multiplier)
	v.SetDefault("simulation.retry.max_retries", retry.MaxRetries)

	v.SetDefault("clock.tick", time.Second)
	v.SetDefault("clock.accelerated", false)
	v.SetDefault("clock.time_scale", 1.0)

	v.SetDefault("route_service.base_url", "http://localhost:5635")
	v.SetDefault("route_service.timeout", 20*time.Second)

	v.SetDefault("catalog.path", "data/airports.json")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.file", "")
	v.SetDefault("log.add_source", false)
	v.SetDefault("log.max_size_mb", 32)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age_days", 7)

	v.SetDefault("metrics.addr", ":9464")
	v.SetDefault("ops.grpc_addr", ":50071")

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.exporter", "stdout")
	v.SetDefault("tracing.endpoint", "")
	v.SetDefault("tracing.service_name", "airroute")
	v.SetDefault("tracing.sample_ratio", 1.0)
}

// Loader owns a viper instance and the last successfully decoded Config.
type Loader struct {
	v *viper.Viper

	mu      sync.RWMutex
	current *Config
}

// NewLoader reads path (optional; "" uses defaults and environment only),
// applies environment overrides and validates the result.
func NewLoader(path string) (*Loader, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if !strings.Contains(path, ".") {
			v.SetConfigType("yaml")
		}
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	cfg, err := decode(v)
	if err != nil {
		return nil, err
	}
	return &Loader{v: v, current: cfg}, nil
}

// Load is NewLoader(path).Current().
func Load(path string) (*Config, error) {
	l, err := NewLoader(path)
	if err != nil {
		return nil, err
	}
	return l.Current(), nil
}

// Current returns the most recent valid configuration.
func (l *Loader) Current() *Config {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.current
}

// Watch re-reads the config file when it changes and hands every valid
// revision to onChange. Invalid revisions are reported through onError and
// leave Current untouched.
func (l *Loader) Watch(onChange func(*Config), onError func(error)) {
	if l.v.ConfigFileUsed() == "" {
		return
	}
	l.v.OnConfigChange(func(fsnotify.Event) {
		cfg, err := decode(l.v)
		if err != nil {
			if onError != nil {
				onError(err)
			}
			return
		}
		l.mu.Lock()
		l.current = cfg
		l.mu.Unlock()
		if onChange != nil {
			onChange(cfg)
		}
	})
	l.v.WatchConfig()
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks cross-field invariants.
func (c *Config) Validate() error {
	if err := c.Progress().Validate(); err != nil {
		return fmt.Errorf("%w: simulation: %w", ErrInvalid, err)
	}
	if c.Clock.Tick <= 0 {
		return fmt.Errorf("%w: clock.tick must be positive, got %s", ErrInvalid, c.Clock.Tick)
	}
	if c.Clock.Accelerated && c.Clock.TimeScale < 1 {
		return fmt.Errorf("%w: clock.time_scale must be at least 1 when accelerated, got %v", ErrInvalid, c.Clock.TimeScale)
	}
	u, err := url.Parse(c.RouteService.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: route_service.base_url %q must be an http(s) url", ErrInvalid, c.RouteService.BaseURL)
	}
	if c.RouteService.Timeout < 0 {
		return fmt.Errorf("%w: route_service.timeout must not be negative", ErrInvalid)
	}
	if c.Catalog.Path == "" {
		return fmt.Errorf("%w: catalog.path is required", ErrInvalid)
	}
	switch strings.ToLower(c.Log.Format) {
	case "", "text", "json":
	default:
		return fmt.Errorf("%w: log.format must be text or json, got %q", ErrInvalid, c.Log.Format)
	}
	switch strings.ToLower(c.Tracing.Exporter) {
	case "", "stdout", "otlp", "otlpgrpc":
	default:
		return fmt.Errorf("%w: tracing.exporter %q is not supported", ErrInvalid, c.Tracing.Exporter)
	}
	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		return fmt.Errorf("%w: tracing.sample_ratio must be within [0,1], got %v", ErrInvalid, c.Tracing.SampleRatio)
	}
	return nil
}

// Progress converts the simulation section for progress.NewScheduler.
func (c *Config) Progress() progress.Config {
	return progress.Config{
		SpeedKmh:       c.Simulation.SpeedKmh,
		Lookahead:      c.Simulation.Lookahead,
		RecheckPeriod:  c.Simulation.RecheckPeriod,
		RequestTimeout: c.Simulation.RequestTimeout,
		Retry: progress.RetryPolicy{
			BaseInterval: c.Simulation.Retry.BaseInterval,
			MaxInterval:  c.Simulation.Retry.MaxInterval,
			Multiplier:   c.Simulation.Retry.Multiplier,
			MaxRetries:   c.Simulation.Retry.MaxRetries,
		},
	}
}

// Logging converts the log section for logging.New.
func (c *Config) Logging(level *slog.LevelVar) logging.Config {
	return logging.Config{
		Level:      c.Log.Level,
		Format:     c.Log.Format,
		AddSource:  c.Log.AddSource,
		LevelVar:   level,
		File:       c.Log.File,
		MaxSizeMB:  c.Log.MaxSizeMB,
		MaxBackups: c.Log.MaxBackups,
		MaxAgeDays: c.Log.MaxAgeDays,
	}
}

// TracingSettings converts the tracing section for observability.InitTracing.
func (c *Config) TracingSettings() observability.TracingConfig {
	return observability.TracingConfig{
		Enabled:     c.Tracing.Enabled,
		ServiceName: c.Tracing.ServiceName,
		Exporter:    c.Tracing.Exporter,
		Endpoint:    c.Tracing.Endpoint,
		SampleRatio: c.Tracing.SampleRatio,
	}
}
