// Package config loads and validates permitwatch configuration via Viper.
package config

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/permitwatch/internal/permit"
)

// EnvPrefix prefixes every environment override, e.g. PERMITWATCH_DB_DSN.
const EnvPrefix = "PERMITWATCH"

// Acquisition strategy names accepted in acquire.strategies.
const (
	StrategyHeadless = "headless"
	StrategyForm     = "form"
)

// Backend names for storage.backend and pubsub.backend.
const (
	BackendNone   = "none"
	BackendMemory = "memory"
	BackendLocal  = "local"
	BackendGCS    = "gcs"
	BackendPubSub = "pubsub"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Source   SourceConfig   `mapstructure:"source"`
	Acquire  AcquireConfig  `mapstructure:"acquire"`
	Pipeline PipelineConfig `mapstructure:"pipeline"`
	Notify   NotifyConfig   `mapstructure:"notify"`
	DB       DBConfig       `mapstructure:"db"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Storage  StorageConfig  `mapstructure:"storage"`
	PubSub   PubSubConfig   `mapstructure:"pubsub"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port                   int `mapstructure:"port"`
	ShutdownTimeoutSeconds int `mapstructure:"shutdown_timeout_seconds"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// LoggingConfig toggles zap development features and the minimum level.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// SourceConfig describes the permit query portal.
type SourceConfig struct {
	EntryURL       string `mapstructure:"entry_url"`
	LeaseSearchURL string `mapstructure:"lease_search_url"`
	Timezone       string `mapstructure:"timezone"`
	// Counties pre-selects counties on the query form when set.
	Counties      []string `mapstructure:"counties"`
	UserAgent     string   `mapstructure:"user_agent"`
	SignInMarkers []string `mapstructure:"sign_in_markers"`
}

// AcquireConfig governs the acquisition strategies.
type AcquireConfig struct {
	Strategies     []string       `mapstructure:"strategies"`
	TimeoutSeconds int            `mapstructure:"timeout_seconds"`
	MaxPages       int            `mapstructure:"max_pages"`
	Headless       HeadlessConfig `mapstructure:"headless"`
}

// HeadlessConfig configures the browser strategy.
type HeadlessConfig struct {
	NavTimeoutSeconds int    `mapstructure:"nav_timeout_seconds"`
	ExecPath          string `mapstructure:"exec_path"`
}

// PipelineConfig sets the schedule.
type PipelineConfig struct {
	IntervalSeconds   int  `mapstructure:"interval_seconds"`
	RunOnStart        bool `mapstructure:"run_on_start"`
	RunTimeoutSeconds int  `mapstructure:"run_timeout_seconds"`
}

// NotifyConfig holds push delivery settings.
type NotifyConfig struct {
	VAPIDPublicKey  string  `mapstructure:"vapid_public_key"`
	VAPIDPrivateKey string  `mapstructure:"vapid_private_key"`
	Subscriber      string  `mapstructure:"subscriber"`
	SeenTTLHours    int     `mapstructure:"seen_ttl_hours"`
	PruneThreshold  int     `mapstructure:"prune_threshold"`
	RatePerSecond   float64 `mapstructure:"rate_per_second"`
	Burst           int     `mapstructure:"burst"`
	PushTTLSeconds  int     `mapstructure:"push_ttl_seconds"`
	Urgency         string  `mapstructure:"urgency"`
	Icon            string  `mapstructure:"icon"`
	TimeoutSeconds  int     `mapstructure:"timeout_seconds"`
}

// DBConfig controls access to Postgres. An empty DSN keeps stores in memory.
type DBConfig struct {
	DSN                    string `mapstructure:"dsn"`
	MaxConns               int32  `mapstructure:"max_conns"`
	MinConns               int32  `mapstructure:"min_conns"`
	MaxConnLifetimeMinutes int    `mapstructure:"max_conn_lifetime_minutes"`
	Migrate                bool   `mapstructure:"migrate"`
}

// RedisConfig moves dedup windows to Redis when Addr is set.
type RedisConfig struct {
	Addr                  string `mapstructure:"addr"`
	Username              string `mapstructure:"username"`
	Password              string `mapstructure:"password"`
	DB                    int    `mapstructure:"db"`
	KeyPrefix             string `mapstructure:"key_prefix"`
	ConnectTimeoutSeconds int    `mapstructure:"connect_timeout_seconds"`
}

// StorageConfig selects where raw result pages are archived.
type StorageConfig struct {
	Backend   string `mapstructure:"backend"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	LocalDir  string `mapstructure:"local_dir"`
	Prefix    string `mapstructure:"prefix"`
}

// PubSubConfig selects where discovery events are published.
type PubSubConfig struct {
	Backend   string `mapstructure:"backend"`
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// Load builds a Config from defaults, an optional file and the environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
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

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.shutdown_timeout_seconds", 10)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
	v.SetDefault("source.entry_url", "https://webapps.rrc.texas.gov/DP/initializePublicQueryAction.do")
	v.SetDefault("source.lease_search_url", "https://webapps.rrc.texas.gov/DP/publicQuerySearchAction.do?leaseName=")
	v.SetDefault("source.timezone", "America/Chicago")
	v.SetDefault("source.user_agent", "permitwatch/0.1")
	v.SetDefault("acquire.strategies", []string{StrategyHeadless, StrategyForm})
	v.SetDefault("acquire.timeout_seconds", 30)
	v.SetDefault("acquire.max_pages", 25)
	v.SetDefault("acquire.headless.nav_timeout_seconds", 25)
	v.SetDefault("pipeline.interval_seconds", 300)
	v.SetDefault("pipeline.run_on_start", true)
	v.SetDefault("pipeline.run_timeout_seconds", 300)
	v.SetDefault("notify.subscriber", "mailto:alerts@example.com")
	v.SetDefault("notify.seen_ttl_hours", 24)
	v.SetDefault("notify.prune_threshold", 3)
	v.SetDefault("notify.rate_per_second", 10)
	v.SetDefault("notify.burst", 1)
	v.SetDefault("notify.push_ttl_seconds", 86400)
	v.SetDefault("notify.urgency", "normal")
	v.SetDefault("notify.timeout_seconds", 10)
	v.SetDefault("db.max_conns", 4)
	v.SetDefault("db.migrate", true)
	v.SetDefault("redis.key_prefix", "permitwatch:seen:")
	v.SetDefault("redis.connect_timeout_seconds", 30)
	v.SetDefault("storage.backend", BackendNone)
	v.SetDefault("storage.prefix", "pages")
	v.SetDefault("pubsub.backend", BackendNone)
	v.SetDefault("pubsub.topic_name", "permits.discovered")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if strings.TrimSpace(c.Source.EntryURL) == "" {
		return fmt.Errorf("source.entry_url is required")
	}
	if _, err := time.LoadLocation(c.Source.Timezone); err != nil {
		return fmt.Errorf("source.timezone %q: %w", c.Source.Timezone, err)
	}
	for _, county := range c.Source.Counties {
		if _, ok := permit.CanonicalCounty(county); !ok {
			return fmt.Errorf("source.counties: unknown county %q", county)
		}
	}
	if len(c.Acquire.Strategies) == 0 {
		return fmt.Errorf("acquire.strategies must name at least one strategy")
	}
	for _, s := range c.Acquire.Strategies {
		if s != StrategyHeadless && s != StrategyForm {
			return fmt.Errorf("acquire.strategies: unknown strategy %q", s)
		}
	}
	if c.Acquire.TimeoutSeconds <= 0 {
		return fmt.Errorf("acquire.timeout_seconds must be > 0")
	}
	if c.Acquire.MaxPages <= 0 {
		return fmt.Errorf("acquire.max_pages must be > 0")
	}
	if slices.Contains(c.Acquire.Strategies, StrategyHeadless) && c.Acquire.Headless.NavTimeoutSeconds <= 0 {
		return fmt.Errorf("acquire.headless.nav_timeout_seconds must be > 0")
	}
	if c.Pipeline.IntervalSeconds <= 0 {
		return fmt.Errorf("pipeline.interval_seconds must be > 0")
	}
	if c.Pipeline.RunTimeoutSeconds <= 0 {
		return fmt.Errorf("pipeline.run_timeout_seconds must be > 0")
	}
	if c.Notify.SeenTTLHours <= 0 {
		return fmt.Errorf("notify.seen_ttl_hours must be > 0")
	}
	if c.Notify.PruneThreshold <= 0 {
		return fmt.Errorf("notify.prune_threshold must be > 0")
	}
	if c.Notify.RatePerSecond < 0 {
		return fmt.Errorf("notify.rate_per_second must be >= 0")
	}
	switch c.Storage.Backend {
	case BackendNone, BackendMemory:
	case BackendLocal:
		if c.Storage.LocalDir == "" {
			return fmt.Errorf("storage.local_dir must be set for the local backend")
		}
	case BackendGCS:
		if c.Storage.GCSBucket == "" {
			return fmt.Errorf("storage.gcs_bucket must be set for the gcs backend")
		}
	default:
		return fmt.Errorf("storage.backend: unknown backend %q", c.Storage.Backend)
	}
	switch c.PubSub.Backend {
	case BackendNone, BackendMemory:
	case BackendPubSub:
		if c.PubSub.ProjectID == "" {
			return fmt.Errorf("pubsub.project_id must be set for the pubsub backend")
		}
	default:
		return fmt.Errorf("pubsub.backend: unknown backend %q", c.PubSub.Backend)
	}
	if c.PubSub.TopicName == "" {
		return fmt.Errorf("pubsub.topic_name is required")
	}
	return nil
}

// Location returns the portal's time zone. Validate has already checked it.
func (c Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Source.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// AcquireTimeout is the per-request network budget.
func (c Config) AcquireTimeout() time.Duration {
	return time.Duration(c.Acquire.TimeoutSeconds) * time.Second
}

// NavigationTimeout bounds each headless navigation.
func (c Config) NavigationTimeout() time.Duration {
	return time.Duration(c.Acquire.Headless.NavTimeoutSeconds) * time.Second
}

// Interval is the scheduler period.
func (c Config) Interval() time.Duration {
	return time.Duration(c.Pipeline.IntervalSeconds) * time.Second
}

// RunTimeout bounds one whole run.
func (c Config) RunTimeout() time.Duration {
	return time.Duration(c.Pipeline.RunTimeoutSeconds) * time.Second
}

// SeenTTL is the notification dedup window.
func (c Config) SeenTTL() time.Duration {
	return time.Duration(c.Notify.SeenTTLHours) * time.Hour
}

// ShutdownTimeout bounds graceful HTTP shutdown.
func (c Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.Server.ShutdownTimeoutSeconds) * time.Second
}
