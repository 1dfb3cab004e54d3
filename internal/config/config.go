// Package config loads and validates orchestrator configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/social-crawl-orchestrator/internal/crawler"
)

// EnvPrefix namespaces environment overrides, e.g. SOCIALCRAWL_DB_DSN.
const EnvPrefix = "SOCIALCRAWL"

// Blob archive backends.
const (
	BlobBackendNone   = "none"
	BlobBackendMemory = "memory"
	BlobBackendLocal  = "local"
	BlobBackendGCS    = "gcs"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Provider ProviderConfig `mapstructure:"provider"`
	Schedule ScheduleConfig `mapstructure:"schedule"`
	Storage  StorageConfig  `mapstructure:"storage"`
	DB       DBConfig       `mapstructure:"db"`
	PubSub   PubSubConfig   `mapstructure:"pubsub"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// ProviderConfig points at the crawl provider.
type ProviderConfig struct {
	BaseURL        string            `mapstructure:"base_url"`
	APIToken       string            `mapstructure:"api_token"`
	Datasets       map[string]string `mapstructure:"datasets"`
	TriggerTimeout time.Duration     `mapstructure:"trigger_timeout"`
	PollTimeout    time.Duration     `mapstructure:"poll_timeout"`
	FetchTimeout   time.Duration     `mapstructure:"fetch_timeout"`
	ResultFormat   string            `mapstructure:"result_format"`
	// RequestsPerSecond throttles provider calls; 0 disables throttling.
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
}

// ScheduleConfig governs the weekly batch and the completion sweep.
type ScheduleConfig struct {
	Enabled          bool          `mapstructure:"enabled"`
	WeeklyCron       string        `mapstructure:"weekly_cron"`
	SweepCron        string        `mapstructure:"sweep_cron"`
	Timezone         string        `mapstructure:"timezone"`
	SweepWindow      time.Duration `mapstructure:"sweep_window"`
	SweepConcurrency int           `mapstructure:"sweep_concurrency"`
	RunTimeout       time.Duration `mapstructure:"run_timeout"`
}

// StorageConfig selects where raw snapshots are archived.
type StorageConfig struct {
	Backend    string `mapstructure:"backend"`
	GCSBucket  string `mapstructure:"gcs_bucket"`
	LocalDir   string `mapstructure:"local_dir"`
	Prefix     string `mapstructure:"prefix"`
	HashLength int    `mapstructure:"hash_length"`
}

// DBConfig controls access to Postgres. An empty DSN selects the in-memory store.
type DBConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

// PubSubConfig holds metadata for job event notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// Load builds a Config from disk/environment.
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
	v.SetDefault("server.request_timeout", 120*time.Second)
	v.SetDefault("server.shutdown_timeout", 15*time.Second)
	v.SetDefault("auth.enabled", false)
	v.SetDefault("provider.base_url", "https://api.brightdata.com/datasets/v3")
	v.SetDefault("provider.api_token", "")
	v.SetDefault("provider.trigger_timeout", 30*time.Second)
	v.SetDefault("provider.poll_timeout", 30*time.Second)
	v.SetDefault("provider.fetch_timeout", 60*time.Second)
	v.SetDefault("provider.result_format", "json")
	v.SetDefault("provider.requests_per_second", 5.0)
	v.SetDefault("provider.burst", 5)
	v.SetDefault("schedule.enabled", true)
	v.SetDefault("schedule.weekly_cron", "0 9 * * 1")
	v.SetDefault("schedule.sweep_cron", "0 * * * *")
	v.SetDefault("schedule.timezone", "Europe/Rome")
	v.SetDefault("schedule.sweep_window", 7*24*time.Hour)
	v.SetDefault("schedule.sweep_concurrency", 4)
	v.SetDefault("schedule.run_timeout", 30*time.Minute)
	v.SetDefault("storage.backend", BlobBackendNone)
	v.SetDefault("storage.prefix", "snapshots")
	v.SetDefault("storage.local_dir", "./data/snapshots")
	v.SetDefault("storage.hash_length", 16)
	v.SetDefault("db.dsn", "")
	v.SetDefault("db.max_conns", 10)
	v.SetDefault("db.min_conns", 0)
	v.SetDefault("db.max_conn_lifetime", time.Hour)
	v.SetDefault("db.auto_migrate", false)
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic_name", "")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if c.Provider.RequestsPerSecond < 0 {
		return fmt.Errorf("provider.requests_per_second must be >= 0")
	}
	if c.Schedule.SweepConcurrency <= 0 {
		return fmt.Errorf("schedule.sweep_concurrency must be > 0")
	}
	if c.Schedule.SweepWindow <= 0 {
		return fmt.Errorf("schedule.sweep_window must be > 0")
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	if _, err := crawler.ParseResultFormat(c.Provider.ResultFormat); err != nil {
		return fmt.Errorf("provider.result_format: %w", err)
	}
	for name := range c.Provider.Datasets {
		if _, err := crawler.ParsePlatform(name); err != nil {
			return fmt.Errorf("provider.datasets: %w", err)
		}
	}
	switch c.Storage.Backend {
	case "", BlobBackendNone, BlobBackendMemory:
	case BlobBackendLocal:
		if c.Storage.LocalDir == "" {
			return fmt.Errorf("storage.local_dir must be set for the local backend")
		}
	case BlobBackendGCS:
		if c.Storage.GCSBucket == "" {
			return fmt.Errorf("storage.gcs_bucket must be set for the gcs backend")
		}
	default:
		return fmt.Errorf("storage.backend %q is not one of none, memory, local, gcs", c.Storage.Backend)
	}
	if c.PubSub.ProjectID != "" && c.PubSub.TopicName == "" {
		return fmt.Errorf("pubsub.topic_name must be set when pubsub.project_id is")
	}
	if c.DB.MinConns > c.DB.MaxConns && c.DB.MaxConns > 0 {
		return fmt.Errorf("db.min_conns must not exceed db.max_conns")
	}
	return nil
}

// Location resolves the business time zone.
func (c Config) Location() (*time.Location, error) {
	name := c.Schedule.Timezone
	if name == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("schedule.timezone %q: %w", name, err)
	}
	return loc, nil
}

// ResultFormat returns the configured snapshot download format.
func (c Config) ResultFormat() crawler.ResultFormat {
	format, err := crawler.ParseResultFormat(c.Provider.ResultFormat)
	if err != nil {
		return crawler.FormatJSON
	}
	return format
}

// ProviderDatasets converts the configured dataset overrides to platform keys.
func (c Config) ProviderDatasets() map[crawler.Platform]string {
	if len(c.Provider.Datasets) == 0 {
		return nil
	}
	out := make(map[crawler.Platform]string, len(c.Provider.Datasets))
	for name, id := range c.Provider.Datasets {
		if p, err := crawler.ParsePlatform(name); err == nil {
			out[p] = id
		}
	}
	return out
}
