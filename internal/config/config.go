// Package config loads and validates enricher configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Enrichment EnrichmentConfig `mapstructure:"enrichment"`
	Upstream   UpstreamConfig   `mapstructure:"upstream"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Flags      FlagsConfig      `mapstructure:"flags"`
	Events     EventsConfig     `mapstructure:"events"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// EnrichmentConfig governs the scheduling and resilience engine.
type EnrichmentConfig struct {
	Enabled              bool    `mapstructure:"enabled"`
	SampleRate           float64 `mapstructure:"sample_rate"`
	MinROIScore          float64 `mapstructure:"min_roi_score"`
	MinROIScoreSet       bool    `mapstructure:"min_roi_score_set"`
	MaxConcurrent        int     `mapstructure:"max_concurrent"`
	DedupWindowMs        int     `mapstructure:"dedup_window_ms"`
	BreakerThreshold     int     `mapstructure:"breaker_threshold"`
	BreakerResetMs       int     `mapstructure:"breaker_reset_ms"`
	BatchDelayMs         int     `mapstructure:"batch_delay_ms"`
	CacheTTLHours        int     `mapstructure:"cache_ttl_hours"`
	CacheRetentionHours  int     `mapstructure:"cache_retention_hours"`
	DedupMaxEntries      int     `mapstructure:"dedup_max_entries"`
	CompetitorPlatform   string  `mapstructure:"competitor_platform"`
	CompetitorCountry    string  `mapstructure:"competitor_country"`
	EventBufferSize      int     `mapstructure:"event_buffer_size"`
	EventFlushIntervalMs int     `mapstructure:"event_flush_interval_ms"`
}

// UpstreamConfig configures the web-unlocker scraping client.
type UpstreamConfig struct {
	Endpoint             string  `mapstructure:"endpoint"`
	Zone                 string  `mapstructure:"zone"`
	Token                string  `mapstructure:"token"`
	TimeoutSeconds       int     `mapstructure:"timeout_seconds"`
	LookupTimeoutSeconds int     `mapstructure:"lookup_timeout_seconds"`
	MaxRetries           int     `mapstructure:"max_retries"`
	BackoffBaseMs        int     `mapstructure:"backoff_base_ms"`
	BackoffFactor        float64 `mapstructure:"backoff_factor"`
	RPS                  float64 `mapstructure:"rps"`
}

// StorageConfig selects and configures the key-value substrate.
type StorageConfig struct {
	Provider string         `mapstructure:"provider"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Postgres PostgresConfig `mapstructure:"postgres"`
}

// RedisConfig controls the Redis provider.
type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	PoolSize int    `mapstructure:"pool_size"`
}

// PostgresConfig controls the Postgres provider.
type PostgresConfig struct {
	DSN          string `mapstructure:"dsn"`
	Table        string `mapstructure:"table"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
}

// FlagsConfig locates the feature-flag document in the KV store.
type FlagsConfig struct {
	Key            string `mapstructure:"key"`
	RefreshSeconds int    `mapstructure:"refresh_seconds"`
}

// EventsConfig configures outbound event sinks.
type EventsConfig struct {
	PubSub PubSubConfig `mapstructure:"pubsub"`
}

// PubSubConfig holds metadata for the optional Pub/Sub event sink.
type PubSubConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("ENRICHER")
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
	v.SetDefault("logging.development", false)
	v.SetDefault("enrichment.enabled", true)
	v.SetDefault("enrichment.sample_rate", 1.0)
	v.SetDefault("enrichment.min_roi_score_set", false)
	v.SetDefault("enrichment.max_concurrent", 5)
	v.SetDefault("enrichment.dedup_window_ms", 60000)
	v.SetDefault("enrichment.breaker_threshold", 10)
	v.SetDefault("enrichment.breaker_reset_ms", 60000)
	v.SetDefault("enrichment.batch_delay_ms", 50)
	v.SetDefault("enrichment.cache_ttl_hours", 24)
	v.SetDefault("enrichment.cache_retention_hours", 168)
	v.SetDefault("enrichment.dedup_max_entries", 500)
	v.SetDefault("enrichment.competitor_platform", "ebay")
	v.SetDefault("enrichment.competitor_country", "us")
	v.SetDefault("enrichment.event_buffer_size", 1024)
	v.SetDefault("enrichment.event_flush_interval_ms", 500)
	v.SetDefault("upstream.endpoint", "https://api.brightdata.com/request")
	v.SetDefault("upstream.zone", "web_unlocker1")
	v.SetDefault("upstream.timeout_seconds", 30)
	v.SetDefault("upstream.lookup_timeout_seconds", 12)
	v.SetDefault("upstream.max_retries", 3)
	v.SetDefault("upstream.backoff_base_ms", 300)
	v.SetDefault("upstream.backoff_factor", 1.6)
	v.SetDefault("upstream.rps", 2.0)
	v.SetDefault("storage.provider", "memory")
	v.SetDefault("storage.redis.address", "localhost:6379")
	v.SetDefault("storage.redis.pool_size", 10)
	v.SetDefault("storage.postgres.table", "kv_entries")
	v.SetDefault("flags.key", "flags:enrichment")
	v.SetDefault("flags.refresh_seconds", 30)
	v.SetDefault("events.pubsub.enabled", false)
}

// Validate rejects configurations the engine cannot run with.
func (c Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be in (0, 65535], got %d", c.Server.Port)
	}
	if c.Enrichment.SampleRate < 0 || c.Enrichment.SampleRate > 1 {
		return fmt.Errorf("enrichment.sample_rate must be in [0, 1], got %f", c.Enrichment.SampleRate)
	}
	if c.Enrichment.MaxConcurrent <= 0 {
		return fmt.Errorf("enrichment.max_concurrent must be positive, got %d", c.Enrichment.MaxConcurrent)
	}
	if c.Enrichment.BreakerThreshold <= 0 {
		return fmt.Errorf("enrichment.breaker_threshold must be positive, got %d", c.Enrichment.BreakerThreshold)
	}
	if c.Upstream.MaxRetries < 0 {
		return fmt.Errorf("upstream.max_retries must be >= 0, got %d", c.Upstream.MaxRetries)
	}
	if c.Upstream.BackoffFactor < 1 {
		return fmt.Errorf("upstream.backoff_factor must be >= 1, got %f", c.Upstream.BackoffFactor)
	}
	switch c.Storage.Provider {
	case "memory", "redis", "postgres":
	default:
		return fmt.Errorf("unknown storage provider %q", c.Storage.Provider)
	}
	return nil
}

// DedupWindow returns the dedup horizon as a duration.
func (c EnrichmentConfig) DedupWindow() time.Duration {
	return time.Duration(c.DedupWindowMs) * time.Millisecond
}

// BreakerReset returns the breaker open-window as a duration.
func (c EnrichmentConfig) BreakerReset() time.Duration {
	return time.Duration(c.BreakerResetMs) * time.Millisecond
}

// BatchDelay returns the micro-batch debounce as a duration.
func (c EnrichmentConfig) BatchDelay() time.Duration {
	return time.Duration(c.BatchDelayMs) * time.Millisecond
}

// CacheTTL returns the logical cache freshness horizon.
func (c EnrichmentConfig) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLHours) * time.Hour
}

// CacheRetention returns how long the substrate keeps entries past freshness,
// preserving stale-read fallback.
func (c EnrichmentConfig) CacheRetention() time.Duration {
	return time.Duration(c.CacheRetentionHours) * time.Hour
}
