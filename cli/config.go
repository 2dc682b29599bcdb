package cli

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/nexus-link/durable"
)

// Config holds the configuration of durablectl.
type Config struct {
	Log struct {
		Level  string `mapstructure:"level"`
		Format string `mapstructure:"format"`
	} `mapstructure:"log"`
	Postgres struct {
		DSN string `mapstructure:"dsn"`
	} `mapstructure:"postgres"`
	Redis struct {
		// Addr selects the Redis lock. Empty keeps locks in Postgres.
		Addr     string `mapstructure:"addr"`
		Password string `mapstructure:"password"`
		DB       int    `mapstructure:"db"`
	} `mapstructure:"redis"`
	Mongo struct {
		// URI selects the MongoDB summary store. Empty disables fallback
		// summaries.
		URI      string `mapstructure:"uri"`
		Database string `mapstructure:"database"`
	} `mapstructure:"mongo"`
	Engine struct {
		LockLease            time.Duration `mapstructure:"lock_lease"`
		SaveMargin           time.Duration `mapstructure:"save_margin"`
		SaveTimeout          time.Duration `mapstructure:"save_timeout"`
		SemaphoreExpiration  time.Duration `mapstructure:"semaphore_expiration"`
		PostponeRetryAfter   time.Duration `mapstructure:"postpone_retry_after"`
		JournalThreshold     string        `mapstructure:"journal_threshold"`
		ReentryPollInterval  time.Duration `mapstructure:"reentry_poll_interval"`
		ReentryConcurrency   int           `mapstructure:"reentry_concurrency"`
		ReentryRateLimit     float64       `mapstructure:"reentry_rate_limit"`
		ReentryMaxAttempts   int           `mapstructure:"reentry_max_attempts"`
		ReclaimSchedule      string        `mapstructure:"reclaim_schedule"`
		JournalPurgeSchedule string        `mapstructure:"journal_purge_schedule"`
		JournalRetention     time.Duration `mapstructure:"journal_retention"`
		SummaryCodec         string        `mapstructure:"summary_codec"`
	} `mapstructure:"engine"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// EngineConfig converts the engine section into a durable.Config.
func (c *Config) EngineConfig() durable.Config {
	e := c.Engine
	return durable.Config{
		LockLease:            e.LockLease,
		SaveMargin:           e.SaveMargin,
		SaveTimeout:          e.SaveTimeout,
		SemaphoreExpiration:  e.SemaphoreExpiration,
		PostponeRetryAfter:   e.PostponeRetryAfter,
		JournalThreshold:     e.JournalThreshold,
		ReentryPollInterval:  e.ReentryPollInterval,
		ReentryConcurrency:   e.ReentryConcurrency,
		ReentryRateLimit:     e.ReentryRateLimit,
		ReentryMaxAttempts:   e.ReentryMaxAttempts,
		ReclaimSchedule:      e.ReclaimSchedule,
		JournalPurgeSchedule: e.JournalPurgeSchedule,
		JournalRetention:     e.JournalRetention,
	}
}

// setDefaults mirrors durable.DefaultConfig so that a missing key never
// zeroes a setting.
func setDefaults(v *viper.Viper) {
	d := durable.DefaultConfig()
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("postgres.dsn", "")
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("mongo.uri", "")
	v.SetDefault("mongo.database", "durable")
	v.SetDefault("engine.lock_lease", d.LockLease)
	v.SetDefault("engine.save_margin", d.SaveMargin)
	v.SetDefault("engine.save_timeout", d.SaveTimeout)
	v.SetDefault("engine.semaphore_expiration", d.SemaphoreExpiration)
	v.SetDefault("engine.postpone_retry_after", d.PostponeRetryAfter)
	v.SetDefault("engine.journal_threshold", d.JournalThreshold)
	v.SetDefault("engine.reentry_poll_interval", d.ReentryPollInterval)
	v.SetDefault("engine.reentry_concurrency", d.ReentryConcurrency)
	v.SetDefault("engine.reentry_rate_limit", d.ReentryRateLimit)
	v.SetDefault("engine.reentry_max_attempts", d.ReentryMaxAttempts)
	v.SetDefault("engine.reclaim_schedule", d.ReclaimSchedule)
	v.SetDefault("engine.journal_purge_schedule", d.JournalPurgeSchedule)
	v.SetDefault("engine.journal_retention", d.JournalRetention)
	v.SetDefault("engine.summary_codec", "json")
	v.SetDefault("shutdown_timeout", 30*time.Second)
}

// LoadConfig reads the configuration from file (when non-empty, otherwise
// durable.yaml in . or ./config if present) and from DURABLE_* environment
// variables, which win over the file.
func LoadConfig(v *viper.Viper, file string) (*Config, error) {
	setDefaults(v)

	v.SetEnvPrefix("durable")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName("durable")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if file != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return &cfg, nil
}
