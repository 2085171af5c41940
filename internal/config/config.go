// Package config manages environment variables.
//
// It reads variables from the process environment (optionally seeded from a
// `.env` file), loads them into structured Go types, and validates that
// required values are present so the layer fails fast on bad or missing
// configuration.
//
// Env vars use the STOREKIT_ prefix with "__" separating nesting levels:
//
//	STOREKIT_DATABASE__HOST        -> database.host -> Config.Database.Host
//	STOREKIT_EXECUTOR__MAX_RETRIES -> executor.max_retries
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	// Side-effect import: loads a `.env` file into the process env, if one
	// exists, before anything reads env vars.
	_ "github.com/joho/godotenv/autoload"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
)

// Config is the root configuration object for the data layer.
//
// The `koanf:"..."` tags map values from the environment; the
// `validate:"..."` tags are enforced by go-playground/validator so a
// misconfigured process refuses to start instead of failing mid-query.
//
// Executor and Retention are optional blocks; zero fields receive defaults
// in applyDefaults.
type Config struct {
	Primary   Primary         `koanf:"primary"`
	Database  DatabaseConfig  `koanf:"database" validate:"required"`
	Executor  ExecutorConfig  `koanf:"executor"`
	Retention RetentionConfig `koanf:"retention"`
}

// Primary holds top-level information about the runtime environment,
// used to tag logs and to switch SQL tracing on in local development.
type Primary struct {
	Env string `koanf:"env"`
}

// DatabaseConfig contains PostgreSQL connection parameters and pool tuning.
type DatabaseConfig struct {
	Host            string `koanf:"host" validate:"required"`
	Port            int    `koanf:"port" validate:"required"`
	User            string `koanf:"user" validate:"required"`
	Password        string `koanf:"password" validate:"required"`
	Name            string `koanf:"name" validate:"required"`
	SSLMode         string `koanf:"ssl_mode" validate:"required"`
	MaxOpenConns    int    `koanf:"max_open_conns"`
	MinIdleConns    int    `koanf:"min_idle_conns"`
	ConnMaxLifetime int    `koanf:"conn_max_lifetime"`
	ConnMaxIdleTime int    `koanf:"conn_max_idle_time"`
}

// ExecutorConfig tunes the retrying query executor.
type ExecutorConfig struct {
	MaxRetries   int `koanf:"max_retries" validate:"omitempty,gte=1"`
	RetryDelayMS int `koanf:"retry_delay_ms" validate:"omitempty,gte=0"`
	SlowQueryMS  int `koanf:"slow_query_ms" validate:"omitempty,gte=1"`
}

// RetryDelay returns the base backoff as a duration; attempt N waits
// N * RetryDelay before the next try.
func (c ExecutorConfig) RetryDelay() time.Duration {
	return time.Duration(c.RetryDelayMS) * time.Millisecond
}

// SlowQueryThreshold returns the slow-query warning threshold.
func (c ExecutorConfig) SlowQueryThreshold() time.Duration {
	return time.Duration(c.SlowQueryMS) * time.Millisecond
}

// RetentionConfig tunes the periodic cleanup sweeps over sessions and
// audit logs.
type RetentionConfig struct {
	AuditLogDays      int `koanf:"audit_log_days" validate:"omitempty,gte=1"`
	SessionSweepHours int `koanf:"session_sweep_hours" validate:"omitempty,gte=1"`
}

const envPrefix = "STOREKIT_"

// New loads configuration from the environment, applies defaults, and
// validates it.
func New() (*Config, error) {
	k := koanf.New(".")

	// "__" separates nesting levels so single underscores survive inside
	// key names (STOREKIT_DATABASE__SSL_MODE -> database.ssl_mode).
	err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, envPrefix)), "__", ".")
	}), nil)
	if err != nil {
		return nil, fmt.Errorf("loading env variables: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}

	cfg.applyDefaults()

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// applyDefaults fills the optional blocks. Defaults match the documented
// executor contract: 3 attempts, 100ms linear backoff, 5s slow-query
// threshold, 90-day audit retention.
func (c *Config) applyDefaults() {
	if c.Primary.Env == "" {
		c.Primary.Env = "local"
	}
	if c.Executor.MaxRetries == 0 {
		c.Executor.MaxRetries = 3
	}
	if c.Executor.RetryDelayMS == 0 {
		c.Executor.RetryDelayMS = 100
	}
	if c.Executor.SlowQueryMS == 0 {
		c.Executor.SlowQueryMS = 5000
	}
	if c.Retention.AuditLogDays == 0 {
		c.Retention.AuditLogDays = 90
	}
	if c.Retention.SessionSweepHours == 0 {
		c.Retention.SessionSweepHours = 24
	}
	if c.Database.MaxOpenConns == 0 {
		c.Database.MaxOpenConns = 10
	}
}
