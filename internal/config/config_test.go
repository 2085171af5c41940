package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequiredDatabaseEnv(t *testing.T) {
	t.Helper()
	t.Setenv("STOREKIT_DATABASE__HOST", "localhost")
	t.Setenv("STOREKIT_DATABASE__PORT", "5432")
	t.Setenv("STOREKIT_DATABASE__USER", "storekit")
	t.Setenv("STOREKIT_DATABASE__PASSWORD", "secret")
	t.Setenv("STOREKIT_DATABASE__NAME", "storekit_test")
	t.Setenv("STOREKIT_DATABASE__SSL_MODE", "disable")
}

func TestNew_LoadsEnvironment(t *testing.T) {
	setRequiredDatabaseEnv(t)
	t.Setenv("STOREKIT_PRIMARY__ENV", "production")
	t.Setenv("STOREKIT_EXECUTOR__MAX_RETRIES", "5")
	t.Setenv("STOREKIT_EXECUTOR__RETRY_DELAY_MS", "250")
	t.Setenv("STOREKIT_RETENTION__AUDIT_LOG_DAYS", "30")

	cfg, err := New()
	require.NoError(t, err)

	assert.Equal(t, "production", cfg.Primary.Env)
	assert.Equal(t, "localhost", cfg.Database.Host)
	assert.Equal(t, 5432, cfg.Database.Port)
	assert.Equal(t, "storekit_test", cfg.Database.Name)
	assert.Equal(t, "disable", cfg.Database.SSLMode, "double underscore nests, single underscore stays in the key")
	assert.Equal(t, 5, cfg.Executor.MaxRetries)
	assert.Equal(t, 250, cfg.Executor.RetryDelayMS)
	assert.Equal(t, 30, cfg.Retention.AuditLogDays)
}

func TestNew_AppliesDefaults(t *testing.T) {
	setRequiredDatabaseEnv(t)

	cfg, err := New()
	require.NoError(t, err)

	assert.Equal(t, "local", cfg.Primary.Env)
	assert.Equal(t, 3, cfg.Executor.MaxRetries)
	assert.Equal(t, 100, cfg.Executor.RetryDelayMS)
	assert.Equal(t, 5000, cfg.Executor.SlowQueryMS)
	assert.Equal(t, 90, cfg.Retention.AuditLogDays)
	assert.Equal(t, 24, cfg.Retention.SessionSweepHours)
	assert.Equal(t, 10, cfg.Database.MaxOpenConns)
}

func TestNew_RejectsIncompleteDatabaseConfig(t *testing.T) {
	setRequiredDatabaseEnv(t)
	t.Setenv("STOREKIT_DATABASE__HOST", "")

	_, err := New()
	assert.Error(t, err)
}

func TestExecutorConfig_Durations(t *testing.T) {
	c := ExecutorConfig{RetryDelayMS: 150, SlowQueryMS: 2000}

	assert.Equal(t, 150*time.Millisecond, c.RetryDelay())
	assert.Equal(t, 2*time.Second, c.SlowQueryThreshold())
}
