// Package storekit is a retry-resilient database access layer: a query
// executor with bounded retry and metrics, a checksum-verified migration
// engine, typed repositories over users, sessions, and audit logs, and
// security analytics over the audit trail.
package storekit

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/solenoid-labs/storekit/internal/config"
	"github.com/solenoid-labs/storekit/internal/database"
	"github.com/solenoid-labs/storekit/internal/executor"
	"github.com/solenoid-labs/storekit/internal/logger"
	"github.com/solenoid-labs/storekit/internal/migrate"
	"github.com/solenoid-labs/storekit/internal/repository"
)

// Client owns the data layer's moving parts: the connection pool, the
// shared executor, the migration engine, and the repository registry.
type Client struct {
	DB       *database.Database
	Exec     *executor.Executor
	Migrator *migrate.Migrator
	Repos    *repository.Registry

	retention config.RetentionConfig
	log       zerolog.Logger
}

// Open loads config from the environment, connects to the store, and
// wires the executor, migrator, and registry. It does not run migrations;
// call Migrate for that.
func Open(ctx context.Context) (*Client, error) {
	cfg, err := config.New()
	if err != nil {
		return nil, err
	}

	log := logger.New(cfg.Primary.Env)

	db, err := database.New(ctx, cfg, &log)
	if err != nil {
		return nil, err
	}

	exec := executor.New(db.Pool, cfg.Executor, &log)

	return &Client{
		DB:        db,
		Exec:      exec,
		Migrator:  migrate.New(exec, &log),
		Repos:     repository.NewRegistry(exec, &log),
		retention: cfg.Retention,
		log:       log,
	}, nil
}

// Migrate applies all pending schema migrations.
func (c *Client) Migrate(ctx context.Context) error {
	_, err := c.Migrator.ApplyAll(ctx)
	return err
}

// Sweep enforces the retention policy in one pass: audit rows older than
// the configured number of days are deleted, and expired or inactive
// sessions are removed. Callers run it periodically; SweepInterval gives
// the configured cadence.
func (c *Client) Sweep(ctx context.Context) error {
	auditRows, err := c.Repos.AuditLogs().CleanupOldLogs(ctx, c.retention.AuditLogDays)
	if err != nil {
		return err
	}
	sessions, err := c.Repos.Sessions().CleanupExpiredSessions(ctx)
	if err != nil {
		return err
	}
	c.log.Info().
		Int64("audit_rows", auditRows).
		Int64("sessions", sessions).
		Msg("retention sweep complete")
	return nil
}

// SweepInterval returns how often Sweep should run per config.
func (c *Client) SweepInterval() time.Duration {
	return time.Duration(c.retention.SessionSweepHours) * time.Hour
}

// Close releases the underlying connection pool.
func (c *Client) Close() error {
	return c.DB.Close()
}
