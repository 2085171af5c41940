// Package database contains the logic for establishing connections to the
// PostgreSQL database.
//
// It handles:
//   - building a DSN from config
//   - creating a pgx connection pool (pgxpool) with tuning applied
//   - wiring query tracing/logging (pgx tracelog) in the local env
package database

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"time"

	pgxzero "github.com/jackc/pgx-zerolog"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/tracelog"
	"github.com/rs/zerolog"

	"github.com/solenoid-labs/storekit/internal/config"
	"github.com/solenoid-labs/storekit/internal/logger"
)

// Database wraps the pgx connection pool and a logger, giving the rest of
// the layer a single object to pass around.
type Database struct {
	Pool *pgxpool.Pool
	log  *zerolog.Logger
}

// pingTimeout bounds the startup connectivity check.
const pingTimeout = 10 * time.Second

// New creates a PostgreSQL connection pool.
//
// Behavior:
//   - build the DSN safely (URL-escape the password, IPv6-safe host join)
//   - parse it into a pgxpool config and apply pool tuning
//   - in the local env, attach a SQL trace logger
//   - create the pool, ping it, and return the Database
//
// ctx bounds pool construction and the startup ping; cancel it to abort
// a connection attempt.
func New(ctx context.Context, cfg *config.Config, log *zerolog.Logger) (*Database, error) {
	pgxPoolConfig, err := pgxpool.ParseConfig(DSN(cfg.Database))
	if err != nil {
		return nil, fmt.Errorf("parsing pgx pool config: %w", err)
	}

	if cfg.Database.MaxOpenConns > 0 {
		pgxPoolConfig.MaxConns = int32(cfg.Database.MaxOpenConns)
	}
	if cfg.Database.MinIdleConns > 0 {
		pgxPoolConfig.MinConns = int32(cfg.Database.MinIdleConns)
	}
	if cfg.Database.ConnMaxLifetime > 0 {
		pgxPoolConfig.MaxConnLifetime = time.Duration(cfg.Database.ConnMaxLifetime) * time.Second
	}
	if cfg.Database.ConnMaxIdleTime > 0 {
		pgxPoolConfig.MaxConnIdleTime = time.Duration(cfg.Database.ConnMaxIdleTime) * time.Second
	}

	// SQL statement logging is noisy, so it only runs locally.
	if cfg.Primary.Env == "local" {
		globalLevel := log.GetLevel()
		pgxLogger := logger.NewPgxLogger(globalLevel)
		pgxPoolConfig.ConnConfig.Tracer = &tracelog.TraceLog{
			Logger:   pgxzero.NewLogger(pgxLogger),
			LogLevel: logger.PgxTraceLogLevel(globalLevel),
		}
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxPoolConfig)
	if err != nil {
		return nil, fmt.Errorf("creating pgx pool: %w", err)
	}

	// Ping with a timeout so startup fails fast when the store is down.
	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	log.Info().Msg("connected to the database")

	return &Database{Pool: pool, log: log}, nil
}

// DSN assembles the postgres connection string from config. The password
// is URL-escaped so characters like ':' or '@' cannot break the URL.
func DSN(db config.DatabaseConfig) string {
	hostPort := net.JoinHostPort(db.Host, strconv.Itoa(db.Port))
	return fmt.Sprintf("postgres://%s:%s@%s/%s?sslmode=%s",
		db.User,
		url.QueryEscape(db.Password),
		hostPort,
		db.Name,
		db.SSLMode,
	)
}

// Close closes the database connection pool.
func (db *Database) Close() error {
	db.log.Info().Msg("closing database connection pool")
	db.Pool.Close()
	return nil
}
