// Package executor wraps a relational store handle with bounded
// retry/backoff, slow-query warnings, and statement metrics.
//
// Every repository statement flows through an Executor. Transient store
// failures (connection drops, serialization conflicts, deadlocks) are
// retried with linear backoff up to the configured attempt budget;
// deterministic failures surface immediately. Exhaustion raises a
// dberr.QueryError carrying the SQL, the bound parameters, and the last
// underlying error.
package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"

	"github.com/solenoid-labs/storekit/internal/config"
	"github.com/solenoid-labs/storekit/internal/dberr"
)

// Store is the connection handle the executor drives. Both *pgxpool.Pool
// and pgx.Tx satisfy it, which is how Transaction scopes the same query
// surface to a single transaction.
type Store interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
	Begin(ctx context.Context) (pgx.Tx, error)
}

// ErrNestedTransaction is returned when Transaction is called on an
// executor that is already scoped to a transaction.
var ErrNestedTransaction = errors.New("executor: transaction already in progress")

// Executor issues statements against a Store with retry, timing, and
// metrics. It is safe for concurrent use; concurrency control beyond the
// metrics counters is delegated to the store's own connection semantics.
type Executor struct {
	store Store
	log   *zerolog.Logger

	maxRetries int
	retryDelay time.Duration
	slowQuery  time.Duration

	// inTx disables per-statement retries: Postgres aborts the whole
	// transaction after any statement error, so a retry could never
	// succeed mid-transaction.
	inTx bool

	metrics *metrics
}

// New builds an Executor over the given store handle.
func New(store Store, cfg config.ExecutorConfig, log *zerolog.Logger) *Executor {
	maxRetries := cfg.MaxRetries
	if maxRetries < 1 {
		maxRetries = 1
	}
	return &Executor{
		store:      store,
		log:        log,
		maxRetries: maxRetries,
		retryDelay: cfg.RetryDelay(),
		slowQuery:  cfg.SlowQueryThreshold(),
		metrics:    &metrics{},
	}
}

// Query runs sql and hands the resulting rows to collect. One attempt
// covers both issuing the statement and collecting its rows, so transient
// failures surfacing at read time are retried too. Rows are closed before
// Query returns.
func (e *Executor) Query(ctx context.Context, sql string, args []any, collect func(pgx.Rows) error) error {
	return e.run(ctx, sql, args, func(ctx context.Context) error {
		rows, err := e.store.Query(ctx, sql, args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		if err := collect(rows); err != nil {
			return err
		}
		return rows.Err()
	})
}

// Exec runs a statement that returns no rows and reports how many rows it
// affected.
func (e *Executor) Exec(ctx context.Context, sql string, args ...any) (int64, error) {
	var affected int64
	err := e.run(ctx, sql, args, func(ctx context.Context) error {
		tag, err := e.store.Exec(ctx, sql, args...)
		if err != nil {
			return err
		}
		affected = tag.RowsAffected()
		return nil
	})
	return affected, err
}

// Batch sends all queued statements in one round trip and returns the
// command tag of each. A batch is not retried as a whole; the store runs
// it in an implicit transaction, so a mid-batch retry would replay
// already-applied statements.
func (e *Executor) Batch(ctx context.Context, b *pgx.Batch) ([]pgconn.CommandTag, error) {
	start := time.Now()
	results := e.store.SendBatch(ctx, b)

	tags := make([]pgconn.CommandTag, 0, b.Len())
	var firstErr error
	for i := 0; i < b.Len(); i++ {
		tag, err := results.Exec()
		if err != nil {
			firstErr = err
			break
		}
		tags = append(tags, tag)
	}
	closeErr := results.Close()
	if firstErr == nil {
		firstErr = closeErr
	}

	elapsed := time.Since(start)
	slow := e.slowQuery > 0 && elapsed > e.slowQuery
	e.metrics.observe(firstErr, elapsed, slow, dberr.IsTransient(firstErr))
	if slow {
		e.log.Warn().
			Dur("duration", elapsed).
			Int("statements", b.Len()).
			Msg("slow batch detected")
	}

	if firstErr != nil {
		return nil, dberr.NewQueryError("batch", nil, 1, elapsed, dberr.Classify(firstErr))
	}
	return tags, nil
}

// Transaction begins a store transaction and runs fn with an executor
// scoped to it. If fn returns an error the transaction is rolled back and
// the error propagates unchanged; otherwise the transaction commits.
// fn must not call Transaction on the executor it receives.
func (e *Executor) Transaction(ctx context.Context, fn func(tx *Executor) error) error {
	if e.inTx {
		return ErrNestedTransaction
	}

	tx, err := e.store.Begin(ctx)
	if err != nil {
		return dberr.Classify(fmt.Errorf("beginning transaction: %w", err))
	}

	scoped := &Executor{
		store:      tx,
		log:        e.log,
		maxRetries: 1,
		retryDelay: e.retryDelay,
		slowQuery:  e.slowQuery,
		inTx:       true,
		metrics:    e.metrics,
	}

	if err := fn(scoped); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			e.log.Error().Err(rbErr).Msg("transaction rollback failed")
		}
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return dberr.Classify(fmt.Errorf("committing transaction: %w", err))
	}
	return nil
}

// Metrics returns an immutable snapshot of the statement counters.
func (e *Executor) Metrics() Snapshot { return e.metrics.snapshot() }

// ResetMetrics zeroes all statement counters.
func (e *Executor) ResetMetrics() { e.metrics.reset() }

// run is the shared attempt loop. Attempts are sequential, never
// concurrent; backoff grows linearly with the attempt number. Only errors
// classified transient consume additional attempts.
func (e *Executor) run(ctx context.Context, sql string, args []any, attempt func(context.Context) error) error {
	maxAttempts := e.maxRetries
	if e.inTx {
		maxAttempts = 1
	}

	start := time.Now()
	var lastErr error
	attempts := 0

	for n := 1; n <= maxAttempts; n++ {
		attempts = n
		attemptStart := time.Now()
		err := attempt(ctx)
		elapsed := time.Since(attemptStart)

		slow := e.slowQuery > 0 && elapsed > e.slowQuery
		e.metrics.observe(err, elapsed, slow, dberr.IsTransient(err))
		if slow {
			e.log.Warn().
				Dur("duration", elapsed).
				Str("sql", sql).
				Msg("slow query detected")
		}

		if err == nil {
			return nil
		}
		lastErr = err

		if !dberr.IsTransient(err) {
			break
		}
		if n == maxAttempts {
			break
		}

		delay := e.retryDelay * time.Duration(n)
		e.log.Debug().
			Err(err).
			Int("attempt", n).
			Dur("backoff", delay).
			Str("sql", sql).
			Msg("retrying transient store error")

		select {
		case <-ctx.Done():
			return dberr.NewQueryError(sql, args, attempts, time.Since(start), ctx.Err())
		case <-time.After(delay):
		}
	}

	return dberr.NewQueryError(sql, args, attempts, time.Since(start), dberr.Classify(lastErr))
}
