// Package migrate applies an ordered list of schema migrations exactly
// once, tracked by a migrations ledger table with content checksums.
//
// Each migration's state machine is pending -> applied, terminal. Every
// applied migration leaves a write-once ledger row recording its id, human
// name, execution time, and a checksum of its up script so accidental
// drift is detectable later.
package migrate

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"github.com/solenoid-labs/storekit/internal/dberr"
	"github.com/solenoid-labs/storekit/internal/executor"
	"github.com/solenoid-labs/storekit/internal/record"
)

const ledgerTable = `
CREATE TABLE IF NOT EXISTS migrations (
    id TEXT PRIMARY KEY,
    migration_id TEXT NOT NULL UNIQUE,
    name TEXT NOT NULL,
    executed_at TIMESTAMPTZ NOT NULL,
    checksum TEXT NOT NULL,
    created_at TIMESTAMPTZ NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL
)`

// Migrator applies migrations through an executor.
type Migrator struct {
	exec       *executor.Executor
	log        *zerolog.Logger
	migrations []Migration
}

// New builds a Migrator over the built-in migration set.
func New(exec *executor.Executor, log *zerolog.Logger) *Migrator {
	return &Migrator{exec: exec, log: log, migrations: All()}
}

// NewWithMigrations builds a Migrator over an explicit migration set.
// Used by tests; production code runs the built-in set.
func NewWithMigrations(exec *executor.Executor, log *zerolog.Logger, migrations []Migration) *Migrator {
	return &Migrator{exec: exec, log: log, migrations: migrations}
}

// ApplyAll runs every pending migration in declaration order and returns
// the ids it applied.
//
// Each migration commits independently: the up script and its ledger row
// share one transaction, but there is no wrapping transaction around the
// whole run. A failure aborts the run with a Migration error; migrations
// committed before the failure stay applied. Running twice in a row
// applies nothing the second time.
func (m *Migrator) ApplyAll(ctx context.Context) ([]string, error) {
	if err := m.ensureLedger(ctx); err != nil {
		return nil, err
	}

	done, err := m.appliedIDs(ctx)
	if err != nil {
		return nil, err
	}

	var applied []string
	for _, mig := range m.migrations {
		if done[mig.ID] {
			continue
		}
		if err := m.apply(ctx, mig); err != nil {
			return applied, dberr.Wrap(dberr.Migration, err, fmt.Sprintf("migration %s failed", mig.ID))
		}
		applied = append(applied, mig.ID)
		m.log.Info().Str("migration", mig.ID).Str("name", mig.Name).Msg("applied migration")
	}

	if len(applied) == 0 {
		m.log.Info().Int("known", len(m.migrations)).Msg("database schema up to date")
	} else {
		m.log.Info().Int("applied", len(applied)).Msg("migrated database schema")
	}
	return applied, nil
}

// Applied returns the ledger rows in execution order.
func (m *Migrator) Applied(ctx context.Context) ([]record.Migration, error) {
	var out []record.Migration
	err := m.exec.Query(ctx, `
		SELECT id, migration_id, name, executed_at, checksum, created_at, updated_at
		FROM migrations
		ORDER BY executed_at ASC, migration_id ASC`, nil, func(rows pgx.Rows) error {
		applied, err := pgx.CollectRows(rows, pgx.RowToStructByName[record.Migration])
		if err != nil {
			return err
		}
		out = applied
		return nil
	})
	if err != nil {
		return nil, dberr.Wrap(dberr.Migration, err, "loading migration ledger")
	}
	return out, nil
}

// VerifyChecksums recomputes the checksum of every known migration and
// compares it against the ledger. A disagreement means the source of an
// already-applied migration changed after the fact; it is reported, never
// auto-corrected.
func (m *Migrator) VerifyChecksums(ctx context.Context) error {
	applied, err := m.Applied(ctx)
	if err != nil {
		return err
	}

	recorded := make(map[string]string, len(applied))
	for _, row := range applied {
		recorded[row.MigrationID] = row.Checksum
	}

	for _, mig := range m.migrations {
		want, ok := recorded[mig.ID]
		if !ok {
			continue // pending, nothing to verify
		}
		if got := Checksum(mig.Up); got != want {
			return dberr.Newf(dberr.ChecksumMismatch,
				"migration %s source has drifted (ledger %s, current %s)", mig.ID, want, got)
		}
	}
	return nil
}

// Rollback is intentionally not implemented. Down scripts are stored for
// the audit trail, but executing them automatically risks silently
// corrupting state; rolling back is an explicit operational decision made
// outside this engine.
func (m *Migrator) Rollback(ctx context.Context, id string) error {
	return dberr.Newf(dberr.Migration, "rollback of %s not implemented", id)
}

func (m *Migrator) ensureLedger(ctx context.Context) error {
	if _, err := m.exec.Exec(ctx, ledgerTable); err != nil {
		return dberr.Wrap(dberr.Migration, err, "ensuring migrations ledger")
	}
	return nil
}

func (m *Migrator) appliedIDs(ctx context.Context) (map[string]bool, error) {
	done := make(map[string]bool, len(m.migrations))
	err := m.exec.Query(ctx, `SELECT migration_id FROM migrations`, nil, func(rows pgx.Rows) error {
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				return err
			}
			done[id] = true
		}
		return nil
	})
	if err != nil {
		return nil, dberr.Wrap(dberr.Migration, err, "loading applied migrations")
	}
	return done, nil
}

// apply runs one migration's up script and records its ledger row in a
// single transaction.
func (m *Migrator) apply(ctx context.Context, mig Migration) error {
	return m.exec.Transaction(ctx, func(tx *executor.Executor) error {
		if _, err := tx.Exec(ctx, mig.Up); err != nil {
			return err
		}
		now := time.Now().UTC()
		_, err := tx.Exec(ctx, `
			INSERT INTO migrations (id, migration_id, name, executed_at, checksum, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			uuid.NewString(), mig.ID, mig.Name, now, Checksum(mig.Up), now, now,
		)
		return err
	})
}

// Checksum computes a deterministic rolling hash of a migration script.
// It guards against accidental drift, not tampering, so a simple
// 31-multiplier hash is enough; cryptographic strength is not a goal.
func Checksum(script string) string {
	var h uint64
	for _, b := range []byte(script) {
		h = h*31 + uint64(b)
	}
	return fmt.Sprintf("%016x", h)
}
