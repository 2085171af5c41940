// Package repository handles all interactions with the database.
//
// It contains the SQL queries and methods to fetch, persist, or update
// data, abstracting SQL logic away from callers. A generic table base
// provides typed CRUD over any record embedding record.Base; the domain
// repositories (users, sessions, audit logs) extend it with their own
// queries and validation, and the Registry hands out one memoized instance
// of each over a shared executor.
package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"github.com/solenoid-labs/storekit/internal/dberr"
	"github.com/solenoid-labs/storekit/internal/executor"
	"github.com/solenoid-labs/storekit/internal/record"
	"github.com/solenoid-labs/storekit/internal/sqlbuilder"
)

// stampable constrains the pointer side of a record type parameter to the
// shared Base behavior (id access and creation stamping).
type stampable[T any] interface {
	*T
	record.Stampable
}

// table is the generic CRUD base shared by all repositories. T is the
// record struct; PT is *T.
//
// columns is the canonical column order, used both for SELECT lists and
// INSERT targets; values must return the record's fields in exactly that
// order.
type table[T any, PT stampable[T]] struct {
	exec    *executor.Executor
	log     *zerolog.Logger
	name    string
	columns []string
	values  func(PT) []any

	// Soft-delete support is probed from the schema on first use, so the
	// fallback to hard delete is an explicit branch rather than
	// error-driven control flow. Only a successful probe is cached: a
	// failed probe is retried on the next call.
	softMu     sync.Mutex
	softProbed bool
	softDelete bool
}

func newTable[T any, PT stampable[T]](exec *executor.Executor, log *zerolog.Logger, name string, columns []string, values func(PT) []any) *table[T, PT] {
	return &table[T, PT]{
		exec:    exec,
		log:     log,
		name:    name,
		columns: columns,
		values:  values,
	}
}

func (t *table[T, PT]) selectList() string { return strings.Join(t.columns, ", ") }

// FindByID returns the row with the given id, or nil when absent.
func (t *table[T, PT]) FindByID(ctx context.Context, id string) (*T, error) {
	sql := fmt.Sprintf(`SELECT %s FROM %s WHERE id = $1`, t.selectList(), t.name)
	return collectFirst[T](ctx, t.exec, sql, []any{id})
}

// FindMany returns all rows matching opts.
func (t *table[T, PT]) FindMany(ctx context.Context, opts sqlbuilder.Options) ([]T, error) {
	tail, args, err := sqlbuilder.Build(opts, 1)
	if err != nil {
		return nil, err
	}
	sql := strings.TrimSpace(fmt.Sprintf(`SELECT %s FROM %s %s`, t.selectList(), t.name, tail))
	return collectMany[T](ctx, t.exec, sql, args)
}

// FindOne returns the first row matching opts, or nil. The limit is
// forced to one regardless of what opts carries.
func (t *table[T, PT]) FindOne(ctx context.Context, opts sqlbuilder.Options) (*T, error) {
	one := 1
	opts.Limit = &one
	opts.Offset = nil

	rows, err := t.FindMany(ctx, opts)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

// FindBy is a single-column equality shortcut.
func (t *table[T, PT]) FindBy(ctx context.Context, column string, value any) ([]T, error) {
	return t.FindMany(ctx, sqlbuilder.Options{
		Conditions: []sqlbuilder.Condition{{Column: column, Op: sqlbuilder.Eq, Value: value}},
	})
}

// FindOneBy is a single-column equality shortcut returning at most one row.
func (t *table[T, PT]) FindOneBy(ctx context.Context, column string, value any) (*T, error) {
	return t.FindOne(ctx, sqlbuilder.Options{
		Conditions: []sqlbuilder.Condition{{Column: column, Op: sqlbuilder.Eq, Value: value}},
	})
}

// Create stamps the record with a fresh id and timestamps, inserts it, and
// returns the persisted row as the store sees it.
func (t *table[T, PT]) Create(ctx context.Context, rec PT) (*T, error) {
	rec.StampNew(time.Now().UTC())

	placeholders := make([]string, len(t.columns))
	for i := range t.columns {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}
	sql := fmt.Sprintf(`INSERT INTO %s (%s) VALUES (%s) RETURNING %s`,
		t.name, t.selectList(), strings.Join(placeholders, ", "), t.selectList())

	created, err := collectFirst[T](ctx, t.exec, sql, t.values(rec))
	if err != nil {
		return nil, err
	}
	if created == nil {
		return nil, dberr.Newf(dberr.Other, "insert into %s returned no row", t.name)
	}
	t.log.Debug().Str("table", t.name).Str("id", rec.GetID()).Msg("created record")
	return created, nil
}

// Update applies a partial change set to the row with the given id,
// always stamping updated_at, and returns the updated row. A missing
// target raises NotFound.
//
// Change keys are column names; they come from repository code, not from
// callers outside this package.
func (t *table[T, PT]) Update(ctx context.Context, id string, changes map[string]any) (*T, error) {
	// Deterministic column order keeps the SQL stable for logs and tests.
	cols := make([]string, 0, len(changes))
	for col := range changes {
		if col == "id" || col == "created_at" || col == "updated_at" {
			continue
		}
		cols = append(cols, col)
	}
	sort.Strings(cols)

	sets := make([]string, 0, len(cols)+1)
	args := make([]any, 0, len(cols)+2)
	for _, col := range cols {
		args = append(args, changes[col])
		sets = append(sets, fmt.Sprintf("%s = $%d", col, len(args)))
	}
	args = append(args, time.Now().UTC())
	sets = append(sets, fmt.Sprintf("updated_at = $%d", len(args)))
	args = append(args, id)

	sql := fmt.Sprintf(`UPDATE %s SET %s WHERE id = $%d RETURNING %s`,
		t.name, strings.Join(sets, ", "), len(args), t.selectList())

	updated, err := collectFirst[T](ctx, t.exec, sql, args)
	if err != nil {
		return nil, err
	}
	if updated == nil {
		return nil, dberr.Newf(dberr.NotFound, "%s %s not found", singular(t.name), id)
	}
	return updated, nil
}

// Delete removes the row with the given id and reports whether a row was
// actually removed.
func (t *table[T, PT]) Delete(ctx context.Context, id string) (bool, error) {
	affected, err := t.exec.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, t.name), id)
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// Count reports how many rows match the given conditions.
func (t *table[T, PT]) Count(ctx context.Context, conds []sqlbuilder.Condition) (int64, error) {
	clause, args, err := sqlbuilder.Where(conds, 1)
	if err != nil {
		return 0, err
	}
	sql := strings.TrimSpace(fmt.Sprintf(`SELECT COUNT(*) FROM %s %s`, t.name, clause))
	return collectScalar[int64](ctx, t.exec, sql, args)
}

// Exists reports whether a row with the given id exists.
func (t *table[T, PT]) Exists(ctx context.Context, id string) (bool, error) {
	sql := fmt.Sprintf(`SELECT EXISTS (SELECT 1 FROM %s WHERE id = $1)`, t.name)
	return collectScalar[bool](ctx, t.exec, sql, []any{id})
}

// SoftDelete marks the row deleted via deleted_at when the table has that
// column, and falls back to a hard delete when it does not.
func (t *table[T, PT]) SoftDelete(ctx context.Context, id string) (bool, error) {
	supported, err := t.softDeleteSupported(ctx)
	if err != nil {
		return false, err
	}
	if !supported {
		return t.Delete(ctx, id)
	}

	now := time.Now().UTC()
	affected, err := t.exec.Exec(ctx,
		fmt.Sprintf(`UPDATE %s SET deleted_at = $1, updated_at = $1 WHERE id = $2 AND deleted_at IS NULL`, t.name),
		now, id,
	)
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// Restore clears deleted_at on a soft-deleted row. It raises Validation
// when the table has no deleted_at column and NotFound when no row
// matched.
func (t *table[T, PT]) Restore(ctx context.Context, id string) error {
	supported, err := t.softDeleteSupported(ctx)
	if err != nil {
		return err
	}
	if !supported {
		return dberr.Newf(dberr.Validation, "table %s does not support soft delete", t.name)
	}

	affected, err := t.exec.Exec(ctx,
		fmt.Sprintf(`UPDATE %s SET deleted_at = NULL, updated_at = $1 WHERE id = $2`, t.name),
		time.Now().UTC(), id,
	)
	if err != nil {
		return err
	}
	if affected == 0 {
		return dberr.Newf(dberr.NotFound, "%s %s not found", singular(t.name), id)
	}
	return nil
}

// softDeleteSupported probes information_schema for a deleted_at column.
// A successful probe is cached for the repository's lifetime; a failed
// probe is not, so a store outage during the first call does not pin the
// repository to the error after the store recovers.
func (t *table[T, PT]) softDeleteSupported(ctx context.Context) (bool, error) {
	t.softMu.Lock()
	defer t.softMu.Unlock()

	if t.softProbed {
		return t.softDelete, nil
	}

	const probe = `
		SELECT EXISTS (
			SELECT 1 FROM information_schema.columns
			WHERE table_name = $1 AND column_name = 'deleted_at'
		)`
	supported, err := collectScalar[bool](ctx, t.exec, probe, []any{t.name})
	if err != nil {
		return false, err
	}
	t.softDelete = supported
	t.softProbed = true
	return supported, nil
}

// collectMany runs sql through the executor and scans every row into T by
// column name.
func collectMany[T any](ctx context.Context, e *executor.Executor, sql string, args []any) ([]T, error) {
	var out []T
	err := e.Query(ctx, sql, args, func(rows pgx.Rows) error {
		collected, err := pgx.CollectRows(rows, pgx.RowToStructByName[T])
		if err != nil {
			return err
		}
		out = collected
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// collectFirst runs sql and scans at most one row, returning nil (not an
// error) when the result set is empty.
func collectFirst[T any](ctx context.Context, e *executor.Executor, sql string, args []any) (*T, error) {
	var out *T
	err := e.Query(ctx, sql, args, func(rows pgx.Rows) error {
		row, err := pgx.CollectOneRow(rows, pgx.RowToStructByName[T])
		if errors.Is(err, pgx.ErrNoRows) {
			return nil
		}
		if err != nil {
			return err
		}
		out = &row
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// collectScalar runs sql and scans a single scalar value.
func collectScalar[T any](ctx context.Context, e *executor.Executor, sql string, args []any) (T, error) {
	var out T
	err := e.Query(ctx, sql, args, func(rows pgx.Rows) error {
		value, err := pgx.CollectOneRow(rows, pgx.RowTo[T])
		if err != nil {
			return err
		}
		out = value
		return nil
	})
	return out, err
}

// singular strips a trailing s from a table name for error messages.
func singular(table string) string {
	if strings.HasSuffix(table, "s") && len(table) > 1 {
		return table[:len(table)-1]
	}
	return table
}
