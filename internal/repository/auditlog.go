package repository

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"

	"github.com/solenoid-labs/storekit/internal/dberr"
	"github.com/solenoid-labs/storekit/internal/executor"
	"github.com/solenoid-labs/storekit/internal/record"
	"github.com/solenoid-labs/storekit/internal/sqlbuilder"
)

var auditLogColumns = []string{
	"id", "created_at", "updated_at",
	"user_id", "action", "resource_type", "resource_id",
	"old_values", "new_values", "ip_address", "user_agent",
}

func auditLogValues(l *record.AuditLog) []any {
	return []any{
		l.ID, l.CreatedAt, l.UpdatedAt,
		l.UserID, l.Action, l.ResourceType, l.ResourceID,
		l.OldValues, l.NewValues, l.IPAddress, l.UserAgent,
	}
}

// AuditLogRepository provides typed access to the append-only audit_logs
// table. It exposes no update methods; rows only ever leave via the
// retention sweep.
type AuditLogRepository struct {
	*table[record.AuditLog, *record.AuditLog]
}

// NewAuditLogRepository builds an audit-log repository over the shared
// executor.
func NewAuditLogRepository(exec *executor.Executor, log *zerolog.Logger) *AuditLogRepository {
	return &AuditLogRepository{
		table: newTable[record.AuditLog](exec, log, "audit_logs", auditLogColumns, auditLogValues),
	}
}

// AuditEntry is the caller-facing shape of a new audit row. Old and new
// value snapshots are serialized by the repository.
type AuditEntry struct {
	UserID       *string
	Action       string
	ResourceType string
	ResourceID   *string
	OldValues    map[string]any
	NewValues    map[string]any
	IPAddress    *string
	UserAgent    *string
}

// CreateAuditLog serializes the entry's value snapshots and appends the
// row.
func (r *AuditLogRepository) CreateAuditLog(ctx context.Context, entry AuditEntry) (*record.AuditLog, error) {
	if entry.Action == "" {
		return nil, dberr.New(dberr.Validation, "audit action must not be empty")
	}
	if entry.ResourceType == "" {
		return nil, dberr.New(dberr.Validation, "audit resource_type must not be empty")
	}

	row := &record.AuditLog{
		UserID:       entry.UserID,
		Action:       entry.Action,
		ResourceType: entry.ResourceType,
		ResourceID:   entry.ResourceID,
		IPAddress:    entry.IPAddress,
		UserAgent:    entry.UserAgent,
	}

	var err error
	if row.OldValues, err = marshalSnapshot(entry.OldValues); err != nil {
		return nil, dberr.Wrap(dberr.Validation, err, "old_values is not serializable")
	}
	if row.NewValues, err = marshalSnapshot(entry.NewValues); err != nil {
		return nil, dberr.Wrap(dberr.Validation, err, "new_values is not serializable")
	}

	return r.table.Create(ctx, row)
}

func marshalSnapshot(snapshot map[string]any) ([]byte, error) {
	if snapshot == nil {
		return nil, nil
	}
	return json.Marshal(snapshot)
}

// FindByUser returns a user's audit rows, newest first, capped at limit.
func (r *AuditLogRepository) FindByUser(ctx context.Context, userID string, limit int) ([]record.AuditLog, error) {
	return r.FindMany(ctx, recentFirst(limit,
		sqlbuilder.Condition{Column: "user_id", Op: sqlbuilder.Eq, Value: userID},
	))
}

// FindByResource returns the audit trail of one resource, newest first.
func (r *AuditLogRepository) FindByResource(ctx context.Context, resourceType, resourceID string, limit int) ([]record.AuditLog, error) {
	return r.FindMany(ctx, recentFirst(limit,
		sqlbuilder.Condition{Column: "resource_type", Op: sqlbuilder.Eq, Value: resourceType},
		sqlbuilder.Condition{Column: "resource_id", Op: sqlbuilder.Eq, Value: resourceID},
	))
}

// FindByAction returns rows for one action name, newest first.
func (r *AuditLogRepository) FindByAction(ctx context.Context, action string, limit int) ([]record.AuditLog, error) {
	return r.FindMany(ctx, recentFirst(limit,
		sqlbuilder.Condition{Column: "action", Op: sqlbuilder.Eq, Value: action},
	))
}

// FindByDateRange returns rows created within [from, to], newest first.
func (r *AuditLogRepository) FindByDateRange(ctx context.Context, from, to time.Time, limit int) ([]record.AuditLog, error) {
	if to.Before(from) {
		return nil, dberr.New(dberr.Validation, "date range end precedes start")
	}
	return r.FindMany(ctx, recentFirst(limit,
		sqlbuilder.Condition{Column: "created_at", Op: sqlbuilder.Gte, Value: from},
		sqlbuilder.Condition{Column: "created_at", Op: sqlbuilder.Lte, Value: to},
	))
}

// FindByIP returns rows originating from one source address, newest first.
func (r *AuditLogRepository) FindByIP(ctx context.Context, ip string, limit int) ([]record.AuditLog, error) {
	return r.FindMany(ctx, recentFirst(limit,
		sqlbuilder.Condition{Column: "ip_address", Op: sqlbuilder.Eq, Value: ip},
	))
}

// LogFilter is the multi-predicate search surface. All fields are
// optional and AND-combined.
type LogFilter struct {
	UserID       *string
	Action       *string
	ResourceType *string
	ResourceID   *string
	IPAddress    *string
	From         *time.Time
	To           *time.Time
	Limit        *int
	Offset       *int
}

// SearchLogs runs a multi-predicate search, newest first.
func (r *AuditLogRepository) SearchLogs(ctx context.Context, filter LogFilter) ([]record.AuditLog, error) {
	var conds []sqlbuilder.Condition
	add := func(column string, value any) {
		conds = append(conds, sqlbuilder.Condition{Column: column, Op: sqlbuilder.Eq, Value: value})
	}
	if filter.UserID != nil {
		add("user_id", *filter.UserID)
	}
	if filter.Action != nil {
		add("action", *filter.Action)
	}
	if filter.ResourceType != nil {
		add("resource_type", *filter.ResourceType)
	}
	if filter.ResourceID != nil {
		add("resource_id", *filter.ResourceID)
	}
	if filter.IPAddress != nil {
		add("ip_address", *filter.IPAddress)
	}
	if filter.From != nil {
		conds = append(conds, sqlbuilder.Condition{Column: "created_at", Op: sqlbuilder.Gte, Value: *filter.From})
	}
	if filter.To != nil {
		conds = append(conds, sqlbuilder.Condition{Column: "created_at", Op: sqlbuilder.Lte, Value: *filter.To})
	}

	return r.FindMany(ctx, sqlbuilder.Options{
		Conditions: conds,
		OrderBy:    []sqlbuilder.Order{{Column: "created_at", Desc: true}},
		Limit:      filter.Limit,
		Offset:     filter.Offset,
	})
}

// CleanupOldLogs deletes rows older than daysToKeep days and reports how
// many were removed. This is the only path that removes audit rows.
func (r *AuditLogRepository) CleanupOldLogs(ctx context.Context, daysToKeep int) (int64, error) {
	if daysToKeep < 1 {
		return 0, dberr.New(dberr.Validation, "daysToKeep must be at least 1")
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -daysToKeep)
	return r.exec.Exec(ctx, `DELETE FROM audit_logs WHERE created_at < $1`, cutoff)
}

// AuditStats summarizes the audit log: totals, distinct counts, and
// per-action / per-resource breakdowns.
type AuditStats struct {
	TotalEntries    int64
	UniqueUsers     int64
	UniqueActions   int64
	UniqueResources int64
	ActionCounts    []NameCount
	ResourceCounts  []NameCount
}

// NameCount is one bucket of a grouped count.
type NameCount struct {
	Name  string `db:"name"`
	Count int64  `db:"count"`
}

// GetAuditStats aggregates the audit log since the given time.
func (r *AuditLogRepository) GetAuditStats(ctx context.Context, since time.Time) (*AuditStats, error) {
	type totalsRow struct {
		TotalEntries    int64 `db:"total_entries"`
		UniqueUsers     int64 `db:"unique_users"`
		UniqueActions   int64 `db:"unique_actions"`
		UniqueResources int64 `db:"unique_resources"`
	}

	totals, err := collectFirst[totalsRow](ctx, r.exec, `
		SELECT
			COUNT(*) AS total_entries,
			COUNT(DISTINCT user_id) AS unique_users,
			COUNT(DISTINCT action) AS unique_actions,
			COUNT(DISTINCT resource_type) AS unique_resources
		FROM audit_logs
		WHERE created_at >= $1`,
		[]any{since})
	if err != nil {
		return nil, err
	}

	stats := &AuditStats{}
	if totals != nil {
		stats.TotalEntries = totals.TotalEntries
		stats.UniqueUsers = totals.UniqueUsers
		stats.UniqueActions = totals.UniqueActions
		stats.UniqueResources = totals.UniqueResources
	}

	stats.ActionCounts, err = collectMany[NameCount](ctx, r.exec, `
		SELECT action AS name, COUNT(*) AS count
		FROM audit_logs
		WHERE created_at >= $1
		GROUP BY action
		ORDER BY count DESC, name ASC`,
		[]any{since})
	if err != nil {
		return nil, err
	}

	stats.ResourceCounts, err = collectMany[NameCount](ctx, r.exec, `
		SELECT resource_type AS name, COUNT(*) AS count
		FROM audit_logs
		WHERE created_at >= $1
		GROUP BY resource_type
		ORDER BY count DESC, name ASC`,
		[]any{since})
	if err != nil {
		return nil, err
	}

	return stats, nil
}

// ActivityBucket is one cell of a user's activity breakdown: how many
// times they performed one action on one resource type on one day.
type ActivityBucket struct {
	Action       string    `db:"action"`
	ResourceType string    `db:"resource_type"`
	Day          time.Time `db:"day"`
	Count        int64     `db:"count"`
}

// GetUserActivitySummary breaks one user's activity down by action,
// resource type, and day over a trailing window of days.
func (r *AuditLogRepository) GetUserActivitySummary(ctx context.Context, userID string, days int) ([]ActivityBucket, error) {
	if days < 1 {
		return nil, dberr.New(dberr.Validation, "days must be at least 1")
	}
	since := time.Now().UTC().AddDate(0, 0, -days)
	return collectMany[ActivityBucket](ctx, r.exec, `
		SELECT
			action,
			resource_type,
			DATE_TRUNC('day', created_at) AS day,
			COUNT(*) AS count
		FROM audit_logs
		WHERE user_id = $1 AND created_at >= $2
		GROUP BY action, resource_type, day
		ORDER BY day DESC, count DESC`,
		[]any{userID, since})
}

// recentFirst assembles the common newest-first option set with an
// optional row cap.
func recentFirst(limit int, conds ...sqlbuilder.Condition) sqlbuilder.Options {
	opts := sqlbuilder.Options{
		Conditions: conds,
		OrderBy:    []sqlbuilder.Order{{Column: "created_at", Desc: true}},
	}
	if limit > 0 {
		opts.Limit = &limit
	}
	return opts
}
