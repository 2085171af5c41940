package repository

import (
	"context"
	"strings"
	"time"

	"github.com/solenoid-labs/storekit/internal/record"
	"github.com/solenoid-labs/storekit/internal/sqlbuilder"
)

// Detection thresholds for GetSuspiciousActivity. Fixed constants; they
// could be lifted into config without changing semantics.
const (
	// failedLoginThreshold flags an IP with this many failed logins
	// inside failedLoginWindow.
	failedLoginThreshold = 5
	failedLoginWindow    = time.Hour

	// An IP is unusual when it produced at least ipDistinctActions
	// distinct action types AND at least ipTotalRows rows inside
	// ipActivityWindow.
	ipDistinctActions = 5
	ipTotalRows       = 20
	ipActivityWindow  = 24 * time.Hour

	// rapidActionThreshold flags a user generating this many rows inside
	// rapidActionWindow.
	rapidActionThreshold = 50
	rapidActionWindow    = time.Hour
)

// securityActions is the fixed allow-list of security-relevant action
// names GetSecurityLogs filters to.
var securityActions = []any{
	"login", "login_failed", "logout",
	"password_changed", "password_reset_requested",
	"session_created", "session_revoked",
	"user_suspended", "user_activated", "user_deactivated",
	"role_changed", "email_changed",
}

// GetSecurityLogs returns recent rows whose action is on the security
// allow-list, newest first.
func (r *AuditLogRepository) GetSecurityLogs(ctx context.Context, limit int) ([]record.AuditLog, error) {
	return r.FindMany(ctx, recentFirst(limit,
		sqlbuilder.Condition{Column: "action", Op: sqlbuilder.In, Value: securityActions},
	))
}

// GetFailedLoginAttempts returns every login_failed row from the trailing
// window of hours, most recent first.
func (r *AuditLogRepository) GetFailedLoginAttempts(ctx context.Context, hours int) ([]record.AuditLog, error) {
	if hours < 1 {
		hours = 1
	}
	since := time.Now().Add(-time.Duration(hours) * time.Hour)
	return r.FindMany(ctx, sqlbuilder.Options{
		Conditions: []sqlbuilder.Condition{
			{Column: "action", Op: sqlbuilder.Eq, Value: "login_failed"},
			{Column: "created_at", Op: sqlbuilder.Gte, Value: since},
		},
		OrderBy: []sqlbuilder.Order{{Column: "created_at", Desc: true}},
	})
}

// IPActivity is one source address flagged by the fan-out detector.
type IPActivity struct {
	IPAddress       string `db:"ip_address"`
	DistinctActions int64  `db:"distinct_actions"`
	TotalRows       int64  `db:"total_rows"`
}

// SuspiciousActivity bundles the three independent detections.
type SuspiciousActivity struct {
	// FailedLogins holds every failed-login row from the last hour whose
	// source IP crossed the brute-force threshold in that hour.
	FailedLogins []record.AuditLog

	// UnusualIPs holds addresses with unusually wide and heavy activity
	// over the last 24 hours.
	UnusualIPs []IPActivity

	// RapidActions holds every row from the last hour belonging to a
	// user who crossed the burst threshold in that hour.
	RapidActions []record.AuditLog
}

// GetSuspiciousActivity runs the three detections over their trailing
// windows. The detections are independent; one row can appear in more
// than one of them.
func (r *AuditLogRepository) GetSuspiciousActivity(ctx context.Context) (*SuspiciousActivity, error) {
	out := &SuspiciousActivity{}
	now := time.Now()
	cols := strings.Join(auditLogColumns, ", ")

	// Brute force: failed logins from IPs that crossed the threshold
	// within the window. All rows of a flagged IP are reported, so the
	// full burst is visible, not just the overflow.
	var err error
	out.FailedLogins, err = collectMany[record.AuditLog](ctx, r.exec, `
		SELECT `+cols+` FROM audit_logs
		WHERE action = 'login_failed'
		  AND created_at >= $1
		  AND ip_address IN (
			SELECT ip_address FROM audit_logs
			WHERE action = 'login_failed' AND created_at >= $1 AND ip_address IS NOT NULL
			GROUP BY ip_address
			HAVING COUNT(*) >= $2
		  )
		ORDER BY created_at DESC`,
		[]any{now.Add(-failedLoginWindow), failedLoginThreshold})
	if err != nil {
		return nil, err
	}

	// IP fan-out: wide (many action types) and heavy (many rows)
	// activity from a single address.
	out.UnusualIPs, err = collectMany[IPActivity](ctx, r.exec, `
		SELECT
			ip_address,
			COUNT(DISTINCT action) AS distinct_actions,
			COUNT(*) AS total_rows
		FROM audit_logs
		WHERE created_at >= $1 AND ip_address IS NOT NULL
		GROUP BY ip_address
		HAVING COUNT(DISTINCT action) >= $2 AND COUNT(*) >= $3
		ORDER BY total_rows DESC`,
		[]any{now.Add(-ipActivityWindow), ipDistinctActions, ipTotalRows})
	if err != nil {
		return nil, err
	}

	// Burst activity: every row of any user who crossed the per-hour
	// threshold.
	out.RapidActions, err = collectMany[record.AuditLog](ctx, r.exec, `
		SELECT `+cols+` FROM audit_logs
		WHERE created_at >= $1
		  AND user_id IN (
			SELECT user_id FROM audit_logs
			WHERE created_at >= $1 AND user_id IS NOT NULL
			GROUP BY user_id
			HAVING COUNT(*) >= $2
		  )
		ORDER BY created_at DESC`,
		[]any{now.Add(-rapidActionWindow), rapidActionThreshold})
	if err != nil {
		return nil, err
	}

	return out, nil
}
