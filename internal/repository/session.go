package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/solenoid-labs/storekit/internal/dberr"
	"github.com/solenoid-labs/storekit/internal/executor"
	"github.com/solenoid-labs/storekit/internal/record"
	"github.com/solenoid-labs/storekit/internal/sqlbuilder"
)

var sessionColumns = []string{
	"id", "created_at", "updated_at",
	"user_id", "token_hash", "expires_at", "ip_address", "user_agent", "is_active",
}

func sessionValues(s *record.Session) []any {
	return []any{
		s.ID, s.CreatedAt, s.UpdatedAt,
		s.UserID, s.TokenHash, s.ExpiresAt, s.IPAddress, s.UserAgent, s.IsActive,
	}
}

// SessionRepository provides typed access to the sessions table.
type SessionRepository struct {
	*table[record.Session, *record.Session]
}

// NewSessionRepository builds a session repository over the shared
// executor.
func NewSessionRepository(exec *executor.Executor, log *zerolog.Logger) *SessionRepository {
	return &SessionRepository{
		table: newTable[record.Session](exec, log, "sessions", sessionColumns, sessionValues),
	}
}

// CreateSession validates and inserts a new session. Duplicate token
// hashes are rejected at this layer via a pre-check lookup, backed by the
// unique index on sessions.token_hash.
func (r *SessionRepository) CreateSession(ctx context.Context, session *record.Session) (*record.Session, error) {
	if session.UserID == "" {
		return nil, dberr.New(dberr.Validation, "session user_id must not be empty")
	}
	if session.TokenHash == "" {
		return nil, dberr.New(dberr.Validation, "session token_hash must not be empty")
	}
	if session.ExpiresAt.IsZero() || !session.ExpiresAt.After(time.Now()) {
		return nil, dberr.New(dberr.Validation, "session expires_at must be in the future")
	}
	session.IsActive = true

	existing, err := r.FindByTokenHash(ctx, session.TokenHash)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, dberr.New(dberr.UniqueConstraint, "a session with this token already exists").
			WithCode("SESSION_ALREADY_EXISTS")
	}

	return r.table.Create(ctx, session)
}

// FindByTokenHash returns the session holding the given token hash, or
// nil.
func (r *SessionRepository) FindByTokenHash(ctx context.Context, tokenHash string) (*record.Session, error) {
	if tokenHash == "" {
		return nil, dberr.New(dberr.Validation, "token_hash must not be empty")
	}
	return r.FindOneBy(ctx, "token_hash", tokenHash)
}

// FindActiveSessionsForUser returns every live session for a user, newest
// first. Live means active and unexpired.
func (r *SessionRepository) FindActiveSessionsForUser(ctx context.Context, userID string) ([]record.Session, error) {
	return r.FindMany(ctx, sqlbuilder.Options{
		Conditions: []sqlbuilder.Condition{
			{Column: "user_id", Op: sqlbuilder.Eq, Value: userID},
			{Column: "is_active", Op: sqlbuilder.Eq, Value: true},
			{Column: "expires_at", Op: sqlbuilder.Gt, Value: time.Now()},
		},
		OrderBy: []sqlbuilder.Order{{Column: "created_at", Desc: true}},
	})
}

// ValidateSession resolves a token hash to its live session, or nil when
// the token is unknown, inactive, or expired.
func (r *SessionRepository) ValidateSession(ctx context.Context, tokenHash string) (*record.Session, error) {
	if tokenHash == "" {
		return nil, dberr.New(dberr.Validation, "token_hash must not be empty")
	}
	return r.FindOne(ctx, sqlbuilder.Options{
		Conditions: []sqlbuilder.Condition{
			{Column: "token_hash", Op: sqlbuilder.Eq, Value: tokenHash},
			{Column: "is_active", Op: sqlbuilder.Eq, Value: true},
			{Column: "expires_at", Op: sqlbuilder.Gt, Value: time.Now()},
		},
	})
}

// DeactivateSession marks one session inactive. A missing session raises
// NotFound.
func (r *SessionRepository) DeactivateSession(ctx context.Context, id string) error {
	_, err := r.table.Update(ctx, id, map[string]any{"is_active": false})
	return err
}

// DeactivateSessionsForUser marks every active session of a user inactive
// and reports how many were affected. Used on password change and
// account suspension.
func (r *SessionRepository) DeactivateSessionsForUser(ctx context.Context, userID string) (int64, error) {
	return r.exec.Exec(ctx, `
		UPDATE sessions SET is_active = FALSE, updated_at = $1
		WHERE user_id = $2 AND is_active`,
		time.Now().UTC(), userID,
	)
}

// ExtendSession pushes an active session's expiry out to now+d and
// returns the updated session. Extending an inactive or unknown session
// raises NotFound.
func (r *SessionRepository) ExtendSession(ctx context.Context, id string, d time.Duration) (*record.Session, error) {
	if d <= 0 {
		return nil, dberr.New(dberr.Validation, "extension must be positive")
	}

	now := time.Now().UTC()
	sql := fmt.Sprintf(`
		UPDATE sessions SET expires_at = $1, updated_at = $2
		WHERE id = $3 AND is_active
		RETURNING %s`,
		strings.Join(sessionColumns, ", "))

	updated, err := collectFirst[record.Session](ctx, r.exec, sql, []any{now.Add(d), now, id})
	if err != nil {
		return nil, err
	}
	if updated == nil {
		return nil, dberr.Newf(dberr.NotFound, "active session %s not found", id)
	}
	return updated, nil
}

// CleanupExpiredSessions hard-deletes every expired or inactive session
// and reports how many rows were removed.
func (r *SessionRepository) CleanupExpiredSessions(ctx context.Context) (int64, error) {
	return r.exec.Exec(ctx,
		`DELETE FROM sessions WHERE expires_at <= $1 OR NOT is_active`,
		time.Now().UTC(),
	)
}

// GetConcurrentSessions returns a user's live sessions whose
// [created_at, expires_at] windows overlap at least one other live
// session of the same user. Two overlapping sessions both appear in the
// result.
func (r *SessionRepository) GetConcurrentSessions(ctx context.Context, userID string) ([]record.Session, error) {
	cols := make([]string, len(sessionColumns))
	for i, c := range sessionColumns {
		cols[i] = "s." + c
	}
	sql := fmt.Sprintf(`
		SELECT DISTINCT %s FROM sessions s
		JOIN sessions other
		  ON other.user_id = s.user_id
		 AND other.id != s.id
		 AND other.is_active
		 AND other.expires_at > $2
		 AND s.created_at < other.expires_at
		 AND other.created_at < s.expires_at
		WHERE s.user_id = $1 AND s.is_active AND s.expires_at > $2
		ORDER BY s.created_at ASC`,
		strings.Join(cols, ", "))
	return collectMany[record.Session](ctx, r.exec, sql, []any{userID, time.Now()})
}

// GetExpiringSessions returns live sessions expiring within the next
// hoursFromNow hours, soonest first.
func (r *SessionRepository) GetExpiringSessions(ctx context.Context, hoursFromNow int) ([]record.Session, error) {
	if hoursFromNow <= 0 {
		return nil, dberr.New(dberr.Validation, "hoursFromNow must be positive")
	}
	now := time.Now()
	return r.FindMany(ctx, sqlbuilder.Options{
		Conditions: []sqlbuilder.Condition{
			{Column: "is_active", Op: sqlbuilder.Eq, Value: true},
			{Column: "expires_at", Op: sqlbuilder.Gt, Value: now},
			{Column: "expires_at", Op: sqlbuilder.Lte, Value: now.Add(time.Duration(hoursFromNow) * time.Hour)},
		},
		OrderBy: []sqlbuilder.Order{{Column: "expires_at"}},
	})
}
