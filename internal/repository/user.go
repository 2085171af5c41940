package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/solenoid-labs/storekit/internal/dberr"
	"github.com/solenoid-labs/storekit/internal/executor"
	"github.com/solenoid-labs/storekit/internal/record"
	"github.com/solenoid-labs/storekit/internal/sqlbuilder"
)

// searchResultCap bounds SearchUsers result sizes regardless of what the
// caller asks for.
const searchResultCap = 50

var userColumns = []string{
	"id", "created_at", "updated_at",
	"email", "name", "picture", "verified_email", "last_login_at",
	"status", "role", "provider", "metadata", "deleted_at",
}

func userValues(u *record.User) []any {
	return []any{
		u.ID, u.CreatedAt, u.UpdatedAt,
		u.Email, u.Name, u.Picture, u.VerifiedEmail, u.LastLoginAt,
		u.Status, u.Role, u.Provider, u.Metadata, u.DeletedAt,
	}
}

// UserRepository provides typed access to the users table.
type UserRepository struct {
	*table[record.User, *record.User]
}

// NewUserRepository builds a user repository over the shared executor.
func NewUserRepository(exec *executor.Executor, log *zerolog.Logger) *UserRepository {
	return &UserRepository{
		table: newTable[record.User](exec, log, "users", userColumns, userValues),
	}
}

// Create validates and inserts a new user. Enumerations left empty receive
// their defaults (active USER via email). A duplicate email is rejected by
// a pre-check lookup; the narrow race between check and insert is a known
// limitation, backstopped by the unique index on users.email.
func (r *UserRepository) Create(ctx context.Context, user *record.User) (*record.User, error) {
	applyUserDefaults(user)
	if err := validateUser(user.Email, user.Name, user.Status, user.Role, user.Provider); err != nil {
		return nil, err
	}

	existing, err := r.FindByEmail(ctx, user.Email)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, dberr.Newf(dberr.UniqueConstraint, "a user with email %s already exists", user.Email).
			WithCode("USER_ALREADY_EXISTS")
	}

	return r.table.Create(ctx, user)
}

// Update applies a partial change set, re-validating any enumeration or
// email change. Changing the email re-runs the duplicate pre-check against
// other users.
func (r *UserRepository) Update(ctx context.Context, id string, changes map[string]any) (*record.User, error) {
	if err := validateUserChanges(changes); err != nil {
		return nil, err
	}

	if raw, ok := changes["email"]; ok {
		email, _ := raw.(string)
		existing, err := r.FindByEmail(ctx, email)
		if err != nil {
			return nil, err
		}
		if existing != nil && existing.ID != id {
			return nil, dberr.Newf(dberr.UniqueConstraint, "a user with email %s already exists", email).
				WithCode("USER_ALREADY_EXISTS")
		}
	}

	return r.table.Update(ctx, id, changes)
}

// FindByEmail looks a user up by email. A malformed email fails fast with
// a Validation error, without a store round-trip.
func (r *UserRepository) FindByEmail(ctx context.Context, email string) (*record.User, error) {
	if !record.ValidEmail(email) {
		return nil, dberr.Newf(dberr.Validation, "invalid email address %q", email)
	}
	return r.FindOneBy(ctx, "email", strings.ToLower(email))
}

// FindByProviderID resolves a user by identity provider and the provider's
// own subject id, which callers store under metadata.provider_id.
func (r *UserRepository) FindByProviderID(ctx context.Context, provider record.AuthProvider, providerID string) (*record.User, error) {
	if !provider.Valid() {
		return nil, dberr.Newf(dberr.Validation, "invalid provider %q", provider)
	}
	sql := fmt.Sprintf(`
		SELECT %s FROM users
		WHERE provider = $1 AND metadata->>'provider_id' = $2`,
		strings.Join(userColumns, ", "))
	return collectFirst[record.User](ctx, r.exec, sql, []any{provider, providerID})
}

// FindByStatus returns all users in the given account state.
func (r *UserRepository) FindByStatus(ctx context.Context, status record.UserStatus) ([]record.User, error) {
	if !status.Valid() {
		return nil, dberr.Newf(dberr.Validation, "invalid status %q", status)
	}
	return r.FindBy(ctx, "status", status)
}

// FindByRole returns all users holding the given role.
func (r *UserRepository) FindByRole(ctx context.Context, role record.UserRole) ([]record.User, error) {
	if !role.Valid() {
		return nil, dberr.Newf(dberr.Validation, "invalid role %q", role)
	}
	return r.FindBy(ctx, "role", role)
}

// FindByProvider returns all users registered through the given provider.
func (r *UserRepository) FindByProvider(ctx context.Context, provider record.AuthProvider) ([]record.User, error) {
	if !provider.Valid() {
		return nil, dberr.Newf(dberr.Validation, "invalid provider %q", provider)
	}
	return r.FindBy(ctx, "provider", provider)
}

// UpdateStatus moves a user to the given account state.
func (r *UserRepository) UpdateStatus(ctx context.Context, id string, status record.UserStatus) (*record.User, error) {
	if !status.Valid() {
		return nil, dberr.Newf(dberr.Validation, "invalid status %q", status)
	}
	return r.table.Update(ctx, id, map[string]any{"status": status})
}

// SuspendUser moves a user to suspended.
func (r *UserRepository) SuspendUser(ctx context.Context, id string) (*record.User, error) {
	return r.UpdateStatus(ctx, id, record.StatusSuspended)
}

// ActivateUser moves a user back to active.
func (r *UserRepository) ActivateUser(ctx context.Context, id string) (*record.User, error) {
	return r.UpdateStatus(ctx, id, record.StatusActive)
}

// DeactivateUser moves a user to inactive.
func (r *UserRepository) DeactivateUser(ctx context.Context, id string) (*record.User, error) {
	return r.UpdateStatus(ctx, id, record.StatusInactive)
}

// UpdateLastLogin stamps last_login_at, typically after a successful
// credential exchange.
func (r *UserRepository) UpdateLastLogin(ctx context.Context, id string) (*record.User, error) {
	return r.table.Update(ctx, id, map[string]any{"last_login_at": time.Now().UTC()})
}

// GetMetadata returns a user's parsed metadata map. A missing user raises
// NotFound; a malformed blob parses to nil, never an error.
func (r *UserRepository) GetMetadata(ctx context.Context, id string) (map[string]any, error) {
	user, err := r.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, dberr.Newf(dberr.NotFound, "user %s not found", id)
	}
	return user.ParseMetadata(), nil
}

// SetMetadata replaces a user's metadata blob.
func (r *UserRepository) SetMetadata(ctx context.Context, id string, metadata map[string]any) (*record.User, error) {
	blob, err := json.Marshal(metadata)
	if err != nil {
		return nil, dberr.Wrap(dberr.Validation, err, "metadata is not serializable")
	}
	return r.table.Update(ctx, id, map[string]any{"metadata": blob})
}

// SearchUsers finds active users whose name or email contains term,
// case-insensitively. Results are capped at searchResultCap.
func (r *UserRepository) SearchUsers(ctx context.Context, term string, limit int) ([]record.User, error) {
	term = strings.TrimSpace(term)
	if term == "" {
		return nil, dberr.New(dberr.Validation, "search term must not be empty")
	}
	if limit <= 0 || limit > searchResultCap {
		limit = searchResultCap
	}

	sql := fmt.Sprintf(`
		SELECT %s FROM users
		WHERE status = $1 AND (name ILIKE $2 OR email ILIKE $2)
		ORDER BY name ASC
		LIMIT $3`,
		strings.Join(userColumns, ", "))
	pattern := "%" + escapeLike(term) + "%"
	return collectMany[record.User](ctx, r.exec, sql, []any{record.StatusActive, pattern, limit})
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// escapeLike escapes ILIKE metacharacters so a search term always matches
// as a literal substring. A bare "%" would otherwise match every row.
func escapeLike(term string) string {
	return likeEscaper.Replace(term)
}

// UserStats aggregates user counts by status and verification flag.
type UserStats struct {
	Total      int64 `db:"total"`
	Active     int64 `db:"active"`
	Inactive   int64 `db:"inactive"`
	Suspended  int64 `db:"suspended"`
	Verified   int64 `db:"verified"`
	Unverified int64 `db:"unverified"`
}

// GetUserStats returns aggregate user counts in a single scan.
func (r *UserRepository) GetUserStats(ctx context.Context) (*UserStats, error) {
	const sql = `
		SELECT
			COUNT(*) AS total,
			COUNT(*) FILTER (WHERE status = 'active') AS active,
			COUNT(*) FILTER (WHERE status = 'inactive') AS inactive,
			COUNT(*) FILTER (WHERE status = 'suspended') AS suspended,
			COUNT(*) FILTER (WHERE verified_email) AS verified,
			COUNT(*) FILTER (WHERE NOT verified_email) AS unverified
		FROM users`
	return collectFirst[UserStats](ctx, r.exec, sql, nil)
}

// CountByStatus is a convenience wrapper over the generic Count.
func (r *UserRepository) CountByStatus(ctx context.Context, status record.UserStatus) (int64, error) {
	if !status.Valid() {
		return 0, dberr.Newf(dberr.Validation, "invalid status %q", status)
	}
	return r.Count(ctx, []sqlbuilder.Condition{
		{Column: "status", Op: sqlbuilder.Eq, Value: status},
	})
}

func applyUserDefaults(u *record.User) {
	u.Email = strings.ToLower(strings.TrimSpace(u.Email))
	u.Name = strings.TrimSpace(u.Name)
	if u.Status == "" {
		u.Status = record.StatusActive
	}
	if u.Role == "" {
		u.Role = record.RoleUser
	}
	if u.Provider == "" {
		u.Provider = record.ProviderEmail
	}
}

func validateUser(email, name string, status record.UserStatus, role record.UserRole, provider record.AuthProvider) error {
	if !record.ValidEmail(email) {
		return dberr.Newf(dberr.Validation, "invalid email address %q", email)
	}
	if name == "" {
		return dberr.New(dberr.Validation, "name must not be empty")
	}
	if !status.Valid() {
		return dberr.Newf(dberr.Validation, "invalid status %q", status)
	}
	if !role.Valid() {
		return dberr.Newf(dberr.Validation, "invalid role %q", role)
	}
	if !provider.Valid() {
		return dberr.Newf(dberr.Validation, "invalid provider %q", provider)
	}
	return nil
}

// validateUserChanges checks the enum-bearing and shape-bearing keys of a
// partial update before it reaches the store.
func validateUserChanges(changes map[string]any) error {
	if raw, ok := changes["email"]; ok {
		email, _ := raw.(string)
		if !record.ValidEmail(email) {
			return dberr.Newf(dberr.Validation, "invalid email address %q", email)
		}
		changes["email"] = strings.ToLower(strings.TrimSpace(email))
	}
	if raw, ok := changes["name"]; ok {
		name, _ := raw.(string)
		if strings.TrimSpace(name) == "" {
			return dberr.New(dberr.Validation, "name must not be empty")
		}
	}
	if raw, ok := changes["status"]; ok {
		if status, _ := raw.(record.UserStatus); !status.Valid() {
			return dberr.Newf(dberr.Validation, "invalid status %q", raw)
		}
	}
	if raw, ok := changes["role"]; ok {
		if role, _ := raw.(record.UserRole); !role.Valid() {
			return dberr.Newf(dberr.Validation, "invalid role %q", raw)
		}
	}
	if raw, ok := changes["provider"]; ok {
		if provider, _ := raw.(record.AuthProvider); !provider.Valid() {
			return dberr.Newf(dberr.Validation, "invalid provider %q", raw)
		}
	}
	return nil
}
