// Package record defines the persisted entity shapes shared by the
// repositories, plus the enumerations and shape checks that guard them.
//
// Every persisted entity embeds Base, the common {id, created_at,
// updated_at} triple. The `db:"..."` tags drive pgx row-to-struct
// scanning, so field tags must match the column lists the repositories
// select.
package record

import (
	"encoding/json"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// Base is the common shape of all persisted records. ID is assigned at
// creation and immutable; CreatedAt is set once; UpdatedAt is bumped on
// every successful mutation and never moves backwards for a given id.
type Base struct {
	ID        string    `db:"id"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

// GetID returns the record's opaque identifier.
func (b *Base) GetID() string { return b.ID }

// StampNew assigns a fresh id and creation timestamps. At creation
// created_at equals updated_at.
func (b *Base) StampNew(now time.Time) {
	b.ID = uuid.NewString()
	b.CreatedAt = now
	b.UpdatedAt = now
}

// Stampable is the constraint generic repositories place on record
// pointers: anything embedding *Base satisfies it.
type Stampable interface {
	GetID() string
	StampNew(now time.Time)
}

// UserStatus is the closed set of account states.
type UserStatus string

const (
	StatusActive    UserStatus = "active"
	StatusInactive  UserStatus = "inactive"
	StatusSuspended UserStatus = "suspended"
)

func (s UserStatus) Valid() bool {
	switch s {
	case StatusActive, StatusInactive, StatusSuspended:
		return true
	}
	return false
}

// UserRole is the closed set of authorization roles.
type UserRole string

const (
	RoleUser      UserRole = "USER"
	RoleAdmin     UserRole = "ADMIN"
	RoleModerator UserRole = "MODERATOR"
)

func (r UserRole) Valid() bool {
	switch r {
	case RoleUser, RoleAdmin, RoleModerator:
		return true
	}
	return false
}

// AuthProvider is the closed set of identity providers.
type AuthProvider string

const (
	ProviderEmail  AuthProvider = "email"
	ProviderGoogle AuthProvider = "google"
	ProviderGithub AuthProvider = "github"
)

func (p AuthProvider) Valid() bool {
	switch p {
	case ProviderEmail, ProviderGoogle, ProviderGithub:
		return true
	}
	return false
}

// User is an account row. Metadata is an opaque serialized map owned by
// callers; this layer stores and returns it without interpreting it.
type User struct {
	Base
	Email         string       `db:"email"`
	Name          string       `db:"name"`
	Picture       *string      `db:"picture"`
	VerifiedEmail bool         `db:"verified_email"`
	LastLoginAt   *time.Time   `db:"last_login_at"`
	Status        UserStatus   `db:"status"`
	Role          UserRole     `db:"role"`
	Provider      AuthProvider `db:"provider"`
	Metadata      []byte       `db:"metadata"`
	DeletedAt     *time.Time   `db:"deleted_at"`
}

// ParseMetadata decodes the metadata blob. A missing or malformed blob
// yields nil rather than an error; metadata is advisory, never load-bearing.
func (u *User) ParseMetadata() map[string]any {
	if len(u.Metadata) == 0 {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(u.Metadata, &m); err != nil {
		return nil
	}
	return m
}

// Session is a login session row referencing its user by id.
type Session struct {
	Base
	UserID    string    `db:"user_id"`
	TokenHash string    `db:"token_hash"`
	ExpiresAt time.Time `db:"expires_at"`
	IPAddress *string   `db:"ip_address"`
	UserAgent *string   `db:"user_agent"`
	IsActive  bool      `db:"is_active"`
}

// Live reports whether the session is active and unexpired at now.
func (s *Session) Live(now time.Time) bool {
	return s.IsActive && s.ExpiresAt.After(now)
}

// AuditLog is an append-only activity row. Rows are never updated in
// place; retention cleanup deletes them in bulk by age.
type AuditLog struct {
	Base
	UserID       *string `db:"user_id"`
	Action       string  `db:"action"`
	ResourceType string  `db:"resource_type"`
	ResourceID   *string `db:"resource_id"`
	OldValues    []byte  `db:"old_values"`
	NewValues    []byte  `db:"new_values"`
	IPAddress    *string `db:"ip_address"`
	UserAgent    *string `db:"user_agent"`
}

// Migration is a row in the migrations ledger, write-once per
// migration_id.
type Migration struct {
	Base
	MigrationID string    `db:"migration_id"`
	Name        string    `db:"name"`
	ExecutedAt  time.Time `db:"executed_at"`
	Checksum    string    `db:"checksum"`
}

var validate = validator.New()

// ValidEmail reports whether s has a plausible email shape. Used as the
// fail-fast check before email lookups hit the store.
func ValidEmail(s string) bool {
	return validate.Var(s, "required,email") == nil
}
