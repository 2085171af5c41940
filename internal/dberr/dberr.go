// Package dberr defines the closed set of error kinds the data layer
// surfaces to its callers.
//
// Repository and executor methods never leak raw driver errors. Every
// failure is wrapped into an *Error carrying one of the Kind values below,
// so upstream layers can switch on a small, stable taxonomy instead of
// parsing SQLSTATE strings.
package dberr

import (
	"errors"
	"fmt"
	"time"
)

// Kind categorizes a data-layer failure.
type Kind int

const (
	// Other is the fallback for failures that fit no narrower kind.
	Other Kind = iota

	// Transient marks store errors worth retrying: connection drops,
	// serialization failures, deadlocks. The executor retries these
	// automatically; everything else fails on the first attempt.
	Transient

	// Validation marks malformed input rejected before or without a
	// round-trip: bad email shape, unknown role/status/provider, a
	// non-slice value handed to an IN/NOT IN predicate.
	Validation

	// NotFound marks an update/restore/read whose target row is missing.
	NotFound

	// UniqueConstraint marks a duplicate-key rejection, either from the
	// repository pre-check (duplicate email) or from the store's unique
	// index.
	UniqueConstraint

	// Migration marks a failed or unsupported schema-migration operation.
	Migration

	// ChecksumMismatch signals that a migration's recorded checksum no
	// longer matches its current source. Drift signal only; never
	// auto-corrected.
	ChecksumMismatch
)

func (k Kind) String() string {
	switch k {
	case Transient:
		return "TRANSIENT"
	case Validation:
		return "VALIDATION"
	case NotFound:
		return "NOT_FOUND"
	case UniqueConstraint:
		return "UNIQUE_CONSTRAINT"
	case Migration:
		return "MIGRATION"
	case ChecksumMismatch:
		return "CHECKSUM_MISMATCH"
	default:
		return "OTHER"
	}
}

// Error is the concrete error type for the whole data layer.
//
// Code is a machine-oriented identifier in the DOMAIN_ACTION convention
// (e.g. USER_ALREADY_EXISTS); Message is safe for humans. The wrapped
// cause, if any, is reachable through errors.Unwrap for logging.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// New builds an *Error with no underlying cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Code: kind.String(), Message: message}
}

// Newf is New with fmt.Sprintf formatting.
func Newf(kind Kind, format string, args ...any) *Error {
	return New(kind, fmt.Sprintf(format, args...))
}

// Wrap builds an *Error around an underlying cause.
func Wrap(kind Kind, cause error, message string) *Error {
	return &Error{Kind: kind, Code: kind.String(), Message: message, cause: cause}
}

// WithCode overrides the machine code, e.g. USER_ALREADY_EXISTS instead of
// the generic UNIQUE_CONSTRAINT.
func (e *Error) WithCode(code string) *Error {
	e.Code = code
	return e
}

// KindOf reports the Kind of err, unwrapping as needed. Errors that never
// passed through this package report Other.
func KindOf(err error) Kind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return Other
}

// IsNotFound reports whether err is a NotFound data-layer error.
func IsNotFound(err error) bool { return KindOf(err) == NotFound }

// QueryError is raised by the executor when an attempt budget is exhausted
// or a statement fails terminally. It carries the failing SQL and its bound
// parameters (never secrets; nothing above this layer hands plaintext
// credentials to a query) plus attempt accounting for diagnosis.
type QueryError struct {
	SQL      string
	Args     []any
	Attempts int
	Elapsed  time.Duration
	cause    error
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("query failed after %d attempt(s) in %s: %v (sql: %s)",
		e.Attempts, e.Elapsed, e.cause, e.SQL)
}

func (e *QueryError) Unwrap() error { return e.cause }

// NewQueryError wraps the last underlying failure of a statement.
func NewQueryError(sql string, args []any, attempts int, elapsed time.Duration, cause error) *QueryError {
	return &QueryError{SQL: sql, Args: args, Attempts: attempts, Elapsed: elapsed, cause: cause}
}
