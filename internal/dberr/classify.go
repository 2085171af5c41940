package dberr

import (
	"context"
	"errors"
	"io"
	"net"
	"regexp"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// SQLSTATE codes this layer cares about. Everything else falls through to
// Other (or Transient for whole classes, matched by prefix).
const (
	stateUniqueViolation     = "23505"
	stateForeignKeyViolation = "23503"
	stateNotNullViolation    = "23502"
	stateCheckViolation      = "23514"
	stateSerializationFail   = "40001"
	stateDeadlockDetected    = "40P01"
	stateAdminShutdown       = "57P01"
	stateCrashShutdown       = "57P02"
	stateCannotConnectNow    = "57P03"
	classConnectionException = "08"
)

// IsTransient reports whether err is worth retrying: connection-class
// failures, serialization conflicts, deadlocks, and plain network errors
// from the dialer. Context cancellation is never transient; retrying a
// canceled call only delays the caller.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var de *Error
	if errors.As(err, &de) {
		return de.Kind == Transient
	}

	var pgerr *pgconn.PgError
	if errors.As(err, &pgerr) {
		switch pgerr.Code {
		case stateSerializationFail, stateDeadlockDetected,
			stateAdminShutdown, stateCrashShutdown, stateCannotConnectNow:
			return true
		}
		return strings.HasPrefix(pgerr.Code, classConnectionException)
	}

	// Dial and socket failures surface as net errors or abrupt EOFs
	// before any PgError exists.
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return errors.Is(err, io.ErrUnexpectedEOF)
}

// Classify converts a raw store error into the data-layer taxonomy.
//
// Behavior:
//   - *Error passes through unchanged (no double wrapping)
//   - pgconn.PgError maps by SQLSTATE, with a humanized message and a
//     DOMAIN_ACTION machine code derived from the violated table
//   - pgx.ErrNoRows maps to NotFound
//   - transient network/connection failures map to Transient
//   - anything else maps to Other
func Classify(err error) error {
	if err == nil {
		return nil
	}

	var de *Error
	if errors.As(err, &de) {
		return err
	}

	var pgerr *pgconn.PgError
	if errors.As(err, &pgerr) {
		return classifyPgError(pgerr)
	}

	if errors.Is(err, pgx.ErrNoRows) {
		return Wrap(NotFound, err, "record not found")
	}

	if IsTransient(err) {
		return Wrap(Transient, err, "store unavailable")
	}

	return Wrap(Other, err, "store error")
}

func classifyPgError(pgerr *pgconn.PgError) *Error {
	switch pgerr.Code {
	case stateUniqueViolation:
		msg := friendlyUniqueMessage(pgerr)
		return Wrap(UniqueConstraint, pgerr, msg).
			WithCode(machineCode(pgerr.TableName, "ALREADY_EXISTS"))

	case stateForeignKeyViolation:
		entity := entityName(pgerr.TableName, pgerr.ColumnName)
		return Wrap(Validation, pgerr, "the referenced "+entity+" does not exist").
			WithCode(machineCode(pgerr.TableName, "NOT_FOUND"))

	case stateNotNullViolation:
		field := humanize(pgerr.ColumnName)
		if field == "" {
			field = "field"
		}
		return Wrap(Validation, pgerr, "the "+field+" is required").
			WithCode(machineCode(pgerr.TableName, "REQUIRED"))

	case stateCheckViolation:
		return Wrap(Validation, pgerr, "one or more values do not meet required conditions").
			WithCode(machineCode(pgerr.TableName, "INVALID"))
	}

	if IsTransient(pgerr) {
		return Wrap(Transient, pgerr, "store unavailable")
	}
	return Wrap(Other, pgerr, "store error")
}

// machineCode builds codes like USER_ALREADY_EXISTS from a table name and
// an action suffix. The singularization is naive (strip a trailing S),
// which covers this schema's tables.
func machineCode(tableName, action string) string {
	if tableName == "" {
		tableName = "RECORD"
	}
	domain := strings.ToUpper(tableName)
	if strings.HasSuffix(domain, "S") && len(domain) > 1 {
		domain = domain[:len(domain)-1]
	}
	return domain + "_" + action
}

func friendlyUniqueMessage(pgerr *pgconn.PgError) string {
	entity := entityName(pgerr.TableName, pgerr.ColumnName)
	field := uniqueViolationColumn(pgerr.ConstraintName)
	if field != "" {
		return "a " + entity + " with this " + humanize(field) + " already exists"
	}
	return "a " + entity + " with this identifier already exists"
}

// entityName infers what the error is about. A column like "user_id" is
// the most reliable hint (foreign keys); otherwise fall back to the
// singularized table name.
func entityName(tableName, columnName string) string {
	if columnName != "" && strings.HasSuffix(strings.ToLower(columnName), "_id") {
		return humanize(strings.TrimSuffix(strings.ToLower(columnName), "_id"))
	}
	if tableName != "" {
		entity := tableName
		if strings.HasSuffix(entity, "s") && len(entity) > 1 {
			entity = entity[:len(entity)-1]
		}
		return humanize(entity)
	}
	return "record"
}

var uniqueKeyPattern = regexp.MustCompile(`_([^_]+)_(?:key|ukey)$`)

// uniqueViolationColumn extracts the column from a unique constraint name,
// supporting both the "unique_<table>_<column>" and the Postgres default
// "<table>_<column>_key" conventions.
func uniqueViolationColumn(constraintName string) string {
	if constraintName == "" {
		return ""
	}
	if strings.HasPrefix(constraintName, "unique_") {
		parts := strings.Split(constraintName, "_")
		if len(parts) >= 3 {
			return parts[len(parts)-1]
		}
	}
	if m := uniqueKeyPattern.FindStringSubmatch(constraintName); len(m) > 1 {
		return m[1]
	}
	return ""
}

var titleCaser = cases.Title(language.English)

// humanize turns snake_case identifiers into title-cased prose:
// "token_hash" becomes "Token Hash".
func humanize(text string) string {
	if text == "" {
		return ""
	}
	return titleCaser.String(strings.ReplaceAll(text, "_", " "))
}
