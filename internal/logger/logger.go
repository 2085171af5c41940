// Package logger configures the application's logging.
//
// It uses ZeroLog for structured logging. In the local environment output
// goes through a human-friendly console writer and pgx gains a SQL trace
// logger; elsewhere logs are plain JSON for collection.
package logger

import (
	"os"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/tracelog"
	"github.com/rs/zerolog"
)

// New builds the application logger for the given runtime environment.
//
// Local gets a console writer on STDERR; anything else writes JSON to
// STDOUT. The level can be overridden with STOREKIT_LOG_LEVEL.
func New(env string) zerolog.Logger {
	level := levelFromEnv()

	var logger zerolog.Logger
	if env == "local" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	} else {
		logger = zerolog.New(os.Stdout)
	}

	return logger.Level(level).With().Timestamp().Str("env", env).Logger()
}

func levelFromEnv() zerolog.Level {
	raw := strings.ToLower(os.Getenv("STOREKIT_LOG_LEVEL"))
	if raw == "" {
		return zerolog.InfoLevel
	}
	level, err := zerolog.ParseLevel(raw)
	if err != nil {
		return zerolog.InfoLevel
	}
	return level
}

// NewPgxLogger derives a logger dedicated to pgx SQL tracing output.
func NewPgxLogger(level zerolog.Level) zerolog.Logger {
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
		Level(level).
		With().Timestamp().Str("component", "pgx").Logger()
}

// PgxTraceLogLevel maps a zerolog level onto pgx's tracelog levels so the
// SQL tracer honors the app-wide verbosity.
func PgxTraceLogLevel(level zerolog.Level) tracelog.LogLevel {
	switch level {
	case zerolog.TraceLevel:
		return tracelog.LogLevelTrace
	case zerolog.DebugLevel:
		return tracelog.LogLevelDebug
	case zerolog.InfoLevel:
		return tracelog.LogLevelInfo
	case zerolog.WarnLevel:
		return tracelog.LogLevelWarn
	case zerolog.ErrorLevel, zerolog.FatalLevel, zerolog.PanicLevel:
		return tracelog.LogLevelError
	default:
		return tracelog.LogLevelNone
	}
}
