package repository

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/solenoid-labs/storekit/internal/executor"
	"github.com/solenoid-labs/storekit/internal/sqlbuilder"
)

// Registry lazily constructs and caches one instance of each repository,
// all sharing the same executor. Accessors are safe for concurrent use.
type Registry struct {
	exec *executor.Executor
	log  *zerolog.Logger

	usersOnce sync.Once
	users     *UserRepository

	sessionsOnce sync.Once
	sessions     *SessionRepository

	auditOnce sync.Once
	audit     *AuditLogRepository
}

// NewRegistry builds a registry over the shared executor.
func NewRegistry(exec *executor.Executor, log *zerolog.Logger) *Registry {
	return &Registry{exec: exec, log: log}
}

// Users returns the memoized user repository.
func (r *Registry) Users() *UserRepository {
	r.usersOnce.Do(func() {
		r.users = NewUserRepository(r.exec, r.log)
	})
	return r.users
}

// Sessions returns the memoized session repository.
func (r *Registry) Sessions() *SessionRepository {
	r.sessionsOnce.Do(func() {
		r.sessions = NewSessionRepository(r.exec, r.log)
	})
	return r.sessions
}

// AuditLogs returns the memoized audit-log repository.
func (r *Registry) AuditLogs() *AuditLogRepository {
	r.auditOnce.Do(func() {
		r.audit = NewAuditLogRepository(r.exec, r.log)
	})
	return r.audit
}

// prober is the slice of a repository the health check needs.
type prober interface {
	Count(ctx context.Context, conds []sqlbuilder.Condition) (int64, error)
}

// All returns every repository keyed by name, instantiating any that have
// not been used yet.
func (r *Registry) All() map[string]any {
	return map[string]any{
		"users":      r.Users(),
		"sessions":   r.Sessions(),
		"audit_logs": r.AuditLogs(),
	}
}

// Health status values.
const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// RepoHealth is the probe outcome for one repository.
type RepoHealth struct {
	Healthy bool
	Error   string
}

// Health aggregates per-repository probe results. Status is healthy when
// every probe passed, degraded when some failed, unhealthy when all did.
type Health struct {
	Status       string
	Repositories map[string]RepoHealth
}

// HealthCheck runs a cheap count against each repository's table.
func (r *Registry) HealthCheck(ctx context.Context) Health {
	probes := map[string]prober{
		"users":      r.Users(),
		"sessions":   r.Sessions(),
		"audit_logs": r.AuditLogs(),
	}

	health := Health{Repositories: make(map[string]RepoHealth, len(probes))}
	failed := 0
	for name, repo := range probes {
		if _, err := repo.Count(ctx, nil); err != nil {
			failed++
			health.Repositories[name] = RepoHealth{Healthy: false, Error: err.Error()}
			r.log.Warn().Err(err).Str("repository", name).Msg("repository health probe failed")
			continue
		}
		health.Repositories[name] = RepoHealth{Healthy: true}
	}

	switch failed {
	case 0:
		health.Status = StatusHealthy
	case len(probes):
		health.Status = StatusUnhealthy
	default:
		health.Status = StatusDegraded
	}
	return health
}
