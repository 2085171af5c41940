package storekit

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solenoid-labs/storekit/internal/config"
	"github.com/solenoid-labs/storekit/internal/executor"
	"github.com/solenoid-labs/storekit/internal/repository"
)

// sweepStore records every DELETE the retention sweep issues.
type sweepStore struct {
	statements []string
}

func (s *sweepStore) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	s.statements = append(s.statements, sql)
	return pgconn.NewCommandTag("DELETE 2"), nil
}

func (s *sweepStore) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	panic("sweepStore.Query: not scripted")
}

func (s *sweepStore) SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults {
	panic("sweepStore.SendBatch: not scripted")
}

func (s *sweepStore) Begin(ctx context.Context) (pgx.Tx, error) {
	panic("sweepStore.Begin: not scripted")
}

func sweepClient(store *sweepStore) *Client {
	log := zerolog.Nop()
	exec := executor.New(store, config.ExecutorConfig{MaxRetries: 1}, &log)
	return &Client{
		Exec:      exec,
		Repos:     repository.NewRegistry(exec, &log),
		retention: config.RetentionConfig{AuditLogDays: 90, SessionSweepHours: 24},
		log:       log,
	}
}

func TestSweep_EnforcesRetention(t *testing.T) {
	store := &sweepStore{}
	c := sweepClient(store)

	require.NoError(t, c.Sweep(context.Background()))

	require.Len(t, store.statements, 2)
	assert.True(t, strings.Contains(store.statements[0], "audit_logs"), "first pass sweeps audit rows")
	assert.True(t, strings.Contains(store.statements[1], "sessions"), "second pass sweeps sessions")
}

func TestSweepInterval_FollowsConfig(t *testing.T) {
	c := sweepClient(&sweepStore{})

	assert.Equal(t, 24*time.Hour, c.SweepInterval())
}
