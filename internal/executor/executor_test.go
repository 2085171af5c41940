package executor

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solenoid-labs/storekit/internal/config"
	"github.com/solenoid-labs/storekit/internal/dberr"
)

// fakeStore scripts Exec/Query/Begin behavior and counts calls. Methods
// not overridden by the script fail the test if reached.
type fakeStore struct {
	execCalls  int
	queryCalls int
	beginCalls int

	execErr   error
	queryErr  error
	execTag   pgconn.CommandTag
	execWait  time.Duration
	batchTags []pgconn.CommandTag

	tx *fakeTx
}

// fakeBatchResults replays a fixed list of command tags.
type fakeBatchResults struct {
	tags []pgconn.CommandTag
	idx  int
}

func (f *fakeBatchResults) Exec() (pgconn.CommandTag, error) {
	tag := f.tags[f.idx]
	f.idx++
	return tag, nil
}

func (f *fakeBatchResults) Query() (pgx.Rows, error) {
	panic("fakeBatchResults.Query: not scripted")
}

func (f *fakeBatchResults) QueryRow() pgx.Row {
	panic("fakeBatchResults.QueryRow: not scripted")
}

func (f *fakeBatchResults) Close() error { return nil }

func (f *fakeStore) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	f.execCalls++
	if f.execWait > 0 {
		time.Sleep(f.execWait)
	}
	if f.execErr != nil {
		return pgconn.CommandTag{}, f.execErr
	}
	return f.execTag, nil
}

func (f *fakeStore) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	f.queryCalls++
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	panic("fakeStore.Query: success path not scripted")
}

func (f *fakeStore) SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults {
	if f.batchTags == nil {
		panic("fakeStore.SendBatch: not scripted")
	}
	return &fakeBatchResults{tags: f.batchTags}
}

func (f *fakeStore) Begin(ctx context.Context) (pgx.Tx, error) {
	f.beginCalls++
	if f.tx == nil {
		panic("fakeStore.Begin: not scripted")
	}
	return f.tx, nil
}

// fakeTx overrides the parts of pgx.Tx the executor touches; anything
// else panics via the embedded nil interface.
type fakeTx struct {
	pgx.Tx

	store      *fakeStore
	committed  bool
	rolledBack bool
}

func (f *fakeTx) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	return f.store.Exec(ctx, sql, args...)
}

func (f *fakeTx) Commit(ctx context.Context) error {
	f.committed = true
	return nil
}

func (f *fakeTx) Rollback(ctx context.Context) error {
	f.rolledBack = true
	return nil
}

func testConfig() config.ExecutorConfig {
	return config.ExecutorConfig{MaxRetries: 3, RetryDelayMS: 1, SlowQueryMS: 5000}
}

func newTestExecutor(store Store, cfg config.ExecutorConfig) *Executor {
	log := zerolog.Nop()
	return New(store, cfg, &log)
}

func TestExec_RetriesTransientUntilExhaustion(t *testing.T) {
	store := &fakeStore{execErr: io.ErrUnexpectedEOF}
	e := newTestExecutor(store, testConfig())

	_, err := e.Exec(context.Background(), "UPDATE users SET name = $1", "alice")

	require.Error(t, err)
	assert.Equal(t, 3, store.execCalls, "should attempt exactly maxRetries times")

	var qe *dberr.QueryError
	require.ErrorAs(t, err, &qe)
	assert.Equal(t, 3, qe.Attempts)
	assert.Equal(t, "UPDATE users SET name = $1", qe.SQL)
	assert.Equal(t, []any{"alice"}, qe.Args)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
	assert.Equal(t, dberr.Transient, dberr.KindOf(err))
}

func TestExec_DoesNotRetryDeterministicFailures(t *testing.T) {
	store := &fakeStore{execErr: &pgconn.PgError{Code: "23505", TableName: "users", ConstraintName: "users_email_key"}}
	e := newTestExecutor(store, testConfig())

	_, err := e.Exec(context.Background(), "INSERT INTO users ...")

	require.Error(t, err)
	assert.Equal(t, 1, store.execCalls, "deterministic failures consume one attempt")
	assert.Equal(t, dberr.UniqueConstraint, dberr.KindOf(err))
}

func TestExec_SuccessReportsRowsAffected(t *testing.T) {
	store := &fakeStore{execTag: pgconn.NewCommandTag("UPDATE 3")}
	e := newTestExecutor(store, testConfig())

	affected, err := e.Exec(context.Background(), "UPDATE sessions SET is_active = FALSE")

	require.NoError(t, err)
	assert.EqualValues(t, 3, affected)
	assert.Equal(t, 1, store.execCalls)
}

func TestQuery_TransientErrorRetries(t *testing.T) {
	store := &fakeStore{queryErr: &pgconn.PgError{Code: "08006"}}
	e := newTestExecutor(store, testConfig())

	err := e.Query(context.Background(), "SELECT 1", nil, func(pgx.Rows) error { return nil })

	require.Error(t, err)
	assert.Equal(t, 3, store.queryCalls)
	assert.Equal(t, dberr.Transient, dberr.KindOf(err))
}

func TestMetrics_CountsAttempts(t *testing.T) {
	store := &fakeStore{execErr: io.ErrUnexpectedEOF}
	e := newTestExecutor(store, testConfig())

	_, _ = e.Exec(context.Background(), "UPDATE 1")

	m := e.Metrics()
	assert.EqualValues(t, 3, m.TotalQueries)
	assert.EqualValues(t, 3, m.FailedQueries)
	assert.EqualValues(t, 3, m.ConnectionErrors)
	assert.EqualValues(t, 0, m.SuccessfulQueries)
	assert.NotEmpty(t, m.LastError)
	assert.False(t, m.LastErrorAt.IsZero())
}

func TestMetrics_SuccessAndAverage(t *testing.T) {
	store := &fakeStore{execTag: pgconn.NewCommandTag("INSERT 0 1")}
	e := newTestExecutor(store, testConfig())

	_, err := e.Exec(context.Background(), "INSERT 1")
	require.NoError(t, err)
	_, err = e.Exec(context.Background(), "INSERT 2")
	require.NoError(t, err)

	m := e.Metrics()
	assert.EqualValues(t, 2, m.TotalQueries)
	assert.EqualValues(t, 2, m.SuccessfulQueries)
	assert.EqualValues(t, 0, m.FailedQueries)
}

func TestMetrics_Reset(t *testing.T) {
	store := &fakeStore{execTag: pgconn.NewCommandTag("INSERT 0 1")}
	e := newTestExecutor(store, testConfig())

	_, _ = e.Exec(context.Background(), "INSERT 1")
	e.ResetMetrics()

	m := e.Metrics()
	assert.EqualValues(t, 0, m.TotalQueries)
	assert.EqualValues(t, 0, m.SuccessfulQueries)
	assert.Empty(t, m.LastError)
	assert.Zero(t, m.AvgQueryTime)
}

func TestMetrics_SlowQuery(t *testing.T) {
	cfg := testConfig()
	cfg.SlowQueryMS = 1
	store := &fakeStore{execTag: pgconn.NewCommandTag("SELECT 1"), execWait: 5 * time.Millisecond}
	e := newTestExecutor(store, cfg)

	_, err := e.Exec(context.Background(), "SELECT pg_sleep(1)")

	require.NoError(t, err, "slow queries warn, they do not fail")
	assert.EqualValues(t, 1, e.Metrics().SlowQueries)
}

func TestBatch_ObservedAsOneMetricUnit(t *testing.T) {
	store := &fakeStore{batchTags: []pgconn.CommandTag{
		pgconn.NewCommandTag("INSERT 0 1"),
		pgconn.NewCommandTag("UPDATE 2"),
		pgconn.NewCommandTag("DELETE 3"),
	}}
	e := newTestExecutor(store, testConfig())

	b := &pgx.Batch{}
	b.Queue("INSERT ...")
	b.Queue("UPDATE ...")
	b.Queue("DELETE ...")

	tags, err := e.Batch(context.Background(), b)

	require.NoError(t, err)
	require.Len(t, tags, 3)
	assert.EqualValues(t, 2, tags[1].RowsAffected())

	m := e.Metrics()
	assert.EqualValues(t, 1, m.TotalQueries, "a batch is one round trip and one metric unit")
	assert.EqualValues(t, 1, m.SuccessfulQueries)
}

func TestTransaction_CommitsOnSuccess(t *testing.T) {
	store := &fakeStore{execTag: pgconn.NewCommandTag("INSERT 0 1")}
	store.tx = &fakeTx{store: store}
	e := newTestExecutor(store, testConfig())

	err := e.Transaction(context.Background(), func(tx *Executor) error {
		_, err := tx.Exec(context.Background(), "INSERT ...")
		return err
	})

	require.NoError(t, err)
	assert.True(t, store.tx.committed)
	assert.False(t, store.tx.rolledBack)
}

func TestTransaction_RollsBackAndPropagatesUnchanged(t *testing.T) {
	store := &fakeStore{}
	store.tx = &fakeTx{store: store}
	e := newTestExecutor(store, testConfig())

	boom := errors.New("domain failure")
	err := e.Transaction(context.Background(), func(tx *Executor) error {
		return boom
	})

	assert.Same(t, boom, err)
	assert.True(t, store.tx.rolledBack)
	assert.False(t, store.tx.committed)
}

func TestTransaction_DoesNotRetryInsideTransaction(t *testing.T) {
	store := &fakeStore{execErr: io.ErrUnexpectedEOF}
	store.tx = &fakeTx{store: store}
	e := newTestExecutor(store, testConfig())

	_ = e.Transaction(context.Background(), func(tx *Executor) error {
		_, err := tx.Exec(context.Background(), "UPDATE ...")
		return err
	})

	assert.Equal(t, 1, store.execCalls, "statements inside a transaction run once")
}

func TestTransaction_RejectsNesting(t *testing.T) {
	store := &fakeStore{}
	store.tx = &fakeTx{store: store}
	e := newTestExecutor(store, testConfig())

	err := e.Transaction(context.Background(), func(tx *Executor) error {
		return tx.Transaction(context.Background(), func(*Executor) error { return nil })
	})

	assert.ErrorIs(t, err, ErrNestedTransaction)
}

func TestExec_ContextCancellationStopsRetries(t *testing.T) {
	store := &fakeStore{execErr: io.ErrUnexpectedEOF}
	cfg := testConfig()
	cfg.RetryDelayMS = 50
	e := newTestExecutor(store, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := e.Exec(ctx, "UPDATE 1")

	require.Error(t, err)
	assert.Equal(t, 1, store.execCalls, "cancellation short-circuits the backoff wait")
}
