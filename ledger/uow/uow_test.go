//go:build unit

package uow

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/LerianStudio/lib-ledger/ledger/account"
	"github.com/LerianStudio/lib-ledger/ledger/account/memory"
	"github.com/LerianStudio/lib-ledger/ledger/circuitbreaker"
	constant "github.com/LerianStudio/lib-ledger/ledger/constants"
	"github.com/LerianStudio/lib-ledger/ledger/log"
	"github.com/LerianStudio/lib-ledger/ledger/opentelemetry/metrics"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

var errStore = errors.New("store down")

func seededStore() *memory.Store {
	s := memory.New()
	s.Put(1, decimal.NewFromInt(1000))
	s.Put(2, decimal.NewFromInt(300))

	return s
}

func newUnit(t *testing.T, store account.Store, opts ...Option) *UnitOfWork {
	t.Helper()

	u, err := New(store, append([]Option{WithLogger(log.NewNop())}, opts...)...)
	require.NoError(t, err)

	return u
}

// debit mutates through the session and records it, as the executor does.
func debit(t *testing.T, u *UnitOfWork, id int64, amount int64) {
	t.Helper()

	session, err := u.Session()
	require.NoError(t, err)

	_, err = session.Decrement(context.Background(), id, decimal.NewFromInt(amount))
	require.NoError(t, err)

	u.Record()
}

func credit(t *testing.T, u *UnitOfWork, id int64, amount int64) {
	t.Helper()

	session, err := u.Session()
	require.NoError(t, err)

	_, err = session.Increment(context.Background(), id, decimal.NewFromInt(amount))
	require.NoError(t, err)

	u.Record()
}

func balanceOf(t *testing.T, s *memory.Store, id int64) decimal.Decimal {
	t.Helper()

	a, err := s.GetAccount(context.Background(), id)
	require.NoError(t, err)

	return a.Balance
}

func TestNew_NilStore(t *testing.T) {
	_, err := New(nil)
	assert.ErrorIs(t, err, ErrNilStore)

	var typedNil *memory.Store
	_, err = New(typedNil)
	assert.ErrorIs(t, err, ErrNilStore)
}

func TestLifecycle_Commit(t *testing.T) {
	ctx := context.Background()
	store := seededStore()
	u := newUnit(t, store)

	assert.Equal(t, StatusIdle, u.Status())

	require.NoError(t, u.Begin(ctx))
	assert.True(t, u.Active())
	assert.ErrorIs(t, u.Begin(ctx), ErrTransactionActive)

	debit(t, u, 1, 500)
	require.NoError(t, u.Checkpoint(ctx, "transfer_a"))
	credit(t, u, 2, 500)
	assert.Equal(t, 2, u.Mutations())

	require.NoError(t, u.Commit(ctx))
	assert.Equal(t, StatusCommitted, u.Status())

	assert.True(t, balanceOf(t, store, 1).Equal(decimal.NewFromInt(500)))
	assert.True(t, balanceOf(t, store, 2).Equal(decimal.NewFromInt(800)))

	assert.ErrorIs(t, u.Commit(ctx), ErrAlreadyFinalized)
	assert.ErrorIs(t, u.Begin(ctx), ErrAlreadyFinalized)
	assert.ErrorIs(t, u.RollbackAll(ctx), ErrAlreadyFinalized)

	_, err := u.Session()
	assert.ErrorIs(t, err, ErrAlreadyFinalized)
}

func TestOperationsRequireBegin(t *testing.T) {
	ctx := context.Background()
	u := newUnit(t, seededStore())

	assert.ErrorIs(t, u.Checkpoint(ctx, "cp"), ErrNoActiveTransaction)
	assert.ErrorIs(t, u.RollbackTo(ctx, "cp"), ErrNoActiveTransaction)
	assert.ErrorIs(t, u.RollbackAll(ctx), ErrNoActiveTransaction)
	assert.ErrorIs(t, u.Commit(ctx), ErrNoActiveTransaction)

	_, err := u.Session()
	assert.ErrorIs(t, err, ErrNoActiveTransaction)

	u.Record()
	assert.Zero(t, u.Mutations())
}

func TestCheckpoint_Preconditions(t *testing.T) {
	ctx := context.Background()
	u := newUnit(t, seededStore())
	require.NoError(t, u.Begin(ctx))

	assert.ErrorIs(t, u.Checkpoint(ctx, "transfer_a"), ErrNoMutation)

	debit(t, u, 1, 1)

	assert.ErrorIs(t, u.Checkpoint(ctx, "bad name"), ErrInvalidCheckpointName)
	assert.ErrorIs(t, u.Checkpoint(ctx, "1starts_with_digit"), ErrInvalidCheckpointName)
	require.NoError(t, u.Checkpoint(ctx, "transfer_a"))

	require.NoError(t, u.RollbackAll(ctx))
}

func TestRollbackTo_RestoresCheckpointState(t *testing.T) {
	ctx := context.Background()
	store := seededStore()
	u := newUnit(t, store)
	require.NoError(t, u.Begin(ctx))

	debit(t, u, 1, 500)
	require.NoError(t, u.Checkpoint(ctx, "transfer_a"))
	credit(t, u, 2, 500)

	require.NoError(t, u.RollbackTo(ctx, "transfer_a"))
	assert.Equal(t, 1, u.Mutations())
	assert.True(t, u.Active())

	require.NoError(t, u.Commit(ctx))

	assert.True(t, balanceOf(t, store, 1).Equal(decimal.NewFromInt(500)))
	assert.True(t, balanceOf(t, store, 2).Equal(decimal.NewFromInt(300)))
}

func TestRollbackTo_UnknownCheckpointLeavesStateUntouched(t *testing.T) {
	ctx := context.Background()
	store := seededStore()
	u := newUnit(t, store)
	require.NoError(t, u.Begin(ctx))

	debit(t, u, 1, 500)

	// A store fault would surface if the store were called.
	store.FailNext(memory.OpRollbackToSavepoint, errStore)

	assert.ErrorIs(t, u.RollbackTo(ctx, "never_set"), ErrUnknownCheckpoint)
	assert.True(t, u.Active())
	assert.Equal(t, 1, u.Mutations())

	require.NoError(t, u.Checkpoint(ctx, "transfer_a"))
	assert.ErrorIs(t, u.RollbackTo(ctx, "transfer_a"), ErrRollbackFailed, "queued fault is consumed here")
}

func TestRollbackTo_DropsLaterCheckpoints(t *testing.T) {
	ctx := context.Background()
	u := newUnit(t, seededStore())
	require.NoError(t, u.Begin(ctx))

	debit(t, u, 1, 1)
	require.NoError(t, u.Checkpoint(ctx, "first"))
	debit(t, u, 1, 1)
	require.NoError(t, u.Checkpoint(ctx, "second"))

	require.NoError(t, u.RollbackTo(ctx, "first"))
	assert.ErrorIs(t, u.RollbackTo(ctx, "second"), ErrUnknownCheckpoint)
	require.NoError(t, u.RollbackTo(ctx, "first"))

	require.NoError(t, u.RollbackAll(ctx))
}

func TestRollbackAll_DiscardsEverything(t *testing.T) {
	ctx := context.Background()
	store := seededStore()
	u := newUnit(t, store)
	require.NoError(t, u.Begin(ctx))

	debit(t, u, 1, 500)
	require.NoError(t, u.RollbackAll(ctx))

	assert.Equal(t, StatusAborted, u.Status())
	assert.True(t, balanceOf(t, store, 1).Equal(decimal.NewFromInt(1000)))
}

func TestRollbackAll_StoreErrorStillAborts(t *testing.T) {
	ctx := context.Background()
	store := seededStore()
	u := newUnit(t, store)
	require.NoError(t, u.Begin(ctx))

	store.FailNext(memory.OpRollback, errStore)

	err := u.RollbackAll(ctx)
	assert.ErrorIs(t, err, ErrRollbackFailed)
	assert.ErrorIs(t, err, errStore)
	assert.Equal(t, StatusAborted, u.Status())
}

func TestBegin_StoreFailure(t *testing.T) {
	ctx := context.Background()
	store := seededStore()
	store.FailNext(memory.OpBegin, errStore)

	u := newUnit(t, store)

	err := u.Begin(ctx)
	assert.ErrorIs(t, err, ErrConnection)
	assert.ErrorIs(t, err, constant.ErrStoreUnavailable)
	assert.ErrorIs(t, err, errStore)
	assert.Equal(t, StatusIdle, u.Status())
}

func TestCommit_FailureAborts(t *testing.T) {
	ctx := context.Background()
	store := seededStore()
	u := newUnit(t, store)
	require.NoError(t, u.Begin(ctx))
	debit(t, u, 1, 500)

	store.FailNext(memory.OpCommit, errStore)

	err := u.Commit(ctx)
	assert.ErrorIs(t, err, ErrCommitFailed)
	assert.ErrorIs(t, err, errStore)
	assert.Equal(t, StatusAborted, u.Status())
	assert.True(t, balanceOf(t, store, 1).Equal(decimal.NewFromInt(1000)))

	assert.ErrorIs(t, u.Commit(ctx), ErrAlreadyFinalized)
}

type blockingStore struct {
	release chan struct{}
	inner   account.Store
}

//nolint:ireturn
func (b *blockingStore) Begin(ctx context.Context) (account.Session, error) {
	<-b.release

	return b.inner.Begin(ctx)
}

func TestBegin_Timeout(t *testing.T) {
	ctx := context.Background()
	store := seededStore()
	blocking := &blockingStore{release: make(chan struct{}), inner: store}

	u := newUnit(t, blocking, WithBeginTimeout(20*time.Millisecond))

	err := u.Begin(ctx)
	assert.ErrorIs(t, err, ErrConnection)
	assert.ErrorIs(t, err, ErrBeginTimeout)

	close(blocking.release)

	// The late session is rolled back, so its locks do not leak.
	require.Eventually(t, func() bool {
		other, err := store.Begin(ctx)
		if err != nil {
			return false
		}

		defer other.Rollback(ctx)

		_, err = other.Decrement(ctx, 1, decimal.NewFromInt(1))

		return err == nil
	}, time.Second, 10*time.Millisecond)
}

func TestBegin_CircuitBreakerOpens(t *testing.T) {
	ctx := context.Background()
	store := seededStore()

	manager := circuitbreaker.NewManager(log.NewNop())
	manager.GetOrCreate("accounts", circuitbreaker.Config{
		MaxRequests:         1,
		Interval:            time.Minute,
		Timeout:             time.Minute,
		ConsecutiveFailures: 2,
		FailureRatio:        1,
		MinRequests:         100,
	})

	for range 2 {
		store.FailNext(memory.OpBegin, errStore)

		u := newUnit(t, store, WithCircuitBreaker(manager, "accounts"))
		assert.ErrorIs(t, u.Begin(ctx), errStore)
	}

	u := newUnit(t, store, WithCircuitBreaker(manager, "accounts"))

	err := u.Begin(ctx)
	assert.ErrorIs(t, err, ErrConnection)
	assert.ErrorIs(t, err, circuitbreaker.ErrUnavailable)
}

func TestBegin_CircuitBreakerPassesSession(t *testing.T) {
	ctx := context.Background()
	manager := circuitbreaker.NewManager(log.NewNop())
	manager.GetOrCreate("accounts", circuitbreaker.StoreConfig())

	u := newUnit(t, seededStore(), WithCircuitBreaker(manager, "accounts"))
	require.NoError(t, u.Begin(ctx))
	require.NoError(t, u.RollbackAll(ctx))
}

func TestTelemetry(t *testing.T) {
	ctx := context.Background()

	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	factory, err := metrics.NewMetricsFactory(mp.Meter("test"), log.NewNop())
	require.NoError(t, err)

	u := newUnit(t, seededStore(), WithTracer(tp.Tracer("test")), WithMetrics(factory))
	require.NoError(t, u.Begin(ctx))
	debit(t, u, 1, 1)
	require.NoError(t, u.Checkpoint(ctx, "cp"))
	require.NoError(t, u.RollbackTo(ctx, "cp"))
	require.NoError(t, u.RollbackAll(ctx))

	var names []string
	for _, span := range recorder.Ended() {
		names = append(names, span.Name())
	}

	assert.Equal(t, []string{"uow.begin", "uow.checkpoint", "uow.rollback_to", "uow.rollback_all"}, names)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))

	var total int64

	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != metrics.MetricUnitOfWorkRollbacks.Name {
				continue
			}

			sum, ok := m.Data.(metricdata.Sum[int64])
			require.True(t, ok)

			for _, dp := range sum.DataPoints {
				total += dp.Value
			}
		}
	}

	assert.Equal(t, int64(2), total)
}
