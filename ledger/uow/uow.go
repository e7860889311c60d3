package uow

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/LerianStudio/lib-ledger/ledger/account"
	"github.com/LerianStudio/lib-ledger/ledger/circuitbreaker"
	constant "github.com/LerianStudio/lib-ledger/ledger/constants"
	"github.com/LerianStudio/lib-ledger/ledger/internal/nilcheck"
	"github.com/LerianStudio/lib-ledger/ledger/log"
	libOpentelemetry "github.com/LerianStudio/lib-ledger/ledger/opentelemetry"
	"github.com/LerianStudio/lib-ledger/ledger/opentelemetry/metrics"
	"github.com/LerianStudio/lib-ledger/ledger/runtime"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Status is the lifecycle position of a unit of work.
type Status string

const (
	StatusIdle      Status = "IDLE"
	StatusActive    Status = "ACTIVE"
	StatusCommitted Status = "COMMITTED"
	StatusAborted   Status = "ABORTED"
)

const (
	rollbackKindCheckpoint = "checkpoint"
	rollbackKindAll        = "all"
)

type checkpoint struct {
	name      string
	mutations int
}

// UnitOfWork is one store transaction. It is safe for concurrent use, but a
// transfer drives it from a single goroutine.
type UnitOfWork struct {
	store        account.Store
	logger       log.Logger
	tracer       trace.Tracer
	metrics      *metrics.MetricsFactory
	beginTimeout time.Duration
	breaker      *circuitbreaker.Manager
	breakerName  string

	mu          sync.Mutex
	status      Status
	session     account.Session
	mutations   int
	checkpoints []checkpoint
}

type Option func(*UnitOfWork)

func WithLogger(logger log.Logger) Option {
	return func(u *UnitOfWork) {
		if !nilcheck.Interface(logger) {
			u.logger = logger
		}
	}
}

func WithTracer(tracer trace.Tracer) Option {
	return func(u *UnitOfWork) {
		if !nilcheck.Interface(tracer) {
			u.tracer = tracer
		}
	}
}

func WithMetrics(factory *metrics.MetricsFactory) Option {
	return func(u *UnitOfWork) {
		if factory != nil {
			u.metrics = factory
		}
	}
}

// WithBeginTimeout bounds how long Begin waits for the store.
func WithBeginTimeout(timeout time.Duration) Option {
	return func(u *UnitOfWork) {
		if timeout > 0 {
			u.beginTimeout = timeout
		}
	}
}

// WithCircuitBreaker routes Begin through the named breaker of manager. The
// breaker must already be registered with GetOrCreate.
func WithCircuitBreaker(manager *circuitbreaker.Manager, name string) Option {
	return func(u *UnitOfWork) {
		if manager != nil && name != "" {
			u.breaker = manager
			u.breakerName = name
		}
	}
}

// New returns an idle unit of work over store.
func New(store account.Store, opts ...Option) (*UnitOfWork, error) {
	if nilcheck.Interface(store) {
		return nil, ErrNilStore
	}

	u := &UnitOfWork{
		store:   store,
		logger:  log.NewNop(),
		tracer:  noop.NewTracerProvider().Tracer("ledger.noop"),
		metrics: metrics.NewNopFactory(),
		status:  StatusIdle,
	}

	for _, opt := range opts {
		if opt != nil {
			opt(u)
		}
	}

	return u, nil
}

// Status returns the current lifecycle position.
func (u *UnitOfWork) Status() Status {
	u.mu.Lock()
	defer u.mu.Unlock()

	return u.status
}

// Active reports whether Begin succeeded and the unit is not yet finalized.
func (u *UnitOfWork) Active() bool {
	return u.Status() == StatusActive
}

// Mutations returns the number of recorded mutations still in effect.
func (u *UnitOfWork) Mutations() int {
	u.mu.Lock()
	defer u.mu.Unlock()

	return u.mutations
}

// Session returns the open store session.
//
//nolint:ireturn
func (u *UnitOfWork) Session() (account.Session, error) {
	u.mu.Lock()
	defer u.mu.Unlock()

	if err := u.requireActive(); err != nil {
		return nil, err
	}

	return u.session, nil
}

// Record marks one successful mutation. It is a no-op outside an active unit.
func (u *UnitOfWork) Record() {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.status == StatusActive {
		u.mutations++
	}
}

func (u *UnitOfWork) requireActive() error {
	switch u.status {
	case StatusActive:
		return nil
	case StatusCommitted, StatusAborted:
		return ErrAlreadyFinalized
	default:
		return ErrNoActiveTransaction
	}
}

// Begin opens the store session.
func (u *UnitOfWork) Begin(ctx context.Context) error {
	ctx, span := u.tracer.Start(ctx, "uow.begin")
	defer span.End()

	u.mu.Lock()
	defer u.mu.Unlock()

	switch u.status {
	case StatusActive:
		return ErrTransactionActive
	case StatusCommitted, StatusAborted:
		return ErrAlreadyFinalized
	}

	session, err := u.open(ctx)
	if err != nil {
		err = fmt.Errorf("%w: %w: %w", ErrConnection, constant.ErrStoreUnavailable, err)

		libOpentelemetry.HandleSpanError(&span, "failed to begin unit of work", err)
		u.logger.Log(ctx, log.LevelError, "failed to begin unit of work", log.Err(err))

		return err
	}

	u.session = session
	u.status = StatusActive

	u.logger.Log(ctx, log.LevelDebug, "unit of work started")

	return nil
}

//nolint:ireturn
func (u *UnitOfWork) open(ctx context.Context) (account.Session, error) {
	if u.breaker == nil {
		return u.beginWithTimeout(ctx)
	}

	result, err := u.breaker.Execute(u.breakerName, func() (any, error) {
		return u.beginWithTimeout(ctx)
	})
	if err != nil {
		return nil, err
	}

	session, ok := result.(account.Session)
	if !ok || nilcheck.Interface(session) {
		return nil, fmt.Errorf("unexpected session type %T", result)
	}

	return session, nil
}

type beginResult struct {
	session account.Session
	err     error
}

// beginWithTimeout does not derive a deadline for the store call: the context
// given to Begin governs the whole transaction, so a cancelled child would
// kill the session it just opened. A session that arrives after the bound is
// rolled back in the background.
//
//nolint:ireturn
func (u *UnitOfWork) beginWithTimeout(ctx context.Context) (account.Session, error) {
	if u.beginTimeout <= 0 {
		return u.store.Begin(ctx)
	}

	results := make(chan beginResult, 1)

	go func() {
		defer func() {
			if recovered := recover(); recovered != nil {
				runtime.HandlePanicValue(ctx, u.logger, recovered, "uow", "begin")
				results <- beginResult{err: fmt.Errorf("store begin panicked: %v", recovered)}
			}
		}()

		session, err := u.store.Begin(ctx)
		results <- beginResult{session: session, err: err}
	}()

	timer := time.NewTimer(u.beginTimeout)
	defer timer.Stop()

	select {
	case r := <-results:
		return r.session, r.err
	case <-timer.C:
		go u.discardLate(results)

		return nil, fmt.Errorf("%w after %s", ErrBeginTimeout, u.beginTimeout)
	case <-ctx.Done():
		go u.discardLate(results)

		return nil, ctx.Err()
	}
}

func (u *UnitOfWork) discardLate(results <-chan beginResult) {
	r := <-results
	if r.err != nil || nilcheck.Interface(r.session) {
		return
	}

	if err := r.session.Rollback(context.Background()); err != nil {
		u.logger.Log(context.Background(), log.LevelWarn, "failed to discard late session", log.Err(err))
	}
}

// Checkpoint records a savepoint named name after at least one mutation.
func (u *UnitOfWork) Checkpoint(ctx context.Context, name string) error {
	ctx, span := u.tracer.Start(ctx, "uow.checkpoint", trace.WithAttributes(attribute.String(constant.AttrCheckpoint, name)))
	defer span.End()

	u.mu.Lock()
	defer u.mu.Unlock()

	if err := u.requireActive(); err != nil {
		return err
	}

	if !account.ValidIdentifier(name) {
		return fmt.Errorf("%w: %q", ErrInvalidCheckpointName, name)
	}

	if u.mutations == 0 {
		return ErrNoMutation
	}

	if err := u.session.Savepoint(ctx, name); err != nil {
		libOpentelemetry.HandleSpanError(&span, "failed to create checkpoint", err)
		u.logger.Log(ctx, log.LevelError, "failed to create checkpoint", log.String("checkpoint", name), log.Err(err))

		return fmt.Errorf("create checkpoint %s: %w", name, err)
	}

	u.checkpoints = slices.DeleteFunc(u.checkpoints, func(c checkpoint) bool { return c.name == name })
	u.checkpoints = append(u.checkpoints, checkpoint{name: name, mutations: u.mutations})

	u.logger.Log(ctx, log.LevelDebug, "checkpoint created", log.String("checkpoint", name))

	return nil
}

// RollbackTo discards every change made after the named checkpoint. The
// checkpoint itself remains usable. An unknown name leaves state untouched.
func (u *UnitOfWork) RollbackTo(ctx context.Context, name string) error {
	ctx, span := u.tracer.Start(ctx, "uow.rollback_to", trace.WithAttributes(attribute.String(constant.AttrCheckpoint, name)))
	defer span.End()

	u.mu.Lock()
	defer u.mu.Unlock()

	if err := u.requireActive(); err != nil {
		return err
	}

	idx := slices.IndexFunc(u.checkpoints, func(c checkpoint) bool { return c.name == name })
	if idx < 0 {
		return fmt.Errorf("%w: %q", ErrUnknownCheckpoint, name)
	}

	if err := u.session.RollbackToSavepoint(ctx, name); err != nil {
		err = fmt.Errorf("%w: checkpoint %s: %w", ErrRollbackFailed, name, err)

		libOpentelemetry.HandleSpanError(&span, "failed to roll back to checkpoint", err)
		u.logger.Log(ctx, log.LevelError, "failed to roll back to checkpoint", log.String("checkpoint", name), log.Err(err))

		return err
	}

	u.mutations = u.checkpoints[idx].mutations
	u.checkpoints = u.checkpoints[:idx+1]

	u.recordRollback(ctx, rollbackKindCheckpoint)
	u.logger.Log(ctx, log.LevelInfo, "rolled back to checkpoint", log.String("checkpoint", name))

	return nil
}

// RollbackAll discards every change and ends the unit as aborted, even when
// the store reports a rollback error.
func (u *UnitOfWork) RollbackAll(ctx context.Context) error {
	ctx, span := u.tracer.Start(ctx, "uow.rollback_all")
	defer span.End()

	u.mu.Lock()
	defer u.mu.Unlock()

	if err := u.requireActive(); err != nil {
		return err
	}

	err := u.session.Rollback(ctx)
	u.finalize(StatusAborted)
	u.recordRollback(ctx, rollbackKindAll)

	if err != nil {
		err = fmt.Errorf("%w: %w", ErrRollbackFailed, err)

		libOpentelemetry.HandleSpanError(&span, "failed to roll back unit of work", err)
		u.logger.Log(ctx, log.LevelError, "failed to roll back unit of work", log.Err(err))

		return err
	}

	u.logger.Log(ctx, log.LevelInfo, "unit of work rolled back")

	return nil
}

// Commit makes every change durable and ends the unit. A failed commit ends
// the unit as aborted.
func (u *UnitOfWork) Commit(ctx context.Context) error {
	ctx, span := u.tracer.Start(ctx, "uow.commit")
	defer span.End()

	u.mu.Lock()
	defer u.mu.Unlock()

	if err := u.requireActive(); err != nil {
		return err
	}

	if err := u.session.Commit(ctx); err != nil {
		u.finalize(StatusAborted)

		err = fmt.Errorf("%w: %w", ErrCommitFailed, err)

		libOpentelemetry.HandleSpanError(&span, "failed to commit unit of work", err)
		u.logger.Log(ctx, log.LevelError, "failed to commit unit of work", log.Err(err))

		return err
	}

	u.finalize(StatusCommitted)

	u.logger.Log(ctx, log.LevelDebug, "unit of work committed")

	return nil
}

func (u *UnitOfWork) finalize(status Status) {
	u.status = status
	u.session = nil
	u.checkpoints = nil
}

func (u *UnitOfWork) recordRollback(ctx context.Context, kind string) {
	if err := u.metrics.RecordRollback(ctx, kind); err != nil {
		u.logger.Log(ctx, log.LevelWarn, "failed to record rollback metric", log.Err(err))
	}
}
