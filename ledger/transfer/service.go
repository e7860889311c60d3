package transfer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/LerianStudio/lib-ledger/ledger/account"
	"github.com/LerianStudio/lib-ledger/ledger/assert"
	"github.com/LerianStudio/lib-ledger/ledger/circuitbreaker"
	constant "github.com/LerianStudio/lib-ledger/ledger/constants"
	"github.com/LerianStudio/lib-ledger/ledger/executor"
	"github.com/LerianStudio/lib-ledger/ledger/idempotency"
	"github.com/LerianStudio/lib-ledger/ledger/internal/nilcheck"
	"github.com/LerianStudio/lib-ledger/ledger/log"
	libOpentelemetry "github.com/LerianStudio/lib-ledger/ledger/opentelemetry"
	"github.com/LerianStudio/lib-ledger/ledger/opentelemetry/metrics"
	"github.com/LerianStudio/lib-ledger/ledger/reconciliation"
	"github.com/LerianStudio/lib-ledger/ledger/transaction"
	"github.com/LerianStudio/lib-ledger/ledger/uow"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// DefaultBatchLimit bounds concurrent transfers in TransferBatch.
const DefaultBatchLimit = 8

// Service executes transfers against an account store.
type Service struct {
	store        account.Store
	exec         *executor.Executor
	mode         transaction.Mode
	logger       log.Logger
	tracer       trace.Tracer
	metrics      *metrics.MetricsFactory
	notifier     reconciliation.Notifier
	guard        idempotency.Guard
	breaker      *circuitbreaker.Manager
	breakerName  string
	beginTimeout time.Duration
	batchLimit   int
	now          func() time.Time
}

type Option func(*Service)

// WithMode selects the credit-failure policy. Unknown modes are ignored.
func WithMode(mode transaction.Mode) Option {
	return func(s *Service) {
		if _, err := transaction.ParseMode(string(mode)); err == nil {
			s.mode = mode
		}
	}
}

func WithLogger(logger log.Logger) Option {
	return func(s *Service) {
		if !nilcheck.Interface(logger) {
			s.logger = logger
		}
	}
}

func WithTracer(tracer trace.Tracer) Option {
	return func(s *Service) {
		if !nilcheck.Interface(tracer) {
			s.tracer = tracer
		}
	}
}

func WithMetrics(factory *metrics.MetricsFactory) Option {
	return func(s *Service) {
		if factory != nil {
			s.metrics = factory
		}
	}
}

// WithNotifier replaces the default LogNotifier for partial outcomes.
func WithNotifier(notifier reconciliation.Notifier) Option {
	return func(s *Service) {
		if !nilcheck.Interface(notifier) {
			s.notifier = notifier
		}
	}
}

// WithIdempotencyGuard enables at-most-once processing for requests that
// carry an idempotency key.
func WithIdempotencyGuard(guard idempotency.Guard) Option {
	return func(s *Service) {
		if !nilcheck.Interface(guard) {
			s.guard = guard
		}
	}
}

// WithCircuitBreaker registers name on manager with the store profile and
// routes every Begin through it.
func WithCircuitBreaker(manager *circuitbreaker.Manager, name string) Option {
	return func(s *Service) {
		if manager == nil || name == "" {
			return
		}

		manager.GetOrCreate(name, circuitbreaker.StoreConfig())

		s.breaker = manager
		s.breakerName = name
	}
}

func WithBeginTimeout(timeout time.Duration) Option {
	return func(s *Service) {
		if timeout > 0 {
			s.beginTimeout = timeout
		}
	}
}

func WithBatchLimit(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.batchLimit = n
		}
	}
}

// NewService returns a Service in ModeCheckpoint unless configured otherwise.
func NewService(store account.Store, opts ...Option) (*Service, error) {
	if nilcheck.Interface(store) {
		return nil, ErrNilStore
	}

	s := &Service{
		store:      store,
		mode:       transaction.ModeCheckpoint,
		logger:     log.NewNop(),
		tracer:     noop.NewTracerProvider().Tracer("ledger.noop"),
		metrics:    metrics.NewNopFactory(),
		batchLimit: DefaultBatchLimit,
		now:        time.Now,
	}

	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}

	s.exec = executor.New(s.logger)

	if s.notifier == nil {
		s.notifier = reconciliation.NewLogNotifier(s.logger)
	}

	return s, nil
}

// Mode returns the configured credit-failure policy.
func (s *Service) Mode() transaction.Mode { return s.mode }

func (s *Service) newUnit() (*uow.UnitOfWork, error) {
	opts := []uow.Option{
		uow.WithLogger(s.logger),
		uow.WithTracer(s.tracer),
		uow.WithMetrics(s.metrics),
		uow.WithBeginTimeout(s.beginTimeout),
	}

	if s.breaker != nil {
		opts = append(opts, uow.WithCircuitBreaker(s.breaker, s.breakerName))
	}

	return uow.New(s.store, opts...)
}

// run tracks one transfer through the lifecycle.
type run struct {
	req     transaction.TransferRequest
	outcome transaction.Outcome
	logger  log.Logger
	span    trace.Span
	asserts *assert.Asserter
	// keyHeld is set once the idempotency key belongs to this transfer.
	keyHeld bool
}

// advance moves to next. An edge outside the lifecycle is a programming error:
// it is asserted and returned.
func (r *run) advance(ctx context.Context, next transaction.State) error {
	if err := transaction.ValidateTransition(r.outcome.State, next); err != nil {
		_ = r.asserts.NoError(ctx, err, "illegal transfer state transition",
			"from", r.outcome.State, "to", next, "transfer_id", r.req.ID)

		return err
	}

	r.logger.Log(ctx, log.LevelDebug, "transfer state changed",
		log.Stringer("from", r.outcome.State), log.Stringer("to", next))

	r.outcome.State = next
	r.span.AddEvent("transfer.state", trace.WithAttributes(attribute.String(constant.AttrTransferState, string(next))))

	return nil
}

// Transfer moves req.Amount from req.SourceID to req.DestinationID.
//
// COMMITTED and PARTIALLY_COMMITTED outcomes are returned with a nil error;
// a partial outcome carries the credit failure in Cause. Every other path
// ends ABORTED with nothing persisted and a non-nil error.
func (s *Service) Transfer(ctx context.Context, req transaction.TransferRequest) (transaction.Outcome, error) {
	start := s.now()

	ctx, span := s.tracer.Start(ctx, "transfer.execute", trace.WithAttributes(
		attribute.String(constant.AttrTransferID, req.ID.String()),
		attribute.Int64(constant.AttrSourceID, req.SourceID),
		attribute.Int64(constant.AttrDestinationID, req.DestinationID),
		attribute.String(constant.AttrTransferMode, string(s.mode)),
	))
	defer span.End()

	r := &run{
		req: req,
		outcome: transaction.Outcome{
			TransferID: req.ID,
			State:      transaction.StateStarted,
			Mode:       s.mode,
		},
		logger:  s.logger.With(log.String("transfer_id", req.ID.String())),
		span:    span,
		asserts: assert.New(ctx, s.logger, "transfer", "execute"),
	}

	err := s.execute(ctx, r)

	r.outcome.Duration = s.now().Sub(start)

	s.finish(ctx, r, err)

	return r.outcome, err
}

func (s *Service) execute(ctx context.Context, r *run) error {
	req := r.req

	if err := req.Validate(); err != nil {
		return s.reject(r, err)
	}

	if s.guard != nil && req.IdempotencyKey != "" {
		if err := s.guard.Acquire(ctx, req.IdempotencyKey, req.ID); err != nil {
			return s.reject(r, err)
		}

		r.keyHeld = true
	}

	unit, err := s.newUnit()
	if err != nil {
		return s.reject(r, err)
	}

	if err := unit.Begin(ctx); err != nil {
		return s.reject(r, err)
	}

	balance, err := s.exec.DebitWithAudit(ctx, unit, req.SourceID, req.Amount, req.WithdrawalDescription())
	if err != nil {
		return s.abort(ctx, r, unit, err)
	}

	r.outcome.SourceBalance = &balance

	if err := r.advance(ctx, transaction.StateDebited); err != nil {
		return s.abort(ctx, r, unit, err)
	}

	if err := unit.Checkpoint(ctx, req.CheckpointName()); err != nil {
		return s.abort(ctx, r, unit, err)
	}

	if err := r.advance(ctx, transaction.StateCheckpointed); err != nil {
		return s.abort(ctx, r, unit, err)
	}

	if _, err := s.exec.CreditWithAudit(ctx, unit, req.DestinationID, req.Amount, req.DepositDescription()); err != nil {
		return s.recoverFromCheckpoint(ctx, r, unit, err)
	}

	if err := r.advance(ctx, transaction.StateCredited); err != nil {
		return s.abort(ctx, r, unit, err)
	}

	if err := unit.Commit(ctx); err != nil {
		// The unit already ended as aborted.
		return s.markAborted(ctx, r, err)
	}

	if err := r.advance(ctx, transaction.StateCommitted); err != nil {
		return err
	}

	r.outcome.DestinationCredited = true

	return nil
}

// reject ends a transfer that never opened or never mutated a unit of work.
func (s *Service) reject(r *run, cause error) error {
	r.outcome.State = transaction.StateAborted
	r.outcome.Cause = cause

	return cause
}

// abort discards the whole unit of work.
func (s *Service) abort(ctx context.Context, r *run, unit *uow.UnitOfWork, cause error) error {
	if err := unit.RollbackAll(ctx); err != nil {
		r.logger.Log(ctx, log.LevelError, "rollback after failed step also failed", log.Err(err))

		cause = errors.Join(cause, err)
	}

	return s.markAborted(ctx, r, cause)
}

func (s *Service) markAborted(ctx context.Context, r *run, cause error) error {
	if err := r.advance(ctx, transaction.StateAborted); err != nil {
		r.outcome.State = transaction.StateAborted
	}

	r.outcome.SourceBalance = nil
	r.outcome.Cause = cause

	return cause
}

// recoverFromCheckpoint handles a failure after the checkpoint.
func (s *Service) recoverFromCheckpoint(ctx context.Context, r *run, unit *uow.UnitOfWork, cause error) error {
	if err := r.advance(ctx, transaction.StateRecovering); err != nil {
		return s.abort(ctx, r, unit, err)
	}

	r.logger.Log(ctx, log.LevelWarn, "credit step failed, recovering", log.Err(cause))

	if s.mode == transaction.ModeFullReversal {
		return s.abort(ctx, r, unit, fmt.Errorf("%w: %w", ErrTransferReversed, cause))
	}

	checkpoint := r.req.CheckpointName()

	if err := unit.RollbackTo(ctx, checkpoint); err != nil {
		return s.abort(ctx, r, unit, fmt.Errorf("%w: %w: %w", ErrRecoveryFailed, err, cause))
	}

	if err := unit.Commit(ctx); err != nil {
		return s.markAborted(ctx, r, fmt.Errorf("%w: %w: %w", ErrRecoveryFailed, err, cause))
	}

	if err := r.advance(ctx, transaction.StatePartiallyCommitted); err != nil {
		return err
	}

	r.outcome.Cause = cause
	r.outcome.NeedsReconciliation = true

	return nil
}

// finish records telemetry, settles the idempotency key and surfaces partial
// outcomes.
func (s *Service) finish(ctx context.Context, r *run, err error) {
	out := r.outcome
	state := string(out.State)

	r.span.SetAttributes(attribute.String(constant.AttrTransferState, state))

	if recErr := s.metrics.RecordTransferOutcome(ctx, state, string(out.Mode)); recErr != nil {
		r.logger.Log(ctx, log.LevelWarn, "failed to record transfer outcome", log.Err(recErr))
	}

	if recErr := s.metrics.RecordTransferDuration(ctx, state, out.Duration); recErr != nil {
		r.logger.Log(ctx, log.LevelWarn, "failed to record transfer duration", log.Err(recErr))
	}

	s.settleKey(ctx, r)

	switch {
	case out.State == transaction.StateCommitted:
		r.logger.Log(ctx, log.LevelInfo, "transfer committed", log.Int64("duration_ms", out.Duration.Milliseconds()))
	case out.Partial():
		libOpentelemetry.HandleSpanBusinessErrorEvent(&r.span, "transfer.partially_committed", out.Cause)
		r.logger.Log(ctx, log.LevelWarn, "transfer partially committed: withdrawal kept, deposit discarded",
			log.Int64("source_id", r.req.SourceID),
			log.Int64("destination_id", r.req.DestinationID),
			log.String("amount", r.req.Amount.String()),
			log.Err(out.Cause))

		s.reconcile(ctx, r)
	case isBusinessError(err):
		libOpentelemetry.HandleSpanBusinessErrorEvent(&r.span, "transfer.rejected", err)
		r.logger.Log(ctx, log.LevelInfo, "transfer rejected", log.Err(err))
	default:
		libOpentelemetry.HandleSpanError(&r.span, "transfer aborted", err)
		r.logger.Log(ctx, log.LevelError, "transfer aborted", log.Err(err))
	}
}

func (s *Service) settleKey(ctx context.Context, r *run) {
	if !r.keyHeld {
		return
	}

	req := r.req

	var settleErr error

	switch {
	case r.outcome.State == transaction.StateAborted:
		// Nothing was persisted, so the same key may be retried.
		settleErr = s.guard.Release(ctx, req.IdempotencyKey, req.ID)
	default:
		settleErr = s.guard.Complete(ctx, req.IdempotencyKey, req.ID, r.outcome.State)
	}

	if settleErr != nil && !errors.Is(settleErr, idempotency.ErrEmptyKey) {
		r.logger.Log(ctx, log.LevelError, "failed to settle idempotency key",
			log.String("idempotency_key", req.IdempotencyKey), log.Err(settleErr))
	}
}

func (s *Service) reconcile(ctx context.Context, r *run) {
	sourceAttr := attribute.Int64(constant.AttrSourceID, r.req.SourceID)

	if err := s.metrics.RecordReconciliationRequired(ctx, sourceAttr); err != nil {
		r.logger.Log(ctx, log.LevelWarn, "failed to record reconciliation metric", log.Err(err))
	}

	notice := reconciliation.NewNotice(r.req, r.outcome, s.now())
	if err := s.notifier.Notify(ctx, notice); err != nil {
		libOpentelemetry.HandleSpanError(&r.span, "failed to publish reconciliation notice", err)
		r.logger.Log(ctx, log.LevelError, "failed to publish reconciliation notice", log.Err(err))
	}
}

func isBusinessError(err error) bool {
	var domainErr transaction.DomainError

	return errors.As(err, &domainErr) ||
		errors.Is(err, ErrInsufficientFunds) ||
		errors.Is(err, ErrAccountNotFound) ||
		errors.Is(err, ErrDuplicateRequest)
}
