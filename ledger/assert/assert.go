package assert

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/LerianStudio/lib-ledger/ledger/internal/nilcheck"
	"github.com/LerianStudio/lib-ledger/ledger/log"
	"github.com/LerianStudio/lib-ledger/ledger/opentelemetry/metrics"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// AssertionSpanEventName is the event name used when recording assertion failures on spans.
const AssertionSpanEventName = "assertion.failed"

const maxValueLength = 200

// ErrAssertionFailed is the sentinel error for failed assertions.
var ErrAssertionFailed = errors.New("assertion failed")

// AssertionError represents a failed assertion.
type AssertionError struct {
	Assertion string
	Message   string
	Component string
	Operation string
}

// Error returns the formatted assertion failure message.
func (entry *AssertionError) Error() string {
	if entry == nil {
		return ErrAssertionFailed.Error()
	}

	return "assertion failed: " + entry.Message
}

// Unwrap returns the sentinel assertion error for errors.Is.
func (entry *AssertionError) Unwrap() error {
	return ErrAssertionFailed
}

// Asserter evaluates invariants for one component and operation.
type Asserter struct {
	ctx       context.Context
	logger    log.Logger
	component string
	operation string
}

// New creates an Asserter. A nil logger discards failure logs.
//
//nolint:contextcheck
func New(ctx context.Context, logger log.Logger, component, operation string) *Asserter {
	if ctx == nil {
		ctx = context.Background()
	}

	if nilcheck.Interface(logger) {
		logger = log.NewNop()
	}

	return &Asserter{ctx: ctx, logger: logger, component: component, operation: operation}
}

// That returns an error if ok is false.
func (a *Asserter) That(ctx context.Context, ok bool, msg string, kv ...any) error {
	if ok {
		return nil
	}

	return a.fail(ctx, "That", msg, kv...)
}

// NotNil returns an error if v is nil, including typed nils.
func (a *Asserter) NotNil(ctx context.Context, v any, msg string, kv ...any) error {
	if !nilcheck.Interface(v) {
		return nil
	}

	return a.fail(ctx, "NotNil", msg, kv...)
}

// NotEmpty returns an error if s is empty.
func (a *Asserter) NotEmpty(ctx context.Context, s, msg string, kv ...any) error {
	if s != "" {
		return nil
	}

	return a.fail(ctx, "NotEmpty", msg, kv...)
}

// NoError returns an error if err is not nil.
func (a *Asserter) NoError(ctx context.Context, err error, msg string, kv ...any) error {
	if err == nil {
		return nil
	}

	kv = append([]any{"error", err.Error(), "error_type", fmt.Sprintf("%T", err)}, kv...)

	return a.fail(ctx, "NoError", msg, kv...)
}

// Never always returns an error. Use it on unreachable branches.
func (a *Asserter) Never(ctx context.Context, msg string, kv ...any) error {
	return a.fail(ctx, "Never", msg, kv...)
}

func (a *Asserter) fail(ctx context.Context, assertion, msg string, kv ...any) error {
	if ctx == nil {
		ctx = a.ctx
	}

	fields := make([]log.Field, 0, 3+len(kv)/2+1)
	fields = append(fields,
		log.String("assertion", assertion),
		log.String("component", a.component),
		log.String("operation", a.operation),
	)

	for i := 0; i < len(kv); i += 2 {
		var value any = "MISSING_VALUE"
		if i+1 < len(kv) {
			value = kv[i+1]
		}

		fields = append(fields, log.String(fmt.Sprint(kv[i]), truncateValue(value)))
	}

	a.logger.Log(ctx, log.LevelError, "ASSERTION FAILED: "+msg, fields...)
	recordAssertionToSpan(ctx, assertion, msg, a.component, a.operation)
	recordAssertionMetric(ctx, a.component, a.operation, assertion)

	return &AssertionError{
		Assertion: assertion,
		Message:   msg,
		Component: a.component,
		Operation: a.operation,
	}
}

func truncateValue(v any) string {
	s := fmt.Sprintf("%v", v)
	if len(s) <= maxValueLength {
		return s
	}

	return s[:maxValueLength] + "... (truncated " + strconv.Itoa(len(s)-maxValueLength) + " chars)"
}

func recordAssertionToSpan(ctx context.Context, assertion, message, component, operation string) {
	span := trace.SpanFromContext(ctx)
	if !span.IsRecording() {
		return
	}

	span.AddEvent(AssertionSpanEventName, trace.WithAttributes(
		attribute.String("assertion.name", assertion),
		attribute.String("assertion.message", message),
		attribute.String("assertion.component", component),
		attribute.String("assertion.operation", operation),
	))
	span.RecordError(fmt.Errorf("%w: %s", ErrAssertionFailed, message))
	span.SetStatus(codes.Error, "assertion failed in "+component+"/"+operation)
}

var (
	assertionFactory   *metrics.MetricsFactory
	assertionFactoryMu sync.RWMutex
)

// InitAssertionMetrics makes every Asserter count failures on factory.
// Passing nil disables counting.
func InitAssertionMetrics(factory *metrics.MetricsFactory) {
	assertionFactoryMu.Lock()
	defer assertionFactoryMu.Unlock()

	assertionFactory = factory
}

func recordAssertionMetric(ctx context.Context, component, operation, assertion string) {
	assertionFactoryMu.RLock()
	factory := assertionFactory
	assertionFactoryMu.RUnlock()

	if factory == nil {
		return
	}

	counter, err := factory.Counter(metrics.MetricAssertionFailed)
	if err != nil {
		return
	}

	_ = counter.WithAttributes(
		attribute.String("component", component),
		attribute.String("operation", operation),
		attribute.String("assertion", assertion),
	).AddOne(ctx)
}
