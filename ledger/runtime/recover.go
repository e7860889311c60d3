package runtime

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync/atomic"

	"github.com/LerianStudio/lib-ledger/ledger/internal/nilcheck"
	"github.com/LerianStudio/lib-ledger/ledger/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	panicEventName   = "panic.recovered"
	redactedPanicMsg = "panic recovered (details redacted)"
)

var productionMode atomic.Bool

// SetProductionMode toggles redaction of panic values and stacks.
func SetProductionMode(enabled bool) {
	productionMode.Store(enabled)
}

// IsProductionMode reports whether panic details are redacted.
func IsProductionMode() bool {
	return productionMode.Load()
}

// RecoverAndLog recovers a panic in the calling goroutine and reports it.
// It must be deferred directly.
//
//	defer runtime.RecoverAndLog(ctx, logger, "transfer", "batch_worker")
func RecoverAndLog(ctx context.Context, logger log.Logger, component, name string) {
	if r := recover(); r != nil {
		HandlePanicValue(ctx, logger, r, component, name)
	}
}

// HandlePanicValue reports a panic value already obtained from recover().
func HandlePanicValue(ctx context.Context, logger log.Logger, panicValue any, component, name string) {
	if panicValue == nil {
		return
	}

	if ctx == nil {
		ctx = context.Background()
	}

	stack := debug.Stack()
	value := formatPanicValue(panicValue)

	if IsProductionMode() {
		value = redactedPanicMsg
		stack = nil
	}

	if !nilcheck.Interface(logger) {
		logger.Log(ctx, log.LevelError, "panic recovered",
			log.String("component", component),
			log.String("source", name),
			log.String("panic.value", value),
			log.String("stack_trace", string(stack)),
		)
	}

	span := trace.SpanFromContext(ctx)
	if !span.IsRecording() {
		return
	}

	span.AddEvent(panicEventName, trace.WithAttributes(
		attribute.String("panic.component", component),
		attribute.String("panic.source", name),
		attribute.String("panic.value", value),
	))
	span.SetStatus(codes.Error, "panic recovered in "+name)
}

func formatPanicValue(value any) string {
	switch v := value.(type) {
	case error:
		return v.Error()
	case string:
		return v
	default:
		return fmt.Sprintf("%v", v)
	}
}
