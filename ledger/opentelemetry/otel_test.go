//go:build unit

package opentelemetry

import (
	"context"
	"errors"
	"testing"

	"github.com/LerianStudio/lib-ledger/ledger/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestInitializeTelemetry_Validation(t *testing.T) {
	_, err := InitializeTelemetry(context.Background(), nil)
	assert.ErrorIs(t, err, ErrNilTelemetryConfig)

	_, err = InitializeTelemetry(context.Background(), &TelemetryConfig{})
	assert.ErrorIs(t, err, ErrNilTelemetryLogger)
}

func TestInitializeTelemetry_Disabled(t *testing.T) {
	tl, err := InitializeTelemetry(context.Background(), &TelemetryConfig{
		LibraryName: "ledger-test",
		Logger:      log.NewNop(),
	})
	require.NoError(t, err)
	require.NotNil(t, tl.MetricsFactory)
	require.NotNil(t, tl.Tracer())

	assert.NoError(t, tl.MetricsFactory.RecordTransferOutcome(context.Background(), "COMMITTED", "checkpoint"))
	tl.ShutdownTelemetry(context.Background())
}

func TestHandleSpanHelpers(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))

	_, span := tp.Tracer("test").Start(context.Background(), "transfer")
	HandleSpanBusinessErrorEvent(&span, "insufficient funds", errors.New("0018"))
	HandleSpanError(&span, "credit failed", errors.New("store down"))
	HandleSpanError(nil, "ignored", errors.New("x"))
	span.End()

	ended := recorder.Ended()
	require.Len(t, ended, 1)
	assert.Equal(t, codes.Error, ended[0].Status().Code)
	assert.Equal(t, "credit failed: store down", ended[0].Status().Description)

	names := []string{}
	for _, e := range ended[0].Events() {
		names = append(names, e.Name)
	}

	assert.Contains(t, names, "insufficient funds")
}

func TestQueueHeadersRoundTrip(t *testing.T) {
	prev := otel.GetTextMapPropagator()
	otel.SetTextMapPropagator(propagation.TraceContext{})
	t.Cleanup(func() { otel.SetTextMapPropagator(prev) })

	tp := sdktrace.NewTracerProvider()
	ctx, span := tp.Tracer("test").Start(context.Background(), "publish")
	defer span.End()

	base := map[string]any{"transfer_id": "abc"}
	headers := PrepareQueueHeaders(ctx, base)

	assert.Len(t, base, 1)
	assert.Equal(t, "abc", headers["transfer_id"])
	assert.Contains(t, headers, "traceparent")

	extracted := ExtractTraceContextFromQueueHeaders(context.Background(), headers)
	assert.Equal(t, GetTraceIDFromContext(ctx), GetTraceIDFromContext(extracted))
	assert.NotEmpty(t, GetTraceIDFromContext(ctx))
}

func TestSanitizeUTF8String(t *testing.T) {
	assert.Equal(t, "ok", sanitizeUTF8String("ok"))
	assert.Equal(t, "a�b", sanitizeUTF8String("a\xffb"))
}
