//go:build unit

package runtime

import (
	"bytes"
	"context"
	"errors"
	stdlog "log"
	"testing"

	"github.com/LerianStudio/lib-ledger/ledger/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func newBufferedLogger() (*log.GoLogger, *bytes.Buffer) {
	var buf bytes.Buffer

	l := log.NewGoLogger(log.LevelDebug)
	l.Output = stdlog.New(&buf, "", 0)

	return l, &buf
}

func TestRecoverAndLog_SwallowsPanic(t *testing.T) {
	logger, buf := newBufferedLogger()

	require.NotPanics(t, func() {
		defer RecoverAndLog(context.Background(), logger, "transfer", "worker")
		panic("boom")
	})

	assert.Contains(t, buf.String(), "panic recovered")
	assert.Contains(t, buf.String(), "panic.value=boom")
	assert.Contains(t, buf.String(), "source=worker")
}

func TestHandlePanicValue_NilValueIsIgnored(t *testing.T) {
	logger, buf := newBufferedLogger()

	HandlePanicValue(context.Background(), logger, nil, "transfer", "worker")

	assert.Empty(t, buf.String())
}

func TestHandlePanicValue_NilLoggerAndContext(t *testing.T) {
	require.NotPanics(t, func() {
		//nolint:staticcheck // nil context is part of the contract
		HandlePanicValue(nil, nil, errors.New("x"), "transfer", "worker")
	})
}

func TestHandlePanicValue_RecordsSpanEvent(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))

	ctx, span := tp.Tracer("test").Start(context.Background(), "op")
	HandlePanicValue(ctx, log.NewNop(), errors.New("kaboom"), "transfer", "worker")
	span.End()

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	require.Len(t, spans[0].Events(), 1)
	assert.Equal(t, panicEventName, spans[0].Events()[0].Name)
}

func TestHandlePanicValue_ProductionRedacts(t *testing.T) {
	SetProductionMode(true)
	t.Cleanup(func() { SetProductionMode(false) })

	logger, buf := newBufferedLogger()
	HandlePanicValue(context.Background(), logger, "card 4111", "transfer", "worker")

	assert.NotContains(t, buf.String(), "4111")
	assert.Contains(t, buf.String(), "details redacted")
}
