package opentelemetry

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	constant "github.com/LerianStudio/lib-ledger/ledger/constants"
	"github.com/LerianStudio/lib-ledger/ledger/internal/nilcheck"
	"github.com/LerianStudio/lib-ledger/ledger/log"
	"github.com/LerianStudio/lib-ledger/ledger/opentelemetry/metrics"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdkresource "go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

var (
	// ErrNilTelemetryConfig indicates that nil config was provided to InitializeTelemetry
	ErrNilTelemetryConfig = errors.New("telemetry config cannot be nil")
	// ErrNilTelemetryLogger indicates that config.Logger is nil
	ErrNilTelemetryLogger = errors.New("telemetry config logger cannot be nil")
)

// TelemetryConfig configures the OTLP pipeline.
type TelemetryConfig struct {
	LibraryName               string
	ServiceName               string
	ServiceVersion            string
	DeploymentEnv             string
	CollectorExporterEndpoint string
	EnableTelemetry           bool
	Logger                    log.Logger
}

// Telemetry holds the providers built by InitializeTelemetry.
type Telemetry struct {
	TelemetryConfig
	TracerProvider *sdktrace.TracerProvider
	MetricProvider *sdkmetric.MeterProvider
	MetricsFactory *metrics.MetricsFactory
	shutdown       func(ctx context.Context)
}

func (tl *TelemetryConfig) newResource() *sdkresource.Resource {
	return sdkresource.NewSchemaless(
		attribute.String("service.name", tl.ServiceName),
		attribute.String("service.version", tl.ServiceVersion),
		attribute.String("deployment.environment.name", tl.DeploymentEnv),
		attribute.String("telemetry.sdk.name", constant.TelemetrySDKName),
		attribute.String("telemetry.sdk.language", "go"),
	)
}

// Tracer returns the tracer for the configured library name.
//
//nolint:ireturn
func (tl *Telemetry) Tracer() trace.Tracer {
	return tl.TracerProvider.Tracer(tl.LibraryName)
}

// ShutdownTelemetry flushes and stops the providers and exporters.
func (tl *Telemetry) ShutdownTelemetry(ctx context.Context) {
	if tl == nil || tl.shutdown == nil {
		return
	}

	tl.shutdown(ctx)
}

// InitializeTelemetry builds the trace and metric providers and installs them
// globally. With EnableTelemetry false it returns local providers that export
// nothing, so callers can use the result unconditionally.
func InitializeTelemetry(ctx context.Context, cfg *TelemetryConfig) (*Telemetry, error) {
	if cfg == nil {
		return nil, ErrNilTelemetryConfig
	}

	if nilcheck.Interface(cfg.Logger) {
		return nil, ErrNilTelemetryLogger
	}

	l := cfg.Logger

	if !cfg.EnableTelemetry {
		l.Log(ctx, log.LevelWarn, "telemetry turned off")

		mp := sdkmetric.NewMeterProvider()
		tp := sdktrace.NewTracerProvider()

		factory, err := metrics.NewMetricsFactory(mp.Meter(cfg.LibraryName), l)
		if err != nil {
			return nil, err
		}

		return &Telemetry{
			TelemetryConfig: *cfg,
			TracerProvider:  tp,
			MetricProvider:  mp,
			MetricsFactory:  factory,
			shutdown:        func(context.Context) {},
		}, nil
	}

	l.Log(ctx, log.LevelInfo, "initializing telemetry", log.String("endpoint", cfg.CollectorExporterEndpoint))

	r := cfg.newResource()

	tExp, err := otlptracegrpc.New(ctx, otlptracegrpc.WithEndpoint(cfg.CollectorExporterEndpoint), otlptracegrpc.WithInsecure())
	if err != nil {
		return nil, fmt.Errorf("can't initialize tracer exporter: %w", err)
	}

	mExp, err := otlpmetricgrpc.New(ctx, otlpmetricgrpc.WithEndpoint(cfg.CollectorExporterEndpoint), otlpmetricgrpc.WithInsecure())
	if err != nil {
		_ = tExp.Shutdown(ctx)

		return nil, fmt.Errorf("can't initialize metric exporter: %w", err)
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(r),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(mExp)),
	)
	otel.SetMeterProvider(mp)

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(tExp),
		sdktrace.WithResource(r),
	)
	otel.SetTracerProvider(tp)

	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))

	factory, err := metrics.NewMetricsFactory(mp.Meter(cfg.LibraryName), l)
	if err != nil {
		return nil, err
	}

	shutdownHandler := func(ctx context.Context) {
		if err := mp.Shutdown(ctx); err != nil {
			l.Log(ctx, log.LevelError, "can't shutdown metric provider", log.Err(err))
		}

		if err := tp.Shutdown(ctx); err != nil {
			l.Log(ctx, log.LevelError, "can't shutdown tracer provider", log.Err(err))
		}
	}

	l.Log(ctx, log.LevelInfo, "telemetry initialized")

	return &Telemetry{
		TelemetryConfig: *cfg,
		TracerProvider:  tp,
		MetricProvider:  mp,
		MetricsFactory:  factory,
		shutdown:        shutdownHandler,
	}, nil
}

// HandleSpanBusinessErrorEvent adds a business error event to the span.
// The span status is left untouched: a business rejection is not a fault.
func HandleSpanBusinessErrorEvent(span *trace.Span, eventName string, err error) {
	if span != nil && err != nil {
		(*span).AddEvent(eventName, trace.WithAttributes(attribute.String("error", sanitizeUTF8String(err.Error()))))
	}
}

// HandleSpanEvent adds an event to the span.
func HandleSpanEvent(span *trace.Span, eventName string, attributes ...attribute.KeyValue) {
	if span != nil {
		(*span).AddEvent(eventName, trace.WithAttributes(attributes...))
	}
}

// HandleSpanError sets the status of the span to error and records the error.
func HandleSpanError(span *trace.Span, message string, err error) {
	if span != nil && err != nil {
		(*span).SetStatus(codes.Error, message+": "+sanitizeUTF8String(err.Error()))
		(*span).RecordError(err)
	}
}

// PrepareQueueHeaders returns baseHeaders plus the W3C trace headers for ctx.
// baseHeaders is not modified.
func PrepareQueueHeaders(ctx context.Context, baseHeaders map[string]any) map[string]any {
	headers := make(map[string]any, len(baseHeaders)+2)
	for k, v := range baseHeaders {
		headers[k] = v
	}

	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)

	for k, v := range carrier {
		headers[k] = v
	}

	return headers
}

// ExtractTraceContextFromQueueHeaders returns baseCtx enriched with any trace
// context found among the string values of amqpHeaders.
func ExtractTraceContextFromQueueHeaders(baseCtx context.Context, amqpHeaders map[string]any) context.Context {
	if len(amqpHeaders) == 0 {
		return baseCtx
	}

	carrier := propagation.MapCarrier{}

	for k, v := range amqpHeaders {
		if s, ok := v.(string); ok {
			carrier[strings.ToLower(k)] = s
		}
	}

	return otel.GetTextMapPropagator().Extract(baseCtx, carrier)
}

// GetTraceIDFromContext returns the active trace id, or "" when there is none.
func GetTraceIDFromContext(ctx context.Context) string {
	sc := trace.SpanFromContext(ctx).SpanContext()
	if !sc.HasTraceID() {
		return ""
	}

	return sc.TraceID().String()
}

func sanitizeUTF8String(s string) string {
	if utf8.ValidString(s) {
		return s
	}

	return strings.ToValidUTF8(s, "�")
}
