package zap

import (
	"context"

	logpkg "github.com/LerianStudio/lib-ledger/ledger/log"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is a structured logger that implements log.Logger on top of zap.
type Logger struct {
	logger      *zap.Logger
	atomicLevel zap.AtomicLevel
}

// Compile-time assertion: *Logger implements logpkg.Logger.
var _ logpkg.Logger = (*Logger)(nil)

// Wrap adapts an existing zap logger (for example one built in tests).
func Wrap(logger *zap.Logger) *Logger {
	return &Logger{logger: logger, atomicLevel: zap.NewAtomicLevel()}
}

func (l *Logger) must() *zap.Logger {
	if l == nil || l.logger == nil {
		return zap.NewNop()
	}

	return l.logger
}

// Log implements log.Logger. If ctx carries an active OpenTelemetry span,
// trace_id and span_id are appended so logs correlate with traces.
func (l *Logger) Log(ctx context.Context, level logpkg.Level, msg string, fields ...logpkg.Field) {
	zapFields := logFieldsToZap(fields)

	if ctx != nil {
		if sc := trace.SpanFromContext(ctx).SpanContext(); sc.IsValid() {
			zapFields = append(zapFields,
				zap.String("trace_id", sc.TraceID().String()),
				zap.String("span_id", sc.SpanID().String()),
			)
		}
	}

	if ce := l.must().Check(logLevelToZap(level), msg); ce != nil {
		ce.Write(zapFields...)
	}
}

// With returns a child logger with additional structured fields.
//
//nolint:ireturn
func (l *Logger) With(fields ...logpkg.Field) logpkg.Logger {
	return &Logger{
		logger:      l.must().With(logFieldsToZap(fields)...),
		atomicLevel: l.Level(),
	}
}

// WithGroup returns a child logger that nests subsequent fields under a namespace.
//
//nolint:ireturn
func (l *Logger) WithGroup(name string) logpkg.Logger {
	return &Logger{
		logger:      l.must().With(zap.Namespace(name)),
		atomicLevel: l.Level(),
	}
}

// Enabled reports whether the logger would emit a log at the given level.
func (l *Logger) Enabled(level logpkg.Level) bool {
	return l.must().Core().Enabled(logLevelToZap(level))
}

// Sync flushes buffered logs, respecting context cancellation.
func (l *Logger) Sync(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	done := make(chan error, 1)

	go func() {
		done <- l.must().Sync()
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		return err
	}
}

// Raw returns the underlying zap logger.
func (l *Logger) Raw() *zap.Logger {
	return l.must()
}

// Level returns the runtime-adjustable level handle for this logger.
func (l *Logger) Level() zap.AtomicLevel {
	if l == nil {
		return zap.NewAtomicLevel()
	}

	return l.atomicLevel
}

// logLevelToZap converts a log.Level to a zapcore.Level.
func logLevelToZap(level logpkg.Level) zapcore.Level {
	switch level {
	case logpkg.LevelDebug:
		return zapcore.DebugLevel
	case logpkg.LevelInfo:
		return zapcore.InfoLevel
	case logpkg.LevelWarn:
		return zapcore.WarnLevel
	case logpkg.LevelError:
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// logFieldsToZap converts log.Field values to zap.Field values. Decimals are
// encoded as strings so amounts keep their exact scale in JSON output.
func logFieldsToZap(fields []logpkg.Field) []zap.Field {
	zapFields := make([]zap.Field, len(fields))

	for i, f := range fields {
		switch v := f.Value.(type) {
		case error:
			zapFields[i] = zap.NamedError(f.Key, v)
		case decimal.Decimal:
			zapFields[i] = zap.String(f.Key, v.String())
		default:
			zapFields[i] = zap.Any(f.Key, v)
		}
	}

	return zapFields
}
