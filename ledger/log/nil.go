package log

import "context"

// NopLogger discards everything. Packages fall back to it when no logger is
// configured.
type NopLogger struct{}

// NewNop returns a NopLogger.
func NewNop() Logger {
	return &NopLogger{}
}

func (l *NopLogger) Log(context.Context, Level, string, ...Field) {}

//nolint:ireturn
func (l *NopLogger) With(...Field) Logger { return l }

//nolint:ireturn
func (l *NopLogger) WithGroup(string) Logger { return l }

// Enabled is false for every level, so callers skip building fields.
func (l *NopLogger) Enabled(Level) bool { return false }

func (l *NopLogger) Sync(context.Context) error { return nil }
