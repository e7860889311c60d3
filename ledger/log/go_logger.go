package log

import (
	"context"
	"fmt"
	stdlog "log"
	"strings"
)

// logControlCharReplacer escapes control characters that can be used for log injection (CWE-117).
var logControlCharReplacer = strings.NewReplacer(
	"\n", `\n`,
	"\r", `\r`,
	"\t", `\t`,
)

// sanitizeLogString escapes control characters in a single string value.
func sanitizeLogString(s string) string {
	return logControlCharReplacer.Replace(s)
}

// GoLogger is the Go built-in (log) implementation of Logger interface.
//
// All string values are sanitized to prevent log injection (CWE-117).
// A nil Output writes through the standard library default logger.
type GoLogger struct {
	Level  Level
	Output *stdlog.Logger
	fields []Field
	group  string
}

// Compile-time assertion: *GoLogger implements Logger.
var _ Logger = (*GoLogger)(nil)

// NewGoLogger creates a stdlib-backed logger at the given verbosity.
func NewGoLogger(level Level) *GoLogger {
	return &GoLogger{Level: level}
}

// Enabled reports whether the given level passes the verbosity ceiling.
func (l *GoLogger) Enabled(level Level) bool {
	if l == nil {
		return false
	}

	return l.Level >= level
}

// Log writes one line: "[level] msg key=value ...".
func (l *GoLogger) Log(_ context.Context, level Level, msg string, fields ...Field) {
	if !l.Enabled(level) {
		return
	}

	l.output().Print(l.render(level, msg, fields))
}

// With returns a child logger carrying additional fields.
//
//nolint:ireturn
func (l *GoLogger) With(fields ...Field) Logger {
	if l == nil {
		return &GoLogger{}
	}

	merged := make([]Field, 0, len(l.fields)+len(fields))
	merged = append(merged, l.fields...)

	for _, f := range fields {
		merged = append(merged, l.qualify(f))
	}

	return &GoLogger{
		Level:  l.Level,
		Output: l.Output,
		fields: merged,
		group:  l.group,
	}
}

// WithGroup returns a child logger whose subsequent field keys are prefixed by name.
//
//nolint:ireturn
func (l *GoLogger) WithGroup(name string) Logger {
	if l == nil {
		return &GoLogger{}
	}

	group := strings.TrimSpace(name)
	if l.group != "" && group != "" {
		group = l.group + "." + group
	} else if group == "" {
		group = l.group
	}

	return &GoLogger{
		Level:  l.Level,
		Output: l.Output,
		fields: l.fields,
		group:  group,
	}
}

// Sync is a no-op: the standard library logger is unbuffered.
func (l *GoLogger) Sync(_ context.Context) error { return nil }

func (l *GoLogger) output() *stdlog.Logger {
	if l.Output != nil {
		return l.Output
	}

	return stdlog.Default()
}

func (l *GoLogger) qualify(f Field) Field {
	if l.group == "" {
		return f
	}

	return Field{Key: l.group + "." + f.Key, Value: f.Value}
}

func (l *GoLogger) render(level Level, msg string, fields []Field) string {
	parts := make([]string, 0, 2+len(l.fields)+len(fields))
	parts = append(parts, fmt.Sprintf("[%s]", level.String()), sanitizeLogString(msg))

	for _, f := range l.fields {
		parts = append(parts, renderField(f))
	}

	for _, f := range fields {
		parts = append(parts, renderField(l.qualify(f)))
	}

	return strings.Join(parts, " ")
}

func renderField(f Field) string {
	return sanitizeLogString(f.Key) + "=" + sanitizeLogString(fmt.Sprint(f.Value))
}
