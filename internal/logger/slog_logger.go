package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"slices"
	"time"
)

// traceLevel sits below slog.LevelDebug (-4).
const traceLevel = slog.Level(-8)

// TraceIDKey is the context key used to carry a request trace ID.
type traceIDKey struct{}

// TraceIDKey is the typed context key read by WithContext.
var TraceIDKey = traceIDKey{}

// SlogLogger implements Logger using log/slog.
type SlogLogger struct {
	handler  slog.Handler
	level    slog.Level
	module   string
	timezone *time.Location
	fields   []Field
}

// NewSlogLogger creates a slog-based logger with JSON output.
// A nil writer writes to stdout; a nil timezone means UTC.
func NewSlogLogger(writer io.Writer, level LogLevel, timezone *time.Location) *SlogLogger {
	if writer == nil {
		writer = os.Stdout
	}
	if timezone == nil {
		timezone = time.UTC
	}
	lvl := parseSlogLevel(level)
	return &SlogLogger{
		handler:  slog.NewJSONHandler(writer, &slog.HandlerOptions{Level: lvl, ReplaceAttr: timeInZone(timezone)}),
		level:    lvl,
		timezone: timezone,
		fields:   make([]Field, 0),
	}
}

// NewTextLogger creates a slog-based logger with human-readable key=value output.
func NewTextLogger(writer io.Writer, level LogLevel, timezone *time.Location) *SlogLogger {
	l := NewSlogLogger(writer, level, timezone)
	if writer == nil {
		writer = os.Stdout
	}
	l.handler = slog.NewTextHandler(writer, &slog.HandlerOptions{Level: l.level, ReplaceAttr: timeInZone(l.timezone)})
	return l
}

func timeInZone(tz *time.Location) func(groups []string, a slog.Attr) slog.Attr {
	return func(groups []string, a slog.Attr) slog.Attr {
		if len(groups) == 0 && a.Key == slog.TimeKey && a.Value.Kind() == slog.KindTime {
			return slog.Time(a.Key, a.Value.Time().In(tz))
		}
		if a.Key == slog.LevelKey {
			if lvl, ok := a.Value.Any().(slog.Level); ok && lvl == traceLevel {
				return slog.String(a.Key, "TRACE")
			}
		}
		return a
	}
}

// Module returns a logger scoped to a specific module. Nested modules are
// joined with a dot ("datastore.gorm").
func (l *SlogLogger) Module(name string) Logger {
	if l == nil {
		return nil
	}
	moduleName := name
	if l.module != "" {
		moduleName = l.module + "." + name
	}
	return &SlogLogger{
		handler:  l.handler,
		level:    l.level,
		module:   moduleName,
		timezone: l.timezone,
		fields:   l.fields,
	}
}

func (l *SlogLogger) Trace(msg string, fields ...Field) {
	if l == nil || l.level > traceLevel {
		return
	}
	l.log(traceLevel, msg, fields...)
}

func (l *SlogLogger) Debug(msg string, fields ...Field) {
	if l == nil || l.level > slog.LevelDebug {
		return
	}
	l.log(slog.LevelDebug, msg, fields...)
}

func (l *SlogLogger) Info(msg string, fields ...Field) {
	if l == nil || l.level > slog.LevelInfo {
		return
	}
	l.log(slog.LevelInfo, msg, fields...)
}

func (l *SlogLogger) Warn(msg string, fields ...Field) {
	if l == nil || l.level > slog.LevelWarn {
		return
	}
	l.log(slog.LevelWarn, msg, fields...)
}

func (l *SlogLogger) Error(msg string, fields ...Field) {
	if l == nil {
		return
	}
	l.log(slog.LevelError, msg, fields...)
}

// Log logs a message with explicit level
func (l *SlogLogger) Log(level LogLevel, msg string, fields ...Field) {
	if l == nil {
		return
	}
	lvl := parseSlogLevel(level)
	if l.level > lvl {
		return
	}
	l.log(lvl, msg, fields...)
}

// With returns a new logger with accumulated fields
func (l *SlogLogger) With(fields ...Field) Logger {
	if l == nil {
		return nil
	}
	return &SlogLogger{
		handler:  l.handler,
		level:    l.level,
		module:   l.module,
		timezone: l.timezone,
		fields:   slices.Concat(l.fields, fields),
	}
}

// WithContext returns a logger carrying the trace ID found in ctx, if any.
func (l *SlogLogger) WithContext(ctx context.Context) Logger {
	if l == nil {
		return nil
	}
	if ctx == nil {
		return l
	}
	if traceID, ok := ctx.Value(TraceIDKey).(string); ok && traceID != "" {
		return l.With(String("trace_id", traceID))
	}
	return l
}

// Flush is a no-op; slog handlers write synchronously.
func (l *SlogLogger) Flush() error {
	return nil
}

func (l *SlogLogger) log(level slog.Level, msg string, fields ...Field) {
	attrs := make([]slog.Attr, 0, len(l.fields)+len(fields)+1)
	if l.module != "" {
		attrs = append(attrs, slog.String("module", l.module))
	}
	for _, f := range l.fields {
		attrs = append(attrs, fieldToAttr(f))
	}
	for _, f := range fields {
		attrs = append(attrs, fieldToAttr(f))
	}
	slog.New(l.handler).LogAttrs(context.Background(), level, msg, attrs...)
}

func fieldToAttr(f Field) slog.Attr {
	switch v := f.Value.(type) {
	case string:
		return slog.String(f.Key, v)
	case int:
		return slog.Int(f.Key, v)
	case int64:
		return slog.Int64(f.Key, v)
	case uint64:
		return slog.Uint64(f.Key, v)
	case float64:
		return slog.Float64(f.Key, v)
	case bool:
		return slog.Bool(f.Key, v)
	case time.Time:
		return slog.Time(f.Key, v)
	case time.Duration:
		return slog.Duration(f.Key, v)
	default:
		return slog.Any(f.Key, v)
	}
}

func parseSlogLevel(level LogLevel) slog.Level {
	switch level {
	case LogLevelTrace:
		return traceLevel
	case LogLevelDebug:
		return slog.LevelDebug
	case LogLevelInfo:
		return slog.LevelInfo
	case LogLevelWarn:
		return slog.LevelWarn
	case LogLevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
