// Package logger provides support for initializing the log system.
package logger

import (
	"context"
	"fmt"
	"io"
	"log"
	"log/slog"
	"path/filepath"
	"runtime"
	"time"
)

// TraceIDFn represents a function that can return the trace id from
// the specified context.
type TraceIDFn func(ctx context.Context) string

// Logger represents a logger for logging information.
type Logger struct {
	discard   bool
	handler   slog.Handler
	traceIDFn TraceIDFn
}

// New constructs a new log for application use.
func New(w io.Writer, minLevel Level, serviceName string, traceIDFn TraceIDFn) *Logger {
	return newLogger(w, minLevel, serviceName, traceIDFn, Events{}, nil)
}

// NewWithEvents constructs a new log for application use with events.
func NewWithEvents(w io.Writer, minLevel Level, serviceName string, traceIDFn TraceIDFn, events Events) *Logger {
	return newLogger(w, minLevel, serviceName, traceIDFn, events, nil)
}

// NewWithMetadata constructs a new log whose every record carries the
// provided metadata as top level attributes.
func NewWithMetadata(
	w io.Writer,
	minLevel Level,
	serviceName string,
	traceIDFn TraceIDFn,
	events Events,
	metadata map[string]string,
) *Logger {
	return newLogger(w, minLevel, serviceName, traceIDFn, events, metadata)
}

// NewWithHandler returns a new log for application use with the underlying
// handler.
func NewWithHandler(h slog.Handler) *Logger { return &Logger{handler: h} }

// Noop returns a logger that discards everything. Used in tests.
func Noop() *Logger {
	return &Logger{discard: true, handler: slog.NewJSONHandler(io.Discard, nil)}
}

// NewStdLogger returns a standard library Logger that wraps the slog Logger.
func NewStdLogger(logger *Logger, level Level) *log.Logger {
	return slog.NewLogLogger(logger.handler, slog.Level(level))
}

// With returns a logger that includes the given attributes on every record.
func (log *Logger) With(args ...any) *Logger {
	if log.discard {
		return log
	}
	r := slog.NewRecord(time.Time{}, 0, "", 0)
	r.Add(args...)

	attrs := make([]slog.Attr, 0, r.NumAttrs())
	r.Attrs(func(a slog.Attr) bool {
		attrs = append(attrs, a)
		return true
	})

	return &Logger{
		handler:   log.handler.WithAttrs(attrs),
		traceIDFn: log.traceIDFn,
	}
}

// Enabled reports whether records at the given level would be written.
func (log *Logger) Enabled(ctx context.Context, level Level) bool {
	if log.discard {
		return false
	}
	return log.handler.Enabled(ctx, slog.Level(level))
}

// Debug logs at LevelDebug with the given context.
func (log *Logger) Debug(ctx context.Context, msg string, args ...any) {
	if log.discard {
		return
	}
	log.write(ctx, LevelDebug, 3, msg, args...)
}

// Info logs at LevelInfo with the given context.
func (log *Logger) Info(ctx context.Context, msg string, args ...any) {
	if log.discard {
		return
	}
	log.write(ctx, LevelInfo, 3, msg, args...)
}

// Warn logs at LevelWarn with the given context.
func (log *Logger) Warn(ctx context.Context, msg string, args ...any) {
	if log.discard {
		return
	}
	log.write(ctx, LevelWarn, 3, msg, args...)
}

// Error logs at LevelError with the given context.
func (log *Logger) Error(ctx context.Context, msg string, args ...any) {
	if log.discard {
		return
	}
	log.write(ctx, LevelError, 3, msg, args...)
}

// Log logs at an arbitrary level.
func (log *Logger) Log(ctx context.Context, level Level, msg string, args ...any) {
	if log.discard {
		return
	}
	log.write(ctx, level, 3, msg, args...)
}

func (log *Logger) write(ctx context.Context, level Level, caller int, msg string, args ...any) {
	slogLevel := slog.Level(level)

	if !log.handler.Enabled(ctx, slogLevel) {
		return
	}

	var pcs [1]uintptr
	runtime.Callers(caller, pcs[:])

	r := slog.NewRecord(time.Now(), slogLevel, msg, pcs[0])

	if log.traceIDFn != nil {
		args = append(args, "trace_id", log.traceIDFn(ctx))
	}
	r.Add(args...)

	_ = log.handler.Handle(ctx, r)
}

func newLogger(
	w io.Writer,
	minLevel Level,
	serviceName string,
	traceIDFn TraceIDFn,
	events Events,
	metadata map[string]string,
) *Logger {
	// Convert the file name to just the name.ext when this key/value will
	// be logged.
	f := func(groups []string, a slog.Attr) slog.Attr {
		if a.Key == slog.SourceKey {
			if source, ok := a.Value.Any().(*slog.Source); ok {
				v := fmt.Sprintf("%s:%d", filepath.Base(source.File), source.Line)
				return slog.Attr{Key: "file", Value: slog.StringValue(v)}
			}
		}

		return a
	}

	// Construct the slog JSON handler for use.
	handler := slog.Handler(slog.NewJSONHandler(w, &slog.HandlerOptions{
		AddSource:   true,
		Level:       slog.Level(minLevel),
		ReplaceAttr: f,
	}))

	// If events are to be processed, wrap the JSON handler around the custom
	// log handler.
	if !events.empty() {
		handler = newLogHandler(handler, events)
	}

	// Attributes to add to every log.
	attrs := []slog.Attr{
		{Key: "service", Value: slog.StringValue(serviceName)},
	}
	for k, v := range metadata {
		if k == "service" || v == "" {
			continue
		}
		attrs = append(attrs, slog.Attr{Key: k, Value: slog.StringValue(v)})
	}

	// Add those attributes and capture the final handler.
	handler = handler.WithAttrs(attrs)

	return &Logger{
		handler:   handler,
		traceIDFn: traceIDFn,
	}
}
