package logger

import (
	"context"
	"sync"
)

// LoggerContext accumulates attributes over the lifetime of an operation so
// that every subsequent record carries what has been learned so far.
type LoggerContext struct {
	mu     sync.Mutex
	base   *Logger
	fields []any
}

// NewLoggerContext wraps base in a LoggerContext.
func NewLoggerContext(base *Logger) *LoggerContext {
	return &LoggerContext{base: base}
}

// Add appends key/value pairs that will be attached to every later record.
func (lc *LoggerContext) Add(args ...any) {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	lc.fields = append(lc.fields, args...)
}

func (lc *LoggerContext) args(args []any) []any {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	out := make([]any, 0, len(lc.fields)+len(args))
	out = append(out, lc.fields...)
	return append(out, args...)
}

// Debug logs at LevelDebug with the accumulated attributes.
func (lc *LoggerContext) Debug(ctx context.Context, msg string, args ...any) {
	if lc.base.discard {
		return
	}
	lc.base.write(ctx, LevelDebug, 3, msg, lc.args(args)...)
}

// Info logs at LevelInfo with the accumulated attributes.
func (lc *LoggerContext) Info(ctx context.Context, msg string, args ...any) {
	if lc.base.discard {
		return
	}
	lc.base.write(ctx, LevelInfo, 3, msg, lc.args(args)...)
}

// Warn logs at LevelWarn with the accumulated attributes.
func (lc *LoggerContext) Warn(ctx context.Context, msg string, args ...any) {
	if lc.base.discard {
		return
	}
	lc.base.write(ctx, LevelWarn, 3, msg, lc.args(args)...)
}

// Error logs at LevelError with the accumulated attributes.
func (lc *LoggerContext) Error(ctx context.Context, msg string, args ...any) {
	if lc.base.discard {
		return
	}
	lc.base.write(ctx, LevelError, 3, msg, lc.args(args)...)
}
