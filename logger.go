package colbridge

import (
	"context"
	"io"
	"log/slog"
	"os"
	"time"
)

// Logger wraps slog.Logger with bridge-specific context.
// This provides structured logging with consistent field names.
type Logger struct {
	*slog.Logger
}

// NewLogger creates a new Logger with the given handler.
// If handler is nil, uses default text handler to stderr.
func NewLogger(handler slog.Handler) *Logger {
	if handler == nil {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
	}
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewJSONLogger creates a Logger that outputs JSON-formatted logs.
// level sets the minimum log level (e.g., slog.LevelDebug, slog.LevelInfo).
func NewJSONLogger(level slog.Level) *Logger {
	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewTextLogger creates a Logger that outputs human-readable text logs.
func NewTextLogger(level slog.Level) *Logger {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NoopLogger creates a Logger that discards all log output.
// Use this to disable logging entirely.
func NoopLogger() *Logger {
	return &Logger{
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

// WithInvocation adds the invocation id field to the logger.
func (l *Logger) WithInvocation(id string) *Logger {
	return &Logger{
		Logger: l.Logger.With("invocation", id),
	}
}

// WithTable adds a table field to the logger.
func (l *Logger) WithTable(table string) *Logger {
	return &Logger{
		Logger: l.Logger.With("table", table),
	}
}

// LogTranslate logs the outcome of one fragment translation.
func (l *Logger) LogTranslate(ctx context.Context, err error) {
	if err != nil {
		l.InfoContext(ctx, "fragment not translatable, host falls back",
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "fragment translated")
	}
}

// LogExecute logs the terminal state of one execution.
func (l *Logger) LogExecute(ctx context.Context, rows int64, duration time.Duration, err error) {
	if err != nil {
		l.ErrorContext(ctx, "execution failed",
			"rows", rows,
			"duration", duration,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "execution completed",
			"rows", rows,
			"duration", duration,
		)
	}
}

// LogCancel logs a host-initiated cancellation.
func (l *Logger) LogCancel(ctx context.Context, rows int64) {
	l.InfoContext(ctx, "execution cancelled",
		"rows", rows,
	)
}
