// Package logging provides a thin correlation-aware wrapper over log/slog.
package logging

import (
	"context"
	"log/slog"
	"os"
	"strings"
)

// Logger is the minimal contract used by session, registry and API code.
type Logger interface {
	DebugCtx(ctx context.Context, msg string, attrs ...any)
	InfoCtx(ctx context.Context, msg string, attrs ...any)
	WarnCtx(ctx context.Context, msg string, attrs ...any)
	ErrorCtx(ctx context.Context, msg string, attrs ...any)
}

type correlatedLogger struct{ base *slog.Logger }

// New wraps base (or slog.Default() if nil) in a correlation-aware Logger.
func New(base *slog.Logger) Logger {
	if base == nil {
		base = slog.Default()
	}
	return &correlatedLogger{base: base}
}

// NewFromLevel builds a Logger writing JSON to stderr at the given level name
// (DEBUG|INFO|WARN|ERROR, case-insensitive; unrecognised values fall back to INFO).
func NewFromLevel(levelName string) Logger {
	return New(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: ParseLevel(levelName)})))
}

// ParseLevel maps an env-style level name to a slog.Level.
func ParseLevel(levelName string) slog.Level {
	switch strings.ToUpper(strings.TrimSpace(levelName)) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func correlate(ctx context.Context, attrs []any) []any {
	traceID, spanID := extractIDs(ctx)
	if traceID != "" {
		attrs = append(attrs, slog.String("trace_id", traceID))
	}
	if spanID != "" {
		attrs = append(attrs, slog.String("span_id", spanID))
	}
	return attrs
}

func (l *correlatedLogger) DebugCtx(ctx context.Context, msg string, attrs ...any) {
	l.base.DebugContext(ctx, msg, correlate(ctx, attrs)...)
}

func (l *correlatedLogger) InfoCtx(ctx context.Context, msg string, attrs ...any) {
	l.base.InfoContext(ctx, msg, correlate(ctx, attrs)...)
}

func (l *correlatedLogger) WarnCtx(ctx context.Context, msg string, attrs ...any) {
	l.base.WarnContext(ctx, msg, correlate(ctx, attrs)...)
}

func (l *correlatedLogger) ErrorCtx(ctx context.Context, msg string, attrs ...any) {
	l.base.ErrorContext(ctx, msg, correlate(ctx, attrs)...)
}
