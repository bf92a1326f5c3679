// Package log provides a slog setup with context-carried attributes.
// Attributes attached via ContextAttrs are emitted by every log call
// made with that context, so per-check and per-host identifiers ride
// along without threading loggers through call chains.
package log

import (
	"context"
	"log/slog"
	"os"
)

type ctxKey struct{}

// New returns a JSON logger writing to stderr. Verbose enables debug level.
func New(verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	base := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	return slog.New(NewContextHandler(base))
}

// ContextAttrs returns a context carrying attrs in addition to any attrs
// already present. Nil or empty attrs return a context equal in behavior
// to the parent.
func ContextAttrs(ctx context.Context, attrs ...slog.Attr) context.Context {
	if len(attrs) == 0 {
		return ctx
	}
	existing, _ := ctx.Value(ctxKey{}).([]slog.Attr)
	merged := make([]slog.Attr, 0, len(existing)+len(attrs))
	merged = append(merged, existing...)
	merged = append(merged, attrs...)
	return context.WithValue(ctx, ctxKey{}, merged)
}

// ContextHandler is a slog.Handler decorator appending attributes stored
// in the context by ContextAttrs to every record.
type ContextHandler struct {
	base slog.Handler
}

func NewContextHandler(base slog.Handler) ContextHandler {
	return ContextHandler{base: base}
}

func (h ContextHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.base.Enabled(ctx, level)
}

func (h ContextHandler) Handle(ctx context.Context, r slog.Record) error {
	if attrs, ok := ctx.Value(ctxKey{}).([]slog.Attr); ok {
		r.AddAttrs(attrs...)
	}
	return h.base.Handle(ctx, r)
}

func (h ContextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return ContextHandler{base: h.base.WithAttrs(attrs)}
}

func (h ContextHandler) WithGroup(name string) slog.Handler {
	return ContextHandler{base: h.base.WithGroup(name)}
}
