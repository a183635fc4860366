package logger

import (
	"context"
	"io"
	"log/slog"
	"sync"
)

type logFormat int

const (
	formatJSON logFormat = iota
	formatKV
)

// contextHandler wraps a stdlib slog handler and injects correlation
// attributes (rid, update/user/chat ids, handler) carried in context, so
// call sites never need to repeat them per record.
type contextHandler struct {
	inner slog.Handler
}

func newContextHandler(w io.Writer, level slog.Leveler, format logFormat) slog.Handler {
	opts := &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if len(groups) == 0 && a.Key == slog.TimeKey {
				a.Key = "ts"
			}
			if len(groups) == 0 && a.Key == slog.MessageKey && a.Value.String() == "" {
				return slog.Attr{}
			}
			return a
		},
	}
	w = &lockedWriter{w: w}
	var inner slog.Handler
	if format == formatKV {
		inner = slog.NewTextHandler(w, opts)
	} else {
		inner = slog.NewJSONHandler(w, opts)
	}
	return &contextHandler{inner: inner}
}

func (h *contextHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *contextHandler) Handle(ctx context.Context, rec slog.Record) error {
	if ctx != nil {
		if rid := RIDFrom(ctx); rid != "" {
			rec.AddAttrs(slog.String("rid", CompactRID(rid)))
		}
		if updateID := UpdateIDFrom(ctx); updateID != 0 {
			rec.AddAttrs(slog.Int("update_id", updateID))
		}
		if userID := UserIDFrom(ctx); userID != 0 {
			rec.AddAttrs(slog.Int64("user_id", userID))
		}
		if chatID := ChatIDFrom(ctx); chatID != 0 {
			rec.AddAttrs(slog.Int64("chat_id", chatID))
		}
		if handler := HandlerFrom(ctx); handler != "" {
			rec.AddAttrs(slog.String("handler", handler))
		}
	}
	return h.inner.Handle(ctx, rec)
}

func (h *contextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &contextHandler{inner: h.inner.WithAttrs(attrs)}
}

func (h *contextHandler) WithGroup(name string) slog.Handler {
	return &contextHandler{inner: h.inner.WithGroup(name)}
}

// lockedWriter serializes writes from concurrent handler calls across
// multiplexed sinks.
type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}
