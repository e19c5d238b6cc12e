package logging

import (
	"context"
	"log/slog"

	"github.com/radarzone/companion/pkg/core"
)

// ContextProvider returns attributes evaluated at the moment a record is
// handled.
type ContextProvider func() []slog.Attr

// ContextHandler stamps each record with its provider's attributes before
// passing it on. An attribute already on the record keeps its value; the
// provided one with the same key is skipped.
type ContextHandler struct {
	next     slog.Handler
	provider ContextProvider
}

func NewContextHandler(next slog.Handler, provider ContextProvider) *ContextHandler {
	return &ContextHandler{next: next, provider: provider}
}

func (h *ContextHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *ContextHandler) Handle(ctx context.Context, r slog.Record) error {
	if h.provider == nil {
		return h.next.Handle(ctx, r)
	}
	extra := h.provider()
	if len(extra) == 0 {
		return h.next.Handle(ctx, r)
	}

	own := make(map[string]struct{}, r.NumAttrs())
	r.Attrs(func(a slog.Attr) bool {
		own[a.Key] = struct{}{}
		return true
	})
	for _, a := range extra {
		if _, dup := own[a.Key]; !dup {
			r.AddAttrs(a)
		}
	}
	return h.next.Handle(ctx, r)
}

func (h *ContextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}
	return h.wrap(h.next.WithAttrs(attrs))
}

func (h *ContextHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	return h.wrap(h.next.WithGroup(name))
}

func (h *ContextHandler) wrap(next slog.Handler) *ContextHandler {
	return &ContextHandler{next: next, provider: h.provider}
}

// ConnectionContext tags records with the connection state, plus the failure
// count while it is non-zero. status must not block.
func ConnectionContext(status func() core.ConnectionStatus) ContextProvider {
	return func() []slog.Attr {
		st := status()
		if st.Failures == 0 {
			return []slog.Attr{slog.String("conn", st.State.String())}
		}
		return []slog.Attr{
			slog.String("conn", st.State.String()),
			slog.Int("failures", st.Failures),
		}
	}
}
