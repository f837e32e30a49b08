package logging

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

// MultiHandler fans a record out to every handler that accepts its level.
type MultiHandler struct {
	mu       *sync.Mutex
	handlers []slog.Handler
}

func NewMultiHandler(handlers ...slog.Handler) *MultiHandler {
	return &MultiHandler{handlers: handlers, mu: &sync.Mutex{}}
}

func (h *MultiHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, dest := range h.handlers {
		if dest.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (h *MultiHandler) Handle(ctx context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	var errs []error
	for _, dest := range h.handlers {
		if !dest.Enabled(ctx, r.Level) {
			continue
		}
		if err := dest.Handle(ctx, r.Clone()); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (h *MultiHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	h2 := *h
	h2.handlers = make([]slog.Handler, len(h.handlers))
	for i, h := range h.handlers {
		h2.handlers[i] = h.WithGroup(name)
	}
	return &h2
}

func (h *MultiHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}
	h2 := *h
	h2.handlers = make([]slog.Handler, len(h.handlers))
	for i, h := range h.handlers {
		h2.handlers[i] = h.WithAttrs(attrs)
	}
	return &h2
}
