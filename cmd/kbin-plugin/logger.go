package main

import (
	"context"
	"log/slog"

	"github.com/redpanda-data/benthos/v4/public/service"
)

// serviceHandler is a slog.Handler writing to a Benthos logger, so session
// logs follow the pipeline's logging config.
type serviceHandler struct {
	logger *service.Logger
	attrs  []any
	prefix string
}

func newServiceHandler(logger *service.Logger) *serviceHandler {
	return &serviceHandler{logger: logger}
}

// Enabled defers level filtering to the Benthos logger
func (h *serviceHandler) Enabled(context.Context, slog.Level) bool {
	return true
}

func (h *serviceHandler) Handle(_ context.Context, r slog.Record) error {
	logger := h.logger
	if kv := h.pairs(r); len(kv) > 0 {
		logger = logger.With(kv...)
	}
	switch {
	case r.Level >= slog.LevelError:
		logger.Error(r.Message)
	case r.Level >= slog.LevelWarn:
		logger.Warn(r.Message)
	case r.Level >= slog.LevelInfo:
		logger.Info(r.Message)
	default:
		logger.Debug(r.Message)
	}
	return nil
}

// pairs flattens the handler and record attributes into key/value pairs
func (h *serviceHandler) pairs(r slog.Record) []any {
	kv := append([]any(nil), h.attrs...)
	r.Attrs(func(a slog.Attr) bool {
		kv = append(kv, h.prefix+a.Key, a.Value.Resolve().Any())
		return true
	})
	return kv
}

func (h *serviceHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := *h
	next.attrs = append([]any(nil), h.attrs...)
	for _, a := range attrs {
		next.attrs = append(next.attrs, h.prefix+a.Key, a.Value.Resolve().Any())
	}
	return &next
}

func (h *serviceHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	next := *h
	next.prefix = h.prefix + name + "."
	return &next
}
