package logging

import (
	"context"
	"log/slog"
)

// CapturingHandler wraps an slog.Handler to capture log records into a
// Collector while passing them through to the underlying handler. It is used
// to attach per-adaptor step output to submission records.
type CapturingHandler struct {
	underlying slog.Handler
	collector  *Collector
	adaptor    string      // every captured record is filed under this key
	attrs      []slog.Attr // attributes added via WithAttrs
}

// NewCapturingHandler creates a handler that captures records for the named
// adaptor into collector while forwarding them to underlying.
func NewCapturingHandler(underlying slog.Handler, collector *Collector, adaptor string) *CapturingHandler {
	return &CapturingHandler{
		underlying: underlying,
		collector:  collector,
		adaptor:    adaptor,
	}
}

// Enabled always returns true so that every level is captured, even ones the
// underlying handler filters out of its own output.
func (h *CapturingHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return true
}

// Handle captures the record and then passes it to the underlying handler.
func (h *CapturingHandler) Handle(ctx context.Context, r slog.Record) error {
	entry := Entry{
		Time:       r.Time,
		Level:      r.Level.String(),
		Message:    r.Message,
		Attributes: make(map[string]any, r.NumAttrs()+len(h.attrs)),
	}

	for _, attr := range h.attrs {
		entry.Attributes[attr.Key] = resolveValue(attr.Value)
	}
	r.Attrs(func(a slog.Attr) bool {
		entry.Attributes[a.Key] = resolveValue(a.Value)
		return true
	})

	h.collector.Add(h.adaptor, entry)

	if h.underlying.Enabled(ctx, r.Level) {
		return h.underlying.Handle(ctx, r)
	}
	return nil
}

// WithAttrs returns a new CapturingHandler carrying the additional attributes.
// It must return a CapturingHandler, not the underlying handler, so capture
// survives .With() chains.
func (h *CapturingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	newAttrs := make([]slog.Attr, len(h.attrs)+len(attrs))
	copy(newAttrs, h.attrs)
	copy(newAttrs[len(h.attrs):], attrs)

	return &CapturingHandler{
		underlying: h.underlying.WithAttrs(attrs),
		collector:  h.collector,
		adaptor:    h.adaptor,
		attrs:      newAttrs,
	}
}

// WithGroup returns a new CapturingHandler with the group applied to the
// underlying handler. Captured attributes are kept flat.
func (h *CapturingHandler) WithGroup(name string) slog.Handler {
	return &CapturingHandler{
		underlying: h.underlying.WithGroup(name),
		collector:  h.collector,
		adaptor:    h.adaptor,
		attrs:      h.attrs,
	}
}

// resolveValue converts an slog.Value to a plain Go value for JSON encoding.
func resolveValue(v slog.Value) any {
	v = v.Resolve()
	switch v.Kind() {
	case slog.KindGroup:
		group := make(map[string]any)
		for _, attr := range v.Group() {
			group[attr.Key] = resolveValue(attr.Value)
		}
		return group
	default:
		return v.Any()
	}
}
