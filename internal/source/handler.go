package source

import (
	"context"
	"log/slog"

	"github.com/logmonitor/logmonitor-agent/internal/logging"
)

// Well-known attribute keys lifted out of Data into the entry payload.
const (
	ErrorKey      = "error"
	StackTraceKey = "stack"
)

// Handler is a slog.Handler publishing to a Hub, so that hosts using
// log/slog feed the forwarder with slog.New(source.NewHandler(hub)).
type Handler struct {
	hub *Hub
	// goas holds WithGroup and WithAttrs calls in the order they were made.
	goas []groupOrAttrs
}

// groupOrAttrs is either a group name or a set of attrs added at the group
// depth in effect at the time.
type groupOrAttrs struct {
	group string
	attrs []slog.Attr
}

func NewHandler(hub *Hub) *Handler {
	return &Handler{hub: hub}
}

func (h *Handler) Enabled(_ context.Context, level slog.Level) bool {
	return h.hub.Enabled(level)
}

func (h *Handler) Handle(_ context.Context, r slog.Record) error {
	rec := logging.Record{
		Level:   r.Level,
		Message: r.Message,
		Time:    r.Time,
	}

	data := make(map[string]any, r.NumAttrs())
	r.Attrs(func(a slog.Attr) bool {
		addAttr(data, a)
		return true
	})

	// Walk outwards from the innermost group. A group is only kept when
	// something ended up inside it.
	for i := len(h.goas) - 1; i >= 0; i-- {
		goa := h.goas[i]
		if goa.group != "" {
			if len(data) > 0 {
				data = map[string]any{goa.group: data}
			}
			continue
		}
		outer := make(map[string]any, len(goa.attrs)+len(data))
		for _, a := range goa.attrs {
			addAttr(outer, a)
		}
		for k, v := range data {
			outer[k] = v
		}
		data = outer
	}

	liftWellKnown(&rec, data)
	if len(data) > 0 {
		rec.Data = data
	}

	h.hub.Publish(rec)
	return nil
}

func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}
	return h.with(groupOrAttrs{attrs: append([]slog.Attr(nil), attrs...)})
}

func (h *Handler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	return h.with(groupOrAttrs{group: name})
}

func (h *Handler) with(goa groupOrAttrs) *Handler {
	goas := make([]groupOrAttrs, len(h.goas), len(h.goas)+1)
	copy(goas, h.goas)
	return &Handler{hub: h.hub, goas: append(goas, goa)}
}

func addAttr(m map[string]any, a slog.Attr) {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return
	}

	if a.Value.Kind() == slog.KindGroup {
		group := a.Value.Group()
		if len(group) == 0 {
			return
		}
		dst := m
		if a.Key != "" {
			dst = make(map[string]any, len(group))
			m[a.Key] = dst
		}
		for _, ga := range group {
			addAttr(dst, ga)
		}
		return
	}

	m[a.Key] = a.Value.Any()
}

// liftWellKnown moves top-level error and stack attributes into the record
// fields that map onto payload.error and payload.stackTrace.
func liftWellKnown(rec *logging.Record, data map[string]any) {
	if v, ok := data[ErrorKey]; ok {
		switch e := v.(type) {
		case error:
			rec.Err = e
			delete(data, ErrorKey)
		case string:
			rec.Err = stringError(e)
			delete(data, ErrorKey)
		}
	}
	if v, ok := data[StackTraceKey]; ok {
		if s, ok := v.(string); ok {
			rec.StackTrace = s
			delete(data, StackTraceKey)
		}
	}
}

type stringError string

func (e stringError) Error() string { return string(e) }
