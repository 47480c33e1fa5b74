package component

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

// LogLevel represents the severity level of a published log entry
type LogLevel string

const (
	// LogLevelDebug represents debug-level logs
	LogLevelDebug LogLevel = "DEBUG"
	// LogLevelInfo represents informational logs
	LogLevelInfo LogLevel = "INFO"
	// LogLevelWarn represents warning logs
	LogLevelWarn LogLevel = "WARN"
	// LogLevelError represents error logs
	LogLevelError LogLevel = "ERROR"
)

// LogEntry is the JSON shape published to NATS so operators can tail
// bridge diagnostics remotely without shell access to the vehicle.
type LogEntry struct {
	Timestamp string   `json:"timestamp"` // RFC3339 format
	Level     LogLevel `json:"level"`
	Target    string   `json:"target"`
	Component string   `json:"component,omitempty"`
	Message   string   `json:"message"`
	Error     string   `json:"error,omitempty"`
}

// NATSHandler is a slog.Handler that forwards records to an inner handler
// and additionally publishes them to "fwbridge.logs.<target>" for remote
// consumption. Publishing is best effort: a nil or disconnected NATS
// connection never blocks or fails local logging.
type NATSHandler struct {
	inner   slog.Handler
	nc      *nats.Conn
	subject string
	target  string
	attrs   []slog.Attr
}

var _ slog.Handler = (*NATSHandler)(nil)

// NewNATSHandler wraps inner with NATS log publishing for the given
// bridge target. nc may be nil, in which case only inner is used.
func NewNATSHandler(inner slog.Handler, nc *nats.Conn, target string) *NATSHandler {
	return &NATSHandler{
		inner:   inner,
		nc:      nc,
		subject: "fwbridge.logs." + target,
		target:  target,
	}
}

// Enabled reports whether the inner handler handles records at the given level.
func (h *NATSHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

// Handle publishes the record to NATS and forwards it to the inner handler.
func (h *NATSHandler) Handle(ctx context.Context, r slog.Record) error {
	if h.nc != nil {
		entry := h.buildEntry(r)
		if data, err := json.Marshal(entry); err == nil {
			// Fire and forget. Log transport must never fail the logger.
			_ = h.nc.Publish(h.subject, data)
		}
	}
	return h.inner.Handle(ctx, r)
}

// WithAttrs returns a handler whose published entries include the given attrs.
func (h *NATSHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	merged = append(merged, h.attrs...)
	merged = append(merged, attrs...)
	return &NATSHandler{
		inner:   h.inner.WithAttrs(attrs),
		nc:      h.nc,
		subject: h.subject,
		target:  h.target,
		attrs:   merged,
	}
}

// WithGroup returns a handler that scopes inner attrs under name. Group
// nesting is not reflected in published entries.
func (h *NATSHandler) WithGroup(name string) slog.Handler {
	return &NATSHandler{
		inner:   h.inner.WithGroup(name),
		nc:      h.nc,
		subject: h.subject,
		target:  h.target,
		attrs:   h.attrs,
	}
}

func (h *NATSHandler) buildEntry(r slog.Record) LogEntry {
	entry := LogEntry{
		Timestamp: r.Time.Format(time.RFC3339Nano),
		Level:     levelString(r.Level),
		Target:    h.target,
		Message:   r.Message,
	}
	capture := func(a slog.Attr) {
		switch a.Key {
		case "component":
			entry.Component = a.Value.String()
		case "error":
			entry.Error = a.Value.String()
		}
	}
	for _, a := range h.attrs {
		capture(a)
	}
	r.Attrs(func(a slog.Attr) bool {
		capture(a)
		return true
	})
	return entry
}

func levelString(l slog.Level) LogLevel {
	switch {
	case l >= slog.LevelError:
		return LogLevelError
	case l >= slog.LevelWarn:
		return LogLevelWarn
	case l >= slog.LevelInfo:
		return LogLevelInfo
	default:
		return LogLevelDebug
	}
}
