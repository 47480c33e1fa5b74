package health

import "time"

// These component identity and health-snapshot types are defined here rather
// than in the component package so this package can consume them without an
// import cycle: component depends on metric (Dependencies.MetricsRegistry)
// and metric depends on health (the /health endpoint aggregates the Monitor),
// so health cannot import component. The component package re-exports these
// types under aliases, and the rest of the daemon keeps referring to
// component.Metadata, component.HealthStatus and component.Discoverable.

// Metadata describes a component's identity for discovery and diagnostics.
type Metadata struct {
	Name        string `json:"name"`
	Type        string `json:"type"` // "bridge", "transport", "bus"
	Description string `json:"description"`
	Version     string `json:"version"`
}

// HealthStatus captures a point-in-time health report for a component.
type HealthStatus struct {
	Healthy    bool          `json:"healthy"`
	LastCheck  time.Time     `json:"last_check"`
	ErrorCount int           `json:"error_count"`
	LastError  string        `json:"last_error,omitempty"`
	Uptime     time.Duration `json:"uptime"`
}

// Discoverable is implemented by every long-running component so the
// daemon can report identity and health uniformly.
type Discoverable interface {
	Meta() Metadata
	Health() HealthStatus
}
