package component

import (
	"log/slog"

	"github.com/osu-uwrt/riptide-fw-bridge/metric"
	"github.com/osu-uwrt/riptide-fw-bridge/natsclient"
)

// Dependencies provides the external dependencies shared by components.
// Components receive this structure rather than individual fields so
// wiring stays uniform across the daemon.
type Dependencies struct {
	NATSClient      *natsclient.Client      // NATS client for bus traffic and the parameter store
	MetricsRegistry *metric.MetricsRegistry // Metrics registry for Prometheus (can be nil)
	Logger          *slog.Logger            // Structured logger (can be nil, defaults to slog.Default())
}

// GetLogger returns the configured logger or a default logger if none is provided
func (d *Dependencies) GetLogger() *slog.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return slog.Default()
}

// GetLoggerWithComponent returns a logger configured with component context
func (d *Dependencies) GetLoggerWithComponent(componentName string) *slog.Logger {
	return d.GetLogger().With("component", componentName)
}
