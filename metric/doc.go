// Package metric provides Prometheus-based metrics collection and the
// diagnostics HTTP server for the bridge daemon.
//
// The package manages both core platform metrics (component lifecycle,
// message counts, NATS health) and component-specific metrics registered
// through the MetricsRegistrar interface. The Server type exposes the
// /metrics endpoint in Prometheus format alongside a /health endpoint
// backed by the health monitor.
//
// # Basic Usage
//
//	registry := metric.NewMetricsRegistry()
//	server := metric.NewServer(9090, "/metrics", registry, monitor)
//
//	go func() {
//	    if err := server.Start(); err != nil {
//	        log.Error("diagnostics server failed", "error", err)
//	    }
//	}()
//	defer server.Stop()
//
// Components register their own metrics during Initialize:
//
//	clients := prometheus.NewGauge(prometheus.GaugeOpts{
//	    Namespace: "fwbridge",
//	    Subsystem: "transport",
//	    Name:      "clients_connected",
//	    Help:      "Number of firmware clients currently connected",
//	})
//	if err := registry.RegisterGauge("transport", "clients_connected", clients); err != nil {
//	    return err
//	}
//
// Core metrics use the "fwbridge" namespace with subsystems "component",
// "messages", "processing", "errors", "health", and "nats". Component
// metrics add their own subsystem per component name.
package metric
