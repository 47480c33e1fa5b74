// Package health provides thread-safe health tracking and aggregation for
// the bridge daemon's components.
//
// # Health States
//
// The package supports three health states:
//   - Healthy: component operating normally
//   - Degraded: component operating with reduced functionality
//   - Unhealthy: component not functioning properly
//
// A bridge with a connected bus but no firmware clients is degraded, not
// unhealthy; a bridge that lost its bus connection is unhealthy.
//
// # Usage
//
// The daemon polls its component stack and serves the aggregate on the
// status endpoint:
//
//	monitor := health.NewMonitor()
//	go monitor.Poll(ctx, 10*time.Second, comps)
//
//	// In the HTTP handler:
//	overall := monitor.AggregateHealth("fwbridge")
//
// Aggregation is pessimistic: any unhealthy component makes the system
// unhealthy, otherwise any degraded component makes it degraded.
package health
