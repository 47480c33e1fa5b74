// Package component provides the shared infrastructure for the bridge
// daemon's long-running pieces: lifecycle management, health reporting,
// dependency wiring, and remote log streaming.
//
// # Lifecycle
//
// Every long-running piece of the daemon (bus, bridge, transport) implements
// LifecycleComponent with the same three-phase pattern:
//
//	Initialize() error                // Setup/create only, NO context
//	Start(ctx context.Context) error  // Start with context passed through
//	Stop(timeout time.Duration) error // Graceful shutdown with timeout
//
// Components never store the context they receive; cancellation flows in
// through Start and out through Stop. The Stack type starts components in
// registration order and stops them in reverse so the transport drains
// before the bus disconnects.
//
// # Health
//
// Discoverable exposes Meta and Health so the daemon's HTTP endpoint can
// report every component uniformly. HealthStatus carries error counts and
// the last error string rather than error values so it serializes cleanly.
//
// # Remote logs
//
// NATSHandler tees slog records onto "fwbridge.logs.<target>" as JSON
// LogEntry messages. Topside tooling subscribes to that subject to tail
// bridge diagnostics without shell access to the vehicle computer.
package component
