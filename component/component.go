package component

import "github.com/osu-uwrt/riptide-fw-bridge/health"

// Metadata, HealthStatus and Discoverable are defined in the health package
// so health can consume them without an import cycle (component -> metric ->
// health). The aliases keep component.Metadata and friends as the names the
// rest of the daemon uses.

// Metadata describes a component's identity for discovery and diagnostics.
type Metadata = health.Metadata

// HealthStatus captures a point-in-time health report for a component.
type HealthStatus = health.HealthStatus

// Discoverable is implemented by every long-running component so the
// daemon can report identity and health uniformly.
type Discoverable = health.Discoverable
