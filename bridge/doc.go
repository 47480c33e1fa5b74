// Package bridge is the runtime core of the firmware bridge: it routes
// wire envelopes between embedded clients on the transport side and the
// vehicle's message bus on the other, for exactly one bound target.
//
// # Overview
//
// A Bridge is built from a compiled schema, a target name, a bus, a
// parameter store, and a transmit callback. Everything it needs to route
// a packet is resolved at construction: the target's routing table maps
// envelope member numbers to topics in one lookup, and the parameter
// surface is a fixed name-to-kind table. Per packet the bridge allocates
// nothing beyond the decoded envelope.
//
// Inbound, the transport feeds raw frames to OnPacket. Each frame is
// decoded against the compiled envelope and dispatched in order:
//
//   - handshake: the client's protocol version is checked against the
//     compiled one; a match is logged as a client connection, a mismatch
//     is dropped silently so stale firmware cannot talk past the check
//   - topic members the target publishes: payloads are validated against
//     their enum domains and published to the bus under the topic's
//     delivery class
//   - parameter operations: reads, writes, and listings against the
//     parameter store, each synthesizing its own response
//   - anything else is unroutable and dropped with a diagnostic naming
//     the member
//
// A handled envelope carrying a nonzero token is acknowledged with a
// token-only envelope back to the sender. Parameter responses copy the
// request token themselves, so they are never double-acked.
//
// Outbound, Start opens one bus subscription per topic the target
// subscribes to; deliveries are encoded into the matching member and
// broadcast to every connected client. Parameter writes made elsewhere
// on the bus are pushed the same way once a client has asked about the
// parameter.
//
// # Error Containment
//
// Nothing a client sends can take the bridge down. Decode failures,
// version mismatches, out-of-domain enum values, unroutable members, and
// store failures are logged with a typed error, counted by reason, and
// dropped; the offending packet gets no response. Serialize failures
// abort only the send that hit them.
//
// # Concurrency
//
// OnPacket may run concurrently for different clients, and bus
// deliveries arrive on subscription goroutines; both funnel into
// sendResponse, where a single mutex makes each serialize+transmit
// atomic. There is no cross-call ordering guarantee: per-client ordering
// is whatever the transport preserves, and topic traffic is independent
// per topic.
//
// # Usage
//
//	b, err := bridge.New(bridge.Deps{
//		Schema:   compiled,
//		Target:   "talos",
//		Bus:      natsBus,
//		Params:   paramStore,
//		Transmit: server.Transmit,
//		Logger:   logger,
//	})
//	if err != nil {
//		return err
//	}
//	if err := b.Start(ctx); err != nil {
//		return err
//	}
//	defer b.Stop(5 * time.Second)
//
//	// transport side
//	server.OnPacket(b.OnPacket)
package bridge
