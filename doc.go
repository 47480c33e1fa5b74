// Package fwbridge bridges embedded firmware protocols onto NATS.
//
// A single declarative YAML spec describes the messages, topics and
// parameters a vehicle's firmware speaks. From that spec the bridge
// compiles, at startup, everything both sides of the wire must agree
// on: a proto3 schema for the envelope that frames every packet,
// per-target routing tables, and a protocol version number that
// handshakes clients against the exact spec revision they were built
// with.
//
// # Architecture
//
//	┌─────────────┐   WebSocket    ┌──────────────────────────┐
//	│  firmware   │◄── binary ────►│        transport         │
//	│  client(s)  │    frames      │  (client ids, framing)   │
//	└─────────────┘                └────────────┬─────────────┘
//	                                            │ OnPacket / Transmit
//	                               ┌────────────┴─────────────┐
//	                               │          bridge          │
//	                               │  decode · route · ack    │
//	                               └──┬─────────────────────┬─┘
//	                          topics  │                     │  parameters
//	                   ┌──────────────┴──────┐   ┌──────────┴──────────┐
//	                   │    bus (natsbus)    │   │  param store (KV)   │
//	                   │  core + JetStream   │   │  get/set/list/watch │
//	                   └─────────────────────┘   └─────────────────────┘
//
// Compile once, route forever: the spec, constmap and schema packages
// run at startup and produce immutable artifacts; the bridge and its
// routers then hold no mutable routing state at all.
//
// # Packages
//
// Compilation:
//   - spec: YAML spec parsing and validation
//   - constmap: constant-to-domain mapping (enum domains per field)
//   - schema: proto3 schema compilation, envelope codec, protocol version
//
// Runtime:
//   - bridge: per-target packet demultiplexer (topics, parameters, acks)
//   - transport: WebSocket binary-frame server with uint32 client ids
//   - bus: transport-neutral pub/sub and parameter store interfaces
//   - natsbus: NATS implementation of bus (core, JetStream, KV)
//   - natsclient: NATS connection management
//
// Infrastructure:
//   - component: lifecycle (Initialize/Start/Stop) and discovery
//   - config: daemon configuration loading
//   - errors: classified error handling
//   - metric: Prometheus metrics registry and diagnostics endpoint
//   - health: component health aggregation
//   - pkg/retry: retry policies with backoff
//
// # Binaries
//
//	# bridge the talos target
//	fwbridge talos
//
//	# print the protocol version a spec compiles to
//	fwversion -spec firmware.yaml
package fwbridge
