// Package bus defines the pub/sub surface the bridge routes firmware
// traffic through, together with the parameter store abstraction.
//
// The bridge core never talks to NATS directly. It publishes and
// subscribes through the Bus interface and reads and writes firmware
// parameters through ParamStore, so the runtime can be tested against
// in-memory fakes and the broker backend swapped without touching
// routing logic. The natsbus package provides the production
// implementation of both.
//
// Topics carry one of two delivery classes:
//
//   - QoSSensorData: lossy, latest-wins telemetry (core NATS)
//   - QoSSystemDefault: reliable delivery (JetStream)
//
// Payloads cross the Bus as opaque bytes. The bridge encodes topic
// messages as canonical JSON derived from the compiled wire schema, so
// bus-side consumers never need the firmware's binary framing.
package bus
