// Package transport carries the firmware wire protocol over WebSocket
// binary frames.
//
// Each accepted connection is assigned a server-unique uint32 client id,
// starting at 1; id 0 (Broadcast) addresses every connected client in
// Transmit. Inbound binary frames are handed to the registered
// PacketHandler together with the sender's id, which is how the bridge
// answers a specific client. Frame contents are opaque here; framing,
// liveness pings and connection accounting are the whole job.
//
// The server implements component.LifecycleComponent. Because the
// bridge needs Transmit at construction while the server needs the
// bridge's packet handler, the handler may be wired after New via
// SetHandler, as long as it happens before Start.
package transport
