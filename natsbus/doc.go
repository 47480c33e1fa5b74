// Package natsbus implements the bridge's bus interfaces over NATS.
//
// # Overview
//
// The natsbus package adapts the natsclient wrapper to the two abstract
// interfaces the bridge routes through: bus.Bus (typed pub/sub topics) and
// bus.ParamStore (persistent firmware parameters). Each adapter instance is
// bound to one bridge target and scopes every NATS resource it touches by
// that target, so multiple bridges can share a server without collisions.
//
// # Subject Layout
//
// Declared topic names map to hierarchical NATS subjects:
//
//	fwbridge.<target>.sensor.<topic path>   // qos sensor_data
//	fwbridge.<target>.sys.<topic path>      // qos system_default
//
// Topic path separators ("/") become subject tokens, so the topic
// "state/depth" on target "talos" publishes to
// "fwbridge.talos.sensor.state.depth". The class segment keeps the
// JetStream stream's subject filter from capturing lossy sensor traffic.
//
// # Delivery Classes
//
// sensor_data topics ride plain NATS publish/subscribe: no persistence, no
// redelivery, latest-wins under load. system_default topics go through the
// target's JetStream stream (FWBRIDGE_<TARGET>, filter
// fwbridge.<target>.sys.>) so commands and state survive slow consumers.
//
//	b, err := natsbus.New(natsbus.Deps{Client: nc, Target: "talos"})
//	if err != nil {
//	    return err
//	}
//	if err := b.EnsureStream(ctx); err != nil {
//	    return err
//	}
//
//	err = b.Publish(ctx, "command/actuator", bus.QoSSystemDefault, payload)
//
//	sub, err := b.Subscribe(ctx, "state/depth", bus.QoSSensorData,
//	    func(ctx context.Context, topic string, data []byte) {
//	        // deliver to wire
//	    })
//	defer sub.Unsubscribe()
//
// # Parameter Store
//
// Parameters live in the KV bucket fwbridge_params_<target>, one key per
// declared parameter, holding the kind-tagged JSON encoding of
// bus.ParamValue. The encoding is stable and human-readable so operators
// can inspect and patch parameters with the nats CLI:
//
//	nats kv get fwbridge_params_talos control_loop_rate
//	{"kind":"double","value":50}
//
// Watch swallows the KV watcher's replay of current values and forwards
// only changes that happen after it returns, which is what the bridge's
// push-update path needs.
//
// # Error Handling
//
// All failures are classified through the errors package: missing
// dependencies are invalid, NATS/JetStream failures are transient. A
// missing parameter surfaces as errors.ErrKeyNotFound so routers can
// distinguish "not set yet" from infrastructure failure.
//
// # Testing
//
// Unit tests cover the pure subject/bucket naming. Behavior against a real
// server lives in integration tests (testcontainers NATS with JetStream):
//
//	go test ./natsbus -v
//	go test -tags integration ./natsbus -v
package natsbus
