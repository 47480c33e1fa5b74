// Package testutil provides in-memory fakes for bridge tests.
//
// MockBus implements bus.Bus without a broker: publishes are recorded
// per topic and fanned out to subscribers synchronously, and Deliver
// injects inbound traffic as if another process had published it.
// MockParamStore does the same for bus.ParamStore, with Seed for
// arranging values that predate a watch.
//
// TransmitRecorder captures the frames a bridge hands to its transmit
// callback, so routing tests can assert on exactly what would have gone
// over the wire:
//
//	recorder := testutil.NewTransmitRecorder()
//	b, _ := bridge.New(bridge.Deps{
//	    ...
//	    Transmit: recorder.Transmit,
//	})
//	// drive traffic, then inspect recorder.SentTo(clientID)
//
// All fakes are safe for concurrent use. Callbacks run in the calling
// goroutine, which keeps test assertions deterministic; anything that
// needs to wait for cross-goroutine delivery can use WaitForPublish or
// WaitForTransmissions.
//
// Tests that need a real broker use testcontainers instead of these
// fakes; see the natsbus integration tests.
package testutil
