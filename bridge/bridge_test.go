package bridge

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protoreflect"

	"github.com/osu-uwrt/riptide-fw-bridge/errors"
	"github.com/osu-uwrt/riptide-fw-bridge/schema"
	"github.com/osu-uwrt/riptide-fw-bridge/spec"
	"github.com/osu-uwrt/riptide-fw-bridge/testutil"
)

const testSpec = `
targets:
  - talos
  - puddles

messages:
  depth_msg:
    fields:
      depth: float64
      variance: float64

  firmware_state:
    fields:
      state: uint8
      fault_code: uint32
    constants:
      STATE_BOOT: 0
      STATE_IDLE: 1
      STATE_FAULT: 2

  actuator_command:
    fields:
      action: int8
      raw: uint8[]
    constants:
      ACTION_DROP_MARKER: 1
      ACTION_FIRE_TORPEDO: 2
      DEBUG_SENTINEL: 99

topics:
  state/depth:
    type: depth_msg
    qos: sensor_data
    publishers: [talos]
    subscribers: [puddles]

  state/firmware:
    type: firmware_state
    qos: system_default
    publishers: [talos, puddles]

  command/actuator:
    type: actuator_command
    qos: system_default
    publishers: [puddles]
    subscribers: [talos]

parameters:
  max_depth: PARAMETER_DOUBLE
  enable_dvl: PARAMETER_BOOL
  thruster_limits: PARAMETER_INTEGER_ARRAY

constant_mapping:
  actuator_command:
    "DEBUG_*": ""
    "ACTION_*": action
  firmware_state:
    "STATE_*": state
`

// testBridge wires a bridge to in-memory fakes for every boundary.
type testBridge struct {
	*Bridge
	s        *schema.Schema
	bus      *testutil.MockBus
	store    *testutil.MockParamStore
	recorder *testutil.TransmitRecorder
}

func newTestBridge(t *testing.T, target string) *testBridge {
	t.Helper()

	model, err := spec.Parse([]byte(testSpec))
	require.NoError(t, err)
	s, err := schema.Compile(model, nil)
	require.NoError(t, err)

	mockBus := testutil.NewMockBus()
	store := testutil.NewMockParamStore()
	recorder := testutil.NewTransmitRecorder()

	b, err := New(Deps{
		Schema:   s,
		Target:   target,
		Bus:      mockBus,
		Params:   store,
		Transmit: recorder.Transmit,
	})
	require.NoError(t, err)

	return &testBridge{Bridge: b, s: s, bus: mockBus, store: store, recorder: recorder}
}

// encode builds wire bytes for an envelope, failing the test on error.
func (tb *testBridge) encode(t *testing.T, env *schema.Envelope) []byte {
	t.Helper()
	data, err := tb.s.Encode(env)
	require.NoError(t, err)
	return data
}

// decodeSent decodes one recorded transmission back into an envelope.
func (tb *testBridge) decodeSent(t *testing.T, tx testutil.Transmission) *schema.Envelope {
	t.Helper()
	env, err := tb.s.Decode(tx.Data)
	require.NoError(t, err)
	return env
}

// member resolves an envelope member by kind, failing if absent.
func (tb *testBridge) member(t *testing.T, kind schema.MemberKind) *schema.Member {
	t.Helper()
	for _, m := range tb.s.Members() {
		if m.Kind == kind {
			return m
		}
	}
	t.Fatalf("no member of kind %s", kind)
	return nil
}

// topicMember resolves a topic's envelope member, failing if absent.
func (tb *testBridge) topicMember(t *testing.T, topic string) *schema.Member {
	t.Helper()
	m, ok := tb.s.MemberByTopic(topic)
	require.True(t, ok, "topic %s has no member", topic)
	return m
}

// depthPayload builds a depth_msg payload.
func depthPayload(m *schema.Member, depth, variance float64) proto.Message {
	payload := m.NewPayload()
	fields := payload.Descriptor().Fields()
	payload.Set(fields.ByName("depth"), protoreflect.ValueOfFloat64(depth))
	payload.Set(fields.ByName("variance"), protoreflect.ValueOfFloat64(variance))
	return payload
}

// statePayload builds a firmware_state payload with the given enum value.
func statePayload(m *schema.Member, state protoreflect.EnumNumber, faultCode uint32) proto.Message {
	payload := m.NewPayload()
	fields := payload.Descriptor().Fields()
	payload.Set(fields.ByName("state"), protoreflect.ValueOfEnum(state))
	payload.Set(fields.ByName("fault_code"), protoreflect.ValueOfUint32(faultCode))
	return payload
}

func TestNew_Validation(t *testing.T) {
	model, err := spec.Parse([]byte(testSpec))
	require.NoError(t, err)
	s, err := schema.Compile(model, nil)
	require.NoError(t, err)

	mockBus := testutil.NewMockBus()
	store := testutil.NewMockParamStore()
	recorder := testutil.NewTransmitRecorder()

	tests := []struct {
		name string
		deps Deps
	}{
		{"missing schema", Deps{Target: "talos", Bus: mockBus, Params: store, Transmit: recorder.Transmit}},
		{"missing bus", Deps{Schema: s, Target: "talos", Params: store, Transmit: recorder.Transmit}},
		{"missing transmit", Deps{Schema: s, Target: "talos", Bus: mockBus, Params: store}},
		{"unknown target", Deps{Schema: s, Target: "atlantis", Bus: mockBus, Params: store, Transmit: recorder.Transmit}},
		{"missing param store", Deps{Schema: s, Target: "talos", Bus: mockBus, Transmit: recorder.Transmit}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.deps)
			require.Error(t, err)
			assert.True(t, errors.IsInvalid(err))
		})
	}

	t.Run("valid", func(t *testing.T) {
		b, err := New(Deps{Schema: s, Target: "talos", Bus: mockBus, Params: store, Transmit: recorder.Transmit})
		require.NoError(t, err)
		assert.Equal(t, s.Version(), b.Version())
	})
}

func TestHandshake(t *testing.T) {
	ctx := context.Background()

	t.Run("matching version accepted silently", func(t *testing.T) {
		tb := newTestBridge(t, "talos")
		hs := tb.member(t, schema.MemberHandshake)

		tb.OnPacket(ctx, 1, tb.encode(t, &schema.Envelope{Member: hs, Version: tb.Version()}))
		assert.Equal(t, 0, tb.recorder.Count(), "no token, no response")
	})

	t.Run("matching version with token acked", func(t *testing.T) {
		tb := newTestBridge(t, "talos")
		hs := tb.member(t, schema.MemberHandshake)

		tb.OnPacket(ctx, 1, tb.encode(t, &schema.Envelope{Member: hs, Version: tb.Version(), Token: 99}))

		sent := tb.recorder.Sent()
		require.Len(t, sent, 1)
		assert.Equal(t, uint32(1), sent[0].ClientID)
		env := tb.decodeSent(t, sent[0])
		assert.Nil(t, env.Member)
		assert.Equal(t, uint32(99), env.Token)
	})

	t.Run("stale version rejected silently", func(t *testing.T) {
		tb := newTestBridge(t, "talos")
		hs := tb.member(t, schema.MemberHandshake)

		tb.OnPacket(ctx, 1, tb.encode(t, &schema.Envelope{Member: hs, Version: tb.Version() - 1, Token: 99}))
		assert.Equal(t, 0, tb.recorder.Count(), "mismatch gets no response, token or not")
	})
}

func TestInboundTopic(t *testing.T) {
	ctx := context.Background()

	t.Run("published under declared qos", func(t *testing.T) {
		tb := newTestBridge(t, "talos")
		m := tb.topicMember(t, "state/depth")

		tb.OnPacket(ctx, 1, tb.encode(t, &schema.Envelope{Member: m, Payload: depthPayload(m, 12.5, 0.02)}))

		published := tb.bus.Published("state/depth")
		require.Len(t, published, 1)
		assert.Equal(t, "state/depth", published[0].Topic)
		assert.Equal(t, "sensor_data", string(published[0].QoS))
		assert.Equal(t, 0, tb.recorder.Count(), "no token, no ack")
	})

	t.Run("token acked exactly once", func(t *testing.T) {
		tb := newTestBridge(t, "talos")
		m := tb.topicMember(t, "state/depth")

		tb.OnPacket(ctx, 7, tb.encode(t, &schema.Envelope{Member: m, Payload: depthPayload(m, 3.0, 0.1), Token: 42}))

		require.Equal(t, 1, tb.bus.PublishCount("state/depth"))
		sent := tb.recorder.SentTo(7)
		require.Len(t, sent, 1)
		env := tb.decodeSent(t, sent[0])
		assert.Nil(t, env.Member)
		assert.Equal(t, uint32(42), env.Token)
	})

	t.Run("outbound-only topic rejected inbound", func(t *testing.T) {
		tb := newTestBridge(t, "talos")
		// talos only ever receives command/actuator from the bus side
		m := tb.topicMember(t, "command/actuator")
		payload := m.NewPayload()
		payload.Set(payload.Descriptor().Fields().ByName("action"), protoreflect.ValueOfEnum(1))

		tb.OnPacket(ctx, 1, tb.encode(t, &schema.Envelope{Member: m, Payload: payload, Token: 5}))

		assert.Equal(t, 0, tb.bus.PublishCount("command/actuator"))
		assert.Equal(t, 0, tb.recorder.Count(), "unroutable packets get no ack")
	})

	t.Run("empty payload publishes defaults", func(t *testing.T) {
		tb := newTestBridge(t, "talos")
		m := tb.topicMember(t, "state/firmware")

		tb.OnPacket(ctx, 1, tb.encode(t, &schema.Envelope{Member: m, Payload: m.NewPayload()}))
		assert.Equal(t, 1, tb.bus.PublishCount("state/firmware"))
	})
}

func TestEnumDomainRejection(t *testing.T) {
	ctx := context.Background()
	tb := newTestBridge(t, "talos")
	m := tb.topicMember(t, "state/firmware")

	// 5 is outside the {0,1,2} state domain
	tb.OnPacket(ctx, 1, tb.encode(t, &schema.Envelope{Member: m, Payload: statePayload(m, 5, 0), Token: 9}))
	assert.Equal(t, 0, tb.bus.PublishCount("state/firmware"))
	assert.Equal(t, 0, tb.recorder.Count(), "rejected packets get no ack")

	// the bridge survives and keeps routing valid traffic
	tb.OnPacket(ctx, 1, tb.encode(t, &schema.Envelope{Member: m, Payload: statePayload(m, 1, 0)}))
	assert.Equal(t, 1, tb.bus.PublishCount("state/firmware"))
}

func TestMalformedPacket(t *testing.T) {
	ctx := context.Background()
	tb := newTestBridge(t, "talos")

	tb.OnPacket(ctx, 1, []byte{0xff, 0xff, 0xff, 0xff})
	assert.Equal(t, 0, tb.recorder.Count())

	// empty envelope: decodes, carries nothing, dropped with a diagnostic
	tb.OnPacket(ctx, 1, []byte{})
	assert.Equal(t, 0, tb.recorder.Count())

	// bare ack: legitimate form, nothing to route, no response
	tb.OnPacket(ctx, 1, tb.encode(t, schema.Ack(17)))
	assert.Equal(t, 0, tb.recorder.Count())

	health := tb.Health()
	assert.Equal(t, 2, health.ErrorCount, "garbage and empty count, bare ack does not")
}

func TestOutboundDelivery(t *testing.T) {
	ctx := context.Background()
	tb := newTestBridge(t, "talos")
	require.NoError(t, tb.Start(ctx))
	defer tb.Stop(time.Second)

	m := tb.topicMember(t, "command/actuator")
	payload := m.NewPayload()
	fields := payload.Descriptor().Fields()
	payload.Set(fields.ByName("action"), protoreflect.ValueOfEnum(2))

	// traffic from elsewhere on the bus arrives as protojson
	encoded, err := protojson.Marshal(payload)
	require.NoError(t, err)
	tb.bus.Deliver(ctx, "command/actuator", encoded)

	sent := tb.recorder.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, Broadcast, sent[0].ClientID, "outbound topics broadcast")

	env := tb.decodeSent(t, sent[0])
	require.NotNil(t, env.Member)
	assert.Equal(t, "command_actuator", env.Member.Name)
	assert.True(t, proto.Equal(payload, env.Payload))
}

func TestOutboundDeliveryBadPayload(t *testing.T) {
	ctx := context.Background()
	tb := newTestBridge(t, "talos")
	require.NoError(t, tb.Start(ctx))
	defer tb.Stop(time.Second)

	tb.bus.Deliver(ctx, "command/actuator", []byte(`{"no_such_field": true}`))
	assert.Equal(t, 0, tb.recorder.Count(), "undecodable bus traffic never reaches the wire")
}

func TestLifecycle(t *testing.T) {
	ctx := context.Background()
	tb := newTestBridge(t, "talos")

	require.NoError(t, tb.Initialize())
	require.NoError(t, tb.Start(ctx))
	assert.Equal(t, 1, tb.bus.SubscriptionCount("command/actuator"))
	assert.Equal(t, 1, tb.store.WatcherCount())
	assert.True(t, tb.Health().Healthy)
	assert.Equal(t, "bridge", tb.Meta().Name)

	require.NoError(t, tb.Stop(time.Second))
	assert.Equal(t, 0, tb.bus.SubscriptionCount("command/actuator"))
	assert.Equal(t, 0, tb.store.WatcherCount())
	assert.False(t, tb.Health().Healthy)
}

func TestTransmitFailureContained(t *testing.T) {
	ctx := context.Background()
	tb := newTestBridge(t, "talos")
	tb.recorder.Err = assert.AnError

	m := tb.topicMember(t, "state/depth")
	tb.OnPacket(ctx, 1, tb.encode(t, &schema.Envelope{Member: m, Payload: depthPayload(m, 1, 0), Token: 3}))

	// the publish happened; only the ack send failed
	assert.Equal(t, 1, tb.bus.PublishCount("state/depth"))

	tb.recorder.Err = nil
	tb.OnPacket(ctx, 1, tb.encode(t, &schema.Envelope{Member: m, Payload: depthPayload(m, 2, 0), Token: 4}))
	require.Equal(t, 1, tb.recorder.Count(), "bridge keeps sending after a transmit failure")
}
