package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/reflect/protoreflect"

	"github.com/osu-uwrt/riptide-fw-bridge/errors"
)

func TestEnvelopeRoundTrip(t *testing.T) {
	s := compileTestSchema(t)
	m, ok := s.MemberByTopic("state/depth")
	require.True(t, ok)

	payload := m.NewPayload()
	fields := payload.Descriptor().Fields()
	payload.Set(fields.ByName("depth"), protoreflect.ValueOfFloat64(12.5))
	payload.Set(fields.ByName("variance"), protoreflect.ValueOfFloat64(0.25))

	data, err := s.Encode(&Envelope{Member: m, Payload: payload, Token: 7})
	require.NoError(t, err)

	decoded, err := s.Decode(data)
	require.NoError(t, err)
	require.NotNil(t, decoded.Member)
	assert.Equal(t, m.Name, decoded.Member.Name)
	assert.Equal(t, m.Number, decoded.Member.Number)
	assert.Equal(t, uint32(7), decoded.Token)

	got := decoded.Payload.ProtoReflect()
	assert.Equal(t, 12.5, got.Get(fields.ByName("depth")).Float())
	assert.Equal(t, 0.25, got.Get(fields.ByName("variance")).Float())
}

func TestEnvelopeHandshakeRoundTrip(t *testing.T) {
	s := compileTestSchema(t)
	hs := s.Members()[0]

	data, err := s.Encode(&Envelope{Member: hs, Version: s.Version()})
	require.NoError(t, err)

	decoded, err := s.Decode(data)
	require.NoError(t, err)
	require.NotNil(t, decoded.Member)
	assert.Equal(t, MemberHandshake, decoded.Member.Kind)
	assert.Equal(t, s.Version(), decoded.Version)
	assert.Zero(t, decoded.Token)
}

func TestEnvelopePureAck(t *testing.T) {
	s := compileTestSchema(t)

	data, err := s.Encode(Ack(41))
	require.NoError(t, err)

	decoded, err := s.Decode(data)
	require.NoError(t, err)
	assert.Nil(t, decoded.Member)
	assert.Equal(t, uint32(41), decoded.Token)
}

func TestEnvelopeNoneSet(t *testing.T) {
	s := compileTestSchema(t)

	decoded, err := s.Decode(nil)
	require.NoError(t, err)
	assert.Nil(t, decoded.Member)
	assert.Zero(t, decoded.Token)
}

func TestDecodeRejectsGarbage(t *testing.T) {
	s := compileTestSchema(t)

	_, err := s.Decode([]byte{0xff, 0xff, 0xff})
	require.Error(t, err)

	var decodeErr *DecodeError
	assert.ErrorAs(t, err, &decodeErr)
	assert.True(t, errors.IsInvalid(err))
}

func TestEncodeRejectsMissingPayload(t *testing.T) {
	s := compileTestSchema(t)
	m, ok := s.MemberByTopic("state/depth")
	require.True(t, ok)

	_, err := s.Encode(&Envelope{Member: m})
	require.Error(t, err)

	var serErr *SerializeError
	assert.ErrorAs(t, err, &serErr)
}

func TestEncodeRejectsForeignPayload(t *testing.T) {
	s := compileTestSchema(t)
	depth, ok := s.MemberByTopic("state/depth")
	require.True(t, ok)
	firmware, ok := s.MemberByTopic("state/firmware")
	require.True(t, ok)

	_, err := s.Encode(&Envelope{Member: depth, Payload: firmware.NewPayload()})
	require.Error(t, err)

	var serErr *SerializeError
	require.ErrorAs(t, err, &serErr)
	assert.Contains(t, err.Error(), "state_depth")
}

func TestValidateEnumDomain(t *testing.T) {
	s := compileTestSchema(t)
	m, ok := s.MemberByTopic("state/firmware")
	require.True(t, ok)

	payload := m.NewPayload()
	state := payload.Descriptor().Fields().ByName("state")
	payload.Set(state, protoreflect.ValueOfEnum(2))
	require.NoError(t, s.Validate(payload))

	payload.Set(state, protoreflect.ValueOfEnum(5))
	err := s.Validate(payload)
	require.Error(t, err)

	var convErr *ConversionError
	require.ErrorAs(t, err, &convErr)
	assert.Equal(t, "firmware_state", convErr.Message)
	assert.Equal(t, "state", convErr.Field)
	assert.Equal(t, int64(5), convErr.Value)
	assert.True(t, errors.IsInvalid(err))
}

func TestValidateWalksNestedAndRepeated(t *testing.T) {
	const text = `
targets:
  - talos

messages:
  fault_report:
    fields:
      codes: uint8[]
    constants:
      FAULT_NONE: 0
      FAULT_OVERCURRENT: 1
      FAULT_WATCHDOG: 2

  diagnostics_msg:
    fields:
      report: fault_report
      uptime_ms: uint32

topics:
  diag:
    type: diagnostics_msg
    qos: system_default
    publishers: [talos]

constant_mapping:
  fault_report:
    "FAULT_*": codes
`
	s, err := Compile(parseModel(t, text), nil)
	require.NoError(t, err)

	// mapped constants turn the byte array into a repeated enum
	codes := s.File().Messages().ByName("fault_report").Fields().ByName("codes")
	require.NotNil(t, codes)
	assert.Equal(t, protoreflect.EnumKind, codes.Kind())
	assert.True(t, codes.IsList())

	m, ok := s.MemberByTopic("diag")
	require.True(t, ok)
	payload := m.NewPayload()
	report := payload.Mutable(payload.Descriptor().Fields().ByName("report")).Message()
	list := report.Mutable(codes).List()
	list.Append(protoreflect.ValueOfEnum(1))
	list.Append(protoreflect.ValueOfEnum(2))
	require.NoError(t, s.Validate(payload))

	list.Append(protoreflect.ValueOfEnum(9))
	err = s.Validate(payload)
	require.Error(t, err)

	var convErr *ConversionError
	require.ErrorAs(t, err, &convErr)
	assert.Equal(t, "fault_report", convErr.Message)
	assert.Equal(t, "codes", convErr.Field)
	assert.Equal(t, int64(9), convErr.Value)
}
