package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/dynamicpb"

	"github.com/osu-uwrt/riptide-fw-bridge/bus"
)

func TestParamSetLayout(t *testing.T) {
	s := compileTestSchema(t)
	ps := s.Params()
	require.NotNil(t, ps)

	params := ps.Params()
	require.Len(t, params, 4)
	assert.Equal(t, "max_depth", params[0].Name)
	assert.Equal(t, bus.KindDouble, params[0].Kind)
	assert.Equal(t, protoreflect.FieldNumber(1), params[0].Number)
	assert.Equal(t, protoreflect.EnumNumber(0), params[0].Enum)
	assert.Equal(t, "enable_dvl", params[1].Name)
	assert.Equal(t, protoreflect.FieldNumber(2), params[1].Number)
	assert.Equal(t, protoreflect.EnumNumber(1), params[1].Enum)

	byName, ok := ps.ByName("thruster_limits")
	require.True(t, ok)
	assert.Equal(t, bus.KindIntegerArray, byName.Kind)

	byEnum, ok := ps.ByEnum(3)
	require.True(t, ok)
	assert.Equal(t, "current_limits", byEnum.Name)

	// request enum values are named after the parameters
	enum := s.Envelope().Enums().ByName("param_name_enum")
	require.NotNil(t, enum)
	require.Equal(t, 4, enum.Values().Len())
	assert.Equal(t, protoreflect.Name("PARAM_MAX_DEPTH"), enum.Values().Get(0).Name())
	assert.Equal(t, protoreflect.Name("PARAM_CURRENT_LIMITS"), enum.Values().Get(3).Name())

	// both integer arrays share one wrapper message
	update := s.File().Messages().ByName("param_update_msg")
	require.NotNil(t, update)
	assert.Equal(t, 1, update.Messages().Len())
	assert.NotNil(t, update.Messages().ByName("param_sint64_array"))
}

func TestParamValueRoundTrip(t *testing.T) {
	s := compileTestSchema(t)
	ps := s.Params()

	cases := []struct {
		name  string
		value bus.ParamValue
	}{
		{"max_depth", bus.DoubleValue(30.5)},
		{"enable_dvl", bus.BoolValue(true)},
		{"thruster_limits", bus.IntArrayValue([]int64{-200, 0, 200})},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			msg, err := ps.EncodeValue(tc.name, tc.value)
			require.NoError(t, err)

			param, got, err := ps.DecodeValue(msg)
			require.NoError(t, err)
			assert.Equal(t, tc.name, param.Name)
			assert.True(t, tc.value.Equal(got), "decoded %v", got)
		})
	}
}

func TestParamUpdateThroughEnvelope(t *testing.T) {
	s := compileTestSchema(t)
	ps := s.Params()

	payload, err := ps.EncodeValue("enable_dvl", bus.BoolValue(true))
	require.NoError(t, err)

	var update *Member
	for _, m := range s.Members() {
		if m.Kind == MemberParamUpdate {
			update = m
		}
	}
	require.NotNil(t, update)

	data, err := s.Encode(&Envelope{Member: update, Payload: payload, Token: 3})
	require.NoError(t, err)

	decoded, err := s.Decode(data)
	require.NoError(t, err)
	require.Equal(t, MemberParamUpdate, decoded.Member.Kind)
	assert.Equal(t, uint32(3), decoded.Token)

	param, value, err := ps.DecodeValue(decoded.Payload.ProtoReflect())
	require.NoError(t, err)
	assert.Equal(t, "enable_dvl", param.Name)
	assert.True(t, bus.BoolValue(true).Equal(value))
}

func TestParamEncodeMismatches(t *testing.T) {
	s := compileTestSchema(t)
	ps := s.Params()

	_, err := ps.EncodeValue("max_depth", bus.BoolValue(true))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max_depth")

	_, err = ps.EncodeValue("missing", bus.DoubleValue(1))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not declared")
}

func TestParamDecodeEmptyUpdate(t *testing.T) {
	s := compileTestSchema(t)
	ps := s.Params()

	_, _, err := ps.DecodeValue(dynamicpb.NewMessage(ps.update))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no value")
}

func TestParamListPayload(t *testing.T) {
	s := compileTestSchema(t)
	ps := s.Params()

	depth, ok := ps.ByName("max_depth")
	require.True(t, ok)
	limits, ok := ps.ByName("thruster_limits")
	require.True(t, ok)

	msg := ps.ListPayload([]*Param{depth, limits})
	entries := msg.Get(msg.Descriptor().Fields().ByNumber(1)).List()
	require.Equal(t, 2, entries.Len())
	assert.Equal(t, depth.Enum, entries.Get(0).Enum())
	assert.Equal(t, limits.Enum, entries.Get(1).Enum())
}

func TestCompileWithoutParameters(t *testing.T) {
	const text = `
targets:
  - talos

messages:
  depth_msg:
    fields:
      depth: float64

topics:
  state/depth:
    type: depth_msg
    qos: sensor_data
    publishers: [talos]

constant_mapping: {}
`
	s, err := Compile(parseModel(t, text), nil)
	require.NoError(t, err)
	assert.Nil(t, s.Params())

	require.Len(t, s.Members(), 2)
	assert.Equal(t, MemberHandshake, s.Members()[0].Kind)
	assert.Equal(t, MemberTopic, s.Members()[1].Kind)
}
