package natsbus

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osu-uwrt/riptide-fw-bridge/bus"
	"github.com/osu-uwrt/riptide-fw-bridge/errors"
	"github.com/osu-uwrt/riptide-fw-bridge/natsclient"
)

func newTestBus(t *testing.T) *Bus {
	t.Helper()

	client, err := natsclient.NewClient("nats://localhost:4222")
	require.NoError(t, err)

	b, err := New(Deps{Client: client, Target: "talos"})
	require.NoError(t, err)
	return b
}

func TestNew_Validation(t *testing.T) {
	client, err := natsclient.NewClient("nats://localhost:4222")
	require.NoError(t, err)

	t.Run("missing client", func(t *testing.T) {
		_, err := New(Deps{Target: "talos"})
		require.Error(t, err)
		assert.True(t, errors.IsInvalid(err))
	})

	t.Run("missing target", func(t *testing.T) {
		_, err := New(Deps{Client: client})
		require.Error(t, err)
		assert.True(t, errors.IsInvalid(err))
	})

	t.Run("valid", func(t *testing.T) {
		b, err := New(Deps{Client: client, Target: "talos"})
		require.NoError(t, err)
		assert.NotNil(t, b)
	})
}

func TestSubjectMapping(t *testing.T) {
	b := newTestBus(t)

	tests := []struct {
		name  string
		topic string
		qos   bus.QoS
		want  string
	}{
		{"sensor topic", "state/depth", bus.QoSSensorData, "fwbridge.talos.sensor.state.depth"},
		{"reliable topic", "command/actuator", bus.QoSSystemDefault, "fwbridge.talos.sys.command.actuator"},
		{"flat topic", "heartbeat", bus.QoSSensorData, "fwbridge.talos.sensor.heartbeat"},
		{"deep path", "state/imu/raw", bus.QoSSystemDefault, "fwbridge.talos.sys.state.imu.raw"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, b.Subject(tt.topic, tt.qos))
		})
	}
}

func TestStreamScoping(t *testing.T) {
	assert.Equal(t, "FWBRIDGE_TALOS", StreamName("talos"))
	assert.Equal(t, "FWBRIDGE_PUDDLES", StreamName("puddles"))
	assert.Equal(t, "fwbridge_params_talos", BucketName("talos"))

	b := newTestBus(t)
	assert.Equal(t, "fwbridge.talos.sys.>", b.streamFilter())
}

// Distinct targets must never share subjects, streams, or buckets.
func TestTargetIsolation(t *testing.T) {
	client, err := natsclient.NewClient("nats://localhost:4222")
	require.NoError(t, err)

	talos, err := New(Deps{Client: client, Target: "talos"})
	require.NoError(t, err)
	puddles, err := New(Deps{Client: client, Target: "puddles"})
	require.NoError(t, err)

	assert.NotEqual(t,
		talos.Subject("state/depth", bus.QoSSensorData),
		puddles.Subject("state/depth", bus.QoSSensorData))
	assert.NotEqual(t, StreamName("talos"), StreamName("puddles"))
	assert.NotEqual(t, BucketName("talos"), BucketName("puddles"))
}

func TestPublish_NotConnected(t *testing.T) {
	b := newTestBus(t)
	ctx := context.Background()

	err := b.Publish(ctx, "state/depth", bus.QoSSensorData, []byte("x"))
	require.Error(t, err)
	assert.True(t, errors.IsTransient(err))

	err = b.Publish(ctx, "command/actuator", bus.QoSSystemDefault, []byte("x"))
	require.Error(t, err)
	assert.True(t, errors.IsTransient(err))
}

func TestSubscribe_NotConnected(t *testing.T) {
	b := newTestBus(t)
	ctx := context.Background()

	_, err := b.Subscribe(ctx, "state/depth", bus.QoSSensorData,
		func(context.Context, string, []byte) {})
	require.Error(t, err)
	assert.True(t, errors.IsTransient(err))
}
