//go:build integration

package natsbus

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osu-uwrt/riptide-fw-bridge/bus"
	"github.com/osu-uwrt/riptide-fw-bridge/errors"
	"github.com/osu-uwrt/riptide-fw-bridge/natsclient"
)

func TestIntegration_BusRoundTrip(t *testing.T) {
	testClient := natsclient.NewTestClient(t, natsclient.WithJetStream())
	ctx := context.Background()

	b, err := New(Deps{Client: testClient.Client, Target: "talos"})
	require.NoError(t, err)
	require.NoError(t, b.EnsureStream(ctx))

	t.Run("sensor_data delivery", func(t *testing.T) {
		received := make(chan []byte, 1)
		sub, err := b.Subscribe(ctx, "state/depth", bus.QoSSensorData,
			func(_ context.Context, topic string, data []byte) {
				assert.Equal(t, "state/depth", topic)
				received <- data
			})
		require.NoError(t, err)
		defer sub.Unsubscribe()

		err = b.Publish(ctx, "state/depth", bus.QoSSensorData, []byte("depth-reading"))
		require.NoError(t, err)

		select {
		case data := <-received:
			assert.Equal(t, "depth-reading", string(data))
		case <-time.After(2 * time.Second):
			t.Fatal("sensor message not delivered")
		}
	})

	t.Run("system_default delivery", func(t *testing.T) {
		received := make(chan []byte, 1)
		sub, err := b.Subscribe(ctx, "command/actuator", bus.QoSSystemDefault,
			func(_ context.Context, topic string, data []byte) {
				assert.Equal(t, "command/actuator", topic)
				received <- data
			})
		require.NoError(t, err)
		defer sub.Unsubscribe()

		err = b.Publish(ctx, "command/actuator", bus.QoSSystemDefault, []byte("open-claw"))
		require.NoError(t, err)

		select {
		case data := <-received:
			assert.Equal(t, "open-claw", string(data))
		case <-time.After(2 * time.Second):
			t.Fatal("reliable message not delivered")
		}
	})

	t.Run("unsubscribe stops delivery", func(t *testing.T) {
		var count atomic.Int32
		sub, err := b.Subscribe(ctx, "state/depth", bus.QoSSensorData,
			func(_ context.Context, _ string, _ []byte) {
				count.Add(1)
			})
		require.NoError(t, err)

		require.NoError(t, b.Publish(ctx, "state/depth", bus.QoSSensorData, []byte("one")))
		time.Sleep(200 * time.Millisecond)
		require.NoError(t, sub.Unsubscribe())

		require.NoError(t, b.Publish(ctx, "state/depth", bus.QoSSensorData, []byte("two")))
		time.Sleep(200 * time.Millisecond)

		assert.Equal(t, int32(1), count.Load())
	})

	t.Run("topics do not cross targets", func(t *testing.T) {
		other, err := New(Deps{Client: testClient.Client, Target: "puddles"})
		require.NoError(t, err)

		received := make(chan []byte, 1)
		sub, err := b.Subscribe(ctx, "state/depth", bus.QoSSensorData,
			func(_ context.Context, _ string, data []byte) {
				received <- data
			})
		require.NoError(t, err)
		defer sub.Unsubscribe()

		err = other.Publish(ctx, "state/depth", bus.QoSSensorData, []byte("wrong-vehicle"))
		require.NoError(t, err)

		select {
		case data := <-received:
			t.Fatalf("received message published for another target: %s", data)
		case <-time.After(500 * time.Millisecond):
			// expected: no delivery
		}
	})
}

func TestIntegration_ParamStore(t *testing.T) {
	testClient := natsclient.NewTestClient(t, natsclient.WithKV())
	ctx := context.Background()

	store, err := OpenParamStore(ctx, ParamStoreDeps{
		Client: testClient.Client,
		Target: "talos",
	})
	require.NoError(t, err)

	t.Run("set and get all kinds", func(t *testing.T) {
		values := map[string]bus.ParamValue{
			"armed":             bus.BoolValue(true),
			"control_loop_rate": bus.DoubleValue(50.0),
			"max_depth_cm":      bus.IntValue(3000),
			"vehicle_name":      bus.StringValue("talos"),
			"pid_gains":         bus.DoubleArrayValue([]float64{1.2, 0.01, 0.4}),
			"active_thrusters":  bus.BoolArrayValue([]bool{true, true, false, true}),
		}

		for name, value := range values {
			require.NoError(t, store.Set(ctx, name, value))
		}

		for name, want := range values {
			got, err := store.Get(ctx, name)
			require.NoError(t, err, "get %s", name)
			assert.True(t, want.Equal(got), "round-trip %s: want %s got %s", name, want, got)
		}
	})

	t.Run("get missing parameter", func(t *testing.T) {
		_, err := store.Get(ctx, "never_written")
		require.Error(t, err)
		assert.ErrorIs(t, err, errors.ErrKeyNotFound)
	})

	t.Run("list returns stored names", func(t *testing.T) {
		names, err := store.List(ctx)
		require.NoError(t, err)
		assert.Contains(t, names, "armed")
		assert.Contains(t, names, "control_loop_rate")
		assert.NotContains(t, names, "never_written")
	})

	t.Run("overwrite keeps latest", func(t *testing.T) {
		require.NoError(t, store.Set(ctx, "max_depth_cm", bus.IntValue(1500)))
		got, err := store.Get(ctx, "max_depth_cm")
		require.NoError(t, err)
		assert.Equal(t, int64(1500), got.Int)
	})
}

func TestIntegration_ParamStoreWatch(t *testing.T) {
	testClient := natsclient.NewTestClient(t, natsclient.WithKV())
	ctx := context.Background()

	store, err := OpenParamStore(ctx, ParamStoreDeps{
		Client: testClient.Client,
		Target: "watchtest",
	})
	require.NoError(t, err)

	// Value present before the watch starts must not be replayed.
	require.NoError(t, store.Set(ctx, "pre_existing", bus.IntValue(1)))

	type change struct {
		name  string
		value bus.ParamValue
	}
	changes := make(chan change, 8)

	sub, err := store.Watch(ctx, func(name string, value bus.ParamValue) {
		changes <- change{name, value}
	})
	require.NoError(t, err)

	// Let the watcher drain its initial replay before writing.
	time.Sleep(200 * time.Millisecond)

	require.NoError(t, store.Set(ctx, "control_loop_rate", bus.DoubleValue(100.0)))

	select {
	case got := <-changes:
		assert.Equal(t, "control_loop_rate", got.name)
		assert.True(t, bus.DoubleValue(100.0).Equal(got.value))
	case <-time.After(2 * time.Second):
		t.Fatal("watch never delivered the change")
	}

	// No replay of the pre-existing value.
	select {
	case got := <-changes:
		t.Fatalf("unexpected extra change: %s", got.name)
	case <-time.After(300 * time.Millisecond):
	}

	require.NoError(t, sub.Unsubscribe())

	// Changes after unsubscribe are not delivered.
	require.NoError(t, store.Set(ctx, "after_stop", bus.BoolValue(true)))
	select {
	case got := <-changes:
		t.Fatalf("change delivered after unsubscribe: %s", got.name)
	case <-time.After(300 * time.Millisecond):
	}
}
