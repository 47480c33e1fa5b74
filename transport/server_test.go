package transport

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osu-uwrt/riptide-fw-bridge/errors"
)

type packet struct {
	clientID uint32
	data     []byte
}

// newTestServer starts a server on an ephemeral port and tears it down
// with the test.
func newTestServer(t *testing.T, handler PacketHandler) *Server {
	t.Helper()

	s, err := New(Deps{
		Addr:    "127.0.0.1:0",
		Handler: handler,
	})
	require.NoError(t, err)
	require.NoError(t, s.Initialize())
	require.NoError(t, s.Start(context.Background()))
	t.Cleanup(func() { _ = s.Stop(2 * time.Second) })
	return s
}

func dial(t *testing.T, s *Server) *websocket.Conn {
	t.Helper()

	conn, _, err := websocket.DefaultDialer.Dial("ws://"+s.Addr()+defaultPath, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestInitializeValidation(t *testing.T) {
	tests := []struct {
		name    string
		addr    string
		path    string
		wantErr bool
	}{
		{name: "defaults are valid", addr: "", path: ""},
		{name: "ephemeral port", addr: "127.0.0.1:0", path: "/fw"},
		{name: "address without port", addr: "localhost", wantErr: true},
		{name: "path without leading slash", addr: ":8765", path: "fw", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := New(Deps{Addr: tt.addr, Path: tt.path, Handler: func(context.Context, uint32, []byte) {}})
			require.NoError(t, err)

			err = s.Initialize()
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.IsInvalid(err))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestStartRequiresHandler(t *testing.T) {
	s, err := New(Deps{Addr: "127.0.0.1:0"})
	require.NoError(t, err)

	err = s.Start(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))

	// SetHandler fixes it.
	s.SetHandler(func(context.Context, uint32, []byte) {})
	require.NoError(t, s.Start(context.Background()))
	assert.NoError(t, s.Stop(2*time.Second))
}

func TestClientRoundTrip(t *testing.T) {
	received := make(chan packet, 4)
	s := newTestServer(t, func(_ context.Context, clientID uint32, data []byte) {
		received <- packet{clientID: clientID, data: append([]byte(nil), data...)}
	})

	conn := dial(t, s)

	// Client to server.
	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, []byte{0x0a, 0x01, 0x02}))

	var got packet
	select {
	case got = <-received:
	case <-time.After(2 * time.Second):
		t.Fatal("handler did not receive the frame")
	}
	assert.NotZero(t, got.clientID, "client ids start at 1, 0 is the broadcast address")
	assert.Equal(t, []byte{0x0a, 0x01, 0x02}, got.data)

	// Server back to that client.
	require.NoError(t, s.Transmit(got.clientID, []byte{0xfe, 0xff}))

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	msgType, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.BinaryMessage, msgType)
	assert.Equal(t, []byte{0xfe, 0xff}, data)
}

func TestBroadcast(t *testing.T) {
	received := make(chan packet, 4)
	s := newTestServer(t, func(_ context.Context, clientID uint32, data []byte) {
		received <- packet{clientID: clientID, data: append([]byte(nil), data...)}
	})

	// Broadcasting into an empty room is not an error.
	require.NoError(t, s.Transmit(Broadcast, []byte{0x01}))

	connA := dial(t, s)
	connB := dial(t, s)

	// Each client announces itself so we learn the assigned ids.
	require.NoError(t, connA.WriteMessage(websocket.BinaryMessage, []byte{0xaa}))
	require.NoError(t, connB.WriteMessage(websocket.BinaryMessage, []byte{0xbb}))

	ids := make(map[uint32]bool)
	for i := 0; i < 2; i++ {
		select {
		case got := <-received:
			ids[got.clientID] = true
		case <-time.After(2 * time.Second):
			t.Fatal("handler did not receive both frames")
		}
	}
	assert.Len(t, ids, 2, "each connection gets its own id")
	assert.False(t, ids[Broadcast])

	require.NoError(t, s.Transmit(Broadcast, []byte{0x42, 0x43}))

	for _, conn := range []*websocket.Conn{connA, connB} {
		_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		msgType, data, err := conn.ReadMessage()
		require.NoError(t, err)
		assert.Equal(t, websocket.BinaryMessage, msgType)
		assert.Equal(t, []byte{0x42, 0x43}, data)
	}
}

func TestTransmitUnknownClient(t *testing.T) {
	s := newTestServer(t, func(context.Context, uint32, []byte) {})

	err := s.Transmit(42, []byte{0x01})
	require.Error(t, err)
	assert.True(t, stderrors.Is(err, errors.ErrClientNotFound))
}

func TestNonBinaryFramesIgnored(t *testing.T) {
	received := make(chan packet, 4)
	s := newTestServer(t, func(_ context.Context, clientID uint32, data []byte) {
		received <- packet{clientID: clientID, data: append([]byte(nil), data...)}
	})

	conn := dial(t, s)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("hello")))
	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, []byte{0x07}))

	select {
	case got := <-received:
		assert.Equal(t, []byte{0x07}, got.data, "text frame must not reach the handler")
	case <-time.After(2 * time.Second):
		t.Fatal("binary frame did not reach the handler")
	}
	assert.Empty(t, received)
}

func TestDisconnectCleanup(t *testing.T) {
	s := newTestServer(t, func(context.Context, uint32, []byte) {})

	conn := dial(t, s)
	require.Eventually(t, func() bool { return s.ClientCount() == 1 },
		2*time.Second, 10*time.Millisecond)

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return s.ClientCount() == 0 },
		2*time.Second, 10*time.Millisecond)
}

func TestStopDisconnectsClients(t *testing.T) {
	s, err := New(Deps{
		Addr:    "127.0.0.1:0",
		Handler: func(context.Context, uint32, []byte) {},
	})
	require.NoError(t, err)
	require.NoError(t, s.Start(context.Background()))

	conn := dial(t, s)
	require.Eventually(t, func() bool { return s.ClientCount() == 1 },
		2*time.Second, 10*time.Millisecond)

	require.NoError(t, s.Stop(2*time.Second))
	assert.Zero(t, s.ClientCount())
	assert.False(t, s.Health().Healthy)

	// The client sees the connection close.
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err = conn.ReadMessage()
	assert.Error(t, err)

	// Stopped servers reject sends and tolerate repeated stops.
	err = s.Transmit(Broadcast, []byte{0x01})
	assert.True(t, stderrors.Is(err, errors.ErrNotStarted))
	assert.NoError(t, s.Stop(time.Second))
}

func TestHealthReporting(t *testing.T) {
	s := newTestServer(t, func(context.Context, uint32, []byte) {})

	health := s.Health()
	assert.True(t, health.Healthy)
	assert.Zero(t, health.ErrorCount)

	meta := s.Meta()
	assert.Equal(t, "transport", meta.Name)
	assert.Equal(t, "transport", meta.Type)
}
