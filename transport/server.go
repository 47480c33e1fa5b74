package transport

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/osu-uwrt/riptide-fw-bridge/component"
	"github.com/osu-uwrt/riptide-fw-bridge/errors"
	"github.com/osu-uwrt/riptide-fw-bridge/metric"
	"github.com/osu-uwrt/riptide-fw-bridge/pkg/retry"
)

// Broadcast addresses a transmit to every connected client. The zero id
// is never assigned to a connection.
const Broadcast uint32 = 0

const (
	defaultAddr = ":8765"
	defaultPath = "/fw"

	// writeWait bounds a single frame or control write.
	writeWait = 10 * time.Second
	// pongWait is the read deadline; a client that answers no ping
	// within it is dropped by the read loop.
	pongWait = 60 * time.Second
	// pingInterval must be shorter than pongWait.
	pingInterval = 30 * time.Second

	// maxFrameSize bounds one inbound envelope frame. Firmware
	// envelopes are small; anything near this limit is garbage.
	maxFrameSize = 1 << 20
)

// PacketHandler receives one inbound binary frame from a client. The
// handler must not retain data after returning.
type PacketHandler func(ctx context.Context, clientID uint32, data []byte)

// Deps provides the external dependencies for the transport server.
type Deps struct {
	Addr            string        // listen address, defaults to ":8765"
	Path            string        // upgrade path, defaults to "/fw"
	Handler         PacketHandler // may be set later via SetHandler, required by Start
	Logger          *slog.Logger
	MetricsRegistry *metric.MetricsRegistry // can be nil
}

// Server is the WebSocket endpoint firmware clients connect to. Each
// connection gets a server-unique uint32 id; inbound binary frames are
// handed to the packet handler with that id, and Transmit sends frames
// back to one client or to all of them.
type Server struct {
	addr    string
	path    string
	logger  *slog.Logger
	metrics *Metrics

	upgrader    websocket.Upgrader
	retryConfig retry.Config

	clientsMu sync.RWMutex
	clients   map[uint32]*client
	nextID    atomic.Uint32

	// lifecycleMu serializes Start/Stop/SetHandler.
	lifecycleMu sync.Mutex
	running     atomic.Bool
	handler     PacketHandler
	httpServer  *http.Server
	boundAddr   string
	shutdown    chan struct{}
	wg          sync.WaitGroup

	// runCtx is derived from the Start context and handed to the
	// packet handler; it is set before the listener accepts.
	runCtx    context.Context
	runCancel context.CancelFunc

	startTime  time.Time
	errorCount atomic.Int64
	lastError  atomic.Value // string
}

var _ component.LifecycleComponent = (*Server)(nil)

// client is one live WebSocket connection.
type client struct {
	id          uint32
	corrID      string
	conn        *websocket.Conn
	connectedAt time.Time
	lastPong    atomic.Value // time.Time

	// writeMu serializes all writes on conn.
	writeMu   sync.Mutex
	closeOnce sync.Once
	closed    atomic.Bool
}

// Metrics holds Prometheus metrics for the transport server.
type Metrics struct {
	clientsConnected    prometheus.Gauge
	connectionsTotal    prometheus.Counter
	disconnectionsTotal *prometheus.CounterVec
	framesReceived      prometheus.Counter
	framesSent          prometheus.Counter
	bytesReceived       prometheus.Counter
	bytesSent           prometheus.Counter
	errorsTotal         *prometheus.CounterVec
}

// newMetrics creates and registers transport metrics. A nil registry
// disables metrics collection (nil input = nil feature pattern).
func newMetrics(registry *metric.MetricsRegistry) *Metrics {
	if registry == nil {
		return nil
	}

	metrics := &Metrics{
		clientsConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "fwbridge",
			Subsystem: "transport",
			Name:      "clients_connected",
			Help:      "Currently connected firmware clients",
		}),

		connectionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "fwbridge",
			Subsystem: "transport",
			Name:      "connections_total",
			Help:      "Accepted WebSocket connections",
		}),

		disconnectionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fwbridge",
			Subsystem: "transport",
			Name:      "disconnections_total",
			Help:      "Closed connections, by reason",
		}, []string{"reason"}),

		framesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "fwbridge",
			Subsystem: "transport",
			Name:      "frames_received_total",
			Help:      "Binary frames received from clients",
		}),

		framesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "fwbridge",
			Subsystem: "transport",
			Name:      "frames_sent_total",
			Help:      "Binary frames written to clients",
		}),

		bytesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "fwbridge",
			Subsystem: "transport",
			Name:      "bytes_received_total",
			Help:      "Payload bytes received from clients",
		}),

		bytesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "fwbridge",
			Subsystem: "transport",
			Name:      "bytes_sent_total",
			Help:      "Payload bytes written to clients",
		}),

		errorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fwbridge",
			Subsystem: "transport",
			Name:      "errors_total",
			Help:      "Transport errors, by type",
		}, []string{"error_type"}),
	}

	registry.PrometheusRegistry().MustRegister(
		metrics.clientsConnected,
		metrics.connectionsTotal,
		metrics.disconnectionsTotal,
		metrics.framesReceived,
		metrics.framesSent,
		metrics.bytesReceived,
		metrics.bytesSent,
		metrics.errorsTotal,
	)

	return metrics
}

func (m *Metrics) recordConnect(active int) {
	if m != nil {
		m.connectionsTotal.Inc()
		m.clientsConnected.Set(float64(active))
	}
}

func (m *Metrics) recordDisconnect(reason string, active int) {
	if m != nil {
		m.disconnectionsTotal.WithLabelValues(reason).Inc()
		m.clientsConnected.Set(float64(active))
	}
}

func (m *Metrics) recordReceived(bytes int) {
	if m != nil {
		m.framesReceived.Inc()
		m.bytesReceived.Add(float64(bytes))
	}
}

func (m *Metrics) recordSent(bytes int) {
	if m != nil {
		m.framesSent.Inc()
		m.bytesSent.Add(float64(bytes))
	}
}

func (m *Metrics) recordError(errorType string) {
	if m != nil {
		m.errorsTotal.WithLabelValues(errorType).Inc()
	}
}

// New creates a transport server. The packet handler may be left nil
// here and wired with SetHandler before Start; that breaks the
// construction cycle with the bridge, which needs Transmit first.
func New(deps Deps) (*Server, error) {
	addr := deps.Addr
	if addr == "" {
		addr = defaultAddr
	}
	path := deps.Path
	if path == "" {
		path = defaultPath
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "transport", "addr", addr)

	s := &Server{
		addr:    addr,
		path:    path,
		handler: deps.Handler,
		logger:  logger,
		metrics: newMetrics(deps.MetricsRegistry),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Firmware clients send no Origin header.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		retryConfig: retry.DefaultConfig(),
		clients:     make(map[uint32]*client),
	}
	return s, nil
}

// SetHandler wires the inbound packet handler. Must be called before
// Start.
func (s *Server) SetHandler(handler PacketHandler) {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()
	s.handler = handler
}

// Initialize implements component.LifecycleComponent.
func (s *Server) Initialize() error {
	if _, _, err := net.SplitHostPort(s.addr); err != nil {
		return errors.WrapInvalid(
			fmt.Errorf("listen address %q: %w", s.addr, err),
			"Transport", "Initialize", "validate configuration")
	}
	if len(s.path) == 0 || s.path[0] != '/' {
		return errors.WrapInvalid(
			fmt.Errorf("upgrade path %q must start with /", s.path),
			"Transport", "Initialize", "validate configuration")
	}
	return nil
}

// Start binds the listener and begins accepting connections. The
// context must outlive the server; it is the parent of every handler
// invocation.
func (s *Server) Start(ctx context.Context) error {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()

	if s.running.Load() {
		return nil // already running, idempotent
	}
	if s.handler == nil {
		return errors.WrapInvalid(
			fmt.Errorf("packet handler is required: %w", errors.ErrMissingConfig),
			"Transport", "Start", "validate configuration")
	}

	s.shutdown = make(chan struct{})
	s.runCtx, s.runCancel = context.WithCancel(ctx)

	var listener net.Listener
	bindOperation := func() error {
		l, err := net.Listen("tcp", s.addr)
		if err != nil {
			return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
		}
		listener = l
		return nil
	}
	if err := retry.Do(ctx, s.retryConfig, bindOperation); err != nil {
		s.runCancel()
		return errors.WrapTransient(err, "Transport", "Start", "socket binding")
	}
	s.boundAddr = listener.Addr().String()

	mux := http.NewServeMux()
	mux.HandleFunc(s.path, s.handleUpgrade)
	s.httpServer = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.wg.Add(1)
	go s.serve(listener)

	s.wg.Add(1)
	go s.maintainClients()

	s.running.Store(true)
	s.startTime = time.Now()
	s.logger.Info("transport listening", "bound_addr", s.boundAddr, "path", s.path)
	return nil
}

// serve runs the HTTP server until shutdown.
func (s *Server) serve(listener net.Listener) {
	defer s.wg.Done()

	if err := s.httpServer.Serve(listener); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
		s.errorCount.Add(1)
		s.lastError.Store(err.Error())
		s.metrics.recordError("serve")
		s.logger.Error("http server failed", "error", err)
	}
}

// handleUpgrade accepts one WebSocket connection and registers it as a
// client.
func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	if !s.running.Load() {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.errorCount.Add(1)
		s.lastError.Store(err.Error())
		s.metrics.recordError("upgrade")
		s.logger.Warn("websocket upgrade failed", "remote_addr", r.RemoteAddr, "error", err)
		return
	}

	select {
	case <-s.shutdown:
		_ = conn.Close()
		return
	default:
	}

	c := &client{
		id:          s.nextID.Add(1),
		corrID:      uuid.NewString(),
		conn:        conn,
		connectedAt: time.Now(),
	}
	c.lastPong.Store(time.Now())

	s.clientsMu.Lock()
	s.clients[c.id] = c
	active := len(s.clients)
	s.clientsMu.Unlock()

	s.metrics.recordConnect(active)
	s.logger.Info("client connected",
		"client_id", c.id,
		"conn_id", c.corrID,
		"remote_addr", r.RemoteAddr,
		"active_clients", active)

	s.wg.Add(1)
	go s.readClient(c)
}

// readClient pumps inbound frames from one client until the connection
// dies or the server shuts down.
func (s *Server) readClient(c *client) {
	defer s.wg.Done()

	reason := "client_closed"
	defer func() { s.disconnect(c, reason) }()

	c.conn.SetReadLimit(maxFrameSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.lastPong.Store(time.Now())
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		select {
		case <-s.shutdown:
			reason = "server_shutdown"
			return
		default:
		}

		msgType, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				reason = "read_error"
				s.errorCount.Add(1)
				s.lastError.Store(err.Error())
				s.logger.Warn("client read failed",
					"client_id", c.id, "conn_id", c.corrID, "error", err)
			}
			return
		}
		if msgType != websocket.BinaryMessage {
			s.metrics.recordError("non_binary_frame")
			s.logger.Debug("non-binary frame ignored", "client_id", c.id)
			continue
		}

		s.metrics.recordReceived(len(data))
		s.handler(s.runCtx, c.id, data)
	}
}

// Transmit sends one binary frame to a client; bridge.TransmitFunc is
// satisfied by this method. A clientID of Broadcast fans the frame out
// to every connected client, best effort. A failed write to a specific
// client drops that client and returns the error.
func (s *Server) Transmit(clientID uint32, data []byte) error {
	if !s.running.Load() {
		return errors.WrapTransient(errors.ErrNotStarted,
			"Transport", "Transmit", "send frame")
	}

	if clientID == Broadcast {
		s.broadcast(data)
		return nil
	}

	s.clientsMu.RLock()
	c, ok := s.clients[clientID]
	s.clientsMu.RUnlock()
	if !ok {
		return errors.WrapTransient(
			fmt.Errorf("client %d: %w", clientID, errors.ErrClientNotFound),
			"Transport", "Transmit", "send frame")
	}

	if err := s.writeFrame(c, data); err != nil {
		s.disconnect(c, "write_error")
		return errors.WrapTransient(err, "Transport", "Transmit", "send frame")
	}
	return nil
}

// broadcast writes a frame to every connected client. Write failures
// drop the offending client and never abort the fan-out.
func (s *Server) broadcast(data []byte) {
	targets := s.snapshot()
	if len(targets) == 0 {
		return
	}
	for _, c := range targets {
		if err := s.writeFrame(c, data); err != nil {
			s.errorCount.Add(1)
			s.lastError.Store(err.Error())
			s.logger.Warn("broadcast write failed",
				"client_id", c.id, "conn_id", c.corrID, "error", err)
			s.disconnect(c, "write_error")
		}
	}
}

// writeFrame writes one binary frame under the client's write mutex.
func (s *Server) writeFrame(c *client, data []byte) error {
	if c.closed.Load() {
		return fmt.Errorf("client %d: %w", c.id, errors.ErrClientNotFound)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
		s.metrics.recordError("write")
		return err
	}
	s.metrics.recordSent(len(data))
	return nil
}

// maintainClients pings all clients on an interval and drops the ones
// that stopped answering.
func (s *Server) maintainClients() {
	defer s.wg.Done()

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.shutdown:
			return
		case <-ticker.C:
			s.pingClients()
		}
	}
}

func (s *Server) pingClients() {
	for _, c := range s.snapshot() {
		if last, ok := c.lastPong.Load().(time.Time); ok {
			if time.Since(last) > pongWait+pingInterval {
				s.disconnect(c, "ping_timeout")
				continue
			}
		}

		c.writeMu.Lock()
		err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
		c.writeMu.Unlock()
		if err != nil {
			s.metrics.recordError("ping")
			s.disconnect(c, "ping_failure")
		}
	}
}

// snapshot returns the current clients without holding the lock during
// use.
func (s *Server) snapshot() []*client {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	targets := make([]*client, 0, len(s.clients))
	for _, c := range s.clients {
		targets = append(targets, c)
	}
	return targets
}

// disconnect closes one client connection and deregisters it. Safe to
// call from any goroutine, any number of times.
func (s *Server) disconnect(c *client, reason string) {
	c.closeOnce.Do(func() {
		c.closed.Store(true)

		c.writeMu.Lock()
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		_ = c.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.writeMu.Unlock()
		_ = c.conn.Close()

		s.clientsMu.Lock()
		delete(s.clients, c.id)
		active := len(s.clients)
		s.clientsMu.Unlock()

		s.metrics.recordDisconnect(reason, active)
		s.logger.Info("client disconnected",
			"client_id", c.id,
			"conn_id", c.corrID,
			"reason", reason,
			"duration", time.Since(c.connectedAt),
			"active_clients", active)
	})
}

// Stop closes the listener, disconnects all clients and waits for the
// connection goroutines to exit, up to the timeout.
func (s *Server) Stop(timeout time.Duration) error {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()

	if !s.running.Load() {
		return nil
	}
	s.running.Store(false)
	deadline := time.Now().Add(timeout)

	select {
	case <-s.shutdown:
	default:
		close(s.shutdown)
	}

	shutdownCtx, cancel := context.WithDeadline(context.Background(), deadline)
	defer cancel()
	shutdownErr := s.httpServer.Shutdown(shutdownCtx)

	// Shutdown does not touch hijacked connections; close them so the
	// read loops unblock.
	for _, c := range s.snapshot() {
		s.disconnect(c, "server_shutdown")
	}
	s.runCancel()

	waitDone := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(waitDone)
	}()
	select {
	case <-waitDone:
	case <-time.After(time.Until(deadline)):
		return stderrors.Join(shutdownErr, errors.WrapTransient(
			fmt.Errorf("connection goroutines did not exit before deadline"),
			"Transport", "Stop", "wait for shutdown"))
	}

	s.logger.Info("transport stopped")
	return shutdownErr
}

// Addr returns the bound listen address. Useful when the configured
// address requested an ephemeral port.
func (s *Server) Addr() string {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()
	return s.boundAddr
}

// ClientCount returns the number of connected clients.
func (s *Server) ClientCount() int {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	return len(s.clients)
}

// Meta implements component.Discoverable.
func (s *Server) Meta() component.Metadata {
	return component.Metadata{
		Name:        "transport",
		Type:        "transport",
		Description: "WebSocket endpoint for firmware wire traffic",
		Version:     "1.0.0",
	}
}

// Health implements component.Discoverable.
func (s *Server) Health() component.HealthStatus {
	status := component.HealthStatus{
		Healthy:    s.running.Load(),
		LastCheck:  time.Now(),
		ErrorCount: int(s.errorCount.Load()),
	}
	if msg, ok := s.lastError.Load().(string); ok {
		status.LastError = msg
	}
	if status.Healthy {
		status.Uptime = time.Since(s.startTime)
	}
	return status
}
