package bridge

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/osu-uwrt/riptide-fw-bridge/bus"
	"github.com/osu-uwrt/riptide-fw-bridge/component"
	"github.com/osu-uwrt/riptide-fw-bridge/errors"
	"github.com/osu-uwrt/riptide-fw-bridge/metric"
	"github.com/osu-uwrt/riptide-fw-bridge/schema"
)

// Broadcast addresses a transmit to every connected client.
const Broadcast uint32 = 0

// TransmitFunc delivers one serialized envelope to a client. A clientID of
// Broadcast addresses all connected clients.
type TransmitFunc func(clientID uint32, data []byte) error

// Deps provides the external dependencies for the runtime bridge.
type Deps struct {
	Schema          *schema.Schema
	Target          string // bound target; selects the routing table
	Bus             bus.Bus
	Params          bus.ParamStore // required when the schema declares parameters
	Transmit        TransmitFunc
	Logger          *slog.Logger
	MetricsRegistry *metric.MetricsRegistry // can be nil
}

// Bridge demultiplexes wire envelopes for one bound target: inbound
// packets are decoded and routed onto the bus or the parameter store,
// bus deliveries on outbound topics are encoded and broadcast back out.
// All routing state is built at construction; nothing is allocated per
// packet beyond the decoded envelope itself.
type Bridge struct {
	schema   *schema.Schema
	target   string
	version  uint32
	topics   *TopicRouter
	params   *ParameterRouter
	transmit TransmitFunc
	logger   *slog.Logger
	metrics  *Metrics

	// txMu makes one serialize+transmit atomic. There is no ordering
	// guarantee across calls; callers race for the wire.
	txMu sync.Mutex

	started    atomic.Bool
	startTime  time.Time
	errorCount atomic.Int64
	lastError  atomic.Value // string
}

var _ component.LifecycleComponent = (*Bridge)(nil)

// Metrics holds Prometheus metrics for the bridge core.
type Metrics struct {
	packetsTotal   prometheus.Counter
	handledTotal   *prometheus.CounterVec
	dropsTotal     *prometheus.CounterVec
	responsesTotal prometheus.Counter
	acksTotal      prometheus.Counter
	sendErrors     *prometheus.CounterVec
}

// newMetrics creates and registers bridge metrics. A nil registry disables
// metrics collection (nil input = nil feature pattern).
func newMetrics(registry *metric.MetricsRegistry) *Metrics {
	if registry == nil {
		return nil
	}

	metrics := &Metrics{
		packetsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "fwbridge",
			Subsystem: "bridge",
			Name:      "packets_total",
			Help:      "Total inbound packets received from the transport",
		}),

		handledTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fwbridge",
			Subsystem: "bridge",
			Name:      "handled_total",
			Help:      "Inbound packets routed successfully, by envelope member",
		}, []string{"member"}),

		dropsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fwbridge",
			Subsystem: "bridge",
			Name:      "drops_total",
			Help:      "Inbound packets dropped, by reason",
		}, []string{"reason"}),

		responsesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "fwbridge",
			Subsystem: "bridge",
			Name:      "responses_total",
			Help:      "Envelopes transmitted toward clients",
		}),

		acksTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "fwbridge",
			Subsystem: "bridge",
			Name:      "acks_total",
			Help:      "Ack envelopes echoed back to requesting clients",
		}),

		sendErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fwbridge",
			Subsystem: "bridge",
			Name:      "send_errors_total",
			Help:      "Outbound sends aborted, by stage",
		}, []string{"stage"}),
	}

	registry.PrometheusRegistry().MustRegister(
		metrics.packetsTotal,
		metrics.handledTotal,
		metrics.dropsTotal,
		metrics.responsesTotal,
		metrics.acksTotal,
		metrics.sendErrors,
	)

	return metrics
}

func (m *Metrics) recordPacket() {
	if m != nil {
		m.packetsTotal.Inc()
	}
}

func (m *Metrics) recordHandled(member string) {
	if m != nil {
		m.handledTotal.WithLabelValues(member).Inc()
	}
}

func (m *Metrics) recordDrop(reason string) {
	if m != nil {
		m.dropsTotal.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) recordResponse() {
	if m != nil {
		m.responsesTotal.Inc()
	}
}

func (m *Metrics) recordAck() {
	if m != nil {
		m.acksTotal.Inc()
	}
}

func (m *Metrics) recordSendError(stage string) {
	if m != nil {
		m.sendErrors.WithLabelValues(stage).Inc()
	}
}

// New creates a runtime bridge bound to one target of the compiled
// schema. The returned bridge routes packets immediately; Start brings up
// the outbound side (bus subscriptions and the parameter watch).
func New(deps Deps) (*Bridge, error) {
	if deps.Schema == nil {
		return nil, errors.WrapInvalid(
			fmt.Errorf("compiled schema is required"),
			"Bridge", "New", "validate dependencies")
	}
	if deps.Bus == nil {
		return nil, errors.WrapInvalid(
			fmt.Errorf("bus is required"),
			"Bridge", "New", "validate dependencies")
	}
	if deps.Transmit == nil {
		return nil, errors.WrapInvalid(
			fmt.Errorf("transmit callback is required"),
			"Bridge", "New", "validate dependencies")
	}
	table, ok := deps.Schema.Table(deps.Target)
	if !ok {
		return nil, errors.WrapInvalid(
			fmt.Errorf("target %q is not declared in the spec", deps.Target),
			"Bridge", "New", "validate dependencies")
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "bridge", "target", deps.Target)

	b := &Bridge{
		schema:   deps.Schema,
		target:   deps.Target,
		version:  deps.Schema.Version(),
		transmit: deps.Transmit,
		logger:   logger,
		metrics:  newMetrics(deps.MetricsRegistry),
	}
	b.topics = newTopicRouter(deps.Schema, table, deps.Bus, b.sendResponse, logger, b.metrics)

	if params := deps.Schema.Params(); params != nil {
		if deps.Params == nil {
			return nil, errors.WrapInvalid(
				fmt.Errorf("spec declares parameters but no parameter store was provided"),
				"Bridge", "New", "validate dependencies")
		}
		b.params = newParameterRouter(deps.Schema, deps.Params, b.sendResponse, logger, b.metrics)
	}

	return b, nil
}

// OnPacket handles one inbound packet from a client. Malformed or
// unroutable packets are logged, counted, and dropped; nothing a client
// sends can take the bridge down.
func (b *Bridge) OnPacket(ctx context.Context, clientID uint32, data []byte) {
	b.metrics.recordPacket()

	env, err := b.schema.Decode(data)
	if err != nil {
		b.drop(clientID, err)
		return
	}

	switch {
	case env.Member == nil:
		if env.Token != 0 {
			// bare ack; the bridge does not track outstanding tokens
			b.logger.Debug("ack received", "client_id", clientID, "token", env.Token)
			return
		}
		b.drop(clientID, errEmptyEnvelope)
		return

	case env.Member.Kind == schema.MemberHandshake:
		if env.Version != b.version {
			b.drop(clientID, &HandshakeMismatchError{Got: env.Version, Want: b.version})
			return
		}
		b.logger.Info("client connected", "client_id", clientID, "protocol_version", b.version)
		b.metrics.recordHandled(env.Member.Name)

	default:
		handled, err := b.topics.HandleInbound(ctx, env)
		if err != nil {
			b.drop(clientID, err)
			return
		}
		if !handled {
			if b.params != nil {
				done, err := b.params.Handle(ctx, clientID, env)
				if err != nil {
					b.drop(clientID, err)
					return
				}
				if done {
					// parameter responses carry the request token themselves
					b.metrics.recordHandled(env.Member.Name)
					return
				}
			}
			b.drop(clientID, &UnroutableError{Member: env.Member.Name})
			return
		}
		b.metrics.recordHandled(env.Member.Name)
	}

	if env.Token != 0 {
		b.metrics.recordAck()
		b.sendResponse(clientID, schema.Ack(env.Token))
	}
}

// drop records one contained packet failure.
func (b *Bridge) drop(clientID uint32, err error) {
	b.errorCount.Add(1)
	b.lastError.Store(err.Error())
	b.metrics.recordDrop(dropReason(err))
	b.logger.Warn("packet dropped", "client_id", clientID, "error", err)
}

// dropReason buckets a packet failure for the drop counter.
func dropReason(err error) string {
	var (
		decodeErr    *schema.DecodeError
		convErr      *schema.ConversionError
		handshakeErr *HandshakeMismatchError
		routeErr     *UnroutableError
	)
	switch {
	case stderrors.As(err, &decodeErr):
		return "decode"
	case stderrors.As(err, &convErr):
		return "conversion"
	case stderrors.As(err, &handshakeErr):
		return "handshake_mismatch"
	case stderrors.As(err, &routeErr):
		return "unroutable"
	case stderrors.Is(err, errEmptyEnvelope):
		return "empty"
	default:
		return "internal"
	}
}

// sendResponse serializes env and hands it to the transmit callback. The
// tx mutex is held for the whole serialize+transmit, so concurrent
// callers cannot interleave on the wire; a failure aborts this send only.
func (b *Bridge) sendResponse(clientID uint32, env *schema.Envelope) {
	b.txMu.Lock()
	defer b.txMu.Unlock()

	data, err := b.schema.Encode(env)
	if err != nil {
		b.errorCount.Add(1)
		b.lastError.Store(err.Error())
		b.metrics.recordSendError("serialize")
		b.logger.Error("response dropped", "client_id", clientID, "error", err)
		return
	}
	if err := b.transmit(clientID, data); err != nil {
		b.errorCount.Add(1)
		b.lastError.Store(err.Error())
		b.metrics.recordSendError("transmit")
		b.logger.Warn("transmit failed", "client_id", clientID, "error", err)
		return
	}
	b.metrics.recordResponse()
}

// Version returns the protocol version the bridge was compiled with.
func (b *Bridge) Version() uint32 { return b.version }

// Initialize implements component.LifecycleComponent. All routing state
// is built in New, so there is nothing left to set up.
func (b *Bridge) Initialize() error { return nil }

// Start brings up the outbound side: one bus subscription per outbound
// topic and the parameter store watch.
func (b *Bridge) Start(ctx context.Context) error {
	if err := b.topics.Start(ctx); err != nil {
		return errors.Wrap(err, "Bridge", "Start", "subscribe outbound topics")
	}
	if b.params != nil {
		if err := b.params.Start(ctx); err != nil {
			stopErr := b.topics.Stop()
			return stderrors.Join(
				errors.Wrap(err, "Bridge", "Start", "watch parameter store"),
				stopErr)
		}
	}
	b.startTime = time.Now()
	b.started.Store(true)
	b.logger.Info("bridge started",
		"protocol_version", b.version,
		"inbound_members", len(b.topics.table.Inbound),
		"outbound_members", len(b.topics.table.Outbound))
	return nil
}

// Stop tears down the bus subscriptions and the parameter watch. Inbound
// packets arriving after Stop are still routed; stopping the transport
// first is the caller's job. Unsubscribes are prompt, so the timeout is
// not consulted.
func (b *Bridge) Stop(_ time.Duration) error {
	b.started.Store(false)

	var errs []error
	if err := b.topics.Stop(); err != nil {
		errs = append(errs, err)
	}
	if b.params != nil {
		if err := b.params.Stop(); err != nil {
			errs = append(errs, err)
		}
	}
	b.logger.Info("bridge stopped")
	return stderrors.Join(errs...)
}

// Meta implements component.Discoverable.
func (b *Bridge) Meta() component.Metadata {
	return component.Metadata{
		Name:        "bridge",
		Type:        "bridge",
		Description: "routes firmware wire traffic for target " + b.target,
		Version:     "1.0.0",
	}
}

// Health implements component.Discoverable. Dropped packets count as
// errors but never mark the bridge unhealthy; bad client input is a
// client problem.
func (b *Bridge) Health() component.HealthStatus {
	status := component.HealthStatus{
		Healthy:    b.started.Load(),
		LastCheck:  time.Now(),
		ErrorCount: int(b.errorCount.Load()),
	}
	if msg, ok := b.lastError.Load().(string); ok {
		status.LastError = msg
	}
	if status.Healthy {
		status.Uptime = time.Since(b.startTime)
	}
	return status
}
