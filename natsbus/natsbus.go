package natsbus

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/osu-uwrt/riptide-fw-bridge/bus"
	"github.com/osu-uwrt/riptide-fw-bridge/errors"
	"github.com/osu-uwrt/riptide-fw-bridge/metric"
	"github.com/osu-uwrt/riptide-fw-bridge/natsclient"
	"github.com/osu-uwrt/riptide-fw-bridge/pkg/retry"
)

// subjectRoot prefixes every subject the bridge touches so bridge traffic
// is isolated from anything else on the vehicle's NATS server.
const subjectRoot = "fwbridge"

// Deps provides the external dependencies for the NATS bus adapter.
type Deps struct {
	Client          *natsclient.Client
	Target          string // bound bridge target; scopes subjects and the stream
	Logger          *slog.Logger
	MetricsRegistry *metric.MetricsRegistry // can be nil
}

// Bus routes topic traffic onto NATS for one bridge target. It implements
// the bus.Bus interface: sensor_data publishes use plain NATS subjects,
// system_default publishes go through the target's JetStream stream.
type Bus struct {
	client  *natsclient.Client
	target  string
	stream  string
	logger  *slog.Logger
	metrics *Metrics
}

var _ bus.Bus = (*Bus)(nil)

// Metrics holds Prometheus metrics for the bus adapter.
type Metrics struct {
	publishesTotal  *prometheus.CounterVec
	deliveriesTotal *prometheus.CounterVec
	errorsTotal     *prometheus.CounterVec
}

// newMetrics creates and registers bus metrics. A nil registry disables
// metrics collection (nil input = nil feature pattern).
func newMetrics(registry *metric.MetricsRegistry) *Metrics {
	if registry == nil {
		return nil
	}

	metrics := &Metrics{
		publishesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fwbridge",
			Subsystem: "bus",
			Name:      "publishes_total",
			Help:      "Total messages published to the bus",
		}, []string{"topic", "qos"}),

		deliveriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fwbridge",
			Subsystem: "bus",
			Name:      "deliveries_total",
			Help:      "Total messages delivered to bus subscribers",
		}, []string{"topic"}),

		errorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fwbridge",
			Subsystem: "bus",
			Name:      "errors_total",
			Help:      "Bus adapter errors",
		}, []string{"operation"}),
	}

	registry.PrometheusRegistry().MustRegister(
		metrics.publishesTotal,
		metrics.deliveriesTotal,
		metrics.errorsTotal,
	)

	return metrics
}

// recordPublish increments the publish counter if metrics are enabled.
func (m *Metrics) recordPublish(topic string, qos bus.QoS) {
	if m != nil {
		m.publishesTotal.WithLabelValues(topic, string(qos)).Inc()
	}
}

// recordDelivery increments the delivery counter if metrics are enabled.
func (m *Metrics) recordDelivery(topic string) {
	if m != nil {
		m.deliveriesTotal.WithLabelValues(topic).Inc()
	}
}

// recordError increments the error counter if metrics are enabled.
func (m *Metrics) recordError(operation string) {
	if m != nil {
		m.errorsTotal.WithLabelValues(operation).Inc()
	}
}

// New creates a NATS bus adapter bound to one target. The client must be
// connected before Publish/Subscribe are used; call EnsureStream once
// after connecting to provision the reliable-delivery stream.
func New(deps Deps) (*Bus, error) {
	if deps.Client == nil {
		return nil, errors.WrapInvalid(
			fmt.Errorf("NATS client is required"),
			"Bus", "New", "validate dependencies")
	}
	if deps.Target == "" {
		return nil, errors.WrapInvalid(
			fmt.Errorf("target is required"),
			"Bus", "New", "validate dependencies")
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Bus{
		client:  deps.Client,
		target:  deps.Target,
		stream:  StreamName(deps.Target),
		logger:  logger.With("component", "natsbus"),
		metrics: newMetrics(deps.MetricsRegistry),
	}, nil
}

// StreamName returns the JetStream stream name for a target.
func StreamName(target string) string {
	return "FWBRIDGE_" + strings.ToUpper(target)
}

// Subject maps a declared topic name to its NATS subject. The QoS class
// splits the subject space so the JetStream stream only captures reliable
// topics; topic path segments become subject tokens.
func (b *Bus) Subject(topic string, qos bus.QoS) string {
	class := "sys"
	if qos == bus.QoSSensorData {
		class = "sensor"
	}
	return subjectRoot + "." + b.target + "." + class + "." + strings.ReplaceAll(topic, "/", ".")
}

// streamFilter returns the subject filter the target's stream captures.
func (b *Bus) streamFilter() string {
	return subjectRoot + "." + b.target + ".sys.>"
}

// EnsureStream provisions the target's JetStream stream, retrying while
// the server settles after connect. Safe to call when the stream exists.
func (b *Bus) EnsureStream(ctx context.Context) error {
	cfg := jetstream.StreamConfig{
		Name:        b.stream,
		Description: fmt.Sprintf("Reliable bridge topics for target %s", b.target),
		Subjects:    []string{b.streamFilter()},
		Retention:   jetstream.LimitsPolicy,
	}

	err := retry.Do(ctx, errors.DefaultRetryConfig().ToRetryConfig(), func() error {
		_, err := b.client.CreateStream(ctx, cfg)
		return err
	})
	if err != nil {
		b.metrics.recordError("ensure_stream")
		return errors.WrapTransient(err, "Bus", "EnsureStream", "create stream "+b.stream)
	}

	b.logger.Info("Bus stream ready", "stream", b.stream, "filter", b.streamFilter())
	return nil
}

// Publish sends data on a topic with the topic's delivery class.
func (b *Bus) Publish(ctx context.Context, topic string, qos bus.QoS, data []byte) error {
	subject := b.Subject(topic, qos)

	var err error
	if qos == bus.QoSSystemDefault {
		err = b.client.PublishToStream(ctx, subject, data)
	} else {
		err = b.client.Publish(ctx, subject, data)
	}
	if err != nil {
		b.metrics.recordError("publish")
		return errors.WrapTransient(err, "Bus", "Publish", "publish "+topic)
	}

	b.metrics.recordPublish(topic, qos)
	return nil
}

// Subscribe registers handler for messages on a topic. Each subscription
// owns its delivery resources; Unsubscribe releases them.
func (b *Bus) Subscribe(ctx context.Context, topic string, qos bus.QoS, handler bus.MessageHandler) (bus.Subscription, error) {
	if qos == bus.QoSSystemDefault {
		return b.subscribeStream(ctx, topic, handler)
	}
	return b.subscribeCore(ctx, topic, handler)
}

// subscribeCore subscribes to a sensor_data topic on a plain NATS subject.
func (b *Bus) subscribeCore(ctx context.Context, topic string, handler bus.MessageHandler) (bus.Subscription, error) {
	conn := b.client.GetConnection()
	if conn == nil || !conn.IsConnected() {
		return nil, errors.WrapTransient(errors.ErrNoConnection, "Bus", "Subscribe", "subscribe "+topic)
	}

	sub, err := conn.Subscribe(b.Subject(topic, bus.QoSSensorData), func(msg *nats.Msg) {
		b.metrics.recordDelivery(topic)
		handler(ctx, topic, msg.Data)
	})
	if err != nil {
		b.metrics.recordError("subscribe")
		return nil, errors.WrapTransient(err, "Bus", "Subscribe", "subscribe "+topic)
	}

	b.logger.Debug("Subscribed to sensor topic", "topic", topic, "subject", sub.Subject)
	return &coreSubscription{sub: sub}, nil
}

// subscribeStream subscribes to a system_default topic through an
// ephemeral consumer on the target's stream.
func (b *Bus) subscribeStream(ctx context.Context, topic string, handler bus.MessageHandler) (bus.Subscription, error) {
	js, err := b.client.JetStream()
	if err != nil {
		return nil, errors.WrapTransient(err, "Bus", "Subscribe", "subscribe "+topic)
	}

	consumer, err := js.CreateOrUpdateConsumer(ctx, b.stream, jetstream.ConsumerConfig{
		FilterSubject: b.Subject(topic, bus.QoSSystemDefault),
	})
	if err != nil {
		b.metrics.recordError("subscribe")
		return nil, errors.WrapTransient(err, "Bus", "Subscribe", "create consumer for "+topic)
	}

	cc, err := consumer.Consume(func(msg jetstream.Msg) {
		b.metrics.recordDelivery(topic)
		handler(ctx, topic, msg.Data())
		if ackErr := msg.Ack(); ackErr != nil {
			b.logger.Warn("Failed to ack stream message", "topic", topic, "error", ackErr)
		}
	})
	if err != nil {
		b.metrics.recordError("subscribe")
		return nil, errors.WrapTransient(err, "Bus", "Subscribe", "consume "+topic)
	}

	b.logger.Debug("Subscribed to reliable topic", "topic", topic, "stream", b.stream)
	return &streamSubscription{cc: cc}, nil
}

// coreSubscription wraps a plain NATS subscription.
type coreSubscription struct {
	sub *nats.Subscription
}

func (s *coreSubscription) Unsubscribe() error {
	return s.sub.Unsubscribe()
}

// streamSubscription wraps a JetStream consume context.
type streamSubscription struct {
	cc jetstream.ConsumeContext
}

func (s *streamSubscription) Unsubscribe() error {
	s.cc.Stop()
	return nil
}
