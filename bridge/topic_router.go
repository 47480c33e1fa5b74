package bridge

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sync"

	"google.golang.org/protobuf/encoding/protojson"

	"github.com/osu-uwrt/riptide-fw-bridge/bus"
	"github.com/osu-uwrt/riptide-fw-bridge/errors"
	"github.com/osu-uwrt/riptide-fw-bridge/schema"
)

// sendFunc is the bridge's serialize-and-transmit path, bound at
// construction so routers never touch the transport directly.
type sendFunc func(clientID uint32, env *schema.Envelope)

// TopicRouter moves topic traffic between the wire and the bus for one
// bound target. Inbound members resolve through the routing table in one
// map lookup; the outbound side holds one bus subscription per topic the
// target subscribes to.
//
// Bus payloads are protojson: the same descriptors that define the wire
// format render the bus traffic readable for anyone watching subjects
// with the nats CLI.
type TopicRouter struct {
	schema  *schema.Schema
	table   *schema.RoutingTable
	bus     bus.Bus
	send    sendFunc
	logger  *slog.Logger
	metrics *Metrics

	mu   sync.Mutex
	subs []bus.Subscription
}

func newTopicRouter(s *schema.Schema, table *schema.RoutingTable, b bus.Bus, send sendFunc, logger *slog.Logger, metrics *Metrics) *TopicRouter {
	return &TopicRouter{
		schema:  s,
		table:   table,
		bus:     b,
		send:    send,
		logger:  logger,
		metrics: metrics,
	}
}

// HandleInbound routes one decoded envelope whose member is a topic the
// bound target publishes. It reports false with no error when the member
// is not an inbound topic here, leaving the envelope for the next router.
// Every enum-restricted field is checked against its compiled domain
// before anything reaches the bus.
func (r *TopicRouter) HandleInbound(ctx context.Context, env *schema.Envelope) (bool, error) {
	member, ok := r.table.Inbound[env.Member.Number]
	if !ok {
		return false, nil
	}

	if env.Payload == nil {
		return false, fmt.Errorf("topic member %q carries no payload: %w", member.Name, errors.ErrInvalidData)
	}
	if err := r.schema.Validate(env.Payload.ProtoReflect()); err != nil {
		return false, err
	}

	data, err := protojson.Marshal(env.Payload)
	if err != nil {
		return false, fmt.Errorf("encode %q payload for the bus: %w", member.Topic.Name, err)
	}
	if err := r.bus.Publish(ctx, member.Topic.Name, member.Topic.QoS, data); err != nil {
		return false, fmt.Errorf("publish %q: %w", member.Topic.Name, err)
	}
	return true, nil
}

// Start subscribes to every topic the bound target subscribes to. Bus
// deliveries are encoded into the matching envelope member and broadcast
// to all connected clients.
func (r *TopicRouter) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, member := range r.table.Outbound {
		sub, err := r.bus.Subscribe(ctx, member.Topic.Name, member.Topic.QoS,
			func(_ context.Context, _ string, data []byte) {
				r.deliver(member, data)
			})
		if err != nil {
			r.stopLocked()
			return errors.Wrap(err, "TopicRouter", "Start", "subscribe "+member.Topic.Name)
		}
		r.subs = append(r.subs, sub)
		r.logger.Debug("outbound topic subscribed", "topic", member.Topic.Name, "member", member.Name)
	}
	return nil
}

// deliver encodes one bus delivery into its envelope member and
// broadcasts it. A payload the descriptors cannot parse is dropped; bad
// bus traffic must not break the wire side.
func (r *TopicRouter) deliver(member *schema.Member, data []byte) {
	payload := member.NewPayload()
	if err := protojson.Unmarshal(data, payload); err != nil {
		r.metrics.recordSendError("bus_decode")
		r.logger.Error("bus delivery dropped",
			"topic", member.Topic.Name, "member", member.Name, "error", err)
		return
	}
	r.send(Broadcast, &schema.Envelope{Member: member, Payload: payload})
}

// Stop cancels all outbound subscriptions, collecting every error so one
// failed unsubscribe does not leak the rest.
func (r *TopicRouter) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stopLocked()
}

func (r *TopicRouter) stopLocked() error {
	var errs []error
	for _, sub := range r.subs {
		if err := sub.Unsubscribe(); err != nil {
			errs = append(errs, err)
		}
	}
	r.subs = nil
	return stderrors.Join(errs...)
}
