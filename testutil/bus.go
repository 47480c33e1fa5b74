package testutil

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/osu-uwrt/riptide-fw-bridge/bus"
)

// MockBus is an in-memory bus for testing. Published messages are
// recorded per topic and fanned out to matching subscriptions in the
// publishing goroutine. Thread-safe for concurrent use.
type MockBus struct {
	mu            sync.RWMutex
	published     map[string][]PublishedMessage
	subscriptions map[string][]*busSubscription

	// PublishErr, when set, is returned by every Publish call.
	PublishErr error
	// SubscribeErr, when set, is returned by every Subscribe call.
	SubscribeErr error
}

// PublishedMessage is one recorded Publish call.
type PublishedMessage struct {
	Topic string
	QoS   bus.QoS
	Data  []byte
}

var _ bus.Bus = (*MockBus)(nil)

// NewMockBus creates an empty in-memory bus.
func NewMockBus() *MockBus {
	return &MockBus{
		published:     make(map[string][]PublishedMessage),
		subscriptions: make(map[string][]*busSubscription),
	}
}

// Publish records the message and delivers it to subscribers of the
// topic before returning.
func (b *MockBus) Publish(ctx context.Context, topic string, qos bus.QoS, data []byte) error {
	b.mu.Lock()
	if b.PublishErr != nil {
		err := b.PublishErr
		b.mu.Unlock()
		return err
	}
	b.published[topic] = append(b.published[topic], PublishedMessage{Topic: topic, QoS: qos, Data: data})

	// copy handlers so callbacks run outside the lock
	var handlers []bus.MessageHandler
	for _, sub := range b.subscriptions[topic] {
		if !sub.cancelled {
			handlers = append(handlers, sub.handler)
		}
	}
	b.mu.Unlock()

	for _, handler := range handlers {
		handler(ctx, topic, data)
	}
	return nil
}

// Subscribe registers a handler for a topic.
func (b *MockBus) Subscribe(_ context.Context, topic string, _ bus.QoS, handler bus.MessageHandler) (bus.Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.SubscribeErr != nil {
		return nil, b.SubscribeErr
	}
	sub := &busSubscription{bus: b, topic: topic, handler: handler}
	b.subscriptions[topic] = append(b.subscriptions[topic], sub)
	return sub, nil
}

// Deliver injects a message to subscribers of a topic without recording
// a publish, standing in for traffic from elsewhere on the bus.
func (b *MockBus) Deliver(ctx context.Context, topic string, data []byte) {
	b.mu.RLock()
	var handlers []bus.MessageHandler
	for _, sub := range b.subscriptions[topic] {
		if !sub.cancelled {
			handlers = append(handlers, sub.handler)
		}
	}
	b.mu.RUnlock()

	for _, handler := range handlers {
		handler(ctx, topic, data)
	}
}

// Published returns the recorded publishes for a topic.
func (b *MockBus) Published(topic string) []PublishedMessage {
	b.mu.RLock()
	defer b.mu.RUnlock()

	msgs := b.published[topic]
	result := make([]PublishedMessage, len(msgs))
	copy(result, msgs)
	return result
}

// PublishCount returns the number of recorded publishes for a topic.
func (b *MockBus) PublishCount(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.published[topic])
}

// SubscriptionCount returns the number of live subscriptions for a topic.
func (b *MockBus) SubscriptionCount(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	count := 0
	for _, sub := range b.subscriptions[topic] {
		if !sub.cancelled {
			count++
		}
	}
	return count
}

type busSubscription struct {
	bus       *MockBus
	topic     string
	handler   bus.MessageHandler
	cancelled bool
}

func (s *busSubscription) Unsubscribe() error {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	s.cancelled = true
	return nil
}

// MockParamStore is an in-memory parameter store for testing. Set calls
// notify watchers in the writing goroutine, matching the push behavior
// of the real store closely enough for router tests.
type MockParamStore struct {
	mu       sync.RWMutex
	values   map[string]bus.ParamValue
	watchers []*paramWatch

	// GetErr/SetErr/ListErr, when set, are returned by the matching call.
	GetErr  error
	SetErr  error
	ListErr error
}

var _ bus.ParamStore = (*MockParamStore)(nil)

// NewMockParamStore creates an empty in-memory parameter store.
func NewMockParamStore() *MockParamStore {
	return &MockParamStore{values: make(map[string]bus.ParamValue)}
}

// Get returns the stored value for a parameter.
func (s *MockParamStore) Get(_ context.Context, name string) (bus.ParamValue, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.GetErr != nil {
		return bus.ParamValue{}, s.GetErr
	}
	value, ok := s.values[name]
	if !ok {
		return bus.ParamValue{}, fmt.Errorf("parameter not found: %s", name)
	}
	return value, nil
}

// Set stores a value and notifies watchers.
func (s *MockParamStore) Set(_ context.Context, name string, value bus.ParamValue) error {
	s.mu.Lock()
	if s.SetErr != nil {
		err := s.SetErr
		s.mu.Unlock()
		return err
	}
	s.values[name] = value

	var handlers []bus.ParamChangeHandler
	for _, w := range s.watchers {
		if !w.cancelled {
			handlers = append(handlers, w.handler)
		}
	}
	s.mu.Unlock()

	for _, handler := range handlers {
		handler(name, value)
	}
	return nil
}

// List returns the stored parameter names in no particular order.
func (s *MockParamStore) List(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.ListErr != nil {
		return nil, s.ListErr
	}
	names := make([]string, 0, len(s.values))
	for name := range s.values {
		names = append(names, name)
	}
	return names, nil
}

// Watch registers a change handler.
func (s *MockParamStore) Watch(_ context.Context, handler bus.ParamChangeHandler) (bus.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	w := &paramWatch{store: s, handler: handler}
	s.watchers = append(s.watchers, w)
	return w, nil
}

// Seed stores a value without notifying watchers, for arranging test
// state that predates the watch.
func (s *MockParamStore) Seed(name string, value bus.ParamValue) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[name] = value
}

// Stored returns the current value and whether it exists.
func (s *MockParamStore) Stored(name string) (bus.ParamValue, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	value, ok := s.values[name]
	return value, ok
}

// WatcherCount returns the number of live watches.
func (s *MockParamStore) WatcherCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, w := range s.watchers {
		if !w.cancelled {
			count++
		}
	}
	return count
}

type paramWatch struct {
	store     *MockParamStore
	handler   bus.ParamChangeHandler
	cancelled bool
}

func (w *paramWatch) Unsubscribe() error {
	w.store.mu.Lock()
	defer w.store.mu.Unlock()
	w.cancelled = true
	return nil
}

// WaitForPublish waits until a topic has at least count recorded
// publishes, failing the test on timeout.
func WaitForPublish(t *testing.T, b *MockBus, topic string, count int, timeout time.Duration) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if b.PublishCount(topic) >= count {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timeout waiting for %d publishes on topic %s (got %d)", count, topic, b.PublishCount(topic))
}
