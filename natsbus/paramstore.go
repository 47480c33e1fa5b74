package natsbus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/osu-uwrt/riptide-fw-bridge/bus"
	"github.com/osu-uwrt/riptide-fw-bridge/errors"
	"github.com/osu-uwrt/riptide-fw-bridge/metric"
	"github.com/osu-uwrt/riptide-fw-bridge/natsclient"
)

// ParamStoreDeps provides the external dependencies for the parameter store.
type ParamStoreDeps struct {
	Client          *natsclient.Client
	Target          string // bound bridge target; scopes the bucket name
	Logger          *slog.Logger
	MetricsRegistry *metric.MetricsRegistry // can be nil
}

// ParamStore persists firmware parameters in a JetStream KV bucket, one
// key per declared parameter. Values are stored as the kind-tagged JSON
// encoding of bus.ParamValue so external tools can read and write them.
type ParamStore struct {
	kv      *natsclient.KVStore
	bucket  jetstream.KeyValue
	name    string
	logger  *slog.Logger
	metrics *paramMetrics
}

var _ bus.ParamStore = (*ParamStore)(nil)

// paramMetrics holds Prometheus metrics for parameter store operations.
type paramMetrics struct {
	readsTotal  prometheus.Counter
	writesTotal prometheus.Counter
	watchEvents prometheus.Counter
	errorsTotal *prometheus.CounterVec
}

func newParamMetrics(registry *metric.MetricsRegistry) *paramMetrics {
	if registry == nil {
		return nil
	}

	metrics := &paramMetrics{
		readsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "fwbridge",
			Subsystem: "paramstore",
			Name:      "reads_total",
			Help:      "Total parameter reads",
		}),

		writesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "fwbridge",
			Subsystem: "paramstore",
			Name:      "writes_total",
			Help:      "Total parameter writes",
		}),

		watchEvents: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "fwbridge",
			Subsystem: "paramstore",
			Name:      "watch_events_total",
			Help:      "Total parameter change events delivered to watchers",
		}),

		errorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fwbridge",
			Subsystem: "paramstore",
			Name:      "errors_total",
			Help:      "Parameter store errors",
		}, []string{"operation"}),
	}

	registry.PrometheusRegistry().MustRegister(
		metrics.readsTotal,
		metrics.writesTotal,
		metrics.watchEvents,
		metrics.errorsTotal,
	)

	return metrics
}

func (m *paramMetrics) recordRead() {
	if m != nil {
		m.readsTotal.Inc()
	}
}

func (m *paramMetrics) recordWrite() {
	if m != nil {
		m.writesTotal.Inc()
	}
}

func (m *paramMetrics) recordWatchEvent() {
	if m != nil {
		m.watchEvents.Inc()
	}
}

func (m *paramMetrics) recordError(operation string) {
	if m != nil {
		m.errorsTotal.WithLabelValues(operation).Inc()
	}
}

// BucketName returns the KV bucket name for a target's parameters.
func BucketName(target string) string {
	return "fwbridge_params_" + target
}

// OpenParamStore creates or opens the target's parameter bucket. The
// client must be connected.
func OpenParamStore(ctx context.Context, deps ParamStoreDeps) (*ParamStore, error) {
	if deps.Client == nil {
		return nil, errors.WrapInvalid(
			fmt.Errorf("NATS client is required"),
			"ParamStore", "OpenParamStore", "validate dependencies")
	}
	if deps.Target == "" {
		return nil, errors.WrapInvalid(
			fmt.Errorf("target is required"),
			"ParamStore", "OpenParamStore", "validate dependencies")
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	name := BucketName(deps.Target)
	bucket, err := deps.Client.CreateKeyValueBucket(ctx, jetstream.KeyValueConfig{
		Bucket:      name,
		Description: fmt.Sprintf("Firmware parameters for target %s", deps.Target),
		History:     5,
	})
	if err != nil {
		return nil, errors.WrapTransient(err, "ParamStore", "OpenParamStore", "open bucket "+name)
	}

	return &ParamStore{
		kv:      deps.Client.NewKVStore(bucket),
		bucket:  bucket,
		name:    name,
		logger:  logger.With("component", "paramstore", "bucket", name),
		metrics: newParamMetrics(deps.MetricsRegistry),
	}, nil
}

// Get returns the current value of a parameter.
func (s *ParamStore) Get(ctx context.Context, name string) (bus.ParamValue, error) {
	entry, err := s.kv.Get(ctx, name)
	if err != nil {
		if natsclient.IsKVNotFoundError(err) {
			return bus.ParamValue{}, fmt.Errorf("parameter %q: %w", name, errors.ErrKeyNotFound)
		}
		s.metrics.recordError("get")
		return bus.ParamValue{}, errors.WrapTransient(err, "ParamStore", "Get", "read "+name)
	}

	var value bus.ParamValue
	if err := json.Unmarshal(entry.Value, &value); err != nil {
		s.metrics.recordError("get")
		return bus.ParamValue{}, errors.WrapInvalid(err, "ParamStore", "Get", "decode "+name)
	}

	s.metrics.recordRead()
	return value, nil
}

// Set writes a parameter value (last writer wins).
func (s *ParamStore) Set(ctx context.Context, name string, value bus.ParamValue) error {
	data, err := json.Marshal(value)
	if err != nil {
		s.metrics.recordError("set")
		return errors.WrapInvalid(err, "ParamStore", "Set", "encode "+name)
	}

	if _, err := s.kv.Put(ctx, name, data); err != nil {
		s.metrics.recordError("set")
		return errors.WrapTransient(err, "ParamStore", "Set", "write "+name)
	}

	s.metrics.recordWrite()
	return nil
}

// List returns the names of all stored parameters.
func (s *ParamStore) List(ctx context.Context) ([]string, error) {
	lister, err := s.bucket.ListKeys(ctx)
	if err != nil {
		s.metrics.recordError("list")
		return nil, errors.WrapTransient(err, "ParamStore", "List", "list keys")
	}

	names := []string{}
	for key := range lister.Keys() {
		names = append(names, key)
	}
	return names, nil
}

// Watch invokes handler for every subsequent parameter change. The replay
// of current values a KV watcher starts with is swallowed; only changes
// that happen after Watch returns are delivered.
func (s *ParamStore) Watch(ctx context.Context, handler bus.ParamChangeHandler) (bus.Subscription, error) {
	watcher, err := s.kv.Watch(ctx, ">")
	if err != nil {
		s.metrics.recordError("watch")
		return nil, errors.WrapTransient(err, "ParamStore", "Watch", "create watcher")
	}

	sub := &watchSubscription{watcher: watcher, done: make(chan struct{})}

	go func() {
		defer close(sub.done)

		// The watcher replays current values first, then sends a nil
		// marker, then live updates.
		initial := true
		for entry := range watcher.Updates() {
			if entry == nil {
				initial = false
				continue
			}
			if initial || entry.Operation() != jetstream.KeyValuePut {
				continue
			}

			var value bus.ParamValue
			if err := json.Unmarshal(entry.Value(), &value); err != nil {
				s.logger.Warn("Ignoring undecodable parameter update",
					"name", entry.Key(), "error", err)
				s.metrics.recordError("watch")
				continue
			}

			s.metrics.recordWatchEvent()
			handler(entry.Key(), value)
		}
	}()

	return sub, nil
}

// watchSubscription wraps a KV watcher; Unsubscribe stops delivery and
// waits for the forwarding goroutine to drain.
type watchSubscription struct {
	watcher jetstream.KeyWatcher
	done    chan struct{}
}

func (s *watchSubscription) Unsubscribe() error {
	err := s.watcher.Stop()
	<-s.done
	return err
}
