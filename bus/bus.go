package bus

import (
	"context"
	"fmt"
)

// QoS selects the delivery class for a topic.
type QoS string

const (
	// QoSSystemDefault provides reliable delivery for commands and state
	// that must not be lost.
	QoSSystemDefault QoS = "system_default"
	// QoSSensorData provides lossy latest-wins delivery for high-rate
	// telemetry.
	QoSSensorData QoS = "sensor_data"
)

// ParseQoS validates a QoS token from a topic declaration.
func ParseQoS(s string) (QoS, error) {
	switch QoS(s) {
	case QoSSystemDefault:
		return QoSSystemDefault, nil
	case QoSSensorData:
		return QoSSensorData, nil
	default:
		return "", fmt.Errorf("unknown qos %q (want %q or %q)", s, QoSSystemDefault, QoSSensorData)
	}
}

// MessageHandler receives messages delivered on a subscribed topic.
type MessageHandler func(ctx context.Context, topic string, data []byte)

// Subscription is an active topic or watch registration.
type Subscription interface {
	Unsubscribe() error
}

// Bus is the pub/sub boundary between the bridge and the vehicle's
// message broker. Topic names are the declared spec names; payloads are
// opaque to the bus.
type Bus interface {
	// Publish sends data on a topic with the topic's delivery class.
	Publish(ctx context.Context, topic string, qos QoS, data []byte) error

	// Subscribe registers handler for messages on a topic. The handler
	// runs until the subscription is unsubscribed or ctx is cancelled.
	Subscribe(ctx context.Context, topic string, qos QoS, handler MessageHandler) (Subscription, error)
}

// ParamChangeHandler receives parameter store changes from a Watch.
type ParamChangeHandler func(name string, value ParamValue)

// ParamStore is the persistent firmware parameter table. Names are the
// declared parameter names; values keep their declared kind.
type ParamStore interface {
	// Get returns the current value of a parameter.
	Get(ctx context.Context, name string) (ParamValue, error)

	// Set writes a parameter value. The store does not validate the kind
	// against the declaration; callers enforce that before writing.
	Set(ctx context.Context, name string, value ParamValue) error

	// List returns the names of all stored parameters.
	List(ctx context.Context) ([]string, error)

	// Watch invokes handler for every subsequent parameter change until
	// the subscription is unsubscribed or ctx is cancelled.
	Watch(ctx context.Context, handler ParamChangeHandler) (Subscription, error)
}
