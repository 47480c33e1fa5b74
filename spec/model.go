package spec

import (
	"fmt"
	"slices"

	"github.com/osu-uwrt/riptide-fw-bridge/bus"
	"github.com/osu-uwrt/riptide-fw-bridge/errors"
)

// ConfigError reports an invalid declarative specification. Config errors
// are fatal: they abort schema compilation and are never deferred to the
// runtime.
type ConfigError struct {
	msg string
}

func (e *ConfigError) Error() string { return e.msg }

// Unwrap ties config errors to the invalid classification.
func (e *ConfigError) Unwrap() error { return errors.ErrInvalidConfig }

func configErrorf(format string, args ...any) *ConfigError {
	return &ConfigError{msg: fmt.Sprintf(format, args...)}
}

// NewConfigError builds a ConfigError for compile stages outside the
// loader (constant mapping, schema assembly) that surface specification
// problems.
func NewConfigError(format string, args ...any) *ConfigError {
	return configErrorf(format, args...)
}

// Model is the validated in-memory form of a bridge specification.
// Declaration order is preserved everywhere it is semantic: topic order
// fixes envelope member numbering, parameter order fixes the parameter
// enum, field order fixes field numbering, and rule order fixes
// first-match-wins resolution.
type Model struct {
	Targets    []string
	Messages   []Message
	Topics     []Topic
	Parameters []Parameter
}

// Message is one declared payload message type.
type Message struct {
	Name      string
	Fields    []Field
	Constants []Constant
	Rules     []MappingRule // constant_mapping rules for this type, declared order
}

// Field is one declared message field.
type Field struct {
	Name  string
	Type  string // scalar type token or a declared message name
	Array bool
}

// Constant is one named constant declared on a message type. Non-integer
// constants are carried through so the mapper can apply its eligibility
// filter; Raw holds the original literal for diagnostics.
type Constant struct {
	Name      string
	Value     int64
	IsInteger bool
	Raw       string
}

// Topic is one declared pub/sub topic.
type Topic struct {
	Name        string
	Type        string // declared message type name
	QoS         bus.QoS
	Publishers  []string // targets for which the topic is inbound-from-wire
	Subscribers []string // targets for which the topic is outbound-to-wire
}

// PublishedBy reports whether the topic is inbound-from-wire for target.
func (t *Topic) PublishedBy(target string) bool {
	return slices.Contains(t.Publishers, target)
}

// SubscribedBy reports whether the topic is outbound-to-wire for target.
func (t *Topic) SubscribedBy(target string) bool {
	return slices.Contains(t.Subscribers, target)
}

// Parameter is one declared firmware parameter.
type Parameter struct {
	Name string
	Kind bus.ParamKind
}

// MappingRule assigns constants matching a shell glob pattern to a
// destination field. An empty destination excludes matched constants.
type MappingRule struct {
	Pattern     string
	Destination string
}

// Message returns the declared message type with the given name.
func (m *Model) Message(name string) (*Message, bool) {
	for i := range m.Messages {
		if m.Messages[i].Name == name {
			return &m.Messages[i], true
		}
	}
	return nil, false
}

// Topic returns the declared topic with the given name.
func (m *Model) Topic(name string) (*Topic, bool) {
	for i := range m.Topics {
		if m.Topics[i].Name == name {
			return &m.Topics[i], true
		}
	}
	return nil, false
}

// Parameter returns the declared parameter with the given name.
func (m *Model) Parameter(name string) (*Parameter, bool) {
	for i := range m.Parameters {
		if m.Parameters[i].Name == name {
			return &m.Parameters[i], true
		}
	}
	return nil, false
}

// HasTarget reports whether target is declared.
func (m *Model) HasTarget(target string) bool {
	return slices.Contains(m.Targets, target)
}

// Field returns the declared field with the given name.
func (msg *Message) Field(name string) (*Field, bool) {
	for i := range msg.Fields {
		if msg.Fields[i].Name == name {
			return &msg.Fields[i], true
		}
	}
	return nil, false
}
