package spec

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/gobwas/glob"
	"gopkg.in/yaml.v3"

	"github.com/osu-uwrt/riptide-fw-bridge/bus"
	"github.com/osu-uwrt/riptide-fw-bridge/errors"
)

var (
	identPattern    = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)
	constantPattern = regexp.MustCompile(`^[A-Z][A-Z0-9_]*$`)
	topicPattern    = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]*(/[A-Za-z0-9_]+)*$`)
)

// scalarTypes are the primitive field types a message may declare. Any
// other type token must name a declared message.
var scalarTypes = map[string]bool{
	"bool":    true,
	"int8":    true,
	"uint8":   true,
	"int16":   true,
	"uint16":  true,
	"int32":   true,
	"uint32":  true,
	"int64":   true,
	"uint64":  true,
	"float32": true,
	"float64": true,
	"string":  true,
}

// IsScalarType reports whether token names a primitive field type.
func IsScalarType(token string) bool {
	return scalarTypes[token]
}

// paramKinds maps declaration tokens to parameter kinds. PARAMETER_BYTE_ARRAY
// is recognized separately so it can be rejected with a specific message.
var paramKinds = map[string]bus.ParamKind{
	"PARAMETER_BOOL":          bus.KindBool,
	"PARAMETER_INTEGER":       bus.KindInteger,
	"PARAMETER_DOUBLE":        bus.KindDouble,
	"PARAMETER_STRING":        bus.KindString,
	"PARAMETER_BOOL_ARRAY":    bus.KindBoolArray,
	"PARAMETER_INTEGER_ARRAY": bus.KindIntegerArray,
	"PARAMETER_DOUBLE_ARRAY":  bus.KindDoubleArray,
	"PARAMETER_STRING_ARRAY":  bus.KindStringArray,
}

// Load reads and validates a specification file.
func Load(path string) (*Model, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.WrapInvalid(err, "Spec", "Load", "read specification file")
	}
	return Parse(data)
}

// Parse validates specification YAML into a Model. Every violation is a
// ConfigError; nothing is deferred to the runtime.
func Parse(data []byte) (*Model, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, configErrorf("invalid YAML: %v", err)
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 {
		return nil, configErrorf("specification is empty")
	}

	sections, err := mappingEntries(doc.Content[0], "configuration")
	if err != nil {
		return nil, err
	}

	var targetsNode, topicsNode, messagesNode, paramsNode, mappingNode *yaml.Node
	var unexpected []string
	for _, entry := range sections {
		switch entry.key {
		case "targets":
			targetsNode = entry.node
		case "topics":
			topicsNode = entry.node
		case "messages":
			messagesNode = entry.node
		case "parameters":
			paramsNode = entry.node
		case "constant_mapping":
			mappingNode = entry.node
		default:
			unexpected = append(unexpected, entry.key)
		}
	}
	if len(unexpected) > 0 {
		return nil, configErrorf("configuration has unexpected keys: %s", strings.Join(unexpected, ", "))
	}
	required := []struct {
		key  string
		node *yaml.Node
	}{
		{"targets", targetsNode},
		{"topics", topicsNode},
		{"messages", messagesNode},
		{"constant_mapping", mappingNode},
	}
	for _, section := range required {
		if section.node == nil {
			return nil, configErrorf("missing top-level key '%s'", section.key)
		}
	}

	model := &Model{}

	if model.Targets, err = parseTargets(targetsNode); err != nil {
		return nil, err
	}
	if model.Messages, err = parseMessages(messagesNode); err != nil {
		return nil, err
	}
	if model.Topics, err = parseTopics(topicsNode, model); err != nil {
		return nil, err
	}
	if model.Parameters, err = parseParameters(paramsNode); err != nil {
		return nil, err
	}
	if err = parseConstantMapping(mappingNode, model); err != nil {
		return nil, err
	}

	return model, nil
}

func parseTargets(node *yaml.Node) ([]string, error) {
	targets, err := stringList(node, "targets")
	if err != nil {
		return nil, err
	}
	if len(targets) == 0 {
		return nil, configErrorf("targets must declare at least one target")
	}

	seen := make(map[string]bool, len(targets))
	for _, target := range targets {
		if !identPattern.MatchString(target) {
			return nil, configErrorf("invalid target '%s': must be a lowercase identifier", target)
		}
		if seen[target] {
			return nil, configErrorf("duplicate target '%s'", target)
		}
		seen[target] = true
	}
	return targets, nil
}

func parseMessages(node *yaml.Node) ([]Message, error) {
	entries, err := mappingEntries(node, "messages")
	if err != nil {
		return nil, err
	}

	messages := make([]Message, 0, len(entries))
	for _, entry := range entries {
		if !identPattern.MatchString(entry.key) {
			return nil, configErrorf("invalid message name '%s': must be a lowercase identifier", entry.key)
		}
		msg, err := parseMessage(entry.key, entry.node)
		if err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}

	// Field type resolution needs the full message set, so it runs after
	// all declarations are collected.
	byName := make(map[string]bool, len(messages))
	for _, msg := range messages {
		byName[msg.Name] = true
	}
	for _, msg := range messages {
		for _, field := range msg.Fields {
			if !scalarTypes[field.Type] && !byName[field.Type] {
				return nil, configErrorf("message '%s' field '%s' has unknown type '%s'",
					msg.Name, field.Name, field.Type)
			}
		}
	}

	if err := checkMessageCycles(messages); err != nil {
		return nil, err
	}
	return messages, nil
}

func parseMessage(name string, node *yaml.Node) (Message, error) {
	block, err := mappingEntries(node, fmt.Sprintf("message '%s'", name))
	if err != nil {
		return Message{}, err
	}

	msg := Message{Name: name}
	var fieldsNode, constantsNode *yaml.Node
	var unexpected []string
	for _, entry := range block {
		switch entry.key {
		case "fields":
			fieldsNode = entry.node
		case "constants":
			constantsNode = entry.node
		default:
			unexpected = append(unexpected, entry.key)
		}
	}
	if len(unexpected) > 0 {
		return Message{}, configErrorf("message '%s' has unexpected keys: %s", name, strings.Join(unexpected, ", "))
	}
	if fieldsNode == nil {
		return Message{}, configErrorf("message '%s' missing required key 'fields'", name)
	}

	fieldEntries, err := mappingEntries(fieldsNode, fmt.Sprintf("message '%s' fields", name))
	if err != nil {
		return Message{}, err
	}
	for _, entry := range fieldEntries {
		if !identPattern.MatchString(entry.key) {
			return Message{}, configErrorf("message '%s' has invalid field name '%s'", name, entry.key)
		}
		token, err := scalarValue(entry.node, fmt.Sprintf("message '%s' field '%s'", name, entry.key))
		if err != nil {
			return Message{}, err
		}
		base, isArray := strings.CutSuffix(token, "[]")
		if base == "" {
			return Message{}, configErrorf("message '%s' field '%s' has invalid type '%s'", name, entry.key, token)
		}
		msg.Fields = append(msg.Fields, Field{Name: entry.key, Type: base, Array: isArray})
	}

	if constantsNode != nil {
		constEntries, err := mappingEntries(constantsNode, fmt.Sprintf("message '%s' constants", name))
		if err != nil {
			return Message{}, err
		}
		for _, entry := range constEntries {
			if !constantPattern.MatchString(entry.key) {
				return Message{}, configErrorf("message '%s' has invalid constant name '%s': must be an uppercase identifier",
					name, entry.key)
			}
			value := resolve(entry.node)
			if value.Kind != yaml.ScalarNode {
				return Message{}, configErrorf("message '%s' constant '%s' must be a scalar", name, entry.key)
			}
			constant := Constant{Name: entry.key, Raw: value.Value}
			if value.Tag == "!!int" {
				if parsed, err := strconv.ParseInt(value.Value, 0, 64); err == nil {
					constant.Value = parsed
					constant.IsInteger = true
				}
			}
			msg.Constants = append(msg.Constants, constant)
		}
	}

	return msg, nil
}

func parseTopics(node *yaml.Node, model *Model) ([]Topic, error) {
	entries, err := mappingEntries(node, "topics")
	if err != nil {
		return nil, err
	}

	topics := make([]Topic, 0, len(entries))
	for _, entry := range entries {
		if !topicPattern.MatchString(entry.key) {
			return nil, configErrorf("invalid topic name '%s'", entry.key)
		}
		topic, err := parseTopic(entry.key, entry.node, model)
		if err != nil {
			return nil, err
		}
		topics = append(topics, topic)
	}
	return topics, nil
}

func parseTopic(name string, node *yaml.Node, model *Model) (Topic, error) {
	block, err := mappingEntries(node, fmt.Sprintf("topic '%s'", name))
	if err != nil {
		return Topic{}, err
	}

	topic := Topic{Name: name}
	var sawType, sawQoS bool
	var unexpected []string
	for _, entry := range block {
		switch entry.key {
		case "type":
			token, err := scalarValue(entry.node, fmt.Sprintf("topic '%s' type", name))
			if err != nil {
				return Topic{}, err
			}
			topic.Type = token
			sawType = true
		case "qos":
			token, err := scalarValue(entry.node, fmt.Sprintf("topic '%s' qos", name))
			if err != nil {
				return Topic{}, err
			}
			qos, err := bus.ParseQoS(token)
			if err != nil {
				return Topic{}, configErrorf("topic '%s' has invalid qos '%s': must be one of %s, %s",
					name, token, bus.QoSSystemDefault, bus.QoSSensorData)
			}
			topic.QoS = qos
			sawQoS = true
		case "publishers":
			if topic.Publishers, err = topicTargets(entry.node, name, "publisher", model); err != nil {
				return Topic{}, err
			}
		case "subscribers":
			if topic.Subscribers, err = topicTargets(entry.node, name, "subscriber", model); err != nil {
				return Topic{}, err
			}
		default:
			unexpected = append(unexpected, entry.key)
		}
	}

	if len(unexpected) > 0 {
		return Topic{}, configErrorf("topic '%s' has unexpected keys: %s", name, strings.Join(unexpected, ", "))
	}
	if !sawType {
		return Topic{}, configErrorf("topic '%s' missing required key 'type'", name)
	}
	if !sawQoS {
		return Topic{}, configErrorf("topic '%s' missing required key 'qos'", name)
	}
	if _, ok := model.Message(topic.Type); !ok {
		return Topic{}, configErrorf("topic '%s' has undeclared message type '%s'", name, topic.Type)
	}
	if len(topic.Publishers) == 0 && len(topic.Subscribers) == 0 {
		return Topic{}, configErrorf("topic '%s' declares neither publishers nor subscribers", name)
	}
	return topic, nil
}

func topicTargets(node *yaml.Node, topicName, role string, model *Model) ([]string, error) {
	targets, err := stringList(node, fmt.Sprintf("topic '%s' %ss", topicName, role))
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool, len(targets))
	for _, target := range targets {
		if !model.HasTarget(target) {
			return nil, configErrorf("topic '%s' has undeclared %s target '%s'", topicName, role, target)
		}
		if seen[target] {
			return nil, configErrorf("topic '%s' lists %s target '%s' twice", topicName, role, target)
		}
		seen[target] = true
	}
	return targets, nil
}

func parseParameters(node *yaml.Node) ([]Parameter, error) {
	if node == nil {
		return nil, nil
	}
	entries, err := mappingEntries(node, "parameters")
	if err != nil {
		return nil, err
	}

	params := make([]Parameter, 0, len(entries))
	for _, entry := range entries {
		if !identPattern.MatchString(entry.key) {
			return nil, configErrorf("invalid parameter name '%s': must be a lowercase identifier", entry.key)
		}
		token, err := scalarValue(entry.node, fmt.Sprintf("parameter '%s'", entry.key))
		if err != nil {
			return nil, err
		}
		if token == "PARAMETER_BYTE_ARRAY" {
			return nil, configErrorf("parameter '%s' has unsupported type 'PARAMETER_BYTE_ARRAY'", entry.key)
		}
		kind, ok := paramKinds[token]
		if !ok {
			return nil, configErrorf("invalid type for parameter '%s': '%s'", entry.key, token)
		}
		params = append(params, Parameter{Name: entry.key, Kind: kind})
	}
	return params, nil
}

func parseConstantMapping(node *yaml.Node, model *Model) error {
	entries, err := mappingEntries(node, "constant_mapping")
	if err != nil {
		return err
	}

	for _, entry := range entries {
		msg, ok := model.Message(entry.key)
		if !ok {
			return configErrorf("constant mapping references undeclared message '%s'", entry.key)
		}

		ruleEntries, err := mappingEntries(entry.node, fmt.Sprintf("constant mapping for '%s'", entry.key))
		if err != nil {
			return err
		}
		for _, rule := range ruleEntries {
			dest, err := scalarValue(rule.node, fmt.Sprintf("constant mapping for '%s' pattern '%s'", entry.key, rule.key))
			if err != nil {
				return err
			}
			if _, err := glob.Compile(rule.key); err != nil {
				return configErrorf("invalid constant pattern '%s' for message '%s': %v", rule.key, entry.key, err)
			}
			msg.Rules = append(msg.Rules, MappingRule{Pattern: rule.key, Destination: dest})
		}
	}
	return nil
}

// checkMessageCycles rejects mutually recursive message declarations,
// which the wire format cannot represent with bounded size.
func checkMessageCycles(messages []Message) error {
	byName := make(map[string]*Message, len(messages))
	for i := range messages {
		byName[messages[i].Name] = &messages[i]
	}

	const (
		visiting = 1
		done     = 2
	)
	state := make(map[string]int, len(messages))
	var path []string

	var visit func(name string) error
	visit = func(name string) error {
		switch state[name] {
		case visiting:
			return configErrorf("message reference cycle: %s", strings.Join(append(path, name), " -> "))
		case done:
			return nil
		}
		state[name] = visiting
		path = append(path, name)
		for _, field := range byName[name].Fields {
			if !scalarTypes[field.Type] {
				if err := visit(field.Type); err != nil {
					return err
				}
			}
		}
		path = path[:len(path)-1]
		state[name] = done
		return nil
	}

	for _, msg := range messages {
		if err := visit(msg.Name); err != nil {
			return err
		}
	}
	return nil
}

// mapEntry is one ordered key/value pair from a YAML mapping.
type mapEntry struct {
	key  string
	node *yaml.Node
}

// resolve follows alias nodes to their anchors.
func resolve(node *yaml.Node) *yaml.Node {
	if node != nil && node.Kind == yaml.AliasNode && node.Alias != nil {
		return node.Alias
	}
	return node
}

func isNull(node *yaml.Node) bool {
	return node.Kind == yaml.ScalarNode && node.Tag == "!!null"
}

// mappingEntries returns the ordered entries of a YAML mapping, rejecting
// duplicate keys. A null node reads as an empty mapping.
func mappingEntries(node *yaml.Node, context string) ([]mapEntry, error) {
	node = resolve(node)
	if isNull(node) {
		return nil, nil
	}
	if node.Kind != yaml.MappingNode {
		return nil, configErrorf("%s must be a mapping, found %s", context, nodeKindName(node))
	}

	entries := make([]mapEntry, 0, len(node.Content)/2)
	seen := make(map[string]bool, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		keyNode, valueNode := resolve(node.Content[i]), node.Content[i+1]
		if keyNode.Kind != yaml.ScalarNode {
			return nil, configErrorf("%s has a non-scalar key", context)
		}
		if seen[keyNode.Value] {
			return nil, configErrorf("%s has duplicate key '%s'", context, keyNode.Value)
		}
		seen[keyNode.Value] = true
		entries = append(entries, mapEntry{key: keyNode.Value, node: valueNode})
	}
	return entries, nil
}

// stringList returns a YAML sequence of scalars. A null node reads as empty.
func stringList(node *yaml.Node, context string) ([]string, error) {
	node = resolve(node)
	if isNull(node) {
		return nil, nil
	}
	if node.Kind != yaml.SequenceNode {
		return nil, configErrorf("%s must be a list, found %s", context, nodeKindName(node))
	}

	values := make([]string, 0, len(node.Content))
	for _, item := range node.Content {
		item = resolve(item)
		if item.Kind != yaml.ScalarNode || isNull(item) {
			return nil, configErrorf("%s entries must be strings", context)
		}
		values = append(values, item.Value)
	}
	return values, nil
}

// scalarValue returns the string form of a scalar node.
func scalarValue(node *yaml.Node, context string) (string, error) {
	node = resolve(node)
	if node.Kind != yaml.ScalarNode || isNull(node) {
		return "", configErrorf("%s must be a string, found %s", context, nodeKindName(node))
	}
	return node.Value, nil
}

func nodeKindName(node *yaml.Node) string {
	switch node.Kind {
	case yaml.MappingNode:
		return "mapping"
	case yaml.SequenceNode:
		return "list"
	case yaml.ScalarNode:
		if isNull(node) {
			return "null"
		}
		return "scalar"
	case yaml.AliasNode:
		return "alias"
	default:
		return "unknown"
	}
}
