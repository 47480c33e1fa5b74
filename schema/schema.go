package schema

import (
	"crypto/sha1"
	"encoding/binary"
	"log/slog"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/descriptorpb"
	"google.golang.org/protobuf/types/dynamicpb"

	"github.com/osu-uwrt/riptide-fw-bridge/spec"
)

// Wire identities shared with every firmware client. The handshake and
// ack numbers must never change: they are the only fields both sides
// rely on before the protocol version has been checked.
const (
	protoFileName = "fwbridge.proto"
	protoPackage  = "fwbridge_pb"

	envelopeName  = "comm_msg"
	envelopeOneof = "msg"

	handshakeMember  = "connect_ver"
	handshakeNumber  = 1
	ackFieldName     = "ack"
	ackNumber        = 2
	firstTopicNumber = 3
)

// MemberKind classifies an envelope union member.
type MemberKind int

const (
	// MemberHandshake is the connect_ver protocol handshake.
	MemberHandshake MemberKind = iota
	// MemberTopic carries one topic's payload message.
	MemberTopic
	// MemberParamUpdate carries one parameter value, either a client
	// setting it or the bridge reporting it.
	MemberParamUpdate
	// MemberParamRequest asks for one parameter by its enum value.
	MemberParamRequest
	// MemberParamListRequest asks for the declared parameter listing.
	MemberParamListRequest
	// MemberParamList reports the declared parameter listing.
	MemberParamList
)

var memberKindNames = map[MemberKind]string{
	MemberHandshake:        "handshake",
	MemberTopic:            "topic",
	MemberParamUpdate:      "param_update",
	MemberParamRequest:     "param_request",
	MemberParamListRequest: "param_list_request",
	MemberParamList:        "param_list",
}

func (k MemberKind) String() string {
	if name, ok := memberKindNames[k]; ok {
		return name
	}
	return "unknown"
}

// Member is one union member of the compiled envelope.
type Member struct {
	// Name is the member's field name on the wire.
	Name string
	// Number is the member's field number inside the envelope.
	Number protoreflect.FieldNumber
	// Kind tells the routers how to treat the member.
	Kind MemberKind
	// Topic is the routed topic for MemberTopic members, nil otherwise.
	Topic *spec.Topic

	field protoreflect.FieldDescriptor
}

// NewPayload returns an empty payload for a message-typed member.
func (m *Member) NewPayload() *dynamicpb.Message {
	return dynamicpb.NewMessage(m.field.Message())
}

// RoutingTable is one target's view of the envelope: the topic members
// it may send inbound and the topic members flowing back out to it.
// Parameter operations are target-independent and not listed here.
type RoutingTable struct {
	Target   string
	Inbound  map[protoreflect.FieldNumber]*Member
	Outbound []*Member
}

// Schema is the compiled wire artifact: an in-process proto3 file
// descriptor covering the envelope and every payload message, the
// member table, per-target routing tables, and the protocol version.
// A Schema never changes after Compile returns.
type Schema struct {
	version  uint32
	file     protoreflect.FileDescriptor
	envelope protoreflect.MessageDescriptor
	union    protoreflect.OneofDescriptor
	ack      protoreflect.FieldDescriptor
	members  []*Member
	byNumber map[protoreflect.FieldNumber]*Member
	byTopic  map[string]*Member
	tables   map[string]*RoutingTable
	params   *ParamSet
}

// Compile builds the wire schema for a validated spec model.
func Compile(model *spec.Model, logger *slog.Logger) (*Schema, error) {
	if logger == nil {
		logger = slog.Default()
	}

	b := &builder{model: model, logger: logger, topLevel: make(map[string]string)}
	fdp, err := b.buildFile()
	if err != nil {
		return nil, err
	}

	version, err := fingerprint(fdp)
	if err != nil {
		return nil, err
	}

	fd, err := protodesc.NewFile(fdp, nil)
	if err != nil {
		return nil, schemaErrorf("descriptor assembly failed: %v", err)
	}

	s := &Schema{
		version:  version,
		file:     fd,
		members:  b.members,
		byNumber: make(map[protoreflect.FieldNumber]*Member, len(b.members)),
		byTopic:  make(map[string]*Member),
		tables:   make(map[string]*RoutingTable, len(model.Targets)),
		params:   b.params,
	}
	s.envelope = fd.Messages().ByName(envelopeName)
	s.union = s.envelope.Oneofs().ByName(envelopeOneof)
	s.ack = s.envelope.Fields().ByNumber(ackNumber)

	for _, m := range s.members {
		m.field = s.envelope.Fields().ByNumber(m.Number)
		s.byNumber[m.Number] = m
		if m.Kind == MemberTopic {
			s.byTopic[m.Topic.Name] = m
		}
	}
	if s.params != nil {
		s.params.bind(fd)
	}

	for _, target := range model.Targets {
		s.tables[target] = buildTable(target, s.members)
	}
	return s, nil
}

// buildTable derives one target's routing table from topic membership:
// publishers feed the bridge, subscribers are fed by it.
func buildTable(target string, members []*Member) *RoutingTable {
	table := &RoutingTable{
		Target:  target,
		Inbound: make(map[protoreflect.FieldNumber]*Member),
	}
	for _, m := range members {
		if m.Kind != MemberTopic {
			continue
		}
		if m.Topic.PublishedBy(target) {
			table.Inbound[m.Number] = m
		}
		if m.Topic.SubscribedBy(target) {
			table.Outbound = append(table.Outbound, m)
		}
	}
	return table
}

// fingerprint derives the protocol version: the first four bytes,
// big-endian, of the SHA-1 digest of the deterministically serialized
// file descriptor. Any schema-visible spec change shifts the version.
func fingerprint(fdp *descriptorpb.FileDescriptorProto) (uint32, error) {
	data, err := proto.MarshalOptions{Deterministic: true}.Marshal(fdp)
	if err != nil {
		return 0, schemaErrorf("descriptor serialization failed: %v", err)
	}
	sum := sha1.Sum(data)
	return binary.BigEndian.Uint32(sum[:4]), nil
}

// Version is the compiled protocol version exchanged in the handshake.
func (s *Schema) Version() uint32 { return s.version }

// File exposes the compiled descriptor.
func (s *Schema) File() protoreflect.FileDescriptor { return s.file }

// Envelope exposes the envelope message descriptor.
func (s *Schema) Envelope() protoreflect.MessageDescriptor { return s.envelope }

// Members lists every envelope union member in wire order.
func (s *Schema) Members() []*Member { return s.members }

// MemberByTopic resolves the member carrying a topic's payload.
func (s *Schema) MemberByTopic(topic string) (*Member, bool) {
	m, ok := s.byTopic[topic]
	return m, ok
}

// Table returns the routing table compiled for a target.
func (s *Schema) Table(target string) (*RoutingTable, bool) {
	t, ok := s.tables[target]
	return t, ok
}

// Params exposes the compiled parameter surface, nil when the spec
// declares no parameters.
func (s *Schema) Params() *ParamSet { return s.params }
