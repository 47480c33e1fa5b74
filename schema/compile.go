package schema

import (
	"fmt"
	"log/slog"
	"strings"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/descriptorpb"

	"github.com/osu-uwrt/riptide-fw-bridge/spec"
)

// builder accumulates the file descriptor while walking the model.
type builder struct {
	model    *spec.Model
	logger   *slog.Logger
	members  []*Member
	params   *ParamSet
	topLevel map[string]string
}

// claim reserves a top-level type name in the file's scope.
func (b *builder) claim(name, origin string) error {
	if prev, ok := b.topLevel[name]; ok {
		return schemaErrorf("type name %q is declared by both %s and %s", name, prev, origin)
	}
	b.topLevel[name] = origin
	return nil
}

func (b *builder) buildFile() (*descriptorpb.FileDescriptorProto, error) {
	if err := b.claim(envelopeName, "the envelope message"); err != nil {
		return nil, err
	}

	var payloads []*descriptorpb.DescriptorProto
	for i := range b.model.Messages {
		msg := &b.model.Messages[i]
		if err := b.claim(msg.Name, fmt.Sprintf("message %q", msg.Name)); err != nil {
			return nil, err
		}
		dp, err := b.compileMessage(msg)
		if err != nil {
			return nil, err
		}
		payloads = append(payloads, dp)
	}

	var paramTypes []*descriptorpb.DescriptorProto
	var paramEnum *descriptorpb.EnumDescriptorProto
	if len(b.model.Parameters) > 0 {
		var err error
		paramTypes, paramEnum, err = b.compileParams()
		if err != nil {
			return nil, err
		}
	}

	envelope, err := b.buildEnvelope(paramEnum)
	if err != nil {
		return nil, err
	}

	fdp := &descriptorpb.FileDescriptorProto{
		Name:    proto.String(protoFileName),
		Package: proto.String(protoPackage),
		Syntax:  proto.String("proto3"),
	}
	fdp.MessageType = append(fdp.MessageType, envelope)
	fdp.MessageType = append(fdp.MessageType, payloads...)
	fdp.MessageType = append(fdp.MessageType, paramTypes...)
	return fdp, nil
}

// buildEnvelope assembles comm_msg: the msg union with the handshake
// first, topic members in declaration order from number 3, then the
// parameter members. The ack token sits beside the union so any member
// can carry one.
func (b *builder) buildEnvelope(paramEnum *descriptorpb.EnumDescriptorProto) (*descriptorpb.DescriptorProto, error) {
	dp := &descriptorpb.DescriptorProto{
		Name:      proto.String(envelopeName),
		OneofDecl: []*descriptorpb.OneofDescriptorProto{{Name: proto.String(envelopeOneof)}},
	}

	taken := map[string]string{
		handshakeMember: "the protocol handshake",
		ackFieldName:    "the ack token",
	}

	dp.Field = append(dp.Field,
		unionField(scalarField(handshakeMember, handshakeNumber, descriptorpb.FieldDescriptorProto_TYPE_FIXED32)),
		scalarField(ackFieldName, ackNumber, descriptorpb.FieldDescriptorProto_TYPE_UINT32),
	)
	b.members = append(b.members, &Member{
		Name:   handshakeMember,
		Number: handshakeNumber,
		Kind:   MemberHandshake,
	})

	number := int32(firstTopicNumber)
	for i := range b.model.Topics {
		topic := &b.model.Topics[i]
		name := memberName(topic.Name)
		if prev, ok := taken[name]; ok {
			return nil, schemaErrorf("envelope member %q for topic %q collides with %s", name, topic.Name, prev)
		}
		taken[name] = fmt.Sprintf("topic %q", topic.Name)

		dp.Field = append(dp.Field, unionField(messageField(name, number, typeName(topic.Type))))
		b.members = append(b.members, &Member{
			Name:   name,
			Number: protoreflect.FieldNumber(number),
			Kind:   MemberTopic,
			Topic:  topic,
		})
		number++
	}

	if b.params != nil {
		paramMembers := []struct {
			name string
			kind MemberKind
			f    func(string, int32) *descriptorpb.FieldDescriptorProto
		}{
			{paramUpdateMember, MemberParamUpdate, func(n string, num int32) *descriptorpb.FieldDescriptorProto {
				return messageField(n, num, typeName(paramMsgName))
			}},
			{paramRequestMember, MemberParamRequest, func(n string, num int32) *descriptorpb.FieldDescriptorProto {
				return enumField(n, num, nestedTypeName(envelopeName, paramEnumName))
			}},
			{paramListRequestMember, MemberParamListRequest, func(n string, num int32) *descriptorpb.FieldDescriptorProto {
				return messageField(n, num, typeName(paramListReqName))
			}},
			{paramListMember, MemberParamList, func(n string, num int32) *descriptorpb.FieldDescriptorProto {
				return messageField(n, num, typeName(paramListName))
			}},
		}
		for _, pm := range paramMembers {
			if prev, ok := taken[pm.name]; ok {
				return nil, schemaErrorf("envelope member %q for the parameter protocol collides with %s", pm.name, prev)
			}
			taken[pm.name] = "the parameter protocol"

			dp.Field = append(dp.Field, unionField(pm.f(pm.name, number)))
			b.members = append(b.members, &Member{
				Name:   pm.name,
				Number: protoreflect.FieldNumber(number),
				Kind:   pm.kind,
			})
			number++
		}
		dp.EnumType = append(dp.EnumType, paramEnum)
	}

	return dp, nil
}

// memberName derives a topic's envelope field name: lowercased, path
// separators folded to underscores.
func memberName(topic string) string {
	return strings.ReplaceAll(strings.ToLower(topic), "/", "_")
}

func typeName(name string) string {
	return "." + protoPackage + "." + name
}

func nestedTypeName(outer, inner string) string {
	return "." + protoPackage + "." + outer + "." + inner
}

func scalarField(name string, number int32, typ descriptorpb.FieldDescriptorProto_Type) *descriptorpb.FieldDescriptorProto {
	return &descriptorpb.FieldDescriptorProto{
		Name:   proto.String(name),
		Number: proto.Int32(number),
		Label:  descriptorpb.FieldDescriptorProto_LABEL_OPTIONAL.Enum(),
		Type:   typ.Enum(),
	}
}

func messageField(name string, number int32, typeName string) *descriptorpb.FieldDescriptorProto {
	f := scalarField(name, number, descriptorpb.FieldDescriptorProto_TYPE_MESSAGE)
	f.TypeName = proto.String(typeName)
	return f
}

func enumField(name string, number int32, typeName string) *descriptorpb.FieldDescriptorProto {
	f := scalarField(name, number, descriptorpb.FieldDescriptorProto_TYPE_ENUM)
	f.TypeName = proto.String(typeName)
	return f
}

// unionField places a field inside its message's first declared oneof.
func unionField(f *descriptorpb.FieldDescriptorProto) *descriptorpb.FieldDescriptorProto {
	f.OneofIndex = proto.Int32(0)
	return f
}

func repeatedField(f *descriptorpb.FieldDescriptorProto) *descriptorpb.FieldDescriptorProto {
	f.Label = descriptorpb.FieldDescriptorProto_LABEL_REPEATED.Enum()
	return f
}
