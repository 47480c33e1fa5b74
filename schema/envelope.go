package schema

import (
	"fmt"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/dynamicpb"
)

// Envelope is one wire packet in decoded form. Member is nil when the
// union carries nothing; an envelope with a nil Member and a nonzero
// Token is the pure-ack form.
type Envelope struct {
	// Member identifies the union member, nil when none is set.
	Member *Member
	// Token is the ack token, zero when absent.
	Token uint32
	// Version is the handshake payload for MemberHandshake.
	Version uint32
	// Request is the requested parameter for MemberParamRequest.
	Request protoreflect.EnumNumber
	// Payload carries the message for message-typed members.
	Payload proto.Message
}

// Ack builds the pure-ack form carrying only a token.
func Ack(token uint32) *Envelope {
	return &Envelope{Token: token}
}

// Decode parses one packet against the compiled envelope.
func (s *Schema) Decode(data []byte) (*Envelope, error) {
	msg := dynamicpb.NewMessage(s.envelope)
	if err := proto.Unmarshal(data, msg); err != nil {
		return nil, &DecodeError{cause: err}
	}

	env := &Envelope{Token: uint32(msg.Get(s.ack).Uint())}
	fd := msg.WhichOneof(s.union)
	if fd == nil {
		return env, nil
	}

	m := s.byNumber[fd.Number()]
	env.Member = m
	switch m.Kind {
	case MemberHandshake:
		env.Version = uint32(msg.Get(fd).Uint())
	case MemberParamRequest:
		env.Request = msg.Get(fd).Enum()
	default:
		env.Payload = msg.Get(fd).Message().Interface()
	}
	return env, nil
}

// Encode serializes an envelope for the wire.
func (s *Schema) Encode(env *Envelope) ([]byte, error) {
	msg := dynamicpb.NewMessage(s.envelope)
	if env.Token != 0 {
		msg.Set(s.ack, protoreflect.ValueOfUint32(env.Token))
	}
	if env.Member != nil {
		fd := env.Member.field
		switch env.Member.Kind {
		case MemberHandshake:
			msg.Set(fd, protoreflect.ValueOfUint32(env.Version))
		case MemberParamRequest:
			msg.Set(fd, protoreflect.ValueOfEnum(env.Request))
		default:
			if env.Payload == nil {
				return nil, &SerializeError{cause: fmt.Errorf("member %s has no payload", env.Member.Name)}
			}
			payload := env.Payload.ProtoReflect()
			if got, want := payload.Descriptor().FullName(), fd.Message().FullName(); got != want {
				return nil, &SerializeError{cause: fmt.Errorf("member %s expects %s, got %s", env.Member.Name, want, got)}
			}
			msg.Set(fd, protoreflect.ValueOfMessage(payload))
		}
	}

	data, err := proto.Marshal(msg)
	if err != nil {
		return nil, &SerializeError{cause: err}
	}
	return data, nil
}

// Validate walks a payload and checks every enum value, scalar or
// repeated, against its compiled domain. Nested messages are walked
// recursively.
func (s *Schema) Validate(m protoreflect.Message) error {
	return validateMessage(m)
}

func validateMessage(m protoreflect.Message) error {
	var err error
	name := string(m.Descriptor().Name())
	m.Range(func(fd protoreflect.FieldDescriptor, v protoreflect.Value) bool {
		if fd.IsList() {
			list := v.List()
			for i := 0; i < list.Len(); i++ {
				if err = validateValue(name, fd, list.Get(i)); err != nil {
					return false
				}
			}
			return true
		}
		err = validateValue(name, fd, v)
		return err == nil
	})
	return err
}

func validateValue(message string, fd protoreflect.FieldDescriptor, v protoreflect.Value) error {
	switch fd.Kind() {
	case protoreflect.EnumKind:
		if fd.Enum().Values().ByNumber(v.Enum()) == nil {
			return &ConversionError{Message: message, Field: string(fd.Name()), Value: int64(v.Enum())}
		}
	case protoreflect.MessageKind:
		return validateMessage(v.Message())
	}
	return nil
}
