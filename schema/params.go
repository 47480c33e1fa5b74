package schema

import (
	"fmt"
	"strings"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/descriptorpb"
	"google.golang.org/protobuf/types/dynamicpb"

	"github.com/osu-uwrt/riptide-fw-bridge/bus"
	"github.com/osu-uwrt/riptide-fw-bridge/errors"
)

const (
	paramMsgName     = "param_update_msg"
	paramOneof       = "param"
	paramEnumName    = "param_name_enum"
	paramEnumPrefix  = "PARAM_"
	paramListReqName = "param_list_request_msg"
	paramListName    = "param_list_msg"

	paramUpdateMember      = "param_update"
	paramRequestMember     = "param_request"
	paramListRequestMember = "param_list_request"
	paramListMember        = "param_list"
)

// paramWire maps parameter kinds to their wire representation. Array
// kinds share one wrapper message per scalar since a union member
// cannot be repeated directly.
var paramWire = map[bus.ParamKind]struct {
	typ    descriptorpb.FieldDescriptorProto_Type
	scalar string
	array  bool
}{
	bus.KindBool:         {typ: descriptorpb.FieldDescriptorProto_TYPE_BOOL, scalar: "bool"},
	bus.KindInteger:      {typ: descriptorpb.FieldDescriptorProto_TYPE_SINT64, scalar: "sint64"},
	bus.KindDouble:       {typ: descriptorpb.FieldDescriptorProto_TYPE_DOUBLE, scalar: "double"},
	bus.KindString:       {typ: descriptorpb.FieldDescriptorProto_TYPE_STRING, scalar: "string"},
	bus.KindBoolArray:    {typ: descriptorpb.FieldDescriptorProto_TYPE_BOOL, scalar: "bool", array: true},
	bus.KindIntegerArray: {typ: descriptorpb.FieldDescriptorProto_TYPE_SINT64, scalar: "sint64", array: true},
	bus.KindDoubleArray:  {typ: descriptorpb.FieldDescriptorProto_TYPE_DOUBLE, scalar: "double", array: true},
	bus.KindStringArray:  {typ: descriptorpb.FieldDescriptorProto_TYPE_STRING, scalar: "string", array: true},
}

// Param is one declared parameter's wire identity: its union field
// inside param_update_msg and its request enum value.
type Param struct {
	Name   string
	Kind   bus.ParamKind
	Number protoreflect.FieldNumber
	Enum   protoreflect.EnumNumber

	field protoreflect.FieldDescriptor
}

// ParamSet is the compiled parameter surface.
type ParamSet struct {
	params   []*Param
	byName   map[string]*Param
	byEnum   map[protoreflect.EnumNumber]*Param
	byNumber map[protoreflect.FieldNumber]*Param

	update  protoreflect.MessageDescriptor
	union   protoreflect.OneofDescriptor
	listReq protoreflect.MessageDescriptor
	list    protoreflect.MessageDescriptor
}

// Params lists the declared parameters in declaration order.
func (p *ParamSet) Params() []*Param { return p.params }

// ByName resolves a parameter by its declared name.
func (p *ParamSet) ByName(name string) (*Param, bool) {
	param, ok := p.byName[name]
	return param, ok
}

// ByEnum resolves a parameter by its request enum value.
func (p *ParamSet) ByEnum(v protoreflect.EnumNumber) (*Param, bool) {
	param, ok := p.byEnum[v]
	return param, ok
}

// compileParams lowers the declared parameters into param_update_msg,
// the request enum nested in the envelope, and the listing messages.
func (b *builder) compileParams() ([]*descriptorpb.DescriptorProto, *descriptorpb.EnumDescriptorProto, error) {
	for _, c := range []struct{ name, origin string }{
		{paramMsgName, "the parameter update message"},
		{paramListReqName, "the parameter list request"},
		{paramListName, "the parameter listing"},
	} {
		if err := b.claim(c.name, c.origin); err != nil {
			return nil, nil, err
		}
	}

	update := &descriptorpb.DescriptorProto{
		Name:      proto.String(paramMsgName),
		OneofDecl: []*descriptorpb.OneofDescriptorProto{{Name: proto.String(paramOneof)}},
	}
	enum := &descriptorpb.EnumDescriptorProto{Name: proto.String(paramEnumName)}
	set := &ParamSet{
		byName:   make(map[string]*Param),
		byEnum:   make(map[protoreflect.EnumNumber]*Param),
		byNumber: make(map[protoreflect.FieldNumber]*Param),
	}

	wrappers := make(map[string]bool)
	for i := range b.model.Parameters {
		decl := &b.model.Parameters[i]
		number := int32(i + 1)

		wire, ok := paramWire[decl.Kind]
		if !ok {
			return nil, nil, schemaErrorf("parameter %q has unsupported kind %s", decl.Name, decl.Kind)
		}

		var f *descriptorpb.FieldDescriptorProto
		if wire.array {
			wrapper := "param_" + wire.scalar + "_array"
			if !wrappers[wrapper] {
				wrappers[wrapper] = true
				update.NestedType = append(update.NestedType, &descriptorpb.DescriptorProto{
					Name:  proto.String(wrapper),
					Field: []*descriptorpb.FieldDescriptorProto{repeatedField(scalarField("entry", 1, wire.typ))},
				})
			}
			f = messageField(decl.Name, number, nestedTypeName(paramMsgName, wrapper))
		} else {
			f = scalarField(decl.Name, number, wire.typ)
		}
		update.Field = append(update.Field, unionField(f))

		// request enum values are zero-based on the union field number
		enum.Value = append(enum.Value, &descriptorpb.EnumValueDescriptorProto{
			Name:   proto.String(paramEnumPrefix + strings.ToUpper(decl.Name)),
			Number: proto.Int32(number - 1),
		})

		param := &Param{
			Name:   decl.Name,
			Kind:   decl.Kind,
			Number: protoreflect.FieldNumber(number),
			Enum:   protoreflect.EnumNumber(number - 1),
		}
		set.params = append(set.params, param)
		set.byName[param.Name] = param
		set.byEnum[param.Enum] = param
		set.byNumber[param.Number] = param
	}

	listReq := &descriptorpb.DescriptorProto{Name: proto.String(paramListReqName)}
	list := &descriptorpb.DescriptorProto{
		Name: proto.String(paramListName),
		Field: []*descriptorpb.FieldDescriptorProto{
			repeatedField(enumField("params", 1, nestedTypeName(envelopeName, paramEnumName))),
		},
	}

	b.params = set
	return []*descriptorpb.DescriptorProto{update, listReq, list}, enum, nil
}

// bind resolves descriptor handles once the file is assembled.
func (p *ParamSet) bind(fd protoreflect.FileDescriptor) {
	p.update = fd.Messages().ByName(paramMsgName)
	p.union = p.update.Oneofs().ByName(paramOneof)
	p.listReq = fd.Messages().ByName(paramListReqName)
	p.list = fd.Messages().ByName(paramListName)
	for _, param := range p.params {
		param.field = p.update.Fields().ByNumber(param.Number)
	}
}

// EncodeValue builds a param_update_msg carrying the value in the
// parameter's union member.
func (p *ParamSet) EncodeValue(name string, value bus.ParamValue) (*dynamicpb.Message, error) {
	param, ok := p.byName[name]
	if !ok {
		return nil, fmt.Errorf("parameter %q is not declared: %w", name, errors.ErrInvalidData)
	}
	if value.Kind != param.Kind {
		return nil, fmt.Errorf("parameter %q holds %s, got %s: %w", name, param.Kind, value.Kind, errors.ErrInvalidData)
	}

	msg := dynamicpb.NewMessage(p.update)
	switch value.Kind {
	case bus.KindBool:
		msg.Set(param.field, protoreflect.ValueOfBool(value.Bool))
	case bus.KindInteger:
		msg.Set(param.field, protoreflect.ValueOfInt64(value.Int))
	case bus.KindDouble:
		msg.Set(param.field, protoreflect.ValueOfFloat64(value.Double))
	case bus.KindString:
		msg.Set(param.field, protoreflect.ValueOfString(value.Str))
	default:
		wrapper := dynamicpb.NewMessage(param.field.Message())
		entries := wrapper.Mutable(entryField(param.field)).List()
		switch value.Kind {
		case bus.KindBoolArray:
			for _, v := range value.Bools {
				entries.Append(protoreflect.ValueOfBool(v))
			}
		case bus.KindIntegerArray:
			for _, v := range value.Ints {
				entries.Append(protoreflect.ValueOfInt64(v))
			}
		case bus.KindDoubleArray:
			for _, v := range value.Doubles {
				entries.Append(protoreflect.ValueOfFloat64(v))
			}
		case bus.KindStringArray:
			for _, v := range value.Strs {
				entries.Append(protoreflect.ValueOfString(v))
			}
		}
		msg.Set(param.field, protoreflect.ValueOfMessage(wrapper))
	}
	return msg, nil
}

// DecodeValue extracts the parameter and value carried by a
// param_update_msg payload.
func (p *ParamSet) DecodeValue(payload protoreflect.Message) (*Param, bus.ParamValue, error) {
	fd := payload.WhichOneof(p.union)
	if fd == nil {
		return nil, bus.ParamValue{}, fmt.Errorf("parameter update carries no value: %w", errors.ErrInvalidData)
	}
	param, ok := p.byNumber[fd.Number()]
	if !ok {
		return nil, bus.ParamValue{}, fmt.Errorf("unknown parameter field %d: %w", fd.Number(), errors.ErrInvalidData)
	}

	v := payload.Get(fd)
	var value bus.ParamValue
	switch param.Kind {
	case bus.KindBool:
		value = bus.BoolValue(v.Bool())
	case bus.KindInteger:
		value = bus.IntValue(v.Int())
	case bus.KindDouble:
		value = bus.DoubleValue(v.Float())
	case bus.KindString:
		value = bus.StringValue(v.String())
	default:
		entries := v.Message().Get(entryField(fd)).List()
		switch param.Kind {
		case bus.KindBoolArray:
			out := make([]bool, entries.Len())
			for i := range out {
				out[i] = entries.Get(i).Bool()
			}
			value = bus.BoolArrayValue(out)
		case bus.KindIntegerArray:
			out := make([]int64, entries.Len())
			for i := range out {
				out[i] = entries.Get(i).Int()
			}
			value = bus.IntArrayValue(out)
		case bus.KindDoubleArray:
			out := make([]float64, entries.Len())
			for i := range out {
				out[i] = entries.Get(i).Float()
			}
			value = bus.DoubleArrayValue(out)
		case bus.KindStringArray:
			out := make([]string, entries.Len())
			for i := range out {
				out[i] = entries.Get(i).String()
			}
			value = bus.StringArrayValue(out)
		}
	}
	return param, value, nil
}

// ListPayload builds a param_list_msg enumerating the given parameters.
func (p *ParamSet) ListPayload(params []*Param) *dynamicpb.Message {
	msg := dynamicpb.NewMessage(p.list)
	entries := msg.Mutable(p.list.Fields().ByNumber(1)).List()
	for _, param := range params {
		entries.Append(protoreflect.ValueOfEnum(param.Enum))
	}
	return msg
}

// ListRequestPayload builds an empty param_list_request_msg.
func (p *ParamSet) ListRequestPayload() *dynamicpb.Message {
	return dynamicpb.NewMessage(p.listReq)
}

// entryField is the repeated entry field of an array wrapper message.
func entryField(arrayField protoreflect.FieldDescriptor) protoreflect.FieldDescriptor {
	return arrayField.Message().Fields().ByNumber(1)
}
