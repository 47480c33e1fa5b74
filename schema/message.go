package schema

import (
	"math/bits"
	"strings"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/descriptorpb"

	"github.com/osu-uwrt/riptide-fw-bridge/constmap"
	"github.com/osu-uwrt/riptide-fw-bridge/spec"
)

type scalarInfo struct {
	typ    descriptorpb.FieldDescriptorProto_Type
	width  uint
	signed bool
}

// scalarWire maps declared scalar types to proto wire types. Integer
// widths drive the enum fit check; zero width marks types that cannot
// host an enum.
var scalarWire = map[string]scalarInfo{
	"bool":    {typ: descriptorpb.FieldDescriptorProto_TYPE_BOOL},
	"int8":    {typ: descriptorpb.FieldDescriptorProto_TYPE_SINT32, width: 8, signed: true},
	"uint8":   {typ: descriptorpb.FieldDescriptorProto_TYPE_UINT32, width: 8},
	"int16":   {typ: descriptorpb.FieldDescriptorProto_TYPE_SINT32, width: 16, signed: true},
	"uint16":  {typ: descriptorpb.FieldDescriptorProto_TYPE_UINT32, width: 16},
	"int32":   {typ: descriptorpb.FieldDescriptorProto_TYPE_SINT32, width: 32, signed: true},
	"uint32":  {typ: descriptorpb.FieldDescriptorProto_TYPE_UINT32, width: 32},
	"int64":   {typ: descriptorpb.FieldDescriptorProto_TYPE_SINT64, width: 64, signed: true},
	"uint64":  {typ: descriptorpb.FieldDescriptorProto_TYPE_UINT64, width: 64},
	"float32": {typ: descriptorpb.FieldDescriptorProto_TYPE_FLOAT},
	"float64": {typ: descriptorpb.FieldDescriptorProto_TYPE_DOUBLE},
	"string":  {typ: descriptorpb.FieldDescriptorProto_TYPE_STRING},
}

// compileMessage lowers one declared message into a DescriptorProto,
// fields numbered from 1 in declaration order. Fields with a constant
// domain become nested enums.
func (b *builder) compileMessage(msg *spec.Message) (*descriptorpb.DescriptorProto, error) {
	domains, err := constmap.Map(msg, b.logger)
	if err != nil {
		return nil, err
	}

	dp := &descriptorpb.DescriptorProto{Name: proto.String(msg.Name)}
	for i := range msg.Fields {
		field := &msg.Fields[i]
		f, enum, err := b.compileField(msg, field, int32(i+1), domains[field.Name])
		if err != nil {
			return nil, err
		}
		if enum != nil {
			dp.EnumType = append(dp.EnumType, enum)
		}
		dp.Field = append(dp.Field, f)
	}
	return dp, nil
}

func (b *builder) compileField(msg *spec.Message, field *spec.Field, number int32, domain []spec.Constant) (*descriptorpb.FieldDescriptorProto, *descriptorpb.EnumDescriptorProto, error) {
	if len(domain) > 0 {
		return compileEnumField(msg, field, number, domain)
	}

	if !spec.IsScalarType(field.Type) {
		f := messageField(field.Name, number, typeName(field.Type))
		if field.Array {
			repeatedField(f)
		}
		return f, nil, nil
	}

	// int8/uint8 arrays ride the wire as byte strings
	if field.Array && (field.Type == "int8" || field.Type == "uint8") {
		return scalarField(field.Name, number, descriptorpb.FieldDescriptorProto_TYPE_BYTES), nil, nil
	}

	info := scalarWire[field.Type]
	f := scalarField(field.Name, number, info.typ)
	if field.Array {
		repeatedField(f)
	}
	return f, nil, nil
}

// compileEnumField turns a field with a constant domain into a nested
// enum type plus the field referencing it.
func compileEnumField(msg *spec.Message, field *spec.Field, number int32, domain []spec.Constant) (*descriptorpb.FieldDescriptorProto, *descriptorpb.EnumDescriptorProto, error) {
	if !spec.IsScalarType(field.Type) {
		return nil, nil, schemaErrorf("field %q of message %q has mapped constants but carries message type %q", field.Name, msg.Name, field.Type)
	}
	info := scalarWire[field.Type]
	if info.width == 0 {
		return nil, nil, schemaErrorf("field %q of message %q has mapped constants but non-integer type %s", field.Name, msg.Name, field.Type)
	}

	enum, err := buildEnum(msg, field, domain, info)
	if err != nil {
		return nil, nil, err
	}
	f := enumField(field.Name, number, nestedTypeName(msg.Name, enum.GetName()))
	if field.Array {
		repeatedField(f)
	}
	return f, enum, nil
}

// buildEnum lays out a field's enum: the domain constants in declaration
// order, with the zero value moved to the front as proto3 demands, or a
// synthetic <FIELD>_UNSET zero value injected when no constant is zero.
func buildEnum(msg *spec.Message, field *spec.Field, domain []spec.Constant, info scalarInfo) (*descriptorpb.EnumDescriptorProto, error) {
	unset := strings.ToUpper(field.Name) + "_UNSET"
	values := make([]*descriptorpb.EnumValueDescriptorProto, 0, len(domain)+1)
	zeroAt := -1
	for i, c := range domain {
		if err := checkEnumFit(msg, field, c, info); err != nil {
			return nil, err
		}
		if c.Value == 0 && zeroAt < 0 {
			zeroAt = i
		}
		if c.Name == unset && c.Value != 0 {
			return nil, schemaErrorf("constant %s of message %q collides with the synthetic zero value of field %q", c.Name, msg.Name, field.Name)
		}
		values = append(values, &descriptorpb.EnumValueDescriptorProto{
			Name:   proto.String(c.Name),
			Number: proto.Int32(int32(c.Value)),
		})
	}

	switch {
	case zeroAt > 0:
		zero := values[zeroAt]
		copy(values[1:zeroAt+1], values[:zeroAt])
		values[0] = zero
	case zeroAt < 0:
		values = append([]*descriptorpb.EnumValueDescriptorProto{{
			Name:   proto.String(unset),
			Number: proto.Int32(0),
		}}, values...)
	}

	return &descriptorpb.EnumDescriptorProto{
		Name:  proto.String(field.Name + "_enum"),
		Value: values,
	}, nil
}

// checkEnumFit verifies one constant is representable in the field's
// declared integer width.
func checkEnumFit(msg *spec.Message, field *spec.Field, c spec.Constant, info scalarInfo) error {
	if c.Value < 0 {
		if !info.signed {
			return schemaErrorf("constant %s = %d cannot map into unsigned field %q of message %q", c.Name, c.Value, field.Name, msg.Name)
		}
		if negativeWidth(c.Value) > info.width {
			return schemaErrorf("constant %s = %d does not fit the %d-bit field %q of message %q", c.Name, c.Value, info.width, field.Name, msg.Name)
		}
		return nil
	}
	if bitWidth(c.Value) > info.width {
		return schemaErrorf("constant %s = %d does not fit the %d-bit field %q of message %q", c.Name, c.Value, info.width, field.Name, msg.Name)
	}
	return nil
}

// bitWidth is the number of bits needed for a non-negative value, at
// least one.
func bitWidth(v int64) uint {
	if v == 0 {
		return 1
	}
	return uint(bits.Len64(uint64(v)))
}

// negativeWidth is the two's complement width of a negative value.
func negativeWidth(v int64) uint {
	return uint(bits.Len64(uint64(-v-1))) + 1
}
