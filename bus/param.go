package bus

import (
	"encoding/json"
	"fmt"
	"slices"
)

// ParamKind identifies the declared type of a firmware parameter.
type ParamKind int

const (
	// KindInvalid is the zero value; it never appears in a valid declaration.
	KindInvalid ParamKind = iota
	// KindBool is a single boolean parameter.
	KindBool
	// KindInteger is a single 64-bit signed integer parameter.
	KindInteger
	// KindDouble is a single 64-bit float parameter.
	KindDouble
	// KindString is a single string parameter.
	KindString
	// KindBoolArray is a boolean array parameter.
	KindBoolArray
	// KindIntegerArray is a 64-bit signed integer array parameter.
	KindIntegerArray
	// KindDoubleArray is a 64-bit float array parameter.
	KindDoubleArray
	// KindStringArray is a string array parameter.
	KindStringArray
)

var kindNames = map[ParamKind]string{
	KindBool:         "bool",
	KindInteger:      "integer",
	KindDouble:       "double",
	KindString:       "string",
	KindBoolArray:    "bool_array",
	KindIntegerArray: "integer_array",
	KindDoubleArray:  "double_array",
	KindStringArray:  "string_array",
}

// String returns the canonical short name of the kind.
func (k ParamKind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "invalid"
}

// IsArray reports whether the kind is one of the array kinds.
func (k ParamKind) IsArray() bool {
	switch k {
	case KindBoolArray, KindIntegerArray, KindDoubleArray, KindStringArray:
		return true
	default:
		return false
	}
}

// MarshalText encodes the kind as its short name.
func (k ParamKind) MarshalText() ([]byte, error) {
	name, ok := kindNames[k]
	if !ok {
		return nil, fmt.Errorf("cannot encode invalid param kind %d", int(k))
	}
	return []byte(name), nil
}

// UnmarshalText decodes a kind from its short name.
func (k *ParamKind) UnmarshalText(text []byte) error {
	for kind, name := range kindNames {
		if name == string(text) {
			*k = kind
			return nil
		}
	}
	return fmt.Errorf("unknown param kind %q", text)
}

// ParamValue is a typed parameter value. Exactly the field matching Kind
// is meaningful; constructors keep that invariant.
type ParamValue struct {
	Kind    ParamKind
	Bool    bool
	Int     int64
	Double  float64
	Str     string
	Bools   []bool
	Ints    []int64
	Doubles []float64
	Strs    []string
}

// BoolValue returns a bool parameter value.
func BoolValue(v bool) ParamValue { return ParamValue{Kind: KindBool, Bool: v} }

// IntValue returns an integer parameter value.
func IntValue(v int64) ParamValue { return ParamValue{Kind: KindInteger, Int: v} }

// DoubleValue returns a double parameter value.
func DoubleValue(v float64) ParamValue { return ParamValue{Kind: KindDouble, Double: v} }

// StringValue returns a string parameter value.
func StringValue(v string) ParamValue { return ParamValue{Kind: KindString, Str: v} }

// BoolArrayValue returns a bool array parameter value.
func BoolArrayValue(v []bool) ParamValue { return ParamValue{Kind: KindBoolArray, Bools: v} }

// IntArrayValue returns an integer array parameter value.
func IntArrayValue(v []int64) ParamValue { return ParamValue{Kind: KindIntegerArray, Ints: v} }

// DoubleArrayValue returns a double array parameter value.
func DoubleArrayValue(v []float64) ParamValue { return ParamValue{Kind: KindDoubleArray, Doubles: v} }

// StringArrayValue returns a string array parameter value.
func StringArrayValue(v []string) ParamValue { return ParamValue{Kind: KindStringArray, Strs: v} }

// Equal reports whether two values have the same kind and contents.
func (v ParamValue) Equal(other ParamValue) bool {
	if v.Kind != other.Kind {
		return false
	}
	switch v.Kind {
	case KindBool:
		return v.Bool == other.Bool
	case KindInteger:
		return v.Int == other.Int
	case KindDouble:
		return v.Double == other.Double
	case KindString:
		return v.Str == other.Str
	case KindBoolArray:
		return slices.Equal(v.Bools, other.Bools)
	case KindIntegerArray:
		return slices.Equal(v.Ints, other.Ints)
	case KindDoubleArray:
		return slices.Equal(v.Doubles, other.Doubles)
	case KindStringArray:
		return slices.Equal(v.Strs, other.Strs)
	default:
		return false
	}
}

// String renders the value for logs.
func (v ParamValue) String() string {
	switch v.Kind {
	case KindBool:
		return fmt.Sprintf("%t", v.Bool)
	case KindInteger:
		return fmt.Sprintf("%d", v.Int)
	case KindDouble:
		return fmt.Sprintf("%g", v.Double)
	case KindString:
		return fmt.Sprintf("%q", v.Str)
	case KindBoolArray:
		return fmt.Sprintf("%v", v.Bools)
	case KindIntegerArray:
		return fmt.Sprintf("%v", v.Ints)
	case KindDoubleArray:
		return fmt.Sprintf("%v", v.Doubles)
	case KindStringArray:
		return fmt.Sprintf("%q", v.Strs)
	default:
		return "<invalid>"
	}
}

// paramValueJSON is the stored representation: a kind tag plus the value.
type paramValueJSON struct {
	Kind  ParamKind       `json:"kind"`
	Value json.RawMessage `json:"value"`
}

// MarshalJSON encodes the value as {"kind": ..., "value": ...}.
func (v ParamValue) MarshalJSON() ([]byte, error) {
	var inner any
	switch v.Kind {
	case KindBool:
		inner = v.Bool
	case KindInteger:
		inner = v.Int
	case KindDouble:
		inner = v.Double
	case KindString:
		inner = v.Str
	case KindBoolArray:
		inner = emptyIfNil(v.Bools)
	case KindIntegerArray:
		inner = emptyIfNil(v.Ints)
	case KindDoubleArray:
		inner = emptyIfNil(v.Doubles)
	case KindStringArray:
		inner = emptyIfNil(v.Strs)
	default:
		return nil, fmt.Errorf("cannot encode param value of invalid kind %d", int(v.Kind))
	}

	raw, err := json.Marshal(inner)
	if err != nil {
		return nil, err
	}
	return json.Marshal(paramValueJSON{Kind: v.Kind, Value: raw})
}

// UnmarshalJSON decodes a value produced by MarshalJSON.
func (v *ParamValue) UnmarshalJSON(data []byte) error {
	var wrapper paramValueJSON
	if err := json.Unmarshal(data, &wrapper); err != nil {
		return err
	}

	decoded := ParamValue{Kind: wrapper.Kind}
	var err error
	switch wrapper.Kind {
	case KindBool:
		err = json.Unmarshal(wrapper.Value, &decoded.Bool)
	case KindInteger:
		err = json.Unmarshal(wrapper.Value, &decoded.Int)
	case KindDouble:
		err = json.Unmarshal(wrapper.Value, &decoded.Double)
	case KindString:
		err = json.Unmarshal(wrapper.Value, &decoded.Str)
	case KindBoolArray:
		err = json.Unmarshal(wrapper.Value, &decoded.Bools)
	case KindIntegerArray:
		err = json.Unmarshal(wrapper.Value, &decoded.Ints)
	case KindDoubleArray:
		err = json.Unmarshal(wrapper.Value, &decoded.Doubles)
	case KindStringArray:
		err = json.Unmarshal(wrapper.Value, &decoded.Strs)
	default:
		return fmt.Errorf("cannot decode param value of invalid kind %d", int(wrapper.Kind))
	}
	if err != nil {
		return fmt.Errorf("decode %s param value: %w", wrapper.Kind, err)
	}

	*v = decoded
	return nil
}

func emptyIfNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
