package docsync

import (
	"encoding/binary"
	"fmt"
	"math"
	"strconv"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
	"google.golang.org/protobuf/types/known/structpb"
)

// binary message objects ("bm objects") carry structured arguments inside message values.
// an object is a message whose first record name is [0], followed by one record per key:
//
//	{name: key, values: [[value type], value bytes]}
//
// an array is a message whose first record name is [1], followed by one record per element:
//
//	{name: [value type], values: [value bytes]}

const (
	bmKindObject byte = 0
	bmKindArray  byte = 1
)

type BMValueType byte

const (
	BMString    BMValueType = 0
	BMNumber    BMValueType = 1
	BMUndefined BMValueType = 2
	BMNull      BMValueType = 3
	BMBoolean   BMValueType = 4
	BMObject    BMValueType = 5
	BMArray     BMValueType = 6
	BMRegExp    BMValueType = 7
	BMFunction  BMValueType = 8
	BMBytes     BMValueType = 9
)

func NewBMObject(m map[string]any) (*structpb.Struct, error) {
	return structpb.NewStruct(m)
}

func EncodeBMObject(obj *structpb.Struct) ([]byte, error) {
	nameValues, err := bmObjectNameValues(obj)
	if err != nil {
		return nil, err
	}
	return EncodeMessage(nameValues), nil
}

func EncodeBMArray(arr *structpb.ListValue) ([]byte, error) {
	nameValues, err := bmArrayNameValues(arr)
	if err != nil {
		return nil, err
	}
	return EncodeMessage(nameValues), nil
}

func bmObjectNameValues(obj *structpb.Struct) ([]*NameValue, error) {
	nameValues := []*NameValue{
		NewNameValue([]byte{bmKindObject}),
	}
	fields := obj.GetFields()
	keys := maps.Keys(fields)
	slices.Sort(keys)
	for _, key := range keys {
		valueType, valueBytes, err := encodeBMValue(fields[key])
		if err != nil {
			return nil, fmt.Errorf("%s: %w", key, err)
		}
		nameValues = append(nameValues, NewNameValue(
			[]byte(key),
			[]byte{byte(valueType)},
			valueBytes,
		))
	}
	return nameValues, nil
}

func bmArrayNameValues(arr *structpb.ListValue) ([]*NameValue, error) {
	nameValues := []*NameValue{
		NewNameValue([]byte{bmKindArray}),
	}
	for i, value := range arr.GetValues() {
		valueType, valueBytes, err := encodeBMValue(value)
		if err != nil {
			return nil, fmt.Errorf("[%d]: %w", i, err)
		}
		nameValues = append(nameValues, NewNameValue(
			[]byte{byte(valueType)},
			valueBytes,
		))
	}
	return nameValues, nil
}

func encodeBMValue(value *structpb.Value) (BMValueType, []byte, error) {
	switch v := value.GetKind().(type) {
	case *structpb.Value_StringValue:
		return BMString, []byte(v.StringValue), nil
	case *structpb.Value_NumberValue:
		b := make([]byte, 8)
		binary.BigEndian.PutUint64(b, math.Float64bits(v.NumberValue))
		return BMNumber, b, nil
	case *structpb.Value_BoolValue:
		if v.BoolValue {
			return BMBoolean, []byte{1}, nil
		}
		return BMBoolean, []byte{0}, nil
	case *structpb.Value_NullValue, nil:
		return BMNull, []byte{}, nil
	case *structpb.Value_StructValue:
		b, err := EncodeBMObject(v.StructValue)
		return BMObject, b, err
	case *structpb.Value_ListValue:
		b, err := EncodeBMArray(v.ListValue)
		return BMArray, b, err
	default:
		return 0, nil, fmt.Errorf("Unsupported value %T", v)
	}
}

func DecodeBMObject(b []byte) (*structpb.Struct, error) {
	nameValues, err := DecodeMessage(b)
	if err != nil {
		return nil, err
	}
	return bmObjectFromNameValues(nameValues)
}

func DecodeBMArray(b []byte) (*structpb.ListValue, error) {
	nameValues, err := DecodeMessage(b)
	if err != nil {
		return nil, err
	}
	return bmArrayFromNameValues(nameValues)
}

func bmObjectFromNameValues(nameValues []*NameValue) (*structpb.Struct, error) {
	if len(nameValues) == 0 || !slices.Equal(nameValues[0].Name, []byte{bmKindObject}) {
		return nil, formatErrorf(0, "not a bm object")
	}
	obj := &structpb.Struct{
		Fields: map[string]*structpb.Value{},
	}
	for _, nameValue := range nameValues[1:] {
		if len(nameValue.Values) != 2 || len(nameValue.Values[0]) != 1 {
			return nil, formatErrorf(0, "bm object field %q", nameValue.Name)
		}
		value, ok, err := decodeBMValue(BMValueType(nameValue.Values[0][0]), nameValue.Values[1])
		if err != nil {
			return nil, err
		}
		if ok {
			obj.Fields[string(nameValue.Name)] = value
		}
	}
	return obj, nil
}

func bmArrayFromNameValues(nameValues []*NameValue) (*structpb.ListValue, error) {
	if len(nameValues) == 0 || !slices.Equal(nameValues[0].Name, []byte{bmKindArray}) {
		return nil, formatErrorf(0, "not a bm array")
	}
	arr := &structpb.ListValue{}
	for _, nameValue := range nameValues[1:] {
		if len(nameValue.Name) != 1 || len(nameValue.Values) != 1 {
			return nil, formatErrorf(0, "bm array element")
		}
		value, ok, err := decodeBMValue(BMValueType(nameValue.Name[0]), nameValue.Values[0])
		if err != nil {
			return nil, err
		}
		if !ok {
			// undefined elements keep their position
			value = structpb.NewNullValue()
		}
		arr.Values = append(arr.Values, value)
	}
	return arr, nil
}

// undefined values are dropped from objects (`ok` false).
// regexp and function sources decode as strings, raw bytes as a list of byte numbers.
func decodeBMValue(valueType BMValueType, b []byte) (value *structpb.Value, ok bool, err error) {
	switch valueType {
	case BMString, BMRegExp, BMFunction:
		return structpb.NewStringValue(string(b)), true, nil
	case BMNumber:
		if len(b) != 8 {
			return nil, false, formatErrorf(0, "bm number of %d bytes", len(b))
		}
		return structpb.NewNumberValue(math.Float64frombits(binary.BigEndian.Uint64(b))), true, nil
	case BMUndefined:
		return nil, false, nil
	case BMNull:
		return structpb.NewNullValue(), true, nil
	case BMBoolean:
		return structpb.NewBoolValue(len(b) == 1 && b[0] == 1), true, nil
	case BMObject:
		obj, err := DecodeBMObject(b)
		if err != nil {
			return nil, false, err
		}
		return structpb.NewStructValue(obj), true, nil
	case BMArray:
		arr, err := DecodeBMArray(b)
		if err != nil {
			return nil, false, err
		}
		return structpb.NewListValue(arr), true, nil
	case BMBytes:
		arr := &structpb.ListValue{}
		for _, v := range b {
			arr.Values = append(arr.Values, structpb.NewNumberValue(float64(v)))
		}
		return structpb.NewListValue(arr), true, nil
	default:
		return nil, false, formatErrorf(0, "bm value type %d", valueType)
	}
}

// bm field accessors. missing or mistyped fields report false.

func bmString(obj *structpb.Struct, key string) (string, bool) {
	v, ok := obj.GetFields()[key]
	if !ok {
		return "", false
	}
	s, ok := v.GetKind().(*structpb.Value_StringValue)
	if !ok {
		return "", false
	}
	return s.StringValue, true
}

func bmBool(obj *structpb.Struct, key string) (bool, bool) {
	v, ok := obj.GetFields()[key]
	if !ok {
		return false, false
	}
	b, ok := v.GetKind().(*structpb.Value_BoolValue)
	if !ok {
		return false, false
	}
	return b.BoolValue, true
}

// bmBytes accepts raw bytes (a list of byte numbers) or a string.
func bmBytes(obj *structpb.Struct, key string) ([]byte, bool) {
	v, ok := obj.GetFields()[key]
	if !ok {
		return nil, false
	}
	switch k := v.GetKind().(type) {
	case *structpb.Value_StringValue:
		return []byte(k.StringValue), true
	case *structpb.Value_ListValue:
		b := []byte{}
		for _, v := range k.ListValue.GetValues() {
			b = append(b, byte(v.GetNumberValue()))
		}
		return b, true
	default:
		return nil, false
	}
}

// bmInt accepts a number, a decimal string, or optimized int bytes.
func bmInt(obj *structpb.Struct, key string) (int64, bool) {
	v, ok := obj.GetFields()[key]
	if !ok {
		return 0, false
	}
	switch k := v.GetKind().(type) {
	case *structpb.Value_NumberValue:
		return int64(k.NumberValue), true
	case *structpb.Value_StringValue:
		n, err := strconv.ParseInt(k.StringValue, 10, 64)
		if err != nil {
			return 0, false
		}
		return n, true
	case *structpb.Value_ListValue:
		b := []byte{}
		for _, v := range k.ListValue.GetValues() {
			b = append(b, byte(v.GetNumberValue()))
		}
		u, err := IntFromOptimizedBytes(b)
		if err != nil {
			return 0, false
		}
		return int64(u), true
	default:
		return 0, false
	}
}
