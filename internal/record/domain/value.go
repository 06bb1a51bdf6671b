package domain

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"maps"
	"math"
	"slices"
	"strconv"
	"time"
)

// ValueType tags which member of a Value is set.
type ValueType uint8

const (
	NullType ValueType = iota
	StringType
	NumberType
	BoolType
	ObjectType
	ArrayType
)

func (t ValueType) String() string {
	switch t {
	case NullType:
		return "null"
	case StringType:
		return "string"
	case NumberType:
		return "number"
	case BoolType:
		return "bool"
	case ObjectType:
		return "object"
	case ArrayType:
		return "array"
	}
	return "unknown"
}

// Value is one JSON-like value of a record's open data payload.
// Numbers keep their literal text so integers and decimals survive a round-trip unchanged.
type Value struct {
	typ ValueType
	str string
	b   bool
	obj Object
	arr []Value
}

// NullValue returns the JSON null value.
func NullValue() Value { return Value{} }

// StringValue wraps s.
func StringValue(s string) Value { return Value{typ: StringType, str: s} }

// NumberValue wraps a JSON number literal.
func NumberValue(n json.Number) Value { return Value{typ: NumberType, str: n.String()} }

// IntValue wraps an integer.
func IntValue(i int64) Value { return Value{typ: NumberType, str: strconv.FormatInt(i, 10)} }

// FloatValue wraps a float. NaN and infinities are not representable in JSON and become null.
func FloatValue(f float64) Value {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return NullValue()
	}
	return Value{typ: NumberType, str: strconv.FormatFloat(f, 'g', -1, 64)}
}

// BoolValue wraps b.
func BoolValue(b bool) Value { return Value{typ: BoolType, b: b} }

// ObjectValue wraps a nested object.
func ObjectValue(o Object) Value { return Value{typ: ObjectType, obj: o} }

// ArrayValue wraps a list of values.
func ArrayValue(vs ...Value) Value { return Value{typ: ArrayType, arr: vs} }

// Type reports which member is set.
func (v Value) Type() ValueType { return v.typ }

// IsNull reports whether v is JSON null.
func (v Value) IsNull() bool { return v.typ == NullType }

// Str returns the string member.
func (v Value) Str() (string, bool) { return v.str, v.typ == StringType }

// Number returns the number literal.
func (v Value) Number() (json.Number, bool) { return json.Number(v.str), v.typ == NumberType }

// Bool returns the bool member.
func (v Value) Bool() (bool, bool) { return v.b, v.typ == BoolType }

// Object returns the nested object.
func (v Value) Object() (Object, bool) { return v.obj, v.typ == ObjectType }

// Array returns the array elements.
func (v Value) Array() ([]Value, bool) { return v.arr, v.typ == ArrayType }

// Equal reports deep equality. Object key order is significant.
func (v Value) Equal(o Value) bool {
	if v.typ != o.typ {
		return false
	}
	switch v.typ {
	case StringType, NumberType:
		return v.str == o.str
	case BoolType:
		return v.b == o.b
	case ObjectType:
		return v.obj.Equal(o.obj)
	case ArrayType:
		if len(v.arr) != len(o.arr) {
			return false
		}
		for i := range v.arr {
			if !v.arr[i].Equal(o.arr[i]) {
				return false
			}
		}
	}
	return true
}

// FromAny converts a loosely typed Go value (as produced by scrapers or json.Unmarshal) into a Value.
func FromAny(x any) (Value, error) {
	switch t := x.(type) {
	case nil:
		return NullValue(), nil
	case Value:
		return t, nil
	case Object:
		return ObjectValue(t), nil
	case string:
		return StringValue(t), nil
	case json.Number:
		return NumberValue(t), nil
	case bool:
		return BoolValue(t), nil
	case int:
		return IntValue(int64(t)), nil
	case int32:
		return IntValue(int64(t)), nil
	case int64:
		return IntValue(t), nil
	case uint:
		return Value{typ: NumberType, str: strconv.FormatUint(uint64(t), 10)}, nil
	case uint32:
		return IntValue(int64(t)), nil
	case uint64:
		return Value{typ: NumberType, str: strconv.FormatUint(t, 10)}, nil
	case float32:
		return FloatValue(float64(t)), nil
	case float64:
		return FloatValue(t), nil
	case time.Time:
		return StringValue(t.Format(time.RFC3339Nano)), nil
	case map[string]any:
		o, err := ObjectFromMap(t)
		if err != nil {
			return Value{}, err
		}
		return ObjectValue(o), nil
	case []any:
		arr := make([]Value, len(t))
		for i, el := range t {
			v, err := FromAny(el)
			if err != nil {
				return Value{}, fmt.Errorf("[%d]: %w", i, err)
			}
			arr[i] = v
		}
		return ArrayValue(arr...), nil
	case []string:
		arr := make([]Value, len(t))
		for i, s := range t {
			arr[i] = StringValue(s)
		}
		return ArrayValue(arr...), nil
	}
	return Value{}, fmt.Errorf("unsupported data value of type %T", x)
}

// MarshalJSON implements json.Marshaler.
func (v Value) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	if err := v.encode(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (v *Value) UnmarshalJSON(b []byte) error {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	out, err := decodeValue(dec)
	if err != nil {
		return err
	}
	*v = out
	return nil
}

func (v Value) encode(buf *bytes.Buffer) error {
	switch v.typ {
	case NullType:
		buf.WriteString("null")
	case StringType:
		b, err := json.Marshal(v.str)
		if err != nil {
			return err
		}
		buf.Write(b)
	case NumberType:
		if !json.Valid([]byte(v.str)) {
			return fmt.Errorf("invalid number literal %q", v.str)
		}
		buf.WriteString(v.str)
	case BoolType:
		buf.WriteString(strconv.FormatBool(v.b))
	case ObjectType:
		return v.obj.encode(buf)
	case ArrayType:
		buf.WriteByte('[')
		for i, el := range v.arr {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := el.encode(buf); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	}
	return nil
}

// Object is a string-keyed map that remembers insertion order.
// The zero value is an empty object and encodes as {}, never null.
type Object struct {
	keys []string
	vals map[string]Value
}

// NewObject returns an empty object.
func NewObject() Object { return Object{} }

// ObjectFromMap converts m into an Object. Go maps are unordered, so keys are sorted.
func ObjectFromMap(m map[string]any) (Object, error) {
	var o Object
	for _, k := range slices.Sorted(maps.Keys(m)) {
		v, err := FromAny(m[k])
		if err != nil {
			return Object{}, fmt.Errorf("%s: %w", k, err)
		}
		o.Set(k, v)
	}
	return o, nil
}

// Len returns the number of keys.
func (o Object) Len() int { return len(o.keys) }

// Keys returns the keys in insertion order.
func (o Object) Keys() []string {
	out := make([]string, len(o.keys))
	copy(out, o.keys)
	return out
}

// Get returns the value stored under k.
func (o Object) Get(k string) (Value, bool) {
	v, ok := o.vals[k]
	return v, ok
}

// Set stores v under k. An existing key keeps its position.
func (o *Object) Set(k string, v Value) {
	if o.vals == nil {
		o.vals = make(map[string]Value)
	}
	if _, ok := o.vals[k]; !ok {
		o.keys = append(o.keys, k)
	}
	o.vals[k] = v
}

// All iterates keys and values in insertion order.
func (o Object) All() iter.Seq2[string, Value] {
	return func(yield func(string, Value) bool) {
		for _, k := range o.keys {
			if !yield(k, o.vals[k]) {
				return
			}
		}
	}
}

// Equal reports whether both objects hold equal values under the same keys in the same order.
func (o Object) Equal(p Object) bool {
	if len(o.keys) != len(p.keys) {
		return false
	}
	for i, k := range o.keys {
		if p.keys[i] != k || !o.vals[k].Equal(p.vals[k]) {
			return false
		}
	}
	return true
}

// MarshalJSON implements json.Marshaler.
func (o Object) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	if err := o.encode(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// UnmarshalJSON implements json.Unmarshaler. JSON null decodes to an empty object.
func (o *Object) UnmarshalJSON(b []byte) error {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	v, err := decodeValue(dec)
	if err != nil {
		return err
	}
	switch v.typ {
	case NullType:
		*o = Object{}
	case ObjectType:
		*o = v.obj
	default:
		return fmt.Errorf("data: expected object, got %s", v.typ)
	}
	return nil
}

func (o Object) encode(buf *bytes.Buffer) error {
	buf.WriteByte('{')
	for i, k := range o.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return err
		}
		buf.Write(kb)
		buf.WriteByte(':')
		if err := o.vals[k].encode(buf); err != nil {
			return fmt.Errorf("%s: %w", k, err)
		}
	}
	buf.WriteByte('}')
	return nil
}

var errUnexpectedDelim = errors.New("unexpected JSON delimiter")

func decodeValue(dec *json.Decoder) (Value, error) {
	tok, err := dec.Token()
	if err != nil {
		return Value{}, err
	}
	switch t := tok.(type) {
	case nil:
		return NullValue(), nil
	case string:
		return StringValue(t), nil
	case json.Number:
		return NumberValue(t), nil
	case bool:
		return BoolValue(t), nil
	case json.Delim:
		switch t {
		case '{':
			var o Object
			for dec.More() {
				kt, err := dec.Token()
				if err != nil {
					return Value{}, err
				}
				key, ok := kt.(string)
				if !ok {
					return Value{}, fmt.Errorf("object key is %T", kt)
				}
				el, err := decodeValue(dec)
				if err != nil {
					return Value{}, err
				}
				o.Set(key, el)
			}
			if _, err := dec.Token(); err != nil {
				return Value{}, err
			}
			return ObjectValue(o), nil
		case '[':
			arr := []Value{}
			for dec.More() {
				el, err := decodeValue(dec)
				if err != nil {
					return Value{}, err
				}
				arr = append(arr, el)
			}
			if _, err := dec.Token(); err != nil {
				return Value{}, err
			}
			return ArrayValue(arr...), nil
		}
		return Value{}, fmt.Errorf("%w %q", errUnexpectedDelim, t)
	}
	return Value{}, fmt.Errorf("unexpected JSON token %T", tok)
}
