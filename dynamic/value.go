package dynamic

import (
	"bytes"
	"fmt"
	"math"
	"sort"

	"google.golang.org/protobuf/reflect/protoreflect"
)

// Value is a dynamically-typed protobuf value: a scalar, an enum number, an
// embedded message, a list of values, or a map from scalar keys to values.
//
// A Value carries no reference to the field descriptor it was created for.
// Whether a Value is valid, or is the default, for a particular field is
// determined against that field's descriptor (see Message.TrySetField).
//
// The zero Value is invalid and must not be stored in a message.
type Value struct {
	v any
}

// ValueOfBool returns a new boolean value.
func ValueOfBool(b bool) Value { return Value{v: b} }

// ValueOfInt32 returns a new int32 value. It is used for the int32, sint32,
// and sfixed32 field kinds.
func ValueOfInt32(i int32) Value { return Value{v: i} }

// ValueOfInt64 returns a new int64 value. It is used for the int64, sint64,
// and sfixed64 field kinds.
func ValueOfInt64(i int64) Value { return Value{v: i} }

// ValueOfUint32 returns a new uint32 value. It is used for the uint32 and
// fixed32 field kinds.
func ValueOfUint32(u uint32) Value { return Value{v: u} }

// ValueOfUint64 returns a new uint64 value. It is used for the uint64 and
// fixed64 field kinds.
func ValueOfUint64(u uint64) Value { return Value{v: u} }

// ValueOfFloat32 returns a new float value.
func ValueOfFloat32(f float32) Value { return Value{v: f} }

// ValueOfFloat64 returns a new double value.
func ValueOfFloat64(f float64) Value { return Value{v: f} }

// ValueOfString returns a new string value.
func ValueOfString(s string) Value { return Value{v: s} }

// ValueOfBytes returns a new bytes value. The given slice is not copied.
func ValueOfBytes(b []byte) Value { return Value{v: b} }

// ValueOfEnum returns a new enum value, identified by number.
func ValueOfEnum(n protoreflect.EnumNumber) Value { return Value{v: n} }

// ValueOfMessage returns a new message value.
func ValueOfMessage(m *Message) Value { return Value{v: m} }

// ValueOfList returns a new list value. The given slice is not copied.
func ValueOfList(list []Value) Value { return Value{v: list} }

// ValueOfMap returns a new map value. The given map is not copied.
func ValueOfMap(m map[MapKey]Value) Value { return Value{v: m} }

// IsValid reports whether v was produced by one of the ValueOf constructors.
func (v Value) IsValid() bool { return v.v != nil }

// Bool returns the held boolean, panicking if v holds anything else.
func (v Value) Bool() bool { return v.v.(bool) }

// Int32 returns the held int32, panicking if v holds anything else.
func (v Value) Int32() int32 { return v.v.(int32) }

// Int64 returns the held int64, panicking if v holds anything else.
func (v Value) Int64() int64 { return v.v.(int64) }

// Uint32 returns the held uint32, panicking if v holds anything else.
func (v Value) Uint32() uint32 { return v.v.(uint32) }

// Uint64 returns the held uint64, panicking if v holds anything else.
func (v Value) Uint64() uint64 { return v.v.(uint64) }

// Float32 returns the held float, panicking if v holds anything else.
func (v Value) Float32() float32 { return v.v.(float32) }

// Float64 returns the held double, panicking if v holds anything else.
func (v Value) Float64() float64 { return v.v.(float64) }

// String returns the held string if v holds one and otherwise returns a
// textual representation, so that Value implements fmt.Stringer safely.
func (v Value) String() string {
	if s, ok := v.v.(string); ok {
		return s
	}
	return fmt.Sprint(v.v)
}

// Bytes returns the held byte slice, panicking if v holds anything else.
func (v Value) Bytes() []byte { return v.v.([]byte) }

// Enum returns the held enum number, panicking if v holds anything else.
func (v Value) Enum() protoreflect.EnumNumber { return v.v.(protoreflect.EnumNumber) }

// Message returns the held message, panicking if v holds anything else.
func (v Value) Message() *Message { return v.v.(*Message) }

// List returns the held list, panicking if v holds anything else.
func (v Value) List() []Value { return v.v.([]Value) }

// Map returns the held map, panicking if v holds anything else.
func (v Value) Map() map[MapKey]Value { return v.v.(map[MapKey]Value) }

// IsMessage reports whether v holds a message.
func (v Value) IsMessage() bool {
	_, ok := v.v.(*Message)
	return ok
}

// MapKey converts v into a map key. It panics if v does not hold one of the
// kinds permitted as a protobuf map key (bool, integral, or string).
func (v Value) MapKey() MapKey {
	switch v.v.(type) {
	case bool, int32, int64, uint32, uint64, string:
		return MapKey{v: v.v}
	default:
		panic(fmt.Sprintf("invalid map key kind: %T", v.v))
	}
}

// Equal reports whether v and other hold equal values. Messages and lists
// are compared recursively. Floating-point values compare equal when both
// are NaN.
func (v Value) Equal(other Value) bool {
	switch val := v.v.(type) {
	case float32:
		o, ok := other.v.(float32)
		if !ok {
			return false
		}
		return val == o || (math.IsNaN(float64(val)) && math.IsNaN(float64(o)))
	case float64:
		o, ok := other.v.(float64)
		if !ok {
			return false
		}
		return val == o || (math.IsNaN(val) && math.IsNaN(o))
	case []byte:
		o, ok := other.v.([]byte)
		return ok && bytes.Equal(val, o)
	case *Message:
		o, ok := other.v.(*Message)
		return ok && val.Equal(o)
	case []Value:
		o, ok := other.v.([]Value)
		if !ok || len(val) != len(o) {
			return false
		}
		for i := range val {
			if !val[i].Equal(o[i]) {
				return false
			}
		}
		return true
	case map[MapKey]Value:
		o, ok := other.v.(map[MapKey]Value)
		if !ok || len(val) != len(o) {
			return false
		}
		for k, elem := range val {
			otherElem, ok := o[k]
			if !ok || !elem.Equal(otherElem) {
				return false
			}
		}
		return true
	default:
		return v.v == other.v
	}
}

// MapKey is the key of a map field entry: a bool, integral, or string value.
// Map keys are comparable and can be used as Go map keys directly.
type MapKey struct {
	v any
}

// Bool returns the held boolean, panicking if k holds anything else.
func (k MapKey) Bool() bool { return k.v.(bool) }

// Int32 returns the held int32, panicking if k holds anything else.
func (k MapKey) Int32() int32 { return k.v.(int32) }

// Int64 returns the held int64, panicking if k holds anything else.
func (k MapKey) Int64() int64 { return k.v.(int64) }

// Uint32 returns the held uint32, panicking if k holds anything else.
func (k MapKey) Uint32() uint32 { return k.v.(uint32) }

// Uint64 returns the held uint64, panicking if k holds anything else.
func (k MapKey) Uint64() uint64 { return k.v.(uint64) }

// String returns the held string if k holds one and otherwise returns a
// textual representation.
func (k MapKey) String() string {
	if s, ok := k.v.(string); ok {
		return s
	}
	return fmt.Sprint(k.v)
}

// Value converts k back into a Value.
func (k MapKey) Value() Value { return Value{v: k.v} }

// sortedMapKeys returns the keys of m in a deterministic order, so that
// serialized output is stable.
func sortedMapKeys(m map[MapKey]Value) []MapKey {
	keys := make([]MapKey, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		return mapKeyLess(keys[i], keys[j])
	})
	return keys
}

func mapKeyLess(a, b MapKey) bool {
	switch av := a.v.(type) {
	case bool:
		return !av && b.v.(bool)
	case int32:
		return av < b.v.(int32)
	case int64:
		return av < b.v.(int64)
	case uint32:
		return av < b.v.(uint32)
	case uint64:
		return av < b.v.(uint64)
	case string:
		return av < b.v.(string)
	default:
		panic(fmt.Sprintf("invalid map key kind: %T", a.v))
	}
}

// defaultFieldValue returns the value a field reports when it is absent: an
// empty list or map for repeated fields, the declared default (or the zero
// value) for scalars, and an empty message for message fields.
func defaultFieldValue(fd protoreflect.FieldDescriptor) Value {
	switch {
	case fd.IsList():
		return ValueOfList(nil)
	case fd.IsMap():
		return ValueOfMap(nil)
	default:
		return defaultScalarValue(fd)
	}
}

func defaultScalarValue(fd protoreflect.FieldDescriptor) Value {
	switch fd.Kind() {
	case protoreflect.BoolKind:
		return ValueOfBool(fd.Default().Bool())
	case protoreflect.Int32Kind, protoreflect.Sint32Kind, protoreflect.Sfixed32Kind:
		return ValueOfInt32(int32(fd.Default().Int()))
	case protoreflect.Int64Kind, protoreflect.Sint64Kind, protoreflect.Sfixed64Kind:
		return ValueOfInt64(fd.Default().Int())
	case protoreflect.Uint32Kind, protoreflect.Fixed32Kind:
		return ValueOfUint32(uint32(fd.Default().Uint()))
	case protoreflect.Uint64Kind, protoreflect.Fixed64Kind:
		return ValueOfUint64(fd.Default().Uint())
	case protoreflect.FloatKind:
		return ValueOfFloat32(float32(fd.Default().Float()))
	case protoreflect.DoubleKind:
		return ValueOfFloat64(fd.Default().Float())
	case protoreflect.StringKind:
		return ValueOfString(fd.Default().String())
	case protoreflect.BytesKind:
		return ValueOfBytes(fd.Default().Bytes())
	case protoreflect.EnumKind:
		return ValueOfEnum(fd.Default().Enum())
	case protoreflect.MessageKind, protoreflect.GroupKind:
		return ValueOfMessage(NewMessage(fd.Message()))
	default:
		panic(fmt.Sprintf("unknown field kind: %v", fd.Kind()))
	}
}

// isDefaultFieldValue reports whether v is the default value for fd. Message
// fields always have explicit presence, so a message value is never
// considered a default.
func isDefaultFieldValue(fd protoreflect.FieldDescriptor, v Value) bool {
	switch {
	case fd.IsList():
		list, ok := v.v.([]Value)
		return ok && len(list) == 0
	case fd.IsMap():
		m, ok := v.v.(map[MapKey]Value)
		return ok && len(m) == 0
	case fd.Kind() == protoreflect.MessageKind || fd.Kind() == protoreflect.GroupKind:
		return false
	default:
		return v.Equal(defaultScalarValue(fd))
	}
}

// isValidFieldValue reports whether v is structurally valid for fd: the held
// kind matches the field's declared kind, list elements and map entries
// match the element descriptors, and message values are of the field's
// message type.
func isValidFieldValue(fd protoreflect.FieldDescriptor, v Value) bool {
	switch {
	case fd.IsList():
		list, ok := v.v.([]Value)
		if !ok {
			return false
		}
		for _, elem := range list {
			if !isValidScalarValue(fd, elem) {
				return false
			}
		}
		return true
	case fd.IsMap():
		m, ok := v.v.(map[MapKey]Value)
		if !ok {
			return false
		}
		for k, elem := range m {
			if !isValidScalarValue(fd.MapKey(), k.Value()) || !isValidScalarValue(fd.MapValue(), elem) {
				return false
			}
		}
		return true
	default:
		return isValidScalarValue(fd, v)
	}
}

func isValidScalarValue(fd protoreflect.FieldDescriptor, v Value) bool {
	switch fd.Kind() {
	case protoreflect.BoolKind:
		_, ok := v.v.(bool)
		return ok
	case protoreflect.Int32Kind, protoreflect.Sint32Kind, protoreflect.Sfixed32Kind:
		_, ok := v.v.(int32)
		return ok
	case protoreflect.Int64Kind, protoreflect.Sint64Kind, protoreflect.Sfixed64Kind:
		_, ok := v.v.(int64)
		return ok
	case protoreflect.Uint32Kind, protoreflect.Fixed32Kind:
		_, ok := v.v.(uint32)
		return ok
	case protoreflect.Uint64Kind, protoreflect.Fixed64Kind:
		_, ok := v.v.(uint64)
		return ok
	case protoreflect.FloatKind:
		_, ok := v.v.(float32)
		return ok
	case protoreflect.DoubleKind:
		_, ok := v.v.(float64)
		return ok
	case protoreflect.StringKind:
		_, ok := v.v.(string)
		return ok
	case protoreflect.BytesKind:
		_, ok := v.v.([]byte)
		return ok
	case protoreflect.EnumKind:
		_, ok := v.v.(protoreflect.EnumNumber)
		return ok
	case protoreflect.MessageKind, protoreflect.GroupKind:
		m, ok := v.v.(*Message)
		return ok && m != nil && m.md.FullName() == fd.Message().FullName()
	default:
		return false
	}
}
