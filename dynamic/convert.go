package dynamic

// Conversion between dynamic messages and protoreflect messages. This is the
// bridge to the rest of the protobuf runtime: anything that can produce or
// consume a protoreflect.Message (generated messages, dynamicpb, the binary
// codec) can exchange data with a *Message through it.

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/dynamicpb"
)

// ConvertTo copies the contents of m into pm, which must be a message of
// the same type. Unknown fields are re-encoded and carried over. Existing
// contents of pm are not cleared first.
func (m *Message) ConvertTo(pm protoreflect.Message) error {
	if pm.Descriptor().FullName() != m.md.FullName() {
		return fmt.Errorf("cannot convert message %s to %s", m.md.FullName(), pm.Descriptor().FullName())
	}
	var cerr error
	m.fields.iterate(
		m.findFieldByNumber,
		func(desc fieldDescriptorLike, v Value) bool {
			fd := settableDescriptor(desc.Descriptor())
			cerr = setProtoreflectField(pm, fd, v)
			return cerr == nil
		},
		func(number protoreflect.FieldNumber, entries []UnknownField) bool {
			raw := pm.GetUnknown()
			for _, uf := range entries {
				raw = appendUnknownField(raw, number, uf)
			}
			pm.SetUnknown(raw)
			return true
		},
	)
	return cerr
}

// ConvertFrom resets m and copies in the contents of pm, which must be a
// message of the same type. Unknown fields are preserved.
func (m *Message) ConvertFrom(pm protoreflect.Message) error {
	if pm.Descriptor().FullName() != m.md.FullName() {
		return fmt.Errorf("cannot convert message %s to %s", pm.Descriptor().FullName(), m.md.FullName())
	}
	m.Reset()
	var cerr error
	pm.Range(func(fd protoreflect.FieldDescriptor, val protoreflect.Value) bool {
		var v Value
		v, cerr = valueFromProtoreflect(m.er, fd, val)
		if cerr != nil {
			return false
		}
		m.setField(wrapFieldDescriptor(fd), v)
		return true
	})
	if cerr != nil {
		return cerr
	}
	return m.addUnknownFromWire(pm.GetUnknown())
}

// messageFromWire decodes raw binary wire data into a new dynamic message,
// using dynamicpb as the binary codec.
func messageFromWire(md protoreflect.MessageDescriptor, er *ExtensionRegistry, raw []byte) (*Message, error) {
	dyn := dynamicpb.NewMessage(md)
	if err := proto.Unmarshal(raw, dyn); err != nil {
		return nil, err
	}
	m := NewMessageWithExtensionRegistry(md, er)
	if err := m.ConvertFrom(dyn); err != nil {
		return nil, err
	}
	return m, nil
}

// messageToWire encodes a dynamic message to binary wire data, using
// dynamicpb as the binary codec. Output is deterministic so that re-encoding
// the same message yields the same bytes.
func messageToWire(m *Message) ([]byte, error) {
	dyn := dynamicpb.NewMessage(m.md)
	if err := m.ConvertTo(dyn); err != nil {
		return nil, err
	}
	return proto.MarshalOptions{Deterministic: true}.Marshal(dyn)
}

// settableDescriptor makes an extension descriptor acceptable to
// protoreflect.Message.Set, which requires extensions to carry a type.
func settableDescriptor(fd protoreflect.FieldDescriptor) protoreflect.FieldDescriptor {
	if !fd.IsExtension() {
		return fd
	}
	if _, ok := fd.(protoreflect.ExtensionTypeDescriptor); ok {
		return fd
	}
	return dynamicpb.NewExtensionType(fd).TypeDescriptor()
}

func setProtoreflectField(pm protoreflect.Message, fd protoreflect.FieldDescriptor, v Value) error {
	switch {
	case fd.IsMap():
		mv := pm.Mutable(fd).Map()
		for key, elem := range v.Map() {
			pelem, err := singularToProtoreflect(fd.MapValue(), elem)
			if err != nil {
				return err
			}
			mv.Set(mapKeyToProtoreflect(key), pelem)
		}
		return nil
	case fd.IsList():
		lv := pm.Mutable(fd).List()
		for _, elem := range v.List() {
			pelem, err := singularToProtoreflect(fd, elem)
			if err != nil {
				return err
			}
			lv.Append(pelem)
		}
		return nil
	default:
		pv, err := singularToProtoreflect(fd, v)
		if err != nil {
			return err
		}
		pm.Set(fd, pv)
		return nil
	}
}

func singularToProtoreflect(fd protoreflect.FieldDescriptor, v Value) (protoreflect.Value, error) {
	switch fd.Kind() {
	case protoreflect.BoolKind:
		return protoreflect.ValueOfBool(v.Bool()), nil
	case protoreflect.Int32Kind, protoreflect.Sint32Kind, protoreflect.Sfixed32Kind:
		return protoreflect.ValueOfInt32(v.Int32()), nil
	case protoreflect.Int64Kind, protoreflect.Sint64Kind, protoreflect.Sfixed64Kind:
		return protoreflect.ValueOfInt64(v.Int64()), nil
	case protoreflect.Uint32Kind, protoreflect.Fixed32Kind:
		return protoreflect.ValueOfUint32(v.Uint32()), nil
	case protoreflect.Uint64Kind, protoreflect.Fixed64Kind:
		return protoreflect.ValueOfUint64(v.Uint64()), nil
	case protoreflect.FloatKind:
		return protoreflect.ValueOfFloat32(v.Float32()), nil
	case protoreflect.DoubleKind:
		return protoreflect.ValueOfFloat64(v.Float64()), nil
	case protoreflect.StringKind:
		return protoreflect.ValueOfString(v.String()), nil
	case protoreflect.BytesKind:
		return protoreflect.ValueOfBytes(v.Bytes()), nil
	case protoreflect.EnumKind:
		return protoreflect.ValueOfEnum(v.Enum()), nil
	case protoreflect.MessageKind, protoreflect.GroupKind:
		nested := dynamicpb.NewMessage(fd.Message())
		if err := v.Message().ConvertTo(nested); err != nil {
			return protoreflect.Value{}, err
		}
		return protoreflect.ValueOfMessage(nested), nil
	default:
		return protoreflect.Value{}, fmt.Errorf("unknown field kind: %v", fd.Kind())
	}
}

func mapKeyToProtoreflect(k MapKey) protoreflect.MapKey {
	switch v := k.v.(type) {
	case bool:
		return protoreflect.ValueOfBool(v).MapKey()
	case int32:
		return protoreflect.ValueOfInt32(v).MapKey()
	case int64:
		return protoreflect.ValueOfInt64(v).MapKey()
	case uint32:
		return protoreflect.ValueOfUint32(v).MapKey()
	case uint64:
		return protoreflect.ValueOfUint64(v).MapKey()
	case string:
		return protoreflect.ValueOfString(v).MapKey()
	default:
		panic(fmt.Sprintf("invalid map key kind: %T", k.v))
	}
}

func valueFromProtoreflect(er *ExtensionRegistry, fd protoreflect.FieldDescriptor, val protoreflect.Value) (Value, error) {
	switch {
	case fd.IsMap():
		entries := map[MapKey]Value{}
		var cerr error
		val.Map().Range(func(mk protoreflect.MapKey, mv protoreflect.Value) bool {
			var elem Value
			elem, cerr = singularFromProtoreflect(er, fd.MapValue(), mv)
			if cerr != nil {
				return false
			}
			entries[mapKeyFromProtoreflect(fd.MapKey(), mk)] = elem
			return true
		})
		if cerr != nil {
			return Value{}, cerr
		}
		return ValueOfMap(entries), nil
	case fd.IsList():
		lv := val.List()
		list := make([]Value, lv.Len())
		for i := 0; i < lv.Len(); i++ {
			elem, err := singularFromProtoreflect(er, fd, lv.Get(i))
			if err != nil {
				return Value{}, err
			}
			list[i] = elem
		}
		return ValueOfList(list), nil
	default:
		return singularFromProtoreflect(er, fd, val)
	}
}

func singularFromProtoreflect(er *ExtensionRegistry, fd protoreflect.FieldDescriptor, val protoreflect.Value) (Value, error) {
	switch fd.Kind() {
	case protoreflect.BoolKind:
		return ValueOfBool(val.Bool()), nil
	case protoreflect.Int32Kind, protoreflect.Sint32Kind, protoreflect.Sfixed32Kind:
		return ValueOfInt32(int32(val.Int())), nil
	case protoreflect.Int64Kind, protoreflect.Sint64Kind, protoreflect.Sfixed64Kind:
		return ValueOfInt64(val.Int()), nil
	case protoreflect.Uint32Kind, protoreflect.Fixed32Kind:
		return ValueOfUint32(uint32(val.Uint())), nil
	case protoreflect.Uint64Kind, protoreflect.Fixed64Kind:
		return ValueOfUint64(val.Uint()), nil
	case protoreflect.FloatKind:
		return ValueOfFloat32(float32(val.Float())), nil
	case protoreflect.DoubleKind:
		return ValueOfFloat64(val.Float()), nil
	case protoreflect.StringKind:
		return ValueOfString(val.String()), nil
	case protoreflect.BytesKind:
		return ValueOfBytes(val.Bytes()), nil
	case protoreflect.EnumKind:
		return ValueOfEnum(val.Enum()), nil
	case protoreflect.MessageKind, protoreflect.GroupKind:
		nested := NewMessageWithExtensionRegistry(fd.Message(), er)
		if err := nested.ConvertFrom(val.Message()); err != nil {
			return Value{}, err
		}
		return ValueOfMessage(nested), nil
	default:
		return Value{}, fmt.Errorf("unknown field kind: %v", fd.Kind())
	}
}

func mapKeyFromProtoreflect(fd protoreflect.FieldDescriptor, mk protoreflect.MapKey) MapKey {
	switch fd.Kind() {
	case protoreflect.BoolKind:
		return ValueOfBool(mk.Bool()).MapKey()
	case protoreflect.Int32Kind, protoreflect.Sint32Kind, protoreflect.Sfixed32Kind:
		return ValueOfInt32(int32(mk.Int())).MapKey()
	case protoreflect.Int64Kind, protoreflect.Sint64Kind, protoreflect.Sfixed64Kind:
		return ValueOfInt64(mk.Int()).MapKey()
	case protoreflect.Uint32Kind, protoreflect.Fixed32Kind:
		return ValueOfUint32(uint32(mk.Uint())).MapKey()
	case protoreflect.Uint64Kind, protoreflect.Fixed64Kind:
		return ValueOfUint64(mk.Uint()).MapKey()
	case protoreflect.StringKind:
		return ValueOfString(mk.String()).MapKey()
	default:
		panic(fmt.Sprintf("invalid map key kind: %v", fd.Kind()))
	}
}

func appendUnknownField(raw []byte, number protoreflect.FieldNumber, uf UnknownField) []byte {
	raw = protowire.AppendTag(raw, number, uf.WireType)
	switch uf.WireType {
	case protowire.VarintType:
		return protowire.AppendVarint(raw, uf.Value)
	case protowire.Fixed32Type:
		return protowire.AppendFixed32(raw, uint32(uf.Value))
	case protowire.Fixed64Type:
		return protowire.AppendFixed64(raw, uf.Value)
	case protowire.BytesType:
		return protowire.AppendBytes(raw, uf.Contents)
	case protowire.StartGroupType:
		raw = append(raw, uf.Contents...)
		return protowire.AppendTag(raw, number, protowire.EndGroupType)
	default:
		panic(fmt.Sprintf("invalid wire type: %v", uf.WireType))
	}
}

// addUnknownFromWire parses raw unknown-field bytes, as exposed by
// protoreflect.Message.GetUnknown, into individual store entries.
func (m *Message) addUnknownFromWire(raw []byte) error {
	for len(raw) > 0 {
		number, wireType, n := protowire.ConsumeTag(raw)
		if n < 0 {
			return protowire.ParseError(n)
		}
		raw = raw[n:]
		uf := UnknownField{WireType: wireType}
		switch wireType {
		case protowire.VarintType:
			uf.Value, n = protowire.ConsumeVarint(raw)
		case protowire.Fixed32Type:
			var v uint32
			v, n = protowire.ConsumeFixed32(raw)
			uf.Value = uint64(v)
		case protowire.Fixed64Type:
			uf.Value, n = protowire.ConsumeFixed64(raw)
		case protowire.BytesType:
			var b []byte
			b, n = protowire.ConsumeBytes(raw)
			uf.Contents = append([]byte(nil), b...)
		case protowire.StartGroupType:
			var b []byte
			b, n = protowire.ConsumeGroup(number, raw)
			uf.Contents = append([]byte(nil), b...)
		default:
			return fmt.Errorf("invalid wire type %v for field number %d", wireType, number)
		}
		if n < 0 {
			return protowire.ParseError(n)
		}
		raw = raw[n:]
		m.AddUnknownField(number, uf)
	}
	return nil
}
