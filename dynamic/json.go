package dynamic

// Serialization of dynamic messages to the canonical protobuf JSON mapping.

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"

	"google.golang.org/protobuf/reflect/protoreflect"
)

// MarshalJSON serializes the message using the canonical JSON mapping with
// default options.
func (m *Message) MarshalJSON() ([]byte, error) {
	return m.MarshalJSONWithOptions(MarshalJSONOptions{})
}

// MarshalJSONIndent is like MarshalJSON but produces multi-line output.
func (m *Message) MarshalJSONIndent() ([]byte, error) {
	return m.MarshalJSONWithOptions(MarshalJSONOptions{Indent: true})
}

// MarshalJSONWithOptions serializes the message using the canonical JSON
// mapping as adjusted by opts.
func (m *Message) MarshalJSONWithOptions(opts MarshalJSONOptions) ([]byte, error) {
	var b indentBuffer
	if !opts.Indent {
		b.indent = -1
	}
	if err := marshalMessage(&b, m, &opts); err != nil {
		return nil, err
	}
	return b.Bytes(), nil
}

func marshalMessage(b *indentBuffer, m *Message, opts *MarshalJSONOptions) error {
	if isWellKnownType(m.md.FullName()) {
		return marshalWellKnownType(b, m, opts)
	}

	if err := b.WriteByte('{'); err != nil {
		return err
	}
	if err := b.start(); err != nil {
		return err
	}

	first := true
	if err := marshalMessageBody(b, m, opts, &first); err != nil {
		return err
	}

	if err := b.end(); err != nil {
		return err
	}
	return b.WriteByte('}')
}

// marshalMessageBody writes the object members for m's fields, without the
// surrounding braces. The Any codec reuses it to inline payload fields after
// the "@type" member.
func marshalMessageBody(b *indentBuffer, m *Message, opts *MarshalJSONOptions, first *bool) error {
	var ferr error
	emit := func(desc fieldDescriptorLike, v Value) bool {
		if ferr = b.maybeNext(first); ferr != nil {
			return false
		}
		if ferr = marshalField(b, desc.Descriptor(), v, opts); ferr != nil {
			return false
		}
		return true
	}

	if opts.EmitDefaults {
		marshalAllFields(m, emit)
	} else {
		m.fields.iterate(m.findFieldByNumber, emit,
			func(protoreflect.FieldNumber, []UnknownField) bool { return true })
	}
	return ferr
}

// marshalAllFields visits every declared field plus any present extensions,
// in ascending field number order, substituting default values for absent
// fields. Absent oneof members and absent extensions are still skipped
// (synthetic oneofs, the representation of proto3 optional, do not count),
// and absent message-typed fields yield a nil message: a message field has
// no default value, and the schema may be recursive.
func marshalAllFields(m *Message, emit func(desc fieldDescriptorLike, v Value) bool) {
	seen := map[protoreflect.FieldNumber]struct{}{}
	numbers := make([]protoreflect.FieldNumber, 0, m.md.Fields().Len()+len(m.fields.entries))
	flds := m.md.Fields()
	for i := 0; i < flds.Len(); i++ {
		numbers = append(numbers, flds.Get(i).Number())
		seen[flds.Get(i).Number()] = struct{}{}
	}
	for number, e := range m.fields.entries {
		if e.value == nil {
			continue
		}
		if _, ok := seen[number]; !ok {
			numbers = append(numbers, number)
		}
	}
	sort.Slice(numbers, func(i, j int) bool { return numbers[i] < numbers[j] })

	for _, number := range numbers {
		desc := m.findFieldByNumber(number)
		if desc == nil {
			panic(fmt.Sprintf("no field or extension with number %d", number))
		}
		v := m.fields.getValue(number)
		od := desc.ContainingOneof()
		switch {
		case v != nil && hasValue(desc, *v):
			if !emit(desc, *v) {
				return
			}
		case desc.Descriptor().IsExtension() || (od != nil && !od.IsSynthetic()):
			// absent extensions and unset oneof members stay omitted
		case isSingularMessage(desc):
			if !emit(desc, ValueOfMessage(nil)) {
				return
			}
		default:
			if !emit(desc, desc.DefaultValue()) {
				return
			}
		}
	}
}

func isSingularMessage(desc fieldDescriptorLike) bool {
	return !desc.IsList() && !desc.IsMap() &&
		(desc.Kind() == protoreflect.MessageKind || desc.Kind() == protoreflect.GroupKind)
}

func marshalField(b *indentBuffer, fd protoreflect.FieldDescriptor, v Value, opts *MarshalJSONOptions) error {
	var name string
	switch {
	case fd.IsExtension():
		name = "[" + string(fd.FullName()) + "]"
	case opts.OrigName:
		name = string(fd.Name())
	default:
		name = fd.JSONName()
	}
	if err := writeJSONString(b, name); err != nil {
		return err
	}
	if err := b.sep(); err != nil {
		return err
	}
	if err := marshalFieldValue(b, fd, v, opts); err != nil {
		return fmt.Errorf("field %s: %w", fd.FullName(), err)
	}
	return nil
}

func marshalFieldValue(b *indentBuffer, fd protoreflect.FieldDescriptor, v Value, opts *MarshalJSONOptions) error {
	switch {
	case fd.IsMap():
		if err := b.WriteByte('{'); err != nil {
			return err
		}
		if err := b.start(); err != nil {
			return err
		}
		entries := v.Map()
		first := true
		for _, key := range sortedMapKeys(entries) {
			if err := b.maybeNext(&first); err != nil {
				return err
			}
			if err := writeJSONString(b, mapKeyString(key)); err != nil {
				return err
			}
			if err := b.sep(); err != nil {
				return err
			}
			if err := marshalSingular(b, fd.MapValue(), entries[key], opts); err != nil {
				return err
			}
		}
		if err := b.end(); err != nil {
			return err
		}
		return b.WriteByte('}')

	case fd.IsList():
		if err := b.WriteByte('['); err != nil {
			return err
		}
		if err := b.start(); err != nil {
			return err
		}
		first := true
		for _, elem := range v.List() {
			if err := b.maybeNext(&first); err != nil {
				return err
			}
			if err := marshalSingular(b, fd, elem, opts); err != nil {
				return err
			}
		}
		if err := b.end(); err != nil {
			return err
		}
		return b.WriteByte(']')

	default:
		return marshalSingular(b, fd, v, opts)
	}
}

func marshalSingular(b *indentBuffer, fd protoreflect.FieldDescriptor, v Value, opts *MarshalJSONOptions) error {
	switch fd.Kind() {
	case protoreflect.BoolKind:
		_, err := b.WriteString(strconv.FormatBool(v.Bool()))
		return err

	case protoreflect.Int32Kind, protoreflect.Sint32Kind, protoreflect.Sfixed32Kind:
		_, err := b.WriteString(strconv.FormatInt(int64(v.Int32()), 10))
		return err

	case protoreflect.Int64Kind, protoreflect.Sint64Kind, protoreflect.Sfixed64Kind:
		s := strconv.FormatInt(v.Int64(), 10)
		if opts.Int64sAsNumbers {
			_, err := b.WriteString(s)
			return err
		}
		return writeJSONString(b, s)

	case protoreflect.Uint32Kind, protoreflect.Fixed32Kind:
		_, err := b.WriteString(strconv.FormatUint(uint64(v.Uint32()), 10))
		return err

	case protoreflect.Uint64Kind, protoreflect.Fixed64Kind:
		s := strconv.FormatUint(v.Uint64(), 10)
		if opts.Int64sAsNumbers {
			_, err := b.WriteString(s)
			return err
		}
		return writeJSONString(b, s)

	case protoreflect.FloatKind:
		return marshalFloat(b, float64(v.Float32()), 32)

	case protoreflect.DoubleKind:
		return marshalFloat(b, v.Float64(), 64)

	case protoreflect.StringKind:
		return writeJSONString(b, v.String())

	case protoreflect.BytesKind:
		return writeJSONString(b, base64.StdEncoding.EncodeToString(v.Bytes()))

	case protoreflect.EnumKind:
		return marshalEnum(b, fd, v.Enum(), opts)

	case protoreflect.MessageKind, protoreflect.GroupKind:
		msg := v.Message()
		if msg == nil {
			_, err := b.WriteString("null")
			return err
		}
		return marshalMessage(b, msg, opts)

	default:
		return fmt.Errorf("unknown field kind: %v", fd.Kind())
	}
}

func marshalEnum(b *indentBuffer, fd protoreflect.FieldDescriptor, n protoreflect.EnumNumber, opts *MarshalJSONOptions) error {
	ed := fd.Enum()
	if ed.FullName() == "google.protobuf.NullValue" {
		_, err := b.WriteString("null")
		return err
	}
	if opts.EnumsAsInts {
		_, err := b.WriteString(strconv.FormatInt(int64(n), 10))
		return err
	}
	vd := ed.Values().ByNumber(n)
	if vd == nil {
		return fmt.Errorf("enum %s has no value with number %d", ed.FullName(), n)
	}
	return writeJSONString(b, string(vd.Name()))
}

func marshalFloat(b *indentBuffer, f float64, bits int) error {
	switch {
	case math.IsNaN(f):
		return writeJSONString(b, "NaN")
	case math.IsInf(f, 1):
		return writeJSONString(b, "Infinity")
	case math.IsInf(f, -1):
		return writeJSONString(b, "-Infinity")
	default:
		_, err := b.WriteString(strconv.FormatFloat(f, 'g', -1, bits))
		return err
	}
}

func mapKeyString(k MapKey) string {
	switch v := k.v.(type) {
	case bool:
		return strconv.FormatBool(v)
	case int32:
		return strconv.FormatInt(int64(v), 10)
	case int64:
		return strconv.FormatInt(v, 10)
	case uint32:
		return strconv.FormatUint(uint64(v), 10)
	case uint64:
		return strconv.FormatUint(v, 10)
	case string:
		return v
	default:
		panic(fmt.Sprintf("invalid map key kind: %T", k.v))
	}
}

func writeJSONString(b *indentBuffer, s string) error {
	sbytes, err := json.Marshal(s)
	if err != nil {
		return err
	}
	_, err = b.Write(sbytes)
	return err
}
