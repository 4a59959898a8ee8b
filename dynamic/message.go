package dynamic

import (
	"fmt"

	"google.golang.org/protobuf/reflect/protoreflect"
)

// Message is a dynamic protobuf message. It pairs a message descriptor with
// a store of field values keyed by field number and enforces the structural
// invariants of the protobuf data model: at most one member of a oneof is
// populated, presence follows the field's declared semantics, and field
// numbers observed on the wire but absent from the schema are preserved
// verbatim as unknown fields.
//
// Most accessors come in two forms, like the familiar reflection APIs: a
// panic form (SetField) for descriptors the caller knows to be correct, and
// a Try form (TrySetField) that reports descriptor mismatches as errors.
type Message struct {
	md          protoreflect.MessageDescriptor
	er          *ExtensionRegistry
	fields      fieldSet
	extraFields map[protoreflect.FieldNumber]protoreflect.FieldDescriptor
}

// NewMessage creates an empty message of the type described by md.
func NewMessage(md protoreflect.MessageDescriptor) *Message {
	return NewMessageWithExtensionRegistry(md, nil)
}

// NewMessageWithExtensionRegistry creates an empty message of the type
// described by md. The registry, which may be nil, is consulted when
// resolving extension fields by name or number, including in nested messages
// created during deserialization.
func NewMessageWithExtensionRegistry(md protoreflect.MessageDescriptor, er *ExtensionRegistry) *Message {
	return &Message{md: md, er: er}
}

// Descriptor returns the descriptor of the message's type.
func (m *Message) Descriptor() protoreflect.MessageDescriptor {
	return m.md
}

// checkField verifies that fd actually describes a field of this message
// type. Extensions must extend this type and fall inside one of its
// extension ranges.
func (m *Message) checkField(fd protoreflect.FieldDescriptor) error {
	if fd.ContainingMessage().FullName() != m.md.FullName() {
		return fmt.Errorf("field %s belongs to message %s, not %s",
			fd.FullName(), fd.ContainingMessage().FullName(), m.md.FullName())
	}
	if fd.IsExtension() && !m.md.ExtensionRanges().Has(fd.Number()) {
		return fmt.Errorf("extension %s has tag %d outside the extension ranges of %s",
			fd.FullName(), fd.Number(), m.md.FullName())
	}
	return nil
}

// HasField reports whether the field described by fd is present, panicking
// if fd does not describe a field of this message type.
func (m *Message) HasField(fd protoreflect.FieldDescriptor) bool {
	has, err := m.TryHasField(fd)
	if err != nil {
		panic(err.Error())
	}
	return has
}

// TryHasField reports whether the field described by fd is present.
func (m *Message) TryHasField(fd protoreflect.FieldDescriptor) (bool, error) {
	if err := m.checkField(fd); err != nil {
		return false, err
	}
	return m.fields.has(wrapFieldDescriptor(fd)), nil
}

// GetField returns the value of the field described by fd, or the field's
// default value if it is absent. It panics if fd does not describe a field
// of this message type.
func (m *Message) GetField(fd protoreflect.FieldDescriptor) Value {
	v, err := m.TryGetField(fd)
	if err != nil {
		panic(err.Error())
	}
	return v
}

// TryGetField returns the value of the field described by fd, or the
// field's default value if it is absent. The returned value may alias the
// stored one; use MutableField to modify a field in place.
func (m *Message) TryGetField(fd protoreflect.FieldDescriptor) (Value, error) {
	if err := m.checkField(fd); err != nil {
		return Value{}, err
	}
	return m.fields.get(wrapFieldDescriptor(fd)), nil
}

// GetFieldByNumber is like GetField but addresses the field by tag number,
// resolving extensions through the message's extension registry.
func (m *Message) GetFieldByNumber(number protoreflect.FieldNumber) (Value, error) {
	desc := m.findFieldByNumber(number)
	if desc == nil {
		return Value{}, fmt.Errorf("%w: %d in message %s", ErrUnknownTagNumber, number, m.md.FullName())
	}
	return m.fields.get(desc), nil
}

// SetField stores v as the value of the field described by fd, clearing any
// sibling fields of the same oneof. It panics if fd does not describe a
// field of this message type or if v is not a valid value for fd.
func (m *Message) SetField(fd protoreflect.FieldDescriptor, v Value) {
	if err := m.TrySetField(fd, v); err != nil {
		panic(err.Error())
	}
}

// TrySetField stores v as the value of the field described by fd, clearing
// any sibling fields of the same oneof.
func (m *Message) TrySetField(fd protoreflect.FieldDescriptor, v Value) error {
	if err := m.checkField(fd); err != nil {
		return err
	}
	desc := wrapFieldDescriptor(fd)
	if !desc.IsValidValue(v) {
		return fmt.Errorf("invalid value of type %T for field %s", v.v, fd.FullName())
	}
	m.setField(desc, v)
	return nil
}

// SetFieldByNumber is like TrySetField but addresses the field by tag
// number, resolving extensions through the message's extension registry.
func (m *Message) SetFieldByNumber(number protoreflect.FieldNumber, v Value) error {
	desc := m.findFieldByNumber(number)
	if desc == nil {
		return fmt.Errorf("%w: %d in message %s", ErrUnknownTagNumber, number, m.md.FullName())
	}
	if !desc.IsValidValue(v) {
		return fmt.Errorf("invalid value of type %T for field %s", v.v, desc.Descriptor().FullName())
	}
	m.setField(desc, v)
	return nil
}

func (m *Message) setField(desc fieldDescriptorLike, v Value) {
	m.fields.set(desc, v)
	m.rememberExtension(desc)
}

// MutableField returns a pointer to the value of the field described by fd,
// creating it with the field's default value if absent (discarding any raw
// unknown entries at the same number). Sibling oneof fields are cleared.
// After this call the field is present whenever it has explicit presence.
// It panics if fd does not describe a field of this message type.
func (m *Message) MutableField(fd protoreflect.FieldDescriptor) *Value {
	v, err := m.TryMutableField(fd)
	if err != nil {
		panic(err.Error())
	}
	return v
}

// TryMutableField returns a pointer to the value of the field described by
// fd, creating it with the field's default value if absent.
func (m *Message) TryMutableField(fd protoreflect.FieldDescriptor) (*Value, error) {
	if err := m.checkField(fd); err != nil {
		return nil, err
	}
	desc := wrapFieldDescriptor(fd)
	v := m.fields.mutable(desc)
	m.rememberExtension(desc)
	return v, nil
}

// ClearField removes the entry for the field described by fd, whether it
// holds a decoded value or raw unknown entries. It panics if fd does not
// describe a field of this message type.
func (m *Message) ClearField(fd protoreflect.FieldDescriptor) {
	if err := m.TryClearField(fd); err != nil {
		panic(err.Error())
	}
}

// TryClearField removes the entry for the field described by fd.
func (m *Message) TryClearField(fd protoreflect.FieldDescriptor) error {
	if err := m.checkField(fd); err != nil {
		return err
	}
	m.fields.clear(wrapFieldDescriptor(fd))
	return nil
}

// AddUnknownField appends one raw wire entry at the given field number,
// creating the unknown-field list if absent. It panics if the number already
// holds a decoded value: the decoder must not classify a number as unknown
// after decoding it, or vice versa.
func (m *Message) AddUnknownField(number protoreflect.FieldNumber, unknown UnknownField) {
	m.fields.addUnknown(number, unknown)
}

// UnknownFields returns the raw entries recorded at the given field number,
// in insertion order, or nil if the number holds no unknown entries.
func (m *Message) UnknownFields(number protoreflect.FieldNumber) []UnknownField {
	if e := m.fields.entries[number]; e != nil {
		return e.unknown
	}
	return nil
}

// Range calls fn for each present field, in ascending field number order.
// Extension fields use their extension descriptor. Iteration stops early if
// fn returns false. Unknown fields are not visited; see RangeUnknownFields.
//
// Range panics if the store contains a decoded value at a number that
// matches neither a declared field nor a known extension, which indicates
// the message was manipulated with descriptors of a different message type.
func (m *Message) Range(fn func(fd protoreflect.FieldDescriptor, v Value) bool) {
	m.fields.iterate(
		m.findFieldByNumber,
		func(desc fieldDescriptorLike, v Value) bool { return fn(desc.Descriptor(), v) },
		func(protoreflect.FieldNumber, []UnknownField) bool { return true },
	)
}

// RangeUnknownFields calls fn for each field number holding raw unknown
// entries, in ascending number order. Iteration stops early if fn returns
// false.
func (m *Message) RangeUnknownFields(fn func(number protoreflect.FieldNumber, entries []UnknownField) bool) {
	m.fields.iterate(
		m.findFieldByNumber,
		func(fieldDescriptorLike, Value) bool { return true },
		fn,
	)
}

// Reset restores the message to empty, removing all decoded values, unknown
// fields, and remembered extension descriptors.
func (m *Message) Reset() {
	m.fields.clearAll()
	m.extraFields = nil
}

// Equal reports whether m and other are messages of the same type with the
// same present fields and the same unknown fields.
func (m *Message) Equal(other *Message) bool {
	if m == nil || other == nil {
		return m == nil && other == nil
	}
	if m.md.FullName() != other.md.FullName() {
		return false
	}
	return m.presentFieldsEqual(other) && other.presentFieldsEqual(m)
}

func (m *Message) presentFieldsEqual(other *Message) bool {
	equal := true
	m.fields.iterate(
		m.findFieldByNumber,
		func(desc fieldDescriptorLike, v Value) bool {
			otherValue := other.fields.getValue(desc.Number())
			if otherValue == nil || !hasValue(desc, *otherValue) || !v.Equal(*otherValue) {
				equal = false
			}
			return equal
		},
		func(number protoreflect.FieldNumber, entries []UnknownField) bool {
			otherEntries := other.UnknownFields(number)
			if len(entries) != len(otherEntries) {
				equal = false
				return false
			}
			for i := range entries {
				if !entries[i].Equal(otherEntries[i]) {
					equal = false
					return false
				}
			}
			return true
		},
	)
	return equal
}

// rememberExtension records the descriptor of an extension field that was
// written, so that later iteration can resolve its number.
func (m *Message) rememberExtension(desc fieldDescriptorLike) {
	fd := desc.Descriptor()
	if !fd.IsExtension() {
		return
	}
	if m.extraFields == nil {
		m.extraFields = map[protoreflect.FieldNumber]protoreflect.FieldDescriptor{}
	}
	m.extraFields[fd.Number()] = fd
}

// findFieldByNumber resolves a tag number to a declared field, a remembered
// extension, or a registry extension, in that order.
func (m *Message) findFieldByNumber(number protoreflect.FieldNumber) fieldDescriptorLike {
	if fd := m.md.Fields().ByNumber(number); fd != nil {
		return fieldDesc{fd: fd}
	}
	if fd, ok := m.extraFields[number]; ok {
		return extensionDesc{fd: fd}
	}
	if fd := m.er.FindExtension(m.md.FullName(), number); fd != nil {
		return extensionDesc{fd: fd}
	}
	return nil
}

// findFieldByName resolves a JSON object key to a declared field. Both the
// lowerCamelCase JSON name and the literal proto name are accepted.
func (m *Message) findFieldByName(name string) protoreflect.FieldDescriptor {
	fields := m.md.Fields()
	if fd := fields.ByJSONName(name); fd != nil {
		return fd
	}
	return fields.ByName(protoreflect.Name(name))
}
