package dynamic

import (
	"fmt"
	"sort"

	"google.golang.org/protobuf/reflect/protoreflect"
)

// fieldDescriptorLike is the capability surface the field store needs from a
// descriptor. It is implemented once for ordinary fields and once for
// extensions, so the store's logic never special-cases the two.
type fieldDescriptorLike interface {
	Number() protoreflect.FieldNumber
	Kind() protoreflect.Kind
	IsList() bool
	IsMap() bool
	DefaultValue() Value
	IsDefaultValue(v Value) bool
	IsValidValue(v Value) bool
	ContainingOneof() protoreflect.OneofDescriptor
	SupportsPresence() bool
	// Descriptor returns the underlying protoreflect descriptor.
	Descriptor() protoreflect.FieldDescriptor
}

// hasValue reports whether a stored value counts as present for the given
// descriptor: fields with explicit presence are present whenever an entry
// exists, fields with implicit presence only when the value differs from the
// default.
func hasValue(desc fieldDescriptorLike, v Value) bool {
	return desc.SupportsPresence() || !desc.IsDefaultValue(v)
}

type fieldDesc struct {
	fd protoreflect.FieldDescriptor
}

func (d fieldDesc) Number() protoreflect.FieldNumber              { return d.fd.Number() }
func (d fieldDesc) Kind() protoreflect.Kind                       { return d.fd.Kind() }
func (d fieldDesc) IsList() bool                                  { return d.fd.IsList() }
func (d fieldDesc) IsMap() bool                                   { return d.fd.IsMap() }
func (d fieldDesc) DefaultValue() Value                           { return defaultFieldValue(d.fd) }
func (d fieldDesc) IsDefaultValue(v Value) bool                   { return isDefaultFieldValue(d.fd, v) }
func (d fieldDesc) IsValidValue(v Value) bool                     { return isValidFieldValue(d.fd, v) }
func (d fieldDesc) ContainingOneof() protoreflect.OneofDescriptor { return d.fd.ContainingOneof() }
func (d fieldDesc) SupportsPresence() bool                        { return d.fd.HasPresence() }
func (d fieldDesc) Descriptor() protoreflect.FieldDescriptor      { return d.fd }

type extensionDesc struct {
	fd protoreflect.FieldDescriptor
}

func (d extensionDesc) Number() protoreflect.FieldNumber { return d.fd.Number() }
func (d extensionDesc) Kind() protoreflect.Kind          { return d.fd.Kind() }
func (d extensionDesc) IsList() bool                     { return d.fd.IsList() }
func (d extensionDesc) IsMap() bool                      { return d.fd.IsMap() }
func (d extensionDesc) DefaultValue() Value              { return defaultFieldValue(d.fd) }
func (d extensionDesc) IsDefaultValue(v Value) bool      { return isDefaultFieldValue(d.fd, v) }
func (d extensionDesc) IsValidValue(v Value) bool        { return isValidFieldValue(d.fd, v) }

// Extensions are never members of a oneof.
func (d extensionDesc) ContainingOneof() protoreflect.OneofDescriptor { return nil }

func (d extensionDesc) SupportsPresence() bool                   { return d.fd.HasPresence() }
func (d extensionDesc) Descriptor() protoreflect.FieldDescriptor { return d.fd }

// wrapFieldDescriptor selects the capability variant for fd.
func wrapFieldDescriptor(fd protoreflect.FieldDescriptor) fieldDescriptorLike {
	if fd.IsExtension() {
		return extensionDesc{fd: fd}
	}
	return fieldDesc{fd: fd}
}

// fieldEntry is one slot of the store: either a decoded value or a list of
// raw unknown wire entries, never both. The value pointer being non-nil
// means decoded.
type fieldEntry struct {
	value   *Value
	unknown []UnknownField
}

// fieldSet maps field numbers to entries. Iteration is in ascending field
// number order. The zero fieldSet is empty and ready to use.
type fieldSet struct {
	entries map[protoreflect.FieldNumber]*fieldEntry
}

func (s *fieldSet) getValue(number protoreflect.FieldNumber) *Value {
	if e := s.entries[number]; e != nil {
		return e.value
	}
	return nil
}

func (s *fieldSet) has(desc fieldDescriptorLike) bool {
	v := s.getValue(desc.Number())
	return v != nil && hasValue(desc, *v)
}

// get returns the decoded value for desc, or the descriptor's default value
// when no decoded entry exists. The returned value may alias the stored one;
// use mutable to modify a field in place.
func (s *fieldSet) get(desc fieldDescriptorLike) Value {
	if v := s.getValue(desc.Number()); v != nil {
		return *v
	}
	return desc.DefaultValue()
}

// mutable returns a pointer to the decoded value for desc, creating the slot
// with the descriptor's default value if it is absent or currently holds raw
// unknown entries (which are discarded). Sibling oneof fields are cleared
// first.
func (s *fieldSet) mutable(desc fieldDescriptorLike) *Value {
	s.clearOneofSiblings(desc)
	if s.entries == nil {
		s.entries = map[protoreflect.FieldNumber]*fieldEntry{}
	}
	e := s.entries[desc.Number()]
	if e == nil {
		def := desc.DefaultValue()
		e = &fieldEntry{value: &def}
		s.entries[desc.Number()] = e
	} else if e.value == nil {
		def := desc.DefaultValue()
		e.value = &def
		e.unknown = nil
	}
	return e.value
}

// set stores v as the decoded value for desc, overwriting any existing entry
// (decoded or unknown) and clearing sibling oneof fields. The value must be
// valid for desc; passing an invalid value is a bug in the caller.
func (s *fieldSet) set(desc fieldDescriptorLike, v Value) {
	if !desc.IsValidValue(v) {
		panic(fmt.Sprintf("invalid value of type %T for field %s", v.v, desc.Descriptor().FullName()))
	}
	s.clearOneofSiblings(desc)
	if s.entries == nil {
		s.entries = map[protoreflect.FieldNumber]*fieldEntry{}
	}
	s.entries[desc.Number()] = &fieldEntry{value: &v}
}

func (s *fieldSet) clearOneofSiblings(desc fieldDescriptorLike) {
	od := desc.ContainingOneof()
	if od == nil {
		return
	}
	fields := od.Fields()
	for i := 0; i < fields.Len(); i++ {
		if other := fields.Get(i); other.Number() != desc.Number() {
			delete(s.entries, other.Number())
		}
	}
}

func (s *fieldSet) clear(desc fieldDescriptorLike) {
	delete(s.entries, desc.Number())
}

// addUnknown appends one raw wire entry at the given number. The decoder
// must never report a number it has already decoded; a decoded entry at the
// same number is an invariant violation.
func (s *fieldSet) addUnknown(number protoreflect.FieldNumber, unknown UnknownField) {
	if s.entries == nil {
		s.entries = map[protoreflect.FieldNumber]*fieldEntry{}
	}
	e := s.entries[number]
	if e == nil {
		s.entries[number] = &fieldEntry{unknown: []UnknownField{unknown}}
		return
	}
	if e.value != nil {
		panic(fmt.Sprintf("field number %d already has a decoded value", number))
	}
	e.unknown = append(e.unknown, unknown)
}

func (s *fieldSet) clearAll() {
	s.entries = nil
}

func (s *fieldSet) sortedNumbers() []protoreflect.FieldNumber {
	numbers := make([]protoreflect.FieldNumber, 0, len(s.entries))
	for number := range s.entries {
		numbers = append(numbers, number)
	}
	sort.Slice(numbers, func(i, j int) bool { return numbers[i] < numbers[j] })
	return numbers
}

// iterate walks entries in ascending field number order. Decoded entries are
// resolved to a descriptor via lookup and yielded only when present; raw
// entries are yielded as-is. A decoded number that lookup cannot resolve
// means the store and the descriptor it is being iterated against do not
// belong to the same message type, which is a caller bug.
func (s *fieldSet) iterate(
	lookup func(number protoreflect.FieldNumber) fieldDescriptorLike,
	field func(desc fieldDescriptorLike, v Value) bool,
	unknown func(number protoreflect.FieldNumber, entries []UnknownField) bool,
) {
	for _, number := range s.sortedNumbers() {
		e := s.entries[number]
		if e.value == nil {
			if !unknown(number, e.unknown) {
				return
			}
			continue
		}
		desc := lookup(number)
		if desc == nil {
			panic(fmt.Sprintf("no field or extension with number %d", number))
		}
		if !hasValue(desc, *e.value) {
			continue
		}
		if !field(desc, *e.value) {
			return
		}
	}
}
