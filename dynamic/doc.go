// Package dynamic provides a dynamic protobuf message: a message whose shape
// is known only at runtime, described by a protoreflect.MessageDescriptor
// instead of a generated struct.
//
// A *Message holds field values in a store keyed by field number. The store
// enforces protobuf structural invariants: oneof exclusivity, field presence
// semantics, extension fields, and verbatim preservation of unknown fields
// observed during decoding. Values are represented by the Value tagged union.
//
// The package also implements the canonical protobuf JSON mapping in both
// directions, including the bespoke encodings of the well-known types
// (Duration, Timestamp, Any, the wrapper types, Struct/Value/ListValue,
// FieldMask, and Empty).
//
// Messages are not thread-safe: each *Message is intended to be owned by a
// single goroutine. Descriptors are immutable and may be shared freely.
package dynamic
