package dynamic

import "google.golang.org/protobuf/encoding/protowire"

// UnknownField is a single occurrence of a field that was present on the
// wire but not recognized by the schema used to decode it. The store keeps
// unknown fields verbatim so that re-encoding a message preserves them.
type UnknownField struct {
	// WireType indicates how the field was encoded. For protowire.BytesType
	// and protowire.StartGroupType the payload is in Contents; for
	// protowire.Fixed32Type it is the low 32 bits of Value; otherwise it is
	// all of Value.
	WireType protowire.Type
	Contents []byte
	Value    uint64
}

// Equal reports whether u and other are the same wire entry.
func (u UnknownField) Equal(other UnknownField) bool {
	if u.WireType != other.WireType || u.Value != other.Value {
		return false
	}
	if len(u.Contents) != len(other.Contents) {
		return false
	}
	for i := range u.Contents {
		if u.Contents[i] != other.Contents[i] {
			return false
		}
	}
	return true
}
