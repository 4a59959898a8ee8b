package dynamic

import "errors"

var (
	// ErrUnknownTagNumber is returned when a field is addressed by a tag
	// number that matches no declared field or known extension.
	ErrUnknownTagNumber = errors.New("unknown tag number")

	// ErrNumericOverflow is returned when a JSON number does not fit the
	// declared integer kind of its field.
	ErrNumericOverflow = errors.New("numeric value is out of range")

	// ErrDurationOutOfRange is returned when a google.protobuf.Duration is
	// outside the representable range of +/-315576000000 seconds and
	// +/-999999999 nanoseconds.
	ErrDurationOutOfRange = errors.New("duration out of range")

	// ErrTimestampOutOfRange is returned when a google.protobuf.Timestamp is
	// outside the range of years 0001 to 9999 inclusive.
	ErrTimestampOutOfRange = errors.New("timestamp out of range")

	// ErrUnknownFieldName is returned during JSON deserialization when an
	// object key matches no field or extension and unknown fields are denied.
	ErrUnknownFieldName = errors.New("unknown field name")

	// ErrAmbiguousOneof is returned during JSON deserialization when two
	// object keys resolve to members of the same oneof.
	ErrAmbiguousOneof = errors.New("multiple values for oneof")
)
