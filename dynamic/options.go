package dynamic

import (
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/reflect/protoregistry"
)

// MarshalJSONOptions controls serialization to the canonical JSON mapping.
// The zero value produces canonical output: single-line, default-valued
// fields omitted, enums by name, 64-bit integers as strings.
type MarshalJSONOptions struct {
	// Indent produces multi-line output with two-space indentation.
	Indent bool

	// EmitDefaults serializes every declared field, including fields that
	// are not present, using their default values.
	EmitDefaults bool

	// EnumsAsInts serializes enum values as their numeric value instead of
	// the declared name. It also permits serializing numbers that have no
	// declared name, which is otherwise an error.
	EnumsAsInts bool

	// OrigName uses the field name from the proto file instead of the
	// lowerCamelCase JSON name.
	OrigName bool

	// Int64sAsNumbers serializes 64-bit integer kinds as JSON numbers. The
	// canonical mapping encodes them as strings to avoid precision loss in
	// readers that store all numbers as doubles.
	Int64sAsNumbers bool

	// AnyResolver resolves google.protobuf.Any type URLs to message
	// descriptors. When nil, the global type registry is used.
	AnyResolver Resolver
}

// UnmarshalJSONOptions controls deserialization from the canonical JSON
// mapping. The zero value follows the canonical mapping strictly: unknown
// object keys are rejected.
type UnmarshalJSONOptions struct {
	// AllowUnknownFields discards object keys that match no declared field
	// or known extension instead of failing.
	AllowUnknownFields bool

	// AnyResolver resolves google.protobuf.Any type URLs to message
	// descriptors. When nil, the global type registry is used.
	AnyResolver Resolver
}

// Resolver resolves google.protobuf.Any type URLs to message descriptors.
// The URL is resolved by its type name: the fragment after the last slash.
type Resolver interface {
	FindMessageByURL(url string) (protoreflect.MessageDescriptor, error)
}

func (opts *MarshalJSONOptions) resolver() Resolver {
	if opts.AnyResolver != nil {
		return opts.AnyResolver
	}
	return globalResolver{}
}

func (opts *UnmarshalJSONOptions) resolver() Resolver {
	if opts.AnyResolver != nil {
		return opts.AnyResolver
	}
	return globalResolver{}
}

type globalResolver struct{}

func (globalResolver) FindMessageByURL(url string) (protoreflect.MessageDescriptor, error) {
	mt, err := protoregistry.GlobalTypes.FindMessageByURL(url)
	if err != nil {
		return nil, err
	}
	return mt.Descriptor(), nil
}

// FilesResolver adapts a protoregistry.Files to the Resolver interface, so
// that runtime-compiled schemas can serve Any payload lookups.
type FilesResolver struct {
	Files *protoregistry.Files
}

// FindMessageByURL implements Resolver.
func (r FilesResolver) FindMessageByURL(url string) (protoreflect.MessageDescriptor, error) {
	name := url
	for i := len(url) - 1; i >= 0; i-- {
		if url[i] == '/' {
			name = url[i+1:]
			break
		}
	}
	d, err := r.Files.FindDescriptorByName(protoreflect.FullName(name))
	if err != nil {
		return nil, err
	}
	md, ok := d.(protoreflect.MessageDescriptor)
	if !ok {
		return nil, protoregistry.NotFound
	}
	return md, nil
}
