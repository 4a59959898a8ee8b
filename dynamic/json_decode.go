package dynamic

// Deserialization of dynamic messages from the canonical protobuf JSON
// mapping. Parsing is tolerant where the mapping requires it: integers are
// accepted as numbers or numeric strings, and fields can be addressed by
// either their lowerCamelCase JSON name or their proto name.

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/reflect/protoregistry"
)

// UnmarshalJSON resets the message and populates it from the canonical JSON
// encoding with default options.
func (m *Message) UnmarshalJSON(js []byte) error {
	return m.UnmarshalJSONWithOptions(js, UnmarshalJSONOptions{})
}

// UnmarshalJSONWithOptions resets the message and populates it from the
// canonical JSON encoding as adjusted by opts.
func (m *Message) UnmarshalJSONWithOptions(js []byte, opts UnmarshalJSONOptions) error {
	m.Reset()
	return m.unmarshalMergeJSON(js, &opts)
}

// UnmarshalMergeJSON is like UnmarshalJSON but merges into the existing
// contents of the message rather than resetting it first.
func (m *Message) UnmarshalMergeJSON(js []byte) error {
	return m.unmarshalMergeJSON(js, &UnmarshalJSONOptions{})
}

func (m *Message) unmarshalMergeJSON(js []byte, opts *UnmarshalJSONOptions) error {
	r := &jsReader{dec: json.NewDecoder(bytes.NewReader(js))}
	r.dec.UseNumber()
	if err := unmarshalMessage(r, m, opts); err != nil {
		return err
	}
	if t, err := r.poll(); err != io.EOF {
		rest, _ := io.ReadAll(r.dec.Buffered())
		return fmt.Errorf("superfluous data found after JSON value: %q", fmt.Sprintf("%v%s", t, rest))
	}
	return nil
}

func unmarshalMessage(r *jsReader, m *Message, opts *UnmarshalJSONOptions) error {
	if isWellKnownType(m.md.FullName()) {
		return unmarshalWellKnownType(r, m, opts)
	}

	t, err := r.peek()
	if err != nil {
		return err
	}
	if t == nil {
		// "null" leaves the message untouched
		_, _ = r.poll()
		return nil
	}

	if err := r.beginObject(); err != nil {
		return err
	}

	var seenOneofs map[protoreflect.FullName]protoreflect.Name
	for r.hasNext() {
		key, err := r.nextObjectKey()
		if err != nil {
			return err
		}
		fd := m.resolveJSONKey(key)
		if fd == nil {
			if opts.AllowUnknownFields {
				if err := r.skip(); err != nil {
					return err
				}
				continue
			}
			return fmt.Errorf("%w: %q in message %s", ErrUnknownFieldName, key, m.md.FullName())
		}
		if od := fd.ContainingOneof(); od != nil {
			if prev, ok := seenOneofs[od.FullName()]; ok {
				return fmt.Errorf("%w %s: both %q and %q are set", ErrAmbiguousOneof, od.FullName(), prev, fd.Name())
			}
			if seenOneofs == nil {
				seenOneofs = map[protoreflect.FullName]protoreflect.Name{}
			}
			seenOneofs[od.FullName()] = fd.Name()
		}
		v, ok, err := unmarshalFieldValue(r, fd, m.er, opts)
		if err != nil {
			return fmt.Errorf("field %s: %w", fd.FullName(), err)
		}
		desc := wrapFieldDescriptor(fd)
		if ok {
			m.setField(desc, v)
		} else {
			m.fields.clear(desc)
		}
	}

	return r.endObject()
}

// resolveJSONKey maps a JSON object key to a field descriptor: declared
// fields by JSON or proto name, extensions by "[full.name]" via the
// message's registry or the global type registry.
func (m *Message) resolveJSONKey(key string) protoreflect.FieldDescriptor {
	if len(key) >= 2 && key[0] == '[' && key[len(key)-1] == ']' {
		name := protoreflect.FullName(key[1 : len(key)-1])
		if fd := m.er.FindExtensionByName(m.md.FullName(), name); fd != nil {
			return fd
		}
		xt, err := protoregistry.GlobalTypes.FindExtensionByName(name)
		if err != nil {
			return nil
		}
		fd := xt.TypeDescriptor()
		if fd.ContainingMessage().FullName() != m.md.FullName() {
			return nil
		}
		return fd
	}
	return m.findFieldByName(key)
}

// unmarshalFieldValue parses the value for fd. The second return is false
// when the JSON value was null and the field should be cleared instead of
// set.
func unmarshalFieldValue(r *jsReader, fd protoreflect.FieldDescriptor, er *ExtensionRegistry, opts *UnmarshalJSONOptions) (Value, bool, error) {
	t, err := r.peek()
	if err != nil {
		return Value{}, false, err
	}
	if t == nil && !isNullableKind(fd) {
		_, _ = r.poll()
		return Value{}, false, nil
	}

	switch {
	case fd.IsMap():
		if err := r.beginObject(); err != nil {
			return Value{}, false, err
		}
		entries := map[MapKey]Value{}
		for r.hasNext() {
			keyStr, err := r.nextObjectKey()
			if err != nil {
				return Value{}, false, err
			}
			key, err := parseMapKey(fd.MapKey(), keyStr)
			if err != nil {
				return Value{}, false, err
			}
			elem, err := unmarshalSingular(r, fd.MapValue(), er, opts)
			if err != nil {
				return Value{}, false, err
			}
			entries[key] = elem
		}
		if err := r.endObject(); err != nil {
			return Value{}, false, err
		}
		return ValueOfMap(entries), true, nil

	case fd.IsList():
		if err := r.beginArray(); err != nil {
			return Value{}, false, err
		}
		var list []Value
		for r.hasNext() {
			elem, err := unmarshalSingular(r, fd, er, opts)
			if err != nil {
				return Value{}, false, err
			}
			list = append(list, elem)
		}
		if err := r.endArray(); err != nil {
			return Value{}, false, err
		}
		return ValueOfList(list), true, nil

	default:
		v, err := unmarshalSingular(r, fd, er, opts)
		if err != nil {
			return Value{}, false, err
		}
		return v, true, nil
	}
}

// isNullableKind reports whether JSON null is a value, rather than an
// absence marker, for the given singular field: google.protobuf.Value
// messages and the google.protobuf.NullValue enum.
func isNullableKind(fd protoreflect.FieldDescriptor) bool {
	if fd.IsMap() || fd.IsList() {
		return false
	}
	switch fd.Kind() {
	case protoreflect.MessageKind, protoreflect.GroupKind:
		return fd.Message().FullName() == "google.protobuf.Value"
	case protoreflect.EnumKind:
		return fd.Enum().FullName() == "google.protobuf.NullValue"
	default:
		return false
	}
}

func unmarshalSingular(r *jsReader, fd protoreflect.FieldDescriptor, er *ExtensionRegistry, opts *UnmarshalJSONOptions) (Value, error) {
	t, err := r.peek()
	if err != nil {
		return Value{}, err
	}
	if t == nil {
		switch {
		case fd.Kind() == protoreflect.MessageKind && fd.Message().FullName() == "google.protobuf.Value":
			// handled below by the well-known-type path
		case fd.Kind() == protoreflect.EnumKind && fd.Enum().FullName() == "google.protobuf.NullValue":
			_, _ = r.poll()
			return ValueOfEnum(0), nil
		default:
			_, _ = r.poll()
			return Value{}, fmt.Errorf("unexpected JSON null for %v field", fd.Kind())
		}
	}

	switch fd.Kind() {
	case protoreflect.MessageKind, protoreflect.GroupKind:
		msg := NewMessageWithExtensionRegistry(fd.Message(), er)
		if err := unmarshalMessage(r, msg, opts); err != nil {
			return Value{}, err
		}
		return ValueOfMessage(msg), nil

	case protoreflect.EnumKind:
		return unmarshalEnum(r, fd)

	case protoreflect.Int32Kind, protoreflect.Sint32Kind, protoreflect.Sfixed32Kind:
		i, err := r.nextInt(32)
		if err != nil {
			return Value{}, err
		}
		return ValueOfInt32(int32(i)), nil

	case protoreflect.Int64Kind, protoreflect.Sint64Kind, protoreflect.Sfixed64Kind:
		i, err := r.nextInt(64)
		if err != nil {
			return Value{}, err
		}
		return ValueOfInt64(i), nil

	case protoreflect.Uint32Kind, protoreflect.Fixed32Kind:
		u, err := r.nextUint(32)
		if err != nil {
			return Value{}, err
		}
		return ValueOfUint32(uint32(u)), nil

	case protoreflect.Uint64Kind, protoreflect.Fixed64Kind:
		u, err := r.nextUint(64)
		if err != nil {
			return Value{}, err
		}
		return ValueOfUint64(u), nil

	case protoreflect.FloatKind:
		f, err := r.nextFloat()
		if err != nil {
			return Value{}, err
		}
		return ValueOfFloat32(float32(f)), nil

	case protoreflect.DoubleKind:
		f, err := r.nextFloat()
		if err != nil {
			return Value{}, err
		}
		return ValueOfFloat64(f), nil

	case protoreflect.BoolKind:
		v, err := r.nextBool()
		if err != nil {
			return Value{}, err
		}
		return ValueOfBool(v), nil

	case protoreflect.StringKind:
		s, err := r.nextString()
		if err != nil {
			return Value{}, err
		}
		return ValueOfString(s), nil

	case protoreflect.BytesKind:
		b, err := r.nextBytes()
		if err != nil {
			return Value{}, err
		}
		return ValueOfBytes(b), nil

	default:
		return Value{}, fmt.Errorf("unknown field kind: %v", fd.Kind())
	}
}

func unmarshalEnum(r *jsReader, fd protoreflect.FieldDescriptor) (Value, error) {
	n, err := r.nextNumber()
	if err != nil {
		return Value{}, err
	}
	if i, err := n.Int64(); err == nil {
		if i > math.MaxInt32 || i < math.MinInt32 {
			return Value{}, ErrNumericOverflow
		}
		return ValueOfEnum(protoreflect.EnumNumber(i)), nil
	}
	// not a number, so it must be a declared value name
	vd := fd.Enum().Values().ByName(protoreflect.Name(n))
	if vd == nil {
		return Value{}, fmt.Errorf("enum %s has no value named %q", fd.Enum().FullName(), n)
	}
	return ValueOfEnum(vd.Number()), nil
}

func parseMapKey(fd protoreflect.FieldDescriptor, key string) (MapKey, error) {
	switch fd.Kind() {
	case protoreflect.BoolKind:
		switch key {
		case "true":
			return ValueOfBool(true).MapKey(), nil
		case "false":
			return ValueOfBool(false).MapKey(), nil
		}
		return MapKey{}, fmt.Errorf("invalid boolean map key %q", key)
	case protoreflect.Int32Kind, protoreflect.Sint32Kind, protoreflect.Sfixed32Kind:
		i, err := strconv.ParseInt(key, 10, 32)
		if err != nil {
			return MapKey{}, fmt.Errorf("invalid int32 map key %q", key)
		}
		return ValueOfInt32(int32(i)).MapKey(), nil
	case protoreflect.Int64Kind, protoreflect.Sint64Kind, protoreflect.Sfixed64Kind:
		i, err := strconv.ParseInt(key, 10, 64)
		if err != nil {
			return MapKey{}, fmt.Errorf("invalid int64 map key %q", key)
		}
		return ValueOfInt64(i).MapKey(), nil
	case protoreflect.Uint32Kind, protoreflect.Fixed32Kind:
		u, err := strconv.ParseUint(key, 10, 32)
		if err != nil {
			return MapKey{}, fmt.Errorf("invalid uint32 map key %q", key)
		}
		return ValueOfUint32(uint32(u)).MapKey(), nil
	case protoreflect.Uint64Kind, protoreflect.Fixed64Kind:
		u, err := strconv.ParseUint(key, 10, 64)
		if err != nil {
			return MapKey{}, fmt.Errorf("invalid uint64 map key %q", key)
		}
		return ValueOfUint64(u).MapKey(), nil
	case protoreflect.StringKind:
		return ValueOfString(key).MapKey(), nil
	default:
		return MapKey{}, fmt.Errorf("invalid map key kind: %v", fd.Kind())
	}
}

// jsReader wraps a json.Decoder with one token of lookahead, reading JSON at
// the token level so that values can be routed by the declared field kind.
type jsReader struct {
	dec     *json.Decoder
	current json.Token
	peeked  bool
}

func (r *jsReader) hasNext() bool {
	return r.dec.More()
}

func (r *jsReader) peek() (json.Token, error) {
	if r.peeked {
		return r.current, nil
	}
	t, err := r.dec.Token()
	if err != nil {
		return nil, err
	}
	r.peeked = true
	r.current = t
	return t, nil
}

func (r *jsReader) poll() (json.Token, error) {
	if r.peeked {
		ret := r.current
		r.current = nil
		r.peeked = false
		return ret, nil
	}
	return r.dec.Token()
}

func (r *jsReader) beginObject() error {
	_, err := r.expect(func(t json.Token) bool { return t == json.Delim('{') }, "start of JSON object: '{'")
	return err
}

func (r *jsReader) endObject() error {
	_, err := r.expect(func(t json.Token) bool { return t == json.Delim('}') }, "end of JSON object: '}'")
	return err
}

func (r *jsReader) beginArray() error {
	_, err := r.expect(func(t json.Token) bool { return t == json.Delim('[') }, "start of array: '['")
	return err
}

func (r *jsReader) endArray() error {
	_, err := r.expect(func(t json.Token) bool { return t == json.Delim(']') }, "end of array: ']'")
	return err
}

func (r *jsReader) nextObjectKey() (string, error) {
	return r.nextString()
}

func (r *jsReader) nextString() (string, error) {
	t, err := r.expect(func(t json.Token) bool { _, ok := t.(string); return ok }, "string")
	if err != nil {
		return "", err
	}
	return t.(string), nil
}

func (r *jsReader) nextBytes() ([]byte, error) {
	str, err := r.nextString()
	if err != nil {
		return nil, err
	}
	return decodeBase64(str)
}

// decodeBase64 accepts both the standard and URL-safe alphabets, with or
// without padding.
func decodeBase64(s string) ([]byte, error) {
	enc := base64.StdEncoding
	if strings.ContainsAny(s, "-_") {
		enc = base64.URLEncoding
	}
	if len(s)%4 != 0 {
		enc = enc.WithPadding(base64.NoPadding)
	}
	return enc.DecodeString(s)
}

func (r *jsReader) nextBool() (bool, error) {
	t, err := r.expect(func(t json.Token) bool { _, ok := t.(bool); return ok }, "boolean")
	if err != nil {
		return false, err
	}
	return t.(bool), nil
}

func (r *jsReader) nextInt(bits int) (int64, error) {
	n, err := r.nextNumber()
	if err != nil {
		return 0, err
	}
	i, err := strconv.ParseInt(string(n), 10, bits)
	if err == nil {
		return i, nil
	}
	// tolerate exponent or fractional notation for exactly integral values
	f, ferr := strconv.ParseFloat(string(n), 64)
	if ferr != nil || f != math.Trunc(f) || math.Abs(f) >= 1<<53 {
		return 0, fmt.Errorf("%w: %q is not a valid int%d", ErrNumericOverflow, n, bits)
	}
	i = int64(f)
	if bits == 32 && (i > math.MaxInt32 || i < math.MinInt32) {
		return 0, fmt.Errorf("%w: %q is not a valid int32", ErrNumericOverflow, n)
	}
	return i, nil
}

func (r *jsReader) nextUint(bits int) (uint64, error) {
	n, err := r.nextNumber()
	if err != nil {
		return 0, err
	}
	u, err := strconv.ParseUint(string(n), 10, bits)
	if err == nil {
		return u, nil
	}
	f, ferr := strconv.ParseFloat(string(n), 64)
	if ferr != nil || f != math.Trunc(f) || f < 0 || f >= 1<<53 {
		return 0, fmt.Errorf("%w: %q is not a valid uint%d", ErrNumericOverflow, n, bits)
	}
	u = uint64(f)
	if bits == 32 && u > math.MaxUint32 {
		return 0, fmt.Errorf("%w: %q is not a valid uint32", ErrNumericOverflow, n)
	}
	return u, nil
}

func (r *jsReader) nextFloat() (float64, error) {
	n, err := r.nextNumber()
	if err != nil {
		return 0, err
	}
	switch string(n) {
	case "NaN":
		return math.NaN(), nil
	case "Infinity":
		return math.Inf(1), nil
	case "-Infinity":
		return math.Inf(-1), nil
	}
	return n.Float64()
}

// nextNumber returns the next numeric token. JSON strings are accepted too:
// the canonical mapping requires accepting numbers in string form.
func (r *jsReader) nextNumber() (json.Number, error) {
	t, err := r.poll()
	if err != nil {
		return "", err
	}
	switch t := t.(type) {
	case json.Number:
		return t, nil
	case string:
		return json.Number(t), nil
	default:
		return "", fmt.Errorf("expecting a number but got %v", t)
	}
}

func (r *jsReader) skip() error {
	t, err := r.poll()
	if err != nil {
		return err
	}
	if t == json.Delim('[') {
		return r.skipArray()
	}
	if t == json.Delim('{') {
		return r.skipObject()
	}
	return nil
}

func (r *jsReader) skipArray() error {
	for r.hasNext() {
		if err := r.skip(); err != nil {
			return err
		}
	}
	return r.endArray()
}

func (r *jsReader) skipObject() error {
	for r.hasNext() {
		// key, then value
		if err := r.skip(); err != nil {
			return err
		}
		if err := r.skip(); err != nil {
			return err
		}
	}
	return r.endObject()
}

func (r *jsReader) expect(predicate func(json.Token) bool, expected string) (any, error) {
	t, err := r.poll()
	if err != nil {
		return nil, err
	}
	if !predicate(t) {
		return t, fmt.Errorf("bad input: expecting %s, got %v", expected, t)
	}
	return t, nil
}

// readGenericValue parses an arbitrary JSON value into Go primitives:
// nil, bool, string, json.Number, []any, or map[string]any. It is used for
// google.protobuf.Struct/Value payloads and for buffering Any objects whose
// "@type" key may appear anywhere in the object.
func readGenericValue(r *jsReader) (any, error) {
	t, err := r.poll()
	if err != nil {
		return nil, err
	}
	switch t := t.(type) {
	case nil:
		return nil, nil
	case bool, string, json.Number:
		return t, nil
	case json.Delim:
		switch t {
		case json.Delim('['):
			elems := []any{}
			for r.hasNext() {
				elem, err := readGenericValue(r)
				if err != nil {
					return nil, err
				}
				elems = append(elems, elem)
			}
			if err := r.endArray(); err != nil {
				return nil, err
			}
			return elems, nil
		case json.Delim('{'):
			obj := map[string]any{}
			for r.hasNext() {
				key, err := r.nextObjectKey()
				if err != nil {
					return nil, err
				}
				val, err := readGenericValue(r)
				if err != nil {
					return nil, err
				}
				obj[key] = val
			}
			if err := r.endObject(); err != nil {
				return nil, err
			}
			return obj, nil
		}
	}
	return nil, fmt.Errorf("unexpected JSON token %v", t)
}
