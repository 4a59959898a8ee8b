package dynamic

// Bespoke canonical JSON encodings for the well-known types. Dispatch by
// full type name happens once per message value, before the generic
// field-by-field mapping.

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"google.golang.org/protobuf/reflect/protoreflect"
)

const (
	maxDurationSeconds  = 315576000000
	maxDurationNanos    = 999999999
	minTimestampSeconds = -62135596800
	maxTimestampSeconds = 253402300799
)

func isWellKnownType(fullName protoreflect.FullName) bool {
	switch fullName {
	case "google.protobuf.Any",
		"google.protobuf.Timestamp",
		"google.protobuf.Duration",
		"google.protobuf.Struct",
		"google.protobuf.FloatValue",
		"google.protobuf.DoubleValue",
		"google.protobuf.Int32Value",
		"google.protobuf.Int64Value",
		"google.protobuf.UInt32Value",
		"google.protobuf.UInt64Value",
		"google.protobuf.BoolValue",
		"google.protobuf.StringValue",
		"google.protobuf.BytesValue",
		"google.protobuf.FieldMask",
		"google.protobuf.ListValue",
		"google.protobuf.Value",
		"google.protobuf.Empty":
		return true
	default:
		return false
	}
}

// wktField returns the named field of a well-known type's descriptor. The
// well-known descriptors are fixed, so a missing field means the caller
// supplied a descriptor that merely reuses a reserved name.
func wktField(md protoreflect.MessageDescriptor, name protoreflect.Name) protoreflect.FieldDescriptor {
	fd := md.Fields().ByName(name)
	if fd == nil {
		panic(fmt.Sprintf("well-known type %s has no field %s", md.FullName(), name))
	}
	return fd
}

func marshalWellKnownType(b *indentBuffer, m *Message, opts *MarshalJSONOptions) error {
	switch m.md.FullName() {
	case "google.protobuf.Duration":
		return marshalDuration(b, m)
	case "google.protobuf.Timestamp":
		return marshalTimestamp(b, m)
	case "google.protobuf.FloatValue", "google.protobuf.DoubleValue",
		"google.protobuf.Int32Value", "google.protobuf.Int64Value",
		"google.protobuf.UInt32Value", "google.protobuf.UInt64Value",
		"google.protobuf.BoolValue", "google.protobuf.StringValue",
		"google.protobuf.BytesValue":
		fd := wktField(m.md, "value")
		return marshalSingular(b, fd, m.GetField(fd), opts)
	case "google.protobuf.FieldMask":
		return marshalFieldMask(b, m)
	case "google.protobuf.Struct":
		fd := wktField(m.md, "fields")
		return marshalFieldValue(b, fd, m.GetField(fd), opts)
	case "google.protobuf.ListValue":
		fd := wktField(m.md, "values")
		return marshalFieldValue(b, fd, m.GetField(fd), opts)
	case "google.protobuf.Value":
		return marshalValue(b, m, opts)
	case "google.protobuf.Empty":
		_, err := b.WriteString("{}")
		return err
	case "google.protobuf.Any":
		return marshalAny(b, m, opts)
	default:
		panic(fmt.Sprintf("not a well-known type: %s", m.md.FullName()))
	}
}

func unmarshalWellKnownType(r *jsReader, m *Message, opts *UnmarshalJSONOptions) error {
	switch m.md.FullName() {
	case "google.protobuf.Duration":
		return unmarshalDuration(r, m)
	case "google.protobuf.Timestamp":
		return unmarshalTimestamp(r, m)
	case "google.protobuf.FloatValue", "google.protobuf.DoubleValue",
		"google.protobuf.Int32Value", "google.protobuf.Int64Value",
		"google.protobuf.UInt32Value", "google.protobuf.UInt64Value",
		"google.protobuf.BoolValue", "google.protobuf.StringValue",
		"google.protobuf.BytesValue":
		fd := wktField(m.md, "value")
		v, err := unmarshalSingular(r, fd, m.er, opts)
		if err != nil {
			return err
		}
		m.SetField(fd, v)
		return nil
	case "google.protobuf.FieldMask":
		return unmarshalFieldMask(r, m)
	case "google.protobuf.Struct":
		return unmarshalStruct(r, m, opts)
	case "google.protobuf.ListValue":
		return unmarshalListValue(r, m, opts)
	case "google.protobuf.Value":
		return unmarshalValue(r, m, opts)
	case "google.protobuf.Empty":
		return unmarshalEmpty(r, m, opts)
	case "google.protobuf.Any":
		return unmarshalAny(r, m, opts)
	default:
		panic(fmt.Sprintf("not a well-known type: %s", m.md.FullName()))
	}
}

func marshalDuration(b *indentBuffer, m *Message) error {
	seconds := m.GetField(wktField(m.md, "seconds")).Int64()
	nanos := m.GetField(wktField(m.md, "nanos")).Int32()
	if err := checkDuration(seconds, nanos); err != nil {
		return err
	}
	var sign string
	if seconds < 0 || nanos < 0 {
		sign = "-"
		seconds = -seconds
		if nanos < 0 {
			nanos = -nanos
		}
	}
	return writeJSONString(b, fmt.Sprintf("%s%d%ss", sign, seconds, fracSeconds(nanos)))
}

func checkDuration(seconds int64, nanos int32) error {
	if seconds > maxDurationSeconds || seconds < -maxDurationSeconds ||
		nanos > maxDurationNanos || nanos < -maxDurationNanos {
		return fmt.Errorf("%w: %ds %dns", ErrDurationOutOfRange, seconds, nanos)
	}
	return nil
}

// fracSeconds renders nanos as a fractional-second suffix with the canonical
// 0, 3, 6, or 9 digits. nanos must be non-negative.
func fracSeconds(nanos int32) string {
	if nanos == 0 {
		return ""
	}
	s := fmt.Sprintf("%09d", nanos)
	for strings.HasSuffix(s, "000") {
		s = s[:len(s)-3]
	}
	return "." + s
}

func unmarshalDuration(r *jsReader, m *Message) error {
	s, err := r.nextString()
	if err != nil {
		return err
	}
	body, ok := strings.CutSuffix(s, "s")
	if !ok {
		return fmt.Errorf("invalid duration %q: missing 's' suffix", s)
	}
	intPart, fracPart, _ := strings.Cut(body, ".")
	seconds, err := strconv.ParseInt(intPart, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid duration %q", s)
	}
	var nanos int64
	if fracPart != "" {
		if len(fracPart) > 9 {
			return fmt.Errorf("invalid duration %q: too many fractional digits", s)
		}
		frac, err := strconv.ParseUint(fracPart+strings.Repeat("0", 9-len(fracPart)), 10, 32)
		if err != nil {
			return fmt.Errorf("invalid duration %q", s)
		}
		nanos = int64(frac)
	}
	if strings.HasPrefix(intPart, "-") {
		nanos = -nanos
	}
	if err := checkDuration(seconds, int32(nanos)); err != nil {
		return err
	}
	m.SetField(wktField(m.md, "seconds"), ValueOfInt64(seconds))
	m.SetField(wktField(m.md, "nanos"), ValueOfInt32(int32(nanos)))
	return nil
}

func marshalTimestamp(b *indentBuffer, m *Message) error {
	seconds := m.GetField(wktField(m.md, "seconds")).Int64()
	nanos := m.GetField(wktField(m.md, "nanos")).Int32()
	if err := checkTimestamp(seconds, nanos); err != nil {
		return err
	}
	t := time.Unix(seconds, 0).UTC()
	return writeJSONString(b, t.Format("2006-01-02T15:04:05")+fracSeconds(nanos)+"Z")
}

func checkTimestamp(seconds int64, nanos int32) error {
	if seconds < minTimestampSeconds || seconds > maxTimestampSeconds ||
		nanos < 0 || nanos > maxDurationNanos {
		return fmt.Errorf("%w: %ds %dns", ErrTimestampOutOfRange, seconds, nanos)
	}
	return nil
}

func unmarshalTimestamp(r *jsReader, m *Message) error {
	s, err := r.nextString()
	if err != nil {
		return err
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return fmt.Errorf("invalid timestamp %q: %w", s, err)
	}
	seconds := t.Unix()
	nanos := int32(t.Nanosecond())
	if err := checkTimestamp(seconds, nanos); err != nil {
		return err
	}
	m.SetField(wktField(m.md, "seconds"), ValueOfInt64(seconds))
	m.SetField(wktField(m.md, "nanos"), ValueOfInt32(nanos))
	return nil
}

func marshalFieldMask(b *indentBuffer, m *Message) error {
	paths := m.GetField(wktField(m.md, "paths")).List()
	parts := make([]string, len(paths))
	for i, p := range paths {
		camel, err := fieldMaskPathToCamel(p.String())
		if err != nil {
			return err
		}
		parts[i] = camel
	}
	return writeJSONString(b, strings.Join(parts, ","))
}

func unmarshalFieldMask(r *jsReader, m *Message) error {
	s, err := r.nextString()
	if err != nil {
		return err
	}
	var paths []Value
	if s != "" {
		for _, part := range strings.Split(s, ",") {
			path, err := fieldMaskPathToProto(part)
			if err != nil {
				return err
			}
			paths = append(paths, ValueOfString(path))
		}
	}
	m.SetField(wktField(m.md, "paths"), ValueOfList(paths))
	return nil
}

// fieldMaskPathToCamel converts a snake_case field path to lowerCamelCase.
// Paths that cannot be losslessly converted back are rejected.
func fieldMaskPathToCamel(path string) (string, error) {
	var sb strings.Builder
	upperNext := false
	for _, c := range path {
		switch {
		case c == '_':
			upperNext = true
		case c >= 'A' && c <= 'Z':
			return "", fmt.Errorf("field mask path %q cannot be round-tripped through JSON", path)
		case upperNext && c >= 'a' && c <= 'z':
			sb.WriteRune(c - 'a' + 'A')
			upperNext = false
		case upperNext:
			return "", fmt.Errorf("field mask path %q cannot be round-tripped through JSON", path)
		default:
			sb.WriteRune(c)
		}
	}
	if upperNext {
		return "", fmt.Errorf("field mask path %q cannot be round-tripped through JSON", path)
	}
	return sb.String(), nil
}

func fieldMaskPathToProto(path string) (string, error) {
	if strings.ContainsRune(path, '_') {
		return "", fmt.Errorf("invalid field mask path %q", path)
	}
	var sb strings.Builder
	for _, c := range path {
		if c >= 'A' && c <= 'Z' {
			sb.WriteByte('_')
			sb.WriteRune(c - 'A' + 'a')
		} else {
			sb.WriteRune(c)
		}
	}
	return sb.String(), nil
}

func unmarshalStruct(r *jsReader, m *Message, opts *UnmarshalJSONOptions) error {
	fd := wktField(m.md, "fields")
	if err := r.beginObject(); err != nil {
		return err
	}
	entries := map[MapKey]Value{}
	for r.hasNext() {
		key, err := r.nextObjectKey()
		if err != nil {
			return err
		}
		elem := NewMessageWithExtensionRegistry(fd.MapValue().Message(), m.er)
		if err := unmarshalMessage(r, elem, opts); err != nil {
			return err
		}
		entries[ValueOfString(key).MapKey()] = ValueOfMessage(elem)
	}
	if err := r.endObject(); err != nil {
		return err
	}
	m.SetField(fd, ValueOfMap(entries))
	return nil
}

func unmarshalListValue(r *jsReader, m *Message, opts *UnmarshalJSONOptions) error {
	fd := wktField(m.md, "values")
	if err := r.beginArray(); err != nil {
		return err
	}
	var values []Value
	for r.hasNext() {
		elem := NewMessageWithExtensionRegistry(fd.Message(), m.er)
		if err := unmarshalMessage(r, elem, opts); err != nil {
			return err
		}
		values = append(values, ValueOfMessage(elem))
	}
	if err := r.endArray(); err != nil {
		return err
	}
	m.SetField(fd, ValueOfList(values))
	return nil
}

func marshalValue(b *indentBuffer, m *Message, opts *MarshalJSONOptions) error {
	var kind protoreflect.FieldDescriptor
	var v Value
	fields := m.md.Fields()
	for i := 0; i < fields.Len(); i++ {
		fd := fields.Get(i)
		if m.HasField(fd) {
			kind = fd
			v = m.GetField(fd)
			break
		}
	}
	if kind == nil {
		return fmt.Errorf("google.protobuf.Value has no kind set")
	}
	switch kind.Name() {
	case "null_value":
		_, err := b.WriteString("null")
		return err
	case "number_value":
		f := v.Float64()
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return fmt.Errorf("google.protobuf.Value cannot represent non-finite number %v", f)
		}
		_, err := b.WriteString(strconv.FormatFloat(f, 'g', -1, 64))
		return err
	case "string_value":
		return writeJSONString(b, v.String())
	case "bool_value":
		_, err := b.WriteString(strconv.FormatBool(v.Bool()))
		return err
	case "struct_value", "list_value":
		return marshalMessage(b, v.Message(), opts)
	default:
		return fmt.Errorf("google.protobuf.Value has unexpected field %s", kind.Name())
	}
}

func unmarshalValue(r *jsReader, m *Message, opts *UnmarshalJSONOptions) error {
	t, err := r.peek()
	if err != nil {
		return err
	}
	switch t := t.(type) {
	case nil:
		_, _ = r.poll()
		m.SetField(wktField(m.md, "null_value"), ValueOfEnum(0))
		return nil
	case bool:
		_, _ = r.poll()
		m.SetField(wktField(m.md, "bool_value"), ValueOfBool(t))
		return nil
	case string:
		_, _ = r.poll()
		m.SetField(wktField(m.md, "string_value"), ValueOfString(t))
		return nil
	case json.Number:
		_, _ = r.poll()
		f, err := t.Float64()
		if err != nil {
			return fmt.Errorf("invalid number %q", t)
		}
		m.SetField(wktField(m.md, "number_value"), ValueOfFloat64(f))
		return nil
	case json.Delim:
		switch t {
		case json.Delim('{'):
			fd := wktField(m.md, "struct_value")
			elem := NewMessageWithExtensionRegistry(fd.Message(), m.er)
			if err := unmarshalMessage(r, elem, opts); err != nil {
				return err
			}
			m.SetField(fd, ValueOfMessage(elem))
			return nil
		case json.Delim('['):
			fd := wktField(m.md, "list_value")
			elem := NewMessageWithExtensionRegistry(fd.Message(), m.er)
			if err := unmarshalMessage(r, elem, opts); err != nil {
				return err
			}
			m.SetField(fd, ValueOfMessage(elem))
			return nil
		}
	}
	return fmt.Errorf("unexpected JSON token %v for google.protobuf.Value", t)
}

func unmarshalEmpty(r *jsReader, m *Message, opts *UnmarshalJSONOptions) error {
	if err := r.beginObject(); err != nil {
		return err
	}
	for r.hasNext() {
		key, err := r.nextObjectKey()
		if err != nil {
			return err
		}
		if !opts.AllowUnknownFields {
			return fmt.Errorf("%w: %q in message google.protobuf.Empty", ErrUnknownFieldName, key)
		}
		if err := r.skip(); err != nil {
			return err
		}
	}
	return r.endObject()
}

func marshalAny(b *indentBuffer, m *Message, opts *MarshalJSONOptions) error {
	typeURL := m.GetField(wktField(m.md, "type_url")).String()
	raw := m.GetField(wktField(m.md, "value")).Bytes()
	if typeURL == "" {
		if len(raw) > 0 {
			return fmt.Errorf("google.protobuf.Any has a value but no type_url")
		}
		_, err := b.WriteString("{}")
		return err
	}
	payloadMD, err := opts.resolver().FindMessageByURL(typeURL)
	if err != nil {
		return fmt.Errorf("cannot resolve type URL %q: %w", typeURL, err)
	}
	payload, err := messageFromWire(payloadMD, m.er, raw)
	if err != nil {
		return fmt.Errorf("cannot decode google.protobuf.Any payload of type %q: %w", typeURL, err)
	}

	if err := b.WriteByte('{'); err != nil {
		return err
	}
	if err := b.start(); err != nil {
		return err
	}
	first := true
	if err := b.maybeNext(&first); err != nil {
		return err
	}
	if err := writeJSONString(b, "@type"); err != nil {
		return err
	}
	if err := b.sep(); err != nil {
		return err
	}
	if err := writeJSONString(b, typeURL); err != nil {
		return err
	}

	if isWellKnownType(payloadMD.FullName()) {
		if err := b.maybeNext(&first); err != nil {
			return err
		}
		if err := writeJSONString(b, "value"); err != nil {
			return err
		}
		if err := b.sep(); err != nil {
			return err
		}
		if err := marshalWellKnownType(b, payload, opts); err != nil {
			return err
		}
	} else if err := marshalMessageBody(b, payload, opts, &first); err != nil {
		return err
	}

	if err := b.end(); err != nil {
		return err
	}
	return b.WriteByte('}')
}

func unmarshalAny(r *jsReader, m *Message, opts *UnmarshalJSONOptions) error {
	// The "@type" key may appear anywhere in the object, so buffer it whole
	// before interpreting the payload members.
	generic, err := readGenericValue(r)
	if err != nil {
		return err
	}
	obj, ok := generic.(map[string]any)
	if !ok {
		return fmt.Errorf("google.protobuf.Any must be a JSON object")
	}
	if len(obj) == 0 {
		return nil
	}
	rawURL, ok := obj["@type"]
	if !ok {
		return fmt.Errorf("google.protobuf.Any object is missing the @type key")
	}
	typeURL, ok := rawURL.(string)
	if !ok {
		return fmt.Errorf("google.protobuf.Any @type must be a string")
	}
	delete(obj, "@type")

	payloadMD, err := opts.resolver().FindMessageByURL(typeURL)
	if err != nil {
		return fmt.Errorf("cannot resolve type URL %q: %w", typeURL, err)
	}

	var payloadJSON []byte
	if isWellKnownType(payloadMD.FullName()) {
		value, ok := obj["value"]
		if !ok || len(obj) != 1 {
			return fmt.Errorf("google.protobuf.Any with well-known payload %q must have exactly a value key", typeURL)
		}
		payloadJSON, err = json.Marshal(value)
	} else {
		payloadJSON, err = json.Marshal(obj)
	}
	if err != nil {
		return err
	}

	payload := NewMessageWithExtensionRegistry(payloadMD, m.er)
	if err := payload.UnmarshalJSONWithOptions(payloadJSON, *opts); err != nil {
		return err
	}
	raw, err := messageToWire(payload)
	if err != nil {
		return fmt.Errorf("cannot encode google.protobuf.Any payload of type %q: %w", typeURL, err)
	}
	m.SetField(wktField(m.md, "type_url"), ValueOfString(typeURL))
	m.SetField(wktField(m.md, "value"), ValueOfBytes(raw))
	return nil
}
