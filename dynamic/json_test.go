package dynamic

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"
)

func marshalToString(t *testing.T, m *Message, opts MarshalJSONOptions) string {
	t.Helper()
	js, err := m.MarshalJSONWithOptions(opts)
	require.NoError(t, err)
	return string(js)
}

func TestMarshalScalars(t *testing.T) {
	fd := compileFile(t, testSchema)
	md := messageDescriptor(t, fd, "TestMessage")
	m := NewMessage(md)

	m.SetField(field(t, md, "foo"), ValueOfInt32(10))
	m.SetField(field(t, md, "big"), ValueOfInt64(123))
	m.SetField(field(t, md, "name"), ValueOfString("x"))

	assert.Equal(t, `{"foo":10,"big":"123","name":"x"}`, marshalToString(t, m, MarshalJSONOptions{}))
}

func TestMarshalInt64sAsNumbers(t *testing.T) {
	fd := compileFile(t, testSchema)
	md := messageDescriptor(t, fd, "TestMessage")
	m := NewMessage(md)

	m.SetField(field(t, md, "big"), ValueOfInt64(-123))
	m.SetField(field(t, md, "ubig"), ValueOfUint64(456))

	assert.Equal(t, `{"big":"-123","ubig":"456"}`, marshalToString(t, m, MarshalJSONOptions{}))
	assert.Equal(t, `{"big":-123,"ubig":456}`, marshalToString(t, m, MarshalJSONOptions{Int64sAsNumbers: true}))
}

func TestMarshalBytesAndFloats(t *testing.T) {
	fd := compileFile(t, testSchema)
	md := messageDescriptor(t, fd, "TestMessage")
	m := NewMessage(md)

	m.SetField(field(t, md, "data"), ValueOfBytes([]byte("hello")))
	m.SetField(field(t, md, "weight"), ValueOfFloat64(1.5))
	assert.Equal(t, `{"data":"aGVsbG8=","weight":1.5}`, marshalToString(t, m, MarshalJSONOptions{}))

	m.Reset()
	m.SetField(field(t, md, "weight"), ValueOfFloat64(math.NaN()))
	m.SetField(field(t, md, "ratio"), ValueOfFloat32(float32(math.Inf(-1))))
	assert.Equal(t, `{"weight":"NaN","ratio":"-Infinity"}`, marshalToString(t, m, MarshalJSONOptions{}))
}

func TestMarshalEnums(t *testing.T) {
	fd := compileFile(t, testSchema)
	md := messageDescriptor(t, fd, "TestMessage")
	m := NewMessage(md)
	kind := field(t, md, "kind")

	m.SetField(kind, ValueOfEnum(2))
	assert.Equal(t, `{"kind":"KIND_B"}`, marshalToString(t, m, MarshalJSONOptions{}))
	assert.Equal(t, `{"kind":2}`, marshalToString(t, m, MarshalJSONOptions{EnumsAsInts: true}))

	// numbers with no declared name can only be rendered numerically
	m.SetField(kind, ValueOfEnum(99))
	_, err := m.MarshalJSON()
	require.ErrorContains(t, err, "has no value with number 99")
	assert.Equal(t, `{"kind":99}`, marshalToString(t, m, MarshalJSONOptions{EnumsAsInts: true}))
}

func TestMarshalFieldNames(t *testing.T) {
	fd := compileFile(t, testSchema)
	md := messageDescriptor(t, fd, "TestMessage")
	m := NewMessage(md)

	m.SetField(field(t, md, "full_name"), ValueOfString("x"))
	assert.Equal(t, `{"fullName":"x"}`, marshalToString(t, m, MarshalJSONOptions{}))
	assert.Equal(t, `{"full_name":"x"}`, marshalToString(t, m, MarshalJSONOptions{OrigName: true}))
}

func TestMarshalComposite(t *testing.T) {
	fd := compileFile(t, testSchema)
	md := messageDescriptor(t, fd, "TestMessage")
	m := NewMessage(md)

	child := NewMessage(md)
	child.SetField(field(t, md, "name"), ValueOfString("y"))
	m.SetField(field(t, md, "child"), ValueOfMessage(child))
	m.SetField(field(t, md, "tags"), ValueOfList([]Value{ValueOfString("a"), ValueOfString("b")}))
	m.SetField(field(t, md, "labels"), ValueOfMap(map[MapKey]Value{
		ValueOfInt32(10).MapKey(): ValueOfString("c"),
		ValueOfInt32(2).MapKey():  ValueOfString("b"),
		ValueOfInt32(1).MapKey():  ValueOfString("a"),
	}))

	// map keys are sorted, so output is deterministic
	assert.Equal(t,
		`{"child":{"name":"y"},"tags":["a","b"],"labels":{"1":"a","2":"b","10":"c"}}`,
		marshalToString(t, m, MarshalJSONOptions{}))
}

func TestMarshalOneofZeroValue(t *testing.T) {
	fd := compileFile(t, testSchema)
	md := messageDescriptor(t, fd, "TestMessage")
	m := NewMessage(md)

	// oneof members have explicit presence, so the zero value is emitted
	m.SetField(field(t, md, "number"), ValueOfInt32(0))
	assert.Equal(t, `{"number":0}`, marshalToString(t, m, MarshalJSONOptions{}))
}

func TestMarshalEmitDefaults(t *testing.T) {
	fd := compileFile(t, testSchema)
	md := messageDescriptor(t, fd, "Small")
	m := NewMessage(md)
	m.SetField(field(t, md, "x"), ValueOfInt32(5))

	// absent oneof members stay omitted even with EmitDefaults
	assert.Equal(t,
		`{"a":0,"b":"","kind":"KIND_UNSPECIFIED","xs":[],"m":{},"ob":false,"x":5}`,
		marshalToString(t, m, MarshalJSONOptions{EmitDefaults: true}))
}

func TestMarshalEmitDefaultsEmptyMessage(t *testing.T) {
	fd := compileFile(t, testSchema)
	md := messageDescriptor(t, fd, "TestMessage")
	m := NewMessage(md)

	// the schema is recursive (child is a TestMessage): the absent message
	// field must come out as null, not as a materialized default message
	assert.Equal(t,
		`{"foo":0,"big":"0","ubig":"0","name":"","data":"","flag":false,`+
			`"weight":0,"ratio":0,"kind":"KIND_UNSPECIFIED","child":null,`+
			`"tags":[],"counts":{},"labels":{},"opt":0,"fullName":""}`,
		marshalToString(t, m, MarshalJSONOptions{EmitDefaults: true}))
}

func TestMarshalIndent(t *testing.T) {
	fd := compileFile(t, testSchema)
	md := messageDescriptor(t, fd, "TestMessage")
	m := NewMessage(md)

	m.SetField(field(t, md, "foo"), ValueOfInt32(1))
	m.SetField(field(t, md, "name"), ValueOfString("x"))

	js, err := m.MarshalJSONIndent()
	require.NoError(t, err)
	assert.Equal(t, "{\n  \"foo\": 1,\n  \"name\": \"x\"\n}", string(js))
}

func TestMarshalSkipsUnknownFields(t *testing.T) {
	fd := compileFile(t, testSchema)
	md := messageDescriptor(t, fd, "TestMessage")
	m := NewMessage(md)

	m.AddUnknownField(300, UnknownField{WireType: protowire.VarintType, Value: 1})
	m.SetField(field(t, md, "foo"), ValueOfInt32(1))
	assert.Equal(t, `{"foo":1}`, marshalToString(t, m, MarshalJSONOptions{}))
}

func TestUnmarshalScalars(t *testing.T) {
	fd := compileFile(t, testSchema)
	md := messageDescriptor(t, fd, "TestMessage")
	m := NewMessage(md)

	err := m.UnmarshalJSON([]byte(`{
		"foo": 10,
		"big": "123",
		"ubig": "456",
		"flag": true,
		"weight": 1.5,
		"data": "aGVsbG8=",
		"tags": ["a", "b"],
		"counts": {"k": 1},
		"labels": {"5": "v"},
		"opt": 0
	}`))
	require.NoError(t, err)

	assert.Equal(t, int32(10), m.GetField(field(t, md, "foo")).Int32())
	assert.Equal(t, int64(123), m.GetField(field(t, md, "big")).Int64())
	assert.Equal(t, uint64(456), m.GetField(field(t, md, "ubig")).Uint64())
	assert.Equal(t, true, m.GetField(field(t, md, "flag")).Bool())
	assert.Equal(t, 1.5, m.GetField(field(t, md, "weight")).Float64())
	assert.Equal(t, []byte("hello"), m.GetField(field(t, md, "data")).Bytes())
	assert.Len(t, m.GetField(field(t, md, "tags")).List(), 2)
	assert.Equal(t, int32(1), m.GetField(field(t, md, "counts")).Map()[ValueOfString("k").MapKey()].Int32())
	assert.Equal(t, "v", m.GetField(field(t, md, "labels")).Map()[ValueOfInt32(5).MapKey()].String())
	assert.True(t, m.HasField(field(t, md, "opt")))
}

func TestUnmarshalFieldNames(t *testing.T) {
	fd := compileFile(t, testSchema)
	md := messageDescriptor(t, fd, "TestMessage")
	m := NewMessage(md)
	fullName := field(t, md, "full_name")

	require.NoError(t, m.UnmarshalJSON([]byte(`{"fullName":"a"}`)))
	assert.Equal(t, "a", m.GetField(fullName).String())

	require.NoError(t, m.UnmarshalJSON([]byte(`{"full_name":"b"}`)))
	assert.Equal(t, "b", m.GetField(fullName).String())
}

func TestUnmarshalNumbers(t *testing.T) {
	fd := compileFile(t, testSchema)
	md := messageDescriptor(t, fd, "TestMessage")
	m := NewMessage(md)

	// exponent notation for an exactly integral value is accepted
	require.NoError(t, m.UnmarshalJSON([]byte(`{"foo":1e2}`)))
	assert.Equal(t, int32(100), m.GetField(field(t, md, "foo")).Int32())

	require.NoError(t, m.UnmarshalJSON([]byte(`{"foo":"12"}`)))
	assert.Equal(t, int32(12), m.GetField(field(t, md, "foo")).Int32())

	err := m.UnmarshalJSON([]byte(`{"foo":3000000000}`))
	require.ErrorIs(t, err, ErrNumericOverflow)
	err = m.UnmarshalJSON([]byte(`{"foo":1.5}`))
	require.ErrorIs(t, err, ErrNumericOverflow)
	err = m.UnmarshalJSON([]byte(`{"ubig":-1}`))
	require.ErrorIs(t, err, ErrNumericOverflow)

	require.NoError(t, m.UnmarshalJSON([]byte(`{"weight":"NaN","ratio":"Infinity"}`)))
	assert.True(t, math.IsNaN(m.GetField(field(t, md, "weight")).Float64()))
	assert.True(t, math.IsInf(float64(m.GetField(field(t, md, "ratio")).Float32()), 1))
}

func TestUnmarshalEnums(t *testing.T) {
	fd := compileFile(t, testSchema)
	md := messageDescriptor(t, fd, "TestMessage")
	m := NewMessage(md)
	kind := field(t, md, "kind")

	require.NoError(t, m.UnmarshalJSON([]byte(`{"kind":"KIND_A"}`)))
	assert.EqualValues(t, 1, m.GetField(kind).Enum())

	require.NoError(t, m.UnmarshalJSON([]byte(`{"kind":2}`)))
	assert.EqualValues(t, 2, m.GetField(kind).Enum())

	// unknown numbers are preserved, unknown names are not resolvable
	require.NoError(t, m.UnmarshalJSON([]byte(`{"kind":99}`)))
	assert.EqualValues(t, 99, m.GetField(kind).Enum())

	err := m.UnmarshalJSON([]byte(`{"kind":"NOPE"}`))
	require.ErrorContains(t, err, `has no value named "NOPE"`)
}

func TestUnmarshalUnknownKeys(t *testing.T) {
	fd := compileFile(t, testSchema)
	md := messageDescriptor(t, fd, "TestMessage")
	m := NewMessage(md)

	err := m.UnmarshalJSON([]byte(`{"nope":1}`))
	require.ErrorIs(t, err, ErrUnknownFieldName)

	err = m.UnmarshalJSONWithOptions(
		[]byte(`{"nope":{"deep":[1,{"x":2}]},"foo":5}`),
		UnmarshalJSONOptions{AllowUnknownFields: true})
	require.NoError(t, err)
	assert.Equal(t, int32(5), m.GetField(field(t, md, "foo")).Int32())
}

func TestUnmarshalAmbiguousOneof(t *testing.T) {
	fd := compileFile(t, testSchema)
	md := messageDescriptor(t, fd, "TestMessage")
	m := NewMessage(md)

	err := m.UnmarshalJSON([]byte(`{"text":"a","number":1}`))
	require.ErrorIs(t, err, ErrAmbiguousOneof)

	require.NoError(t, m.UnmarshalJSON([]byte(`{"number":1}`)))
	assert.True(t, m.HasField(field(t, md, "number")))
}

func TestUnmarshalResetAndMerge(t *testing.T) {
	fd := compileFile(t, testSchema)
	md := messageDescriptor(t, fd, "TestMessage")
	m := NewMessage(md)
	foo := field(t, md, "foo")
	name := field(t, md, "name")

	m.SetField(foo, ValueOfInt32(1))
	require.NoError(t, m.UnmarshalJSON([]byte(`{"name":"x"}`)))
	assert.False(t, m.HasField(foo))

	m.SetField(foo, ValueOfInt32(1))
	require.NoError(t, m.UnmarshalMergeJSON([]byte(`{"name":"y"}`)))
	assert.True(t, m.HasField(foo))
	assert.Equal(t, "y", m.GetField(name).String())

	// explicit null clears the field during a merge
	require.NoError(t, m.UnmarshalMergeJSON([]byte(`{"name":null}`)))
	assert.False(t, m.HasField(name))
	assert.True(t, m.HasField(foo))
}

func TestUnmarshalWholeMessageNull(t *testing.T) {
	fd := compileFile(t, testSchema)
	md := messageDescriptor(t, fd, "TestMessage")
	m := NewMessage(md)

	m.SetField(field(t, md, "foo"), ValueOfInt32(1))
	require.NoError(t, m.UnmarshalMergeJSON([]byte(`null`)))
	assert.True(t, m.HasField(field(t, md, "foo")))
}

func TestUnmarshalTrailingData(t *testing.T) {
	fd := compileFile(t, testSchema)
	md := messageDescriptor(t, fd, "TestMessage")
	m := NewMessage(md)

	err := m.UnmarshalJSON([]byte(`{"foo":1} {}`))
	require.ErrorContains(t, err, "superfluous data")
}

func TestUnmarshalBase64Variants(t *testing.T) {
	fd := compileFile(t, testSchema)
	md := messageDescriptor(t, fd, "TestMessage")
	m := NewMessage(md)
	data := field(t, md, "data")

	require.NoError(t, m.UnmarshalJSON([]byte(`{"data":"/w=="}`)))
	assert.Equal(t, []byte{0xff}, m.GetField(data).Bytes())

	// URL-safe alphabet, no padding
	require.NoError(t, m.UnmarshalJSON([]byte(`{"data":"_w"}`)))
	assert.Equal(t, []byte{0xff}, m.GetField(data).Bytes())
}

func TestExtensionJSONRoundTrip(t *testing.T) {
	fd := compileFile(t, testExtSchema)
	md := messageDescriptor(t, fd, "Extendable")
	extNum := extension(t, fd, "ext_num")

	var er ExtensionRegistry
	er.AddExtensionsFromFile(fd)

	m := NewMessageWithExtensionRegistry(md, &er)
	m.SetField(field(t, md, "name"), ValueOfString("n"))
	m.SetField(extNum, ValueOfInt32(7))

	js := marshalToString(t, m, MarshalJSONOptions{})
	assert.Equal(t, `{"name":"n","[test2.ext_num]":7}`, js)

	decoded := NewMessageWithExtensionRegistry(md, &er)
	require.NoError(t, decoded.UnmarshalJSON([]byte(js)))
	assert.True(t, decoded.Equal(m))

	// without a registry the bracketed key is unresolvable
	bare := NewMessage(md)
	err := bare.UnmarshalJSON([]byte(js))
	require.ErrorIs(t, err, ErrUnknownFieldName)
}

func TestJSONRoundTrip(t *testing.T) {
	fd := compileFile(t, testSchema)
	md := messageDescriptor(t, fd, "TestMessage")
	m := NewMessage(md)

	child := NewMessage(md)
	child.SetField(field(t, md, "big"), ValueOfInt64(-5))
	m.SetField(field(t, md, "child"), ValueOfMessage(child))
	m.SetField(field(t, md, "kind"), ValueOfEnum(1))
	m.SetField(field(t, md, "tags"), ValueOfList([]Value{ValueOfString("a")}))
	m.SetField(field(t, md, "counts"), ValueOfMap(map[MapKey]Value{
		ValueOfString("k").MapKey(): ValueOfInt32(3),
	}))
	m.SetField(field(t, md, "text"), ValueOfString("t"))

	js, err := m.MarshalJSON()
	require.NoError(t, err)

	decoded := NewMessage(md)
	require.NoError(t, decoded.UnmarshalJSON(js))
	assert.True(t, decoded.Equal(m))
}
