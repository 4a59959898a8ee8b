package dynamic

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"
	"google.golang.org/protobuf/types/dynamicpb"
)

func TestConvertRoundTrip(t *testing.T) {
	fd := compileFile(t, testSchema)
	md := messageDescriptor(t, fd, "TestMessage")

	m := NewMessage(md)
	m.SetField(field(t, md, "foo"), ValueOfInt32(10))
	m.SetField(field(t, md, "big"), ValueOfInt64(-5))
	m.SetField(field(t, md, "name"), ValueOfString("x"))
	m.SetField(field(t, md, "data"), ValueOfBytes([]byte{1, 2}))
	m.SetField(field(t, md, "kind"), ValueOfEnum(2))
	m.SetField(field(t, md, "tags"), ValueOfList([]Value{ValueOfString("a"), ValueOfString("b")}))
	m.SetField(field(t, md, "counts"), ValueOfMap(map[MapKey]Value{
		ValueOfString("k").MapKey(): ValueOfInt32(3),
	}))
	child := NewMessage(md)
	child.SetField(field(t, md, "name"), ValueOfString("y"))
	m.SetField(field(t, md, "child"), ValueOfMessage(child))

	pm := dynamicpb.NewMessage(md)
	require.NoError(t, m.ConvertTo(pm))
	assert.Equal(t, int64(10), pm.Get(field(t, md, "foo")).Int())
	assert.Equal(t, "x", pm.Get(field(t, md, "name")).String())
	assert.Equal(t, 2, pm.Get(field(t, md, "tags")).List().Len())

	decoded := NewMessage(md)
	require.NoError(t, decoded.ConvertFrom(pm))
	assert.True(t, decoded.Equal(m))
}

func TestConvertUnknownFields(t *testing.T) {
	fd := compileFile(t, testSchema)
	md := messageDescriptor(t, fd, "TestMessage")

	m := NewMessage(md)
	m.AddUnknownField(300, UnknownField{WireType: protowire.VarintType, Value: 9})
	m.AddUnknownField(301, UnknownField{WireType: protowire.BytesType, Contents: []byte("abc")})

	pm := dynamicpb.NewMessage(md)
	require.NoError(t, m.ConvertTo(pm))
	assert.NotEmpty(t, pm.GetUnknown())

	decoded := NewMessage(md)
	require.NoError(t, decoded.ConvertFrom(pm))
	assert.Equal(t, []UnknownField{{WireType: protowire.VarintType, Value: 9}}, decoded.UnknownFields(300))
	assert.Equal(t, []UnknownField{{WireType: protowire.BytesType, Contents: []byte("abc")}}, decoded.UnknownFields(301))
}

func TestConvertTypeMismatch(t *testing.T) {
	fd := compileFile(t, testSchema)
	testMD := messageDescriptor(t, fd, "TestMessage")
	smallMD := messageDescriptor(t, fd, "Small")

	m := NewMessage(testMD)
	err := m.ConvertTo(dynamicpb.NewMessage(smallMD))
	require.ErrorContains(t, err, "cannot convert")
	err = m.ConvertFrom(dynamicpb.NewMessage(smallMD))
	require.ErrorContains(t, err, "cannot convert")
}

func TestConvertExtensions(t *testing.T) {
	fd := compileFile(t, testExtSchema)
	md := messageDescriptor(t, fd, "Extendable")
	extNum := extension(t, fd, "ext_num")

	var er ExtensionRegistry
	er.AddExtensionsFromFile(fd)

	m := NewMessageWithExtensionRegistry(md, &er)
	m.SetField(field(t, md, "name"), ValueOfString("n"))
	m.SetField(extNum, ValueOfInt32(7))

	pm := dynamicpb.NewMessage(md)
	require.NoError(t, m.ConvertTo(pm))

	decoded := NewMessageWithExtensionRegistry(md, &er)
	require.NoError(t, decoded.ConvertFrom(pm))
	assert.True(t, decoded.Equal(m))
}

func TestWireRoundTrip(t *testing.T) {
	fd := compileFile(t, testSchema)
	md := messageDescriptor(t, fd, "TestMessage")

	m := NewMessage(md)
	m.SetField(field(t, md, "foo"), ValueOfInt32(10))
	m.SetField(field(t, md, "tags"), ValueOfList([]Value{ValueOfString("a")}))
	m.AddUnknownField(300, UnknownField{WireType: protowire.Fixed32Type, Value: 4})

	raw, err := messageToWire(m)
	require.NoError(t, err)
	require.NotEmpty(t, raw)

	decoded, err := messageFromWire(md, nil, raw)
	require.NoError(t, err)
	assert.True(t, decoded.Equal(m))
}
