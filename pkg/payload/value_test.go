package payload

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValueRoundTrips(t *testing.T) {
	values := []Value{
		{Type: ValueBool, Data: true},
		{Type: ValueBool, Data: false},
		{Type: ValueChar, Data: byte('A')},
		{Type: ValueInt8, Data: int8(-5)},
		{Type: ValueUint8, Data: uint8(200)},
		{Type: ValueInt16, Data: int16(-1000)},
		{Type: ValueUint16, Data: uint16(50000)},
		{Type: ValueInt32, Data: int32(-100000)},
		{Type: ValueUint32, Data: uint32(3000000000)},
		{Type: ValueInt64, Data: int64(-1 << 40)},
		{Type: ValueUint64, Data: uint64(1) << 60},
		{Type: ValueFloat, Data: float32(1.5)},
		{Type: ValueDouble, Data: float64(-2.25)},
		{Type: ValueProcedureCall, Data: true},
	}

	for _, v := range values {
		enc, err := v.Encode()
		require.NoError(t, err)
		assert.Len(t, enc, v.Type.Size())

		dec, err := DecodeValue(v.Type, enc)
		require.NoError(t, err)
		assert.Equal(t, v, dec)
	}
}

func TestValueEncodeLittleEndian(t *testing.T) {
	enc, err := Value{Type: ValueUint32, Data: uint32(0x01020304)}.Encode()
	require.NoError(t, err)
	assert.Equal(t, []byte{0x04, 0x03, 0x02, 0x01}, enc)
}

func TestDecodeValueShortBuffer(t *testing.T) {
	_, err := DecodeValue(ValueUint32, []byte{1, 2})
	assert.Error(t, err)
}

func TestDecodeValueUnknownType(t *testing.T) {
	_, err := DecodeValue(ValueType(99), []byte{1, 2, 3, 4, 5, 6, 7, 8})
	assert.Error(t, err)
}

func TestEncodeTypeMismatch(t *testing.T) {
	_, err := Value{Type: ValueUint32, Data: "not a number"}.Encode()
	assert.Error(t, err)
}

func TestCoerceJSONNumbers(t *testing.T) {
	// encoding/json decodes every number as float64.
	v, err := Coerce(float64(42), ValueUint16)
	require.NoError(t, err)
	assert.Equal(t, Value{Type: ValueUint16, Data: uint16(42)}, v)

	v, err = Coerce(float64(-3), ValueInt32)
	require.NoError(t, err)
	assert.Equal(t, Value{Type: ValueInt32, Data: int32(-3)}, v)

	v, err = Coerce(float64(1.5), ValueDouble)
	require.NoError(t, err)
	assert.Equal(t, Value{Type: ValueDouble, Data: 1.5}, v)

	v, err = Coerce(true, ValueBool)
	require.NoError(t, err)
	assert.Equal(t, Value{Type: ValueBool, Data: true}, v)

	v, err = Coerce("A", ValueChar)
	require.NoError(t, err)
	assert.Equal(t, Value{Type: ValueChar, Data: byte('A')}, v)

	_, err = Coerce("many chars", ValueUint8)
	assert.Error(t, err)
}
