package payload

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func roundTrip(t *testing.T, p Common) Common {
	t.Helper()
	decoded, err := Decode(TypeCommon, p.Bytes())
	require.NoError(t, err)
	c, ok := decoded.(Common)
	require.True(t, ok)
	return c
}

func TestCommonRoundTrips(t *testing.T) {
	uuid := UUID{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08, 0x09, 0x0A, 0x0B, 0x0C}

	payloads := []Common{
		&RequestDeviceID{},
		&ReplyDeviceID{TxID: 3, UUID: uuid},
		&SetTxID{TxID: 9, UUID: uuid},
		&RequestFirmwareVersion{},
		&ReplyFirmwareVersion{Major: 1, Minor: 2, Patch: 3, Build: 400},
		&FirmwareStart{ProcessorID: 1},
		&FirmwareData{ProcessorID: 0, Chunk: []byte{1, 2, 3}},
		&FirmwareEnd{ProcessorID: 1},
		&RequestDeviceName{},
		&ReplyDeviceName{Name: "Sensor"},
		&LoadDefault{},
		&SaveAsDefault{UUID: uuid},
		&RequestConfigurationNameUID{Category: 2, Index: 300},
		&ReplyConfigurationNameUID{Index: 300, Category: 2, UID: 0xDEADBEEF, Name: "gain"},
		&RequestConfigurationValueUID{UID: 77},
		&ReplyConfigurationValueUID{UID: 77, Value: Value{Type: ValueUint32, Data: uint32(1234)}},
		&SetConfigurationValueUID{UID: 77, Value: Value{Type: ValueFloat, Data: float32(0.5)}},
		&RequestConfigurationCategory{Category: 1},
		&ReplyConfigurationCategory{Category: 1, Name: "General"},
		&RequestConfigurationValueCount{Category: 1},
		&ReplyConfigurationValueCount{Category: 1, Count: 12},
		&RequestCategoryCount{},
		&ReplyCategoryCount{Count: 4},
		&RequestFirmwareVersionPerID{ProcessorID: 2},
		&ReplyFirmwareVersionPerID{Major: 1, Minor: 0, Patch: 3, Build: 7, ProcessorID: 2},
		&DebugOutput{Message: "boot ok"},
		&Reboot{},
		&ResetParameter{Mode: ResetModeCompiledDefault},
		&RequestProcedureSpec{Index: 0, UID: 42},
		&ReplyProcedureSpec{
			Index:      1,
			UID:        42,
			ReturnType: ValueInt32,
			ParamTypes: [5]ValueType{ValueUint8, ValueBool, ValueBool, ValueBool, ValueBool},
			Name:       "set_gain",
		},
		&RequestProcedureCall{UID: 42, Params: []Value{{Type: ValueUint8, Data: uint8(230)}}},
		&ReplyProcedureCall{UID: 42, ReturnType: ValueInt32, Raw: [8]byte{0x2A}},
	}

	for _, p := range payloads {
		t.Run(p.String(), func(t *testing.T) {
			decoded := roundTrip(t, p)
			assert.Equal(t, p.CommonID(), decoded.CommonID())
			assert.Equal(t, p.Bytes(), decoded.Bytes())
			assert.Equal(t, len(p.Bytes()), p.Len())
		})
	}
}

func TestUUIDBlockReversal(t *testing.T) {
	uuid := UUID{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08, 0x09, 0x0A, 0x0B, 0x0C}

	reply := &ReplyDeviceID{TxID: 1, UUID: uuid}
	b := reply.Bytes()

	// ID byte, tx_id byte, then the block-reversed UUID.
	wantTail := []byte{0x09, 0x0A, 0x0B, 0x0C, 0x05, 0x06, 0x07, 0x08, 0x01, 0x02, 0x03, 0x04}
	assert.Equal(t, wantTail, b[2:])

	decoded := roundTrip(t, reply)
	assert.Equal(t, uuid, decoded.(*ReplyDeviceID).UUID)
}

func TestUnknownCommonID(t *testing.T) {
	_, err := Decode(TypeCommon, []byte{0x7F, 1, 2, 3})
	var invalid *InvalidCommonIDError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, CommonID(0x7F), invalid.ID)
}

func TestUnknownTopLevelType(t *testing.T) {
	p, err := Decode(Type(0x42), []byte{0xAA, 0xBB})
	require.NoError(t, err)

	undef, ok := p.(*Undefined)
	require.True(t, ok)
	assert.Equal(t, Type(0x42), undef.PayloadType)
	assert.Equal(t, []byte{0xAA, 0xBB}, undef.Raw)
}

func TestResponseMarkers(t *testing.T) {
	tests := []struct {
		typ  Type
		want string
	}{
		{TypeSuccess, "Success"},
		{TypeNotImplemented, "Not implemented"},
		{TypeFailure, "Failure"},
		{TypeInvalidRequest, "Invalid request"},
	}

	for _, tt := range tests {
		p, err := Decode(tt.typ, []byte{0x01})
		require.NoError(t, err)
		assert.Equal(t, tt.typ, p.Type())
		assert.Equal(t, tt.want, p.String())
		assert.Equal(t, []byte{0x01}, p.Bytes())
	}
}

func TestTruncatedCommonPayload(t *testing.T) {
	_, err := Decode(TypeCommon, []byte{byte(IDReplyDeviceID), 0x01})
	var trunc *TruncatedError
	require.ErrorAs(t, err, &trunc)
	assert.Equal(t, IDReplyDeviceID, trunc.ID)
}

func TestDebugOutputLength(t *testing.T) {
	p := &DebugOutput{Message: "abc"}
	// ID byte + message + NUL terminator.
	assert.Equal(t, 5, p.Len())
	assert.Equal(t, len(p.Bytes()), p.Len())
}

func TestProcedureCallSlotLayout(t *testing.T) {
	call := &RequestProcedureCall{
		UID: 1,
		Params: []Value{
			{Type: ValueInt8, Data: int8(-1)},
			{Type: ValueUint16, Data: uint16(0x1234)},
		},
	}
	b := call.Bytes()

	// ID + uid + five 9-byte slots, always.
	require.Len(t, b, 5+5*9)

	// Slot 0: int8 -1 sign-extended across all eight value bytes.
	slot0 := b[5:14]
	assert.Equal(t, byte(ValueInt8), slot0[0])
	assert.Equal(t, []byte{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF}, slot0[1:])

	// Slot 1: uint16 little-endian in the low bytes, zero-extended.
	slot1 := b[14:23]
	assert.Equal(t, byte(ValueUint16), slot1[0])
	assert.Equal(t, []byte{0x34, 0x12, 0, 0, 0, 0, 0, 0}, slot1[1:])

	// Unused slots carry tag 0 and value 0.
	for i := 2; i < 5; i++ {
		slot := b[5+i*9 : 5+(i+1)*9]
		assert.Equal(t, make([]byte, 9), slot)
	}

	decoded := roundTrip(t, call)
	params := decoded.(*RequestProcedureCall).Params
	require.Len(t, params, 5)
	assert.Equal(t, int8(-1), params[0].Data)
	assert.Equal(t, uint16(0x1234), params[1].Data)
}
