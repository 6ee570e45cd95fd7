package packet

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amfitech/amfiprot/pkg/payload"
)

func TestReplyDeviceNameWireFormat(t *testing.T) {
	pkt := FromPayload(&payload.ReplyDeviceName{Name: "Sensor"}, 0, 7, NoAck, 0)

	want := []byte{
		0x08, 0x00, 0x00, 0x00, 0x07, 0x00, 0x3F, // header + header CRC
		0x09, 0x53, 0x65, 0x6E, 0x73, 0x6F, 0x72, 0x00, // payload
		0x69, // payload CRC
	}
	assert.Equal(t, want, pkt.Bytes())

	parsed, err := Parse(want)
	require.NoError(t, err)
	assert.True(t, parsed.HeaderCRCValid())
	assert.True(t, parsed.PayloadCRCValid())

	name, ok := parsed.Payload.(*payload.ReplyDeviceName)
	require.True(t, ok)
	assert.Equal(t, "Sensor", name.Name)
	assert.Equal(t, uint8(7), parsed.SourceTxID)
	assert.Equal(t, uint8(0), parsed.DestinationTxID)
}

func TestRoundTrip(t *testing.T) {
	payloads := []payload.Payload{
		&payload.RequestDeviceID{},
		&payload.ReplyDeviceID{TxID: 3, UUID: payload.UUID{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12}},
		&payload.ReplyFirmwareVersion{Major: 1, Minor: 2, Patch: 3, Build: 4},
		&payload.FirmwareData{ProcessorID: 1, Chunk: []byte{0xDE, 0xAD}},
		&payload.DebugOutput{Message: "hello"},
		&payload.Success{},
	}

	for _, pl := range payloads {
		pkt := FromPayload(pl, 5, 0, RequestAck, 42)
		parsed, err := Parse(pkt.Bytes())
		require.NoError(t, err, "payload %v", pl)

		assert.Equal(t, RequestAck, parsed.Kind)
		assert.Equal(t, uint8(42), parsed.Number)
		assert.Equal(t, uint8(5), parsed.DestinationTxID)
		assert.Equal(t, uint8(0), parsed.SourceTxID)
		assert.Equal(t, pl.Type(), parsed.PayloadType)
		assert.True(t, parsed.HeaderCRCValid())
		assert.True(t, parsed.PayloadCRCValid())
		if pl.Len() > 0 {
			assert.Equal(t, pl, parsed.Payload)
		}
		assert.Equal(t, pkt.Bytes(), parsed.Bytes())
	}
}

func TestZeroPayloadPacketHasNoPayloadCRC(t *testing.T) {
	pkt := FromPayload(&payload.Success{}, 1, 0, Ack, 0)
	b := pkt.Bytes()
	assert.Len(t, b, HeaderLength)

	parsed, err := Parse(b)
	require.NoError(t, err)
	assert.Nil(t, parsed.Payload)
	assert.True(t, parsed.PayloadCRCValid())
}

func TestKindAndTTLBits(t *testing.T) {
	pkt := FromPayload(&payload.Reboot{}, 3, 0, Reply, 9)
	pkt.TTL = 0x15

	b := pkt.Bytes()
	assert.Equal(t, byte(3)<<6|0x15, b[1])

	parsed, err := Parse(b)
	require.NoError(t, err)
	assert.Equal(t, Reply, parsed.Kind)
	assert.Equal(t, uint8(0x15), parsed.TTL)
}

func TestPayloadBodyStartsAtOffsetSeven(t *testing.T) {
	pkt := FromPayload(&payload.Reboot{}, 0, 2, NoAck, 0)
	b := pkt.Bytes()
	// Header CRC at index 6, common payload ID immediately after.
	assert.Equal(t, byte(payload.IDReboot), b[7])
}

func TestParseShortAndTruncated(t *testing.T) {
	_, err := Parse([]byte{1, 2, 3})
	assert.ErrorIs(t, err, ErrShort)

	// Declares 10 payload bytes but carries none.
	hdr := []byte{10, 0, 0, 0, 1, 0, 0}
	_, err = Parse(hdr)
	assert.ErrorIs(t, err, ErrTruncated)
}

func TestUnknownCommonIDReported(t *testing.T) {
	pkt := FromPayload(&payload.Undefined{PayloadType: payload.TypeCommon, Raw: []byte{0x7F}}, 0, 1, NoAck, 0)

	parsed, err := Parse(pkt.Bytes())
	var invalid *payload.InvalidCommonIDError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, payload.CommonID(0x7F), invalid.ID)

	// The packet is still returned with the raw bytes preserved.
	require.NotNil(t, parsed)
	undef, ok := parsed.Payload.(*payload.Undefined)
	require.True(t, ok)
	assert.Equal(t, []byte{0x7F}, undef.Raw)
}

func TestUnknownTopLevelTypeDegradesGracefully(t *testing.T) {
	pkt := FromPayload(&payload.Undefined{PayloadType: payload.Type(0x42), Raw: []byte{0xAA, 0xBB}}, 0, 1, NoAck, 0)

	parsed, err := Parse(pkt.Bytes())
	require.NoError(t, err)

	undef, ok := parsed.Payload.(*payload.Undefined)
	require.True(t, ok)
	assert.Equal(t, payload.Type(0x42), undef.PayloadType)
	assert.Equal(t, []byte{0xAA, 0xBB}, undef.Raw)
}

func TestCRCMismatchDetectedButNotFatal(t *testing.T) {
	pkt := FromPayload(&payload.ReplyDeviceName{Name: "X"}, 0, 1, NoAck, 0)
	b := append([]byte(nil), pkt.Bytes()...)

	b[6] ^= 0xFF // corrupt header CRC
	parsed, err := Parse(b)
	require.NoError(t, err)
	assert.False(t, parsed.HeaderCRCValid())
	assert.True(t, parsed.PayloadCRCValid())

	b = append([]byte(nil), pkt.Bytes()...)
	b[len(b)-1] ^= 0xFF // corrupt payload CRC
	parsed, err = Parse(b)
	require.NoError(t, err)
	assert.True(t, parsed.HeaderCRCValid())
	assert.False(t, parsed.PayloadCRCValid())
	// The original wire bytes survive re-encoding.
	assert.Equal(t, b, parsed.Bytes())
}
