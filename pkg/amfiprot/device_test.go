package amfiprot

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amfitech/amfiprot/pkg/packet"
	"github.com/amfitech/amfiprot/pkg/payload"
)

// deviceUnderTest wires a mock transport, a started connection and a device
// on endpoint 3.
func deviceUnderTest(t *testing.T, reply func(pktBytes []byte) [][]byte) (*Device, *mockTransport, func()) {
	t.Helper()

	mock := newMockTransport()
	mock.reply = reply
	conn := NewConnection(mock)
	node := NewNode(3, payload.UUID{3}, conn)
	require.NoError(t, conn.Start())

	return NewDevice(node), mock, conn.Stop
}

// replyWith answers every request from endpoint 3 using fn.
func replyWith(fn func(pkt *packet.Packet) payload.Payload) func([]byte) [][]byte {
	return func(pktBytes []byte) [][]byte {
		pkt, err := packet.Parse(pktBytes)
		if err != nil {
			return nil
		}
		p := fn(pkt)
		if p == nil {
			return nil
		}
		reply := packet.FromPayload(p, packet.HostTxID, 3, packet.Reply, 0)
		return [][]byte{reply.Bytes()}
	}
}

func TestDeviceName(t *testing.T) {
	dev, _, stop := deviceUnderTest(t, replyWith(func(pkt *packet.Packet) payload.Payload {
		if _, ok := pkt.Payload.(*payload.RequestDeviceName); ok {
			return &payload.ReplyDeviceName{Name: "Sensor"}
		}
		return nil
	}))
	defer stop()

	name, err := dev.Name()
	require.NoError(t, err)
	assert.Equal(t, "Sensor", name)
}

func TestDeviceFirmwareVersion(t *testing.T) {
	dev, _, stop := deviceUnderTest(t, replyWith(func(pkt *packet.Packet) payload.Payload {
		if _, ok := pkt.Payload.(*payload.RequestFirmwareVersion); ok {
			return &payload.ReplyFirmwareVersion{Major: 1, Minor: 2, Patch: 3, Build: 4}
		}
		return nil
	}))
	defer stop()

	version, err := dev.FirmwareVersion()
	require.NoError(t, err)
	assert.Equal(t, "1.2.3.4", version.String())
}

func TestAwaitSkipsUnrelatedPackets(t *testing.T) {
	dev, mock, stop := deviceUnderTest(t, replyWith(func(pkt *packet.Packet) payload.Payload {
		if _, ok := pkt.Payload.(*payload.RequestDeviceName); ok {
			return &payload.ReplyDeviceName{Name: "Sensor"}
		}
		return nil
	}))
	defer stop()

	// Unrelated traffic queued ahead of the request must be skipped.
	mock.inject(&payload.DebugOutput{Message: "chatter"}, 3)
	mock.inject(&payload.DebugOutput{Message: "more chatter"}, 3)

	name, err := dev.Name()
	require.NoError(t, err)
	assert.Equal(t, "Sensor", name)
}

func TestAwaitTimesOut(t *testing.T) {
	dev, _, stop := deviceUnderTest(t, nil)
	defer stop()

	_, err := dev.Name()
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestUpdateFirmwareChunking(t *testing.T) {
	dev, mock, stop := deviceUnderTest(t, func(pktBytes []byte) [][]byte {
		pkt, err := packet.Parse(pktBytes)
		if err != nil {
			return nil
		}
		switch pkt.Payload.(type) {
		case *payload.FirmwareStart, *payload.FirmwareData:
			return [][]byte{successFrom(3)}
		}
		return nil
	})
	defer stop()

	image := make([]byte, 1000)
	for i := range image {
		image[i] = byte(i)
	}

	var reported int
	require.NoError(t, dev.UpdateFirmware(image, 0, func(sent, total int) {
		reported = sent
		assert.Equal(t, 1000, total)
	}))
	assert.Equal(t, 1000, reported)

	var start, end int
	var chunks [][]byte
	for _, frame := range mock.writtenFrames() {
		pkt, err := packet.Parse(frame)
		require.NoError(t, err)
		switch p := pkt.Payload.(type) {
		case *payload.FirmwareStart:
			start++
		case *payload.FirmwareEnd:
			end++
		case *payload.FirmwareData:
			// Data chunks request an acknowledgement.
			assert.Equal(t, packet.RequestAck, pkt.Kind)
			chunks = append(chunks, p.Chunk)
		}
	}

	assert.Equal(t, 1, start)
	assert.Equal(t, 1, end)
	// ceil(1000/52) chunks of at most 52 bytes, final chunk 12 bytes.
	require.Len(t, chunks, 20)
	for _, chunk := range chunks[:19] {
		assert.Len(t, chunk, 52)
	}
	assert.Len(t, chunks[19], 12)

	var reassembled []byte
	for _, chunk := range chunks {
		reassembled = append(reassembled, chunk...)
	}
	assert.Equal(t, image, reassembled)
}

func TestUpdateFirmwareStartFailure(t *testing.T) {
	dev, _, stop := deviceUnderTest(t, nil) // device never acknowledges
	defer stop()

	old := firmwareReplyTimeout
	firmwareReplyTimeout = 100 * time.Millisecond
	defer func() { firmwareReplyTimeout = old }()

	err := dev.UpdateFirmware(make([]byte, 100), 0, nil)
	var transferErr *FirmwareTransferError
	require.ErrorAs(t, err, &transferErr)
	assert.Equal(t, "start", transferErr.Step)
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestConfigReadAll(t *testing.T) {
	dev, _, stop := deviceUnderTest(t, replyWith(func(pkt *packet.Packet) payload.Payload {
		switch p := pkt.Payload.(type) {
		case *payload.RequestCategoryCount:
			return &payload.ReplyCategoryCount{Count: 1}
		case *payload.RequestConfigurationCategory:
			return &payload.ReplyConfigurationCategory{Category: p.Category, Name: "General"}
		case *payload.RequestConfigurationValueCount:
			return &payload.ReplyConfigurationValueCount{Category: p.Category, Count: 2}
		case *payload.RequestConfigurationNameUID:
			return &payload.ReplyConfigurationNameUID{
				Index:    p.Index,
				Category: p.Category,
				UID:      100 + uint32(p.Index),
				Name:     []string{"gain", "offset"}[p.Index],
			}
		case *payload.RequestConfigurationValueUID:
			return &payload.ReplyConfigurationValueUID{
				UID:   p.UID,
				Value: payload.Value{Type: payload.ValueUint16, Data: uint16(p.UID)},
			}
		}
		return nil
	}))
	defer stop()

	config, err := dev.Config().ReadAll()
	require.NoError(t, err)
	require.Len(t, config, 1)
	assert.Equal(t, "General", config[0].Name)
	require.Len(t, config[0].Parameters, 2)
	assert.Equal(t, Parameter{UID: 100, Name: "gain", Value: uint16(100)}, config[0].Parameters[0])
	assert.Equal(t, Parameter{UID: 101, Name: "offset", Value: uint16(101)}, config[0].Parameters[1])

	flat, err := dev.Config().ReadAllFlat()
	require.NoError(t, err)
	require.Len(t, flat, 2)
	assert.Equal(t, "General", flat[0].Category)
}

func TestConfigWriteReadback(t *testing.T) {
	// A tiny device model: one uint16 parameter that honors writes.
	stored := payload.Value{Type: payload.ValueUint16, Data: uint16(7)}

	dev, _, stop := deviceUnderTest(t, replyWith(func(pkt *packet.Packet) payload.Payload {
		switch p := pkt.Payload.(type) {
		case *payload.RequestConfigurationValueUID:
			return &payload.ReplyConfigurationValueUID{UID: p.UID, Value: stored}
		case *payload.SetConfigurationValueUID:
			stored = p.Value
			return &payload.ReplyConfigurationValueUID{UID: p.UID, Value: stored}
		}
		return nil
	}))
	defer stop()

	require.NoError(t, dev.Config().Write(55, float64(42))) // JSON-style number
	assert.Equal(t, uint16(42), stored.Data)
}

func TestConfigWriteMismatch(t *testing.T) {
	dev, _, stop := deviceUnderTest(t, replyWith(func(pkt *packet.Packet) payload.Payload {
		switch p := pkt.Payload.(type) {
		case *payload.RequestConfigurationValueUID:
			return &payload.ReplyConfigurationValueUID{UID: p.UID, Value: payload.Value{Type: payload.ValueUint16, Data: uint16(7)}}
		case *payload.SetConfigurationValueUID:
			// Device ignores the write and reports the old value.
			return &payload.ReplyConfigurationValueUID{UID: p.UID, Value: payload.Value{Type: payload.ValueUint16, Data: uint16(7)}}
		}
		return nil
	}))
	defer stop()

	err := dev.Config().Write(55, uint16(42))
	var mismatch *ConfigWriteMismatchError
	require.ErrorAs(t, err, &mismatch)
	assert.Equal(t, uint32(55), mismatch.UID)
}

func TestProcedureSpecAndCall(t *testing.T) {
	dev, _, stop := deviceUnderTest(t, replyWith(func(pkt *packet.Packet) payload.Payload {
		switch p := pkt.Payload.(type) {
		case *payload.RequestProcedureSpec:
			return &payload.ReplyProcedureSpec{
				Index:      p.Index,
				UID:        42,
				ReturnType: payload.ValueInt32,
				ParamTypes: [5]payload.ValueType{payload.ValueUint8},
				Name:       "set_gain",
			}
		case *payload.RequestProcedureCall:
			var raw [8]byte
			raw[0] = 0x2A
			return &payload.ReplyProcedureCall{UID: p.UID, ReturnType: payload.ValueInt32, Raw: raw}
		}
		return nil
	}))
	defer stop()

	spec, err := dev.ProcedureSpec(0, 0)
	require.NoError(t, err)
	assert.Equal(t, "set_gain", spec.Name)
	assert.Equal(t, uint32(42), spec.UID)

	reply, err := dev.CallProcedure(spec.UID, payload.Value{Type: spec.ParamTypes[0], Data: uint8(230)})
	require.NoError(t, err)

	result, err := reply.ReturnValue()
	require.NoError(t, err)
	assert.Equal(t, int32(42), result.Data)

	_, err = dev.CallProcedure(1, make([]payload.Value, 6)...)
	assert.Error(t, err)
}

func TestGetGlobalPacketTimeout(t *testing.T) {
	mock := newMockTransport()
	conn := NewConnection(mock)

	_, err := conn.GetGlobalPacket(10 * time.Millisecond)
	assert.ErrorIs(t, err, ErrTimeout)
}
