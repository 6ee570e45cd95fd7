package amfiprot

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amfitech/amfiprot/pkg/packet"
	"github.com/amfitech/amfiprot/pkg/payload"
	"github.com/amfitech/amfiprot/pkg/transport"
)

// mockTransport is an in-memory transport. Frames written by the worker are
// recorded and optionally answered through the reply hook; inbound frames
// are injected on a buffered channel.
type mockTransport struct {
	mu      sync.Mutex
	written [][]byte
	inbound chan []byte

	// reply, when set, produces inbound frames in response to a written
	// packet. It runs on the worker goroutine.
	reply func(pktBytes []byte) [][]byte
}

func newMockTransport() *mockTransport {
	return &mockTransport{inbound: make(chan []byte, 256)}
}

func (m *mockTransport) Hash() string        { return "mock" }
func (m *mockTransport) MaxPayloadSize() int { return transport.MaxPayloadSize }
func (m *mockTransport) String() string      { return "mock transport" }
func (m *mockTransport) Reopen() error       { return nil }
func (m *mockTransport) Close() error        { return nil }

func (m *mockTransport) WriteFrame(pktBytes []byte, _ time.Duration) error {
	b := make([]byte, len(pktBytes))
	copy(b, pktBytes)

	m.mu.Lock()
	m.written = append(m.written, b)
	reply := m.reply
	m.mu.Unlock()

	if reply != nil {
		for _, frame := range reply(b) {
			m.inbound <- frame
		}
	}
	return nil
}

func (m *mockTransport) ReadFrame(timeout time.Duration) ([]byte, error) {
	select {
	case frame := <-m.inbound:
		return frame, nil
	case <-time.After(timeout):
		return nil, transport.ErrTimeout
	}
}

func (m *mockTransport) writtenFrames() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]byte, len(m.written))
	copy(out, m.written)
	return out
}

// inject queues an inbound packet from the given source endpoint.
func (m *mockTransport) inject(p payload.Payload, source uint8) {
	pkt := packet.FromPayload(p, packet.HostTxID, source, packet.NoAck, 0)
	m.inbound <- pkt.Bytes()
}

func successFrom(source uint8) []byte {
	return packet.FromPayload(&payload.Success{}, packet.HostTxID, source, packet.Ack, 0).Bytes()
}

func TestRoutingToEndpointsAndGlobalInbox(t *testing.T) {
	mock := newMockTransport()
	conn := NewConnection(mock)

	node3 := NewNode(3, payload.UUID{3}, conn)
	node4 := NewNode(4, payload.UUID{4}, conn)

	require.NoError(t, conn.Start())
	defer conn.Stop()

	mock.inject(&payload.DebugOutput{Message: "from three"}, 3)
	mock.inject(&payload.DebugOutput{Message: "from four"}, 4)

	pkt3, err := node3.GetPacket(time.Second)
	require.NoError(t, err)
	assert.Equal(t, uint8(3), pkt3.SourceTxID)

	pkt4, err := node4.GetPacket(time.Second)
	require.NoError(t, err)
	assert.Equal(t, uint8(4), pkt4.SourceTxID)

	// Exactly one packet each.
	assert.Nil(t, node3.TryGetPacket())
	assert.Nil(t, node4.TryGetPacket())

	// Both packets also land on the firehose.
	_, err = conn.GetGlobalPacket(time.Second)
	require.NoError(t, err)
	_, err = conn.GetGlobalPacket(time.Second)
	require.NoError(t, err)
}

func TestUnroutedPacketKeptOnGlobalInbox(t *testing.T) {
	mock := newMockTransport()
	conn := NewConnection(mock)

	node := NewNode(3, payload.UUID{3}, conn)
	require.NoError(t, conn.Start())
	defer conn.Stop()

	mock.inject(&payload.DebugOutput{Message: "stray"}, 9)

	pkt, err := conn.GetGlobalPacket(time.Second)
	require.NoError(t, err)
	assert.Equal(t, uint8(9), pkt.SourceTxID)
	assert.Nil(t, node.TryGetPacket())
}

func TestEndpointOrderingPreserved(t *testing.T) {
	mock := newMockTransport()
	conn := NewConnection(mock)

	node := NewNode(3, payload.UUID{3}, conn)
	require.NoError(t, conn.Start())
	defer conn.Stop()

	for i := 0; i < 10; i++ {
		pkt := packet.FromPayload(&payload.FirmwareStart{ProcessorID: uint8(i)}, packet.HostTxID, 3, packet.NoAck, uint8(i))
		mock.inbound <- pkt.Bytes()
	}

	for i := 0; i < 10; i++ {
		pkt, err := node.GetPacket(time.Second)
		require.NoError(t, err)
		assert.Equal(t, uint8(i), pkt.Number)
	}
}

func TestInboxBoundAndDropNewest(t *testing.T) {
	mock := newMockTransport()
	conn := NewConnection(mock)

	node := NewNode(3, payload.UUID{3}, conn)

	routing := routingTable{3: node.inbox}
	pkt := packet.FromPayload(&payload.Reboot{}, packet.HostTxID, 3, packet.NoAck, 0)

	for i := 0; i < queueCapacity+10; i++ {
		conn.route(pkt.Bytes(), routing)
	}

	// The inbox never exceeds its bound; excess packets were dropped.
	assert.Equal(t, queueCapacity, node.AvailablePackets())
	assert.Equal(t, queueCapacity, len(conn.globalInbox))
}

func TestInvalidCommonIDSkipsEndpointRouting(t *testing.T) {
	mock := newMockTransport()
	conn := NewConnection(mock)

	node := NewNode(3, payload.UUID{3}, conn)
	require.NoError(t, conn.Start())
	defer conn.Stop()

	mock.inject(&payload.Undefined{PayloadType: payload.TypeCommon, Raw: []byte{0x7F}}, 3)

	// Kept on the firehose for diagnosis...
	pkt, err := conn.GetGlobalPacket(time.Second)
	require.NoError(t, err)
	undef, ok := pkt.Payload.(*payload.Undefined)
	require.True(t, ok)
	assert.Equal(t, []byte{0x7F}, undef.Raw)

	// ...but dropped from endpoint routing.
	assert.Nil(t, node.TryGetPacket())
}

func TestCRCMismatchStillRouted(t *testing.T) {
	mock := newMockTransport()
	conn := NewConnection(mock)

	node := NewNode(3, payload.UUID{3}, conn)
	require.NoError(t, conn.Start())
	defer conn.Stop()

	raw := packet.FromPayload(&payload.DebugOutput{Message: "garbled"}, packet.HostTxID, 3, packet.NoAck, 0).Bytes()
	frame := append([]byte(nil), raw...)
	frame[len(frame)-1] ^= 0xFF
	mock.inbound <- frame

	pkt, err := node.GetPacket(time.Second)
	require.NoError(t, err)
	assert.False(t, pkt.PayloadCRCValid())
}

func TestSendPayloadIncrementsPacketNumber(t *testing.T) {
	mock := newMockTransport()
	conn := NewConnection(mock)

	node := NewNode(3, payload.UUID{3}, conn)
	require.NoError(t, conn.Start())

	for i := 0; i < 3; i++ {
		require.NoError(t, node.SendPayload(&payload.Reboot{}, packet.NoAck))
	}

	// Wait for the worker to drain the transmit queue before stopping.
	deadline := time.Now().Add(time.Second)
	for len(mock.writtenFrames()) < 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	conn.Stop()

	frames := mock.writtenFrames()
	require.Len(t, frames, 3)
	for i, frame := range frames {
		pkt, err := packet.Parse(frame)
		require.NoError(t, err)
		assert.Equal(t, uint8(i), pkt.Number)
		assert.Equal(t, uint8(3), pkt.DestinationTxID)
		assert.Equal(t, packet.HostTxID, pkt.SourceTxID)
	}
}

func TestFindNodes(t *testing.T) {
	mock := newMockTransport()
	mock.reply = func(pktBytes []byte) [][]byte {
		pkt, err := packet.Parse(pktBytes)
		if err != nil {
			return nil
		}
		switch pkt.Payload.(type) {
		case *payload.RequestDeviceID:
			a := packet.FromPayload(&payload.ReplyDeviceID{TxID: 3, UUID: payload.UUID{3}}, packet.HostTxID, 3, packet.Reply, 0)
			b := packet.FromPayload(&payload.ReplyDeviceID{TxID: 4, UUID: payload.UUID{4}}, packet.HostTxID, 4, packet.Reply, 0)
			// A duplicate reply must not produce a duplicate node.
			return [][]byte{a.Bytes(), b.Bytes(), a.Bytes()}
		case *payload.RequestDeviceName:
			name := "Sensor"
			if pkt.DestinationTxID == 4 {
				name = "Source"
			}
			reply := packet.FromPayload(&payload.ReplyDeviceName{Name: name}, packet.HostTxID, pkt.DestinationTxID, packet.Reply, 0)
			return [][]byte{reply.Bytes()}
		}
		return nil
	}

	conn := NewConnection(mock)
	nodes, err := conn.FindNodes()
	require.NoError(t, err)
	require.Len(t, nodes, 2)

	byTxID := map[uint8]*Node{nodes[0].TxID: nodes[0], nodes[1].TxID: nodes[1]}
	require.Contains(t, byTxID, uint8(3))
	require.Contains(t, byTxID, uint8(4))
	assert.Equal(t, "Sensor", byTxID[3].Name)
	assert.Equal(t, "Source", byTxID[4].Name)

	// An unchanged UUID set keeps the existing nodes.
	again, err := conn.FindNodes()
	require.NoError(t, err)
	require.Len(t, again, 2)
	assert.ElementsMatch(t, nodes, again)
}

func TestFindNodesWhileRunningKeepsWorkerAlive(t *testing.T) {
	mock := newMockTransport()
	mock.reply = func(pktBytes []byte) [][]byte {
		pkt, err := packet.Parse(pktBytes)
		if err != nil {
			return nil
		}
		switch pkt.Payload.(type) {
		case *payload.RequestDeviceID:
			reply := packet.FromPayload(&payload.ReplyDeviceID{TxID: 3, UUID: payload.UUID{3}}, packet.HostTxID, 3, packet.Reply, 0)
			return [][]byte{reply.Bytes()}
		case *payload.RequestDeviceName:
			reply := packet.FromPayload(&payload.ReplyDeviceName{Name: "Sensor"}, packet.HostTxID, pkt.DestinationTxID, packet.Reply, 0)
			return [][]byte{reply.Bytes()}
		}
		return nil
	}

	conn := NewConnection(mock)
	nodes, err := conn.FindNodes()
	require.NoError(t, err)
	require.Len(t, nodes, 1)

	require.NoError(t, conn.Start())
	defer conn.Stop()

	// Re-running discovery against the same endpoint set rides the worker
	// and must not replace the node or interrupt routing.
	again, err := conn.FindNodes()
	require.NoError(t, err)
	require.Len(t, again, 1)
	assert.Same(t, nodes[0], again[0])

	mock.inject(&payload.DebugOutput{Message: "still routing"}, 3)
	pkt, err := nodes[0].GetPacket(time.Second)
	require.NoError(t, err)
	assert.Equal(t, uint8(3), pkt.SourceTxID)
}
