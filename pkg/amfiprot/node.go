package amfiprot

import (
	"fmt"
	"sync"
	"time"

	"github.com/amfitech/amfiprot/pkg/packet"
	"github.com/amfitech/amfiprot/pkg/payload"
)

// Node represents a single endpoint on a Connection. One Connection can
// carry multiple nodes, e.g. when the host connects via USB to a device
// that relays for additional devices over RF.
type Node struct {
	TxID uint8
	UUID payload.UUID
	Name string

	conn  *Connection
	inbox chan *packet.Packet

	mu           sync.Mutex
	packetNumber uint8
}

func newNode(txID uint8, uuid payload.UUID, conn *Connection) *Node {
	return &Node{
		TxID:  txID,
		UUID:  uuid,
		conn:  conn,
		inbox: make(chan *packet.Packet, queueCapacity),
	}
}

// NewNode creates a node for an endpoint whose identity is already known,
// bypassing discovery. The node is registered with the connection's worker.
func NewNode(txID uint8, uuid payload.UUID, conn *Connection) *Node {
	n := newNode(txID, uuid, conn)
	conn.addNode(n)
	return n
}

// SendPacket enqueues a pre-assembled packet. The packet number is not
// incremented.
func (n *Node) SendPacket(pkt *packet.Packet) error {
	return n.conn.EnqueuePacket(pkt)
}

// SendPayload wraps the payload in a packet addressed to this node and
// enqueues it, incrementing the node's packet number.
func (n *Node) SendPayload(p payload.Payload, kind packet.Kind) error {
	n.mu.Lock()
	number := n.packetNumber
	n.packetNumber++
	n.mu.Unlock()

	pkt := packet.FromPayload(p, n.TxID, packet.HostTxID, kind, number)
	return n.SendPacket(pkt)
}

// GetPacket dequeues the next inbound packet, waiting up to timeout.
// Returns ErrTimeout if nothing arrives.
func (n *Node) GetPacket(timeout time.Duration) (*packet.Packet, error) {
	select {
	case pkt := <-n.inbox:
		return pkt, nil
	case <-time.After(timeout):
		return nil, ErrTimeout
	}
}

// TryGetPacket dequeues the next inbound packet without blocking, returning
// nil when the inbox is empty.
func (n *Node) TryGetPacket() *packet.Packet {
	select {
	case pkt := <-n.inbox:
		return pkt
	default:
		return nil
	}
}

// AvailablePackets returns the number of packets waiting in the inbox.
func (n *Node) AvailablePackets() int {
	return len(n.inbox)
}

// FlushInbox discards all waiting packets.
func (n *Node) FlushInbox() {
	for {
		select {
		case <-n.inbox:
		default:
			return
		}
	}
}

// MaxPayloadSize returns the largest payload the connection's transport can
// carry.
func (n *Node) MaxPayloadSize() int {
	return n.conn.MaxPayloadSize()
}

func (n *Node) String() string {
	if n.Name != "" {
		return fmt.Sprintf("<Node> tx_id: %d, uuid: %s (%s)", n.TxID, n.UUID, n.Name)
	}
	return fmt.Sprintf("<Node> tx_id: %d, uuid: %s", n.TxID, n.UUID)
}
