// Package amfiprot implements the Amfiprot multiplexed transport engine
// and the typed device operations riding on it: a background worker that
// owns the physical transport, per-endpoint inboxes with a global firehose,
// endpoint discovery, configuration access, firmware download and remote
// procedure calls.
package amfiprot

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/amfitech/amfiprot/pkg/metrics"
	"github.com/amfitech/amfiprot/pkg/packet"
	"github.com/amfitech/amfiprot/pkg/payload"
	"github.com/amfitech/amfiprot/pkg/transport"
)

const (
	queueCapacity     = 128
	writeTimeout      = 1000 * time.Millisecond
	readPollInterval  = 1 * time.Millisecond
	reconnectInterval = 1 * time.Second
	discoveryWindow   = 1 * time.Second
	discoveryPoll     = 100 * time.Millisecond
)

type connState int

const (
	stateConnected connState = iota
	stateDisconnected
)

type routingTable map[uint8]chan *packet.Packet

// Connection owns one physical transport, the transmit queue, the global
// inbox, the background worker and the list of known nodes. The transport
// handle belongs exclusively to the worker while the connection is started.
type Connection struct {
	transport transport.Transport

	transmitQueue  chan *packet.Packet
	globalInbox    chan *packet.Packet
	routingUpdates chan routingTable

	mu      sync.Mutex
	nodes   []*Node
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// NewConnection binds a connection to an open transport. Call FindNodes to
// discover endpoints and Start to launch the worker.
func NewConnection(t transport.Transport) *Connection {
	return &Connection{
		transport:      t,
		transmitQueue:  make(chan *packet.Packet, queueCapacity),
		globalInbox:    make(chan *packet.Packet, queueCapacity),
		routingUpdates: make(chan routingTable, 1),
	}
}

// Transport returns the underlying transport. Callers must not perform I/O
// on it while the worker is running.
func (c *Connection) Transport() transport.Transport { return c.transport }

// MaxPayloadSize returns the largest payload one packet can carry on this
// connection.
func (c *Connection) MaxPayloadSize() int { return c.transport.MaxPayloadSize() }

// Nodes returns the currently known endpoints.
func (c *Connection) Nodes() []*Node {
	c.mu.Lock()
	defer c.mu.Unlock()
	nodes := make([]*Node, len(c.nodes))
	copy(nodes, c.nodes)
	return nodes
}

// GlobalInbox exposes the firehose: every parsed inbound packet is
// delivered here regardless of endpoint routing.
func (c *Connection) GlobalInbox() <-chan *packet.Packet { return c.globalInbox }

// GetGlobalPacket dequeues the next packet from the firehose, waiting up to
// timeout.
func (c *Connection) GetGlobalPacket(timeout time.Duration) (*packet.Packet, error) {
	select {
	case pkt := <-c.globalInbox:
		return pkt, nil
	case <-time.After(timeout):
		return nil, ErrTimeout
	}
}

// EnqueuePacket places a packet on the transmit queue. The queue is
// bounded; when full the packet is dropped with a diagnostic.
func (c *Connection) EnqueuePacket(pkt *packet.Packet) error {
	select {
	case c.transmitQueue <- pkt:
		return nil
	default:
		log.Printf("Transmit queue full! Packet discarded.")
		metrics.InboxDrops.WithLabelValues("transmit").Inc()
		return fmt.Errorf("amfiprot: transmit queue full, packet dropped")
	}
}

// Start launches the transport worker. From this point the transport
// handle is owned by the worker until Stop.
func (c *Connection) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return nil
	}

	c.stopCh = make(chan struct{})
	c.running = true
	c.wg.Add(1)
	go c.worker(c.stopCh, c.routingSnapshotLocked())
	return nil
}

// Stop terminates the worker. Pending transmit-queue entries are kept but
// not flushed.
func (c *Connection) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.running = false
	close(c.stopCh)
	c.mu.Unlock()
	c.wg.Wait()
}

// Close stops the worker and releases the transport.
func (c *Connection) Close() error {
	c.Stop()
	return c.transport.Close()
}

// Refresh pushes the current node routing table to a running worker.
func (c *Connection) Refresh() {
	c.mu.Lock()
	snapshot := c.routingSnapshotLocked()
	c.mu.Unlock()

	// Replace any pending update; the worker only needs the newest table.
	select {
	case <-c.routingUpdates:
	default:
	}
	c.routingUpdates <- snapshot
}

func (c *Connection) routingSnapshotLocked() routingTable {
	table := make(routingTable, len(c.nodes))
	for _, n := range c.nodes {
		table[n.TxID] = n.inbox
	}
	return table
}

func (c *Connection) addNode(n *Node) {
	c.mu.Lock()
	c.nodes = append(c.nodes, n)
	c.mu.Unlock()
	c.Refresh()
}

// worker is the single loop owning the transport: it drains the transmit
// queue, picks up routing updates, reads one frame with a short timeout and
// routes parsed packets. A lost handle moves it into a reconnect loop keyed
// on the stable device hash.
func (c *Connection) worker(stopCh chan struct{}, routing routingTable) {
	defer c.wg.Done()

	state := stateConnected

	for {
		select {
		case <-stopCh:
			return
		default:
		}

		if state == stateDisconnected {
			if err := c.transport.Reopen(); err != nil {
				select {
				case <-stopCh:
					return
				case <-time.After(reconnectInterval):
				}
				continue
			}
			log.Printf("Connection re-established!")
			metrics.Reconnects.Inc()
			state = stateConnected
		}

		// Send all pending packets.
	drain:
		for {
			select {
			case pkt := <-c.transmitQueue:
				if err := c.transport.WriteFrame(pkt.Bytes(), writeTimeout); err != nil {
					// The packet is dropped; a known weakness of the
					// drain-then-read loop.
					log.Printf("Could not send packet (%v)", err)
					metrics.WriteErrors.Inc()
					if errors.Is(err, transport.ErrLost) {
						state = stateDisconnected
						break drain
					}
					continue
				}
				metrics.PacketsTransmitted.Inc()
			default:
				break drain
			}
		}
		if state == stateDisconnected {
			continue
		}

		// Pick up a routing update before receiving.
		select {
		case routing = <-c.routingUpdates:
		default:
		}

		frame, err := c.transport.ReadFrame(readPollInterval)
		if err != nil {
			switch {
			case errors.Is(err, transport.ErrTimeout):
				// Idle cycle.
			case errors.Is(err, transport.ErrLost):
				log.Printf("Connection lost. Reconnecting...")
				state = stateDisconnected
			default:
				log.Printf("Frame error: %v", err)
				metrics.ParseErrors.Inc()
			}
			continue
		}

		c.route(frame, routing)
	}
}

// route parses one frame and delivers the packet: always to the global
// inbox, and to the matching endpoint inbox unless the payload failed to
// parse. CRC mismatches are reported but do not suppress delivery.
func (c *Connection) route(frame []byte, routing routingTable) {
	pkt, err := packet.Parse(frame)
	if pkt == nil {
		log.Printf("Dropping unparseable frame: %v", err)
		metrics.ParseErrors.Inc()
		return
	}

	metrics.PacketsReceived.Inc()

	if !pkt.HeaderCRCValid() || !pkt.PayloadCRCValid() {
		log.Printf("RX CRC mismatch (header ok: %t, payload ok: %t): %v",
			pkt.HeaderCRCValid(), pkt.PayloadCRCValid(), pkt)
		metrics.CRCErrors.Inc()
	}

	select {
	case c.globalInbox <- pkt:
	default:
		log.Printf("Global receive queue full! Packet discarded.")
		metrics.InboxDrops.WithLabelValues("global").Inc()
	}

	if err != nil {
		// Unknown common ID or truncated payload: keep it on the firehose
		// for diagnosis but skip endpoint routing.
		log.Printf("Payload error from tx_id %d: %v", pkt.SourceTxID, err)
		metrics.ParseErrors.Inc()
		return
	}

	if inbox, ok := routing[pkt.SourceTxID]; ok {
		select {
		case inbox <- pkt:
		default:
			log.Printf("RX queue [TxID %d] full! Packet discarded.", pkt.SourceTxID)
			metrics.InboxDrops.WithLabelValues(fmt.Sprintf("%d", pkt.SourceTxID)).Inc()
		}
	}
}

// FindNodes broadcasts a device-ID request and collects replies for one
// second, then resolves each new endpoint's name. On a stopped connection
// discovery uses the transport directly; on a started one it rides the
// worker's transmit queue and global inbox. The discovered UUID set is
// compared to the previous one (order-insensitive): only when it differs is
// a running worker stopped and restarted to rebuild its routing table.
func (c *Connection) FindNodes() ([]*Node, error) {
	c.mu.Lock()
	running := c.running
	c.mu.Unlock()

	var found []*Node
	var err error
	if running {
		found, err = c.discoverViaWorker()
	} else {
		found, err = c.discover()
	}
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	changed := nodesChanged(found, c.nodes)
	if changed {
		// An unchanged set keeps the existing nodes so their inboxes and
		// packet numbers survive.
		c.nodes = found
	}
	c.mu.Unlock()

	if changed && running {
		c.Stop()
		c.Start()
	}
	return c.Nodes(), nil
}

func (c *Connection) discover() ([]*Node, error) {
	request := packet.FromPayload(&payload.RequestDeviceID{}, packet.BroadcastTxID, packet.HostTxID, packet.NoAck, 0)
	if err := c.transport.WriteFrame(request.Bytes(), writeTimeout); err != nil {
		return nil, fmt.Errorf("broadcasting device ID request: %w", err)
	}

	var found []*Node
	seen := make(map[payload.UUID]bool)

	deadline := time.Now().Add(discoveryWindow)
	for time.Now().Before(deadline) {
		pkt := c.readOnePacket(discoveryPoll)
		if pkt == nil {
			continue
		}
		reply, ok := pkt.Payload.(*payload.ReplyDeviceID)
		if !ok || seen[reply.UUID] {
			continue
		}
		seen[reply.UUID] = true
		found = append(found, newNode(reply.TxID, reply.UUID, c))
	}

	// Resolve names for the nodes we just heard from.
	for _, n := range found {
		request := packet.FromPayload(&payload.RequestDeviceName{}, n.TxID, packet.HostTxID, packet.NoAck, 0)
		if err := c.transport.WriteFrame(request.Bytes(), writeTimeout); err != nil {
			log.Printf("Could not request name for tx_id %d (%v)", n.TxID, err)
			continue
		}

		deadline := time.Now().Add(discoveryWindow)
		for time.Now().Before(deadline) {
			pkt := c.readOnePacket(discoveryPoll)
			if pkt == nil {
				continue
			}
			if reply, ok := pkt.Payload.(*payload.ReplyDeviceName); ok && pkt.SourceTxID == n.TxID {
				n.Name = reply.Name
				break
			}
		}
	}

	return found, nil
}

// discoverViaWorker runs discovery over a live worker: requests go through
// the transmit queue and replies are taken from the global inbox, so packet
// routing to existing endpoints keeps running throughout.
func (c *Connection) discoverViaWorker() ([]*Node, error) {
	request := packet.FromPayload(&payload.RequestDeviceID{}, packet.BroadcastTxID, packet.HostTxID, packet.NoAck, 0)
	if err := c.EnqueuePacket(request); err != nil {
		return nil, fmt.Errorf("broadcasting device ID request: %w", err)
	}

	var found []*Node
	seen := make(map[payload.UUID]bool)

	deadline := time.Now().Add(discoveryWindow)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			break
		}
		pkt, err := c.GetGlobalPacket(remaining)
		if err != nil {
			break
		}
		reply, ok := pkt.Payload.(*payload.ReplyDeviceID)
		if !ok || seen[reply.UUID] {
			continue
		}
		seen[reply.UUID] = true
		found = append(found, newNode(reply.TxID, reply.UUID, c))
	}

	for _, n := range found {
		request := packet.FromPayload(&payload.RequestDeviceName{}, n.TxID, packet.HostTxID, packet.NoAck, 0)
		if err := c.EnqueuePacket(request); err != nil {
			log.Printf("Could not request name for tx_id %d (%v)", n.TxID, err)
			continue
		}

		deadline := time.Now().Add(discoveryWindow)
		for {
			remaining := time.Until(deadline)
			if remaining <= 0 {
				break
			}
			pkt, err := c.GetGlobalPacket(remaining)
			if err != nil {
				break
			}
			if reply, ok := pkt.Payload.(*payload.ReplyDeviceName); ok && pkt.SourceTxID == n.TxID {
				n.Name = reply.Name
				break
			}
		}
	}

	return found, nil
}

// readOnePacket reads and parses a single frame during discovery, ignoring
// anything malformed.
func (c *Connection) readOnePacket(timeout time.Duration) *packet.Packet {
	frame, err := c.transport.ReadFrame(timeout)
	if err != nil {
		return nil
	}
	pkt, err := packet.Parse(frame)
	if err != nil {
		return nil
	}
	return pkt
}

func nodesChanged(a, b []*Node) bool {
	if len(a) != len(b) {
		return true
	}
	uuids := make(map[payload.UUID]bool, len(a))
	for _, n := range a {
		uuids[n.UUID] = true
	}
	for _, n := range b {
		if !uuids[n.UUID] {
			return true
		}
	}
	return false
}

func (c *Connection) String() string {
	return c.transport.String()
}
