package amfiprot

import (
	"fmt"
	"time"

	"github.com/amfitech/amfiprot/pkg/packet"
	"github.com/amfitech/amfiprot/pkg/payload"
)

var (
	defaultReplyTimeout  = 1000 * time.Millisecond
	firmwareReplyTimeout = 10 * time.Second
)

// Device is the high-level interface to a physical device, an abstraction
// on top of Node. For low-level access (custom packets or payloads) use
// Device.Node directly.
type Device struct {
	Node *Node
}

// NewDevice wraps a discovered node.
func NewDevice(node *Node) *Device {
	return &Device{Node: node}
}

// TxID returns the device's endpoint address.
func (d *Device) TxID() uint8 { return d.Node.TxID }

// UUID returns the device's 96-bit identifier.
func (d *Device) UUID() payload.UUID { return d.Node.UUID }

// GetPacket dequeues the next inbound packet for this device.
func (d *Device) GetPacket(timeout time.Duration) (*packet.Packet, error) {
	return d.Node.GetPacket(timeout)
}

// awaitPayload dequeues packets from the node's inbox until one carries a
// payload of type T or the deadline elapses.
func awaitPayload[T payload.Payload](n *Node, timeout time.Duration) (T, error) {
	var zero T
	deadline := time.Now().Add(timeout)

	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return zero, ErrTimeout
		}
		pkt, err := n.GetPacket(remaining)
		if err != nil {
			return zero, err
		}
		if p, ok := pkt.Payload.(T); ok {
			return p, nil
		}
	}
}

// awaitPayloadType dequeues packets until one carries the given top-level
// payload type (e.g. TypeSuccess) or the deadline elapses.
func awaitPayloadType(n *Node, t payload.Type, timeout time.Duration) (*packet.Packet, error) {
	deadline := time.Now().Add(timeout)

	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, ErrTimeout
		}
		pkt, err := n.GetPacket(remaining)
		if err != nil {
			return nil, err
		}
		if pkt.PayloadType == t {
			return pkt, nil
		}
	}
}

// Name reads the device's human-readable name.
func (d *Device) Name() (string, error) {
	if err := d.Node.SendPayload(&payload.RequestDeviceName{}, packet.NoAck); err != nil {
		return "", err
	}
	reply, err := awaitPayload[*payload.ReplyDeviceName](d.Node, defaultReplyTimeout)
	if err != nil {
		return "", err
	}
	return reply.Name, nil
}

// Version is a four-component firmware version.
type Version struct {
	Major uint32 `json:"major"`
	Minor uint32 `json:"minor"`
	Patch uint32 `json:"patch"`
	Build uint32 `json:"build"`
}

func (v Version) String() string {
	return fmt.Sprintf("%d.%d.%d.%d", v.Major, v.Minor, v.Patch, v.Build)
}

// FirmwareVersion reads the firmware version of the default processor.
func (d *Device) FirmwareVersion() (Version, error) {
	if err := d.Node.SendPayload(&payload.RequestFirmwareVersion{}, packet.NoAck); err != nil {
		return Version{}, err
	}
	reply, err := awaitPayload[*payload.ReplyFirmwareVersion](d.Node, defaultReplyTimeout)
	if err != nil {
		return Version{}, err
	}
	return Version{Major: reply.Major, Minor: reply.Minor, Patch: reply.Patch, Build: reply.Build}, nil
}

// FirmwareVersionForProcessor reads the firmware version of a specific
// processor.
func (d *Device) FirmwareVersionForProcessor(processorID uint8) (Version, error) {
	if err := d.Node.SendPayload(&payload.RequestFirmwareVersionPerID{ProcessorID: processorID}, packet.NoAck); err != nil {
		return Version{}, err
	}

	deadline := time.Now().Add(defaultReplyTimeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return Version{}, ErrTimeout
		}
		reply, err := awaitPayload[*payload.ReplyFirmwareVersionPerID](d.Node, remaining)
		if err != nil {
			return Version{}, err
		}
		if reply.ProcessorID == processorID {
			return Version{Major: reply.Major, Minor: reply.Minor, Patch: reply.Patch, Build: reply.Build}, nil
		}
	}
}

// SetTxID assigns a new endpoint address to this device, keyed by its UUID.
// Re-run discovery afterwards to rebuild routing.
func (d *Device) SetTxID(txID uint8) error {
	return d.Node.SendPayload(&payload.SetTxID{TxID: txID, UUID: d.Node.UUID}, packet.NoAck)
}

// Reboot restarts the device. No reply is awaited.
func (d *Device) Reboot() error {
	return d.Node.SendPayload(&payload.Reboot{}, packet.NoAck)
}

// ResetParameter resets all parameters to compiled or factory defaults
// depending on mode (see payload.ResetModeCompiledDefault).
func (d *Device) ResetParameter(mode uint8) error {
	return d.Node.SendPayload(&payload.ResetParameter{Mode: mode}, packet.NoAck)
}

// LoadDefaultConfiguration restores the stored default configuration.
func (d *Device) LoadDefaultConfiguration() error {
	return d.Node.SendPayload(&payload.LoadDefault{}, packet.NoAck)
}

// SaveAsDefaultConfiguration stores the current configuration as default.
func (d *Device) SaveAsDefaultConfiguration() error {
	return d.Node.SendPayload(&payload.SaveAsDefault{UUID: d.Node.UUID}, packet.NoAck)
}

// Config returns the configuration accessor for this device.
func (d *Device) Config() *Configurator {
	return &Configurator{device: d}
}

// ProcedureSpec reads the signature of the procedure at the given index or
// with the given UID.
func (d *Device) ProcedureSpec(index uint16, uid uint32) (*payload.ReplyProcedureSpec, error) {
	if err := d.Node.SendPayload(&payload.RequestProcedureSpec{Index: index, UID: uid}, packet.NoAck); err != nil {
		return nil, err
	}
	return awaitPayload[*payload.ReplyProcedureSpec](d.Node, defaultReplyTimeout)
}

// CallProcedure invokes a remote procedure with up to five parameters and
// returns its reply.
func (d *Device) CallProcedure(uid uint32, params ...payload.Value) (*payload.ReplyProcedureCall, error) {
	if len(params) > 5 {
		return nil, fmt.Errorf("amfiprot: a procedure call takes at most 5 parameters, got %d", len(params))
	}
	if err := d.Node.SendPayload(&payload.RequestProcedureCall{UID: uid, Params: params}, packet.NoAck); err != nil {
		return nil, err
	}
	return awaitPayload[*payload.ReplyProcedureCall](d.Node, defaultReplyTimeout)
}

func (d *Device) String() string {
	return d.Node.String()
}
