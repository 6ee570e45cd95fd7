// Package packet implements the Amfiprot packet codec: the seven-byte
// header, the two independent CRC-8 checks and the payload dispatch.
package packet

import (
	"errors"
	"fmt"

	"github.com/amfitech/amfiprot/pkg/crc8"
	"github.com/amfitech/amfiprot/pkg/payload"
)

// Kind occupies bits 7:6 of the packet type byte.
type Kind uint8

const (
	NoAck      Kind = 0
	RequestAck Kind = 1
	Ack        Kind = 2
	Reply      Kind = 3
)

func (k Kind) String() string {
	switch k {
	case NoAck:
		return "no-ack"
	case RequestAck:
		return "request-ack"
	case Ack:
		return "ack"
	case Reply:
		return "reply"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Well-known tx_id addresses.
const (
	HostTxID      uint8 = 0
	BroadcastTxID uint8 = 255
)

// HeaderLength is the fixed header size: payload_length, packet_type,
// packet_number, payload_type, source_tx_id, destination_tx_id, header_crc.
const HeaderLength = 7

// Codec errors.
var (
	ErrShort     = errors.New("packet: fewer than 7 bytes")
	ErrTruncated = errors.New("packet: payload shorter than header declares")
)

// Packet is one Amfiprot protocol packet.
type Packet struct {
	Kind            Kind
	TTL             uint8 // bits 5:0 of the packet type byte
	Number          uint8
	PayloadType     payload.Type
	SourceTxID      uint8
	DestinationTxID uint8
	Payload         payload.Payload

	// CRC validity, populated by Parse. Built packets are always valid.
	headerCRCOK  bool
	payloadCRCOK bool

	raw []byte // wire bytes as received; nil for built packets
}

// FromPayload builds a packet around p, computing both CRCs. A zero-length
// payload produces a seven-byte packet with no payload CRC.
func FromPayload(p payload.Payload, destination, source uint8, kind Kind, number uint8) *Packet {
	return &Packet{
		Kind:            kind,
		Number:          number,
		PayloadType:     p.Type(),
		SourceTxID:      source,
		DestinationTxID: destination,
		Payload:         p,
		headerCRCOK:     true,
		payloadCRCOK:    true,
	}
}

// Bytes serializes the packet. Packets produced by Parse return the exact
// bytes received, so CRC errors observed on the wire survive re-encoding.
func (p *Packet) Bytes() []byte {
	if p.raw != nil {
		return p.raw
	}

	var body []byte
	if p.Payload != nil {
		body = p.Payload.Bytes()
	}

	out := make([]byte, 0, HeaderLength+len(body)+1)
	out = append(out,
		byte(len(body)),
		byte(p.Kind)<<6|p.TTL&0x3F,
		p.Number,
		byte(p.PayloadType),
		p.SourceTxID,
		p.DestinationTxID,
	)
	out = append(out, crc8.Checksum(out[:6]))

	if len(body) > 0 {
		out = append(out, body...)
		out = append(out, crc8.Checksum(body))
	}
	return out
}

// PayloadLength is the declared payload byte count, excluding CRCs.
func (p *Packet) PayloadLength() int {
	if p.Payload == nil {
		return 0
	}
	return p.Payload.Len()
}

// HeaderCRCValid reports whether the received header CRC matched. Built
// packets always report true.
func (p *Packet) HeaderCRCValid() bool { return p.headerCRCOK }

// PayloadCRCValid reports whether the received payload CRC matched. Built
// packets and packets without a payload always report true.
func (p *Packet) PayloadCRCValid() bool { return p.payloadCRCOK }

func (p *Packet) String() string {
	return fmt.Sprintf("Dest: %d, Src: %d, %s #%d: %v",
		p.DestinationTxID, p.SourceTxID, p.Kind, p.Number, p.Payload)
}

// Parse decodes one packet from data. The payload body begins at offset 7,
// immediately after the header CRC.
//
// A CRC mismatch does not fail the parse; it is recorded on the returned
// packet. An unknown common payload ID returns both a packet preserving the
// raw payload bytes and a payload.InvalidCommonIDError, so callers can keep
// the packet for diagnosis while reporting the error.
func Parse(data []byte) (*Packet, error) {
	if len(data) < HeaderLength {
		return nil, fmt.Errorf("%w (got %d)", ErrShort, len(data))
	}

	payloadLength := int(data[0])
	total := HeaderLength
	if payloadLength > 0 {
		total = HeaderLength + payloadLength + 1
	}
	if len(data) < total {
		return nil, fmt.Errorf("%w: declared %d payload bytes, frame holds %d",
			ErrTruncated, payloadLength, len(data)-HeaderLength)
	}

	raw := make([]byte, total)
	copy(raw, data)

	pkt := &Packet{
		Kind:            Kind(raw[1] >> 6),
		TTL:             raw[1] & 0x3F,
		Number:          raw[2],
		PayloadType:     payload.Type(raw[3]),
		SourceTxID:      raw[4],
		DestinationTxID: raw[5],
		raw:             raw,
	}

	pkt.headerCRCOK = crc8.Checksum(raw[:6]) == raw[6]
	pkt.payloadCRCOK = true

	if payloadLength == 0 {
		return pkt, nil
	}

	body := raw[HeaderLength : HeaderLength+payloadLength]
	pkt.payloadCRCOK = crc8.Checksum(body) == raw[total-1]

	pl, err := payload.Decode(pkt.PayloadType, body)
	if err != nil {
		// Keep the raw payload bytes on the packet for diagnosis.
		pkt.Payload = &payload.Undefined{PayloadType: pkt.PayloadType, Raw: body}
		return pkt, err
	}
	pkt.Payload = pl
	return pkt, nil
}
