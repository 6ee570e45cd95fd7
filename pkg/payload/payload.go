// Package payload defines the Amfiprot payload taxonomy: the top-level
// payload types, the common request/reply payloads keyed by a one-byte ID,
// configuration values and remote procedure call parameters.
package payload

import (
	"fmt"
)

// Type is the top-level payload type carried in the packet header.
type Type uint8

const (
	TypeCommon         Type = 0x00
	TypeSuccess        Type = 0xF0
	TypeNotImplemented Type = 0xFD
	TypeFailure        Type = 0xFE
	TypeInvalidRequest Type = 0xFF
)

// Application-defined payload types occupy 0x01-0xEF and are passed through
// as raw bytes (see Undefined).

// Payload is a typed packet payload. Bytes returns the serialized form
// without the trailing CRC byte; Len is the length of that form.
type Payload interface {
	Type() Type
	Bytes() []byte
	Len() int
	String() string
}

// Success is the generic positive acknowledgement. The raw body is kept for
// diagnostics.
type Success struct {
	Raw []byte
}

func (p *Success) Type() Type     { return TypeSuccess }
func (p *Success) Bytes() []byte  { return p.Raw }
func (p *Success) Len() int       { return len(p.Raw) }
func (p *Success) String() string { return "Success" }

// NotImplemented signals that the device does not implement the request.
type NotImplemented struct {
	Raw []byte
}

func (p *NotImplemented) Type() Type     { return TypeNotImplemented }
func (p *NotImplemented) Bytes() []byte  { return p.Raw }
func (p *NotImplemented) Len() int       { return len(p.Raw) }
func (p *NotImplemented) String() string { return "Not implemented" }

// Failure signals that the device failed to execute the request.
type Failure struct {
	Raw []byte
}

func (p *Failure) Type() Type     { return TypeFailure }
func (p *Failure) Bytes() []byte  { return p.Raw }
func (p *Failure) Len() int       { return len(p.Raw) }
func (p *Failure) String() string { return "Failure" }

// InvalidRequest signals that the device rejected the request as malformed.
type InvalidRequest struct {
	Raw []byte
}

func (p *InvalidRequest) Type() Type     { return TypeInvalidRequest }
func (p *InvalidRequest) Bytes() []byte  { return p.Raw }
func (p *InvalidRequest) Len() int       { return len(p.Raw) }
func (p *InvalidRequest) String() string { return "Invalid request" }

// Undefined carries a payload whose top-level type is not known to this
// library (application-defined types). Bytes and type tag are preserved.
// packet.Parse also uses it to keep the raw body of a common payload that
// failed to decode.
type Undefined struct {
	PayloadType Type
	Raw         []byte
}

func (p *Undefined) Type() Type     { return p.PayloadType }
func (p *Undefined) Bytes() []byte  { return p.Raw }
func (p *Undefined) Len() int       { return len(p.Raw) }
func (p *Undefined) String() string { return fmt.Sprintf("Undefined payload (type 0x%02X): % X", uint8(p.PayloadType), p.Raw) }

// Decode interprets data as a payload of the given top-level type. Unknown
// top-level types degrade gracefully to Undefined. A common payload with an
// unknown ID is an error (InvalidCommonIDError); the caller decides whether
// to keep the raw bytes.
func Decode(t Type, data []byte) (Payload, error) {
	body := make([]byte, len(data))
	copy(body, data)

	switch t {
	case TypeCommon:
		return decodeCommon(body)
	case TypeSuccess:
		return &Success{Raw: body}, nil
	case TypeNotImplemented:
		return &NotImplemented{Raw: body}, nil
	case TypeFailure:
		return &Failure{Raw: body}, nil
	case TypeInvalidRequest:
		return &InvalidRequest{Raw: body}, nil
	default:
		return &Undefined{PayloadType: t, Raw: body}, nil
	}
}
