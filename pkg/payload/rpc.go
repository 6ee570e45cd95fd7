package payload

import (
	"encoding/binary"
	"fmt"
)

// Remote procedure call payloads. Every parameter slot on the wire is nine
// bytes: one type tag plus the value extended to eight bytes, little-endian
// (sign-extended for signed types). Five slots are always serialized;
// unused slots carry tag 0 and value 0.

const (
	rpcParamSlots    = 5
	rpcParamSlotSize = 9
)

// RequestProcedureSpec asks for the signature of the procedure at the given
// index, or with the given UID.
type RequestProcedureSpec struct {
	Index uint16
	UID   uint32
}

func (p *RequestProcedureSpec) Type() Type         { return TypeCommon }
func (p *RequestProcedureSpec) CommonID() CommonID { return IDRequestProcedureSpec }
func (p *RequestProcedureSpec) Len() int           { return 7 }

func (p *RequestProcedureSpec) Bytes() []byte {
	b := make([]byte, 7)
	b[0] = byte(IDRequestProcedureSpec)
	binary.LittleEndian.PutUint16(b[1:3], p.Index)
	binary.LittleEndian.PutUint32(b[3:7], p.UID)
	return b
}

func (p *RequestProcedureSpec) String() string {
	return fmt.Sprintf("RequestProcedureSpec index: %d, uid: %d", p.Index, p.UID)
}

func decodeRequestProcedureSpec(body []byte) (Common, error) {
	if len(body) < 7 {
		return nil, &TruncatedError{ID: IDRequestProcedureSpec, Need: 7, Got: len(body)}
	}
	return &RequestProcedureSpec{
		Index: binary.LittleEndian.Uint16(body[1:3]),
		UID:   binary.LittleEndian.Uint32(body[3:7]),
	}, nil
}

// ReplyProcedureSpec describes a procedure: its return type, the types of
// its five parameter slots, and its name.
type ReplyProcedureSpec struct {
	Index      uint16
	UID        uint32
	ReturnType ValueType
	ParamTypes [rpcParamSlots]ValueType
	Name       string
}

func (p *ReplyProcedureSpec) Type() Type         { return TypeCommon }
func (p *ReplyProcedureSpec) CommonID() CommonID { return IDReplyProcedureSpec }
func (p *ReplyProcedureSpec) Len() int           { return 14 + len(p.Name) }

func (p *ReplyProcedureSpec) Bytes() []byte {
	b := make([]byte, 13, 14+len(p.Name))
	b[0] = byte(IDReplyProcedureSpec)
	binary.LittleEndian.PutUint16(b[1:3], p.Index)
	binary.LittleEndian.PutUint32(b[3:7], p.UID)
	b[7] = byte(p.ReturnType)
	for i, t := range p.ParamTypes {
		b[8+i] = byte(t)
	}
	return appendCString(b, p.Name)
}

func (p *ReplyProcedureSpec) String() string {
	return fmt.Sprintf("ReplyProcedureSpec index: %d, uid: %d, name: %s, returns %s",
		p.Index, p.UID, p.Name, p.ReturnType)
}

func decodeReplyProcedureSpec(body []byte) (Common, error) {
	if len(body) < 13 {
		return nil, &TruncatedError{ID: IDReplyProcedureSpec, Need: 13, Got: len(body)}
	}
	spec := &ReplyProcedureSpec{
		Index:      binary.LittleEndian.Uint16(body[1:3]),
		UID:        binary.LittleEndian.Uint32(body[3:7]),
		ReturnType: ValueType(body[7]),
		Name:       cstring(body[13:]),
	}
	for i := range spec.ParamTypes {
		spec.ParamTypes[i] = ValueType(body[8+i])
	}
	return spec, nil
}

// RequestProcedureCall invokes the procedure with the given UID. Up to five
// parameters may be supplied.
type RequestProcedureCall struct {
	UID    uint32
	Params []Value
}

func (p *RequestProcedureCall) Type() Type         { return TypeCommon }
func (p *RequestProcedureCall) CommonID() CommonID { return IDRequestProcedureCall }
func (p *RequestProcedureCall) Len() int           { return 5 + rpcParamSlots*rpcParamSlotSize }

func (p *RequestProcedureCall) Bytes() []byte {
	b := make([]byte, 5+rpcParamSlots*rpcParamSlotSize)
	b[0] = byte(IDRequestProcedureCall)
	binary.LittleEndian.PutUint32(b[1:5], p.UID)
	for i := 0; i < rpcParamSlots; i++ {
		slot := b[5+i*rpcParamSlotSize : 5+(i+1)*rpcParamSlotSize]
		if i < len(p.Params) {
			encodeParamSlot(slot, p.Params[i])
		}
	}
	return b
}

func (p *RequestProcedureCall) String() string {
	return fmt.Sprintf("RequestProcedureCall uid: %d, %d params", p.UID, len(p.Params))
}

func decodeRequestProcedureCall(body []byte) (Common, error) {
	need := 5 + rpcParamSlots*rpcParamSlotSize
	if len(body) < need {
		return nil, &TruncatedError{ID: IDRequestProcedureCall, Need: need, Got: len(body)}
	}
	call := &RequestProcedureCall{UID: binary.LittleEndian.Uint32(body[1:5])}
	for i := 0; i < rpcParamSlots; i++ {
		slot := body[5+i*rpcParamSlotSize : 5+(i+1)*rpcParamSlotSize]
		v, err := decodeParamSlot(slot)
		if err != nil {
			return nil, fmt.Errorf("decoding RPC parameter %d: %w", i, err)
		}
		call.Params = append(call.Params, v)
	}
	return call, nil
}

// ReplyProcedureCall carries a procedure's return value.
type ReplyProcedureCall struct {
	UID        uint32
	ReturnType ValueType
	Raw        [8]byte
}

func (p *ReplyProcedureCall) Type() Type         { return TypeCommon }
func (p *ReplyProcedureCall) CommonID() CommonID { return IDReplyProcedureCall }
func (p *ReplyProcedureCall) Len() int           { return 14 }

func (p *ReplyProcedureCall) Bytes() []byte {
	b := make([]byte, 14)
	b[0] = byte(IDReplyProcedureCall)
	binary.LittleEndian.PutUint32(b[1:5], p.UID)
	b[5] = byte(p.ReturnType)
	copy(b[6:14], p.Raw[:])
	return b
}

func (p *ReplyProcedureCall) String() string {
	if v, err := p.ReturnValue(); err == nil {
		return fmt.Sprintf("ReplyProcedureCall uid: %d, returned %s", p.UID, v)
	}
	return fmt.Sprintf("ReplyProcedureCall uid: %d, return type %s", p.UID, p.ReturnType)
}

// ReturnValue decodes the eight raw value bytes according to the return
// type tag.
func (p *ReplyProcedureCall) ReturnValue() (Value, error) {
	return DecodeValue(p.ReturnType, p.Raw[:])
}

func decodeReplyProcedureCall(body []byte) (Common, error) {
	if len(body) < 14 {
		return nil, &TruncatedError{ID: IDReplyProcedureCall, Need: 14, Got: len(body)}
	}
	reply := &ReplyProcedureCall{
		UID:        binary.LittleEndian.Uint32(body[1:5]),
		ReturnType: ValueType(body[5]),
	}
	copy(reply.Raw[:], body[6:14])
	return reply, nil
}

// encodeParamSlot writes a nine-byte parameter slot: type tag plus the
// value extended to eight little-endian bytes.
func encodeParamSlot(dst []byte, v Value) {
	dst[0] = byte(v.Type)
	var bits uint64
	switch x := v.Data.(type) {
	case bool:
		if x {
			bits = 1
		}
	case byte:
		bits = uint64(x)
	case int8:
		bits = uint64(int64(x))
	case int16:
		bits = uint64(int64(x))
	case int32:
		bits = uint64(int64(x))
	case int64:
		bits = uint64(x)
	case uint16:
		bits = uint64(x)
	case uint32:
		bits = uint64(x)
	case uint64:
		bits = x
	case float32:
		enc, _ := v.Encode()
		copy(dst[1:], enc)
		return
	case float64:
		enc, _ := v.Encode()
		copy(dst[1:], enc)
		return
	}
	binary.LittleEndian.PutUint64(dst[1:9], bits)
}

// decodeParamSlot reads a nine-byte parameter slot. The value occupies the
// low bytes of the eight-byte field at its natural width.
func decodeParamSlot(slot []byte) (Value, error) {
	t := ValueType(slot[0])
	return DecodeValue(t, slot[1:9])
}
