package payload

import (
	"encoding/binary"
	"fmt"
	"math"
)

// ValueType tags the encoding of a configuration value or RPC parameter.
type ValueType uint8

const (
	ValueBool          ValueType = 0
	ValueChar          ValueType = 1
	ValueInt8          ValueType = 2
	ValueUint8         ValueType = 3
	ValueInt16         ValueType = 4
	ValueUint16        ValueType = 6
	ValueInt32         ValueType = 8
	ValueUint32        ValueType = 10
	ValueInt64         ValueType = 12
	ValueUint64        ValueType = 14
	ValueFloat         ValueType = 16
	ValueDouble        ValueType = 18
	ValueProcedureCall ValueType = 100
)

// Size returns the encoded width of the value type in bytes, or 0 for an
// unknown type.
func (t ValueType) Size() int {
	switch t {
	case ValueBool, ValueChar, ValueInt8, ValueUint8, ValueProcedureCall:
		return 1
	case ValueInt16, ValueUint16:
		return 2
	case ValueInt32, ValueUint32, ValueFloat:
		return 4
	case ValueInt64, ValueUint64, ValueDouble:
		return 8
	default:
		return 0
	}
}

func (t ValueType) String() string {
	switch t {
	case ValueBool:
		return "bool"
	case ValueChar:
		return "char"
	case ValueInt8:
		return "int8"
	case ValueUint8:
		return "uint8"
	case ValueInt16:
		return "int16"
	case ValueUint16:
		return "uint16"
	case ValueInt32:
		return "int32"
	case ValueUint32:
		return "uint32"
	case ValueInt64:
		return "int64"
	case ValueUint64:
		return "uint64"
	case ValueFloat:
		return "float"
	case ValueDouble:
		return "double"
	case ValueProcedureCall:
		return "procedure-call"
	default:
		return fmt.Sprintf("value-type(%d)", uint8(t))
	}
}

// Value is a typed configuration value or RPC parameter. Data holds the
// Go representation matching Type: bool, byte (char), int8, uint8, int16,
// uint16, int32, uint32, int64, uint64, float32 or float64.
type Value struct {
	Type ValueType
	Data any
}

func (v Value) String() string {
	return fmt.Sprintf("%v (%s)", v.Data, v.Type)
}

// Encode serializes the value at its natural width, little-endian.
func (v Value) Encode() ([]byte, error) {
	switch v.Type {
	case ValueBool, ValueProcedureCall:
		b, ok := v.Data.(bool)
		if !ok {
			return nil, typeMismatch(v)
		}
		if b {
			return []byte{1}, nil
		}
		return []byte{0}, nil
	case ValueChar:
		c, ok := v.Data.(byte)
		if !ok {
			return nil, typeMismatch(v)
		}
		return []byte{c}, nil
	case ValueInt8:
		x, ok := v.Data.(int8)
		if !ok {
			return nil, typeMismatch(v)
		}
		return []byte{byte(x)}, nil
	case ValueUint8:
		x, ok := v.Data.(uint8)
		if !ok {
			return nil, typeMismatch(v)
		}
		return []byte{x}, nil
	case ValueInt16:
		x, ok := v.Data.(int16)
		if !ok {
			return nil, typeMismatch(v)
		}
		return le16(uint16(x)), nil
	case ValueUint16:
		x, ok := v.Data.(uint16)
		if !ok {
			return nil, typeMismatch(v)
		}
		return le16(x), nil
	case ValueInt32:
		x, ok := v.Data.(int32)
		if !ok {
			return nil, typeMismatch(v)
		}
		return le32(uint32(x)), nil
	case ValueUint32:
		x, ok := v.Data.(uint32)
		if !ok {
			return nil, typeMismatch(v)
		}
		return le32(x), nil
	case ValueInt64:
		x, ok := v.Data.(int64)
		if !ok {
			return nil, typeMismatch(v)
		}
		return le64(uint64(x)), nil
	case ValueUint64:
		x, ok := v.Data.(uint64)
		if !ok {
			return nil, typeMismatch(v)
		}
		return le64(x), nil
	case ValueFloat:
		x, ok := v.Data.(float32)
		if !ok {
			return nil, typeMismatch(v)
		}
		return le32(math.Float32bits(x)), nil
	case ValueDouble:
		x, ok := v.Data.(float64)
		if !ok {
			return nil, typeMismatch(v)
		}
		return le64(math.Float64bits(x)), nil
	default:
		return nil, fmt.Errorf("cannot encode unknown value type %d", uint8(v.Type))
	}
}

// DecodeValue interprets b as a value of type t. b must hold at least
// t.Size() bytes; extra bytes are ignored.
func DecodeValue(t ValueType, b []byte) (Value, error) {
	size := t.Size()
	if size == 0 {
		return Value{}, fmt.Errorf("cannot decode unknown value type %d", uint8(t))
	}
	if len(b) < size {
		return Value{}, fmt.Errorf("value of type %s needs %d bytes, got %d", t, size, len(b))
	}

	switch t {
	case ValueBool, ValueProcedureCall:
		return Value{Type: t, Data: b[0] != 0}, nil
	case ValueChar:
		return Value{Type: t, Data: b[0]}, nil
	case ValueInt8:
		return Value{Type: t, Data: int8(b[0])}, nil
	case ValueUint8:
		return Value{Type: t, Data: b[0]}, nil
	case ValueInt16:
		return Value{Type: t, Data: int16(binary.LittleEndian.Uint16(b))}, nil
	case ValueUint16:
		return Value{Type: t, Data: binary.LittleEndian.Uint16(b)}, nil
	case ValueInt32:
		return Value{Type: t, Data: int32(binary.LittleEndian.Uint32(b))}, nil
	case ValueUint32:
		return Value{Type: t, Data: binary.LittleEndian.Uint32(b)}, nil
	case ValueInt64:
		return Value{Type: t, Data: int64(binary.LittleEndian.Uint64(b))}, nil
	case ValueUint64:
		return Value{Type: t, Data: binary.LittleEndian.Uint64(b)}, nil
	case ValueFloat:
		return Value{Type: t, Data: math.Float32frombits(binary.LittleEndian.Uint32(b))}, nil
	case ValueDouble:
		return Value{Type: t, Data: math.Float64frombits(binary.LittleEndian.Uint64(b))}, nil
	default:
		return Value{}, fmt.Errorf("cannot decode unknown value type %d", uint8(t))
	}
}

// Coerce converts a loosely typed value (e.g. a number from JSON, which
// arrives as float64) into a Value of the requested type.
func Coerce(data any, t ValueType) (Value, error) {
	switch t {
	case ValueBool, ValueProcedureCall:
		switch x := data.(type) {
		case bool:
			return Value{Type: t, Data: x}, nil
		case float64:
			return Value{Type: t, Data: x != 0}, nil
		}
	case ValueChar:
		switch x := data.(type) {
		case byte:
			return Value{Type: t, Data: x}, nil
		case string:
			if len(x) == 1 {
				return Value{Type: t, Data: x[0]}, nil
			}
		case float64:
			return Value{Type: t, Data: byte(x)}, nil
		}
	case ValueFloat:
		if f, ok := toFloat(data); ok {
			return Value{Type: t, Data: float32(f)}, nil
		}
	case ValueDouble:
		if f, ok := toFloat(data); ok {
			return Value{Type: t, Data: f}, nil
		}
	default:
		if i, ok := toInt(data); ok {
			switch t {
			case ValueInt8:
				return Value{Type: t, Data: int8(i)}, nil
			case ValueUint8:
				return Value{Type: t, Data: uint8(i)}, nil
			case ValueInt16:
				return Value{Type: t, Data: int16(i)}, nil
			case ValueUint16:
				return Value{Type: t, Data: uint16(i)}, nil
			case ValueInt32:
				return Value{Type: t, Data: int32(i)}, nil
			case ValueUint32:
				return Value{Type: t, Data: uint32(i)}, nil
			case ValueInt64:
				return Value{Type: t, Data: i}, nil
			case ValueUint64:
				return Value{Type: t, Data: uint64(i)}, nil
			}
		}
	}
	return Value{}, fmt.Errorf("cannot represent %T (%v) as %s", data, data, t)
}

func toInt(data any) (int64, bool) {
	switch x := data.(type) {
	case int:
		return int64(x), true
	case int8:
		return int64(x), true
	case int16:
		return int64(x), true
	case int32:
		return int64(x), true
	case int64:
		return x, true
	case uint8:
		return int64(x), true
	case uint16:
		return int64(x), true
	case uint32:
		return int64(x), true
	case uint64:
		return int64(x), true
	case float64:
		return int64(x), true
	case float32:
		return int64(x), true
	default:
		return 0, false
	}
}

func toFloat(data any) (float64, bool) {
	switch x := data.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	default:
		if i, ok := toInt(data); ok {
			return float64(i), true
		}
		return 0, false
	}
}

func typeMismatch(v Value) error {
	return fmt.Errorf("value data %T does not match declared type %s", v.Data, v.Type)
}

func le16(x uint16) []byte {
	b := make([]byte, 2)
	binary.LittleEndian.PutUint16(b, x)
	return b
}

func le32(x uint32) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, x)
	return b
}

func le64(x uint64) []byte {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, x)
	return b
}
