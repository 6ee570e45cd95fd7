package payload

import (
	"encoding/binary"
	"fmt"
	"strings"
)

// CommonID selects one of the built-in request/reply payloads when the
// top-level payload type is TypeCommon. It is the first payload byte on the
// wire.
type CommonID uint8

const (
	IDRequestDeviceID               CommonID = 0x00
	IDReplyDeviceID                 CommonID = 0x01
	IDSetTxID                       CommonID = 0x02
	IDRequestFirmwareVersion        CommonID = 0x03
	IDReplyFirmwareVersion          CommonID = 0x04
	IDFirmwareStart                 CommonID = 0x05
	IDFirmwareData                  CommonID = 0x06
	IDFirmwareEnd                   CommonID = 0x07
	IDRequestDeviceName             CommonID = 0x08
	IDReplyDeviceName               CommonID = 0x09
	IDLoadDefault                   CommonID = 0x0F
	IDSaveAsDefault                 CommonID = 0x10
	IDRequestConfigurationNameUID   CommonID = 0x11
	IDReplyConfigurationNameUID     CommonID = 0x12
	IDRequestConfigurationValueUID  CommonID = 0x13
	IDReplyConfigurationValueUID    CommonID = 0x14
	IDSetConfigurationValueUID      CommonID = 0x15
	IDRequestConfigurationCategory  CommonID = 0x16
	IDReplyConfigurationCategory    CommonID = 0x17
	IDRequestConfigurationValCount  CommonID = 0x18
	IDReplyConfigurationValCount    CommonID = 0x19
	IDRequestCategoryCount          CommonID = 0x1A
	IDReplyCategoryCount            CommonID = 0x1B
	IDRequestFirmwareVersionPerID   CommonID = 0x1C
	IDReplyFirmwareVersionPerID     CommonID = 0x1D
	IDDebugOutput                   CommonID = 0x20
	IDReboot                        CommonID = 0x21
	IDResetParameter                CommonID = 0x24
	IDRequestProcedureSpec          CommonID = 0x30
	IDReplyProcedureSpec            CommonID = 0x31
	IDRequestProcedureCall          CommonID = 0x32
	IDReplyProcedureCall            CommonID = 0x33
)

// ResetModeCompiledDefault selects the compiled-in defaults for
// ResetParameter. Any other mode selects factory defaults.
const ResetModeCompiledDefault uint8 = 171

// Common is a payload under TypeCommon, keyed by its one-byte ID.
type Common interface {
	Payload
	CommonID() CommonID
}

// InvalidCommonIDError reports a TypeCommon payload whose ID byte is not in
// the dispatch table. Unlike an unknown top-level type, this is an error.
type InvalidCommonIDError struct {
	ID CommonID
}

func (e *InvalidCommonIDError) Error() string {
	return fmt.Sprintf("invalid common payload ID 0x%02X", uint8(e.ID))
}

// TruncatedError reports a common payload whose body is shorter than its
// fixed layout requires.
type TruncatedError struct {
	ID   CommonID
	Need int
	Got  int
}

func (e *TruncatedError) Error() string {
	return fmt.Sprintf("common payload 0x%02X truncated: need %d bytes, got %d", uint8(e.ID), e.Need, e.Got)
}

// cstring strips trailing NUL bytes from a decoded string field.
func cstring(b []byte) string {
	return strings.TrimRight(string(b), "\x00")
}

// appendCString appends s and a NUL terminator.
func appendCString(dst []byte, s string) []byte {
	dst = append(dst, s...)
	return append(dst, 0)
}

// RequestDeviceID asks every endpoint in reach to report its identity. It is
// usually broadcast.
type RequestDeviceID struct{}

func (p *RequestDeviceID) Type() Type         { return TypeCommon }
func (p *RequestDeviceID) CommonID() CommonID { return IDRequestDeviceID }
func (p *RequestDeviceID) Bytes() []byte      { return []byte{byte(IDRequestDeviceID)} }
func (p *RequestDeviceID) Len() int           { return 1 }
func (p *RequestDeviceID) String() string     { return "RequestDeviceID" }

// ReplyDeviceID carries an endpoint's tx_id and 96-bit UUID.
type ReplyDeviceID struct {
	TxID uint8
	UUID UUID
}

func (p *ReplyDeviceID) Type() Type         { return TypeCommon }
func (p *ReplyDeviceID) CommonID() CommonID { return IDReplyDeviceID }
func (p *ReplyDeviceID) Len() int           { return 14 }

func (p *ReplyDeviceID) Bytes() []byte {
	b := []byte{byte(IDReplyDeviceID), p.TxID}
	return append(b, p.UUID.wireBytes()...)
}

func (p *ReplyDeviceID) String() string {
	return fmt.Sprintf("ReplyDeviceID tx_id: %d, uuid: %s", p.TxID, p.UUID)
}

func decodeReplyDeviceID(body []byte) (Common, error) {
	if len(body) < 14 {
		return nil, &TruncatedError{ID: IDReplyDeviceID, Need: 14, Got: len(body)}
	}
	return &ReplyDeviceID{TxID: body[1], UUID: uuidFromWire(body[2:14])}, nil
}

// SetTxID assigns a new tx_id to the endpoint with the given UUID.
type SetTxID struct {
	TxID uint8
	UUID UUID
}

func (p *SetTxID) Type() Type         { return TypeCommon }
func (p *SetTxID) CommonID() CommonID { return IDSetTxID }
func (p *SetTxID) Len() int           { return 14 }

func (p *SetTxID) Bytes() []byte {
	b := []byte{byte(IDSetTxID), p.TxID}
	return append(b, p.UUID.wireBytes()...)
}

func (p *SetTxID) String() string {
	return fmt.Sprintf("SetTxID tx_id: %d, uuid: %s", p.TxID, p.UUID)
}

func decodeSetTxID(body []byte) (Common, error) {
	if len(body) < 14 {
		return nil, &TruncatedError{ID: IDSetTxID, Need: 14, Got: len(body)}
	}
	return &SetTxID{TxID: body[1], UUID: uuidFromWire(body[2:14])}, nil
}

// RequestFirmwareVersion asks for the firmware version of the default
// processor.
type RequestFirmwareVersion struct{}

func (p *RequestFirmwareVersion) Type() Type         { return TypeCommon }
func (p *RequestFirmwareVersion) CommonID() CommonID { return IDRequestFirmwareVersion }
func (p *RequestFirmwareVersion) Bytes() []byte      { return []byte{byte(IDRequestFirmwareVersion)} }
func (p *RequestFirmwareVersion) Len() int           { return 1 }
func (p *RequestFirmwareVersion) String() string     { return "RequestFirmwareVersion" }

// ReplyFirmwareVersion carries a four-component firmware version.
type ReplyFirmwareVersion struct {
	Major, Minor, Patch, Build uint32
}

func (p *ReplyFirmwareVersion) Type() Type         { return TypeCommon }
func (p *ReplyFirmwareVersion) CommonID() CommonID { return IDReplyFirmwareVersion }
func (p *ReplyFirmwareVersion) Len() int           { return 17 }

func (p *ReplyFirmwareVersion) Bytes() []byte {
	b := make([]byte, 17)
	b[0] = byte(IDReplyFirmwareVersion)
	binary.LittleEndian.PutUint32(b[1:5], p.Major)
	binary.LittleEndian.PutUint32(b[5:9], p.Minor)
	binary.LittleEndian.PutUint32(b[9:13], p.Patch)
	binary.LittleEndian.PutUint32(b[13:17], p.Build)
	return b
}

func (p *ReplyFirmwareVersion) String() string {
	return fmt.Sprintf("ReplyFirmwareVersion %d.%d.%d.%d", p.Major, p.Minor, p.Patch, p.Build)
}

func decodeReplyFirmwareVersion(body []byte) (Common, error) {
	if len(body) < 17 {
		return nil, &TruncatedError{ID: IDReplyFirmwareVersion, Need: 17, Got: len(body)}
	}
	return &ReplyFirmwareVersion{
		Major: binary.LittleEndian.Uint32(body[1:5]),
		Minor: binary.LittleEndian.Uint32(body[5:9]),
		Patch: binary.LittleEndian.Uint32(body[9:13]),
		Build: binary.LittleEndian.Uint32(body[13:17]),
	}, nil
}

// FirmwareStart opens a firmware transfer to the given processor.
type FirmwareStart struct {
	ProcessorID uint8
}

func (p *FirmwareStart) Type() Type         { return TypeCommon }
func (p *FirmwareStart) CommonID() CommonID { return IDFirmwareStart }
func (p *FirmwareStart) Bytes() []byte      { return []byte{byte(IDFirmwareStart), p.ProcessorID} }
func (p *FirmwareStart) Len() int           { return 2 }
func (p *FirmwareStart) String() string {
	return fmt.Sprintf("FirmwareStart processor_id: %d", p.ProcessorID)
}

func decodeFirmwareStart(body []byte) (Common, error) {
	if len(body) < 2 {
		return nil, &TruncatedError{ID: IDFirmwareStart, Need: 2, Got: len(body)}
	}
	return &FirmwareStart{ProcessorID: body[1]}, nil
}

// FirmwareData carries one chunk of a firmware image.
type FirmwareData struct {
	ProcessorID uint8
	Chunk       []byte
}

func (p *FirmwareData) Type() Type         { return TypeCommon }
func (p *FirmwareData) CommonID() CommonID { return IDFirmwareData }
func (p *FirmwareData) Len() int           { return 2 + len(p.Chunk) }

func (p *FirmwareData) Bytes() []byte {
	b := make([]byte, 0, 2+len(p.Chunk))
	b = append(b, byte(IDFirmwareData), p.ProcessorID)
	return append(b, p.Chunk...)
}

func (p *FirmwareData) String() string {
	return fmt.Sprintf("FirmwareData processor_id: %d, %d bytes", p.ProcessorID, len(p.Chunk))
}

func decodeFirmwareData(body []byte) (Common, error) {
	if len(body) < 2 {
		return nil, &TruncatedError{ID: IDFirmwareData, Need: 2, Got: len(body)}
	}
	chunk := make([]byte, len(body)-2)
	copy(chunk, body[2:])
	return &FirmwareData{ProcessorID: body[1], Chunk: chunk}, nil
}

// FirmwareEnd closes a firmware transfer.
type FirmwareEnd struct {
	ProcessorID uint8
}

func (p *FirmwareEnd) Type() Type         { return TypeCommon }
func (p *FirmwareEnd) CommonID() CommonID { return IDFirmwareEnd }
func (p *FirmwareEnd) Bytes() []byte      { return []byte{byte(IDFirmwareEnd), p.ProcessorID} }
func (p *FirmwareEnd) Len() int           { return 2 }
func (p *FirmwareEnd) String() string {
	return fmt.Sprintf("FirmwareEnd processor_id: %d", p.ProcessorID)
}

func decodeFirmwareEnd(body []byte) (Common, error) {
	if len(body) < 2 {
		return nil, &TruncatedError{ID: IDFirmwareEnd, Need: 2, Got: len(body)}
	}
	return &FirmwareEnd{ProcessorID: body[1]}, nil
}

// RequestDeviceName asks an endpoint for its human-readable name.
type RequestDeviceName struct{}

func (p *RequestDeviceName) Type() Type         { return TypeCommon }
func (p *RequestDeviceName) CommonID() CommonID { return IDRequestDeviceName }
func (p *RequestDeviceName) Bytes() []byte      { return []byte{byte(IDRequestDeviceName)} }
func (p *RequestDeviceName) Len() int           { return 1 }
func (p *RequestDeviceName) String() string     { return "RequestDeviceName" }

// ReplyDeviceName carries the endpoint's name as a NUL-terminated ASCII
// string.
type ReplyDeviceName struct {
	Name string
}

func (p *ReplyDeviceName) Type() Type         { return TypeCommon }
func (p *ReplyDeviceName) CommonID() CommonID { return IDReplyDeviceName }
func (p *ReplyDeviceName) Len() int           { return len(p.Name) + 2 }

func (p *ReplyDeviceName) Bytes() []byte {
	b := make([]byte, 0, len(p.Name)+2)
	b = append(b, byte(IDReplyDeviceName))
	return appendCString(b, p.Name)
}

func (p *ReplyDeviceName) String() string {
	return fmt.Sprintf("ReplyDeviceName name: %s", p.Name)
}

func decodeReplyDeviceName(body []byte) (Common, error) {
	return &ReplyDeviceName{Name: cstring(body[1:])}, nil
}

// LoadDefault restores the device's default configuration.
type LoadDefault struct{}

func (p *LoadDefault) Type() Type         { return TypeCommon }
func (p *LoadDefault) CommonID() CommonID { return IDLoadDefault }
func (p *LoadDefault) Bytes() []byte      { return []byte{byte(IDLoadDefault)} }
func (p *LoadDefault) Len() int           { return 1 }
func (p *LoadDefault) String() string     { return "LoadDefault" }

// SaveAsDefault stores the current configuration as default on the endpoint
// with the given UUID.
type SaveAsDefault struct {
	UUID UUID
}

func (p *SaveAsDefault) Type() Type         { return TypeCommon }
func (p *SaveAsDefault) CommonID() CommonID { return IDSaveAsDefault }
func (p *SaveAsDefault) Len() int           { return 13 }

func (p *SaveAsDefault) Bytes() []byte {
	b := []byte{byte(IDSaveAsDefault)}
	return append(b, p.UUID.wireBytes()...)
}

func (p *SaveAsDefault) String() string {
	return fmt.Sprintf("SaveAsDefault uuid: %s", p.UUID)
}

func decodeSaveAsDefault(body []byte) (Common, error) {
	if len(body) < 13 {
		return nil, &TruncatedError{ID: IDSaveAsDefault, Need: 13, Got: len(body)}
	}
	return &SaveAsDefault{UUID: uuidFromWire(body[1:13])}, nil
}

// RequestConfigurationNameUID asks for the name and UID of the parameter at
// the given index within a category.
type RequestConfigurationNameUID struct {
	Category uint8
	Index    uint16
}

func (p *RequestConfigurationNameUID) Type() Type         { return TypeCommon }
func (p *RequestConfigurationNameUID) CommonID() CommonID { return IDRequestConfigurationNameUID }
func (p *RequestConfigurationNameUID) Len() int           { return 4 }

func (p *RequestConfigurationNameUID) Bytes() []byte {
	b := make([]byte, 4)
	b[0] = byte(IDRequestConfigurationNameUID)
	b[1] = p.Category
	binary.LittleEndian.PutUint16(b[2:4], p.Index)
	return b
}

func (p *RequestConfigurationNameUID) String() string {
	return fmt.Sprintf("RequestConfigurationNameUID category: %d, index: %d", p.Category, p.Index)
}

func decodeRequestConfigurationNameUID(body []byte) (Common, error) {
	if len(body) < 4 {
		return nil, &TruncatedError{ID: IDRequestConfigurationNameUID, Need: 4, Got: len(body)}
	}
	return &RequestConfigurationNameUID{
		Category: body[1],
		Index:    binary.LittleEndian.Uint16(body[2:4]),
	}, nil
}

// ReplyConfigurationNameUID names one configuration parameter.
type ReplyConfigurationNameUID struct {
	Index    uint16
	Category uint8
	UID      uint32
	Name     string
}

func (p *ReplyConfigurationNameUID) Type() Type         { return TypeCommon }
func (p *ReplyConfigurationNameUID) CommonID() CommonID { return IDReplyConfigurationNameUID }
func (p *ReplyConfigurationNameUID) Len() int           { return 9 + len(p.Name) }

func (p *ReplyConfigurationNameUID) Bytes() []byte {
	b := make([]byte, 8, 9+len(p.Name))
	b[0] = byte(IDReplyConfigurationNameUID)
	binary.LittleEndian.PutUint16(b[1:3], p.Index)
	b[3] = p.Category
	binary.LittleEndian.PutUint32(b[4:8], p.UID)
	return appendCString(b, p.Name)
}

func (p *ReplyConfigurationNameUID) String() string {
	return fmt.Sprintf("ReplyConfigurationNameUID category: %d, index: %d, uid: %d, name: %s",
		p.Category, p.Index, p.UID, p.Name)
}

func decodeReplyConfigurationNameUID(body []byte) (Common, error) {
	if len(body) < 8 {
		return nil, &TruncatedError{ID: IDReplyConfigurationNameUID, Need: 8, Got: len(body)}
	}
	return &ReplyConfigurationNameUID{
		Index:    binary.LittleEndian.Uint16(body[1:3]),
		Category: body[3],
		UID:      binary.LittleEndian.Uint32(body[4:8]),
		Name:     cstring(body[8:]),
	}, nil
}

// RequestConfigurationValueUID asks for the value of the parameter with the
// given UID.
type RequestConfigurationValueUID struct {
	UID uint32
}

func (p *RequestConfigurationValueUID) Type() Type         { return TypeCommon }
func (p *RequestConfigurationValueUID) CommonID() CommonID { return IDRequestConfigurationValueUID }
func (p *RequestConfigurationValueUID) Len() int           { return 5 }

func (p *RequestConfigurationValueUID) Bytes() []byte {
	b := make([]byte, 5)
	b[0] = byte(IDRequestConfigurationValueUID)
	binary.LittleEndian.PutUint32(b[1:5], p.UID)
	return b
}

func (p *RequestConfigurationValueUID) String() string {
	return fmt.Sprintf("RequestConfigurationValueUID uid: %d", p.UID)
}

func decodeRequestConfigurationValueUID(body []byte) (Common, error) {
	if len(body) < 5 {
		return nil, &TruncatedError{ID: IDRequestConfigurationValueUID, Need: 5, Got: len(body)}
	}
	return &RequestConfigurationValueUID{UID: binary.LittleEndian.Uint32(body[1:5])}, nil
}

// ReplyConfigurationValueUID carries a parameter value with its type tag.
type ReplyConfigurationValueUID struct {
	UID   uint32
	Value Value
}

func (p *ReplyConfigurationValueUID) Type() Type         { return TypeCommon }
func (p *ReplyConfigurationValueUID) CommonID() CommonID { return IDReplyConfigurationValueUID }
func (p *ReplyConfigurationValueUID) Len() int           { return 6 + p.Value.Type.Size() }

func (p *ReplyConfigurationValueUID) Bytes() []byte {
	b := make([]byte, 6, 6+p.Value.Type.Size())
	b[0] = byte(IDReplyConfigurationValueUID)
	binary.LittleEndian.PutUint32(b[1:5], p.UID)
	b[5] = byte(p.Value.Type)
	enc, err := p.Value.Encode()
	if err != nil {
		// Wrong Go type in Data; emit zeroes of the declared width.
		enc = make([]byte, p.Value.Type.Size())
	}
	return append(b, enc...)
}

func (p *ReplyConfigurationValueUID) String() string {
	return fmt.Sprintf("ReplyConfigurationValueUID uid: %d, value: %s", p.UID, p.Value)
}

func decodeReplyConfigurationValueUID(body []byte) (Common, error) {
	if len(body) < 6 {
		return nil, &TruncatedError{ID: IDReplyConfigurationValueUID, Need: 6, Got: len(body)}
	}
	v, err := DecodeValue(ValueType(body[5]), body[6:])
	if err != nil {
		return nil, fmt.Errorf("decoding configuration value: %w", err)
	}
	return &ReplyConfigurationValueUID{UID: binary.LittleEndian.Uint32(body[1:5]), Value: v}, nil
}

// SetConfigurationValueUID writes a parameter value.
type SetConfigurationValueUID struct {
	UID   uint32
	Value Value
}

func (p *SetConfigurationValueUID) Type() Type         { return TypeCommon }
func (p *SetConfigurationValueUID) CommonID() CommonID { return IDSetConfigurationValueUID }
func (p *SetConfigurationValueUID) Len() int           { return 6 + p.Value.Type.Size() }

func (p *SetConfigurationValueUID) Bytes() []byte {
	b := make([]byte, 6, 6+p.Value.Type.Size())
	b[0] = byte(IDSetConfigurationValueUID)
	binary.LittleEndian.PutUint32(b[1:5], p.UID)
	b[5] = byte(p.Value.Type)
	enc, err := p.Value.Encode()
	if err != nil {
		enc = make([]byte, p.Value.Type.Size())
	}
	return append(b, enc...)
}

func (p *SetConfigurationValueUID) String() string {
	return fmt.Sprintf("SetConfigurationValueUID uid: %d, value: %s", p.UID, p.Value)
}

func decodeSetConfigurationValueUID(body []byte) (Common, error) {
	if len(body) < 6 {
		return nil, &TruncatedError{ID: IDSetConfigurationValueUID, Need: 6, Got: len(body)}
	}
	v, err := DecodeValue(ValueType(body[5]), body[6:])
	if err != nil {
		return nil, fmt.Errorf("decoding configuration value: %w", err)
	}
	return &SetConfigurationValueUID{UID: binary.LittleEndian.Uint32(body[1:5]), Value: v}, nil
}

// RequestConfigurationCategory asks for the name of a configuration
// category.
type RequestConfigurationCategory struct {
	Category uint8
}

func (p *RequestConfigurationCategory) Type() Type         { return TypeCommon }
func (p *RequestConfigurationCategory) CommonID() CommonID { return IDRequestConfigurationCategory }
func (p *RequestConfigurationCategory) Bytes() []byte {
	return []byte{byte(IDRequestConfigurationCategory), p.Category}
}
func (p *RequestConfigurationCategory) Len() int { return 2 }
func (p *RequestConfigurationCategory) String() string {
	return fmt.Sprintf("RequestConfigurationCategory category: %d", p.Category)
}

func decodeRequestConfigurationCategory(body []byte) (Common, error) {
	if len(body) < 2 {
		return nil, &TruncatedError{ID: IDRequestConfigurationCategory, Need: 2, Got: len(body)}
	}
	return &RequestConfigurationCategory{Category: body[1]}, nil
}

// ReplyConfigurationCategory names a configuration category.
type ReplyConfigurationCategory struct {
	Category uint8
	Name     string
}

func (p *ReplyConfigurationCategory) Type() Type         { return TypeCommon }
func (p *ReplyConfigurationCategory) CommonID() CommonID { return IDReplyConfigurationCategory }
func (p *ReplyConfigurationCategory) Len() int           { return 3 + len(p.Name) }

func (p *ReplyConfigurationCategory) Bytes() []byte {
	b := make([]byte, 0, 3+len(p.Name))
	b = append(b, byte(IDReplyConfigurationCategory), p.Category)
	return appendCString(b, p.Name)
}

func (p *ReplyConfigurationCategory) String() string {
	return fmt.Sprintf("ReplyConfigurationCategory category: %d, name: %s", p.Category, p.Name)
}

func decodeReplyConfigurationCategory(body []byte) (Common, error) {
	if len(body) < 2 {
		return nil, &TruncatedError{ID: IDReplyConfigurationCategory, Need: 2, Got: len(body)}
	}
	return &ReplyConfigurationCategory{Category: body[1], Name: cstring(body[2:])}, nil
}

// RequestConfigurationValueCount asks how many parameters a category holds.
type RequestConfigurationValueCount struct {
	Category uint8
}

func (p *RequestConfigurationValueCount) Type() Type         { return TypeCommon }
func (p *RequestConfigurationValueCount) CommonID() CommonID { return IDRequestConfigurationValCount }
func (p *RequestConfigurationValueCount) Bytes() []byte {
	return []byte{byte(IDRequestConfigurationValCount), p.Category}
}
func (p *RequestConfigurationValueCount) Len() int { return 2 }
func (p *RequestConfigurationValueCount) String() string {
	return fmt.Sprintf("RequestConfigurationValueCount category: %d", p.Category)
}

func decodeRequestConfigurationValueCount(body []byte) (Common, error) {
	if len(body) < 2 {
		return nil, &TruncatedError{ID: IDRequestConfigurationValCount, Need: 2, Got: len(body)}
	}
	return &RequestConfigurationValueCount{Category: body[1]}, nil
}

// ReplyConfigurationValueCount reports how many parameters a category holds.
type ReplyConfigurationValueCount struct {
	Category uint8
	Count    uint16
}

func (p *ReplyConfigurationValueCount) Type() Type         { return TypeCommon }
func (p *ReplyConfigurationValueCount) CommonID() CommonID { return IDReplyConfigurationValCount }
func (p *ReplyConfigurationValueCount) Len() int           { return 4 }

func (p *ReplyConfigurationValueCount) Bytes() []byte {
	b := make([]byte, 4)
	b[0] = byte(IDReplyConfigurationValCount)
	b[1] = p.Category
	binary.LittleEndian.PutUint16(b[2:4], p.Count)
	return b
}

func (p *ReplyConfigurationValueCount) String() string {
	return fmt.Sprintf("ReplyConfigurationValueCount category: %d, count: %d", p.Category, p.Count)
}

func decodeReplyConfigurationValueCount(body []byte) (Common, error) {
	if len(body) < 4 {
		return nil, &TruncatedError{ID: IDReplyConfigurationValCount, Need: 4, Got: len(body)}
	}
	return &ReplyConfigurationValueCount{
		Category: body[1],
		Count:    binary.LittleEndian.Uint16(body[2:4]),
	}, nil
}

// RequestCategoryCount asks how many configuration categories exist.
type RequestCategoryCount struct{}

func (p *RequestCategoryCount) Type() Type         { return TypeCommon }
func (p *RequestCategoryCount) CommonID() CommonID { return IDRequestCategoryCount }
func (p *RequestCategoryCount) Bytes() []byte      { return []byte{byte(IDRequestCategoryCount)} }
func (p *RequestCategoryCount) Len() int           { return 1 }
func (p *RequestCategoryCount) String() string     { return "RequestCategoryCount" }

// ReplyCategoryCount reports the number of configuration categories.
type ReplyCategoryCount struct {
	Count uint16
}

func (p *ReplyCategoryCount) Type() Type         { return TypeCommon }
func (p *ReplyCategoryCount) CommonID() CommonID { return IDReplyCategoryCount }
func (p *ReplyCategoryCount) Len() int           { return 3 }

func (p *ReplyCategoryCount) Bytes() []byte {
	b := make([]byte, 3)
	b[0] = byte(IDReplyCategoryCount)
	binary.LittleEndian.PutUint16(b[1:3], p.Count)
	return b
}

func (p *ReplyCategoryCount) String() string {
	return fmt.Sprintf("ReplyCategoryCount count: %d", p.Count)
}

func decodeReplyCategoryCount(body []byte) (Common, error) {
	if len(body) < 3 {
		return nil, &TruncatedError{ID: IDReplyCategoryCount, Need: 3, Got: len(body)}
	}
	return &ReplyCategoryCount{Count: binary.LittleEndian.Uint16(body[1:3])}, nil
}

// RequestFirmwareVersionPerID asks for the firmware version of a specific
// processor.
type RequestFirmwareVersionPerID struct {
	ProcessorID uint8
}

func (p *RequestFirmwareVersionPerID) Type() Type         { return TypeCommon }
func (p *RequestFirmwareVersionPerID) CommonID() CommonID { return IDRequestFirmwareVersionPerID }
func (p *RequestFirmwareVersionPerID) Bytes() []byte {
	return []byte{byte(IDRequestFirmwareVersionPerID), p.ProcessorID}
}
func (p *RequestFirmwareVersionPerID) Len() int { return 2 }
func (p *RequestFirmwareVersionPerID) String() string {
	return fmt.Sprintf("RequestFirmwareVersionPerID processor_id: %d", p.ProcessorID)
}

func decodeRequestFirmwareVersionPerID(body []byte) (Common, error) {
	if len(body) < 2 {
		return nil, &TruncatedError{ID: IDRequestFirmwareVersionPerID, Need: 2, Got: len(body)}
	}
	return &RequestFirmwareVersionPerID{ProcessorID: body[1]}, nil
}

// ReplyFirmwareVersionPerID carries a firmware version for one processor.
type ReplyFirmwareVersionPerID struct {
	Major, Minor, Patch, Build uint32
	ProcessorID                uint8
}

func (p *ReplyFirmwareVersionPerID) Type() Type         { return TypeCommon }
func (p *ReplyFirmwareVersionPerID) CommonID() CommonID { return IDReplyFirmwareVersionPerID }
func (p *ReplyFirmwareVersionPerID) Len() int           { return 18 }

func (p *ReplyFirmwareVersionPerID) Bytes() []byte {
	b := make([]byte, 18)
	b[0] = byte(IDReplyFirmwareVersionPerID)
	binary.LittleEndian.PutUint32(b[1:5], p.Major)
	binary.LittleEndian.PutUint32(b[5:9], p.Minor)
	binary.LittleEndian.PutUint32(b[9:13], p.Patch)
	binary.LittleEndian.PutUint32(b[13:17], p.Build)
	b[17] = p.ProcessorID
	return b
}

func (p *ReplyFirmwareVersionPerID) String() string {
	return fmt.Sprintf("ReplyFirmwareVersionPerID %d.%d.%d.%d (processor %d)",
		p.Major, p.Minor, p.Patch, p.Build, p.ProcessorID)
}

func decodeReplyFirmwareVersionPerID(body []byte) (Common, error) {
	if len(body) < 18 {
		return nil, &TruncatedError{ID: IDReplyFirmwareVersionPerID, Need: 18, Got: len(body)}
	}
	return &ReplyFirmwareVersionPerID{
		Major:       binary.LittleEndian.Uint32(body[1:5]),
		Minor:       binary.LittleEndian.Uint32(body[5:9]),
		Patch:       binary.LittleEndian.Uint32(body[9:13]),
		Build:       binary.LittleEndian.Uint32(body[13:17]),
		ProcessorID: body[17],
	}, nil
}

// DebugOutput carries a free-form diagnostic message from the device.
type DebugOutput struct {
	Message string
}

func (p *DebugOutput) Type() Type         { return TypeCommon }
func (p *DebugOutput) CommonID() CommonID { return IDDebugOutput }
func (p *DebugOutput) Len() int           { return len(p.Message) + 2 }

func (p *DebugOutput) Bytes() []byte {
	b := make([]byte, 0, len(p.Message)+2)
	b = append(b, byte(IDDebugOutput))
	return appendCString(b, p.Message)
}

func (p *DebugOutput) String() string {
	return fmt.Sprintf("DebugOutput: %s", p.Message)
}

func decodeDebugOutput(body []byte) (Common, error) {
	return &DebugOutput{Message: cstring(body[1:])}, nil
}

// Reboot restarts the device.
type Reboot struct{}

func (p *Reboot) Type() Type         { return TypeCommon }
func (p *Reboot) CommonID() CommonID { return IDReboot }
func (p *Reboot) Bytes() []byte      { return []byte{byte(IDReboot)} }
func (p *Reboot) Len() int           { return 1 }
func (p *Reboot) String() string     { return "Reboot" }

// ResetParameter resets all parameters. Mode ResetModeCompiledDefault
// selects the compiled-in defaults; any other mode selects factory
// defaults.
type ResetParameter struct {
	Mode uint8
}

func (p *ResetParameter) Type() Type         { return TypeCommon }
func (p *ResetParameter) CommonID() CommonID { return IDResetParameter }
func (p *ResetParameter) Bytes() []byte      { return []byte{byte(IDResetParameter), p.Mode} }
func (p *ResetParameter) Len() int           { return 2 }
func (p *ResetParameter) String() string {
	return fmt.Sprintf("ResetParameter mode: %d", p.Mode)
}

func decodeResetParameter(body []byte) (Common, error) {
	if len(body) < 2 {
		return nil, &TruncatedError{ID: IDResetParameter, Need: 2, Got: len(body)}
	}
	return &ResetParameter{Mode: body[1]}, nil
}

type commonDecoder func(body []byte) (Common, error)

var commonDecoders = map[CommonID]commonDecoder{
	IDRequestDeviceID:              func([]byte) (Common, error) { return &RequestDeviceID{}, nil },
	IDReplyDeviceID:                decodeReplyDeviceID,
	IDSetTxID:                      decodeSetTxID,
	IDRequestFirmwareVersion:       func([]byte) (Common, error) { return &RequestFirmwareVersion{}, nil },
	IDReplyFirmwareVersion:         decodeReplyFirmwareVersion,
	IDFirmwareStart:                decodeFirmwareStart,
	IDFirmwareData:                 decodeFirmwareData,
	IDFirmwareEnd:                  decodeFirmwareEnd,
	IDRequestDeviceName:            func([]byte) (Common, error) { return &RequestDeviceName{}, nil },
	IDReplyDeviceName:              decodeReplyDeviceName,
	IDLoadDefault:                  func([]byte) (Common, error) { return &LoadDefault{}, nil },
	IDSaveAsDefault:                decodeSaveAsDefault,
	IDRequestConfigurationNameUID:  decodeRequestConfigurationNameUID,
	IDReplyConfigurationNameUID:    decodeReplyConfigurationNameUID,
	IDRequestConfigurationValueUID: decodeRequestConfigurationValueUID,
	IDReplyConfigurationValueUID:   decodeReplyConfigurationValueUID,
	IDSetConfigurationValueUID:     decodeSetConfigurationValueUID,
	IDRequestConfigurationCategory: decodeRequestConfigurationCategory,
	IDReplyConfigurationCategory:   decodeReplyConfigurationCategory,
	IDRequestConfigurationValCount: decodeRequestConfigurationValueCount,
	IDReplyConfigurationValCount:   decodeReplyConfigurationValueCount,
	IDRequestCategoryCount:         func([]byte) (Common, error) { return &RequestCategoryCount{}, nil },
	IDReplyCategoryCount:           decodeReplyCategoryCount,
	IDRequestFirmwareVersionPerID:  decodeRequestFirmwareVersionPerID,
	IDReplyFirmwareVersionPerID:    decodeReplyFirmwareVersionPerID,
	IDDebugOutput:                  decodeDebugOutput,
	IDReboot:                       func([]byte) (Common, error) { return &Reboot{}, nil },
	IDResetParameter:               decodeResetParameter,
	IDRequestProcedureSpec:         decodeRequestProcedureSpec,
	IDReplyProcedureSpec:           decodeReplyProcedureSpec,
	IDRequestProcedureCall:         decodeRequestProcedureCall,
	IDReplyProcedureCall:           decodeReplyProcedureCall,
}

// decodeCommon dispatches on the leading common payload ID byte.
func decodeCommon(body []byte) (Payload, error) {
	if len(body) == 0 {
		return nil, &TruncatedError{ID: 0, Need: 1, Got: 0}
	}
	id := CommonID(body[0])
	dec, ok := commonDecoders[id]
	if !ok {
		return nil, &InvalidCommonIDError{ID: id}
	}
	return dec(body)
}
