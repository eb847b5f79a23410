package device

import (
	"encoding/binary"
	"fmt"

	"github.com/ardnew/scopefw/pkg"
)

// Standard USB request codes (USB 2.0 Spec Table 9-4).
const (
	RequestGetStatus        = 0x00
	RequestClearFeature     = 0x01
	RequestSetFeature       = 0x03
	RequestSetAddress       = 0x05
	RequestGetDescriptor    = 0x06
	RequestSetDescriptor    = 0x07
	RequestGetConfiguration = 0x08
	RequestSetConfiguration = 0x09
	RequestGetInterface     = 0x0A
	RequestSetInterface     = 0x0B
	RequestSynchFrame       = 0x0C
)

// Feature selectors (USB 2.0 Spec Table 9-6).
const (
	FeatureEndpointHalt       = 0x00
	FeatureDeviceRemoteWakeup = 0x01
	FeatureTestMode           = 0x02
)

// bmRequestType fields (USB 2.0 Spec Table 9-2).
const (
	RequestTypeDirectionMask = 0x80
	RequestTypeTypeMask      = 0x60
	RequestTypeRecipientMask = 0x1F

	RequestDirectionHostToDevice = 0x00
	RequestDirectionDeviceToHost = 0x80

	RequestTypeStandard = 0x00
	RequestTypeClass    = 0x20
	RequestTypeVendor   = 0x40

	RequestRecipientDevice    = 0x00
	RequestRecipientInterface = 0x01
	RequestRecipientEndpoint  = 0x02
	RequestRecipientOther     = 0x03
)

// SetupPacket represents an 8-byte USB SETUP packet.
type SetupPacket struct {
	RequestType uint8  // bmRequestType
	Request     uint8  // bRequest
	Value       uint16 // wValue
	Index       uint16 // wIndex
	Length      uint16 // wLength: size of the data stage
}

// SetupPacketSize is the size of a USB SETUP packet in bytes.
const SetupPacketSize = 8

// ParseSetupPacket decodes 8 bytes of SETUP data into out.
func ParseSetupPacket(data []byte, out *SetupPacket) error {
	if len(data) < SetupPacketSize {
		return pkg.ErrSetupPacketTooShort
	}
	out.RequestType = data[0]
	out.Request = data[1]
	out.Value = binary.LittleEndian.Uint16(data[2:])
	out.Index = binary.LittleEndian.Uint16(data[4:])
	out.Length = binary.LittleEndian.Uint16(data[6:])
	return nil
}

// MarshalTo encodes the packet into buf and returns 8, or 0 if buf is too small.
func (s *SetupPacket) MarshalTo(buf []byte) int {
	if len(buf) < SetupPacketSize {
		return 0
	}
	buf[0] = s.RequestType
	buf[1] = s.Request
	binary.LittleEndian.PutUint16(buf[2:], s.Value)
	binary.LittleEndian.PutUint16(buf[4:], s.Index)
	binary.LittleEndian.PutUint16(buf[6:], s.Length)
	return SetupPacketSize
}

// Bytes returns the packet in wire order.
func (s *SetupPacket) Bytes() (b [SetupPacketSize]byte) {
	s.MarshalTo(b[:])
	return b
}

// Direction returns the data stage direction bit.
func (s *SetupPacket) Direction() uint8 { return s.RequestType & RequestTypeDirectionMask }

// IsDeviceToHost returns true for requests with an IN data stage.
func (s *SetupPacket) IsDeviceToHost() bool {
	return s.Direction() == RequestDirectionDeviceToHost
}

// IsHostToDevice returns true for requests with an OUT (or no) data stage.
func (s *SetupPacket) IsHostToDevice() bool {
	return s.Direction() == RequestDirectionHostToDevice
}

// IsDataOut reports whether the request carries an OUT data stage.
func (s *SetupPacket) IsDataOut() bool {
	return s.IsHostToDevice() && s.Length > 0
}

// Type returns the request type (Standard, Class, or Vendor).
func (s *SetupPacket) Type() uint8 { return s.RequestType & RequestTypeTypeMask }

// IsStandard returns true if this is a standard request.
func (s *SetupPacket) IsStandard() bool { return s.Type() == RequestTypeStandard }

// IsVendor returns true if this is a vendor-specific request.
func (s *SetupPacket) IsVendor() bool { return s.Type() == RequestTypeVendor }

// Recipient returns the request recipient.
func (s *SetupPacket) Recipient() uint8 { return s.RequestType & RequestTypeRecipientMask }

// IsDeviceRecipient returns true if the recipient is the device.
func (s *SetupPacket) IsDeviceRecipient() bool { return s.Recipient() == RequestRecipientDevice }

// IsInterfaceRecipient returns true if the recipient is an interface.
func (s *SetupPacket) IsInterfaceRecipient() bool {
	return s.Recipient() == RequestRecipientInterface
}

// IsEndpointRecipient returns true if the recipient is an endpoint.
func (s *SetupPacket) IsEndpointRecipient() bool {
	return s.Recipient() == RequestRecipientEndpoint
}

// DescriptorType returns the descriptor type from the wValue high byte.
func (s *SetupPacket) DescriptorType() uint8 { return uint8(s.Value >> 8) }

// DescriptorIndex returns the descriptor index from the wValue low byte.
func (s *SetupPacket) DescriptorIndex() uint8 { return uint8(s.Value) }

// InterfaceNumber returns the interface number from wIndex.
func (s *SetupPacket) InterfaceNumber() uint8 { return uint8(s.Index) }

// EndpointAddress returns the endpoint address from wIndex.
func (s *SetupPacket) EndpointAddress() uint8 { return uint8(s.Index) }

// String returns a human-readable representation of the setup packet.
func (s *SetupPacket) String() string {
	dir := "OUT"
	if s.IsDeviceToHost() {
		dir = "IN"
	}
	var kind string
	switch s.Type() {
	case RequestTypeStandard:
		kind = standardRequestName(s.Request)
	case RequestTypeClass:
		kind = fmt.Sprintf("Class(0x%02X)", s.Request)
	case RequestTypeVendor:
		kind = fmt.Sprintf("Vendor(0x%02X)", s.Request)
	default:
		kind = fmt.Sprintf("Reserved(0x%02X)", s.Request)
	}
	return fmt.Sprintf("SETUP[%s %s] Value=0x%04X Index=0x%04X Length=%d",
		dir, kind, s.Value, s.Index, s.Length)
}

func standardRequestName(req uint8) string {
	switch req {
	case RequestGetStatus:
		return "GET_STATUS"
	case RequestClearFeature:
		return "CLEAR_FEATURE"
	case RequestSetFeature:
		return "SET_FEATURE"
	case RequestSetAddress:
		return "SET_ADDRESS"
	case RequestGetDescriptor:
		return "GET_DESCRIPTOR"
	case RequestSetDescriptor:
		return "SET_DESCRIPTOR"
	case RequestGetConfiguration:
		return "GET_CONFIGURATION"
	case RequestSetConfiguration:
		return "SET_CONFIGURATION"
	case RequestGetInterface:
		return "GET_INTERFACE"
	case RequestSetInterface:
		return "SET_INTERFACE"
	case RequestSynchFrame:
		return "SYNCH_FRAME"
	default:
		return fmt.Sprintf("Standard(0x%02X)", req)
	}
}

// Request builders, used by hosts and tests.

// GetDescriptorSetup initializes out as a GET_DESCRIPTOR setup packet.
func GetDescriptorSetup(out *SetupPacket, descType, descIndex uint8, length uint16) {
	*out = SetupPacket{
		RequestType: RequestDirectionDeviceToHost | RequestTypeStandard | RequestRecipientDevice,
		Request:     RequestGetDescriptor,
		Value:       uint16(descType)<<8 | uint16(descIndex),
		Length:      length,
	}
}

// GetSetAddressSetup initializes out as a SET_ADDRESS setup packet.
func GetSetAddressSetup(out *SetupPacket, address uint8) {
	*out = SetupPacket{
		RequestType: RequestDirectionHostToDevice | RequestTypeStandard | RequestRecipientDevice,
		Request:     RequestSetAddress,
		Value:       uint16(address),
	}
}

// GetSetConfigurationSetup initializes out as a SET_CONFIGURATION setup packet.
func GetSetConfigurationSetup(out *SetupPacket, config uint8) {
	*out = SetupPacket{
		RequestType: RequestDirectionHostToDevice | RequestTypeStandard | RequestRecipientDevice,
		Request:     RequestSetConfiguration,
		Value:       uint16(config),
	}
}

// GetConfigurationSetup initializes out as a GET_CONFIGURATION setup packet.
func GetConfigurationSetup(out *SetupPacket) {
	*out = SetupPacket{
		RequestType: RequestDirectionDeviceToHost | RequestTypeStandard | RequestRecipientDevice,
		Request:     RequestGetConfiguration,
		Length:      1,
	}
}

// GetStatusSetup initializes out as a GET_STATUS setup packet.
func GetStatusSetup(out *SetupPacket, recipient uint8, index uint16) {
	*out = SetupPacket{
		RequestType: RequestDirectionDeviceToHost | RequestTypeStandard | recipient,
		Request:     RequestGetStatus,
		Index:       index,
		Length:      2,
	}
}

// GetSetFeatureSetup initializes out as a SET_FEATURE setup packet.
func GetSetFeatureSetup(out *SetupPacket, recipient uint8, feature uint16, index uint16) {
	*out = SetupPacket{
		RequestType: RequestDirectionHostToDevice | RequestTypeStandard | recipient,
		Request:     RequestSetFeature,
		Value:       feature,
		Index:       index,
	}
}

// GetClearFeatureSetup initializes out as a CLEAR_FEATURE setup packet.
func GetClearFeatureSetup(out *SetupPacket, recipient uint8, feature uint16, index uint16) {
	*out = SetupPacket{
		RequestType: RequestDirectionHostToDevice | RequestTypeStandard | recipient,
		Request:     RequestClearFeature,
		Value:       feature,
		Index:       index,
	}
}

// GetSetInterfaceSetup initializes out as a SET_INTERFACE setup packet.
func GetSetInterfaceSetup(out *SetupPacket, interfaceNum, alternateSetting uint8) {
	*out = SetupPacket{
		RequestType: RequestDirectionHostToDevice | RequestTypeStandard | RequestRecipientInterface,
		Request:     RequestSetInterface,
		Value:       uint16(alternateSetting),
		Index:       uint16(interfaceNum),
	}
}

// GetInterfaceSetup initializes out as a GET_INTERFACE setup packet.
func GetInterfaceSetup(out *SetupPacket, interfaceNum uint8) {
	*out = SetupPacket{
		RequestType: RequestDirectionDeviceToHost | RequestTypeStandard | RequestRecipientInterface,
		Request:     RequestGetInterface,
		Index:       uint16(interfaceNum),
		Length:      1,
	}
}

// VendorOutSetup initializes out as a host-to-device vendor request
// addressed to the device, announcing length bytes of data.
func VendorOutSetup(out *SetupPacket, request uint8, value, index, length uint16) {
	*out = SetupPacket{
		RequestType: RequestDirectionHostToDevice | RequestTypeVendor | RequestRecipientDevice,
		Request:     request,
		Value:       value,
		Index:       index,
		Length:      length,
	}
}
