package device

import (
	"encoding/binary"
	"unicode/utf16"

	"github.com/ardnew/scopefw/pkg"
)

// USB Descriptor Types (USB 2.0 Spec Table 9-5).
const (
	DescriptorTypeDevice           = 0x01
	DescriptorTypeConfiguration    = 0x02
	DescriptorTypeString           = 0x03
	DescriptorTypeInterface        = 0x04
	DescriptorTypeEndpoint         = 0x05
	DescriptorTypeDeviceQualifier  = 0x06
	DescriptorTypeOtherSpeedConfig = 0x07
	DescriptorTypeInterfacePower   = 0x08
)

// USB Class Codes.
const (
	ClassPerInterface = 0x00 // Class defined at interface level
	ClassVendor       = 0xFF // Vendor Specific
)

// Descriptor sizes in bytes.
const (
	DeviceDescriptorSize          = 18
	DeviceQualifierDescriptorSize = 10
	ConfigurationDescriptorSize   = 9
	InterfaceDescriptorSize       = 9
	EndpointDescriptorSize        = 7
)

// checkHeader validates the length and bDescriptorType of a raw descriptor.
func checkHeader(data []byte, size int, descType ...uint8) error {
	if len(data) < size {
		return pkg.ErrDescriptorTooShort
	}
	for _, t := range descType {
		if data[1] == t {
			return nil
		}
	}
	return pkg.ErrDescriptorTypeMismatch
}

// DeviceDescriptor represents a USB device descriptor.
type DeviceDescriptor struct {
	Length            uint8
	DescriptorType    uint8
	USBVersion        uint16 // BCD
	DeviceClass       uint8
	DeviceSubClass    uint8
	DeviceProtocol    uint8
	MaxPacketSize0    uint8
	VendorID          uint16
	ProductID         uint16
	DeviceVersion     uint16 // BCD
	ManufacturerIndex uint8
	ProductIndex      uint8
	SerialNumberIndex uint8
	NumConfigurations uint8
}

// MarshalTo serializes the device descriptor to buf.
// Returns the number of bytes written, or 0 if buf is too small.
func (d *DeviceDescriptor) MarshalTo(buf []byte) int {
	if len(buf) < DeviceDescriptorSize {
		return 0
	}
	buf[0] = DeviceDescriptorSize
	buf[1] = DescriptorTypeDevice
	binary.LittleEndian.PutUint16(buf[2:], d.USBVersion)
	buf[4] = d.DeviceClass
	buf[5] = d.DeviceSubClass
	buf[6] = d.DeviceProtocol
	buf[7] = d.MaxPacketSize0
	binary.LittleEndian.PutUint16(buf[8:], d.VendorID)
	binary.LittleEndian.PutUint16(buf[10:], d.ProductID)
	binary.LittleEndian.PutUint16(buf[12:], d.DeviceVersion)
	buf[14] = d.ManufacturerIndex
	buf[15] = d.ProductIndex
	buf[16] = d.SerialNumberIndex
	buf[17] = d.NumConfigurations
	return DeviceDescriptorSize
}

// ParseDeviceDescriptor parses a device descriptor from bytes into out.
func ParseDeviceDescriptor(data []byte, out *DeviceDescriptor) error {
	if err := checkHeader(data, DeviceDescriptorSize, DescriptorTypeDevice); err != nil {
		return err
	}
	*out = DeviceDescriptor{
		Length:            data[0],
		DescriptorType:    data[1],
		USBVersion:        binary.LittleEndian.Uint16(data[2:]),
		DeviceClass:       data[4],
		DeviceSubClass:    data[5],
		DeviceProtocol:    data[6],
		MaxPacketSize0:    data[7],
		VendorID:          binary.LittleEndian.Uint16(data[8:]),
		ProductID:         binary.LittleEndian.Uint16(data[10:]),
		DeviceVersion:     binary.LittleEndian.Uint16(data[12:]),
		ManufacturerIndex: data[14],
		ProductIndex:      data[15],
		SerialNumberIndex: data[16],
		NumConfigurations: data[17],
	}
	return nil
}

// QualifierTo writes the DEVICE_QUALIFIER descriptor derived from d, which
// describes the device as it would enumerate at the other speed.
func (d *DeviceDescriptor) QualifierTo(buf []byte) int {
	if len(buf) < DeviceQualifierDescriptorSize {
		return 0
	}
	buf[0] = DeviceQualifierDescriptorSize
	buf[1] = DescriptorTypeDeviceQualifier
	binary.LittleEndian.PutUint16(buf[2:], d.USBVersion)
	buf[4] = d.DeviceClass
	buf[5] = d.DeviceSubClass
	buf[6] = d.DeviceProtocol
	buf[7] = d.MaxPacketSize0
	buf[8] = d.NumConfigurations
	buf[9] = 0
	return DeviceQualifierDescriptorSize
}

// ConfigurationDescriptor represents the 9-byte header of a configuration
// (or other-speed configuration) descriptor set.
type ConfigurationDescriptor struct {
	Length             uint8
	DescriptorType     uint8 // Configuration or OtherSpeedConfig
	TotalLength        uint16
	NumInterfaces      uint8
	ConfigurationValue uint8
	ConfigurationIndex uint8
	Attributes         uint8
	MaxPower           uint8 // 2mA units
}

// Configuration attribute bits.
const (
	ConfigAttrBusPowered   = 0x80 // Reserved, always set
	ConfigAttrSelfPowered  = 0x40
	ConfigAttrRemoteWakeup = 0x20
)

// MarshalTo serializes the configuration header to buf.
// A zero DescriptorType is written as a CONFIGURATION descriptor.
func (c *ConfigurationDescriptor) MarshalTo(buf []byte) int {
	if len(buf) < ConfigurationDescriptorSize {
		return 0
	}
	descType := c.DescriptorType
	if descType == 0 {
		descType = DescriptorTypeConfiguration
	}
	buf[0] = ConfigurationDescriptorSize
	buf[1] = descType
	binary.LittleEndian.PutUint16(buf[2:], c.TotalLength)
	buf[4] = c.NumInterfaces
	buf[5] = c.ConfigurationValue
	buf[6] = c.ConfigurationIndex
	buf[7] = c.Attributes
	buf[8] = c.MaxPower
	return ConfigurationDescriptorSize
}

// ParseConfigurationDescriptor parses a configuration header from bytes into
// out. OTHER_SPEED_CONFIGURATION headers are accepted as well.
func ParseConfigurationDescriptor(data []byte, out *ConfigurationDescriptor) error {
	err := checkHeader(data, ConfigurationDescriptorSize,
		DescriptorTypeConfiguration, DescriptorTypeOtherSpeedConfig)
	if err != nil {
		return err
	}
	*out = ConfigurationDescriptor{
		Length:             data[0],
		DescriptorType:     data[1],
		TotalLength:        binary.LittleEndian.Uint16(data[2:]),
		NumInterfaces:      data[4],
		ConfigurationValue: data[5],
		ConfigurationIndex: data[6],
		Attributes:         data[7],
		MaxPower:           data[8],
	}
	return nil
}

// InterfaceDescriptor represents a USB interface descriptor.
type InterfaceDescriptor struct {
	Length            uint8
	DescriptorType    uint8
	InterfaceNumber   uint8
	AlternateSetting  uint8
	NumEndpoints      uint8 // Excluding EP0
	InterfaceClass    uint8
	InterfaceSubClass uint8
	InterfaceProtocol uint8
	InterfaceIndex    uint8
}

// MarshalTo serializes the interface descriptor to buf.
func (i *InterfaceDescriptor) MarshalTo(buf []byte) int {
	if len(buf) < InterfaceDescriptorSize {
		return 0
	}
	buf[0] = InterfaceDescriptorSize
	buf[1] = DescriptorTypeInterface
	buf[2] = i.InterfaceNumber
	buf[3] = i.AlternateSetting
	buf[4] = i.NumEndpoints
	buf[5] = i.InterfaceClass
	buf[6] = i.InterfaceSubClass
	buf[7] = i.InterfaceProtocol
	buf[8] = i.InterfaceIndex
	return InterfaceDescriptorSize
}

// ParseInterfaceDescriptor parses an interface descriptor from bytes into out.
func ParseInterfaceDescriptor(data []byte, out *InterfaceDescriptor) error {
	if err := checkHeader(data, InterfaceDescriptorSize, DescriptorTypeInterface); err != nil {
		return err
	}
	*out = InterfaceDescriptor{
		Length:            data[0],
		DescriptorType:    data[1],
		InterfaceNumber:   data[2],
		AlternateSetting:  data[3],
		NumEndpoints:      data[4],
		InterfaceClass:    data[5],
		InterfaceSubClass: data[6],
		InterfaceProtocol: data[7],
		InterfaceIndex:    data[8],
	}
	return nil
}

// EndpointDescriptor represents a USB endpoint descriptor.
type EndpointDescriptor struct {
	Length          uint8
	DescriptorType  uint8
	EndpointAddress uint8  // Including direction bit
	Attributes      uint8  // Transfer type, sync and usage
	MaxPacketSize   uint16 // Bits 12:11 hold additional transactions per microframe
	Interval        uint8
}

// MarshalTo serializes the endpoint descriptor to buf.
func (e *EndpointDescriptor) MarshalTo(buf []byte) int {
	if len(buf) < EndpointDescriptorSize {
		return 0
	}
	buf[0] = EndpointDescriptorSize
	buf[1] = DescriptorTypeEndpoint
	buf[2] = e.EndpointAddress
	buf[3] = e.Attributes
	binary.LittleEndian.PutUint16(buf[4:], e.MaxPacketSize)
	buf[6] = e.Interval
	return EndpointDescriptorSize
}

// ParseEndpointDescriptor parses an endpoint descriptor from bytes into out.
func ParseEndpointDescriptor(data []byte, out *EndpointDescriptor) error {
	if err := checkHeader(data, EndpointDescriptorSize, DescriptorTypeEndpoint); err != nil {
		return err
	}
	*out = EndpointDescriptor{
		Length:          data[0],
		DescriptorType:  data[1],
		EndpointAddress: data[2],
		Attributes:      data[3],
		MaxPacketSize:   binary.LittleEndian.Uint16(data[4:]),
		Interval:        data[6],
	}
	return nil
}

// StringDescriptorTo writes s as a UTF-16LE string descriptor to buf.
// Strings longer than a descriptor can hold are truncated.
// Returns the number of bytes written, or 0 if buf is too small.
func StringDescriptorTo(buf []byte, s string) int {
	units := utf16.Encode([]rune(s))
	if limit := (255 - 2) / 2; len(units) > limit {
		units = units[:limit]
	}
	length := 2 + 2*len(units)
	if len(buf) < length {
		return 0
	}
	buf[0] = uint8(length)
	buf[1] = DescriptorTypeString
	for i, u := range units {
		binary.LittleEndian.PutUint16(buf[2+2*i:], u)
	}
	return length
}

// LanguageDescriptorTo writes string descriptor zero, the list of supported
// language IDs, to buf.
func LanguageDescriptorTo(buf []byte, langIDs ...uint16) int {
	length := 2 + 2*len(langIDs)
	if len(buf) < length {
		return 0
	}
	buf[0] = uint8(length)
	buf[1] = DescriptorTypeString
	for i, id := range langIDs {
		binary.LittleEndian.PutUint16(buf[2+2*i:], id)
	}
	return length
}

// LangIDUSEnglish is the language ID for US English.
const LangIDUSEnglish = 0x0409
