package device

import (
	"fmt"
	"sync"

	"github.com/ardnew/scopefw/pkg"
)

// Endpoint transfer types (USB 2.0 Spec Table 9-13).
const (
	EndpointTypeControl     = 0x00
	EndpointTypeIsochronous = 0x01
	EndpointTypeBulk        = 0x02
	EndpointTypeInterrupt   = 0x03
)

// Endpoint directions.
const (
	EndpointDirectionOut = 0x00 // Host to device
	EndpointDirectionIn  = 0x80 // Device to host
)

// Isochronous synchronization types (bits 2-3 of Attributes).
const (
	IsoSyncNone     = 0x00
	IsoSyncAsync    = 0x04
	IsoSyncAdaptive = 0x08
	IsoSyncSync     = 0x0C
)

// High-bandwidth wMaxPacketSize fields (USB 2.0 Spec Table 9-13).
const (
	PacketSizeMask         = 0x07FF // Bytes per transaction
	PacketTransactionShift = 11     // Additional transactions per microframe
	PacketTransactionMask  = 0x03
)

// Endpoint represents a USB endpoint. A dual-speed device describes the
// same endpoint with a different wMaxPacketSize at each speed.
type Endpoint struct {
	Address    uint8
	Attributes uint8
	Interval   uint8

	// MaxPacketSize is the high speed wMaxPacketSize, including the
	// transactions-per-microframe bits.
	MaxPacketSize uint16

	// FullSpeedMaxPacketSize is used when the link runs at full speed.
	// Zero means MaxPacketSize applies at every speed.
	FullSpeedMaxPacketSize uint16

	stalled bool
	mutex   sync.Mutex
}

// Number returns the endpoint number (0-15).
func (e *Endpoint) Number() uint8 { return e.Address & 0x0F }

// Direction returns EndpointDirectionIn or EndpointDirectionOut.
func (e *Endpoint) Direction() uint8 { return e.Address & 0x80 }

// IsIn returns true if this is an IN endpoint (device to host).
func (e *Endpoint) IsIn() bool { return e.Direction() == EndpointDirectionIn }

// TransferType returns the transfer type bits of Attributes.
func (e *Endpoint) TransferType() uint8 { return e.Attributes & 0x03 }

// IsBulk returns true if this is a bulk endpoint.
func (e *Endpoint) IsBulk() bool { return e.TransferType() == EndpointTypeBulk }

// IsIsochronous returns true if this is an isochronous endpoint.
func (e *Endpoint) IsIsochronous() bool { return e.TransferType() == EndpointTypeIsochronous }

// MaxPacketSizeAt returns the wMaxPacketSize reported at speed.
func (e *Endpoint) MaxPacketSizeAt(speed Speed) uint16 {
	if speed != SpeedHigh && e.FullSpeedMaxPacketSize != 0 {
		return e.FullSpeedMaxPacketSize
	}
	return e.MaxPacketSize
}

// PacketBytes returns the bytes per transaction encoded in a wMaxPacketSize.
func PacketBytes(mps uint16) uint16 { return mps & PacketSizeMask }

// PacketTransactions returns the transactions per microframe (1-3) encoded in
// a wMaxPacketSize.
func PacketTransactions(mps uint16) uint8 {
	return uint8(mps>>PacketTransactionShift)&PacketTransactionMask + 1
}

// SetStall sets or clears the halt condition.
func (e *Endpoint) SetStall(stalled bool) {
	e.mutex.Lock()
	e.stalled = stalled
	e.mutex.Unlock()
	pkg.LogDebug(pkg.ComponentEndpoint, "endpoint halt",
		"address", fmt.Sprintf("0x%02X", e.Address),
		"stalled", stalled)
}

// IsStalled returns true if the endpoint is halted.
func (e *Endpoint) IsStalled() bool {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	return e.stalled
}

// Descriptor returns the endpoint descriptor as reported at speed.
func (e *Endpoint) Descriptor(speed Speed) *EndpointDescriptor {
	return &EndpointDescriptor{
		Length:          EndpointDescriptorSize,
		DescriptorType:  DescriptorTypeEndpoint,
		EndpointAddress: e.Address,
		Attributes:      e.Attributes,
		MaxPacketSize:   e.MaxPacketSizeAt(speed),
		Interval:        e.Interval,
	}
}

// TransferTypeName returns a human-readable transfer type name.
func TransferTypeName(t uint8) string {
	switch t & 0x03 {
	case EndpointTypeControl:
		return "Control"
	case EndpointTypeIsochronous:
		return "Isochronous"
	case EndpointTypeBulk:
		return "Bulk"
	default:
		return "Interrupt"
	}
}

// DirectionName returns a human-readable direction name.
func DirectionName(dir uint8) string {
	if dir&EndpointDirectionIn != 0 {
		return "IN"
	}
	return "OUT"
}
