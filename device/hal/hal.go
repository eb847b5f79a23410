package hal

import (
	"context"
)

// Speed represents the USB connection speed.
type Speed uint8

// USB speed constants (USB 2.0 Specification).
const (
	SpeedUnknown Speed = iota // Not connected or unknown
	SpeedLow                  // Low Speed (1.5 Mbit/s)
	SpeedFull                 // Full Speed (12 Mbit/s)
	SpeedHigh                 // High Speed (480 Mbit/s)
)

// String returns a human-readable speed name.
func (s Speed) String() string {
	switch s {
	case SpeedLow:
		return "Low Speed"
	case SpeedFull:
		return "Full Speed"
	case SpeedHigh:
		return "High Speed"
	default:
		return "Unknown"
	}
}

// ParseSpeed returns the speed named by s ("full", "high", "low").
func ParseSpeed(s string) (Speed, bool) {
	switch s {
	case "low", "ls":
		return SpeedLow, true
	case "full", "fs":
		return SpeedFull, true
	case "high", "hs":
		return SpeedHigh, true
	default:
		return SpeedUnknown, false
	}
}

// SetupPacket is the raw form of a SETUP packet as read from the controller.
type SetupPacket struct {
	RequestType uint8
	Request     uint8
	Value       uint16
	Index       uint16
	Length      uint16
}

// SetupPacketSize is the size of a USB SETUP packet in bytes.
const SetupPacketSize = 8

// ParseSetupPacket decodes raw SETUP data into out.
// Returns false if data is too short.
func ParseSetupPacket(data []byte, out *SetupPacket) bool {
	if len(data) < SetupPacketSize {
		return false
	}
	out.RequestType = data[0]
	out.Request = data[1]
	out.Value = uint16(data[2]) | uint16(data[3])<<8
	out.Index = uint16(data[4]) | uint16(data[5])<<8
	out.Length = uint16(data[6]) | uint16(data[7])<<8
	return true
}

// MarshalTo writes the setup packet to buf.
// Returns the number of bytes written (8), or 0 if buf is too small.
func (s *SetupPacket) MarshalTo(buf []byte) int {
	if len(buf) < SetupPacketSize {
		return 0
	}
	buf[0] = s.RequestType
	buf[1] = s.Request
	buf[2] = byte(s.Value)
	buf[3] = byte(s.Value >> 8)
	buf[4] = byte(s.Index)
	buf[5] = byte(s.Index >> 8)
	buf[6] = byte(s.Length)
	buf[7] = byte(s.Length >> 8)
	return SetupPacketSize
}

// DeviceHAL is the controller interface used by the device stack.
//
// ReadSetup, ReadEP0, WriteEP0, StallEP0 and AckEP0 are called only from the
// stack's control loop. The remaining methods may be called from any
// goroutine.
type DeviceHAL interface {
	// Init prepares the controller. The context bounds initialization.
	Init(ctx context.Context) error

	// Start attaches the device to the bus.
	Start() error

	// Stop detaches from the bus.
	Stop() error

	// SetAddress applies the address assigned by SET_ADDRESS. Called after
	// the status stage. Controllers that assign it in hardware ignore it.
	SetAddress(address uint8) error

	// ReadSetup blocks until a SETUP packet arrives and decodes it into out.
	// It returns pkg.ErrReset after a bus reset, pkg.ErrSuspend when the bus
	// is suspended, or the context error.
	ReadSetup(ctx context.Context, out *SetupPacket) error

	// WriteEP0 sends the IN data stage of the current control transfer.
	WriteEP0(ctx context.Context, data []byte) error

	// ReadEP0 receives the OUT data stage into buf and returns the number
	// of bytes read. A zero-length buf completes the status stage of an IN
	// transfer.
	ReadEP0(ctx context.Context, buf []byte) (int, error)

	// StallEP0 stalls the current control transfer.
	StallEP0() error

	// AckEP0 completes the status stage of an OUT transfer.
	AckEP0() error

	// Stall halts a data endpoint.
	Stall(address uint8) error

	// ClearStall clears the halt condition of a data endpoint.
	ClearStall(address uint8) error

	// IsConnected returns true if the device is attached to a host.
	IsConnected() bool

	// GetSpeed returns the negotiated link speed.
	GetSpeed() Speed

	// WaitConnect blocks until a host is attached or the context ends.
	WaitConnect(ctx context.Context) error

	// WaitResume blocks while the bus is suspended: until resume signalling,
	// a bus reset, or the end of the context.
	WaitResume(ctx context.Context) error
}
