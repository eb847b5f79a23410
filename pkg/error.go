package pkg

import "errors"

// USB protocol errors.
var (
	// ErrStall indicates an endpoint stall condition.
	ErrStall = errors.New("endpoint stalled")

	// ErrCancelled indicates a cancelled operation.
	ErrCancelled = errors.New("operation cancelled")

	// ErrProtocol indicates a protocol error.
	ErrProtocol = errors.New("protocol error")

	// ErrNotConfigured indicates the device is not configured.
	ErrNotConfigured = errors.New("device not configured")

	// ErrInvalidEndpoint indicates an invalid endpoint address.
	ErrInvalidEndpoint = errors.New("invalid endpoint")

	// ErrInvalidState indicates an invalid device state for the operation.
	ErrInvalidState = errors.New("invalid device state")

	// ErrInvalidRequest indicates an invalid or unsupported request.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrBufferTooSmall indicates the provided buffer is too small.
	ErrBufferTooSmall = errors.New("buffer too small")

	// ErrNotSupported indicates an unsupported operation or feature.
	ErrNotSupported = errors.New("not supported")

	// ErrBusy indicates the resource is busy.
	ErrBusy = errors.New("resource busy")

	// ErrNoMemory indicates a fixed-size table is full.
	ErrNoMemory = errors.New("insufficient memory")

	// ErrDescriptorTooShort indicates the descriptor data is too short.
	ErrDescriptorTooShort = errors.New("descriptor too short")

	// ErrDescriptorTypeMismatch indicates the descriptor type does not match expected.
	ErrDescriptorTypeMismatch = errors.New("descriptor type mismatch")

	// ErrSetupPacketTooShort indicates the setup packet data is too short.
	ErrSetupPacketTooShort = errors.New("setup packet too short")

	// ErrAlreadyRunning indicates the stack is already running.
	ErrAlreadyRunning = errors.New("already running")

	// ErrReset indicates a bus reset was received.
	ErrReset = errors.New("bus reset")

	// ErrSuspend indicates the bus requested suspend.
	ErrSuspend = errors.New("bus suspend")
)

// Acquisition errors.
var (
	// ErrInvalidParameter indicates a rejected setting: unknown voltage code,
	// channel count or sample-rate identifier. The hardware is left unchanged.
	ErrInvalidParameter = errors.New("invalid parameter")

	// ErrUnsupportedRequest indicates a vendor request code the firmware
	// does not implement.
	ErrUnsupportedRequest = errors.New("unsupported request")
)

// IsRejected reports whether err is a parameter rejection, which the vendor
// protocol acknowledges without applying.
func IsRejected(err error) bool {
	return errors.Is(err, ErrInvalidParameter)
}
