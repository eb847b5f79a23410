package device

// ControlData gives a request handler access to the data stage of the
// control transfer being processed.
type ControlData interface {
	// ReadData receives the OUT data stage into buf, blocking until the
	// host has sent it. At most wLength bytes are read. The stack does not
	// read the data stage again once a handler has consumed it.
	ReadData(buf []byte) (int, error)
}

// VendorHandler processes vendor-specific SETUP requests.
type VendorHandler interface {
	// HandleVendor returns false for requests it does not recognize; the
	// stack then stalls EP0. A non-nil error also stalls EP0, so handlers
	// reserve it for failures of the transfer itself.
	HandleVendor(setup *SetupPacket, data ControlData) (bool, error)
}

// VendorHandlerFunc adapts a function to the VendorHandler interface.
type VendorHandlerFunc func(setup *SetupPacket, data ControlData) (bool, error)

// HandleVendor calls f(setup, data).
func (f VendorHandlerFunc) HandleVendor(setup *SetupPacket, data ControlData) (bool, error) {
	return f(setup, data)
}
