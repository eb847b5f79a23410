// Package device implements the USB device side of the oscilloscope
// firmware: descriptors, enumeration state and the control endpoint.
//
// It reaches the controller only through [hal.DeviceHAL], defined in
// [github.com/ardnew/scopefw/device/hal], so the same stack runs on the FX2
// register HAL and on the named-pipe HAL used by out-of-process hosts.
//
// # Architecture
//
//   - [Device] holds descriptors, strings and the USB 2.0 state machine
//     (Attached, Powered, Default, Address, Configured, Suspended)
//   - [Configuration] groups interfaces
//   - [Interface] holds one or more [AlternateSetting] values; only the
//     selected one's endpoints exist on the bus
//   - [Endpoint] carries a wMaxPacketSize per link speed
//   - [Stack] runs the control loop on EP0
//
// # Request dispatch
//
// The control loop reads one SETUP packet at a time and dispatches it:
// standard requests to [StandardRequestHandler], class requests to the
// interface's [ClassDriver], vendor requests to the device's
// [VendorHandler]. SET_INTERFACE reaches the class driver through
// [ClassDriver.SetAlternate]. Anything unhandled stalls EP0.
//
// A vendor handler reads its OUT data stage through [ControlData]; the
// stack drains whatever the handler left unread before the status stage.
//
// # Dual-speed descriptors
//
// GET_DESCRIPTOR(CONFIGURATION) reports the packet sizes of the current
// link speed, and OTHER_SPEED_CONFIGURATION those of the other speed:
//
//	b := device.NewDeviceBuilder().
//	    WithVendorProduct(0x04B5, 0x6022).
//	    AddConfiguration(1).
//	    AddInterface(device.ClassVendor, 0, 0).
//	    AddEndpoint(0x86, device.EndpointTypeBulk, 512, 64, 0).
//	    AddAlternate(device.ClassVendor, 0, 0).
//	    AddEndpoint(0x82, device.EndpointTypeIsochronous, 0x1400, 1023, 1)
//	dev, err := b.Build()
//
// # Zero-Allocation Design
//
// Descriptors serialize via MarshalTo(buf), parse functions fill output
// parameters, and endpoints, alternates, interfaces and configurations live
// in fixed-size arrays.
package device
