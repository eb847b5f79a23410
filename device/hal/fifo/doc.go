// Package fifo connects a device stack to a host process through named
// pipes (FIFOs).
//
// It lets the simulated scope firmware be driven by a separate host
// program, such as scopectl, without USB hardware. [HAL] is the device end
// and implements hal.DeviceHAL; [Host] is the host end.
//
// # Architecture
//
// Each device instance creates a unique subdirectory under a shared bus directory:
//
//	/tmp/usb-bus/                    # Bus directory (shared with host)
//	└── device-{uuid}/               # Device subdirectory (unique per device)
//	    ├── connection               # Connection signaling (device → host)
//	    ├── host_to_device           # SETUP packets and bus events
//	    └── device_to_host           # Control transfer responses
//
// The UUID is generated using crypto/rand, so parallel tests can share a
// bus directory.
//
// # Protocol
//
// Every message is framed as [type, len_lo, len_hi, payload...].
//
//   - SETUP (0x01): [address, setup(8), OUT data...]. The OUT data stage
//     travels with the SETUP packet and is returned by [HAL.ReadEP0].
//   - DATA (0x02): IN data stage, possibly split over several messages.
//   - ACK (0x03): status stage complete; ends every successful transfer.
//   - STALL (0x05): the request was rejected.
//   - RESET (0x12): bus reset; the optional payload byte is the new speed.
//   - SUSPEND (0x14), RESUME (0x15): bus power states.
//
// The device acknowledges every bus event with ACK.
//
// # Hot-Plugging Support
//
// The device signals connection and disconnection via the connection FIFO:
//   - 0x01: Device connected and ready
//   - 0x00: Device disconnecting
//
// # Usage
//
//	h := fifo.New("/tmp/usb-bus", fifo.WithSpeed(hal.SpeedHigh))
//	stack := device.NewStack(dev, h)
//	stack.Start(ctx)
//
//	host := fifo.NewHost("/tmp/usb-bus")
//	host.Start(ctx)
//	host.WaitForDevice(ctx)
//	n, err := host.Control(ctx, &setup, buf)
package fifo
