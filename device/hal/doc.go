// Package hal defines the controller interface the device stack runs on.
//
// The stack implements the USB protocol; a HAL only moves SETUP packets and
// control-endpoint data, reports bus events and link speed, and toggles
// endpoint halt bits in hardware. The acquisition data path never passes
// through the HAL: on the FX2 the GPIF engine feeds the endpoint FIFOs
// directly.
//
// # Bus events
//
// [DeviceHAL.ReadSetup] doubles as the event channel of the control loop. It
// returns [github.com/ardnew/scopefw/pkg.ErrReset] after a bus reset and
// [github.com/ardnew/scopefw/pkg.ErrSuspend] when the bus goes idle; the stack
// then blocks in [DeviceHAL.WaitResume] until the host resumes the bus.
//
// # Implementations
//
//   - [github.com/ardnew/scopefw/device/hal/fx2] drives the FX2 register set
//     through an [github.com/ardnew/scopefw/fx2.Bus].
//   - [github.com/ardnew/scopefw/device/hal/fifo] exchanges packets with an
//     out-of-process host over named pipes.
package hal
