// Package fx2 implements the device HAL on the FX2 register set.
//
// The HAL talks to the chip only through an [chip.Bus], so it runs unchanged
// on the register simulator in [github.com/ardnew/scopefw/fx2/sim].
//
// # Interrupts
//
// [HAL.Interrupt] is the USB interrupt service routine. It never blocks and
// never touches registers: it only posts to single-slot channels, the Go
// counterpart of the firmware's pending flags.
//
//   - SUDAV posts a pending SETUP packet; a second SUDAV before the first is
//     consumed is coalesced, as the hardware flag would be
//   - USBRESET posts a reset event and drops any pending SETUP packet
//   - SUSPEND posts a suspend event
//   - RESUME (or USBRESET while suspended) releases [HAL.WaitResume]
//
// # Control endpoint
//
// The USB core answers SET_ADDRESS itself, so [HAL.SetAddress] does
// nothing. The OUT data stage is received by arming EP0BCH:EP0BCL and
// polling EP0CS.BUSY; IN data is copied into EP0BUF 64 bytes at a time.
// Writing HSNAK to EP0CS completes the status stage.
package fx2
