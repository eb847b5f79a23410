// Package sim is a register-level simulator of the FX2 parts the
// acquisition firmware drives.
//
// A [Chip] implements [fx2.Bus]. It stores every register, applies the
// side effects the firmware relies on and records an access log that tests
// use to check write ordering:
//
//   - XAUTODAT1/XAUTODAT2 store through the autopointers and advance them
//   - GPIFABORT sets the GPIFTRIG DONE bit (optionally after a number of
//     polls, see [WithIdleLatency])
//   - a GPIFTRIG write starts a transaction and clears DONE
//   - INPKTEND counts packet-end commands per endpoint
//   - EP0BCL arms the EP0 buffer; OUT data from the host appears in EP0BUF
//     once EP0CS.BUSY clears (see [WithEP0Latency])
//   - EP0CS.HSNAK and EP0CS.STALL complete the control transfer
//
// The host side of the bus is driven with [Chip.Setup], [Chip.Control],
// [Chip.SetHighSpeed], [Chip.Suspend] and friends, which raise the matching
// interrupt through the handler registered with [Chip.OnInterrupt].
// [Chip.Tick] raises the timer 2 interrupt once and [Chip.RunTimer] raises
// it periodically, like the free-running timer of the real part.
package sim
