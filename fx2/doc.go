// Package fx2 describes the register interface of an EZ-USB FX2-class
// microcontroller as seen by the acquisition firmware.
//
// The firmware never touches memory directly. Every access goes through a
// [Bus], which lets the same control code run against the register-level
// simulator in [github.com/ardnew/scopefw/fx2/sim] or any other backend
// that honours the chip's access rules.
//
// # Register map
//
// [Register] values use a single address space. Special function registers
// keep their 8051 SFR addresses (0x80-0xFF); external-memory registers keep
// their 0xE000-page addresses. The waveform program memory starts at
// [GPIFWaveData] and the EP0 data buffer at [EP0BUF].
//
// # Synchronisation
//
// Writes to FIFO and endpoint configuration registers must be separated by
// the chip's synchronisation delay when the interface clock is asynchronous
// to the CPU clock. [WriteSync] performs a write followed by
// [Bus.SyncDelay].
//
// # Busy-waits
//
// [WaitSet] and [WaitClear] poll a status bit until it reaches the wanted
// level. They take no context and have no timeout: a stuck bit hangs the
// caller, exactly as it hangs the real firmware.
package fx2
