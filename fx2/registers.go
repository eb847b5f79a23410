package fx2

// Register is an address in the unified FX2 register space.
type Register uint16

// Special function registers.
const (
	IOA          Register = 0x80 // Port A output latch
	AUTOPTRH1    Register = 0x9A // Autopointer 1 address, high byte
	AUTOPTRL1    Register = 0x9B // Autopointer 1 address, low byte
	AUTOPTRH2    Register = 0x9D // Autopointer 2 address, high byte
	AUTOPTRL2    Register = 0x9E // Autopointer 2 address, low byte
	IOC          Register = 0xA0 // Port C output latch
	AUTOPTRSETUP Register = 0xAF // Autopointer configuration
	GPIFTRIG     Register = 0xBB // GPIF trigger and DONE flag
)

// External-memory registers.
const (
	GPIFWaveData  Register = 0xE400 // Waveform descriptors 0-3
	CPUCS         Register = 0xE600
	IFCONFIG      Register = 0xE601
	FIFORESET     Register = 0xE604
	REVCTL        Register = 0xE60B
	EP2CFG        Register = 0xE612
	EP4CFG        Register = 0xE613
	EP6CFG        Register = 0xE614
	EP8CFG        Register = 0xE615
	EP2FIFOCFG    Register = 0xE618
	EP4FIFOCFG    Register = 0xE619
	EP6FIFOCFG    Register = 0xE61A
	EP8FIFOCFG    Register = 0xE61B
	EP2AUTOINLENH Register = 0xE620
	EP2AUTOINLENL Register = 0xE621
	EP6AUTOINLENH Register = 0xE624
	EP6AUTOINLENL Register = 0xE625
	EP2ISOINPKTS  Register = 0xE640
	INPKTEND      Register = 0xE648
	XAUTODAT1     Register = 0xE67B
	XAUTODAT2     Register = 0xE67C
	USBCS         Register = 0xE680
	SUSPEND       Register = 0xE681
	WAKEUPCS      Register = 0xE682
	EP0BCH        Register = 0xE68A
	EP0BCL        Register = 0xE68B
	EP0CS         Register = 0xE6A0
	EP1OUTCS      Register = 0xE6A1
	EP1INCS       Register = 0xE6A2
	EP2CS         Register = 0xE6A3
	EP4CS         Register = 0xE6A4
	EP6CS         Register = 0xE6A5
	EP8CS         Register = 0xE6A6
	SETUPDAT      Register = 0xE6B8 // 8 bytes
	GPIFWFSELECT  Register = 0xE6C0
	GPIFIDLECS    Register = 0xE6C1
	GPIFIDLECTL   Register = 0xE6C2
	GPIFCTLCFG    Register = 0xE6C3
	GPIFTCB3      Register = 0xE6CE
	GPIFTCB2      Register = 0xE6CF
	GPIFTCB1      Register = 0xE6D0
	GPIFTCB0      Register = 0xE6D1
	EP2GPIFFLGSEL Register = 0xE6D2
	EP6GPIFFLGSEL Register = 0xE6E2
	GPIFREADYCFG  Register = 0xE6F3
	GPIFREADYSTAT Register = 0xE6F4
	GPIFABORT     Register = 0xE6F5
	EP0BUF        Register = 0xE740 // 64 bytes
)

// Memory sizes.
const (
	// WaveDataSize is the size of the waveform program memory: four
	// waveforms of four 8-byte words (length/branch, opcode, output, logic).
	WaveDataSize = 128

	// WaveformSize is the size of a single waveform descriptor.
	WaveformSize = 32

	// WaveWordSize is the number of states per waveform word.
	WaveWordSize = 8

	// EP0BufferSize is the size of the EP0 data buffer.
	EP0BufferSize = 64

	// SetupDataSize is the size of the SETUP data registers.
	SetupDataSize = 8
)

// GPIFTRIG bits.
const (
	GPIFTRIGDone uint8 = 0x80 // GPIF idle, ready for a new transaction
	GPIFTRIGRead uint8 = 0x04 // FIFO read (IN) transaction
)

// EP0CS bits.
const (
	EP0CSHSNAK uint8 = 0x80 // Handshake NAK: write 1 to complete status stage
	EP0CSBusy  uint8 = 0x02 // EP0 buffer owned by the USB core
	EP0CSStall uint8 = 0x01 // Stall EP0
)

// EPxCS bits.
const (
	EPCSStall uint8 = 0x01
)

// EndpointCS returns the control/status register of data endpoint ep, or
// false if the chip has no such endpoint.
func EndpointCS(ep uint8) (Register, bool) {
	switch ep & 0x8F {
	case 0x01:
		return EP1OUTCS, true
	case 0x81:
		return EP1INCS, true
	}
	switch ep & 0x0F {
	case 2:
		return EP2CS, true
	case 4:
		return EP4CS, true
	case 6:
		return EP6CS, true
	case 8:
		return EP8CS, true
	}
	return 0, false
}

// USBCS bits.
const (
	USBCSHighSpeed uint8 = 0x80 // Link negotiated high speed
	USBCSDiscon    uint8 = 0x08 // Disconnect from the bus
	USBCSNoSynSOF  uint8 = 0x04
	USBCSRenum     uint8 = 0x02 // Firmware handles EP0 requests
	USBCSSigResume uint8 = 0x01 // Drive resume signalling
)

// CPUCS bits.
const (
	CPUCSClock48MHz uint8 = 0x10 // CLKSPD: 48 MHz CPU clock
)

// REVCTL bits.
const (
	REVCTLDynOut   uint8 = 0x02 // Disable automatic OUT arming
	REVCTLEnhPkt   uint8 = 0x01 // Enhanced packet handling
	REVCTLFirmware       = REVCTLDynOut | REVCTLEnhPkt
)

// FIFORESET values.
const (
	FIFOResetNAKAll uint8 = 0x80 // NAK all host transfers while resetting
)

// AUTOPTRSETUP bits.
const (
	AutoPtrEnable    uint8 = 0x01
	AutoPtr1Inc      uint8 = 0x02
	AutoPtr2Inc      uint8 = 0x04
	AutoPtrSetupBoth       = AutoPtrEnable | AutoPtr1Inc | AutoPtr2Inc
)

// Port bits driven outside the acquisition core.
const (
	PortALedCal uint8 = 0x80 // PA7: calibration square wave output
	PortCLed0   uint8 = 0x01 // PC0: red LED, active low
	PortCLed1   uint8 = 0x02 // PC1: green LED, active low
)

// WakeUPCS bits.
const (
	WakeupWU  uint8 = 0x40
	WakeupWU2 uint8 = 0x80
)

// Interrupt identifies a USB or timer interrupt source.
type Interrupt uint8

// Interrupt sources used by the firmware.
const (
	IntSetupData Interrupt = iota // SUDAV: SETUP data available
	IntBusReset                   // USBRESET
	IntHighSpeed                  // HISPEED: high speed negotiated
	IntSuspend                    // SUSPEND
	IntResume                     // RESUME
	IntTimer2                     // Timer 2 overflow
)

// String returns the interrupt vector name.
func (i Interrupt) String() string {
	switch i {
	case IntSetupData:
		return "SUDAV"
	case IntBusReset:
		return "USBRESET"
	case IntHighSpeed:
		return "HISPEED"
	case IntSuspend:
		return "SUSPEND"
	case IntResume:
		return "RESUME"
	case IntTimer2:
		return "TF2"
	default:
		return "unknown"
	}
}
