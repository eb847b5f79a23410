package scope

// State is the acquisition state.
type State uint8

// Acquisition states.
const (
	StateIdle State = iota
	StateRunning
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	default:
		return "unknown"
	}
}

// Default configuration applied by Reset.
const (
	DefaultRateID   uint8 = 1
	DefaultChannels uint8 = 2
	DefaultAlt      uint8 = 0
	DefaultVoltage  uint8 = 1
)

// AutoAdjustLimit is the throughput, in ksps summed over channels, below
// which a single isochronous transaction per microframe suffices.
const AutoAdjustLimit = 24000

// Config is the acquisition configuration. It survives start/stop cycles.
type Config struct {
	RateID   uint8    // Sample rate identifier of the loaded program
	KSPS     uint32   // Nominal rate of the loaded program, in ksps
	Channels uint8    // Active channels, 1 or 2
	Alt      uint8    // Alternate setting: 0 bulk, 1 isochronous
	Voltage  [2]uint8 // Range code per channel
}

// AutoAdjust reports whether the isochronous packet count may be lowered.
func (c Config) AutoAdjust() bool {
	return c.KSPS*uint32(c.Channels) < AutoAdjustLimit
}

// Valid reports whether a rate and a channel count have been accepted.
func (c Config) Valid() bool {
	return c.KSPS != 0 && (c.Channels == 1 || c.Channels == 2)
}

// Bulk reports whether the bulk alternate setting is selected.
func (c Config) Bulk() bool {
	return c.Alt == 0
}
