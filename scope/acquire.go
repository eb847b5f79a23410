package scope

import (
	"fmt"

	"github.com/ardnew/scopefw/fx2"
	"github.com/ardnew/scopefw/pkg"
)

// LED identifies a status indicator.
type LED uint8

// Status indicators.
const (
	LEDRed   LED = iota // configuring
	LEDGreen            // streaming
)

// String returns the indicator colour.
func (l LED) String() string {
	switch l {
	case LEDRed:
		return "red"
	case LEDGreen:
		return "green"
	default:
		return "unknown"
	}
}

// Indicator lights a status LED. A zero tick count keeps it lit until the
// next call; otherwise the LED goes dark after ticks timer periods.
// Implementations are called from the control loop and must not block.
type Indicator interface {
	Indicate(led LED, ticks uint32)
}

// ConfigureBlink is the number of timer ticks the configuring indicator
// stays lit.
const ConfigureBlink = 1000

// GPIF transaction count loaded on start. The GPIF runs until aborted.
const (
	startTCB1 uint8 = 0x28
	startTCB0 uint8 = 0x00
)

// Stop halts acquisition. It is always safe to call; from Running it also
// ends the packet in flight on the streaming endpoint so the host is not
// left waiting for a partial packet, and replaces the held streaming
// indicator with the configuring blink.
func (s *Scope) Stop() {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.stop()
}

func (s *Scope) stop() {
	s.bus.Write(fx2.GPIFABORT, 0xFF)
	if s.state != StateRunning {
		return
	}
	fx2.WriteSync(s.bus, fx2.INPKTEND, s.streamFIFO())
	s.state = StateIdle
	// The held green indicator would otherwise outlive the stream.
	s.indicate(LEDRed, ConfigureBlink)

	pkg.LogInfo(pkg.ComponentScope, "acquisition stopped")
}

// Start flushes the FIFOs and arms the GPIF on the streaming endpoint.
// A rate and a channel count must have been accepted first.
func (s *Scope) Start() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.start()
}

func (s *Scope) start() error {
	if !s.config.Valid() {
		return fmt.Errorf("start acquisition: %w", pkg.ErrInvalidState)
	}
	if s.state == StateRunning {
		s.stop()
	}

	s.resetFIFOs()
	fx2.WaitSet(s.bus, fx2.GPIFTRIG, fx2.GPIFTRIGDone)
	fx2.WriteSync(s.bus, fx2.GPIFTCB1, startTCB1)
	fx2.WriteSync(s.bus, fx2.GPIFTCB0, startTCB0)
	s.bus.Write(fx2.GPIFTRIG, fx2.GPIFTRIGRead|s.streamFIFOIndex())

	s.indicate(LEDGreen, 0)
	s.state = StateRunning

	pkg.LogInfo(pkg.ComponentScope, "acquisition started",
		"ksps", s.config.KSPS,
		"channels", s.config.Channels,
		"alternate", s.config.Alt)
	return nil
}

// streamFIFO returns the endpoint number of the streaming FIFO: EP6 for
// bulk, EP2 for isochronous.
func (s *Scope) streamFIFO() uint8 {
	if s.config.Bulk() {
		return 6
	}
	return 2
}

// streamFIFOIndex returns the GPIFTRIG FIFO select bits of the streaming
// FIFO.
func (s *Scope) streamFIFOIndex() uint8 {
	return (s.streamFIFO() - 2) / 2
}

func (s *Scope) indicate(led LED, ticks uint32) {
	if s.indicator != nil {
		s.indicator.Indicate(led, ticks)
	}
}
