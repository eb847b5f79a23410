package firmware

import (
	"sync"
	"sync/atomic"

	"github.com/ardnew/scopefw/fx2"
	"github.com/ardnew/scopefw/scope"
)

// ledBits are the status LED bits on port C. Both are active low.
const ledBits = fx2.PortCLed0 | fx2.PortCLed1

// Timer is the periodic timer service routine. Every tick toggles the
// calibration output and counts the status indicator down; the indicator
// goes dark when the count reaches zero. A count of zero holds the LED.
//
// The timer only touches the LED bits and PA7, never the range switch bits
// that share port C. The countdown and the LED bits change together under
// mutex, so a tick never darkens an indicator lit after it.
type Timer struct {
	bus   fx2.Bus
	mutex sync.Mutex
	count uint32
	ticks atomic.Uint64
}

// NewTimer creates a timer driving the port bits of bus.
func NewTimer(bus fx2.Bus) *Timer {
	return &Timer{bus: bus}
}

// Tick services one timer 2 overflow.
func (t *Timer) Tick() {
	t.ticks.Add(1)
	cal := t.bus.Read(fx2.IOA) & fx2.PortALedCal
	t.bus.Update(fx2.IOA, fx2.PortALedCal, ^cal)

	t.mutex.Lock()
	defer t.mutex.Unlock()
	if t.count == 0 {
		return
	}
	t.count--
	if t.count == 0 {
		t.bus.Update(fx2.IOC, ledBits, ledBits)
	}
}

// Indicate implements scope.Indicator. It lights led, darkens the other one
// and restarts the countdown.
func (t *Timer) Indicate(led scope.LED, ticks uint32) {
	bit := fx2.PortCLed0
	if led == scope.LEDGreen {
		bit = fx2.PortCLed1
	}
	t.mutex.Lock()
	defer t.mutex.Unlock()
	t.count = ticks
	t.bus.Update(fx2.IOC, ledBits, ledBits&^bit)
}

// Remaining returns the indicator countdown.
func (t *Timer) Remaining() uint32 {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	return t.count
}

// Ticks returns the number of serviced ticks.
func (t *Timer) Ticks() uint64 {
	return t.ticks.Load()
}
