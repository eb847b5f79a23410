package scope

import (
	"fmt"
	"sync"

	"github.com/ardnew/scopefw/device"
	"github.com/ardnew/scopefw/fx2"
	"github.com/ardnew/scopefw/pkg"
)

// Scope is the acquisition controller. It owns the configuration and the
// Idle/Running state; every register program it runs goes through bus.
type Scope struct {
	bus   fx2.Bus
	mutex sync.Mutex

	dev   *device.Device
	iface *device.Interface

	config    Config
	state     State
	indicator Indicator
}

// Option configures a Scope.
type Option func(*Scope)

// WithIndicator sets the status LED driver.
func WithIndicator(ind Indicator) Option {
	return func(s *Scope) { s.indicator = ind }
}

// New creates a scope on bus. Call Reset to program the power-on defaults.
func New(bus fx2.Bus, opts ...Option) *Scope {
	s := &Scope{bus: bus}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Attach makes the scope the vendor request handler of dev and the class
// driver of its acquisition interface. Packet sizes then follow the link
// speed dev negotiated. Selecting a configuration or a bus reset stops
// acquisition and returns to the bulk alternate.
func (s *Scope) Attach(dev *device.Device) error {
	config := dev.GetConfiguration(1)
	if config == nil {
		return pkg.ErrNotConfigured
	}
	iface := config.GetInterface(InterfaceNumber)
	if iface == nil {
		return pkg.ErrInvalidRequest
	}
	if err := checkAlternates(iface); err != nil {
		return err
	}

	s.mutex.Lock()
	s.dev = dev
	s.mutex.Unlock()

	// SetClassDriver calls back into Init.
	if err := iface.SetClassDriver(s); err != nil {
		return err
	}
	dev.SetVendorHandler(s)
	dev.SetOnSetConfiguration(func(uint8) { s.restart() })
	dev.SetOnReset(s.restart)

	pkg.LogDebug(pkg.ComponentScope, "attached",
		"vendor", VendorID,
		"product", ProductID)
	return nil
}

// checkAlternates verifies that iface streams over a bulk IN endpoint on
// alternate 0 and an isochronous IN endpoint on alternate 1.
func checkAlternates(iface *device.Interface) error {
	want := []struct {
		alt  uint8
		name string
		ok   func(*device.Endpoint) bool
	}{
		{0, "bulk", (*device.Endpoint).IsBulk},
		{1, "isochronous", (*device.Endpoint).IsIsochronous},
	}
	for _, w := range want {
		a := iface.Alternate(w.alt)
		if a == nil {
			return fmt.Errorf("interface %d has no alternate %d: %w",
				InterfaceNumber, w.alt, pkg.ErrInvalidRequest)
		}
		if in := a.FirstIn(); in == nil || !w.ok(in) {
			return fmt.Errorf("alternate %d needs a %s IN endpoint: %w",
				w.alt, w.name, pkg.ErrInvalidRequest)
		}
	}
	return nil
}

// restart stops acquisition and reselects the bulk alternate, as the
// interface returns to alternate 0 after a reset or SET_CONFIGURATION.
func (s *Scope) restart() {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.stop()
	s.selectInterface(DefaultAlt)
}

// Reset programs the power-on configuration: unused endpoints off, both
// channels in the most sensitive range, the default rate and channel
// count on the bulk alternate, acquisition stopped.
func (s *Scope) Reset() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	fx2.WriteSync(s.bus, fx2.EP4CFG, epcfgDisabled)
	fx2.WriteSync(s.bus, fx2.EP8CFG, epcfgDisabled)

	for ch := uint8(0); ch < 2; ch++ {
		if err := s.setVoltage(ch, DefaultVoltage); err != nil {
			return err
		}
	}
	if err := s.setSampleRate(DefaultRateID); err != nil {
		return err
	}
	if err := s.setChannels(DefaultChannels); err != nil {
		return err
	}
	s.selectInterface(DefaultAlt)
	s.stop()

	pkg.LogInfo(pkg.ComponentScope, "configuration reset",
		"ksps", s.config.KSPS,
		"channels", s.config.Channels)
	return nil
}

// Config returns the current configuration.
func (s *Scope) Config() Config {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.config
}

// State returns the acquisition state.
func (s *Scope) State() State {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.state
}

var (
	_ device.VendorHandler = (*Scope)(nil)
	_ device.ClassDriver   = (*Scope)(nil)
)
