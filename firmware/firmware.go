package firmware

import (
	"context"
	"fmt"

	"github.com/ardnew/scopefw/device"
	"github.com/ardnew/scopefw/device/hal"
	fx2hal "github.com/ardnew/scopefw/device/hal/fx2"
	"github.com/ardnew/scopefw/fx2"
	"github.com/ardnew/scopefw/pkg"
	"github.com/ardnew/scopefw/scope"
)

// Chip is a register bus that delivers interrupts.
type Chip interface {
	fx2.Bus

	// OnInterrupt registers the interrupt service routine.
	OnInterrupt(fn func(fx2.Interrupt))
}

// Option configures a Firmware.
type Option func(*Firmware)

// WithHAL serves the USB side through h instead of the chip's own control
// endpoint. The chip still carries the acquisition registers and the timer.
func WithHAL(h hal.DeviceHAL) Option {
	return func(f *Firmware) { f.hal = h }
}

// WithDevice replaces the built-in device descriptors. The device must
// carry configuration 1 with the acquisition interface.
func WithDevice(dev *device.Device) Option {
	return func(f *Firmware) { f.dev = dev }
}

// Firmware is the whole oscilloscope firmware: USB stack, acquisition
// controller and timer service on one chip.
type Firmware struct {
	chip  Chip
	usb   *fx2hal.HAL // nil when the USB side runs on another HAL
	hal   hal.DeviceHAL
	dev   *device.Device
	stack *device.Stack
	scope *scope.Scope
	timer *Timer
}

// New wires the firmware onto chip.
func New(chip Chip, opts ...Option) (*Firmware, error) {
	f := &Firmware{chip: chip}
	for _, opt := range opts {
		opt(f)
	}

	if f.hal == nil {
		f.usb = fx2hal.New(chip)
		f.hal = f.usb
	}
	if f.dev == nil {
		dev, err := scope.NewDevice()
		if err != nil {
			return nil, fmt.Errorf("build device: %w", err)
		}
		f.dev = dev
	}

	f.timer = NewTimer(chip)
	f.scope = scope.New(chip, scope.WithIndicator(f.timer))
	if err := f.scope.Attach(f.dev); err != nil {
		return nil, fmt.Errorf("attach scope: %w", err)
	}
	f.dev.SetOnSuspend(func() {
		pkg.LogInfo(pkg.ComponentFirmware, "bus suspended", "state", f.scope.State())
	})
	f.dev.SetOnResume(func() {
		pkg.LogInfo(pkg.ComponentFirmware, "bus resumed", "state", f.scope.State())
	})
	f.stack = device.NewStack(f.dev, f.hal)
	return f, nil
}

// interrupt dispatches chip interrupts: the timer to the timer service,
// the rest to the USB HAL.
func (f *Firmware) interrupt(irq fx2.Interrupt) {
	if irq == fx2.IntTimer2 {
		f.timer.Tick()
		return
	}
	if f.usb != nil {
		f.usb.Interrupt(irq)
	}
}

// Start initialises the chip, programs the power-on acquisition
// configuration and attaches to the bus.
func (f *Firmware) Start(ctx context.Context) error {
	fx2.WriteSync(f.chip, fx2.REVCTL, fx2.REVCTLFirmware)
	f.chip.Write(fx2.CPUCS, fx2.CPUCSClock48MHz)
	f.chip.Update(fx2.IOC, ledBits, ledBits)

	if err := f.scope.Reset(); err != nil {
		return fmt.Errorf("reset scope: %w", err)
	}

	f.chip.OnInterrupt(f.interrupt)
	if err := f.stack.Start(ctx); err != nil {
		f.chip.OnInterrupt(nil)
		return fmt.Errorf("start stack: %w", err)
	}

	pkg.LogInfo(pkg.ComponentFirmware, "firmware started",
		"vendor", fmt.Sprintf("0x%04X", f.dev.Descriptor.VendorID),
		"product", fmt.Sprintf("0x%04X", f.dev.Descriptor.ProductID))
	return nil
}

// Stop halts acquisition and detaches from the bus.
func (f *Firmware) Stop() error {
	err := f.stack.Stop()
	f.chip.OnInterrupt(nil)
	f.scope.Stop()

	pkg.LogInfo(pkg.ComponentFirmware, "firmware stopped")
	return err
}

// Run starts the firmware and serves the bus until ctx is done.
func (f *Firmware) Run(ctx context.Context) error {
	if err := f.Start(ctx); err != nil {
		return err
	}
	select {
	case <-ctx.Done():
	case <-f.stack.Done():
	}
	return f.Stop()
}

// Scope returns the acquisition controller.
func (f *Firmware) Scope() *scope.Scope { return f.scope }

// Stack returns the USB device stack.
func (f *Firmware) Stack() *device.Stack { return f.stack }

// Device returns the USB device.
func (f *Firmware) Device() *device.Device { return f.dev }

// Timer returns the timer service.
func (f *Firmware) Timer() *Timer { return f.timer }
