package fx2

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/ardnew/scopefw/device/hal"
	chip "github.com/ardnew/scopefw/fx2"
	"github.com/ardnew/scopefw/pkg"
)

// HAL implements hal.DeviceHAL on an FX2 register bus.
type HAL struct {
	bus chip.Bus

	// Single-slot interrupt flags.
	setup   chan struct{}
	reset   chan struct{}
	suspend chan struct{}
	resume  chan struct{}

	suspended atomic.Bool

	mutex     sync.Mutex
	attached  chan struct{} // closed while connected
	connected bool

	// wLength of the transfer in progress, for zero-length packet handling.
	length uint16
}

// New returns a HAL driving bus.
func New(bus chip.Bus) *HAL {
	return &HAL{
		bus:      bus,
		setup:    make(chan struct{}, 1),
		reset:    make(chan struct{}, 1),
		suspend:  make(chan struct{}, 1),
		resume:   make(chan struct{}, 1),
		attached: make(chan struct{}),
	}
}

// post sets a single-slot flag without blocking.
func post(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

// drop discards a pending flag.
func drop(ch chan struct{}) {
	select {
	case <-ch:
	default:
	}
}

// Interrupt handles a USB interrupt. It is safe to call from any goroutine
// and never blocks. Interrupts the HAL does not own are ignored.
func (h *HAL) Interrupt(irq chip.Interrupt) {
	switch irq {
	case chip.IntSetupData:
		post(h.setup)
	case chip.IntBusReset:
		drop(h.setup)
		post(h.reset)
		if h.suspended.CompareAndSwap(true, false) {
			post(h.resume)
		}
	case chip.IntSuspend:
		if h.suspended.CompareAndSwap(false, true) {
			post(h.suspend)
		}
	case chip.IntResume:
		if h.suspended.CompareAndSwap(true, false) {
			post(h.resume)
		}
	case chip.IntHighSpeed:
		pkg.LogDebug(pkg.ComponentHAL, "high speed negotiated")
	}
}

// Init disconnects from the bus and hands EP0 requests to firmware.
func (h *HAL) Init(ctx context.Context) error {
	h.bus.Update(chip.USBCS, chip.USBCSDiscon|chip.USBCSRenum, chip.USBCSDiscon|chip.USBCSRenum)
	pkg.LogDebug(pkg.ComponentHAL, "controller initialized")
	return ctx.Err()
}

// Start connects to the bus.
func (h *HAL) Start() error {
	h.bus.Update(chip.USBCS, chip.USBCSDiscon, 0)

	h.mutex.Lock()
	defer h.mutex.Unlock()
	if !h.connected {
		h.connected = true
		close(h.attached)
	}
	pkg.LogDebug(pkg.ComponentHAL, "connected",
		"speed", h.GetSpeed().String())
	return nil
}

// Stop disconnects from the bus.
func (h *HAL) Stop() error {
	h.bus.Update(chip.USBCS, chip.USBCSDiscon, chip.USBCSDiscon)

	h.mutex.Lock()
	defer h.mutex.Unlock()
	if h.connected {
		h.connected = false
		h.attached = make(chan struct{})
	}
	pkg.LogDebug(pkg.ComponentHAL, "disconnected")
	return nil
}

// SetAddress is a no-op; the USB core handles SET_ADDRESS.
func (h *HAL) SetAddress(address uint8) error {
	return nil
}

// ReadSetup waits for SUDAV, or a bus event, and decodes SETUPDAT.
// Bus events take priority over a pending SETUP packet.
func (h *HAL) ReadSetup(ctx context.Context, out *hal.SetupPacket) error {
	for {
		select {
		case <-h.reset:
			return pkg.ErrReset
		case <-h.suspend:
			return pkg.ErrSuspend
		default:
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-h.reset:
			return pkg.ErrReset
		case <-h.suspend:
			return pkg.ErrSuspend
		case <-h.setup:
		}

		var raw [chip.SetupDataSize]byte
		for i := range raw {
			raw[i] = h.bus.Read(chip.SETUPDAT + chip.Register(i))
		}
		if hal.ParseSetupPacket(raw[:], out) {
			h.length = out.Length
			return nil
		}
	}
}

// WriteEP0 sends data as the IN data stage, in EP0BUF-sized packets. A
// zero-length packet terminates a short transfer that ends on a packet
// boundary.
func (h *HAL) WriteEP0(ctx context.Context, data []byte) error {
	total := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n := len(data)
		if n > chip.EP0BufferSize {
			n = chip.EP0BufferSize
		}
		chip.WaitClear(h.bus, chip.EP0CS, chip.EP0CSBusy)
		for i := 0; i < n; i++ {
			h.bus.Write(chip.EP0BUF+chip.Register(i), data[i])
		}
		h.bus.Write(chip.EP0BCH, 0)
		chip.WriteSync(h.bus, chip.EP0BCL, uint8(n))
		chip.WaitClear(h.bus, chip.EP0CS, chip.EP0CSBusy)

		total += n
		data = data[n:]
		if len(data) > 0 {
			continue
		}
		if n == chip.EP0BufferSize && total < int(h.length) {
			continue // zero-length packet follows
		}
		return nil
	}
}

// ReadEP0 receives the OUT data stage into buf. Each packet is requested by
// arming EP0BCL and polling EP0CS.BUSY, with no timeout. A zero-length buf
// completes the status stage instead.
func (h *HAL) ReadEP0(ctx context.Context, buf []byte) (int, error) {
	if len(buf) == 0 {
		h.bus.Write(chip.EP0CS, chip.EP0CSHSNAK)
		return 0, nil
	}

	total := 0
	for total < len(buf) {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		h.bus.Write(chip.EP0BCH, 0)
		chip.WriteSync(h.bus, chip.EP0BCL, 0)
		chip.WaitClear(h.bus, chip.EP0CS, chip.EP0CSBusy)

		n := int(h.bus.Read(chip.EP0BCL))
		if n > chip.EP0BufferSize {
			n = chip.EP0BufferSize
		}
		if room := len(buf) - total; n > room {
			n = room
		}
		for i := 0; i < n; i++ {
			buf[total+i] = h.bus.Read(chip.EP0BUF + chip.Register(i))
		}
		total += n
		if n < chip.EP0BufferSize {
			break
		}
	}
	return total, nil
}

// StallEP0 stalls the current control transfer.
func (h *HAL) StallEP0() error {
	h.bus.Write(chip.EP0CS, chip.EP0CSStall|chip.EP0CSHSNAK)
	return nil
}

// AckEP0 completes the status stage.
func (h *HAL) AckEP0() error {
	h.bus.Write(chip.EP0CS, chip.EP0CSHSNAK)
	return nil
}

// Stall sets the stall bit of a data endpoint.
func (h *HAL) Stall(address uint8) error {
	return h.setStall(address, chip.EPCSStall)
}

// ClearStall clears the stall bit of a data endpoint.
func (h *HAL) ClearStall(address uint8) error {
	return h.setStall(address, 0)
}

func (h *HAL) setStall(address, v uint8) error {
	reg, ok := chip.EndpointCS(address)
	if !ok {
		return pkg.ErrInvalidEndpoint
	}
	h.bus.Update(reg, chip.EPCSStall, v)
	return nil
}

// IsConnected returns true between Start and Stop.
func (h *HAL) IsConnected() bool {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	return h.connected
}

// GetSpeed reports the speed latched in USBCS.
func (h *HAL) GetSpeed() hal.Speed {
	if h.bus.Read(chip.USBCS)&chip.USBCSHighSpeed != 0 {
		return hal.SpeedHigh
	}
	return hal.SpeedFull
}

// WaitConnect blocks until Start is called.
func (h *HAL) WaitConnect(ctx context.Context) error {
	h.mutex.Lock()
	attached := h.attached
	h.mutex.Unlock()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-attached:
		return nil
	}
}

// WaitResume clears stale wakeup sources, enters suspend and blocks until
// the bus resumes or is reset. This is where the firmware halts the
// processor.
func (h *HAL) WaitResume(ctx context.Context) error {
	h.bus.Update(chip.WAKEUPCS, chip.WakeupWU|chip.WakeupWU2, chip.WakeupWU|chip.WakeupWU2)
	h.bus.Write(chip.SUSPEND, 1)

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-h.resume:
		return nil
	}
}

var _ hal.DeviceHAL = (*HAL)(nil)
