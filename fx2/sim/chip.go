package sim

import (
	"context"
	"sync"
	"time"

	"github.com/ardnew/scopefw/fx2"
)

// Op is the kind of a logged bus access.
type Op uint8

// Logged access kinds.
const (
	OpWrite Op = iota
	OpUpdate
	OpSync
)

// Access is one entry of the chip's access log.
type Access struct {
	Op    Op
	Reg   fx2.Register
	Value uint8
	Mask  uint8
}

// Completion reports how the firmware finished a control transfer.
type Completion struct {
	Request uint8
	Stalled bool
	Data    []byte // IN data stage, if any
}

// Option configures a Chip.
type Option func(*Chip)

// WithIdleLatency makes the GPIF report DONE only after n polls of GPIFTRIG
// following an abort.
func WithIdleLatency(n int) Option {
	return func(c *Chip) { c.idleLatency = n }
}

// WithEP0Latency makes EP0CS report BUSY for n polls after the buffer is
// armed.
func WithEP0Latency(n int) Option {
	return func(c *Chip) { c.ep0Latency = n }
}

// WithoutLog disables the access log. Counters such as Syncs and
// PacketEnds keep working. Long-running simulations use it to keep memory
// bounded.
func WithoutLog() Option {
	return func(c *Chip) { c.noLog = true }
}

// Chip is a simulated FX2 register file.
type Chip struct {
	mutex sync.Mutex
	regs  [0x10000]uint8

	log     []Access
	noLog   bool
	syncs   int
	polls   map[fx2.Register]int
	trigger uint8

	idleLatency int
	idlePending int

	ep0Latency int
	ep0Pending int
	ep0In      bool
	ep0Out     []byte
	ep0Data    []byte
	request    uint8

	packetEnds [16]int

	onInterrupt func(fx2.Interrupt)
	completions chan Completion
}

// New creates a chip in its power-on state: GPIF idle, full speed, EP0 idle.
func New(opts ...Option) *Chip {
	c := &Chip{
		polls:       make(map[fx2.Register]int),
		completions: make(chan Completion, 16),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.regs[fx2.GPIFTRIG] = fx2.GPIFTRIGDone
	c.regs[fx2.IOA] = 0xFF
	c.regs[fx2.IOC] = 0xFF
	return c
}

// OnInterrupt registers the handler that receives raised interrupts.
func (c *Chip) OnInterrupt(fn func(fx2.Interrupt)) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.onInterrupt = fn
}

// Read implements fx2.Bus.
func (c *Chip) Read(r fx2.Register) uint8 {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.polls[r]++
	switch r {
	case fx2.GPIFTRIG:
		if c.idlePending > 0 {
			c.idlePending--
			if c.idlePending == 0 {
				c.regs[fx2.GPIFTRIG] |= fx2.GPIFTRIGDone
			}
		}
	case fx2.EP0CS:
		if c.ep0Pending > 0 {
			c.ep0Pending--
			if c.ep0Pending == 0 {
				c.finishEP0()
			}
		}
	}
	return c.regs[r]
}

// Write implements fx2.Bus.
func (c *Chip) Write(r fx2.Register, v uint8) {
	c.mutex.Lock()
	c.record(Access{Op: OpWrite, Reg: r, Value: v})
	done := c.write(r, v)
	c.mutex.Unlock()

	if done != nil {
		c.complete(*done)
	}
}

// Update implements fx2.Bus.
func (c *Chip) Update(r fx2.Register, mask, v uint8) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.record(Access{Op: OpUpdate, Reg: r, Value: v, Mask: mask})
	c.regs[r] = c.regs[r]&^mask | v&mask
}

// SyncDelay implements fx2.Bus.
func (c *Chip) SyncDelay() {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.record(Access{Op: OpSync})
	c.syncs++
}

func (c *Chip) record(a Access) {
	if !c.noLog {
		c.log = append(c.log, a)
	}
}

// write applies r's side effects. It returns a completion when the write
// finishes a control transfer. Called with the mutex held.
func (c *Chip) write(r fx2.Register, v uint8) *Completion {
	switch r {
	case fx2.XAUTODAT1:
		c.autoStore(fx2.AUTOPTRH1, fx2.AUTOPTRL1, fx2.AutoPtr1Inc, v)
	case fx2.XAUTODAT2:
		c.autoStore(fx2.AUTOPTRH2, fx2.AUTOPTRL2, fx2.AutoPtr2Inc, v)

	case fx2.GPIFABORT:
		c.trigger = 0
		if c.idleLatency > 0 {
			c.regs[fx2.GPIFTRIG] &^= fx2.GPIFTRIGDone
			c.idlePending = c.idleLatency
		} else {
			c.regs[fx2.GPIFTRIG] |= fx2.GPIFTRIGDone
		}
		c.regs[r] = v
	case fx2.GPIFTRIG:
		c.trigger = v & 0x07
		c.idlePending = 0
		c.regs[r] = v & 0x07

	case fx2.INPKTEND:
		c.packetEnds[v&0x0F]++
		c.regs[r] = v

	case fx2.EP0BCL:
		c.regs[r] = v
		c.armEP0()

	case fx2.EP0CS:
		c.regs[r] = c.regs[r]&fx2.EP0CSBusy | v&^(fx2.EP0CSHSNAK|fx2.EP0CSBusy)
		switch {
		case v&fx2.EP0CSStall != 0:
			c.regs[r] &^= fx2.EP0CSStall
			return &Completion{Request: c.request, Stalled: true}
		case v&fx2.EP0CSHSNAK != 0:
			return &Completion{Request: c.request, Data: c.takeIn()}
		}

	default:
		c.regs[r] = v
	}
	return nil
}

// autoStore writes v at the autopointer's address and advances it.
func (c *Chip) autoStore(hi, lo fx2.Register, inc, v uint8) {
	setup := c.regs[fx2.AUTOPTRSETUP]
	if setup&fx2.AutoPtrEnable == 0 {
		return
	}
	addr := uint16(c.regs[hi])<<8 | uint16(c.regs[lo])
	c.regs[addr] = v
	if setup&inc != 0 {
		addr++
		c.regs[hi] = uint8(addr >> 8)
		c.regs[lo] = uint8(addr)
	}
}

// armEP0 hands EP0BUF to the USB core. For IN stages the buffer contents
// are captured; for OUT stages the host data arrives when BUSY clears.
func (c *Chip) armEP0() {
	if c.ep0In {
		n := int(c.regs[fx2.EP0BCL])
		if n > fx2.EP0BufferSize {
			n = fx2.EP0BufferSize
		}
		base := int(fx2.EP0BUF)
		c.ep0Data = append(c.ep0Data, c.regs[base:base+n]...)
	}
	c.regs[fx2.EP0CS] |= fx2.EP0CSBusy
	c.ep0Pending = c.ep0Latency
	if c.ep0Pending == 0 {
		c.finishEP0()
	}
}

// finishEP0 clears EP0CS.BUSY and delivers pending OUT data.
func (c *Chip) finishEP0() {
	c.regs[fx2.EP0CS] &^= fx2.EP0CSBusy
	if c.ep0In {
		return
	}
	n := copy(c.regs[int(fx2.EP0BUF):int(fx2.EP0BUF)+fx2.EP0BufferSize], c.ep0Out)
	c.ep0Out = c.ep0Out[n:]
	c.regs[fx2.EP0BCH] = 0
	c.regs[fx2.EP0BCL] = uint8(n)
}

func (c *Chip) takeIn() []byte {
	data := c.ep0Data
	c.ep0Data = nil
	return data
}

func (c *Chip) complete(done Completion) {
	select {
	case c.completions <- done:
	default:
	}
}

// raise delivers an interrupt to the registered handler.
func (c *Chip) raise(irq fx2.Interrupt) {
	c.mutex.Lock()
	fn := c.onInterrupt
	c.mutex.Unlock()
	if fn != nil {
		fn(irq)
	}
}

// Setup presents a SETUP packet (and, for OUT requests, its data stage) to
// the firmware and raises the SUDAV interrupt.
func (c *Chip) Setup(setup [fx2.SetupDataSize]byte, data []byte) {
	c.mutex.Lock()
	copy(c.regs[int(fx2.SETUPDAT):], setup[:])
	c.request = setup[1]
	c.ep0In = setup[0]&0x80 != 0
	c.ep0Out = append([]byte(nil), data...)
	c.ep0Data = nil
	c.mutex.Unlock()

	c.raise(fx2.IntSetupData)
}

// Control performs a full control transfer and waits for the firmware to
// complete or stall it.
func (c *Chip) Control(ctx context.Context, setup [fx2.SetupDataSize]byte, data []byte) (Completion, error) {
	// Drop completions of earlier, unawaited transfers.
	for {
		select {
		case <-c.completions:
			continue
		default:
		}
		break
	}
	c.Setup(setup, data)
	select {
	case <-ctx.Done():
		return Completion{}, ctx.Err()
	case done := <-c.completions:
		return done, nil
	}
}

// SetHighSpeed sets the negotiated link speed. Switching to high speed
// raises the HISPEED interrupt.
func (c *Chip) SetHighSpeed(high bool) {
	c.mutex.Lock()
	if high {
		c.regs[fx2.USBCS] |= fx2.USBCSHighSpeed
	} else {
		c.regs[fx2.USBCS] &^= fx2.USBCSHighSpeed
	}
	c.mutex.Unlock()

	if high {
		c.raise(fx2.IntHighSpeed)
	}
}

// BusReset signals a USB bus reset. The link falls back to full speed.
func (c *Chip) BusReset() {
	c.mutex.Lock()
	c.regs[fx2.USBCS] &^= fx2.USBCSHighSpeed
	c.mutex.Unlock()
	c.raise(fx2.IntBusReset)
}

// Suspend signals bus suspend.
func (c *Chip) Suspend() { c.raise(fx2.IntSuspend) }

// Resume signals bus resume.
func (c *Chip) Resume() { c.raise(fx2.IntResume) }

// Tick raises the timer 2 interrupt.
func (c *Chip) Tick() { c.raise(fx2.IntTimer2) }

// RunTimer raises the timer 2 interrupt every period until ctx is done.
func (c *Chip) RunTimer(ctx context.Context, period time.Duration) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Tick()
		}
	}
}

// Reg returns the value of r without side effects.
func (c *Chip) Reg(r fx2.Register) uint8 {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.regs[r]
}

// SetReg stores v into r without side effects or logging.
func (c *Chip) SetReg(r fx2.Register, v uint8) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.regs[r] = v
}

// Mem returns a copy of n bytes starting at r.
func (c *Chip) Mem(r fx2.Register, n int) []byte {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	out := make([]byte, n)
	copy(out, c.regs[int(r):])
	return out
}

// Log returns a copy of the access log.
func (c *Chip) Log() []Access {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return append([]Access(nil), c.log...)
}

// Writes returns the logged writes and updates to r, in order.
func (c *Chip) Writes(r fx2.Register) []uint8 {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	var out []uint8
	for _, a := range c.log {
		if a.Reg == r && a.Op != OpSync {
			out = append(out, a.Value)
		}
	}
	return out
}

// ResetLog clears the access log, poll counters and packet-end counters.
func (c *Chip) ResetLog() {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.log = nil
	c.syncs = 0
	c.polls = make(map[fx2.Register]int)
	c.packetEnds = [16]int{}
}

// Syncs returns the number of synchronisation delays issued.
func (c *Chip) Syncs() int {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.syncs
}

// Polls returns how many times r has been read since the last ResetLog.
func (c *Chip) Polls(r fx2.Register) int {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.polls[r]
}

// PacketEnds returns how many INPKTEND commands targeted endpoint ep.
func (c *Chip) PacketEnds(ep uint8) int {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.packetEnds[ep&0x0F]
}

// Trigger returns the active GPIF trigger code, or 0 when the GPIF is idle.
func (c *Chip) Trigger() uint8 {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.trigger
}

var _ fx2.Bus = (*Chip)(nil)
