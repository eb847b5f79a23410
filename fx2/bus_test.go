package fx2

import "testing"

// memBus is a plain register file that counts accesses.
type memBus struct {
	regs  [0x10000]uint8
	order []Register
	syncs int
	reads map[Register]int
	// onRead lets a test change a register after n reads.
	onRead func(r Register, n int)
}

func newMemBus() *memBus {
	return &memBus{reads: make(map[Register]int)}
}

func (m *memBus) Read(r Register) uint8 {
	m.reads[r]++
	if m.onRead != nil {
		m.onRead(r, m.reads[r])
	}
	return m.regs[r]
}

func (m *memBus) Write(r Register, v uint8) {
	m.order = append(m.order, r)
	m.regs[r] = v
}

func (m *memBus) Update(r Register, mask, v uint8) {
	m.regs[r] = m.regs[r]&^mask | v&mask
}

func (m *memBus) SyncDelay() { m.syncs++ }

func TestWriteSync(t *testing.T) {
	b := newMemBus()
	WriteSync(b, FIFORESET, FIFOResetNAKAll)
	if b.regs[FIFORESET] != FIFOResetNAKAll {
		t.Errorf("FIFORESET = 0x%02X, want 0x%02X", b.regs[FIFORESET], FIFOResetNAKAll)
	}
	if b.syncs != 1 {
		t.Errorf("syncs = %d, want 1", b.syncs)
	}
}

func TestWaitSetClear(t *testing.T) {
	b := newMemBus()
	b.onRead = func(r Register, n int) {
		if r == GPIFTRIG && n == 4 {
			b.regs[GPIFTRIG] = GPIFTRIGDone
		}
		if r == EP0CS && n == 3 {
			b.regs[EP0CS] = 0
		}
	}
	b.regs[EP0CS] = EP0CSBusy

	WaitSet(b, GPIFTRIG, GPIFTRIGDone)
	if b.reads[GPIFTRIG] != 4 {
		t.Errorf("GPIFTRIG reads = %d, want 4", b.reads[GPIFTRIG])
	}
	WaitClear(b, EP0CS, EP0CSBusy)
	if b.reads[EP0CS] != 3 {
		t.Errorf("EP0CS reads = %d, want 3", b.reads[EP0CS])
	}
}

func TestAutoPointer(t *testing.T) {
	b := newMemBus()
	SetAutoPointer2(b, GPIFWaveData)
	if b.regs[AUTOPTRSETUP] != 0x07 {
		t.Errorf("AUTOPTRSETUP = 0x%02X, want 0x07", b.regs[AUTOPTRSETUP])
	}
	if b.regs[AUTOPTRH2] != 0xE4 || b.regs[AUTOPTRL2] != 0x00 {
		t.Errorf("AUTOPTR2 = 0x%02X%02X, want 0xE400", b.regs[AUTOPTRH2], b.regs[AUTOPTRL2])
	}

	b.order = nil
	StreamAutoData2(b, 1, 2, 3)
	FillAutoData2(b, 0, 5)
	if len(b.order) != 8 {
		t.Fatalf("%d writes, want 8", len(b.order))
	}
	for i, r := range b.order {
		if r != XAUTODAT2 {
			t.Errorf("write %d to 0x%04X, want XAUTODAT2", i, uint16(r))
		}
	}
}

func TestEndpointCS(t *testing.T) {
	tests := []struct {
		ep   uint8
		want Register
		ok   bool
	}{
		{0x01, EP1OUTCS, true},
		{0x81, EP1INCS, true},
		{0x02, EP2CS, true},
		{0x82, EP2CS, true},
		{0x86, EP6CS, true},
		{0x08, EP8CS, true},
		{0x04, EP4CS, true},
		{0x03, 0, false},
		{0x00, 0, false},
	}
	for _, tt := range tests {
		got, ok := EndpointCS(tt.ep)
		if got != tt.want || ok != tt.ok {
			t.Errorf("EndpointCS(0x%02X) = 0x%04X, %v, want 0x%04X, %v", tt.ep, uint16(got), ok, uint16(tt.want), tt.ok)
		}
	}
}

func TestInterruptString(t *testing.T) {
	tests := []struct {
		irq  Interrupt
		want string
	}{
		{IntSetupData, "SUDAV"},
		{IntBusReset, "USBRESET"},
		{IntHighSpeed, "HISPEED"},
		{IntSuspend, "SUSPEND"},
		{IntResume, "RESUME"},
		{IntTimer2, "TF2"},
		{Interrupt(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.irq.String(); got != tt.want {
			t.Errorf("Interrupt(%d).String() = %q, want %q", tt.irq, got, tt.want)
		}
	}
}
