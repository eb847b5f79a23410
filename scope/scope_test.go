package scope

import (
	"bytes"
	"errors"
	"testing"

	"github.com/ardnew/scopefw/device"
	"github.com/ardnew/scopefw/fx2"
	"github.com/ardnew/scopefw/fx2/sim"
	"github.com/ardnew/scopefw/pkg"
)

// lamp records indicator requests.
type lamp struct {
	led   LED
	ticks uint32
	calls int
}

func (l *lamp) Indicate(led LED, ticks uint32) {
	l.led, l.ticks = led, ticks
	l.calls++
}

// payload is a data stage holding fixed bytes.
type payload []byte

func (p payload) ReadData(buf []byte) (int, error) {
	return copy(buf, p), nil
}

// newScope returns a scope with the power-on configuration applied and a
// clean chip log.
func newScope(t *testing.T, opts ...sim.Option) (*Scope, *sim.Chip, *lamp) {
	t.Helper()
	c := sim.New(opts...)
	l := &lamp{}
	s := New(c, WithIndicator(l))
	if err := s.Reset(); err != nil {
		t.Fatalf("Reset() error = %v", err)
	}
	c.ResetLog()
	*l = lamp{}
	return s, c, l
}

func vendor(req uint8) *device.SetupPacket {
	var setup device.SetupPacket
	device.VendorOutSetup(&setup, req, 0, 0, 1)
	return &setup
}

// writes returns the logged register writes, without updates and syncs.
func writes(c *sim.Chip) []sim.Access {
	var out []sim.Access
	for _, a := range c.Log() {
		if a.Op == sim.OpWrite {
			out = append(out, a)
		}
	}
	return out
}

func TestResetDefaults(t *testing.T) {
	s, c, _ := newScope(t)

	cfg := s.Config()
	if cfg.RateID != DefaultRateID || cfg.KSPS != 1000 {
		t.Errorf("rate = %d (%d ksps), want %d (1000 ksps)", cfg.RateID, cfg.KSPS, DefaultRateID)
	}
	if cfg.Channels != DefaultChannels {
		t.Errorf("Channels = %d, want %d", cfg.Channels, DefaultChannels)
	}
	if cfg.Alt != DefaultAlt {
		t.Errorf("Alt = %d, want %d", cfg.Alt, DefaultAlt)
	}
	if cfg.Voltage != [2]uint8{DefaultVoltage, DefaultVoltage} {
		t.Errorf("Voltage = %v, want both %d", cfg.Voltage, DefaultVoltage)
	}
	if s.State() != StateIdle {
		t.Errorf("State() = %v, want %v", s.State(), StateIdle)
	}

	checks := []struct {
		reg  fx2.Register
		want uint8
	}{
		{fx2.EP4CFG, 0x00},
		{fx2.EP8CFG, 0x00},
		{fx2.EP2CFG, 0x00},
		{fx2.EP6CFG, 0xE0},
		{fx2.EP2FIFOCFG, 0x09},
		{fx2.EP6FIFOCFG, 0x09},
		{fx2.EP6AUTOINLENH, 0x02},
		{fx2.EP6AUTOINLENL, 0x00},
		{fx2.IFCONFIG, 0xCA},
		{fx2.IOC, 0x48&0x1C | 0x48&0xE0 | 0x03},
	}
	for _, tc := range checks {
		if got := c.Reg(tc.reg); got != tc.want {
			t.Errorf("reg 0x%04X = 0x%02X, want 0x%02X", uint16(tc.reg), got, tc.want)
		}
	}
}

// goldenPrograms holds the first three waveform words (length/branch,
// opcode, output) and the IFCONFIG value of every sample rate.
var goldenPrograms = []struct {
	id       uint8
	ifconfig uint8
	ksps     uint32
	words    [24]byte
}{
	{48, 0xEA, 48000, [24]byte{
		0x80, 0x00, 0x01, 0, 0, 0, 0, 0,
		0x03, 0x00, 0x01, 0, 0, 0, 0, 0,
		0x00, 0x44, 0x44, 0, 0, 0, 0, 0}},
	{30, 0xAA, 30000, [24]byte{
		0x80, 0x00, 0x01, 0, 0, 0, 0, 0,
		0x03, 0x00, 0x01, 0, 0, 0, 0, 0,
		0x00, 0x44, 0x44, 0, 0, 0, 0, 0}},
	{24, 0xCA, 24000, [24]byte{
		0x01, 0x00, 0x01, 0, 0, 0, 0, 0,
		0x02, 0x01, 0x01, 0, 0, 0, 0, 0,
		0x40, 0x44, 0x44, 0, 0, 0, 0, 0}},
	{16, 0xCA, 16000, [24]byte{
		0x01, 0x01, 0x01, 0, 0, 0, 0, 0,
		0x02, 0x00, 0x01, 0, 0, 0, 0, 0,
		0x40, 0x44, 0x44, 0, 0, 0, 0, 0}},
	{12, 0xCA, 12000, [24]byte{
		0x02, 0x01, 0x01, 0, 0, 0, 0, 0,
		0x02, 0x00, 0x01, 0, 0, 0, 0, 0,
		0x40, 0x44, 0x44, 0, 0, 0, 0, 0}},
	{8, 0xCA, 8000, [24]byte{
		0x03, 0x02, 0x01, 0, 0, 0, 0, 0,
		0x02, 0x00, 0x01, 0, 0, 0, 0, 0,
		0x40, 0x44, 0x44, 0, 0, 0, 0, 0}},
	{4, 0xCA, 4000, [24]byte{
		0x06, 0x05, 0x01, 0, 0, 0, 0, 0,
		0x02, 0x00, 0x01, 0, 0, 0, 0, 0,
		0x40, 0x44, 0x44, 0, 0, 0, 0, 0}},
	{2, 0xCA, 2000, [24]byte{
		0x0C, 0x0B, 0x01, 0, 0, 0, 0, 0,
		0x02, 0x00, 0x01, 0, 0, 0, 0, 0,
		0x40, 0x44, 0x44, 0, 0, 0, 0, 0}},
	{1, 0xCA, 1000, [24]byte{
		0x18, 0x17, 0x01, 0, 0, 0, 0, 0,
		0x02, 0x00, 0x01, 0, 0, 0, 0, 0,
		0x40, 0x44, 0x44, 0, 0, 0, 0, 0}},
	{50, 0xCA, 500, [24]byte{
		0x30, 0x2F, 0x01, 0, 0, 0, 0, 0,
		0x02, 0x00, 0x01, 0, 0, 0, 0, 0,
		0x40, 0x44, 0x44, 0, 0, 0, 0, 0}},
	{20, 0xCA, 200, [24]byte{
		0x78, 0x77, 0x01, 0, 0, 0, 0, 0,
		0x02, 0x00, 0x01, 0, 0, 0, 0, 0,
		0x40, 0x44, 0x44, 0, 0, 0, 0, 0}},
	{10, 0xCA, 100, [24]byte{
		0xF0, 0xEF, 0x01, 0, 0, 0, 0, 0,
		0x02, 0x00, 0x01, 0, 0, 0, 0, 0,
		0x40, 0x44, 0x44, 0, 0, 0, 0, 0}},
}

// goldenImage returns the full waveform memory image of a golden program.
func goldenImage(words [24]byte) []byte {
	image := make([]byte, fx2.WaveDataSize)
	copy(image, words[:])
	return image
}

func TestProgramImage(t *testing.T) {
	if len(goldenPrograms) != len(Profiles) {
		t.Fatalf("%d golden programs for %d profiles", len(goldenPrograms), len(Profiles))
	}
	for _, g := range goldenPrograms {
		p, ok := LookupProfile(g.id)
		if !ok {
			t.Errorf("LookupProfile(%d) not found", g.id)
			continue
		}
		if p.IFConfig != g.ifconfig || p.KSPS != g.ksps {
			t.Errorf("profile %d: IFConfig/KSPS = 0x%02X/%d, want 0x%02X/%d",
				g.id, p.IFConfig, p.KSPS, g.ifconfig, g.ksps)
		}
		image := Program(p)
		if want := goldenImage(g.words); !bytes.Equal(image[:], want) {
			t.Errorf("Program(%d) = % X, want % X", g.id, image[:24], want[:24])
		}
	}
}

func TestSetSampleRate(t *testing.T) {
	for _, g := range goldenPrograms {
		s, c, _ := newScope(t)
		// Leave stale bytes where the zero fill must reach.
		for i := 0; i < fx2.WaveDataSize; i++ {
			c.SetReg(fx2.GPIFWaveData+fx2.Register(i), 0xA5)
		}

		if err := s.SetSampleRate(g.id); err != nil {
			t.Fatalf("SetSampleRate(%d) error = %v", g.id, err)
		}
		want := goldenImage(g.words)
		if got := c.Mem(fx2.GPIFWaveData, fx2.WaveDataSize); !bytes.Equal(got, want) {
			t.Errorf("rate %d: wave memory = % X, want % X", g.id, got[:24], want[:24])
		}
		if got := c.Reg(fx2.IFCONFIG); got != g.ifconfig {
			t.Errorf("rate %d: IFCONFIG = 0x%02X, want 0x%02X", g.id, got, g.ifconfig)
		}
		if cfg := s.Config(); cfg.RateID != g.id || cfg.KSPS != g.ksps {
			t.Errorf("rate %d: config = %d/%d, want %d/%d", g.id, cfg.RateID, cfg.KSPS, g.id, g.ksps)
		}
	}
}

func TestSetSampleRateControlState(t *testing.T) {
	s, c, _ := newScope(t)
	if err := s.SetSampleRate(48); err != nil {
		t.Fatalf("SetSampleRate() error = %v", err)
	}

	want := []sim.Access{
		{Op: sim.OpWrite, Reg: fx2.IFCONFIG, Value: 0xEA},
		{Op: sim.OpWrite, Reg: fx2.GPIFABORT, Value: 0xFF},
		{Op: sim.OpWrite, Reg: fx2.GPIFREADYCFG, Value: 0xC0},
		{Op: sim.OpWrite, Reg: fx2.GPIFCTLCFG, Value: 0x00},
		{Op: sim.OpWrite, Reg: fx2.GPIFIDLECS, Value: 0x00},
		{Op: sim.OpWrite, Reg: fx2.GPIFIDLECTL, Value: 0x0F},
		{Op: sim.OpWrite, Reg: fx2.GPIFWFSELECT, Value: 0x00},
		{Op: sim.OpWrite, Reg: fx2.GPIFREADYSTAT, Value: 0x00},
		{Op: sim.OpWrite, Reg: fx2.AUTOPTRSETUP, Value: 0x07},
		{Op: sim.OpWrite, Reg: fx2.AUTOPTRH2, Value: 0xE4},
		{Op: sim.OpWrite, Reg: fx2.AUTOPTRL2, Value: 0x00},
	}
	got := writes(c)
	if len(got) < len(want)+fx2.WaveDataSize {
		t.Fatalf("%d writes, want at least %d", len(got), len(want)+fx2.WaveDataSize)
	}
	for i, w := range want {
		if got[i] != w {
			t.Errorf("write %d = %+v, want %+v", i, got[i], w)
		}
	}
	for i, a := range got[len(want) : len(want)+fx2.WaveDataSize] {
		if a.Reg != fx2.XAUTODAT2 {
			t.Fatalf("program byte %d written to 0x%04X, want XAUTODAT2", i, uint16(a.Reg))
		}
	}
}

func TestSetSampleRateUnknown(t *testing.T) {
	for _, id := range []uint8{0, 3, 5, 100, 255} {
		s, c, _ := newScope(t)
		before := c.Mem(fx2.GPIFWaveData, fx2.WaveDataSize)

		err := s.SetSampleRate(id)
		if !errors.Is(err, pkg.ErrInvalidParameter) {
			t.Errorf("SetSampleRate(%d) error = %v, want %v", id, err, pkg.ErrInvalidParameter)
		}
		if got := c.Mem(fx2.GPIFWaveData, fx2.WaveDataSize); !bytes.Equal(got, before) {
			t.Errorf("SetSampleRate(%d) changed wave memory", id)
		}
		if n := len(c.Log()); n != 0 {
			t.Errorf("SetSampleRate(%d) made %d bus accesses, want 0", id, n)
		}
		if cfg := s.Config(); cfg.RateID != DefaultRateID {
			t.Errorf("SetSampleRate(%d) changed rate to %d", id, cfg.RateID)
		}
	}
}

func TestSetVoltagePreservesOtherChannel(t *testing.T) {
	codes := []uint8{1, 2, 5, 10}
	for _, code1 := range codes {
		for _, code0 := range codes {
			s, c, _ := newScope(t)
			if err := s.SetVoltage(1, code1); err != nil {
				t.Fatalf("SetVoltage(1, %d) error = %v", code1, err)
			}
			ch1 := c.Reg(fx2.IOC) & channelMask[1]
			if err := s.SetVoltage(0, code0); err != nil {
				t.Fatalf("SetVoltage(0, %d) error = %v", code0, err)
			}
			ioc := c.Reg(fx2.IOC)
			if got := ioc & channelMask[1]; got != ch1 {
				t.Errorf("codes %d/%d: channel 1 bits = 0x%02X, want 0x%02X", code0, code1, got, ch1)
			}
			if got, want := ioc&channelMask[0], rangeBits[code0]&channelMask[0]; got != want {
				t.Errorf("codes %d/%d: channel 0 bits = 0x%02X, want 0x%02X", code0, code1, got, want)
			}
			if got := ioc & 0x03; got != 0x03 {
				t.Errorf("codes %d/%d: LED bits = 0x%02X, want 0x03", code0, code1, got)
			}
		}
	}
}

func TestSetVoltageRejected(t *testing.T) {
	tests := []struct {
		channel, code uint8
	}{
		{0, 0},
		{0, 3},
		{1, 4},
		{1, 11},
		{2, 1},
	}
	for _, tt := range tests {
		s, c, _ := newScope(t)
		before := c.Reg(fx2.IOC)
		if err := s.SetVoltage(tt.channel, tt.code); !errors.Is(err, pkg.ErrInvalidParameter) {
			t.Errorf("SetVoltage(%d, %d) error = %v, want %v", tt.channel, tt.code, err, pkg.ErrInvalidParameter)
		}
		if got := c.Reg(fx2.IOC); got != before {
			t.Errorf("SetVoltage(%d, %d) changed IOC to 0x%02X", tt.channel, tt.code, got)
		}
	}
}

func TestSetChannels(t *testing.T) {
	tests := []struct {
		n       uint8
		wantCfg uint8
		wantErr error
	}{
		{1, 0x08, nil},
		{2, 0x09, nil},
		{0, 0x09, pkg.ErrInvalidParameter},
		{3, 0x09, pkg.ErrInvalidParameter},
	}
	for _, tt := range tests {
		s, c, _ := newScope(t)
		err := s.SetChannels(tt.n)
		if !errors.Is(err, tt.wantErr) {
			t.Errorf("SetChannels(%d) error = %v, want %v", tt.n, err, tt.wantErr)
		}
		if got2, got6 := c.Reg(fx2.EP2FIFOCFG), c.Reg(fx2.EP6FIFOCFG); got2 != tt.wantCfg || got6 != tt.wantCfg {
			t.Errorf("SetChannels(%d): FIFOCFG = 0x%02X/0x%02X, want 0x%02X", tt.n, got2, got6, tt.wantCfg)
		}
	}
}

func TestAutoAdjust(t *testing.T) {
	tests := []struct {
		channels uint8
		rate     uint8
		want     bool
	}{
		{2, 1, true},
		{2, 8, true},
		{2, 12, false},
		{2, 48, false},
		{1, 16, true},
		{1, 24, false},
		{1, 30, false},
	}
	for _, tt := range tests {
		s, c, _ := newScope(t)
		s.SelectInterface(1)
		if err := s.SetChannels(tt.channels); err != nil {
			t.Fatal(err)
		}
		if err := s.SetSampleRate(tt.rate); err != nil {
			t.Fatal(err)
		}
		pkts := c.Reg(fx2.EP2ISOINPKTS)
		if got := pkts&isoAutoAdjust != 0; got != tt.want {
			t.Errorf("%d channels at rate %d: EP2ISOINPKTS = 0x%02X, auto-adjust %v, want %v",
				tt.channels, tt.rate, pkts, got, tt.want)
		}
		if got := pkts &^ isoAutoAdjust; got != 3 {
			t.Errorf("%d channels at rate %d: packets = %d, want 3", tt.channels, tt.rate, got)
		}
	}
}

func TestSelectInterface(t *testing.T) {
	s, c, l := newScope(t)

	s.SelectInterface(1)
	checks := []struct {
		reg  fx2.Register
		want uint8
	}{
		{fx2.EP2CFG, 0xD8},
		{fx2.EP6CFG, 0x00},
		{fx2.EP2GPIFFLGSEL, 0x01},
		{fx2.EP2AUTOINLENH, 0x04},
		{fx2.EP2AUTOINLENL, 0x00},
	}
	for _, tt := range checks {
		if got := c.Reg(tt.reg); got != tt.want {
			t.Errorf("alt 1: reg 0x%04X = 0x%02X, want 0x%02X", uint16(tt.reg), got, tt.want)
		}
	}
	if l.led != LEDRed || l.ticks != ConfigureBlink {
		t.Errorf("indicator = %v/%d, want %v/%d", l.led, l.ticks, LEDRed, ConfigureBlink)
	}

	s.SelectInterface(0)
	if got := c.Reg(fx2.EP2CFG); got != 0x00 {
		t.Errorf("alt 0: EP2CFG = 0x%02X, want 0x00", got)
	}
	if got := c.Reg(fx2.EP6CFG); got != 0xE0 {
		t.Errorf("alt 0: EP6CFG = 0x%02X, want 0xE0", got)
	}
	if got := c.Reg(fx2.EP6GPIFFLGSEL); got != 0x01 {
		t.Errorf("alt 0: EP6GPIFFLGSEL = 0x%02X, want 0x01", got)
	}
}

func TestEndpointsFollowLinkSpeed(t *testing.T) {
	tests := []struct {
		speed   device.Speed
		alt     uint8
		wantLen uint16
		wantPkt uint8
	}{
		{device.SpeedHigh, 0, 512, 0},
		{device.SpeedFull, 0, 64, 0},
		{device.SpeedHigh, 1, 1024, 3},
		{device.SpeedFull, 1, 1023, 1},
	}
	for _, tt := range tests {
		s, _, _ := newScope(t)
		dev, err := NewDevice()
		if err != nil {
			t.Fatalf("NewDevice() error = %v", err)
		}
		dev.SetSpeed(tt.speed)
		if err := s.Attach(dev); err != nil {
			t.Fatalf("Attach() error = %v", err)
		}
		s.SelectInterface(tt.alt)

		ep := s.Endpoints()
		if ep.BufferLength != tt.wantLen || ep.Packets != tt.wantPkt {
			t.Errorf("%v alt %d: length %d packets %d, want %d/%d",
				tt.speed, tt.alt, ep.BufferLength, ep.Packets, tt.wantLen, tt.wantPkt)
		}
	}
}

func TestAttachRejectsLayout(t *testing.T) {
	tests := []struct {
		name  string
		build func() (*device.Device, error)
	}{
		{"swapped transports", func() (*device.Device, error) {
			return device.NewDeviceBuilder().
				WithVendorProduct(VendorID, ProductID).
				AddConfiguration(1).
				AddInterface(device.ClassVendor, 0, 0).
				AddEndpoint(IsoEndpoint, device.EndpointTypeIsochronous, IsoPacketSizeHS, IsoPacketSizeFS, 1).
				AddAlternate(device.ClassVendor, 0, 0).
				AddEndpoint(BulkEndpoint, device.EndpointTypeBulk, BulkPacketSizeHS, BulkPacketSizeFS, 0).
				Build()
		}},
		{"no isochronous alternate", func() (*device.Device, error) {
			return device.NewDeviceBuilder().
				WithVendorProduct(VendorID, ProductID).
				AddConfiguration(1).
				AddInterface(device.ClassVendor, 0, 0).
				AddEndpoint(BulkEndpoint, device.EndpointTypeBulk, BulkPacketSizeHS, BulkPacketSizeFS, 0).
				Build()
		}},
		{"bulk OUT only", func() (*device.Device, error) {
			return device.NewDeviceBuilder().
				WithVendorProduct(VendorID, ProductID).
				AddConfiguration(1).
				AddInterface(device.ClassVendor, 0, 0).
				AddEndpoint(0x06, device.EndpointTypeBulk, BulkPacketSizeHS, BulkPacketSizeFS, 0).
				AddAlternate(device.ClassVendor, 0, 0).
				AddEndpoint(IsoEndpoint, device.EndpointTypeIsochronous, IsoPacketSizeHS, IsoPacketSizeFS, 1).
				Build()
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dev, err := tt.build()
			if err != nil {
				t.Fatalf("Build() error = %v", err)
			}
			s, _, _ := newScope(t)
			if err := s.Attach(dev); !errors.Is(err, pkg.ErrInvalidRequest) {
				t.Errorf("Attach() error = %v, want %v", err, pkg.ErrInvalidRequest)
			}
		})
	}
}

func TestStartProgram(t *testing.T) {
	s, c, l := newScope(t)
	if err := s.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	want := []sim.Access{
		{Op: sim.OpWrite, Reg: fx2.GPIFABORT, Value: 0xFF},
		{Op: sim.OpWrite, Reg: fx2.FIFORESET, Value: 0x80},
		{Op: sim.OpWrite, Reg: fx2.EP2FIFOCFG, Value: 0x00},
		{Op: sim.OpWrite, Reg: fx2.EP6FIFOCFG, Value: 0x00},
		{Op: sim.OpWrite, Reg: fx2.EP2FIFOCFG, Value: 0x09},
		{Op: sim.OpWrite, Reg: fx2.EP6FIFOCFG, Value: 0x09},
		{Op: sim.OpWrite, Reg: fx2.FIFORESET, Value: 0x02},
		{Op: sim.OpWrite, Reg: fx2.FIFORESET, Value: 0x06},
		{Op: sim.OpWrite, Reg: fx2.FIFORESET, Value: 0x00},
		{Op: sim.OpWrite, Reg: fx2.GPIFTCB1, Value: 0x28},
		{Op: sim.OpWrite, Reg: fx2.GPIFTCB0, Value: 0x00},
		{Op: sim.OpWrite, Reg: fx2.GPIFTRIG, Value: 0x06},
	}
	got := writes(c)
	if len(got) != len(want) {
		t.Fatalf("Start() made %d writes, want %d: %+v", len(got), len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("write %d = %+v, want %+v", i, got[i], want[i])
		}
	}

	// Every FIFO reset step is followed by a sync delay.
	log := c.Log()
	for i, a := range log {
		if a.Op != sim.OpWrite || a.Reg == fx2.GPIFABORT || a.Reg == fx2.GPIFTRIG {
			continue
		}
		if i+1 >= len(log) || log[i+1].Op != sim.OpSync {
			t.Errorf("write to 0x%04X not followed by a sync delay", uint16(a.Reg))
		}
	}

	if s.State() != StateRunning {
		t.Errorf("State() = %v, want %v", s.State(), StateRunning)
	}
	if c.Trigger() != 0x06 {
		t.Errorf("trigger = %d, want 6", c.Trigger())
	}
	if l.led != LEDGreen || l.ticks != 0 {
		t.Errorf("indicator = %v/%d, want %v/0", l.led, l.ticks, LEDGreen)
	}
}

func TestStartWaitsForIdleGate(t *testing.T) {
	const latency = 5
	s, c, _ := newScope(t, sim.WithIdleLatency(latency))
	if err := s.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if n := c.Polls(fx2.GPIFTRIG); n < latency {
		t.Errorf("GPIFTRIG polled %d times, want at least %d", n, latency)
	}
}

func TestStartIsochronous(t *testing.T) {
	s, c, _ := newScope(t)
	s.SelectInterface(1)
	if err := s.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if c.Trigger() != 0x04 {
		t.Errorf("trigger = %d, want 4", c.Trigger())
	}
	s.Stop()
	if n := c.PacketEnds(2); n != 1 {
		t.Errorf("EP2 packet ends = %d, want 1", n)
	}
	if n := c.PacketEnds(6); n != 0 {
		t.Errorf("EP6 packet ends = %d, want 0", n)
	}
}

func TestStartInvalidConfig(t *testing.T) {
	c := sim.New()
	s := New(c)
	if err := s.Start(); !errors.Is(err, pkg.ErrInvalidState) {
		t.Errorf("Start() error = %v, want %v", err, pkg.ErrInvalidState)
	}
	if s.State() != StateIdle {
		t.Errorf("State() = %v, want %v", s.State(), StateIdle)
	}
	if c.Trigger() != 0 {
		t.Errorf("trigger = %d, want 0", c.Trigger())
	}
}

func TestStopIdempotent(t *testing.T) {
	s, c, _ := newScope(t)
	if err := s.Start(); err != nil {
		t.Fatal(err)
	}

	s.Stop()
	once := s.Config()
	s.Stop()

	if s.State() != StateIdle {
		t.Errorf("State() = %v, want %v", s.State(), StateIdle)
	}
	if n := c.PacketEnds(6); n != 1 {
		t.Errorf("EP6 packet ends = %d, want 1", n)
	}
	if s.Config() != once {
		t.Errorf("second Stop() changed config: %+v -> %+v", once, s.Config())
	}
	if c.Trigger() != 0 {
		t.Errorf("trigger = %d, want 0 after stop", c.Trigger())
	}
}

func TestHandleVendorUnknown(t *testing.T) {
	s, c, _ := newScope(t)
	for _, req := range []uint8{0xA0, 0xDF, 0xE5, 0xFF} {
		handled, err := s.HandleVendor(vendor(req), payload{1})
		if handled || err != nil {
			t.Errorf("HandleVendor(0x%02X) = %v, %v, want false, nil", req, handled, err)
		}
	}
	if n := len(c.Log()); n != 0 {
		t.Errorf("unknown requests made %d bus accesses, want 0", n)
	}
}

func TestHandleVendor(t *testing.T) {
	tests := []struct {
		name  string
		req   uint8
		value uint8
		check func(t *testing.T, s *Scope, c *sim.Chip)
	}{
		{"voltage ch0", RequestSetVoltage0, 10, func(t *testing.T, s *Scope, c *sim.Chip) {
			if got := s.Config().Voltage[0]; got != 10 {
				t.Errorf("Voltage[0] = %d, want 10", got)
			}
		}},
		{"voltage ch1", RequestSetVoltage1, 5, func(t *testing.T, s *Scope, c *sim.Chip) {
			if got := c.Reg(fx2.IOC) & channelMask[1]; got != 0 {
				t.Errorf("channel 1 bits = 0x%02X, want 0", got)
			}
		}},
		{"sample rate", RequestSetSampleRate, 30, func(t *testing.T, s *Scope, c *sim.Chip) {
			if got := s.Config().KSPS; got != 30000 {
				t.Errorf("KSPS = %d, want 30000", got)
			}
		}},
		{"channels", RequestSetChannels, 1, func(t *testing.T, s *Scope, c *sim.Chip) {
			if got := c.Reg(fx2.EP6FIFOCFG); got != 0x08 {
				t.Errorf("EP6FIFOCFG = 0x%02X, want 0x08", got)
			}
		}},
		{"start", RequestStartStop, 1, func(t *testing.T, s *Scope, c *sim.Chip) {
			if s.State() != StateRunning {
				t.Errorf("State() = %v, want %v", s.State(), StateRunning)
			}
		}},
		{"stop", RequestStartStop, 0, func(t *testing.T, s *Scope, c *sim.Chip) {
			if s.State() != StateIdle {
				t.Errorf("State() = %v, want %v", s.State(), StateIdle)
			}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, c, _ := newScope(t)
			handled, err := s.HandleVendor(vendor(tt.req), payload{tt.value})
			if !handled || err != nil {
				t.Fatalf("HandleVendor() = %v, %v, want true, nil", handled, err)
			}
			tt.check(t, s, c)
		})
	}
}

func TestHandleVendorInvalidParameterAcknowledged(t *testing.T) {
	tests := []struct {
		req, value uint8
	}{
		{RequestSetVoltage0, 7},
		{RequestSetVoltage1, 0},
		{RequestSetSampleRate, 99},
		{RequestSetChannels, 3},
	}
	for _, tt := range tests {
		s, _, _ := newScope(t)
		before := s.Config()
		handled, err := s.HandleVendor(vendor(tt.req), payload{tt.value})
		if !handled || err != nil {
			t.Errorf("HandleVendor(0x%02X, %d) = %v, %v, want true, nil", tt.req, tt.value, handled, err)
		}
		if got := s.Config(); got != before {
			t.Errorf("HandleVendor(0x%02X, %d) changed config: %+v", tt.req, tt.value, got)
		}
	}
}

func TestHandleVendorDataError(t *testing.T) {
	s, _, _ := newScope(t)
	want := errors.New("data stage failed")
	data := device.ControlData(failingData{want})
	handled, err := s.HandleVendor(vendor(RequestSetChannels), data)
	if !handled || !errors.Is(err, want) {
		t.Errorf("HandleVendor() = %v, %v, want true, %v", handled, err, want)
	}
}

type failingData struct{ err error }

func (f failingData) ReadData([]byte) (int, error) { return 0, f.err }
