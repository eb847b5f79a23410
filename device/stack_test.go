package device

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ardnew/scopefw/device/hal"
	"github.com/ardnew/scopefw/pkg"
)

// mockEvent is a setup packet or bus event delivered through ReadSetup.
type mockEvent struct {
	setup hal.SetupPacket
	data  []byte // OUT data stage
	err   error
}

// mockHAL implements hal.DeviceHAL for testing. Every EP0 completion is
// reported on done as "ack", "status", or "stall".
type mockHAL struct {
	events chan mockEvent
	done   chan string
	resume chan struct{}

	mutex    sync.Mutex
	speed    hal.Speed
	pending  []byte
	written  []byte
	address  uint8
	stalled  map[uint8]bool
	dataRead int
	started  bool
}

func newMockHAL() *mockHAL {
	return &mockHAL{
		events:  make(chan mockEvent, 8),
		done:    make(chan string, 8),
		resume:  make(chan struct{}, 1),
		speed:   hal.SpeedFull,
		stalled: make(map[uint8]bool),
	}
}

func (m *mockHAL) Init(ctx context.Context) error { return nil }

func (m *mockHAL) Start() error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.started = true
	return nil
}

func (m *mockHAL) Stop() error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.started = false
	return nil
}

func (m *mockHAL) SetAddress(address uint8) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.address = address
	return nil
}

func (m *mockHAL) ReadSetup(ctx context.Context, out *hal.SetupPacket) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case ev := <-m.events:
		if ev.err != nil {
			return ev.err
		}
		m.mutex.Lock()
		m.pending = ev.data
		m.written = nil
		m.mutex.Unlock()
		*out = ev.setup
		return nil
	}
}

func (m *mockHAL) WriteEP0(ctx context.Context, data []byte) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.written = append(m.written, data...)
	return nil
}

func (m *mockHAL) ReadEP0(ctx context.Context, buf []byte) (int, error) {
	if len(buf) == 0 {
		m.done <- "status"
		return 0, nil
	}
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.dataRead++
	n := copy(buf, m.pending)
	m.pending = m.pending[n:]
	return n, nil
}

func (m *mockHAL) StallEP0() error {
	m.done <- "stall"
	return nil
}

func (m *mockHAL) AckEP0() error {
	m.done <- "ack"
	return nil
}

func (m *mockHAL) Stall(address uint8) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.stalled[address] = true
	return nil
}

func (m *mockHAL) ClearStall(address uint8) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.stalled[address] = false
	return nil
}

func (m *mockHAL) IsConnected() bool { return true }

func (m *mockHAL) GetSpeed() hal.Speed {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return m.speed
}

func (m *mockHAL) WaitConnect(ctx context.Context) error { return nil }

func (m *mockHAL) WaitResume(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-m.resume:
		return nil
	}
}

func (m *mockHAL) send(setup *SetupPacket, data []byte) {
	m.events <- mockEvent{
		setup: hal.SetupPacket{
			RequestType: setup.RequestType,
			Request:     setup.Request,
			Value:       setup.Value,
			Index:       setup.Index,
			Length:      setup.Length,
		},
		data: data,
	}
}

// await returns the next EP0 completion.
func (m *mockHAL) await(t *testing.T) string {
	t.Helper()
	select {
	case got := <-m.done:
		return got
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for EP0 completion")
		return ""
	}
}

func startStack(t *testing.T, dev *Device) (*Stack, *mockHAL) {
	t.Helper()
	m := newMockHAL()
	s := NewStack(dev, m)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(func() { s.Stop() })
	return s, m
}

func TestStackStartStop(t *testing.T) {
	dev := buildScopeDevice(t)
	m := newMockHAL()
	s := NewStack(dev, m)

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if !s.IsRunning() {
		t.Error("stack should be running")
	}
	if err := s.Start(context.Background()); !errors.Is(err, pkg.ErrAlreadyRunning) {
		t.Errorf("second Start() error = %v, want %v", err, pkg.ErrAlreadyRunning)
	}
	if dev.State() != StateDefault {
		t.Errorf("State() = %v, want %v", dev.State(), StateDefault)
	}

	if err := s.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	select {
	case <-s.Done():
	default:
		t.Error("control loop still running after Stop()")
	}
	if s.IsRunning() {
		t.Error("stack should not be running")
	}
}

func TestStackEnumeration(t *testing.T) {
	dev := buildScopeDevice(t)
	s, m := startStack(t, dev)

	var setup SetupPacket
	GetDescriptorSetup(&setup, DescriptorTypeDevice, 0, 18)
	m.send(&setup, nil)
	if got := m.await(t); got != "status" {
		t.Fatalf("GET_DESCRIPTOR completion = %q, want status", got)
	}
	m.mutex.Lock()
	written := len(m.written)
	m.mutex.Unlock()
	if written != DeviceDescriptorSize {
		t.Errorf("IN data = %d bytes, want %d", written, DeviceDescriptorSize)
	}

	GetSetAddressSetup(&setup, 9)
	m.send(&setup, nil)
	if got := m.await(t); got != "ack" {
		t.Fatalf("SET_ADDRESS completion = %q, want ack", got)
	}

	GetSetConfigurationSetup(&setup, 1)
	m.send(&setup, nil)
	m.await(t)

	if !s.Device().IsConfigured() {
		t.Error("device should be configured")
	}
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if m.address != 9 {
		t.Errorf("HAL address = %d, want 9", m.address)
	}
}

func TestStackStallsUnknownRequests(t *testing.T) {
	dev := buildScopeDevice(t)
	_, m := startStack(t, dev)

	var setup SetupPacket
	VendorOutSetup(&setup, 0xE3, 0, 0, 1)
	m.send(&setup, []byte{1})
	if got := m.await(t); got != "stall" {
		t.Errorf("vendor request without handler = %q, want stall", got)
	}

	GetDescriptorSetup(&setup, 0x42, 0, 8)
	m.send(&setup, nil)
	if got := m.await(t); got != "stall" {
		t.Errorf("unknown descriptor = %q, want stall", got)
	}
}

func TestStackVendorDataStage(t *testing.T) {
	tests := []struct {
		name     string
		handler  VendorHandlerFunc
		want     string
		payload  byte
		dataRead int
	}{
		{
			name: "handler reads payload",
			handler: func(setup *SetupPacket, data ControlData) (bool, error) {
				var buf [1]byte
				_, err := data.ReadData(buf[:])
				return true, err
			},
			want:     "ack",
			payload:  7,
			dataRead: 1,
		},
		{
			name: "stack drains unread payload",
			handler: func(setup *SetupPacket, data ControlData) (bool, error) {
				return true, nil
			},
			want:     "ack",
			dataRead: 1,
		},
		{
			name: "declined",
			handler: func(setup *SetupPacket, data ControlData) (bool, error) {
				return false, nil
			},
			want: "stall",
		},
		{
			name: "transfer error",
			handler: func(setup *SetupPacket, data ControlData) (bool, error) {
				return true, fmt.Errorf("wrapped: %w", pkg.ErrProtocol)
			},
			want: "stall",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dev := buildScopeDevice(t)
			var got byte
			dev.SetVendorHandler(VendorHandlerFunc(func(setup *SetupPacket, data ControlData) (bool, error) {
				handled, err := tt.handler(setup, &peekData{ControlData: data, last: &got})
				return handled, err
			}))
			_, m := startStack(t, dev)

			var setup SetupPacket
			VendorOutSetup(&setup, 0xE2, 0, 0, 1)
			m.send(&setup, []byte{7})
			if c := m.await(t); c != tt.want {
				t.Errorf("completion = %q, want %q", c, tt.want)
			}
			if got != tt.payload {
				t.Errorf("payload = %d, want %d", got, tt.payload)
			}
			m.mutex.Lock()
			defer m.mutex.Unlock()
			if m.dataRead != tt.dataRead {
				t.Errorf("data stage reads = %d, want %d", m.dataRead, tt.dataRead)
			}
		})
	}
}

// peekData records the first byte read through ControlData.
type peekData struct {
	ControlData
	last *byte
}

func (p *peekData) ReadData(buf []byte) (int, error) {
	n, err := p.ControlData.ReadData(buf)
	if n > 0 {
		*p.last = buf[0]
	}
	return n, err
}

func TestStackEndpointHaltReachesHAL(t *testing.T) {
	dev := buildScopeDevice(t)
	_, m := startStack(t, dev)

	var setup SetupPacket
	GetSetConfigurationSetup(&setup, 1)
	m.send(&setup, nil)
	m.await(t)

	GetSetFeatureSetup(&setup, RequestRecipientEndpoint, FeatureEndpointHalt, 0x86)
	m.send(&setup, nil)
	m.await(t)

	m.mutex.Lock()
	halted := m.stalled[0x86]
	m.mutex.Unlock()
	if !halted {
		t.Error("HAL endpoint 0x86 should be stalled")
	}
}

func TestStackResetAndSpeed(t *testing.T) {
	dev := buildScopeDevice(t)
	_, m := startStack(t, dev)

	var setup SetupPacket
	GetSetConfigurationSetup(&setup, 1)
	m.send(&setup, nil)
	m.await(t)

	m.mutex.Lock()
	m.speed = hal.SpeedHigh
	m.mutex.Unlock()
	m.events <- mockEvent{err: pkg.ErrReset}

	GetDescriptorSetup(&setup, DescriptorTypeConfiguration, 0, 255)
	m.send(&setup, nil)
	m.await(t)

	if dev.IsConfigured() {
		t.Error("bus reset should unconfigure the device")
	}
	if dev.Speed() != SpeedHigh {
		t.Errorf("Speed() = %v, want %v", dev.Speed(), SpeedHigh)
	}
	m.mutex.Lock()
	defer m.mutex.Unlock()
	ep := m.written[9+9:]
	if got := uint16(ep[4]) | uint16(ep[5])<<8; got != 512 {
		t.Errorf("bulk wMaxPacketSize = %d, want 512", got)
	}
}

func TestStackSuspendResume(t *testing.T) {
	dev := buildScopeDevice(t)
	_, m := startStack(t, dev)

	suspended := make(chan struct{}, 1)
	dev.SetOnSuspend(func() { suspended <- struct{}{} })

	var setup SetupPacket
	GetSetConfigurationSetup(&setup, 1)
	m.send(&setup, nil)
	m.await(t)

	m.events <- mockEvent{err: pkg.ErrSuspend}
	select {
	case <-suspended:
	case <-time.After(2 * time.Second):
		t.Fatal("device never suspended")
	}

	// Requests queued while suspended wait for resume.
	GetConfigurationSetup(&setup)
	m.send(&setup, nil)
	select {
	case got := <-m.done:
		t.Fatalf("request completed while suspended: %q", got)
	case <-time.After(50 * time.Millisecond):
	}

	m.resume <- struct{}{}
	if got := m.await(t); got != "status" {
		t.Fatalf("completion after resume = %q, want status", got)
	}
	if dev.State() != StateConfigured {
		t.Errorf("State() = %v, want %v", dev.State(), StateConfigured)
	}
}
