package device

import (
	"encoding/binary"
	"errors"
	"testing"

	"github.com/ardnew/scopefw/pkg"
)

// buildScopeDevice builds a dual-speed device with one interface carrying a
// bulk alternate and an isochronous alternate.
func buildScopeDevice(t *testing.T) *Device {
	t.Helper()
	dev, err := NewDeviceBuilder().
		WithVendorProduct(0x04B5, 0x6022).
		WithStrings("Test Manufacturer", "Test Scope", "").
		AddConfiguration(1).
		AddInterface(ClassVendor, 0, 0).
		AddEndpoint(0x86, EndpointTypeBulk, 512, 64, 0).
		AddAlternate(ClassVendor, 0, 0).
		AddEndpoint(0x82, EndpointTypeIsochronous|IsoSyncAsync, 0x1400, 1023, 1).
		Build()
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	return dev
}

func TestDeviceBuilder(t *testing.T) {
	dev := buildScopeDevice(t)

	if dev.Descriptor.NumConfigurations != 1 {
		t.Errorf("NumConfigurations = %d, want 1", dev.Descriptor.NumConfigurations)
	}
	if dev.Descriptor.ManufacturerIndex != 1 || dev.Descriptor.ProductIndex != 2 {
		t.Errorf("string indices = %d/%d", dev.Descriptor.ManufacturerIndex, dev.Descriptor.ProductIndex)
	}
	if dev.Descriptor.SerialNumberIndex != 0 {
		t.Errorf("SerialNumberIndex = %d, want 0", dev.Descriptor.SerialNumberIndex)
	}

	iface := dev.GetConfiguration(1).GetInterface(0)
	if iface == nil {
		t.Fatal("interface 0 missing")
	}
	if got := len(iface.Alternates()); got != 2 {
		t.Fatalf("len(Alternates()) = %d, want 2", got)
	}
	if ep := iface.Alternate(1).FirstIn(); ep == nil || ep.Address != 0x82 {
		t.Errorf("alternate 1 FirstIn() = %v", ep)
	}
}

func TestDeviceBuilderErrors(t *testing.T) {
	tests := []struct {
		name string
		b    *DeviceBuilder
		want error
	}{
		{"no device", NewDeviceBuilder(), pkg.ErrInvalidState},
		{"interface before configuration", NewDeviceBuilder().WithVendorProduct(1, 2).AddInterface(0, 0, 0), pkg.ErrInvalidState},
		{"endpoint before interface", NewDeviceBuilder().WithVendorProduct(1, 2).AddConfiguration(1).AddEndpoint(0x81, EndpointTypeBulk, 64, 0, 0), pkg.ErrInvalidState},
		{
			"duplicate endpoint",
			NewDeviceBuilder().WithVendorProduct(1, 2).AddConfiguration(1).AddInterface(0, 0, 0).
				AddEndpoint(0x81, EndpointTypeBulk, 64, 0, 0).AddEndpoint(0x81, EndpointTypeBulk, 64, 0, 0),
			pkg.ErrBusy,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := tt.b.Build(); !errors.Is(err, tt.want) {
				t.Errorf("Build() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestDeviceStateTransitions(t *testing.T) {
	dev := buildScopeDevice(t)

	var transitions []State
	dev.SetOnStateChange(func(_, to State) { transitions = append(transitions, to) })

	dev.Reset()
	if err := dev.SetAddress(5); err != nil {
		t.Fatalf("SetAddress() error = %v", err)
	}
	if err := dev.SetConfiguration(1); err != nil {
		t.Fatalf("SetConfiguration() error = %v", err)
	}
	dev.Suspend()
	dev.Resume()

	want := []State{StateDefault, StateAddress, StateConfigured, StateSuspended, StateConfigured}
	if len(transitions) != len(want) {
		t.Fatalf("transitions = %v, want %v", transitions, want)
	}
	for i := range want {
		if transitions[i] != want[i] {
			t.Errorf("transition %d = %v, want %v", i, transitions[i], want[i])
		}
	}
}

func TestSetConfigurationFromDefault(t *testing.T) {
	dev := buildScopeDevice(t)
	dev.Reset()
	if err := dev.SetConfiguration(1); err != nil {
		t.Fatalf("SetConfiguration() error = %v", err)
	}
	if !dev.IsConfigured() {
		t.Error("device should be configured")
	}
	if err := dev.SetConfiguration(7); !errors.Is(err, pkg.ErrInvalidRequest) {
		t.Errorf("SetConfiguration(7) error = %v, want %v", err, pkg.ErrInvalidRequest)
	}
}

func TestSetConfigurationRejectedWhenAttached(t *testing.T) {
	dev := buildScopeDevice(t)
	if err := dev.SetConfiguration(1); !errors.Is(err, pkg.ErrInvalidState) {
		t.Errorf("SetConfiguration() error = %v, want %v", err, pkg.ErrInvalidState)
	}
}

func TestSuspendResumeIdempotent(t *testing.T) {
	dev := buildScopeDevice(t)
	dev.Reset()
	dev.SetConfiguration(1)

	suspends := 0
	dev.SetOnSuspend(func() { suspends++ })
	dev.Suspend()
	dev.Suspend()
	if suspends != 1 {
		t.Errorf("suspend callbacks = %d, want 1", suspends)
	}
	dev.Resume()
	dev.Resume()
	if dev.State() != StateConfigured {
		t.Errorf("State() = %v, want %v", dev.State(), StateConfigured)
	}
}

func TestResetReturnsToAlternateZero(t *testing.T) {
	dev := buildScopeDevice(t)
	dev.Reset()
	dev.SetConfiguration(1)
	iface := dev.GetInterface(0)
	if err := iface.SetAlternate(1); err != nil {
		t.Fatalf("SetAlternate() error = %v", err)
	}

	dev.Reset()
	if got := iface.AlternateSetting(); got != 0 {
		t.Errorf("AlternateSetting() = %d after reset, want 0", got)
	}
	if dev.GetInterface(0) != nil {
		t.Error("interfaces should be unreachable after reset")
	}
}

func TestGetEndpointFollowsAlternate(t *testing.T) {
	dev := buildScopeDevice(t)
	dev.Reset()
	dev.SetConfiguration(1)

	if dev.GetEndpoint(0x86) == nil {
		t.Error("bulk endpoint missing in alternate 0")
	}
	if dev.GetEndpoint(0x82) != nil {
		t.Error("iso endpoint visible in alternate 0")
	}

	dev.GetInterface(0).SetAlternate(1)
	if dev.GetEndpoint(0x82) == nil {
		t.Error("iso endpoint missing in alternate 1")
	}
	if dev.GetEndpoint(0x80) != dev.ControlEndpoint() {
		t.Error("EP0 IN should resolve to the control endpoint")
	}
}

func TestGetStatus(t *testing.T) {
	dev := buildScopeDevice(t)
	dev.Reset()
	dev.SetConfiguration(1)
	dev.ActiveConfiguration().SetSelfPowered(true)
	dev.EnableRemoteWakeup(true)

	want := DeviceStatusSelfPowered | DeviceStatusRemoteWakeup
	if got := dev.GetStatus(); got != want {
		t.Errorf("GetStatus() = %v, want %v", got, want)
	}
}

func TestConfigurationMarshalPerSpeed(t *testing.T) {
	dev := buildScopeDevice(t)
	config := dev.GetConfiguration(1)

	// header + 2 interface descriptors + 2 endpoint descriptors
	const total = 9 + 2*9 + 2*7

	tests := []struct {
		name     string
		marshal  func([]byte) int
		descType uint8
		bulk     uint16
		iso      uint16
	}{
		{"full speed", func(b []byte) int { return config.MarshalTo(b, SpeedFull) }, DescriptorTypeConfiguration, 64, 1023},
		{"high speed", func(b []byte) int { return config.MarshalTo(b, SpeedHigh) }, DescriptorTypeConfiguration, 512, 0x1400},
		{"other speed of full", func(b []byte) int { return config.MarshalOtherSpeedTo(b, SpeedFull) }, DescriptorTypeOtherSpeedConfig, 512, 0x1400},
		{"other speed of high", func(b []byte) int { return config.MarshalOtherSpeedTo(b, SpeedHigh) }, DescriptorTypeOtherSpeedConfig, 64, 1023},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf [128]byte
			n := tt.marshal(buf[:])
			if n != total {
				t.Fatalf("marshal = %d bytes, want %d", n, total)
			}
			if buf[1] != tt.descType {
				t.Errorf("bDescriptorType = %d, want %d", buf[1], tt.descType)
			}
			if got := binary.LittleEndian.Uint16(buf[2:]); got != total {
				t.Errorf("wTotalLength = %d, want %d", got, total)
			}
			// interface 0 alt 0, bulk endpoint
			bulk := buf[9+9:]
			if bulk[2] != 0x86 || binary.LittleEndian.Uint16(bulk[4:]) != tt.bulk {
				t.Errorf("bulk endpoint = % X", bulk[:7])
			}
			// interface 0 alt 1, iso endpoint
			alt1 := buf[9+9+7:]
			if alt1[3] != 1 {
				t.Errorf("bAlternateSetting = %d, want 1", alt1[3])
			}
			iso := alt1[9:]
			if iso[2] != 0x82 || binary.LittleEndian.Uint16(iso[4:]) != tt.iso {
				t.Errorf("iso endpoint = % X", iso[:7])
			}
		})
	}
}

func TestPacketSizeFields(t *testing.T) {
	tests := []struct {
		mps   uint16
		bytes uint16
		trans uint8
	}{
		{512, 512, 1},
		{1023, 1023, 1},
		{0x1400, 1024, 3},
		{0x0C00, 1024, 2},
	}
	for _, tt := range tests {
		if got := PacketBytes(tt.mps); got != tt.bytes {
			t.Errorf("PacketBytes(0x%04X) = %d, want %d", tt.mps, got, tt.bytes)
		}
		if got := PacketTransactions(tt.mps); got != tt.trans {
			t.Errorf("PacketTransactions(0x%04X) = %d, want %d", tt.mps, got, tt.trans)
		}
	}
}

func TestSpeedOther(t *testing.T) {
	if SpeedHigh.Other() != SpeedFull || SpeedFull.Other() != SpeedHigh {
		t.Error("Other() should swap full and high speed")
	}
}
