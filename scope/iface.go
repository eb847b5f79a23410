package scope

import (
	"github.com/ardnew/scopefw/device"
	"github.com/ardnew/scopefw/fx2"
	"github.com/ardnew/scopefw/pkg"
)

// Endpoint configuration register values.
const (
	epcfgDisabled uint8 = 0x00
	epcfgBulkIn   uint8 = 0xE0 // valid, IN, bulk, 512 bytes, quad buffered
	epcfgIsoIn    uint8 = 0xD8 // valid, IN, isochronous, 1024 bytes, quad buffered

	// gpifFlagFull selects the FIFO full flag as the GPIF stop condition.
	gpifFlagFull uint8 = 0x01

	isoAutoAdjust uint8 = 0x80
)

// EndpointConfig is the endpoint programming derived from the configuration
// and the link speed.
type EndpointConfig struct {
	Alt           uint8        // Selected alternate setting
	Address       uint8        // Streaming IN endpoint
	Speed         device.Speed // Link speed the sizes apply to
	MaxPacketSize uint16       // wMaxPacketSize, transaction bits included
	BufferLength  uint16       // AUTOINLEN
	Packets       uint8        // Isochronous transactions per microframe
	AutoAdjust    bool         // Isochronous bandwidth may be lowered
}

// ISOInPackets returns the EP2ISOINPKTS value.
func (e EndpointConfig) ISOInPackets() uint8 {
	v := e.Packets
	if e.AutoAdjust {
		v |= isoAutoAdjust
	}
	return v
}

// Endpoints returns the endpoint programming for the current configuration.
func (s *Scope) Endpoints() EndpointConfig {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.endpoints()
}

func (s *Scope) endpoints() EndpointConfig {
	speed := s.speed()
	alt := s.config.Alt
	ep := EndpointConfig{
		Alt:   alt,
		Speed: speed,
	}
	ep.Address, ep.MaxPacketSize = s.streamEndpoint(alt, speed)
	if alt == 0 {
		ep.BufferLength = ep.MaxPacketSize
		return ep
	}
	ep.BufferLength = device.PacketBytes(ep.MaxPacketSize)
	ep.Packets = device.PacketTransactions(ep.MaxPacketSize)
	ep.AutoAdjust = s.config.AutoAdjust()
	return ep
}

// speed returns the link speed of the attached device, or high speed when
// none is attached.
func (s *Scope) speed() device.Speed {
	if s.dev == nil {
		return device.SpeedHigh
	}
	return s.dev.Speed()
}

// streamEndpoint returns the IN endpoint of alternate alt and its packet
// size at speed, from the interface descriptors when a driver interface is
// bound and from the built-in descriptors otherwise.
func (s *Scope) streamEndpoint(alt uint8, speed device.Speed) (uint8, uint16) {
	if s.iface != nil {
		if a := s.iface.Alternate(alt); a != nil {
			if in := a.FirstIn(); in != nil {
				return in.Address, in.MaxPacketSizeAt(speed)
			}
		}
	}
	if alt == 0 {
		if speed == device.SpeedHigh {
			return BulkEndpoint, BulkPacketSizeHS
		}
		return BulkEndpoint, BulkPacketSizeFS
	}
	if speed == device.SpeedHigh {
		return IsoEndpoint, IsoPacketSizeHS
	}
	return IsoEndpoint, IsoPacketSizeFS
}

// SelectInterface stops acquisition and switches transport: alternate 0
// streams over the bulk endpoint, any other alternate over the isochronous
// one. It cannot fail.
func (s *Scope) SelectInterface(alt uint8) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.stop()
	s.indicate(LEDRed, ConfigureBlink)
	s.selectInterface(alt)
}

func (s *Scope) selectInterface(alt uint8) {
	s.config.Alt = alt
	s.applyEndpoints()

	pkg.LogDebug(pkg.ComponentScope, "interface selected",
		"alternate", alt,
		"bulk", s.config.Bulk())
}

// applyEndpoints programs the streaming endpoints from the whole
// configuration.
func (s *Scope) applyEndpoints() {
	ep := s.endpoints()
	if ep.Alt == 0 {
		fx2.WriteSync(s.bus, fx2.EP2CFG, epcfgDisabled)
		fx2.WriteSync(s.bus, fx2.EP6CFG, epcfgBulkIn)
		fx2.WriteSync(s.bus, fx2.EP6GPIFFLGSEL, gpifFlagFull)
		fx2.WriteSync(s.bus, fx2.EP6AUTOINLENH, uint8(ep.BufferLength>>8))
		fx2.WriteSync(s.bus, fx2.EP6AUTOINLENL, uint8(ep.BufferLength))
	} else {
		fx2.WriteSync(s.bus, fx2.EP2CFG, epcfgIsoIn)
		fx2.WriteSync(s.bus, fx2.EP6CFG, epcfgDisabled)
		fx2.WriteSync(s.bus, fx2.EP2GPIFFLGSEL, gpifFlagFull)
		fx2.WriteSync(s.bus, fx2.EP2AUTOINLENH, uint8(ep.BufferLength>>8))
		fx2.WriteSync(s.bus, fx2.EP2AUTOINLENL, uint8(ep.BufferLength))
		fx2.WriteSync(s.bus, fx2.EP2ISOINPKTS, ep.ISOInPackets())
	}

	pkg.LogDebug(pkg.ComponentScope, "endpoints configured",
		"alternate", ep.Alt,
		"speed", ep.Speed,
		"length", ep.BufferLength,
		"packets", ep.Packets,
		"autoAdjust", ep.AutoAdjust)
}

// Init implements device.ClassDriver. The scope takes its packet sizes from
// iface from now on.
func (s *Scope) Init(iface *device.Interface) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.iface = iface
	return nil
}

// HandleSetup implements device.ClassDriver. The interface has no class
// requests.
func (s *Scope) HandleSetup(iface *device.Interface, setup *device.SetupPacket, data []byte) (bool, error) {
	return false, nil
}

// SetAlternate implements device.ClassDriver.
func (s *Scope) SetAlternate(iface *device.Interface, alt uint8) error {
	s.SelectInterface(alt)
	return nil
}

// Close implements device.ClassDriver.
func (s *Scope) Close() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.iface = nil
	return nil
}
