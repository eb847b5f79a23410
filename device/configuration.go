package device

import (
	"sync"

	"github.com/ardnew/scopefw/pkg"
)

// Configuration represents a USB device configuration.
type Configuration struct {
	Value       uint8 // bConfigurationValue
	Attributes  uint8
	MaxPower    uint8 // 2mA units
	StringIndex uint8

	interfaces     [MaxInterfacesPerConfiguration]*Interface
	interfaceCount int
	mutex          sync.RWMutex
}

// NewConfiguration creates a bus-powered configuration drawing 100mA.
func NewConfiguration(value uint8) *Configuration {
	return &Configuration{
		Value:      value,
		Attributes: ConfigAttrBusPowered,
		MaxPower:   50,
	}
}

// AddInterface adds an interface to the configuration.
func (c *Configuration) AddInterface(iface *Interface) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.interfaceCount >= MaxInterfacesPerConfiguration {
		return pkg.ErrNoMemory
	}
	for _, other := range c.interfaces[:c.interfaceCount] {
		if other.Number == iface.Number {
			return pkg.ErrBusy
		}
	}
	c.interfaces[c.interfaceCount] = iface
	c.interfaceCount++

	pkg.LogDebug(pkg.ComponentDevice, "interface added to configuration",
		"config", c.Value,
		"interface", iface.Number)
	return nil
}

// GetInterface returns the interface with the given number, or nil.
func (c *Configuration) GetInterface(number uint8) *Interface {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	for _, iface := range c.interfaces[:c.interfaceCount] {
		if iface.Number == number {
			return iface
		}
	}
	return nil
}

// Interfaces returns all interfaces in the configuration.
// The returned slice references internal storage; do not modify.
func (c *Configuration) Interfaces() []*Interface {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return c.interfaces[:c.interfaceCount]
}

// NumInterfaces returns the number of interfaces.
func (c *Configuration) NumInterfaces() int {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return c.interfaceCount
}

// Descriptor returns the configuration header. descType selects between a
// CONFIGURATION and an OTHER_SPEED_CONFIGURATION header.
func (c *Configuration) Descriptor(descType uint8) *ConfigurationDescriptor {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	total := ConfigurationDescriptorSize
	for _, iface := range c.interfaces[:c.interfaceCount] {
		total += iface.descriptorLength()
	}
	return &ConfigurationDescriptor{
		Length:             ConfigurationDescriptorSize,
		DescriptorType:     descType,
		TotalLength:        uint16(total),
		NumInterfaces:      uint8(c.interfaceCount),
		ConfigurationValue: c.Value,
		ConfigurationIndex: c.StringIndex,
		Attributes:         c.Attributes,
		MaxPower:           c.MaxPower,
	}
}

// MarshalTo writes the full descriptor set of the configuration as reported
// at speed: the header followed by every interface, alternate setting and
// endpoint. Returns the number of bytes written, or 0 if buf is too small.
func (c *Configuration) MarshalTo(buf []byte, speed Speed) int {
	return c.marshalTo(buf, DescriptorTypeConfiguration, speed)
}

// MarshalOtherSpeedTo writes the OTHER_SPEED_CONFIGURATION descriptor set for
// a device currently operating at speed.
func (c *Configuration) MarshalOtherSpeedTo(buf []byte, speed Speed) int {
	return c.marshalTo(buf, DescriptorTypeOtherSpeedConfig, speed.Other())
}

func (c *Configuration) marshalTo(buf []byte, descType uint8, speed Speed) int {
	offset := c.Descriptor(descType).MarshalTo(buf)
	if offset == 0 {
		return 0
	}
	for _, iface := range c.Interfaces() {
		n := iface.marshalTo(buf[offset:], speed)
		if n == 0 && iface.descriptorLength() > 0 {
			return 0
		}
		offset += n
	}
	return offset
}

// resetAlternates selects alternate setting 0 on every interface.
func (c *Configuration) resetAlternates() {
	for _, iface := range c.Interfaces() {
		iface.resetAlternate()
	}
}

// SetSelfPowered sets or clears the self-powered attribute.
func (c *Configuration) SetSelfPowered(selfPowered bool) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if selfPowered {
		c.Attributes |= ConfigAttrSelfPowered
	} else {
		c.Attributes &^= ConfigAttrSelfPowered
	}
}

// IsSelfPowered returns true if the configuration is self-powered.
func (c *Configuration) IsSelfPowered() bool {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return c.Attributes&ConfigAttrSelfPowered != 0
}

// Close releases resources held by the configuration.
func (c *Configuration) Close() error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	var lastErr error
	for idx := 0; idx < c.interfaceCount; idx++ {
		if err := c.interfaces[idx].Close(); err != nil {
			lastErr = err
		}
		c.interfaces[idx] = nil
	}
	c.interfaceCount = 0
	return lastErr
}
