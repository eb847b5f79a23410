package device

import (
	"sync"

	"github.com/ardnew/scopefw/pkg"
)

// AlternateSetting is one variant of an interface: its class codes and the
// endpoints that exist while it is selected.
type AlternateSetting struct {
	Value       uint8
	Class       uint8
	SubClass    uint8
	Protocol    uint8
	StringIndex uint8

	endpoints     [MaxEndpointsPerInterface]*Endpoint
	endpointCount int
}

// AddEndpoint adds an endpoint to the alternate setting.
func (a *AlternateSetting) AddEndpoint(ep *Endpoint) error {
	if a.endpointCount >= MaxEndpointsPerInterface {
		return pkg.ErrNoMemory
	}
	for _, other := range a.Endpoints() {
		if other.Address == ep.Address {
			return pkg.ErrBusy
		}
	}
	a.endpoints[a.endpointCount] = ep
	a.endpointCount++

	pkg.LogDebug(pkg.ComponentDevice, "endpoint added",
		"alternate", a.Value,
		"endpoint", ep.Address,
		"type", TransferTypeName(ep.TransferType()),
		"direction", DirectionName(ep.Direction()))
	return nil
}

// Endpoints returns the endpoints of the alternate setting.
// The returned slice references internal storage; do not modify.
func (a *AlternateSetting) Endpoints() []*Endpoint {
	return a.endpoints[:a.endpointCount]
}

// GetEndpoint returns the endpoint with the given address, or nil.
func (a *AlternateSetting) GetEndpoint(address uint8) *Endpoint {
	for _, ep := range a.Endpoints() {
		if ep.Address == address {
			return ep
		}
	}
	return nil
}

// FirstIn returns the first IN endpoint of the alternate setting, or nil.
func (a *AlternateSetting) FirstIn() *Endpoint {
	for _, ep := range a.Endpoints() {
		if ep.IsIn() {
			return ep
		}
	}
	return nil
}

// descriptor returns the interface descriptor for this alternate setting.
func (a *AlternateSetting) descriptor(number uint8) *InterfaceDescriptor {
	return &InterfaceDescriptor{
		Length:            InterfaceDescriptorSize,
		DescriptorType:    DescriptorTypeInterface,
		InterfaceNumber:   number,
		AlternateSetting:  a.Value,
		NumEndpoints:      uint8(a.endpointCount),
		InterfaceClass:    a.Class,
		InterfaceSubClass: a.SubClass,
		InterfaceProtocol: a.Protocol,
		InterfaceIndex:    a.StringIndex,
	}
}

// Interface represents a USB interface within a configuration.
type Interface struct {
	Number uint8

	alternates     [MaxAlternateSettings]*AlternateSetting
	alternateCount int
	current        uint8
	mutex          sync.RWMutex

	classDriver ClassDriver
}

// ClassDriver defines the interface for USB class-specific handling.
type ClassDriver interface {
	// Init initializes the class driver for the interface.
	Init(iface *Interface) error

	// HandleSetup processes class-specific SETUP requests.
	// Returns true if the request was handled, false otherwise.
	HandleSetup(iface *Interface, setup *SetupPacket, data []byte) (bool, error)

	// SetAlternate is called after the host selects alternate setting alt.
	SetAlternate(iface *Interface, alt uint8) error

	// Close releases any resources held by the class driver.
	Close() error
}

// NewInterface creates an interface with alternate setting 0 described by desc.
func NewInterface(desc *InterfaceDescriptor) *Interface {
	i := &Interface{Number: desc.InterfaceNumber}
	i.AddAlternate(desc)
	return i
}

// AddAlternate adds the alternate setting described by desc and returns it.
func (i *Interface) AddAlternate(desc *InterfaceDescriptor) (*AlternateSetting, error) {
	i.mutex.Lock()
	defer i.mutex.Unlock()

	if i.alternateCount >= MaxAlternateSettings {
		return nil, pkg.ErrNoMemory
	}
	for _, a := range i.alternates[:i.alternateCount] {
		if a.Value == desc.AlternateSetting {
			return nil, pkg.ErrBusy
		}
	}
	alt := &AlternateSetting{
		Value:       desc.AlternateSetting,
		Class:       desc.InterfaceClass,
		SubClass:    desc.InterfaceSubClass,
		Protocol:    desc.InterfaceProtocol,
		StringIndex: desc.InterfaceIndex,
	}
	i.alternates[i.alternateCount] = alt
	i.alternateCount++
	return alt, nil
}

// Alternate returns the alternate setting with the given value, or nil.
func (i *Interface) Alternate(value uint8) *AlternateSetting {
	i.mutex.RLock()
	defer i.mutex.RUnlock()
	return i.alternate(value)
}

func (i *Interface) alternate(value uint8) *AlternateSetting {
	for _, a := range i.alternates[:i.alternateCount] {
		if a.Value == value {
			return a
		}
	}
	return nil
}

// Alternates returns every alternate setting in declaration order.
// The returned slice references internal storage; do not modify.
func (i *Interface) Alternates() []*AlternateSetting {
	i.mutex.RLock()
	defer i.mutex.RUnlock()
	return i.alternates[:i.alternateCount]
}

// AlternateSetting returns the value of the selected alternate setting.
func (i *Interface) AlternateSetting() uint8 {
	i.mutex.RLock()
	defer i.mutex.RUnlock()
	return i.current
}

// Current returns the selected alternate setting.
func (i *Interface) Current() *AlternateSetting {
	i.mutex.RLock()
	defer i.mutex.RUnlock()
	return i.alternate(i.current)
}

// GetEndpoint returns an endpoint of the selected alternate setting.
func (i *Interface) GetEndpoint(address uint8) *Endpoint {
	if alt := i.Current(); alt != nil {
		return alt.GetEndpoint(address)
	}
	return nil
}

// SetAlternate selects alternate setting alt and notifies the class driver.
// Unknown alternates are rejected with ErrInvalidRequest.
func (i *Interface) SetAlternate(alt uint8) error {
	i.mutex.Lock()
	if i.alternate(alt) == nil {
		i.mutex.Unlock()
		return pkg.ErrInvalidRequest
	}
	i.current = alt
	driver := i.classDriver
	i.mutex.Unlock()

	pkg.LogDebug(pkg.ComponentDevice, "alternate setting selected",
		"interface", i.Number,
		"alternate", alt)

	if driver != nil {
		return driver.SetAlternate(i, alt)
	}
	return nil
}

// resetAlternate returns to alternate setting 0 without notifying the class
// driver, as after SET_CONFIGURATION or a bus reset.
func (i *Interface) resetAlternate() {
	i.mutex.Lock()
	defer i.mutex.Unlock()
	i.current = 0
}

// SetClassDriver sets the class driver for this interface.
func (i *Interface) SetClassDriver(driver ClassDriver) error {
	i.mutex.Lock()
	oldDriver := i.classDriver
	i.classDriver = driver
	i.mutex.Unlock()

	if oldDriver != nil {
		if err := oldDriver.Close(); err != nil {
			pkg.LogWarn(pkg.ComponentDevice, "error closing previous class driver",
				"error", err)
		}
	}

	// Init runs outside the lock; drivers may call back into the interface.
	if driver != nil {
		return driver.Init(i)
	}
	return nil
}

// ClassDriver returns the current class driver.
func (i *Interface) ClassDriver() ClassDriver {
	i.mutex.RLock()
	defer i.mutex.RUnlock()
	return i.classDriver
}

// HandleSetup processes a class-specific SETUP request.
func (i *Interface) HandleSetup(setup *SetupPacket, data []byte) (bool, error) {
	driver := i.ClassDriver()
	if driver == nil {
		return false, nil
	}
	return driver.HandleSetup(i, setup, data)
}

// descriptorLength returns the size of the interface's descriptors: one
// interface descriptor per alternate setting plus its endpoints.
func (i *Interface) descriptorLength() int {
	n := 0
	for _, a := range i.Alternates() {
		n += InterfaceDescriptorSize + a.endpointCount*EndpointDescriptorSize
	}
	return n
}

// marshalTo writes every alternate setting and its endpoints, with packet
// sizes as reported at speed.
func (i *Interface) marshalTo(buf []byte, speed Speed) int {
	offset := 0
	for _, a := range i.Alternates() {
		n := a.descriptor(i.Number).MarshalTo(buf[offset:])
		if n == 0 {
			return 0
		}
		offset += n
		for _, ep := range a.Endpoints() {
			n = ep.Descriptor(speed).MarshalTo(buf[offset:])
			if n == 0 {
				return 0
			}
			offset += n
		}
	}
	return offset
}

// Close releases resources held by the interface.
func (i *Interface) Close() error {
	i.mutex.Lock()
	driver := i.classDriver
	i.classDriver = nil
	i.mutex.Unlock()

	if driver != nil {
		return driver.Close()
	}
	return nil
}
