package device

import (
	"sync"

	"github.com/ardnew/scopefw/pkg"
)

// Device represents a USB device.
type Device struct {
	Descriptor *DeviceDescriptor

	configurations     [MaxConfigurations]*Configuration
	configurationCount int
	activeConfig       *Configuration

	// Pre-encoded string descriptors; index 0 holds the language IDs.
	strings [MaxStrings][]byte

	state         State
	previousState State // State before suspend
	address       uint8
	speed         Speed

	ep0 *Endpoint

	remoteWakeupEnabled bool

	vendor VendorHandler

	mutex sync.RWMutex

	onStateChange      func(old, new State)
	onSuspend          func()
	onResume           func()
	onReset            func()
	onSetConfiguration func(config uint8)
}

// NewDevice creates a new USB device.
func NewDevice(desc *DeviceDescriptor) *Device {
	return &Device{
		Descriptor: desc,
		state:      StateAttached,
		speed:      SpeedFull,
		ep0: &Endpoint{
			Address:       0x00,
			Attributes:    EndpointTypeControl,
			MaxPacketSize: uint16(desc.MaxPacketSize0),
		},
	}
}

// AddConfiguration adds a configuration to the device.
func (d *Device) AddConfiguration(config *Configuration) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	if d.configurationCount >= MaxConfigurations {
		return pkg.ErrNoMemory
	}
	for _, other := range d.configurations[:d.configurationCount] {
		if other.Value == config.Value {
			return pkg.ErrBusy
		}
	}
	d.configurations[d.configurationCount] = config
	d.configurationCount++

	pkg.LogDebug(pkg.ComponentDevice, "configuration added",
		"value", config.Value)
	return nil
}

// GetConfiguration returns the configuration with the given value.
func (d *Device) GetConfiguration(value uint8) *Configuration {
	d.mutex.RLock()
	defer d.mutex.RUnlock()
	return d.configuration(value)
}

func (d *Device) configuration(value uint8) *Configuration {
	for _, config := range d.configurations[:d.configurationCount] {
		if config.Value == value {
			return config
		}
	}
	return nil
}

// ConfigurationAt returns the configuration at descriptor index idx, as
// addressed by GET_DESCRIPTOR.
func (d *Device) ConfigurationAt(idx uint8) *Configuration {
	d.mutex.RLock()
	defer d.mutex.RUnlock()
	if int(idx) >= d.configurationCount {
		return nil
	}
	return d.configurations[idx]
}

// ActiveConfiguration returns the currently active configuration.
func (d *Device) ActiveConfiguration() *Configuration {
	d.mutex.RLock()
	defer d.mutex.RUnlock()
	return d.activeConfig
}

// SetString stores a pre-encoded string descriptor by reference.
func (d *Device) SetString(index uint8, data []byte) {
	if index >= MaxStrings {
		return
	}
	d.mutex.Lock()
	defer d.mutex.Unlock()
	d.strings[index] = data
}

// SetStringFrom encodes s as a string descriptor into buf and stores it at
// index. Returns the number of bytes written.
func (d *Device) SetStringFrom(index uint8, buf []byte, s string) int {
	if index >= MaxStrings {
		return 0
	}
	n := StringDescriptorTo(buf, s)
	if n > 0 {
		d.SetString(index, buf[:n])
	}
	return n
}

// SetLanguagesFrom encodes langIDs as string descriptor zero into buf.
func (d *Device) SetLanguagesFrom(buf []byte, langIDs ...uint16) int {
	n := LanguageDescriptorTo(buf, langIDs...)
	if n > 0 {
		d.SetString(0, buf[:n])
	}
	return n
}

// GetString returns a string descriptor by index.
func (d *Device) GetString(index uint8) []byte {
	if index >= MaxStrings {
		return nil
	}
	d.mutex.RLock()
	defer d.mutex.RUnlock()
	return d.strings[index]
}

// State returns the current device state.
func (d *Device) State() State {
	d.mutex.RLock()
	defer d.mutex.RUnlock()
	return d.state
}

// setState changes the device state and triggers the callback.
func (d *Device) setState(newState State) {
	d.mutex.Lock()
	oldState := d.state
	d.state = newState
	callback := d.onStateChange
	d.mutex.Unlock()

	if oldState != newState {
		pkg.LogDebug(pkg.ComponentDevice, "device state changed",
			"from", oldState.String(),
			"to", newState.String())
		if callback != nil {
			callback(oldState, newState)
		}
	}
}

// Address returns the device address.
func (d *Device) Address() uint8 {
	d.mutex.RLock()
	defer d.mutex.RUnlock()
	return d.address
}

// Speed returns the link speed last reported by the controller.
func (d *Device) Speed() Speed {
	d.mutex.RLock()
	defer d.mutex.RUnlock()
	return d.speed
}

// SetSpeed records the link speed.
func (d *Device) SetSpeed(speed Speed) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	d.speed = speed
}

// ControlEndpoint returns the control endpoint (EP0).
func (d *Device) ControlEndpoint() *Endpoint {
	return d.ep0
}

// IsConfigured returns true if the device is configured.
func (d *Device) IsConfigured() bool {
	return d.State() == StateConfigured
}

// IsSuspended returns true if the device is suspended.
func (d *Device) IsSuspended() bool {
	return d.State() == StateSuspended
}

// Reset handles a bus reset.
func (d *Device) Reset() {
	d.mutex.Lock()
	d.address = 0
	config := d.activeConfig
	d.activeConfig = nil
	d.remoteWakeupEnabled = false
	callback := d.onReset
	d.mutex.Unlock()

	if config != nil {
		config.resetAlternates()
	}
	d.setState(StateDefault)

	if callback != nil {
		callback()
	}
	pkg.LogDebug(pkg.ComponentDevice, "device reset")
}

// SetAddress handles SET_ADDRESS.
func (d *Device) SetAddress(address uint8) error {
	d.mutex.Lock()
	if d.state != StateDefault && d.state != StateAddress {
		d.mutex.Unlock()
		return pkg.ErrInvalidState
	}
	d.address = address
	d.mutex.Unlock()

	if address == 0 {
		d.setState(StateDefault)
	} else {
		d.setState(StateAddress)
	}
	pkg.LogDebug(pkg.ComponentDevice, "device address set",
		"address", address)
	return nil
}

// SetConfiguration handles SET_CONFIGURATION. The Default state is accepted
// as well as Address: controllers that assign the address in hardware never
// report SET_ADDRESS to the stack.
func (d *Device) SetConfiguration(value uint8) error {
	d.mutex.Lock()
	switch d.state {
	case StateDefault, StateAddress, StateConfigured:
	default:
		d.mutex.Unlock()
		return pkg.ErrInvalidState
	}

	if value == 0 {
		d.activeConfig = nil
		d.mutex.Unlock()
		d.setState(StateAddress)
		return nil
	}

	config := d.configuration(value)
	if config == nil {
		d.mutex.Unlock()
		return pkg.ErrInvalidRequest
	}
	d.activeConfig = config
	callback := d.onSetConfiguration
	d.mutex.Unlock()

	config.resetAlternates()
	d.setState(StateConfigured)

	if callback != nil {
		callback(value)
	}
	pkg.LogDebug(pkg.ComponentDevice, "device configured",
		"configuration", value)
	return nil
}

// Suspend handles USB suspend.
func (d *Device) Suspend() {
	d.mutex.Lock()
	if d.state == StateSuspended {
		d.mutex.Unlock()
		return
	}
	d.previousState = d.state
	callback := d.onSuspend
	d.mutex.Unlock()

	d.setState(StateSuspended)

	if callback != nil {
		callback()
	}
	pkg.LogDebug(pkg.ComponentDevice, "device suspended")
}

// Resume handles USB resume, restoring the state held before suspend.
func (d *Device) Resume() {
	d.mutex.Lock()
	if d.state != StateSuspended {
		d.mutex.Unlock()
		return
	}
	previousState := d.previousState
	callback := d.onResume
	d.mutex.Unlock()

	if previousState != StateAttached && previousState != StatePowered {
		d.setState(previousState)
	} else {
		d.setState(StateDefault)
	}

	if callback != nil {
		callback()
	}
	pkg.LogDebug(pkg.ComponentDevice, "device resumed")
}

// EnableRemoteWakeup enables remote wakeup capability.
func (d *Device) EnableRemoteWakeup(enabled bool) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	d.remoteWakeupEnabled = enabled
}

// IsRemoteWakeupEnabled returns true if remote wakeup is enabled.
func (d *Device) IsRemoteWakeupEnabled() bool {
	d.mutex.RLock()
	defer d.mutex.RUnlock()
	return d.remoteWakeupEnabled
}

// GetInterface returns an interface from the active configuration.
func (d *Device) GetInterface(number uint8) *Interface {
	config := d.ActiveConfiguration()
	if config == nil {
		return nil
	}
	return config.GetInterface(number)
}

// GetEndpoint returns an endpoint of the selected alternate settings of the
// active configuration.
func (d *Device) GetEndpoint(address uint8) *Endpoint {
	if address&0x0F == 0 {
		return d.ep0
	}
	config := d.ActiveConfiguration()
	if config == nil {
		return nil
	}
	for _, iface := range config.Interfaces() {
		if ep := iface.GetEndpoint(address); ep != nil {
			return ep
		}
	}
	return nil
}

// SetVendorHandler installs the handler for vendor-specific requests.
func (d *Device) SetVendorHandler(h VendorHandler) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	d.vendor = h
}

// VendorHandler returns the installed vendor request handler.
func (d *Device) VendorHandler() VendorHandler {
	d.mutex.RLock()
	defer d.mutex.RUnlock()
	return d.vendor
}

// SetOnStateChange sets the state change callback.
func (d *Device) SetOnStateChange(cb func(old, new State)) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	d.onStateChange = cb
}

// SetOnSuspend sets the suspend callback.
func (d *Device) SetOnSuspend(cb func()) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	d.onSuspend = cb
}

// SetOnResume sets the resume callback.
func (d *Device) SetOnResume(cb func()) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	d.onResume = cb
}

// SetOnReset sets the reset callback.
func (d *Device) SetOnReset(cb func()) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	d.onReset = cb
}

// SetOnSetConfiguration sets the set configuration callback.
func (d *Device) SetOnSetConfiguration(cb func(config uint8)) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	d.onSetConfiguration = cb
}

// Close releases resources held by the device.
func (d *Device) Close() error {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	var lastErr error
	for idx := 0; idx < d.configurationCount; idx++ {
		if err := d.configurations[idx].Close(); err != nil {
			lastErr = err
		}
		d.configurations[idx] = nil
	}
	d.configurationCount = 0
	d.activeConfig = nil
	return lastErr
}

// DeviceStatus represents the GET_STATUS device bits.
type DeviceStatus uint16

// Device status bits.
const (
	DeviceStatusSelfPowered  DeviceStatus = 1 << 0
	DeviceStatusRemoteWakeup DeviceStatus = 1 << 1
)

// GetStatus returns the device status.
func (d *Device) GetStatus() DeviceStatus {
	d.mutex.RLock()
	defer d.mutex.RUnlock()

	var status DeviceStatus
	if d.activeConfig != nil && d.activeConfig.IsSelfPowered() {
		status |= DeviceStatusSelfPowered
	}
	if d.remoteWakeupEnabled {
		status |= DeviceStatusRemoteWakeup
	}
	return status
}

// DeviceBuilder provides a fluent API for building devices.
type DeviceBuilder struct {
	device *Device
	config *Configuration
	iface  *Interface
	alt    *AlternateSetting
	errors []error

	stringBufs [MaxStrings][256]byte
}

// NewDeviceBuilder creates a new device builder.
func NewDeviceBuilder() *DeviceBuilder {
	return &DeviceBuilder{}
}

func (b *DeviceBuilder) fail(err error) *DeviceBuilder {
	b.errors = append(b.errors, err)
	return b
}

// WithVendorProduct sets vendor and product IDs, creating a USB 2.0 device
// descriptor if none was given.
func (b *DeviceBuilder) WithVendorProduct(vendorID, productID uint16) *DeviceBuilder {
	if b.device == nil {
		b.device = NewDevice(&DeviceDescriptor{
			Length:         DeviceDescriptorSize,
			DescriptorType: DescriptorTypeDevice,
			USBVersion:     0x0200,
			MaxPacketSize0: 64,
		})
	}
	b.device.Descriptor.VendorID = vendorID
	b.device.Descriptor.ProductID = productID
	return b
}

// WithDeviceClass sets the device class triple.
func (b *DeviceBuilder) WithDeviceClass(class, subClass, protocol uint8) *DeviceBuilder {
	if b.device == nil {
		return b.fail(pkg.ErrInvalidState)
	}
	b.device.Descriptor.DeviceClass = class
	b.device.Descriptor.DeviceSubClass = subClass
	b.device.Descriptor.DeviceProtocol = protocol
	return b
}

// WithStrings sets the manufacturer, product, and serial strings.
func (b *DeviceBuilder) WithStrings(manufacturer, product, serial string) *DeviceBuilder {
	if b.device == nil {
		return b.fail(pkg.ErrInvalidState)
	}
	b.device.SetLanguagesFrom(b.stringBufs[0][:], LangIDUSEnglish)
	if manufacturer != "" {
		b.device.Descriptor.ManufacturerIndex = 1
		b.device.SetStringFrom(1, b.stringBufs[1][:], manufacturer)
	}
	if product != "" {
		b.device.Descriptor.ProductIndex = 2
		b.device.SetStringFrom(2, b.stringBufs[2][:], product)
	}
	if serial != "" {
		b.device.Descriptor.SerialNumberIndex = 3
		b.device.SetStringFrom(3, b.stringBufs[3][:], serial)
	}
	return b
}

// AddConfiguration adds a new configuration.
func (b *DeviceBuilder) AddConfiguration(value uint8) *DeviceBuilder {
	if b.device == nil {
		return b.fail(pkg.ErrInvalidState)
	}
	b.config = NewConfiguration(value)
	if err := b.device.AddConfiguration(b.config); err != nil {
		return b.fail(err)
	}
	b.device.Descriptor.NumConfigurations++
	return b
}

// AddInterface adds a new interface, with alternate setting 0 using the
// given class codes, to the current configuration.
func (b *DeviceBuilder) AddInterface(class, subClass, protocol uint8) *DeviceBuilder {
	if b.config == nil {
		return b.fail(pkg.ErrInvalidState)
	}
	b.iface = NewInterface(&InterfaceDescriptor{
		InterfaceNumber:   uint8(b.config.NumInterfaces()),
		InterfaceClass:    class,
		InterfaceSubClass: subClass,
		InterfaceProtocol: protocol,
	})
	b.alt = b.iface.Alternate(0)
	if err := b.config.AddInterface(b.iface); err != nil {
		return b.fail(err)
	}
	return b
}

// AddAlternate adds the next alternate setting to the current interface.
// Subsequent endpoints belong to it.
func (b *DeviceBuilder) AddAlternate(class, subClass, protocol uint8) *DeviceBuilder {
	if b.iface == nil {
		return b.fail(pkg.ErrInvalidState)
	}
	alt, err := b.iface.AddAlternate(&InterfaceDescriptor{
		InterfaceNumber:   b.iface.Number,
		AlternateSetting:  uint8(len(b.iface.Alternates())),
		InterfaceClass:    class,
		InterfaceSubClass: subClass,
		InterfaceProtocol: protocol,
	})
	if err != nil {
		return b.fail(err)
	}
	b.alt = alt
	return b
}

// AddEndpoint adds an endpoint to the current alternate setting. A non-zero
// fullSpeed gives the wMaxPacketSize reported at full speed.
func (b *DeviceBuilder) AddEndpoint(address, attributes uint8, highSpeed, fullSpeed uint16, interval uint8) *DeviceBuilder {
	if b.alt == nil {
		return b.fail(pkg.ErrInvalidState)
	}
	ep := &Endpoint{
		Address:                address,
		Attributes:             attributes,
		MaxPacketSize:          highSpeed,
		FullSpeedMaxPacketSize: fullSpeed,
		Interval:               interval,
	}
	if err := b.alt.AddEndpoint(ep); err != nil {
		return b.fail(err)
	}
	return b
}

// Build returns the constructed device.
func (b *DeviceBuilder) Build() (*Device, error) {
	if len(b.errors) > 0 {
		return nil, b.errors[0]
	}
	if b.device == nil {
		return nil, pkg.ErrInvalidState
	}
	return b.device, nil
}
