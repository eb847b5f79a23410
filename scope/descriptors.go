package scope

import "github.com/ardnew/scopefw/device"

// USB identity.
const (
	VendorID     = 0x04B5
	ProductID    = 0x6022
	Manufacturer = "Hantek"
	Product      = "DSO-6022BE"
)

// Streaming endpoints of interface 0.
const (
	BulkEndpoint = 0x86 // alternate 0
	IsoEndpoint  = 0x82 // alternate 1
)

// wMaxPacketSize of the streaming endpoints. The high speed isochronous
// endpoint moves three 1024-byte transactions per microframe.
const (
	BulkPacketSizeHS uint16 = 512
	BulkPacketSizeFS uint16 = 64
	IsoPacketSizeHS  uint16 = 2<<device.PacketTransactionShift | 1024
	IsoPacketSizeFS  uint16 = 1023
)

// Interface number of the acquisition interface.
const InterfaceNumber = 0

// NewDevice builds the oscilloscope's device: one configuration with a
// vendor interface whose alternate 0 streams over bulk and alternate 1 over
// isochronous transfers.
func NewDevice() (*device.Device, error) {
	return device.NewDeviceBuilder().
		WithVendorProduct(VendorID, ProductID).
		WithDeviceClass(device.ClassVendor, device.ClassVendor, device.ClassVendor).
		WithStrings(Manufacturer, Product, "").
		AddConfiguration(1).
		AddInterface(device.ClassVendor, 0, 0).
		AddEndpoint(BulkEndpoint, device.EndpointTypeBulk, BulkPacketSizeHS, BulkPacketSizeFS, 0).
		AddAlternate(device.ClassVendor, 0, 0).
		AddEndpoint(IsoEndpoint, device.EndpointTypeIsochronous|device.IsoSyncAsync, IsoPacketSizeHS, IsoPacketSizeFS, 1).
		Build()
}
