package main

import (
	"context"
	"fmt"
	"time"

	"github.com/gotmc/libusb"

	"github.com/ardnew/scopefw/pkg"
	"github.com/ardnew/scopefw/scope"
)

// usbTransport talks to an oscilloscope on a real USB bus through libusb.
type usbTransport struct {
	ctx     *libusb.Context
	dev     *libusb.Device
	handle  *libusb.DeviceHandle
	timeout int // milliseconds
}

func openUSB(vendorID, productID uint16, timeout time.Duration) (*usbTransport, error) {
	ctx, err := libusb.NewContext()
	if err != nil {
		return nil, fmt.Errorf("libusb context: %w", err)
	}
	dev, handle, err := ctx.OpenDeviceWithVendorProduct(vendorID, productID)
	if err != nil {
		ctx.Close()
		return nil, fmt.Errorf("open %04X:%04X: %w", vendorID, productID, err)
	}
	if err := handle.ClaimInterface(scope.InterfaceNumber); err != nil {
		handle.Close()
		ctx.Close()
		return nil, fmt.Errorf("claim interface %d: %w", scope.InterfaceNumber, err)
	}

	desc, err := dev.GetDeviceDescriptor()
	if err == nil {
		pkg.LogDebug(pkg.ComponentHost, "device opened",
			"vendor", fmt.Sprintf("0x%04X", desc.VendorID),
			"product", fmt.Sprintf("0x%04X", desc.ProductID))
	}

	return &usbTransport{
		ctx:     ctx,
		dev:     dev,
		handle:  handle,
		timeout: int(timeout / time.Millisecond),
	}, nil
}

func (t *usbTransport) Send(ctx context.Context, r scope.Request) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	requestType := libusb.BitmapRequestType(
		libusb.HostToDevice, libusb.Vendor, libusb.DeviceRecipient)
	data := []byte{r.Value}
	if _, err := t.handle.ControlTransfer(
		requestType, r.Code, 0x0, 0x0, data, len(data), t.timeout); err != nil {
		return fmt.Errorf("%s: %w", r, err)
	}
	return nil
}

func (t *usbTransport) SetInterface(ctx context.Context, alt uint8) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return t.handle.SetInterfaceAltSetting(scope.InterfaceNumber, int(alt))
}

func (t *usbTransport) Close() error {
	err := t.handle.ReleaseInterface(scope.InterfaceNumber)
	t.handle.Close()
	t.ctx.Close()
	return err
}
