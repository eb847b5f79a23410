package main

import (
	"context"
	"fmt"
	"time"

	"github.com/ardnew/scopefw/device"
	"github.com/ardnew/scopefw/device/hal"
	"github.com/ardnew/scopefw/device/hal/fifo"
	"github.com/ardnew/scopefw/pkg"
	"github.com/ardnew/scopefw/scope"
)

// transport carries requests to an oscilloscope.
type transport interface {
	// Send performs a vendor request.
	Send(ctx context.Context, r scope.Request) error

	// SetInterface selects an alternate setting of the acquisition
	// interface.
	SetInterface(ctx context.Context, alt uint8) error

	Close() error
}

// fifoTransport talks to a simulated device on a FIFO bus directory.
type fifoTransport struct {
	host *fifo.Host
}

// openFIFO connects to the first device on busDir and enumerates it: bus
// reset at speed, SET_ADDRESS and SET_CONFIGURATION.
func openFIFO(ctx context.Context, busDir string, speed hal.Speed, timeout time.Duration) (*fifoTransport, error) {
	host := fifo.NewHost(busDir)
	host.SetTimeout(timeout)
	if err := host.Start(ctx); err != nil {
		return nil, fmt.Errorf("start host: %w", err)
	}
	t := &fifoTransport{host: host}

	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	dir, err := host.WaitForDevice(waitCtx)
	if err != nil {
		t.Close()
		return nil, fmt.Errorf("wait for device: %w", err)
	}
	pkg.LogDebug(pkg.ComponentHost, "device found", "dir", dir)

	if err := host.Reset(ctx, speed); err != nil {
		t.Close()
		return nil, fmt.Errorf("bus reset: %w", err)
	}
	var setup device.SetupPacket
	device.GetSetAddressSetup(&setup, 1)
	if err := t.control(ctx, setup, nil); err != nil {
		t.Close()
		return nil, fmt.Errorf("set address: %w", err)
	}
	device.GetSetConfigurationSetup(&setup, 1)
	if err := t.control(ctx, setup, nil); err != nil {
		t.Close()
		return nil, fmt.Errorf("set configuration: %w", err)
	}
	return t, nil
}

func (t *fifoTransport) control(ctx context.Context, setup device.SetupPacket, data []byte) error {
	raw := hal.SetupPacket{
		RequestType: setup.RequestType,
		Request:     setup.Request,
		Value:       setup.Value,
		Index:       setup.Index,
		Length:      setup.Length,
	}
	_, err := t.host.Control(ctx, &raw, data)
	return err
}

func (t *fifoTransport) Send(ctx context.Context, r scope.Request) error {
	return t.control(ctx, r.Setup(), []byte{r.Value})
}

func (t *fifoTransport) SetInterface(ctx context.Context, alt uint8) error {
	var setup device.SetupPacket
	device.GetSetInterfaceSetup(&setup, scope.InterfaceNumber, alt)
	return t.control(ctx, setup, nil)
}

func (t *fifoTransport) Close() error {
	return t.host.Stop()
}
