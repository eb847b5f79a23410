package device

import (
	"context"
	"errors"
	"sync"

	"github.com/ardnew/scopefw/device/hal"
	"github.com/ardnew/scopefw/pkg"
)

// MaxControlDataSize is the maximum data stage size of a control transfer.
const MaxControlDataSize = 512

// Stack runs the control endpoint of a device on a HAL.
type Stack struct {
	device  *Device
	hal     hal.DeviceHAL
	handler *StandardRequestHandler

	running bool
	mutex   sync.RWMutex

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	// Reused by the control loop.
	setupBuf   hal.SetupPacket
	ep0ReadBuf [MaxControlDataSize]byte
	data       controlData
}

// controlData is the data stage of the transfer the control loop is
// processing. It records whether a handler has read it.
type controlData struct {
	stack    *Stack
	setup    *SetupPacket
	consumed bool
}

// ReadData implements ControlData.
func (c *controlData) ReadData(buf []byte) (int, error) {
	if c.consumed || !c.setup.IsDataOut() {
		return 0, nil
	}
	c.consumed = true
	if n := int(c.setup.Length); len(buf) > n {
		buf = buf[:n]
	}
	return c.stack.hal.ReadEP0(c.stack.ctx, buf)
}

// halSpeedToDeviceSpeed converts hal.Speed to device.Speed.
func halSpeedToDeviceSpeed(s hal.Speed) Speed {
	switch s {
	case hal.SpeedLow:
		return SpeedLow
	case hal.SpeedHigh:
		return SpeedHigh
	default:
		return SpeedFull
	}
}

// NewStack creates a new device stack.
func NewStack(dev *Device, h hal.DeviceHAL) *Stack {
	s := &Stack{
		device:  dev,
		hal:     h,
		handler: NewStandardRequestHandler(dev),
	}
	s.data.stack = s
	return s
}

// Start initializes the HAL, attaches to the bus and starts the control loop.
func (s *Stack) Start(ctx context.Context) error {
	s.mutex.Lock()
	if s.running {
		s.mutex.Unlock()
		return pkg.ErrAlreadyRunning
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.mutex.Unlock()

	if err := s.hal.Init(s.ctx); err != nil {
		return err
	}
	if err := s.hal.Start(); err != nil {
		return err
	}

	s.mutex.Lock()
	s.running = true
	s.done = make(chan struct{})
	s.mutex.Unlock()

	s.device.Reset()
	s.device.SetSpeed(halSpeedToDeviceSpeed(s.hal.GetSpeed()))

	pkg.LogDebug(pkg.ComponentStack, "device stack started")

	go s.controlLoop()
	return nil
}

// Stop stops the control loop and detaches from the bus.
func (s *Stack) Stop() error {
	s.mutex.Lock()
	if !s.running {
		s.mutex.Unlock()
		return nil
	}
	s.running = false
	s.cancel()
	done := s.done
	s.mutex.Unlock()

	<-done

	if err := s.hal.Stop(); err != nil {
		return err
	}
	pkg.LogDebug(pkg.ComponentStack, "device stack stopped")
	return nil
}

// Done returns a channel closed when the control loop exits.
func (s *Stack) Done() <-chan struct{} {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.done
}

// IsRunning returns true if the stack is running.
func (s *Stack) IsRunning() bool {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.running
}

// Device returns the underlying device.
func (s *Stack) Device() *Device {
	return s.device
}

// controlLoop serves EP0 until the stack is stopped. It is the only
// goroutine that runs request handlers.
func (s *Stack) controlLoop() {
	defer close(s.done)

	for {
		err := s.hal.ReadSetup(s.ctx, &s.setupBuf)
		switch {
		case s.ctx.Err() != nil:
			return
		case err == nil:
		case errors.Is(err, pkg.ErrReset):
			s.device.Reset()
			s.device.SetSpeed(halSpeedToDeviceSpeed(s.hal.GetSpeed()))
			continue
		case errors.Is(err, pkg.ErrSuspend):
			s.suspend()
			continue
		default:
			pkg.LogWarn(pkg.ComponentStack, "error reading setup",
				"error", err)
			continue
		}

		// The link speed may have changed since the last reset (chirp).
		s.device.SetSpeed(halSpeedToDeviceSpeed(s.hal.GetSpeed()))

		setup := SetupPacket{
			RequestType: s.setupBuf.RequestType,
			Request:     s.setupBuf.Request,
			Value:       s.setupBuf.Value,
			Index:       s.setupBuf.Index,
			Length:      s.setupBuf.Length,
		}
		if err := s.handleSetup(&setup); err != nil {
			if s.ctx.Err() != nil {
				return
			}
			pkg.LogWarn(pkg.ComponentStack, "request stalled",
				"error", err,
				"request", setup.String())
			if err := s.hal.StallEP0(); err != nil {
				pkg.LogError(pkg.ComponentStack, "error stalling EP0",
					"error", err)
			}
		}
	}
}

// suspend parks the control loop until the bus resumes.
func (s *Stack) suspend() {
	s.device.Suspend()
	if err := s.hal.WaitResume(s.ctx); err != nil {
		if s.ctx.Err() == nil {
			pkg.LogWarn(pkg.ComponentStack, "error waiting for resume",
				"error", err)
		}
	}
	s.device.Resume()
}

// handleSetup dispatches a single SETUP packet and completes the transfer.
func (s *Stack) handleSetup(setup *SetupPacket) error {
	pkg.LogDebug(pkg.ComponentStack, "setup received",
		"request", setup.String())

	s.data.setup = setup
	s.data.consumed = false

	switch setup.Type() {
	case RequestTypeStandard:
		resp, err := s.handler.HandleSetup(setup)
		if err != nil {
			return err
		}
		if err := s.completeSetup(setup, resp); err != nil {
			return err
		}
		if err := s.applyStandard(setup); err != nil {
			pkg.LogWarn(pkg.ComponentStack, "controller rejected request",
				"error", err,
				"request", setup.String())
		}
		return nil

	case RequestTypeClass:
		if !setup.IsInterfaceRecipient() {
			break
		}
		iface := s.device.GetInterface(setup.InterfaceNumber())
		if iface == nil {
			break
		}
		var data []byte
		if setup.IsDataOut() {
			n, err := s.data.ReadData(s.ep0ReadBuf[:])
			if err != nil {
				return err
			}
			data = s.ep0ReadBuf[:n]
		}
		handled, err := iface.HandleSetup(setup, data)
		if handled {
			if err != nil {
				return err
			}
			return s.completeSetup(setup, nil)
		}

	case RequestTypeVendor:
		h := s.device.VendorHandler()
		if h == nil {
			break
		}
		handled, err := h.HandleVendor(setup, &s.data)
		if handled {
			if err != nil {
				return err
			}
			return s.completeSetup(setup, nil)
		}
	}
	return pkg.ErrUnsupportedRequest
}

// completeSetup sends the IN data stage or drains an unread OUT data stage,
// then completes the status stage.
func (s *Stack) completeSetup(setup *SetupPacket, data []byte) error {
	if setup.IsDeviceToHost() {
		if len(data) > 0 {
			if err := s.hal.WriteEP0(s.ctx, data); err != nil {
				return err
			}
		}
		_, err := s.hal.ReadEP0(s.ctx, s.ep0ReadBuf[:0])
		return err
	}

	if _, err := s.data.ReadData(s.ep0ReadBuf[:]); err != nil {
		return err
	}
	return s.hal.AckEP0()
}

// applyStandard mirrors completed standard requests into the controller.
func (s *Stack) applyStandard(setup *SetupPacket) error {
	switch {
	case setup.Request == RequestSetAddress && setup.IsDeviceRecipient():
		return s.hal.SetAddress(uint8(setup.Value & 0x7F))
	case setup.IsEndpointRecipient() && setup.Value == FeatureEndpointHalt:
		addr := setup.EndpointAddress()
		if addr&0x0F == 0 {
			return nil
		}
		switch setup.Request {
		case RequestSetFeature:
			return s.hal.Stall(addr)
		case RequestClearFeature:
			return s.hal.ClearStall(addr)
		}
	}
	return nil
}

// Speed returns the negotiated USB connection speed.
func (s *Stack) Speed() Speed {
	return halSpeedToDeviceSpeed(s.hal.GetSpeed())
}

// IsConnected returns true if the device is connected to a host.
func (s *Stack) IsConnected() bool {
	return s.hal.IsConnected()
}

// WaitConnect blocks until the device connects to a host or the context is cancelled.
func (s *Stack) WaitConnect(ctx context.Context) error {
	return s.hal.WaitConnect(ctx)
}
