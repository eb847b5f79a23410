package fifo

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"golang.org/x/sys/unix"

	"github.com/ardnew/scopefw/device/hal"
	"github.com/ardnew/scopefw/pkg"
)

// MaxEndpoints is the number of endpoint numbers tracked for halt state.
const MaxEndpoints = 16

// Option configures a HAL.
type Option func(*HAL)

// WithSpeed sets the link speed reported before the first bus reset.
func WithSpeed(speed hal.Speed) Option {
	return func(h *HAL) { h.speed = speed }
}

// HAL implements hal.DeviceHAL using named pipes (FIFOs).
// Each device instance creates a unique subdirectory under the bus directory
// to enable hot-plugging and multiple device support.
type HAL struct {
	// Bus directory (root directory shared with host)
	busDir string

	// Device subdirectory (busDir/device-{uuid}/)
	deviceDir string
	uuid      string

	hostToDeviceRead  *os.File // Device reads SETUP and bus events
	deviceToHostWrite *os.File // Device writes responses
	connectionWrite   *os.File // Device signals connection status

	connected atomic.Bool
	suspended atomic.Bool

	mutex    sync.RWMutex
	speed    hal.Speed
	address  uint8
	halted   [2 * MaxEndpoints]bool // OUT at [0-15], IN at [16-31]
	initDone bool

	connectCh chan struct{}
	closeCh   chan struct{}
	closeOnce sync.Once

	// Control loop state; touched only from the stack's control loop.
	readBuf         [maxMessageSize]byte
	writeBuf        [maxMessageSize]byte
	outBuf          [maxPayload]byte
	out             []byte // unread OUT data stage
	pendingSetup    hal.SetupPacket
	hasPendingSetup bool
	pendingReset    bool
}

// New creates a new FIFO-based device HAL.
// The busDir parameter specifies the root bus directory shared with the host.
// The device will create its own subdirectory (device-{uuid}/) inside busDir.
func New(busDir string, opts ...Option) *HAL {
	h := &HAL{
		busDir:    busDir,
		speed:     hal.SpeedFull,
		connectCh: make(chan struct{}, 1),
		closeCh:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// generateUUID generates a random UUID using crypto/rand.
func generateUUID() (string, error) {
	var uuid [16]byte
	if _, err := rand.Read(uuid[:]); err != nil {
		return "", err
	}
	// Set version 4 (random) bits
	uuid[6] = (uuid[6] & 0x0f) | 0x40
	uuid[8] = (uuid[8] & 0x3f) | 0x80
	return hex.EncodeToString(uuid[:]), nil
}

// Init creates the device subdirectory and its FIFOs.
func (h *HAL) Init(ctx context.Context) error {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	if h.initDone {
		return pkg.ErrAlreadyRunning
	}

	uuid, err := generateUUID()
	if err != nil {
		return fmt.Errorf("generate uuid: %w", err)
	}
	h.uuid = uuid
	h.deviceDir = filepath.Join(h.busDir, "device-"+uuid)

	if err := os.MkdirAll(h.deviceDir, 0o755); err != nil {
		return fmt.Errorf("create device dir: %w", err)
	}

	for _, name := range []string{fifoHostToDevice, fifoDeviceToHost, fifoConnection} {
		if err := h.createFIFO(name); err != nil {
			h.cleanup()
			return err
		}
	}

	// O_RDWR keeps every FIFO open for both ends, so neither side blocks in
	// open(2) and reads never see EOF while the host is away.
	files := []struct {
		f    **os.File
		name string
	}{
		{&h.connectionWrite, fifoConnection},
		{&h.deviceToHostWrite, fifoDeviceToHost},
		{&h.hostToDeviceRead, fifoHostToDevice},
	}
	for _, file := range files {
		if *file.f, err = h.openFIFO(file.name, os.O_RDWR|unix.O_NONBLOCK); err != nil {
			h.cleanup()
			return err
		}
	}

	h.initDone = true
	pkg.LogInfo(pkg.ComponentHAL, "fifo device HAL initialized",
		"busDir", h.busDir,
		"deviceDir", h.deviceDir,
		"uuid", h.uuid)

	return ctx.Err()
}

// Start signals connection to the host.
func (h *HAL) Start() error {
	h.mutex.RLock()
	if !h.initDone {
		h.mutex.RUnlock()
		return pkg.ErrNotConfigured
	}
	f := h.connectionWrite
	h.mutex.RUnlock()

	if _, err := f.Write([]byte{sigConnect}); err != nil {
		pkg.LogWarn(pkg.ComponentHAL, "failed to signal connection", "error", err)
	}

	h.connected.Store(true)
	select {
	case h.connectCh <- struct{}{}:
	default:
	}

	pkg.LogInfo(pkg.ComponentHAL, "fifo device HAL started")
	return nil
}

// Stop signals disconnection and removes the device directory.
func (h *HAL) Stop() error {
	h.mutex.RLock()
	if h.connectionWrite != nil {
		h.connectionWrite.Write([]byte{sigDisconnect})
	}
	h.mutex.RUnlock()

	h.connected.Store(false)
	h.closeOnce.Do(func() {
		close(h.closeCh)
	})

	h.mutex.Lock()
	defer h.mutex.Unlock()

	h.cleanup()
	h.initDone = false
	pkg.LogInfo(pkg.ComponentHAL, "fifo device HAL stopped")
	return nil
}

// cleanup closes all FIFOs and removes the device directory.
func (h *HAL) cleanup() {
	for _, f := range []**os.File{&h.hostToDeviceRead, &h.deviceToHostWrite, &h.connectionWrite} {
		if *f != nil {
			(*f).Close()
			*f = nil
		}
	}
	if h.deviceDir != "" {
		os.RemoveAll(h.deviceDir)
	}
}

// SetAddress records the device address. The FIFO bus does not route by
// address.
func (h *HAL) SetAddress(address uint8) error {
	h.mutex.Lock()
	h.address = address
	h.mutex.Unlock()
	pkg.LogDebug(pkg.ComponentHAL, "address set", "address", address)
	return nil
}

// Address returns the address last assigned to the device.
func (h *HAL) Address() uint8 {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return h.address
}

// withClose merges ctx with the HAL's close channel.
func (h *HAL) withClose(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(ctx)
	go func() {
		select {
		case <-h.closeCh:
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

// readMessage reads the next host message.
func (h *HAL) readMessage(ctx context.Context) (byte, []byte, error) {
	h.mutex.RLock()
	f := h.hostToDeviceRead
	h.mutex.RUnlock()
	if f == nil {
		return 0, nil, pkg.ErrNotConfigured
	}

	ctx, cancel := h.withClose(ctx)
	defer cancel()

	msgType, payload, err := readMessage(ctx, f, h.readBuf[:])
	if err != nil {
		select {
		case <-h.closeCh:
			return 0, nil, pkg.ErrCancelled
		default:
		}
	}
	return msgType, payload, err
}

// send writes a response to the host.
func (h *HAL) send(msgType byte, payload ...[]byte) error {
	h.mutex.RLock()
	f := h.deviceToHostWrite
	h.mutex.RUnlock()
	if f == nil {
		return pkg.ErrNotConfigured
	}
	return writeMessage(f, h.writeBuf[:], msgType, payload...)
}

// ReadSetup reads the next SETUP packet. Bus events arriving first are
// acknowledged to the host and reported as pkg.ErrReset or pkg.ErrSuspend.
func (h *HAL) ReadSetup(ctx context.Context, out *hal.SetupPacket) error {
	if h.pendingReset {
		h.pendingReset = false
		return pkg.ErrReset
	}
	if h.hasPendingSetup {
		*out = h.pendingSetup
		h.hasPendingSetup = false
		return nil
	}

	for {
		msgType, payload, err := h.readMessage(ctx)
		if err != nil {
			return err
		}

		switch msgType {
		case msgSetup:
			if err := h.acceptSetup(payload, out); err != nil {
				return err
			}
			pkg.LogDebug(pkg.ComponentHAL, "setup received",
				"reqType", out.RequestType,
				"req", out.Request,
				"value", out.Value,
				"index", out.Index,
				"length", out.Length)
			return nil

		case msgReset:
			h.reset(payload)
			h.send(msgAck)
			return pkg.ErrReset

		case msgSuspend:
			h.send(msgAck)
			if h.suspended.CompareAndSwap(false, true) {
				pkg.LogDebug(pkg.ComponentHAL, "bus suspended")
				return pkg.ErrSuspend
			}

		case msgResume:
			h.send(msgAck)

		case msgAddress:
			if len(payload) >= 1 {
				h.SetAddress(payload[0])
			}
			h.send(msgAck)

		default:
			pkg.LogWarn(pkg.ComponentHAL, "unknown message type", "type", msgType)
		}
	}
}

// acceptSetup decodes a SETUP message and keeps its OUT data stage for
// ReadEP0.
func (h *HAL) acceptSetup(payload []byte, out *hal.SetupPacket) error {
	// payload[0] is the bus address the host sent the packet to.
	if len(payload) < 1+hal.SetupPacketSize {
		return pkg.ErrSetupPacketTooShort
	}
	if !hal.ParseSetupPacket(payload[1:], out) {
		return pkg.ErrSetupPacketTooShort
	}
	n := copy(h.outBuf[:], payload[1+hal.SetupPacketSize:])
	h.out = h.outBuf[:n]
	return nil
}

// reset applies a bus reset. The optional payload byte is the speed the
// link negotiated.
func (h *HAL) reset(payload []byte) {
	h.mutex.Lock()
	if len(payload) >= 1 {
		switch speed := hal.Speed(payload[0]); speed {
		case hal.SpeedLow, hal.SpeedFull, hal.SpeedHigh:
			h.speed = speed
		}
	}
	h.address = 0
	h.halted = [2 * MaxEndpoints]bool{}
	h.mutex.Unlock()

	h.suspended.Store(false)
	h.out = nil
	h.hasPendingSetup = false
	pkg.LogDebug(pkg.ComponentHAL, "bus reset", "speed", h.GetSpeed().String())
}

// WaitResume blocks until the host resumes or resets the bus. A SETUP
// packet also ends the suspend and is returned by the next ReadSetup.
func (h *HAL) WaitResume(ctx context.Context) error {
	for {
		msgType, payload, err := h.readMessage(ctx)
		if err != nil {
			return err
		}

		switch msgType {
		case msgResume:
			h.suspended.Store(false)
			h.send(msgAck)
			pkg.LogDebug(pkg.ComponentHAL, "bus resumed")
			return nil

		case msgReset:
			h.reset(payload)
			h.send(msgAck)
			h.pendingReset = true
			return nil

		case msgSetup:
			if err := h.acceptSetup(payload, &h.pendingSetup); err != nil {
				return err
			}
			h.suspended.Store(false)
			h.hasPendingSetup = true
			return nil

		case msgSuspend:
			h.send(msgAck)

		default:
			pkg.LogWarn(pkg.ComponentHAL, "message ignored while suspended", "type", msgType)
		}
	}
}

// WriteEP0 sends data as the IN data stage.
func (h *HAL) WriteEP0(ctx context.Context, data []byte) error {
	for len(data) > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		n := len(data)
		if n > maxPayload {
			n = maxPayload
		}
		if err := h.send(msgData, data[:n]); err != nil {
			return err
		}
		data = data[n:]
	}
	return nil
}

// ReadEP0 copies the OUT data stage that arrived with the SETUP message into
// buf. A zero-length buf completes the status stage of an IN transfer.
func (h *HAL) ReadEP0(ctx context.Context, buf []byte) (int, error) {
	if len(buf) == 0 {
		return 0, h.send(msgAck)
	}
	n := copy(buf, h.out)
	h.out = h.out[n:]
	return n, ctx.Err()
}

// StallEP0 stalls the current control transfer.
func (h *HAL) StallEP0() error {
	h.out = nil
	pkg.LogDebug(pkg.ComponentHAL, "EP0 stalled")
	return h.send(msgStall)
}

// AckEP0 completes the status stage of an OUT transfer.
func (h *HAL) AckEP0() error {
	h.out = nil
	return h.send(msgAck)
}

// haltIndex returns the halt table slot for address.
func haltIndex(address uint8) (int, bool) {
	num := int(address & 0x0F)
	if num == 0 {
		return 0, false
	}
	if address&0x80 != 0 {
		return MaxEndpoints + num, true
	}
	return num, true
}

// Stall halts a data endpoint.
func (h *HAL) Stall(address uint8) error {
	return h.setHalt(address, true)
}

// ClearStall clears a halted data endpoint.
func (h *HAL) ClearStall(address uint8) error {
	return h.setHalt(address, false)
}

func (h *HAL) setHalt(address uint8, halted bool) error {
	i, ok := haltIndex(address)
	if !ok {
		return pkg.ErrInvalidEndpoint
	}
	h.mutex.Lock()
	h.halted[i] = halted
	h.mutex.Unlock()
	pkg.LogDebug(pkg.ComponentHAL, "endpoint halt changed",
		"address", address,
		"halted", halted)
	return nil
}

// IsStalled reports whether a data endpoint is halted.
func (h *HAL) IsStalled(address uint8) bool {
	i, ok := haltIndex(address)
	if !ok {
		return false
	}
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return h.halted[i]
}

// IsConnected returns true if connected to a host.
func (h *HAL) IsConnected() bool {
	return h.connected.Load()
}

// GetSpeed returns the negotiated connection speed.
func (h *HAL) GetSpeed() hal.Speed {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return h.speed
}

// WaitConnect blocks until connected or context is cancelled.
func (h *HAL) WaitConnect(ctx context.Context) error {
	if h.IsConnected() {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-h.connectCh:
		return nil
	case <-h.closeCh:
		return pkg.ErrCancelled
	}
}

// DeviceDir returns the device subdirectory path.
func (h *HAL) DeviceDir() string {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return h.deviceDir
}

// UUID returns the device's unique identifier.
func (h *HAL) UUID() string {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return h.uuid
}

// createFIFO creates a named pipe in the device directory.
func (h *HAL) createFIFO(name string) error {
	path := filepath.Join(h.deviceDir, name)
	os.Remove(path)
	if err := unix.Mkfifo(path, 0o666); err != nil {
		return fmt.Errorf("mkfifo %s: %w", name, err)
	}
	return nil
}

// openFIFO opens a named pipe with the given flags.
func (h *HAL) openFIFO(name string, flag int) (*os.File, error) {
	f, err := os.OpenFile(filepath.Join(h.deviceDir, name), flag, 0)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", name, err)
	}
	return f, nil
}

// Compile-time interface check
var _ hal.DeviceHAL = (*HAL)(nil)
