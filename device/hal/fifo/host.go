package fifo

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/ardnew/scopefw/device/hal"
	"github.com/ardnew/scopefw/pkg"
)

// Host errors.
var (
	ErrNotConnected = errors.New("device not connected")
	ErrNoDevice     = errors.New("no device available")
)

// DefaultTimeout bounds a control transfer or bus event on the host side.
const DefaultTimeout = 5 * time.Second

// scanInterval is the bus directory polling interval.
const scanInterval = 50 * time.Millisecond

// deviceConn is the host's view of one device directory.
type deviceConn struct {
	dir          string
	hostToDevice *os.File // Host writes SETUP and bus events
	deviceToHost *os.File // Host reads responses
}

// Host is the host end of a FIFO bus. It watches the bus directory for a
// device, then performs control transfers and bus signalling on it.
type Host struct {
	busDir  string
	timeout time.Duration

	device   *deviceConn
	deviceMu sync.Mutex

	txBuf [maxMessageSize]byte
	rxBuf [maxMessageSize]byte

	connectCh    chan *deviceConn
	disconnectCh chan string

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewHost creates the host end of the bus rooted at busDir.
func NewHost(busDir string) *Host {
	return &Host{
		busDir:       busDir,
		timeout:      DefaultTimeout,
		connectCh:    make(chan *deviceConn, 8),
		disconnectCh: make(chan string, 8),
	}
}

// SetTimeout changes the per-transfer timeout.
func (h *Host) SetTimeout(d time.Duration) {
	h.timeout = d
}

// Start creates the bus directory and begins watching it for devices.
func (h *Host) Start(ctx context.Context) error {
	if err := os.MkdirAll(h.busDir, 0o755); err != nil {
		return fmt.Errorf("create bus dir: %w", err)
	}
	h.ctx, h.cancel = context.WithCancel(ctx)

	h.wg.Add(1)
	go h.scan()

	pkg.LogInfo(pkg.ComponentHost, "fifo host started", "busDir", h.busDir)
	return nil
}

// Stop stops watching and closes the active device.
func (h *Host) Stop() error {
	if h.cancel != nil {
		h.cancel()
	}
	h.wg.Wait()

	h.deviceMu.Lock()
	if h.device != nil {
		h.device.close()
		h.device = nil
	}
	h.deviceMu.Unlock()

	pkg.LogInfo(pkg.ComponentHost, "fifo host stopped")
	return nil
}

// WaitForDevice blocks until a device connects and returns its directory.
func (h *Host) WaitForDevice(ctx context.Context) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case <-h.ctx.Done():
		return "", pkg.ErrCancelled
	case dev := <-h.connectCh:
		h.deviceMu.Lock()
		if h.device != nil {
			h.device.close()
		}
		h.device = dev
		h.deviceMu.Unlock()

		pkg.LogInfo(pkg.ComponentHost, "device connected", "dir", dev.dir)
		return dev.dir, nil
	}
}

// WaitForDisconnect blocks until the active device disconnects.
func (h *Host) WaitForDisconnect(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-h.ctx.Done():
			return pkg.ErrCancelled
		case dir := <-h.disconnectCh:
			h.deviceMu.Lock()
			active := h.device != nil && h.device.dir == dir
			if active {
				h.device.close()
				h.device = nil
			}
			h.deviceMu.Unlock()
			if active {
				pkg.LogInfo(pkg.ComponentHost, "device disconnected", "dir", dir)
				return nil
			}
		}
	}
}

// Connected reports whether a device is active.
func (h *Host) Connected() bool {
	h.deviceMu.Lock()
	defer h.deviceMu.Unlock()
	return h.device != nil
}

// Control performs a control transfer. OUT data travels with the SETUP
// packet; IN data is copied into data. It returns the number of IN bytes
// received, or pkg.ErrStall if the device stalled the request.
func (h *Host) Control(ctx context.Context, setup *hal.SetupPacket, data []byte) (int, error) {
	h.deviceMu.Lock()
	defer h.deviceMu.Unlock()

	if h.device == nil {
		return 0, ErrNotConnected
	}

	var raw [1 + hal.SetupPacketSize]byte
	setup.MarshalTo(raw[1:])
	var out []byte
	if setup.RequestType&0x80 == 0 {
		out = data
	}
	if err := writeMessage(h.device.hostToDevice, h.txBuf[:], msgSetup, raw[:], out); err != nil {
		return 0, err
	}

	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	n := 0
	for {
		msgType, payload, err := readMessage(ctx, h.device.deviceToHost, h.rxBuf[:])
		if err != nil {
			return n, err
		}
		switch msgType {
		case msgData:
			n += copy(data[n:], payload)
		case msgAck:
			return n, nil
		case msgStall:
			return n, pkg.ErrStall
		default:
			return n, pkg.ErrProtocol
		}
	}
}

// Reset signals a bus reset after which the link runs at speed.
func (h *Host) Reset(ctx context.Context, speed hal.Speed) error {
	return h.signal(ctx, msgReset, byte(speed))
}

// Suspend signals bus suspend.
func (h *Host) Suspend(ctx context.Context) error {
	return h.signal(ctx, msgSuspend)
}

// Resume signals bus resume.
func (h *Host) Resume(ctx context.Context) error {
	return h.signal(ctx, msgResume)
}

// signal sends a bus event and waits for the device to acknowledge it.
func (h *Host) signal(ctx context.Context, msgType byte, payload ...byte) error {
	h.deviceMu.Lock()
	defer h.deviceMu.Unlock()

	if h.device == nil {
		return ErrNotConnected
	}
	if err := writeMessage(h.device.hostToDevice, h.txBuf[:], msgType, payload); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	reply, _, err := readMessage(ctx, h.device.deviceToHost, h.rxBuf[:])
	if err != nil {
		return err
	}
	if reply != msgAck {
		return pkg.ErrProtocol
	}
	return nil
}

// scan polls the bus directory for new device subdirectories.
func (h *Host) scan() {
	defer h.wg.Done()

	known := make(map[string]bool)
	ticker := time.NewTicker(scanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-h.ctx.Done():
			return
		case <-ticker.C:
		}

		entries, err := os.ReadDir(h.busDir)
		if err != nil {
			continue
		}
		for _, entry := range entries {
			if !entry.IsDir() || !strings.HasPrefix(entry.Name(), "device-") {
				continue
			}
			dir := filepath.Join(h.busDir, entry.Name())
			if known[dir] {
				continue
			}
			if _, err := os.Stat(filepath.Join(dir, fifoConnection)); err != nil {
				continue
			}
			known[dir] = true

			h.wg.Add(1)
			go h.watch(dir)
		}

		for dir := range known {
			if _, err := os.Stat(dir); os.IsNotExist(err) {
				delete(known, dir)
			}
		}
	}
}

// watch follows the connection signals of one device directory.
func (h *Host) watch(dir string) {
	defer h.wg.Done()

	conn, err := os.OpenFile(filepath.Join(dir, fifoConnection), os.O_RDWR|unix.O_NONBLOCK, 0)
	if err != nil {
		pkg.LogWarn(pkg.ComponentHost, "failed to open connection FIFO", "dir", dir, "error", err)
		return
	}
	defer conn.Close()

	var sig [1]byte
	for {
		err := readFull(h.ctx, conn, sig[:])
		switch {
		case h.ctx.Err() != nil:
			return
		case err != nil:
			if errors.Is(err, io.EOF) || errors.Is(err, os.ErrClosed) {
				h.notifyDisconnect(dir)
				return
			}
			continue
		}

		switch sig[0] {
		case sigConnect:
			dev, err := openDevice(dir)
			if err != nil {
				pkg.LogWarn(pkg.ComponentHost, "failed to open device FIFOs", "dir", dir, "error", err)
				continue
			}
			select {
			case h.connectCh <- dev:
			case <-h.ctx.Done():
				dev.close()
				return
			}
		case sigDisconnect:
			h.notifyDisconnect(dir)
			return
		}
	}
}

func (h *Host) notifyDisconnect(dir string) {
	select {
	case h.disconnectCh <- dir:
	case <-h.ctx.Done():
	}
}

// openDevice opens the control FIFOs of a device directory.
func openDevice(dir string) (*deviceConn, error) {
	toDevice, err := os.OpenFile(filepath.Join(dir, fifoHostToDevice), os.O_WRONLY|unix.O_NONBLOCK, 0)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", fifoHostToDevice, err)
	}
	toHost, err := os.OpenFile(filepath.Join(dir, fifoDeviceToHost), os.O_RDONLY|unix.O_NONBLOCK, 0)
	if err != nil {
		toDevice.Close()
		return nil, fmt.Errorf("open %s: %w", fifoDeviceToHost, err)
	}
	return &deviceConn{dir: dir, hostToDevice: toDevice, deviceToHost: toHost}, nil
}

func (d *deviceConn) close() {
	d.hostToDevice.Close()
	d.deviceToHost.Close()
}
