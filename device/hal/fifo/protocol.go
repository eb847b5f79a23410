package fifo

import (
	"context"
	"encoding/binary"
	"os"
	"time"

	"github.com/ardnew/scopefw/device/hal"
	"github.com/ardnew/scopefw/pkg"
)

// Message types. Host-to-device messages are SETUP and the bus events;
// device-to-host messages are DATA, ACK and STALL.
const (
	msgSetup   = 0x01 // SETUP packet: [address, setup(8), OUT data...]
	msgData    = 0x02 // IN data stage
	msgAck     = 0x03 // Status stage complete, or bus event handled
	msgStall   = 0x05 // Request stalled
	msgReset   = 0x12 // Bus reset: [speed] optional
	msgAddress = 0x13 // Set address: [address]
	msgSuspend = 0x14 // Bus suspend
	msgResume  = 0x15 // Bus resume
)

// Connection signal bytes (one-way signaling to host).
const (
	sigConnect    = 0x01 // Device connected
	sigDisconnect = 0x00 // Device disconnected
)

// FIFO file names.
const (
	fifoHostToDevice = "host_to_device"
	fifoDeviceToHost = "device_to_host"
	fifoConnection   = "connection"
)

// Framing.
const (
	headerSize     = 3 // type (1) + length (2)
	maxPayload     = 1 + hal.SetupPacketSize + 1024
	maxMessageSize = headerSize + maxPayload
)

// pollInterval bounds how long a blocked read ignores cancellation.
const pollInterval = 100 * time.Millisecond

// readFull reads exactly len(buf) bytes from f. Reads are retried under a
// short deadline so ctx cancellation is noticed.
func readFull(ctx context.Context, f *os.File, buf []byte) error {
	total := 0
	for total < len(buf) {
		if err := ctx.Err(); err != nil {
			return err
		}
		f.SetReadDeadline(time.Now().Add(pollInterval))
		n, err := f.Read(buf[total:])
		total += n
		if err != nil {
			if os.IsTimeout(err) {
				continue
			}
			return err
		}
	}
	return nil
}

// readMessage reads one framed message from f into buf and returns its type
// and payload. The payload aliases buf.
func readMessage(ctx context.Context, f *os.File, buf []byte) (byte, []byte, error) {
	if err := readFull(ctx, f, buf[:headerSize]); err != nil {
		return 0, nil, err
	}
	msgType := buf[0]
	n := int(binary.LittleEndian.Uint16(buf[1:headerSize]))
	if n > len(buf)-headerSize {
		return 0, nil, pkg.ErrBufferTooSmall
	}
	payload := buf[headerSize : headerSize+n]
	if err := readFull(ctx, f, payload); err != nil {
		return 0, nil, err
	}
	return msgType, payload, nil
}

// writeMessage frames payload into buf and writes it to f in one call, so
// messages up to PIPE_BUF are never interleaved.
func writeMessage(f *os.File, buf []byte, msgType byte, payload ...[]byte) error {
	n := headerSize
	for _, p := range payload {
		if n+len(p) > len(buf) {
			return pkg.ErrBufferTooSmall
		}
		n += copy(buf[n:], p)
	}
	buf[0] = msgType
	binary.LittleEndian.PutUint16(buf[1:headerSize], uint16(n-headerSize))

	written := 0
	for written < n {
		m, err := f.Write(buf[written:n])
		written += m
		if err != nil {
			return err
		}
	}
	return nil
}
