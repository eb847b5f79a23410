package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/google/shlex"

	"github.com/ardnew/scopefw/device"
	"github.com/ardnew/scopefw/device/hal"
	"github.com/ardnew/scopefw/firmware"
	"github.com/ardnew/scopefw/fx2"
	"github.com/ardnew/scopefw/fx2/sim"
	"github.com/ardnew/scopefw/pkg"
	"github.com/ardnew/scopefw/scope"
)

// errQuit ends the console loop.
var errQuit = errors.New("quit")

// errRemoteUSB is returned for host requests when the USB side is served
// over a FIFO bus.
var errRemoteUSB = errors.New("USB is served on the FIFO bus; use scopectl -bus")

// console drives a simulated chip from text commands, acting as both the
// USB host and the board around the chip.
type console struct {
	chip    *sim.Chip
	fw      *firmware.Firmware
	out     io.Writer
	timeout time.Duration
	remote  bool // USB served by a FIFO HAL
}

// watched lists the registers shown by the regs command.
var watched = []struct {
	name string
	reg  fx2.Register
}{
	{"IFCONFIG", fx2.IFCONFIG},
	{"EP2CFG", fx2.EP2CFG},
	{"EP6CFG", fx2.EP6CFG},
	{"EP2ISOINPKTS", fx2.EP2ISOINPKTS},
	{"EP2AUTOINLENH", fx2.EP2AUTOINLENH},
	{"EP2AUTOINLENL", fx2.EP2AUTOINLENL},
	{"EP6AUTOINLENH", fx2.EP6AUTOINLENH},
	{"EP6AUTOINLENL", fx2.EP6AUTOINLENL},
	{"GPIFTRIG", fx2.GPIFTRIG},
	{"GPIFTCB1", fx2.GPIFTCB1},
	{"GPIFTCB0", fx2.GPIFTCB0},
	{"IOA", fx2.IOA},
	{"IOC", fx2.IOC},
	{"USBCS", fx2.USBCS},
}

const help = `host requests:
  voltage CH CODE   set range code of channel 0 or 1
  rate ID           set sample rate identifier
  channels N        set channel count (1 or 2)
  start | stop      control acquisition
  alt N             SET_INTERFACE to alternate setting N
  config            SET_CONFIGURATION 1
bus signals:
  speed high|full   attach at the given speed (bus reset)
  reset             bus reset
  suspend | resume
  tick              raise one timer interrupt
inspection:
  status            acquisition state and configuration
  regs              acquisition registers
  help | quit`

// Run reads commands from r until EOF, quit, or ctx is done.
func (c *console) Run(ctx context.Context, r io.Reader) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	lines, scanErr := readLines(ctx, r)
	for {
		fmt.Fprint(c.out, "> ")
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return <-scanErr
			}
			if err := c.Exec(ctx, line); err != nil {
				if errors.Is(err, errQuit) {
					return nil
				}
				fmt.Fprintf(c.out, "error: %v\n", err)
			}
		}
	}
}

// readLines delivers the lines of r until EOF or ctx is done. The error
// channel receives the scan result before lines is closed.
func readLines(ctx context.Context, r io.Reader) (<-chan string, <-chan error) {
	lines := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		var err error
		defer func() {
			scanErr <- err
			close(lines)
		}()
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		err = scanner.Err()
	}()
	return lines, scanErr
}

// Exec runs one command line.
func (c *console) Exec(ctx context.Context, line string) error {
	fields, err := shlex.Split(line)
	if err != nil {
		return err
	}
	if len(fields) == 0 {
		return nil
	}

	switch fields[0] {
	case "help":
		fmt.Fprintln(c.out, help)
	case "quit", "exit":
		return errQuit
	case "status":
		c.status()
	case "regs":
		for _, w := range watched {
			fmt.Fprintf(c.out, "%-14s 0x%02X\n", w.name, c.chip.Reg(w.reg))
		}
	case "speed":
		if len(fields) != 2 {
			return fmt.Errorf("speed takes high or full: %w", pkg.ErrInvalidParameter)
		}
		speed, err := attachSpeed(fields[1])
		if err != nil {
			return err
		}
		c.chip.BusReset()
		c.chip.SetHighSpeed(speed == hal.SpeedHigh)
	case "reset":
		c.chip.BusReset()
	case "suspend":
		c.chip.Suspend()
	case "resume":
		c.chip.Resume()
	case "tick":
		c.chip.Tick()
	case "config":
		var setup device.SetupPacket
		device.GetSetConfigurationSetup(&setup, 1)
		return c.control(ctx, setup, nil)
	case "alt":
		if len(fields) != 2 {
			return fmt.Errorf("alt takes 1 argument: %w", pkg.ErrInvalidParameter)
		}
		alt, err := strconv.ParseUint(fields[1], 0, 8)
		if err != nil {
			return fmt.Errorf("alt %q: %w", fields[1], pkg.ErrInvalidParameter)
		}
		var setup device.SetupPacket
		device.GetSetInterfaceSetup(&setup, scope.InterfaceNumber, uint8(alt))
		return c.control(ctx, setup, nil)
	default:
		req, err := scope.ParseRequest(fields)
		if err != nil {
			return err
		}
		return c.control(ctx, req.Setup(), []byte{req.Value})
	}
	return nil
}

// attachSpeed parses a bus speed name. The scope streams only at high or
// full speed.
func attachSpeed(name string) (hal.Speed, error) {
	speed, ok := hal.ParseSpeed(name)
	if !ok || speed == hal.SpeedLow {
		return 0, fmt.Errorf("speed %q: %w", name, pkg.ErrInvalidParameter)
	}
	return speed, nil
}

// control performs a host control transfer on the chip's EP0.
func (c *console) control(ctx context.Context, setup device.SetupPacket, data []byte) error {
	if c.remote {
		return errRemoteUSB
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	done, err := c.chip.Control(ctx, setup.Bytes(), data)
	if err != nil {
		return fmt.Errorf("%s: %w", setup.String(), err)
	}
	if done.Stalled {
		return fmt.Errorf("%s: %w", setup.String(), pkg.ErrStall)
	}
	return nil
}

func (c *console) status() {
	s := c.fw.Scope()
	cfg := s.Config()
	ep := s.Endpoints()
	transport := "bulk"
	if !cfg.Bulk() {
		transport = "iso"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "state      %s\n", s.State())
	fmt.Fprintf(&b, "rate       %d (%d ksps)\n", cfg.RateID, cfg.KSPS)
	fmt.Fprintf(&b, "channels   %d\n", cfg.Channels)
	fmt.Fprintf(&b, "voltage    %d %d\n", cfg.Voltage[0], cfg.Voltage[1])
	fmt.Fprintf(&b, "transport  %s alt %d, endpoint 0x%02X, %d bytes\n",
		transport, cfg.Alt, ep.Address, ep.BufferLength)
	fmt.Fprintf(&b, "usb        %s, configured %v, suspended %v\n",
		c.fw.Device().Speed(), c.fw.Device().IsConfigured(), c.fw.Device().IsSuspended())
	fmt.Fprintf(&b, "timer      %d ticks, indicator %d", c.fw.Timer().Ticks(), c.fw.Timer().Remaining())
	fmt.Fprintln(c.out, b.String())
}
