// Command scopectl sends vendor requests to a DSO-6022BE oscilloscope.
//
// Each argument is one command line, split with shell quoting rules:
//
//	scopectl "rate 30" "voltage 0 5" "channels 1" start
//
// Besides the vendor requests understood by scope.ParseRequest, the
// command "alt N" selects alternate setting N of the acquisition interface
// (0 for bulk streaming, 1 for isochronous streaming).
//
// By default the device is opened on the system USB bus through libusb.
// With -bus, scopectl acts as host on a FIFO bus directory served by
// scopefw-sim and enumerates the simulated device first.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/google/shlex"

	"github.com/ardnew/scopefw/device/hal"
	"github.com/ardnew/scopefw/pkg"
	"github.com/ardnew/scopefw/scope"
)

// component identifies this executable for structured logging.
const component = pkg.ComponentHost

func main() {
	busDir := flag.String("bus", "", "FIFO bus directory of a simulated device (default: system USB)")
	speedName := flag.String("speed", "high", "speed of a simulated device (high or full)")
	timeout := flag.Duration("timeout", 2*time.Second, "per-request timeout")
	verbose := flag.Bool("v", false, "enable debug logging")
	jsonLogs := flag.Bool("json", false, "emit logs as JSON")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: %s [flags] command...\n\n", os.Args[0])
		fmt.Fprintln(os.Stderr, "commands:")
		fmt.Fprintln(os.Stderr, "  voltage CH CODE   set range code of channel 0 or 1")
		fmt.Fprintln(os.Stderr, "  rate ID           set sample rate identifier")
		fmt.Fprintln(os.Stderr, "  channels N        set channel count (1 or 2)")
		fmt.Fprintln(os.Stderr, "  start | stop      control acquisition")
		fmt.Fprintln(os.Stderr, "  alt N             select interface alternate setting")
		fmt.Fprintln(os.Stderr, "\nflags:")
		flag.PrintDefaults()
	}
	flag.Parse()

	if *verbose {
		pkg.SetLogLevel(slog.LevelDebug)
	}
	if *jsonLogs {
		pkg.SetLogFormat(pkg.LogFormatJSON)
	}

	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}
	cmds, err := parseCommands(flag.Args())
	if err != nil {
		pkg.LogError(component, "invalid command", "error", err)
		os.Exit(2)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	speed, err := attachSpeed(*speedName)
	if err != nil {
		pkg.LogError(component, "invalid speed", "error", err)
		os.Exit(2)
	}

	var t transport
	if *busDir != "" {
		t, err = openFIFO(ctx, *busDir, speed, *timeout)
	} else {
		t, err = openUSB(scope.VendorID, scope.ProductID, *timeout)
	}
	if err != nil {
		pkg.LogError(component, "failed to open device", "error", err)
		os.Exit(1)
	}

	err = run(ctx, t, cmds, *timeout)
	if cerr := t.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		pkg.LogError(component, "request failed", "error", err)
		os.Exit(1)
	}
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

// command is one parsed command line.
type command struct {
	text    string
	request scope.Request
	alt     int // -1 unless the command is "alt N"
}

func parseCommands(lines []string) ([]command, error) {
	cmds := make([]command, 0, len(lines))
	for _, line := range lines {
		fields, err := shlex.Split(line)
		if err != nil {
			return nil, fmt.Errorf("%q: %w", line, err)
		}
		cmd, err := parseCommand(fields)
		if err != nil {
			return nil, fmt.Errorf("%q: %w", line, err)
		}
		cmd.text = line
		cmds = append(cmds, cmd)
	}
	return cmds, nil
}

func parseCommand(fields []string) (command, error) {
	if len(fields) > 0 && fields[0] == "alt" {
		if len(fields) != 2 {
			return command{}, fmt.Errorf("alt takes 1 argument: %w", pkg.ErrInvalidParameter)
		}
		v, err := strconv.ParseUint(fields[1], 0, 8)
		if err != nil {
			return command{}, fmt.Errorf("alt %q: %w", fields[1], pkg.ErrInvalidParameter)
		}
		return command{alt: int(v)}, nil
	}
	r, err := scope.ParseRequest(fields)
	if err != nil {
		return command{}, err
	}
	return command{request: r, alt: -1}, nil
}

func run(ctx context.Context, t transport, cmds []command, timeout time.Duration) error {
	for _, cmd := range cmds {
		reqCtx, cancel := context.WithTimeout(ctx, timeout)
		var err error
		if cmd.alt >= 0 {
			err = t.SetInterface(reqCtx, uint8(cmd.alt))
		} else {
			err = t.Send(reqCtx, cmd.request)
		}
		cancel()
		if err != nil {
			if errors.Is(err, pkg.ErrStall) {
				return fmt.Errorf("%s: device rejected request", cmd.text)
			}
			return fmt.Errorf("%s: %w", cmd.text, err)
		}
		pkg.LogInfo(component, "request sent", "command", cmd.text)
	}
	return nil
}
