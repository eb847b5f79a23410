// Command scopefw-sim runs the oscilloscope firmware on a simulated FX2
// chip with an interactive console on stdin.
//
// Usage:
//
//	scopefw-sim [options]
//
// The console plays the host and the board: it sends vendor requests over
// the chip's control endpoint, raises bus signals and timer interrupts, and
// shows the acquisition state and registers. Type "help" for the commands.
//
// Options:
//
//	-bus dir            Serve USB on a FIFO bus directory instead of the
//	                    console; drive it with scopectl -bus dir
//	-speed high|full    Attach speed (default high)
//	-tick duration      Timer interrupt period (default 10ms, 0 disables)
//	-serial port        Mirror log output to a serial port
//	-baud rate          Serial baud rate (default 115200)
//	-v                  Enable verbose (debug) logging
//	-json               Use JSON log format
package main

import (
	"context"
	"flag"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tarm/serial"

	"github.com/ardnew/scopefw/device/hal"
	"github.com/ardnew/scopefw/device/hal/fifo"
	"github.com/ardnew/scopefw/firmware"
	"github.com/ardnew/scopefw/fx2/sim"
	"github.com/ardnew/scopefw/pkg"
)

// component identifies this executable for structured logging.
const component = pkg.ComponentFirmware

func main() {
	busDir := flag.String("bus", "", "serve USB on a FIFO bus directory")
	speedName := flag.String("speed", "high", "attach speed (high or full)")
	tick := flag.Duration("tick", 10*time.Millisecond, "timer interrupt period (0 disables)")
	serialPort := flag.String("serial", "", "mirror log output to a serial port")
	baud := flag.Int("baud", 115200, "serial baud rate")
	timeout := flag.Duration("timeout", 2*time.Second, "console request timeout")
	verbose := flag.Bool("v", false, "enable verbose (debug) logging")
	jsonLog := flag.Bool("json", false, "use JSON log format")
	flag.Parse()

	if *serialPort != "" {
		port, err := serial.OpenPort(&serial.Config{
			Name:        *serialPort,
			Baud:        *baud,
			ReadTimeout: time.Second,
		})
		if err != nil {
			pkg.LogError(component, "failed to open serial port",
				"port", *serialPort, "error", err)
			os.Exit(1)
		}
		defer port.Close()
		pkg.SetLogOutput(io.MultiWriter(os.Stderr, port))
	}
	if *verbose {
		pkg.SetLogLevel(slog.LevelDebug)
	}
	if *jsonLog {
		pkg.SetLogFormat(pkg.LogFormatJSON)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		pkg.LogInfo(component, "shutting down")
		cancel()
	}()

	speed, err := attachSpeed(*speedName)
	if err != nil {
		pkg.LogError(component, "invalid speed", "error", err)
		os.Exit(2)
	}

	chip := sim.New(sim.WithoutLog())
	var opts []firmware.Option
	var usb *fifo.HAL
	if *busDir != "" {
		usb = fifo.New(*busDir, fifo.WithSpeed(speed))
		opts = append(opts, firmware.WithHAL(usb))
	}

	fw, err := firmware.New(chip, opts...)
	if err != nil {
		pkg.LogError(component, "failed to build firmware", "error", err)
		os.Exit(1)
	}
	if err := fw.Start(ctx); err != nil {
		pkg.LogError(component, "failed to start firmware", "error", err)
		os.Exit(1)
	}
	defer fw.Stop()

	if usb != nil {
		pkg.LogInfo(component, "serving USB on FIFO bus",
			"busDir", *busDir,
			"deviceDir", usb.DeviceDir())
	} else {
		chip.SetHighSpeed(speed == hal.SpeedHigh)
	}
	if *tick > 0 {
		go chip.RunTimer(ctx, *tick)
	}

	con := &console{
		chip:    chip,
		fw:      fw,
		out:     os.Stdout,
		timeout: *timeout,
		remote:  usb != nil,
	}
	if err := con.Run(ctx, os.Stdin); err != nil {
		pkg.LogError(component, "console error", "error", err)
	}
}
