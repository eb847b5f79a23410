// Package firmware assembles the oscilloscope firmware on an FX2 chip.
//
// A [Firmware] wires four parts onto one [Chip]:
//
//   - the FX2 device HAL, which receives the USB interrupts
//   - the USB device stack, whose control loop is the firmware main loop
//   - the acquisition controller from package scope, attached as vendor
//     request handler and interface class driver
//   - the [Timer] service, which receives timer 2 interrupts
//
// Interrupts are routed by [Firmware] itself: timer 2 goes to the timer,
// everything else to the HAL. With [WithHAL] the USB side runs on another
// HAL (for example the FIFO HAL) while acquisition keeps programming the
// chip.
//
// Example:
//
//	chip := sim.New()
//	fw, err := firmware.New(chip)
//	if err != nil {
//	    return err
//	}
//	go chip.RunTimer(ctx, time.Millisecond)
//	return fw.Run(ctx)
package firmware
