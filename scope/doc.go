// Package scope implements the acquisition control core of a two-channel
// USB oscilloscope built on an FX2 controller.
//
// A [Scope] owns the acquisition configuration (sample rate, channel count,
// alternate setting, input ranges) and the Idle/Running state. It programs
// the chip through an fx2.Bus and is reached from the USB side in two ways:
//
//   - as the device's vendor request handler ([Scope.HandleVendor]), for the
//     five acquisition commands 0xE0-0xE4
//   - as the class driver of interface 0, so SET_INTERFACE reaches
//     [Scope.SelectInterface]
//
// # Ordering
//
// Every configuration path stops acquisition before it touches a register,
// and [Scope.Stop] completes before the next write. The GPIF therefore never
// sees a half-applied configuration. The endpoint registers are recomputed
// from the whole configuration after any change of rate, channel count or
// alternate setting.
//
// # Blocking
//
// Waits on hardware status bits (the GPIF idle gate, EP0 busy) poll without
// a timeout. A stuck bit hangs the control loop, as it would on the chip.
//
// # Example
//
//	dev, _ := scope.NewDevice()
//	s := scope.New(bus)
//	s.Attach(dev)
//	s.Reset()
//	stack := device.NewStack(dev, hal)
//	stack.Start(ctx)
package scope
