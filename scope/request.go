package scope

import (
	"fmt"
	"strconv"

	"github.com/ardnew/scopefw/device"
	"github.com/ardnew/scopefw/pkg"
)

// Request is a vendor request as a host sends it.
type Request struct {
	Code  uint8
	Value uint8
}

// Setup returns the SETUP packet of r. The value travels in the one-byte
// data stage.
func (r Request) Setup() device.SetupPacket {
	var setup device.SetupPacket
	device.VendorOutSetup(&setup, r.Code, 0, 0, 1)
	return setup
}

// String returns the request in command form.
func (r Request) String() string {
	return fmt.Sprintf("%s(%d)", RequestName(r.Code), r.Value)
}

// ParseRequest builds a vendor request from a command and its arguments:
//
//	voltage CH CODE   select the range code of channel 0 or 1
//	rate ID           select a sample rate identifier
//	channels N        select 1 or 2 channels
//	start
//	stop
//
// Numbers accept Go integer syntax. Values are not range checked beyond
// fitting a byte; the device decides what it accepts.
func ParseRequest(fields []string) (Request, error) {
	if len(fields) == 0 {
		return Request{}, fmt.Errorf("empty command: %w", pkg.ErrInvalidParameter)
	}
	name, args := fields[0], fields[1:]

	want := map[string]int{
		"voltage":  2,
		"rate":     1,
		"channels": 1,
		"start":    0,
		"stop":     0,
	}
	n, ok := want[name]
	if !ok {
		return Request{}, fmt.Errorf("unknown command %q: %w", name, pkg.ErrUnsupportedRequest)
	}
	if len(args) != n {
		return Request{}, fmt.Errorf("%s takes %d arguments: %w", name, n, pkg.ErrInvalidParameter)
	}

	values := make([]uint8, len(args))
	for i, arg := range args {
		v, err := strconv.ParseUint(arg, 0, 8)
		if err != nil {
			return Request{}, fmt.Errorf("%s argument %q: %w", name, arg, pkg.ErrInvalidParameter)
		}
		values[i] = uint8(v)
	}

	switch name {
	case "voltage":
		if values[0] > 1 {
			return Request{}, fmt.Errorf("channel %d: %w", values[0], pkg.ErrInvalidParameter)
		}
		return Request{Code: RequestSetVoltage0 + values[0], Value: values[1]}, nil
	case "rate":
		return Request{Code: RequestSetSampleRate, Value: values[0]}, nil
	case "channels":
		return Request{Code: RequestSetChannels, Value: values[0]}, nil
	case "start":
		return Request{Code: RequestStartStop, Value: startCommand}, nil
	default:
		return Request{Code: RequestStartStop, Value: 0}, nil
	}
}
