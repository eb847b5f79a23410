package scope

import (
	"errors"

	"github.com/ardnew/scopefw/device"
	"github.com/ardnew/scopefw/pkg"
)

// Vendor request codes.
const (
	RequestSetVoltage0   uint8 = 0xE0 // payload: range code of channel 0
	RequestSetVoltage1   uint8 = 0xE1 // payload: range code of channel 1
	RequestSetSampleRate uint8 = 0xE2 // payload: rate identifier
	RequestStartStop     uint8 = 0xE3 // payload: 1 starts, anything else stops
	RequestSetChannels   uint8 = 0xE4 // payload: 1 or 2
)

// startCommand is the RequestStartStop payload that starts acquisition.
const startCommand = 1

// RequestName returns the name of a vendor request code.
func RequestName(req uint8) string {
	switch req {
	case RequestSetVoltage0:
		return "SET_VOLTAGE_CH0"
	case RequestSetVoltage1:
		return "SET_VOLTAGE_CH1"
	case RequestSetSampleRate:
		return "SET_SAMPLE_RATE"
	case RequestStartStop:
		return "START_STOP"
	case RequestSetChannels:
		return "SET_CHANNELS"
	default:
		return "UNKNOWN"
	}
}

// HandleVendor implements device.VendorHandler.
//
// Configuration requests stop acquisition before the payload is read and
// applied. A rejected parameter is logged and the transfer still completes,
// leaving the setting unchanged; only unknown request codes are reported as
// unhandled.
func (s *Scope) HandleVendor(setup *device.SetupPacket, data device.ControlData) (bool, error) {
	switch setup.Request {
	case RequestSetVoltage0, RequestSetVoltage1, RequestSetSampleRate,
		RequestStartStop, RequestSetChannels:
	default:
		return false, nil
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	if setup.Request != RequestStartStop {
		s.stop()
		s.indicate(LEDRed, ConfigureBlink)
	}

	var payload [1]byte
	n, err := data.ReadData(payload[:])
	if err != nil {
		return true, err
	}
	if n == 0 {
		pkg.LogWarn(pkg.ComponentScope, "vendor request without payload",
			"request", RequestName(setup.Request))
		return true, nil
	}
	value := payload[0]

	switch setup.Request {
	case RequestSetVoltage0, RequestSetVoltage1:
		err = s.setVoltage(setup.Request-RequestSetVoltage0, value)
	case RequestSetSampleRate:
		err = s.setSampleRate(value)
	case RequestSetChannels:
		err = s.setChannels(value)
	case RequestStartStop:
		if value == startCommand {
			err = s.start()
		} else {
			s.stop()
		}
	}

	if err != nil {
		if !errors.Is(err, pkg.ErrInvalidParameter) && !errors.Is(err, pkg.ErrInvalidState) {
			return true, err
		}
		pkg.LogWarn(pkg.ComponentScope, "vendor request rejected",
			"request", RequestName(setup.Request),
			"value", value,
			"error", err)
		return true, nil
	}

	pkg.LogDebug(pkg.ComponentScope, "vendor request applied",
		"request", RequestName(setup.Request),
		"value", value)
	return true, nil
}
