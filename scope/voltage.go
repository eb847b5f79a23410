package scope

import (
	"fmt"

	"github.com/ardnew/scopefw/fx2"
	"github.com/ardnew/scopefw/pkg"
)

// Analog switch bits of each channel on port C.
var channelMask = [2]uint8{0x1C, 0xE0}

// rangeBits maps a range code to the switch pattern for both channels; the
// channel mask selects the half that applies.
var rangeBits = map[uint8]uint8{
	1:  0x48,
	2:  0x24,
	5:  0x00,
	10: 0x6C,
}

// Range is a resolved input range selection.
type Range struct {
	Channel uint8
	Code    uint8
	Bits    uint8 // switch bits, already masked to the channel
}

// Mask returns the port C bits owned by the range's channel.
func (r Range) Mask() uint8 {
	return channelMask[r.Channel]
}

// LookupRange resolves a range code for channel.
func LookupRange(channel, code uint8) (Range, error) {
	if int(channel) >= len(channelMask) {
		return Range{}, fmt.Errorf("channel %d: %w", channel, pkg.ErrInvalidParameter)
	}
	bits, ok := rangeBits[code]
	if !ok {
		return Range{}, fmt.Errorf("voltage code %d: %w", code, pkg.ErrInvalidParameter)
	}
	return Range{Channel: channel, Code: code, Bits: bits & channelMask[channel]}, nil
}

// SetVoltage selects the input range of channel. Only the channel's switch
// bits change; an unknown code leaves the port untouched.
func (s *Scope) SetVoltage(channel, code uint8) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.setVoltage(channel, code)
}

func (s *Scope) setVoltage(channel, code uint8) error {
	r, err := LookupRange(channel, code)
	if err != nil {
		return err
	}
	s.bus.Update(fx2.IOC, r.Mask(), r.Bits)
	s.config.Voltage[channel] = code

	pkg.LogDebug(pkg.ComponentScope, "voltage range set",
		"channel", channel,
		"code", code)
	return nil
}
