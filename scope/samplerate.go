package scope

import (
	"fmt"

	"github.com/ardnew/scopefw/fx2"
	"github.com/ardnew/scopefw/pkg"
)

// Profile holds the GPIF program parameters of one sample rate.
//
// The program is a single waveform. Slow rates wait Wait0 clocks, sample,
// wait Wait1 clocks and jump back. The fastest rates loop on a single
// state with the FIFO strobe tied to the clock; the difference lives
// entirely in the fields.
type Profile struct {
	ID       uint8  // Rate identifier sent by the host
	Wait0    uint8  // State 0 length or branch
	Wait1    uint8  // State 1 length or branch
	Opcode0  uint8  // State 0 opcode
	Opcode1  uint8  // State 1 opcode
	Output0  uint8  // State 0 output
	IFConfig uint8  // IFCONFIG value: clock source and polarity
	KSPS     uint32 // Nominal rate in ksps
}

// Profiles is the sample rate table, fastest first.
var Profiles = [...]Profile{
	{ID: 48, Wait0: 0x80, Wait1: 0, Opcode0: 3, Opcode1: 0, Output0: 0x00, IFConfig: 0xEA, KSPS: 48000},
	{ID: 30, Wait0: 0x80, Wait1: 0, Opcode0: 3, Opcode1: 0, Output0: 0x00, IFConfig: 0xAA, KSPS: 30000},
	{ID: 24, Wait0: 1, Wait1: 0, Opcode0: 2, Opcode1: 1, Output0: 0x40, IFConfig: 0xCA, KSPS: 24000},
	{ID: 16, Wait0: 1, Wait1: 1, Opcode0: 2, Opcode1: 0, Output0: 0x40, IFConfig: 0xCA, KSPS: 16000},
	{ID: 12, Wait0: 2, Wait1: 1, Opcode0: 2, Opcode1: 0, Output0: 0x40, IFConfig: 0xCA, KSPS: 12000},
	{ID: 8, Wait0: 3, Wait1: 2, Opcode0: 2, Opcode1: 0, Output0: 0x40, IFConfig: 0xCA, KSPS: 8000},
	{ID: 4, Wait0: 6, Wait1: 5, Opcode0: 2, Opcode1: 0, Output0: 0x40, IFConfig: 0xCA, KSPS: 4000},
	{ID: 2, Wait0: 12, Wait1: 11, Opcode0: 2, Opcode1: 0, Output0: 0x40, IFConfig: 0xCA, KSPS: 2000},
	{ID: 1, Wait0: 24, Wait1: 23, Opcode0: 2, Opcode1: 0, Output0: 0x40, IFConfig: 0xCA, KSPS: 1000},
	{ID: 50, Wait0: 48, Wait1: 47, Opcode0: 2, Opcode1: 0, Output0: 0x40, IFConfig: 0xCA, KSPS: 500},
	{ID: 20, Wait0: 120, Wait1: 119, Opcode0: 2, Opcode1: 0, Output0: 0x40, IFConfig: 0xCA, KSPS: 200},
	{ID: 10, Wait0: 240, Wait1: 239, Opcode0: 2, Opcode1: 0, Output0: 0x40, IFConfig: 0xCA, KSPS: 100},
}

// LookupProfile returns the profile with the given identifier.
func LookupProfile(id uint8) (Profile, bool) {
	for _, p := range Profiles {
		if p.ID == id {
			return p, true
		}
	}
	return Profile{}, false
}

// Program returns the waveform memory image for p. Waveform 0 holds the
// program; its logic word and waveforms 1-3 are zero.
func Program(p Profile) [fx2.WaveDataSize]byte {
	var image [fx2.WaveDataSize]byte
	copy(image[0*fx2.WaveWordSize:], []byte{p.Wait0, p.Wait1, 1})
	copy(image[1*fx2.WaveWordSize:], []byte{p.Opcode0, p.Opcode1, 1})
	copy(image[2*fx2.WaveWordSize:], []byte{p.Output0, 0x44, 0x44})
	return image
}

// SetSampleRate loads the GPIF program for rate id. An unknown id leaves
// the previous program and rate in place.
func (s *Scope) SetSampleRate(id uint8) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.setSampleRate(id)
}

func (s *Scope) setSampleRate(id uint8) error {
	p, ok := LookupProfile(id)
	if !ok {
		return fmt.Errorf("sample rate %d: %w", id, pkg.ErrInvalidParameter)
	}

	fx2.WriteSync(s.bus, fx2.IFCONFIG, p.IFConfig)

	// Abort whatever is running and clear the GPIF control state.
	s.bus.Write(fx2.GPIFABORT, 0xFF)
	fx2.WriteSync(s.bus, fx2.GPIFREADYCFG, 0xC0)
	fx2.WriteSync(s.bus, fx2.GPIFCTLCFG, 0x00)
	fx2.WriteSync(s.bus, fx2.GPIFIDLECS, 0x00)
	fx2.WriteSync(s.bus, fx2.GPIFIDLECTL, 0x0F)
	fx2.WriteSync(s.bus, fx2.GPIFWFSELECT, 0x00)
	fx2.WriteSync(s.bus, fx2.GPIFREADYSTAT, 0x00)

	image := Program(p)
	fx2.SetAutoPointer2(s.bus, fx2.GPIFWaveData)
	fx2.StreamAutoData2(s.bus, image[:]...)

	s.config.RateID = p.ID
	s.config.KSPS = p.KSPS
	s.applyEndpoints()

	pkg.LogDebug(pkg.ComponentScope, "sample rate set",
		"id", p.ID,
		"ksps", p.KSPS)
	return nil
}
