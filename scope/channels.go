package scope

import (
	"fmt"

	"github.com/ardnew/scopefw/fx2"
	"github.com/ardnew/scopefw/pkg"
)

// fifoConfig returns the EPxFIFOCFG value for n channels: 8-bit for one
// channel, word-wide for two, both with AUTOIN.
func fifoConfig(n uint8) uint8 {
	return 7 + n
}

// SetChannels selects one or two active channels. Both ingress FIFOs are
// always programmed together.
func (s *Scope) SetChannels(n uint8) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.setChannels(n)
}

func (s *Scope) setChannels(n uint8) error {
	if n != 1 && n != 2 {
		return fmt.Errorf("channel count %d: %w", n, pkg.ErrInvalidParameter)
	}
	cfg := fifoConfig(n)
	fx2.WriteSync(s.bus, fx2.EP2FIFOCFG, cfg)
	fx2.WriteSync(s.bus, fx2.EP6FIFOCFG, cfg)
	s.config.Channels = n
	s.applyEndpoints()

	pkg.LogDebug(pkg.ComponentScope, "channel count set", "channels", n)
	return nil
}
