package scope

import (
	"github.com/ardnew/scopefw/fx2"
	"github.com/ardnew/scopefw/pkg"
)

// FIFORESET steps.
const (
	fifoResetEP2  uint8 = 0x02
	fifoResetEP6  uint8 = 0x06
	fifoResetDone uint8 = 0x00
)

// resetFIFOs flushes both ingress FIFOs. The GPIF must be idle before the
// FIFOs are touched, and the FIFO configurations are cleared and restored
// so the flag logic resynchronises. Every write is followed by the sync
// delay; any other order can wedge the FIFOs until power cycle.
func (s *Scope) resetFIFOs() {
	s.bus.Write(fx2.GPIFABORT, 0xFF)
	fx2.WaitSet(s.bus, fx2.GPIFTRIG, fx2.GPIFTRIGDone)

	cfg := fifoConfig(s.config.Channels)
	fx2.WriteSync(s.bus, fx2.FIFORESET, fx2.FIFOResetNAKAll)
	fx2.WriteSync(s.bus, fx2.EP2FIFOCFG, 0x00)
	fx2.WriteSync(s.bus, fx2.EP6FIFOCFG, 0x00)
	fx2.WriteSync(s.bus, fx2.EP2FIFOCFG, cfg)
	fx2.WriteSync(s.bus, fx2.EP6FIFOCFG, cfg)
	fx2.WriteSync(s.bus, fx2.FIFORESET, fifoResetEP2)
	fx2.WriteSync(s.bus, fx2.FIFORESET, fifoResetEP6)
	fx2.WriteSync(s.bus, fx2.FIFORESET, fifoResetDone)

	pkg.LogDebug(pkg.ComponentScope, "fifos reset", "fifocfg", cfg)
}
