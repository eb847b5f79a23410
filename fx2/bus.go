package fx2

// Bus is the firmware's view of the chip registers.
type Bus interface {
	// Read returns the current value of r.
	Read(r Register) uint8

	// Write stores v into r.
	Write(r Register, v uint8)

	// Update replaces the bits of r selected by mask with the matching bits
	// of v. It is atomic with respect to interrupt handlers, like the
	// 8051's bit-addressable port instructions.
	Update(r Register, mask, v uint8)

	// SyncDelay waits the synchronisation delay the chip requires between
	// dependent FIFO and endpoint register accesses.
	SyncDelay()
}

// WriteSync writes v to r and then waits the synchronisation delay.
func WriteSync(b Bus, r Register, v uint8) {
	b.Write(r, v)
	b.SyncDelay()
}

// WaitSet polls r until every bit in mask is set.
func WaitSet(b Bus, r Register, mask uint8) {
	for b.Read(r)&mask != mask {
	}
}

// WaitClear polls r until every bit in mask is clear.
func WaitClear(b Bus, r Register, mask uint8) {
	for b.Read(r)&mask != 0 {
	}
}

// SetAutoPointer2 points autopointer 2 at addr with auto-increment enabled.
// Subsequent writes to XAUTODAT2 store consecutive bytes from addr.
func SetAutoPointer2(b Bus, addr Register) {
	b.Write(AUTOPTRSETUP, AutoPtrSetupBoth)
	b.Write(AUTOPTRH2, uint8(addr>>8))
	b.Write(AUTOPTRL2, uint8(addr))
}

// StreamAutoData2 writes data through autopointer 2.
func StreamAutoData2(b Bus, data ...uint8) {
	for _, v := range data {
		b.Write(XAUTODAT2, v)
	}
}

// FillAutoData2 writes n copies of v through autopointer 2.
func FillAutoData2(b Bus, v uint8, n int) {
	for i := 0; i < n; i++ {
		b.Write(XAUTODAT2, v)
	}
}
