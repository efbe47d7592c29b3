package irq

// IRQHandler handles a hardware interrupt request line. vector is the IDT
// vector the 8259 PIC (or the I/O APIC, once Component F remaps it) used to
// deliver the interrupt.
type IRQHandler func(vector uint8)

// nextFreeVec hands out software-defined interrupt vectors (the local APIC
// timer, inter-processor interrupts, ...) that do not correspond to a
// legacy ISA IRQ line. It starts immediately after the highest
// PIC-remapped vector so that PICRemap(32, 40) followed by a run of
// AllocVec never collides with an IRQ line.
var nextFreeVec uint8 = 48

// PICRemap reprograms the master and slave 8259 PICs so that IRQ 0-7 are
// delivered on vectors offset1..offset1+7 and IRQ 8-15 on vectors
// offset2..offset2+7, moving them out of the CPU's reserved exception
// range (0-31). It must run once, early during interrupt setup, before any
// IRQ line is unmasked.
func PICRemap(offset1, offset2 uint8)

// HandleIRQ registers handler to run whenever the hardware interrupt line
// irqNum (0-15) fires. PICRemap must have already run so that the line's
// vector is routed away from the exception range; the handler is expected
// to send the end-of-interrupt signal itself (see EOI).
func HandleIRQ(irqNum uint8, handler IRQHandler)

// EOI signals end-of-interrupt to the 8259 PIC(s) for the given IDT vector.
// The slave PIC also requires an EOI whenever the serviced IRQ came from
// one of its lines (vector >= 40).
func EOI(vector uint8)

// AllocVec reserves and returns the next unused interrupt vector, for use
// by callers (the local APIC timer, IPIs) that need a private vector
// outside the legacy PIC range.
func AllocVec() uint8 {
	v := nextFreeVec
	nextFreeVec++
	return v
}
