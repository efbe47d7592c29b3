package apic

import (
	"titankernel/kernel"
	"unsafe"
)

const (
	ioapicRegSelect      = 0x00
	ioapicRegWindow      = 0x10
	ioapicRedirTableBase = 0x10

	redirPolarityActiveLow = 1 << 13
	redirTriggerLevel      = 1 << 15
	redirMasked            = 1 << 16
)

// IOAPICMapIRQ routes the legacy ISA interrupt request line irq to vector on
// the currently executing CPU's local APIC, honoring any interrupt source
// override the MADT declared for that line (translating its polarity and
// trigger mode into the redirection entry and substituting its GSI for the
// raw IRQ number). If mask is true the line is programmed but left masked.
func IOAPICMapIRQ(irq, vector uint8, mask bool) *kernel.Error {
	gsi := uint32(irq)
	var flags uint32

	for _, iso := range isos {
		if iso.irqSrc != irq {
			continue
		}
		gsi = iso.gsi
		if iso.flags&(1<<1) != 0 {
			flags |= redirPolarityActiveLow
		}
		if iso.flags&(1<<3) != 0 {
			flags |= redirTriggerLevel
		}
		break
	}

	if mask {
		flags |= redirMasked
	}

	return mapGSI(gsi, vector, flags)
}

func mapGSI(gsi uint32, vector uint8, flags uint32) *kernel.Error {
	io := ioapicForGSI(gsi)
	if io == nil {
		return errNoIOAPICForGSI
	}

	redirIndex := (gsi - io.gsiBase) * 2
	data := uint64(vector) | uint64(flags) | uint64(ID())<<56

	ioapicRegWrite(io, uint8(ioapicRedirTableBase+redirIndex), uint32(data))
	ioapicRegWrite(io, uint8(ioapicRedirTableBase+redirIndex+1), uint32(data>>32))
	return nil
}

func ioapicForGSI(gsi uint32) *ioapicInfo {
	for i := range ioapics {
		io := &ioapics[i]
		if i == len(ioapics)-1 {
			if io.gsiBase <= gsi {
				return io
			}
			continue
		}
		if io.gsiBase <= gsi && ioapics[i+1].gsiBase > gsi {
			return io
		}
	}
	return nil
}

func ioapicRegRead(io *ioapicInfo, reg uint8) uint32 {
	*(*uint32)(unsafe.Pointer(io.virtAddr + ioapicRegSelect)) = uint32(reg)
	return *(*uint32)(unsafe.Pointer(io.virtAddr + ioapicRegWindow))
}

func ioapicRegWrite(io *ioapicInfo, reg uint8, value uint32) {
	*(*uint32)(unsafe.Pointer(io.virtAddr + ioapicRegSelect)) = uint32(reg)
	*(*uint32)(unsafe.Pointer(io.virtAddr + ioapicRegWindow)) = value
}
