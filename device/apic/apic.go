// Package apic programs the local APIC and I/O APIC using the MADT
// enumerated by device/acpi, and brings up any additional CPUs the MADT
// reports.
package apic

import (
	"titankernel/device"
	"titankernel/device/acpi"
	"titankernel/device/acpi/table"
	"titankernel/kernel"
	"titankernel/kernel/cpu"
	"titankernel/kernel/kfmt"
	"titankernel/kernel/mem"
	"titankernel/kernel/mem/pmm"
	"titankernel/kernel/mem/vmm"
	"unsafe"
)

// Local APIC register offsets (relative to the mapped LAPIC base).
const (
	regID           = 0x20
	regEOI          = 0xb0
	regSpuriousInt  = 0xf0
	regICRLow       = 0x300
	regICRHigh      = 0x310
	regLVTTimer     = 0x320
	regInitCount    = 0x380
	regCurrentCount = 0x390
	regDivideConfig = 0x3e0
)

const (
	apicBaseMSR          = 0x1b
	apicBaseMSREnableBit = 1 << 11
	spuriousIntEnableBit = 1 << 8
	spuriousVector       = 0xff
)

type ioapicInfo struct {
	id       uint8
	physAddr uint32
	virtAddr uintptr
	gsiBase  uint32
}

type isoInfo struct {
	irqSrc uint8
	gsi    uint32
	flags  uint16
}

var (
	lapicPhysAddr uintptr
	lapicVirtAddr uintptr
	ioapics       []ioapicInfo
	isos          []isoInfo
	cpuCount      int

	errNoMADT          = &kernel.Error{Module: "apic", Message: "MADT table not found"}
	errNoIOAPICForGSI  = &kernel.Error{Module: "apic", Message: "no I/O APIC owns the requested GSI"}
	errLAPICMapFailed  = &kernel.Error{Module: "apic", Message: "failed to map local APIC registers"}
	errIOAPICMapFailed = &kernel.Error{Module: "apic", Message: "failed to map I/O APIC registers"}

	// mapRegionFn is swapped out in tests so that MADT parsing can be
	// exercised without a real PMM/VMM backing it.
	mapRegionFn = vmm.MapRegion
)

// Init walks the MADT, records every local APIC (CPU), I/O APIC and
// interrupt source override it lists, maps the local and I/O APIC register
// pages, and software-enables the local APIC.
func Init() *kernel.Error {
	addr, ok := acpi.FindTable("APIC")
	if !ok {
		return errNoMADT
	}

	parseMADT(addr)

	if err := mapLocalAPIC(); err != nil {
		return err
	}

	if err := mapIOAPICs(); err != nil {
		return err
	}

	enableLocalAPIC()

	kfmt.Printf("apic: %d CPU(s), %d I/O APIC(s), local APIC at 0x%x\n", cpuCount, len(ioapics), lapicPhysAddr)
	return nil
}

// CPUCount returns the number of enabled processor local APICs the MADT
// reported.
func CPUCount() int {
	return cpuCount
}

// parseMADT walks the variable-length entry records that follow the MADT
// header at addr, populating cpuCount, ioapics and isos. addr must point at
// an already-mapped, checksum-verified MADT (see device/acpi.FindTable).
func parseMADT(addr uintptr) {
	madt := (*table.MADT)(unsafe.Pointer(addr))
	lapicPhysAddr = uintptr(madt.LocalControllerAddress)

	entriesStart := addr + unsafe.Sizeof(table.MADT{})
	entriesEnd := addr + uintptr(madt.Length)

	cpuCount, ioapics, isos = 0, nil, nil

	for p := entriesStart; p+unsafe.Sizeof(table.MADTEntry{}) <= entriesEnd; {
		entry := (*table.MADTEntry)(unsafe.Pointer(p))
		if entry.Length < 2 || p+uintptr(entry.Length) > entriesEnd {
			break
		}
		data := p + unsafe.Sizeof(table.MADTEntry{})

		switch entry.Type {
		case table.MADTEntryTypeLocalAPIC:
			lapic := (*table.MADTEntryLocalAPIC)(unsafe.Pointer(data))
			if lapic.Flags&0x1 != 0 {
				cpuCount++
			}
		case table.MADTEntryTypeIOAPIC:
			io := (*table.MADTEntryIOAPIC)(unsafe.Pointer(data))
			ioapics = append(ioapics, ioapicInfo{id: io.APICID, physAddr: io.Address, gsiBase: io.SysInterruptBase})
		case table.MADTEntryTypeIntSrcOverride:
			iso := (*table.MADTEntryInterruptSrcOverride)(unsafe.Pointer(data))
			isos = append(isos, isoInfo{irqSrc: iso.IRQSrc, gsi: iso.GlobalInterrupt, flags: iso.Flags})
		}

		p += uintptr(entry.Length)
	}
}

func mapLocalAPIC() *kernel.Error {
	page, err := mapRegionFn(pmm.FrameFromAddress(lapicPhysAddr), mem.PageSize, vmm.FlagPresent|vmm.FlagRW|vmm.FlagNoExecute|vmm.FlagDoNotCache)
	if err != nil {
		return errLAPICMapFailed
	}
	lapicVirtAddr = page.Address() + vmm.PageOffset(lapicPhysAddr)
	return nil
}

func mapIOAPICs() *kernel.Error {
	for i := range ioapics {
		io := &ioapics[i]
		page, err := mapRegionFn(pmm.FrameFromAddress(uintptr(io.physAddr)), mem.PageSize, vmm.FlagPresent|vmm.FlagRW|vmm.FlagNoExecute|vmm.FlagDoNotCache)
		if err != nil {
			return errIOAPICMapFailed
		}
		io.virtAddr = page.Address() + vmm.PageOffset(uintptr(io.physAddr))
	}
	return nil
}

func enableLocalAPIC() {
	base := cpu.ReadMSR(apicBaseMSR)
	cpu.WriteMSR(apicBaseMSR, base|apicBaseMSREnableBit)

	writeReg(regSpuriousInt, spuriousVector|spuriousIntEnableBit)
}

func readReg(reg uint32) uint32 {
	return *(*uint32)(unsafe.Pointer(lapicVirtAddr + uintptr(reg)))
}

func writeReg(reg uint32, value uint32) {
	*(*uint32)(unsafe.Pointer(lapicVirtAddr + uintptr(reg))) = value
}

// ID returns the local APIC ID of the currently executing CPU.
func ID() uint8 {
	return uint8(readReg(regID) >> 24)
}

// EOI signals end-of-interrupt to the local APIC.
func EOI() {
	writeReg(regEOI, 0)
}

// SendIPI posts an inter-processor interrupt to the CPU with the given
// local APIC ID, using the given ICR delivery-mode/vector low dword.
func SendIPI(apicID uint8, icrLow uint32) {
	writeReg(regICRHigh, uint32(apicID)<<24)
	writeReg(regICRLow, icrLow)
}

func probeForAPIC() device.Driver {
	if err := Init(); err != nil {
		return nil
	}
	return nil
}

func init() {
	device.RegisterDriver(&device.DriverInfo{
		Order: device.DetectOrderLast,
		Probe: probeForAPIC,
	})
}
