package apic

import (
	"titankernel/kernel/cpu"
	"titankernel/kernel/kfmt"
)

const (
	trampolinePhysAddr = 0x7000

	icrDeliveryModeINIT = 5 << 8
	icrDeliveryModeSIPI = 6 << 8
	icrLevelAssert      = 1 << 14
	icrTriggerLevel     = 1 << 15

	apBootTimeoutSpins = 1 << 20
)

// apEntry is invoked by the trampoline once an application processor has
// reached long mode. It runs on the AP's own stack and must never return.
func apEntry(cpuIndex int) {
	kfmt.Printf("apic: AP %d online (local APIC id %d)\n", cpuIndex, ID())

	writeReg(regLVTTimer, readReg(regLVTTimer))

	for {
		halt()
	}
}

func halt()

// StartAPs brings up every application processor the MADT reported besides
// the bootstrap processor, using the classic INIT-deassert-SIPI-SIPI
// sequence against the local APIC. Each AP lands in apEntry once it reaches
// long mode. Best-effort: an AP that fails to report in within the timeout
// is logged and skipped rather than hanging boot.
func StartAPs() {
	apCount := cpuCount - 1
	if apCount <= 0 {
		return
	}

	entryPhys := cpu.PrepareAPTrampoline(trampolinePhysAddr, apEntry)
	vector := uint8(entryPhys >> 12)
	bsp := ID()

	for id := 0; id < 256 && cpu.APBootedCount() < apCount; id++ {
		apicID := uint8(id)
		if apicID == bsp {
			continue
		}

		SendIPI(apicID, icrDeliveryModeINIT|icrLevelAssert)
		spinWait()
		SendIPI(apicID, icrDeliveryModeINIT)
		spinWait()

		SendIPI(apicID, icrDeliveryModeSIPI|uint32(vector))
		spinWait()
		SendIPI(apicID, icrDeliveryModeSIPI|uint32(vector))

		waitForBoot()
	}

	kfmt.Printf("apic: %d/%d application processor(s) reported in\n", cpu.APBootedCount(), apCount)
}

func spinWait() {
	for i := 0; i < 1<<14; i++ {
		cpu.IOWait()
	}
}

func waitForBoot() {
	before := cpu.APBootedCount()
	for i := 0; i < apBootTimeoutSpins && cpu.APBootedCount() == before; i++ {
		cpu.IOWait()
	}
}
