package ahci

import (
	"titankernel/kernel"
	"titankernel/kernel/cpu"
	"titankernel/kernel/mem"
	"titankernel/kernel/mem/pmm"
	"titankernel/kernel/mem/vmm"
)

// cmdSlotCount bounds the command list this driver builds per port. The
// controller may advertise fewer usable slots via CAP.NCS, but every port
// this driver touches only ever has one command outstanding at a time, so a
// fixed upper bound is simpler than reading CAP back out.
const cmdSlotCount = 32

const (
	cmdHeaderSize = 32
	ctbaOffset    = 0x08
	ctbauOffset   = 0x0c

	cfisOffset = 0x00
	prdtOffset = 0x80

	ataCmdIdentify       = 0xec
	ataCmdIdentifyPacket = 0xa1
	ataCmdReadDMAExt     = 0x25
	atapiCmdPacket       = 0xa0

	fisTypeRegH2D = 0x27
)

// ensurePortStructures allocates (once) and wires up the command list, FIS
// receive area and command table backing a port, then starts it.
func ensurePortStructures(ctrl *controller, port int) *kernel.Error {
	ps := &ctrl.ports[port]
	if ps.inUse {
		return nil
	}

	clbFrame, err := pmm.AllocFrame()
	if err != nil {
		return errAllocFailed
	}
	fbFrame, err := pmm.AllocFrame()
	if err != nil {
		return errAllocFailed
	}
	ctblFrame, err := pmm.AllocFrame()
	if err != nil {
		return errAllocFailed
	}
	bufFrame, err := pmm.AllocFrame()
	if err != nil {
		return errAllocFailed
	}

	structFlags := vmm.FlagPresent | vmm.FlagRW | vmm.FlagNoExecute

	clbPage, kerr := mapRegionFn(clbFrame, mem.PageSize, structFlags)
	if kerr != nil {
		return errAllocFailed
	}
	fbPage, kerr := mapRegionFn(fbFrame, mem.PageSize, structFlags)
	if kerr != nil {
		return errAllocFailed
	}
	ctblPage, kerr := mapRegionFn(ctblFrame, mem.PageSize, structFlags)
	if kerr != nil {
		return errAllocFailed
	}
	bufPage, kerr := mapRegionFn(bufFrame, mem.PageSize, structFlags)
	if kerr != nil {
		return errAllocFailed
	}

	ps.clbPhys, ps.clbVirt = clbFrame.Address(), clbPage.Address()
	ps.fbPhys, ps.fbVirt = fbFrame.Address(), fbPage.Address()
	ps.ctblPhys, ps.ctblVirt = ctblFrame.Address(), ctblPage.Address()
	ps.bufPhys, ps.bufVirt = bufFrame.Address(), bufPage.Address()

	zeroPage(ps.clbVirt)
	zeroPage(ps.fbVirt)
	zeroPage(ps.ctblVirt)
	zeroPage(ps.bufVirt)

	stopPort(ctrl, port)

	writePort(ctrl, port, portCLB, uint32(ps.clbPhys))
	writePort(ctrl, port, portCLBU, uint32(uint64(ps.clbPhys)>>32))
	writePort(ctrl, port, portFB, uint32(ps.fbPhys))
	writePort(ctrl, port, portFBU, uint32(uint64(ps.fbPhys)>>32))

	for slot := 0; slot < cmdSlotCount; slot++ {
		hdr := ps.clbVirt + uintptr(slot)*cmdHeaderSize
		write32(hdr+ctbaOffset, uint32(ps.ctblPhys))
		write32(hdr+ctbauOffset, uint32(uint64(ps.ctblPhys)>>32))
	}

	startPort(ctrl, port)

	ps.inUse = true
	return nil
}

func zeroPage(virt uintptr) {
	for i := uintptr(0); i < uintptr(mem.PageSize); i += 4 {
		write32(virt+i, 0)
	}
}

// setCmdHeaderFlags fills in the per-command fields of the slot's command
// header (command FIS length, write direction, ATAPI flag and PRDT entry
// count); ctba/ctbau were already pinned at allocation time.
func setCmdHeaderFlags(ps *portState, slot int, cfisDWords uint8, write, atapi bool, prdtCount uint16) {
	hdr := ps.clbVirt + uintptr(slot)*cmdHeaderSize

	b0 := cfisDWords & 0x1f
	if atapi {
		b0 |= 1 << 5
	}
	if write {
		b0 |= 1 << 6
	}
	write8(hdr+0, b0)
	write8(hdr+1, 0)
	write16(hdr+2, prdtCount)
	write32(hdr+4, 0)
}

// writeH2DFIS builds a Register H2D FIS at the start of the command table,
// addressing lba in LBA48 and requesting count sectors.
func writeH2DFIS(ctblVirt uintptr, command uint8, lba uint64, count uint16, atapi bool) {
	base := ctblVirt + cfisOffset
	for i := uintptr(0); i < 20; i++ {
		write8(base+i, 0)
	}

	write8(base+0, fisTypeRegH2D)
	write8(base+1, 1<<7) // "C" bit: this is a command, not a device control update
	write8(base+2, command)

	write8(base+4, uint8(lba))
	write8(base+5, uint8(lba>>8))
	write8(base+6, uint8(lba>>16))
	dev := uint8(1 << 6)
	if atapi {
		dev = 0
	}
	write8(base+7, dev)
	write8(base+8, uint8(lba>>24))
	write8(base+9, uint8(lba>>32))
	write8(base+10, uint8(lba>>40))

	write8(base+12, uint8(count))
	write8(base+13, uint8(count>>8))
}

// writePRDT programs the single PRDT entry used by every command this
// driver issues, describing a physically-contiguous destination buffer.
func writePRDT(ctblVirt uintptr, bufPhys uintptr, byteCount uint32) {
	entry := ctblVirt + prdtOffset
	write32(entry+0, uint32(bufPhys))
	write32(entry+4, uint32(uint64(bufPhys)>>32))
	write32(entry+8, 0)
	// dbc holds (byte count - 1) and the interrupt-on-completion bit (31).
	write32(entry+12, (byteCount-1)|(1<<31))
}

// issueCommand programs slot with an already-built FIS/PRDT, rings the
// doorbell, and polls for completion, returning an error on timeout or a
// reported task file error.
func issueCommand(ctrl *controller, port, slot int) *kernel.Error {
	writePort(ctrl, port, portCI, 1<<uint(slot))

	for i := 0; i < spinLimit; i++ {
		ci := readPort(ctrl, port, portCI)
		if ci&(1<<uint(slot)) == 0 {
			if readPort(ctrl, port, portIS)&isTFES != 0 {
				writePort(ctrl, port, portIS, isTFES)
				return errTaskFileError
			}
			return nil
		}
		if readPort(ctrl, port, portIS)&isTFES != 0 {
			writePort(ctrl, port, portIS, isTFES)
			return errTaskFileError
		}
		cpu.IOWait()
	}
	return errCommandTimeout
}
