package ahci

import (
	"titankernel/kernel"
	"titankernel/kernel/block"
	"titankernel/kernel/dev"
	"titankernel/kernel/kfmt"
)

const sectorSize = 512

var diskCounter int

// identifyPort probes one implemented port: resets its SATA link, allocates
// its command structures, issues IDENTIFY (or, for an ATAPI signature,
// IDENTIFY PACKET DEVICE followed by a SCSI INQUIRY fallback), and on
// success reads the MBR and registers the disk and its partitions.
func identifyPort(ctrl *controller, port int) {
	if !portResetAndWait(ctrl, port) {
		return
	}

	sig := readPort(ctrl, port, portSIG)
	atapi := sig == sigATAPI

	if err := ensurePortStructures(ctrl, port); err != nil {
		kfmt.Printf("ahci: port %d: %s\n", port, err.Error())
		return
	}

	identifyCmd := ataCmdIdentify
	if atapi {
		identifyCmd = ataCmdIdentifyPacket
	}

	if err := runIdentify(ctrl, port, uint8(identifyCmd)); err != nil {
		if !atapi {
			return
		}
		if err := runATAPIInquiry(ctrl, port); err != nil {
			return
		}
	}

	name := diskName(diskCounter)
	diskCounter++
	ctrl.diskName[port] = name

	if err := block.RegisterDisk(name, ctrl.abarPhys, port); err != nil {
		kfmt.Printf("ahci: %s\n", err.Error())
		return
	}
	if err := dev.Register("/dev/"+name, dev.TypeBlock, nil, 0); err != nil {
		kfmt.Printf("ahci: %s\n", err.Error())
	}

	registerPartitions(ctrl, port, name)
}

func diskName(index int) string {
	return "sd" + string(rune('a'+index))
}

func runIdentify(ctrl *controller, port int, command uint8) *kernel.Error {
	ps := &ctrl.ports[port]

	slot, ok := findCmdSlot(ctrl, port)
	if !ok {
		return errNoCmdSlot
	}

	setCmdHeaderFlags(ps, slot, 5, false, false, 1)
	writeH2DFIS(ps.ctblVirt, command, 0, 1, false)
	writePRDT(ps.ctblVirt, ps.bufPhys, sectorSize)

	return issueCommand(ctrl, port, slot)
}

func runATAPIInquiry(ctrl *controller, port int) *kernel.Error {
	ps := &ctrl.ports[port]

	slot, ok := findCmdSlot(ctrl, port)
	if !ok {
		return errNoCmdSlot
	}

	cdb := [12]byte{0: 0x12, 4: 36}
	for i, b := range cdb {
		write8(ps.ctblVirt+0x40+uintptr(i), b)
	}

	setCmdHeaderFlags(ps, slot, 5, false, true, 1)
	writeH2DFIS(ps.ctblVirt, atapiCmdPacket, 0, 0, true)
	writePRDT(ps.ctblVirt, ps.bufPhys, 36)

	return issueCommand(ctrl, port, slot)
}

const (
	mbrSignatureOffset = 510
	mbrPartitionTable  = 0x1be
	mbrPartitionSize   = 16
	mbrPartitionCount  = 4
)

// registerPartitions reads sector 0 of the freshly-identified disk, checks
// for a valid MBR boot signature, and registers each non-empty primary
// partition entry with kernel/block and kernel/dev.
func registerPartitions(ctrl *controller, port int, diskName string) {
	ps := &ctrl.ports[port]

	slot, ok := findCmdSlot(ctrl, port)
	if !ok {
		return
	}

	setCmdHeaderFlags(ps, slot, 5, false, false, 1)
	writeH2DFIS(ps.ctblVirt, ataCmdReadDMAExt, 0, 1, false)
	writePRDT(ps.ctblVirt, ps.bufPhys, sectorSize)

	if err := issueCommand(ctrl, port, slot); err != nil {
		return
	}

	parts, ok := parseMBRPartitions(ps.bufVirt)
	if !ok {
		return
	}

	for _, p := range parts {
		if err := block.RegisterPartition(diskName, p.index, p.startLBA, p.sectorCount); err != nil {
			kfmt.Printf("ahci: %s\n", err.Error())
			continue
		}

		partName := diskName + string(rune('0'+p.index))
		if err := dev.Register("/dev/"+partName, dev.TypeBlock, nil, 0); err != nil {
			kfmt.Printf("ahci: %s\n", err.Error())
		}
	}
}

type mbrPartition struct {
	index       int
	startLBA    uint64
	sectorCount uint64
}

// parseMBRPartitions reads the classic 4-entry primary partition table out
// of a sector-0 buffer already sitting at bufVirt, returning false if the
// buffer does not carry a valid MBR boot signature. Empty partition table
// entries (type byte 0 or a zero sector count) are skipped.
func parseMBRPartitions(bufVirt uintptr) ([]mbrPartition, bool) {
	if read8(bufVirt+mbrSignatureOffset) != 0x55 || read8(bufVirt+mbrSignatureOffset+1) != 0xaa {
		return nil, false
	}

	var parts []mbrPartition
	for i := 0; i < mbrPartitionCount; i++ {
		entry := bufVirt + mbrPartitionTable + uintptr(i)*mbrPartitionSize
		if read8(entry+4) == 0 {
			continue
		}

		startLBA := uint64(read32(entry + 8))
		count := uint64(read32(entry + 12))
		if count == 0 {
			continue
		}

		parts = append(parts, mbrPartition{index: i + 1, startLBA: startLBA, sectorCount: count})
	}

	return parts, true
}
