package ahci

import "titankernel/kernel"

const maxSectorsPerRead = 8

// BlockReader implements kernel/block.Reader against this package's
// controller table; it carries no state of its own; every controller is
// looked up by the abar argument Read receives.
type BlockReader struct{}

// NewBlockReader returns the kernel/block.Reader implementation backed by
// this package, for wiring up with block.SetReader at boot.
func NewBlockReader() BlockReader {
	return BlockReader{}
}

// Read implements kernel/block.Reader. abar must be the physical ABAR base
// address a disk was registered under (see identifyPort/block.RegisterDisk).
func (BlockReader) Read(abar uintptr, port int, lba uint64, count uint16, out []byte) error {
	ctrl, ok := findController(abar)
	if !ok {
		return errPortNotImplemented
	}

	ps := &ctrl.ports[port]
	if !ps.inUse {
		return errDeviceNotPresent
	}

	for count > 0 {
		chunk := count
		if chunk > maxSectorsPerRead {
			chunk = maxSectorsPerRead
		}

		if err := readSectors(ctrl, port, lba, chunk, out[:int(chunk)*sectorSize]); err != nil {
			return err
		}

		out = out[int(chunk)*sectorSize:]
		lba += uint64(chunk)
		count -= chunk
	}

	return nil
}

func readSectors(ctrl *controller, port int, lba uint64, count uint16, out []byte) *kernel.Error {
	ps := &ctrl.ports[port]

	slot, ok := findCmdSlot(ctrl, port)
	if !ok {
		return errNoCmdSlot
	}

	setCmdHeaderFlags(ps, slot, 5, false, false, 1)
	writeH2DFIS(ps.ctblVirt, ataCmdReadDMAExt, lba, count, false)
	writePRDT(ps.ctblVirt, ps.bufPhys, uint32(count)*sectorSize)

	if err := issueCommand(ctrl, port, slot); err != nil {
		return err
	}

	for i := 0; i < len(out); i++ {
		out[i] = read8(ps.bufVirt + uintptr(i))
	}
	return nil
}
