package vmm

import "titankernel/kernel"

// Translate returns the physical address that corresponds to the supplied
// virtual address or ErrInvalidMapping if the virtual address does not
// correspond to a mapped physical address. Huge mappings (2 MiB at the PD
// level, 1 GiB at the PDPT level) are recognized and translated using the
// wider page boundary instead of the usual 4 KiB one.
func Translate(virtAddr uintptr) (uintptr, *kernel.Error) {
	var (
		err       *kernel.Error
		entry     *pageTableEntry
		hugeLevel uint8 = pageLevels
	)

	walk(virtAddr, func(pteLevel uint8, pte *pageTableEntry) bool {
		if !pte.HasFlags(FlagPresent) {
			err = ErrInvalidMapping
			return false
		}

		entry = pte
		if pteLevel < pageLevels-1 && pte.HasFlags(FlagHugePage) {
			hugeLevel = pteLevel
			return false
		}

		return true
	})

	if err != nil {
		return 0, err
	}

	if hugeLevel == pageLevels {
		// Calculate the physical address by taking the physical frame
		// address and appending the offset from the virtual address
		return entry.Frame().Address() + PageOffset(virtAddr), nil
	}

	hugePageMask := uintptr(1<<pageLevelShifts[hugeLevel]) - 1
	return (entry.Frame().Address() &^ hugePageMask) | (virtAddr & hugePageMask), nil
}

// PageOffset returns the offset within the page specified by a virtual
// address.
func PageOffset(virtAddr uintptr) uintptr {
	return (virtAddr & ((1 << pageLevelShifts[pageLevels-1]) - 1))
}
