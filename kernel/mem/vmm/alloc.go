package vmm

import "titankernel/kernel/mem/pmm"

// MapAllocPage allocates a fresh physical frame and maps it at the given
// virtual page address using the supplied flags. It is the entry point that
// higher-level allocators (the kernel's large-allocation bump-pointer path)
// use to grow the address space one page at a time without reaching into the
// frame allocator or the page table walker themselves. It returns the
// physical address backing the new mapping and true on success; on failure
// the frame (if any was allocated) is returned to the allocator and ok is
// false.
func MapAllocPage(virt uintptr, flags PageTableEntryFlag) (phys uintptr, ok bool) {
	frame, err := frameAllocator()
	if err != nil {
		return 0, false
	}

	if err := mapFn(PageFromAddress(virt), frame, flags); err != nil {
		_ = pmm.FreeFrame(frame)
		return 0, false
	}

	return frame.Address(), true
}

// PML4Phys returns the physical address of the top-level page table
// currently installed by the MMU.
func PML4Phys() uintptr {
	return activePDTFn()
}
