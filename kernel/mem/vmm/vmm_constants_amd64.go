package vmm

import "math"

const (
	// pageLevels indicates the number of page table levels used by amd64
	// paging: PML4, PDPT, PD and PT.
	pageLevels = 4

	// ptePhysPageMask extracts the physical memory address pointed to by a
	// page table entry. Bits 12-51 encode the physical address.
	ptePhysPageMask = uintptr(0x000ffffffffff000)

	// tempMappingAddr is a reserved virtual page address used for
	// temporary physical page mappings (e.g. when zeroing a freshly
	// allocated frame). For amd64 this address uses page table indices
	// 510, 511, 511, 511.
	tempMappingAddr = uintptr(0xffffff7ffffff000)
)

var (
	// pdtVirtualAddr exploits the recursive mapping installed in the last
	// PML4 entry to let the MMU's own address translation expose the
	// active page tables as normal memory: setting every page-level index
	// to the all-ones pattern makes each level of the walk re-enter the
	// PML4 instead of descending, landing on the table itself.
	pdtVirtualAddr = uintptr(math.MaxUint64 &^ ((1 << 12) - 1))

	// pageLevelBits defines the number of virtual address bits consumed by
	// each page level. Each level indexes 512 entries (9 bits).
	pageLevelBits = [pageLevels]uint8{9, 9, 9, 9}

	// pageLevelShifts defines the shift required to extract each page
	// table level's index from a virtual address.
	pageLevelShifts = [pageLevels]uint8{39, 30, 21, 12}
)

const (
	// FlagPresent is set when the page is resident in memory.
	FlagPresent PageTableEntryFlag = 1 << iota

	// FlagRW is set if the page can be written to.
	FlagRW

	// FlagUserAccessible is set if user-mode code can access this page.
	FlagUserAccessible

	// FlagWriteThroughCaching implies write-through caching when set and
	// write-back caching when cleared.
	FlagWriteThroughCaching

	// FlagDoNotCache prevents this page from being cached if set.
	FlagDoNotCache

	// FlagAccessed is set by the CPU when this page is accessed.
	FlagAccessed

	// FlagDirty is set by the CPU when this page is modified.
	FlagDirty

	// FlagHugePage indicates a 2 MiB (PD) or 1 GiB (PDPT) mapping instead
	// of a regular 4 KiB page.
	FlagHugePage

	// FlagGlobal prevents the TLB from flushing this page's cached
	// translation across a CR3 reload.
	FlagGlobal

	// FlagCopyOnWrite marks a read-only page that should be duplicated on
	// the first write fault. Mutually exclusive with FlagRW.
	FlagCopyOnWrite = 1 << 9

	// FlagNoExecute marks a page as containing non-executable data.
	FlagNoExecute = 1 << 63
)
