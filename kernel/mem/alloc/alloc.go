package alloc

import (
	"titankernel/kernel"
	"titankernel/kernel/mem"
	"titankernel/kernel/mem/pmm"
	"titankernel/kernel/mem/vmm"
	"unsafe"
)

// kallocMagic tags the header written in front of every large (page-backed)
// allocation so that Free can tell it apart from a slab object sharing the
// same page-aligned base address.
const kallocMagic = 0x4b4d414c // "KMAL"

// kallocHeader precedes the memory handed back by the large-allocation
// path. It records how many pages must be walked back to the PMM on Free.
type kallocHeader struct {
	magic uint32
	pages uint64
}

// Alloc returns a pointer to a freshly allocated, uninitialized block of at
// least size bytes, or an error if no memory is available. Requests that
// fit a slab size class are served by the matching slabCache; larger
// requests fall through to allocLarge.
func Alloc(size uint64) (unsafe.Pointer, *kernel.Error) {
	if size == 0 {
		return nil, nil
	}

	if idx := sizeToIndex(size); idx >= 0 {
		obj, err := caches[idx].alloc()
		if err != nil {
			return nil, err
		}
		return unsafe.Pointer(obj), nil
	}

	return allocLarge(size)
}

// Free releases a block previously returned by Alloc. It recovers the
// page-aligned base address of the block and inspects it for the large-path
// magic; if found, it walks back every page the allocation spans, otherwise
// it dispatches to the slab cache matching the object's own page.
func Free(ptr unsafe.Pointer) {
	if ptr == nil {
		return
	}

	addr := uintptr(ptr)
	pageBase := addr &^ uintptr(mem.PageSize-1)
	hdr := (*kallocHeader)(unsafe.Pointer(pageBase))

	if hdr.magic == kallocMagic {
		freeLarge(pageBase, hdr.pages)
		return
	}

	sp, ok := slabPageIndex[pageBase]
	if !ok {
		return
	}

	caches[sizeToIndex(sp.objSize)].free(addr)
}

// allocLarge reserves a contiguous virtual region big enough for a header
// plus size bytes, maps it one physical page at a time (the pages need not
// be physically contiguous; vmm.MapAllocPage is free to hand back whatever
// frame the PMM has available for each one) and writes the header at the
// start of the region.
func allocLarge(size uint64) (unsafe.Pointer, *kernel.Error) {
	headerSize := uint64(unsafe.Sizeof(kallocHeader{}))
	pageSize := uint64(mem.PageSize)
	pages := (headerSize + size + pageSize - 1) / pageSize

	virt, err := vmm.EarlyReserveRegion(mem.Size(pages * pageSize))
	if err != nil {
		return nil, err
	}

	var mapped uint64
	for ; mapped < pages; mapped++ {
		if _, ok := vmm.MapAllocPage(virt+uintptr(mapped*pageSize), vmm.FlagPresent|vmm.FlagRW); !ok {
			for undo := uint64(0); undo < mapped; undo++ {
				unmapAndFree(virt + uintptr(undo*pageSize))
			}
			return nil, errOutOfMemory
		}
	}

	hdr := (*kallocHeader)(unsafe.Pointer(virt))
	hdr.magic = kallocMagic
	hdr.pages = pages

	return unsafe.Pointer(virt + uintptr(headerSize)), nil
}

// freeLarge unmaps and releases every page spanned by a large allocation
// starting at its page-aligned base address.
func freeLarge(pageBase uintptr, pages uint64) {
	pageSize := uintptr(mem.PageSize)
	for i := uint64(0); i < pages; i++ {
		unmapAndFree(pageBase + uintptr(i)*pageSize)
	}
}

// unmapAndFree releases the physical frame backing a mapped page and then
// removes the mapping itself; frame lookup must happen before Unmap clears
// the translation.
func unmapAndFree(virt uintptr) {
	if phys, err := vmm.Translate(virt); err == nil {
		_ = pmm.FreeFrame(pmm.FrameFromAddress(phys))
	}
	_ = vmm.Unmap(vmm.PageFromAddress(virt))
}
