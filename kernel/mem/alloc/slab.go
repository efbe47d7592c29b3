// Package alloc implements the kernel's general-purpose dynamic memory
// allocator: a slab allocator with per-CPU magazines for small, fixed-size
// requests, falling back to a page-granular bump allocator for anything
// larger. Callers that need to manage their own memory outside of the Go
// garbage collector (PCI/AHCI device state, VFS mount/FD tables, ...) use
// Alloc/Free instead of new()/make().
package alloc

import (
	"titankernel/kernel"
	"titankernel/kernel/mem"
	"titankernel/kernel/mem/pmm"
	"titankernel/kernel/mem/vmm"
	"unsafe"
)

// slabSizes lists the fixed object sizes served by the slab caches. A
// request larger than the last entry is routed to the large-allocation path
// instead.
var slabSizes = [...]uint64{16, 32, 64, 128, 256, 512, 1024, 2048}

// magazineSize bounds the number of objects a per-CPU magazine can hold
// before spilling back to the owning slabPage's free list.
const magazineSize = 8

// maxCPUs bounds the per-cache magazine array. The allocator does not yet
// know how many CPUs are online when it is first used (during early Kmain,
// well before Component F brings up the APs), so every magazine operation
// below addresses index 0 only; the array is sized for the eventual SMP
// case so that switching cpuID() over to the real per-CPU index later is a
// one-line change.
const maxCPUs = 8

var errOutOfMemory = &kernel.Error{Module: "alloc", Message: "out of memory"}

// slabPage describes one page-sized (4 KiB) slab of fixed-size objects.
// Free objects store a pointer to the next free object in their own first
// machine word, so the free list costs no extra memory beyond the page
// itself.
type slabPage struct {
	next, prev  *slabPage
	base        uintptr
	frame       pmm.Frame
	objSize     uint64
	objsPerPage uint64
	freeCount   uint64
	freeList    uintptr
	inPartial   bool
}

// magazine is a small LIFO cache of free objects that lets a CPU allocate or
// free an object without touching the (potentially contended) slab page
// free list.
type magazine struct {
	objs  [magazineSize]uintptr
	count int
}

// slabCache serves allocations for a single object size.
type slabCache struct {
	objSize uint64
	partial *slabPage
	mag     [maxCPUs]magazine
}

var caches [len(slabSizes)]slabCache

func init() {
	for i, size := range slabSizes {
		caches[i].objSize = size
	}
}

// cpuID identifies the calling CPU for the purposes of magazine selection.
// Until Component F's SMP bring-up exposes a real per-CPU index this always
// returns 0, matching every allocation being served from CPU 0's magazine.
func cpuID() int {
	return 0
}

// sizeToIndex returns the slab cache index that should serve a request of
// the given size, or -1 if the request must go through the large-allocation
// path.
func sizeToIndex(size uint64) int {
	for i, s := range slabSizes {
		if size <= s {
			return i
		}
	}
	return -1
}

// newSlabPage reserves a physical frame, maps it permanently into the
// kernel address space and formats it as a free list of objSize objects.
func newSlabPage(objSize uint64) (*slabPage, *kernel.Error) {
	frame, err := pmm.AllocFrame()
	if err != nil {
		return nil, err
	}

	page, err := vmm.MapRegion(frame, mem.PageSize, vmm.FlagPresent|vmm.FlagRW)
	if err != nil {
		_ = pmm.FreeFrame(frame)
		return nil, err
	}

	sp := &slabPage{
		base:        page.Address(),
		frame:       frame,
		objSize:     objSize,
		objsPerPage: uint64(mem.PageSize) / objSize,
	}

	var prev uintptr
	for i := uint64(0); i < sp.objsPerPage; i++ {
		obj := sp.base + uintptr(i*objSize)
		*(*uintptr)(unsafe.Pointer(obj)) = prev
		prev = obj
	}
	sp.freeList = prev
	sp.freeCount = sp.objsPerPage

	slabPageIndex[sp.base] = sp
	return sp, nil
}

// slabPageIndex maps a slab page's page-aligned base address back to its
// slabPage header, so that Free can recover slab bookkeeping from nothing
// more than the object pointer it was handed.
var slabPageIndex = map[uintptr]*slabPage{}

func (c *slabCache) addPartial(sp *slabPage) {
	sp.next = c.partial
	sp.prev = nil
	if c.partial != nil {
		c.partial.prev = sp
	}
	c.partial = sp
	sp.inPartial = true
}

func (c *slabCache) removePartial(sp *slabPage) {
	if sp.prev != nil {
		sp.prev.next = sp.next
	} else {
		c.partial = sp.next
	}
	if sp.next != nil {
		sp.next.prev = sp.prev
	}
	sp.next, sp.prev = nil, nil
	sp.inPartial = false
}

// alloc returns one object of this cache's size, pulling from the current
// CPU's magazine first, then the partial slab page list, creating a new
// slab page if none has room.
func (c *slabCache) alloc() (uintptr, *kernel.Error) {
	mag := &c.mag[cpuID()]
	if mag.count > 0 {
		mag.count--
		return mag.objs[mag.count], nil
	}

	if c.partial == nil {
		sp, err := newSlabPage(c.objSize)
		if err != nil {
			return 0, err
		}
		c.addPartial(sp)
	}

	sp := c.partial
	obj := sp.freeList
	sp.freeList = *(*uintptr)(unsafe.Pointer(obj))
	sp.freeCount--
	if sp.freeCount == 0 {
		c.removePartial(sp)
	}

	return obj, nil
}

// free returns an object to this cache, via the current CPU's magazine if
// it has room, otherwise back to the owning slab page's free list. A slab
// page that becomes entirely free is unmapped and its frame released back
// to the PMM.
func (c *slabCache) free(obj uintptr) {
	mag := &c.mag[cpuID()]
	if mag.count < magazineSize {
		mag.objs[mag.count] = obj
		mag.count++
		return
	}

	pageBase := obj &^ uintptr(mem.PageSize-1)
	sp := slabPageIndex[pageBase]
	if sp == nil {
		return
	}

	wasFull := sp.freeCount == 0
	*(*uintptr)(unsafe.Pointer(obj)) = sp.freeList
	sp.freeList = obj
	sp.freeCount++

	if wasFull {
		c.addPartial(sp)
	}

	if sp.freeCount == sp.objsPerPage {
		if sp.inPartial {
			c.removePartial(sp)
		}
		delete(slabPageIndex, sp.base)
		_ = vmm.Unmap(vmm.PageFromAddress(sp.base))
		_ = pmm.FreeFrame(sp.frame)
	}
}
