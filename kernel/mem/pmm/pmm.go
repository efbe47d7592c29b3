package pmm

import (
	"titankernel/kernel"
	"titankernel/kernel/hal/multiboot"
	"titankernel/kernel/kfmt/early"
	"titankernel/kernel/mem"
)

// bitmapBytes sizes the frame bitmap to track up to 2M frames (8GiB of
// addressable physical memory assuming 4K pages). Systems reporting more
// memory than this have their frame count clipped to fit; the excess memory
// is simply never handed out.
const bitmapBytes = 256 * 1024

var (
	// bitmap tracks, one bit per frame, whether a physical frame is
	// currently in use (1) or free (0).
	bitmap [bitmapBytes]byte

	// totalFrames is the number of frames tracked by the bitmap. It is
	// derived from the highest physical address reported as available by
	// the bootloader's memory map, clipped to the bitmap's capacity.
	totalFrames uint64

	// freeFrameCount is the number of currently unallocated frames.
	freeFrameCount uint64

	// lastAllocFrame remembers where the previous AllocFrame scan left off
	// so that repeated allocations do not always re-scan low memory.
	lastAllocFrame uint64

	errOutOfMemory  = &kernel.Error{Module: "pmm", Message: "out of memory"}
	errInvalidFrame = &kernel.Error{Module: "pmm", Message: "invalid frame"}
	errDoubleFree   = &kernel.Error{Module: "pmm", Message: "frame already free"}
)

// maxTrackableFrames returns the number of frames that can be represented by
// the bitmap.
func maxTrackableFrames() uint64 {
	return uint64(bitmapBytes) * 8
}

// Init prepares the frame bitmap using the memory map supplied by the
// bootloader. It marks every frame as used, then walks the memory map twice:
// once to compute the highest available address (and hence the number of
// frames to track), and a second time to mark the frames belonging to
// available regions as free. Finally, it re-reserves the frames that are
// known to be in use despite being reported as available: the kernel image
// itself, the first megabyte of memory, the multiboot information structure,
// and any boot modules loaded by the bootloader.
func Init(kernelStart, kernelEnd uintptr) *kernel.Error {
	for i := range bitmap {
		bitmap[i] = 0xff
	}

	var highestAvailableEnd uint64
	multiboot.VisitMemRegions(func(region *multiboot.MemoryMapEntry) bool {
		if region.Type != multiboot.MemAvailable {
			return true
		}

		end := region.PhysAddress + region.Length
		if end > highestAvailableEnd {
			highestAvailableEnd = end
		}
		return true
	})

	totalFrames = (highestAvailableEnd + uint64(mem.PageSize) - 1) >> mem.PageShift
	if max := maxTrackableFrames(); totalFrames > max {
		early.Printf("[pmm] physical memory exceeds tracked capacity; clipping from %d to %d frames\n", totalFrames, max)
		totalFrames = max
	}

	multiboot.VisitMemRegions(func(region *multiboot.MemoryMapEntry) bool {
		if region.Type != multiboot.MemAvailable {
			return true
		}

		markRegionFree(region.PhysAddress, region.PhysAddress+region.Length)
		return true
	})

	// The kernel image itself is always reported as available memory by the
	// bootloader; reclaim the frames it occupies.
	reserveRegion(uint64(kernelStart), uint64(kernelEnd))

	// The first megabyte of memory holds legacy BIOS data structures (IVT,
	// BDA, VGA memory, option ROMs) that we never want to hand out.
	reserveRegion(0, uint64(1*mem.Mb))

	// The multiboot information structure (tag stream included) must stay
	// alive until we are done consuming it.
	infoAddr := uint64(multiboot.InfoPhysAddr())
	reserveRegion(infoAddr, infoAddr+uint64(multiboot.InfoSize()))

	// Boot modules (e.g. the initial ramdisk) are loaded by the bootloader
	// into otherwise available memory.
	for _, mod := range multiboot.Modules() {
		reserveRegion(uint64(mod.Start), uint64(mod.End))
	}

	freeFrameCount = 0
	for frame := uint64(0); frame < totalFrames; frame++ {
		if !frameUsed(frame) {
			freeFrameCount++
		}
	}

	return nil
}

// frameUsed returns true if the bit corresponding to frame is set.
func frameUsed(frame uint64) bool {
	return bitmap[frame/8]&(1<<(frame%8)) != 0
}

// setFrameUsed marks the bit corresponding to frame as used.
func setFrameUsed(frame uint64) {
	bitmap[frame/8] |= 1 << (frame % 8)
}

// setFrameFree clears the bit corresponding to frame, marking it as free.
func setFrameFree(frame uint64) {
	bitmap[frame/8] &^= 1 << (frame % 8)
}

// markRegionFree clears the bitmap bits for every frame fully contained in
// [startAddr, endAddr). Partial frames at either edge are left untouched so
// that a region can never be considered free because of rounding.
func markRegionFree(startAddr, endAddr uint64) {
	pageSizeMinus1 := uint64(mem.PageSize - 1)
	startFrame := (startAddr + pageSizeMinus1) >> mem.PageShift
	if endAddr < uint64(mem.PageSize) {
		return
	}
	endFrame := (endAddr - uint64(mem.PageSize)) >> mem.PageShift

	for frame := startFrame; frame <= endFrame && frame < totalFrames; frame++ {
		setFrameFree(frame)
	}
}

// reserveRegion marks every frame that overlaps [startAddr, endAddr) as used.
// Unlike markRegionFree, partial frames at the edges are reserved too since
// leaving a partially-reserved frame free would let it be handed out whole.
func reserveRegion(startAddr, endAddr uint64) {
	if endAddr <= startAddr {
		return
	}

	startFrame := startAddr >> mem.PageShift
	endFrame := (endAddr - 1) >> mem.PageShift

	for frame := startFrame; frame <= endFrame && frame < totalFrames; frame++ {
		setFrameUsed(frame)
	}
}

// AllocFrame reserves and returns the next available physical frame. The
// search resumes from the bitmap byte holding the last allocation so that a
// stream of allocations does not repeatedly re-scan already-exhausted low
// memory.
//
// AllocFrame returns an error if no more memory can be allocated.
func AllocFrame() (Frame, *kernel.Error) {
	startByte := lastAllocFrame / 8
	numBytes := uint64(len(bitmap))

	for i := uint64(0); i < numBytes; i++ {
		b := (startByte + i) % numBytes
		if bitmap[b] == 0xff {
			continue
		}

		for bit := uint64(0); bit < 8; bit++ {
			frame := b*8 + bit
			if frame >= totalFrames {
				break
			}

			if !frameUsed(frame) {
				setFrameUsed(frame)
				freeFrameCount--
				lastAllocFrame = frame
				return Frame(frame), nil
			}
		}
	}

	return InvalidFrame, errOutOfMemory
}

// FreeFrame releases a previously allocated frame back to the allocator.
//
// FreeFrame returns an error if the frame index is out of range or the frame
// is already free.
func FreeFrame(f Frame) *kernel.Error {
	frame := uint64(f)
	if frame >= totalFrames {
		return errInvalidFrame
	}

	if !frameUsed(frame) {
		return errDoubleFree
	}

	setFrameFree(frame)
	freeFrameCount++
	return nil
}

// FreeFrameCount returns the number of frames that are currently available
// for allocation.
func FreeFrameCount() uint64 {
	return freeFrameCount
}

// TotalFrameCount returns the number of frames tracked by the allocator.
func TotalFrameCount() uint64 {
	return totalFrames
}
