package allocator

import (
	"github.com/Zakki0925224/myos-x86-64/kernel"
	"github.com/Zakki0925224/myos-x86-64/kernel/hal/bootinfo"
	"github.com/Zakki0925224/myos-x86-64/kernel/kfmt/early"
	"github.com/Zakki0925224/myos-x86-64/kernel/mem"
	"github.com/Zakki0925224/myos-x86-64/kernel/mem/pmm"
)

var (
	// earlyAllocator is a boot mem allocator instance used for page
	// allocations before switching to the bitmap allocator.
	earlyAllocator bootMemAllocator

	errBootAllocOutOfMemory = &kernel.Error{Module: "boot_mem_alloc", Message: "out of memory"}
)

// bootMemAllocator implements a rudimentary physical memory allocator used to
// bootstrap the kernel before BitmapAllocator's pool bitmaps exist.
//
// The allocator scans the memory region information reported by the
// bootloader's UEFI hand-off block to find free frames. Allocations are
// tracked via an internal counter holding the last allocated frame; frames
// occupied by the kernel image itself (kernelStartFrame..kernelEndFrame) are
// skipped.
//
// Due to the way the allocator works, it is not possible to free allocated
// pages. Once BitmapAllocator is initialized, the frames it allocated are
// folded into its reserved-page accounting via reserveEarlyAllocatorFrames.
type bootMemAllocator struct {
	// allocCount tracks the total number of allocated frames.
	allocCount uint64

	// lastAllocFrame tracks the last allocated frame number.
	lastAllocFrame pmm.Frame

	// kernelStartFrame and kernelEndFrame bound the frames occupied by the
	// kernel image, reported by the bootloader.
	kernelStartFrame pmm.Frame
	kernelEndFrame   pmm.Frame
}

// init records the frame range occupied by the kernel image.
func (alloc *bootMemAllocator) init(kernelStart, kernelEnd uintptr) {
	alloc.kernelStartFrame = pmm.Frame(kernelStart >> mem.PageShift)
	alloc.kernelEndFrame = pmm.Frame(kernelEnd >> mem.PageShift)
}

// AllocFrame scans the system memory regions reported by the bootloader and
// reserves the next available free frame that does not overlap the kernel
// image.
//
// AllocFrame returns an error if no more memory can be allocated.
func (alloc *bootMemAllocator) AllocFrame() (pmm.Frame, *kernel.Error) {
	var err = errBootAllocOutOfMemory

	bootinfo.VisitMemRegions(func(region *bootinfo.MemoryMapEntry) bool {
		// Ignore reserved regions and regions smaller than a single page
		if region.Type != bootinfo.MemAvailable || region.Length < uint64(mem.PageSize) {
			return true
		}

		// Reported addresses may not be page-aligned; round up to get
		// the start frame and round down to get the end frame
		pageSizeMinus1 := uint64(mem.PageSize - 1)
		regionStartFrame := pmm.Frame(((region.PhysAddress + pageSizeMinus1) &^ pageSizeMinus1) >> mem.PageShift)
		regionEndFrame := pmm.Frame(((region.PhysAddress+region.Length)&^pageSizeMinus1)>>mem.PageShift) - 1

		// Ignore already allocated regions
		if alloc.allocCount != 0 && alloc.lastAllocFrame >= regionEndFrame {
			return true
		}

		// The last allocated frame will be either pointing to a
		// previous region or will point inside this region. In the
		// first case (or if this is the first allocation) we select
		// the start frame for this region. In the latter case we
		// select the next available frame.
		var candidate pmm.Frame
		if alloc.allocCount == 0 || alloc.lastAllocFrame < regionStartFrame {
			candidate = regionStartFrame
		} else {
			candidate = alloc.lastAllocFrame + 1
		}

		// Skip over the kernel image itself.
		if candidate >= alloc.kernelStartFrame && candidate <= alloc.kernelEndFrame {
			candidate = alloc.kernelEndFrame + 1
		}
		if candidate > regionEndFrame {
			return true
		}

		alloc.lastAllocFrame = candidate
		err = nil
		return false
	})

	if err != nil {
		return pmm.InvalidFrame, errBootAllocOutOfMemory
	}

	alloc.allocCount++
	return alloc.lastAllocFrame, nil
}

// printMemoryMap scans the memory region information provided by the
// bootloader and prints out the system's memory map.
func (alloc *bootMemAllocator) printMemoryMap() {
	early.Printf("[boot_mem_alloc] system memory map:\n")
	var totalFree mem.Size
	bootinfo.VisitMemRegions(func(region *bootinfo.MemoryMapEntry) bool {
		early.Printf("\t[0x%10x - 0x%10x], size: %10d, type: %d\n", region.PhysAddress, region.PhysAddress+region.Length, region.Length, uint32(region.Type))

		if region.Type == bootinfo.MemAvailable {
			totalFree += mem.Size(region.Length)
		}
		return true
	})
	early.Printf("[boot_mem_alloc] free memory: %dKb\n", uint64(totalFree/mem.Kb))
}
