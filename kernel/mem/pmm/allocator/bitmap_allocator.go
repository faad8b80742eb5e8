package allocator

import (
	"math"
	"reflect"
	"unsafe"

	"github.com/Zakki0925224/myos-x86-64/kernel"
	"github.com/Zakki0925224/myos-x86-64/kernel/hal/bootinfo"
	"github.com/Zakki0925224/myos-x86-64/kernel/kfmt"
	"github.com/Zakki0925224/myos-x86-64/kernel/mem"
	"github.com/Zakki0925224/myos-x86-64/kernel/mem/pmm"
	"github.com/Zakki0925224/myos-x86-64/kernel/mem/vmm"
)

// markAction selects the operation performed by markFrame.
type markAction bool

const (
	markFree     markAction = false
	markReserved markAction = true
)

var (
	// FrameAllocator is a BitmapAllocator instance that serves as the
	// primary allocator for reserving pages once boot is complete.
	FrameAllocator BitmapAllocator

	// The following functions are used by tests to mock calls to the vmm
	// package and are automatically inlined by the compiler.
	reserveRegionFn = vmm.EarlyReserveRegion
	mapFn           = vmm.Map

	errBitmapAllocOutOfMemory    = &kernel.Error{Module: "bitmap_alloc", Message: "out of memory"}
	errBitmapAllocDoubleFree     = &kernel.Error{Module: "bitmap_alloc", Message: "frame is already free"}
	errBitmapAllocFrameNotManaged = &kernel.Error{Module: "bitmap_alloc", Message: "frame does not belong to any known pool"}
)

type framePool struct {
	// startFrame is the frame number for the first page in this pool.
	// each free bitmap entry i corresponds to frame (startFrame + i).
	startFrame pmm.Frame

	// endFrame tracks the last frame in the pool. The total number of
	// frames is given by: (endFrame - startFrame) + 1
	endFrame pmm.Frame

	// freeCount tracks the available pages in this pool. The allocator
	// can use this field to skip fully allocated pools without the need
	// to scan the free bitmap.
	freeCount uint32

	// freeBitmap tracks used/free pages in the pool. A set bit means the
	// corresponding frame is reserved.
	freeBitmap    []uint64
	freeBitmapHdr reflect.SliceHeader
}

// BitmapAllocator implements a physical frame allocator that tracks frame
// reservations across the available memory pools using bitmaps.
type BitmapAllocator struct {
	// totalPages tracks the total number of pages across all pools.
	totalPages uint32

	// reservedPages tracks the number of reserved pages across all pools.
	reservedPages uint32

	pools    []framePool
	poolsHdr reflect.SliceHeader
}

// init allocates space for the allocator structures using the early bootmem
// allocator, then reserves the frames occupied by the kernel image and by
// the early allocator's own allocations so the bitmap allocator never hands
// out memory that is already in use.
func (alloc *BitmapAllocator) init() *kernel.Error {
	if err := alloc.setupPoolBitmaps(); err != nil {
		return err
	}

	alloc.reserveKernelFrames()
	alloc.reserveEarlyAllocatorFrames()
	return nil
}

// setupPoolBitmaps uses the early allocator and vmm region reservation helper
// to initialize the list of available pools and their free bitmap slices.
func (alloc *BitmapAllocator) setupPoolBitmaps() *kernel.Error {
	var (
		err                 *kernel.Error
		sizeofPool          = unsafe.Sizeof(framePool{})
		pageSizeMinus1      = uint64(mem.PageSize - 1)
		requiredBitmapBytes mem.Size
	)

	// Detect available memory regions and calculate their pool bitmap
	// requirements.
	bootinfo.VisitMemRegions(func(region *bootinfo.MemoryMapEntry) bool {
		if region.Type != bootinfo.MemAvailable {
			return true
		}

		alloc.poolsHdr.Len++
		alloc.poolsHdr.Cap++

		// Reported addresses may not be page-aligned; round up to get
		// the start frame and round down to get the end frame
		regionStartFrame := pmm.Frame(((region.PhysAddress + pageSizeMinus1) &^ pageSizeMinus1) >> mem.PageShift)
		regionEndFrame := pmm.Frame(((region.PhysAddress+region.Length)&^pageSizeMinus1)>>mem.PageShift) - 1
		pageCount := uint32(regionEndFrame - regionStartFrame + 1)
		alloc.totalPages += pageCount

		// To represent the free page bitmap we need pageCount bits. Since our
		// slice uses uint64 for storing the bitmap we need to round up the
		// required bits so they are a multiple of 64 bits
		requiredBitmapBytes += mem.Size(((pageCount + 63) &^ 63) >> 3)
		return true
	})

	// Reserve enough pages to hold the allocator state
	requiredBytes := mem.Size(((uint64(uintptr(alloc.poolsHdr.Len)*sizeofPool) + uint64(requiredBitmapBytes)) + pageSizeMinus1) &^ pageSizeMinus1)
	requiredPages := requiredBytes >> mem.PageShift
	alloc.poolsHdr.Data, err = reserveRegionFn(requiredBytes)
	if err != nil {
		return err
	}

	for page, index := vmm.PageFromAddress(alloc.poolsHdr.Data), mem.Size(0); index < requiredPages; page, index = page+1, index+1 {
		nextFrame, err := earlyAllocFrame()
		if err != nil {
			return err
		}

		if err = mapFn(page, nextFrame, vmm.FlagPresent|vmm.FlagRW|vmm.FlagNoExecute); err != nil {
			return err
		}

		mem.Memset(page.Address(), 0, mem.PageSize)
	}

	alloc.pools = *(*[]framePool)(unsafe.Pointer(&alloc.poolsHdr))

	// Run a second pass to initialize the free bitmap slices for all pools
	bitmapStartAddr := alloc.poolsHdr.Data + uintptr(alloc.poolsHdr.Len)*sizeofPool
	poolIndex := 0
	bootinfo.VisitMemRegions(func(region *bootinfo.MemoryMapEntry) bool {
		if region.Type != bootinfo.MemAvailable {
			return true
		}

		regionStartFrame := pmm.Frame(((region.PhysAddress + pageSizeMinus1) &^ pageSizeMinus1) >> mem.PageShift)
		regionEndFrame := pmm.Frame(((region.PhysAddress+region.Length)&^pageSizeMinus1)>>mem.PageShift) - 1
		bitmapBytes := uintptr((((regionEndFrame - regionStartFrame) + 64) &^ 63) >> 3)

		alloc.pools[poolIndex].startFrame = regionStartFrame
		alloc.pools[poolIndex].endFrame = regionEndFrame
		alloc.pools[poolIndex].freeCount = uint32(regionEndFrame - regionStartFrame + 1)
		alloc.pools[poolIndex].freeBitmapHdr.Len = int(bitmapBytes >> 3)
		alloc.pools[poolIndex].freeBitmapHdr.Cap = alloc.pools[poolIndex].freeBitmapHdr.Len
		alloc.pools[poolIndex].freeBitmapHdr.Data = bitmapStartAddr
		alloc.pools[poolIndex].freeBitmap = *(*[]uint64)(unsafe.Pointer(&alloc.pools[poolIndex].freeBitmapHdr))

		bitmapStartAddr += bitmapBytes
		poolIndex++
		return true
	})

	return nil
}

// markFrame sets or clears the bitmap bit for frame in the pool at poolIndex.
// Calling it with a poolIndex outside the pool slice, or a frame outside the
// addressed pool's range, is a no-op.
func (alloc *BitmapAllocator) markFrame(poolIndex int, frame pmm.Frame, action markAction) {
	if poolIndex < 0 || poolIndex >= len(alloc.pools) {
		return
	}

	pool := &alloc.pools[poolIndex]
	if frame < pool.startFrame || frame > pool.endFrame {
		return
	}

	bitOffset := uint64(frame - pool.startFrame)
	block := bitOffset / 64
	bitIndex := 63 - (bitOffset % 64)
	bitMask := uint64(1) << bitIndex

	alreadySet := pool.freeBitmap[block]&bitMask != 0
	switch action {
	case markReserved:
		if !alreadySet {
			pool.freeBitmap[block] |= bitMask
			pool.freeCount--
			alloc.reservedPages++
		}
	case markFree:
		if alreadySet {
			pool.freeBitmap[block] &^= bitMask
			pool.freeCount++
			alloc.reservedPages--
		}
	}
}

// poolForFrame returns the index of the pool that owns frame, or -1 if frame
// does not belong to any known pool.
func (alloc *BitmapAllocator) poolForFrame(frame pmm.Frame) int {
	for i := range alloc.pools {
		if frame >= alloc.pools[i].startFrame && frame <= alloc.pools[i].endFrame {
			return i
		}
	}
	return -1
}

// reserveKernelFrames marks every frame occupied by the kernel image as
// reserved so the bitmap allocator never hands it out.
func (alloc *BitmapAllocator) reserveKernelFrames() {
	for frame := earlyAllocator.kernelStartFrame; frame <= earlyAllocator.kernelEndFrame; frame++ {
		alloc.markFrame(alloc.poolForFrame(frame), frame, markReserved)
	}
}

// reserveEarlyAllocatorFrames marks every frame the early bootmem allocator
// handed out before the bitmap allocator took over as reserved.
func (alloc *BitmapAllocator) reserveEarlyAllocatorFrames() {
	var tmp bootMemAllocator
	tmp.kernelStartFrame = earlyAllocator.kernelStartFrame
	tmp.kernelEndFrame = earlyAllocator.kernelEndFrame

	for i := uint64(0); i < earlyAllocator.allocCount; i++ {
		frame, err := tmp.AllocFrame()
		if err != nil {
			return
		}
		alloc.markFrame(alloc.poolForFrame(frame), frame, markReserved)
	}
}

// AllocFrame reserves and returns the next available physical frame.
func (alloc *BitmapAllocator) AllocFrame() (pmm.Frame, *kernel.Error) {
	for poolIndex := range alloc.pools {
		pool := &alloc.pools[poolIndex]
		if pool.freeCount == 0 {
			continue
		}

		for block := range pool.freeBitmap {
			if pool.freeBitmap[block] == math.MaxUint64 {
				continue
			}

			for bitIndex := uint(0); bitIndex < 64; bitIndex++ {
				bitMask := uint64(1) << (63 - bitIndex)
				if pool.freeBitmap[block]&bitMask != 0 {
					continue
				}

				frame := pool.startFrame + pmm.Frame(uint64(block)*64+uint64(bitIndex))
				if frame > pool.endFrame {
					continue
				}

				alloc.markFrame(poolIndex, frame, markReserved)
				return frame, nil
			}
		}
	}

	return pmm.InvalidFrame, errBitmapAllocOutOfMemory
}

// FreeFrame releases a frame previously returned by AllocFrame.
func (alloc *BitmapAllocator) FreeFrame(frame pmm.Frame) *kernel.Error {
	poolIndex := alloc.poolForFrame(frame)
	if poolIndex < 0 {
		return errBitmapAllocFrameNotManaged
	}

	pool := &alloc.pools[poolIndex]
	bitOffset := uint64(frame - pool.startFrame)
	block := bitOffset / 64
	bitIndex := 63 - (bitOffset % 64)
	bitMask := uint64(1) << bitIndex

	if pool.freeBitmap[block]&bitMask == 0 {
		return errBitmapAllocDoubleFree
	}

	alloc.markFrame(poolIndex, frame, markFree)
	return nil
}

// earlyAllocFrame is a helper that delegates a frame allocation request to the
// early allocator instance. This function is passed as an argument to
// vmm.SetFrameAllocator instead of earlyAllocator.AllocFrame. The latter
// confuses the compiler's escape analysis into thinking that
// earlyAllocator.Frame escapes to heap.
func earlyAllocFrame() (pmm.Frame, *kernel.Error) {
	return earlyAllocator.AllocFrame()
}

// sysAllocFrame delegates to the package-level FrameAllocator once boot is
// complete; Init switches vmm over to it.
func sysAllocFrame() (pmm.Frame, *kernel.Error) {
	return FrameAllocator.AllocFrame()
}

// AllocFrame allocates a frame using the package-level FrameAllocator.
func AllocFrame() (pmm.Frame, *kernel.Error) {
	return FrameAllocator.AllocFrame()
}

// FreeFrame releases a frame previously returned by AllocFrame. Freeing a
// frame that is already free is a fatal invariant violation and panics.
func FreeFrame(frame pmm.Frame) *kernel.Error {
	err := FrameAllocator.FreeFrame(frame)
	if err == errBitmapAllocDoubleFree {
		kfmt.Panic(err)
	}
	return err
}

// Init sets up the kernel physical memory allocation sub-system: the early
// bootmem allocator bootstraps the bitmap allocator's own pool/bitmap
// storage, and every frame consumed along the way (by the kernel image or by
// the early allocator itself) is folded into the bitmap allocator's reserved
// accounting before vmm is switched over to it.
func Init(kernelStart, kernelEnd uintptr) *kernel.Error {
	earlyAllocator.init(kernelStart, kernelEnd)
	earlyAllocator.printMemoryMap()

	vmm.SetFrameAllocator(earlyAllocFrame)
	if err := FrameAllocator.init(); err != nil {
		return err
	}

	vmm.SetFrameAllocator(sysAllocFrame)
	return nil
}
