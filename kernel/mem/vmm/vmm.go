// Package vmm implements 4-level amd64 paging: mapping virtual pages to
// physical frames, walking page tables via the recursively-mapped PDT
// trick, and reserving virtual address ranges during early boot before a
// general-purpose heap exists.
package vmm

import (
	"math"

	"github.com/Zakki0925224/myos-x86-64/kernel"
	"github.com/Zakki0925224/myos-x86-64/kernel/mem"
	"github.com/Zakki0925224/myos-x86-64/kernel/mem/pmm"
)

const (
	// pageLevels is the number of paging levels on amd64 (PML4, PDPT, PD, PT).
	pageLevels = 4

	// ptePhysPageMask extracts the physical frame address (bits 12-51)
	// encoded in a page table entry.
	ptePhysPageMask = uintptr(0x000ffffffffff000)

	// tempMappingAddr is a reserved virtual page used for temporary
	// physical-frame mappings (e.g. to initialize an inactive PDT before
	// it is made active). Its page-table indices are 510, 511, 511, 511.
	tempMappingAddr = uintptr(0xffffff7ffffff000)
)

var (
	// pdtVirtualAddr exploits the recursive mapping installed in the last
	// PML4 entry: setting every page-level index to its maximum value
	// makes the MMU's own translation walk land back on the PML4 itself,
	// letting Go code dereference page tables as ordinary memory.
	pdtVirtualAddr = uintptr(math.MaxUint64 &^ ((1 << 12) - 1))

	// pageLevelBits is the number of virtual-address bits consumed by
	// each paging level (9 bits -> 512 entries per table on amd64).
	pageLevelBits = [pageLevels]uint8{9, 9, 9, 9}

	// pageLevelShifts is the bit offset of each paging level's index
	// field within a virtual address.
	pageLevelShifts = [pageLevels]uint8{39, 30, 21, 12}

	// frameAllocator is registered via SetFrameAllocator and supplies the
	// physical frames Map needs when it must instantiate a missing
	// intermediate page table.
	frameAllocator FrameAllocatorFn
)

// FrameAllocatorFn allocates a single physical frame.
type FrameAllocatorFn func() (pmm.Frame, *kernel.Error)

// SetFrameAllocator registers the function vmm uses whenever it needs a new
// physical frame to back an intermediate page table.
func SetFrameAllocator(allocFn FrameAllocatorFn) {
	frameAllocator = allocFn
}

// AllocFrame allocates a physical frame using the currently registered
// frame allocator.
func AllocFrame() (pmm.Frame, *kernel.Error) {
	return frameAllocator()
}

// PageTableEntryFlag describes a flag bit applied to a page table entry.
type PageTableEntryFlag uintptr

const (
	// FlagPresent marks the page as resident in memory.
	FlagPresent PageTableEntryFlag = 1 << iota
	// FlagRW allows writes to the page.
	FlagRW
	// FlagUserAccessible allows ring-3 code to access the page.
	FlagUserAccessible
	// FlagWriteThroughCaching selects write-through instead of write-back caching.
	FlagWriteThroughCaching
	// FlagDoNotCache disables caching for the page.
	FlagDoNotCache
	// FlagAccessed is set by the CPU on first access.
	FlagAccessed
	// FlagDirty is set by the CPU on first write.
	FlagDirty
	// FlagHugePage selects a 2MiB page at the PD level.
	FlagHugePage
	// FlagGlobal prevents a CR3 switch from flushing this entry's TLB line.
	FlagGlobal

	// FlagCopyOnWrite marks a read-only page whose backing frame must be
	// duplicated on the first write fault. Mutually exclusive with FlagRW.
	FlagCopyOnWrite PageTableEntryFlag = 1 << 9

	// FlagNoExecute marks a page as non-executable.
	FlagNoExecute PageTableEntryFlag = 1 << 63
)

// Init reserves ReservedZeroedFrame. The kernel's own higher-half mapping is
// established by the bootloader stub before Kmain runs (the UEFI hand-off
// guarantees a working, if coarse, identity-plus-higher-half layout), so
// unlike a Multiboot target this package does not need to rebuild a
// granular per-section kernel PDT from ELF headers; Init's only remaining
// job is preparing the copy-on-write source frame used by lazy allocation.
func Init() *kernel.Error {
	var err *kernel.Error

	if ReservedZeroedFrame, err = AllocFrame(); err != nil {
		return err
	}

	tempPage, err := mapTemporaryFn(ReservedZeroedFrame)
	if err != nil {
		return err
	}
	kernel.Memset(tempPage.Address(), 0, uintptr(mem.PageSize))
	_ = unmapFn(tempPage)

	protectReservedZeroedPage = true
	return nil
}
