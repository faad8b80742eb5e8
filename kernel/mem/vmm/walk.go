package vmm

import (
	"unsafe"

	"github.com/Zakki0925224/myos-x86-64/kernel/mem"
)

var (
	// ptePtrFn resolves a page table entry address to a pointer. Tests
	// override it so walk() can be exercised against plain Go arrays
	// instead of the recursively-mapped PDT, which only means anything
	// under a live MMU.
	ptePtrFn = func(entryAddr uintptr) unsafe.Pointer {
		return unsafe.Pointer(entryAddr)
	}
)

// pageTableWalker is invoked once per paging level while walking the page
// tables for a virtual address. Returning false aborts the walk.
type pageTableWalker func(pteLevel uint8, pte *pageTableEntry) bool

// walk descends the 4-level page table hierarchy for virtAddr, invoking
// walkFn at each level. It relies on the recursive PDT mapping: reading
// through pdtVirtualAddr with an extra level of indirection per step lands
// on the table the previous level's entry points to, without ever needing a
// direct physical-to-virtual translation.
func walk(virtAddr uintptr, walkFn pageTableWalker) {
	var (
		level                            uint8
		tableAddr, entryAddr, entryIndex uintptr
	)

	for level, tableAddr = uint8(0), pdtVirtualAddr; level < pageLevels; level, tableAddr = level+1, entryAddr {
		entryIndex = (virtAddr >> pageLevelShifts[level]) & ((1 << pageLevelBits[level]) - 1)
		entryAddr = tableAddr + (entryIndex << mem.PointerShift)

		if !walkFn(level, (*pageTableEntry)(ptePtrFn(entryAddr))) {
			return
		}

		entryAddr <<= pageLevelBits[level]
	}
}
