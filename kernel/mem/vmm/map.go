package vmm

import (
	"unsafe"

	"github.com/Zakki0925224/myos-x86-64/kernel"
	"github.com/Zakki0925224/myos-x86-64/kernel/cpu"
	"github.com/Zakki0925224/myos-x86-64/kernel/mem"
	"github.com/Zakki0925224/myos-x86-64/kernel/mem/pmm"
)

// ReservedZeroedFrame is a single zero-filled physical frame set up by
// Init. Mapping it read-only with FlagCopyOnWrite gives a cheap way to
// back a freshly reserved range without committing real memory until the
// first write faults a private copy into place. kernel/goruntime's sysMap
// maps the Go heap this way; proc backs break-arena and BSS pages with
// freshly zeroed frames of their own instead.
var ReservedZeroedFrame pmm.Frame

var (
	// protectReservedZeroedPage is flipped on by Init once
	// ReservedZeroedFrame is established, rejecting any attempt to map
	// it with FlagRW directly (it must only ever be mapped read-only,
	// relying on the copy-on-write fault path to hand out a private
	// backing frame).
	protectReservedZeroedPage bool

	// nextAddrFn lets tests override the address Map clears a freshly
	// allocated intermediate table at; production code leaves it as the
	// identity function.
	nextAddrFn = func(entryAddr uintptr) uintptr { return entryAddr }

	// flushTLBEntryFn is mocked by tests; production code invalidates
	// the real TLB entry through the cpu package's assembly trampoline.
	flushTLBEntryFn = cpu.FlushTLBEntry

	earlyReserveRegionFn = EarlyReserveRegion

	// mapFn is used by tests and by vmm's own higher-level helpers; it
	// is automatically inlined by the compiler in the production build.
	mapFn = Map

	errNoHugePageSupport           = &kernel.Error{Module: "vmm", Message: "huge pages are not supported"}
	errAttemptToRWMapReservedFrame = &kernel.Error{Module: "vmm", Message: "reserved blank frame cannot be mapped with a RW flag"}

	// ErrInvalidMapping is returned when a virtual address has no
	// mapped physical page.
	ErrInvalidMapping = &kernel.Error{Module: "vmm", Message: "virtual address does not point to a mapped physical page"}
)

// Map establishes a mapping between page and frame in the currently active
// page directory table, allocating and clearing any missing intermediate
// tables along the way via the registered FrameAllocatorFn.
func Map(page Page, frame pmm.Frame, flags PageTableEntryFlag) *kernel.Error {
	if protectReservedZeroedPage && frame == ReservedZeroedFrame && (flags&FlagRW) != 0 {
		return errAttemptToRWMapReservedFrame
	}

	var err *kernel.Error

	walk(page.Address(), func(pteLevel uint8, pte *pageTableEntry) bool {
		if pteLevel == pageLevels-1 {
			*pte = 0
			pte.SetFrame(frame)
			pte.SetFlags(flags)
			flushTLBEntryFn(page.Address())
			return true
		}

		if pte.HasFlags(FlagHugePage) {
			err = errNoHugePageSupport
			return false
		}

		if !pte.HasFlags(FlagPresent) {
			var newTableFrame pmm.Frame
			newTableFrame, err = AllocFrame()
			if err != nil {
				return false
			}

			*pte = 0
			pte.SetFrame(newTableFrame)
			pte.SetFlags(FlagPresent | FlagRW)

			nextTableAddr := uintptr(unsafe.Pointer(pte)) << pageLevelBits[pteLevel+1]
			kernel.Memset(nextAddrFn(nextTableAddr), 0, uintptr(mem.PageSize))
		}

		return true
	})

	return err
}

// MapRegion reserves the next available virtual address range large enough
// to hold size bytes and maps it, page by page, to the physical region
// starting at frame.
func MapRegion(frame pmm.Frame, size mem.Size, flags PageTableEntryFlag) (Page, *kernel.Error) {
	size = (size + (mem.PageSize - 1)) &^ (mem.PageSize - 1)
	startAddr, err := earlyReserveRegionFn(size)
	if err != nil {
		return 0, err
	}

	pageCount := size >> mem.PageShift
	for page := PageFromAddress(startAddr); pageCount > 0; pageCount, page, frame = pageCount-1, page+1, frame+1 {
		if err := mapFn(page, frame, flags); err != nil {
			return 0, err
		}
	}

	return PageFromAddress(startAddr), nil
}

// IdentityMapRegion maps size bytes starting at startFrame to the page with
// the same numeric index, used for the window where the kernel still runs
// out of its boot-time identity mapping.
func IdentityMapRegion(startFrame pmm.Frame, size mem.Size, flags PageTableEntryFlag) (Page, *kernel.Error) {
	startPage := Page(startFrame)
	pageCount := Page((size + (mem.PageSize - 1)) &^ (mem.PageSize - 1) >> mem.PageShift)

	for page := startPage; page < startPage+pageCount; page++ {
		if err := mapFn(page, pmm.Frame(page), flags); err != nil {
			return 0, err
		}
	}

	return startPage, nil
}

// MapTemporary maps frame at the fixed scratch address tempMappingAddr,
// overwriting whatever was mapped there before. It is how the kernel
// touches the contents of a frame that is not yet part of any address
// space it can walk to directly (a freshly allocated page table, in
// particular).
func MapTemporary(frame pmm.Frame) (Page, *kernel.Error) {
	if protectReservedZeroedPage && frame == ReservedZeroedFrame {
		return 0, errAttemptToRWMapReservedFrame
	}

	if err := Map(PageFromAddress(tempMappingAddr), frame, FlagPresent|FlagRW); err != nil {
		return 0, err
	}

	return PageFromAddress(tempMappingAddr), nil
}

// Unmap removes a mapping previously installed by Map or MapTemporary.
func Unmap(page Page) *kernel.Error {
	var err *kernel.Error

	walk(page.Address(), func(pteLevel uint8, pte *pageTableEntry) bool {
		if pteLevel == pageLevels-1 {
			pte.ClearFlags(FlagPresent)
			flushTLBEntryFn(page.Address())
			return true
		}

		if !pte.HasFlags(FlagPresent) {
			err = ErrInvalidMapping
			return false
		}
		if pte.HasFlags(FlagHugePage) {
			err = errNoHugePageSupport
			return false
		}
		return true
	})

	return err
}
