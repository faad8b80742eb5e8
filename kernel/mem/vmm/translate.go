package vmm

import "github.com/Zakki0925224/myos-x86-64/kernel"

// pteForAddress walks the page tables for virtAddr and returns its final
// page table entry, or ErrInvalidMapping if any level along the way is not
// present.
func pteForAddress(virtAddr uintptr) (*pageTableEntry, *kernel.Error) {
	var (
		err   *kernel.Error
		entry *pageTableEntry
	)

	walk(virtAddr, func(pteLevel uint8, pte *pageTableEntry) bool {
		if !pte.HasFlags(FlagPresent) {
			entry = nil
			err = ErrInvalidMapping
			return false
		}
		entry = pte
		return true
	})

	return entry, err
}

// Translate returns the physical address that corresponds to virtAddr, or
// ErrInvalidMapping if virtAddr is not currently mapped.
func Translate(virtAddr uintptr) (uintptr, *kernel.Error) {
	pte, err := pteForAddress(virtAddr)
	if err != nil {
		return 0, err
	}

	return pte.Frame().Address() + PageOffset(virtAddr), nil
}

// PageOffset returns the byte offset of virtAddr within its containing page.
func PageOffset(virtAddr uintptr) uintptr {
	return virtAddr & ((1 << pageLevelShifts[pageLevels-1]) - 1)
}
