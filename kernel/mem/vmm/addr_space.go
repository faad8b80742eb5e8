package vmm

import (
	"github.com/Zakki0925224/myos-x86-64/kernel"
	"github.com/Zakki0925224/myos-x86-64/kernel/mem"
	"github.com/Zakki0925224/myos-x86-64/kernel/mem/pmm"
)

var (
	// earlyReserveLastUsed tracks the next free virtual address below
	// tempMappingAddr. EarlyReserveRegion hands out ranges by walking it
	// downward, which is only safe before a process address space with
	// its own notion of "free range" exists.
	earlyReserveLastUsed = tempMappingAddr

	errEarlyReserveNoSpace = &kernel.Error{Module: "vmm", Message: "remaining virtual address space not large enough to satisfy reservation request"}
)

// EarlyReserveRegion reserves a page-aligned virtual address range of at
// least size bytes within the kernel's address space and returns its start
// address. Used only during boot and by MapRegion; once processes exist,
// each owns its lower-half ranges independently through its AddressSpace.
func EarlyReserveRegion(size mem.Size) (uintptr, *kernel.Error) {
	size = (size + (mem.PageSize - 1)) &^ (mem.PageSize - 1)

	if uintptr(size) > earlyReserveLastUsed {
		return 0, errEarlyReserveNoSpace
	}

	earlyReserveLastUsed -= uintptr(size)
	return earlyReserveLastUsed, nil
}

// AddressSpace owns a process's private PML4. Every process address space
// shares the kernel's higher-half mapping (syscalls and interrupts must be
// serviceable without a PDT switch) but has its own lower-half mappings for
// its code, data, stack and break arena.
//
// AddressSpace is created at exec and released on process exit, after every
// page it privately owns has been unmapped — releasing frames out from
// under live mappings would hand the same physical memory to two owners.
type AddressSpace struct {
	pdt PageDirectoryTable

	// pages tracks every lower-half page this address space has mapped,
	// so Destroy can unmap and free them without the caller needing to
	// track its own allocations.
	pages []addrSpacePage
}

type addrSpacePage struct {
	page  Page
	frame pmm.Frame
	flags PageTableEntryFlag
}

// NewAddressSpace allocates a fresh PML4 frame, installs the kernel's
// higher-half mapping into it and returns the ready-to-use AddressSpace.
func NewAddressSpace() (*AddressSpace, *kernel.Error) {
	pdtFrame, err := AllocFrame()
	if err != nil {
		return nil, err
	}

	as := &AddressSpace{}
	if err := as.pdt.Init(pdtFrame); err != nil {
		return nil, err
	}

	return as, nil
}

// Map establishes a private lower-half mapping owned by this address space
// and records it so Destroy can reclaim it later.
func (as *AddressSpace) Map(page Page, frame pmm.Frame, flags PageTableEntryFlag) *kernel.Error {
	if err := as.pdt.Map(page, frame, flags); err != nil {
		return err
	}
	as.pages = append(as.pages, addrSpacePage{page: page, frame: frame, flags: flags})
	return nil
}

// Contains reports whether the byte range [addr, addr+length) lies wholly
// within pages this address space has mapped, and, if requireWrite is set,
// that every covered page also carries FlagRW. Syscall argument validation
// uses this to reject pointers a user process has no business handing to
// the kernel before any of them are dereferenced.
func (as *AddressSpace) Contains(addr uintptr, length uintptr, requireWrite bool) bool {
	if length == 0 {
		return true
	}
	end := addr + length - 1
	for pageAddr := addr &^ (uintptr(mem.PageSize) - 1); pageAddr <= end; pageAddr += uintptr(mem.PageSize) {
		page := PageFromAddress(pageAddr)
		found := false
		for _, p := range as.pages {
			if p.page != page {
				continue
			}
			if p.flags&FlagUserAccessible == 0 {
				return false
			}
			if requireWrite && p.flags&FlagRW == 0 {
				return false
			}
			found = true
			break
		}
		if !found {
			return false
		}
	}
	return true
}

// Activate makes this address space's PML4 the one the CPU translates
// against.
func (as *AddressSpace) Activate() {
	as.pdt.Activate()
}

// Destroy unmaps every page this address space privately owns and frees
// its backing frames, then frees the PML4 frame itself. The caller must
// ensure as is not the currently active address space.
func (as *AddressSpace) Destroy(freeFrameFn func(pmm.Frame) *kernel.Error) *kernel.Error {
	for _, p := range as.pages {
		if err := as.pdt.Unmap(p.page); err != nil {
			return err
		}
		if err := freeFrameFn(p.frame); err != nil {
			return err
		}
	}
	as.pages = nil

	return freeFrameFn(as.pdt.Frame())
}
