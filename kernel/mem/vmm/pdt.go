package vmm

import (
	"unsafe"

	"github.com/Zakki0925224/myos-x86-64/kernel"
	"github.com/Zakki0925224/myos-x86-64/kernel/cpu"
	"github.com/Zakki0925224/myos-x86-64/kernel/mem"
	"github.com/Zakki0925224/myos-x86-64/kernel/mem/pmm"
)

var (
	// activePDTFn is mocked by tests; calling the real cpu.ActivePDT from
	// user-mode test code would fault.
	activePDTFn = cpu.ActivePDT

	// switchPDTFn is mocked by tests; same reasoning as activePDTFn.
	switchPDTFn = cpu.SwitchPDT

	// mapTemporaryFn is used by tests and is automatically inlined by the compiler.
	mapTemporaryFn = MapTemporary

	// unmapFn is used by tests and is automatically inlined by the compiler.
	unmapFn = Unmap
)

// PageDirectoryTable is the top-level table of a 4-level paging hierarchy:
// one exists per address space (the shared kernel PDT plus one per process,
// created at exec and torn down on process exit).
type PageDirectoryTable struct {
	pdtFrame pmm.Frame
}

// Init points pdt at pdtFrame. If pdtFrame is not the currently active PDT,
// it is assumed to be freshly allocated and is cleared and given a
// recursive self-mapping in its last slot so that walk() can reach it via
// pdtVirtualAddr once it becomes active.
func (pdt *PageDirectoryTable) Init(pdtFrame pmm.Frame) *kernel.Error {
	pdt.pdtFrame = pdtFrame

	if pdtFrame.Address() == activePDTFn() {
		return nil
	}

	pdtPage, err := mapTemporaryFn(pdtFrame)
	if err != nil {
		return err
	}

	kernel.Memset(pdtPage.Address(), 0, uintptr(mem.PageSize))
	lastPdtEntry := (*pageTableEntry)(unsafe.Pointer(pdtPage.Address() + (((1 << pageLevelBits[0]) - 1) << mem.PointerShift)))
	*lastPdtEntry = 0
	lastPdtEntry.SetFlags(FlagPresent | FlagRW)
	lastPdtEntry.SetFrame(pdtFrame)

	_ = unmapFn(pdtPage)

	return nil
}

// Map behaves like the package-level Map but targets pdt even if it is not
// the currently active table, by temporarily splicing it into the active
// table's recursive slot for the duration of the call.
func (pdt PageDirectoryTable) Map(page Page, frame pmm.Frame, flags PageTableEntryFlag) *kernel.Error {
	var (
		activePdtFrame   = pmm.Frame(activePDTFn() >> mem.PageShift)
		lastPdtEntryAddr uintptr
		lastPdtEntry     *pageTableEntry
	)
	if activePdtFrame != pdt.pdtFrame {
		lastPdtEntryAddr = activePdtFrame.Address() + (((1 << pageLevelBits[0]) - 1) << mem.PointerShift)
		lastPdtEntry = (*pageTableEntry)(unsafe.Pointer(lastPdtEntryAddr))
		lastPdtEntry.SetFrame(pdt.pdtFrame)
		flushTLBEntryFn(lastPdtEntryAddr)
	}

	err := mapFn(page, frame, flags)

	if activePdtFrame != pdt.pdtFrame {
		lastPdtEntry.SetFrame(activePdtFrame)
		flushTLBEntryFn(lastPdtEntryAddr)
	}

	return err
}

// Unmap behaves like the package-level Unmap but targets pdt even if it is
// not the currently active table.
func (pdt PageDirectoryTable) Unmap(page Page) *kernel.Error {
	var (
		activePdtFrame   = pmm.Frame(activePDTFn() >> mem.PageShift)
		lastPdtEntryAddr uintptr
		lastPdtEntry     *pageTableEntry
	)
	if activePdtFrame != pdt.pdtFrame {
		lastPdtEntryAddr = activePdtFrame.Address() + (((1 << pageLevelBits[0]) - 1) << mem.PointerShift)
		lastPdtEntry = (*pageTableEntry)(unsafe.Pointer(lastPdtEntryAddr))
		lastPdtEntry.SetFrame(pdt.pdtFrame)
		flushTLBEntryFn(lastPdtEntryAddr)
	}

	err := unmapFn(page)

	if activePdtFrame != pdt.pdtFrame {
		lastPdtEntry.SetFrame(activePdtFrame)
		flushTLBEntryFn(lastPdtEntryAddr)
	}

	return err
}

// Frame returns the physical frame backing this PDT's top-level table, the
// value loaded into CR3 on Activate.
func (pdt PageDirectoryTable) Frame() pmm.Frame {
	return pdt.pdtFrame
}

// Activate switches the CPU to this page directory table and flushes the TLB.
func (pdt PageDirectoryTable) Activate() {
	switchPDTFn(pdt.pdtFrame.Address())
}
