// Package proc owns the ELF64 loader, the process table and the syscall
// gateway: it decodes the register-argument ABI spec.md's external
// interfaces section defines, validates every user pointer against the
// calling process's address space before touching it, and drives the
// exec/exit lifecycle.
//
// No teacher file implements a process abstraction (gopher-os never grew
// past its early multitasking scaffolding), so this package is written
// fresh, grounded on the surrounding kernel packages' idioms: pointer-sized
// kernel.Error values, package-level function-variable overrides for
// testability, and kernel/mem/vmm's AddressSpace for per-process paging.
package proc

import (
	"unsafe"

	"github.com/Zakki0925224/myos-x86-64/fs/vfs"
	"github.com/Zakki0925224/myos-x86-64/kernel"
	"github.com/Zakki0925224/myos-x86-64/kernel/mem"
	"github.com/Zakki0925224/myos-x86-64/kernel/mem/pmm"
	"github.com/Zakki0925224/myos-x86-64/kernel/mem/pmm/allocator"
	"github.com/Zakki0925224/myos-x86-64/kernel/mem/vmm"
)

const (
	maxProcesses = 64
	maxFDs       = 16

	userStackTop  = uintptr(0x0000_7fff_ffff_f000)
	userStackSize = 16 * uintptr(mem.PageSize)

	breakArenaMax = 64 * uintptr(mem.Mb)
)

type State uint8

const (
	StateLoaded State = iota
	StateRunning
	StateExiting
	StateReaped
)

type fileDescriptor struct {
	inUse bool
	node  vfs.NodeID
	pos   int64
}

// Process is a single loaded user program: its address space, its open
// file table and the break arena the sbrk syscall grows.
type Process struct {
	pid   int
	as    *vmm.AddressSpace
	state State

	entry   uintptr
	userRSP uintptr

	exitStatus int

	fds [maxFDs]fileDescriptor
	cwd string

	breakStart, breakCur, breakEnd uintptr

	windows []int32
}

var (
	errProcessTableFull        = &kernel.Error{Module: "proc", Message: "process table is full"}
	errProcessHasNoAddressSpace = &kernel.Error{Module: "proc", Message: "process has no address space to activate"}

	table   [maxProcesses]*Process
	current *Process

	fsTree *vfs.Tree

	stdinNode, stdoutNode, stderrNode vfs.NodeID
	haveStdio                        bool
)

// SetVFS wires the mounted filesystem tree open/read/stat resolve against.
func SetVFS(t *vfs.Tree) { fsTree = t }

// SetStdio records the node IDs new processes inherit as fds 0, 1 and 2.
func SetStdio(stdin, stdout, stderr vfs.NodeID) {
	stdinNode, stdoutNode, stderrNode = stdin, stdout, stderr
	haveStdio = true
}

// Current returns the process the syscall gateway is currently dispatching
// on behalf of, or nil if none has been made current yet.
func Current() *Process { return current }

// SetCurrent makes p the process the syscall gateway and fault handlers
// attribute subsequent work to. kernel/kmain calls this once, before
// transferring control to the first process's entry point.
func SetCurrent(p *Process) { current = p }

// PID returns p's process table index.
func (p *Process) PID() int { return p.pid }

// Entry returns the virtual address p should begin (or resume) executing
// at in user mode.
func (p *Process) Entry() uintptr { return p.entry }

// UserRSP returns the stack pointer p's user-mode context should carry,
// laid out by load via layoutArgv.
func (p *Process) UserRSP() uintptr { return p.userRSP }

// Activate installs p's address space as the active page table hierarchy,
// so that subsequent memory accesses — including the ring 3 entry this
// kernel performs immediately after — resolve against p's own mappings
// rather than whichever process last ran.
func (p *Process) Activate() *kernel.Error {
	if p.as == nil {
		return errProcessHasNoAddressSpace
	}
	p.as.Activate()
	return nil
}

func allocPID() (int, *kernel.Error) {
	for i := range table {
		if table[i] == nil {
			return i, nil
		}
	}
	return 0, errProcessTableFull
}

// Spawn loads image as a brand new process and adds it to the process
// table; it does not make the process current or switch to it.
func Spawn(image []byte, argv []string, cwd string) (*Process, *kernel.Error) {
	pid, err := allocPID()
	if err != nil {
		return nil, err
	}

	p := &Process{pid: pid, cwd: cwd, state: StateLoaded}
	if err := p.load(image, argv); err != nil {
		return nil, err
	}

	if haveStdio {
		p.fds[0] = fileDescriptor{inUse: true, node: stdinNode}
		p.fds[1] = fileDescriptor{inUse: true, node: stdoutNode}
		p.fds[2] = fileDescriptor{inUse: true, node: stderrNode}
	}

	table[pid] = p
	return p, nil
}

// Exec replaces p's address space and break arena in place with a freshly
// loaded image, per the decided scope: exec never spawns a second process,
// it tears down and rebuilds the one calling it.
func Exec(p *Process, image []byte, argv []string) *kernel.Error {
	if p.as != nil {
		if err := p.as.Destroy(freeFrame); err != nil {
			return err
		}
	}
	p.breakStart, p.breakCur, p.breakEnd = 0, 0, 0
	return p.load(image, argv)
}

func freeFrame(f pmm.Frame) *kernel.Error {
	return allocator.FreeFrame(f)
}

func (p *Process) load(image []byte, argv []string) *kernel.Error {
	elfImg, err := parseELF64(image)
	if err != nil {
		return err
	}

	as, err := vmm.NewAddressSpace()
	if err != nil {
		return err
	}

	for _, seg := range elfImg.segments {
		if err := mapSegment(as, seg, image); err != nil {
			as.Destroy(freeFrame)
			return err
		}
	}

	stackTop, stackTopFrame, err := mapUserStack(as)
	if err != nil {
		as.Destroy(freeFrame)
		return err
	}

	p.as = as
	p.entry = elfImg.entry
	p.userRSP = layoutArgv(stackTopFrame, stackTop, argv)
	p.state = StateLoaded

	var highest uintptr
	for _, seg := range elfImg.segments {
		if end := seg.vaddr + uintptr(seg.memSize); end > highest {
			highest = end
		}
	}
	p.breakStart = (highest + uintptr(mem.PageSize) - 1) &^ (uintptr(mem.PageSize) - 1)
	p.breakCur = p.breakStart
	p.breakEnd = p.breakStart

	return nil
}

// mapSegment allocates and maps every page a PT_LOAD program header covers,
// filling each page's content through a temporary kernel-side mapping
// before installing it into as with the segment's real (possibly
// read-only, possibly non-executable) user-facing permissions — the
// temporary mapping is always kernel-writable regardless of the target
// page's own flags, so there is no need to map a page RW and then tighten
// it afterwards.
func mapSegment(as *vmm.AddressSpace, seg elfSegment, image []byte) *kernel.Error {
	flags := vmm.FlagPresent | vmm.FlagUserAccessible
	if seg.writable() {
		flags |= vmm.FlagRW
	}
	if !seg.executable() {
		flags |= vmm.FlagNoExecute
	}

	startPage := vmm.PageFromAddress(seg.vaddr)
	endPage := vmm.PageFromAddress(seg.vaddr + uintptr(seg.memSize) + uintptr(mem.PageSize) - 1)

	fileData := image[seg.fileOffset : seg.fileOffset+seg.fileSize]
	segFileEnd := seg.vaddr + uintptr(seg.fileSize)

	for page := startPage; page < endPage; page++ {
		frame, err := vmm.AllocFrame()
		if err != nil {
			return err
		}

		scratch, err := vmm.MapTemporary(frame)
		if err != nil {
			return err
		}
		dst := scratch.Address()
		mem.Memset(dst, 0, mem.PageSize)

		pageStart := page.Address()
		pageEnd := pageStart + uintptr(mem.PageSize)

		if pageStart < segFileEnd {
			copyStart := pageStart
			if copyStart < seg.vaddr {
				copyStart = seg.vaddr
			}
			copyEnd := pageEnd
			if copyEnd > segFileEnd {
				copyEnd = segFileEnd
			}
			offsetInPage := copyStart - pageStart
			offsetInFile := uint64(copyStart - seg.vaddr)
			n := uint64(copyEnd - copyStart)
			copyToPhys(dst+offsetInPage, fileData[offsetInFile:offsetInFile+n])
		}

		vmm.Unmap(scratch)

		if err := as.Map(page, frame, flags); err != nil {
			return err
		}
	}

	return nil
}

func copyToPhys(dst uintptr, src []byte) {
	copy(unsafe.Slice((*byte)(unsafe.Pointer(dst)), len(src)), src)
}

// mapUserStack allocates and maps the fixed-size user stack, returning its
// top address and the frame backing its top-most page so the caller can
// write the initial argv blob into it via a temporary mapping.
func mapUserStack(as *vmm.AddressSpace) (uintptr, pmm.Frame, *kernel.Error) {
	bottom := userStackTop - userStackSize
	startPage := vmm.PageFromAddress(bottom)
	pageCount := userStackSize / uintptr(mem.PageSize)

	var topFrame pmm.Frame
	flags := vmm.FlagPresent | vmm.FlagRW | vmm.FlagUserAccessible | vmm.FlagNoExecute

	for i := uintptr(0); i < pageCount; i++ {
		frame, err := vmm.AllocFrame()
		if err != nil {
			return 0, 0, err
		}
		page := startPage + vmm.Page(i)
		if err := as.Map(page, frame, flags); err != nil {
			return 0, 0, err
		}
		if i == pageCount-1 {
			topFrame = frame
		}
	}
	return userStackTop, topFrame, nil
}

// layoutArgv writes argv as NUL-terminated strings immediately below the
// top of the user stack, back to front, and returns the 16-byte-aligned
// RSP the process should start with. Only argv bytes that fit in the
// stack's top page are written; a minimal ABI suffices since this kernel
// has no libc startup code to match.
func layoutArgv(topFrame pmm.Frame, stackTop uintptr, argv []string) uintptr {
	pageStart := stackTop - uintptr(mem.PageSize)

	scratch, err := vmm.MapTemporary(topFrame)
	if err != nil {
		return (stackTop - 256) &^ 0xf
	}
	defer vmm.Unmap(scratch)

	cursor := stackTop
	for i := len(argv) - 1; i >= 0; i-- {
		s := argv[i]
		n := uintptr(len(s) + 1)
		if cursor < pageStart+n {
			break
		}
		cursor -= n
		off := cursor - pageStart
		dst := unsafe.Slice((*byte)(unsafe.Pointer(scratch.Address()+off)), len(s)+1)
		copy(dst, s)
		dst[len(s)] = 0
	}

	return cursor &^ 0xf
}
