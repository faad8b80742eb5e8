// Package gate installs the kernel's Interrupt Descriptor Table and routes
// incoming interrupts, CPU exceptions and the legacy int 0x80 syscall gate
// to registered Go handlers. Only the vectors the kernel actually uses are
// ever marked present; every other IDT slot is left zeroed, so a spurious
// interrupt on an unused vector triple-faults instead of silently falling
// through to a handler that was never meant to run.
package gate

import (
	"io"
	"unsafe"

	"github.com/Zakki0925224/myos-x86-64/kernel/gdt"
	"github.com/Zakki0925224/myos-x86-64/kernel/kfmt"
)

// Registers is a snapshot of CPU state captured by the common interrupt
// entry stub before a registered handler runs. It is laid out to match the
// exact order assembly pushes register values in; reordering the fields
// without updating gate_amd64.s will scramble every handler's view of the
// faulting context.
type Registers struct {
	RAX uint64
	RBX uint64
	RCX uint64
	RDX uint64
	RSI uint64
	RDI uint64
	RBP uint64
	R8  uint64
	R9  uint64
	R10 uint64
	R11 uint64
	R12 uint64
	R13 uint64
	R14 uint64
	R15 uint64

	// Vector is the interrupt/exception/trap number that fired.
	Vector uint64

	// Info carries the hardware error code for exceptions that push one.
	// Every other entry (exceptions with no hardware error code, hardware
	// interrupts and the int 0x80 gate) gets a synthetic zero here.
	Info uint64

	// The CPU-pushed return frame consumed by IRETQ.
	RIP    uint64
	CS     uint64
	RFlags uint64
	RSP    uint64
	SS     uint64
}

// DumpTo writes a human-readable register dump to w, used by fault
// handlers and the panic path to report the state of a crashing context.
func (r *Registers) DumpTo(w io.Writer) {
	kfmt.Fprintf(w, "vector = %d  info = 0x%x\n", r.Vector, r.Info)
	kfmt.Fprintf(w, "RAX = %16x RBX = %16x\n", r.RAX, r.RBX)
	kfmt.Fprintf(w, "RCX = %16x RDX = %16x\n", r.RCX, r.RDX)
	kfmt.Fprintf(w, "RSI = %16x RDI = %16x\n", r.RSI, r.RDI)
	kfmt.Fprintf(w, "RBP = %16x\n", r.RBP)
	kfmt.Fprintf(w, "R8  = %16x R9  = %16x\n", r.R8, r.R9)
	kfmt.Fprintf(w, "R10 = %16x R11 = %16x\n", r.R10, r.R11)
	kfmt.Fprintf(w, "R12 = %16x R13 = %16x\n", r.R12, r.R13)
	kfmt.Fprintf(w, "R14 = %16x R15 = %16x\n", r.R14, r.R15)
	kfmt.Fprintf(w, "\n")
	kfmt.Fprintf(w, "RIP = %16x CS  = %16x\n", r.RIP, r.CS)
	kfmt.Fprintf(w, "RSP = %16x SS  = %16x\n", r.RSP, r.SS)
	kfmt.Fprintf(w, "RFL = %16x\n", r.RFlags)
}

// InterruptNumber identifies an IDT slot.
type InterruptNumber uint8

const (
	DivideByZero                = InterruptNumber(0)
	NMI                         = InterruptNumber(2)
	Overflow                    = InterruptNumber(4)
	BoundRangeExceeded          = InterruptNumber(5)
	InvalidOpcode               = InterruptNumber(6)
	DeviceNotAvailable          = InterruptNumber(7)
	DoubleFault                 = InterruptNumber(8)
	InvalidTSS                  = InterruptNumber(10)
	SegmentNotPresent           = InterruptNumber(11)
	StackSegmentFault           = InterruptNumber(12)
	GPFException                = InterruptNumber(13)
	PageFaultException          = InterruptNumber(14)
	FloatingPointException      = InterruptNumber(16)
	AlignmentCheck              = InterruptNumber(17)
	MachineCheck                = InterruptNumber(18)
	SIMDFloatingPointException  = InterruptNumber(19)

	// IRQBase is the vector the master PIC's IRQ 0 is remapped to. IRQ n
	// arrives at vector IRQBase+n.
	IRQBase = InterruptNumber(0x20)

	// SyscallVector is the legacy int 0x80 syscall gate. It is the only
	// syscall entry point the kernel installs; no syscall/sysret MSR path
	// is set up.
	SyscallVector = InterruptNumber(0x80)
)

type idtEntry struct {
	offsetLow  uint16
	selector   uint16
	ist        uint8
	typeAttr   uint8
	offsetMid  uint16
	offsetHigh uint32
	reserved   uint32
}

type idtPointer struct {
	limit uint16
	base  uint64
}

var (
	idt    [256]idtEntry
	idtPtr idtPointer

	handlerTable [256]func(*Registers)
)

// gateStubs pairs each vector this kernel wires up with the address of its
// dedicated assembly entry stub. Every stub pushes a dummy error code (for
// exceptions that don't get one from hardware) and its own vector number,
// then falls into the shared dispatch trampoline in gate_amd64.s.
var gateStubs = []struct {
	vector InterruptNumber
	entry  func()
}{
	{DivideByZero, isrStub0},
	{NMI, isrStub2},
	{Overflow, isrStub4},
	{BoundRangeExceeded, isrStub5},
	{InvalidOpcode, isrStub6},
	{DeviceNotAvailable, isrStub7},
	{DoubleFault, isrStub8},
	{InvalidTSS, isrStub10},
	{SegmentNotPresent, isrStub11},
	{StackSegmentFault, isrStub12},
	{GPFException, isrStub13},
	{PageFaultException, isrStub14},
	{FloatingPointException, isrStub16},
	{AlignmentCheck, isrStub17},
	{MachineCheck, isrStub18},
	{SIMDFloatingPointException, isrStub19},
	{InterruptNumber(0x20), isrStub32},
	{InterruptNumber(0x21), isrStub33},
	{InterruptNumber(0x22), isrStub34},
	{InterruptNumber(0x23), isrStub35},
	{InterruptNumber(0x24), isrStub36},
	{InterruptNumber(0x25), isrStub37},
	{InterruptNumber(0x26), isrStub38},
	{InterruptNumber(0x27), isrStub39},
	{InterruptNumber(0x28), isrStub40},
	{InterruptNumber(0x29), isrStub41},
	{InterruptNumber(0x2a), isrStub42},
	{InterruptNumber(0x2b), isrStub43},
	{InterruptNumber(0x2c), isrStub44},
	{InterruptNumber(0x2d), isrStub45},
	{InterruptNumber(0x2e), isrStub46},
	{InterruptNumber(0x2f), isrStub47},
	{SyscallVector, isrStub128},
}

// funcAddr returns the entry address of a Go func value that wraps a
// body-less asm declaration. Since these funcs never actually execute
// through the Go calling convention (the IDT jumps to them directly), only
// their address is ever used.
func funcAddr(f func()) uintptr {
	return **(**uintptr)(unsafe.Pointer(&f))
}

// installGate writes the IDT entry for vector so that it points at
// stubAddr with the requested IST slot.
func installGate(vector InterruptNumber, stubAddr uintptr, istOffset uint8) {
	e := &idt[vector]
	e.offsetLow = uint16(stubAddr)
	e.selector = uint16(gdt.KernelCodeSelector)
	e.ist = istOffset
	e.typeAttr = 0x8e // present, ring0, 64-bit interrupt gate
	e.offsetMid = uint16(stubAddr >> 16)
	e.offsetHigh = uint32(stubAddr >> 32)
}

// Init builds the IDT from gateStubs and loads it. It must run after
// kernel/gdt.Init, since every gate entry's selector field references the
// kernel code segment gdt installs.
func Init() {
	for _, s := range gateStubs {
		installGate(s.vector, funcAddr(s.entry), 0)
	}

	idtPtr.limit = uint16(unsafe.Sizeof(idt) - 1)
	idtPtr.base = uint64(uintptr(unsafe.Pointer(&idt[0])))
	loadIDT(&idtPtr)
}

// HandleInterrupt registers handler to run whenever intNumber fires. The
// istOffset argument selects a TSS interrupt-stack-table slot to switch to
// on entry (0 means "use the current stack"); this kernel only ever passes
// 0 since kernel/gdt leaves the IST unused.
func HandleInterrupt(intNumber InterruptNumber, istOffset uint8, handler func(*Registers)) {
	handlerTable[intNumber] = handler
	for _, s := range gateStubs {
		if s.vector == intNumber {
			installGate(intNumber, funcAddr(s.entry), istOffset)
			return
		}
	}
}

// dispatchInterrupt is called by the common assembly trampoline with a
// pointer to the just-built register snapshot. gate_amd64.s references it
// by name; Go code should never call it directly.
func dispatchInterrupt(regs *Registers) {
	if h := handlerTable[regs.Vector]; h != nil {
		h(regs)
		return
	}
	kfmt.Printf("gate: unhandled interrupt %d\n", regs.Vector)
}

// loadIDT executes LIDT against the given descriptor.
func loadIDT(ptr *idtPointer)

func isrStub0()
func isrStub2()
func isrStub4()
func isrStub5()
func isrStub6()
func isrStub7()
func isrStub8()
func isrStub10()
func isrStub11()
func isrStub12()
func isrStub13()
func isrStub14()
func isrStub16()
func isrStub17()
func isrStub18()
func isrStub19()
func isrStub32()
func isrStub33()
func isrStub34()
func isrStub35()
func isrStub36()
func isrStub37()
func isrStub38()
func isrStub39()
func isrStub40()
func isrStub41()
func isrStub42()
func isrStub43()
func isrStub44()
func isrStub45()
func isrStub46()
func isrStub47()
func isrStub128()
