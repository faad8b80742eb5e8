// Package cpu contains assembly trampolines for the handful of amd64
// instructions Go cannot express: interrupt masking, port I/O, MSR access
// and page-table switching. Every exported function here is implemented in
// the architecture-specific assembly file and is a leaf: no Go call may
// appear inside, since these are invoked from contexts (interrupts-disabled
// sections, gate.dispatchInterrupt) where a stack split would be unsafe.
package cpu

// EnableInterrupts enables interrupt handling.
func EnableInterrupts()

// DisableInterrupts disables interrupt handling.
func DisableInterrupts()

// InterruptsEnabled reports whether the CPU currently has interrupts
// enabled, by reading back RFLAGS.IF. Used to implement nestable
// interrupts-disabled critical sections (kernel/task, kernel/irq) that must
// restore the previous state rather than unconditionally re-enabling.
func InterruptsEnabled() bool

// Halt stops instruction execution until the next interrupt.
func Halt()

// FlushTLBEntry flushes a TLB entry for a particular virtual address.
func FlushTLBEntry(virtAddr uintptr)

// SwitchPDT sets the root page table directory to point to the specified
// physical address and flushes the TLB.
func SwitchPDT(pdtPhysAddr uintptr)

// ActivePDT returns the physical address of the currently active page table.
func ActivePDT() uintptr

// Outb writes a byte to the given I/O port.
func Outb(port uint16, value uint8)

// Inb reads a byte from the given I/O port.
func Inb(port uint16) uint8

// Outw writes a 16-bit word to the given I/O port.
func Outw(port uint16, value uint16)

// Inw reads a 16-bit word from the given I/O port.
func Inw(port uint16) uint16

// Outl writes a 32-bit doubleword to the given I/O port.
func Outl(port uint16, value uint32)

// Inl reads a 32-bit doubleword from the given I/O port.
func Inl(port uint16) uint32

// IOWait performs a short delay by writing to an unused diagnostic port.
// Some PIC/PIT programming sequences require the CPU to briefly wait after
// each out so that the (comparatively slow) chip can process it.
func IOWait()

// WriteMSR writes value to the given model-specific register. No code in
// this kernel programs the syscall/sysret MSRs (STAR/LSTAR/SFMASK).
func WriteMSR(msr uint32, value uint64)

// ReadMSR reads the given model-specific register.
func ReadMSR(msr uint32) uint64

// CR2 returns the last faulting address recorded by the CPU, valid only
// while handling a #PF exception.
func CR2() uintptr

// EnterUserMode drops from ring 0 to ring 3 by building an IRETQ frame that
// targets entry with userStack as RSP and the given code/data selectors,
// then executing IRETQ. It never returns to its caller: control only comes
// back into the kernel through a later interrupt, exception or syscall
// gate.
func EnterUserMode(entry, userStack, codeSelector, dataSelector uintptr)
