// Package gdt installs the kernel's Global Descriptor Table and Task State
// Segment. The core only ever runs with a single active GDT: a null
// descriptor, matching kernel/user code and data selectors and a single TSS
// descriptor whose RSP0 field is repointed at the per-process kernel stack
// before every return to user mode.
package gdt

// Selector identifies a GDT entry as loaded into a segment register.
type Selector uint16

// Selectors for the five fixed GDT entries plus the TSS. Index 0 is always
// the null descriptor; ring is encoded in the low two bits (RPL).
const (
	NullSelector       Selector = 0x00
	KernelCodeSelector Selector = 0x08
	KernelDataSelector Selector = 0x10
	UserCodeSelector   Selector = 0x18 | 3
	UserDataSelector   Selector = 0x20 | 3
	TSSSelector        Selector = 0x28
)

// descriptorFlag describes an access/flag bit that can be set on a segment
// descriptor.
type descriptorFlag uint8

const (
	flagPresent    descriptorFlag = 1 << 7
	flagUserSeg    descriptorFlag = 1 << 4
	flagExecutable descriptorFlag = 1 << 3
	flagReadWrite  descriptorFlag = 1 << 1
	flagLongMode   descriptorFlag = 1 << 5 // in the granularity byte
)

const (
	ring0 uint8 = 0
	ring3 uint8 = 3
)

// tss mirrors the layout of the amd64 Task State Segment. Only RSP0 and the
// I/O map base are meaningful for this kernel: RSP0 supplies the stack used
// on privilege-level transitions into ring 0 (interrupts, syscalls); IST
// slots are left at zero since the core does not use the interrupt stack
// table.
type tss struct {
	reserved0 uint32
	rsp       [3]uint64
	reserved1 uint64
	ist       [7]uint64
	reserved2 uint64
	reserved3 uint16
	ioMapBase uint16
}

var (
	kernelTSS      tss
	kernelTSSStack [4096]byte
)

// Init installs the GDT and TSS and loads them into their respective CPU
// registers (LGDT / LTR). It must run once, early in boot, before the IDT is
// installed since exception entry relies on the kernel code/data selectors
// this sets up.
func Init(kernelStackTop uintptr) {
	kernelTSS.rsp[0] = uint64(kernelStackTop)
	installGDT(&kernelTSS)
}

// SetKernelStack repoints the TSS's RSP0 field to the top of the given
// stack. The kernel has no per-process kernel stacks and does not call it,
// so RSP0 keeps the stack top passed to Init for every entry from user
// mode.
func SetKernelStack(top uintptr) {
	kernelTSS.rsp[0] = uint64(top)
}

// installGDT is implemented in assembly: it builds the five descriptors
// plus the TSS descriptor pointing at t, loads GDTR via LGDT and loads the
// task register via LTR.
func installGDT(t *tss)
