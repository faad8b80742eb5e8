package main

import "github.com/Zakki0925224/myos-x86-64/kernel/kmain"

// handoffAddr, kernelStart and kernelEnd are populated by the rt0
// assembly trampoline before it jumps to main, the same trick the
// teacher's stub.go uses to pass the multiboot info pointer: referencing
// the globals here keeps the Go compiler from inlining main and
// optimizing Kmain out of the generated object file, and the assembly
// writes the real values into these symbols' known link-time addresses
// directly rather than through a Go function call.
var (
	handoffAddr uintptr
	kernelStart uintptr
	kernelEnd   uintptr
)

// main is the only Go symbol visible from the rt0 initialization code. It
// runs after rt0 has switched to long mode, set up an initial GDT and
// carved out a minimal stack Go code can run on. main is not expected to
// return; if it does, rt0 halts the CPU.
func main() {
	kmain.Kmain(handoffAddr, kernelStart, kernelEnd)
}
