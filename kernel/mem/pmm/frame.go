// Package pmm manages physical memory frame allocations.
package pmm

import (
	"math"

	"github.com/Zakki0925224/myos-x86-64/kernel/mem"
)

// Frame describes a physical memory page index: physical address divided by
// the page size.
type Frame uintptr

// InvalidFrame is returned by frame allocators when they fail to reserve
// the requested frame.
const InvalidFrame = Frame(math.MaxUint64)

// Valid reports whether f is a real frame rather than InvalidFrame.
func (f Frame) Valid() bool {
	return f != InvalidFrame
}

// Address returns the physical address of the page frame f refers to.
func (f Frame) Address() uintptr {
	return uintptr(f << mem.PageShift)
}
