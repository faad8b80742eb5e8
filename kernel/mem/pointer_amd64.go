// +build amd64

package mem

// PointerShift is equal to log2(unsafe.Sizeof(uintptr(0))). The pointer size
// for this architecture is defined as (1 << PointerShift) and is used when
// converting a page-table entry index into a byte offset.
const PointerShift = uintptr(3)
