// Package acpi enumerates the ACPI system description tables the UEFI
// firmware's hand-off block points to, mapping each one into kernel
// address space and verifying its checksum. It stops at table discovery
// and does not implement an AML interpreter: nothing in this kernel
// needs anything past a table's header and raw contents today, and the
// bytecode VM that would be required to go further is substantial
// enough to be explicitly out of scope.
//
// Grounded on src/gopheros/device/acpi/acpi.go, whose enumerateTables/
// mapACPITable/validTable trio this package keeps almost unchanged. The
// one real difference is how the root pointer is found:
// src/gopheros/device/acpi/acpi.go's locateRSDT scans physical memory
// [0xe0000, 0xfffff] for the "RSD PTR " signature, because on BIOS
// systems nothing hands the kernel that address directly. This kernel
// boots through UEFI, which already reports the RSDP's physical address
// in the hand-off block (kernel/hal/bootinfo.RSDP), so the scan is
// replaced with a direct read at that address.
package acpi

import (
	"io"
	"unsafe"

	"github.com/Zakki0925224/myos-x86-64/device"
	"github.com/Zakki0925224/myos-x86-64/device/acpi/table"
	"github.com/Zakki0925224/myos-x86-64/kernel"
	"github.com/Zakki0925224/myos-x86-64/kernel/hal/bootinfo"
	"github.com/Zakki0925224/myos-x86-64/kernel/kfmt"
	"github.com/Zakki0925224/myos-x86-64/kernel/mem"
	"github.com/Zakki0925224/myos-x86-64/kernel/mem/pmm"
	"github.com/Zakki0925224/myos-x86-64/kernel/mem/vmm"
)

const (
	acpiRev1     uint8 = 0
	acpiRev2Plus uint8 = 2
)

var (
	errMissingRSDP           = &kernel.Error{Module: "acpi", Message: "boot hand-off block carries no RSDP address"}
	errBadRSDPSignature      = &kernel.Error{Module: "acpi", Message: "RSDP signature does not read \"RSD PTR \""}
	errTableChecksumMismatch = &kernel.Error{Module: "acpi", Message: "ACPI table checksum mismatch"}

	identityMapFn = vmm.IdentityMapRegion
	getRSDPAddrFn = bootinfo.RSDP

	rsdpSignature = [8]byte{'R', 'S', 'D', ' ', 'P', 'T', 'R', ' '}
)

func frameFromAddress(addr uintptr) pmm.Frame { return pmm.Frame(addr >> mem.PageShift) }

// Driver enumerates and holds every ACPI table found through the RSDT
// or XSDT, keyed by four-character signature.
type Driver struct {
	rsdtAddr uintptr
	useXSDT  bool

	tableMap map[string]*table.SDTHeader
}

// DriverName identifies this driver.
func (*Driver) DriverName() string { return "acpi" }

// DriverVersion reports this driver's version.
func (*Driver) DriverVersion() (uint16, uint16, uint16) { return 0, 1, 0 }

// DriverInit enumerates every ACPI table reachable from the root table
// and logs each one found.
func (drv *Driver) DriverInit(w io.Writer) *kernel.Error {
	if err := drv.enumerateTables(w); err != nil {
		return err
	}
	for name, header := range drv.tableMap {
		kfmt.Fprintf(w, "acpi: %s at 0x%x length %d\n", name, uintptr(unsafe.Pointer(header)), header.Length)
	}
	return nil
}

// Tables returns the discovered table map, keyed by four-character
// signature (e.g. "FACP", "APIC").
func (drv *Driver) Tables() map[string]*table.SDTHeader { return drv.tableMap }

func (drv *Driver) enumerateTables(w io.Writer) *kernel.Error {
	header, sizeofHeader, err := mapACPITable(drv.rsdtAddr)
	if err != nil {
		return err
	}

	drv.tableMap = make(map[string]*table.SDTHeader)
	payloadLen := header.Length - uint32(sizeofHeader)

	var sdtAddresses []uintptr
	if drv.useXSDT {
		sdtAddresses = make([]uintptr, payloadLen>>3)
		for curPtr, i := drv.rsdtAddr+sizeofHeader, 0; i < len(sdtAddresses); curPtr, i = curPtr+8, i+1 {
			sdtAddresses[i] = uintptr(*(*uint64)(unsafe.Pointer(curPtr)))
		}
	} else {
		sdtAddresses = make([]uintptr, payloadLen>>2)
		for curPtr, i := drv.rsdtAddr+sizeofHeader, 0; i < len(sdtAddresses); curPtr, i = curPtr+4, i+1 {
			sdtAddresses[i] = uintptr(*(*uint32)(unsafe.Pointer(curPtr)))
		}
	}

	for _, addr := range sdtAddresses {
		entryHeader, _, err := mapACPITable(addr)
		if err == errTableChecksumMismatch {
			kfmt.Fprintf(w, "acpi: %s at 0x%x [checksum mismatch; skipping]\n", string(entryHeader.Signature[:]), addr)
			continue
		}
		if err != nil {
			return err
		}
		drv.tableMap[string(entryHeader.Signature[:])] = entryHeader
	}

	return nil
}

// mapACPITable identity-maps the table starting at tableAddr, first just
// its header to learn the table's real length, then expanding the
// mapping to cover the whole table before validating its checksum.
func mapACPITable(tableAddr uintptr) (header *table.SDTHeader, sizeofHeader uintptr, err *kernel.Error) {
	sizeofHeader = unsafe.Sizeof(table.SDTHeader{})
	headerPage, err := identityMapFn(frameFromAddress(tableAddr), mem.Size(sizeofHeader), vmm.FlagPresent)
	if err != nil {
		return nil, sizeofHeader, err
	}

	pageOffset := tableAddr & (uintptr(mem.PageSize) - 1)
	headerAddr := headerPage.Address() + pageOffset
	header = (*table.SDTHeader)(unsafe.Pointer(headerAddr))

	if _, err = identityMapFn(frameFromAddress(tableAddr), mem.Size(header.Length), vmm.FlagPresent); err != nil {
		return nil, sizeofHeader, err
	}

	if !validTable(headerAddr, header.Length) {
		err = errTableChecksumMismatch
	}
	return header, sizeofHeader, err
}

// locateRoot reads the RSDP the boot hand-off block points to and
// returns the physical address of the root table (RSDT or XSDT) it
// names, along with whether that root table is the 64-bit XSDT.
func locateRoot() (uintptr, bool, *kernel.Error) {
	rsdpAddr := getRSDPAddrFn()
	if rsdpAddr == 0 {
		return 0, false, errMissingRSDP
	}

	extSize := mem.Size(unsafe.Sizeof(table.ExtRSDPDescriptor{}))
	page, err := identityMapFn(frameFromAddress(rsdpAddr), extSize, vmm.FlagPresent)
	if err != nil {
		return 0, false, err
	}
	pageOffset := rsdpAddr & (uintptr(mem.PageSize) - 1)
	base := page.Address() + pageOffset

	rsdp := (*table.RSDPDescriptor)(unsafe.Pointer(base))
	for i, b := range rsdpSignature {
		if rsdp.Signature[i] != b {
			return 0, false, errBadRSDPSignature
		}
	}

	if rsdp.Revision == acpiRev1 {
		if !validTable(base, uint32(unsafe.Sizeof(*rsdp))) {
			return 0, false, errTableChecksumMismatch
		}
		return uintptr(rsdp.RSDTAddr), false, nil
	}

	rsdp2 := (*table.ExtRSDPDescriptor)(unsafe.Pointer(base))
	if !validTable(base, uint32(unsafe.Sizeof(*rsdp2))) {
		return 0, false, errTableChecksumMismatch
	}
	return uintptr(rsdp2.XSDTAddr), true, nil
}

// validTable reports whether every byte in [tablePtr, tablePtr+tableLength)
// sums to zero, the checksum every ACPI table must satisfy.
func validTable(tablePtr uintptr, tableLength uint32) bool {
	var sum uint8
	for i := uint32(0); i < tableLength; i++ {
		sum += *(*uint8)(unsafe.Pointer(tablePtr + uintptr(i)))
	}
	return sum == 0
}

func probeForACPI() device.Driver {
	rootAddr, useXSDT, err := locateRoot()
	if err != nil {
		return nil
	}
	return &Driver{rsdtAddr: rootAddr, useXSDT: useXSDT}
}

// HWProbes returns the probe functions hal uses to locate ACPI tables.
func HWProbes() []device.ProbeFn {
	return []device.ProbeFn{probeForACPI}
}
