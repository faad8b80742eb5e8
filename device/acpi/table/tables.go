// Package table defines the on-disk layout of the ACPI structures
// device/acpi reads directly out of physical memory: the root system
// description pointer and the common system description table header
// every ACPI table starts with. These layouts come from the ACPI
// specification itself, not from any example repo, so this package
// mirrors src/gopheros/device/acpi/table/tables.go's field-for-field
// struct definitions rather than inventing a different encoding for the
// same hardware-defined bytes.
package table

// RSDPDescriptor is the ACPI 1.0 root system description pointer, the
// entry point UEFI hands back as rsdp_ptr in the boot hand-off block.
type RSDPDescriptor struct {
	// Signature must read "RSD PTR " (trailing space included).
	Signature [8]byte

	// Checksum, added to every other byte in this descriptor, must sum
	// to zero.
	Checksum uint8

	OEMID [6]byte

	// Revision is 0 for ACPI 1.0 and 2 for ACPI 2.0 through 6.x.
	Revision uint8

	// RSDTAddr is the physical address of the 32-bit root system
	// description table.
	RSDTAddr uint32
}

// ExtRSDPDescriptor extends RSDPDescriptor with the ACPI 2.0+ fields,
// present whenever RSDPDescriptor.Revision > 1.
type ExtRSDPDescriptor struct {
	RSDPDescriptor

	// Length is this extended descriptor's total size in bytes.
	Length uint32

	// XSDTAddr is the physical address of the 64-bit extended system
	// description table.
	XSDTAddr uint64

	// ExtendedChecksum, added to every byte in the extended descriptor,
	// must sum to zero.
	ExtendedChecksum uint8

	reserved [3]byte
}

// SDTHeader is the common header every ACPI table (RSDT, XSDT, FADT,
// MADT, ...) starts with.
type SDTHeader struct {
	Signature [4]byte
	Length    uint32

	Revision uint8
	Checksum uint8

	OEMID       [6]byte
	OEMTableID  [8]byte
	OEMRevision uint32

	CreatorID       uint32
	CreatorRevision uint32
}
