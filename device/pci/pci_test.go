package pci

import "testing"

func resetPCIFns() {
	outlFn = func(uint16, uint32) {}
	inlFn = func(uint16) uint32 { return 0xffffffff }
}

func TestHeaderExistsRejectsNonExistSentinel(t *testing.T) {
	h := Header{VendorID: nonExistVendor, DeviceID: nonExistVendor}
	if h.Exists() {
		t.Fatal("expected sentinel vendor/device ID to report not present")
	}
}

func TestReadHeaderDecodesFields(t *testing.T) {
	defer resetPCIFns()

	dwords := map[uint8]uint32{
		0x00: 0x153410ec, // device 0x1534, vendor 0x10ec
		0x08: 0x02000001, // class 0x02 subclass 0x00 progif 0x00 revision 0x01
		0x0c: 0x00000000,
	}

	outlFn = func(uint16, uint32) {}
	var lastOffset uint8
	outlFn = func(port uint16, addr uint32) {
		lastOffset = uint8(addr & 0xfc)
	}
	inlFn = func(uint16) uint32 { return dwords[lastOffset] }

	h := readHeader(0, 1, 0)
	if h.VendorID != 0x10ec || h.DeviceID != 0x1534 {
		t.Fatalf("unexpected vendor/device: %04x:%04x", h.VendorID, h.DeviceID)
	}
	if h.ClassCode != 0x02 || h.RevisionID != 0x01 {
		t.Fatalf("unexpected class/revision: %02x/%02x", h.ClassCode, h.RevisionID)
	}
}

func TestFindByClassAndVendorDevice(t *testing.T) {
	headers := []Header{
		{VendorID: 0x10ec, DeviceID: 0x8139, ClassCode: 0x02, Subclass: 0x00},
		{VendorID: 0x8086, DeviceID: 0x1234, ClassCode: 0x0c, Subclass: 0x03},
	}

	if _, ok := FindByClass(headers, 0x0c, 0x03); !ok {
		t.Fatal("expected to find xHCI-class header")
	}
	if _, ok := FindByVendorDevice(headers, 0x10ec, 0x8139); !ok {
		t.Fatal("expected to find rtl8139 by vendor/device")
	}
	if _, ok := FindByVendorDevice(headers, 0xffff, 0xffff); ok {
		t.Fatal("expected no match for unknown vendor/device")
	}
}
