// Package pci enumerates devices on the PCI configuration space via the
// legacy CONFIG_ADDRESS/CONFIG_DATA I/O ports, exposing enough of each
// device's header to let other drivers (rtl8139, xhci, virtio) locate
// themselves by vendor/device or class code.
package pci

import "github.com/Zakki0925224/myos-x86-64/kernel/cpu"

const (
	confAddrPort = 0xcf8
	confDataPort = 0xcfc

	nonExistVendor = 0xffff

	maxBus  = 256
	maxDev  = 32
	maxFunc = 8
)

var (
	outlFn = cpu.Outl
	inlFn  = cpu.Inl
)

// Header is the common (type-0) PCI configuration space header, decoded
// from the first four config space dwords.
type Header struct {
	Bus, Device, Function uint8

	VendorID, DeviceID uint16
	Command, Status    uint16
	RevisionID         uint8
	ProgIF             uint8
	Subclass           uint8
	ClassCode          uint8
	HeaderType         uint8
}

// Exists reports whether this header describes a present device.
func (h Header) Exists() bool {
	return h.VendorID != 0 && h.VendorID != nonExistVendor &&
		h.DeviceID != 0 && h.DeviceID != nonExistVendor
}

func readConfigDword(bus, device, function uint8, byteOffset uint8) uint32 {
	addr := uint32(0x80000000) |
		uint32(bus)<<16 |
		uint32(device)<<11 |
		uint32(function)<<8 |
		uint32(byteOffset&0xfc)
	outlFn(confAddrPort, addr)
	return inlFn(confDataPort)
}

func readHeader(bus, device, function uint8) Header {
	dw0 := readConfigDword(bus, device, function, 0x00)
	dw1 := readConfigDword(bus, device, function, 0x04)
	dw2 := readConfigDword(bus, device, function, 0x08)
	dw3 := readConfigDword(bus, device, function, 0x0c)

	return Header{
		Bus:        bus,
		Device:     device,
		Function:   function,
		VendorID:   uint16(dw0),
		DeviceID:   uint16(dw0 >> 16),
		Command:    uint16(dw1),
		Status:     uint16(dw1 >> 16),
		RevisionID: uint8(dw2),
		ProgIF:     uint8(dw2 >> 8),
		Subclass:   uint8(dw2 >> 16),
		ClassCode:  uint8(dw2 >> 24),
		HeaderType: uint8(dw3 >> 16),
	}
}

// BAR reads base address register index (0-5) for the given device.
func BAR(bus, device, function uint8, index uint8) uint32 {
	if index > 5 {
		return 0
	}
	return readConfigDword(bus, device, function, 0x10+index*4)
}

// Scan walks every bus/device/function slot and returns the headers of all
// present devices. Functions 1-7 of a slot are skipped when function 0's
// header type has the multi-function bit clear. A full scan covers up to
// 256*32*8 = 65536 function slots at four config space reads each; this
// only runs once during boot.
func Scan() []Header {
	var found []Header
	for bus := 0; bus < maxBus; bus++ {
		for dev := 0; dev < maxDev; dev++ {
			for fn := 0; fn < maxFunc; fn++ {
				h := readHeader(uint8(bus), uint8(dev), uint8(fn))
				if h.Exists() {
					found = append(found, h)
				}
				if fn == 0 && h.HeaderType&0x80 == 0 {
					break
				}
			}
		}
	}
	return found
}

// FindByClass returns the first scanned device whose class/subclass pair
// matches, or ok=false if none was found.
func FindByClass(headers []Header, class, subclass uint8) (Header, bool) {
	for _, h := range headers {
		if h.ClassCode == class && h.Subclass == subclass {
			return h, true
		}
	}
	return Header{}, false
}

// FindByVendorDevice returns the first scanned device with a matching
// vendor/device ID pair.
func FindByVendorDevice(headers []Header, vendorID, deviceID uint16) (Header, bool) {
	for _, h := range headers {
		if h.VendorID == vendorID && h.DeviceID == deviceID {
			return h, true
		}
	}
	return Header{}, false
}
