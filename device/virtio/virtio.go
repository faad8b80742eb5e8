// Package virtio probes for virtio PCI devices (the QEMU/KVM paravirtual
// device family). It only announces detection by device class; virtqueue
// setup and any per-device driver (net, block, ...) are not implemented.
package virtio

import (
	"io"

	"github.com/Zakki0925224/myos-x86-64/device"
	"github.com/Zakki0925224/myos-x86-64/device/pci"
	"github.com/Zakki0925224/myos-x86-64/kernel"
	"github.com/Zakki0925224/myos-x86-64/kernel/kfmt"
)

// virtioVendorID is the PCI vendor ID Red Hat registered for virtio
// devices.
const virtioVendorID = 0x1af4

// DeviceKind names the virtio device ID ranges relevant to this kernel.
type DeviceKind uint16

const (
	KindNet   DeviceKind = 0x1000
	KindBlock DeviceKind = 0x1001
)

var scanPCIFn = pci.Scan

// Driver represents a detected but unattached virtio PCI device.
type Driver struct {
	header pci.Header
	kind   DeviceKind
}

// New creates an unattached driver for the given detected header.
func New(header pci.Header) *Driver {
	return &Driver{header: header, kind: DeviceKind(header.DeviceID)}
}

// DriverName identifies this driver.
func (d *Driver) DriverName() string { return "virtio" }

// DriverVersion reports this driver's version.
func (d *Driver) DriverVersion() (uint16, uint16, uint16) { return 0, 0, 1 }

// DriverInit only logs detection; virtqueue negotiation is future work.
func (d *Driver) DriverInit(w io.Writer) *kernel.Error {
	kfmt.Fprintf(w, "virtio: detected device kind 0x%x at %d:%d.%d (not attached)\n", uint16(d.kind), d.header.Bus, d.header.Device, d.header.Function)
	return nil
}

func findDevice() (pci.Header, bool) {
	for _, h := range scanPCIFn() {
		if h.VendorID == virtioVendorID {
			return h, true
		}
	}
	return pci.Header{}, false
}

func probeForVirtio() device.Driver {
	header, ok := findDevice()
	if !ok {
		return nil
	}
	return New(header)
}

// HWProbes returns the probe functions hal uses to locate a virtio
// device.
func HWProbes() []device.ProbeFn {
	return []device.ProbeFn{probeForVirtio}
}
