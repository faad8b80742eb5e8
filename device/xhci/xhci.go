// Package xhci probes for a USB xHCI host controller on the PCI bus. It
// only announces detection; USB device enumeration and command-ring
// handling are not implemented.
package xhci

import (
	"io"

	"github.com/Zakki0925224/myos-x86-64/device"
	"github.com/Zakki0925224/myos-x86-64/device/pci"
	"github.com/Zakki0925224/myos-x86-64/kernel"
	"github.com/Zakki0925224/myos-x86-64/kernel/kfmt"
)

const (
	classSerialBus  = 0x0c
	subclassUSB     = 0x03
	progIFXHCI      = 0x30
)

var scanPCIFn = pci.Scan

// Driver represents a detected but unattached xHCI controller.
type Driver struct {
	header pci.Header
}

// New creates an unattached driver.
func New() *Driver { return &Driver{} }

// DriverName identifies this driver.
func (d *Driver) DriverName() string { return "xhci" }

// DriverVersion reports this driver's version.
func (d *Driver) DriverVersion() (uint16, uint16, uint16) { return 0, 0, 1 }

// DriverInit only logs detection of the controller; command-ring setup
// and USB device enumeration are future work.
func (d *Driver) DriverInit(w io.Writer) *kernel.Error {
	kfmt.Fprintf(w, "xhci: detected controller at %d:%d.%d (not attached)\n", d.header.Bus, d.header.Device, d.header.Function)
	return nil
}

func findController() (pci.Header, bool) {
	for _, h := range scanPCIFn() {
		if h.ClassCode == classSerialBus && h.Subclass == subclassUSB && h.ProgIF == progIFXHCI {
			return h, true
		}
	}
	return pci.Header{}, false
}

func probeForXHCI() device.Driver {
	header, ok := findController()
	if !ok {
		return nil
	}
	return &Driver{header: header}
}

// HWProbes returns the probe functions hal uses to locate an xHCI
// controller.
func HWProbes() []device.ProbeFn {
	return []device.ProbeFn{probeForXHCI}
}
