// Package hal aggregates every device package's hardware probe
// functions into a single detection pass, the role
// src/gopheros/kernel/hal/hal.go's InitTerminal/ActiveTerminal pair
// played for the teacher's single hard-coded EGA console. This kernel
// talks to a UEFI-provided framebuffer plus a handful of PC-standard
// peripherals rather than one fixed console, so the single global is
// replaced with a probe-and-collect pass across every driver package,
// following the ProbeFn/HWProbes convention device/keyboard,
// device/mouse, device/uart, device/rtl8139, device/virtio, device/xhci,
// device/tty, device/video/console and device/acpi all already export.
package hal

import (
	"io"

	"github.com/Zakki0925224/myos-x86-64/device"
	"github.com/Zakki0925224/myos-x86-64/device/acpi"
	"github.com/Zakki0925224/myos-x86-64/device/keyboard"
	"github.com/Zakki0925224/myos-x86-64/device/mouse"
	"github.com/Zakki0925224/myos-x86-64/device/rtl8139"
	"github.com/Zakki0925224/myos-x86-64/device/tty"
	"github.com/Zakki0925224/myos-x86-64/device/uart"
	"github.com/Zakki0925224/myos-x86-64/device/video/console"
	"github.com/Zakki0925224/myos-x86-64/device/virtio"
	"github.com/Zakki0925224/myos-x86-64/device/xhci"
	"github.com/Zakki0925224/myos-x86-64/kernel/kfmt"
)

// Probes lists every probe function this kernel knows how to run,
// aggregated from every device package's own HWProbes/ProbeFuncs list.
// kernel/kmain walks this once during boot; nothing else needs to know
// which packages exist.
var Probes = allProbes()

func allProbes() []device.ProbeFn {
	var probes []device.ProbeFn
	probes = append(probes, console.ProbeFuncs...)
	probes = append(probes, tty.HWProbes()...)
	probes = append(probes, keyboard.HWProbes()...)
	probes = append(probes, mouse.HWProbes()...)
	probes = append(probes, uart.HWProbes()...)
	probes = append(probes, rtl8139.HWProbes()...)
	probes = append(probes, virtio.HWProbes()...)
	probes = append(probes, xhci.HWProbes()...)
	probes = append(probes, acpi.HWProbes()...)
	return probes
}

// ProbeAll runs every registered probe function, initializes every
// driver that reports its hardware present, and returns the ones that
// initialized successfully. Diagnostic output from each driver's
// DriverInit goes to w.
func ProbeAll(w io.Writer) []device.Driver {
	var found []device.Driver
	for _, probe := range Probes {
		drv := probe()
		if drv == nil {
			continue
		}
		if err := drv.DriverInit(w); err != nil {
			kfmt.Fprintf(w, "hal: %s failed to initialize: %s\n", drv.DriverName(), err.Message)
			continue
		}
		major, minor, patch := drv.DriverVersion()
		kfmt.Fprintf(w, "hal: %s v%d.%d.%d ready\n", drv.DriverName(), major, minor, patch)
		found = append(found, drv)
	}
	return found
}

// ByName returns the first driver in found whose DriverName matches
// name, or nil. kernel/kmain uses this to pick the console and terminal
// drivers back out of ProbeAll's results by their known names.
func ByName(found []device.Driver, name string) device.Driver {
	for _, drv := range found {
		if drv.DriverName() == name {
			return drv
		}
	}
	return nil
}
