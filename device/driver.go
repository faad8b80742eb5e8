// Package device defines the interface every hardware driver in this
// kernel implements, plus the probe-function convention the hal layer uses
// to discover which drivers apply to the machine it booted on.
package device

import (
	"io"

	"github.com/Zakki0925224/myos-x86-64/kernel"
)

// Driver is implemented by every device driver in the tree.
type Driver interface {
	// DriverName returns the name of the driver.
	DriverName() string

	// DriverVersion returns the driver version.
	DriverVersion() (major uint16, minor uint16, patch uint16)

	// DriverInit initializes the device driver. Diagnostic output should
	// go through the supplied io.Writer via kfmt.Fprintf rather than
	// straight to the active console, since DriverInit may run before a
	// console has been attached.
	DriverInit(io.Writer) *kernel.Error
}

// ProbeFn scans for the presence of a particular piece of hardware and
// returns a driver for it, or nil if the hardware is not present.
type ProbeFn func() Driver
