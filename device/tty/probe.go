package tty

import "github.com/Zakki0925224/myos-x86-64/device"

// HWProbes returns the probe functions hal uses to locate a terminal
// implementation.
func HWProbes() []device.ProbeFn {
	return []device.ProbeFn{
		probeForVT,
	}
}
