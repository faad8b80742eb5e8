// Package uart implements a 16550-compatible serial port driver, used as
// the backing device for /dev/uart0.
package uart

import (
	"io"

	"github.com/Zakki0925224/myos-x86-64/device"
	"github.com/Zakki0925224/myos-x86-64/kernel"
	"github.com/Zakki0925224/myos-x86-64/kernel/cpu"
)

// COM1Base is the legacy I/O port base for the first serial port.
const COM1Base = 0x3f8

var (
	outbFn = cpu.Outb
	inbFn  = cpu.Inb

	errSelfTestFailed = &kernel.Error{Module: "uart", Message: "serial chip failed loopback self-test"}
)

// Driver implements device.Driver for a single 16550 UART.
type Driver struct {
	base     uint16
	attached bool
}

// New creates a driver for the UART at the given I/O port base.
func New(base uint16) *Driver { return &Driver{base: base} }

// ReadByte returns the next received byte, or ok=false if the receive
// buffer is empty.
func (d *Driver) ReadByte() (b byte, ok bool) {
	if !d.attached || inbFn(d.base+5)&0x01 == 0 {
		return 0, false
	}
	return inbFn(d.base), true
}

// WriteByte transmits a single byte, implementing io.ByteWriter.
func (d *Driver) WriteByte(b byte) error {
	if !d.attached {
		return io.ErrClosedPipe
	}
	outbFn(d.base, b)
	return nil
}

// Write implements io.Writer.
func (d *Driver) Write(p []byte) (int, error) {
	for i, b := range p {
		if err := d.WriteByte(b); err != nil {
			return i, err
		}
	}
	return len(p), nil
}

// DriverName identifies this driver.
func (d *Driver) DriverName() string { return "uart" }

// DriverVersion reports this driver's version.
func (d *Driver) DriverVersion() (uint16, uint16, uint16) { return 0, 1, 0 }

// DriverInit programs the UART for 38400 8N1 with FIFOs enabled, verifying
// the chip is present via its loopback self-test before committing to
// normal mode.
func (d *Driver) DriverInit(_ io.Writer) *kernel.Error {
	outbFn(d.base+1, 0x00) // disable interrupts
	outbFn(d.base+3, 0x80) // enable DLAB
	outbFn(d.base+0, 0x03) // divisor low byte: 38400 bps
	outbFn(d.base+1, 0x00) // divisor high byte
	outbFn(d.base+3, 0x03) // 8 bits, no parity, one stop bit
	outbFn(d.base+2, 0xc7) // enable FIFO, clear it, 14-byte threshold
	outbFn(d.base+4, 0x0b) // IRQs enabled, RTS/DSR set
	outbFn(d.base+4, 0x1e) // loopback mode for self-test
	outbFn(d.base+0, 0xae)

	if inbFn(d.base) != 0xae {
		return errSelfTestFailed
	}

	outbFn(d.base+4, 0x0f) // back to normal operation
	d.attached = true
	return nil
}

func probeForUART() device.Driver { return New(COM1Base) }

// HWProbes returns the probe functions hal uses to locate a serial port.
func HWProbes() []device.ProbeFn {
	return []device.ProbeFn{probeForUART}
}
