// Package mouse implements a PS/2 mouse driver that decodes the standard
// 3-byte packet stream into relative motion and button events.
package mouse

import (
	"io"

	"github.com/Zakki0925224/myos-x86-64/device"
	"github.com/Zakki0925224/myos-x86-64/kernel"
	"github.com/Zakki0925224/myos-x86-64/kernel/cpu"
	"github.com/Zakki0925224/myos-x86-64/kernel/irq"
)

const (
	dataPort   = 0x60
	statusPort = 0x64
	cmdPort    = 0x64

	cmdWriteAux = 0xd4
	cmdEnable   = 0xf4
	cmdReset    = 0xff

	statusInputFull = 0x02

	maxQueuedEvents = 64
)

var (
	inbFn  = cpu.Inb
	outbFn = cpu.Outb
)

// Event is a decoded motion/button report.
type Event struct {
	DX, DY               int8
	Left, Right, Middle bool
}

// Driver accumulates the 3-byte PS/2 packet stream and exposes completed
// Events through a fixed-size ring buffer fed from the IRQ12 handler.
type Driver struct {
	packet    [3]byte
	packetLen int

	queue     [maxQueuedEvents]Event
	head, len int
}

// New creates an unattached mouse driver.
func New() *Driver { return &Driver{} }

func waitReady() {
	for outbWaitFn() {
	}
}

var outbWaitFn = func() bool { return inbFn(statusPort)&statusInputFull != 0 }

// ReadEvent pops the oldest queued event, returning ok=false if none is
// pending.
func (d *Driver) ReadEvent() (ev Event, ok bool) {
	wasEnabled := cpu.InterruptsEnabled()
	cpu.DisableInterrupts()
	if d.len > 0 {
		ev = d.queue[d.head]
		d.head = (d.head + 1) % maxQueuedEvents
		d.len--
		ok = true
	}
	if wasEnabled {
		cpu.EnableInterrupts()
	}
	return ev, ok
}

func (d *Driver) push(ev Event) {
	if d.len == maxQueuedEvents {
		d.head = (d.head + 1) % maxQueuedEvents
		d.len--
	}
	tail := (d.head + d.len) % maxQueuedEvents
	d.queue[tail] = ev
	d.len++
}

func (d *Driver) handleIRQ() {
	d.packet[d.packetLen] = inbFn(dataPort)
	d.packetLen++
	if d.packetLen < 3 {
		return
	}
	d.packetLen = 0

	status := d.packet[0]
	d.push(Event{
		DX:     int8(d.packet[1]),
		DY:     int8(d.packet[2]),
		Left:   status&0x01 != 0,
		Right:  status&0x02 != 0,
		Middle: status&0x04 != 0,
	})
}

// DriverName identifies this driver.
func (d *Driver) DriverName() string { return "ps2_mouse" }

// DriverVersion reports this driver's version.
func (d *Driver) DriverVersion() (uint16, uint16, uint16) { return 0, 1, 0 }

// DriverInit resets the mouse and starts packet streaming, then registers
// the IRQ12 handler.
func (d *Driver) DriverInit(_ io.Writer) *kernel.Error {
	outbFn(cmdPort, cmdWriteAux)
	waitReady()
	outbFn(dataPort, cmdReset)
	waitReady()

	outbFn(cmdPort, cmdWriteAux)
	waitReady()
	outbFn(dataPort, cmdEnable)
	waitReady()

	irq.Handle(irq.Mouse, d.handleIRQ)
	irq.Enable(irq.Mouse)
	return nil
}

func probeForMouse() device.Driver { return New() }

// HWProbes returns the probe functions hal uses to locate a mouse.
func HWProbes() []device.ProbeFn {
	return []device.ProbeFn{probeForMouse}
}
