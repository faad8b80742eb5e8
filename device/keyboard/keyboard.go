// Package keyboard implements a PS/2 keyboard driver that decodes scan code
// set 1 into ASCII, delivering key-down events to a ring buffer that
// device/tty's line editor drains.
package keyboard

import (
	"io"

	"github.com/Zakki0925224/myos-x86-64/device"
	"github.com/Zakki0925224/myos-x86-64/kernel"
	"github.com/Zakki0925224/myos-x86-64/kernel/cpu"
	"github.com/Zakki0925224/myos-x86-64/kernel/irq"
)

const (
	dataPort    = 0x60
	statusPort  = 0x64
	cmdPort     = 0x64
	cfgEnableInt = 0x60
	cfgReadCfg   = 0x20

	releasedBit = 0x80

	maxQueuedEvents = 128
)

var (
	inbFn  = cpu.Inb
	outbFn = cpu.Outb
)

// Event describes a single key transition.
type Event struct {
	Code    uint8 // raw scan code (set 1), release bit masked off
	Pressed bool
	ASCII   byte // 0 if the key has no ASCII representation
}

// Driver decodes PS/2 scan codes into Events and exposes them to readers
// via a fixed-size ring buffer fed from the IRQ1 handler.
type Driver struct {
	shift bool
	ctrl  bool

	queue     [maxQueuedEvents]Event
	head, len int
}

// New creates an unattached keyboard driver.
func New() *Driver { return &Driver{} }

// ReadEvent pops the oldest queued event, returning ok=false if none is
// pending. Safe to call from task code; interrupts are briefly disabled to
// make the pop atomic with the IRQ1 producer.
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
		// Drop the oldest event to make room; a full queue means
		// nothing is draining it.
		d.head = (d.head + 1) % maxQueuedEvents
		d.len--
	}
	tail := (d.head + d.len) % maxQueuedEvents
	d.queue[tail] = ev
	d.len++
}

func (d *Driver) handleIRQ() {
	raw := inbFn(dataPort)
	pressed := raw&releasedBit == 0
	code := raw &^ releasedBit

	switch code {
	case scLeftShift, scRightShift:
		d.shift = pressed
	case scLeftCtrl:
		d.ctrl = pressed
	}

	ev := Event{Code: code, Pressed: pressed}
	if pressed {
		ev.ASCII = translate(code, d.shift, d.ctrl)
	}
	d.push(ev)
}

// DriverName identifies this driver.
func (d *Driver) DriverName() string { return "ps2_keyboard" }

// DriverVersion reports this driver's version.
func (d *Driver) DriverVersion() (uint16, uint16, uint16) { return 0, 1, 0 }

// DriverInit enables the keyboard interrupt line and registers the IRQ1
// handler.
func (d *Driver) DriverInit(_ io.Writer) *kernel.Error {
	outbFn(cmdPort, cfgEnableInt)
	outbFn(cmdPort, cfgReadCfg)
	irq.Handle(irq.Keyboard, d.handleIRQ)
	irq.Enable(irq.Keyboard)
	return nil
}

func probeForKeyboard() device.Driver { return New() }

// HWProbes returns the probe functions hal uses to locate a keyboard.
func HWProbes() []device.ProbeFn {
	return []device.ProbeFn{probeForKeyboard}
}
