// Package irq programs the 8259A Programmable Interrupt Controller pair and
// routes the hardware interrupt lines it remaps onto gate.HandleInterrupt.
// Device drivers never touch gate directly for IRQs; they call Handle and
// get a per-line handler slot plus automatic end-of-interrupt signalling.
package irq

import (
	"github.com/Zakki0925224/myos-x86-64/kernel/cpu"
	"github.com/Zakki0925224/myos-x86-64/kernel/gate"
	"github.com/Zakki0925224/myos-x86-64/kernel/kfmt"
)

// Line identifies one of the 16 legacy IRQ lines, numbered the way the PC/AT
// cascaded 8259A pair exposes them (0-7 on the master, 8-15 on the slave).
type Line uint8

const (
	Timer    Line = 0
	Keyboard Line = 1
	Cascade  Line = 2 // wired to the slave PIC, never raised directly
	COM2     Line = 3
	COM1     Line = 4
	LPT2     Line = 5
	Floppy   Line = 6
	LPT1     Line = 7
	RTC      Line = 8
	Mouse    Line = 12
	ATA1     Line = 14
	ATA2     Line = 15
)

const (
	masterCmd  = 0x20
	masterData = 0x21
	slaveCmd   = 0xa0
	slaveData  = 0xa1

	icw1Init     = 0x10
	icw1ICW4     = 0x01
	icw4_8086    = 0x01
	picEOI       = 0x20
)

var handlers [16]func()

// Init remaps the PIC pair so that IRQ 0-7 land on vectors 0x20-0x27 and
// IRQ 8-15 land on 0x28-0x2f (the legacy real-mode vectors 0x08-0x0f and
// 0x70-0x77 collide with CPU exceptions in protected/long mode), masks
// every line, and wires gate.HandleInterrupt for each of the 16 remapped
// vectors so that dispatch() runs on every IRQ regardless of whether a
// driver has registered a handler yet.
func Init() {
	// Trigger the 3-byte initialization sequence on both controllers,
	// then leave every line masked; drivers unmask their
	// own line via Enable once they are ready to receive interrupts.
	cpu.Outb(masterCmd, icw1Init|icw1ICW4)
	cpu.IOWait()
	cpu.Outb(slaveCmd, icw1Init|icw1ICW4)
	cpu.IOWait()

	cpu.Outb(masterData, uint8(gate.IRQBase))
	cpu.IOWait()
	cpu.Outb(slaveData, uint8(gate.IRQBase)+8)
	cpu.IOWait()

	cpu.Outb(masterData, 4) // slave is wired to master IRQ2
	cpu.IOWait()
	cpu.Outb(slaveData, 2) // slave's own cascade identity
	cpu.IOWait()

	cpu.Outb(masterData, icw4_8086)
	cpu.IOWait()
	cpu.Outb(slaveData, icw4_8086)
	cpu.IOWait()

	cpu.Outb(masterData, 0xff)
	cpu.Outb(slaveData, 0xff)

	for line := Line(0); line < 16; line++ {
		vector := gate.InterruptNumber(uint8(gate.IRQBase) + uint8(line))
		gate.HandleInterrupt(vector, 0, dispatch)
	}
}

// Handle registers handler to run whenever line fires and unmasks it. Only
// one handler may be registered per line; a second call replaces the
// first.
func Handle(line Line, handler func()) {
	handlers[line] = handler
	Enable(line)
}

// Enable unmasks line so the PIC starts delivering it.
func Enable(line Line) {
	port, bit := maskPort(line)
	cpu.Outb(port, cpu.Inb(port)&^bit)
}

// Disable masks line so the PIC stops delivering it.
func Disable(line Line) {
	port, bit := maskPort(line)
	cpu.Outb(port, cpu.Inb(port)|bit)
}

func maskPort(line Line) (port uint16, bit uint8) {
	if line < 8 {
		return masterData, 1 << line
	}
	return slaveData, 1 << (line - 8)
}

// dispatch is the gate.HandleInterrupt callback installed for every
// remapped IRQ vector. It recovers the line number from the register
// snapshot's Vector field (the vector minus gate.IRQBase), invokes the
// registered handler if any, and signals end-of-interrupt.
func dispatch(regs *gate.Registers) {
	line := Line(regs.Vector - uint64(gate.IRQBase))

	if h := handlers[line]; h != nil {
		h()
	} else {
		kfmt.Printf("irq: unhandled IRQ %d\n", line)
	}

	eoi(line)
}

// eoi acknowledges the interrupt so the PIC can deliver further ones. Lines
// routed through the slave controller need an EOI sent to both controllers
// per the cascaded-slave rule: the slave's own EOI clears its in-service
// bit, but the master still thinks IRQ2 (the cascade line) is in service
// until it gets one too.
func eoi(line Line) {
	if line >= 8 {
		cpu.Outb(slaveCmd, picEOI)
	}
	cpu.Outb(masterCmd, picEOI)
}
