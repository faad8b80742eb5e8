package irq

import "github.com/Zakki0925224/myos-x86-64/kernel/gate"

// ExceptionNum identifies a CPU exception vector that callers may register
// a handler for via HandleException/HandleExceptionWithCode.
type ExceptionNum uint8

const (
	DivideByZero       = ExceptionNum(gate.DivideByZero)
	InvalidOpcode      = ExceptionNum(gate.InvalidOpcode)
	DeviceNotAvailable = ExceptionNum(gate.DeviceNotAvailable)
	DoubleFault        = ExceptionNum(gate.DoubleFault)
	GPFException       = ExceptionNum(gate.GPFException)
	PageFaultException = ExceptionNum(gate.PageFaultException)
)

// Regs is the subset of gate.Registers that exception handlers get to
// inspect and mutate; general purpose register state only, split out from
// the CPU-owned return Frame so handlers can't accidentally corrupt RIP/CS/
// RFlags/RSP/SS bookkeeping by reusing the same struct for both.
type Regs struct {
	RAX, RBX, RCX, RDX uint64
	RSI, RDI, RBP      uint64
	R8, R9, R10, R11   uint64
	R12, R13, R14, R15 uint64
}

// Frame is the CPU-pushed return frame consumed by IRETQ.
type Frame struct {
	RIP, CS, RFlags, RSP, SS uint64
}

// ExceptionHandler handles an exception that carries no hardware error
// code.
type ExceptionHandler func(*Frame, *Regs)

// ExceptionHandlerWithCode handles an exception that carries a hardware
// error code (available as the first argument).
type ExceptionHandlerWithCode func(uint64, *Frame, *Regs)

// HandleException registers handler for exceptionNum. Any writes the
// handler makes to frame or regs are copied back into the live register
// snapshot before IRETQ runs, letting e.g. a page-fault handler that
// demand-paged in a frame simply retry the faulting instruction.
func HandleException(exceptionNum ExceptionNum, handler ExceptionHandler) {
	gate.HandleInterrupt(gate.InterruptNumber(exceptionNum), 0, func(full *gate.Registers) {
		regs := toRegs(full)
		frame := toFrame(full)
		handler(&frame, &regs)
		writeBack(full, &frame, &regs)
	})
}

// HandleExceptionWithCode registers handler for exceptionNum, passing along
// the hardware error code the CPU pushed.
func HandleExceptionWithCode(exceptionNum ExceptionNum, handler ExceptionHandlerWithCode) {
	gate.HandleInterrupt(gate.InterruptNumber(exceptionNum), 0, func(full *gate.Registers) {
		regs := toRegs(full)
		frame := toFrame(full)
		handler(full.Info, &frame, &regs)
		writeBack(full, &frame, &regs)
	})
}

func toRegs(full *gate.Registers) Regs {
	return Regs{
		RAX: full.RAX, RBX: full.RBX, RCX: full.RCX, RDX: full.RDX,
		RSI: full.RSI, RDI: full.RDI, RBP: full.RBP,
		R8: full.R8, R9: full.R9, R10: full.R10, R11: full.R11,
		R12: full.R12, R13: full.R13, R14: full.R14, R15: full.R15,
	}
}

func toFrame(full *gate.Registers) Frame {
	return Frame{RIP: full.RIP, CS: full.CS, RFlags: full.RFlags, RSP: full.RSP, SS: full.SS}
}

func writeBack(full *gate.Registers, frame *Frame, regs *Regs) {
	full.RAX, full.RBX, full.RCX, full.RDX = regs.RAX, regs.RBX, regs.RCX, regs.RDX
	full.RSI, full.RDI, full.RBP = regs.RSI, regs.RDI, regs.RBP
	full.R8, full.R9, full.R10, full.R11 = regs.R8, regs.R9, regs.R10, regs.R11
	full.R12, full.R13, full.R14, full.R15 = regs.R12, regs.R13, regs.R14, regs.R15
	full.RIP, full.CS, full.RFlags, full.RSP, full.SS = frame.RIP, frame.CS, frame.RFlags, frame.RSP, frame.SS
}
