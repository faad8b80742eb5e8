package kfmt

import (
	"io"

	"github.com/Zakki0925224/myos-x86-64/kernel"
	"github.com/Zakki0925224/myos-x86-64/kernel/cpu"
)

var (
	// cpuHaltFn is mocked by tests and is automatically inlined by the compiler.
	cpuHaltFn = cpu.Halt

	errRuntimePanic = &kernel.Error{Module: "rt", Message: "unknown cause"}

	// panicSinks receives a copy of every panic report in addition to
	// outputSink. Drivers that own a side channel to the outside world
	// (the serial UART, in particular) register themselves here so that
	// a panic that occurs before or instead of a working console is
	// still observable.
	panicSinks []io.Writer
)

// AddPanicSink registers an additional writer that receives a copy of every
// panic report. It is intended for drivers such as the UART that can survive
// the console being unusable.
func AddPanicSink(w io.Writer) {
	panicSinks = append(panicSinks, w)
}

// Panic outputs the supplied error (if not nil) to the console and every
// registered panic sink, then halts the CPU. Calls to Panic never return.
// Panic also works as a redirection target for calls to panic() (resolved
// via runtime.gopanic).
//
//go:redirect-from runtime.gopanic
func Panic(e interface{}) {
	var err *kernel.Error

	switch t := e.(type) {
	case *kernel.Error:
		err = t
	case string:
		panicString(t)
		return
	case error:
		errRuntimePanic.Message = t.Error()
		err = errRuntimePanic
	default:
		err = errRuntimePanic
	}

	Printf("\n-----------------------------------\n")
	if err != nil {
		Printf("[%s] unrecoverable error: %s\n", err.Module, err.Message)
	}
	Printf("*** kernel panic: system halted ***")
	Printf("\n-----------------------------------\n")

	for _, sink := range panicSinks {
		if err != nil {
			Fprintf(sink, "[%s] unrecoverable error: %s\n", err.Module, err.Message)
		}
		Fprintf(sink, "*** kernel panic: system halted ***\n")
	}

	cpuHaltFn()
}

// panicString serves as a redirect target for runtime.throw.
//
//go:redirect-from runtime.throw
func panicString(msg string) {
	errRuntimePanic.Message = msg
	Panic(errRuntimePanic)
}
