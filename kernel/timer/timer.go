// Package timer programs PIT channel 0 for a 1kHz tick and exposes a
// monotonic millisecond clock plus a simple sleep-waker list for kernel/task
// to block goroutine-like tasks on.
package timer

import (
	"github.com/Zakki0925224/myos-x86-64/kernel/cpu"
	"github.com/Zakki0925224/myos-x86-64/kernel/irq"
)

const (
	pitFreqHz   = 1193182
	tickRateHz  = 1000
	pitChannel0 = 0x40
	pitCommand  = 0x43

	// pitMode2 (rate generator) with a 16-bit binary counter and the
	// access mode set to "low byte then high byte".
	pitMode2Cmd = 0x34
)

var (
	ticks uint64

	// sleepers is a small, linearly-scanned list of pending wakeups. The
	// expected number of simultaneously sleeping tasks is tiny, so a
	// fixed-size array beats pulling in a heap for this.
	sleepers    [maxSleepers]sleeper
	sleepCount  int
)

// maxSleepers bounds the sleep-waker list; After panics if exceeded, which
// in practice means a caller forgot to let a prior sleep resolve.
const maxSleepers = 64

type sleeper struct {
	deadline uint64
	wake     func()
}

// Init programs PIT channel 0 for tickRateHz and wires its IRQ 0 line to
// tick. It must run after kernel/irq.Init.
func Init() {
	divisor := uint16(pitFreqHz / tickRateHz)

	cpu.Outb(pitCommand, pitMode2Cmd)
	cpu.Outb(pitChannel0, uint8(divisor))
	cpu.Outb(pitChannel0, uint8(divisor>>8))

	irq.Handle(irq.Timer, tick)
}

// tick runs on every PIT interrupt: it advances the monotonic clock and
// fires any sleeper whose deadline has elapsed.
func tick() {
	ticks++

	remaining := sleepCount
	sleepCount = 0
	for i := 0; i < remaining; i++ {
		s := sleepers[i]
		if ticks >= s.deadline {
			s.wake()
			continue
		}
		sleepers[sleepCount] = s
		sleepCount++
	}
}

// Ticks returns the number of milliseconds elapsed since Init, assuming the
// 1kHz tick rate this package programs.
func Ticks() uint64 { return ticks }

// Millis is an alias of Ticks kept for call sites that want to be explicit
// about units.
func Millis() uint64 { return ticks }

// After schedules wake to run once at least durationMs milliseconds have
// elapsed. Callers (kernel/kmain's network task) use this to implement
// sleeping tasks without busy-waiting.
func After(durationMs uint64, wake func()) {
	if sleepCount == maxSleepers {
		panic("timer: too many pending sleepers")
	}
	sleepers[sleepCount] = sleeper{deadline: ticks + durationMs, wake: wake}
	sleepCount++
}
