// Package task implements the kernel's cooperative async executor: a ready
// queue of small step functions the main loop drains, with a Waker handle
// that lets a blocked task (waiting on I/O, a timer, another task) schedule
// itself back onto the queue once its condition is satisfied.
//
// No teacher file in the reference corpus implements a scheduler, so this
// package is written fresh, but it keeps the codebase's established idioms:
// pointer-sized kernel.Error values, and interrupt-disable critical
// sections in place of spinlocks, since a single CPU spinning on its own
// lock can never make progress.
package task

import (
	"github.com/Zakki0925224/myos-x86-64/kernel"
	"github.com/Zakki0925224/myos-x86-64/kernel/cpu"
)

// ID identifies a spawned Task for the lifetime of the executor.
type ID uint32

// Step is run by the executor each time a Task becomes ready. It returns
// true when the task has finished and should be dropped, false if it
// yielded and will be rescheduled by some future Waker.Wake call.
type Step func() (done bool)

// Task is a single cooperatively-scheduled unit of work.
type Task struct {
	id   ID
	step Step
}

// Waker lets a task that has yielded (because it is waiting on some event)
// hand itself back to the executor once that event occurs. It is the only
// handle a blocked task keeps; the executor itself never calls a task's
// Step again until its Waker fires.
type Waker struct {
	id ID
}

// Wake re-enqueues the task this waker was issued for. Calling Wake more
// than once, or after the task has already completed, is a harmless no-op.
func (w Waker) Wake() {
	enqueue(w.id)
}

var (
	errExecutorFull = &kernel.Error{Module: "task", Message: "too many live tasks"}

	tasks     [maxTasks]*Task
	nextID    ID
	readyHead int
	readyTail int
	ready     [maxTasks]ID
	readyLen  int
)

// maxTasks bounds the number of concurrently live tasks. The kernel never
// runs more than a handful of cooperative tasks at once (per-process
// syscall continuations, timers, driver bottom halves), so a fixed table
// avoids needing a heap-backed map this early in boot.
const maxTasks = 256

// Spawn registers a new task whose first Step call happens on the executor's
// very next iteration. It returns the task's Waker so the caller (or the
// task itself, via a closure) can re-enqueue it after yielding.
func Spawn(step Step) (Waker, *kernel.Error) {
	found := false
	var slot ID

	critical(func() {
		for i := ID(0); i < maxTasks; i++ {
			candidate := (nextID + i) % maxTasks
			if tasks[candidate] == nil {
				slot = candidate
				tasks[slot] = &Task{id: slot, step: step}
				nextID = (slot + 1) % maxTasks
				enqueueLocked(slot)
				found = true
				return
			}
		}
	})

	if !found {
		return Waker{}, errExecutorFull
	}
	return Waker{id: slot}, nil
}

// enqueue schedules id to run again, disabling interrupts for the brief
// window it touches the shared ready queue.
func enqueue(id ID) {
	critical(func() { enqueueLocked(id) })
}

func enqueueLocked(id ID) {
	if readyLen == maxTasks {
		return // already fully scheduled; can't happen under correct use
	}
	for i := 0; i < readyLen; i++ {
		if ready[(readyHead+i)%maxTasks] == id {
			return // already queued
		}
	}
	ready[readyTail] = id
	readyTail = (readyTail + 1) % maxTasks
	readyLen++
}

func dequeueLocked() (ID, bool) {
	if readyLen == 0 {
		return 0, false
	}
	id := ready[readyHead]
	readyHead = (readyHead + 1) % maxTasks
	readyLen--
	return id, true
}

// critical runs fn with interrupts disabled, restoring the previous
// interrupt-enable state on return rather than unconditionally
// re-enabling them, so nested critical sections compose safely.
func critical(fn func()) {
	wasEnabled := cpu.InterruptsEnabled()
	cpu.DisableInterrupts()
	fn()
	if wasEnabled {
		cpu.EnableInterrupts()
	}
}

// Run is the executor's main loop: it drains the ready queue, stepping each
// task once, and halts the CPU until the next interrupt whenever the queue
// empties rather than spinning. It never returns.
func Run() {
	for {
		id, ok := dequeueNext()
		if !ok {
			cpu.Halt()
			continue
		}

		t := tasks[id]
		if t == nil {
			continue
		}

		if t.step() {
			critical(func() { tasks[id] = nil })
		}
	}
}

func dequeueNext() (ID, bool) {
	var id ID
	var ok bool
	critical(func() { id, ok = dequeueLocked() })
	return id, ok
}
