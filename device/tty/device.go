// Package tty implements the kernel's virtual terminal: a scrollback text
// buffer synced to the active console plus a line editor fed by
// device/keyboard's key-event stream, exposed to processes as /dev/stdin.
package tty

import (
	"io"

	"github.com/Zakki0925224/myos-x86-64/device/video/console"
)

const (
	// DefaultScrollback is the number of extra buffered lines above the
	// visible viewport.
	DefaultScrollback = 80

	// DefaultTabWidth is the number of columns a tab expands to.
	DefaultTabWidth = 4
)

// State is the activity state of a Device.
type State uint8

const (
	// StateInactive buffers writes without syncing them to the console.
	StateInactive State = iota
	// StateActive mirrors every write to the attached console.
	StateActive
)

// Device is implemented by the kernel's terminal.
type Device interface {
	io.Writer
	io.ByteWriter

	AttachTo(console.Device)
	State() State
	SetState(State)
	CursorPosition() (uint32, uint32)
	SetCursorPosition(x, y uint32)
}
