package tty

import "github.com/Zakki0925224/myos-x86-64/device/keyboard"

// KeySource is implemented by anything that can hand back queued key
// events; device/keyboard.Driver satisfies it.
type KeySource interface {
	ReadEvent() (keyboard.Event, bool)
}

const maxLineLength = 256

// LineEditor assembles keystrokes from a KeySource into completed lines,
// echoing each keystroke to an attached terminal and backing the
// /dev/stdin character device.
type LineEditor struct {
	term   Device
	source KeySource

	buf    [maxLineLength]byte
	cursor int

	completed [][]byte
}

// NewLineEditor creates a line editor that echoes to term and reads raw
// key events from source.
func NewLineEditor(term Device, source KeySource) *LineEditor {
	return &LineEditor{term: term, source: source}
}

// Poll drains every pending key event from the source, updating the
// in-progress line and echoing to the terminal. It should be called once
// per scheduler pass by the task that owns stdin.
func (e *LineEditor) Poll() {
	for {
		ev, ok := e.source.ReadEvent()
		if !ok {
			return
		}
		if !ev.Pressed || ev.ASCII == 0 {
			continue
		}
		e.handleByte(ev.ASCII)
	}
}

func (e *LineEditor) handleByte(b byte) {
	switch b {
	case '\n':
		line := make([]byte, e.cursor)
		copy(line, e.buf[:e.cursor])
		e.completed = append(e.completed, line)
		e.cursor = 0
		if e.term != nil {
			e.term.WriteByte('\n')
		}
	case '\b':
		if e.cursor > 0 {
			e.cursor--
			if e.term != nil {
				e.term.WriteByte('\b')
			}
		}
	default:
		if e.cursor == maxLineLength {
			return
		}
		e.buf[e.cursor] = b
		e.cursor++
		if e.term != nil {
			e.term.WriteByte(b)
		}
	}
}

// ReadLine pops the oldest completed line, returning ok=false if no line
// has been terminated with '\n' yet. This is what the /dev/stdin vfs node
// calls on a Read.
func (e *LineEditor) ReadLine() (line []byte, ok bool) {
	if len(e.completed) == 0 {
		return nil, false
	}
	line, e.completed = e.completed[0], e.completed[1:]
	return line, true
}
