package tty

import "io"

// StdinDevice adapts a LineEditor to fs/vfs.CharDevice, handing completed
// lines back one byte at a time so a process's read(2) syscall can pull
// from /dev/stdin without knowing anything about line buffering. Writes
// are rejected outright: nothing sane comes from a process pushing bytes
// into its own keyboard queue.
type StdinDevice struct {
	editor *LineEditor

	pending []byte
}

// NewStdinDevice wraps editor for exposure through fs/vfs.
func NewStdinDevice(editor *LineEditor) *StdinDevice {
	return &StdinDevice{editor: editor}
}

// ReadByte returns the next byte of the oldest completed line, pulling a
// fresh line from the editor when the current one is exhausted. It
// returns ok=false when no completed line is available, which the vfs
// read path surfaces to the caller as "nothing to read yet" rather than
// an error.
func (s *StdinDevice) ReadByte() (byte, bool) {
	for len(s.pending) == 0 {
		line, ok := s.editor.ReadLine()
		if !ok {
			return 0, false
		}
		s.pending = append(line, '\n')
	}
	b := s.pending[0]
	s.pending = s.pending[1:]
	return b, true
}

// WriteByte always fails: /dev/stdin is not writable.
func (s *StdinDevice) WriteByte(byte) error { return io.ErrClosedPipe }

// StdoutDevice adapts a Device (the active terminal) to fs/vfs.CharDevice
// so /dev/stdout and /dev/stderr can share the same terminal a process
// inherits its file descriptors from.
type StdoutDevice struct {
	term Device
}

// NewStdoutDevice wraps term for exposure through fs/vfs.
func NewStdoutDevice(term Device) *StdoutDevice {
	return &StdoutDevice{term: term}
}

// ReadByte always fails: /dev/stdout is not readable.
func (s *StdoutDevice) ReadByte() (byte, bool) { return 0, false }

// WriteByte forwards to the wrapped terminal.
func (s *StdoutDevice) WriteByte(b byte) error { return s.term.WriteByte(b) }
