package tty

import (
	"io"

	"github.com/Zakki0925224/myos-x86-64/device"
	"github.com/Zakki0925224/myos-x86-64/device/video/console"
	"github.com/Zakki0925224/myos-x86-64/kernel"
)

// VT implements Device with a scrollback-capable text buffer. It interprets
// \r, \n, \b and \t (expanded to tabWidth spaces); every other byte is
// written as a literal character using the terminal's current colors.
type VT struct {
	cons console.Device

	termWidth      uint32
	termHeight     uint32
	viewportWidth  uint32
	viewportHeight uint32
	scrollback     uint32

	// data holds the full scrollback buffer, 3 bytes per cell: ASCII
	// char, fg, bg.
	data []uint8

	tabWidth         uint8
	defaultFg, curFg uint8
	defaultBg, curBg uint8
	cursorX          uint32
	cursorY          uint32
	viewportY        uint32
	dataOffset       uint32
	state            State
}

// NewVT creates a virtual terminal. It must be attached to a console via
// AttachTo before any writes take effect.
func NewVT(tabWidth uint8, scrollback uint32) *VT {
	return &VT{
		tabWidth:   tabWidth,
		scrollback: scrollback,
		cursorX:    1,
		cursorY:    1,
	}
}

// AttachTo connects the terminal to a console and (re)allocates its
// scrollback buffer to match the console's character dimensions.
func (t *VT) AttachTo(cons console.Device) {
	if cons == nil {
		return
	}

	t.cons = cons
	t.viewportWidth, t.viewportHeight = cons.Dimensions(console.Characters)
	t.viewportY = 0
	t.defaultFg, t.defaultBg = cons.DefaultColors()
	t.curFg, t.curBg = t.defaultFg, t.defaultBg
	t.termWidth, t.termHeight = t.viewportWidth, t.viewportHeight+t.scrollback
	t.cursorX, t.cursorY = 1, 1

	t.data = make([]uint8, t.termWidth*t.termHeight*3)
	for i := 0; i < len(t.data); i += 3 {
		t.data[i] = ' '
		t.data[i+1] = t.defaultFg
		t.data[i+2] = t.defaultBg
	}
}

// State returns the terminal's activity state.
func (t *VT) State() State { return t.state }

// SetState updates the terminal's activity state, repainting the console
// from the scrollback buffer when transitioning to StateActive.
func (t *VT) SetState(newState State) {
	if t.state == newState {
		return
	}
	t.state = newState

	if t.state == StateActive && t.cons != nil {
		for y := uint32(1); y <= t.viewportHeight; y++ {
			offset := (y - 1 + t.viewportY) * (t.viewportWidth * 3)
			for x := uint32(1); x <= t.viewportWidth; x, offset = x+1, offset+3 {
				t.cons.Write(t.data[offset], t.data[offset+1], t.data[offset+2], x, y)
			}
		}
	}
}

// CursorPosition returns the current 1-based cursor coordinates.
func (t *VT) CursorPosition() (uint32, uint32) { return t.cursorX, t.cursorY }

// SetCursorPosition moves the cursor, clipping to the viewport.
func (t *VT) SetCursorPosition(x, y uint32) {
	if t.cons == nil {
		return
	}
	if x < 1 {
		x = 1
	} else if x > t.viewportWidth {
		x = t.viewportWidth
	}
	if y < 1 {
		y = 1
	} else if y > t.viewportHeight {
		y = t.viewportHeight
	}
	t.cursorX, t.cursorY = x, y
	t.updateDataOffset()
}

// Write implements io.Writer.
func (t *VT) Write(data []byte) (int, error) {
	for count, b := range data {
		if err := t.WriteByte(b); err != nil {
			return count, err
		}
	}
	return len(data), nil
}

// WriteByte implements io.ByteWriter.
func (t *VT) WriteByte(b byte) error {
	if t.cons == nil {
		return io.ErrClosedPipe
	}

	switch b {
	case '\r':
		t.cr()
	case '\n':
		t.lf(true)
	case '\b':
		if t.cursorX > 1 {
			t.SetCursorPosition(t.cursorX-1, t.cursorY)
			t.doWrite(' ', false)
		}
	case '\t':
		for i := uint8(0); i < t.tabWidth; i++ {
			t.doWrite(' ', true)
		}
	default:
		t.doWrite(b, true)
	}
	return nil
}

func (t *VT) doWrite(b byte, advanceCursor bool) {
	if t.state == StateActive {
		t.cons.Write(b, t.curFg, t.curBg, t.cursorX, t.cursorY)
	}

	t.data[t.dataOffset] = b
	t.data[t.dataOffset+1] = t.curFg
	t.data[t.dataOffset+2] = t.curBg

	if advanceCursor {
		t.dataOffset += 3
		t.cursorX++
		if t.cursorX > t.viewportWidth {
			t.lf(true)
		}
	}
}

func (t *VT) cr() {
	t.cursorX = 1
	t.updateDataOffset()
}

func (t *VT) lf(withCR bool) {
	if withCR {
		t.cursorX = 1
	}

	switch {
	case t.cursorY+1 <= t.viewportHeight:
		t.cursorY++
	default:
		if t.viewportY+t.viewportHeight < t.termHeight {
			t.viewportY++
		} else {
			stride := t.viewportWidth * 3
			startOffset := t.viewportY * stride
			endOffset := (t.viewportY + t.viewportHeight - 1) * stride

			for offset := startOffset; offset < endOffset; offset++ {
				t.data[offset] = t.data[offset+stride]
			}
			for offset := endOffset; offset < endOffset+stride; offset += 3 {
				t.data[offset+0] = ' '
				t.data[offset+1] = t.defaultFg
				t.data[offset+2] = t.defaultBg
			}
		}

		if t.state == StateActive {
			t.cons.Scroll(console.ScrollDirUp, 1)
			t.cons.Fill(1, t.cursorY, t.termWidth, 1, t.defaultFg, t.defaultBg)
		}
	}

	t.updateDataOffset()
}

func (t *VT) updateDataOffset() {
	t.dataOffset = (t.viewportY+(t.cursorY-1))*(t.viewportWidth*3) + (t.cursorX-1)*3
}

// DriverName identifies this driver.
func (t *VT) DriverName() string { return "vt" }

// DriverVersion reports this driver's version.
func (t *VT) DriverVersion() (uint16, uint16, uint16) { return 0, 0, 1 }

// DriverInit requires no setup beyond construction.
func (t *VT) DriverInit(_ io.Writer) *kernel.Error { return nil }

func probeForVT() device.Driver {
	return NewVT(DefaultTabWidth, DefaultScrollback)
}
