// Package console implements the kernel's single video console: a 32bpp
// linear framebuffer text surface rendered with a fixed-width bitmap font
// via golang.org/x/image/font.
package console

import (
	"image/color"

	"github.com/Zakki0925224/myos-x86-64/device"
)

// ScrollDir is a direction passed to Scroll.
type ScrollDir uint8

const (
	ScrollDirUp ScrollDir = iota
	ScrollDirDown
)

// Dimension selects which unit Dimensions reports in.
type Dimension uint8

const (
	Characters Dimension = iota
	Pixels
)

// Device is implemented by the kernel's console driver. There is exactly
// one console (the UEFI-provided linear framebuffer); the interface exists
// so device/tty can be exercised against a fake in tests.
type Device interface {
	Dimensions(Dimension) (uint32, uint32)
	DefaultColors() (fg, bg uint8)
	Fill(x, y, width, height uint32, fg, bg uint8)
	Scroll(dir ScrollDir, lines uint32)
	Write(ch byte, fg, bg uint8, x, y uint32)
	Palette() color.Palette
	SetPaletteColor(uint8, color.RGBA)
}

// ProbeFuncs is populated by this package's init() with a probe for the
// framebuffer console; hal.ProbeAll walks it the same way it walks
// every other device probe list.
var ProbeFuncs []device.ProbeFn
