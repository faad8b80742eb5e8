package console

import (
	"image/color"
	"testing"

	"github.com/Zakki0925224/myos-x86-64/kernel/hal/bootinfo"
)

func newTestConsole(width, height, pitch uint32) *FramebufferConsole {
	cons := NewFramebufferConsole(bootinfo.FramebufferInfo{
		Width: width, Height: height, Pitch: pitch, Bpp: 32, PhysAddr: 0,
	})
	cons.fb = make([]byte, int(height*pitch))
	glyphW, glyphH := cons.glyphSize()
	cons.widthInChars = width / glyphW
	cons.heightInChars = height / glyphH
	return cons
}

func TestDimensionsReportsCharsAndPixels(t *testing.T) {
	cons := newTestConsole(700, 130, 700*4)

	w, h := cons.Dimensions(Pixels)
	if w != 700 || h != 130 {
		t.Fatalf("expected pixel dims 700x130; got %dx%d", w, h)
	}

	cw, ch := cons.Dimensions(Characters)
	if cw != 100 || ch != 10 {
		t.Fatalf("expected char dims 100x10; got %dx%d", cw, ch)
	}
}

func TestWriteSetsForegroundPixels(t *testing.T) {
	cons := newTestConsole(70, 13, 70*4)

	cons.Write('A', 15, 0, 1, 1)

	sawFg := false
	for i := 0; i+3 < len(cons.fb); i += 4 {
		if cons.fb[i] != 0 || cons.fb[i+1] != 0 || cons.fb[i+2] != 0 {
			sawFg = true
			break
		}
	}
	if !sawFg {
		t.Fatal("expected at least one foreground pixel to be written")
	}
}

func TestFillPaintsBackgroundColor(t *testing.T) {
	cons := newTestConsole(70, 13, 70*4)
	cons.Fill(1, 1, 10, 1, 0, 4) // palette index 4

	want := cons.rgbFor(4)
	off := cons.fbOffset(0, 0)
	if cons.fb[off] != want.R || cons.fb[off+1] != want.G || cons.fb[off+2] != want.B {
		t.Fatalf("expected fill color %+v at origin; got %v", want, cons.fb[off:off+3])
	}
}

func TestScrollUpShiftsRowsTowardOrigin(t *testing.T) {
	cons := newTestConsole(70, 26, 70*4)
	// Mark the second glyph row with a sentinel value.
	_, glyphH := cons.glyphSize()
	marker := cons.fbOffset(0, glyphH)
	cons.fb[marker] = 0xAB

	cons.Scroll(ScrollDirUp, 1)

	if cons.fb[0] != 0xAB {
		t.Fatalf("expected scrolled-up sentinel at origin; got 0x%x", cons.fb[0])
	}
}

func TestSetPaletteColorOverridesEntry(t *testing.T) {
	cons := newTestConsole(70, 13, 70*4)
	orig := cons.Palette()[1].(color.RGBA)
	cons.SetPaletteColor(1, orig)
	if cons.Palette()[1] != orig {
		t.Fatal("expected palette entry to round-trip")
	}
}
