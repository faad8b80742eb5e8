package console

import (
	"image"
	"image/color"
	"io"
	"reflect"
	"unsafe"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/Zakki0925224/myos-x86-64/device"
	"github.com/Zakki0925224/myos-x86-64/kernel"
	"github.com/Zakki0925224/myos-x86-64/kernel/hal/bootinfo"
	"github.com/Zakki0925224/myos-x86-64/kernel/kfmt"
	"github.com/Zakki0925224/myos-x86-64/kernel/mem"
	"github.com/Zakki0925224/myos-x86-64/kernel/mem/pmm"
	"github.com/Zakki0925224/myos-x86-64/kernel/mem/vmm"
)

var (
	mapRegionFn          = vmm.MapRegion
	getFramebufferInfoFn = bootinfo.Framebuffer
)

// FramebufferConsole renders text onto the UEFI-provided linear
// framebuffer using a fixed-width bitmap glyph set. Unlike the teacher's
// indexed VGA/VESA consoles this one always talks true color: every pixel
// write converts a palette index to a 32-bit RGB/BGR value according to
// the hand-off block's reported PixelFormat.
type FramebufferConsole struct {
	width, height uint32 // pixels
	pitch         uint32 // bytes per scanline
	bpp           uint8
	bgrOrder      bool

	fbPhysAddr uintptr
	fb         []byte

	face font.Face

	widthInChars, heightInChars uint32

	palette   color.Palette
	defaultFg uint8
	defaultBg uint8
}

// NewFramebufferConsole creates a console targeting the given hand-off
// framebuffer description.
func NewFramebufferConsole(info bootinfo.FramebufferInfo) *FramebufferConsole {
	return &FramebufferConsole{
		width:      info.Width,
		height:     info.Height,
		pitch:      info.Pitch,
		bpp:        info.Bpp,
		bgrOrder:   info.Format == bootinfo.PixelFormatBGR,
		fbPhysAddr: info.PhysAddr,
		face:       basicfont.Face7x13,
		defaultFg:  7,
		defaultBg:  0,
		palette:    defaultPalette(),
	}
}

// SetTTFFont switches glyph rendering to an outline font rasterized via
// golang.org/x/image/font's Face interface (satisfied by a
// github.com/golang/freetype-backed face). Nothing in this kernel embeds a
// TTF or calls this; DriverInit always starts from the basicfont fallback.
func (cons *FramebufferConsole) SetTTFFont(f font.Face) {
	if f == nil {
		return
	}
	cons.face = f
	metrics := f.Metrics()
	cons.widthInChars = cons.width / glyphAdvance(f)
	cons.heightInChars = cons.height / uint32(metrics.Height.Ceil())
}

func glyphAdvance(f font.Face) uint32 {
	adv, ok := f.GlyphAdvance('M')
	if !ok {
		return 7
	}
	return uint32(adv.Ceil())
}

// Dimensions returns the console size in the requested unit.
func (cons *FramebufferConsole) Dimensions(dim Dimension) (uint32, uint32) {
	if dim == Pixels {
		return cons.width, cons.height
	}
	return cons.widthInChars, cons.heightInChars
}

// DefaultColors returns the console's default foreground/background
// palette indices.
func (cons *FramebufferConsole) DefaultColors() (uint8, uint8) { return cons.defaultFg, cons.defaultBg }

// Fill paints a character-addressed rectangle with bg.
func (cons *FramebufferConsole) Fill(x, y, width, height uint32, _, bg uint8) {
	x, y, width, height = cons.clip(x, y, width, height)

	glyphW, glyphH := cons.glyphSize()
	pX, pY := (x-1)*glyphW, (y-1)*glyphH
	pW, pH := width*glyphW, height*glyphH

	rgb := cons.rgbFor(bg)
	rowStart := cons.fbOffset(pX, pY)
	for ; pH > 0; pH, rowStart = pH-1, rowStart+cons.pitch {
		for off := rowStart; off < rowStart+pW*uint32(cons.bpp/8); off += uint32(cons.bpp / 8) {
			cons.putPixel(off, rgb)
		}
	}
}

// Blit copies src onto the framebuffer with its top-left corner at the
// pixel coordinates (x, y), clipping against the framebuffer bounds. wm
// calls this once per composited frame to hand the manager's fogleman/gg
// canvas to the display; nothing else in this kernel writes pixels that
// aren't glyph cells, so Blit bypasses the character grid entirely.
func (cons *FramebufferConsole) Blit(src *image.RGBA, x, y int) {
	if src == nil {
		return
	}
	bounds := src.Bounds()

	for row := 0; row < bounds.Dy(); row++ {
		dstY := y + row
		if dstY < 0 || dstY >= int(cons.height) {
			continue
		}
		for col := 0; col < bounds.Dx(); col++ {
			dstX := x + col
			if dstX < 0 || dstX >= int(cons.width) {
				continue
			}
			r, g, b, _ := src.At(bounds.Min.X+col, bounds.Min.Y+row).RGBA()
			off := cons.fbOffset(uint32(dstX), uint32(dstY))
			cons.putPixel(off, colorRGBA(uint8(r>>8), uint8(g>>8), uint8(b>>8)))
		}
	}
}

func colorRGBA(r, g, b uint8) color.RGBA { return color.RGBA{R: r, G: g, B: b, A: 255} }

// PixelDimensions returns the framebuffer's raw pixel width and height,
// independent of the bitmap font's character grid. wm uses this to size
// its composited canvas to the full display rather than a whole number of
// character cells.
func (cons *FramebufferConsole) PixelDimensions() (uint32, uint32) { return cons.width, cons.height }

// Scroll moves the framebuffer contents by lines character-rows in dir,
// leaving the freed rows untouched (the caller clears them separately).
func (cons *FramebufferConsole) Scroll(dir ScrollDir, lines uint32) {
	if lines == 0 || lines > cons.heightInChars {
		return
	}
	_, glyphH := cons.glyphSize()
	rowBytes := cons.pitch * glyphH * lines

	switch dir {
	case ScrollDirUp:
		copy(cons.fb, cons.fb[rowBytes:])
	case ScrollDirDown:
		copy(cons.fb[rowBytes:], cons.fb)
	}
}

// Write draws ch at the given character cell using fg/bg palette indices.
func (cons *FramebufferConsole) Write(ch byte, fg, bg uint8, x, y uint32) {
	if x < 1 || x > cons.widthInChars || y < 1 || y > cons.heightInChars {
		return
	}
	glyphW, glyphH := cons.glyphSize()
	pX, pY := (x-1)*glyphW, (y-1)*glyphH

	fgRGB, bgRGB := cons.rgbFor(fg), cons.rgbFor(bg)
	bytesPerPx := uint32(cons.bpp / 8)

	_, mask, maskp, _, ok := cons.face.Glyph(fixed.Point26_6{}, rune(ch))

	rowStart := cons.fbOffset(pX, pY)
	for row := uint32(0); row < glyphH; row, rowStart = row+1, rowStart+cons.pitch {
		off := rowStart
		for col := uint32(0); col < glyphW; col, off = col+1, off+bytesPerPx {
			set := ok && glyphPixelSet(mask, maskp, int(col), int(row))
			if set {
				cons.putPixel(off, fgRGB)
			} else {
				cons.putPixel(off, bgRGB)
			}
		}
	}
}

// glyphPixelSet reports whether the glyph mask returned by font.Face.Glyph
// has a non-zero alpha value at the given offset from maskp, the mask's
// reported top-left corner for the glyph. Faces that can't render ch (ok
// was false at the call site) never reach here.
func glyphPixelSet(mask image.Image, maskp image.Point, col, row int) bool {
	_, _, _, a := mask.At(maskp.X+col, maskp.Y+row).RGBA()
	return a != 0
}

func (cons *FramebufferConsole) glyphSize() (w, h uint32) {
	if bf, ok := cons.face.(*basicfont.Face); ok {
		return uint32(bf.Advance), uint32(bf.Height)
	}
	return 7, 13
}

func (cons *FramebufferConsole) clip(x, y, width, height uint32) (uint32, uint32, uint32, uint32) {
	if x == 0 {
		x = 1
	} else if x >= cons.widthInChars {
		x = cons.widthInChars
	}
	if y == 0 {
		y = 1
	} else if y >= cons.heightInChars {
		y = cons.heightInChars
	}
	if x+width-1 > cons.widthInChars {
		width = cons.widthInChars - x + 1
	}
	if y+height-1 > cons.heightInChars {
		height = cons.heightInChars - y + 1
	}
	return x, y, width, height
}

func (cons *FramebufferConsole) fbOffset(x, y uint32) uint32 {
	return y*cons.pitch + x*uint32(cons.bpp/8)
}

func (cons *FramebufferConsole) putPixel(off uint32, rgb color.RGBA) {
	if off+3 >= uint32(len(cons.fb)) {
		return
	}
	if cons.bgrOrder {
		cons.fb[off+0] = rgb.B
		cons.fb[off+1] = rgb.G
		cons.fb[off+2] = rgb.R
	} else {
		cons.fb[off+0] = rgb.R
		cons.fb[off+1] = rgb.G
		cons.fb[off+2] = rgb.B
	}
}

func (cons *FramebufferConsole) rgbFor(index uint8) color.RGBA {
	if int(index) >= len(cons.palette) {
		index = cons.defaultFg
	}
	r, g, b, a := cons.palette[index].RGBA()
	return color.RGBA{R: uint8(r >> 8), G: uint8(g >> 8), B: uint8(b >> 8), A: uint8(a >> 8)}
}

// Palette returns the active color palette.
func (cons *FramebufferConsole) Palette() color.Palette { return cons.palette }

// SetPaletteColor overrides a palette entry.
func (cons *FramebufferConsole) SetPaletteColor(index uint8, rgba color.RGBA) {
	if int(index) >= len(cons.palette) {
		return
	}
	cons.palette[index] = rgba
}

func defaultPalette() color.Palette {
	return color.Palette{
		color.RGBA{R: 0, G: 0, B: 0, A: 255},
		color.RGBA{R: 0, G: 0, B: 128, A: 255},
		color.RGBA{R: 0, G: 128, B: 0, A: 255},
		color.RGBA{R: 0, G: 128, B: 128, A: 255},
		color.RGBA{R: 128, G: 0, B: 0, A: 255},
		color.RGBA{R: 128, G: 0, B: 128, A: 255},
		color.RGBA{R: 128, G: 128, B: 0, A: 255},
		color.RGBA{R: 192, G: 192, B: 192, A: 255},
		color.RGBA{R: 128, G: 128, B: 128, A: 255},
		color.RGBA{R: 0, G: 0, B: 255, A: 255},
		color.RGBA{R: 0, G: 255, B: 0, A: 255},
		color.RGBA{R: 0, G: 255, B: 255, A: 255},
		color.RGBA{R: 255, G: 0, B: 0, A: 255},
		color.RGBA{R: 255, G: 0, B: 255, A: 255},
		color.RGBA{R: 255, G: 255, B: 0, A: 255},
		color.RGBA{R: 255, G: 255, B: 255, A: 255},
	}
}

// DriverName identifies this driver.
func (cons *FramebufferConsole) DriverName() string { return "fb_console" }

// DriverVersion reports this driver's version.
func (cons *FramebufferConsole) DriverVersion() (uint16, uint16, uint16) { return 0, 1, 0 }

// DriverInit maps the linear framebuffer into kernel address space and
// finishes computing the character grid for the default bitmap font.
func (cons *FramebufferConsole) DriverInit(w io.Writer) *kernel.Error {
	fbSize := mem.Size(cons.height * cons.pitch)
	fbPage, err := mapRegionFn(pmm.Frame(cons.fbPhysAddr>>mem.PageShift), fbSize, vmm.FlagPresent|vmm.FlagRW)
	if err != nil {
		return err
	}

	cons.fb = *(*[]byte)(unsafe.Pointer(&reflect.SliceHeader{
		Len:  int(fbSize),
		Cap:  int(fbSize),
		Data: fbPage.Address(),
	}))

	glyphW, glyphH := cons.glyphSize()
	cons.widthInChars = cons.width / glyphW
	cons.heightInChars = cons.height / glyphH

	kfmt.Fprintf(w, "fb_console: mapped framebuffer to 0x%x (%dx%d chars)\n", fbPage.Address(), cons.widthInChars, cons.heightInChars)
	return nil
}

func probeForFramebufferConsole() device.Driver {
	info := getFramebufferInfoFn()
	if info.Width == 0 || info.Height == 0 {
		return nil
	}
	return NewFramebufferConsole(info)
}

func init() {
	ProbeFuncs = append(ProbeFuncs, probeForFramebufferConsole)
}
