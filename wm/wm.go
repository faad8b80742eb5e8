// Package wm implements the window manager: a syscall-only surface that
// owns a Z-ordered list of layers and composes them into the display
// framebuffer. Nothing outside proc's window syscalls (create_window,
// destroy_window, add_image_to_window) drives it — there is no direct
// process-to-wm API, matching spec.md's "driven by syscalls only".
//
// gopher-os never grew a window manager, so this package has no direct
// teacher file to generalize; it is grounded on iansmith-mazarin's
// mazboot/golang/main/gg_circle_qemu.go, which shows the intended shape
// for freestanding Go code driving github.com/fogleman/gg against a raw
// framebuffer: a gg.Context sized to the display, drawn into, then
// blitted out pixel by pixel. wm keeps that shape and adds the layer
// list and Z-ordering spec.md's window manager owns.
package wm

import (
	"image"

	"github.com/fogleman/gg"

	"github.com/Zakki0925224/myos-x86-64/kernel"
)

var (
	errUnknownWindow  = &kernel.Error{Module: "wm", Message: "no such window"}
	errNotOwner       = &kernel.Error{Module: "wm", Message: "window belongs to a different process"}
	errImageTooLarge  = &kernel.Error{Module: "wm", Message: "image payload does not match the declared dimensions"}
	errZeroDimensions = &kernel.Error{Module: "wm", Message: "window width and height must be non-zero"}
)

// FrameTarget is the surface wm composites onto: a framebuffer console
// wide enough to receive a full-screen RGBA blit and report its pixel
// dimensions. device/video/console.FramebufferConsole satisfies this.
type FrameTarget interface {
	PixelDimensions() (uint32, uint32)
	Blit(src *image.RGBA, x, y int)
}

// layer is one window's on-screen presence: a position, a size, and the
// most recently submitted image contents. Windows without an image yet
// still occupy their Z-order slot and are drawn as a solid placeholder
// fill inside a border. The title is stored but not drawn.
type layer struct {
	id     int32
	owner  int
	title  string
	x, y   int32
	w, h   int32
	pixels *image.RGBA
}

// Manager is the window manager. It holds every live window in Z-order
// (index 0 is the bottom of the stack) and recomposes the full display
// on every mutation, matching spec.md's "composes them into the
// framebuffer on flush" — this kernel's ABI has no separate flush
// syscall, so flush happens automatically at the end of every window
// syscall instead of being a call a process makes itself.
type Manager struct {
	target FrameTarget
	layers []*layer
	nextID int32
}

// New creates a window manager compositing onto target.
func New(target FrameTarget) *Manager {
	return &Manager{target: target, nextID: 1}
}

// CreateWindow allocates a new top-of-stack window owned by owner and
// returns its ID.
func (m *Manager) CreateWindow(owner int, title string, x, y, w, h int32) (int32, *kernel.Error) {
	if w <= 0 || h <= 0 {
		return 0, errZeroDimensions
	}

	id := m.nextID
	m.nextID++

	m.layers = append(m.layers, &layer{id: id, owner: owner, title: title, x: x, y: y, w: w, h: h})
	m.composite()
	return id, nil
}

// DestroyWindow removes a window owned by owner, failing if owner does
// not own id or id does not exist.
func (m *Manager) DestroyWindow(owner int, id int32) *kernel.Error {
	idx, err := m.find(owner, id)
	if err != nil {
		return err
	}
	m.layers = append(m.layers[:idx], m.layers[idx+1:]...)
	m.composite()
	return nil
}

// AddImage replaces id's pixel contents with pixels, a buffer of at least
// w*h*4 bytes decoded according to pixelFormat, and recomposes the display.
func (m *Manager) AddImage(owner int, id int32, w, h uint32, pixelFormat uint8, pixels []byte) *kernel.Error {
	idx, err := m.find(owner, id)
	if err != nil {
		return err
	}
	if uint64(len(pixels)) < uint64(w)*uint64(h)*4 {
		return errImageTooLarge
	}

	img := image.NewRGBA(image.Rect(0, 0, int(w), int(h)))
	decodePixels(img, pixels, pixelFormat)

	m.layers[idx].pixels = img
	m.layers[idx].w, m.layers[idx].h = int32(w), int32(h)
	m.composite()
	return nil
}

func (m *Manager) find(owner int, id int32) (int, *kernel.Error) {
	for i, l := range m.layers {
		if l.id == id {
			if l.owner != owner {
				return 0, errNotOwner
			}
			return i, nil
		}
	}
	return 0, errUnknownWindow
}

// pixel formats accepted for add_image_to_window payloads. This numbering
// is wm's own; it does not match bootinfo's PixelFormat values.
const (
	PixelFormatRGBA uint8 = iota
	PixelFormatBGRA
	PixelFormatRGB
	PixelFormatBGR
)

// decodePixels normalizes a raw pixel buffer in one of the formats above
// into dst's RGBA layout.
func decodePixels(dst *image.RGBA, src []byte, format uint8) {
	w, h := dst.Bounds().Dx(), dst.Bounds().Dy()
	bpp := 4
	if format == PixelFormatRGB || format == PixelFormatBGR {
		bpp = 3
	}
	swapRB := format == PixelFormatBGRA || format == PixelFormatBGR

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			si := (y*w + x) * bpp
			if si+bpp > len(src) {
				return
			}
			r, g, b := src[si], src[si+1], src[si+2]
			if swapRB {
				r, b = b, r
			}
			di := dst.PixOffset(x, y)
			dst.Pix[di+0] = r
			dst.Pix[di+1] = g
			dst.Pix[di+2] = b
			dst.Pix[di+3] = 0xff
		}
	}
}

// composite redraws every layer bottom to top into a gg.Context sized to
// the display and blits the result to the frame target in one shot.
// Windows are drawn as a one-pixel border plus their submitted image (or
// a solid fill, if no image has been submitted yet).
func (m *Manager) composite() {
	if m.target == nil {
		return
	}
	fbW, fbH := m.target.PixelDimensions()
	if fbW == 0 || fbH == 0 {
		return
	}

	ctx := gg.NewContext(int(fbW), int(fbH))
	ctx.SetRGB(0, 0, 0)
	ctx.Clear()

	for _, l := range m.layers {
		if l.pixels != nil {
			ctx.DrawImage(l.pixels, int(l.x), int(l.y))
		} else {
			ctx.SetRGB(0.2, 0.2, 0.2)
			ctx.DrawRectangle(float64(l.x), float64(l.y), float64(l.w), float64(l.h))
			ctx.Fill()
		}
		ctx.SetRGB(0.8, 0.8, 0.8)
		ctx.SetLineWidth(1)
		ctx.DrawRectangle(float64(l.x), float64(l.y), float64(l.w), float64(l.h))
		ctx.Stroke()
	}

	if img, ok := ctx.Image().(*image.RGBA); ok {
		m.target.Blit(img, 0, 0)
	}
}
