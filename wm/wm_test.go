package wm

import (
	"image"
	"testing"
)

type fakeTarget struct {
	w, h     uint32
	blits    int
	lastBlit *image.RGBA
}

func (f *fakeTarget) PixelDimensions() (uint32, uint32) { return f.w, f.h }
func (f *fakeTarget) Blit(src *image.RGBA, x, y int) {
	f.blits++
	f.lastBlit = src
}

func TestCreateWindowAssignsIncreasingIDsAndComposites(t *testing.T) {
	target := &fakeTarget{w: 640, h: 480}
	m := New(target)

	id1, err := m.CreateWindow(1, "a", 0, 0, 10, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	id2, err := m.CreateWindow(1, "b", 20, 20, 10, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id1 == id2 {
		t.Fatalf("expected distinct window IDs, got %d and %d", id1, id2)
	}
	if target.blits != 2 {
		t.Fatalf("blits = %d, want 2", target.blits)
	}
}

func TestCreateWindowRejectsZeroDimensions(t *testing.T) {
	m := New(&fakeTarget{w: 640, h: 480})
	if _, err := m.CreateWindow(1, "a", 0, 0, 0, 10); err != errZeroDimensions {
		t.Fatalf("got %v, want errZeroDimensions", err)
	}
}

func TestDestroyWindowRejectsWrongOwner(t *testing.T) {
	m := New(&fakeTarget{w: 640, h: 480})
	id, _ := m.CreateWindow(1, "a", 0, 0, 10, 10)

	if err := m.DestroyWindow(2, id); err != errNotOwner {
		t.Fatalf("got %v, want errNotOwner", err)
	}
	if err := m.DestroyWindow(1, id); err != nil {
		t.Fatalf("unexpected error destroying own window: %v", err)
	}
	if err := m.DestroyWindow(1, id); err != errUnknownWindow {
		t.Fatalf("got %v, want errUnknownWindow on double destroy", err)
	}
}

func TestAddImageRejectsUndersizedPayload(t *testing.T) {
	m := New(&fakeTarget{w: 640, h: 480})
	id, _ := m.CreateWindow(1, "a", 0, 0, 4, 4)

	if err := m.AddImage(1, id, 4, 4, PixelFormatRGBA, make([]byte, 4)); err != errImageTooLarge {
		t.Fatalf("got %v, want errImageTooLarge", err)
	}
}

func TestAddImageAcceptsFullPayloadAndRecomposites(t *testing.T) {
	target := &fakeTarget{w: 640, h: 480}
	m := New(target)
	id, _ := m.CreateWindow(1, "a", 0, 0, 2, 2)
	before := target.blits

	pixels := make([]byte, 2*2*4)
	for i := range pixels {
		pixels[i] = 0xff
	}
	if err := m.AddImage(1, id, 2, 2, PixelFormatRGBA, pixels); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if target.blits != before+1 {
		t.Fatalf("blits = %d, want %d", target.blits, before+1)
	}
}

func TestDecodePixelsSwapsRedAndBlueForBGRAFormat(t *testing.T) {
	dst := image.NewRGBA(image.Rect(0, 0, 1, 1))
	src := []byte{0x11, 0x22, 0x33, 0xff}
	decodePixels(dst, src, PixelFormatBGRA)

	r, g, b, _ := dst.At(0, 0).RGBA()
	if uint8(r>>8) != 0x33 || uint8(g>>8) != 0x22 || uint8(b>>8) != 0x11 {
		t.Fatalf("got r=%x g=%x b=%x, want r=33 g=22 b=11", r>>8, g>>8, b>>8)
	}
}
