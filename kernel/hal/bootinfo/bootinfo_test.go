package bootinfo

import (
	"testing"
	"unsafe"
)

func buildHandoff(t *testing.T, magic, version uint64) (*rawHandoff, []MemoryMapEntry, []byte) {
	t.Helper()

	mmap := []MemoryMapEntry{
		{PhysAddress: 0x0, Length: 0x9fc00, Type: MemAvailable},
		{PhysAddress: 0x100000, Length: 0x7f00000, Type: MemAvailable},
	}
	initramfs := []byte("hello initramfs")

	raw := &rawHandoff{
		Magic:               magic,
		Version:             version,
		FramebufferPhysAddr: 0xfd000000,
		FramebufferPitch:    4096,
		FramebufferWidth:    1024,
		FramebufferHeight:   768,
		FramebufferBpp:      32,
		FramebufferFormat:   uint8(PixelFormatBGR),
		MemoryMapAddr:       uint64(uintptr(unsafe.Pointer(&mmap[0]))),
		MemoryMapLen:        uint64(len(mmap)) * uint64(unsafe.Sizeof(mmap[0])),
		MemoryMapEntSz:      uint64(unsafe.Sizeof(mmap[0])),
		InitramfsAddr:       uint64(uintptr(unsafe.Pointer(&initramfs[0]))),
		InitramfsLen:        uint64(len(initramfs)),
		RSDPAddr:            0xe0000,
		KernelStackTop:      0xffff800000100000,
	}

	return raw, mmap, initramfs
}

func TestInitParsesHandoffBlock(t *testing.T) {
	raw, mmap, initramfs := buildHandoff(t, handoffMagic, handoffVersion)

	if err := Init(uintptr(unsafe.Pointer(raw))); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	fb := Framebuffer()
	if fb.Width != 1024 || fb.Height != 768 || fb.Bpp != 32 || fb.Format != PixelFormatBGR {
		t.Fatalf("unexpected framebuffer info: %+v", fb)
	}

	if got := Initramfs(); string(got) != string(initramfs) {
		t.Fatalf("expected initramfs %q; got %q", initramfs, got)
	}

	if RSDP() != 0xe0000 {
		t.Fatalf("unexpected RSDP address: %x", RSDP())
	}

	if KernelStackTop() != 0xffff800000100000 {
		t.Fatalf("unexpected kernel stack top: %x", KernelStackTop())
	}

	var seen []MemoryMapEntry
	VisitMemRegions(func(e *MemoryMapEntry) bool {
		seen = append(seen, *e)
		return true
	})

	if len(seen) != len(mmap) {
		t.Fatalf("expected %d memory regions; got %d", len(mmap), len(seen))
	}
	for i := range mmap {
		if seen[i] != mmap[i] {
			t.Errorf("region %d: expected %+v; got %+v", i, mmap[i], seen[i])
		}
	}
}

func TestInitRejectsBadMagic(t *testing.T) {
	raw, _, _ := buildHandoff(t, 0xdeadbeef, handoffVersion)

	if err := Init(uintptr(unsafe.Pointer(raw))); err != errBadMagic {
		t.Fatalf("expected errBadMagic; got %v", err)
	}
}

func TestInitRejectsBadVersion(t *testing.T) {
	raw, _, _ := buildHandoff(t, handoffMagic, 99)

	if err := Init(uintptr(unsafe.Pointer(raw))); err != errBadVersion {
		t.Fatalf("expected errBadVersion; got %v", err)
	}
}

func TestVisitMemRegionsStopsEarly(t *testing.T) {
	raw, _, _ := buildHandoff(t, handoffMagic, handoffVersion)
	if err := Init(uintptr(unsafe.Pointer(raw))); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	visited := 0
	VisitMemRegions(func(e *MemoryMapEntry) bool {
		visited++
		return false
	})

	if visited != 1 {
		t.Fatalf("expected scan to stop after first region; visited %d", visited)
	}
}
