package proc

import "testing"

// buildELF64 assembles a minimal valid ELF64 image with a single PT_LOAD
// segment carrying data as its file content.
func buildELF64(entry uint64, segVaddr uintptr, data []byte, segFlags uint32, corrupt func([]byte)) []byte {
	const ehdrSize = 64
	phoff := uint64(ehdrSize)
	fileOffset := phoff + phdrSize

	img := make([]byte, int(fileOffset)+len(data))

	img[0], img[1], img[2], img[3] = 0x7f, 'E', 'L', 'F'
	img[4] = elfClass64
	img[5] = elfDataLSB
	tPutLE16(img, 16, etExec)
	tPutLE16(img, 18, emX8664)
	tPutLE64(img, 24, entry)
	tPutLE64(img, 32, phoff)
	tPutLE16(img, 54, phdrSize)
	tPutLE16(img, 56, 1)

	ph := img[phoff:]
	tPutLE32(ph, 0, ptLoad)
	tPutLE32(ph, 4, segFlags)
	tPutLE64(ph, 8, fileOffset)
	tPutLE64(ph, 16, uint64(segVaddr))
	tPutLE64(ph, 32, uint64(len(data)))
	tPutLE64(ph, 40, uint64(len(data)))

	copy(img[fileOffset:], data)

	if corrupt != nil {
		corrupt(img)
	}
	return img
}

func tPutLE16(b []byte, off int, v uint16) {
	b[off] = byte(v)
	b[off+1] = byte(v >> 8)
}

func tPutLE32(b []byte, off int, v uint32) {
	for i := 0; i < 4; i++ {
		b[off+i] = byte(v >> (8 * i))
	}
}

func tPutLE64(b []byte, off int, v uint64) {
	for i := 0; i < 8; i++ {
		b[off+i] = byte(v >> (8 * i))
	}
}

func TestParseELF64ValidImage(t *testing.T) {
	data := []byte{1, 2, 3, 4, 5}
	img := buildELF64(0x10000000, 0x10000000, data, segFlagRead|segFlagExec, nil)

	elfImg, err := parseELF64(img)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if elfImg.entry != 0x10000000 {
		t.Fatalf("entry = %x, want 0x10000000", elfImg.entry)
	}
	if len(elfImg.segments) != 1 {
		t.Fatalf("segments = %d, want 1", len(elfImg.segments))
	}
	seg := elfImg.segments[0]
	if seg.vaddr != 0x10000000 || seg.fileSize != uint64(len(data)) {
		t.Fatalf("unexpected segment: %+v", seg)
	}
	if !seg.executable() || seg.writable() {
		t.Fatalf("segment flags decoded wrong: %+v", seg)
	}
}

func TestParseELF64RejectsTruncatedImage(t *testing.T) {
	if _, err := parseELF64([]byte{0x7f, 'E', 'L', 'F'}); err != errTruncatedELFImage {
		t.Fatalf("got %v, want errTruncatedELFImage", err)
	}
}

func TestParseELF64RejectsBadMagic(t *testing.T) {
	img := buildELF64(0x1000, 0x1000, nil, segFlagRead, func(b []byte) { b[1] = 'X' })
	if _, err := parseELF64(img); err != errNotAnELF64Image {
		t.Fatalf("got %v, want errNotAnELF64Image", err)
	}
}

func TestParseELF64RejectsWrongClass(t *testing.T) {
	img := buildELF64(0x1000, 0x1000, nil, segFlagRead, func(b []byte) { b[4] = 1 })
	if _, err := parseELF64(img); err != errUnsupportedELFClass {
		t.Fatalf("got %v, want errUnsupportedELFClass", err)
	}
}

func TestParseELF64RejectsWrongType(t *testing.T) {
	img := buildELF64(0x1000, 0x1000, nil, segFlagRead, func(b []byte) { tPutLE16(b, 16, 1) })
	if _, err := parseELF64(img); err != errUnsupportedELFType {
		t.Fatalf("got %v, want errUnsupportedELFType", err)
	}
}

func TestParseELF64RejectsWrongMachine(t *testing.T) {
	img := buildELF64(0x1000, 0x1000, nil, segFlagRead, func(b []byte) { tPutLE16(b, 18, 3) })
	if _, err := parseELF64(img); err != errUnsupportedELFMachine {
		t.Fatalf("got %v, want errUnsupportedELFMachine", err)
	}
}

func TestParseELF64RejectsOversizedSegment(t *testing.T) {
	img := buildELF64(0x1000, 0x1000, []byte{1, 2, 3}, segFlagRead, nil)
	// Claim a file size larger than the image actually carries.
	ph := img[64:]
	tPutLE64(ph, 32, 0xffff)

	if _, err := parseELF64(img); err != errTruncatedELFImage {
		t.Fatalf("got %v, want errTruncatedELFImage", err)
	}
}

func TestParseELF64SkipsNonLoadSegments(t *testing.T) {
	img := buildELF64(0x1000, 0x1000, []byte{1}, segFlagRead, func(b []byte) {
		tPutLE32(b, 64, 2) // PT_DYNAMIC, not PT_LOAD
	})

	elfImg, err := parseELF64(img)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(elfImg.segments) != 0 {
		t.Fatalf("segments = %d, want 0", len(elfImg.segments))
	}
}
