package proc

import "github.com/Zakki0925224/myos-x86-64/kernel"

const (
	elfClass64 = 2
	elfDataLSB = 1

	etExec = 2
	etDyn  = 3

	emX8664 = 62

	ptLoad = 1

	segFlagExec  = 1
	segFlagWrite = 2
	segFlagRead  = 4

	phdrSize = 56
)

var (
	errTruncatedELFImage     = &kernel.Error{Module: "proc", Message: "ELF image is truncated"}
	errNotAnELF64Image       = &kernel.Error{Module: "proc", Message: "missing ELF magic"}
	errUnsupportedELFClass   = &kernel.Error{Module: "proc", Message: "not a little-endian 64-bit ELF image"}
	errUnsupportedELFType    = &kernel.Error{Module: "proc", Message: "ELF type is neither EXEC nor DYN"}
	errUnsupportedELFMachine = &kernel.Error{Module: "proc", Message: "ELF machine is not x86_64"}
)

// elfSegment is a single PT_LOAD program header: a range of file bytes to
// be copied to vaddr and zero-extended out to memSize.
type elfSegment struct {
	vaddr      uintptr
	fileOffset uint64
	fileSize   uint64
	memSize    uint64
	flags      uint32
}

func (s elfSegment) writable() bool   { return s.flags&segFlagWrite != 0 }
func (s elfSegment) executable() bool { return s.flags&segFlagExec != 0 }

// elfImage is the parsed subset of an ELF64 executable this loader needs:
// the entry point and its loadable segments.
type elfImage struct {
	entry    uintptr
	segments []elfSegment
}

func le16(b []byte, off int) uint16 {
	return uint16(b[off]) | uint16(b[off+1])<<8
}

func le32(b []byte, off int) uint32 {
	return uint32(b[off]) | uint32(b[off+1])<<8 | uint32(b[off+2])<<16 | uint32(b[off+3])<<24
}

func le64(b []byte, off int) uint64 {
	return uint64(le32(b, off)) | uint64(le32(b, off+4))<<32
}

// parseELF64 validates an ELF header per spec.md's contract (magic,
// class=64, little-endian, type EXEC or DYN, machine x86_64) and returns
// its entry point and PT_LOAD segments.
func parseELF64(data []byte) (*elfImage, *kernel.Error) {
	if len(data) < 64 {
		return nil, errTruncatedELFImage
	}
	if data[0] != 0x7f || data[1] != 'E' || data[2] != 'L' || data[3] != 'F' {
		return nil, errNotAnELF64Image
	}
	if data[4] != elfClass64 || data[5] != elfDataLSB {
		return nil, errUnsupportedELFClass
	}

	etype := le16(data, 16)
	if etype != etExec && etype != etDyn {
		return nil, errUnsupportedELFType
	}
	if le16(data, 18) != emX8664 {
		return nil, errUnsupportedELFMachine
	}

	img := &elfImage{entry: uintptr(le64(data, 24))}

	phoff := le64(data, 32)
	phentsize := le16(data, 54)
	phnum := le16(data, 56)

	for i := uint16(0); i < phnum; i++ {
		off := int(phoff) + int(i)*int(phentsize)
		if off < 0 || off+phdrSize > len(data) {
			return nil, errTruncatedELFImage
		}
		if le32(data, off) != ptLoad {
			continue
		}

		seg := elfSegment{
			flags:      le32(data, off+4),
			fileOffset: le64(data, off+8),
			vaddr:      uintptr(le64(data, off+16)),
			fileSize:   le64(data, off+32),
			memSize:    le64(data, off+40),
		}
		if seg.fileOffset+seg.fileSize > uint64(len(data)) {
			return nil, errTruncatedELFImage
		}
		img.segments = append(img.segments, seg)
	}

	return img, nil
}
