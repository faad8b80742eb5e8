// Package fat32 implements a read-only reader for the FAT32 filesystem
// carried inside the initramfs image: it parses the BIOS Parameter Block,
// walks the file allocation table's cluster chains and decodes 8.3
// directory entries, without ever touching the image's reserved or FAT
// regions for anything but lookups.
package fat32

import (
	"github.com/Zakki0925224/myos-x86-64/kernel"
)

var (
	errShortImage    = &kernel.Error{Module: "fat32", Message: "image is too short to hold a boot sector"}
	errBadSignature  = &kernel.Error{Module: "fat32", Message: "boot sector is missing its 0x55aa signature"}
	errNotFAT32      = &kernel.Error{Module: "fat32", Message: "volume is not FAT32"}
	errNotFound      = &kernel.Error{Module: "fat32", Message: "no such file or directory"}
	errIsADirectory  = &kernel.Error{Module: "fat32", Message: "is a directory"}
	errNotADirectory = &kernel.Error{Module: "fat32", Message: "not a directory"}
)

// clusterKind classifies the value read from a file allocation table slot.
type clusterKind uint8

const (
	clusterFree clusterKind = iota
	clusterReserved
	clusterData
	clusterBad
	clusterEndOfChain
)

const (
	dirEntrySize  = 32
	attrDirectory = 0x10
	attrVolumeID  = 0x08
	attrLongName  = 0x0f // ATTR_READ_ONLY|ATTR_HIDDEN|ATTR_SYSTEM|ATTR_VOLUME_ID

	freeEntryMarker     = 0xe5
	endOfDirectoryEntry = 0x00

	fat32EOCMin = 0x0ffffff8
	fat32BadMin = 0x0ffffff7
	fat32RsvMin = 0x0ffffff0
)

// bpb holds the fields of the BIOS Parameter Block this reader needs; it is
// decoded field-by-field from the little-endian boot sector bytes rather
// than overlaid with a struct, since the image is read-only host memory the
// Go runtime doesn't otherwise know the layout of.
type bpb struct {
	bytesPerSector    uint16
	sectorsPerCluster uint8
	reservedSectors   uint16
	numFATs           uint8
	fatSize32         uint32
	totalSectors32    uint32
	rootCluster       uint32
}

func (b *bpb) fatStartSector() uint32 { return uint32(b.reservedSectors) }
func (b *bpb) fatSectors() uint32     { return b.fatSize32 * uint32(b.numFATs) }
func (b *bpb) dataStartSector() uint32 {
	return b.fatStartSector() + b.fatSectors()
}
func (b *bpb) dataSectors() uint32 { return b.totalSectors32 - b.dataStartSector() }
func (b *bpb) clusterCount() uint32 {
	if b.sectorsPerCluster == 0 {
		return 0
	}
	return b.dataSectors() / uint32(b.sectorsPerCluster)
}

func le16(img []byte, off int) uint16 {
	return uint16(img[off]) | uint16(img[off+1])<<8
}

func le32(img []byte, off int) uint32 {
	return uint32(img[off]) | uint32(img[off+1])<<8 | uint32(img[off+2])<<16 | uint32(img[off+3])<<24
}

func parseBPB(img []byte) (*bpb, *kernel.Error) {
	if len(img) < 512 {
		return nil, errShortImage
	}
	if img[510] != 0x55 || img[511] != 0xaa {
		return nil, errBadSignature
	}

	b := &bpb{
		bytesPerSector:    le16(img, 11),
		sectorsPerCluster: img[13],
		reservedSectors:   le16(img, 14),
		numFATs:           img[16],
		fatSize32:         le32(img, 36),
		rootCluster:       le32(img, 44),
	}
	if total16 := le16(img, 19); total16 != 0 {
		b.totalSectors32 = uint32(total16)
	} else {
		b.totalSectors32 = le32(img, 32)
	}

	// FAT12/FAT16 volumes fall below these cluster-count thresholds; this
	// reader only ever mounts the FAT32 initramfs image so anything else
	// is rejected rather than misread.
	if b.fatSize32 == 0 || b.clusterCount() <= 65525 {
		return nil, errNotFAT32
	}
	return b, nil
}

// Volume is a mounted, read-only FAT32 filesystem backed by an in-memory
// image (the initramfs blob the bootloader hands off).
type Volume struct {
	img []byte
	bpb *bpb
}

// Mount parses img's boot sector and returns a ready-to-use volume. img is
// retained, not copied: the initramfs image outlives the kernel's lifetime.
func Mount(img []byte) (*Volume, *kernel.Error) {
	b, err := parseBPB(img)
	if err != nil {
		return nil, err
	}
	return &Volume{img: img, bpb: b}, nil
}

// RootCluster returns the cluster number of the volume's root directory.
func (v *Volume) RootCluster() uint32 { return v.bpb.rootCluster }

func (v *Volume) clusterOffset(cluster uint32) int64 {
	firstDataSector := int64(v.bpb.dataStartSector()) +
		int64(cluster-2)*int64(v.bpb.sectorsPerCluster)
	return firstDataSector * int64(v.bpb.bytesPerSector)
}

func (v *Volume) clusterSize() int {
	return int(v.bpb.bytesPerSector) * int(v.bpb.sectorsPerCluster)
}

// nextCluster reads cluster's entry out of the first file allocation table
// and classifies it.
func (v *Volume) nextCluster(cluster uint32) (clusterKind, uint32) {
	offset := int64(v.bpb.fatStartSector())*int64(v.bpb.bytesPerSector) + int64(cluster)*4
	if offset < 0 || int(offset)+4 > len(v.img) {
		return clusterEndOfChain, 0
	}
	value := le32(v.img, int(offset)) & 0x0fffffff

	switch {
	case value >= fat32EOCMin:
		return clusterEndOfChain, 0
	case value >= fat32BadMin:
		return clusterBad, value
	case value >= fat32RsvMin:
		return clusterReserved, value
	case value >= 2:
		return clusterData, value
	case value == 1:
		return clusterReserved, value
	default:
		return clusterFree, value
	}
}

// clusterChain returns every cluster number in the chain starting at start,
// in order.
func (v *Volume) clusterChain(start uint32) []uint32 {
	var chain []uint32
	cluster := start
	for cluster >= 2 && cluster < v.bpb.clusterCount()+2 {
		chain = append(chain, cluster)
		kind, next := v.nextCluster(cluster)
		if kind != clusterData {
			break
		}
		cluster = next
	}
	return chain
}

// dirEntry is a decoded 8.3 directory entry. Long file names are not
// implemented: entries carrying the long-name attribute combination are
// skipped, and every name is reported in its short 8.3 form.
type dirEntry struct {
	name        string
	attr        uint8
	firstCluser uint32
	fileSize    uint32
}

func (e dirEntry) isDir() bool { return e.attr&attrDirectory != 0 }

func decodeDirEntry(raw []byte) (dirEntry, bool) {
	if raw[0] == endOfDirectoryEntry {
		return dirEntry{}, false
	}
	if raw[0] == freeEntryMarker {
		return dirEntry{}, true
	}
	attr := raw[11]
	if attr&attrLongName == attrLongName || attr&attrVolumeID != 0 {
		return dirEntry{}, true
	}

	name := decodeShortName(raw[0:11])
	cluster := uint32(le16(raw, 20))<<16 | uint32(le16(raw, 26))
	size := le32(raw, 28)
	return dirEntry{name: name, attr: attr, firstCluser: cluster, fileSize: size}, true
}

// decodeShortName turns the fixed 8+3 name/extension field into a
// "NAME.EXT" string, trimming the space padding FAT uses.
func decodeShortName(raw []byte) string {
	base := trimSpace(raw[0:8])
	ext := trimSpace(raw[8:11])
	if ext == "" {
		return base
	}
	return base + "." + ext
}

func trimSpace(b []byte) string {
	end := len(b)
	for end > 0 && b[end-1] == ' ' {
		end--
	}
	return string(b[:end])
}

// readDirEntries decodes every live directory entry across every cluster in
// the directory's chain. It stops at the first end-of-directory marker.
func (v *Volume) readDirEntries(startCluster uint32) []dirEntry {
	var entries []dirEntry
	for _, cluster := range v.clusterChain(startCluster) {
		base := v.clusterOffset(cluster)
		size := v.clusterSize()
		if int(base)+size > len(v.img) {
			break
		}
		done := false
		for off := 0; off+dirEntrySize <= size; off += dirEntrySize {
			raw := v.img[int(base)+off : int(base)+off+dirEntrySize]
			entry, ok := decodeDirEntry(raw)
			if !ok {
				done = true
				break
			}
			if entry.name != "" {
				entries = append(entries, entry)
			}
		}
		if done {
			break
		}
	}
	return entries
}

// lookup resolves a single path component within dirCluster.
func (v *Volume) lookup(dirCluster uint32, name string) (dirEntry, bool) {
	for _, e := range v.readDirEntries(dirCluster) {
		if e.name == name {
			return e, true
		}
	}
	return dirEntry{}, false
}

// Resolve walks a slash-separated path from the root directory and returns
// the entry it names.
func (v *Volume) Resolve(path string) (dirEntry, *kernel.Error) {
	cluster := v.RootCluster()
	entry := dirEntry{attr: attrDirectory, firstCluser: cluster}

	start := 0
	for start <= len(path) {
		end := start
		for end < len(path) && path[end] != '/' {
			end++
		}
		seg := path[start:end]
		if seg != "" {
			if !entry.isDir() {
				return dirEntry{}, errNotADirectory
			}
			next, ok := v.lookup(entry.firstCluser, seg)
			if !ok {
				return dirEntry{}, errNotFound
			}
			entry = next
		}
		start = end + 1
	}
	return entry, nil
}

// Stat resolves path without opening it, reporting whether it names a
// directory and, for a regular file, its size in bytes. Callers that only
// need to tell files from directories (the vfs mount walk, in particular)
// use this instead of Open to avoid building a cluster chain they'll
// immediately discard.
func (v *Volume) Stat(path string) (isDir bool, size int64, err *kernel.Error) {
	entry, err := v.Resolve(path)
	if err != nil {
		return false, 0, err
	}
	return entry.isDir(), int64(entry.fileSize), nil
}

// File is a read-only, open file handle into a FAT32 volume. It satisfies
// fs/vfs.FileBackend.
type File struct {
	vol   *Volume
	chain []uint32
	size  int64
}

// Open resolves path and returns a readable file handle. It fails if path
// names a directory.
func (v *Volume) Open(path string) (*File, *kernel.Error) {
	entry, err := v.Resolve(path)
	if err != nil {
		return nil, err
	}
	if entry.isDir() {
		return nil, errIsADirectory
	}
	return &File{vol: v, chain: v.clusterChain(entry.firstCluser), size: int64(entry.fileSize)}, nil
}

// Size reports the file's length in bytes, as recorded in its directory
// entry.
func (f *File) Size() int64 { return f.size }

// ReadAt implements fs/vfs.FileBackend, reading across cluster boundaries
// as needed.
func (f *File) ReadAt(p []byte, off int64) (int, error) {
	if off >= f.size {
		return 0, nil
	}
	if max := f.size - off; int64(len(p)) > max {
		p = p[:max]
	}

	clusterSize := int64(f.vol.clusterSize())
	total := 0
	for len(p) > 0 {
		clusterIdx := int(off / clusterSize)
		if clusterIdx >= len(f.chain) {
			break
		}
		within := off % clusterSize
		base := f.vol.clusterOffset(f.chain[clusterIdx]) + within

		n := clusterSize - within
		if int64(len(p)) < n {
			n = int64(len(p))
		}
		if base < 0 || int(base)+int(n) > len(f.vol.img) {
			break
		}
		copy(p[:n], f.vol.img[base:int(base)+int(n)])

		p = p[n:]
		off += n
		total += int(n)
	}
	return total, nil
}

// ReadDir lists the names of a directory's entries.
func (v *Volume) ReadDir(path string) ([]string, *kernel.Error) {
	entry, err := v.Resolve(path)
	if err != nil {
		return nil, err
	}
	if !entry.isDir() {
		return nil, errNotADirectory
	}
	var names []string
	for _, e := range v.readDirEntries(entry.firstCluser) {
		names = append(names, e.name)
	}
	return names, nil
}
