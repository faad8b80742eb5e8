package fat32

import (
	"testing"
)

// newImageBuilder assembles a minimal FAT32 image by hand: one reserved
// sector, a single file allocation table, and a handful of data clusters.
// It is deliberately tiny; parseBPB only checks the cluster count is above
// the FAT16 threshold, so the image pads the data region up with free
// clusters to clear it.
type imageBuilder struct {
	bytesPerSector    uint16
	sectorsPerCluster uint8
	reservedSectors   uint16
	numFATs           uint8
	fatSectors        uint32
	dataClusters      uint32
	rootCluster       uint32
	img               []byte
}

func newImageBuilder() *imageBuilder {
	b := &imageBuilder{
		bytesPerSector:    512,
		sectorsPerCluster: 1,
		reservedSectors:   1,
		numFATs:           1,
		rootCluster:       2,
	}
	// 70000 clusters comfortably clears the FAT16 cluster-count ceiling.
	b.dataClusters = 70000
	b.fatSectors = (b.dataClusters + 2) * 4 / uint32(b.bytesPerSector) + 1

	totalSectors := uint32(b.reservedSectors) + b.fatSectors*uint32(b.numFATs) + b.dataClusters*uint32(b.sectorsPerCluster)
	size := int(totalSectors) * int(b.bytesPerSector)
	img := make([]byte, size)

	putLE16(img, 11, b.bytesPerSector)
	img[13] = b.sectorsPerCluster
	putLE16(img, 14, b.reservedSectors)
	img[16] = b.numFATs
	putLE16(img, 19, 0)
	putLE32(img, 32, totalSectors)
	putLE32(img, 36, b.fatSectors)
	putLE32(img, 44, b.rootCluster)
	img[510] = 0x55
	img[511] = 0xaa

	b.img = img
	return b
}

func putLE16(img []byte, off int, v uint16) {
	img[off] = byte(v)
	img[off+1] = byte(v >> 8)
}

func putLE32(img []byte, off int, v uint32) {
	img[off] = byte(v)
	img[off+1] = byte(v >> 8)
	img[off+2] = byte(v >> 16)
	img[off+3] = byte(v >> 24)
}

func (b *imageBuilder) fatEntryOffset(cluster uint32) int {
	return int(b.reservedSectors)*int(b.bytesPerSector) + int(cluster)*4
}

func (b *imageBuilder) setFATEntry(cluster uint32, value uint32) {
	putLE32(b.img, b.fatEntryOffset(cluster), value)
}

func (b *imageBuilder) clusterOffset(cluster uint32) int {
	dataStart := int(b.reservedSectors) + int(b.fatSectors)*int(b.numFATs)
	return (dataStart + int(cluster-2)*int(b.sectorsPerCluster)) * int(b.bytesPerSector)
}

func (b *imageBuilder) putDirEntry(cluster uint32, index int, name, ext string, attr uint8, firstCluster uint32, size uint32) {
	off := b.clusterOffset(cluster) + index*dirEntrySize
	raw := b.img[off : off+dirEntrySize]
	copy(raw[0:8], padName(name, 8))
	copy(raw[8:11], padName(ext, 3))
	raw[11] = attr
	putLE16(raw, 20, uint16(firstCluster>>16))
	putLE16(raw, 26, uint16(firstCluster))
	putLE32(raw, 28, size)
}

func padName(s string, n int) []byte {
	out := make([]byte, n)
	for i := range out {
		out[i] = ' '
	}
	copy(out, s)
	return out
}

func (b *imageBuilder) writeFileData(cluster uint32, data []byte) {
	off := b.clusterOffset(cluster)
	copy(b.img[off:], data)
}

func TestMountRejectsShortImage(t *testing.T) {
	if _, err := Mount(make([]byte, 10)); err != errShortImage {
		t.Fatalf("expected errShortImage; got %v", err)
	}
}

func TestMountRejectsMissingSignature(t *testing.T) {
	b := newImageBuilder()
	b.img[510] = 0
	if _, err := Mount(b.img); err != errBadSignature {
		t.Fatalf("expected errBadSignature; got %v", err)
	}
}

func TestMountParsesRootCluster(t *testing.T) {
	b := newImageBuilder()
	vol, err := Mount(b.img)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if vol.RootCluster() != 2 {
		t.Fatalf("expected root cluster 2; got %d", vol.RootCluster())
	}
}

func TestResolveFindsFileInRoot(t *testing.T) {
	b := newImageBuilder()
	b.setFATEntry(2, fat32EOCMin)
	b.putDirEntry(2, 0, "HELLO", "TXT", 0, 3, 11)
	b.setFATEntry(3, fat32EOCMin)
	b.writeFileData(3, []byte("hello world"))

	vol, err := Mount(b.img)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	entry, rerr := vol.Resolve("/HELLO.TXT")
	if rerr != nil {
		t.Fatalf("unexpected error: %v", rerr)
	}
	if entry.fileSize != 11 || entry.firstCluser != 3 {
		t.Fatalf("unexpected entry: %+v", entry)
	}
}

func TestResolveWalksSubdirectory(t *testing.T) {
	b := newImageBuilder()
	b.setFATEntry(2, fat32EOCMin)
	b.putDirEntry(2, 0, "SUBDIR", "", attrDirectory, 4, 0)
	b.setFATEntry(4, fat32EOCMin)
	b.putDirEntry(4, 0, "NESTED", "TXT", 0, 5, 4)
	b.setFATEntry(5, fat32EOCMin)
	b.writeFileData(5, []byte("data"))

	vol, err := Mount(b.img)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	entry, rerr := vol.Resolve("/SUBDIR/NESTED.TXT")
	if rerr != nil {
		t.Fatalf("unexpected error: %v", rerr)
	}
	if entry.fileSize != 4 {
		t.Fatalf("unexpected entry: %+v", entry)
	}
}

func TestResolveReturnsErrorForMissingPath(t *testing.T) {
	b := newImageBuilder()
	b.setFATEntry(2, fat32EOCMin)

	vol, err := Mount(b.img)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, rerr := vol.Resolve("/nonexistent"); rerr != errNotFound {
		t.Fatalf("expected errNotFound; got %v", rerr)
	}
}

func TestOpenRejectsDirectory(t *testing.T) {
	b := newImageBuilder()
	b.setFATEntry(2, fat32EOCMin)
	b.putDirEntry(2, 0, "SUBDIR", "", attrDirectory, 4, 0)
	b.setFATEntry(4, fat32EOCMin)

	vol, err := Mount(b.img)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, rerr := vol.Open("/SUBDIR"); rerr != errIsADirectory {
		t.Fatalf("expected errIsADirectory; got %v", rerr)
	}
}

func TestFileReadAtSpansClusters(t *testing.T) {
	b := newImageBuilder()
	b.setFATEntry(2, fat32EOCMin)
	b.putDirEntry(2, 0, "BIG", "BIN", 0, 10, uint32(b.bytesPerSector)+5)
	b.setFATEntry(10, 11)
	b.setFATEntry(11, fat32EOCMin)

	first := make([]byte, b.bytesPerSector)
	for i := range first {
		first[i] = 'a'
	}
	b.writeFileData(10, first)
	b.writeFileData(11, []byte("bcdef"))

	vol, err := Mount(b.img)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	f, ferr := vol.Open("/BIG.BIN")
	if ferr != nil {
		t.Fatalf("unexpected error: %v", ferr)
	}
	if f.Size() != int64(b.bytesPerSector)+5 {
		t.Fatalf("unexpected size: %d", f.Size())
	}

	buf := make([]byte, 10)
	n, rerr := f.ReadAt(buf, int64(b.bytesPerSector)-2)
	if rerr != nil {
		t.Fatalf("unexpected error: %v", rerr)
	}
	if n != 7 || string(buf[:n]) != "aabcdef" {
		t.Fatalf("unexpected read across cluster boundary: %q (n=%d)", buf[:n], n)
	}
}

func TestReadDirListsEntries(t *testing.T) {
	b := newImageBuilder()
	b.setFATEntry(2, fat32EOCMin)
	b.putDirEntry(2, 0, "A", "TXT", 0, 3, 1)
	b.putDirEntry(2, 1, "B", "TXT", 0, 3, 1)
	b.setFATEntry(3, fat32EOCMin)

	vol, err := Mount(b.img)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	names, rerr := vol.ReadDir("/")
	if rerr != nil {
		t.Fatalf("unexpected error: %v", rerr)
	}
	if len(names) != 2 {
		t.Fatalf("expected 2 entries; got %v", names)
	}
}
