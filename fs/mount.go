// Package fs ties the read-only fs/fat32 volume reader to the fs/vfs
// tree the rest of the kernel resolves paths against: it walks a
// mounted FAT32 volume's directory structure once at boot and populates
// a matching vfs.Tree, giving every fat32.File a home behind a stable
// vfs.NodeID.
package fs

import (
	"github.com/Zakki0925224/myos-x86-64/fs/fat32"
	"github.com/Zakki0925224/myos-x86-64/fs/vfs"
	"github.com/Zakki0925224/myos-x86-64/kernel"
)

// fatFileBackend adapts a *fat32.File, which is opened once per fat32
// path lookup, to vfs.FileBackend by resolving and reopening its path on
// every read. fat32 has no persistent open-file table of its own — every
// Open call is a fresh directory walk — so there is no handle to cache
// safely across the lifetime of a vfs node.
type fatFileBackend struct {
	vol  *fat32.Volume
	path string
	size int64
}

func (b *fatFileBackend) Size() int64 { return b.size }

func (b *fatFileBackend) ReadAt(p []byte, off int64) (int, error) {
	f, err := b.vol.Open(b.path)
	if err != nil {
		return 0, err
	}
	return f.ReadAt(p, off)
}

// MountFAT32 parses img as a FAT32 volume and recursively copies its
// directory structure into tree under parent, returning the mounted
// volume so callers needing raw access (none currently do) still can.
func MountFAT32(tree *vfs.Tree, parent vfs.NodeID, img []byte) (*fat32.Volume, *kernel.Error) {
	vol, err := fat32.Mount(img)
	if err != nil {
		return nil, err
	}
	if err := copyDir(tree, vol, parent, "/"); err != nil {
		return nil, err
	}
	return vol, nil
}

func copyDir(tree *vfs.Tree, vol *fat32.Volume, parent vfs.NodeID, path string) *kernel.Error {
	names, err := vol.ReadDir(path)
	if err != nil {
		return err
	}

	for _, name := range names {
		childPath := joinPath(path, name)
		isDir, size, err := vol.Stat(childPath)
		if err != nil {
			return err
		}

		if isDir {
			childID, err := tree.Mkdir(parent, name)
			if err != nil {
				return err
			}
			if err := copyDir(tree, vol, childID, childPath); err != nil {
				return err
			}
			continue
		}

		if _, err := tree.CreateFile(parent, name, &fatFileBackend{vol: vol, path: childPath, size: size}); err != nil {
			return err
		}
	}
	return nil
}

func joinPath(dir, name string) string {
	if dir == "/" {
		return "/" + name
	}
	return dir + "/" + name
}
