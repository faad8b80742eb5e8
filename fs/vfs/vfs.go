// Package vfs implements the kernel's virtual filesystem: a fixed-size
// arena of nodes addressed by stable index, arranged as a first-child /
// next-sibling tree, generalizing the teacher's pool-of-fixed-slots
// allocation style to a directory tree instead of physical page frames.
package vfs

import "github.com/Zakki0925224/myos-x86-64/kernel"

// maxNodes bounds the number of files, directories and device nodes the
// tree can ever hold; there is no dynamic growth, matching the teacher's
// preference for fixed-capacity structures over general containers.
const maxNodes = 1024

// NodeID stably identifies a node for the lifetime of the mount. Index 0
// is reserved as the invalid/nil ID so a zero-valued NodeID never aliases
// the root.
type NodeID uint32

const invalidID NodeID = 0

// Kind distinguishes the handful of node types the tree can hold.
type Kind uint8

const (
	KindDirectory Kind = iota
	KindFile
	KindCharDevice
)

// CharDevice is implemented by anything backing a character-device node
// (/dev/stdin, /dev/uart0, ...).
type CharDevice interface {
	ReadByte() (byte, bool)
	WriteByte(byte) error
}

// FileBackend is implemented by a mounted filesystem's file content
// provider (fs/fat32's reader).
type FileBackend interface {
	ReadAt(p []byte, off int64) (int, error)
	Size() int64
}

type node struct {
	inUse bool
	kind  Kind
	name  string

	parent, firstChild, next NodeID

	dev     CharDevice
	backend FileBackend
}

// Tree is a single mounted virtual filesystem.
type Tree struct {
	nodes    [maxNodes]node
	freeList []NodeID
	nextFree NodeID
	root     NodeID
}

var (
	errTreeFull       = &kernel.Error{Module: "vfs", Message: "node arena is full"}
	errNotFound       = &kernel.Error{Module: "vfs", Message: "no such file or directory"}
	errNotADirectory  = &kernel.Error{Module: "vfs", Message: "not a directory"}
	errNameExists     = &kernel.Error{Module: "vfs", Message: "name already exists in directory"}
)

// NewTree creates an empty tree with a root directory node at index 1.
func NewTree() *Tree {
	t := &Tree{nextFree: 1}
	root, err := t.alloc()
	if err != nil {
		panic(err.Error())
	}
	t.nodes[root].inUse = true
	t.nodes[root].kind = KindDirectory
	t.nodes[root].name = "/"
	t.nodes[root].parent = root
	t.root = root
	return t
}

// Root returns the tree's root directory node.
func (t *Tree) Root() NodeID { return t.root }

func (t *Tree) alloc() (NodeID, *kernel.Error) {
	if n := len(t.freeList); n > 0 {
		id := t.freeList[n-1]
		t.freeList = t.freeList[:n-1]
		return id, nil
	}
	if int(t.nextFree) >= maxNodes {
		return invalidID, errTreeFull
	}
	id := t.nextFree
	t.nextFree++
	return id, nil
}

func (t *Tree) free(id NodeID) {
	t.nodes[id] = node{}
	t.freeList = append(t.freeList, id)
}

func (t *Tree) get(id NodeID) *node {
	if id == invalidID || int(id) >= maxNodes || !t.nodes[id].inUse {
		return nil
	}
	return &t.nodes[id]
}

// Mkdir creates a directory named name under parent.
func (t *Tree) Mkdir(parent NodeID, name string) (NodeID, *kernel.Error) {
	return t.insert(parent, name, KindDirectory, nil, nil)
}

// CreateFile creates a read-only file node backed by backend.
func (t *Tree) CreateFile(parent NodeID, name string, backend FileBackend) (NodeID, *kernel.Error) {
	return t.insert(parent, name, KindFile, nil, backend)
}

// CreateCharDevice creates a character-device node backed by dev.
func (t *Tree) CreateCharDevice(parent NodeID, name string, dev CharDevice) (NodeID, *kernel.Error) {
	return t.insert(parent, name, KindCharDevice, dev, nil)
}

func (t *Tree) insert(parent NodeID, name string, kind Kind, dev CharDevice, backend FileBackend) (NodeID, *kernel.Error) {
	parentNode := t.get(parent)
	if parentNode == nil {
		return invalidID, errNotFound
	}
	if parentNode.kind != KindDirectory {
		return invalidID, errNotADirectory
	}
	if _, ok := t.lookupChild(parent, name); ok {
		return invalidID, errNameExists
	}

	id, err := t.alloc()
	if err != nil {
		return invalidID, err
	}

	t.nodes[id] = node{
		inUse:  true,
		kind:   kind,
		name:   name,
		parent: parent,
		dev:    dev,
		backend: backend,
	}

	// New children are prepended; sibling order doesn't matter for lookup.
	t.nodes[id].next = parentNode.firstChild
	parentNode.firstChild = id

	return id, nil
}

func (t *Tree) lookupChild(parent NodeID, name string) (NodeID, bool) {
	parentNode := t.get(parent)
	if parentNode == nil {
		return invalidID, false
	}
	for id := parentNode.firstChild; id != invalidID; {
		n := t.get(id)
		if n == nil {
			return invalidID, false
		}
		if n.name == name {
			return id, true
		}
		id = n.next
	}
	return invalidID, false
}

// Lookup resolves a slash-separated path starting at root, relative
// components (".", "..") are honored the same way the shell does.
func (t *Tree) Lookup(path string) (NodeID, *kernel.Error) {
	current := t.root
	start, segEnd := 0, 0
	for start <= len(path) {
		for segEnd = start; segEnd < len(path) && path[segEnd] != '/'; segEnd++ {
		}
		seg := path[start:segEnd]
		switch seg {
		case "", ".":
		case "..":
			if n := t.get(current); n != nil {
				current = n.parent
			}
		default:
			id, ok := t.lookupChild(current, seg)
			if !ok {
				return invalidID, errNotFound
			}
			current = id
		}
		start = segEnd + 1
	}
	return current, nil
}

// Remove deletes a leaf node (a node with no children) from its parent's
// child list and frees its arena slot.
func (t *Tree) Remove(id NodeID) *kernel.Error {
	n := t.get(id)
	if n == nil {
		return errNotFound
	}
	if n.firstChild != invalidID {
		return &kernel.Error{Module: "vfs", Message: "directory is not empty"}
	}

	parentNode := t.get(n.parent)
	if parentNode == nil || parentNode.firstChild == invalidID {
		return errNotFound
	}

	if parentNode.firstChild == id {
		parentNode.firstChild = n.next
	} else {
		prev := parentNode.firstChild
		for {
			prevNode := t.get(prev)
			if prevNode == nil {
				return errNotFound
			}
			if prevNode.next == id {
				prevNode.next = n.next
				break
			}
			prev = prevNode.next
		}
	}

	t.free(id)
	return nil
}

// Kind reports the kind of a node.
func (t *Tree) Kind(id NodeID) (Kind, *kernel.Error) {
	n := t.get(id)
	if n == nil {
		return 0, errNotFound
	}
	return n.kind, nil
}

// Name reports a node's name.
func (t *Tree) Name(id NodeID) (string, *kernel.Error) {
	n := t.get(id)
	if n == nil {
		return "", errNotFound
	}
	return n.name, nil
}

// ReadFile reads up to len(p) bytes at offset off from a file node.
func (t *Tree) ReadFile(id NodeID, p []byte, off int64) (int, *kernel.Error) {
	n := t.get(id)
	if n == nil {
		return 0, errNotFound
	}
	if n.kind != KindFile || n.backend == nil {
		return 0, &kernel.Error{Module: "vfs", Message: "node is not a readable file"}
	}
	count, err := n.backend.ReadAt(p, off)
	if err != nil {
		return count, &kernel.Error{Module: "vfs", Message: err.Error()}
	}
	return count, nil
}

// FileSize reports the size in bytes of a file node's backing content.
func (t *Tree) FileSize(id NodeID) (int64, *kernel.Error) {
	n := t.get(id)
	if n == nil {
		return 0, errNotFound
	}
	if n.kind != KindFile || n.backend == nil {
		return 0, &kernel.Error{Module: "vfs", Message: "node is not a readable file"}
	}
	return n.backend.Size(), nil
}

// ReadByte reads a single byte from a character device node.
func (t *Tree) ReadByte(id NodeID) (byte, bool, *kernel.Error) {
	n := t.get(id)
	if n == nil {
		return 0, false, errNotFound
	}
	if n.kind != KindCharDevice || n.dev == nil {
		return 0, false, &kernel.Error{Module: "vfs", Message: "node is not a character device"}
	}
	b, ok := n.dev.ReadByte()
	return b, ok, nil
}

// WriteByte writes a single byte to a character device node.
func (t *Tree) WriteByte(id NodeID, b byte) *kernel.Error {
	n := t.get(id)
	if n == nil {
		return errNotFound
	}
	if n.kind != KindCharDevice || n.dev == nil {
		return &kernel.Error{Module: "vfs", Message: "node is not a character device"}
	}
	if err := n.dev.WriteByte(b); err != nil {
		return &kernel.Error{Module: "vfs", Message: err.Error()}
	}
	return nil
}

// Children returns the names of every direct child of dir.
func (t *Tree) Children(dir NodeID) ([]string, *kernel.Error) {
	n := t.get(dir)
	if n == nil {
		return nil, errNotFound
	}
	if n.kind != KindDirectory {
		return nil, errNotADirectory
	}
	var names []string
	for id := n.firstChild; id != invalidID; {
		child := t.get(id)
		if child == nil {
			break
		}
		names = append(names, child.name)
		id = child.next
	}
	return names, nil
}
