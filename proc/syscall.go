package proc

import (
	"unsafe"

	"github.com/Zakki0925224/myos-x86-64/fs/vfs"
	"github.com/Zakki0925224/myos-x86-64/kernel"
	"github.com/Zakki0925224/myos-x86-64/kernel/cpu"
	"github.com/Zakki0925224/myos-x86-64/kernel/gate"
	"github.com/Zakki0925224/myos-x86-64/kernel/gdt"
	"github.com/Zakki0925224/myos-x86-64/kernel/kfmt"
	"github.com/Zakki0925224/myos-x86-64/kernel/mem"
	"github.com/Zakki0925224/myos-x86-64/kernel/mem/vmm"
	"github.com/Zakki0925224/myos-x86-64/kernel/timer"
)

const (
	sysRead           = 0
	sysWrite          = 1
	sysOpen           = 2
	sysClose          = 3
	sysExit           = 4
	sysSbrk           = 5
	sysUname          = 6
	sysBreak          = 7
	sysStat           = 8
	sysUptime         = 9
	sysExec           = 10
	sysGetcwd         = 11
	sysChdir          = 12
	sysCreateWindow   = 13
	sysDestroyWindow  = 14
	sysGetNames       = 15
	sysSbrksz         = 16
	sysAddImageToWindow = 17

	syscallFailure = ^uint64(0) // -1 in the result register

	utsnameFieldSize = 64
	utsnameSize      = 6 * utsnameFieldSize

	statKindFile    = 0
	statKindDir     = 1
	statKindCharDev = 2
)

// WindowManager is the surface the wm package registers so the window
// syscalls have somewhere to go; proc never imports wm directly. kernel/kmain
// calls SetWindowManager once wm has a display target to composite onto,
// avoiding an import cycle between the syscall gateway and the compositor
// it drives.
type WindowManager interface {
	CreateWindow(owner int, title string, x, y, w, h int32) (int32, *kernel.Error)
	DestroyWindow(owner int, id int32) *kernel.Error
	AddImage(owner int, id int32, w, h uint32, pixelFormat uint8, pixels []byte) *kernel.Error
}

var wmgr WindowManager

// SetWindowManager registers the window manager implementation backing
// syscalls 13, 14 and 17.
func SetWindowManager(w WindowManager) { wmgr = w }

// Init registers the syscall dispatcher against the legacy int 0x80 gate.
// It does not go through kernel/irq's exception wrapper: irq's
// ExceptionNum set models CPU exceptions, not software-invoked syscalls,
// and the syscall ABI (return value in RAX, no error-code slot) doesn't
// match irq's Frame/writeBack shape either.
func Init() {
	gate.HandleInterrupt(gate.SyscallVector, 0, dispatch)
}

// dispatch reads the syscall number and arguments out of the trapped
// register snapshot, runs the matching handler against the current
// process, and writes the result back into RAX. Argument registers follow
// the same order the assembly trampolines used elsewhere in this kernel
// push registers in: RBX, RCX, RDX, RSI, RDI for arguments 1 through 5.
func dispatch(regs *gate.Registers) {
	p := current
	if p == nil {
		regs.RAX = syscallFailure
		return
	}

	var ret uint64
	switch regs.RAX {
	case sysRead:
		ret = sysReadImpl(p, int(regs.RBX), uintptr(regs.RCX), uintptr(regs.RDX))
	case sysWrite:
		ret = sysWriteImpl(p, int(regs.RBX), uintptr(regs.RCX), uintptr(regs.RDX))
	case sysOpen:
		ret = sysOpenImpl(p, uintptr(regs.RBX))
	case sysClose:
		ret = sysCloseImpl(p, int(regs.RBX))
	case sysExit:
		sysExitImpl(p, int(regs.RBX))
		return
	case sysSbrk:
		ret = sysSbrkImpl(p, uintptr(regs.RBX))
	case sysUname:
		ret = sysUnameImpl(p, uintptr(regs.RBX))
	case sysBreak:
		sysBreakImpl(p)
		return
	case sysStat:
		ret = sysStatImpl(p, int(regs.RBX), uintptr(regs.RCX))
	case sysUptime:
		ret = timer.Millis()
	case sysExec:
		ret = sysExecImpl(p, regs, uintptr(regs.RBX))
	case sysGetcwd:
		ret = sysGetcwdImpl(p, uintptr(regs.RBX), uintptr(regs.RCX))
	case sysChdir:
		ret = sysChdirImpl(p, uintptr(regs.RBX))
	case sysCreateWindow:
		ret = sysCreateWindowImpl(p, uintptr(regs.RBX), int32(regs.RCX), int32(regs.RDX), int32(regs.RSI), int32(regs.RDI))
	case sysDestroyWindow:
		ret = sysDestroyWindowImpl(p, int32(regs.RBX))
	case sysGetNames:
		ret = sysGetNamesImpl(p, uintptr(regs.RBX), uintptr(regs.RCX), uintptr(regs.RDX))
	case sysSbrksz:
		ret = sysSbrkszImpl(p, uintptr(regs.RBX))
	case sysAddImageToWindow:
		ret = sysAddImageToWindowImpl(p, int32(regs.RBX), uint32(regs.RCX), uint32(regs.RDX), uint8(regs.RSI), uintptr(regs.RDI))
	default:
		ret = syscallFailure
	}

	regs.RAX = ret
}

// userBytes validates that [addr, addr+length) lies entirely within p's
// mapped user pages (writable if requireWrite) and returns a Go slice
// aliasing that physical memory, or nil if the range is invalid. Every
// syscall handler that touches a user-supplied pointer goes through this.
func userBytes(p *Process, addr, length uintptr, requireWrite bool) []byte {
	if length == 0 {
		return nil
	}
	if !p.as.Contains(addr, length, requireWrite) {
		return nil
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(addr)), int(length))
}

// userCString validates and returns a NUL-terminated user string starting
// at addr, scanning at most maxLen bytes for the terminator.
func userCString(p *Process, addr uintptr, maxLen uintptr) (string, bool) {
	if !p.as.Contains(addr, maxLen, false) {
		return "", false
	}
	raw := unsafe.Slice((*byte)(unsafe.Pointer(addr)), int(maxLen))
	for i, b := range raw {
		if b == 0 {
			return string(raw[:i]), true
		}
	}
	return "", false
}

const maxPathLen = 256

func (p *Process) fd(n int) (*fileDescriptor, bool) {
	if n < 0 || n >= maxFDs || !p.fds[n].inUse {
		return nil, false
	}
	return &p.fds[n], true
}

func sysReadImpl(p *Process, fdNum int, buf, length uintptr) uint64 {
	fdRec, ok := p.fd(fdNum)
	if !ok {
		return syscallFailure
	}
	dst := userBytes(p, buf, length, true)
	if dst == nil {
		return syscallFailure
	}
	if fsTree == nil {
		return syscallFailure
	}
	n, err := fsTree.ReadFile(fdRec.node, dst, fdRec.pos)
	if err != nil {
		if b, ok2, devErr := tryCharRead(fdRec.node, dst); ok2 {
			return b
		} else if devErr {
			return syscallFailure
		}
		return syscallFailure
	}
	fdRec.pos += int64(n)
	return uint64(n)
}

// tryCharRead services a read from a character device node (stdin, a UART
// node, ...) one byte at a time; it returns ok=false when the node isn't a
// char device at all, letting the caller fall back to its own error.
func tryCharRead(node vfs.NodeID, dst []byte) (n uint64, ok bool, isErr bool) {
	if fsTree == nil || len(dst) == 0 {
		return 0, false, false
	}
	kind, err := fsTree.Kind(node)
	if err != nil || kind != vfs.KindCharDevice {
		return 0, false, false
	}
	b, gotByte, rerr := fsTree.ReadByte(node)
	if rerr != nil {
		return 0, true, true
	}
	if !gotByte {
		return 0, true, false
	}
	dst[0] = b
	return 1, true, false
}

func sysWriteImpl(p *Process, fdNum int, buf, length uintptr) uint64 {
	fdRec, ok := p.fd(fdNum)
	if !ok {
		return syscallFailure
	}
	src := userBytes(p, buf, length, false)
	if src == nil {
		return syscallFailure
	}
	if fsTree == nil {
		return syscallFailure
	}

	kind, err := fsTree.Kind(fdRec.node)
	if err != nil {
		return syscallFailure
	}
	if kind == vfs.KindCharDevice {
		for _, b := range src {
			if werr := fsTree.WriteByte(fdRec.node, b); werr != nil {
				return syscallFailure
			}
		}
		return uint64(len(src))
	}

	return syscallFailure
}

func sysOpenImpl(p *Process, pathAddr uintptr) uint64 {
	path, ok := userCString(p, pathAddr, maxPathLen)
	if !ok || fsTree == nil {
		return syscallFailure
	}

	id, err := fsTree.Lookup(resolvePath(p.cwd, path))
	if err != nil {
		return syscallFailure
	}

	for i := 3; i < maxFDs; i++ {
		if !p.fds[i].inUse {
			p.fds[i] = fileDescriptor{inUse: true, node: id}
			return uint64(i)
		}
	}
	return syscallFailure
}

func sysCloseImpl(p *Process, fdNum int) uint64 {
	fdRec, ok := p.fd(fdNum)
	if !ok {
		return syscallFailure
	}
	*fdRec = fileDescriptor{}
	return 0
}

func sysExitImpl(p *Process, status int) {
	p.exitStatus = status
	p.state = StateExiting

	if p.as != nil {
		p.as.Destroy(freeFrame)
		p.as = nil
	}
	table[p.pid] = nil
	p.state = StateReaped

	if current == p {
		current = nil
	}

	for {
		cpu.Halt()
	}
}

func sysSbrkImpl(p *Process, length uintptr) uint64 {
	if length == 0 {
		return uint64(p.breakCur)
	}
	newEnd := p.breakCur + length
	if newEnd-p.breakStart > breakArenaMax {
		return 0
	}

	if err := growBreakArena(p, newEnd); err != nil {
		return 0
	}

	prev := p.breakCur
	p.breakCur = newEnd
	return uint64(prev)
}

func sysSbrkszImpl(p *Process, ptr uintptr) uint64 {
	if ptr < p.breakStart || ptr > p.breakCur {
		return 0
	}
	return uint64(p.breakCur - ptr)
}

// growBreakArena extends the mapped region backing the break arena up to
// newEnd, allocating and mapping any additional pages as plain zeroed,
// writable, non-executable user memory. Content is zeroed through a
// temporary kernel mapping before the user-facing mapping is installed,
// the same pattern mapSegment uses to populate PT_LOAD pages.
func growBreakArena(p *Process, newEnd uintptr) *kernel.Error {
	startPage := vmm.PageFromAddress(p.breakEnd)
	endPage := vmm.PageFromAddress(newEnd + uintptr(mem.PageSize) - 1)
	flags := vmm.FlagPresent | vmm.FlagRW | vmm.FlagUserAccessible | vmm.FlagNoExecute

	for page := startPage; page < endPage; page++ {
		frame, err := vmm.AllocFrame()
		if err != nil {
			return err
		}

		scratch, err := vmm.MapTemporary(frame)
		if err != nil {
			return err
		}
		mem.Memset(scratch.Address(), 0, mem.PageSize)
		vmm.Unmap(scratch)

		if err := p.as.Map(page, frame, flags); err != nil {
			return err
		}
	}
	if newBreakEnd := endPage.Address(); newBreakEnd > p.breakEnd {
		p.breakEnd = newBreakEnd
	}
	return nil
}

func sysUnameImpl(p *Process, buf uintptr) uint64 {
	dst := userBytes(p, buf, utsnameSize, true)
	if dst == nil {
		return syscallFailure
	}
	fields := []string{"myos", "myos-0", "0.1.0", "0.1.0", "x86_64", ""}
	for i, f := range fields {
		field := dst[i*utsnameFieldSize : (i+1)*utsnameFieldSize]
		for j := range field {
			field[j] = 0
		}
		copy(field, f)
	}
	return 0
}

// sysBreakImpl implements the decided scope for the debug trap syscall:
// it logs the event and terminates only the calling process through
// sysExitImpl with status -1, rather than halting the kernel. No int3
// trap is raised.
func sysBreakImpl(p *Process) {
	kfmt.Printf("proc: process %d hit sys_break, terminating\n", p.pid)
	sysExitImpl(p, -1)
}

func sysStatImpl(p *Process, fdNum int, buf uintptr) uint64 {
	fdRec, ok := p.fd(fdNum)
	if !ok {
		return syscallFailure
	}
	dst := userBytes(p, buf, 16, true)
	if dst == nil || fsTree == nil {
		return syscallFailure
	}

	kind, err := fsTree.Kind(fdRec.node)
	if err != nil {
		return syscallFailure
	}

	var size int64
	var statKind uint64
	switch kind {
	case vfs.KindFile:
		sz, serr := fsTree.FileSize(fdRec.node)
		if serr != nil {
			return syscallFailure
		}
		size = sz
		statKind = statKindFile
	case vfs.KindDirectory:
		statKind = statKindDir
	case vfs.KindCharDevice:
		statKind = statKindCharDev
	}

	putLE64(dst[0:8], uint64(size))
	putLE64(dst[8:16], statKind)
	return 0
}

func putLE64(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * i))
	}
}

// sysExecImpl replaces p's image in place and, on success, rewrites the
// trapped register frame's RIP/RSP so the shared IRETQ epilogue in
// kernel/gate returns straight into the freshly loaded program instead of
// the one that called exec.
func sysExecImpl(p *Process, regs *gate.Registers, argAddr uintptr) uint64 {
	argstr, ok := userCString(p, argAddr, maxPathLen)
	if !ok || fsTree == nil {
		return syscallFailure
	}

	path, argv := splitArgstr(argstr)
	id, err := fsTree.Lookup(resolvePath(p.cwd, path))
	if err != nil {
		return syscallFailure
	}

	size, err := fsTree.FileSize(id)
	if err != nil {
		return syscallFailure
	}
	image := make([]byte, size)
	if _, err := fsTree.ReadFile(id, image, 0); err != nil {
		return syscallFailure
	}

	if err := Exec(p, image, argv); err != nil {
		return syscallFailure
	}

	regs.RIP = uint64(p.entry)
	regs.RSP = uint64(p.userRSP)
	regs.CS = uint64(gdt.UserCodeSelector)
	regs.SS = uint64(gdt.UserDataSelector)
	return 0
}

// splitArgstr breaks a single space-separated argument string (the only
// form sys_exec's single-register ABI can carry) into a path and an argv
// vector with the path itself as argv[0].
func splitArgstr(s string) (path string, argv []string) {
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == ' ' {
			if i > start {
				argv = append(argv, s[start:i])
			}
			start = i + 1
		}
	}
	if len(argv) == 0 {
		return "", nil
	}
	return argv[0], argv
}

func sysGetcwdImpl(p *Process, buf, length uintptr) uint64 {
	dst := userBytes(p, buf, length, true)
	if dst == nil {
		return syscallFailure
	}
	if uintptr(len(p.cwd)+1) > length {
		return syscallFailure
	}
	copy(dst, p.cwd)
	dst[len(p.cwd)] = 0
	return 0
}

func sysChdirImpl(p *Process, pathAddr uintptr) uint64 {
	path, ok := userCString(p, pathAddr, maxPathLen)
	if !ok || fsTree == nil {
		return syscallFailure
	}
	target := resolvePath(p.cwd, path)
	id, err := fsTree.Lookup(target)
	if err != nil {
		return syscallFailure
	}
	kind, err := fsTree.Kind(id)
	if err != nil || kind != vfs.KindDirectory {
		return syscallFailure
	}
	p.cwd = target
	return 0
}

func sysCreateWindowImpl(p *Process, titleAddr uintptr, x, y, w, h int32) uint64 {
	if wmgr == nil {
		return syscallFailure
	}
	title, ok := userCString(p, titleAddr, maxPathLen)
	if !ok {
		return syscallFailure
	}
	id, err := wmgr.CreateWindow(p.pid, title, x, y, w, h)
	if err != nil {
		return syscallFailure
	}
	p.windows = append(p.windows, id)
	return uint64(uint32(id))
}

func sysDestroyWindowImpl(p *Process, id int32) uint64 {
	if wmgr == nil {
		return syscallFailure
	}
	if err := wmgr.DestroyWindow(p.pid, id); err != nil {
		return syscallFailure
	}
	for i, owned := range p.windows {
		if owned == id {
			p.windows = append(p.windows[:i], p.windows[i+1:]...)
			break
		}
	}
	return 0
}

// sysGetNamesImpl implements syscall 15's dual form: a zero third argument
// selects (buf, len), listing names in the current directory; otherwise
// the arguments are (path, buf, len) and list a specific directory, per
// spec.md's "(buf, len) or (path, buf, len)" note.
func sysGetNamesImpl(p *Process, a, b, c uintptr) uint64 {
	var dirPath string
	var buf, length uintptr

	if c == 0 {
		dirPath = p.cwd
		buf, length = a, b
	} else {
		path, ok := userCString(p, a, maxPathLen)
		if !ok {
			return syscallFailure
		}
		dirPath = resolvePath(p.cwd, path)
		buf, length = b, c
	}

	if fsTree == nil {
		return syscallFailure
	}
	id, err := fsTree.Lookup(dirPath)
	if err != nil {
		return syscallFailure
	}
	names, err := fsTree.Children(id)
	if err != nil {
		return syscallFailure
	}

	dst := userBytes(p, buf, length, true)
	if dst == nil {
		return syscallFailure
	}

	off := 0
	for _, n := range names {
		need := len(n) + 1
		if off+need+1 > len(dst) {
			return syscallFailure
		}
		copy(dst[off:], n)
		dst[off+len(n)] = 0
		off += need
	}
	if off >= len(dst) {
		return syscallFailure
	}
	dst[off] = 0
	return 0
}

func sysAddImageToWindowImpl(p *Process, id int32, w, h uint32, pixelFormat uint8, bufAddr uintptr) uint64 {
	if wmgr == nil {
		return syscallFailure
	}
	owns := false
	for _, owned := range p.windows {
		if owned == id {
			owns = true
			break
		}
	}
	if !owns {
		return syscallFailure
	}

	pixelLen := uintptr(w) * uintptr(h) * 4
	pixels := userBytes(p, bufAddr, pixelLen, false)
	if pixels == nil {
		return syscallFailure
	}

	if err := wmgr.AddImage(p.pid, id, w, h, pixelFormat, pixels); err != nil {
		return syscallFailure
	}
	return 0
}

// resolvePath joins a possibly-relative path against cwd; an absolute
// path (leading '/') is returned unchanged.
func resolvePath(cwd, path string) string {
	if len(path) > 0 && path[0] == '/' {
		return path
	}
	if cwd == "" || cwd == "/" {
		return "/" + path
	}
	return cwd + "/" + path
}
