// Package kmain wires every subsystem package together into the kernel's
// boot sequence. Grounded on the teacher's kmain.go's linear
// init-or-panic chain, extended with the console/terminal, filesystem,
// process and networking wiring the teacher's single-file Kmain never had
// to do because it stopped right after goruntime.Init.
package kmain

import (
	"github.com/Zakki0925224/myos-x86-64/device"
	"github.com/Zakki0925224/myos-x86-64/device/keyboard"
	"github.com/Zakki0925224/myos-x86-64/device/rtl8139"
	"github.com/Zakki0925224/myos-x86-64/device/tty"
	"github.com/Zakki0925224/myos-x86-64/device/uart"
	"github.com/Zakki0925224/myos-x86-64/device/video/console"
	"github.com/Zakki0925224/myos-x86-64/fs"
	"github.com/Zakki0925224/myos-x86-64/fs/vfs"
	"github.com/Zakki0925224/myos-x86-64/kernel"
	"github.com/Zakki0925224/myos-x86-64/kernel/cpu"
	"github.com/Zakki0925224/myos-x86-64/kernel/gate"
	"github.com/Zakki0925224/myos-x86-64/kernel/gdt"
	"github.com/Zakki0925224/myos-x86-64/kernel/goruntime"
	"github.com/Zakki0925224/myos-x86-64/kernel/hal"
	"github.com/Zakki0925224/myos-x86-64/kernel/hal/bootinfo"
	"github.com/Zakki0925224/myos-x86-64/kernel/irq"
	"github.com/Zakki0925224/myos-x86-64/kernel/kfmt"
	"github.com/Zakki0925224/myos-x86-64/kernel/mem/pmm/allocator"
	"github.com/Zakki0925224/myos-x86-64/kernel/mem/vmm"
	"github.com/Zakki0925224/myos-x86-64/kernel/task"
	"github.com/Zakki0925224/myos-x86-64/kernel/timer"
	"github.com/Zakki0925224/myos-x86-64/net/arp"
	"github.com/Zakki0925224/myos-x86-64/net/eth"
	"github.com/Zakki0925224/myos-x86-64/proc"
	"github.com/Zakki0925224/myos-x86-64/wm"
)

var (
	errKmainReturned = &kernel.Error{Module: "kmain", Message: "Kmain returned"}
	errNoInitBinary  = &kernel.Error{Module: "kmain", Message: "/sbin/init not found on the mounted initramfs"}
)

// initPath is the ELF binary Kmain spawns as the first user process once
// boot completes.
const initPath = "/sbin/init"

// selfIP is the address arp.Table answers ARP requests for until a real
// IP configuration mechanism exists; it matches QEMU user-mode
// networking's default guest address.
var selfIP = [4]byte{10, 0, 2, 15}

// bootLog adapts kernel/kfmt's Printf to the io.Writer every DriverInit
// and hal.ProbeAll call expects, so driver diagnostics go through the
// same ring-buffer-until-a-sink-exists path as everything else kfmt
// prints during boot.
type bootLog struct{}

func (bootLog) Write(p []byte) (int, error) {
	kfmt.Printf("%s", p)
	return len(p), nil
}

// Kmain is the kernel's entry point, reached from cmd/kernel's rt0
// trampoline once the bootloader stub has switched to long mode, set up
// an initial stack and jumped here. handoffAddr points at the UEFI
// hand-off block kernel/hal/bootinfo parses; kernelStart and kernelEnd
// bound the physical memory the kernel image itself occupies, so the
// frame allocator never hands out a frame still holding kernel code.
//
//go:noinline
func Kmain(handoffAddr, kernelStart, kernelEnd uintptr) {
	var err *kernel.Error

	if err = bootinfo.Init(handoffAddr); err != nil {
		kfmt.Panic(err)
	}

	gdt.Init(bootinfo.KernelStackTop())

	if err = allocator.Init(kernelStart, kernelEnd); err != nil {
		kfmt.Panic(err)
	} else if err = vmm.Init(); err != nil {
		kfmt.Panic(err)
	}

	gate.Init()
	irq.Init()

	if err = goruntime.Init(); err != nil {
		kfmt.Panic(err)
	}

	timer.Init()

	var log bootLog
	found := hal.ProbeAll(log)

	term, editor := attachConsole(found)

	tree := mountRoot()
	wireStdio(tree, term, editor, found)

	proc.SetVFS(tree)
	proc.Init()

	if fbConsole, ok := hal.ByName(found, "fb_console").(*console.FramebufferConsole); ok {
		proc.SetWindowManager(wm.New(fbConsole))
	}

	wireNetworking(found)

	initImage, err := loadFile(tree, initPath)
	if err != nil {
		kfmt.Panic(err)
	}

	p, err := proc.Spawn(initImage, []string{initPath}, "/")
	if err != nil {
		kfmt.Panic(err)
	}
	proc.SetCurrent(p)
	if err = p.Activate(); err != nil {
		kfmt.Panic(err)
	}

	if _, err = task.Spawn(func() bool {
		cpu.EnterUserMode(p.Entry(), p.UserRSP(), uintptr(gdt.UserCodeSelector), uintptr(gdt.UserDataSelector))
		return true
	}); err != nil {
		kfmt.Panic(err)
	}

	task.Run()

	// Use kfmt.Panic instead of panic to prevent the compiler from
	// treating it as dead code and eliminating it.
	kfmt.Panic(errKmainReturned)
}

// attachConsole picks the framebuffer console, virtual terminal and
// keyboard out of found, wires the terminal to the console and to the
// keyboard's key-event stream through a line editor, and makes the
// terminal kfmt's output sink so every Printf call from this point on
// reaches the screen instead of the early ring buffer.
func attachConsole(found []device.Driver) (*tty.VT, *tty.LineEditor) {
	fbConsole, _ := hal.ByName(found, "fb_console").(*console.FramebufferConsole)
	term, _ := hal.ByName(found, "vt").(*tty.VT)
	kbd, _ := hal.ByName(found, "ps2_keyboard").(*keyboard.Driver)

	if term == nil || fbConsole == nil {
		return term, nil
	}

	term.AttachTo(fbConsole)
	term.SetState(tty.StateActive)
	kfmt.SetOutputSink(term)

	if kbd == nil {
		return term, nil
	}
	return term, tty.NewLineEditor(term, kbd)
}

// mountRoot builds an empty vfs.Tree and, if the bootloader embedded an
// initramfs image, mounts it as a FAT32 volume at the tree's root.
func mountRoot() *vfs.Tree {
	tree := vfs.NewTree()
	if img := bootinfo.Initramfs(); len(img) > 0 {
		if _, err := fs.MountFAT32(tree, tree.Root(), img); err != nil {
			kfmt.Printf("kmain: failed to mount initramfs: %s\n", err.Message)
		}
	}
	return tree
}

// loadFile reads path's full contents out of tree into a freshly
// allocated buffer. proc.Spawn needs an ELF image as a single byte
// slice; there's no demand-paging of the executable itself.
func loadFile(tree *vfs.Tree, path string) ([]byte, *kernel.Error) {
	id, err := tree.Lookup(path)
	if err != nil {
		return nil, errNoInitBinary
	}
	size, err := tree.FileSize(id)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, size)
	n, err := tree.ReadFile(id, buf, 0)
	if err != nil {
		return nil, err
	}
	return buf[:n], nil
}

// wireStdio creates /dev and populates it with the character devices new
// processes inherit as fds 0, 1 and 2, plus /dev/uart0 for anything that
// wants a serial line directly.
func wireStdio(tree *vfs.Tree, term *tty.VT, editor *tty.LineEditor, found []device.Driver) {
	devDir, err := tree.Mkdir(tree.Root(), "dev")
	if err != nil {
		kfmt.Printf("kmain: failed to create /dev: %s\n", err.Message)
		return
	}

	var stdinID, stdoutID, stderrID vfs.NodeID

	if editor != nil {
		if id, err := tree.CreateCharDevice(devDir, "stdin", tty.NewStdinDevice(editor)); err == nil {
			stdinID = id
		}
	}
	if term != nil {
		out := tty.NewStdoutDevice(term)
		if id, err := tree.CreateCharDevice(devDir, "stdout", out); err == nil {
			stdoutID = id
		}
		if id, err := tree.CreateCharDevice(devDir, "stderr", out); err == nil {
			stderrID = id
		}
	}
	if d, ok := hal.ByName(found, "uart").(*uart.Driver); ok {
		tree.CreateCharDevice(devDir, "uart0", d)
	}

	proc.SetStdio(stdinID, stdoutID, stderrID)
}

// wireNetworking attaches the ARP resolution table to the Ethernet frame
// pump backing whatever NIC hal found, and schedules a cooperative task
// that drains inbound frames and ages the table's entries. There is no IP
// stack registered above net/eth yet; net.SetIPHandler stays unset, so
// IPv4 frames reach net/eth's dispatch and are dropped there.
func wireNetworking(found []device.Driver) {
	nic, ok := hal.ByName(found, "rtl8139").(*rtl8139.Driver)
	if !ok {
		return
	}

	table := arp.NewTable(32)
	pump := eth.NewPump(nic, table)
	table.SetSelf(eth.Addr(nic.MACAddress()), selfIP)
	table.AttachPump(pump)

	var w task.Waker
	w, _ = task.Spawn(func() bool {
		pump.Poll()
		table.Tick()
		timer.After(1, w.Wake)
		return false
	})
}
