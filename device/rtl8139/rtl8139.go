// Package rtl8139 drives the Realtek RTL8139 Fast Ethernet NIC: a fixed
// physically-contiguous receive ring, drained by this package's IRQ
// handler into a frame queue that net/eth's frame pump reads, plus a
// 4-slot transmit descriptor ring written by WriteFrame.
package rtl8139

import (
	"io"
	"unsafe"

	"github.com/Zakki0925224/myos-x86-64/device"
	"github.com/Zakki0925224/myos-x86-64/device/pci"
	"github.com/Zakki0925224/myos-x86-64/kernel"
	"github.com/Zakki0925224/myos-x86-64/kernel/cpu"
	"github.com/Zakki0925224/myos-x86-64/kernel/irq"
)

const (
	vendorID = 0x10ec
	deviceID = 0x8139

	regMAC0       = 0x00
	regTxStatus0  = 0x10
	regTxAddr0    = 0x20
	regRxBufAddr  = 0x30
	regCmd        = 0x37
	regCAPR       = 0x38
	regIMR        = 0x3c
	regISR        = 0x3e
	regRxConfig   = 0x44
	regConfig1    = 0x52

	cmdReset  = 0x10
	cmdRxEnable = 0x08
	cmdTxEnable = 0x04

	isrROK = 0x01
	isrTOK = 0x04

	rxBufSize   = 8192
	rxBufPad    = 16 // the card may write up to 16 bytes past the reported length
	txSlotCount = 4

	frameMaxLen = 1536
)

var (
	inbFn  = cpu.Inb
	outbFn = cpu.Outb
	inwFn  = cpu.Inw
	outwFn = cpu.Outw
	inlFn  = cpu.Inl
	outlFn = cpu.Outl

	scanPCIFn = pci.Scan

	errNotFound = &kernel.Error{Module: "rtl8139", Message: "no rtl8139 device found on the pci bus"}
)

// Driver implements device.Driver for one RTL8139 adapter.
type Driver struct {
	ioBase uint16

	rxBuf    [rxBufSize + rxBufPad]byte
	rxOffset uint16

	txSlot int

	macAddr [6]byte

	rxQueue     [32][]byte
	rxHead, rxLen int
}

// New creates an unattached driver.
func New() *Driver { return &Driver{} }

func (d *Driver) reg8(offset uint16) uint8    { return inbFn(d.ioBase + offset) }
func (d *Driver) setReg8(offset uint16, v uint8) { outbFn(d.ioBase+offset, v) }
func (d *Driver) reg16(offset uint16) uint16   { return inwFn(d.ioBase + offset) }
func (d *Driver) setReg16(offset uint16, v uint16) { outwFn(d.ioBase+offset, v) }
func (d *Driver) setReg32(offset uint16, v uint32) { outlFn(d.ioBase+offset, v) }

// MACAddress returns the adapter's burned-in Ethernet address.
func (d *Driver) MACAddress() [6]byte { return d.macAddr }

// DriverName identifies this driver.
func (d *Driver) DriverName() string { return "rtl8139" }

// DriverVersion reports this driver's version.
func (d *Driver) DriverVersion() (uint16, uint16, uint16) { return 0, 1, 0 }

// DriverInit locates the adapter on the PCI bus, resets it, programs the
// receive ring address and enables RX/TX, then registers the IRQ handler.
func (d *Driver) DriverInit(_ io.Writer) *kernel.Error {
	header, ok := pci.FindByVendorDevice(scanPCIFn(), vendorID, deviceID)
	if !ok {
		return errNotFound
	}

	bar0 := pci.BAR(header.Bus, header.Device, header.Function, 0)
	if bar0&0x1 == 0 {
		return &kernel.Error{Module: "rtl8139", Message: "BAR0 is not an I/O space BAR"}
	}
	d.ioBase = uint16(bar0 &^ 0x3)

	d.setReg8(regConfig1, 0x00)

	d.setReg8(regCmd, cmdReset)
	for d.reg8(regCmd)&cmdReset != 0 {
	}

	for i := 0; i < 6; i++ {
		d.macAddr[i] = d.reg8(regMAC0 + uint16(i))
	}

	d.setReg32(regRxBufAddr, uint32(rxBufPhysAddr(&d.rxBuf)))
	d.setReg16(regIMR, isrROK|isrTOK)
	d.setReg32(regRxConfig, 0xf|(1<<7)) // accept all, wrap disabled
	d.setReg8(regCmd, cmdRxEnable|cmdTxEnable)

	irq.Handle(irq.Line(11), d.handleIRQ)
	irq.Enable(irq.Line(11))
	return nil
}

// rxBufPhysAddr is overridden in tests; on real hardware the receive
// buffer must be identity-mapped or translated through vmm before being
// handed to the card as a bus address.
var rxBufPhysAddr = func(buf *[rxBufSize + rxBufPad]byte) uintptr {
	return uintptrOfByte(&buf[0])
}

func (d *Driver) handleIRQ() {
	status := d.reg16(regISR)
	d.setReg16(regISR, isrROK|isrTOK)

	if status&isrROK != 0 {
		d.drainRx()
	}
}

func (d *Driver) drainRx() {
	for {
		rxStatus := le16(d.rxBuf[d.rxOffset:])
		if rxStatus&0xe03f == 0 {
			return
		}
		length := le16(d.rxBuf[d.rxOffset+2:])

		frameStart := d.rxOffset + 4
		if int(frameStart)+int(length) > len(d.rxBuf) {
			return
		}
		frame := make([]byte, length)
		copy(frame, d.rxBuf[frameStart:frameStart+length])
		d.pushFrame(frame)

		d.rxOffset = (d.rxOffset + length + 4 + 3) &^ 3
		d.rxOffset %= rxBufSize
		d.setReg16(regCAPR, d.rxOffset-0x10)
	}
}

func (d *Driver) pushFrame(frame []byte) {
	if d.rxLen == len(d.rxQueue) {
		d.rxHead = (d.rxHead + 1) % len(d.rxQueue)
		d.rxLen--
	}
	tail := (d.rxHead + d.rxLen) % len(d.rxQueue)
	d.rxQueue[tail] = frame
	d.rxLen++
}

// ReadFrame pops the oldest received Ethernet frame, returning ok=false if
// none is queued.
func (d *Driver) ReadFrame() (frame []byte, ok bool) {
	if d.rxLen == 0 {
		return nil, false
	}
	frame = d.rxQueue[d.rxHead]
	d.rxHead = (d.rxHead + 1) % len(d.rxQueue)
	d.rxLen--
	return frame, true
}

// WriteFrame transmits frame using the next transmit descriptor slot,
// round-robining over the 4 hardware slots.
func (d *Driver) WriteFrame(frame []byte) *kernel.Error {
	if len(frame) > frameMaxLen {
		return &kernel.Error{Module: "rtl8139", Message: "frame exceeds maximum transmit length"}
	}

	slot := d.txSlot
	d.txSlot = (d.txSlot + 1) % txSlotCount

	d.setReg32(regTxAddr0+uint16(slot)*4, uint32(uintptrOfByte(&frame[0])))
	d.setReg32(regTxStatus0+uint16(slot)*4, uint32(len(frame)))
	return nil
}

func le16(b []byte) uint16 { return uint16(b[0]) | uint16(b[1])<<8 }

func uintptrOfByte(p *byte) uintptr { return uintptr(unsafe.Pointer(p)) }

func probeForRTL8139() device.Driver { return New() }

// HWProbes returns the probe functions hal uses to locate an RTL8139 NIC.
func HWProbes() []device.ProbeFn {
	return []device.ProbeFn{probeForRTL8139}
}
