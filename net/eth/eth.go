// Package eth implements the Ethernet frame pump above device/rtl8139's
// ring buffers: it decodes the 14-byte header off every received frame,
// dispatches IPv4 payloads to net.Handler and ARP payloads to a
// registered net/arp.Table, and encodes outgoing frames for whichever
// caller wants to transmit one.
//
// Grounded on original_source/kernel/src/net/eth.rs, translated from its
// EthernetAddress/EtherType/EthernetPacket triad into a Go header struct
// plus free functions, matching how this kernel's other wire-format
// readers (fs/fat32's boot sector, proc's ELF64 loader) decode
// fixed-layout binary data field by field rather than overlaying a
// struct onto host memory.
package eth

import (
	"github.com/Zakki0925224/myos-x86-64/kernel"
	netpkg "github.com/Zakki0925224/myos-x86-64/net"
)

const (
	headerLen = 14
	AddrLen   = 6
)

// EtherType identifies an Ethernet frame's payload protocol.
type EtherType uint16

const (
	EtherTypeIPv4 EtherType = 0x0800
	EtherTypeIPv6 EtherType = 0x86dd
	EtherTypeARP  EtherType = 0x0806
)

// Addr is a 6-byte hardware address.
type Addr [AddrLen]byte

// Broadcast is the all-ones Ethernet broadcast address.
var Broadcast = Addr{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}

// IsBroadcast reports whether a is the broadcast address.
func (a Addr) IsBroadcast() bool { return a == Broadcast }

var errShortFrame = &kernel.Error{Module: "eth", Message: "frame is too short to hold an Ethernet header"}

// Header is a decoded Ethernet header.
type Header struct {
	Dst, Src  Addr
	EtherType EtherType
}

// DecodeHeader reads the 14-byte header off the front of frame.
func DecodeHeader(frame []byte) (Header, *kernel.Error) {
	if len(frame) < headerLen {
		return Header{}, errShortFrame
	}
	var h Header
	copy(h.Dst[:], frame[0:6])
	copy(h.Src[:], frame[6:12])
	h.EtherType = EtherType(uint16(frame[12])<<8 | uint16(frame[13]))
	return h, nil
}

// EncodeFrame builds a complete Ethernet frame carrying payload.
func EncodeFrame(dst, src Addr, etherType EtherType, payload []byte) []byte {
	frame := make([]byte, headerLen+len(payload))
	copy(frame[0:6], dst[:])
	copy(frame[6:12], src[:])
	frame[12] = byte(etherType >> 8)
	frame[13] = byte(etherType)
	copy(frame[headerLen:], payload)
	return frame
}

// NIC is the transmit/receive surface a physical or virtual network
// device exposes to the frame pump; device/rtl8139.Driver satisfies it
// with no adapter needed.
type NIC interface {
	MACAddress() [6]byte
	ReadFrame() (frame []byte, ok bool)
	WriteFrame(frame []byte) *kernel.Error
}

// ARPHandler is the surface net/arp.Table exposes for dispatching
// received ARP payloads.
type ARPHandler interface {
	HandleFrame(payload []byte, srcMAC Addr)
}

// Pump reads frames off a NIC and dispatches them by EtherType, and
// serializes outgoing frames addressed from the NIC's own MAC. IPv4
// payloads go to whatever net.IPHandler is registered at dispatch time
// (net.Handler()) rather than one fixed at construction, since spec.md
// treats the IP layer as an optional collaborator that may not exist
// yet when the pump itself is wired up.
type Pump struct {
	nic NIC
	arp ARPHandler
}

// NewPump creates a frame pump over nic. arp may be nil, in which case
// ARP frames are silently dropped.
func NewPump(nic NIC, arp ARPHandler) *Pump {
	return &Pump{nic: nic, arp: arp}
}

// MAC returns the underlying NIC's hardware address.
func (p *Pump) MAC() Addr { return Addr(p.nic.MACAddress()) }

// Poll drains every frame currently queued in the NIC's receive ring,
// dispatching each by EtherType. It should be called once per scheduler
// pass by the task that owns the network device, mirroring
// device/tty.LineEditor's Poll convention for keyboard events.
func (p *Pump) Poll() {
	for {
		frame, ok := p.nic.ReadFrame()
		if !ok {
			return
		}
		p.dispatch(frame)
	}
}

func (p *Pump) dispatch(frame []byte) {
	hdr, err := DecodeHeader(frame)
	if err != nil {
		return
	}
	payload := frame[headerLen:]

	switch hdr.EtherType {
	case EtherTypeARP:
		if p.arp != nil {
			p.arp.HandleFrame(payload, hdr.Src)
		}
	case EtherTypeIPv4:
		if h := netpkg.Handler(); h != nil {
			dispatchIPv4(h, payload)
		}
	}
}

// ipv4ProtocolOffset and the address offsets below follow
// original_source/kernel/src/net/ip.rs's Ipv4Packet field layout:
// protocol at byte 9, source address at 12-15, destination at 16-19.
const (
	ipv4ProtocolOffset = 9
	ipv4SrcOffset       = 12
	ipv4DstOffset       = 16
	ipv4MinHeaderLen    = 20
)

func dispatchIPv4(h netpkg.IPHandler, datagram []byte) {
	if len(datagram) < ipv4MinHeaderLen {
		return
	}
	ihl := int(datagram[0]&0x0f) * 4
	if ihl < ipv4MinHeaderLen || ihl > len(datagram) {
		ihl = ipv4MinHeaderLen
	}

	var src, dst [4]byte
	copy(src[:], datagram[ipv4SrcOffset:ipv4SrcOffset+4])
	copy(dst[:], datagram[ipv4DstOffset:ipv4DstOffset+4])
	proto := datagram[ipv4ProtocolOffset]

	h.HandleIPPacket(proto, src, dst, datagram[ihl:])
}

// Send wraps payload in an Ethernet frame addressed to dst and transmits
// it through the NIC.
func (p *Pump) Send(dst Addr, etherType EtherType, payload []byte) *kernel.Error {
	frame := EncodeFrame(dst, p.MAC(), etherType, payload)
	return p.nic.WriteFrame(frame)
}
