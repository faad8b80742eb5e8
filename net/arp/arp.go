// Package arp implements the ARP request/reply protocol and the address
// resolution table spec.md's data model describes: entries expire after
// a fixed TTL and, when the table is full, the least recently used entry
// is evicted to make room for a new one.
//
// The packet layout is grounded on
// original_source/kernel/src/net/arp.rs's ArpPacket: a fixed 28-byte
// structure with hardware/protocol type fields, an operation code, and
// four address fields. This package keeps that layout but, per this
// kernel's byte-oriented decoding convention (fs/fat32, proc's ELF64
// loader), reads and writes it field by field into a plain byte slice
// instead of a tagged struct.
package arp

import "github.com/Zakki0925224/myos-x86-64/net/eth"

const packetLen = 28

// Operation is an ARP packet's operation code.
type Operation uint16

const (
	OpRequest Operation = 1
	OpReply   Operation = 2
)

// Packet is a decoded ARP packet for the Ethernet/IPv4 combination this
// kernel exclusively speaks (hardware type 1, protocol type 0x0800).
type Packet struct {
	Op        Operation
	SenderMAC eth.Addr
	SenderIP  [4]byte
	TargetMAC eth.Addr
	TargetIP  [4]byte
}

// DecodePacket parses a 28-byte ARP packet.
func DecodePacket(data []byte) (Packet, bool) {
	if len(data) < packetLen {
		return Packet{}, false
	}
	if data[0] != 0 || data[1] != 1 || data[4] != 6 || data[5] != 4 {
		return Packet{}, false
	}

	op := Operation(uint16(data[6])<<8 | uint16(data[7]))
	if op != OpRequest && op != OpReply {
		return Packet{}, false
	}

	var p Packet
	p.Op = op
	copy(p.SenderMAC[:], data[8:14])
	copy(p.SenderIP[:], data[14:18])
	copy(p.TargetMAC[:], data[18:24])
	copy(p.TargetIP[:], data[24:28])
	return p, true
}

// Encode serializes p into a 28-byte ARP packet.
func (p Packet) Encode() []byte {
	buf := make([]byte, packetLen)
	buf[0], buf[1] = 0, 1
	buf[2], buf[3] = 0x08, 0x00
	buf[4], buf[5] = 6, 4
	buf[6] = byte(p.Op >> 8)
	buf[7] = byte(p.Op)
	copy(buf[8:14], p.SenderMAC[:])
	copy(buf[14:18], p.SenderIP[:])
	copy(buf[18:24], p.TargetMAC[:])
	copy(buf[24:28], p.TargetIP[:])
	return buf
}

// DefaultTTL is how many timer ticks a resolved entry stays valid for
// before Table.Tick evicts it, mirroring the timer-driven aging the
// rest of this kernel uses (kernel/timer ticks drive the async
// executor's sleep wakers the same way).
const DefaultTTL = 120

const defaultCapacity = 32

type entry struct {
	mac       eth.Addr
	expiresAt uint64
	lastUsed  uint64
}

// framePump is the transport Table uses to answer ARP requests
// targeting its own address; net/eth.Pump satisfies it directly.
type framePump interface {
	Send(dst eth.Addr, etherType eth.EtherType, payload []byte) error
}

// Table is an ARP address resolution table with TTL-based expiry and
// LRU eviction when full, keyed by IPv4 address.
type Table struct {
	capacity int
	ttl      uint64
	now      uint64
	entries  map[[4]byte]*entry

	selfMAC eth.Addr
	selfIP  [4]byte
	pump    framePump
}

// NewTable creates an empty table with room for capacity resolved
// addresses. A capacity of 0 uses defaultCapacity.
func NewTable(capacity int) *Table {
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	return &Table{capacity: capacity, ttl: DefaultTTL, entries: make(map[[4]byte]*entry)}
}

// SetSelf records the local hardware and IPv4 addresses the table
// answers ARP requests and issues ARP replies on behalf of.
func (t *Table) SetSelf(mac eth.Addr, ip [4]byte) {
	t.selfMAC, t.selfIP = mac, ip
}

// Tick advances the table's internal clock by one unit and evicts any
// entry whose TTL has elapsed. kernel/kmain's network task calls this once
// per timer tick, rescheduling itself through kernel/timer's sleep wakers.
func (t *Table) Tick() {
	t.now++
	for ip, e := range t.entries {
		if t.now >= e.expiresAt {
			delete(t.entries, ip)
		}
	}
}

// Lookup returns the hardware address resolved for ip, if any, and
// refreshes its LRU recency.
func (t *Table) Lookup(ip [4]byte) (eth.Addr, bool) {
	e, ok := t.entries[ip]
	if !ok {
		return eth.Addr{}, false
	}
	e.lastUsed = t.now
	return e.mac, true
}

// insert records mac as ip's resolved hardware address, evicting the
// least recently used entry first if the table is at capacity.
func (t *Table) insert(ip [4]byte, mac eth.Addr) {
	if _, exists := t.entries[ip]; !exists && len(t.entries) >= t.capacity {
		t.evictLRU()
	}
	t.entries[ip] = &entry{mac: mac, expiresAt: t.now + t.ttl, lastUsed: t.now}
}

func (t *Table) evictLRU() {
	var oldestIP [4]byte
	var oldestUsed uint64
	first := true
	for ip, e := range t.entries {
		if first || e.lastUsed < oldestUsed {
			oldestIP, oldestUsed, first = ip, e.lastUsed, false
		}
	}
	if !first {
		delete(t.entries, oldestIP)
	}
}

// HandleFrame implements net/eth.ARPHandler: it decodes an ARP payload,
// learns the sender's address mapping unconditionally (the standard ARP
// cache-update behavior), and, if the packet is a request for this
// table's own IP, replies through pump.
func (t *Table) HandleFrame(payload []byte, srcMAC eth.Addr) {
	pkt, ok := DecodePacket(payload)
	if !ok {
		return
	}
	t.insert(pkt.SenderIP, pkt.SenderMAC)

	if pkt.Op == OpRequest && pkt.TargetIP == t.selfIP && t.pump != nil {
		reply := Packet{
			Op:        OpReply,
			SenderMAC: t.selfMAC,
			SenderIP:  t.selfIP,
			TargetMAC: pkt.SenderMAC,
			TargetIP:  pkt.SenderIP,
		}
		t.pump.Send(pkt.SenderMAC, eth.EtherTypeARP, reply.Encode())
	}
}

// AttachPump wires p as the transport HandleFrame uses to answer ARP
// requests targeting this table's own address. It's called once the
// network device's frame pump exists, since the table itself is
// typically constructed before the NIC has necessarily probed.
func (t *Table) AttachPump(p *eth.Pump) { t.pump = pumpAdapter{p} }

type pumpAdapter struct{ p *eth.Pump }

func (a pumpAdapter) Send(dst eth.Addr, etherType eth.EtherType, payload []byte) error {
	return a.p.Send(dst, etherType, payload)
}
