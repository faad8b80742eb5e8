// Package net defines the collaboration point between the Ethernet frame
// pump (net/eth) and whatever IP-layer code eventually gets written
// above it. spec.md scopes the IP layer out — "the IP layer is
// incomplete and listed as a collaborator with defined hooks" — so this
// package carries only the hook shape, grounded on
// original_source/kernel/src/net/ip.rs's dispatch signature
// (protocol, source, destination, payload), and no default
// implementation.
package net

// IPHandler receives IPv4 datagrams net/eth has already stripped their
// Ethernet framing from. proto is the IP header's protocol field (1 =
// ICMP, 6 = TCP, 17 = UDP); src and dst are the packet's 4-byte
// addresses in network byte order.
type IPHandler interface {
	HandleIPPacket(proto uint8, src, dst [4]byte, payload []byte)
}

var handler IPHandler

// SetIPHandler registers the IP-layer collaborator net/eth dispatches
// IPv4 frames to. Passing nil (the default) makes net/eth silently drop
// IPv4 traffic, which is the correct behavior for as long as no IP stack
// is registered.
func SetIPHandler(h IPHandler) { handler = h }

// Handler returns the currently registered IP-layer collaborator, or nil
// if none has been set.
func Handler() IPHandler { return handler }
