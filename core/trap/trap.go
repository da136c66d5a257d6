// Package trap holds packets awaiting a usable route and releases them,
// in the order they arrived, once the routing table they're watching
// becomes deliverable for their destination.
package trap

import (
	"github.com/ara-mesh/ara-go/core"
	"github.com/ara-mesh/ara-go/core/packet"
)

// deliverabilityChecker is the slice of routing.Table the trap depends on.
// Defined locally rather than importing core/routing so the trap has no
// dependency on the routing table's full surface — only whether a packet
// can currently be delivered.
type deliverabilityChecker interface {
	IsDeliverable(pkt *packet.Packet) bool
}

// Trap is a mapping from destination to an ordered (FIFO) list of packets
// awaiting a route. It holds a reference to the currently installed
// routing table so it can decide, per packet, whether a route now exists.
type Trap struct {
	table deliverabilityChecker
	byDst map[core.Address][]*packet.Packet
}

// New creates a Trap backed by table.
func New(table deliverabilityChecker) *Trap {
	return &Trap{table: table, byDst: make(map[core.Address][]*packet.Packet)}
}

// SetRoutingTable replaces the routing table the trap consults.
func (t *Trap) SetRoutingTable(table deliverabilityChecker) {
	t.table = table
}

// TrapPacket appends pkt to the list kept for pkt.Destination.
func (t *Trap) TrapPacket(pkt *packet.Packet) {
	t.byDst[pkt.Destination] = append(t.byDst[pkt.Destination], pkt)
}

// UntrapDeliverable removes and returns, in FIFO order, every trapped
// packet for destination that the routing table now reports as
// deliverable. Packets that remain undeliverable stay trapped, in order.
func (t *Trap) UntrapDeliverable(destination core.Address) []*packet.Packet {
	pending := t.byDst[destination]
	if len(pending) == 0 {
		return nil
	}

	var released, kept []*packet.Packet
	for _, pkt := range pending {
		if t.table.IsDeliverable(pkt) {
			released = append(released, pkt)
		} else {
			kept = append(kept, pkt)
		}
	}

	if len(kept) == 0 {
		delete(t.byDst, destination)
	} else {
		t.byDst[destination] = kept
	}
	return released
}

// RemoveFor removes and returns all trapped packets for destination,
// regardless of deliverability — used on permanent discovery failure.
func (t *Trap) RemoveFor(destination core.Address) []*packet.Packet {
	pending := t.byDst[destination]
	delete(t.byDst, destination)
	return pending
}

// Count returns the number of packets currently trapped for destination.
func (t *Trap) Count(destination core.Address) int {
	return len(t.byDst[destination])
}

// Drain empties the trap entirely and returns every packet still held,
// grouped in no particular cross-destination order but FIFO within each
// destination — used during teardown so no packet remains trapped past
// shutdown.
func (t *Trap) Drain() []*packet.Packet {
	var all []*packet.Packet
	for dst, pending := range t.byDst {
		all = append(all, pending...)
		delete(t.byDst, dst)
	}
	return all
}
