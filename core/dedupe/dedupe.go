// Package dedupe implements the ARA duplicate filter: per-source
// sequence-number memory (has this exact packet been seen before) and
// per-source known-intermediate-hop memory (has this neighbor already
// relayed traffic from this source, so installing a route through it now
// would create a loop).
package dedupe

import (
	"github.com/ara-mesh/ara-go/core"
	"github.com/ara-mesh/ara-go/core/packet"
)

// Filter is the DuplicateFilter. It owns, per source address, the set of
// sequence numbers ever seen from that source and the set of intermediate
// hops (senders and previous-hops) ever observed carrying its traffic.
type Filter struct {
	seen      map[core.Address]map[uint32]struct{}
	knownHops map[core.Address]map[core.Address]struct{}
}

// New creates an empty Filter.
func New() *Filter {
	return &Filter{
		seen:      make(map[core.Address]map[uint32]struct{}),
		knownHops: make(map[core.Address]map[core.Address]struct{}),
	}
}

// HasSeen reports whether pkt.SequenceNumber has already been recorded for
// pkt.Source.
func (f *Filter) HasSeen(pkt *packet.Packet) bool {
	seqs, ok := f.seen[pkt.Source]
	if !ok {
		return false
	}
	_, ok = seqs[pkt.SequenceNumber]
	return ok
}

// Register records pkt as seen: its sequence number is added to
// seen[pkt.Source], and pkt.Sender and pkt.PreviousHop (if different) are
// added to known_hops[pkt.Source].
func (f *Filter) Register(pkt *packet.Packet) {
	seqs, ok := f.seen[pkt.Source]
	if !ok {
		seqs = make(map[uint32]struct{})
		f.seen[pkt.Source] = seqs
	}
	seqs[pkt.SequenceNumber] = struct{}{}

	hops, ok := f.knownHops[pkt.Source]
	if !ok {
		hops = make(map[core.Address]struct{})
		f.knownHops[pkt.Source] = hops
	}
	hops[pkt.Sender] = struct{}{}
	if pkt.PreviousHop != pkt.Sender {
		hops[pkt.PreviousHop] = struct{}{}
	}
}

// ForgetHops empties the known-intermediate-hop set recorded for
// destination. Used when a fresh route discovery starts: stale hop memory
// from a prior discovery round must not suppress routes found this round.
func (f *Filter) ForgetHops(destination core.Address) {
	delete(f.knownHops, destination)
}

// HasPreviousNodeBeenSeen reports whether pkt.Sender or pkt.PreviousHop is
// already a known intermediate hop for pkt.Source.
func (f *Filter) HasPreviousNodeBeenSeen(pkt *packet.Packet) bool {
	hops, ok := f.knownHops[pkt.Source]
	if !ok {
		return false
	}
	if _, ok := hops[pkt.Sender]; ok {
		return true
	}
	_, ok = hops[pkt.PreviousHop]
	return ok
}
