// Package packet defines the ARA packet model and the factory the routing
// core uses to construct control packets (FANT, BANT, DUPLICATE_WARNING,
// ROUTE_FAILURE) and clones of packets it forwards.
package packet

import (
	"fmt"

	"github.com/ara-mesh/ara-go/core"
)

// Type discriminates the fixed set of ARA packet kinds. A tagged field is
// used instead of separate Go types so the routing core can switch over a
// single value and so a packet can be cloned and rewritten generically
// regardless of kind.
type Type int

const (
	// DATA carries an application payload toward destination.
	DATA Type = iota
	// FANT (Forward ANT) is broadcast by a source to discover a route.
	FANT
	// BANT (Backward ANT) is emitted by a destination in reply to a FANT.
	BANT
	// DuplicateWarning is sent back to an upstream sender when a DATA
	// packet already seen arrives again.
	DuplicateWarning
	// RouteFailure is advertised when routes to a destination collapse.
	RouteFailure
)

// String renders the type the way it appears in spec prose and logs.
func (t Type) String() string {
	switch t {
	case DATA:
		return "DATA"
	case FANT:
		return "FANT"
	case BANT:
		return "BANT"
	case DuplicateWarning:
		return "DUPLICATE_WARNING"
	case RouteFailure:
		return "ROUTE_FAILURE"
	default:
		return fmt.Sprintf("Type(%d)", int(t))
	}
}

// Packet is an ARA protocol message. Source, Destination, Type, and
// SequenceNumber are set at construction and never change afterward.
// Sender, PreviousHop, and TTL are mutated by every node that forwards the
// packet along its path.
type Packet struct {
	Source         core.Address
	Destination    core.Address
	Type           Type
	SequenceNumber uint32

	Sender      core.Address
	PreviousHop core.Address
	TTL         uint8

	// Payload is opaque to the routing core; only meaningful for DATA.
	Payload []byte
}

// Clone returns a copy of p with Sender and PreviousHop rewritten for
// transmission on a specific interface. Immutable fields (Source,
// Destination, Type, SequenceNumber) and TTL are preserved; Payload is
// copied so the clone does not alias the original's backing array.
func (p *Packet) Clone(sender, previousHop core.Address) *Packet {
	clone := *p
	clone.Sender = sender
	clone.PreviousHop = previousHop
	if p.Payload != nil {
		clone.Payload = make([]byte, len(p.Payload))
		copy(clone.Payload, p.Payload)
	}
	return &clone
}

// Factory constructs the control packets the routing core needs. A node's
// sequence-number counter lives behind the factory so every packet it
// originates — FANT, BANT, DUPLICATE_WARNING, ROUTE_FAILURE — draws from a
// single monotonically increasing source.
type Factory interface {
	// MakeFANT builds a Forward ANT originated by this node for
	// destination, with the given initial TTL.
	MakeFANT(destination core.Address, ttl uint8) *Packet
	// MakeBANT builds a Backward ANT in reply to a received FANT. The
	// BANT's source is this node (the FANT's destination); its destination
	// is the FANT's source.
	MakeBANT(fant *Packet, ttl uint8) *Packet
	// MakeDuplicateWarning builds a DUPLICATE_WARNING reporting that
	// duplicate (a DATA packet already seen) arrived again. Its Destination
	// carries duplicate's original destination, not a routable address —
	// the caller sends it one-hop, directly to duplicate.Sender, so the
	// receiving node can delete the (destination, sender, interface)
	// routing entry that produced the loop.
	MakeDuplicateWarning(duplicate *Packet) *Packet
	// MakeRouteFailure builds a ROUTE_FAILURE for destination.
	MakeRouteFailure(destination core.Address, ttl uint8) *Packet
}

// DefaultFactory is the reference Factory implementation: it owns the
// node's local address and its per-node sequence-number counter.
type DefaultFactory struct {
	localAddress core.Address
	nextSeq      uint32
}

// NewDefaultFactory creates a Factory for a node at localAddress. Sequence
// numbers start at 1; 0 is reserved as an unset-value sentinel.
func NewDefaultFactory(localAddress core.Address) *DefaultFactory {
	return &DefaultFactory{localAddress: localAddress, nextSeq: 1}
}

func (f *DefaultFactory) nextSequenceNumber() uint32 {
	seq := f.nextSeq
	f.nextSeq++
	return seq
}

// MakeFANT builds a Forward ANT originated by this node.
func (f *DefaultFactory) MakeFANT(destination core.Address, ttl uint8) *Packet {
	return &Packet{
		Source:         f.localAddress,
		Destination:    destination,
		Type:           FANT,
		SequenceNumber: f.nextSequenceNumber(),
		Sender:         f.localAddress,
		PreviousHop:    f.localAddress,
		TTL:            ttl,
	}
}

// MakeBANT builds a Backward ANT replying to fant. Per spec, BANTs are
// built "from a FANT": source/destination invert, and a fresh sequence
// number is drawn from this node's counter.
func (f *DefaultFactory) MakeBANT(fant *Packet, ttl uint8) *Packet {
	return &Packet{
		Source:         f.localAddress,
		Destination:    fant.Source,
		Type:           BANT,
		SequenceNumber: f.nextSequenceNumber(),
		Sender:         f.localAddress,
		PreviousHop:    f.localAddress,
		TTL:            ttl,
	}
}

// MakeDuplicateWarning builds a DUPLICATE_WARNING sent back toward the
// sender of a DATA packet this node has already seen.
func (f *DefaultFactory) MakeDuplicateWarning(duplicate *Packet) *Packet {
	return &Packet{
		Source:         f.localAddress,
		Destination:    duplicate.Destination,
		Type:           DuplicateWarning,
		SequenceNumber: f.nextSequenceNumber(),
		Sender:         f.localAddress,
		PreviousHop:    f.localAddress,
		TTL:            1,
	}
}

// MakeRouteFailure builds a ROUTE_FAILURE for destination, originated by
// this node.
func (f *DefaultFactory) MakeRouteFailure(destination core.Address, ttl uint8) *Packet {
	return &Packet{
		Source:         f.localAddress,
		Destination:    destination,
		Type:           RouteFailure,
		SequenceNumber: f.nextSequenceNumber(),
		Sender:         f.localAddress,
		PreviousHop:    f.localAddress,
		TTL:            ttl,
	}
}
