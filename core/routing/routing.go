// Package routing implements the pheromone-weighted routing table at the
// heart of the ARA client: the set of (destination, next hop, interface)
// entries, their φ (pheromone) values, evaporation over time, and the
// policies that decide how φ grows and how a next hop is chosen among
// several candidates.
package routing

import (
	"math"
	"time"

	"github.com/ara-mesh/ara-go/core"
	"github.com/ara-mesh/ara-go/core/iface"
	"github.com/ara-mesh/ara-go/core/packet"
)

// key is the uniqueness key for a routing entry.
type key struct {
	destination core.Address
	nextHop     core.Address
	intf        iface.NetworkInterface
}

// Entry is a single routing-table row: a candidate next hop toward
// destination over interface, weighted by pheromone phi.
type Entry struct {
	Destination core.Address
	NextHop     core.Address
	Interface   iface.NetworkInterface
	Phi         float64
}

// EvaporationPolicy decays pheromone values over elapsed real time.
type EvaporationPolicy interface {
	// Interval is the granularity at which evaporation is applied; elapsed
	// time is only ever advanced by whole intervals.
	Interval() time.Duration
	// Decay returns the new pheromone value after elapsed time has passed,
	// given the current value phi.
	Decay(phi float64, elapsed time.Duration) float64
}

// ExponentialDecay is the reference EvaporationPolicy: phi decays
// geometrically by a factor Q per Interval, snapping to zero once it falls
// below Threshold.
type ExponentialDecay struct {
	IntervalDuration time.Duration
	Q                float64
	Threshold        float64
}

// NewExponentialDecay creates an ExponentialDecay policy. q must be in
// (0, 1); threshold is the value below which phi snaps to zero.
func NewExponentialDecay(interval time.Duration, q, threshold float64) *ExponentialDecay {
	return &ExponentialDecay{IntervalDuration: interval, Q: q, Threshold: threshold}
}

func (p *ExponentialDecay) Interval() time.Duration { return p.IntervalDuration }

func (p *ExponentialDecay) Decay(phi float64, elapsed time.Duration) float64 {
	if p.IntervalDuration <= 0 {
		return phi
	}
	periods := float64(elapsed) / float64(p.IntervalDuration)
	decayed := phi * math.Pow(p.Q, periods)
	if decayed < p.Threshold {
		return 0
	}
	return decayed
}

// PathReinforcementPolicy computes the new pheromone value when a path is
// used successfully.
type PathReinforcementPolicy interface {
	Calculate(current float64) float64
}

// LinearReinforcement is the reference PathReinforcementPolicy: each
// reinforcement adds a fixed Delta.
type LinearReinforcement struct {
	Delta float64
}

// NewLinearReinforcement creates a LinearReinforcement policy with the
// given increment.
func NewLinearReinforcement(delta float64) *LinearReinforcement {
	return &LinearReinforcement{Delta: delta}
}

func (p *LinearReinforcement) Calculate(current float64) float64 {
	return current + p.Delta
}

// ForwardingPolicy selects a next hop among the routing table's candidates
// for a packet.
type ForwardingPolicy interface {
	Choose(pkt *packet.Packet, candidates []Entry) Entry
}

// BestPheromone is the reference ForwardingPolicy: it picks the candidate
// with the highest phi, breaking ties by the candidates' original order
// (the order RoutingTable returns them in, which callers that need
// determinism can pre-sort).
type BestPheromone struct{}

func (BestPheromone) Choose(_ *packet.Packet, candidates []Entry) Entry {
	best := candidates[0]
	for _, c := range candidates[1:] {
		if c.Phi > best.Phi {
			best = c
		}
	}
	return best
}

// Table is the pheromone routing table. It is not safe for concurrent use:
// Table does no locking, and a single owner calls its methods sequentially
// from its event handlers, matching the core's cooperative scheduling model.
type Table struct {
	evaporation   EvaporationPolicy
	reinforcement PathReinforcementPolicy

	entries map[key]*Entry
	// order preserves insertion order per destination, for callers (like
	// BestPheromone tie-breaking) that want it.
	order []key

	lastEvaporation time.Duration
	nowFn           func() time.Duration
}

// NewTable creates an empty Table. now is called by TriggerEvaporation to
// learn elapsed time; pass a Clock's Now method.
func NewTable(evaporation EvaporationPolicy, reinforcement PathReinforcementPolicy, now func() time.Duration) *Table {
	return &Table{
		evaporation:   evaporation,
		reinforcement: reinforcement,
		entries:       make(map[key]*Entry),
		nowFn:         now,
	}
}

// Update creates or overwrites the entry's pheromone value. Not additive.
func (t *Table) Update(destination, nextHop core.Address, intf iface.NetworkInterface, phi float64) {
	k := key{destination, nextHop, intf}
	if _, exists := t.entries[k]; !exists {
		t.order = append(t.order, k)
	}
	t.entries[k] = &Entry{Destination: destination, NextHop: nextHop, Interface: intf, Phi: phi}
}

// IsNewRoute reports whether no entry exists for the given key.
func (t *Table) IsNewRoute(destination, nextHop core.Address, intf iface.NetworkInterface) bool {
	_, exists := t.entries[key{destination, nextHop, intf}]
	return !exists
}

// Exists reports whether an entry exists for the given key.
func (t *Table) Exists(destination, nextHop core.Address, intf iface.NetworkInterface) bool {
	_, exists := t.entries[key{destination, nextHop, intf}]
	return exists
}

// RemoveEntry deletes the entry for the given key, if any.
func (t *Table) RemoveEntry(destination, nextHop core.Address, intf iface.NetworkInterface) {
	k := key{destination, nextHop, intf}
	if _, exists := t.entries[k]; !exists {
		return
	}
	delete(t.entries, k)
	for i, o := range t.order {
		if o == k {
			t.order = append(t.order[:i], t.order[i+1:]...)
			break
		}
	}
}

// Pheromone returns the current phi for the given key, or 0 if absent.
func (t *Table) Pheromone(destination, nextHop core.Address, intf iface.NetworkInterface) float64 {
	e, exists := t.entries[key{destination, nextHop, intf}]
	if !exists {
		return 0
	}
	return e.Phi
}

// Reinforce applies the PathReinforcementPolicy to the entry for the given
// key and stores the result. It is a no-op if the entry does not exist.
func (t *Table) Reinforce(destination, nextHop core.Address, intf iface.NetworkInterface) float64 {
	k := key{destination, nextHop, intf}
	e, exists := t.entries[k]
	if !exists {
		return 0
	}
	e.Phi = t.reinforcement.Calculate(e.Phi)
	return e.Phi
}

// PossibleNextHops returns every entry for pkt.Destination whose next hop
// is neither pkt.Source nor pkt.Sender — loop avoidance per the routing
// table's core invariant. Order follows insertion order.
func (t *Table) PossibleNextHops(pkt *packet.Packet) []Entry {
	var result []Entry
	for _, k := range t.order {
		e, exists := t.entries[k]
		if !exists || e.Destination != pkt.Destination {
			continue
		}
		if e.NextHop == pkt.Sender || e.NextHop == pkt.Source {
			continue
		}
		result = append(result, *e)
	}
	return result
}

// IsDeliverable reports whether PossibleNextHops(pkt) is non-empty.
func (t *Table) IsDeliverable(pkt *packet.Packet) bool {
	return len(t.PossibleNextHops(pkt)) > 0
}

// RoutesLeadingOver returns every entry whose next hop is hop.
func (t *Table) RoutesLeadingOver(hop core.Address) []Entry {
	var result []Entry
	for _, k := range t.order {
		e, exists := t.entries[k]
		if exists && e.NextHop == hop {
			result = append(result, *e)
		}
	}
	return result
}

// EntriesFor returns every entry for destination, regardless of sender or
// source exclusions — used by the route-deletion cascade, which reasons
// about "any remaining next hop" rather than a specific packet's
// loop-avoidance view.
func (t *Table) EntriesFor(destination core.Address) []Entry {
	var result []Entry
	for _, k := range t.order {
		e, exists := t.entries[k]
		if exists && e.Destination == destination {
			result = append(result, *e)
		}
	}
	return result
}

// TriggerEvaporation applies the EvaporationPolicy based on elapsed real
// time since it was last applied. Idempotent: two calls with no time
// advancing in between leave every phi unchanged, because last-evaporation
// time only ever advances by whole intervals.
func (t *Table) TriggerEvaporation() {
	interval := t.evaporation.Interval()
	if interval <= 0 {
		return
	}
	now := t.nowFn()
	elapsed := now - t.lastEvaporation
	periods := int64(elapsed / interval)
	if periods <= 0 {
		return
	}
	applied := time.Duration(periods) * interval
	t.lastEvaporation += applied

	var dead []key
	for k, e := range t.entries {
		e.Phi = t.evaporation.Decay(e.Phi, applied)
		if e.Phi <= 0 {
			dead = append(dead, k)
		}
	}
	for _, k := range dead {
		delete(t.entries, k)
		for i, o := range t.order {
			if o == k {
				t.order = append(t.order[:i], t.order[i+1:]...)
				break
			}
		}
	}
}
