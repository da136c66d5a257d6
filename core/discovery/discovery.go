// Package discovery implements the DiscoveryDriver: per-destination route
// discovery timers and retry counters, FANT (re)broadcast, and the
// post-BANT delivery delay that gives trapped packets a brief window
// before they're released onto a freshly discovered route.
package discovery

import (
	"log/slog"
	"time"

	"github.com/ara-mesh/ara-go/core"
	"github.com/ara-mesh/ara-go/core/clock"
	"github.com/ara-mesh/ara-go/core/dedupe"
	"github.com/ara-mesh/ara-go/core/iface"
	"github.com/ara-mesh/ara-go/core/packet"
)

// discoveryState is the per-discovery record kept while a FANT timer is
// running for a destination.
type discoveryState struct {
	destination    core.Address
	retriesUsed    int
	originalPacket *packet.Packet
}

// Host is the subset of the orchestrator the driver calls back into: it
// needs to emit FANTs, report undeliverable packets, and hand released
// packets back into the send path.
type Host interface {
	Interfaces() []iface.NetworkInterface
	PacketNotDeliverable(pkt *packet.Packet)
	SendPacket(pkt *packet.Packet)
	MakeFANT(destination core.Address, ttl uint8) *packet.Packet
}

// TrapSource is the subset of core/trap.Trap the driver needs.
type TrapSource interface {
	RemoveFor(destination core.Address) []*packet.Packet
	UntrapDeliverable(destination core.Address) []*packet.Packet
}

// Config controls discovery timing and retry limits.
type Config struct {
	// MaxRetries is the number of additional FANT rounds attempted after
	// the first, before giving up. Default 2.
	MaxRetries int
	// RouteDiscoveryTimeout is how long a FANT round waits for a BANT
	// before retrying or giving up. Default 1000ms.
	RouteDiscoveryTimeout time.Duration
	// PacketDeliveryDelay is how long the driver waits after the first
	// BANT before releasing trapped packets, to let a few more BANTs (and
	// thus alternative routes) arrive. Default 5ms.
	PacketDeliveryDelay time.Duration
	// InitialFANTTTL is the TTL stamped on FANTs the driver originates.
	InitialFANTTTL uint8
	Logger         *slog.Logger
}

func (c Config) withDefaults() Config {
	if c.MaxRetries == 0 {
		c.MaxRetries = 2
	}
	if c.RouteDiscoveryTimeout == 0 {
		c.RouteDiscoveryTimeout = 1000 * time.Millisecond
	}
	if c.PacketDeliveryDelay == 0 {
		c.PacketDeliveryDelay = 5 * time.Millisecond
	}
	if c.InitialFANTTTL == 0 {
		c.InitialFANTTTL = 32
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// Driver is the DiscoveryDriver.
type Driver struct {
	cfg     Config
	log     *slog.Logger
	clk     clock.Clock
	filter  *dedupe.Filter
	trap    TrapSource
	host    Host

	discoveryTimers map[clock.Timer]*discoveryState
	deliveryTimers  map[clock.Timer]core.Address
	activeDiscovery map[core.Address]clock.Timer
}

// New creates a Driver. filter is the DuplicateFilter whose known-hop
// memory the driver clears on (re)start of discovery; trap and host are the
// orchestrator's packet trap and callback surface.
func New(cfg Config, clk clock.Clock, filter *dedupe.Filter, trap TrapSource, host Host) *Driver {
	cfg = cfg.withDefaults()
	return &Driver{
		cfg:             cfg,
		log:             cfg.Logger.WithGroup("discovery"),
		clk:             clk,
		filter:          filter,
		trap:            trap,
		host:            host,
		discoveryTimers: make(map[clock.Timer]*discoveryState),
		deliveryTimers:  make(map[clock.Timer]core.Address),
		activeDiscovery: make(map[core.Address]clock.Timer),
	}
}

// IsDiscovering reports whether destination has a live discovery timer or a
// live delivery-delay timer.
func (d *Driver) IsDiscovering(destination core.Address) bool {
	_, active := d.activeDiscovery[destination]
	return active
}

// StartDiscovery begins a fresh route discovery round for
// originalPacket.Destination: known intermediate hops for the destination
// are forgotten, a discovery timer is armed, and a FANT is broadcast on
// every interface.
func (d *Driver) StartDiscovery(originalPacket *packet.Packet) {
	destination := originalPacket.Destination
	d.filter.ForgetHops(destination)

	timer := d.clk.NewTimer()
	timer.OnExpire(d.onDiscoveryTimeout)
	timer.Run(d.cfg.RouteDiscoveryTimeout)

	d.discoveryTimers[timer] = &discoveryState{
		destination:    destination,
		retriesUsed:    0,
		originalPacket: originalPacket,
	}
	d.activeDiscovery[destination] = timer

	d.broadcastFANTs(destination)
	d.log.Debug("started route discovery", "destination", destination)
}

func (d *Driver) broadcastFANTs(destination core.Address) {
	for _, intf := range d.host.Interfaces() {
		fant := d.host.MakeFANT(destination, d.cfg.InitialFANTTTL)
		fant.Source = intf.LocalAddress()
		fant.Sender = intf.LocalAddress()
		fant.PreviousHop = intf.LocalAddress()
		if err := intf.Broadcast(fant); err != nil {
			d.log.Warn("FANT broadcast failed", "destination", destination, "error", err)
		}
	}
}

// onDiscoveryTimeout is the listener registered on every discovery timer.
// An unknown timer (already canceled and removed) is a no-op.
func (d *Driver) onDiscoveryTimeout(timer clock.Timer) {
	state, ok := d.discoveryTimers[timer]
	if !ok {
		return
	}

	if state.retriesUsed < d.cfg.MaxRetries {
		state.retriesUsed++
		d.filter.ForgetHops(state.destination)
		d.broadcastFANTs(state.destination)
		timer.Run(d.cfg.RouteDiscoveryTimeout)
		d.log.Debug("retrying route discovery", "destination", state.destination, "retry", state.retriesUsed)
		return
	}

	delete(d.discoveryTimers, timer)
	delete(d.activeDiscovery, state.destination)
	d.filter.ForgetHops(state.destination)

	dropped := d.trap.RemoveFor(state.destination)
	for _, pkt := range dropped {
		d.host.PacketNotDeliverable(pkt)
	}
	d.log.Info("route discovery exhausted", "destination", state.destination, "dropped", len(dropped))
}

// OnFirstBANT is invoked by the orchestrator on the first BANT that reaches
// this node for an in-flight discovery, and only when the trap holds at
// least one packet for destination. It cancels the discovery timer and
// arms a delivery-delay timer under the same destination key.
func (d *Driver) OnFirstBANT(destination core.Address) {
	timer, active := d.activeDiscovery[destination]
	if !active {
		return
	}
	if _, isDiscoveryTimer := d.discoveryTimers[timer]; !isDiscoveryTimer {
		// Already past the discovery phase for this destination: a
		// subsequent BANT for a destination whose discovery timer has
		// already stopped. Recognized as a duplicate; does not restart
		// discovery nor extend delivery delay.
		d.log.Debug("duplicate BANT ignored", "destination", destination)
		return
	}

	timer.Interrupt()
	delete(d.discoveryTimers, timer)

	delivery := d.clk.NewTimer()
	delivery.OnExpire(d.onDeliveryTimeout)
	delivery.Run(d.cfg.PacketDeliveryDelay)

	d.deliveryTimers[delivery] = destination
	d.activeDiscovery[destination] = delivery
	d.log.Debug("first BANT received, entering delivery delay", "destination", destination)
}

// onDeliveryTimeout is the listener registered on every delivery timer.
func (d *Driver) onDeliveryTimeout(timer clock.Timer) {
	destination, ok := d.deliveryTimers[timer]
	if !ok {
		return
	}
	delete(d.deliveryTimers, timer)
	delete(d.activeDiscovery, destination)

	released := d.trap.UntrapDeliverable(destination)
	for _, pkt := range released {
		d.host.SendPacket(pkt)
	}
	d.log.Debug("delivery delay elapsed", "destination", destination, "released", len(released))
}
