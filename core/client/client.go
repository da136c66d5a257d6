// Package client implements the ARAClient orchestrator: the event handler a
// host wires to its network interfaces and its own packet submissions. It
// receives packets, classifies them by type, applies routing-table
// updates, and drives the discovery, trap, and duplicate-filter
// collaborators that make up the rest of the routing core.
package client

import (
	"log/slog"
	"sync"

	"github.com/ara-mesh/ara-go/core"
	"github.com/ara-mesh/ara-go/core/clock"
	"github.com/ara-mesh/ara-go/core/dedupe"
	"github.com/ara-mesh/ara-go/core/discovery"
	"github.com/ara-mesh/ara-go/core/iface"
	"github.com/ara-mesh/ara-go/core/neighbor"
	"github.com/ara-mesh/ara-go/core/packet"
	"github.com/ara-mesh/ara-go/core/routing"
	"github.com/ara-mesh/ara-go/core/trap"
)

// Config controls the policies and constants the client is built from. The
// three policy fields are injected behavior objects (routing.EvaporationPolicy,
// routing.PathReinforcementPolicy, routing.ForwardingPolicy); reference
// implementations live in package routing.
type Config struct {
	EvaporationPolicy   routing.EvaporationPolicy
	ReinforcementPolicy routing.PathReinforcementPolicy
	ForwardingPolicy    routing.ForwardingPolicy

	// InitialPheromoneValue is the additive constant in the initial
	// pheromone formula phi_init = Alpha*ttl + InitialPheromoneValue.
	// Must be > 0.
	InitialPheromoneValue float64
	// InitialPheromoneAlpha is the ttl-weighting constant Alpha above.
	// Defaults to 1, matching the reference client.
	InitialPheromoneAlpha float64

	// ControlTTL is the TTL stamped on BANT/ROUTE_FAILURE packets this
	// node originates. FANTs take their TTL from Discovery.InitialFANTTTL.
	ControlTTL uint8

	Discovery discovery.Config
	Neighbor  neighbor.Config
	Logger    *slog.Logger
}

func (c Config) withDefaults() Config {
	if c.EvaporationPolicy == nil {
		c.EvaporationPolicy = routing.NewExponentialDecay(0, 0, 0)
	}
	if c.ReinforcementPolicy == nil {
		c.ReinforcementPolicy = routing.NewLinearReinforcement(1)
	}
	if c.ForwardingPolicy == nil {
		c.ForwardingPolicy = routing.BestPheromone{}
	}
	if c.InitialPheromoneValue == 0 {
		c.InitialPheromoneValue = 1
	}
	if c.InitialPheromoneAlpha == 0 {
		c.InitialPheromoneAlpha = 1
	}
	if c.ControlTTL == 0 {
		c.ControlTTL = 32
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// Client is the ARAClient orchestrator. It exclusively owns the routing
// table, packet trap, discovery driver, and duplicate filter for its
// lifetime.
type Client struct {
	cfg Config
	log *slog.Logger

	factory *packet.DefaultFactory
	table   *routing.Table
	trap    *trap.Trap
	filter  *dedupe.Filter
	driver  *discovery.Driver
	monitor *neighbor.Monitor
	host    iface.Host

	mu         sync.RWMutex
	interfaces []iface.NetworkInterface
}

// New creates a Client. localAddress seeds the node's sequence-number
// factory; host is where DATA packets destined for this node and
// permanently-undeliverable packets get reported.
func New(cfg Config, clk clock.Clock, localAddress core.Address, host iface.Host) *Client {
	cfg = cfg.withDefaults()

	c := &Client{
		cfg:     cfg,
		log:     cfg.Logger.WithGroup("client"),
		factory: packet.NewDefaultFactory(localAddress),
		filter:  dedupe.New(),
		host:    host,
	}
	c.table = routing.NewTable(cfg.EvaporationPolicy, cfg.ReinforcementPolicy, clk.Now)
	c.trap = trap.New(c.table)
	c.driver = discovery.New(cfg.Discovery, clk, c.filter, c.trap, c)
	c.monitor = neighbor.New(cfg.Neighbor, clk, c.OnNeighborStale)
	c.monitor.Start()
	return c
}

// AddInterface registers a network interface the client may send and
// broadcast over.
func (c *Client) AddInterface(intf iface.NetworkInterface) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.interfaces = append(c.interfaces, intf)
}

// Interfaces returns the currently registered interfaces. Satisfies
// discovery.Host.
func (c *Client) Interfaces() []iface.NetworkInterface {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]iface.NetworkInterface, len(c.interfaces))
	copy(out, c.interfaces)
	return out
}

// PacketNotDeliverable satisfies discovery.Host by forwarding to the host.
func (c *Client) PacketNotDeliverable(pkt *packet.Packet) {
	c.host.PacketNotDeliverable(pkt)
}

// SendPacket satisfies discovery.Host: it is how released/re-routed packets
// re-enter the send path.
func (c *Client) SendPacket(pkt *packet.Packet) {
	c.sendPacket(pkt)
}

// MakeFANT satisfies discovery.Host.
func (c *Client) MakeFANT(destination core.Address, ttl uint8) *packet.Packet {
	return c.factory.MakeFANT(destination, ttl)
}

func (c *Client) isLocalAddress(addr core.Address) bool {
	for _, intf := range c.Interfaces() {
		if intf.LocalAddress() == addr {
			return true
		}
	}
	return false
}

// Send submits a host-originated packet into the routing core. This is the
// public entry point corresponding to the host-originated-packet event.
func (c *Client) Send(pkt *packet.Packet) {
	c.sendPacket(pkt)
}

// sendPacket implements send_packet.
func (c *Client) sendPacket(pkt *packet.Packet) {
	c.table.TriggerEvaporation()

	if pkt.TTL == 0 {
		c.log.Warn("dropping packet with exhausted TTL", "destination", pkt.Destination)
		return
	}

	d := pkt.Destination

	if c.driver.IsDiscovering(d) {
		c.trap.TrapPacket(pkt)
		return
	}

	if c.table.IsDeliverable(pkt) {
		candidates := c.table.PossibleNextHops(pkt)
		hop := c.cfg.ForwardingPolicy.Choose(pkt, candidates)

		pkt.PreviousHop = pkt.Sender
		pkt.Sender = hop.Interface.LocalAddress()
		c.table.Reinforce(d, hop.NextHop, hop.Interface)

		if err := hop.Interface.Send(pkt, hop.NextHop); err != nil {
			c.log.Warn("send failed", "destination", d, "next_hop", hop.NextHop, "error", err)
		}
		return
	}

	if c.isLocalAddress(pkt.Source) {
		c.trap.TrapPacket(pkt)
		c.driver.StartDiscovery(pkt)
		return
	}

	c.log.Debug("no route at non-source, refusing discovery", "destination", d)
	c.broadcastRouteFailure(d)
}

// Receive implements receive_packet: the interface-delivered-inbound-packet
// event.
func (c *Client) Receive(pkt *packet.Packet, intf iface.NetworkInterface) {
	c.monitor.Record(pkt.Sender, intf)
	c.updateRoutingFrom(pkt, intf)

	if pkt.TTL > 0 {
		pkt.TTL--
	} else {
		c.log.Error("received packet with zero TTL before decrement", "source", pkt.Source, "type", pkt.Type)
	}

	if c.filter.HasSeen(pkt) {
		switch {
		case pkt.Type == packet.DATA:
			warning := c.factory.MakeDuplicateWarning(pkt)
			warning.Source = intf.LocalAddress()
			warning.Sender = intf.LocalAddress()
			warning.PreviousHop = intf.LocalAddress()
			if err := intf.Send(warning, pkt.Sender); err != nil {
				c.log.Warn("duplicate warning send failed", "error", err)
			}
		case pkt.Type == packet.BANT && c.isLocalAddress(pkt.Destination):
			c.log.Debug("duplicate BANT directed to this node", "source", pkt.Source)
		default:
			c.log.Debug("dropping duplicate packet", "type", pkt.Type, "source", pkt.Source)
		}
		return
	}

	c.filter.Register(pkt)

	switch pkt.Type {
	case packet.DATA:
		c.handleData(pkt)
	case packet.FANT, packet.BANT:
		c.handleAnt(pkt, intf)
	case packet.DuplicateWarning:
		c.deleteRoute(pkt.Destination, pkt.Sender, intf)
	case packet.RouteFailure:
		if c.table.Exists(pkt.Destination, pkt.Sender, intf) {
			c.table.RemoveEntry(pkt.Destination, pkt.Sender, intf)
		}
	default:
		c.log.Error("unknown packet type", "type", pkt.Type)
	}
}

func (c *Client) handleData(pkt *packet.Packet) {
	if c.isLocalAddress(pkt.Destination) {
		c.host.DeliverToSystem(pkt)
		return
	}
	c.sendPacket(pkt)
}

func (c *Client) handleAnt(pkt *packet.Packet, intf iface.NetworkInterface) {
	if c.isLocalAddress(pkt.Sender) {
		// Our own broadcast reflected back; ignore.
		return
	}

	if c.isLocalAddress(pkt.Destination) {
		if pkt.Type == packet.FANT {
			c.broadcastBANT(pkt)
			return
		}
		// BANT directed to this node: first BANT for an in-flight
		// discovery is only actionable while the trap still holds
		// packets for it.
		if c.trap.Count(pkt.Source) > 0 {
			c.driver.OnFirstBANT(pkt.Source)
		}
		return
	}

	if pkt.TTL == 0 {
		c.log.Debug("dropping zero-TTL ANT not directed to this node", "type", pkt.Type)
		return
	}
	for _, out := range c.Interfaces() {
		clone := pkt.Clone(out.LocalAddress(), intf.LocalAddress())
		if err := out.Broadcast(clone); err != nil {
			c.log.Warn("ANT rebroadcast failed", "type", pkt.Type, "error", err)
		}
	}
}

func (c *Client) broadcastBANT(fant *packet.Packet) {
	for _, intf := range c.Interfaces() {
		bant := c.factory.MakeBANT(fant, c.cfg.ControlTTL)
		bant.Source = intf.LocalAddress()
		bant.Sender = intf.LocalAddress()
		bant.PreviousHop = intf.LocalAddress()
		if err := intf.Broadcast(bant); err != nil {
			c.log.Warn("BANT broadcast failed", "error", err)
		}
	}
}

func (c *Client) broadcastRouteFailure(destination core.Address) {
	for _, intf := range c.Interfaces() {
		rf := c.factory.MakeRouteFailure(destination, c.cfg.ControlTTL)
		rf.Source = intf.LocalAddress()
		rf.Sender = intf.LocalAddress()
		rf.PreviousHop = intf.LocalAddress()
		if err := intf.Broadcast(rf); err != nil {
			c.log.Warn("ROUTE_FAILURE broadcast failed", "destination", destination, "error", err)
		}
	}
}

// updateRoutingFrom implements update_routing_from.
func (c *Client) updateRoutingFrom(pkt *packet.Packet, intf iface.NetworkInterface) {
	if c.isLocalAddress(pkt.PreviousHop) {
		return
	}
	c.table.TriggerEvaporation()

	s, h := pkt.Source, pkt.Sender
	if c.table.IsNewRoute(s, h, intf) && !c.filter.HasPreviousNodeBeenSeen(pkt) {
		phiInit := c.cfg.InitialPheromoneAlpha*float64(pkt.TTL) + c.cfg.InitialPheromoneValue
		c.table.Update(s, h, intf, phiInit)
	} else if c.table.Exists(s, h, intf) {
		c.table.Reinforce(s, h, intf)
	}
}

// deleteRoute implements the route-deletion-and-failure-cascade operation.
func (c *Client) deleteRoute(destination, nextHop core.Address, intf iface.NetworkInterface) {
	if !c.table.Exists(destination, nextHop, intf) {
		return
	}
	c.table.RemoveEntry(destination, nextHop, intf)

	remaining := c.table.EntriesFor(destination)
	switch len(remaining) {
	case 1:
		last := remaining[0]
		rf := c.factory.MakeRouteFailure(destination, c.cfg.ControlTTL)
		rf.Source = last.Interface.LocalAddress()
		rf.Sender = last.Interface.LocalAddress()
		rf.PreviousHop = last.Interface.LocalAddress()
		if err := last.Interface.Send(rf, last.NextHop); err != nil {
			c.log.Warn("ROUTE_FAILURE unicast failed", "destination", destination, "error", err)
		}
	case 0:
		c.broadcastRouteFailure(destination)
	}
}

// OnBrokenLink implements the broken-link callback: every route over
// brokenHop is deleted, and pkt (the packet that triggered the detection)
// is re-routed, re-discovered, or dropped.
func (c *Client) OnBrokenLink(pkt *packet.Packet, brokenHop core.Address, intf iface.NetworkInterface) {
	for _, route := range c.table.RoutesLeadingOver(brokenHop) {
		c.deleteRoute(route.Destination, brokenHop, route.Interface)
	}

	if c.table.IsDeliverable(pkt) {
		c.sendPacket(pkt)
		return
	}
	if c.isLocalAddress(pkt.Source) {
		c.trap.TrapPacket(pkt)
		if !c.driver.IsDiscovering(pkt.Destination) {
			c.driver.StartDiscovery(pkt)
		}
		return
	}
	c.log.Debug("dropping packet after broken link with no local source", "destination", pkt.Destination)
}

// OnNeighborStale handles a neighbor-liveness timeout reported by a
// core/neighbor.Monitor: every route leading over the silent neighbor is
// deleted via the same cascade OnBrokenLink uses, but with no pending
// packet to re-route — the monitor detects absence of traffic, not a
// specific send failure.
func (c *Client) OnNeighborStale(neighborAddr core.Address, intf iface.NetworkInterface) {
	for _, route := range c.table.RoutesLeadingOver(neighborAddr) {
		if route.Interface != intf {
			continue
		}
		c.deleteRoute(route.Destination, neighborAddr, route.Interface)
	}
}

// Shutdown stops the neighbor monitor and drains every trapped packet via
// PacketNotDeliverable, ensuring no packet remains trapped past teardown.
func (c *Client) Shutdown() {
	c.monitor.Stop()
	for _, pkt := range c.trap.Drain() {
		c.host.PacketNotDeliverable(pkt)
	}
}
