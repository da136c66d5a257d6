// Package iface defines the external collaborators the routing core talks
// to: network interfaces it sends packets over, and the host application it
// delivers packets to (or reports as undeliverable).
package iface

import (
	"github.com/ara-mesh/ara-go/core"
	"github.com/ara-mesh/ara-go/core/packet"
)

// NetworkInterface is a single link the routing core can send packets over.
// Concrete implementations live under transport/ (MQTT, serial, ...).
type NetworkInterface interface {
	// Send transmits pkt to nextHop over this interface.
	Send(pkt *packet.Packet, nextHop core.Address) error
	// Broadcast transmits pkt to every reachable neighbor on this
	// interface.
	Broadcast(pkt *packet.Packet) error
	// LocalAddress returns this node's address as seen on this interface.
	LocalAddress() core.Address
}

// Host is the application the routing core delivers packets to.
type Host interface {
	// DeliverToSystem hands a DATA packet that reached its destination up
	// to the application layer.
	DeliverToSystem(pkt *packet.Packet)
	// PacketNotDeliverable is invoked when route discovery exhausts its
	// retries without ever producing a route, or a trapped packet is
	// dropped because discovery can no longer succeed.
	PacketNotDeliverable(pkt *packet.Packet)
}
