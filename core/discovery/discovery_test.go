package discovery

import (
	"testing"
	"time"

	"github.com/ara-mesh/ara-go/core"
	"github.com/ara-mesh/ara-go/core/clock"
	"github.com/ara-mesh/ara-go/core/dedupe"
	"github.com/ara-mesh/ara-go/core/iface"
	"github.com/ara-mesh/ara-go/core/packet"
)

func addr(b byte) core.Address {
	var a core.Address
	a[0] = b
	return a
}

type fakeInterface struct {
	local     core.Address
	broadcast []*packet.Packet
}

func (f *fakeInterface) Send(*packet.Packet, core.Address) error { return nil }
func (f *fakeInterface) Broadcast(pkt *packet.Packet) error {
	f.broadcast = append(f.broadcast, pkt)
	return nil
}
func (f *fakeInterface) LocalAddress() core.Address { return f.local }

type fakeTrap struct {
	removed    map[core.Address][]*packet.Packet
	releasable map[core.Address][]*packet.Packet
}

func newFakeTrap() *fakeTrap {
	return &fakeTrap{removed: map[core.Address][]*packet.Packet{}, releasable: map[core.Address][]*packet.Packet{}}
}

func (t *fakeTrap) RemoveFor(destination core.Address) []*packet.Packet {
	return t.removed[destination]
}

func (t *fakeTrap) UntrapDeliverable(destination core.Address) []*packet.Packet {
	return t.releasable[destination]
}

type fakeHost struct {
	interfaces     []iface.NetworkInterface
	notDeliverable []*packet.Packet
	sent           []*packet.Packet
	factory        *packet.DefaultFactory
}

func (h *fakeHost) Interfaces() []iface.NetworkInterface { return h.interfaces }
func (h *fakeHost) PacketNotDeliverable(pkt *packet.Packet) {
	h.notDeliverable = append(h.notDeliverable, pkt)
}
func (h *fakeHost) SendPacket(pkt *packet.Packet) { h.sent = append(h.sent, pkt) }
func (h *fakeHost) MakeFANT(destination core.Address, ttl uint8) *packet.Packet {
	return h.factory.MakeFANT(destination, ttl)
}

func newHarness() (*Driver, *clock.Manual, *fakeHost, *fakeTrap, *fakeInterface) {
	clk := clock.NewManual()
	i1 := &fakeInterface{local: addr(1)}
	host := &fakeHost{interfaces: []iface.NetworkInterface{i1}, factory: packet.NewDefaultFactory(addr(1))}
	trap := newFakeTrap()
	filter := dedupe.New()

	cfg := Config{
		MaxRetries:            2,
		RouteDiscoveryTimeout: 100 * time.Millisecond,
		PacketDeliveryDelay:   10 * time.Millisecond,
		InitialFANTTTL:        32,
	}
	d := New(cfg, clk, filter, trap, host)
	return d, clk, host, trap, i1
}

func TestStartDiscoveryBroadcastsFANTAndMarksDiscovering(t *testing.T) {
	d, _, _, _, i1 := newHarness()
	dst := addr(9)
	original := &packet.Packet{Source: addr(1), Destination: dst, Type: packet.DATA}

	d.StartDiscovery(original)

	if !d.IsDiscovering(dst) {
		t.Error("destination should be marked as discovering")
	}
	if len(i1.broadcast) != 1 || i1.broadcast[0].Type != packet.FANT {
		t.Fatalf("expected one FANT broadcast, got %+v", i1.broadcast)
	}
}

func TestDiscoveryTimeoutRetriesThenExhausts(t *testing.T) {
	d, clk, host, trap, i1 := newHarness()
	dst := addr(9)
	original := &packet.Packet{Source: addr(1), Destination: dst, Type: packet.DATA}
	trap.removed[dst] = []*packet.Packet{original}

	d.StartDiscovery(original)
	if len(i1.broadcast) != 1 {
		t.Fatalf("expected 1 FANT after start, got %d", len(i1.broadcast))
	}

	// Retry 1
	clk.Advance(100 * time.Millisecond)
	if !d.IsDiscovering(dst) {
		t.Fatal("should still be discovering after first retry")
	}
	if len(i1.broadcast) != 2 {
		t.Fatalf("expected 2 FANTs after first retry, got %d", len(i1.broadcast))
	}

	// Retry 2
	clk.Advance(100 * time.Millisecond)
	if !d.IsDiscovering(dst) {
		t.Fatal("should still be discovering after second retry")
	}
	if len(i1.broadcast) != 3 {
		t.Fatalf("expected 3 FANTs after second retry, got %d", len(i1.broadcast))
	}

	// Exhaustion
	clk.Advance(100 * time.Millisecond)
	if d.IsDiscovering(dst) {
		t.Fatal("discovery should be abandoned after retries exhausted")
	}
	if len(host.notDeliverable) != 1 || host.notDeliverable[0] != original {
		t.Fatalf("expected original packet reported undeliverable, got %+v", host.notDeliverable)
	}
}

func TestOnFirstBANTEntersDeliveryDelay(t *testing.T) {
	d, clk, host, trap, _ := newHarness()
	dst := addr(9)
	original := &packet.Packet{Source: addr(1), Destination: dst, Type: packet.DATA}
	d.StartDiscovery(original)

	released := &packet.Packet{Source: addr(1), Destination: dst, Type: packet.DATA}
	trap.releasable[dst] = []*packet.Packet{released}

	d.OnFirstBANT(dst)
	if !d.IsDiscovering(dst) {
		t.Fatal("destination should still be 'discovering' (in delivery delay) right after first BANT")
	}

	clk.Advance(10 * time.Millisecond)
	if d.IsDiscovering(dst) {
		t.Error("destination should no longer be discovering once delivery delay elapses")
	}
	if len(host.sent) != 1 || host.sent[0] != released {
		t.Fatalf("expected released packet resubmitted to SendPacket, got %+v", host.sent)
	}
}

func TestSubsequentBANTAfterDiscoveryTimerStoppedIsIgnored(t *testing.T) {
	d, clk, _, trap, _ := newHarness()
	dst := addr(9)
	original := &packet.Packet{Source: addr(1), Destination: dst, Type: packet.DATA}
	d.StartDiscovery(original)
	trap.releasable[dst] = []*packet.Packet{}

	d.OnFirstBANT(dst)
	// Second BANT for the same destination: discovery timer already gone.
	d.OnFirstBANT(dst)

	if clk.PendingCount() != 1 {
		t.Errorf("expected exactly one pending (delivery) timer, got %d", clk.PendingCount())
	}
}

func TestOnFirstBANTWithNoActiveDiscoveryIsNoop(t *testing.T) {
	d, _, _, _, _ := newHarness()
	dst := addr(9)

	d.OnFirstBANT(dst)
	if d.IsDiscovering(dst) {
		t.Error("BANT for a destination with no in-flight discovery must not start one")
	}
}
