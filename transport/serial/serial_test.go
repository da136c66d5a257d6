package serial

import (
	"bytes"
	"context"
	"crypto/sha256"
	"sync"
	"testing"

	"github.com/ara-mesh/ara-go/core"
	"github.com/ara-mesh/ara-go/core/identity"
	"github.com/ara-mesh/ara-go/core/iface"
	"github.com/ara-mesh/ara-go/core/packet"
	"github.com/ara-mesh/ara-go/transport/wireformat"
)

type fakeReceiver struct {
	mu       sync.Mutex
	received []*packet.Packet
}

func (r *fakeReceiver) Receive(pkt *packet.Packet, _ iface.NetworkInterface) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.received = append(r.received, pkt)
}

func (r *fakeReceiver) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.received)
}

func makeTestPacket(seq uint32) *packet.Packet {
	return &packet.Packet{
		Source:         core.Address{1},
		Destination:    core.Address{2},
		Type:           packet.DATA,
		SequenceNumber: seq,
		Sender:         core.Address{1},
		PreviousHop:    core.Address{1},
		TTL:            32,
		Payload:        []byte{0x01, 0x02, 0x03, 0x04},
	}
}

func framePacket(t *testing.T, pkt *packet.Packet) []byte {
	t.Helper()
	data, err := wireformat.EncodePacket(pkt)
	if err != nil {
		t.Fatalf("EncodePacket: %v", err)
	}
	frame, err := wireformat.EncodeFrame(data)
	if err != nil {
		t.Fatalf("EncodeFrame: %v", err)
	}
	return frame
}

func TestProcessFramesSingleFrame(t *testing.T) {
	pkt := makeTestPacket(1)
	frame := framePacket(t, pkt)

	recv := &fakeReceiver{}
	tr := New(Config{}, recv)

	remaining := tr.processFrames(frame)
	if len(remaining) != 0 {
		t.Errorf("remaining = %d bytes, want 0", len(remaining))
	}
	if recv.count() != 1 {
		t.Fatalf("received %d packets, want 1", recv.count())
	}
}

func TestProcessFramesMultipleFrames(t *testing.T) {
	pkt1 := makeTestPacket(1)
	pkt2 := makeTestPacket(2)
	combined := append(framePacket(t, pkt1), framePacket(t, pkt2)...)

	recv := &fakeReceiver{}
	tr := New(Config{}, recv)

	remaining := tr.processFrames(combined)
	if len(remaining) != 0 {
		t.Errorf("remaining = %d bytes, want 0", len(remaining))
	}
	if recv.count() != 2 {
		t.Fatalf("received %d packets, want 2", recv.count())
	}
}

func TestProcessFramesIncompleteFrame(t *testing.T) {
	frame := framePacket(t, makeTestPacket(1))
	partial := frame[:len(frame)-2]

	recv := &fakeReceiver{}
	tr := New(Config{}, recv)

	remaining := tr.processFrames(partial)
	if recv.count() != 0 {
		t.Errorf("received %d packets from incomplete frame, want 0", recv.count())
	}
	if len(remaining) != len(partial) {
		t.Errorf("remaining = %d bytes, want all %d bytes preserved", len(remaining), len(partial))
	}
}

func TestProcessFramesIncrementalAssembly(t *testing.T) {
	frame := framePacket(t, makeTestPacket(1))

	recv := &fakeReceiver{}
	tr := New(Config{}, recv)

	var buf []byte
	for _, b := range frame {
		buf = append(buf, b)
		buf = tr.processFrames(buf)
	}

	if recv.count() != 1 {
		t.Fatalf("received %d packets after incremental assembly, want 1", recv.count())
	}
	if len(buf) != 0 {
		t.Errorf("remaining = %d bytes, want 0", len(buf))
	}
}

func TestProcessFramesGarbageBeforeFrame(t *testing.T) {
	frame := framePacket(t, makeTestPacket(1))
	garbage := []byte{0x00, 0x01, 0x02, 0xFF}
	data := append(garbage, frame...)

	recv := &fakeReceiver{}
	tr := New(Config{}, recv)

	remaining := tr.processFrames(data)
	if recv.count() != 1 {
		t.Fatalf("received %d packets after skipping garbage, want 1", recv.count())
	}
	if len(remaining) != 0 {
		t.Errorf("remaining = %d bytes, want 0", len(remaining))
	}
}

func TestFindMagic(t *testing.T) {
	hi := byte(wireformat.FrameMagic >> 8)
	lo := byte(wireformat.FrameMagic & 0xFF)

	tests := []struct {
		name string
		data []byte
		want int
	}{
		{"magic at start", []byte{hi, lo, 0x05}, 0},
		{"magic in middle", []byte{0x00, 0x01, hi, lo, 0x05}, 2},
		{"no magic", []byte{0x00, 0x01, 0x02, 0x03}, -1},
		{"partial magic at end", []byte{0x00, hi}, -1},
		{"empty", []byte{}, -1},
		{"just magic", []byte{hi, lo}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := findMagic(tt.data); got != tt.want {
				t.Errorf("findMagic() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestSendWithoutConnectionFails(t *testing.T) {
	recv := &fakeReceiver{}
	tr := New(Config{Port: "/dev/null", BaudRate: 115200}, recv)

	err := tr.Send(makeTestPacket(1), core.Address{})
	if err == nil {
		t.Fatal("Send succeeded without a connection")
	}
}

func TestNewDefaultsBaudRateAndLogger(t *testing.T) {
	recv := &fakeReceiver{}
	tr := New(Config{Port: "/dev/ttyUSB0"}, recv)
	if tr.cfg.BaudRate != DefaultBaudRate {
		t.Errorf("BaudRate = %d, want %d", tr.cfg.BaudRate, DefaultBaudRate)
	}
	if tr.log == nil {
		t.Error("Logger not defaulted")
	}
}

func TestConnectRequiresPort(t *testing.T) {
	recv := &fakeReceiver{}
	tr := New(Config{}, recv)
	if err := tr.Connect(context.Background()); err == nil {
		t.Error("Connect succeeded with no port configured")
	}
}

// loopbackRW is a minimal io.ReadWriter fake standing in for a serial.Port
// during handshake tests: writes are recorded in written, reads are served
// from a preloaded buffer.
type loopbackRW struct {
	written []byte
	toRead  *bytes.Reader
}

func (l *loopbackRW) Write(p []byte) (int, error) {
	l.written = append(l.written, p...)
	return len(p), nil
}

func (l *loopbackRW) Read(p []byte) (int, error) {
	return l.toRead.Read(p)
}

func TestAuthenticateSucceedsWhenPeerSharesSecret(t *testing.T) {
	local, _, err := identity.Generate()
	if err != nil {
		t.Fatalf("generating local identity: %v", err)
	}
	peer, _, err := identity.Generate()
	if err != nil {
		t.Fatalf("generating peer identity: %v", err)
	}

	// X25519 ECDH is symmetric: the peer, using its own private key and our
	// public key, derives the same secret we do from our private key and
	// its public key.
	peerSecret, err := identity.ComputeSharedSecret(peer.PrivateKey, local.PublicKey)
	if err != nil {
		t.Fatalf("computing peer secret: %v", err)
	}

	tr := New(Config{Port: "/dev/ttyUSB0", LocalIdentity: local, RemotePublicKey: peer.PublicKey}, &fakeReceiver{})
	rw := &loopbackRW{toRead: bytes.NewReader(computeHandshakeTag(peerSecret))}

	if err := tr.authenticate(rw); err != nil {
		t.Errorf("authenticate() = %v, want success", err)
	}
}

func TestAuthenticateFailsOnMismatchedSecret(t *testing.T) {
	local, _, err := identity.Generate()
	if err != nil {
		t.Fatalf("generating local identity: %v", err)
	}
	peer, _, err := identity.Generate()
	if err != nil {
		t.Fatalf("generating peer identity: %v", err)
	}

	tr := New(Config{Port: "/dev/ttyUSB0", LocalIdentity: local, RemotePublicKey: peer.PublicKey}, &fakeReceiver{})
	rw := &loopbackRW{toRead: bytes.NewReader(make([]byte, sha256.Size))}

	if err := tr.authenticate(rw); err == nil {
		t.Error("authenticate() succeeded with a peer tag that doesn't match our derived secret")
	}
}
