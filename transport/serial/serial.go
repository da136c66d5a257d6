// Package serial provides a serial NetworkInterface for ARA nodes connected
// over an RS232 link, such as a radio modem attached by USB.
//
// Packets are framed with transport/wireformat's length-delimited,
// Fletcher-16-checksummed framing, which tolerates the partial reads and
// byte-level corruption typical of a serial link.
package serial

import (
	"context"
	"crypto/ed25519"
	"crypto/hmac"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"go.bug.st/serial"

	"github.com/ara-mesh/ara-go/core"
	"github.com/ara-mesh/ara-go/core/iface"
	"github.com/ara-mesh/ara-go/core/identity"
	"github.com/ara-mesh/ara-go/core/packet"
	"github.com/ara-mesh/ara-go/transport/wireformat"
)

// Compile-time interface check.
var _ iface.NetworkInterface = (*Interface)(nil)

const (
	// DefaultBaudRate is the default baud rate for ARA serial links.
	DefaultBaudRate = 115200

	// readBufSize is the size of the serial read buffer.
	readBufSize = 1024

	// handshakeChallenge is the fixed payload HMACed with the ECDH-derived
	// link secret during the optional peer-authentication handshake.
	handshakeChallenge = "ara-serial-link-v1"
)

// Receiver is notified of packets arriving on the interface. It is
// typically *client.Client, whose Receive method has this signature.
type Receiver interface {
	Receive(pkt *packet.Packet, intf iface.NetworkInterface)
}

// Config holds the configuration for a serial interface.
type Config struct {
	// Port is the serial port path (e.g., "/dev/ttyUSB0" or "COM3").
	Port string
	// BaudRate is the serial baud rate. Defaults to 115200.
	BaudRate int
	// LocalAddress is this node's address as seen on this interface.
	LocalAddress core.Address
	// Logger is the logger to use. If nil, slog.Default() is used.
	Logger *slog.Logger

	// LocalIdentity and RemotePublicKey, if both set, make Connect perform a
	// link-layer handshake before considering the connection established: a
	// shared secret is derived via X25519 ECDH (core/identity) from the
	// local private key and the expected peer's public key, and each side
	// proves it holds that secret with an HMAC over a fixed challenge. This
	// authenticates the link, not packet content — leave both nil to skip
	// it entirely (e.g. over a serial link with no identified peer).
	LocalIdentity   *identity.KeyPair
	RemotePublicKey ed25519.PublicKey
}

func (c Config) withDefaults() Config {
	if c.BaudRate == 0 {
		c.BaudRate = DefaultBaudRate
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// Interface implements iface.NetworkInterface over a serial connection.
// A serial link is point-to-point, so Send and Broadcast are identical:
// whatever is on the other end of the wire receives every packet.
type Interface struct {
	cfg      Config
	log      *slog.Logger
	receiver Receiver

	mu        sync.RWMutex
	port      serial.Port
	connected bool
	cancel    context.CancelFunc
	done      chan struct{}
}

// New creates a new serial interface with the given configuration. Call
// Connect before using it to send or receive packets.
func New(cfg Config, receiver Receiver) *Interface {
	cfg = cfg.withDefaults()
	return &Interface{
		cfg:      cfg,
		log:      cfg.Logger.WithGroup("serial"),
		receiver: receiver,
	}
}

// Connect opens the serial port and starts the background read loop. ctx
// controls the lifetime of that read loop; cancel it or call Disconnect to
// stop.
func (t *Interface) Connect(ctx context.Context) error {
	if t.cfg.Port == "" {
		return errors.New("serial port is required")
	}

	mode := &serial.Mode{BaudRate: t.cfg.BaudRate}
	port, err := serial.Open(t.cfg.Port, mode)
	if err != nil {
		return fmt.Errorf("opening serial port: %w", err)
	}

	if t.cfg.LocalIdentity != nil && len(t.cfg.RemotePublicKey) > 0 {
		if err := t.authenticate(port); err != nil {
			port.Close()
			return fmt.Errorf("link-layer handshake: %w", err)
		}
		t.log.Info("link-layer handshake succeeded", "port", t.cfg.Port)
	}

	t.mu.Lock()
	t.port = port
	t.connected = true
	t.done = make(chan struct{})
	t.mu.Unlock()

	readCtx, cancel := context.WithCancel(ctx)
	t.cancel = cancel

	go t.readLoop(readCtx)

	t.log.Info("connected to serial port", "port", t.cfg.Port, "baud", t.cfg.BaudRate)
	return nil
}

// Disconnect closes the serial port and stops the read loop.
func (t *Interface) Disconnect() error {
	if t.cancel != nil {
		t.cancel()
	}

	t.mu.Lock()
	t.connected = false
	port := t.port
	t.port = nil
	done := t.done
	t.mu.Unlock()

	var err error
	if port != nil {
		err = port.Close()
	}
	if done != nil {
		<-done
	}
	return err
}

// LocalAddress satisfies iface.NetworkInterface.
func (t *Interface) LocalAddress() core.Address {
	return t.cfg.LocalAddress
}

// Send satisfies iface.NetworkInterface.
func (t *Interface) Send(pkt *packet.Packet, _ core.Address) error {
	return t.write(pkt)
}

// Broadcast satisfies iface.NetworkInterface.
func (t *Interface) Broadcast(pkt *packet.Packet) error {
	return t.write(pkt)
}

func (t *Interface) write(pkt *packet.Packet) error {
	t.mu.RLock()
	port := t.port
	connected := t.connected
	t.mu.RUnlock()

	if !connected || port == nil {
		return errors.New("serial: not connected")
	}

	data, err := wireformat.EncodePacket(pkt)
	if err != nil {
		return fmt.Errorf("encoding packet: %w", err)
	}
	frame, err := wireformat.EncodeFrame(data)
	if err != nil {
		return fmt.Errorf("encoding frame: %w", err)
	}

	if _, err := port.Write(frame); err != nil {
		return fmt.Errorf("writing to serial port: %w", err)
	}
	return nil
}

// readLoop continuously reads from the serial port and assembles frames.
func (t *Interface) readLoop(ctx context.Context) {
	defer close(t.done)

	buf := make([]byte, readBufSize)
	var assemblyBuf []byte

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		n, err := t.port.Read(buf)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) {
				t.handleDisconnect(err)
				return
			}
			t.log.Error("serial read error", "error", err)
			t.handleDisconnect(err)
			return
		}

		if n == 0 {
			continue
		}

		assemblyBuf = append(assemblyBuf, buf[:n]...)
		assemblyBuf = t.processFrames(assemblyBuf)
	}
}

// processFrames extracts complete frames from data and dispatches packets,
// returning any remaining bytes that don't yet form a complete frame.
func (t *Interface) processFrames(data []byte) []byte {
	for len(data) >= wireformat.MinFrameSize {
		frame, remaining, err := wireformat.DecodeFrame(data)
		if err != nil {
			if errors.Is(err, wireformat.ErrIncompleteFrame) {
				return data
			}
			if idx := findMagic(data[1:]); idx >= 0 {
				data = data[1+idx:]
				continue
			}
			return nil
		}

		data = remaining

		pkt, err := wireformat.DecodePacket(frame.Payload)
		if err != nil {
			t.log.Debug("failed to decode packet from frame", "error", err)
			continue
		}

		t.receiver.Receive(pkt, t)
	}

	return data
}

// findMagic searches for the frame magic bytes in data, returning the
// index of the first byte of the magic, or -1 if not found.
func findMagic(data []byte) int {
	magic := [2]byte{byte(wireformat.FrameMagic >> 8), byte(wireformat.FrameMagic & 0xFF)}
	for i := 0; i+1 < len(data); i++ {
		if data[i] == magic[0] && data[i+1] == magic[1] {
			return i
		}
	}
	return -1
}

// authenticate performs the optional link-layer handshake: it derives the
// shared secret from cfg.LocalIdentity and cfg.RemotePublicKey, writes an
// HMAC tag over handshakeChallenge keyed with that secret, and checks the
// peer's tag matches. Since X25519 ECDH is symmetric, a correctly-configured
// peer derives the identical secret and therefore the identical tag.
func (t *Interface) authenticate(rw io.ReadWriter) error {
	secret, err := identity.ComputeSharedSecret(t.cfg.LocalIdentity.PrivateKey, t.cfg.RemotePublicKey)
	if err != nil {
		return fmt.Errorf("deriving link secret: %w", err)
	}

	tag := computeHandshakeTag(secret)
	if _, err := rw.Write(tag); err != nil {
		return fmt.Errorf("writing handshake tag: %w", err)
	}

	peerTag := make([]byte, len(tag))
	if _, err := io.ReadFull(rw, peerTag); err != nil {
		return fmt.Errorf("reading peer handshake tag: %w", err)
	}

	if !hmac.Equal(tag, peerTag) {
		return errors.New("serial: handshake tag mismatch, peer does not share our link secret")
	}
	return nil
}

func computeHandshakeTag(secret []byte) []byte {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(handshakeChallenge))
	return mac.Sum(nil)
}

func (t *Interface) handleDisconnect(err error) {
	t.mu.Lock()
	t.connected = false
	t.mu.Unlock()

	if err != nil {
		t.log.Error("serial disconnected", "error", err)
	}
}
