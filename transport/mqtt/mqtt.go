// Package mqtt provides an MQTT NetworkInterface for ARA nodes that share a
// broadcast domain over an MQTT broker.
//
// ARA packets are encoded with transport/wireformat and transmitted as
// base64-encoded strings over MQTT topics in the format "{prefix}/{meshID}".
// Every node on the same mesh ID subscribes to the same topic, so a
// Broadcast is simply a publish. A unicast Send publishes the same bytes: the
// next hop is not encoded anywhere, so every subscriber sees the message
// (consistent with a shared wireless channel) and relies on the routing
// core's own duplicate and addressing logic to decide what to do with it.
package mqtt

import (
	"crypto/tls"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/ara-mesh/ara-go/core"
	"github.com/ara-mesh/ara-go/core/iface"
	"github.com/ara-mesh/ara-go/core/packet"
	"github.com/ara-mesh/ara-go/transport/wireformat"
)

// Compile-time interface check.
var _ iface.NetworkInterface = (*Interface)(nil)

// DefaultTopicPrefix is the default MQTT topic prefix for ARA packets.
const DefaultTopicPrefix = "ara"

// Receiver is notified of packets arriving on the interface. It is
// typically *client.Client, whose Receive method has this signature.
type Receiver interface {
	Receive(pkt *packet.Packet, intf iface.NetworkInterface)
}

// Config holds the configuration for an MQTT interface.
type Config struct {
	// Broker is the MQTT broker URL (e.g., "tcp://broker.example.com:1883").
	Broker string
	// Username for MQTT authentication. Leave empty if not required.
	Username string
	// Password for MQTT authentication. Leave empty if not required.
	Password string
	// UseTLS enables TLS for the MQTT connection.
	UseTLS bool
	// ClientID is the MQTT client identifier. If empty, a random one is generated.
	ClientID string
	// TopicPrefix is the MQTT topic prefix (default: "ara").
	TopicPrefix string
	// MeshID identifies this mesh network. The interface subscribes to and
	// publishes on "{TopicPrefix}/{MeshID}".
	MeshID string
	// LocalAddress is this node's address as seen on this interface.
	LocalAddress core.Address
	// Logger is the logger to use. If nil, slog.Default() is used.
	Logger *slog.Logger
}

func (c Config) withDefaults() Config {
	if c.TopicPrefix == "" {
		c.TopicPrefix = DefaultTopicPrefix
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// Interface implements iface.NetworkInterface over an MQTT broker.
type Interface struct {
	cfg       Config
	log       *slog.Logger
	client    paho.Client
	receiver  Receiver
	mu        sync.RWMutex
	connected bool
}

// New creates a new MQTT interface with the given configuration. Call
// Connect before using it to send or receive packets.
func New(cfg Config, receiver Receiver) *Interface {
	cfg = cfg.withDefaults()
	return &Interface{
		cfg:      cfg,
		log:      cfg.Logger.WithGroup("mqtt"),
		receiver: receiver,
	}
}

// Connect dials the MQTT broker and subscribes to the mesh topic.
func (t *Interface) Connect() error {
	if t.cfg.Broker == "" {
		return errors.New("broker URL is required")
	}
	if t.cfg.MeshID == "" {
		return errors.New("mesh ID is required")
	}

	clientID := t.cfg.ClientID
	if clientID == "" {
		clientID = "ara-" + randomString(16)
	}

	opts := paho.NewClientOptions().
		AddBroker(t.cfg.Broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetMaxReconnectInterval(2 * time.Minute).
		SetKeepAlive(60 * time.Second).
		SetPingTimeout(10 * time.Second).
		SetCleanSession(true).
		SetOrderMatters(false).
		SetOnConnectHandler(t.onConnected).
		SetConnectionLostHandler(t.onConnectionLost)

	if t.cfg.Username != "" {
		opts.SetUsername(t.cfg.Username)
	}
	if t.cfg.Password != "" {
		opts.SetPassword(t.cfg.Password)
	}
	if t.cfg.UseTLS {
		opts.SetTLSConfig(&tls.Config{
			MinVersion: tls.VersionTLS12,
		})
	}

	t.client = paho.NewClient(opts)

	token := t.client.Connect()
	if !token.WaitTimeout(30 * time.Second) {
		return errors.New("connection timeout")
	}
	return token.Error()
}

// Disconnect gracefully disconnects from the broker.
func (t *Interface) Disconnect() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.client != nil {
		t.client.Disconnect(1000)
		t.connected = false
	}
}

// LocalAddress satisfies iface.NetworkInterface.
func (t *Interface) LocalAddress() core.Address {
	return t.cfg.LocalAddress
}

// Send satisfies iface.NetworkInterface. MQTT has no point-to-point
// addressing beyond the shared topic, so Send and Broadcast behave
// identically: every subscriber on the mesh topic sees the packet.
func (t *Interface) Send(pkt *packet.Packet, _ core.Address) error {
	return t.publish(pkt)
}

// Broadcast satisfies iface.NetworkInterface.
func (t *Interface) Broadcast(pkt *packet.Packet) error {
	return t.publish(pkt)
}

func (t *Interface) publish(pkt *packet.Packet) error {
	t.mu.RLock()
	connected := t.connected
	client := t.client
	t.mu.RUnlock()

	if !connected || client == nil {
		return errors.New("mqtt: not connected")
	}

	data, err := wireformat.EncodePacket(pkt)
	if err != nil {
		return fmt.Errorf("encoding packet: %w", err)
	}
	payload := base64.StdEncoding.EncodeToString(data)

	token := client.Publish(t.topic(), 0, false, payload)
	if !token.WaitTimeout(10 * time.Second) {
		return errors.New("mqtt: timeout publishing")
	}
	return token.Error()
}

func (t *Interface) topic() string {
	return t.cfg.TopicPrefix + "/" + t.cfg.MeshID
}

func (t *Interface) subscribe() {
	topic := t.topic()
	t.client.Subscribe(topic, 0, t.handleMessage)
	t.log.Debug("subscribed to mesh topic", "topic", topic)
}

func (t *Interface) handleMessage(_ paho.Client, message paho.Message) {
	rawData, err := base64.StdEncoding.DecodeString(string(message.Payload()))
	if err != nil {
		t.log.Debug("failed to decode base64 payload", "error", err)
		return
	}

	pkt, err := wireformat.DecodePacket(rawData)
	if err != nil {
		t.log.Debug("failed to decode packet", "error", err)
		return
	}

	if pkt.PreviousHop == t.cfg.LocalAddress {
		return // our own publish, echoed back by the broker
	}

	t.receiver.Receive(pkt, t)
}

func (t *Interface) onConnected(_ paho.Client) {
	t.mu.Lock()
	t.connected = true
	t.mu.Unlock()

	t.subscribe()
	t.log.Info("connected to MQTT broker", "broker", t.cfg.Broker)
}

func (t *Interface) onConnectionLost(_ paho.Client, err error) {
	t.mu.Lock()
	t.connected = false
	t.mu.Unlock()

	t.log.Error("MQTT connection lost", "error", err)
}

func randomString(n int) string {
	const alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
	b := make([]byte, n)
	for i := range b {
		b[i] = alphabet[rand.IntN(len(alphabet))]
	}
	return string(b)
}
