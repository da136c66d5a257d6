// Package identity provides node identity key pairs and the link-layer ECDH
// conversion used by the transport adapters to set up an authenticated
// channel with a neighbor.
//
// This is deliberately not used to authenticate or encrypt ARA packet
// content — the routing core treats DATA/FANT/BANT/DUPLICATE_WARNING/
// ROUTE_FAILURE payloads as opaque, and packet-content cryptographic
// authentication is an explicit non-goal of the routing core. Identity
// keys exist so a node has a stable Address and so transport adapters that
// want a secure session (e.g. over an untrusted broker) can derive one.
package identity

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha512"
	"errors"
	"fmt"

	"filippo.io/edwards25519"
	"golang.org/x/crypto/curve25519"

	"github.com/ara-mesh/ara-go/core"
)

var (
	// ErrInvalidPubKeySize is returned when a supplied public key is not
	// exactly ed25519.PublicKeySize bytes long.
	ErrInvalidPubKeySize = errors.New("identity: invalid public key size")
	// ErrInvalidPrivKeySize is returned when a supplied private key is not
	// exactly ed25519.PrivateKeySize bytes long.
	ErrInvalidPrivKeySize = errors.New("identity: invalid private key size")
)

// KeyPair holds an Ed25519 key pair used as a node's routing identity.
type KeyPair struct {
	PublicKey  ed25519.PublicKey
	PrivateKey ed25519.PrivateKey
}

// Generate creates a new Ed25519 key pair and its derived Address.
func Generate() (*KeyPair, core.Address, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, core.Address{}, fmt.Errorf("generating key pair: %w", err)
	}
	addr, err := core.AddressFromPublicKey(pub)
	if err != nil {
		return nil, core.Address{}, err
	}
	return &KeyPair{PublicKey: pub, PrivateKey: priv}, addr, nil
}

// FromPrivateKey reconstructs a KeyPair from a 64-byte Ed25519 private key.
func FromPrivateKey(privKey []byte) (*KeyPair, core.Address, error) {
	if len(privKey) != ed25519.PrivateKeySize {
		return nil, core.Address{}, ErrInvalidPrivKeySize
	}
	priv := ed25519.PrivateKey(make([]byte, ed25519.PrivateKeySize))
	copy(priv, privKey)
	pub, ok := priv.Public().(ed25519.PublicKey)
	if !ok {
		return nil, core.Address{}, errors.New("identity: unexpected public key type")
	}
	addr, err := core.AddressFromPublicKey(pub)
	if err != nil {
		return nil, core.Address{}, err
	}
	return &KeyPair{PublicKey: pub, PrivateKey: priv}, addr, nil
}

// Address returns the node Address derived from the key pair's public key.
func (kp *KeyPair) Address() core.Address {
	addr, _ := core.AddressFromPublicKey(kp.PublicKey)
	return addr
}

// Ed25519PubKeyToX25519 converts an Ed25519 public key to its X25519
// (Curve25519) equivalent, for use in link-layer ECDH.
func Ed25519PubKeyToX25519(edPubKey []byte) ([]byte, error) {
	point, err := new(edwards25519.Point).SetBytes(edPubKey)
	if err != nil {
		return nil, fmt.Errorf("invalid Ed25519 public key: %w", err)
	}
	return point.BytesMontgomery(), nil
}

// Ed25519PrivKeyToX25519 converts an Ed25519 private key to its X25519
// equivalent, following RFC 8032: SHA-512 the seed, then clamp.
func Ed25519PrivKeyToX25519(edPrivKey ed25519.PrivateKey) ([]byte, error) {
	if len(edPrivKey) != ed25519.PrivateKeySize {
		return nil, ErrInvalidPrivKeySize
	}

	seed := edPrivKey.Seed()
	h := sha512.Sum512(seed)

	h[0] &= 248
	h[31] &= 127
	h[31] |= 64

	return h[:32], nil
}

// ComputeSharedSecret derives a shared secret from a local Ed25519 private
// key and a remote Ed25519 public key using X25519 ECDH. The result is a
// 32-byte secret a transport adapter can use to key a link-layer cipher;
// the routing core never sees or depends on it.
func ComputeSharedSecret(localPrivKey ed25519.PrivateKey, remotePubKey []byte) ([]byte, error) {
	if len(remotePubKey) != ed25519.PublicKeySize {
		return nil, ErrInvalidPubKeySize
	}

	x25519Priv, err := Ed25519PrivKeyToX25519(localPrivKey)
	if err != nil {
		return nil, fmt.Errorf("converting private key: %w", err)
	}

	x25519Pub, err := Ed25519PubKeyToX25519(remotePubKey)
	if err != nil {
		return nil, fmt.Errorf("converting public key: %w", err)
	}

	secret, err := curve25519.X25519(x25519Priv, x25519Pub)
	if err != nil {
		return nil, fmt.Errorf("ECDH: %w", err)
	}

	return secret, nil
}
