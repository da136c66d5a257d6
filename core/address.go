// Package core holds the foundational types shared by every ARA package:
// node addresses and the small helpers built on top of them.
package core

import (
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
	"hash/fnv"
)

// Address is an opaque node identifier. Two addresses are equal iff their
// underlying bytes are equal — equality is by content, never by identity,
// so Address is safe to use as a map key and to compare with ==.
//
// The reference identity scheme backs an Address with a node's Ed25519
// public key (see package core/identity); the routing core itself never
// inspects the bytes beyond equality and hashing.
type Address [ed25519.PublicKeySize]byte

// ZeroAddress is the all-zero address, used as the uninitialized value.
var ZeroAddress Address

// String returns the hex-encoded representation of the address.
func (a Address) String() string {
	return hex.EncodeToString(a[:])
}

// Hash returns a 64-bit hash of the address, suitable for logging or for
// secondary index structures that cannot use Address directly as a key.
func (a Address) Hash() uint64 {
	h := fnv.New64a()
	h.Write(a[:])
	return h.Sum64()
}

// Bytes returns the underlying bytes.
func (a Address) Bytes() []byte {
	return a[:]
}

// IsZero reports whether the address is the uninitialized zero value.
func (a Address) IsZero() bool {
	return a == ZeroAddress
}

// ParseAddress parses a hex-encoded string into an Address.
func ParseAddress(s string) (Address, error) {
	var a Address
	b, err := hex.DecodeString(s)
	if err != nil {
		return a, fmt.Errorf("invalid hex string: %w", err)
	}
	if len(b) != len(a) {
		return a, fmt.Errorf("invalid length: expected %d bytes, got %d", len(a), len(b))
	}
	copy(a[:], b)
	return a, nil
}

// AddressFromBytes copies raw bytes into an Address, e.g. when decoding one
// off the wire. Unlike ParseAddress, the input is not hex-encoded.
func AddressFromBytes(b []byte) (Address, error) {
	var a Address
	if len(b) != len(a) {
		return a, fmt.Errorf("invalid length: expected %d bytes, got %d", len(a), len(b))
	}
	copy(a[:], b)
	return a, nil
}

// AddressFromPublicKey converts an Ed25519 public key into an Address.
func AddressFromPublicKey(pub ed25519.PublicKey) (Address, error) {
	var a Address
	if len(pub) != len(a) {
		return a, fmt.Errorf("invalid public key length: expected %d bytes, got %d", len(a), len(pub))
	}
	copy(a[:], pub)
	return a, nil
}
