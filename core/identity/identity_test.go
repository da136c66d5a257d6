package identity

import "testing"

func TestGenerateProducesMatchingAddress(t *testing.T) {
	kp, addr, err := Generate()
	if err != nil {
		t.Fatalf("Generate returned error: %v", err)
	}
	if kp.Address() != addr {
		t.Error("returned address should match KeyPair.Address()")
	}
	if addr.IsZero() {
		t.Error("generated address should not be zero")
	}
}

func TestFromPrivateKeyRoundTrip(t *testing.T) {
	kp, addr, err := Generate()
	if err != nil {
		t.Fatalf("Generate returned error: %v", err)
	}

	kp2, addr2, err := FromPrivateKey(kp.PrivateKey)
	if err != nil {
		t.Fatalf("FromPrivateKey returned error: %v", err)
	}
	if addr != addr2 {
		t.Error("reconstructed key pair should derive the same address")
	}
	if !kp2.PublicKey.Equal(kp.PublicKey) {
		t.Error("reconstructed public key should match original")
	}
}

func TestFromPrivateKeyInvalidLength(t *testing.T) {
	if _, _, err := FromPrivateKey([]byte{0x01, 0x02}); err == nil {
		t.Error("expected error for short private key")
	}
}

func TestComputeSharedSecretSymmetric(t *testing.T) {
	alice, _, err := Generate()
	if err != nil {
		t.Fatalf("Generate returned error: %v", err)
	}
	bob, _, err := Generate()
	if err != nil {
		t.Fatalf("Generate returned error: %v", err)
	}

	secretAB, err := ComputeSharedSecret(alice.PrivateKey, bob.PublicKey)
	if err != nil {
		t.Fatalf("ComputeSharedSecret(alice, bob) returned error: %v", err)
	}
	secretBA, err := ComputeSharedSecret(bob.PrivateKey, alice.PublicKey)
	if err != nil {
		t.Fatalf("ComputeSharedSecret(bob, alice) returned error: %v", err)
	}

	if len(secretAB) != 32 {
		t.Fatalf("expected 32-byte shared secret, got %d", len(secretAB))
	}
	for i := range secretAB {
		if secretAB[i] != secretBA[i] {
			t.Fatal("ECDH shared secret should be symmetric")
		}
	}
}
