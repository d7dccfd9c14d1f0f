package crypto

import (
	"fmt"

	"golang.org/x/crypto/curve25519"
)

// GenerateX25519 generates a fresh random X25519 keypair.
// Senders use one per exchange and drop it after finalizing.
//
// Returns:
//   - X25519KeyPair containing public and private keys
//   - error if random number generation fails
func GenerateX25519() (*X25519KeyPair, error) {
	seed, err := RandomBytes(KeySize)
	if err != nil {
		return nil, fmt.Errorf("failed to generate X25519 private key: %w", err)
	}
	defer Zero(seed)
	return X25519FromSeed(seed)
}

// X25519FromSeed derives a reproducible X25519 keypair from a 32-byte seed.
//
// The seed is used directly as the private scalar (clamped by the curve
// operation), so the same password, salt and costs always rebuild the same
// pair.
//
// Parameters:
//   - seed: 32-byte output of DeriveSeed
//
// Returns:
//   - X25519KeyPair
//   - ErrKeyAgreement if the seed has the wrong length
func X25519FromSeed(seed []byte) (*X25519KeyPair, error) {
	if len(seed) != KeySize {
		return nil, fmt.Errorf("%w: seed must be %d bytes, got %d", ErrKeyAgreement, KeySize, len(seed))
	}

	var kp X25519KeyPair
	copy(kp.PrivateKey[:], seed)

	pub, err := curve25519.X25519(kp.PrivateKey[:], curve25519.Basepoint)
	if err != nil {
		kp.Wipe()
		return nil, fmt.Errorf("%w: %v", ErrKeyAgreement, err)
	}
	copy(kp.PublicKey[:], pub)

	return &kp, nil
}

// X25519Exchange performs Elliptic Curve Diffie-Hellman key exchange.
// The raw 32-byte shared secret is the exchange master key.
//
// Parameters:
//   - ourPrivate: Our X25519 private key
//   - theirPublic: Peer's encoded X25519 public key
//
// Returns:
//   - sharedSecret: 32-byte shared secret
//   - ErrKeyAgreement if the peer key is malformed or of low order
func X25519Exchange(ourPrivate *[32]byte, theirPublic []byte) ([]byte, error) {
	if len(theirPublic) != KeySize {
		return nil, fmt.Errorf("%w: peer public key must be %d bytes, got %d", ErrKeyAgreement, KeySize, len(theirPublic))
	}

	// X25519 rejects an all-zero output (low-order peer point)
	secret, err := curve25519.X25519(ourPrivate[:], theirPublic)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeyAgreement, err)
	}

	return secret, nil
}
