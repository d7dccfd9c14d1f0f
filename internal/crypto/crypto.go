// Package crypto provides the cryptographic primitives for blindsend exchanges.
//
// This package implements:
//   - Argon2id password-based seed derivation
//   - BLAKE2s keyed sub-key derivation and BLAKE2b seed combination
//   - X25519 keypairs, random or reproducible from a derived seed
//   - AES-256-GCM file envelopes and metadata blobs with 16-byte nonces
//   - BLAKE3 content digests for stored ciphertext
package crypto

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math"
)

const (
	// SaltSize is the length of the Argon2id salt carried in KDF parameters.
	SaltSize = 16
	// SeedSize is the length of a password-derived seed.
	SeedSize = 32
	// KeySize is the length of X25519 keys and of the shared master key.
	KeySize = 32
	// NonceSize is the AES-GCM nonce length used by file and metadata ciphers.
	NonceSize = 16
	// TagSize is the GCM authentication tag length.
	TagSize = 16
	// ContextTagSize is the exact length of a deriveKey context tag.
	ContextTagSize = 8
	// LinkSeedSize is the length of the random seed carried in sender links.
	LinkSeedSize = 16

	// DefaultKDFOps and DefaultKDFMemLimit are the cost knobs used when the
	// caller does not configure its own.
	DefaultKDFOps      = 1
	DefaultKDFMemLimit = 8192 // KiB

	// DefaultMaxKDFMemLimit caps the memory cost accepted from parameters
	// someone else chose.
	DefaultMaxKDFMemLimit = 1 << 20 // KiB
)

// Context tags for sub-key derivation in the sender-initiated flow.
var (
	ContextFileMeta = []byte("filemeta")
	ContextFileKey  = []byte("filekey-")
)

var (
	// ErrKDF is returned for malformed salts, cost parameters or context tags.
	ErrKDF = errors.New("kdf: invalid parameters")

	// ErrKeyAgreement is returned when a peer public key cannot be used.
	ErrKeyAgreement = errors.New("key agreement failed")
)

// X25519KeyPair represents an X25519 keypair used for the exchange master key.
type X25519KeyPair struct {
	PublicKey  [32]byte // 32 bytes
	PrivateKey [32]byte // 32 bytes
}

// Wipe zeroes the private half of the keypair.
func (kp *X25519KeyPair) Wipe() {
	if kp == nil {
		return
	}
	Zero(kp.PrivateKey[:])
}

// KDFParams are the public Argon2id parameters stored alongside a session.
// Only the password is secret.
type KDFParams struct {
	Salt     []byte // 16 bytes
	Ops      int    // parallelism
	MemLimit int    // KiB
}

// NewKDFParams returns parameters with a fresh random salt.
func NewKDFParams(ops, memLimit int) (*KDFParams, error) {
	salt, err := RandomBytes(SaltSize)
	if err != nil {
		return nil, err
	}
	p := &KDFParams{Salt: salt, Ops: ops, MemLimit: memLimit}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// Validate checks salt length and cost bounds.
func (p *KDFParams) Validate() error {
	if p == nil {
		return fmt.Errorf("%w: missing parameters", ErrKDF)
	}
	if len(p.Salt) != SaltSize {
		return fmt.Errorf("%w: salt must be %d bytes, got %d", ErrKDF, SaltSize, len(p.Salt))
	}
	if p.Ops <= 0 || p.Ops > 255 {
		return fmt.Errorf("%w: ops cost %d out of range", ErrKDF, p.Ops)
	}
	if p.MemLimit <= 0 {
		return fmt.Errorf("%w: memory cost %d must be positive", ErrKDF, p.MemLimit)
	}
	if uint64(p.MemLimit) > math.MaxUint32 {
		return fmt.Errorf("%w: memory cost %d KiB exceeds %d", ErrKDF, p.MemLimit, uint32(math.MaxUint32))
	}
	return nil
}

// ValidateLimit is Validate with an upper bound on the memory cost, for
// parameters fetched from the exchange service. maxMemLimit <= 0 means
// DefaultMaxKDFMemLimit.
func (p *KDFParams) ValidateLimit(maxMemLimit int) error {
	if err := p.Validate(); err != nil {
		return err
	}
	if maxMemLimit <= 0 {
		maxMemLimit = DefaultMaxKDFMemLimit
	}
	if p.MemLimit > maxMemLimit {
		return fmt.Errorf("%w: memory cost %d KiB above limit of %d KiB", ErrKDF, p.MemLimit, maxMemLimit)
	}
	return nil
}

// RandomBytes returns n bytes from the system CSPRNG.
func RandomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("failed to read %d random bytes: %w", n, err)
	}
	return b, nil
}

// Zero overwrites b with zeros.
func Zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
