package crypto

import (
	"encoding/hex"
	"fmt"

	"github.com/dchest/blake2s"
	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/blake2b"
)

const (
	argon2Time = 3 // iterations, fixed by the protocol

	subkeyDigestSize = 16
	hashDigestSize   = 16
)

// subkeySalt is the fixed BLAKE2s salt shared by every sub-key derivation.
var subkeySalt = []byte("10000000")

// DeriveSeed stretches a password into a 32-byte seed using Argon2id.
//
// Identical inputs always produce the same seed, which lets a party rebuild
// its keypair from the password alone. An empty password is accepted.
//
// Parameters:
//   - password: user secret (may be empty)
//   - params: salt (16 bytes), parallelism and memory cost in KiB
//
// Returns:
//   - 32-byte seed
//   - ErrKDF if the parameters are malformed
func DeriveSeed(password []byte, params *KDFParams) ([]byte, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	seed := argon2.IDKey(
		password,
		params.Salt,
		argon2Time,
		uint32(params.MemLimit),
		uint8(params.Ops),
		SeedSize,
	)
	return seed, nil
}

// DeriveKey splits a seed into purpose-bound sub-keys.
//
// The digest is BLAKE2s-128 keyed with the seed, salted with a fixed constant
// and personalised with the 8-byte context tag. The returned key is the
// lowercase hex encoding of that digest, which yields 32 bytes suitable for
// AES-256.
func DeriveKey(seed, context []byte) ([]byte, error) {
	if len(context) != ContextTagSize {
		return nil, fmt.Errorf("%w: context tag must be %d bytes, got %d", ErrKDF, ContextTagSize, len(context))
	}
	if len(seed) == 0 || len(seed) > blake2s.KeySize {
		return nil, fmt.Errorf("%w: seed length %d not in [1,%d]", ErrKDF, len(seed), blake2s.KeySize)
	}

	h, err := blake2s.New(&blake2s.Config{
		Size:   subkeyDigestSize,
		Key:    seed,
		Salt:   subkeySalt,
		Person: context,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKDF, err)
	}
	digest := h.Sum(nil)
	defer Zero(digest)

	out := make([]byte, hex.EncodedLen(len(digest)))
	hex.Encode(out, digest)
	return out, nil
}

// Hash returns the hex-encoded BLAKE2b-128 digest of value.
func Hash(value []byte) []byte {
	h, _ := blake2b.New(hashDigestSize, nil)
	h.Write(value)
	digest := h.Sum(nil)

	out := make([]byte, hex.EncodedLen(len(digest)))
	hex.Encode(out, digest)
	return out
}

// CombineSeeds mixes the link seed and the password seed into one value
// suitable as deriveKey input.
func CombineSeeds(linkSeed, passwordSeed []byte) []byte {
	buf := make([]byte, 0, len(linkSeed)+len(passwordSeed))
	buf = append(buf, linkSeed...)
	buf = append(buf, passwordSeed...)
	defer Zero(buf)
	return Hash(buf)
}
