package crypto

import (
	"encoding/hex"

	"github.com/zeebo/blake3"
)

// ContentDigest returns the hex BLAKE3 digest of stored ciphertext.
// It detects storage corruption before decryption; the AEAD tag remains the
// authenticity check.
func ContentDigest(data []byte) string {
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:])
}
