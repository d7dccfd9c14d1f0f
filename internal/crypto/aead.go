package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	// ErrInvalidKeySize is returned when the provided key is not 32 bytes
	ErrInvalidKeySize = errors.New("key must be exactly 32 bytes for AES-256")

	// ErrInvalidNonceSize is returned when the provided nonce is not 16 bytes
	ErrInvalidNonceSize = errors.New("nonce must be exactly 16 bytes")

	// ErrAuthenticationFailed is returned when GCM authentication tag verification fails
	ErrAuthenticationFailed = errors.New("authentication failed: wrong key or tampered ciphertext")

	// ErrMalformedMetadata is returned when decrypted metadata is not "<name>-<size>"
	ErrMalformedMetadata = errors.New("malformed file metadata")
)

func newGCM(key []byte) (cipher.AEAD, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("%w: got %d bytes", ErrInvalidKeySize, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create AES cipher: %w", err)
	}
	gcm, err := cipher.NewGCMWithNonceSize(block, NonceSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return gcm, nil
}

// Seal encrypts and authenticates plaintext using AES-256-GCM with a
// 16-byte nonce and a 128-bit tag.
//
// Parameters:
//   - key: 32-byte AES-256 key
//   - nonce: 16-byte initialization vector (must be unique per key)
//   - plaintext: Data to encrypt
//
// Returns:
//   - ciphertext concatenated with the 16-byte authentication tag
//   - error on invalid key or nonce sizes
//
// Security Warning:
//   - NEVER reuse the same nonce with the same key
func Seal(key, nonce, plaintext []byte) ([]byte, error) {
	if len(nonce) != NonceSize {
		return nil, fmt.Errorf("%w: got %d bytes", ErrInvalidNonceSize, len(nonce))
	}
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	return gcm.Seal(nil, nonce, plaintext, nil), nil
}

// Open decrypts and verifies ciphertext produced by Seal.
// No plaintext is returned unless the tag verifies.
func Open(key, nonce, ciphertext []byte) ([]byte, error) {
	if len(nonce) != NonceSize {
		return nil, fmt.Errorf("%w: got %d bytes", ErrInvalidNonceSize, len(nonce))
	}
	if len(ciphertext) < TagSize {
		return nil, fmt.Errorf("%w: ciphertext shorter than tag", ErrAuthenticationFailed)
	}
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAuthenticationFailed, err)
	}
	return plaintext, nil
}

// EncryptFile seals plaintext under key with a fresh random nonce and
// returns the envelope nonce || ciphertext || tag.
func EncryptFile(key, plaintext []byte) ([]byte, error) {
	nonce, err := RandomBytes(NonceSize)
	if err != nil {
		return nil, err
	}
	ct, err := Seal(key, nonce, plaintext)
	if err != nil {
		return nil, err
	}

	envelope := make([]byte, 0, NonceSize+len(ct))
	envelope = append(envelope, nonce...)
	envelope = append(envelope, ct...)
	return envelope, nil
}

// DecryptFile splits the envelope nonce and opens the remainder.
// Truncated envelopes fail with ErrAuthenticationFailed.
func DecryptFile(key, envelope []byte) ([]byte, error) {
	if len(envelope) < NonceSize+TagSize {
		return nil, fmt.Errorf("%w: envelope too short (%d bytes)", ErrAuthenticationFailed, len(envelope))
	}
	return Open(key, envelope[:NonceSize], envelope[NonceSize:])
}

// EnvelopeSize returns the stored size of a file envelope for a plaintext of n bytes.
func EnvelopeSize(n int64) int64 {
	return n + NonceSize + TagSize
}

// EncryptMetadata seals "<fileName>-<fileSize>" under key with the given
// nonce. The nonce is transmitted separately.
func EncryptMetadata(key, nonce []byte, fileName string, fileSize int64) ([]byte, error) {
	plaintext := []byte(FormatMetadata(fileName, fileSize))
	return Seal(key, nonce, plaintext)
}

// DecryptMetadata opens a metadata blob and parses the file name and size.
func DecryptMetadata(key, nonce, ciphertext []byte) (string, int64, error) {
	plaintext, err := Open(key, nonce, ciphertext)
	if err != nil {
		return "", 0, err
	}
	return ParseMetadata(string(plaintext))
}

// FormatMetadata renders the metadata plaintext.
func FormatMetadata(fileName string, fileSize int64) string {
	return fileName + "-" + strconv.FormatInt(fileSize, 10)
}

// ParseMetadata splits on the last '-' so names containing dashes survive.
func ParseMetadata(s string) (string, int64, error) {
	i := strings.LastIndexByte(s, '-')
	if i < 0 {
		return "", 0, fmt.Errorf("%w: missing separator", ErrMalformedMetadata)
	}
	size, err := strconv.ParseInt(s[i+1:], 10, 64)
	if err != nil || size < 0 {
		return "", 0, fmt.Errorf("%w: bad size %q", ErrMalformedMetadata, s[i+1:])
	}
	return s[:i], size, nil
}
