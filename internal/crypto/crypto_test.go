package crypto

import (
	"bytes"
	"errors"
	"testing"
)

func testParams(t *testing.T) *KDFParams {
	t.Helper()
	p, err := NewKDFParams(DefaultKDFOps, DefaultKDFMemLimit)
	if err != nil {
		t.Fatalf("NewKDFParams() failed: %v", err)
	}
	return p
}

func randKey(t *testing.T) []byte {
	t.Helper()
	k, err := RandomBytes(KeySize)
	if err != nil {
		t.Fatalf("RandomBytes() failed: %v", err)
	}
	return k
}

// TestDeriveSeedDeterministic checks that the same inputs rebuild the same keypair
func TestDeriveSeedDeterministic(t *testing.T) {
	params := testParams(t)

	seed1, err := DeriveSeed([]byte("mypass"), params)
	if err != nil {
		t.Fatalf("DeriveSeed() failed: %v", err)
	}
	seed2, err := DeriveSeed([]byte("mypass"), params)
	if err != nil {
		t.Fatalf("DeriveSeed() failed: %v", err)
	}
	if len(seed1) != SeedSize {
		t.Fatalf("Seed length = %d, want %d", len(seed1), SeedSize)
	}
	if !bytes.Equal(seed1, seed2) {
		t.Fatal("DeriveSeed is not deterministic")
	}

	kp1, err := X25519FromSeed(seed1)
	if err != nil {
		t.Fatalf("X25519FromSeed() failed: %v", err)
	}
	kp2, err := X25519FromSeed(seed2)
	if err != nil {
		t.Fatalf("X25519FromSeed() failed: %v", err)
	}
	if kp1.PublicKey != kp2.PublicKey || kp1.PrivateKey != kp2.PrivateKey {
		t.Error("Keypairs derived from the same seed differ")
	}

	other, err := DeriveSeed([]byte("otherpass"), params)
	if err != nil {
		t.Fatalf("DeriveSeed() failed: %v", err)
	}
	if bytes.Equal(seed1, other) {
		t.Error("Different passwords produced the same seed")
	}
}

func TestDeriveSeedEmptyPassword(t *testing.T) {
	seed, err := DeriveSeed(nil, testParams(t))
	if err != nil {
		t.Fatalf("DeriveSeed() with empty password failed: %v", err)
	}
	if len(seed) != SeedSize {
		t.Errorf("Seed length = %d, want %d", len(seed), SeedSize)
	}
}

func TestDeriveSeedRejectsBadParams(t *testing.T) {
	good := testParams(t)

	cases := map[string]*KDFParams{
		"nil":         nil,
		"short salt":  {Salt: make([]byte, 8), Ops: 1, MemLimit: 8192},
		"long salt":   {Salt: make([]byte, 32), Ops: 1, MemLimit: 8192},
		"zero ops":    {Salt: good.Salt, Ops: 0, MemLimit: 8192},
		"neg ops":     {Salt: good.Salt, Ops: -1, MemLimit: 8192},
		"zero memory": {Salt: good.Salt, Ops: 1, MemLimit: 0},
		"wide memory": {Salt: good.Salt, Ops: 1, MemLimit: 1<<32 + 64},
	}
	for name, p := range cases {
		if _, err := DeriveSeed([]byte("pw"), p); !errors.Is(err, ErrKDF) {
			t.Errorf("%s: expected ErrKDF, got %v", name, err)
		}
	}
}

func TestKDFParamsValidateLimit(t *testing.T) {
	good := testParams(t)

	p := &KDFParams{Salt: good.Salt, Ops: 1, MemLimit: 64}
	if err := p.ValidateLimit(64); err != nil {
		t.Errorf("ValidateLimit at the bound failed: %v", err)
	}
	if err := p.ValidateLimit(32); !errors.Is(err, ErrKDF) {
		t.Errorf("Expected ErrKDF above the bound, got %v", err)
	}

	huge := &KDFParams{Salt: good.Salt, Ops: 1, MemLimit: 4000000000}
	if err := huge.ValidateLimit(0); !errors.Is(err, ErrKDF) {
		t.Errorf("Expected ErrKDF above the default bound, got %v", err)
	}
	if err := huge.Validate(); err != nil {
		t.Errorf("4000000000 KiB fits Argon2's range, Validate failed: %v", err)
	}
}

func TestDeriveKey(t *testing.T) {
	seed, _ := RandomBytes(LinkSeedSize)

	metaKey, err := DeriveKey(seed, ContextFileMeta)
	if err != nil {
		t.Fatalf("DeriveKey() failed: %v", err)
	}
	fileKey, err := DeriveKey(seed, ContextFileKey)
	if err != nil {
		t.Fatalf("DeriveKey() failed: %v", err)
	}

	if len(metaKey) != KeySize || len(fileKey) != KeySize {
		t.Fatalf("Derived key lengths = %d/%d, want %d", len(metaKey), len(fileKey), KeySize)
	}
	if bytes.Equal(metaKey, fileKey) {
		t.Error("Different context tags produced the same key")
	}

	again, _ := DeriveKey(seed, ContextFileMeta)
	if !bytes.Equal(metaKey, again) {
		t.Error("DeriveKey is not deterministic")
	}

	if _, err := DeriveKey(seed, []byte("short")); !errors.Is(err, ErrKDF) {
		t.Errorf("Expected ErrKDF for short context, got %v", err)
	}
	if _, err := DeriveKey(seed, []byte("too-long-tag")); !errors.Is(err, ErrKDF) {
		t.Errorf("Expected ErrKDF for long context, got %v", err)
	}
}

func TestHash(t *testing.T) {
	h1 := Hash([]byte("value"))
	h2 := Hash([]byte("value"))
	if len(h1) != 32 {
		t.Fatalf("Hash length = %d, want 32 hex chars", len(h1))
	}
	if !bytes.Equal(h1, h2) {
		t.Error("Hash is not deterministic")
	}
	if bytes.Equal(h1, Hash([]byte("other"))) {
		t.Error("Distinct inputs hashed identically")
	}

	combined := CombineSeeds([]byte("a"), []byte("b"))
	if !bytes.Equal(combined, Hash([]byte("ab"))) {
		t.Error("CombineSeeds should hash the concatenation")
	}
}

// TestX25519Exchange tests ECDH key exchange produces identical shared secrets
func TestX25519Exchange(t *testing.T) {
	alice, err := GenerateX25519()
	if err != nil {
		t.Fatalf("Failed to generate Alice's keypair: %v", err)
	}
	bob, err := GenerateX25519()
	if err != nil {
		t.Fatalf("Failed to generate Bob's keypair: %v", err)
	}

	aliceShared, err := X25519Exchange(&alice.PrivateKey, bob.PublicKey[:])
	if err != nil {
		t.Fatalf("Alice's X25519Exchange failed: %v", err)
	}
	bobShared, err := X25519Exchange(&bob.PrivateKey, alice.PublicKey[:])
	if err != nil {
		t.Fatalf("Bob's X25519Exchange failed: %v", err)
	}

	if len(aliceShared) != KeySize {
		t.Errorf("Shared secret length = %d, want %d", len(aliceShared), KeySize)
	}
	if !bytes.Equal(aliceShared, bobShared) {
		t.Error("Shared secrets do not match")
	}
}

func TestX25519ExchangeRejectsMalformedPeer(t *testing.T) {
	kp, _ := GenerateX25519()

	if _, err := X25519Exchange(&kp.PrivateKey, make([]byte, 31)); !errors.Is(err, ErrKeyAgreement) {
		t.Errorf("Expected ErrKeyAgreement for short key, got %v", err)
	}
	// all-zero point has low order
	if _, err := X25519Exchange(&kp.PrivateKey, make([]byte, 32)); !errors.Is(err, ErrKeyAgreement) {
		t.Errorf("Expected ErrKeyAgreement for zero point, got %v", err)
	}
}

func TestWipe(t *testing.T) {
	kp, _ := GenerateX25519()
	kp.Wipe()
	var zero [32]byte
	if kp.PrivateKey != zero {
		t.Error("Wipe left private key material")
	}
}

// TestFileEnvelopeRoundTrip tests AES-GCM envelope roundtrip
func TestFileEnvelopeRoundTrip(t *testing.T) {
	key := randKey(t)

	for _, size := range []int{0, 1, 100, 10 * 1024} {
		plaintext := bytes.Repeat([]byte{0xAB}, size)

		envelope, err := EncryptFile(key, plaintext)
		if err != nil {
			t.Fatalf("EncryptFile(%d) failed: %v", size, err)
		}
		if int64(len(envelope)) != EnvelopeSize(int64(size)) {
			t.Errorf("Envelope length = %d, want %d", len(envelope), EnvelopeSize(int64(size)))
		}

		decrypted, err := DecryptFile(key, envelope)
		if err != nil {
			t.Fatalf("DecryptFile(%d) failed: %v", size, err)
		}
		if !bytes.Equal(decrypted, plaintext) {
			t.Errorf("Decrypted plaintext does not match original for size %d", size)
		}
	}
}

func TestFileEnvelopeFreshNonce(t *testing.T) {
	key := randKey(t)
	a, _ := EncryptFile(key, []byte("same"))
	b, _ := EncryptFile(key, []byte("same"))
	if bytes.Equal(a[:NonceSize], b[:NonceSize]) {
		t.Error("Two envelopes share a nonce")
	}
}

// TestEnvelopeTamperDetection flips every bit of a small envelope
func TestEnvelopeTamperDetection(t *testing.T) {
	key := randKey(t)
	envelope, err := EncryptFile(key, []byte("tamper-evident payload"))
	if err != nil {
		t.Fatalf("EncryptFile() failed: %v", err)
	}

	for i := range envelope {
		for bit := 0; bit < 8; bit++ {
			tampered := append([]byte(nil), envelope...)
			tampered[i] ^= 1 << bit
			out, err := DecryptFile(key, tampered)
			if !errors.Is(err, ErrAuthenticationFailed) {
				t.Fatalf("byte %d bit %d: expected ErrAuthenticationFailed, got %v", i, bit, err)
			}
			if out != nil {
				t.Fatalf("byte %d bit %d: plaintext returned on failure", i, bit)
			}
		}
	}
}

func TestEnvelopeTruncated(t *testing.T) {
	key := randKey(t)
	envelope, _ := EncryptFile(key, []byte("payload"))

	for _, n := range []int{0, 5, NonceSize, NonceSize + TagSize - 1, len(envelope) - 1} {
		if _, err := DecryptFile(key, envelope[:n]); !errors.Is(err, ErrAuthenticationFailed) {
			t.Errorf("len %d: expected ErrAuthenticationFailed, got %v", n, err)
		}
	}
}

func TestDecryptFileWrongKey(t *testing.T) {
	envelope, _ := EncryptFile(randKey(t), []byte("payload"))
	if _, err := DecryptFile(randKey(t), envelope); !errors.Is(err, ErrAuthenticationFailed) {
		t.Errorf("Expected ErrAuthenticationFailed, got %v", err)
	}
}

func TestSealRejectsBadSizes(t *testing.T) {
	if _, err := Seal(make([]byte, 16), make([]byte, NonceSize), nil); !errors.Is(err, ErrInvalidKeySize) {
		t.Errorf("Expected ErrInvalidKeySize, got %v", err)
	}
	if _, err := Seal(make([]byte, 32), make([]byte, 12), nil); !errors.Is(err, ErrInvalidNonceSize) {
		t.Errorf("Expected ErrInvalidNonceSize, got %v", err)
	}
}

func TestMetadataRoundTrip(t *testing.T) {
	key := randKey(t)
	nonce, _ := RandomBytes(NonceSize)

	ct, err := EncryptMetadata(key, nonce, "my-report-v2.pdf", 10240)
	if err != nil {
		t.Fatalf("EncryptMetadata() failed: %v", err)
	}
	name, size, err := DecryptMetadata(key, nonce, ct)
	if err != nil {
		t.Fatalf("DecryptMetadata() failed: %v", err)
	}
	if name != "my-report-v2.pdf" || size != 10240 {
		t.Errorf("Got (%q, %d), want (%q, %d)", name, size, "my-report-v2.pdf", 10240)
	}

	otherNonce, _ := RandomBytes(NonceSize)
	if _, _, err := DecryptMetadata(key, otherNonce, ct); !errors.Is(err, ErrAuthenticationFailed) {
		t.Errorf("Expected ErrAuthenticationFailed with wrong nonce, got %v", err)
	}
}

func TestMetadataTamperDetection(t *testing.T) {
	key := randKey(t)
	nonce, _ := RandomBytes(NonceSize)
	ct, err := EncryptMetadata(key, nonce, "notes-2024.txt", 9968)
	if err != nil {
		t.Fatalf("EncryptMetadata() failed: %v", err)
	}

	for i := range ct {
		for bit := 0; bit < 8; bit++ {
			tampered := append([]byte(nil), ct...)
			tampered[i] ^= 1 << bit
			name, size, err := DecryptMetadata(key, nonce, tampered)
			if !errors.Is(err, ErrAuthenticationFailed) {
				t.Fatalf("byte %d bit %d: expected ErrAuthenticationFailed, got %v", i, bit, err)
			}
			if name != "" || size != 0 {
				t.Fatalf("byte %d bit %d: metadata returned on failure", i, bit)
			}
		}
	}

	if _, _, err := DecryptMetadata(key, nonce, ct[:len(ct)-1]); !errors.Is(err, ErrAuthenticationFailed) {
		t.Errorf("Expected ErrAuthenticationFailed for truncated metadata, got %v", err)
	}
}

func TestParseMetadata(t *testing.T) {
	if _, _, err := ParseMetadata("nosize"); !errors.Is(err, ErrMalformedMetadata) {
		t.Errorf("Expected ErrMalformedMetadata, got %v", err)
	}
	if _, _, err := ParseMetadata("file-abc"); !errors.Is(err, ErrMalformedMetadata) {
		t.Errorf("Expected ErrMalformedMetadata, got %v", err)
	}
	name, size, err := ParseMetadata("-0")
	if err != nil || name != "" || size != 0 {
		t.Errorf("ParseMetadata(\"-0\") = (%q, %d, %v)", name, size, err)
	}
}

func TestContentDigest(t *testing.T) {
	d := ContentDigest([]byte("ciphertext"))
	if len(d) != 64 {
		t.Fatalf("Digest length = %d, want 64", len(d))
	}
	if d != ContentDigest([]byte("ciphertext")) {
		t.Error("ContentDigest is not deterministic")
	}
	if d == ContentDigest([]byte("ciphertexT")) {
		t.Error("Distinct inputs share a digest")
	}
}

func FuzzDecryptFile(f *testing.F) {
	key := make([]byte, KeySize)
	env, _ := EncryptFile(key, []byte("seed corpus"))
	f.Add(env)
	f.Add([]byte{})
	f.Add(make([]byte, NonceSize+TagSize))

	f.Fuzz(func(t *testing.T, data []byte) {
		out, err := DecryptFile(key, data)
		if err != nil && out != nil {
			t.Fatal("plaintext returned alongside an error")
		}
	})
}
