// Package notary implements C2: hashing a mutation and producing/verifying
// detached Ed25519 signatures over that hash. Grounded on
// internal/federation/crypto_provider.go's Ed25519Provider — the same
// sign-over-digest shape, narrowed to the single algorithm spec §4.2 names
// (Ed25519 only; that file's dual ECDSA/Ed25519 CryptoProvider interface
// is not needed here since the AEC never negotiates a tenant algorithm).
package notary

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
)

// Digest is a 32-byte SHA-256 digest.
type Digest = [32]byte

// Hash returns the SHA-256 digest of payload. Signatures are always taken
// over this digest, never the raw payload, so verification cost is
// independent of mutation size.
func Hash(payload []byte) Digest {
	return sha256.Sum256(payload)
}

// Keypair generates a fresh Ed25519 key pair.
func Keypair() (ed25519.PublicKey, ed25519.PrivateKey, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("notary: keypair generation: %w", err)
	}
	return pub, priv, nil
}

// Sign produces a detached Ed25519 signature over Hash(payload).
func Sign(payload []byte, priv ed25519.PrivateKey) ([]byte, error) {
	if len(priv) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("notary: invalid private key size %d", len(priv))
	}
	digest := Hash(payload)
	return ed25519.Sign(priv, digest[:]), nil
}

// Verify reports whether sig is a valid Ed25519 signature over Hash(payload)
// under pub.
func Verify(payload, sig []byte, pub ed25519.PublicKey) bool {
	if len(pub) != ed25519.PublicKeySize {
		return false
	}
	digest := Hash(payload)
	return ed25519.Verify(pub, digest[:], sig)
}
