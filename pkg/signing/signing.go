// Copyright 2025 AetherEngine
//
// Artifact Signing & Verification
// Ed25519 over the 64-hex digest bytes as ASCII. Verification is advisory:
// a bad or unverifiable signature marks the artifact verified=false, it
// does not reject the upload.

package signing

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// SignDigest signs an artifact digest with a 32-byte seed and returns the
// 128-hex signature
func SignDigest(seed []byte, digest string) (string, error) {
	if len(seed) != ed25519.SeedSize {
		return "", fmt.Errorf("signing seed must be %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	key := ed25519.NewKeyFromSeed(seed)
	sig := ed25519.Sign(key, []byte(digest))
	return hex.EncodeToString(sig), nil
}

// VerifyDigest checks a 128-hex signature over the digest against the
// application's active public keys; the first success wins.
func VerifyDigest(digest, sigHex string, activeKeysHex []string) bool {
	if len(sigHex) != 128 || !isHex(sigHex) {
		return false
	}
	sig, err := hex.DecodeString(sigHex)
	if err != nil {
		return false
	}
	for _, pkHex := range activeKeysHex {
		pk, err := hex.DecodeString(pkHex)
		if err != nil || len(pk) != ed25519.PublicKeySize {
			continue
		}
		if ed25519.Verify(ed25519.PublicKey(pk), []byte(digest), sig) {
			return true
		}
	}
	return false
}

// GenerateKeypair returns (seedHex, publicKeyHex) for a fresh signing key
func GenerateKeypair() (string, string, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return "", "", fmt.Errorf("failed to generate key: %w", err)
	}
	return hex.EncodeToString(priv.Seed()), hex.EncodeToString(pub), nil
}

func isHex(s string) bool {
	for _, c := range s {
		switch {
		case c >= '0' && c <= '9', c >= 'a' && c <= 'f', c >= 'A' && c <= 'F':
		default:
			return false
		}
	}
	return true
}

// IsDigest reports whether s is a well-formed 64-hex artifact digest
func IsDigest(s string) bool {
	return len(s) == 64 && isHex(s)
}
