// Copyright 2025 AetherEngine
//
// Attestation Keystore
// provenance_keys.json lives beside the provenance output and overrides
// the environment-supplied signing keys: a key whose status is retired
// stops signing even though its secret is still configured. The file is
// re-read on every signing attempt; caching it would break rotation.

package provenance

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// KeystoreFilename is the well-known keystore name in the provenance dir
const KeystoreFilename = "provenance_keys.json"

// KeyStatus in the keystore file
type KeyStatus string

const (
	KeyStatusActive  KeyStatus = "active"
	KeyStatusRetired KeyStatus = "retired"
)

// KeyMeta is one keystore entry
type KeyMeta struct {
	KeyID     string    `json:"key_id"`
	Status    KeyStatus `json:"status"`
	Created   string    `json:"created,omitempty"`
	NotBefore string    `json:"not_before,omitempty"`
	NotAfter  string    `json:"not_after,omitempty"`
}

// LoadKeystore reads the keystore file from dir. A missing file returns an
// empty list and no error: env-configured keys then default to active.
func LoadKeystore(dir string) ([]KeyMeta, error) {
	path := filepath.Join(dir, KeystoreFilename)
	content, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read keystore: %w", err)
	}
	var keys []KeyMeta
	if err := json.Unmarshal(content, &keys); err != nil {
		return nil, fmt.Errorf("failed to parse keystore: %w", err)
	}
	out := keys[:0]
	for _, k := range keys {
		if k.KeyID != "" {
			out = append(out, k)
		}
	}
	return out, nil
}

// keyActive reports whether a configured key id may sign given the
// keystore contents. Absent from the keystore means active.
func keyActive(keystore []KeyMeta, keyID string) bool {
	for _, k := range keystore {
		if k.KeyID == keyID {
			return k.Status == KeyStatusActive
		}
	}
	return true
}
