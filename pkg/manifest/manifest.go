// Copyright 2025 AetherEngine
//
// File Manifest
// Shared between the packager (which generates manifests) and the control
// plane (which recomputes the manifest digest on upload). The digest is
// SHA-256 over path bytes followed by the per-file sha256 hex bytes, in
// lexicographic path order.

package manifest

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
)

// File is one manifest entry
type File struct {
	Path   string `json:"path"`
	SHA256 string `json:"sha256"`
}

// Manifest is the wire document `{files: [{path, sha256}]}`
type Manifest struct {
	Files []File `json:"files"`
}

// Parse decodes a manifest document and rejects empty file lists
func Parse(data []byte) (*Manifest, error) {
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("invalid manifest json: %w", err)
	}
	if len(m.Files) == 0 {
		return nil, fmt.Errorf("manifest has no files")
	}
	return &m, nil
}

// Digest computes the manifest digest over entries sorted by path
func (m *Manifest) Digest() string {
	entries := make([]File, len(m.Files))
	copy(entries, m.Files)
	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })

	h := sha256.New()
	for _, f := range entries {
		h.Write([]byte(f.Path))
		h.Write([]byte(f.SHA256))
	}
	return hex.EncodeToString(h.Sum(nil))
}
