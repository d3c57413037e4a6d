// Copyright 2025 AetherEngine
//
// Unit tests for manifest parsing and digest computation

package manifest

import (
	"crypto/sha256"
	"encoding/hex"
	"testing"
)

func TestDigestIsOrderIndependent(t *testing.T) {
	a := &Manifest{Files: []File{{Path: "/a", SHA256: "aaaa"}, {Path: "/b", SHA256: "bbbb"}}}
	b := &Manifest{Files: []File{{Path: "/b", SHA256: "bbbb"}, {Path: "/a", SHA256: "aaaa"}}}
	if a.Digest() != b.Digest() {
		t.Error("digest must not depend on entry order")
	}
}

func TestDigestMatchesConcatenation(t *testing.T) {
	m := &Manifest{Files: []File{{Path: "/a", SHA256: "aaaa"}, {Path: "/b", SHA256: "bbbb"}}}
	h := sha256.New()
	h.Write([]byte("/a"))
	h.Write([]byte("aaaa"))
	h.Write([]byte("/b"))
	h.Write([]byte("bbbb"))
	want := hex.EncodeToString(h.Sum(nil))
	if got := m.Digest(); got != want {
		t.Errorf("digest mismatch: got %s want %s", got, want)
	}
}

func TestDigestSensitivity(t *testing.T) {
	base := &Manifest{Files: []File{{Path: "/a", SHA256: "aaaa"}}}
	changed := &Manifest{Files: []File{{Path: "/a", SHA256: "aaab"}}}
	if base.Digest() == changed.Digest() {
		t.Error("changing a file hash must change the manifest digest")
	}
}

func TestParseRejectsEmpty(t *testing.T) {
	if _, err := Parse([]byte(`{"files":[]}`)); err == nil {
		t.Error("empty file list must be rejected")
	}
	if _, err := Parse([]byte(`not json`)); err == nil {
		t.Error("malformed json must be rejected")
	}
}

func TestParseRoundTrip(t *testing.T) {
	m, err := Parse([]byte(`{"files":[{"path":"src/index.js","sha256":"deadbeef"}]}`))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if len(m.Files) != 1 || m.Files[0].Path != "src/index.js" {
		t.Errorf("unexpected manifest: %+v", m)
	}
}
