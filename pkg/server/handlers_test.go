// Copyright 2025 AetherEngine
//
// Unit tests for handler validation paths that need no database

package server

import (
	"compress/gzip"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/aether-engine/aether/pkg/config"
)

func TestArtifactSubresourceRejectsBadDigest(t *testing.T) {
	h := NewArtifactHandlers(nil, nil, nil, nil, nil)

	for _, digest := range []string{
		strings.Repeat("a", 63),
		strings.Repeat("a", 65),
		strings.Repeat("g", 64),
	} {
		req := httptest.NewRequest(http.MethodGet, "/artifacts/"+digest+"/meta", nil)
		rr := httptest.NewRecorder()
		h.HandleArtifactSubresource(rr, req)

		if rr.Code != http.StatusBadRequest {
			t.Errorf("digest %q: expected 400, got %d", digest, rr.Code)
			continue
		}
		if body := decodeErrorBody(t, rr); body.Code != "invalid_digest" {
			t.Errorf("digest %q: expected code invalid_digest, got %s", digest, body.Code)
		}
	}
}

func TestPresignMethodNotAllowed(t *testing.T) {
	h := NewArtifactHandlers(nil, nil, nil, nil, nil)
	req := httptest.NewRequest(http.MethodGet, "/artifacts/presign", nil)
	rr := httptest.NewRecorder()
	h.HandlePresign(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rr.Code)
	}
}

func TestPresignRejectsBadBody(t *testing.T) {
	h := NewArtifactHandlers(nil, nil, nil, nil, nil)
	req := httptest.NewRequest(http.MethodPost, "/artifacts/presign", strings.NewReader("{"))
	rr := httptest.NewRecorder()
	h.HandlePresign(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for malformed body, got %d", rr.Code)
	}
}

func TestProvenanceSubresourceBadDigest(t *testing.T) {
	h := NewProvenanceHandlers(&config.Config{ProvenanceDir: t.TempDir()}, nil, nil)
	req := httptest.NewRequest(http.MethodGet, "/provenance/"+strings.Repeat("a", 10), nil)
	rr := httptest.NewRecorder()
	h.HandleProvenanceSubresource(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rr.Code)
	}
}

func TestProvenanceNotFound(t *testing.T) {
	h := NewProvenanceHandlers(&config.Config{ProvenanceDir: t.TempDir()}, nil, nil)
	digest := strings.Repeat("a", 64)

	req := httptest.NewRequest(http.MethodGet, "/provenance/"+digest, nil)
	rr := httptest.NewRecorder()
	h.HandleProvenanceSubresource(rr, req)
	if rr.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rr.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/provenance/"+digest+"/attestation", nil)
	rr = httptest.NewRecorder()
	h.HandleProvenanceSubresource(rr, req)
	if rr.Code != http.StatusNotFound {
		t.Errorf("expected 404 for attestation, got %d", rr.Code)
	}
}

func TestListKeysEmptyKeystore(t *testing.T) {
	h := NewProvenanceHandlers(&config.Config{ProvenanceDir: t.TempDir()}, nil, nil)
	req := httptest.NewRequest(http.MethodGet, "/keys", nil)
	rr := httptest.NewRecorder()
	h.HandleListKeys(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if body := strings.TrimSpace(rr.Body.String()); body != "[]" {
		t.Errorf("expected empty array, got %s", body)
	}
}

// ============================================================================
// Immutable content serving
// ============================================================================

func TestServeImmutableJSONETag(t *testing.T) {
	body := []byte(`{"hello":"world"}`)

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	rr := httptest.NewRecorder()
	serveImmutableJSON(rr, req, body)

	etag := rr.Header().Get("ETag")
	if etag == "" || !strings.HasPrefix(etag, `"`) {
		t.Fatalf("expected quoted etag, got %q", etag)
	}
	if rr.Body.String() != string(body) {
		t.Error("body must round-trip uncompressed")
	}

	// Conditional request with the same ETag returns 304.
	req = httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("If-None-Match", etag)
	rr = httptest.NewRecorder()
	serveImmutableJSON(rr, req, body)
	if rr.Code != http.StatusNotModified {
		t.Errorf("expected 304, got %d", rr.Code)
	}
}

func TestServeImmutableJSONGzip(t *testing.T) {
	body := []byte(`{"hello":"` + strings.Repeat("w", 2048) + `"}`)

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("Accept-Encoding", "gzip, deflate")
	rr := httptest.NewRecorder()
	serveImmutableJSON(rr, req, body)

	if rr.Header().Get("Content-Encoding") != "gzip" {
		t.Fatal("expected gzip encoding")
	}
	gz, err := gzip.NewReader(rr.Body)
	if err != nil {
		t.Fatalf("gzip reader: %v", err)
	}
	decoded, err := io.ReadAll(gz)
	if err != nil {
		t.Fatalf("gzip decode: %v", err)
	}
	if string(decoded) != string(body) {
		t.Error("gzip body must decode to the original bytes")
	}
}

func TestDigestFromArtifactURL(t *testing.T) {
	digest := strings.Repeat("a", 64)
	cases := map[string]string{
		"file://" + digest:                                digest,
		"artifacts/demo/" + digest + "/app.tar.gz":        digest,
		"https://cdn.example.com/" + digest + "/x.tar.gz": digest,
		"file:///data/artifacts/plain.tar.gz":             "",
	}
	for in, want := range cases {
		if got := digestFromArtifactURL(in); got != want {
			t.Errorf("digestFromArtifactURL(%q) = %q, want %q", in, got, want)
		}
	}
}
