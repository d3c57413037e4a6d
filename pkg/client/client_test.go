// Copyright 2025 AetherEngine
//
// Unit tests for the control-plane API client against httptest servers

package client

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aether-engine/aether/pkg/cli"
)

func writeArchive(t *testing.T, content []byte) (string, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "app.tar.gz")
	require.NoError(t, os.WriteFile(path, content, 0o644))
	sum := sha256.Sum256(content)
	return path, hex.EncodeToString(sum[:])
}

func TestUploadArtifactTwoPhase(t *testing.T) {
	content := []byte("artifact-bytes")
	archive, digest := writeArchive(t, content)

	var putBody []byte
	var completeReq map[string]any
	mux := http.NewServeMux()
	var serverURL string
	mux.HandleFunc("/artifacts/presign", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"upload_url":  serverURL + "/put-here",
			"storage_key": "artifacts/demo/" + digest + "/app.tar.gz",
			"method":      "PUT",
			"headers":     map[string]string{"x-amz-meta-sha256": digest},
		})
	})
	mux.HandleFunc("/put-here", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, digest, r.Header.Get("x-amz-meta-sha256"))
		putBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/artifacts/complete", func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&completeReq)
		assert.NotEmpty(t, r.Header.Get("X-Aether-Upload-Duration"))
		json.NewEncoder(w).Encode(map[string]any{
			"artifact_id": "id", "digest": digest, "duplicate": false,
			"verified": false, "storage_key": "sk", "status": "stored",
		})
	})
	server := httptest.NewServer(mux)
	defer server.Close()
	serverURL = server.URL

	c := New(server.URL, "tok")
	resp, err := c.UploadArtifact(context.Background(), "demo", digest, archive, int64(len(content)), nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "stored", resp.Status)
	assert.Equal(t, content, putBody, "uploaded bytes must match the archive")
	assert.Equal(t, float64(len(content)), completeReq["size_bytes"])
}

func TestUploadArtifactSkipsPutWhenAlreadyStored(t *testing.T) {
	content := []byte("dup")
	archive, digest := writeArchive(t, content)

	putCalled := false
	mux := http.NewServeMux()
	mux.HandleFunc("/artifacts/presign", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"upload_url": "", "storage_key": "sk", "method": "NONE",
			"headers": map[string]string{},
		})
	})
	mux.HandleFunc("/put-here", func(w http.ResponseWriter, r *http.Request) { putCalled = true })
	mux.HandleFunc("/artifacts/complete", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"artifact_id": "id", "digest": digest, "duplicate": true,
			"verified": false, "storage_key": "sk", "status": "stored",
		})
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	c := New(server.URL, "")
	resp, err := c.UploadArtifact(context.Background(), "demo", digest, archive, int64(len(content)), nil, nil)
	require.NoError(t, err)
	assert.True(t, resp.Duplicate)
	assert.False(t, putCalled, "method NONE must skip the upload")
}

func TestServerErrorMapsToCLIKind(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/artifacts/presign", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		json.NewEncoder(w).Encode(map[string]string{"code": "unauthorized", "message": "missing bearer token"})
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	c := New(server.URL, "")
	_, err := c.Presign(context.Background(), "demo", strings.Repeat("a", 64))
	require.Error(t, err)
	assert.Equal(t, 10, cli.ExitCode(err), "auth failures map to the config exit code")
}

func TestTransportErrorMapsToNetworkKind(t *testing.T) {
	c := New("http://127.0.0.1:1", "")
	_, err := c.Presign(context.Background(), "demo", strings.Repeat("a", 64))
	require.Error(t, err)
	assert.Equal(t, 40, cli.ExitCode(err))
}

func TestBearerTokenAttached(t *testing.T) {
	var sawAuth string
	mux := http.NewServeMux()
	mux.HandleFunc("/apps", func(w http.ResponseWriter, r *http.Request) {
		sawAuth = r.Header.Get("Authorization")
		json.NewEncoder(w).Encode([]App{{ID: "1", Name: "demo"}})
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	c := New(server.URL, "secret")
	apps, err := c.ListApps(context.Background())
	require.NoError(t, err)
	require.Len(t, apps, 1)
	assert.Equal(t, "Bearer secret", sawAuth)
}

func TestLegacyUploadSendsDigestHeader(t *testing.T) {
	content := []byte("legacy-bytes")
	archive, digest := writeArchive(t, content)

	mux := http.NewServeMux()
	mux.HandleFunc("/artifacts", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, digest, r.Header.Get("X-Aether-Artifact-Digest"))
		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "demo", r.FormValue("app_name"))
		file, _, err := r.FormFile("artifact")
		require.NoError(t, err)
		uploaded, _ := io.ReadAll(file)
		assert.Equal(t, content, uploaded)

		w.Header().Set("X-Aether-Deprecated", "true")
		json.NewEncoder(w).Encode(map[string]any{
			"artifact_url": "file://x", "digest": digest, "duplicate": false, "verified": false,
		})
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	c := New(server.URL, "")
	resp, err := c.LegacyUpload(context.Background(), "demo", digest, archive, nil)
	require.NoError(t, err)
	assert.Equal(t, digest, resp.Digest)
}

func TestStreamLogs(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/apps/demo/logs", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "100", r.URL.Query().Get("tail_lines"))
		io.WriteString(w, "line1\nline2\n")
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	var buf strings.Builder
	c := New(server.URL, "")
	err := c.StreamLogs(context.Background(), "demo", 100, false, &buf)
	require.NoError(t, err)
	assert.Equal(t, "line1\nline2\n", buf.String())
}
