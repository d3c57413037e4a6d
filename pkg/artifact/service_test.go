// Copyright 2025 AetherEngine
//
// Unit tests for state-machine input validation (no database required).
// The full transition behavior is covered by the integration tests in
// pkg/server/integration_test.go, which run against a real PostgreSQL.

package artifact

import (
	"context"
	"net/http"
	"strings"
	"testing"

	"github.com/aether-engine/aether/pkg/apierror"
	"github.com/aether-engine/aether/pkg/config"
	"github.com/aether-engine/aether/pkg/metrics"
	"github.com/aether-engine/aether/pkg/provenance"
	"github.com/aether-engine/aether/pkg/storage"
)

func validationService(t *testing.T) *Service {
	t.Helper()
	cfg := &config.Config{
		MaxConcurrentUploads: 4,
		MaxArtifactSizeBytes: 1024,
		ProvenanceDir:        t.TempDir(),
		SBOMDir:              t.TempDir(),
		ManifestDir:          t.TempDir(),
	}
	m := metrics.New()
	emitter := provenance.NewEmitter(cfg, m, nil)
	return NewService(cfg, nil, storage.NewMockBackend("http://x", "b"), emitter, m, nil)
}

func expectCode(t *testing.T, err error, status int, code string) {
	t.Helper()
	if err == nil {
		t.Fatal("expected an error")
	}
	apiErr, ok := err.(*apierror.Error)
	if !ok {
		t.Fatalf("expected *apierror.Error, got %T (%v)", err, err)
	}
	if apiErr.Status != status || apiErr.Code != code {
		t.Errorf("expected %d/%s, got %d/%s", status, code, apiErr.Status, apiErr.Code)
	}
}

func TestPresignValidation(t *testing.T) {
	s := validationService(t)
	ctx := context.Background()

	_, err := s.Presign(ctx, &PresignRequest{AppName: "", Digest: strings.Repeat("a", 64)})
	expectCode(t, err, http.StatusBadRequest, "bad_request")

	_, err = s.Presign(ctx, &PresignRequest{AppName: "demo", Digest: strings.Repeat("a", 63)})
	expectCode(t, err, http.StatusBadRequest, "invalid_digest")

	_, err = s.Presign(ctx, &PresignRequest{AppName: "demo", Digest: strings.Repeat("a", 65)})
	expectCode(t, err, http.StatusBadRequest, "invalid_digest")
}

func TestCompleteValidation(t *testing.T) {
	s := validationService(t)
	ctx := context.Background()
	digest := strings.Repeat("a", 64)

	_, err := s.Complete(ctx, &CompleteRequest{AppName: "demo", Digest: "xyz", SizeBytes: 1})
	expectCode(t, err, http.StatusBadRequest, "invalid_digest")

	_, err = s.Complete(ctx, &CompleteRequest{AppName: "demo", Digest: digest, SizeBytes: -1})
	expectCode(t, err, http.StatusBadRequest, "bad_request")

	// Size exactly at the max passes validation; max+1 is rejected before
	// any storage or database access.
	_, err = s.Complete(ctx, &CompleteRequest{AppName: "demo", Digest: digest, SizeBytes: 1025})
	expectCode(t, err, http.StatusBadRequest, "size_exceeded")
}

func TestMultipartValidation(t *testing.T) {
	s := validationService(t)
	ctx := context.Background()
	digest := strings.Repeat("a", 64)

	_, err := s.MultipartPresignPart(ctx, &MultipartPresignPartRequest{Digest: "bad", UploadID: "u", PartNumber: 1})
	expectCode(t, err, http.StatusBadRequest, "invalid_digest")

	_, err = s.MultipartPresignPart(ctx, &MultipartPresignPartRequest{Digest: digest, UploadID: "u", PartNumber: 0})
	expectCode(t, err, http.StatusBadRequest, "bad_request")

	_, err = s.MultipartComplete(ctx, &MultipartCompleteRequest{AppName: "demo", Digest: digest, UploadID: "u"})
	expectCode(t, err, http.StatusBadRequest, "bad_request")

	_, err = s.MultipartComplete(ctx, &MultipartCompleteRequest{
		AppName: "demo", Digest: digest, UploadID: "u",
		Parts: []storage.Part{{Number: 0, ETag: ""}},
	})
	expectCode(t, err, http.StatusBadRequest, "bad_request")
}

func TestStorageKeyLayout(t *testing.T) {
	digest := strings.Repeat("a", 64)
	want := "artifacts/demo/" + digest + "/app.tar.gz"
	if got := storageKeyFor("demo", digest); got != want {
		t.Errorf("storage key %q, want %q", got, want)
	}
}
