// Copyright 2025 AetherEngine
//
// Artifact API Handlers
// Upload protocol surface: two-phase presign/complete, the multipart
// variants, the deprecated legacy direct upload, and metadata reads.

package server

import (
	"encoding/json"
	"io"
	"log"
	"net/http"
	"strconv"

	"github.com/aether-engine/aether/pkg/apierror"
	"github.com/aether-engine/aether/pkg/artifact"
	"github.com/aether-engine/aether/pkg/database"
	"github.com/aether-engine/aether/pkg/metrics"
	"github.com/aether-engine/aether/pkg/signing"
)

// ArtifactHandlers provides HTTP handlers for the artifact lifecycle
type ArtifactHandlers struct {
	service *artifact.Service
	repos   *database.Repositories
	metrics *metrics.Metrics
	sboms   *SBOMHandlers
	logger  *log.Logger
}

// NewArtifactHandlers creates new artifact handlers
func NewArtifactHandlers(service *artifact.Service, repos *database.Repositories,
	m *metrics.Metrics, sboms *SBOMHandlers, logger *log.Logger) *ArtifactHandlers {
	if logger == nil {
		logger = log.New(log.Writer(), "[ArtifactAPI] ", log.LstdFlags)
	}
	return &ArtifactHandlers{service: service, repos: repos, metrics: m, sboms: sboms, logger: logger}
}

// observePutDuration records the client-reported raw PUT duration header
func (h *ArtifactHandlers) observePutDuration(r *http.Request) {
	if v := r.Header.Get("X-Aether-Upload-Duration"); v != "" {
		if secs, err := strconv.ParseFloat(v, 64); err == nil {
			h.metrics.ArtifactPutDuration.Observe(secs)
		}
	}
}

// HandlePresign handles POST /artifacts/presign
func (h *ArtifactHandlers) HandlePresign(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, apierror.BadRequest("method not allowed"))
		return
	}
	var req artifact.PresignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apierror.BadRequest("invalid request body"))
		return
	}
	resp, err := h.service.Presign(r.Context(), &req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// HandleComplete handles POST /artifacts/complete
func (h *ArtifactHandlers) HandleComplete(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, apierror.BadRequest("method not allowed"))
		return
	}
	var req artifact.CompleteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apierror.BadRequest("invalid request body"))
		return
	}
	resp, err := h.service.Complete(r.Context(), &req)
	if err != nil {
		writeError(w, err)
		return
	}
	h.observePutDuration(r)
	writeJSON(w, http.StatusOK, resp)
}

// HandleMultipartInit handles POST /artifacts/multipart/init
func (h *ArtifactHandlers) HandleMultipartInit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, apierror.BadRequest("method not allowed"))
		return
	}
	var req artifact.MultipartInitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apierror.BadRequest("invalid request body"))
		return
	}
	resp, err := h.service.MultipartInit(r.Context(), &req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// HandleMultipartPresignPart handles POST /artifacts/multipart/presign-part
func (h *ArtifactHandlers) HandleMultipartPresignPart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, apierror.BadRequest("method not allowed"))
		return
	}
	var req artifact.MultipartPresignPartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apierror.BadRequest("invalid request body"))
		return
	}
	resp, err := h.service.MultipartPresignPart(r.Context(), &req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// HandleMultipartComplete handles POST /artifacts/multipart/complete
func (h *ArtifactHandlers) HandleMultipartComplete(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, apierror.BadRequest("method not allowed"))
		return
	}
	var req artifact.MultipartCompleteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apierror.BadRequest("invalid request body"))
		return
	}
	resp, err := h.service.MultipartComplete(r.Context(), &req)
	if err != nil {
		writeError(w, err)
		return
	}
	h.observePutDuration(r)
	writeJSON(w, http.StatusOK, resp)
}

// HandleArtifacts handles /artifacts: POST legacy direct upload (emits a
// deprecation header) and GET list.
func (h *ArtifactHandlers) HandleArtifacts(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.handleList(w, r)
	case http.MethodPost:
		h.handleLegacyUpload(w, r)
	default:
		writeError(w, apierror.BadRequest("method not allowed"))
	}
}

func (h *ArtifactHandlers) handleList(w http.ResponseWriter, r *http.Request) {
	rows, err := h.repos.Artifacts.List(r.Context(), 500)
	if err != nil {
		writeError(w, apierror.Internal("db"))
		return
	}
	type item struct {
		ID        string `json:"id"`
		Digest    string `json:"digest"`
		SizeBytes int64  `json:"size_bytes"`
		Status    string `json:"status"`
		Verified  bool   `json:"verified"`
	}
	out := make([]item, 0, len(rows))
	for _, a := range rows {
		out = append(out, item{
			ID: a.ID.String(), Digest: a.Digest, SizeBytes: a.SizeBytes,
			Status: string(a.Status), Verified: a.Verified,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *ArtifactHandlers) handleLegacyUpload(w http.ResponseWriter, r *http.Request) {
	h.logger.Printf("legacy upload endpoint used (deprecated)")

	digest := r.Header.Get("X-Aether-Artifact-Digest")
	if digest == "" {
		writeError(w, apierror.New(http.StatusBadRequest, apierror.CodeBadRequest,
			"X-Aether-Artifact-Digest required"))
		return
	}
	var sig *string
	if s := r.Header.Get("X-Aether-Signature"); s != "" {
		sig = &s
	}

	reader, err := r.MultipartReader()
	if err != nil {
		writeError(w, apierror.BadRequest("multipart/form-data required"))
		return
	}
	var appName string
	var resp *artifact.LegacyUploadResponse
	var uploadErr error
	sawArtifact := false
	for {
		part, err := reader.NextPart()
		if err != nil {
			break
		}
		switch part.FormName() {
		case "app_name":
			val, _ := io.ReadAll(io.LimitReader(part, 256))
			appName = string(val)
		case "artifact":
			sawArtifact = true
			resp, uploadErr = h.service.LegacyUpload(r.Context(), appName, digest, sig, part)
		}
		part.Close()
	}
	if !sawArtifact {
		writeError(w, apierror.BadRequest("missing artifact file"))
		return
	}
	if uploadErr != nil {
		writeError(w, uploadErr)
		return
	}
	h.observePutDuration(r)
	w.Header().Set("X-Aether-Deprecated", "true")
	writeJSON(w, http.StatusOK, resp)
}

// HandleArtifactSubresource dispatches /artifacts/{digest}[/...]:
//
//	HEAD /artifacts/{digest}           existence probe
//	GET  /artifacts/{digest}/meta      row fetch
//	POST /artifacts/{digest}/sbom      SBOM upload
//	GET  /artifacts/{digest}/sbom      SBOM fetch
//	POST /artifacts/{digest}/manifest  manifest upload
//	GET  /artifacts/{digest}/manifest  manifest fetch
func (h *ArtifactHandlers) HandleArtifactSubresource(w http.ResponseWriter, r *http.Request) {
	segments := pathSegments(r.URL.Path, "/artifacts/")
	if len(segments) == 0 {
		writeError(w, apierror.NotFound("not found"))
		return
	}
	digest := segments[0]
	if !signing.IsDigest(digest) {
		writeError(w, apierror.New(http.StatusBadRequest, apierror.CodeInvalidDigest, "digest must be 64 hex"))
		return
	}

	if len(segments) == 1 {
		if r.Method != http.MethodHead {
			writeError(w, apierror.BadRequest("method not allowed"))
			return
		}
		h.handleHead(w, r, digest)
		return
	}

	switch segments[1] {
	case "meta":
		if r.Method != http.MethodGet {
			writeError(w, apierror.BadRequest("method not allowed"))
			return
		}
		h.handleMeta(w, r, digest)
	case "sbom":
		switch r.Method {
		case http.MethodPost:
			h.sboms.HandleUploadSBOM(w, r, digest)
		case http.MethodGet:
			h.sboms.HandleGetSBOM(w, r, digest)
		default:
			writeError(w, apierror.BadRequest("method not allowed"))
		}
	case "manifest":
		switch r.Method {
		case http.MethodPost:
			h.sboms.HandleUploadManifest(w, r, digest)
		case http.MethodGet:
			h.sboms.HandleGetManifest(w, r, digest)
		default:
			writeError(w, apierror.BadRequest("method not allowed"))
		}
	default:
		writeError(w, apierror.NotFound("not found"))
	}
}

func (h *ArtifactHandlers) handleHead(w http.ResponseWriter, r *http.Request, digest string) {
	exists, err := h.repos.Artifacts.Exists(r.Context(), digest)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	if exists {
		w.WriteHeader(http.StatusOK)
	} else {
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *ArtifactHandlers) handleMeta(w http.ResponseWriter, r *http.Request, digest string) {
	row, err := h.repos.Artifacts.GetByDigest(r.Context(), digest)
	if err == database.ErrArtifactNotFound {
		writeError(w, apierror.NotFound("artifact not found"))
		return
	}
	if err != nil {
		writeError(w, apierror.Internal("db"))
		return
	}
	writeJSON(w, http.StatusOK, artifactMeta(row))
}

// artifactMeta flattens sql.Null* fields into a plain JSON row
func artifactMeta(a *database.Artifact) map[string]any {
	meta := map[string]any{
		"id":                 a.ID.String(),
		"digest":             a.Digest,
		"size_bytes":         a.SizeBytes,
		"verified":           a.Verified,
		"status":             string(a.Status),
		"created_at":         a.CreatedAt,
		"provenance_present": a.ProvenancePresent,
		"sbom_validated":     a.SBOMValidated,
	}
	if a.AppID.Valid {
		meta["app_id"] = a.AppID.UUID.String()
	}
	if a.Signature.Valid {
		meta["signature"] = a.Signature.String
	}
	if a.SBOMURL.Valid {
		meta["sbom_url"] = a.SBOMURL.String
	}
	if a.ManifestURL.Valid {
		meta["manifest_url"] = a.ManifestURL.String
	}
	if a.StorageKey.Valid {
		meta["storage_key"] = a.StorageKey.String
	}
	if a.CompletedAt.Valid {
		meta["completed_at"] = a.CompletedAt.Time
	}
	if a.IdempotencyKey.Valid {
		meta["idempotency_key"] = a.IdempotencyKey.String
	}
	if a.MultipartUploadID.Valid {
		meta["multipart_upload_id"] = a.MultipartUploadID.String
	}
	if a.ManifestDigest.Valid {
		meta["manifest_digest"] = a.ManifestDigest.String
	}
	if a.SBOMManifestDigest.Valid {
		meta["sbom_manifest_digest"] = a.SBOMManifestDigest.String
	}
	return meta
}
