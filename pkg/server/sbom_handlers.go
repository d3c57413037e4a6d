// Copyright 2025 AetherEngine
//
// SBOM & Manifest API Handlers
// Uploads are cross-validated: the SBOM's x-manifest-digest and the
// server-computed manifest digest must agree whichever arrives first, and
// a mismatched second upload is rejected without persisting.

package server

import (
	"database/sql"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"

	"github.com/aether-engine/aether/pkg/apierror"
	"github.com/aether-engine/aether/pkg/config"
	"github.com/aether-engine/aether/pkg/database"
	"github.com/aether-engine/aether/pkg/manifest"
	"github.com/aether-engine/aether/pkg/metrics"
	"github.com/aether-engine/aether/pkg/sbom"
)

// SBOMHandlers provides HTTP handlers for SBOM and manifest documents
type SBOMHandlers struct {
	cfg     *config.Config
	repos   *database.Repositories
	metrics *metrics.Metrics
	logger  *log.Logger
}

// NewSBOMHandlers creates new SBOM handlers
func NewSBOMHandlers(cfg *config.Config, repos *database.Repositories, m *metrics.Metrics, logger *log.Logger) *SBOMHandlers {
	if logger == nil {
		logger = log.New(log.Writer(), "[SBOMAPI] ", log.LstdFlags)
	}
	return &SBOMHandlers{cfg: cfg, repos: repos, metrics: m, logger: logger}
}

func (h *SBOMHandlers) sbomPath(digest string) string {
	return filepath.Join(h.cfg.SBOMDir, digest+".sbom.json")
}

func (h *SBOMHandlers) manifestPath(digest string) string {
	return filepath.Join(h.cfg.ManifestDir, digest+".manifest.json")
}

// HandleUploadSBOM handles POST /artifacts/{digest}/sbom
func (h *SBOMHandlers) HandleUploadSBOM(w http.ResponseWriter, r *http.Request, digest string) {
	h.metrics.SBOMUploads.Inc()

	row, err := h.repos.Artifacts.GetByDigest(r.Context(), digest)
	if err == database.ErrArtifactNotFound {
		h.metrics.SBOMUploadStatus.WithLabelValues("not_found").Inc()
		writeError(w, apierror.NotFound("artifact not found"))
		return
	}
	if err != nil {
		writeError(w, apierror.Internal("db"))
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, sbom.MaxDocumentBytes+1))
	if err != nil {
		writeError(w, apierror.Internal("read body"))
		return
	}
	if len(body) > sbom.MaxDocumentBytes {
		h.metrics.SBOMUploadStatus.WithLabelValues("too_large").Inc()
		writeError(w, apierror.BadRequest("sbom too large (max 2MB)"))
		return
	}

	result, err := sbom.Validate(body, h.cfg.CycloneDXFullSchema)
	if err != nil {
		h.metrics.SBOMUploadStatus.WithLabelValues("invalid").Inc()
		h.metrics.SBOMValidation.WithLabelValues("fail").Inc()
		h.metrics.SBOMInvalid.Inc()
		writeError(w, apierror.BadRequest(fmt.Sprintf("invalid SBOM: %v", err)))
		return
	}
	isCycloneDX := result.Format == sbom.FormatCycloneDX
	if isCycloneDX {
		h.metrics.SBOMUploadStatus.WithLabelValues("cyclonedx_valid").Inc()
		h.metrics.SBOMValidation.WithLabelValues("ok").Inc()
	} else {
		h.metrics.SBOMUploadStatus.WithLabelValues("legacy_ok").Inc()
	}

	// Cross-check against the manifest digest if the manifest arrived first.
	// A mismatch is terminal: nothing is persisted.
	if result.ManifestDigest != "" && row.ManifestDigest.Valid &&
		row.ManifestDigest.String != result.ManifestDigest {
		h.metrics.SBOMInvalid.Inc()
		writeError(w, apierror.BadRequest("manifest digest mismatch (SBOM vs manifest)"))
		return
	}

	if err := os.MkdirAll(h.cfg.SBOMDir, 0o755); err != nil {
		writeError(w, apierror.Internal("create sbom dir"))
		return
	}
	if err := os.WriteFile(h.sbomPath(digest), body, 0o644); err != nil {
		writeError(w, apierror.Internal("write sbom"))
		return
	}

	url := fmt.Sprintf("/artifacts/%s/sbom", digest)
	declared := sql.NullString{String: result.ManifestDigest, Valid: result.ManifestDigest != ""}
	if err := h.repos.Artifacts.SetSBOM(r.Context(), digest, url, isCycloneDX, declared); err != nil {
		writeError(w, apierror.Internal("db update"))
		return
	}

	h.logger.Printf("sbom uploaded for %s (len=%d cyclonedx=%v)", digest, len(body), isCycloneDX)
	writeJSON(w, http.StatusCreated, map[string]any{
		"status":    "ok",
		"cyclonedx": isCycloneDX,
		"url":       url,
	})
}

// HandleGetSBOM handles GET /artifacts/{digest}/sbom
func (h *SBOMHandlers) HandleGetSBOM(w http.ResponseWriter, r *http.Request, digest string) {
	body, err := os.ReadFile(h.sbomPath(digest))
	if os.IsNotExist(err) {
		writeError(w, apierror.NotFound("sbom not found"))
		return
	}
	if err != nil {
		writeError(w, apierror.Internal("read sbom"))
		return
	}
	serveImmutableJSON(w, r, body)
}

// HandleUploadManifest handles POST /artifacts/{digest}/manifest. The
// server recomputes the manifest digest from the sorted entries.
func (h *SBOMHandlers) HandleUploadManifest(w http.ResponseWriter, r *http.Request, digest string) {
	row, err := h.repos.Artifacts.GetByDigest(r.Context(), digest)
	if err == database.ErrArtifactNotFound {
		writeError(w, apierror.NotFound("artifact not found"))
		return
	}
	if err != nil {
		writeError(w, apierror.Internal("db"))
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, apierror.Internal("read body"))
		return
	}
	parsed, err := manifest.Parse(body)
	if err != nil {
		writeError(w, apierror.BadRequest(err.Error()))
		return
	}
	manifestDigest := parsed.Digest()

	// Cross-check against the SBOM-declared digest if the SBOM arrived
	// first; a mismatch rejects the manifest without persisting it.
	if row.SBOMManifestDigest.Valid && row.SBOMManifestDigest.String != manifestDigest {
		writeError(w, apierror.BadRequest("manifest digest mismatch (manifest vs SBOM)"))
		return
	}

	if err := os.MkdirAll(h.cfg.ManifestDir, 0o755); err != nil {
		writeError(w, apierror.Internal("create manifest dir"))
		return
	}
	if err := os.WriteFile(h.manifestPath(digest), body, 0o644); err != nil {
		writeError(w, apierror.Internal("write manifest"))
		return
	}

	url := fmt.Sprintf("/artifacts/%s/manifest", digest)
	if err := h.repos.Artifacts.SetManifest(r.Context(), digest, url, manifestDigest); err != nil {
		writeError(w, apierror.Internal("db update"))
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"status":          "ok",
		"manifest_digest": manifestDigest,
		"url":             url,
	})
}

// HandleGetManifest handles GET /artifacts/{digest}/manifest
func (h *SBOMHandlers) HandleGetManifest(w http.ResponseWriter, r *http.Request, digest string) {
	body, err := os.ReadFile(h.manifestPath(digest))
	if os.IsNotExist(err) {
		writeError(w, apierror.NotFound("manifest not found"))
		return
	}
	if err != nil {
		writeError(w, apierror.Internal("read manifest"))
		return
	}
	serveImmutableJSON(w, r, body)
}
