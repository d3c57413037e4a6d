// Copyright 2025 AetherEngine
//
// Application & Deployment API Handlers
// Deployment creation re-emits provenance for the referenced digest so
// attestations always reflect the currently-active key set.

package server

import (
	"database/sql"
	"encoding/json"
	"log"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/aether-engine/aether/pkg/apierror"
	"github.com/aether-engine/aether/pkg/config"
	"github.com/aether-engine/aether/pkg/database"
	"github.com/aether-engine/aether/pkg/metrics"
	"github.com/aether-engine/aether/pkg/provenance"
	"github.com/aether-engine/aether/pkg/signing"
)

// AppHandlers provides HTTP handlers for applications and deployments
type AppHandlers struct {
	cfg     *config.Config
	repos   *database.Repositories
	emitter *provenance.Emitter
	metrics *metrics.Metrics
	logger  *log.Logger
}

// NewAppHandlers creates new application handlers
func NewAppHandlers(cfg *config.Config, repos *database.Repositories, emitter *provenance.Emitter,
	m *metrics.Metrics, logger *log.Logger) *AppHandlers {
	if logger == nil {
		logger = log.New(log.Writer(), "[AppAPI] ", log.LstdFlags)
	}
	return &AppHandlers{cfg: cfg, repos: repos, emitter: emitter, metrics: m, logger: logger}
}

// HandleApps handles /apps: POST create, GET list
func (h *AppHandlers) HandleApps(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		var req struct {
			Name string `json:"name"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.Name) == "" {
			writeError(w, apierror.BadRequest("name required"))
			return
		}
		app, err := h.repos.Apps.Create(r.Context(), strings.TrimSpace(req.Name))
		if err == database.ErrDuplicateName {
			writeError(w, apierror.Conflict("application name exists"))
			return
		}
		if err != nil {
			writeError(w, apierror.Internal("db insert"))
			return
		}
		h.logger.Printf("application %s created (%s)", app.Name, app.ID)
		writeJSON(w, http.StatusCreated, map[string]any{"id": app.ID, "name": app.Name})
	case http.MethodGet:
		apps, err := h.repos.Apps.List(r.Context())
		if err != nil {
			writeError(w, apierror.Internal("db query"))
			return
		}
		type item struct {
			ID   uuid.UUID `json:"id"`
			Name string    `json:"name"`
		}
		out := make([]item, 0, len(apps))
		for _, a := range apps {
			out = append(out, item{ID: a.ID, Name: a.Name})
		}
		writeJSON(w, http.StatusOK, out)
	default:
		writeError(w, apierror.BadRequest("method not allowed"))
	}
}

// HandleAppSubresource dispatches /apps/{name}/deployments
func (h *AppHandlers) HandleAppSubresource(w http.ResponseWriter, r *http.Request) {
	segments := pathSegments(r.URL.Path, "/apps/")
	if len(segments) != 2 || segments[1] != "deployments" {
		writeError(w, apierror.NotFound("not found"))
		return
	}
	if r.Method != http.MethodGet {
		writeError(w, apierror.BadRequest("method not allowed"))
		return
	}

	app, err := h.repos.Apps.GetByName(r.Context(), segments[0])
	if err == database.ErrApplicationNotFound {
		writeError(w, apierror.NotFound("application not found"))
		return
	}
	if err != nil {
		writeError(w, apierror.Internal("db lookup"))
		return
	}

	deployments, err := h.repos.Deployments.ListForApp(r.Context(), app.ID)
	if err != nil {
		writeError(w, apierror.Internal("db query"))
		return
	}
	type item struct {
		ID          uuid.UUID `json:"id"`
		ArtifactURL string    `json:"artifact_url"`
		Status      string    `json:"status"`
	}
	out := make([]item, 0, len(deployments))
	for _, d := range deployments {
		out = append(out, item{ID: d.ID, ArtifactURL: d.ArtifactURL, Status: string(d.Status)})
	}
	writeJSON(w, http.StatusOK, out)
}

// HandleDeployments handles POST /deployments
func (h *AppHandlers) HandleDeployments(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, apierror.BadRequest("method not allowed"))
		return
	}
	var req struct {
		AppName     string `json:"app_name"`
		ArtifactURL string `json:"artifact_url"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.AppName == "" || req.ArtifactURL == "" {
		writeError(w, apierror.BadRequest("app_name and artifact_url required"))
		return
	}

	app, err := h.repos.Apps.GetByName(r.Context(), req.AppName)
	if err == database.ErrApplicationNotFound {
		writeError(w, apierror.NotFound("application not found"))
		return
	}
	if err != nil {
		writeError(w, apierror.Internal("db lookup"))
		return
	}

	digest := digestFromArtifactURL(req.ArtifactURL)

	if h.cfg.EnforceSBOM && digest != "" {
		row, err := h.repos.Artifacts.GetByDigest(r.Context(), digest)
		if err == nil && !row.SBOMURL.Valid {
			writeError(w, apierror.Forbidden("sbom required before deployment"))
			return
		}
	}

	dep, err := h.repos.Deployments.Create(r.Context(), app.ID, req.ArtifactURL)
	if err != nil {
		writeError(w, apierror.Internal("db insert"))
		return
	}

	// Re-emit provenance so the attestation reflects the current active
	// attestation keys. Best-effort relative to the created record.
	if digest != "" {
		signaturePresent := false
		if row, err := h.repos.Artifacts.GetByDigest(r.Context(), digest); err == nil {
			signaturePresent = row.Signature.Valid
		}
		if _, err := h.emitter.Emit(req.AppName, digest, signaturePresent); err != nil {
			h.logger.Printf("provenance emission for deployment %s failed: %v", dep.ID, err)
			h.metrics.ProvenanceWriteFailures.Inc()
		} else if err := h.repos.Artifacts.SetProvenancePresent(r.Context(), digest); err != nil {
			h.logger.Printf("provenance flag update failed: %v", err)
		}
	}

	writeJSON(w, http.StatusCreated, map[string]any{"id": dep.ID, "status": string(dep.Status)})
}

// HandleDeploymentSubresource handles PATCH /deployments/{id}
func (h *AppHandlers) HandleDeploymentSubresource(w http.ResponseWriter, r *http.Request) {
	segments := pathSegments(r.URL.Path, "/deployments/")
	if len(segments) != 1 {
		writeError(w, apierror.NotFound("not found"))
		return
	}
	if r.Method != http.MethodPatch {
		writeError(w, apierror.BadRequest("method not allowed"))
		return
	}
	id, err := uuid.Parse(segments[0])
	if err != nil {
		writeError(w, apierror.BadRequest("invalid deployment id"))
		return
	}

	var req struct {
		Status string  `json:"status"`
		Reason *string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apierror.BadRequest("invalid request body"))
		return
	}
	status := database.DeploymentStatus(req.Status)
	switch status {
	case database.DeploymentStatusPending, database.DeploymentStatusRunning, database.DeploymentStatusFailed:
	default:
		writeError(w, apierror.BadRequest("status must be pending, running, or failed"))
		return
	}

	var reason sql.NullString
	if req.Reason != nil {
		reason = sql.NullString{String: *req.Reason, Valid: true}
	}
	dep, err := h.repos.Deployments.UpdateStatus(r.Context(), id, status, reason)
	if err == database.ErrDeploymentNotFound {
		writeError(w, apierror.NotFound("deployment not found"))
		return
	}
	if err != nil {
		writeError(w, apierror.Internal("db update"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": dep.ID, "status": string(dep.Status)})
}

// digestFromArtifactURL extracts the 64-hex digest embedded in an artifact
// URL or storage key; returns "" when none is present.
func digestFromArtifactURL(url string) string {
	trimmed := url
	if idx := strings.Index(trimmed, "://"); idx >= 0 {
		trimmed = trimmed[idx+3:]
	}
	segments := strings.Split(trimmed, "/")
	for i := len(segments) - 1; i >= 0; i-- {
		if signing.IsDigest(segments[i]) {
			return segments[i]
		}
	}
	return ""
}
