// Copyright 2025 AetherEngine
//
// Provenance API Handlers
// Read surface over the provenance directory: listing, the canonical v2
// document, the DSSE attestation, and the keystore metadata.

package server

import (
	"log"
	"net/http"
	"os"
	"path/filepath"

	"github.com/aether-engine/aether/pkg/apierror"
	"github.com/aether-engine/aether/pkg/config"
	"github.com/aether-engine/aether/pkg/database"
	"github.com/aether-engine/aether/pkg/provenance"
	"github.com/aether-engine/aether/pkg/signing"
)

// ProvenanceHandlers provides HTTP handlers for provenance reads
type ProvenanceHandlers struct {
	cfg    *config.Config
	repos  *database.Repositories
	logger *log.Logger
}

// NewProvenanceHandlers creates new provenance handlers
func NewProvenanceHandlers(cfg *config.Config, repos *database.Repositories, logger *log.Logger) *ProvenanceHandlers {
	if logger == nil {
		logger = log.New(log.Writer(), "[ProvenanceAPI] ", log.LstdFlags)
	}
	return &ProvenanceHandlers{cfg: cfg, repos: repos, logger: logger}
}

// findProvenanceFile locates {app}-{digest}{suffix} without knowing the app
func (h *ProvenanceHandlers) findProvenanceFile(digest, suffix string) (string, bool) {
	matches, err := filepath.Glob(filepath.Join(h.cfg.ProvenanceDir, "*-"+digest+suffix))
	if err != nil || len(matches) == 0 {
		return "", false
	}
	return matches[0], true
}

// HandleList handles GET /provenance
func (h *ProvenanceHandlers) HandleList(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, apierror.BadRequest("method not allowed"))
		return
	}
	rows, err := h.repos.Artifacts.ListWithProvenance(r.Context(), 500)
	if err != nil {
		writeError(w, apierror.Internal("db"))
		return
	}
	type entry struct {
		Digest      string  `json:"digest"`
		App         *string `json:"app"`
		SBOM        bool    `json:"sbom"`
		Attestation bool    `json:"attestation"`
	}
	out := make([]entry, 0, len(rows))
	for _, row := range rows {
		e := entry{Digest: row.Digest, SBOM: row.SBOMSet}
		if row.AppName.Valid {
			e.App = &row.AppName.String
		}
		_, e.Attestation = h.findProvenanceFile(row.Digest, ".prov2.dsse.json")
		out = append(out, e)
	}
	writeJSON(w, http.StatusOK, out)
}

// HandleProvenanceSubresource dispatches /provenance/{digest}[/attestation]
func (h *ProvenanceHandlers) HandleProvenanceSubresource(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, apierror.BadRequest("method not allowed"))
		return
	}
	segments := pathSegments(r.URL.Path, "/provenance/")
	if len(segments) == 0 {
		h.HandleList(w, r)
		return
	}
	digest := segments[0]
	if !signing.IsDigest(digest) {
		writeError(w, apierror.New(http.StatusBadRequest, apierror.CodeInvalidDigest, "digest must be 64 hex"))
		return
	}

	suffix := ".prov2.json"
	notFound := "provenance not found"
	if len(segments) == 2 && segments[1] == "attestation" {
		suffix = ".prov2.dsse.json"
		notFound = "attestation not found"
	} else if len(segments) != 1 {
		writeError(w, apierror.NotFound("not found"))
		return
	}

	path, ok := h.findProvenanceFile(digest, suffix)
	if !ok {
		writeError(w, apierror.NotFound(notFound))
		return
	}
	body, err := os.ReadFile(path)
	if err != nil {
		writeError(w, apierror.Internal("read provenance"))
		return
	}
	serveImmutableJSON(w, r, body)
}

// HandleListKeys handles GET /keys: attestation keystore metadata. Secret
// material never leaves the process.
func (h *ProvenanceHandlers) HandleListKeys(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, apierror.BadRequest("method not allowed"))
		return
	}
	keys, err := provenance.LoadKeystore(h.cfg.ProvenanceDir)
	if err != nil {
		writeError(w, apierror.Internal("read keystore"))
		return
	}
	if keys == nil {
		keys = []provenance.KeyMeta{}
	}
	writeJSON(w, http.StatusOK, keys)
}
