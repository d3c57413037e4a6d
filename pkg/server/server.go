// Copyright 2025 AetherEngine
//
// Route table and middleware chain for the control plane API.

package server

import (
	"log"
	"net/http"

	"github.com/aether-engine/aether/pkg/artifact"
	"github.com/aether-engine/aether/pkg/config"
	"github.com/aether-engine/aether/pkg/database"
	"github.com/aether-engine/aether/pkg/metrics"
	"github.com/aether-engine/aether/pkg/provenance"
)

// Server assembles the handlers and middleware over the shared services
type Server struct {
	cfg        *config.Config
	middleware *Middleware
	metrics    *metrics.Metrics

	artifacts  *ArtifactHandlers
	sboms      *SBOMHandlers
	provenance *ProvenanceHandlers
	apps       *AppHandlers
	health     *HealthHandlers
}

// New creates the API server
func New(cfg *config.Config, db *database.Client, repos *database.Repositories,
	svc *artifact.Service, emitter *provenance.Emitter, m *metrics.Metrics, logger *log.Logger) *Server {

	sboms := NewSBOMHandlers(cfg, repos, m, logger)
	return &Server{
		cfg:        cfg,
		middleware: NewMiddleware(cfg, repos, logger),
		metrics:    m,
		artifacts:  NewArtifactHandlers(svc, repos, m, sboms, logger),
		sboms:      sboms,
		provenance: NewProvenanceHandlers(cfg, repos, logger),
		apps:       NewAppHandlers(cfg, repos, emitter, m, logger),
		health:     NewHealthHandlers(db),
	}
}

// Router builds the route table wrapped in CORS, auth, and metrics
func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()

	// Upload protocol
	mux.HandleFunc("/artifacts/presign", s.artifacts.HandlePresign)
	mux.HandleFunc("/artifacts/complete", s.artifacts.HandleComplete)
	mux.HandleFunc("/artifacts/multipart/init", s.artifacts.HandleMultipartInit)
	mux.HandleFunc("/artifacts/multipart/presign-part", s.artifacts.HandleMultipartPresignPart)
	mux.HandleFunc("/artifacts/multipart/complete", s.artifacts.HandleMultipartComplete)
	mux.HandleFunc("/artifacts", s.artifacts.HandleArtifacts)
	mux.HandleFunc("/artifacts/", s.artifacts.HandleArtifactSubresource)

	// Provenance surface
	mux.HandleFunc("/provenance", s.provenance.HandleList)
	mux.HandleFunc("/provenance/", s.provenance.HandleProvenanceSubresource)
	mux.HandleFunc("/keys", s.provenance.HandleListKeys)

	// Application surface
	mux.HandleFunc("/apps", s.apps.HandleApps)
	mux.HandleFunc("/apps/", s.apps.HandleAppSubresource)
	mux.HandleFunc("/deployments", s.apps.HandleDeployments)
	mux.HandleFunc("/deployments/", s.apps.HandleDeploymentSubresource)

	// Ops
	mux.HandleFunc("/health", s.health.HandleHealth)
	mux.HandleFunc("/readyz", s.health.HandleReadyz)
	mux.HandleFunc("/startupz", s.health.HandleStartupz)
	mux.Handle("/metrics", s.metrics.Handler())

	var handler http.Handler = mux
	handler = s.middleware.Auth(handler)
	handler = s.middleware.Metrics(s.metrics)(handler)
	handler = s.middleware.CORS(handler)
	return handler
}
