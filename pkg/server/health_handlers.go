// Copyright 2025 AetherEngine
//
// Ops probes: liveness, readiness (DB connectivity), and startup
// (migrations applied).

package server

import (
	"net/http"
	"time"

	"github.com/aether-engine/aether/pkg/database"
)

// HealthHandlers provides the ops probe endpoints
type HealthHandlers struct {
	db        *database.Client
	startTime time.Time
}

// NewHealthHandlers creates health handlers
func NewHealthHandlers(db *database.Client) *HealthHandlers {
	return &HealthHandlers{db: db, startTime: time.Now()}
}

// HandleHealth handles GET /health
func (h *HealthHandlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"uptime_seconds": int64(time.Since(h.startTime).Seconds()),
	})
}

// HandleReadyz handles GET /readyz: a simple DB round trip
func (h *HealthHandlers) HandleReadyz(w http.ResponseWriter, r *http.Request) {
	if err := h.db.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// HandleStartupz handles GET /startupz: zero pending migrations
func (h *HealthHandlers) HandleStartupz(w http.ResponseWriter, r *http.Request) {
	pending, err := h.db.PendingMigrations(r.Context())
	if err != nil || pending > 0 {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status":             "pending",
			"pending_migrations": pending,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":             "ok",
		"pending_migrations": 0,
	})
}
