// Copyright 2025 AetherEngine
//
// Background Maintenance - pending artifact GC
// Abandoned uploads leave pending rows behind; this sweep deletes rows
// older than the configured TTL so reserved digests become claimable again.

package gc

import (
	"context"
	"log"
	"time"

	"github.com/aether-engine/aether/pkg/config"
	"github.com/aether-engine/aether/pkg/database"
	"github.com/aether-engine/aether/pkg/metrics"
)

// PendingSweeper deletes stale pending artifact rows
type PendingSweeper struct {
	cfg     *config.Config
	repos   *database.Repositories
	metrics *metrics.Metrics
	logger  *log.Logger
}

// NewPendingSweeper creates a pending GC sweeper
func NewPendingSweeper(cfg *config.Config, repos *database.Repositories, m *metrics.Metrics, logger *log.Logger) *PendingSweeper {
	if logger == nil {
		logger = log.New(log.Writer(), "[PendingGC] ", log.LstdFlags)
	}
	return &PendingSweeper{cfg: cfg, repos: repos, metrics: m, logger: logger}
}

// Run loops until the context is canceled
func (s *PendingSweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.PendingGCInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Sweep(ctx); err != nil {
				s.logger.Printf("sweep failed: %v", err)
			}
		}
	}
}

// Sweep deletes pending rows older than the TTL and returns the count
func (s *PendingSweeper) Sweep(ctx context.Context) (int, error) {
	s.metrics.PendingGCRuns.Inc()
	cutoff := time.Now().Add(-s.cfg.PendingGCTTL)
	ids, err := s.repos.Artifacts.ListPendingOlderThan(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	deleted := 0
	for _, id := range ids {
		if err := s.repos.Artifacts.Delete(ctx, id); err != nil {
			s.logger.Printf("delete pending %s failed: %v", id, err)
			continue
		}
		deleted++
	}
	if deleted > 0 {
		s.metrics.PendingGCDeleted.Add(float64(deleted))
		s.logger.Printf("deleted %d stale pending artifacts", deleted)
	}
	return deleted, nil
}
