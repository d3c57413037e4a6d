// Copyright 2025 AetherEngine
//
// Background Maintenance - legacy SBOM backfill
// Stored artifacts that predate SBOM enforcement get a synthesized minimal
// CycloneDX document referencing only the digest, plus a provenance record.

package gc

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/aether-engine/aether/pkg/config"
	"github.com/aether-engine/aether/pkg/database"
	"github.com/aether-engine/aether/pkg/metrics"
	"github.com/aether-engine/aether/pkg/provenance"
	"github.com/aether-engine/aether/pkg/sbom"
)

// backfillBatchSize bounds work per pass
const backfillBatchSize = 100

// Backfiller synthesizes SBOMs for legacy artifacts
type Backfiller struct {
	cfg     *config.Config
	repos   *database.Repositories
	emitter *provenance.Emitter
	metrics *metrics.Metrics
	logger  *log.Logger
}

// NewBackfiller creates a legacy backfill worker
func NewBackfiller(cfg *config.Config, repos *database.Repositories, emitter *provenance.Emitter,
	m *metrics.Metrics, logger *log.Logger) *Backfiller {
	if logger == nil {
		logger = log.New(log.Writer(), "[Backfill] ", log.LstdFlags)
	}
	return &Backfiller{cfg: cfg, repos: repos, emitter: emitter, metrics: m, logger: logger}
}

// RunOnce processes one batch and returns how many artifacts were backfilled
func (b *Backfiller) RunOnce(ctx context.Context) (int, error) {
	digests, err := b.repos.Artifacts.ListMissingSBOM(ctx, backfillBatchSize)
	if err != nil {
		return 0, err
	}
	if len(digests) == 0 {
		return 0, nil
	}
	if err := os.MkdirAll(b.cfg.SBOMDir, 0o755); err != nil {
		return 0, fmt.Errorf("failed to create sbom dir: %w", err)
	}

	count := 0
	for _, digest := range digests {
		doc, err := sbom.Minimal(digest)
		if err != nil {
			b.logger.Printf("synthesize sbom for %s failed: %v", digest, err)
			continue
		}
		path := filepath.Join(b.cfg.SBOMDir, digest+".sbom.json")
		if err := os.WriteFile(path, doc, 0o644); err != nil {
			b.logger.Printf("write sbom for %s failed: %v", digest, err)
			continue
		}
		url := fmt.Sprintf("/artifacts/%s/sbom", digest)
		if err := b.repos.Artifacts.SetSBOM(ctx, digest, url, true, sql.NullString{}); err != nil {
			b.logger.Printf("record sbom for %s failed: %v", digest, err)
			continue
		}
		if _, err := b.emitter.Emit("backfill", digest, false); err != nil {
			b.logger.Printf("provenance for %s failed: %v", digest, err)
			b.metrics.ProvenanceWriteFailures.Inc()
		} else if err := b.repos.Artifacts.SetProvenancePresent(ctx, digest); err != nil {
			b.logger.Printf("provenance flag for %s failed: %v", digest, err)
		}
		b.metrics.BackfillSynthesized.Inc()
		count++
	}
	b.logger.Printf("backfilled %d legacy artifacts", count)
	return count, nil
}
