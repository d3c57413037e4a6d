// Copyright 2025 AetherEngine
//
// Aether Control Plane
// Ingests application artifacts over the presigned upload protocol,
// validates supply-chain metadata, emits signed provenance attestations,
// and records deployment intents for the rollout controller.

package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aether-engine/aether/pkg/artifact"
	"github.com/aether-engine/aether/pkg/config"
	"github.com/aether-engine/aether/pkg/database"
	"github.com/aether-engine/aether/pkg/gc"
	"github.com/aether-engine/aether/pkg/metrics"
	"github.com/aether-engine/aether/pkg/provenance"
	"github.com/aether-engine/aether/pkg/server"
	"github.com/aether-engine/aether/pkg/storage"
)

func main() {
	logger := log.New(os.Stdout, "[ControlPlane] ", log.LstdFlags)

	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("Failed to load configuration: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatalf("Invalid configuration: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.NewClient(cfg)
	if err != nil {
		logger.Fatalf("Database connection failed: %v", err)
	}
	defer db.Close()

	if err := db.Migrate(ctx); err != nil {
		logger.Fatalf("Migration failed: %v", err)
	}

	repos := database.NewRepositories(db)

	backend, err := storage.NewBackend(ctx, cfg)
	if err != nil {
		logger.Fatalf("Storage backend init failed: %v", err)
	}
	logger.Printf("Storage backend: %s (bucket=%s)", cfg.StorageMode, cfg.ArtifactBucket)

	m := metrics.New()
	emitter := provenance.NewEmitter(cfg, m, nil)
	svc := artifact.NewService(cfg, repos, backend, emitter, m, nil)

	// Seed the stored-artifact gauge before serving traffic.
	if count, err := repos.Artifacts.CountStored(ctx); err == nil {
		m.ArtifactsTotal.Set(float64(count))
	}

	// Background maintenance loops.
	sweeper := gc.NewPendingSweeper(cfg, repos, m, nil)
	go sweeper.Run(ctx)
	if cfg.BackfillEnabled {
		backfiller := gc.NewBackfiller(cfg, repos, emitter, m, nil)
		go func() {
			ticker := time.NewTicker(cfg.BackfillInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					if _, err := backfiller.RunOnce(ctx); err != nil {
						logger.Printf("Backfill pass failed: %v", err)
					}
				}
			}
		}()
	}

	api := server.New(cfg, db, repos, svc, emitter, m, nil)
	httpServer := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      api.Router(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Printf("Control plane listening on %s", cfg.ListenAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("HTTP server failed: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Println("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Printf("Shutdown error: %v", err)
	}
}
