// Copyright 2025 AetherEngine
//
// Integration tests for the artifact repository
// Uses a test database (AETHER_TEST_DB) or skips

package database

import (
	"context"
	"database/sql"
	"os"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/aether-engine/aether/pkg/config"
)

var testClient *Client

func testConfig() *config.Config {
	return &config.Config{
		DatabaseURL:         os.Getenv("AETHER_TEST_DB"),
		DatabaseMaxConns:    5,
		DatabaseMinConns:    1,
		DatabaseMaxIdleTime: 60,
		DatabaseMaxLifetime: 600,
	}
}

func TestMain(m *testing.M) {
	connStr := os.Getenv("AETHER_TEST_DB")
	if connStr == "" {
		// Skip database tests if no test DB configured
		os.Exit(0)
	}

	cfg := testConfig()
	var err error
	testClient, err = NewClient(cfg)
	if err != nil {
		panic("Failed to connect to test database: " + err.Error())
	}
	if err := testClient.Migrate(context.Background()); err != nil {
		panic("Failed to migrate test database: " + err.Error())
	}

	code := m.Run()
	testClient.Close()
	os.Exit(code)
}

func resetTables(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	for _, table := range []string{"artifact_events", "deployments", "public_keys", "artifacts", "applications"} {
		if _, err := testClient.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			t.Fatalf("reset %s: %v", table, err)
		}
	}
}

func TestDigestUniqueness(t *testing.T) {
	resetTables(t)
	repo := NewArtifactRepository(testClient)
	ctx := context.Background()
	digest := strings.Repeat("a", 64)

	if err := repo.CreatePending(ctx, uuid.NullUUID{}, digest, "key1"); err != nil {
		t.Fatalf("create pending: %v", err)
	}
	// A racing create is absorbed, not duplicated.
	if err := repo.CreatePending(ctx, uuid.NullUUID{}, digest, "key2"); err != nil {
		t.Fatalf("second create pending: %v", err)
	}

	var count int64
	if err := testClient.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM artifacts WHERE digest = $1", digest).Scan(&count); err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Errorf("expected exactly one row per digest, got %d", count)
	}
}

func TestFinalizePendingWinsOnce(t *testing.T) {
	resetTables(t)
	repo := NewArtifactRepository(testClient)
	ctx := context.Background()
	digest := strings.Repeat("b", 64)

	if err := repo.CreatePending(ctx, uuid.NullUUID{}, digest, "key"); err != nil {
		t.Fatalf("create pending: %v", err)
	}
	row, err := repo.GetByDigest(ctx, digest)
	if err != nil {
		t.Fatalf("get: %v", err)
	}

	stored, err := repo.FinalizePending(ctx, row.ID, uuid.NullUUID{}, 16, sql.NullString{}, false, "key", sql.NullString{})
	if err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if stored.Status != ArtifactStatusStored || !stored.CompletedAt.Valid {
		t.Errorf("expected stored row with completed_at, got %+v", stored)
	}

	// The losing side of a concurrent finalization gets ErrNotPending.
	if _, err := repo.FinalizePending(ctx, row.ID, uuid.NullUUID{}, 16, sql.NullString{}, false, "key", sql.NullString{}); err != ErrNotPending {
		t.Errorf("second finalize must return ErrNotPending, got %v", err)
	}
}

func TestIdempotencyKeyUniqueConstraint(t *testing.T) {
	resetTables(t)
	repo := NewArtifactRepository(testClient)
	ctx := context.Background()

	key := sql.NullString{String: "k-shared", Valid: true}
	if _, err := repo.InsertStored(ctx, uuid.NullUUID{}, strings.Repeat("c", 64), 1,
		sql.NullString{}, false, sql.NullString{}, key); err != nil {
		t.Fatalf("first insert: %v", err)
	}
	_, err := repo.InsertStored(ctx, uuid.NullUUID{}, strings.Repeat("d", 64), 1,
		sql.NullString{}, false, sql.NullString{}, key)
	if err != ErrIdempotencyConflict {
		t.Errorf("expected ErrIdempotencyConflict, got %v", err)
	}

	bound, err := repo.DigestForIdempotencyKey(ctx, "k-shared")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if bound != strings.Repeat("c", 64) {
		t.Errorf("key bound to wrong digest: %s", bound)
	}
}

func TestRetentionVictimOrdering(t *testing.T) {
	resetTables(t)
	repos := NewRepositories(testClient)
	ctx := context.Background()

	app, err := repos.Apps.Create(ctx, "retention-app")
	if err != nil {
		t.Fatalf("create app: %v", err)
	}
	appID := uuid.NullUUID{UUID: app.ID, Valid: true}

	digests := []string{strings.Repeat("1", 64), strings.Repeat("2", 64), strings.Repeat("3", 64)}
	for i, d := range digests {
		if _, err := repos.Artifacts.InsertStored(ctx, appID, d, 1,
			sql.NullString{}, false, sql.NullString{}, sql.NullString{}); err != nil {
			t.Fatalf("insert %d: %v", i, err)
		}
		// Spread created_at so ordering is deterministic.
		if _, err := testClient.ExecContext(ctx,
			"UPDATE artifacts SET created_at = NOW() - ($1 || ' minutes')::interval WHERE digest = $2",
			len(digests)-i, d); err != nil {
			t.Fatalf("age %d: %v", i, err)
		}
	}

	victims, err := repos.Artifacts.RetentionVictims(ctx, app.ID, 2)
	if err != nil {
		t.Fatalf("victims: %v", err)
	}
	if len(victims) != 1 {
		t.Fatalf("expected one victim beyond the newest 2, got %d", len(victims))
	}
	oldest, err := repos.Artifacts.GetByDigest(ctx, digests[0])
	if err != nil {
		t.Fatalf("get oldest: %v", err)
	}
	if victims[0] != oldest.ID {
		t.Error("the victim must be the oldest artifact")
	}
}

func TestPublicKeyDeactivation(t *testing.T) {
	resetTables(t)
	repos := NewRepositories(testClient)
	ctx := context.Background()

	app, err := repos.Apps.Create(ctx, "key-app")
	if err != nil {
		t.Fatalf("create app: %v", err)
	}
	key, err := repos.PublicKeys.Add(ctx, app.ID, strings.Repeat("e", 64))
	if err != nil {
		t.Fatalf("add key: %v", err)
	}

	active, err := repos.PublicKeys.ActiveKeysForApp(ctx, app.ID)
	if err != nil || len(active) != 1 {
		t.Fatalf("expected one active key, got %v %v", active, err)
	}

	if err := repos.PublicKeys.Deactivate(ctx, key.ID); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	active, err = repos.PublicKeys.ActiveKeysForApp(ctx, app.ID)
	if err != nil || len(active) != 0 {
		t.Errorf("deactivated keys must not participate, got %v %v", active, err)
	}
}
