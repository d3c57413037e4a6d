// Copyright 2025 AetherEngine
//
// Artifact Repository - row operations for the artifact state machine
// The pending->stored transition is serialized here through conditional
// updates; the unique digest / idempotency_key / multipart_upload_id
// constraints are the canonical locks.

package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const artifactColumns = `id, app_id, digest, size_bytes, signature, sbom_url, manifest_url,
	verified, storage_key, status, created_at, completed_at, idempotency_key,
	multipart_upload_id, provenance_present, manifest_digest, sbom_manifest_digest, sbom_validated`

// ArtifactRepository handles artifact row operations
type ArtifactRepository struct {
	client *Client
}

// NewArtifactRepository creates a new artifact repository
func NewArtifactRepository(client *Client) *ArtifactRepository {
	return &ArtifactRepository{client: client}
}

func scanArtifact(row interface{ Scan(...any) error }) (*Artifact, error) {
	a := &Artifact{}
	err := row.Scan(
		&a.ID, &a.AppID, &a.Digest, &a.SizeBytes, &a.Signature, &a.SBOMURL, &a.ManifestURL,
		&a.Verified, &a.StorageKey, &a.Status, &a.CreatedAt, &a.CompletedAt, &a.IdempotencyKey,
		&a.MultipartUploadID, &a.ProvenancePresent, &a.ManifestDigest, &a.SBOMManifestDigest, &a.SBOMValidated,
	)
	if err == sql.ErrNoRows {
		return nil, ErrArtifactNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan artifact: %w", err)
	}
	return a, nil
}

// GetByDigest retrieves an artifact by its content digest
func (r *ArtifactRepository) GetByDigest(ctx context.Context, digest string) (*Artifact, error) {
	query := `SELECT ` + artifactColumns + ` FROM artifacts WHERE digest = $1`
	return scanArtifact(r.client.QueryRowContext(ctx, query, digest))
}

// Exists reports whether a stored artifact row exists for the digest
func (r *ArtifactRepository) Exists(ctx context.Context, digest string) (bool, error) {
	var one int64
	err := r.client.QueryRowContext(ctx,
		"SELECT 1 FROM artifacts WHERE digest = $1 AND status = 'stored'", digest).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to probe artifact: %w", err)
	}
	return true, nil
}

// CreatePending reserves a pending row for a digest. Racing creates are
// absorbed by ON CONFLICT DO NOTHING; callers re-read the row afterwards.
func (r *ArtifactRepository) CreatePending(ctx context.Context, appID uuid.NullUUID, digest, storageKey string) error {
	_, err := r.client.ExecContext(ctx, `
		INSERT INTO artifacts (app_id, digest, size_bytes, verified, storage_key, status)
		VALUES ($1, $2, 0, FALSE, $3, 'pending')
		ON CONFLICT (digest) DO NOTHING`,
		appID, digest, storageKey)
	if err != nil {
		return fmt.Errorf("failed to create pending artifact: %w", err)
	}
	return nil
}

// SetMultipartUploadID records the backend upload id on a pending row
func (r *ArtifactRepository) SetMultipartUploadID(ctx context.Context, id uuid.UUID, uploadID string) error {
	_, err := r.client.ExecContext(ctx,
		"UPDATE artifacts SET multipart_upload_id = $1 WHERE id = $2 AND status = 'pending'",
		uploadID, id)
	if err != nil {
		return fmt.Errorf("failed to set multipart upload id: %w", err)
	}
	return nil
}

// LinkApp backfills app_id on a row that was reserved before the
// application existed, so quota and retention see the association
func (r *ArtifactRepository) LinkApp(ctx context.Context, id uuid.UUID, appID uuid.UUID) error {
	_, err := r.client.ExecContext(ctx,
		"UPDATE artifacts SET app_id = $1 WHERE id = $2 AND app_id IS NULL", appID, id)
	if err != nil {
		return fmt.Errorf("failed to link application: %w", err)
	}
	return nil
}

// FinalizePending flips a pending row to stored. The WHERE status='pending'
// clause guarantees exactly one completion wins a concurrent race; losers
// get ErrNotPending and re-read the row as a duplicate.
func (r *ArtifactRepository) FinalizePending(ctx context.Context, id uuid.UUID, appID uuid.NullUUID,
	sizeBytes int64, signature sql.NullString, verified bool, storageKey string, idempotencyKey sql.NullString) (*Artifact, error) {

	query := `
		UPDATE artifacts
		SET app_id = COALESCE($1, app_id),
		    size_bytes = $2,
		    signature = $3,
		    verified = $4,
		    storage_key = $5,
		    status = 'stored',
		    completed_at = NOW(),
		    multipart_upload_id = NULL,
		    idempotency_key = COALESCE(idempotency_key, $6)
		WHERE id = $7 AND status = 'pending'
		RETURNING ` + artifactColumns

	a, err := scanArtifact(r.client.QueryRowContext(ctx, query,
		appID, sizeBytes, signature, verified, storageKey, idempotencyKey, id))
	if err == ErrArtifactNotFound {
		return nil, ErrNotPending
	}
	if err != nil {
		if IsUniqueViolation(err, "idempotency") {
			return nil, ErrIdempotencyConflict
		}
		return nil, err
	}
	return a, nil
}

// InsertStored inserts a row directly in the stored state (legacy
// single-shot path and completions without a prior presign)
func (r *ArtifactRepository) InsertStored(ctx context.Context, appID uuid.NullUUID, digest string,
	sizeBytes int64, signature sql.NullString, verified bool, storageKey sql.NullString, idempotencyKey sql.NullString) (*Artifact, error) {

	query := `
		INSERT INTO artifacts (app_id, digest, size_bytes, signature, verified, storage_key, status, completed_at, idempotency_key)
		VALUES ($1, $2, $3, $4, $5, $6, 'stored', NOW(), $7)
		RETURNING ` + artifactColumns

	a, err := scanArtifact(r.client.QueryRowContext(ctx, query,
		appID, digest, sizeBytes, signature, verified, storageKey, idempotencyKey))
	if err != nil {
		if IsUniqueViolation(err, "idempotency") {
			return nil, ErrIdempotencyConflict
		}
		return nil, err
	}
	return a, nil
}

// DigestForIdempotencyKey returns the digest bound to an idempotency key,
// or ErrNotFound when the key is unused
func (r *ArtifactRepository) DigestForIdempotencyKey(ctx context.Context, key string) (string, error) {
	var digest string
	err := r.client.QueryRowContext(ctx,
		"SELECT digest FROM artifacts WHERE idempotency_key = $1", key).Scan(&digest)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to look up idempotency key: %w", err)
	}
	return digest, nil
}

// CountStoredByApp counts non-pending artifacts for quota enforcement
func (r *ArtifactRepository) CountStoredByApp(ctx context.Context, appID uuid.UUID) (int64, error) {
	var count int64
	err := r.client.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM artifacts WHERE app_id = $1 AND status != 'pending'", appID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count artifacts: %w", err)
	}
	return count, nil
}

// SumBytesByApp sums non-pending artifact sizes for quota enforcement
func (r *ArtifactRepository) SumBytesByApp(ctx context.Context, appID uuid.UUID) (int64, error) {
	var total int64
	err := r.client.QueryRowContext(ctx,
		"SELECT COALESCE(SUM(size_bytes), 0) FROM artifacts WHERE app_id = $1 AND status != 'pending'", appID).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("failed to sum artifact bytes: %w", err)
	}
	return total, nil
}

// RetentionVictims lists stored artifacts beyond the newest retain rows,
// ordered by (created_at DESC, id DESC)
func (r *ArtifactRepository) RetentionVictims(ctx context.Context, appID uuid.UUID, retain int64) ([]uuid.UUID, error) {
	rows, err := r.client.QueryContext(ctx, `
		SELECT id FROM artifacts
		WHERE app_id = $1 AND status = 'stored'
		ORDER BY created_at DESC, id DESC
		OFFSET $2`, appID, retain)
	if err != nil {
		return nil, fmt.Errorf("failed to list retention victims: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan retention victim: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Delete removes an artifact row; its events are kept (no FK)
func (r *ArtifactRepository) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := r.client.ExecContext(ctx, "DELETE FROM artifacts WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("failed to delete artifact: %w", err)
	}
	return nil
}

// SetSBOM records the SBOM location and the SBOM-declared manifest digest
func (r *ArtifactRepository) SetSBOM(ctx context.Context, digest, url string, validated bool, sbomManifestDigest sql.NullString) error {
	_, err := r.client.ExecContext(ctx, `
		UPDATE artifacts
		SET sbom_url = $1,
		    sbom_validated = CASE WHEN $2 THEN TRUE ELSE sbom_validated END,
		    sbom_manifest_digest = COALESCE($3, sbom_manifest_digest)
		WHERE digest = $4`,
		url, validated, sbomManifestDigest, digest)
	if err != nil {
		return fmt.Errorf("failed to set sbom: %w", err)
	}
	return nil
}

// SetManifest records the manifest location and server-computed digest
func (r *ArtifactRepository) SetManifest(ctx context.Context, digest, url, manifestDigest string) error {
	_, err := r.client.ExecContext(ctx,
		"UPDATE artifacts SET manifest_url = $1, manifest_digest = $2 WHERE digest = $3",
		url, manifestDigest, digest)
	if err != nil {
		return fmt.Errorf("failed to set manifest: %w", err)
	}
	return nil
}

// SetProvenancePresent flags a row once its provenance files are durable
func (r *ArtifactRepository) SetProvenancePresent(ctx context.Context, digest string) error {
	_, err := r.client.ExecContext(ctx,
		"UPDATE artifacts SET provenance_present = TRUE WHERE digest = $1", digest)
	if err != nil {
		return fmt.Errorf("failed to set provenance flag: %w", err)
	}
	return nil
}

// ListPendingOlderThan returns pending rows created before the cutoff
func (r *ArtifactRepository) ListPendingOlderThan(ctx context.Context, cutoff time.Time) ([]uuid.UUID, error) {
	rows, err := r.client.QueryContext(ctx,
		"SELECT id FROM artifacts WHERE status = 'pending' AND created_at < $1", cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending artifacts: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan pending artifact: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ListMissingSBOM returns stored digests without an SBOM, batch-limited
func (r *ArtifactRepository) ListMissingSBOM(ctx context.Context, limit int) ([]string, error) {
	rows, err := r.client.QueryContext(ctx,
		"SELECT digest FROM artifacts WHERE sbom_url IS NULL AND status = 'stored' LIMIT $1", limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list artifacts missing sbom: %w", err)
	}
	defer rows.Close()

	var digests []string
	for rows.Next() {
		var d string
		if err := rows.Scan(&d); err != nil {
			return nil, fmt.Errorf("failed to scan digest: %w", err)
		}
		digests = append(digests, d)
	}
	return digests, rows.Err()
}

// List returns artifacts newest first, bounded
func (r *ArtifactRepository) List(ctx context.Context, limit int) ([]*Artifact, error) {
	rows, err := r.client.QueryContext(ctx,
		`SELECT `+artifactColumns+` FROM artifacts ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list artifacts: %w", err)
	}
	defer rows.Close()

	var out []*Artifact
	for rows.Next() {
		a, err := scanArtifact(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// CountStored returns the number of stored artifacts (gauge seeding)
func (r *ArtifactRepository) CountStored(ctx context.Context) (int64, error) {
	var count int64
	err := r.client.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM artifacts WHERE status = 'stored'").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count stored artifacts: %w", err)
	}
	return count, nil
}

// ListWithProvenance returns digest/app/sbom rows flagged provenance_present
type ProvenanceRow struct {
	Digest  string
	AppName sql.NullString
	SBOMSet bool
}

func (r *ArtifactRepository) ListWithProvenance(ctx context.Context, limit int) ([]ProvenanceRow, error) {
	rows, err := r.client.QueryContext(ctx, `
		SELECT a.digest, apps.name, a.sbom_url IS NOT NULL
		FROM artifacts a
		LEFT JOIN applications apps ON apps.id = a.app_id
		WHERE a.provenance_present = TRUE
		ORDER BY a.created_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list provenance rows: %w", err)
	}
	defer rows.Close()

	var out []ProvenanceRow
	for rows.Next() {
		var p ProvenanceRow
		if err := rows.Scan(&p.Digest, &p.AppName, &p.SBOMSet); err != nil {
			return nil, fmt.Errorf("failed to scan provenance row: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
