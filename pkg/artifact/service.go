// Copyright 2025 AetherEngine
//
// Artifact State Machine
// The core of the control plane. States per digest: absent -> pending ->
// stored, with a pending+multipart substate carrying the backend upload
// id. The pending->stored transition is serialized by the database through
// a conditional update on status; every path dedupes on digest and an
// already-stored digest completes as duplicate=true with no side effects.

package artifact

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/aether-engine/aether/pkg/apierror"
	"github.com/aether-engine/aether/pkg/config"
	"github.com/aether-engine/aether/pkg/database"
	"github.com/aether-engine/aether/pkg/metrics"
	"github.com/aether-engine/aether/pkg/provenance"
	"github.com/aether-engine/aether/pkg/signing"
	"github.com/aether-engine/aether/pkg/storage"
)

// Service coordinates the artifact lifecycle against the metadata store
// and the object backend.
type Service struct {
	cfg     *config.Config
	repos   *database.Repositories
	backend storage.Backend
	emitter *provenance.Emitter
	metrics *metrics.Metrics
	logger  *log.Logger

	// uploadSlots bounds legacy direct-upload concurrency process-wide.
	uploadSlots chan struct{}
}

// NewService creates the artifact service
func NewService(cfg *config.Config, repos *database.Repositories, backend storage.Backend,
	emitter *provenance.Emitter, m *metrics.Metrics, logger *log.Logger) *Service {
	if logger == nil {
		logger = log.New(log.Writer(), "[Artifact] ", log.LstdFlags)
	}
	return &Service{
		cfg:         cfg,
		repos:       repos,
		backend:     backend,
		emitter:     emitter,
		metrics:     m,
		logger:      logger,
		uploadSlots: make(chan struct{}, cfg.MaxConcurrentUploads),
	}
}

func storageKeyFor(app, digest string) string {
	return fmt.Sprintf("artifacts/%s/%s/app.tar.gz", app, digest)
}

// ============================================================================
// TWO-PHASE UPLOAD
// ============================================================================

// PresignRequest is phase 1 of the two-phase upload
type PresignRequest struct {
	AppName string `json:"app_name"`
	Digest  string `json:"digest"`
}

// PresignResponse carries the upload URL, or method NONE when the digest
// is already stored and the client must skip the upload.
type PresignResponse struct {
	UploadURL  string            `json:"upload_url"`
	StorageKey string            `json:"storage_key"`
	Method     string            `json:"method"`
	Headers    map[string]string `json:"headers"`
}

// Presign reserves a pending row (idempotent by digest) and returns a
// presigned PUT URL.
func (s *Service) Presign(ctx context.Context, req *PresignRequest) (*PresignResponse, error) {
	s.metrics.PresignRequests.Inc()
	if err := validateAppAndDigest(req.AppName, req.Digest); err != nil {
		return nil, err
	}

	existing, err := s.repos.Artifacts.GetByDigest(ctx, req.Digest)
	if err != nil && !errors.Is(err, database.ErrArtifactNotFound) {
		return nil, apierror.Internal("db lookup failed")
	}
	if existing != nil && existing.Status == database.ArtifactStatusStored {
		return &PresignResponse{
			StorageKey: existing.StorageKey.String,
			Method:     "NONE",
			Headers:    map[string]string{},
		}, nil
	}

	key := storageKeyFor(req.AppName, req.Digest)
	if existing != nil && existing.StorageKey.Valid && existing.StorageKey.String != "" {
		key = existing.StorageKey.String
	}

	presigned, err := s.backend.PresignPut(ctx, key, req.Digest, s.cfg.PresignExpire)
	if err != nil {
		s.logger.Printf("presign backend error: %v", err)
		s.metrics.PresignFailures.Inc()
		return nil, apierror.Internal("presign backend")
	}

	if existing == nil {
		appID, err := s.repos.Apps.IDByName(ctx, req.AppName)
		if err != nil {
			return nil, apierror.Internal("db lookup failed")
		}
		if err := s.repos.Artifacts.CreatePending(ctx, appID, req.Digest, presigned.StorageKey); err != nil {
			return nil, apierror.Internal("db insert failed")
		}
	}

	return &PresignResponse{
		UploadURL:  presigned.URL,
		StorageKey: presigned.StorageKey,
		Method:     presigned.Method,
		Headers:    presigned.Headers,
	}, nil
}

// CompleteRequest is phase 2 of the two-phase upload
type CompleteRequest struct {
	AppName        string  `json:"app_name"`
	Digest         string  `json:"digest"`
	SizeBytes      int64   `json:"size_bytes"`
	Signature      *string `json:"signature"`
	IdempotencyKey *string `json:"idempotency_key"`
}

// CompleteResponse reports the finalized (or duplicate) artifact
type CompleteResponse struct {
	ArtifactID     string  `json:"artifact_id"`
	Digest         string  `json:"digest"`
	Duplicate      bool    `json:"duplicate"`
	Verified       bool    `json:"verified"`
	StorageKey     string  `json:"storage_key"`
	Status         string  `json:"status"`
	IdempotencyKey *string `json:"idempotency_key"`
}

// Complete verifies remote object integrity, enforces quota and retention,
// and finalizes the artifact metadata.
func (s *Service) Complete(ctx context.Context, req *CompleteRequest) (*CompleteResponse, error) {
	start := time.Now()
	resp, err := s.complete(ctx, req)
	if err != nil {
		s.metrics.CompleteFailures.Inc()
		return nil, err
	}
	s.metrics.CompleteDuration.Observe(time.Since(start).Seconds())
	return resp, nil
}

func (s *Service) complete(ctx context.Context, req *CompleteRequest) (*CompleteResponse, error) {
	if err := validateAppAndDigest(req.AppName, req.Digest); err != nil {
		return nil, err
	}
	if req.SizeBytes < 0 {
		return nil, apierror.BadRequest("size_bytes must be >= 0")
	}
	if max := s.cfg.MaxArtifactSizeBytes; max > 0 && req.SizeBytes > max {
		s.metrics.SizeExceededFailures.Inc()
		return nil, apierror.New(http.StatusBadRequest, apierror.CodeSizeExceeded,
			fmt.Sprintf("reported size %d exceeds max %d", req.SizeBytes, max))
	}

	appID, err := s.repos.Apps.IDByName(ctx, req.AppName)
	if err != nil {
		return nil, apierror.Internal("db lookup failed")
	}

	existing, err := s.repos.Artifacts.GetByDigest(ctx, req.Digest)
	if err != nil && !errors.Is(err, database.ErrArtifactNotFound) {
		return nil, apierror.Internal("db lookup failed")
	}
	if existing == nil && s.cfg.RequirePresign {
		return nil, apierror.New(http.StatusBadRequest, apierror.CodePresignRequired,
			"presign step required before completion")
	}

	if existing != nil && existing.Status == database.ArtifactStatusStored {
		return duplicateResponse(existing, req.IdempotencyKey), nil
	}

	if err := s.checkIdempotencyKey(ctx, req.IdempotencyKey, req.Digest, existing); err != nil {
		return nil, err
	}

	key := storageKeyFor(req.AppName, req.Digest)
	if existing != nil {
		if appID.Valid {
			if err := s.repos.Artifacts.LinkApp(ctx, existing.ID, appID.UUID); err != nil {
				return nil, apierror.Internal("db update failed")
			}
		}
		if existing.StorageKey.Valid && existing.StorageKey.String != "" {
			key = existing.StorageKey.String
		}
		if err := s.verifyRemote(ctx, key, req.Digest, req.SizeBytes); err != nil {
			return nil, err
		}
	}

	if appID.Valid {
		if err := s.enforceQuota(ctx, appID.UUID, req.SizeBytes); err != nil {
			return nil, err
		}
	}

	verified := s.verifySignature(ctx, appID, req.Digest, req.Signature)

	var row *database.Artifact
	if existing != nil {
		row, err = s.repos.Artifacts.FinalizePending(ctx, existing.ID, appID,
			req.SizeBytes, nullString(req.Signature), verified, key, nullString(req.IdempotencyKey))
		if errors.Is(err, database.ErrNotPending) {
			// A concurrent completion won; re-read and report duplicate.
			stored, rerr := s.repos.Artifacts.GetByDigest(ctx, req.Digest)
			if rerr != nil {
				return nil, apierror.Internal("db lookup failed")
			}
			return duplicateResponse(stored, req.IdempotencyKey), nil
		}
	} else {
		row, err = s.repos.Artifacts.InsertStored(ctx, appID, req.Digest,
			req.SizeBytes, nullString(req.Signature), verified,
			sql.NullString{String: key, Valid: true}, nullString(req.IdempotencyKey))
	}
	if errors.Is(err, database.ErrIdempotencyConflict) {
		return nil, apierror.New(http.StatusConflict, apierror.CodeIdempotencyConflict,
			"idempotency key already used")
	}
	if err != nil {
		s.logger.Printf("finalize failed for %s: %v", req.Digest, err)
		return nil, apierror.Internal("db update failed")
	}

	s.finalizeSideEffects(ctx, row, req.AppName)

	return &CompleteResponse{
		ArtifactID:     row.ID.String(),
		Digest:         row.Digest,
		Duplicate:      false,
		Verified:       row.Verified,
		StorageKey:     row.StorageKey.String,
		Status:         string(row.Status),
		IdempotencyKey: stringPtr(row.IdempotencyKey),
	}, nil
}

// ============================================================================
// MULTIPART UPLOAD
// ============================================================================

// MultipartInitRequest begins a multipart upload
type MultipartInitRequest struct {
	AppName string `json:"app_name"`
	Digest  string `json:"digest"`
}

// MultipartInitResponse carries the backend upload id
type MultipartInitResponse struct {
	UploadID   string `json:"upload_id"`
	StorageKey string `json:"storage_key"`
}

// MultipartInit creates or updates a pending row carrying the upload id
func (s *Service) MultipartInit(ctx context.Context, req *MultipartInitRequest) (*MultipartInitResponse, error) {
	if err := validateAppAndDigest(req.AppName, req.Digest); err != nil {
		return nil, err
	}

	existing, err := s.repos.Artifacts.GetByDigest(ctx, req.Digest)
	if err != nil && !errors.Is(err, database.ErrArtifactNotFound) {
		return nil, apierror.Internal("db lookup failed")
	}
	if existing != nil && existing.Status == database.ArtifactStatusStored {
		return nil, apierror.New(http.StatusConflict, apierror.CodeAlreadyStored,
			"artifact already stored; skip upload")
	}

	key := storageKeyFor(req.AppName, req.Digest)
	if existing != nil && existing.StorageKey.Valid && existing.StorageKey.String != "" {
		key = existing.StorageKey.String
	}

	uploadID, err := s.backend.InitMultipart(ctx, key)
	if errors.Is(err, storage.ErrMultipartUnsupported) {
		return nil, apierror.New(http.StatusBadRequest, apierror.CodeMultipartUnsupported,
			"storage backend does not support multipart uploads")
	}
	if err != nil {
		s.logger.Printf("multipart init backend error: %v", err)
		return nil, apierror.Internal("multipart init backend")
	}

	if existing == nil {
		appID, err := s.repos.Apps.IDByName(ctx, req.AppName)
		if err != nil {
			return nil, apierror.Internal("db lookup failed")
		}
		if err := s.repos.Artifacts.CreatePending(ctx, appID, req.Digest, key); err != nil {
			return nil, apierror.Internal("db insert failed")
		}
		existing, err = s.repos.Artifacts.GetByDigest(ctx, req.Digest)
		if err != nil {
			return nil, apierror.Internal("db lookup failed")
		}
	}
	if err := s.repos.Artifacts.SetMultipartUploadID(ctx, existing.ID, uploadID); err != nil {
		return nil, apierror.Internal("db update failed")
	}

	s.metrics.MultipartInits.Inc()
	return &MultipartInitResponse{UploadID: uploadID, StorageKey: key}, nil
}

// MultipartPresignPartRequest presigns one part
type MultipartPresignPartRequest struct {
	Digest     string `json:"digest"`
	UploadID   string `json:"upload_id"`
	PartNumber int32  `json:"part_number"`
}

// MultipartPresignPart returns an upload URL for one part. The row's
// upload id must match the request.
func (s *Service) MultipartPresignPart(ctx context.Context, req *MultipartPresignPartRequest) (*storage.PresignedUpload, error) {
	if !signing.IsDigest(req.Digest) {
		return nil, apierror.New(http.StatusBadRequest, apierror.CodeInvalidDigest, "digest must be 64 hex")
	}
	if req.PartNumber < 1 {
		return nil, apierror.BadRequest("part_number must be >= 1")
	}

	row, err := s.requirePendingMultipart(ctx, req.Digest, req.UploadID)
	if err != nil {
		return nil, err
	}

	presigned, err := s.backend.PresignPart(ctx, row.StorageKey.String, req.UploadID, req.PartNumber, s.cfg.PresignExpire)
	if errors.Is(err, storage.ErrMultipartUnsupported) {
		return nil, apierror.New(http.StatusBadRequest, apierror.CodeMultipartUnsupported,
			"storage backend does not support multipart uploads")
	}
	if err != nil {
		s.logger.Printf("presign part backend error: %v", err)
		return nil, apierror.Internal("presign part backend")
	}
	s.metrics.MultipartPartPresigns.Inc()
	return presigned, nil
}

// MultipartCompleteRequest is phase 3 of the multipart upload
type MultipartCompleteRequest struct {
	AppName        string         `json:"app_name"`
	Digest         string         `json:"digest"`
	UploadID       string         `json:"upload_id"`
	SizeBytes      int64          `json:"size_bytes"`
	Parts          []storage.Part `json:"parts"`
	Signature      *string        `json:"signature"`
	IdempotencyKey *string        `json:"idempotency_key"`
}

// MultipartComplete assembles the parts on the backend and finalizes the
// row identically to the two-phase completion.
func (s *Service) MultipartComplete(ctx context.Context, req *MultipartCompleteRequest) (*CompleteResponse, error) {
	if err := validateAppAndDigest(req.AppName, req.Digest); err != nil {
		return nil, err
	}
	if len(req.Parts) == 0 {
		return nil, apierror.BadRequest("parts must not be empty")
	}
	for _, p := range req.Parts {
		if p.Number < 1 || p.ETag == "" {
			return nil, apierror.BadRequest("each part requires part_number >= 1 and etag")
		}
	}

	row, err := s.requirePendingMultipart(ctx, req.Digest, req.UploadID)
	if err != nil {
		// An already-stored row makes a retried complete idempotent.
		if apiErr, ok := err.(*apierror.Error); ok && apiErr.Code == apierror.CodeAlreadyStored {
			stored, rerr := s.repos.Artifacts.GetByDigest(ctx, req.Digest)
			if rerr == nil {
				return duplicateResponse(stored, req.IdempotencyKey), nil
			}
		}
		return nil, err
	}

	if err := s.backend.CompleteMultipart(ctx, row.StorageKey.String, req.UploadID, req.Parts); err != nil {
		if errors.Is(err, storage.ErrMultipartUnsupported) {
			return nil, apierror.New(http.StatusBadRequest, apierror.CodeMultipartUnsupported,
				"storage backend does not support multipart uploads")
		}
		s.logger.Printf("multipart complete backend error: %v", err)
		s.metrics.MultipartCompleteFailures.Inc()
		return nil, apierror.Internal("multipart complete backend")
	}

	// Part metrics are observed at finalization time.
	partCount := len(req.Parts)
	if partCount > 0 && req.SizeBytes > 0 {
		approx := float64(req.SizeBytes) / float64(partCount)
		for range req.Parts {
			s.metrics.MultipartPartSize.Observe(approx)
		}
	}
	s.metrics.MultipartPartsPerArtifact.Observe(float64(partCount))

	resp, err := s.complete(ctx, &CompleteRequest{
		AppName:        req.AppName,
		Digest:         req.Digest,
		SizeBytes:      req.SizeBytes,
		Signature:      req.Signature,
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		s.metrics.MultipartCompleteFailures.Inc()
		return nil, err
	}
	s.metrics.MultipartCompletes.Inc()
	return resp, nil
}

func (s *Service) requirePendingMultipart(ctx context.Context, digest, uploadID string) (*database.Artifact, error) {
	row, err := s.repos.Artifacts.GetByDigest(ctx, digest)
	if errors.Is(err, database.ErrArtifactNotFound) {
		return nil, apierror.NotFound("no multipart upload for this digest")
	}
	if err != nil {
		return nil, apierror.Internal("db lookup failed")
	}
	if row.Status == database.ArtifactStatusStored {
		return nil, apierror.New(http.StatusConflict, apierror.CodeAlreadyStored, "artifact already stored")
	}
	if !row.MultipartUploadID.Valid || row.MultipartUploadID.String != uploadID {
		return nil, apierror.New(http.StatusBadRequest, apierror.CodeUploadIDMismatch,
			"upload_id does not match the pending upload")
	}
	if !row.StorageKey.Valid || row.StorageKey.String == "" {
		return nil, apierror.Internal("pending row has no storage key")
	}
	return row, nil
}

// ============================================================================
// LEGACY DIRECT UPLOAD
// ============================================================================

// LegacyUploadResponse is the deprecated single-shot endpoint response
type LegacyUploadResponse struct {
	ArtifactURL string `json:"artifact_url"`
	Digest      string `json:"digest"`
	Duplicate   bool   `json:"duplicate"`
	AppLinked   bool   `json:"app_linked"`
	Verified    bool   `json:"verified"`
}

// LegacyUpload streams a direct upload to local spool storage, recomputes
// the digest, and stores the row. Kept for old clients; new clients use
// the presigned protocol.
func (s *Service) LegacyUpload(ctx context.Context, appName, declaredDigest string, signature *string, body io.Reader) (*LegacyUploadResponse, error) {
	s.metrics.LegacyUploadRequests.Inc()
	start := time.Now()

	select {
	case s.uploadSlots <- struct{}{}:
		defer func() { <-s.uploadSlots }()
	case <-ctx.Done():
		return nil, apierror.ServiceUnavailable()
	}
	s.metrics.ArtifactActiveGauge.Inc()
	defer s.metrics.ArtifactActiveGauge.Dec()

	if appName == "" {
		return nil, apierror.BadRequest("missing app_name")
	}
	if !signing.IsDigest(declaredDigest) {
		return nil, apierror.New(http.StatusBadRequest, apierror.CodeInvalidDigest, "digest must be 64 hex chars")
	}

	dir := s.cfg.ArtifactStoreDir
	if err := os.MkdirAll(dir, 0o755); err != nil {
		s.logger.Printf("create store dir failed: %v", err)
		return nil, apierror.Internal("store dir")
	}
	tmpPath := filepath.Join(dir, fmt.Sprintf("upload-%s.part", uuid.New()))
	f, err := os.Create(tmpPath)
	if err != nil {
		s.logger.Printf("create tmp failed: %v", err)
		return nil, apierror.Internal("tmp create")
	}
	hasher := sha256.New()
	size, err := io.Copy(io.MultiWriter(f, hasher), body)
	closeErr := f.Close()
	if err != nil || closeErr != nil {
		os.Remove(tmpPath)
		return nil, apierror.Internal("write")
	}

	computed := hex.EncodeToString(hasher.Sum(nil))
	if computed != declaredDigest {
		os.Remove(tmpPath)
		return nil, apierror.New(http.StatusBadRequest, apierror.CodeDigestMismatch, "artifact digest mismatch")
	}
	if max := s.cfg.MaxArtifactSizeBytes; max > 0 && size > max {
		s.metrics.SizeExceededFailures.Inc()
		os.Remove(tmpPath)
		return nil, apierror.New(http.StatusBadRequest, apierror.CodeSizeExceeded,
			fmt.Sprintf("artifact size %d exceeds max %d", size, max))
	}

	// Dedupe on digest: reuse the existing row, do not rewrite bytes.
	if existing, err := s.repos.Artifacts.GetByDigest(ctx, computed); err == nil {
		os.Remove(tmpPath)
		s.logger.Printf("duplicate digest %s for app %s", computed, appName)
		return &LegacyUploadResponse{
			ArtifactURL: fmt.Sprintf("file://%s/%s.tar.gz", dir, existing.ID),
			Digest:      computed,
			Duplicate:   true,
			AppLinked:   existing.AppID.Valid,
			Verified:    existing.Verified,
		}, nil
	}

	finalPath := filepath.Join(dir, fmt.Sprintf("%s.tar.gz", uuid.New()))
	if err := os.Rename(tmpPath, finalPath); err != nil {
		os.Remove(tmpPath)
		s.logger.Printf("rename failed: %v", err)
		return nil, apierror.Internal("persist")
	}

	appID, err := s.repos.Apps.IDByName(ctx, appName)
	if err != nil {
		return nil, apierror.Internal("db lookup failed")
	}
	if appID.Valid {
		if err := s.enforceQuota(ctx, appID.UUID, size); err != nil {
			os.Remove(finalPath)
			return nil, err
		}
	}
	verified := s.verifySignature(ctx, appID, computed, signature)

	url := "file://" + finalPath
	row, err := s.repos.Artifacts.InsertStored(ctx, appID, computed, size,
		nullString(signature), verified, sql.NullString{String: url, Valid: true}, sql.NullString{})
	if err != nil {
		s.logger.Printf("legacy insert failed: %v", err)
		return nil, apierror.Internal("db insert")
	}

	s.metrics.ArtifactUploadBytes.Add(float64(size))
	s.metrics.ArtifactUploadDuration.Observe(time.Since(start).Seconds())
	s.finalizeSideEffects(ctx, row, appName)

	return &LegacyUploadResponse{
		ArtifactURL: url,
		Digest:      computed,
		Duplicate:   false,
		AppLinked:   appID.Valid,
		Verified:    verified,
	}, nil
}

// ============================================================================
// SHARED ENFORCEMENT
// ============================================================================

func (s *Service) checkIdempotencyKey(ctx context.Context, key *string, digest string, existing *database.Artifact) error {
	if key == nil || *key == "" {
		return nil
	}
	if existing != nil && existing.IdempotencyKey.Valid && existing.IdempotencyKey.String != *key {
		return apierror.New(http.StatusConflict, apierror.CodeIdempotencyConflict,
			"different operation for same digest")
	}
	bound, err := s.repos.Artifacts.DigestForIdempotencyKey(ctx, *key)
	if errors.Is(err, database.ErrNotFound) {
		return nil
	}
	if err != nil {
		return apierror.Internal("db lookup failed")
	}
	if bound != digest {
		return apierror.New(http.StatusConflict, apierror.CodeIdempotencyConflict,
			"idempotency key already used")
	}
	return nil
}

func (s *Service) verifyRemote(ctx context.Context, key, digest string, declaredSize int64) error {
	if s.cfg.VerifyRemoteSize {
		if actual, err := s.backend.HeadSize(ctx, key); err == nil && actual != nil {
			if *actual != declaredSize {
				return apierror.New(http.StatusBadRequest, apierror.CodeSizeMismatch,
					fmt.Sprintf("remote object size %d != reported %d", *actual, declaredSize))
			}
		}
	}
	if s.cfg.VerifyRemoteDigest {
		if meta, err := s.backend.HeadMetadata(ctx, key); err == nil && meta != nil {
			if remote, ok := meta["sha256"]; ok && remote != digest {
				s.metrics.DigestMismatches.Inc()
				return apierror.New(http.StatusBadRequest, apierror.CodeDigestMismatchRemote,
					fmt.Sprintf("remote metadata sha256 %s != provided %s", remote, digest))
			}
		}
	}
	if s.cfg.VerifyRemoteHash && s.cfg.RemoteHashMaxBytes > 0 {
		if remote, err := s.backend.RemoteSHA256(ctx, key, s.cfg.RemoteHashMaxBytes); err == nil && remote != nil {
			if *remote != digest {
				s.metrics.DigestMismatches.Inc()
				return apierror.New(http.StatusBadRequest, apierror.CodeDigestMismatchRemoteHash,
					fmt.Sprintf("remote hash %s != provided %s", *remote, digest))
			}
		}
	}
	return nil
}

func (s *Service) enforceQuota(ctx context.Context, appID uuid.UUID, incomingSize int64) error {
	maxCount := s.cfg.MaxArtifactsPerApp
	maxBytes := s.cfg.MaxTotalBytesPerApp
	if maxCount <= 0 && maxBytes <= 0 {
		return nil
	}
	if maxCount > 0 {
		count, err := s.repos.Artifacts.CountStoredByApp(ctx, appID)
		if err != nil {
			return apierror.Internal("quota check failed")
		}
		if count >= maxCount {
			s.metrics.QuotaExceededTotal.Inc()
			return apierror.New(http.StatusForbidden, apierror.CodeQuotaExceeded,
				fmt.Sprintf("artifact count quota %d reached", maxCount))
		}
	}
	if maxBytes > 0 {
		used, err := s.repos.Artifacts.SumBytesByApp(ctx, appID)
		if err != nil {
			return apierror.Internal("quota check failed")
		}
		if used+incomingSize > maxBytes {
			s.metrics.QuotaExceededTotal.Inc()
			return apierror.New(http.StatusForbidden, apierror.CodeQuotaExceeded,
				fmt.Sprintf("size quota %d exceeded (%d + %d)", maxBytes, used, incomingSize))
		}
	}
	return nil
}

// verifySignature is advisory: failures mark the artifact unverified.
func (s *Service) verifySignature(ctx context.Context, appID uuid.NullUUID, digest string, sig *string) bool {
	if sig == nil || *sig == "" || !appID.Valid {
		return false
	}
	keys, err := s.repos.PublicKeys.ActiveKeysForApp(ctx, appID.UUID)
	if err != nil {
		s.logger.Printf("active key lookup failed: %v", err)
		return false
	}
	return signing.VerifyDigest(digest, *sig, keys)
}

// finalizeSideEffects runs post-transition work: the stored event,
// retention GC, and provenance emission. All best-effort relative to the
// already-committed transition.
func (s *Service) finalizeSideEffects(ctx context.Context, row *database.Artifact, appName string) {
	if err := s.repos.Events.Insert(ctx, row.ID, database.EventTypeStored); err != nil {
		s.logger.Printf("stored event insert failed: %v", err)
	} else {
		s.metrics.ArtifactEventsTotal.Inc()
	}
	s.metrics.ArtifactsTotal.Inc()

	if row.AppID.Valid {
		if err := s.retentionGC(ctx, row.AppID.UUID, row.ID); err != nil {
			s.logger.Printf("retention gc failed: %v", err)
		}
	}

	if _, err := s.emitter.Emit(appName, row.Digest, row.Signature.Valid); err != nil {
		s.logger.Printf("provenance emission failed for %s: %v", row.Digest, err)
		s.metrics.ProvenanceWriteFailures.Inc()
		return
	}
	if err := s.repos.Artifacts.SetProvenancePresent(ctx, row.Digest); err != nil {
		s.logger.Printf("provenance flag update failed: %v", err)
	}
}

// retentionGC deletes stored artifacts beyond the newest N for the app.
// The artifact just stored is never deleted: it is among the newest N by
// construction, since enforcement only runs with retain >= 1.
func (s *Service) retentionGC(ctx context.Context, appID uuid.UUID, justStored uuid.UUID) error {
	retain := s.cfg.RetainLatestPerApp
	if retain <= 0 {
		return nil
	}
	victims, err := s.repos.Artifacts.RetentionVictims(ctx, appID, retain)
	if err != nil {
		return err
	}
	for _, id := range victims {
		if id == justStored {
			continue
		}
		if err := s.repos.Events.Insert(ctx, id, database.EventTypeRetentionDelete); err != nil {
			s.logger.Printf("retention event insert failed: %v", err)
		} else {
			s.metrics.ArtifactEventsTotal.Inc()
		}
		if err := s.repos.Artifacts.Delete(ctx, id); err != nil {
			return err
		}
		s.metrics.ArtifactsTotal.Dec()
	}
	return nil
}

// ============================================================================
// HELPERS
// ============================================================================

func validateAppAndDigest(appName, digest string) error {
	if appName == "" {
		return apierror.BadRequest("app_name required")
	}
	if !signing.IsDigest(digest) {
		return apierror.New(http.StatusBadRequest, apierror.CodeInvalidDigest, "digest must be 64 hex")
	}
	return nil
}

func duplicateResponse(row *database.Artifact, idempotencyKey *string) *CompleteResponse {
	return &CompleteResponse{
		ArtifactID:     row.ID.String(),
		Digest:         row.Digest,
		Duplicate:      true,
		Verified:       row.Verified,
		StorageKey:     row.StorageKey.String,
		Status:         string(row.Status),
		IdempotencyKey: idempotencyKey,
	}
}

func nullString(s *string) sql.NullString {
	if s == nil || *s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	return &ns.String
}
