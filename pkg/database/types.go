// Copyright 2025 AetherEngine
//
// Database Types for Aether Artifact Metadata
// These types map directly to the PostgreSQL schema defined in
// migrations/001_initial_schema.sql

package database

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// ============================================================================
// ARTIFACT TYPES
// ============================================================================

// ArtifactStatus represents the upload lifecycle of an artifact
type ArtifactStatus string

const (
	// ArtifactStatusPending is a reserved row awaiting byte upload
	ArtifactStatusPending ArtifactStatus = "pending"
	// ArtifactStatusStored is terminal; rows may be deleted, never demoted
	ArtifactStatusStored ArtifactStatus = "stored"
)

// Artifact represents a content-addressed deployable blob.
// Maps to: artifacts table
type Artifact struct {
	ID                 uuid.UUID      `json:"id"`
	AppID              uuid.NullUUID  `json:"app_id,omitempty"`
	Digest             string         `json:"digest"`
	SizeBytes          int64          `json:"size_bytes"`
	Signature          sql.NullString `json:"signature,omitempty"`
	SBOMURL            sql.NullString `json:"sbom_url,omitempty"`
	ManifestURL        sql.NullString `json:"manifest_url,omitempty"`
	Verified           bool           `json:"verified"`
	StorageKey         sql.NullString `json:"storage_key,omitempty"`
	Status             ArtifactStatus `json:"status"`
	CreatedAt          time.Time      `json:"created_at"`
	CompletedAt        sql.NullTime   `json:"completed_at,omitempty"`
	IdempotencyKey     sql.NullString `json:"idempotency_key,omitempty"`
	MultipartUploadID  sql.NullString `json:"multipart_upload_id,omitempty"`
	ProvenancePresent  bool           `json:"provenance_present"`
	ManifestDigest     sql.NullString `json:"manifest_digest,omitempty"`
	SBOMManifestDigest sql.NullString `json:"sbom_manifest_digest,omitempty"`
	SBOMValidated      bool           `json:"sbom_validated"`
}

// ============================================================================
// APPLICATION TYPES
// ============================================================================

// Application is created on first reference and never implicitly deleted.
// Maps to: applications table
type Application struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// PublicKey is an application-scoped Ed25519 verification key. Keys may be
// deactivated but never reactivated, preserving verification history.
// Maps to: public_keys table
type PublicKey struct {
	ID           uuid.UUID `json:"id"`
	AppID        uuid.UUID `json:"app_id"`
	PublicKeyHex string    `json:"public_key_hex"`
	Active       bool      `json:"active"`
	CreatedAt    time.Time `json:"created_at"`
}

// ============================================================================
// EVENT TYPES
// ============================================================================

// EventType enumerates the append-only artifact event log entries
type EventType string

const (
	EventTypeStored          EventType = "stored"
	EventTypeRetentionDelete EventType = "retention_delete"
)

// ArtifactEvent maps to: artifact_events table
type ArtifactEvent struct {
	ID         int64     `json:"id"`
	ArtifactID uuid.UUID `json:"artifact_id"`
	EventType  EventType `json:"event_type"`
	TS         time.Time `json:"ts"`
}

// ============================================================================
// DEPLOYMENT TYPES
// ============================================================================

// DeploymentStatus lifecycle driven by the external rollout controller
type DeploymentStatus string

const (
	DeploymentStatusPending DeploymentStatus = "pending"
	DeploymentStatusRunning DeploymentStatus = "running"
	DeploymentStatusFailed  DeploymentStatus = "failed"
)

// Deployment maps to: deployments table. The control plane only creates
// pending records; status transitions arrive from the controller via PATCH.
type Deployment struct {
	ID          uuid.UUID        `json:"id"`
	AppID       uuid.UUID        `json:"app_id"`
	ArtifactURL string           `json:"artifact_url"`
	Status      DeploymentStatus `json:"status"`
	Reason      sql.NullString   `json:"reason,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
}

// ============================================================================
// AUTH TYPES
// ============================================================================

// Role for API access control
type Role string

const (
	RoleAdmin Role = "admin"
	RoleUser  Role = "user"
)

// User maps to: users table; tokens are stored as sha256 hex
type User struct {
	ID        uuid.UUID `json:"id"`
	TokenHash string    `json:"-"`
	Role      Role      `json:"role"`
	Subject   string    `json:"subject"`
	CreatedAt time.Time `json:"created_at"`
}
