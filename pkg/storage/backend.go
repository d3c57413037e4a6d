// Copyright 2025 AetherEngine
//
// Object Storage Abstraction
// The control plane never proxies artifact bytes; clients upload directly
// against presigned URLs. Backends expose a capability set and signal
// unsupported capabilities explicitly.

package storage

import (
	"context"
	"errors"
	"time"

	"github.com/aether-engine/aether/pkg/config"
)

// ErrMultipartUnsupported is returned by backends without native multipart
// support (the mock backend). Callers translate it to a stable API code.
var ErrMultipartUnsupported = errors.New("multipart uploads not supported by this backend")

// maxPresignExpiry caps every presigned URL lifetime.
const maxPresignExpiry = time.Hour

// PresignedUpload describes a capability-bearing upload URL
type PresignedUpload struct {
	URL        string            `json:"url"`
	Method     string            `json:"method"`
	Headers    map[string]string `json:"headers"`
	StorageKey string            `json:"storage_key"`
}

// Part identifies one uploaded multipart chunk
type Part struct {
	Number int32  `json:"part_number"`
	ETag   string `json:"etag"`
}

// Backend is the object store capability interface
type Backend interface {
	// PresignPut returns a single-shot upload URL for the key. Expiry is
	// clamped to one hour.
	PresignPut(ctx context.Context, key, digest string, expires time.Duration) (*PresignedUpload, error)

	// HeadSize returns the remote object size, or nil when unknown
	HeadSize(ctx context.Context, key string) (*int64, error)

	// HeadMetadata returns the remote metadata map, or nil when unavailable.
	// Transient errors are retried with bounded exponential backoff.
	HeadMetadata(ctx context.Context, key string) (map[string]string, error)

	// RemoteSHA256 streams and hashes the object if its size is known and
	// within maxBytes; returns nil otherwise.
	RemoteSHA256(ctx context.Context, key string, maxBytes int64) (*string, error)

	// InitMultipart begins a multipart upload and returns the upload id
	InitMultipart(ctx context.Context, key string) (string, error)

	// PresignPart returns an upload URL for one part
	PresignPart(ctx context.Context, key, uploadID string, partNumber int32, expires time.Duration) (*PresignedUpload, error)

	// CompleteMultipart assembles the uploaded parts
	CompleteMultipart(ctx context.Context, key, uploadID string, parts []Part) error
}

// NewBackend dispatches on configuration at construction time
func NewBackend(ctx context.Context, cfg *config.Config) (Backend, error) {
	if cfg.StorageMode == config.StorageModeS3 {
		return NewS3Backend(ctx, cfg)
	}
	return NewMockBackend(cfg.S3BaseURL, cfg.ArtifactBucket), nil
}

func clampExpiry(expires time.Duration) time.Duration {
	if expires <= 0 || expires > maxPresignExpiry {
		return maxPresignExpiry
	}
	return expires
}
