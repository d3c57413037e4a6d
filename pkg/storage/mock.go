// Copyright 2025 AetherEngine
//
// Mock storage backend. Synthesizes URLs without talking to an object
// store; returns no remote metadata so integrity checks are skipped.

package storage

import (
	"context"
	"strings"
	"time"
)

// MockBackend synthesizes presigned URLs for tests and local development
type MockBackend struct {
	BaseURL string
	Bucket  string
}

// NewMockBackend creates a mock backend
func NewMockBackend(baseURL, bucket string) *MockBackend {
	return &MockBackend{BaseURL: baseURL, Bucket: bucket}
}

func (m *MockBackend) PresignPut(_ context.Context, key, digest string, _ time.Duration) (*PresignedUpload, error) {
	url := strings.TrimRight(m.BaseURL, "/") + "/" + m.Bucket + "/" + key
	return &PresignedUpload{
		URL:    url,
		Method: "PUT",
		Headers: map[string]string{
			"x-amz-acl":         "private",
			"x-amz-meta-sha256": digest,
		},
		StorageKey: key,
	}, nil
}

// HeadSize reports nothing: the mock has no remote object to verify
func (m *MockBackend) HeadSize(_ context.Context, _ string) (*int64, error) {
	return nil, nil
}

func (m *MockBackend) HeadMetadata(_ context.Context, _ string) (map[string]string, error) {
	return nil, nil
}

func (m *MockBackend) RemoteSHA256(_ context.Context, _ string, _ int64) (*string, error) {
	return nil, nil
}

func (m *MockBackend) InitMultipart(_ context.Context, _ string) (string, error) {
	return "", ErrMultipartUnsupported
}

func (m *MockBackend) PresignPart(_ context.Context, _, _ string, _ int32, _ time.Duration) (*PresignedUpload, error) {
	return nil, ErrMultipartUnsupported
}

func (m *MockBackend) CompleteMultipart(_ context.Context, _, _ string, _ []Part) error {
	return ErrMultipartUnsupported
}
