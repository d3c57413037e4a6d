// Copyright 2025 AetherEngine
//
// Unit tests for the storage abstraction (mock backend and expiry clamp)

package storage

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestMockPresignPut(t *testing.T) {
	m := NewMockBackend("http://minio.local:9000/", "artifacts")
	digest := strings.Repeat("a", 64)
	key := "artifacts/demo/" + digest + "/app.tar.gz"

	p, err := m.PresignPut(context.Background(), key, digest, time.Minute)
	if err != nil {
		t.Fatalf("presign failed: %v", err)
	}
	if p.Method != "PUT" {
		t.Errorf("expected PUT, got %s", p.Method)
	}
	if p.URL != "http://minio.local:9000/artifacts/"+key {
		t.Errorf("unexpected url %s", p.URL)
	}
	if p.StorageKey != key {
		t.Errorf("unexpected storage key %s", p.StorageKey)
	}
	if p.Headers["x-amz-meta-sha256"] != digest {
		t.Error("digest metadata header missing")
	}
}

func TestMockReturnsNoRemoteMetadata(t *testing.T) {
	m := NewMockBackend("http://x", "b")
	ctx := context.Background()

	if size, err := m.HeadSize(ctx, "k"); err != nil || size != nil {
		t.Errorf("mock head size must be nil, got %v %v", size, err)
	}
	if meta, err := m.HeadMetadata(ctx, "k"); err != nil || meta != nil {
		t.Errorf("mock head metadata must be nil, got %v %v", meta, err)
	}
	if h, err := m.RemoteSHA256(ctx, "k", 1<<20); err != nil || h != nil {
		t.Errorf("mock remote hash must be nil, got %v %v", h, err)
	}
}

func TestMockMultipartUnsupported(t *testing.T) {
	m := NewMockBackend("http://x", "b")
	ctx := context.Background()

	if _, err := m.InitMultipart(ctx, "k"); !errors.Is(err, ErrMultipartUnsupported) {
		t.Errorf("expected ErrMultipartUnsupported, got %v", err)
	}
	if _, err := m.PresignPart(ctx, "k", "u", 1, time.Minute); !errors.Is(err, ErrMultipartUnsupported) {
		t.Errorf("expected ErrMultipartUnsupported, got %v", err)
	}
	if err := m.CompleteMultipart(ctx, "k", "u", nil); !errors.Is(err, ErrMultipartUnsupported) {
		t.Errorf("expected ErrMultipartUnsupported, got %v", err)
	}
}

func TestClampExpiry(t *testing.T) {
	cases := []struct {
		in   time.Duration
		want time.Duration
	}{
		{15 * time.Minute, 15 * time.Minute},
		{time.Hour, time.Hour},
		{2 * time.Hour, time.Hour},
		{0, time.Hour},
		{-time.Minute, time.Hour},
	}
	for _, c := range cases {
		if got := clampExpiry(c.in); got != c.want {
			t.Errorf("clampExpiry(%v) = %v, want %v", c.in, got, c.want)
		}
	}
}
