// Copyright 2025 AetherEngine
//
// Control Plane Configuration
// All configuration is environment driven. Required variables have no
// defaults; call Validate() after Load() before starting the service.

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// StorageMode selects the object store backend.
type StorageMode string

const (
	StorageModeMock StorageMode = "mock"
	StorageModeS3   StorageMode = "s3"
)

// AuthMode selects where bearer tokens are resolved.
type AuthMode string

const (
	AuthModeEnv AuthMode = "env"
	AuthModeDB  AuthMode = "db"
)

// Config holds all configuration for the Aether control plane
type Config struct {
	// Server Configuration
	ListenAddr string
	LogLevel   string

	// Database Configuration
	DatabaseURL         string
	DatabaseMaxConns    int
	DatabaseMinConns    int
	DatabaseMaxIdleTime int // seconds
	DatabaseMaxLifetime int // seconds

	// Object Storage Configuration
	StorageMode    StorageMode
	ArtifactBucket string
	S3Region       string
	S3EndpointURL  string
	S3BaseURL      string // mock backend URL prefix

	// Upload Protocol Configuration
	MaxArtifactSizeBytes int64
	PresignExpire        time.Duration
	MaxConcurrentUploads int
	RequirePresign       bool
	ArtifactStoreDir     string // legacy direct-upload spool directory

	// Remote Integrity Verification
	VerifyRemoteSize   bool
	VerifyRemoteDigest bool
	VerifyRemoteHash   bool
	RemoteHashMaxBytes int64

	// Quota & Retention (0 = unlimited)
	MaxArtifactsPerApp  int64
	MaxTotalBytesPerApp int64
	RetainLatestPerApp  int64

	// SBOM Validation
	EnforceSBOM         bool
	CycloneDXFullSchema bool

	// Provenance & Attestation
	SBOMDir           string
	ManifestDir       string
	ProvenanceDir     string
	AttestationSK     string
	AttestationKeyID  string
	AttestationSK2    string
	AttestationKeyID2 string
	BuilderID         string
	BuildType         string
	BuildRoot         string
	GitCommit         string
	CI                bool

	// Auth & Policy
	AuthEnabled        bool
	AuthMode           AuthMode
	AdminToken         string
	UserToken          string
	CORSAllowedOrigins []string

	// Background Maintenance
	PendingGCTTL      time.Duration
	PendingGCInterval time.Duration
	BackfillEnabled   bool
	BackfillInterval  time.Duration
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		// Server Configuration - safe defaults
		ListenAddr: getEnv("AETHER_HOST", "0.0.0.0") + ":" + getEnv("AETHER_PORT", "8080"),
		LogLevel:   getEnv("LOG_LEVEL", "info"),

		// Database Configuration - REQUIRED, no default
		DatabaseURL:         getEnv("DATABASE_URL", ""),
		DatabaseMaxConns:    getEnvInt("DATABASE_MAX_CONNS", 25),
		DatabaseMinConns:    getEnvInt("DATABASE_MIN_CONNS", 5),
		DatabaseMaxIdleTime: getEnvInt("DATABASE_MAX_IDLE_TIME", 300),
		DatabaseMaxLifetime: getEnvInt("DATABASE_MAX_LIFETIME", 3600),

		// Object Storage Configuration
		StorageMode:    StorageMode(strings.ToLower(getEnv("AETHER_STORAGE_MODE", "mock"))),
		ArtifactBucket: getEnv("AETHER_ARTIFACT_BUCKET", "artifacts"),
		S3Region:       getEnv("AWS_REGION", "us-east-1"),
		S3EndpointURL:  getEnv("AETHER_S3_ENDPOINT_URL", ""),
		S3BaseURL:      getEnv("AETHER_S3_BASE_URL", "http://minio.local:9000"),

		// Upload Protocol Configuration
		MaxArtifactSizeBytes: getEnvInt64("AETHER_MAX_ARTIFACT_SIZE_BYTES", 0),
		PresignExpire:        time.Duration(getEnvInt("AETHER_PRESIGN_EXPIRE_SECS", 900)) * time.Second,
		MaxConcurrentUploads: getEnvInt("AETHER_MAX_CONCURRENT_UPLOADS", 32),
		RequirePresign:       getEnvBool("AETHER_REQUIRE_PRESIGN", false),
		ArtifactStoreDir:     getEnv("ARTIFACT_STORE_DIR", "./data/artifacts"),

		// Remote Integrity Verification
		VerifyRemoteSize:   getEnvBool("AETHER_VERIFY_REMOTE_SIZE", true),
		VerifyRemoteDigest: getEnvBool("AETHER_VERIFY_REMOTE_DIGEST", true),
		VerifyRemoteHash:   getEnvBool("AETHER_VERIFY_REMOTE_HASH", false),
		RemoteHashMaxBytes: getEnvInt64("AETHER_REMOTE_HASH_MAX_BYTES", 8_000_000),

		// Quota & Retention (0 = unlimited)
		MaxArtifactsPerApp:  getEnvInt64("AETHER_MAX_ARTIFACTS_PER_APP", 0),
		MaxTotalBytesPerApp: getEnvInt64("AETHER_MAX_TOTAL_BYTES_PER_APP", 0),
		RetainLatestPerApp:  getEnvInt64("AETHER_RETAIN_LATEST_PER_APP", 0),

		// SBOM Validation
		EnforceSBOM:         getEnvBool("AETHER_ENFORCE_SBOM", false),
		CycloneDXFullSchema: getEnvBool("AETHER_CYCLONEDX_FULL_SCHEMA", false),

		// Provenance & Attestation
		SBOMDir:           getEnv("AETHER_SBOM_DIR", "./data/sbom"),
		ManifestDir:       getEnv("AETHER_MANIFEST_DIR", ""),
		ProvenanceDir:     getEnv("AETHER_PROVENANCE_DIR", "./data/provenance"),
		AttestationSK:     getEnv("AETHER_ATTESTATION_SK", ""),
		AttestationKeyID:  getEnv("AETHER_ATTESTATION_KEY_ID", "attestation-default"),
		AttestationSK2:    getEnv("AETHER_ATTESTATION_SK_ROTATE2", ""),
		AttestationKeyID2: getEnv("AETHER_ATTESTATION_KEY_ID_ROTATE2", "attestation-rotated"),
		BuilderID:         getEnv("AETHER_BUILDER_ID", "aether://builder/default"),
		BuildType:         getEnv("AETHER_BUILD_TYPE", "aether.app.bundle.v1"),
		BuildRoot:         getEnv("AETHER_BUILD_ROOT", ""),
		GitCommit:         getEnv("GIT_COMMIT_SHA", ""),
		CI:                os.Getenv("CI") != "",

		// Auth & Policy
		AuthEnabled:        getEnvBool("AETHER_AUTH_ENABLED", false),
		AuthMode:           AuthMode(getEnv("AETHER_AUTH_MODE", "env")),
		AdminToken:         getEnv("AETHER_ADMIN_TOKEN", ""),
		UserToken:          getEnv("AETHER_USER_TOKEN", ""),
		CORSAllowedOrigins: splitNonEmpty(getEnv("AETHER_CORS_ALLOWED_ORIGINS", "")),

		// Background Maintenance
		PendingGCTTL:      getEnvDuration("AETHER_PENDING_GC_TTL", 15*time.Minute),
		PendingGCInterval: getEnvDuration("AETHER_PENDING_GC_INTERVAL", time.Minute),
		BackfillEnabled:   getEnvBool("AETHER_BACKFILL_ENABLED", false),
		BackfillInterval:  getEnvDuration("AETHER_BACKFILL_INTERVAL", 5*time.Minute),
	}

	if cfg.ManifestDir == "" {
		cfg.ManifestDir = cfg.SBOMDir
	}

	return cfg, nil
}

// Validate checks that all required configuration is present and coherent.
func (c *Config) Validate() error {
	var errs []string

	if c.DatabaseURL == "" {
		errs = append(errs, "DATABASE_URL is required but not set")
	}
	if c.StorageMode != StorageModeMock && c.StorageMode != StorageModeS3 {
		errs = append(errs, fmt.Sprintf("AETHER_STORAGE_MODE must be mock or s3, got %q", c.StorageMode))
	}
	if c.AuthMode != AuthModeEnv && c.AuthMode != AuthModeDB {
		errs = append(errs, fmt.Sprintf("AETHER_AUTH_MODE must be env or db, got %q", c.AuthMode))
	}
	if c.AuthEnabled && c.AuthMode == AuthModeEnv && c.AdminToken == "" && c.UserToken == "" {
		errs = append(errs, "auth enabled in env mode but neither AETHER_ADMIN_TOKEN nor AETHER_USER_TOKEN is set")
	}
	if c.PresignExpire <= 0 {
		errs = append(errs, "AETHER_PRESIGN_EXPIRE_SECS must be positive")
	}
	if c.MaxConcurrentUploads <= 0 {
		errs = append(errs, "AETHER_MAX_CONCURRENT_UPLOADS must be positive")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// Helper functions for environment variable parsing
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// splitNonEmpty splits a comma-separated list, trimming blanks.
func splitNonEmpty(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}
