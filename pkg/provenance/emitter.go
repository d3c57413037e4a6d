// Copyright 2025 AetherEngine
//
// Provenance Emitter
// Every successful artifact finalization (and every deployment creation)
// writes three files into the provenance directory:
//   {app}-{digest}.json            legacy v1 document
//   {app}-{digest}.prov2.json      canonical v2 document with materials
//   {app}-{digest}.prov2.dsse.json DSSE envelope, one signature per
//                                  currently-active attestation key
// Re-emission for the same digest overwrites the DSSE envelope with the
// current active key set, which is how rotation becomes observable.

package provenance

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/aether-engine/aether/pkg/config"
	"github.com/aether-engine/aether/pkg/metrics"
)

// PayloadType identifies the DSSE payload
const PayloadType = "application/vnd.aether.provenance+json"

// DocumentV1 is the legacy provenance shape kept for old consumers
type DocumentV1 struct {
	Schema           string  `json:"schema"`
	App              string  `json:"app"`
	Digest           string  `json:"digest"`
	SignaturePresent bool    `json:"signature_present"`
	Commit           *string `json:"commit"`
	Timestamp        string  `json:"timestamp"`
}

// Material is one build input referenced by the v2 document
type Material struct {
	Type   string `json:"type"`
	Name   string `json:"name"`
	Digest string `json:"digest"`
}

// InvocationEnv captures the build environment
type InvocationEnv struct {
	OS string `json:"os"`
	Go string `json:"go"`
	CI bool   `json:"ci"`
}

// Invocation describes how the build was invoked
type Invocation struct {
	Environment InvocationEnv  `json:"environment"`
	Parameters  map[string]any `json:"parameters"`
}

// Completeness flags which provenance claims are complete
type Completeness struct {
	Parameters  bool `json:"parameters"`
	Environment bool `json:"environment"`
	Materials   bool `json:"materials"`
}

// BuildMetadata bounds the build-time window
type BuildMetadata struct {
	BuildStartedOn  string `json:"buildStartedOn"`
	BuildFinishedOn string `json:"buildFinishedOn"`
	Reproducible    bool   `json:"reproducible"`
}

// DocumentV2 is the full provenance shape; its canonical bytes are the
// DSSE payload
type DocumentV2 struct {
	Schema           string         `json:"schema"`
	App              string         `json:"app"`
	ArtifactDigest   string         `json:"artifact_digest"`
	SignaturePresent bool           `json:"signature_present"`
	Commit           *string        `json:"commit"`
	Timestamp        string         `json:"timestamp"`
	SBOMSHA256       *string        `json:"sbom_sha256"`
	SBOMURL          *string        `json:"sbom_url"`
	Materials        []Material     `json:"materials"`
	Builder          *Builder       `json:"builder,omitempty"`
	BuildType        string         `json:"buildType,omitempty"`
	Invocation       *Invocation    `json:"invocation,omitempty"`
	Completeness     *Completeness  `json:"completeness,omitempty"`
	Metadata         *BuildMetadata `json:"metadata,omitempty"`
}

// Builder identifies the build system
type Builder struct {
	ID string `json:"id"`
}

// DSSESignature is one (keyid, hex signature) pair
type DSSESignature struct {
	KeyID string `json:"keyid"`
	Sig   string `json:"sig"`
}

// DSSEEnvelope carries the base64 canonical payload and its signatures.
// Signatures stays present (empty array) when every key is retired.
type DSSEEnvelope struct {
	PayloadType string          `json:"payloadType"`
	Payload     string          `json:"payload"`
	Signatures  []DSSESignature `json:"signatures"`
}

// Emitter writes provenance documents and attestations
type Emitter struct {
	cfg     *config.Config
	metrics *metrics.Metrics
	logger  *log.Logger
}

// NewEmitter creates a provenance emitter
func NewEmitter(cfg *config.Config, m *metrics.Metrics, logger *log.Logger) *Emitter {
	if logger == nil {
		logger = log.New(log.Writer(), "[Provenance] ", log.LstdFlags)
	}
	return &Emitter{cfg: cfg, metrics: m, logger: logger}
}

// Emit writes the v1 document, the canonical v2 document, and the DSSE
// envelope for an artifact. Returns the canonical v2 bytes.
func (e *Emitter) Emit(app, digest string, signaturePresent bool) ([]byte, error) {
	if digest == "" {
		return nil, nil
	}
	dir := e.cfg.ProvenanceDir
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create provenance dir: %w", err)
	}

	var commit *string
	if e.cfg.GitCommit != "" {
		commit = &e.cfg.GitCommit
	}
	now := time.Now().UTC()
	ts := now.Format(time.RFC3339)

	v1 := DocumentV1{
		Schema:           "aether.provenance.v1",
		App:              app,
		Digest:           digest,
		SignaturePresent: signaturePresent,
		Commit:           commit,
		Timestamp:        ts,
	}
	v1Bytes, err := json.MarshalIndent(v1, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal v1 provenance: %w", err)
	}
	v1Path := filepath.Join(dir, fmt.Sprintf("%s-%s.json", app, digest))
	if err := os.WriteFile(v1Path, v1Bytes, 0o644); err != nil {
		return nil, fmt.Errorf("failed to write v1 provenance: %w", err)
	}

	// Materials: SBOM first (when present), then manifest, then lockfile.
	var materials []Material
	var sbomSHA, sbomURL *string
	sbomPath := filepath.Join(e.cfg.SBOMDir, digest+".sbom.json")
	if h := fileSHA256(sbomPath); h != nil {
		materials = append(materials, Material{Type: "sbom", Name: "cyclonedx@1.5", Digest: *h})
		sbomSHA = h
		u := fmt.Sprintf("/artifacts/%s/sbom", digest)
		sbomURL = &u
	}
	manifestPath := filepath.Join(e.cfg.ManifestDir, digest+".manifest.json")
	if h := fileSHA256(manifestPath); h != nil {
		materials = append(materials, Material{Type: "manifest", Name: "app-manifest", Digest: *h})
	}
	if e.cfg.BuildRoot != "" {
		lockPath := filepath.Join(e.cfg.BuildRoot, "package-lock.json")
		if h := fileSHA256(lockPath); h != nil {
			materials = append(materials, Material{Type: "lockfile", Name: "package-lock.json", Digest: *h})
		}
	}
	if materials == nil {
		materials = []Material{}
	}

	v2 := DocumentV2{
		Schema:           "aether.provenance.v2",
		App:              app,
		ArtifactDigest:   digest,
		SignaturePresent: signaturePresent,
		Commit:           commit,
		Timestamp:        ts,
		SBOMSHA256:       sbomSHA,
		SBOMURL:          sbomURL,
		Materials:        materials,
		Builder:          &Builder{ID: e.cfg.BuilderID},
		BuildType:        e.cfg.BuildType,
		Invocation: &Invocation{
			Environment: InvocationEnv{OS: runtime.GOOS, Go: runtime.Version(), CI: e.cfg.CI},
			Parameters:  map[string]any{},
		},
		Completeness: &Completeness{Parameters: true, Environment: true, Materials: true},
		Metadata: &BuildMetadata{
			BuildStartedOn:  ts,
			BuildFinishedOn: now.Format(time.RFC3339),
			Reproducible:    false,
		},
	}

	canonical, err := CanonicalizeValue(v2)
	if err != nil {
		return nil, fmt.Errorf("failed to canonicalize provenance: %w", err)
	}
	v2Path := filepath.Join(dir, fmt.Sprintf("%s-%s.prov2.json", app, digest))
	if err := os.WriteFile(v2Path, canonical, 0o644); err != nil {
		return nil, fmt.Errorf("failed to write v2 provenance: %w", err)
	}
	e.metrics.ProvenanceEmitted.WithLabelValues(app).Inc()

	envelope, err := e.sign(app, canonical)
	if err != nil {
		return nil, err
	}
	envBytes, err := json.MarshalIndent(envelope, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal envelope: %w", err)
	}
	envPath := filepath.Join(dir, fmt.Sprintf("%s-%s.prov2.dsse.json", app, digest))
	if err := os.WriteFile(envPath, envBytes, 0o644); err != nil {
		return nil, fmt.Errorf("failed to write attestation: %w", err)
	}

	return canonical, nil
}

// sign builds the DSSE envelope. The keystore is reloaded here, per
// signing attempt, so status flips take effect immediately.
func (e *Emitter) sign(app string, payload []byte) (*DSSEEnvelope, error) {
	keystore, err := LoadKeystore(e.cfg.ProvenanceDir)
	if err != nil {
		e.logger.Printf("keystore unreadable, signing with env keys only: %v", err)
	}

	type keySpec struct {
		seedHex string
		keyID   string
	}
	specs := []keySpec{}
	if e.cfg.AttestationSK != "" {
		specs = append(specs, keySpec{e.cfg.AttestationSK, e.cfg.AttestationKeyID})
	}
	if e.cfg.AttestationSK2 != "" {
		specs = append(specs, keySpec{e.cfg.AttestationSK2, e.cfg.AttestationKeyID2})
	}

	signatures := []DSSESignature{}
	for _, spec := range specs {
		if !keyActive(keystore, spec.keyID) {
			continue
		}
		seed, err := hex.DecodeString(spec.seedHex)
		if err != nil || len(seed) != ed25519.SeedSize {
			e.logger.Printf("attestation key %s is not a 32-byte hex seed, skipping", spec.keyID)
			continue
		}
		key := ed25519.NewKeyFromSeed(seed)
		sig := ed25519.Sign(key, payload)
		signatures = append(signatures, DSSESignature{KeyID: spec.keyID, Sig: hex.EncodeToString(sig)})
		e.metrics.AttestationSigned.WithLabelValues(app).Inc()
	}

	return &DSSEEnvelope{
		PayloadType: PayloadType,
		Payload:     base64.StdEncoding.EncodeToString(payload),
		Signatures:  signatures,
	}, nil
}

func fileSHA256(path string) *string {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	sum := sha256.Sum256(data)
	h := hex.EncodeToString(sum[:])
	return &h
}
