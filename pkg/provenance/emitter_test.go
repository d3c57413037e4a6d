// Copyright 2025 AetherEngine
//
// Unit tests for provenance emission, DSSE signing, and key rotation

package provenance

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aether-engine/aether/pkg/config"
	"github.com/aether-engine/aether/pkg/metrics"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	return &config.Config{
		ProvenanceDir: dir,
		SBOMDir:       filepath.Join(dir, "sbom"),
		ManifestDir:   filepath.Join(dir, "manifest"),
		BuilderID:     "aether://builder/test",
		BuildType:     "aether.app.bundle.v1",
	}
}

func genSeed(t *testing.T) string {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	return hex.EncodeToString(priv.Seed())
}

func readEnvelope(t *testing.T, dir, app, digest string) *DSSEEnvelope {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(dir, app+"-"+digest+".prov2.dsse.json"))
	require.NoError(t, err)
	var env DSSEEnvelope
	require.NoError(t, json.Unmarshal(data, &env))
	return &env
}

func TestEmitWritesAllThreeFiles(t *testing.T) {
	cfg := testConfig(t)
	emitter := NewEmitter(cfg, metrics.New(), nil)
	digest := strings.Repeat("a", 64)

	canonical, err := emitter.Emit("demo", digest, true)
	require.NoError(t, err)
	require.NotEmpty(t, canonical)

	for _, suffix := range []string{".json", ".prov2.json", ".prov2.dsse.json"} {
		_, err := os.Stat(filepath.Join(cfg.ProvenanceDir, "demo-"+digest+suffix))
		assert.NoError(t, err, "expected demo-%s%s", digest, suffix)
	}

	// The canonical v2 document must survive re-canonicalization unchanged.
	again, err := Canonicalize(canonical)
	require.NoError(t, err)
	assert.Equal(t, canonical, again)
}

func TestEmitDualSignaturesWhenBothActive(t *testing.T) {
	cfg := testConfig(t)
	cfg.AttestationSK = genSeed(t)
	cfg.AttestationKeyID = "k1"
	cfg.AttestationSK2 = genSeed(t)
	cfg.AttestationKeyID2 = "k2"

	emitter := NewEmitter(cfg, metrics.New(), nil)
	digest := strings.Repeat("b", 64)
	_, err := emitter.Emit("appk", digest, false)
	require.NoError(t, err)

	env := readEnvelope(t, cfg.ProvenanceDir, "appk", digest)
	assert.Equal(t, PayloadType, env.PayloadType)
	require.Len(t, env.Signatures, 2)
	assert.Equal(t, "k1", env.Signatures[0].KeyID)
	assert.Equal(t, "k2", env.Signatures[1].KeyID)
}

func TestEmitSignaturesVerify(t *testing.T) {
	cfg := testConfig(t)
	seedHex := genSeed(t)
	cfg.AttestationSK = seedHex
	cfg.AttestationKeyID = "k1"

	emitter := NewEmitter(cfg, metrics.New(), nil)
	digest := strings.Repeat("c", 64)
	_, err := emitter.Emit("demo", digest, false)
	require.NoError(t, err)

	env := readEnvelope(t, cfg.ProvenanceDir, "demo", digest)
	require.Len(t, env.Signatures, 1)

	payload, err := base64.StdEncoding.DecodeString(env.Payload)
	require.NoError(t, err)
	sig, err := hex.DecodeString(env.Signatures[0].Sig)
	require.NoError(t, err)
	seed, _ := hex.DecodeString(seedHex)
	key := ed25519.NewKeyFromSeed(seed)
	assert.True(t, ed25519.Verify(key.Public().(ed25519.PublicKey), payload, sig))
}

func TestKeystoreRetiresKey(t *testing.T) {
	cfg := testConfig(t)
	cfg.AttestationSK = genSeed(t)
	cfg.AttestationKeyID = "k1"
	cfg.AttestationSK2 = genSeed(t)
	cfg.AttestationKeyID2 = "k2"

	keystore, _ := json.Marshal([]KeyMeta{
		{KeyID: "k1", Status: KeyStatusRetired},
		{KeyID: "k2", Status: KeyStatusActive},
	})
	require.NoError(t, os.WriteFile(filepath.Join(cfg.ProvenanceDir, KeystoreFilename), keystore, 0o644))

	emitter := NewEmitter(cfg, metrics.New(), nil)
	digest := strings.Repeat("d", 64)
	_, err := emitter.Emit("rot", digest, false)
	require.NoError(t, err)

	env := readEnvelope(t, cfg.ProvenanceDir, "rot", digest)
	require.Len(t, env.Signatures, 1)
	assert.Equal(t, "k2", env.Signatures[0].KeyID)
}

func TestAllRetiredWritesEmptySignatureArray(t *testing.T) {
	cfg := testConfig(t)
	cfg.AttestationSK = genSeed(t)
	cfg.AttestationKeyID = "k1"

	keystore, _ := json.Marshal([]KeyMeta{{KeyID: "k1", Status: KeyStatusRetired}})
	require.NoError(t, os.WriteFile(filepath.Join(cfg.ProvenanceDir, KeystoreFilename), keystore, 0o644))

	emitter := NewEmitter(cfg, metrics.New(), nil)
	digest := strings.Repeat("e", 64)
	_, err := emitter.Emit("none", digest, false)
	require.NoError(t, err)

	raw, err := os.ReadFile(filepath.Join(cfg.ProvenanceDir, "none-"+digest+".prov2.dsse.json"))
	require.NoError(t, err)
	var decoded map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(raw, &decoded))
	sigField, ok := decoded["signatures"]
	require.True(t, ok, "signatures field must be present even when empty")
	assert.Equal(t, "[]", strings.TrimSpace(string(sigField)))
}

func TestKeystoreReloadedPerEmission(t *testing.T) {
	cfg := testConfig(t)
	cfg.AttestationSK = genSeed(t)
	cfg.AttestationKeyID = "k1"
	cfg.AttestationSK2 = genSeed(t)
	cfg.AttestationKeyID2 = "k2"
	emitter := NewEmitter(cfg, metrics.New(), nil)

	d1 := strings.Repeat("1", 64)
	_, err := emitter.Emit("app", d1, false)
	require.NoError(t, err)
	assert.Len(t, readEnvelope(t, cfg.ProvenanceDir, "app", d1).Signatures, 2)

	// Retire k1 between emissions; the very next envelope must see it.
	keystore, _ := json.Marshal([]KeyMeta{
		{KeyID: "k1", Status: KeyStatusRetired},
		{KeyID: "k2", Status: KeyStatusActive},
	})
	require.NoError(t, os.WriteFile(filepath.Join(cfg.ProvenanceDir, KeystoreFilename), keystore, 0o644))

	d2 := strings.Repeat("2", 64)
	_, err = emitter.Emit("app", d2, false)
	require.NoError(t, err)
	env := readEnvelope(t, cfg.ProvenanceDir, "app", d2)
	require.Len(t, env.Signatures, 1)
	assert.Equal(t, "k2", env.Signatures[0].KeyID)
}

func TestReEmissionOverwritesEnvelope(t *testing.T) {
	cfg := testConfig(t)
	cfg.AttestationSK = genSeed(t)
	cfg.AttestationKeyID = "k1"
	emitter := NewEmitter(cfg, metrics.New(), nil)

	digest := strings.Repeat("f", 64)
	_, err := emitter.Emit("app", digest, false)
	require.NoError(t, err)
	assert.Len(t, readEnvelope(t, cfg.ProvenanceDir, "app", digest).Signatures, 1)

	keystore, _ := json.Marshal([]KeyMeta{{KeyID: "k1", Status: KeyStatusRetired}})
	require.NoError(t, os.WriteFile(filepath.Join(cfg.ProvenanceDir, KeystoreFilename), keystore, 0o644))

	_, err = emitter.Emit("app", digest, false)
	require.NoError(t, err)
	assert.Len(t, readEnvelope(t, cfg.ProvenanceDir, "app", digest).Signatures, 0,
		"a new emission for the same digest must overwrite the envelope with the current key set")
}

func TestEmitIncludesSBOMMaterial(t *testing.T) {
	cfg := testConfig(t)
	require.NoError(t, os.MkdirAll(cfg.SBOMDir, 0o755))
	digest := strings.Repeat("9", 64)
	require.NoError(t, os.WriteFile(filepath.Join(cfg.SBOMDir, digest+".sbom.json"),
		[]byte(`{"bomFormat":"CycloneDX"}`), 0o644))

	emitter := NewEmitter(cfg, metrics.New(), nil)
	canonical, err := emitter.Emit("demo", digest, false)
	require.NoError(t, err)

	var doc DocumentV2
	require.NoError(t, json.Unmarshal(canonical, &doc))
	require.NotEmpty(t, doc.Materials)
	assert.Equal(t, "sbom", doc.Materials[0].Type)
	require.NotNil(t, doc.SBOMSHA256)
	assert.Len(t, *doc.SBOMSHA256, 64)
}
