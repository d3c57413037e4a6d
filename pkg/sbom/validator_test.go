// Copyright 2025 AetherEngine
//
// Unit tests for SBOM validation and classification

package sbom

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func mustValidate(t *testing.T, doc string, strict bool) *Result {
	t.Helper()
	result, err := Validate([]byte(doc), strict)
	if err != nil {
		t.Fatalf("expected valid document, got %v", err)
	}
	return result
}

func mustReject(t *testing.T, doc string, strict bool, wantSubstr string) {
	t.Helper()
	_, err := Validate([]byte(doc), strict)
	if err == nil {
		t.Fatal("expected rejection")
	}
	if wantSubstr != "" && !strings.Contains(err.Error(), wantSubstr) {
		t.Errorf("expected error containing %q, got %q", wantSubstr, err.Error())
	}
}

func TestValidateCycloneDXMinimal(t *testing.T) {
	doc := `{"bomFormat":"CycloneDX","specVersion":"1.4","components":[{"type":"library","name":"leftpad"}]}`
	result := mustValidate(t, doc, false)
	if result.Format != FormatCycloneDX {
		t.Errorf("expected cyclonedx, got %s", result.Format)
	}
}

func TestValidateCycloneDXMissingFields(t *testing.T) {
	mustReject(t, `{"bomFormat":"SPDX","specVersion":"1.5","components":[]}`, false, "bomFormat")
	mustReject(t, `{"bomFormat":"CycloneDX","components":[]}`, false, "specVersion")
	mustReject(t, `{"bomFormat":"CycloneDX","specVersion":"2.0","components":[]}`, false, "specVersion")
	mustReject(t, `{"bomFormat":"CycloneDX","specVersion":"1.5"}`, false, "components")
	mustReject(t, `{"bomFormat":"CycloneDX","specVersion":"1.5","components":[{"type":"library"}]}`, false, "name")
}

func TestValidateStrictPinsSpecVersion(t *testing.T) {
	doc := `{"bomFormat":"CycloneDX","specVersion":"1.4","components":[{"type":"library","name":"x"}]}`
	mustValidate(t, doc, false)
	mustReject(t, doc, true, "1.5")
}

func TestValidateStrictHashShape(t *testing.T) {
	good := `{"bomFormat":"CycloneDX","specVersion":"1.5","components":[{"type":"library","name":"x","hashes":[{"alg":"SHA-256","content":"abc"}]}]}`
	mustValidate(t, good, true)

	bad := `{"bomFormat":"CycloneDX","specVersion":"1.5","components":[{"type":"library","name":"x","hashes":[{"alg":"SHA-256"}]}]}`
	mustReject(t, bad, true, "hashes")
}

func TestValidateStrictDependencyGraph(t *testing.T) {
	good := `{"bomFormat":"CycloneDX","specVersion":"1.5","components":[{"type":"library","name":"x"}],
		"dependencies":[{"ref":"a","dependsOn":["b","c"]}]}`
	mustValidate(t, good, true)

	mustReject(t, `{"bomFormat":"CycloneDX","specVersion":"1.5","components":[{"type":"library","name":"x"}],
		"dependencies":[{"dependsOn":["b"]}]}`, true, "ref")
	mustReject(t, `{"bomFormat":"CycloneDX","specVersion":"1.5","components":[{"type":"library","name":"x"}],
		"dependencies":[{"ref":"a","dependsOn":[1]}]}`, true, "dependsOn")
}

func TestValidateLegacy(t *testing.T) {
	result := mustValidate(t, `{"schema":"aether-sbom-v1","app":"demo"}`, false)
	if result.Format != FormatLegacy {
		t.Errorf("expected legacy, got %s", result.Format)
	}
	// Legacy documents skip structural validation entirely.
	mustValidate(t, `{"schema":"aether-sbom-v1"}`, true)
}

func TestValidateUnsupportedFormat(t *testing.T) {
	mustReject(t, `{"something":"else"}`, false, "unsupported")
	mustReject(t, `not json`, false, "invalid json")
}

func TestValidateManifestDigestExtraction(t *testing.T) {
	doc := `{"bomFormat":"CycloneDX","specVersion":"1.5","components":[{"type":"library","name":"x"}],
		"x-manifest-digest":"abc123"}`
	result := mustValidate(t, doc, false)
	if result.ManifestDigest != "abc123" {
		t.Errorf("expected manifest digest abc123, got %q", result.ManifestDigest)
	}
}

func TestValidateSizeBoundary(t *testing.T) {
	// Build a document of exactly MaxDocumentBytes via filler padding.
	base := `{"bomFormat":"CycloneDX","specVersion":"1.5","components":[{"type":"library","name":"x"}],"filler":"`
	tail := `"}`
	filler := bytes.Repeat([]byte("a"), MaxDocumentBytes-len(base)-len(tail))
	exact := append(append([]byte(base), filler...), []byte(tail)...)
	if len(exact) != MaxDocumentBytes {
		t.Fatalf("test setup: doc is %d bytes", len(exact))
	}
	if _, err := Validate(exact, false); err != nil {
		t.Errorf("document of exactly 2MiB must be accepted: %v", err)
	}

	over := append(append([]byte(base), append(filler, 'a')...), []byte(tail)...)
	if _, err := Validate(over, false); err == nil {
		t.Error("document of 2MiB+1 must be rejected")
	}
}

func TestMinimalBackfillDocumentValidates(t *testing.T) {
	digest := strings.Repeat("a", 64)
	doc, err := Minimal(digest)
	if err != nil {
		t.Fatalf("minimal generation failed: %v", err)
	}
	result, err := Validate(doc, false)
	if err != nil {
		t.Fatalf("minimal document must validate: %v", err)
	}
	if result.Format != FormatCycloneDX {
		t.Errorf("expected cyclonedx, got %s", result.Format)
	}
	var parsed map[string]any
	if err := json.Unmarshal(doc, &parsed); err != nil {
		t.Fatalf("minimal document must be json: %v", err)
	}
}
