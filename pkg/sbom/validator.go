// Copyright 2025 AetherEngine
//
// SBOM Validation
// Classifies uploaded documents as CycloneDX 1.x, legacy aether-sbom-v1,
// or rejected. CycloneDX documents are checked against a minimal required
// shape, or the extended 1.5 shape when strict mode is on.

package sbom

import (
	"encoding/json"
	"fmt"
)

// MaxDocumentBytes is the SBOM size ceiling. A document of exactly this
// size is accepted.
const MaxDocumentBytes = 2 * 1024 * 1024

// LegacySchema is the pre-CycloneDX document marker
const LegacySchema = "aether-sbom-v1"

// Format classifies an accepted SBOM document
type Format string

const (
	FormatCycloneDX Format = "cyclonedx"
	FormatLegacy    Format = "legacy"
)

// Result describes an accepted document
type Result struct {
	Format Format
	// ManifestDigest is the optional x-manifest-digest the SBOM was
	// generated against; empty when absent.
	ManifestDigest string
}

// ValidationError distinguishes document rejection from transport errors
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return e.Reason }

func invalid(format string, args ...any) error {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

// Validate classifies and validates an SBOM document. strict switches the
// CycloneDX check to the extended 1.5 schema.
func Validate(data []byte, strict bool) (*Result, error) {
	if len(data) > MaxDocumentBytes {
		return nil, invalid("sbom too large (max 2MB)")
	}

	var doc map[string]json.RawMessage
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, invalid("invalid json: %v", err)
	}

	if _, ok := doc["bomFormat"]; ok {
		return validateCycloneDX(doc, strict)
	}

	var schema string
	if raw, ok := doc["schema"]; ok {
		json.Unmarshal(raw, &schema)
	}
	if schema == LegacySchema {
		return &Result{Format: FormatLegacy}, nil
	}

	return nil, invalid("unsupported SBOM format (expect CycloneDX or %s)", LegacySchema)
}

type cdxComponent struct {
	Type   string    `json:"type"`
	Name   string    `json:"name"`
	Hashes []cdxHash `json:"hashes"`
}

type cdxHash struct {
	Alg     *string `json:"alg"`
	Content *string `json:"content"`
}

type cdxDependency struct {
	Ref       *string           `json:"ref"`
	DependsOn []json.RawMessage `json:"dependsOn"`
}

func validateCycloneDX(doc map[string]json.RawMessage, strict bool) (*Result, error) {
	var bomFormat string
	if err := json.Unmarshal(doc["bomFormat"], &bomFormat); err != nil || bomFormat != "CycloneDX" {
		return nil, invalid("bomFormat must be CycloneDX")
	}

	rawSpec, ok := doc["specVersion"]
	if !ok {
		return nil, invalid("missing specVersion")
	}
	var specVersion string
	if err := json.Unmarshal(rawSpec, &specVersion); err != nil {
		return nil, invalid("specVersion must be a string")
	}
	if strict {
		if specVersion != "1.5" {
			return nil, invalid("specVersion must be 1.5 in strict mode")
		}
	} else if len(specVersion) < 2 || specVersion[:2] != "1." {
		return nil, invalid("unsupported specVersion")
	}

	rawComponents, ok := doc["components"]
	if !ok {
		return nil, invalid("missing components")
	}
	var components []cdxComponent
	if err := json.Unmarshal(rawComponents, &components); err != nil {
		return nil, invalid("components must be an array of objects")
	}
	for i, c := range components {
		if c.Type == "" || c.Name == "" {
			return nil, invalid("components[%d] requires type and name", i)
		}
		if strict {
			for j, h := range c.Hashes {
				if h.Alg == nil || h.Content == nil {
					return nil, invalid("components[%d].hashes[%d] requires alg and content", i, j)
				}
			}
		}
	}

	if strict {
		if rawDeps, ok := doc["dependencies"]; ok {
			var deps []cdxDependency
			if err := json.Unmarshal(rawDeps, &deps); err != nil {
				return nil, invalid("dependencies must be an array of objects")
			}
			for i, d := range deps {
				if d.Ref == nil {
					return nil, invalid("dependencies[%d] requires ref", i)
				}
				for j, raw := range d.DependsOn {
					var s string
					if err := json.Unmarshal(raw, &s); err != nil {
						return nil, invalid("dependencies[%d].dependsOn[%d] must be a string", i, j)
					}
				}
			}
		}
	}

	result := &Result{Format: FormatCycloneDX}
	if raw, ok := doc["x-manifest-digest"]; ok {
		var md string
		if err := json.Unmarshal(raw, &md); err == nil {
			result.ManifestDigest = md
		}
	}
	return result, nil
}

// Minimal returns the minimal CycloneDX document the backfill synthesizes
// for legacy artifacts: a single container component named by the digest.
func Minimal(digest string) ([]byte, error) {
	doc := map[string]any{
		"bomFormat":   "CycloneDX",
		"specVersion": "1.5",
		"components": []map[string]any{
			{"type": "container", "name": digest},
		},
		"metadata": map[string]any{"backfill": true},
	}
	return json.MarshalIndent(doc, "", "  ")
}
