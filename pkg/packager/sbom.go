// Copyright 2025 AetherEngine
//
// Client-side SBOM generation. Two shapes: the legacy aether-sbom-v1
// document, and CycloneDX 1.5 built with cyclonedx-go. Both carry the
// manifest digest the SBOM was generated against so the control plane can
// cross-validate.

package packager

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	cdx "github.com/CycloneDX/cyclonedx-go"
)

// projectDependencies reads name/version pairs from package.json. Non-node
// projects simply get an empty dependency list.
func projectDependencies(root string) (appName, appVersion string, deps map[string]string) {
	deps = map[string]string{}
	appName = filepath.Base(root)
	appVersion = "0.0.0"

	data, err := os.ReadFile(filepath.Join(root, "package.json"))
	if err != nil {
		return
	}
	var pkg struct {
		Name         string            `json:"name"`
		Version      string            `json:"version"`
		Dependencies map[string]string `json:"dependencies"`
	}
	if err := json.Unmarshal(data, &pkg); err != nil {
		return
	}
	if pkg.Name != "" {
		appName = pkg.Name
	}
	if pkg.Version != "" {
		appVersion = pkg.Version
	}
	for name, version := range pkg.Dependencies {
		deps[name] = version
	}
	return
}

// GenerateLegacySBOM produces the aether-sbom-v1 document
func GenerateLegacySBOM(root, digest, manifestDigest string) ([]byte, error) {
	appName, appVersion, deps := projectDependencies(root)

	names := make([]string, 0, len(deps))
	for name := range deps {
		names = append(names, name)
	}
	sort.Strings(names)
	depList := make([]map[string]string, 0, len(names))
	for _, name := range names {
		depList = append(depList, map[string]string{"name": name, "version": deps[name]})
	}

	doc := map[string]any{
		"schema":            "aether-sbom-v1",
		"app":               appName,
		"version":           appVersion,
		"artifact_digest":   digest,
		"dependencies":      depList,
		"x-manifest-digest": manifestDigest,
	}
	return json.MarshalIndent(doc, "", "  ")
}

// GenerateCycloneDX produces a CycloneDX 1.5 JSON document with the
// artifact as the root component and one library component per declared
// dependency. The manifest digest travels as the top-level
// x-manifest-digest field the control plane validates.
func GenerateCycloneDX(root, digest, manifestDigest string) ([]byte, error) {
	appName, appVersion, deps := projectDependencies(root)

	rootRef := fmt.Sprintf("pkg:aether/%s@%s", appName, appVersion)
	bom := cdx.NewBOM()
	bom.Metadata = &cdx.Metadata{
		Component: &cdx.Component{
			BOMRef:  rootRef,
			Type:    cdx.ComponentTypeApplication,
			Name:    appName,
			Version: appVersion,
			Hashes:  &[]cdx.Hash{{Algorithm: cdx.HashAlgoSHA256, Value: digest}},
		},
	}

	names := make([]string, 0, len(deps))
	for name := range deps {
		names = append(names, name)
	}
	sort.Strings(names)

	components := make([]cdx.Component, 0, len(names))
	dependsOn := make([]string, 0, len(names))
	for _, name := range names {
		ref := fmt.Sprintf("pkg:npm/%s@%s", name, deps[name])
		components = append(components, cdx.Component{
			BOMRef:  ref,
			Type:    cdx.ComponentTypeLibrary,
			Name:    name,
			Version: deps[name],
		})
		dependsOn = append(dependsOn, ref)
	}
	bom.Components = &components
	bom.Dependencies = &[]cdx.Dependency{{Ref: rootRef, Dependencies: &dependsOn}}

	var buf bytes.Buffer
	encoder := cdx.NewBOMEncoder(&buf, cdx.BOMFileFormatJSON)
	if err := encoder.EncodeVersion(bom, cdx.SpecVersion1_5); err != nil {
		return nil, fmt.Errorf("failed to encode cyclonedx: %w", err)
	}

	// cyclonedx-go owns the schema; the manifest linkage rides as a
	// top-level extension field.
	var doc map[string]any
	if err := json.Unmarshal(buf.Bytes(), &doc); err != nil {
		return nil, fmt.Errorf("failed to reparse cyclonedx: %w", err)
	}
	doc["x-manifest-digest"] = manifestDigest
	return json.MarshalIndent(doc, "", "  ")
}
