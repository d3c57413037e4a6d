// Copyright 2025 AetherEngine
//
// Unit tests for project packaging: walk order, ignore handling,
// digest determinism, and archive round-trips

package packager

import (
	"archive/tar"
	"compress/gzip"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeProject(t *testing.T, files map[string]string) string {
	t.Helper()
	root := t.TempDir()
	for rel, content := range files {
		full := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
		require.NoError(t, os.WriteFile(full, []byte(content), 0o644))
	}
	return root
}

func TestDiscoverFilesSortedAndFiltered(t *testing.T) {
	root := writeProject(t, map[string]string{
		"src/index.js":            "console.log('hi')",
		"package.json":            "{}",
		"a.txt":                   "a",
		"node_modules/dep/x.js":   "ignored",
		".git/config":             "ignored",
		"dist/bundle.js":          "ignored",
		"build/out.bin":           "ignored",
		"__pycache__/mod.pyc":     "ignored",
		".aether-cache/cache.bin":  "ignored",
	})

	files, err := DiscoverFiles(root)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.txt", "package.json", "src/index.js"}, files)
}

func TestDiscoverFilesHonorsIgnoreFile(t *testing.T) {
	root := writeProject(t, map[string]string{
		"keep.js":        "x",
		"secret.env":     "x",
		"logs/app.log":   "x",
		".aetherignore":  "*.env\n# comment\n\n*.log\n",
	})

	files, err := DiscoverFiles(root)
	require.NoError(t, err)
	assert.Contains(t, files, "keep.js")
	assert.Contains(t, files, ".aetherignore")
	assert.NotContains(t, files, "secret.env")
	assert.NotContains(t, files, "logs/app.log")
}

func TestPackDigestIsDeterministic(t *testing.T) {
	files := map[string]string{
		"b.txt": "bravo",
		"a.txt": "alpha",
	}
	r1, err := Pack(writeProject(t, files), Options{CompressionLevel: 6, OutPath: t.TempDir()})
	require.NoError(t, err)
	r2, err := Pack(writeProject(t, files), Options{CompressionLevel: 1, OutPath: t.TempDir()})
	require.NoError(t, err)

	assert.Equal(t, r1.Digest, r2.Digest, "digest must not depend on compression level")
	assert.Equal(t, r1.ManifestDigest, r2.ManifestDigest)
}

func TestPackDigestMatchesWalkOrderConcatenation(t *testing.T) {
	root := writeProject(t, map[string]string{
		"a.txt": "alpha",
		"b.txt": "bravo",
	})
	result, err := Pack(root, Options{CompressionLevel: 6, OutPath: t.TempDir()})
	require.NoError(t, err)

	// Canonical walk order is lexicographic: a.txt then b.txt.
	h := sha256.New()
	h.Write([]byte("alpha"))
	h.Write([]byte("bravo"))
	assert.Equal(t, hex.EncodeToString(h.Sum(nil)), result.Digest)
}

func TestPackManifestEntries(t *testing.T) {
	root := writeProject(t, map[string]string{
		"src/app.js": "code",
		"readme.md":  "docs",
	})
	result, err := Pack(root, Options{CompressionLevel: 6, OutPath: t.TempDir()})
	require.NoError(t, err)

	require.Len(t, result.Manifest.Files, 2)
	assert.Equal(t, "readme.md", result.Manifest.Files[0].Path)
	assert.Equal(t, "src/app.js", result.Manifest.Files[1].Path)

	sum := sha256.Sum256([]byte("code"))
	assert.Equal(t, hex.EncodeToString(sum[:]), result.Manifest.Files[1].SHA256)
	assert.Equal(t, result.Manifest.Digest(), result.ManifestDigest)
}

func TestPackArchiveRoundTrip(t *testing.T) {
	root := writeProject(t, map[string]string{
		"index.js":     "console.log('hi')",
		"lib/util.js":  "module.exports = {}",
	})
	result, err := Pack(root, Options{CompressionLevel: 9, OutPath: t.TempDir()})
	require.NoError(t, err)

	f, err := os.Open(result.ArchivePath)
	require.NoError(t, err)
	defer f.Close()
	gz, err := gzip.NewReader(f)
	require.NoError(t, err)
	tr := tar.NewReader(gz)

	extracted := map[string]string{}
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		content, err := io.ReadAll(tr)
		require.NoError(t, err)
		extracted[hdr.Name] = string(content)
	}
	assert.Equal(t, map[string]string{
		"index.js":    "console.log('hi')",
		"lib/util.js": "module.exports = {}",
	}, extracted)
}

func TestPackDefaultArchiveName(t *testing.T) {
	root := writeProject(t, map[string]string{"a.txt": "x"})
	out := t.TempDir()
	result, err := Pack(root, Options{CompressionLevel: 6, OutPath: out})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(out, "app-"+result.Digest+".tar.gz"), result.ArchivePath)
}

func TestPackEmptyProjectFails(t *testing.T) {
	_, err := Pack(t.TempDir(), Options{CompressionLevel: 6})
	assert.Error(t, err)
}

func TestGenerateLegacySBOM(t *testing.T) {
	root := writeProject(t, map[string]string{
		"package.json": `{"name":"demo","version":"1.2.3","dependencies":{"leftpad":"1.0.0"}}`,
	})
	doc, err := GenerateLegacySBOM(root, "d1", "m1")
	require.NoError(t, err)
	assert.Contains(t, string(doc), `"aether-sbom-v1"`)
	assert.Contains(t, string(doc), `"leftpad"`)
	assert.Contains(t, string(doc), `"x-manifest-digest": "m1"`)
}

func TestGenerateCycloneDXCarriesManifestDigest(t *testing.T) {
	root := writeProject(t, map[string]string{
		"package.json": `{"name":"demo","version":"1.2.3","dependencies":{"leftpad":"1.0.0"}}`,
	})
	digest := "aa"
	doc, err := GenerateCycloneDX(root, digest, "manifest-digest-value")
	require.NoError(t, err)

	s := string(doc)
	assert.Contains(t, s, `"CycloneDX"`)
	assert.Contains(t, s, `"1.5"`)
	assert.Contains(t, s, `"leftpad"`)
	assert.Contains(t, s, `"x-manifest-digest": "manifest-digest-value"`)
}

func TestGenerateSBOMNonNodeProject(t *testing.T) {
	root := writeProject(t, map[string]string{"main.py": "print('hi')"})
	doc, err := GenerateLegacySBOM(root, "d1", "m1")
	require.NoError(t, err)
	assert.Contains(t, string(doc), `"dependencies": []`)
}
