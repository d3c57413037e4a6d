// Copyright 2025 AetherEngine
//
// Content Hasher & Packer
// Walks a project root in canonical order (lexicographic over relative
// paths), streams every regular file once through the content hasher, the
// per-file hasher, and the tar writer, and produces the compressed archive
// plus the file manifest. Nothing is buffered whole; any I/O error aborts
// and removes the partial archive.

package packager

import (
	"archive/tar"
	"compress/gzip"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/aether-engine/aether/pkg/manifest"
)

// chunkSize is the streaming copy buffer size
const chunkSize = 128 * 1024

// Options controls packing
type Options struct {
	// CompressionLevel is the gzip level, 1-9
	CompressionLevel int
	// OutPath is the archive destination; a directory gets the default
	// app-<digest>.tar.gz name (requires a second naming pass, so the
	// archive is written to a temp file first).
	OutPath string
}

// Result describes a packed artifact
type Result struct {
	Digest         string
	ArchivePath    string
	SizeBytes      int64
	Manifest       *manifest.Manifest
	ManifestDigest string
	FileCount      int
}

// DiscoverFiles lists regular files under root after skip rules and
// ignore globs, sorted lexicographically by relative slash path.
func DiscoverFiles(root string) ([]string, error) {
	ignore, err := LoadIgnoreSet(root)
	if err != nil {
		return nil, fmt.Errorf("failed to read ignore file: %w", err)
	}

	var files []string
	err = filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if p != root && skipDir(d.Name()) {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if ignore.Match(rel) {
			return nil
		}
		files = append(files, rel)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk failed: %w", err)
	}
	sort.Strings(files)
	return files, nil
}

// Pack produces the archive, content digest, and file manifest for root
func Pack(root string, opts Options) (*Result, error) {
	level := opts.CompressionLevel
	if level < gzip.BestSpeed || level > gzip.BestCompression {
		level = gzip.DefaultCompression
	}

	files, err := DiscoverFiles(root)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no files to package under %s", root)
	}

	out, err := os.CreateTemp("", "aether-pack-*.tar.gz")
	if err != nil {
		return nil, fmt.Errorf("failed to create archive: %w", err)
	}
	tmpPath := out.Name()

	cleanup := func() {
		out.Close()
		os.Remove(tmpPath)
	}

	gz, err := gzip.NewWriterLevel(out, level)
	if err != nil {
		cleanup()
		return nil, fmt.Errorf("invalid compression level: %w", err)
	}
	tw := tar.NewWriter(gz)

	contentHasher := sha256.New()
	man := &manifest.Manifest{}
	buf := make([]byte, chunkSize)

	for _, rel := range files {
		full := filepath.Join(root, filepath.FromSlash(rel))
		info, err := os.Stat(full)
		if err != nil {
			cleanup()
			return nil, fmt.Errorf("stat %s: %w", rel, err)
		}
		hdr := &tar.Header{
			Name:    rel,
			Mode:    0o644,
			Size:    info.Size(),
			ModTime: info.ModTime(),
		}
		if err := tw.WriteHeader(hdr); err != nil {
			cleanup()
			return nil, fmt.Errorf("tar header %s: %w", rel, err)
		}

		f, err := os.Open(full)
		if err != nil {
			cleanup()
			return nil, fmt.Errorf("open %s: %w", rel, err)
		}
		fileHasher := sha256.New()
		w := io.MultiWriter(tw, contentHasher, fileHasher)
		if _, err := io.CopyBuffer(w, f, buf); err != nil {
			f.Close()
			cleanup()
			return nil, fmt.Errorf("copy %s: %w", rel, err)
		}
		f.Close()

		man.Files = append(man.Files, manifest.File{
			Path:   rel,
			SHA256: hex.EncodeToString(fileHasher.Sum(nil)),
		})
	}

	if err := tw.Close(); err != nil {
		cleanup()
		return nil, fmt.Errorf("finalize tar: %w", err)
	}
	if err := gz.Close(); err != nil {
		cleanup()
		return nil, fmt.Errorf("finalize gzip: %w", err)
	}
	if err := out.Close(); err != nil {
		os.Remove(tmpPath)
		return nil, fmt.Errorf("close archive: %w", err)
	}

	digest := hex.EncodeToString(contentHasher.Sum(nil))

	finalPath, err := resolveOutPath(opts.OutPath, digest)
	if err != nil {
		os.Remove(tmpPath)
		return nil, err
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		// Cross-device rename falls back to copy.
		if copyErr := copyFile(tmpPath, finalPath); copyErr != nil {
			os.Remove(tmpPath)
			return nil, fmt.Errorf("move archive: %w", copyErr)
		}
		os.Remove(tmpPath)
	}

	info, err := os.Stat(finalPath)
	if err != nil {
		return nil, fmt.Errorf("stat archive: %w", err)
	}

	return &Result{
		Digest:         digest,
		ArchivePath:    finalPath,
		SizeBytes:      info.Size(),
		Manifest:       man,
		ManifestDigest: man.Digest(),
		FileCount:      len(files),
	}, nil
}

func resolveOutPath(outPath, digest string) (string, error) {
	defaultName := fmt.Sprintf("app-%s.tar.gz", digest)
	if outPath == "" {
		return defaultName, nil
	}
	info, err := os.Stat(outPath)
	if err == nil && info.IsDir() {
		return filepath.Join(outPath, defaultName), nil
	}
	if strings.HasSuffix(outPath, string(os.PathSeparator)) {
		if err := os.MkdirAll(outPath, 0o755); err != nil {
			return "", fmt.Errorf("create output dir: %w", err)
		}
		return filepath.Join(outPath, defaultName), nil
	}
	if dir := filepath.Dir(outPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", fmt.Errorf("create output dir: %w", err)
		}
	}
	return outPath, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return err
	}
	return out.Close()
}
