// Copyright 2025 AetherEngine
//
// Ignore handling for project packaging. Hardcoded noise directories are
// always skipped; .aetherignore adds per-line glob patterns matched
// against root-relative paths.

package packager

import (
	"bufio"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// IgnoreFilename is the per-project ignore file
const IgnoreFilename = ".aetherignore"

// skipNames are always excluded, wherever they appear in the tree
var skipNames = map[string]bool{
	".git":         true,
	"node_modules": true,
	"target":       true,
	"dist":         true,
	"build":        true,
	"__pycache__":  true,
	".aether-cache": true,
}

// IgnoreSet holds the glob patterns from an ignore file
type IgnoreSet struct {
	patterns []string
}

// LoadIgnoreSet reads .aetherignore under root. A missing file yields an
// empty set.
func LoadIgnoreSet(root string) (*IgnoreSet, error) {
	set := &IgnoreSet{}
	f, err := os.Open(filepath.Join(root, IgnoreFilename))
	if os.IsNotExist(err) {
		return set, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		// Reject malformed patterns up front so packing never half-applies
		// an ignore file.
		if _, err := path.Match(line, ""); err != nil {
			continue
		}
		set.patterns = append(set.patterns, line)
	}
	return set, scanner.Err()
}

// Match reports whether a root-relative slash path matches any pattern
func (s *IgnoreSet) Match(relPath string) bool {
	for _, pattern := range s.patterns {
		if ok, _ := path.Match(pattern, relPath); ok {
			return true
		}
		// Also match against the basename so "*.log" works at any depth.
		if ok, _ := path.Match(pattern, path.Base(relPath)); ok {
			return true
		}
	}
	return false
}

// skipDir reports whether a directory name is hardcoded noise
func skipDir(name string) bool {
	return skipNames[name]
}
