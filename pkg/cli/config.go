// Copyright 2025 AetherEngine
//
// CLI configuration: a YAML config file under the user config dir, env
// overrides, and the session token file (0600) under the cache dir.

package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// FileConfig is the on-disk config shape (~/.config/aether/config.yaml)
type FileConfig struct {
	APIBase    string `yaml:"api_base"`
	DefaultApp string `yaml:"default_app"`
}

// EffectiveConfig is file config after env overrides
type EffectiveConfig struct {
	APIBase    string
	DefaultApp string
}

// ConfigDir returns the aether config directory
func ConfigDir() string {
	base, err := os.UserConfigDir()
	if err != nil {
		base = "."
	}
	return filepath.Join(base, "aether")
}

// CacheDir returns the aether cache directory
func CacheDir() string {
	base, err := os.UserCacheDir()
	if err != nil {
		base = "."
	}
	return filepath.Join(base, "aether")
}

// ConfigFilePath returns the YAML config file location
func ConfigFilePath() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}

// SessionFilePath returns the session token file location
func SessionFilePath() string {
	return filepath.Join(CacheDir(), "session.json")
}

// LoadConfig reads the config file (if present) and applies env overrides
// AETHER_API_BASE and AETHER_DEFAULT_APP.
func LoadConfig() (*EffectiveConfig, error) {
	fileCfg := FileConfig{}
	content, err := os.ReadFile(ConfigFilePath())
	if err == nil {
		if err := yaml.Unmarshal(content, &fileCfg); err != nil {
			return nil, WrapError(KindConfig, "failed to parse config file", err)
		}
	} else if !os.IsNotExist(err) {
		return nil, WrapError(KindConfig, "failed to read config file", err)
	}

	cfg := &EffectiveConfig{
		APIBase:    fileCfg.APIBase,
		DefaultApp: fileCfg.DefaultApp,
	}
	if v := os.Getenv("AETHER_API_BASE"); v != "" {
		cfg.APIBase = v
	}
	if v := os.Getenv("AETHER_DEFAULT_APP"); v != "" {
		cfg.DefaultApp = v
	}
	return cfg, nil
}

// Session is the stored login state
type Session struct {
	Token string `json:"token"`
	User  string `json:"user"`
}

// SaveSession writes the session file with restrictive permissions
func SaveSession(s *Session) (string, error) {
	if err := os.MkdirAll(CacheDir(), 0o755); err != nil {
		return "", WrapError(KindIO, "failed to create cache dir", err)
	}
	payload, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return "", WrapError(KindRuntime, "failed to encode session", err)
	}
	path := SessionFilePath()
	if err := os.WriteFile(path, payload, 0o600); err != nil {
		return "", WrapError(KindIO, "failed to write session file", err)
	}
	if info, err := os.Stat(path); err == nil {
		if info.Mode().Perm()&0o077 != 0 {
			fmt.Fprintf(os.Stderr, "warning: session file permissions too open: %o\n", info.Mode().Perm())
		}
	}
	return path, nil
}

// LoadSession reads the stored session; a missing file returns nil
func LoadSession() (*Session, error) {
	content, err := os.ReadFile(SessionFilePath())
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, WrapError(KindIO, "failed to read session file", err)
	}
	var s Session
	if err := json.Unmarshal(content, &s); err != nil {
		return nil, WrapError(KindConfig, "failed to parse session file", err)
	}
	return &s, nil
}
