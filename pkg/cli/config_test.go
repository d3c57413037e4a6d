// Copyright 2025 AetherEngine
//
// Unit tests for CLI config loading and session storage

package cli

import (
	"os"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func isolateDirs(t *testing.T) {
	t.Helper()
	home := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", home+"/config")
	t.Setenv("XDG_CACHE_HOME", home+"/cache")
	t.Setenv("HOME", home)
}

func TestLoadConfigDefaultsAndEnvOverride(t *testing.T) {
	isolateDirs(t)
	t.Setenv("AETHER_API_BASE", "")
	t.Setenv("AETHER_DEFAULT_APP", "")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Empty(t, cfg.APIBase)

	t.Setenv("AETHER_API_BASE", "http://localhost:8080")
	t.Setenv("AETHER_DEFAULT_APP", "demo")
	cfg, err = LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8080", cfg.APIBase)
	assert.Equal(t, "demo", cfg.DefaultApp)
}

func TestLoadConfigFromFile(t *testing.T) {
	isolateDirs(t)
	t.Setenv("AETHER_API_BASE", "")
	t.Setenv("AETHER_DEFAULT_APP", "")

	require.NoError(t, os.MkdirAll(ConfigDir(), 0o755))
	require.NoError(t, os.WriteFile(ConfigFilePath(),
		[]byte("api_base: http://cp.internal:8080\ndefault_app: web\n"), 0o644))

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "http://cp.internal:8080", cfg.APIBase)
	assert.Equal(t, "web", cfg.DefaultApp)
}

func TestLoadConfigRejectsBadYAML(t *testing.T) {
	isolateDirs(t)
	require.NoError(t, os.MkdirAll(ConfigDir(), 0o755))
	require.NoError(t, os.WriteFile(ConfigFilePath(), []byte("api_base: [unclosed"), 0o644))

	_, err := LoadConfig()
	require.Error(t, err)
	assert.Equal(t, 10, ExitCode(err))
}

func TestSessionRoundTrip(t *testing.T) {
	isolateDirs(t)

	path, err := SaveSession(&Session{Token: "tok", User: "alice"})
	require.NoError(t, err)

	if runtime.GOOS != "windows" {
		info, err := os.Stat(path)
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(0o600), info.Mode().Perm(), "session file must be user-only")
	}

	session, err := LoadSession()
	require.NoError(t, err)
	require.NotNil(t, session)
	assert.Equal(t, "tok", session.Token)
	assert.Equal(t, "alice", session.User)
}

func TestLoadSessionMissingReturnsNil(t *testing.T) {
	isolateDirs(t)
	session, err := LoadSession()
	require.NoError(t, err)
	assert.Nil(t, session)
}
