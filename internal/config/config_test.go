package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	path := writeConfig(t, "server:\n  port: 9090\n")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, "data/receipts.db", cfg.Database.Path)
	assert.Equal(t, "data/blobs", cfg.Storage.BlobDir)
	assert.Equal(t, "gemini", cfg.Analyzer.Provider)
	assert.Equal(t, "ja", cfg.Client.Language)
	assert.Equal(t, "info", cfg.Logger.Level)
}

func TestLoadRejectsUnknownProvider(t *testing.T) {
	path := writeConfig(t, "analyzer:\n  provider: watson\n")

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "analyzer.provider")
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("SYNC_API_URL", "http://store.example.com")
	t.Setenv("POCKET_ADMIN_PASSWORD", "secret")

	path := writeConfig(t, "server:\n  port: 8787\n")
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "http://store.example.com", cfg.Client.APIURL)
	assert.Equal(t, "secret", cfg.Auth.AdminPassword)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}
