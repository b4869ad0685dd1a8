package session

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, EngineSQL, cfg.Engine)
	assert.Equal(t, 100, cfg.MaxPerPage)
	assert.Equal(t, "warn", cfg.LogLevel)
	assert.NoError(t, cfg.Validate())
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "polyorm.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
engine: document
uri: mongodb://localhost:27017
database: shop
max_per_page: 25
log_level: debug
`), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, EngineDocument, cfg.Engine)
	assert.Equal(t, "mongodb://localhost:27017", cfg.URI)
	assert.Equal(t, "shop", cfg.Database)
	assert.Equal(t, 25, cfg.MaxPerPage)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestLoadConfigFillsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "polyorm.yaml")
	require.NoError(t, os.WriteFile(path, []byte("engine: sql\ndsn: file:test.db\n"), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 100, cfg.MaxPerPage)
	assert.Equal(t, "warn", cfg.LogLevel)
}

func TestValidateRejectsUnknownEngine(t *testing.T) {
	cfg := &Config{Engine: "graph"}
	assert.Error(t, cfg.Validate())
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
