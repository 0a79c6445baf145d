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

func TestLoadConfig(t *testing.T) {
	path := writeConfig(t, `
warehouse:
  path: /tmp/warehouse
catalog:
  backend: postgres
  dsn: postgres://localhost:5432/catalog
tables:
  - namespace: analytics
    name: events
query:
  port: 6000
log:
  json: true
  level: debug
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/warehouse", cfg.Warehouse.Path)
	assert.Equal(t, "postgres", cfg.Catalog.Backend)
	assert.Equal(t, 6000, cfg.Query.Port)
	require.Len(t, cfg.Tables, 1)
	assert.Equal(t, "events", cfg.Tables[0].Name)
	assert.True(t, cfg.Log.JSON)
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, "warehouse:\n  path: /tmp/w\n"))
	require.NoError(t, err)
	assert.Equal(t, "memory", cfg.Catalog.Backend)
	assert.Equal(t, 5433, cfg.Query.Port)
}

func TestLoadConfigInvalid(t *testing.T) {
	_, err := LoadConfig(writeConfig(t, "catalog:\n  backend: memory\n"))
	assert.ErrorContains(t, err, "warehouse")

	_, err = LoadConfig(writeConfig(t, "warehouse:\n  path: /tmp/w\ncatalog:\n  backend: postgres\n"))
	assert.ErrorContains(t, err, "dsn")

	_, err = LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
