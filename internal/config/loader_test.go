package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoader_Load_MissingFileReturnsDefaults(t *testing.T) {
	loader := NewLoader(filepath.Join(t.TempDir(), "does-not-exist.json"))

	cfg, err := loader.Load()
	require.NoError(t, err)
	assert.Equal(t, 8090, cfg.Server.Port)
	assert.NotEmpty(t, cfg.Database.Path)
	assert.NotEmpty(t, cfg.Logging.File)
}

func TestLoader_Load_FromFile(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "stateflow.json")

	content := `{
		"server": {"port": 9191},
		"database": {"path": "` + filepath.Join(dir, "db.sqlite") + `"},
		"models": {"default": "gpt-4o"},
		"sweeper": {"enabled": false}
	}`
	require.NoError(t, os.WriteFile(configPath, []byte(content), 0644))

	loader := NewLoader(configPath)
	cfg, err := loader.Load()
	require.NoError(t, err)

	assert.Equal(t, 9191, cfg.Server.Port)
	assert.Equal(t, "gpt-4o", cfg.Models.Default)
	assert.False(t, cfg.Sweeper.Enabled)
	// Defaults survive for sections the file does not set
	assert.Equal(t, 60*time.Second, cfg.Engine.CompletionTimeout)
}

func TestLoader_SaveAndReload(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "stateflow.json")
	loader := NewLoader(configPath)

	cfg := DefaultConfig()
	cfg.Server.Port = 9999
	cfg.Database.Path = "/tmp/stateflow-test.db"
	require.NoError(t, loader.Save(cfg))

	reloaded, err := loader.Load()
	require.NoError(t, err)
	assert.Equal(t, 9999, reloaded.Server.Port)
	assert.Equal(t, "/tmp/stateflow-test.db", reloaded.Database.Path)
}

func TestLoader_GetConfigPath(t *testing.T) {
	loader := NewLoader("/explicit/path.json")
	assert.Equal(t, "/explicit/path.json", loader.GetConfigPath())
}
