package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/instabrief/backend/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	for _, k := range []string{"PORT", "DATA_DIR", "PROCESSING_SERVICE_URL", "PROCESSING_SERVICE_TOKEN"} {
		t.Setenv(k, "")
	}
}

func TestLoadConfig_CreatesDefault(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	path := filepath.Join(dir, FileName)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(data), "<InstaBrief>"))

	assert.Equal(t, 8089, cfg.Server.Port)
	assert.Equal(t, filepath.Join(dir, "data"), cfg.GetDataDir())
	assert.Equal(t, filepath.Join(dir, "data", "uploads"), cfg.GetUploadDir())
	assert.Equal(t, filepath.Join(dir, "data", "history.duckdb"), cfg.Storage.HistoryDatabase)
	assert.Empty(t, cfg.Storage.CatalogFile)
	assert.Equal(t, 1, cfg.Queue.Workers)

	s, err := cfg.DefaultSettings()
	require.NoError(t, err)
	assert.Equal(t, models.DefaultSettings(), s)
}

func TestLoadConfig_ReadsFile(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	path := filepath.Join(dir, FileName)

	custom := DefaultConfig()
	custom.Server.Port = 9000
	custom.Queue.Workers = 4
	custom.Queue.DefaultAlgorithm = "bert"
	custom.ProcessingService.TimeoutSeconds = 15
	custom.Advanced.LogLevel = "debug"
	require.NoError(t, custom.Save(path))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, 4, cfg.Queue.Workers)
	assert.Equal(t, 15*time.Second, cfg.ServiceTimeout())
	assert.Equal(t, slog.LevelDebug, cfg.LogLevel())
	s, _ := cfg.DefaultSettings()
	assert.Equal(t, models.AlgorithmBART, s.Algorithm)
}

func TestLoadConfig_EnvironmentOverrides(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	dataDir := filepath.Join(t.TempDir(), "elsewhere")
	t.Setenv("PORT", "7070")
	t.Setenv("DATA_DIR", dataDir)
	t.Setenv("PROCESSING_SERVICE_URL", "http://svc:8000/api")
	t.Setenv("PROCESSING_SERVICE_TOKEN", "tok")

	cfg, err := LoadConfig(filepath.Join(dir, FileName))
	require.NoError(t, err)

	assert.Equal(t, 7070, cfg.Server.Port)
	assert.Equal(t, dataDir, cfg.GetDataDir())
	assert.Equal(t, filepath.Join(dataDir, "uploads"), cfg.GetUploadDir())
	assert.Equal(t, "http://svc:8000/api", cfg.ProcessingService.URL)
	assert.Equal(t, "tok", cfg.ProcessingService.Token)
}

func TestLoadConfig_Invalid(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()

	t.Run("malformed xml", func(t *testing.T) {
		path := filepath.Join(dir, "broken.config")
		require.NoError(t, os.WriteFile(path, []byte("<InstaBrief><Server>"), 0644))
		_, err := LoadConfig(path)
		assert.ErrorContains(t, err, "failed to parse config file")
	})

	t.Run("bad defaults", func(t *testing.T) {
		path := filepath.Join(dir, "bad.config")
		cfg := DefaultConfig()
		cfg.Queue.DefaultMaxLength = 10
		require.NoError(t, cfg.Save(path))
		_, err := LoadConfig(path)
		assert.ErrorIs(t, err, models.ErrInvalidSettings)
	})

	t.Run("zero workers", func(t *testing.T) {
		path := filepath.Join(dir, "workers.config")
		cfg := DefaultConfig()
		cfg.Queue.Workers = 0
		require.NoError(t, cfg.Save(path))
		_, err := LoadConfig(path)
		assert.ErrorContains(t, err, "Queue.Workers")
	})
}

func TestEnsureDirectories(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	cfg, err := LoadConfig(filepath.Join(dir, FileName))
	require.NoError(t, err)

	require.NoError(t, cfg.EnsureDirectories())

	for _, d := range []string{cfg.GetDataDir(), cfg.GetUploadDir()} {
		info, err := os.Stat(d)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	}
}

func TestCleanupInterval(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Queue.CleanupIntervalMinutes = 0
	assert.Equal(t, 5*time.Minute, cfg.CleanupInterval())
	assert.Equal(t, time.Hour, cfg.SessionTimeout())
}
