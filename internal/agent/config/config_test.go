package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadExplicitFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "agent.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
data_dir: /var/lib/healthsync
server_url: https://ingest.example.com
token: abc123
streams:
  - heart-rate
  - workouts
canonical_sources:
  - Apple Watch
batch_size: 500
backfill_window: 168h
deferred: true
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "/var/lib/healthsync", cfg.DataDir)
	require.Equal(t, "https://ingest.example.com", cfg.ServerURL)
	require.Equal(t, "abc123", cfg.Token)
	require.Equal(t, []string{"heart-rate", "workouts"}, cfg.Streams)
	require.Equal(t, []string{"Apple Watch"}, cfg.CanonicalSources)
	require.Equal(t, 500, cfg.BatchSize)
	require.Equal(t, 7*24*time.Hour, cfg.BackfillWindow)
	require.True(t, cfg.Deferred)

	require.Equal(t, filepath.Join("/var/lib/healthsync", "agent.db"), cfg.DatabasePath())
	require.Equal(t, filepath.Join("/var/lib/healthsync", "spool"), cfg.SpoolDir())
	require.Equal(t, filepath.Join("/var/lib/healthsync", "triggers"), cfg.TriggerDir())
}

func TestLoadDefaultsWithoutFile(t *testing.T) {
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(t.TempDir()))
	t.Cleanup(func() { _ = os.Chdir(wd) })

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, 1000, cfg.BatchSize)
	require.Equal(t, 30*24*time.Hour, cfg.BackfillWindow)
	require.Equal(t, 30*time.Second, cfg.UploadTimeout)
	require.False(t, cfg.Deferred)
	require.NotEmpty(t, cfg.Streams)
}

func TestLoadMissingExplicitFileFails(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}
