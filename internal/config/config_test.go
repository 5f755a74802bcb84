package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "pipeline.yaml")
	err := os.WriteFile(cfgPath, []byte("pipeline:\n  pipelineDir: /data/pipeline\n  pipelineStorageDir: /data/storage\n"), 0o644)
	require.NoError(t, err)

	cfg, err := Load(cfgPath, nil)
	require.NoError(t, err)
	require.Equal(t, "/data/pipeline", cfg.PipelineDir)
	require.Equal(t, "/data/storage", cfg.PipelineStorageDir)
	require.Equal(t, 30, cfg.PollFrequencySeconds)
	require.Equal(t, "pipeline_step_", cfg.ProcessFilePrefix)
	require.Equal(t, "process_this", cfg.ProcessFileFunctionName)
	require.Equal(t, "localhost", cfg.DashboardHost)
	require.Equal(t, 8765, cfg.DashboardPort)
}

func TestLoadMissingRequiredField(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "pipeline.yaml")
	err := os.WriteFile(cfgPath, []byte("pipeline:\n  pollFrequency: 5\n"), 0o644)
	require.NoError(t, err)

	_, err = Load(cfgPath, nil)
	require.ErrorIs(t, err, ErrConfig)
}

func TestLoadMissingConfigFileIsNotFatal(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"), nil)
	// Still fails validation (no pipelineDir set), but not because the file
	// is missing.
	require.ErrorIs(t, err, ErrConfig)
}

func TestCloneIsIndependent(t *testing.T) {
	cfg := &PipelineConfig{PipelineDir: "/a", PollFrequencySeconds: 10}
	clone := cfg.Clone()
	clone.PipelineDir = "/b"
	require.Equal(t, "/a", cfg.PipelineDir)
	require.Equal(t, "/b", clone.PipelineDir)
}
