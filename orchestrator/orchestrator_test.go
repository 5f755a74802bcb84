package orchestrator

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/foldedstream/pipeline/audit"
	"github.com/foldedstream/pipeline/fileops"
	"github.com/foldedstream/pipeline/internal/config"
	"github.com/foldedstream/pipeline/registry"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
)

func TestRunProcessesStrandedFileAndAdvancesToNextStage(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "10_a"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "20_b"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "10_a", "doc.txt"), []byte("in"), 0o644))

	cfg := &config.PipelineConfig{
		PipelineDir:          root,
		PipelineStorageDir:   filepath.Join(root, "_audit"),
		PollFrequencySeconds: 1,
	}

	reg := registry.New(filepath.Join(root, "_processes"), "pipeline_step_", nil)
	reg.Register("10_a", func(ctx context.Context, workingPath string) (bool, error) { return true, nil })

	store := audit.New(afero.NewOsFs(), cfg.PipelineStorageDir, nil)
	orch := New(cfg, nil, fileops.NewOS(), reg, store, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- orch.Run(ctx) }()

	require.Eventually(t, func() bool {
		exists, _ := afero.Exists(afero.NewOsFs(), filepath.Join(root, "20_b", "doc.txt"))
		return exists
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}
}

func TestRunWithNoStageDirsReturnsWithoutError(t *testing.T) {
	root := t.TempDir()
	cfg := &config.PipelineConfig{
		PipelineDir:          root,
		PipelineStorageDir:   filepath.Join(root, "_audit"),
		PollFrequencySeconds: 1,
	}
	reg := registry.New(filepath.Join(root, "_processes"), "pipeline_step_", nil)
	store := audit.New(afero.NewOsFs(), cfg.PipelineStorageDir, nil)
	orch := New(cfg, nil, fileops.NewOS(), reg, store, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- orch.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return")
	}
}
