package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/foldedstream/pipeline/fileops"
	"github.com/stretchr/testify/require"
)

type recordingProcessor struct {
	mu        sync.Mutex
	processed []string
}

func (p *recordingProcessor) Process(ctx context.Context, filePath string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.processed = append(p.processed, filepath.Base(filePath))
	return nil
}

func (p *recordingProcessor) snapshot() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.processed))
	copy(out, p.processed)
	return out
}

func fastConfig() Config {
	return Config{
		PollFrequency:  10 * time.Millisecond,
		StabilityCheck: 1,
		StableInterval: time.Millisecond,
		StableTimeout:  time.Second,
	}
}

func TestRunEmitsStrandedFilesOnFirstPoll(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("x"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "working"), 0o755))

	proc := &recordingProcessor{}
	w := New("10_a", dir, fileops.NewOS(), proc, nil, fastConfig())

	ctx, cancel := context.WithCancel(context.Background())
	go w.Run(ctx)
	defer cancel()

	require.Eventually(t, func() bool {
		return len(proc.snapshot()) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestRunIgnoresReservedSubdirsAndDotfiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "working"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "processed"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "error"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "working", "w.txt"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".hidden"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "real.txt"), []byte("x"), 0o644))

	proc := &recordingProcessor{}
	w := New("10_a", dir, fileops.NewOS(), proc, nil, fastConfig())

	ctx, cancel := context.WithCancel(context.Background())
	go w.Run(ctx)
	defer cancel()

	require.Eventually(t, func() bool {
		return len(proc.snapshot()) == 1
	}, time.Second, 5*time.Millisecond)
	require.Equal(t, []string{"real.txt"}, proc.snapshot())
}

func TestRunEmitsModifiedFileAgain(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.txt")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))

	proc := &recordingProcessor{}
	w := New("10_a", dir, fileops.NewOS(), proc, nil, fastConfig())

	ctx, cancel := context.WithCancel(context.Background())
	go w.Run(ctx)
	defer cancel()

	require.Eventually(t, func() bool {
		return len(proc.snapshot()) == 1
	}, time.Second, 5*time.Millisecond)

	time.Sleep(20 * time.Millisecond)
	future := time.Now().Add(time.Minute)
	require.NoError(t, os.Chtimes(path, future, future))

	require.Eventually(t, func() bool {
		return len(proc.snapshot()) == 2
	}, time.Second, 5*time.Millisecond)
}

func TestRunEmptyDirProducesNoEvents(t *testing.T) {
	dir := t.TempDir()
	proc := &recordingProcessor{}
	w := New("10_a", dir, fileops.NewOS(), proc, nil, fastConfig())

	ctx, cancel := context.WithCancel(context.Background())
	go w.Run(ctx)
	defer time.Sleep(30 * time.Millisecond)
	defer cancel()

	time.Sleep(50 * time.Millisecond)
	require.Empty(t, proc.snapshot())
}

func TestRunStopsOnContextCancel(t *testing.T) {
	dir := t.TempDir()
	proc := &recordingProcessor{}
	w := New("10_a", dir, fileops.NewOS(), proc, nil, fastConfig())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after context cancellation")
	}
}
