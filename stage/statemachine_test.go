package stage

import (
	"context"
	"testing"

	"github.com/foldedstream/pipeline/audit"
	"github.com/foldedstream/pipeline/dashboard"
	"github.com/foldedstream/pipeline/fileops"
	"github.com/foldedstream/pipeline/registry"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
)

type recordingNotifier struct {
	updates []dashboard.Update
}

func (n *recordingNotifier) Notify(u dashboard.Update) { n.updates = append(n.updates, u) }

func newHarness(t *testing.T) (afero.Fs, *fileops.FileOps, *registry.Registry, *audit.Store) {
	t.Helper()
	mem := afero.NewMemMapFs()
	ops := fileops.New(mem)
	reg := registry.New("/processes", "pipeline_step_", nil)
	store := audit.New(mem, "/audit", nil)
	return mem, ops, reg, store
}

func TestProcessMissingInputReturnsErrInputMissing(t *testing.T) {
	_, ops, reg, store := newHarness(t)
	sm := New("10_a", "/pipeline/10_a", "/pipeline/20_b", ops, reg, store, nil, nil)

	err := sm.Process(context.Background(), "/pipeline/10_a/missing.txt")
	require.ErrorIs(t, err, ErrInputMissing)
}

func TestProcessSuccessWithExplicitOutputAdvancesToNextStage(t *testing.T) {
	mem, ops, reg, store := newHarness(t)
	require.NoError(t, afero.WriteFile(mem, "/pipeline/10_a/doc.txt", []byte("in"), 0o644))

	reg.Register("10_a", func(ctx context.Context, workingPath string) (bool, error) {
		dir := ops.Fs()
		return true, afero.WriteFile(dir, "/pipeline/10_a/processed/doc.txt", []byte("out"), 0o644)
	})

	notifier := &recordingNotifier{}
	sm := New("10_a", "/pipeline/10_a", "/pipeline/20_b", ops, reg, store, nil, notifier)

	err := sm.Process(context.Background(), "/pipeline/10_a/doc.txt")
	require.NoError(t, err)

	exists, _ := afero.Exists(mem, "/pipeline/20_b/doc.txt")
	require.True(t, exists)
	origExists, _ := afero.Exists(mem, "/pipeline/10_a/doc.txt")
	require.False(t, origExists)

	require.Len(t, notifier.updates, 1)
	require.Equal(t, dashboard.StatusCompleted, notifier.updates[0].Status)
}

func TestProcessSuccessNoOutputIsPassThroughMove(t *testing.T) {
	mem, ops, reg, store := newHarness(t)
	require.NoError(t, afero.WriteFile(mem, "/pipeline/10_a/doc.txt", []byte("in"), 0o644))

	reg.Register("10_a", func(ctx context.Context, workingPath string) (bool, error) {
		return true, nil
	})

	sm := New("10_a", "/pipeline/10_a", "", ops, reg, store, nil, nil)
	err := sm.Process(context.Background(), "/pipeline/10_a/doc.txt")
	require.NoError(t, err)

	exists, _ := afero.Exists(mem, "/pipeline/10_a/processed/doc.txt")
	require.True(t, exists)
}

func TestProcessFailureMovesToErrorDirWithErrSuffix(t *testing.T) {
	mem, ops, reg, store := newHarness(t)
	require.NoError(t, afero.WriteFile(mem, "/pipeline/10_a/bad.txt", []byte("in"), 0o644))

	reg.Register("10_a", func(ctx context.Context, workingPath string) (bool, error) {
		return false, nil
	})

	notifier := &recordingNotifier{}
	sm := New("10_a", "/pipeline/10_a", "/pipeline/20_b", ops, reg, store, nil, notifier)

	err := sm.Process(context.Background(), "/pipeline/10_a/bad.txt")
	var procErr *ProcessorFailureError
	require.ErrorAs(t, err, &procErr)

	errExists, _ := afero.Exists(mem, "/pipeline/10_a/error/bad.txt.err")
	require.True(t, errExists)
	origExists, _ := afero.Exists(mem, "/pipeline/10_a/bad.txt")
	require.False(t, origExists)

	require.Len(t, notifier.updates, 1)
	require.Equal(t, dashboard.StatusFailed, notifier.updates[0].Status)
}

func TestProcessUnresolvedStageRoutesToError(t *testing.T) {
	mem, ops, reg, store := newHarness(t)
	require.NoError(t, afero.WriteFile(mem, "/pipeline/99_none/doc.txt", []byte("in"), 0o644))

	sm := New("99_none", "/pipeline/99_none", "", ops, reg, store, nil, nil)
	err := sm.Process(context.Background(), "/pipeline/99_none/doc.txt")
	var procErr *ProcessorFailureError
	require.ErrorAs(t, err, &procErr)

	errExists, _ := afero.Exists(mem, "/pipeline/99_none/error/doc.txt")
	require.True(t, errExists)
}

func TestProcessCollisionInNextStageGetsSuffixed(t *testing.T) {
	mem, ops, reg, store := newHarness(t)
	require.NoError(t, afero.WriteFile(mem, "/pipeline/10_a/doc.txt", []byte("in"), 0o644))
	require.NoError(t, afero.WriteFile(mem, "/pipeline/20_b/doc.txt", []byte("existing"), 0o644))

	reg.Register("10_a", func(ctx context.Context, workingPath string) (bool, error) {
		return true, nil
	})

	sm := New("10_a", "/pipeline/10_a", "/pipeline/20_b", ops, reg, store, nil, nil)
	err := sm.Process(context.Background(), "/pipeline/10_a/doc.txt")
	require.NoError(t, err)

	exists, _ := afero.Exists(mem, "/pipeline/20_b/doc_1.txt")
	require.True(t, exists)
}
