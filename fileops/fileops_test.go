package fileops

import (
	"context"
	"errors"
	"io/fs"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
)

func newTestOps(t *testing.T) (*FileOps, afero.Fs) {
	t.Helper()
	mem := afero.NewMemMapFs()
	return New(mem), mem
}

func TestEnsureDirCreatesNested(t *testing.T) {
	ops, mem := newTestOps(t)
	require.NoError(t, ops.EnsureDir("/a/b/c"))
	info, err := mem.Stat("/a/b/c")
	require.NoError(t, err)
	require.True(t, info.IsDir())
}

func TestMoveRelocatesFile(t *testing.T) {
	ops, mem := newTestOps(t)
	require.NoError(t, afero.WriteFile(mem, "/src/file.txt", []byte("hello"), 0o644))

	dst, err := ops.Move("/src/file.txt", "/dst")
	require.NoError(t, err)
	require.Equal(t, "/dst/file.txt", dst)

	_, err = mem.Stat("/src/file.txt")
	require.True(t, errors.Is(err, fs.ErrNotExist))

	contents, err := afero.ReadFile(mem, dst)
	require.NoError(t, err)
	require.Equal(t, "hello", string(contents))
}

func TestCopyLeavesOriginal(t *testing.T) {
	ops, mem := newTestOps(t)
	require.NoError(t, afero.WriteFile(mem, "/src/file.txt", []byte("hello"), 0o644))

	dst, err := ops.Copy("/src/file.txt", "/dst")
	require.NoError(t, err)

	_, err = mem.Stat("/src/file.txt")
	require.NoError(t, err)
	contents, err := afero.ReadFile(mem, dst)
	require.NoError(t, err)
	require.Equal(t, "hello", string(contents))
}

func TestRenameChangesBaseName(t *testing.T) {
	ops, mem := newTestOps(t)
	require.NoError(t, afero.WriteFile(mem, "/src/file.txt", []byte("hello"), 0o644))

	renamed, err := ops.Rename("/src/file.txt", "renamed.txt")
	require.NoError(t, err)
	require.Equal(t, "/src/renamed.txt", renamed)

	_, err = mem.Stat("/src/file.txt")
	require.True(t, errors.Is(err, fs.ErrNotExist))
}

func TestMoveMissingSourceReturnsIOFailure(t *testing.T) {
	ops, _ := newTestOps(t)
	_, err := ops.Move("/nope.txt", "/dst")
	var ioErr *IOFailure
	require.ErrorAs(t, err, &ioErr)
}

func TestWaitUntilStableStableFile(t *testing.T) {
	ops, mem := newTestOps(t)
	require.NoError(t, afero.WriteFile(mem, "/f.bin", []byte("0123456789"), 0o644))

	stable, err := ops.WaitUntilStable(context.Background(), "/f.bin", 2, time.Millisecond, time.Second)
	require.NoError(t, err)
	require.True(t, stable)
}

func TestWaitUntilStableGrowingFileTimesOut(t *testing.T) {
	ops, mem := newTestOps(t)
	require.NoError(t, afero.WriteFile(mem, "/f.bin", []byte("0"), 0o644))

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 50; i++ {
			time.Sleep(time.Millisecond)
			_ = afero.WriteFile(mem, "/f.bin", []byte(make([]byte, i+2)), 0o644)
		}
	}()

	stable, err := ops.WaitUntilStable(context.Background(), "/f.bin", 3, time.Millisecond, 20*time.Millisecond)
	require.NoError(t, err)
	require.False(t, stable)
	<-done
}

func TestWaitUntilStableMissingPath(t *testing.T) {
	ops, _ := newTestOps(t)
	stable, err := ops.WaitUntilStable(context.Background(), "/missing.bin", 2, time.Millisecond, 10*time.Millisecond)
	require.NoError(t, err)
	require.False(t, stable)
}

func TestWithSuffixNoCollision(t *testing.T) {
	name := WithSuffix("doc.txt", func(string) bool { return false })
	require.Equal(t, "doc.txt", name)
}

func TestWithSuffixResolvesCollisions(t *testing.T) {
	seen := map[string]bool{"doc.txt": true, "doc_1.txt": true}
	name := WithSuffix("doc.txt", func(c string) bool { return seen[c] })
	require.Equal(t, "doc_2.txt", name)
}
