/*
Copyright © 2026 The Pipeline Authors

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with this program. If not, see <http://www.gnu.org/licenses/>.
*/

// Package fileops exposes the scoped filesystem primitives every other
// pipeline component builds on: ensure-dir, move, copy, rename and the
// file-stability probe. Operations run against an afero.Fs so production
// code can be pointed at the real disk while tests swap in an in-memory
// filesystem, the same inject-the-filesystem shape the teacher project
// uses for its own read-only FileSystem abstraction.
package fileops

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/afero"
)

// IOFailure wraps an underlying OS error from a move/copy/rename/mkdir
// call. The original error is preserved under Unwrap so callers can still
// errors.Is/As against e.g. fs.ErrPermission or fs.ErrNotExist.
type IOFailure struct {
	Op   string
	Path string
	Err  error
}

func (e *IOFailure) Error() string {
	return fmt.Sprintf("fileops: %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *IOFailure) Unwrap() error { return e.Err }

func ioFailure(op, path string, err error) error {
	if err == nil {
		return nil
	}
	return &IOFailure{Op: op, Path: path, Err: err}
}

// FileOps groups the scoped primitives against a single afero.Fs.
type FileOps struct {
	fs afero.Fs
}

// New returns a FileOps backed by the given filesystem.
func New(fsys afero.Fs) *FileOps {
	return &FileOps{fs: fsys}
}

// NewOS returns a FileOps backed by the real operating system filesystem.
func NewOS() *FileOps {
	return New(afero.NewOsFs())
}

// Fs returns the underlying afero.Fs, for callers (e.g. the Watcher) that
// need to list directories or stat files directly.
func (o *FileOps) Fs() afero.Fs { return o.fs }

// EnsureDir creates path (and any missing parents) if it does not already
// exist.
func (o *FileOps) EnsureDir(path string) error {
	if err := o.fs.MkdirAll(path, 0o755); err != nil {
		return ioFailure("ensure_dir", path, err)
	}
	return nil
}

// Move relocates src into dstDir, keeping its base name, and returns the
// final path. The destination directory is created if necessary.
func (o *FileOps) Move(src, dstDir string) (string, error) {
	if err := o.EnsureDir(dstDir); err != nil {
		return "", err
	}
	dst := filepath.Join(dstDir, filepath.Base(src))
	if err := o.fs.Rename(src, dst); err != nil {
		if isCrossDevice(err) {
			moved, copyErr := o.copyThenRemove(src, dst)
			if copyErr != nil {
				return "", copyErr
			}
			return moved, nil
		}
		return "", ioFailure("move", src, err)
	}
	return dst, nil
}

// Copy duplicates src into dstDir, keeping its base name, and returns the
// final path. The destination directory is created if necessary.
func (o *FileOps) Copy(src, dstDir string) (string, error) {
	if err := o.EnsureDir(dstDir); err != nil {
		return "", err
	}
	dst := filepath.Join(dstDir, filepath.Base(src))
	if err := o.copyFile(src, dst); err != nil {
		return "", err
	}
	return dst, nil
}

// Rename changes path's base name in place, returning the new path.
func (o *FileOps) Rename(path, newName string) (string, error) {
	newPath := filepath.Join(filepath.Dir(path), newName)
	if err := o.fs.Rename(path, newPath); err != nil {
		return "", ioFailure("rename", path, err)
	}
	return newPath, nil
}

func (o *FileOps) copyFile(src, dst string) error {
	in, err := o.fs.Open(src)
	if err != nil {
		return ioFailure("copy", src, err)
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return ioFailure("copy", src, err)
	}

	out, err := o.fs.OpenFile(dst, osCreateFlags, info.Mode())
	if err != nil {
		return ioFailure("copy", dst, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return ioFailure("copy", dst, err)
	}
	return ioFailure("copy", dst, out.Close())
}

func (o *FileOps) copyThenRemove(src, dst string) (string, error) {
	if err := o.copyFile(src, dst); err != nil {
		return "", err
	}
	if err := o.fs.Remove(src); err != nil {
		return "", ioFailure("move", src, err)
	}
	return dst, nil
}

// WaitUntilStable probes path's size at `interval` cadence and reports true
// once `checks` consecutive samples agree. It gives up with (false, nil) if
// `timeout` elapses or if the path disappears; it returns (false, err) only
// for stat errors that aren't "not exist" (e.g. permission problems), since
// those are worth surfacing rather than silently retrying forever.
func (o *FileOps) WaitUntilStable(ctx context.Context, path string, checks int, interval, timeout time.Duration) (bool, error) {
	if checks < 1 {
		checks = 1
	}
	deadline := time.Now().Add(timeout)
	var lastSize int64 = -1
	consecutive := 0

	for {
		info, err := o.fs.Stat(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return false, nil
			}
			return false, ioFailure("stat", path, err)
		}

		size := info.Size()
		if size == lastSize {
			consecutive++
		} else {
			consecutive = 1
			lastSize = size
		}

		if consecutive >= checks {
			return true, nil
		}

		if time.Now().After(deadline) {
			return false, nil
		}

		select {
		case <-ctx.Done():
			return false, nil
		case <-time.After(interval):
		}
	}
}

// WithSuffix appends "_k" (k starting at 1) before the extension of name
// until a name that does not already appear in existing is found. Used by
// both the state machine (next-stage collisions) and the audit store
// (mirror filename collisions).
func WithSuffix(name string, exists func(candidate string) bool) string {
	if !exists(name) {
		return name
	}
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	for k := 1; ; k++ {
		candidate := fmt.Sprintf("%s_%d%s", stem, k, ext)
		if !exists(candidate) {
			return candidate
		}
	}
}
