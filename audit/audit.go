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

// Package audit implements the append-only mirror store: every input,
// successful output and error artifact that passes through a stage gets an
// immutable, timestamped copy under <audit_root>/<stage>/.
package audit

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/foldedstream/pipeline/fileops"
	"github.com/foldedstream/pipeline/internal/logging"
	"github.com/spf13/afero"
)

// PurgeIncompleteError aggregates the sub-paths under the audit root that
// could not be removed during a Purge call.
type PurgeIncompleteError struct {
	Remaining []string
	Err       error
}

func (e *PurgeIncompleteError) Error() string {
	return fmt.Sprintf("audit: purge incomplete, %d paths remain: %v", len(e.Remaining), e.Err)
}

func (e *PurgeIncompleteError) Unwrap() error { return e.Err }

// Store writes timestamped mirrors of pipeline artifacts and purges them on
// request. Filename collision resolution is serialized per stage so two
// Stage State Machine instances working neighboring stages never race on
// identical timestamps.
type Store struct {
	fs   afero.Fs
	ops  *fileops.FileOps
	root string
	log  logging.Logger

	stageLocksMu sync.Mutex
	stageLocks   map[string]*sync.Mutex

	now func() time.Time // overridable for deterministic tests
}

// New creates an audit Store rooted at auditRoot, operating against fsys.
func New(fsys afero.Fs, auditRoot string, log logging.Logger) *Store {
	if log == nil {
		log = logging.NewDefaultLogger()
	}
	return &Store{
		fs:         fsys,
		ops:        fileops.New(fsys),
		root:       auditRoot,
		log:        log,
		stageLocks: make(map[string]*sync.Mutex),
		now:        time.Now,
	}
}

func (s *Store) lockFor(stage string) *sync.Mutex {
	s.stageLocksMu.Lock()
	defer s.stageLocksMu.Unlock()
	l, ok := s.stageLocks[stage]
	if !ok {
		l = &sync.Mutex{}
		s.stageLocks[stage] = l
	}
	return l
}

// tagFor derives the mirror tag from sourcePath's immediate parent
// directory: empty when the parent is the stage directory itself (an
// original at the stage root), otherwise the parent's base name
// (working/processed/error) unless the caller overrides it (e.g.
// "causing_error").
func tagFor(sourcePath, stageName string) string {
	parent := filepath.Base(filepath.Dir(sourcePath))
	if parent == stageName {
		return ""
	}
	return parent
}

// Mirror copies sourcePath into <audit_root>/<stage>/ and renames the copy
// to "<stem>_<tag>_<timestamp><ext>", resolving any filename collision by
// appending "_k". tag may be empty.
func (s *Store) Mirror(ctx context.Context, stage, sourcePath, tag string) (string, error) {
	stageDir := filepath.Join(s.root, stage)
	if err := s.ops.EnsureDir(stageDir); err != nil {
		return "", err
	}

	lock := s.lockFor(stage)
	lock.Lock()
	defer lock.Unlock()

	copied, err := s.ops.Copy(sourcePath, stageDir)
	if err != nil {
		return "", err
	}

	base := filepath.Base(sourcePath)
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)
	ts := s.now().Format("20060102_150405")

	var finalName string
	if tag == "" {
		finalName = fmt.Sprintf("%s__%s%s", stem, ts, ext)
	} else {
		finalName = fmt.Sprintf("%s_%s_%s%s", stem, tag, ts, ext)
	}

	finalName = fileops.WithSuffix(finalName, func(candidate string) bool {
		exists, _ := afero.Exists(s.fs, filepath.Join(stageDir, candidate))
		return exists
	})

	finalPath, err := s.ops.Rename(copied, finalName)
	if err != nil {
		return "", err
	}

	s.log.Debug("audit: mirrored %s -> %s", sourcePath, finalPath)
	return finalPath, nil
}

// MirrorTagged is a convenience wrapper that derives tag from sourcePath's
// parent directory relative to stage, for the common case of mirroring an
// artifact straight out of working/processed/error.
func (s *Store) MirrorTagged(ctx context.Context, stage, sourcePath string) (string, error) {
	return s.Mirror(ctx, stage, sourcePath, tagFor(sourcePath, stage))
}

// Purge removes every file and subdirectory under the audit root, leaving
// the root itself intact. Partial failures are aggregated into a
// PurgeIncompleteError listing what remained.
func (s *Store) Purge(ctx context.Context) error {
	entries, err := afero.ReadDir(s.fs, s.root)
	if err != nil {
		if errors.Is(err, afero.ErrFileNotFound) {
			return nil
		}
		return err
	}

	var remaining []string
	var firstErr error
	for _, entry := range entries {
		path := filepath.Join(s.root, entry.Name())
		if err := s.fs.RemoveAll(path); err != nil {
			remaining = append(remaining, path)
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	if len(remaining) > 0 {
		return &PurgeIncompleteError{Remaining: remaining, Err: firstErr}
	}
	return nil
}
