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

// Package watcher polls one stage directory for new or changed files and
// hands each stable one to a processor, sequentially within the stage.
//
// This is deliberately poll-based rather than fsnotify-based: network
// shares and some scanners write through paths that never raise a usable
// inotify/kqueue event, and a fixed poll cadence is the one readiness
// signal that is portable everywhere the pipeline runs.
package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/foldedstream/pipeline/fileops"
	"github.com/foldedstream/pipeline/internal/logging"
)

// reservedNames are the stage subdirectories a Watcher never treats as
// candidate input files.
var reservedNames = map[string]bool{
	"working":   true,
	"processed": true,
	"error":     true,
}

// Processor is the narrow interface a Watcher drives: the Stage State
// Machine's Process method.
type Processor interface {
	Process(ctx context.Context, filePath string) error
}

// Config controls one Watcher's polling and stability behavior.
type Config struct {
	PollFrequency  time.Duration
	StabilityCheck int
	StableInterval time.Duration
	StableTimeout  time.Duration
}

// DefaultConfig matches the spec's default poll cadence and a conservative
// three-sample stability probe.
func DefaultConfig() Config {
	return Config{
		PollFrequency:  30 * time.Second,
		StabilityCheck: 3,
		StableInterval: time.Second,
		StableTimeout:  5 * time.Minute,
	}
}

// seen records what a Watcher has already emitted, so a later poll only
// emits a path that is new or whose mtime has advanced.
type seen struct {
	mtime time.Time
}

// Watcher polls a single stage directory.
type Watcher struct {
	StageName string
	StageDir  string

	ops       *fileops.FileOps
	processor Processor
	logger    logging.Logger
	cfg       Config

	queue chan string
}

// New constructs a Watcher for one stage. Call Run to start polling; Run
// blocks until ctx is canceled.
func New(stageName, stageDir string, ops *fileops.FileOps, processor Processor, logger logging.Logger, cfg Config) *Watcher {
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}
	return &Watcher{
		StageName: stageName,
		StageDir:  stageDir,
		ops:       ops,
		processor: processor,
		logger:    logger,
		cfg:       cfg,
		queue:     make(chan string, 256),
	}
}

// Run polls StageDir at cfg.PollFrequency until ctx is canceled. Processing
// for this stage's files happens on a single worker goroutine reading off
// an internal queue, so detection and processing are decoupled but files
// within a stage are always handled one at a time and in emission order.
func (w *Watcher) Run(ctx context.Context) {
	done := make(chan struct{})
	go func() {
		defer close(done)
		w.worker(ctx)
	}()

	state := make(map[string]seen)
	w.poll(ctx, state, true)

	ticker := time.NewTicker(w.cfg.PollFrequency)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			close(w.queue)
			<-done
			return
		case <-ticker.C:
			w.poll(ctx, state, false)
		}
	}
}

type candidate struct {
	name  string
	path  string
	mtime time.Time
}

// listCandidates lists the stage root non-recursively, excluding the
// reserved subdirectories and dotfiles, sorted by listing order then
// filename for a stable tie-break.
func (w *Watcher) listCandidates() ([]candidate, error) {
	entries, err := os.ReadDir(w.StageDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var out []candidate
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || reservedNames[name] || strings.HasPrefix(name, ".") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		out = append(out, candidate{
			name:  name,
			path:  filepath.Join(w.StageDir, name),
			mtime: info.ModTime(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].name < out[j].name })
	return out, nil
}

// poll runs one detection pass. On first, every candidate is emitted
// regardless of state (so a restart picks up stranded input); afterwards
// only new names or advanced mtimes are emitted.
func (w *Watcher) poll(ctx context.Context, state map[string]seen, first bool) {
	entries, err := w.listCandidates()
	if err != nil {
		w.logger.Error("watcher %s: poll failed: %v", w.StageName, err)
		return
	}

	for _, e := range entries {
		prior, known := state[e.name]
		if !first && known && !e.mtime.After(prior.mtime) {
			continue
		}
		state[e.name] = seen{mtime: e.mtime}

		select {
		case w.queue <- e.path:
		case <-ctx.Done():
			return
		}
	}
}

// worker is the single sequential consumer for this stage's queue.
func (w *Watcher) worker(ctx context.Context) {
	for path := range w.queue {
		stable, err := w.ops.WaitUntilStable(ctx, path, w.cfg.StabilityCheck, w.cfg.StableInterval, w.cfg.StableTimeout)
		if err != nil {
			w.logger.Error("watcher %s: stability probe failed for %s: %v", w.StageName, path, err)
			continue
		}
		if !stable {
			// Vanished or still growing past timeout: poll has recorded only
			// the mtime seen at detection, so a file that kept growing has a
			// later mtime now and is re-emitted by the next poll.
			continue
		}

		if err := w.processor.Process(ctx, path); err != nil {
			w.logger.Error("watcher %s: processing %s failed: %v", w.StageName, path, err)
		}
	}
}
