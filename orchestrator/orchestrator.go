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

// Package orchestrator discovers pipeline stages under a configured root,
// starts one Watcher per stage, wires the processor Registry's
// fsnotify-triggered reload watch, and blocks until interrupted.
package orchestrator

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/foldedstream/pipeline/audit"
	"github.com/foldedstream/pipeline/fileops"
	"github.com/foldedstream/pipeline/internal/config"
	"github.com/foldedstream/pipeline/internal/logging"
	"github.com/foldedstream/pipeline/registry"
	"github.com/foldedstream/pipeline/stage"
	"github.com/foldedstream/pipeline/watcher"
)

// Orchestrator owns the full set of running Watchers for a pipeline and
// the Registry reload watch. Stage discovery happens once, at the start of Run:
// hot-add or hot-remove of a stage directory after startup is not
// supported in this version.
type Orchestrator struct {
	cfg      *config.PipelineConfig
	logger   logging.Logger
	ops      *fileops.FileOps
	registry *registry.Registry
	store    *audit.Store
	notifier stage.Notifier

	reloadWatch *registry.ReloadWatcher
	wg          sync.WaitGroup
}

// New constructs an Orchestrator from a resolved configuration. notifier
// may be nil (updates are then dropped).
func New(cfg *config.PipelineConfig, logger logging.Logger, ops *fileops.FileOps, reg *registry.Registry, store *audit.Store, notifier stage.Notifier) *Orchestrator {
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}
	return &Orchestrator{
		cfg:      cfg,
		logger:   logger,
		ops:      ops,
		registry: reg,
		store:    store,
		notifier: notifier,
	}
}

// stageDirs enumerates the leaf subdirectories of the pipeline root,
// sorted lexically so the natural "NN_name" stage-numbering convention
// determines Watcher start order (and the next-stage chain).
func (o *Orchestrator) stageDirs() ([]string, error) {
	entries, err := os.ReadDir(o.cfg.PipelineDir)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: reading pipeline root %s: %w", o.cfg.PipelineDir, err)
	}

	var dirs []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		dirs = append(dirs, e.Name())
	}
	sort.Strings(dirs)
	return dirs, nil
}

// Run discovers stages, starts one Watcher goroutine per stage plus the
// Registry's reload watch on the processes directory, and blocks until ctx
// is canceled. On cancellation it waits for every in-flight Process call
// to finish its current (non-cancellable) run before returning.
func (o *Orchestrator) Run(ctx context.Context) error {
	names, err := o.stageDirs()
	if err != nil {
		return err
	}
	if len(names) == 0 {
		o.logger.Warning("orchestrator: no stage directories found under %s", o.cfg.PipelineDir)
	}

	if o.cfg.ProcessesDir != "" {
		rw, err := o.registry.WatchProcessesDir(500 * time.Millisecond)
		if err != nil {
			o.logger.Warning("orchestrator: could not watch processes dir %s: %v", o.cfg.ProcessesDir, err)
		} else {
			o.reloadWatch = rw
		}
	}

	pollFreq := time.Duration(o.cfg.PollFrequencySeconds) * time.Second
	watcherCfg := watcher.Config{
		PollFrequency:  pollFreq,
		StabilityCheck: 3,
		StableInterval: time.Second,
		StableTimeout:  time.Duration(o.cfg.PollFrequencySeconds) * 4 * time.Second,
	}

	for i, name := range names {
		stageDir := filepath.Join(o.cfg.PipelineDir, name)
		nextDir := ""
		if i+1 < len(names) {
			nextDir = filepath.Join(o.cfg.PipelineDir, names[i+1])
		}

		sm := stage.New(name, stageDir, nextDir, o.ops, o.registry, o.store, o.logger, o.notifier)
		w := watcher.New(name, stageDir, o.ops, sm, o.logger, watcherCfg)

		o.wg.Add(1)
		go func(name string) {
			defer o.wg.Done()
			w.Run(ctx)
			o.logger.Info("orchestrator: watcher for stage %s stopped", name)
		}(name)
	}

	o.logger.Info("orchestrator: running with %d stage(s) under %s", len(names), o.cfg.PipelineDir)

	<-ctx.Done()
	o.logger.Info("orchestrator: shutdown signal received, waiting for in-flight work to finish")
	o.wg.Wait()

	if o.reloadWatch != nil {
		if err := o.reloadWatch.Close(); err != nil {
			o.logger.Warning("orchestrator: closing reload watch: %v", err)
		}
	}

	return nil
}
