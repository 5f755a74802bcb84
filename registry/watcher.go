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

package registry

import (
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ReloadWatcher debounces filesystem changes under processesDir into a
// single explicit Registry.Reload() call. This is not an implicit
// per-lookup cache invalidation — the Registry never second-guesses its
// cache on its own — it is an fsnotify event standing in for an operator
// typing "reload" after replacing a plugin executable, so the cache
// invalidation stays a single auditable call just like the spec requires.
type ReloadWatcher struct {
	registry       *Registry
	watcher        *fsnotify.Watcher
	debounceWindow time.Duration

	mu    sync.Mutex
	timer *time.Timer
	done  chan struct{}
}

// WatchProcessesDir starts an fsnotify watch on the Registry's
// processesDir and returns a ReloadWatcher that calls Reload after
// debounceWindow of quiescence following the last detected change. Call
// Close to stop watching.
func (r *Registry) WatchProcessesDir(debounceWindow time.Duration) (*ReloadWatcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(r.processesDir); err != nil {
		_ = fsw.Close()
		return nil, err
	}

	rw := &ReloadWatcher{
		registry:       r,
		watcher:        fsw,
		debounceWindow: debounceWindow,
		done:           make(chan struct{}),
	}
	go rw.run()
	return rw, nil
}

func (rw *ReloadWatcher) run() {
	for {
		select {
		case _, ok := <-rw.watcher.Events:
			if !ok {
				return
			}
			rw.mu.Lock()
			if rw.timer != nil {
				rw.timer.Stop()
			}
			rw.timer = time.AfterFunc(rw.debounceWindow, func() {
				rw.registry.Reload()
			})
			rw.mu.Unlock()

		case err, ok := <-rw.watcher.Errors:
			if !ok {
				return
			}
			rw.registry.logger.Error("registry: processes dir watch error: %v", err)

		case <-rw.done:
			return
		}
	}
}

// Close stops the underlying fsnotify watch.
func (rw *ReloadWatcher) Close() error {
	rw.mu.Lock()
	if rw.timer != nil {
		rw.timer.Stop()
	}
	rw.mu.Unlock()
	close(rw.done)
	return rw.watcher.Close()
}
