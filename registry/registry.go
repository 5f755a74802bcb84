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

// Package registry resolves a stage name to the processor that handles it.
// The source this module is modeled on imports a Python module by path at
// runtime; a statically-built target can't do that, so this Registry
// instead looks a stage name up in an in-process table populated at
// startup and, failing that, in a sibling plugin executable named by
// convention under processesDir. See the Design Notes on dynamic processor
// loading for the rationale.
package registry

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sync"

	"github.com/foldedstream/pipeline/internal/logging"
)

// Sentinel errors identifying why a stage name failed to resolve to a
// processor. All three are wrapped by ProcessorResolutionError.
var (
	ErrStageNotFound        = errors.New("registry: stage not found")
	ErrProcessorNotFound    = errors.New("registry: processor not found")
	ErrProcessorNotCallable = errors.New("registry: processor not callable")
)

// ProcessorResolutionError wraps one of the sentinel errors above with the
// stage name that triggered it.
type ProcessorResolutionError struct {
	Stage string
	Err   error
}

func (e *ProcessorResolutionError) Error() string {
	return fmt.Sprintf("registry: stage %q: %v", e.Stage, e.Err)
}

func (e *ProcessorResolutionError) Unwrap() error { return e.Err }

// ProcessorHandle is the single-method contract the State Machine invokes:
// given a working-file path, it returns whether processing succeeded.
type ProcessorHandle func(ctx context.Context, workingFilePath string) (bool, error)

// Registry maps stage names to ProcessorHandles.
type Registry struct {
	mu    sync.RWMutex
	table map[string]ProcessorHandle // compile-time registered handles
	cache map[string]ProcessorHandle // resolved plugin handles, until Reload

	processesDir string
	prefix       string
	logger       logging.Logger
}

// New creates a Registry that resolves unregistered stage names to plugin
// executables under processesDir named "<prefix><stageName>" (plus the
// platform executable suffix).
func New(processesDir, prefix string, logger logging.Logger) *Registry {
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}
	return &Registry{
		table:        make(map[string]ProcessorHandle),
		cache:        make(map[string]ProcessorHandle),
		processesDir: processesDir,
		prefix:       prefix,
		logger:       logger,
	}
}

// Register installs a compile-time processor handle for stageName. It
// takes precedence over any plugin executable of the same name.
func (r *Registry) Register(stageName string, handle ProcessorHandle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.table[stageName] = handle
}

// Reload drops every cached plugin handle. The next Resolve for any stage
// backed by a plugin re-probes processesDir. Compile-time registered
// handles are untouched — they never go stale.
func (r *Registry) Reload() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache = make(map[string]ProcessorHandle)
	r.logger.Info("registry: cache reloaded")
}

// Resolve returns the ProcessorHandle bound to stageName, or a
// ProcessorResolutionError.
func (r *Registry) Resolve(stageName string) (ProcessorHandle, error) {
	r.mu.RLock()
	if h, ok := r.table[stageName]; ok {
		r.mu.RUnlock()
		return h, nil
	}
	if h, ok := r.cache[stageName]; ok {
		r.mu.RUnlock()
		return h, nil
	}
	r.mu.RUnlock()

	pluginPath := filepath.Join(r.processesDir, r.prefix+stageName+exeSuffix())
	info, err := os.Stat(pluginPath)
	if err != nil {
		return nil, &ProcessorResolutionError{Stage: stageName, Err: ErrStageNotFound}
	}
	if info.IsDir() {
		return nil, &ProcessorResolutionError{Stage: stageName, Err: ErrProcessorNotFound}
	}
	if !isExecutable(info) {
		return nil, &ProcessorResolutionError{Stage: stageName, Err: ErrProcessorNotFound}
	}
	if _, err := exec.LookPath(pluginPath); err != nil {
		return nil, &ProcessorResolutionError{Stage: stageName, Err: ErrProcessorNotCallable}
	}

	handle := pluginHandle(pluginPath)

	r.mu.Lock()
	r.cache[stageName] = handle
	r.mu.Unlock()

	return handle, nil
}

// pluginHandle adapts a sibling executable into a ProcessorHandle: the
// working-file path is passed as argv[1], and exit code 0 means success.
func pluginHandle(pluginPath string) ProcessorHandle {
	return func(ctx context.Context, workingFilePath string) (bool, error) {
		cmd := exec.CommandContext(ctx, pluginPath, workingFilePath)
		err := cmd.Run()
		if err == nil {
			return true, nil
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return false, nil
		}
		return false, fmt.Errorf("%w: %v", ErrProcessorNotCallable, err)
	}
}

func exeSuffix() string {
	if runtime.GOOS == "windows" {
		return ".exe"
	}
	return ""
}

func isExecutable(info os.FileInfo) bool {
	if runtime.GOOS == "windows" {
		return true
	}
	return info.Mode()&0o111 != 0
}
