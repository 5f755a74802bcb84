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

// Package stage implements the per-file lifecycle state machine: one file,
// one stage, driven from "sitting at the stage root" through working/ to
// processed/, the next stage, or error/. Steps 1-3 are fatal if they fail;
// step 4 (the processor) failing routes to the error branch instead of
// propagating; steps 5-7 (mirroring, the final move, the dashboard event)
// are logged on failure but never unwind an earlier move, because the
// on-disk layout is always the source of truth for a retry.
package stage

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/foldedstream/pipeline/audit"
	"github.com/foldedstream/pipeline/dashboard"
	"github.com/foldedstream/pipeline/fileops"
	"github.com/foldedstream/pipeline/internal/logging"
	"github.com/foldedstream/pipeline/registry"
	"github.com/spf13/afero"
)

// ErrInputMissing is returned by Process when filePath does not exist at
// the stage root. No file is moved in this case.
var ErrInputMissing = errors.New("stage: input file missing")

// ProcessorFailureError wraps whatever error (if any) a processor reported
// on a failed run. It is informational only: the State Machine has
// already routed the file to error/ by the time this is returned.
type ProcessorFailureError struct {
	Stage string
	File  string
	Err   error
}

func (e *ProcessorFailureError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("stage %s: processor reported failure for %s", e.Stage, e.File)
	}
	return fmt.Sprintf("stage %s: processor reported failure for %s: %v", e.Stage, e.File, e.Err)
}

func (e *ProcessorFailureError) Unwrap() error { return e.Err }

// Notifier is the narrow interface the State Machine needs from the
// Dashboard: push one status update. Satisfied by *dashboard.Server.
type Notifier interface {
	Notify(update dashboard.Update)
}

type noopNotifier struct{}

func (noopNotifier) Notify(dashboard.Update) {}

// StateMachine drives one stage's files through their lifecycle. A single
// StateMachine instance is only ever invoked sequentially for its own
// stage — the Watcher that owns it serializes calls through one goroutine
// per stage (see the watcher package) so "two concurrent invocations of
// the same stage's processor never coexist" holds without a lock here.
type StateMachine struct {
	StageName string
	StageDir  string
	// NextDir is the destination root for a successfully processed file.
	// Empty means this is the last stage: success leaves the file under
	// processed/.
	NextDir string

	ops      *fileops.FileOps
	registry *registry.Registry
	store    *audit.Store
	logger   logging.Logger
	notifier Notifier
}

// New constructs a StateMachine for one stage.
func New(stageName, stageDir, nextDir string, ops *fileops.FileOps, reg *registry.Registry, store *audit.Store, logger logging.Logger, notifier Notifier) *StateMachine {
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}
	if notifier == nil {
		notifier = noopNotifier{}
	}
	return &StateMachine{
		StageName: stageName,
		StageDir:  stageDir,
		NextDir:   nextDir,
		ops:       ops,
		registry:  reg,
		store:     store,
		logger:    logger,
		notifier:  notifier,
	}
}

func (sm *StateMachine) workingDir() string   { return filepath.Join(sm.StageDir, "working") }
func (sm *StateMachine) processedDir() string { return filepath.Join(sm.StageDir, "processed") }
func (sm *StateMachine) errorDir() string     { return filepath.Join(sm.StageDir, "error") }

// Process drives filePath (which must currently sit at the stage root)
// through the lifecycle described in the package doc comment.
func (sm *StateMachine) Process(ctx context.Context, filePath string) error {
	fs := sm.ops.Fs()

	// 1. Guard
	if exists, _ := afero.Exists(fs, filePath); !exists {
		return ErrInputMissing
	}

	// 2. Prepare
	for _, dir := range []string{sm.workingDir(), sm.processedDir(), sm.errorDir()} {
		if err := sm.ops.EnsureDir(dir); err != nil {
			return err
		}
	}

	fileName := filepath.Base(filePath)

	// 3. Stage: copy into working/. The original stays at the stage root
	// until step 7 so a crash here leaves the stage re-entrant on retry.
	workingPath, err := sm.ops.Copy(filePath, sm.workingDir())
	if err != nil {
		return err
	}

	// From here on the run is not cancellable: the processor must not be
	// killed by a shutdown signal once the working copy exists.
	ctx = context.WithoutCancel(ctx)

	// 4. Dispatch
	success, procErr := sm.dispatch(ctx, workingPath)

	// 5. Mirror input (logged-not-fatal per steps 5-7 semantics)
	if _, err := sm.store.Mirror(ctx, sm.StageName, filePath, ""); err != nil {
		sm.logger.Error("stage %s: failed to mirror input %s: %v", sm.StageName, filePath, err)
	}

	// 6. Branch
	var branchErr error
	if success {
		branchErr = sm.onSuccess(ctx, filePath, workingPath, fileName)
	} else {
		branchErr = sm.onFailure(ctx, filePath, workingPath, fileName, procErr)
	}

	status := dashboard.StatusCompleted
	errMsg := ""
	if !success {
		status = dashboard.StatusFailed
		if procErr != nil {
			errMsg = procErr.Error()
		}
	}
	sm.notifier.Notify(dashboard.Update{
		PipelineID:   sm.StageName,
		Name:         sm.StageName,
		Status:       status,
		Metadata:     map[string]any{"file": fileName},
		ErrorMessage: errMsg,
	})

	if branchErr != nil {
		sm.logger.Error("stage %s: branch handling error for %s: %v", sm.StageName, fileName, branchErr)
	}

	if !success {
		return &ProcessorFailureError{Stage: sm.StageName, File: fileName, Err: procErr}
	}
	return nil
}

// dispatch resolves and invokes the stage's processor. Resolution errors
// and processor errors are both folded into a false result, per the spec:
// "Any error returned from the processor handle ... is treated as a false
// result plus an error_message."
func (sm *StateMachine) dispatch(ctx context.Context, workingPath string) (success bool, err error) {
	handle, resErr := sm.registry.Resolve(sm.StageName)
	if resErr != nil {
		return false, resErr
	}

	defer func() {
		if r := recover(); r != nil {
			success = false
			err = fmt.Errorf("processor panic: %v", r)
		}
	}()

	ok, procErr := handle(ctx, workingPath)
	if procErr != nil {
		return false, procErr
	}
	return ok, nil
}

// onSuccess implements step 6's success branch plus step 7's cleanup.
func (sm *StateMachine) onSuccess(ctx context.Context, originalPath, workingPath, fileName string) error {
	outputPath := filepath.Join(sm.processedDir(), fileName)
	hasOutput, _ := afero.Exists(sm.ops.Fs(), outputPath)

	var advancing string
	if hasOutput {
		if _, err := sm.store.Mirror(ctx, sm.StageName, outputPath, "processed"); err != nil {
			sm.logger.Error("stage %s: failed to mirror output %s: %v", sm.StageName, outputPath, err)
		}
		advancing = outputPath
	} else {
		// No distinct output file: treat success as a pass-through move of
		// the working copy, so the file is never silently dropped.
		movedPath, err := sm.ops.Move(workingPath, sm.processedDir())
		if err != nil {
			return err
		}
		if _, err := sm.store.Mirror(ctx, sm.StageName, movedPath, "processed"); err != nil {
			sm.logger.Error("stage %s: failed to mirror pass-through output %s: %v", sm.StageName, movedPath, err)
		}
		advancing = movedPath
	}

	if sm.NextDir != "" {
		if err := sm.ops.EnsureDir(sm.NextDir); err != nil {
			return err
		}
		dest, err := sm.moveWithCollisionSuffix(advancing, sm.NextDir)
		if err != nil {
			return err
		}
		sm.logger.Info("stage %s: advanced %s to %s", sm.StageName, fileName, dest)
	} else {
		sm.logger.Info("stage %s: %s is the terminal stage, left under processed/", sm.StageName, fileName)
	}

	// 7. Finalize: remove the original at the stage root.
	if err := sm.ops.Fs().Remove(originalPath); err != nil {
		sm.logger.Error("stage %s: failed to remove original %s: %v", sm.StageName, originalPath, err)
	}
	return nil
}

// onFailure implements step 6's failure branch plus step 7's cleanup.
func (sm *StateMachine) onFailure(ctx context.Context, originalPath, workingPath, fileName string, procErr error) error {
	errName := fileName + ".err"
	if _, err := sm.ops.Rename(workingPath, errName); err != nil {
		sm.logger.Error("stage %s: failed to rename working copy to %s: %v", sm.StageName, errName, err)
	} else if _, err := sm.ops.Move(filepath.Join(sm.workingDir(), errName), sm.errorDir()); err != nil {
		sm.logger.Error("stage %s: failed to move error copy %s: %v", sm.StageName, errName, err)
	}

	if _, err := sm.store.Mirror(ctx, sm.StageName, originalPath, "causing_error"); err != nil {
		sm.logger.Error("stage %s: failed to mirror causing_error artifact %s: %v", sm.StageName, originalPath, err)
	}

	// 7. Finalize: the original itself also moves to error/.
	if _, err := sm.ops.Move(originalPath, sm.errorDir()); err != nil {
		return err
	}
	return nil
}

// moveWithCollisionSuffix moves src into dstDir, appending a numeric suffix
// to the destination name if one already exists there.
func (sm *StateMachine) moveWithCollisionSuffix(src, dstDir string) (string, error) {
	name := filepath.Base(src)
	finalName := fileops.WithSuffix(name, func(candidate string) bool {
		exists, _ := afero.Exists(sm.ops.Fs(), filepath.Join(dstDir, candidate))
		return exists
	})
	if finalName != name {
		renamed, err := sm.ops.Rename(src, finalName)
		if err != nil {
			return "", err
		}
		src = renamed
	}
	return sm.ops.Move(src, dstDir)
}
