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

package cmd

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/foldedstream/pipeline/audit"
	"github.com/foldedstream/pipeline/fileops"
	"github.com/foldedstream/pipeline/internal/logging"
	"github.com/foldedstream/pipeline/orchestrator"
	"github.com/foldedstream/pipeline/registry"
	"github.com/spf13/cobra"
)

var launchWatcherCmd = &cobra.Command{
	Use:   "launch-watcher",
	Short: "Start the stage watchers without the dashboard",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		log := logging.NewPtermLogger(cfg.Verbose)
		ops := fileops.NewOS()
		reg := registry.New(cfg.ProcessesDir, cfg.ProcessFilePrefix, log)
		store := audit.New(ops.Fs(), cfg.PipelineStorageDir, log)

		orch := orchestrator.New(cfg, log, ops, reg, store, nil)

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		log.Info("launch-watcher: starting, pipeline root %s", cfg.PipelineDir)
		if err := orch.Run(ctx); err != nil {
			return fmt.Errorf("orchestrator: %w", err)
		}
		log.Info("launch-watcher: stopped")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(launchWatcherCmd)
}
