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
	"net/http"
	"os/signal"
	"syscall"

	"github.com/foldedstream/pipeline/audit"
	"github.com/foldedstream/pipeline/dashboard"
	"github.com/foldedstream/pipeline/fileops"
	"github.com/foldedstream/pipeline/internal/logging"
	"github.com/foldedstream/pipeline/orchestrator"
	"github.com/foldedstream/pipeline/registry"
	"github.com/spf13/cobra"
)

var launchDashboardCmd = &cobra.Command{
	Use:   "launch-dashboard",
	Short: "Start the stage watchers and the dashboard WebSocket server",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		log := logging.NewPtermLogger(cfg.Verbose)
		ops := fileops.NewOS()
		reg := registry.New(cfg.ProcessesDir, cfg.ProcessFilePrefix, log)
		store := audit.New(ops.Fs(), cfg.PipelineStorageDir, log)

		dash := dashboard.New(log)
		dash.Start()
		defer dash.Stop()

		if setter, ok := log.(interface {
			SetBroadcaster(logging.Broadcaster)
		}); ok {
			setter.SetBroadcaster(dash)
		}

		orch := orchestrator.New(cfg, log, ops, reg, store, dash)

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		mux := http.NewServeMux()
		mux.Handle("/dashboard", dash.Handler())
		addr := fmt.Sprintf("%s:%d", cfg.DashboardHost, cfg.DashboardPort)
		httpServer := &http.Server{Addr: addr, Handler: mux}

		go func() {
			log.Info("launch-dashboard: serving WebSocket on ws://%s/dashboard", addr)
			if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error("launch-dashboard: http server error: %v", err)
			}
		}()

		errCh := make(chan error, 1)
		go func() { errCh <- orch.Run(ctx) }()

		<-ctx.Done()
		if err := httpServer.Close(); err != nil {
			log.Warning("launch-dashboard: closing http server: %v", err)
		}
		return <-errCh
	},
}

func init() {
	rootCmd.AddCommand(launchDashboardCmd)

	launchDashboardCmd.Flags().String("dashboard-host", "", "host to bind the dashboard WebSocket server to")
	launchDashboardCmd.Flags().Int("dashboard-port", 0, "port to bind the dashboard WebSocket server to")
}
