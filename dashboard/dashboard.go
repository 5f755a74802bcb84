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

package dashboard

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/foldedstream/pipeline/internal/logging"
	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
)

// DashboardProtocolError is returned (and turned into an error frame, never
// a dropped connection) when an inbound message is malformed.
type DashboardProtocolError struct {
	Reason string
}

func (e *DashboardProtocolError) Error() string {
	return fmt.Sprintf("dashboard: protocol error: %s", e.Reason)
}

const (
	sweepInterval    = 60 * time.Second
	timeoutThreshold = 300 * time.Second
)

// Server maintains the aggregate pipeline map and broadcasts snapshots to
// connected clients. The map is guarded by mu and the client set by the
// wsManager's own mutex; neither is a single shared lock, and each is held
// only for mutation and snapshot construction, never across I/O, mirroring
// the teacher's websocketManager locking discipline.
type Server struct {
	mu        sync.RWMutex
	pipelines map[string]*PipelineState
	idsByName map[string]string // external pipeline_id -> internal uuid, for re-use across updates

	ws     *wsManager
	logger logging.Logger

	cron   *cron.Cron
	nowFn  func() time.Time
	closed bool
}

// New constructs a Server. logger may be nil.
func New(logger logging.Logger) *Server {
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}
	s := &Server{
		pipelines: make(map[string]*PipelineState),
		idsByName: make(map[string]string),
		ws:        newWSManager(logger),
		logger:    logger,
		nowFn:     time.Now,
	}
	return s
}

// Start launches the background timeout sweeper. Call Stop to shut it down.
func (s *Server) Start() {
	c := cron.New()
	if _, err := c.AddFunc("@every 60s", s.sweep); err != nil {
		s.logger.Error("dashboard: failed to schedule sweeper: %v", err)
		return
	}
	c.Start()
	s.cron = c
}

// Stop halts the sweeper and closes all client connections.
func (s *Server) Stop() {
	if s.cron != nil {
		ctx := s.cron.Stop()
		<-ctx.Done()
	}
	s.ws.closeAll()
}

// resolveID maps an external pipeline_id string to the internal uuid used
// as the map key, minting one on first sight so internal bookkeeping stays
// uniform regardless of what shape of id external callers send.
func (s *Server) resolveID(externalID string) string {
	if id, ok := s.idsByName[externalID]; ok {
		return id
	}
	id := uuid.NewString()
	s.idsByName[externalID] = id
	return id
}

// Notify implements stage.Notifier, the entry point for an in-process
// producer (a Stage State Machine) to push an update without going
// through the WebSocket wire protocol at all.
func (s *Server) Notify(u Update) {
	s.Upsert(u)
}

// Upsert applies a pipeline_update, recomputes aggregate stats and
// broadcasts a dashboard_update snapshot to every connected client.
func (s *Server) Upsert(u Update) {
	s.mu.Lock()
	id := s.resolveID(u.PipelineID)
	now := s.nowFn()

	state, ok := s.pipelines[id]
	if !ok {
		state = &PipelineState{ID: id}
		s.pipelines[id] = state
	}
	if u.Name != "" {
		state.Name = u.Name
	}
	state.Status = u.Status
	state.Metadata = u.Metadata
	state.ErrorMessage = u.ErrorMessage
	if now.After(state.LastUpdate) {
		state.LastUpdate = now
	}

	snapshot := s.snapshotLocked()
	s.mu.Unlock()

	s.broadcast(snapshot)
}

// Heartbeat refreshes last_update for pipelineID without changing status.
func (s *Server) Heartbeat(pipelineID string) {
	s.mu.Lock()
	id := s.resolveID(pipelineID)
	state, ok := s.pipelines[id]
	if !ok {
		state = &PipelineState{ID: id, Status: StatusIdle}
		s.pipelines[id] = state
	}
	now := s.nowFn()
	if now.After(state.LastUpdate) {
		state.LastUpdate = now
	}
	snapshot := s.snapshotLocked()
	s.mu.Unlock()

	s.broadcast(snapshot)
}

// Status returns the current PipelineState for pipelineID, or nil if
// unknown.
func (s *Server) Status(pipelineID string) *PipelineState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.idsByName[pipelineID]
	if !ok {
		return nil
	}
	state, ok := s.pipelines[id]
	if !ok {
		return nil
	}
	cp := *state
	return &cp
}

// snapshotLocked builds a Snapshot. Caller must hold s.mu (read or write).
func (s *Server) snapshotLocked() Snapshot {
	stats := GlobalStats{}
	pipelines := make(map[string]PipelineState, len(s.pipelines))
	for id, state := range s.pipelines {
		pipelines[id] = *state
		stats.Total++
		switch state.Status {
		case StatusRunning:
			stats.Active++
		case StatusFailed:
			stats.Failed++
		case StatusCompleted:
			stats.Completed++
		case StatusIdle:
			stats.Idle++
			// StatusPaused counts toward Total only, never Active: a paused
			// pipeline is not making progress.
		}
	}
	return Snapshot{
		Type:        "dashboard_update",
		Timestamp:   s.nowFn().UTC().Format(time.RFC3339),
		GlobalStats: stats,
		Pipelines:   pipelines,
	}
}

// Broadcast implements logging.Broadcaster, letting the interactive
// pterm logger tee structured log entries to every connected client
// alongside dashboard_update frames.
func (s *Server) Broadcast(payload []byte) error {
	return s.ws.broadcast(payload)
}

// broadcast marshals snapshot and fans it out to every connected client.
// A send failure against one client does not block or drop the others.
func (s *Server) broadcast(snapshot Snapshot) {
	payload, err := json.Marshal(snapshot)
	if err != nil {
		s.logger.Error("dashboard: failed to marshal snapshot: %v", err)
		return
	}
	if err := s.ws.broadcast(payload); err != nil {
		s.logger.Error("dashboard: broadcast error: %v", err)
	}
}

// sweep flips any pipeline stuck in "running" for more than
// timeoutThreshold to "failed". Broadcasting the result is best-effort.
func (s *Server) sweep() {
	s.mu.Lock()
	now := s.nowFn()
	var flipped bool
	for _, state := range s.pipelines {
		if state.Status == StatusRunning && now.Sub(state.LastUpdate) > timeoutThreshold {
			state.Status = StatusFailed
			state.ErrorMessage = "Pipeline timeout - no updates received"
			flipped = true
		}
	}
	if !flipped {
		s.mu.Unlock()
		return
	}
	snapshot := s.snapshotLocked()
	s.mu.Unlock()

	s.broadcast(snapshot)
}
