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

// Package dashboard aggregates per-pipeline status pushed by any other
// component (most commonly one Stage State Machine per pipeline stage) and
// serves a live view of it over a WebSocket.
package dashboard

import (
	"encoding/json"
	"time"
)

// Status is the set of states a pipeline can be reported in.
type Status string

const (
	StatusIdle      Status = "idle"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusPaused    Status = "paused"
)

// Update is what a producer (a Stage State Machine, a CLI command, a
// heartbeat) pushes into the Dashboard.
type Update struct {
	PipelineID   string
	Name         string
	Status       Status
	Metadata     map[string]any
	ErrorMessage string
}

// PipelineState is the Dashboard's bookkeeping record for one pipeline id.
// last_update is monotonically non-decreasing for a given id: Upsert and
// Heartbeat both refuse to move it backwards.
type PipelineState struct {
	ID           string         `json:"-"`
	Name         string         `json:"name"`
	Status       Status         `json:"status"`
	LastUpdate   time.Time      `json:"last_update"`
	Metadata     map[string]any `json:"metadata"`
	ErrorMessage string         `json:"error_message,omitempty"`
}

// GlobalStats is the aggregate counter block included in every
// dashboard_update frame.
type GlobalStats struct {
	Total     int `json:"total"`
	Active    int `json:"active"`
	Failed    int `json:"failed"`
	Completed int `json:"completed"`
	Idle      int `json:"idle"`
}

// Snapshot is the outbound "dashboard_update" frame.
type Snapshot struct {
	Type        string                   `json:"type"`
	Timestamp   string                   `json:"timestamp"`
	GlobalStats GlobalStats              `json:"global_stats"`
	Pipelines   map[string]PipelineState `json:"pipelines"`
}

// StatusReply is the outbound reply to a get_pipeline_status request.
type StatusReply struct {
	Type     string         `json:"type"`
	Pipeline *PipelineState `json:"pipeline,omitempty"`
}

// inbound message shapes

// InboundEnvelope is decoded first to dispatch on Type before Payload is
// parsed into one of the concrete inbound shapes below. Every inbound
// message nests its fields under "payload", including get_pipeline_status
// ("payload": {"pipeline_id": ...}).
type InboundEnvelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// PipelineUpdatePayload is the payload of an inbound "pipeline_update"
// message.
type PipelineUpdatePayload struct {
	PipelineID   string         `json:"pipeline_id"`
	Name         string         `json:"name"`
	Status       Status         `json:"status"`
	Metadata     map[string]any `json:"metadata"`
	ErrorMessage string         `json:"error_message,omitempty"`
}

// PipelineHeartbeatPayload is the payload of an inbound
// "pipeline_heartbeat" message.
type PipelineHeartbeatPayload struct {
	PipelineID string `json:"pipeline_id"`
}

// GetPipelineStatusPayload is the payload of an inbound
// "get_pipeline_status" message.
type GetPipelineStatusPayload struct {
	PipelineID string `json:"pipeline_id"`
}
