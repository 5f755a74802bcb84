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
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/foldedstream/pipeline/internal/logging"
	"github.com/gorilla/websocket"
)

const maxWebSocketReadSize = 64 * 1024

// originChecker decides which Origin headers may upgrade to a WebSocket.
// Same-origin and localhost are always allowed; extra (the allowedOrigins
// passed to Handler) adds further accepted hostnames. Nil/empty extra means
// "same-origin or localhost only", matching the teacher's isLocalOrigin
// default.
type originChecker struct {
	extra []string
}

func (c originChecker) allowed(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	parsed, err := url.Parse(origin)
	if err != nil {
		return false
	}
	host := parsed.Hostname()

	requestHost := r.Host
	if i := strings.IndexByte(requestHost, ':'); i != -1 {
		requestHost = requestHost[:i]
	}
	if host == requestHost {
		return true
	}
	if host == "localhost" || host == "127.0.0.1" || host == "::1" || host == "[::1]" {
		return true
	}
	if strings.HasSuffix(host, ".localhost") || strings.HasPrefix(host, "127.") {
		return true
	}
	for _, allowed := range c.extra {
		if host == allowed {
			return true
		}
	}
	return false
}

type conn struct {
	ws *websocket.Conn
	mu sync.Mutex
}

func (c *conn) writeJSON(v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws.WriteMessage(websocket.TextMessage, payload)
}

func (c *conn) write(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws.WriteMessage(websocket.TextMessage, payload)
}

// wsManager owns the live WebSocket client set for a Server.
type wsManager struct {
	mu      sync.RWMutex
	clients map[*conn]struct{}
	logger  logging.Logger
	checker originChecker
	server  *Server
}

func newWSManager(logger logging.Logger) *wsManager {
	return &wsManager{
		clients: make(map[*conn]struct{}),
		logger:  logger,
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 64 * 1024,
}

// Handler returns an http.HandlerFunc that upgrades to a WebSocket and
// serves the dashboard protocol for the lifetime of the connection.
func (s *Server) Handler(allowedOrigins ...string) http.HandlerFunc {
	s.ws.checker = originChecker{extra: allowedOrigins}
	s.ws.server = s
	return s.ws.handle
}

func (m *wsManager) handle(w http.ResponseWriter, r *http.Request) {
	up := upgrader
	up.CheckOrigin = m.checker.allowed
	wsConn, err := up.Upgrade(w, r, nil)
	if err != nil {
		m.logger.Error("dashboard: websocket upgrade failed: %v", err)
		return
	}
	wsConn.SetReadLimit(maxWebSocketReadSize)

	c := &conn{ws: wsConn}
	m.mu.Lock()
	m.clients[c] = struct{}{}
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		delete(m.clients, c)
		m.mu.Unlock()
		_ = wsConn.Close()
	}()

	for {
		_, payload, err := wsConn.ReadMessage()
		if err != nil {
			return
		}
		m.dispatch(c, payload)
	}
}

// dispatch decodes one inbound frame and routes it to the Server. A
// malformed frame gets an error reply; the connection stays open.
func (m *wsManager) dispatch(c *conn, payload []byte) {
	var env InboundEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		m.replyError(c, &DashboardProtocolError{Reason: "invalid JSON"})
		return
	}

	switch env.Type {
	case "pipeline_update":
		var p PipelineUpdatePayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			m.replyError(c, &DashboardProtocolError{Reason: "malformed pipeline_update"})
			return
		}
		m.server.Upsert(Update{
			PipelineID:   p.PipelineID,
			Name:         p.Name,
			Status:       p.Status,
			Metadata:     p.Metadata,
			ErrorMessage: p.ErrorMessage,
		})
	case "pipeline_heartbeat":
		var p PipelineHeartbeatPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			m.replyError(c, &DashboardProtocolError{Reason: "malformed pipeline_heartbeat"})
			return
		}
		m.server.Heartbeat(p.PipelineID)
	case "get_pipeline_status":
		var p GetPipelineStatusPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			m.replyError(c, &DashboardProtocolError{Reason: "malformed get_pipeline_status"})
			return
		}
		reply := StatusReply{Type: "pipeline_status", Pipeline: m.server.Status(p.PipelineID)}
		if err := c.writeJSON(reply); err != nil {
			m.logger.Debug("dashboard: writing pipeline_status reply: %v", err)
		}
	default:
		m.replyError(c, &DashboardProtocolError{Reason: "unrecognized message type " + env.Type})
	}
}

func (m *wsManager) replyError(c *conn, err *DashboardProtocolError) {
	m.logger.Warning("dashboard: %v", err)
	_ = c.writeJSON(map[string]string{"type": "error", "message": err.Error()})
}

// broadcast sends payload to every connected client, best-effort: a send
// failure marks that client for cleanup and never blocks the others.
func (m *wsManager) broadcast(payload []byte) error {
	m.mu.RLock()
	snapshot := make([]*conn, 0, len(m.clients))
	for c := range m.clients {
		snapshot = append(snapshot, c)
	}
	m.mu.RUnlock()

	var dead []*conn
	for _, c := range snapshot {
		if err := c.write(payload); err != nil {
			dead = append(dead, c)
		}
	}

	if len(dead) > 0 {
		m.mu.Lock()
		for _, c := range dead {
			delete(m.clients, c)
			_ = c.ws.Close()
		}
		m.mu.Unlock()
	}
	return nil
}

func (m *wsManager) closeAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for c := range m.clients {
		_ = c.ws.SetWriteDeadline(time.Now().Add(500 * time.Millisecond))
		_ = c.ws.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "server shutting down"))
		_ = c.ws.Close()
	}
	m.clients = make(map[*conn]struct{})
}
