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

// Package logging provides the Logger contract threaded explicitly through
// every component constructor in this module. There is no package-level
// logger instance: each Orchestrator, Watcher, Registry, Audit Store and
// Dashboard is handed its own Logger so the core can be instantiated more
// than once in the same process (for example under test).
package logging

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/pterm/pterm"
	"golang.org/x/term"
)

// Logger is the logging interface used throughout the pipeline core.
type Logger interface {
	Info(msg string, args ...any)
	Warning(msg string, args ...any)
	Error(msg string, args ...any)
	Debug(msg string, args ...any)
}

// Broadcaster is satisfied by anything that can fan a message out to
// connected Dashboard clients. The interactive logger tees structured log
// entries into it the same way it tees status frames.
type Broadcaster interface {
	Broadcast([]byte) error
}

// LogMessage is the WebSocket frame carrying a batch of structured log
// entries to Dashboard subscribers.
type LogMessage struct {
	Type string     `json:"type"`
	Logs []LogEntry `json:"logs"`
}

// LogEntry is a single structured log record.
type LogEntry struct {
	Type    string `json:"type"`
	Date    string `json:"date"`
	Message string `json:"message"`
}

// defaultLogger writes to the standard log package. Components fall back to
// it when constructed with a nil Logger, as the tests do; the CLI commands
// always use the pterm logger, whether or not stdout is a terminal.
type defaultLogger struct{}

// NewDefaultLogger returns a Logger backed by the standard library's log
// package.
func NewDefaultLogger() Logger {
	return &defaultLogger{}
}

func (l *defaultLogger) Info(msg string, args ...any)    { log.Printf("[INFO] "+msg, args...) }
func (l *defaultLogger) Warning(msg string, args ...any) { log.Printf("[WARN] "+msg, args...) }
func (l *defaultLogger) Error(msg string, args ...any)   { log.Printf("[ERROR] "+msg, args...) }
func (l *defaultLogger) Debug(msg string, args ...any)   { log.Printf("[DEBUG] "+msg, args...) }

// ptermLogger renders a live, colorized log tail to the terminal and, when a
// Dashboard Broadcaster is attached, tees every entry out to subscribers as
// a "logs" frame.
type ptermLogger struct {
	verbose      bool
	logs         []LogEntry
	terminalLogs []string
	maxLogs      int
	maxTermLogs  int
	mu           sync.Mutex
	interactive  bool
	broadcaster  Broadcaster
}

// NewPtermLogger creates a pterm-backed Logger. verbose controls whether
// Debug messages are kept at all: without it they are neither printed,
// recorded in the structured log buffer, nor broadcast.
func NewPtermLogger(verbose bool) Logger {
	return &ptermLogger{
		verbose:      verbose,
		logs:         make([]LogEntry, 0),
		terminalLogs: make([]string, 0),
		maxLogs:      200,
		maxTermLogs:  100,
		interactive:  term.IsTerminal(int(os.Stdout.Fd())),
	}
}

// SetBroadcaster wires a Dashboard connection manager so every subsequent
// log entry is also broadcast as a "logs" frame.
func (l *ptermLogger) SetBroadcaster(b Broadcaster) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.broadcaster = b
}

// Logs returns a copy of the structured log buffer, newest last.
func (l *ptermLogger) Logs() []LogEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]LogEntry, len(l.logs))
	copy(out, l.logs)
	return out
}

func (l *ptermLogger) Info(msg string, args ...any)    { l.log("info", msg, args...) }
func (l *ptermLogger) Warning(msg string, args ...any) { l.log("warning", msg, args...) }
func (l *ptermLogger) Error(msg string, args ...any)   { l.log("error", msg, args...) }
func (l *ptermLogger) Debug(msg string, args ...any)   { l.log("debug", msg, args...) }

func (l *ptermLogger) log(levelType, msg string, args ...any) {
	formatted := fmt.Sprintf(msg, args...)
	now := time.Now()

	if levelType == "debug" && !l.verbose {
		return
	}

	l.mu.Lock()
	entry := LogEntry{Type: levelType, Date: now.Format(time.RFC3339), Message: formatted}
	l.logs = append(l.logs, entry)
	if len(l.logs) > l.maxLogs {
		l.logs = l.logs[len(l.logs)-l.maxLogs:]
	}

	line := fmt.Sprintf("%s %s", strings.ToUpper(levelType), formatted)
	l.terminalLogs = append(l.terminalLogs, line)
	if len(l.terminalLogs) > l.maxTermLogs {
		l.terminalLogs = l.terminalLogs[len(l.terminalLogs)-l.maxTermLogs:]
	}
	broadcaster := l.broadcaster
	l.mu.Unlock()

	l.printTerminal(levelType, formatted)

	if broadcaster != nil {
		if payload, err := json.Marshal(LogMessage{Type: "logs", Logs: []LogEntry{entry}}); err == nil {
			_ = broadcaster.Broadcast(payload)
		}
	}
}

func (l *ptermLogger) printTerminal(levelType, message string) {
	switch levelType {
	case "info":
		pterm.Info.Println(message)
	case "warning":
		pterm.Warning.Println(message)
	case "error":
		pterm.Error.Println(message)
	case "debug":
		pterm.Debug.Println(message)
	}
}
