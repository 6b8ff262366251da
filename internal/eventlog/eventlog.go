// Package eventlog records session lifecycle events as JSONL, one file per
// session. The log is append-only diagnostics; it is never read back to
// reconstruct state.
package eventlog

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// EventType classifies an event in the event stream.
type EventType string

const (
	EventSessionStart  EventType = "session_start"
	EventSessionEnd    EventType = "session_end"
	EventMessageAdded  EventType = "message_added"
	EventBranchCreated EventType = "branch_created"
	EventBranchDeleted EventType = "branch_deleted"
	EventBranchMerged  EventType = "branch_merged"
	EventSummarySplice EventType = "summary_spliced"
	EventError         EventType = "error"
)

// Event is a single structured event in the event stream.
type Event struct {
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"ts"`
	SessionID string    `json:"session_id"`
	Data      any       `json:"data,omitempty"`
}

// Logger writes structured JSONL events to a file.
type Logger struct {
	mu        sync.Mutex
	file      *os.File
	enc       *json.Encoder
	sessionID string
	logPath   string
}

// New creates an event logger for the given session. Events are written to
// {dir}/{session_id}.jsonl; when dir is empty, candidate directories are
// tried in priority order.
func New(sessionID, dir string) (*Logger, error) {
	var lastErr error
	for _, d := range logDirs(dir) {
		if err := os.MkdirAll(d, 0755); err != nil {
			lastErr = fmt.Errorf("create events directory %s: %w", d, err)
			continue
		}

		logPath := filepath.Join(d, sessionID+".jsonl")
		f, err := os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			lastErr = fmt.Errorf("open event log %s: %w", logPath, err)
			continue
		}

		return &Logger{
			file:      f,
			enc:       json.NewEncoder(f),
			sessionID: sessionID,
			logPath:   logPath,
		}, nil
	}

	if lastErr == nil {
		lastErr = fmt.Errorf("no writable events directory found")
	}
	return nil, lastErr
}

// logDirs returns candidate directories in priority order.
// 1) explicit dir argument
// 2) LOOM_EVENTS_DIR (env override)
// 3) ~/.local/share/loom/events (default)
// 4) $TMPDIR/loom/events (fallback for restricted environments)
func logDirs(explicit string) []string {
	seen := make(map[string]bool)
	var dirs []string

	add := func(dir string) {
		dir = strings.TrimSpace(dir)
		if dir == "" || seen[dir] {
			return
		}
		seen[dir] = true
		dirs = append(dirs, dir)
	}

	add(explicit)
	add(os.Getenv("LOOM_EVENTS_DIR"))

	if home, err := os.UserHomeDir(); err == nil {
		add(filepath.Join(home, ".local", "share", "loom", "events"))
	}

	add(filepath.Join(os.TempDir(), "loom", "events"))
	return dirs
}

// Path returns the log file location.
func (l *Logger) Path() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.logPath
}

// Log writes an event to the JSONL file.
func (l *Logger) Log(evtType EventType, data any) {
	l.mu.Lock()
	defer l.mu.Unlock()

	evt := Event{
		Type:      evtType,
		Timestamp: time.Now(),
		SessionID: l.sessionID,
		Data:      data,
	}
	_ = l.enc.Encode(evt)
}

// Close flushes and closes the event log file.
func (l *Logger) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file != nil {
		_ = l.file.Close()
		l.file = nil
	}
}

// ReadRecent reads the last n events from the log file.
func (l *Logger) ReadRecent(n int) ([]Event, error) {
	l.mu.Lock()
	path := l.logPath
	l.mu.Unlock()

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open event log: %w", err)
	}
	defer f.Close()

	var events []Event
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 256*1024)
	for scanner.Scan() {
		var evt Event
		if json.Unmarshal(scanner.Bytes(), &evt) == nil {
			events = append(events, evt)
		}
	}

	if n > 0 && len(events) > n {
		events = events[len(events)-n:]
	}
	return events, nil
}
