package domain

import (
	"time"
)

// MaxHistory is the number of commands retained per terminal session.
const MaxHistory = 100

// HistoryEntry represents a single command in the session history.
type HistoryEntry struct {
	Command   string    `json:"command"`
	Timestamp time.Time `json:"timestamp"`
}

// Session holds server-side state for one tenant terminal session.
type Session struct {
	ID           string         `json:"session_id"`
	TenantID     string         `json:"tenant_id"`
	Username     string         `json:"username"`
	Cwd          string         `json:"cwd"`
	CreatedAt    time.Time      `json:"created_at"`
	LastActivity time.Time      `json:"last_activity"`
	ExpiresAt    time.Time      `json:"expires_at"`
	History      []HistoryEntry `json:"history"`
}

// RecordCommand appends a command to the history, evicting the oldest
// entries once MaxHistory is reached.
func (s *Session) RecordCommand(cmd string, at time.Time) {
	s.History = append(s.History, HistoryEntry{Command: cmd, Timestamp: at})
	if over := len(s.History) - MaxHistory; over > 0 {
		s.History = append([]HistoryEntry(nil), s.History[over:]...)
	}
}

// RecentCommands returns the last n commands from history.
func (s *Session) RecentCommands(n int) []HistoryEntry {
	if n >= len(s.History) {
		return s.History
	}
	return s.History[len(s.History)-n:]
}

// Clone returns a deep copy so stores never share history slices with callers.
func (s *Session) Clone() *Session {
	c := *s
	c.History = append([]HistoryEntry(nil), s.History...)
	return &c
}

// Expired reports whether the sliding window has lapsed at now.
func (s *Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// CommandAudit is one persisted record of a terminal command attempt.
type CommandAudit struct {
	ID        int64     `json:"id"`
	TenantID  string    `json:"tenant_id"`
	SessionID string    `json:"session_id"`
	Command   string    `json:"command"`
	Verdict   string    `json:"verdict"`
	ExitCode  int       `json:"exit_code"`
	TimedOut  bool      `json:"timed_out"`
	CreatedAt time.Time `json:"created_at"`
}
