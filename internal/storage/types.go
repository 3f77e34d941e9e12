package storage

import (
	"errors"
	"time"
)

var ErrClosed = errors.New("storage closed")

// Config configures storage.
//
// Driver values:
//   - "file": JSON Lines file, no dependencies
//   - "sqlite": SQLite database file
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// AuditEntry records one tick or delivery outcome.
// Keep it compact and schema-stable.
type AuditEntry struct {
	At      time.Time `json:"at"`
	TickID  string    `json:"tick_id,omitempty"`
	Event   string    `json:"event"`   // "tick" | "notification"
	Outcome string    `json:"outcome"` // e.g. "notified", "idle", "failed", "sent", "suppressed"
	Kind    string    `json:"kind,omitempty"`
	Cursor  int64     `json:"cursor,omitempty"`
	Message string    `json:"message,omitempty"`
	Error   string    `json:"error,omitempty"`
}
