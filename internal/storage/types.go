package storage

import (
	"errors"
	"time"
)

var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("already exists")
	ErrClosed   = errors.New("storage closed")
)

// Config configures storage.
//
// Driver values:
//   - "sqlite": SQLite database file at Path
//   - "memory": non-persistent maps
//
// An empty Driver means "memory".
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// SessionFilter selects session ids. Zero fields do not filter.
type SessionFilter struct {
	Status        string
	ExpiresBefore time.Time // inclusive: expires_at <= ExpiresBefore
	Limit         int
}

// AuditEntry records a state change made by a user or by the engine.
// Keep it compact and schema-stable.
type AuditEntry struct {
	At     time.Time
	Actor  string // user id, or "system"
	Action string
	Target string
	Detail string
}
