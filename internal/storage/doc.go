// Package storage persists sessions, meeting rooms, availability, swap
// requests and notifier dedup state.
//
// Two drivers are available:
//   - "sqlite": a SQLite database file (modernc.org/sqlite, pure Go)
//   - "memory": process-local maps, for tests and ephemeral runs
//
// Session status changes go through TransitionSession, a conditional update
// that only succeeds while the row is still active. Callers rely on that to
// make expiry, sweep and cancel race-free without extra locking.
package storage
