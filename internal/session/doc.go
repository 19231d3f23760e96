// Package session owns the session lifecycle: creation with a computed
// expiry, status transitions, the periodic expiry sweep, boot rehydration and
// the meeting-access gate.
package session
