package eventbus

import "time"

// Event types published by the engine.
const (
	SessionCreated      = "session.created"
	SessionTransitioned = "session.transitioned"
	SessionSwept        = "session.swept"

	ReminderFired   = "reminder.fired"
	ReminderSkipped = "reminder.skipped"
	ReminderSent    = "reminder.sent"
	ReminderFailed  = "reminder.failed"

	AccessGranted = "access.granted"
	AccessDenied  = "access.denied"

	TaskFailed = "task.failed"
	TaskPanic  = "task.panic"
)

type SessionEvent struct {
	SessionID string
	From      string
	To        string
	ExpiresAt time.Time
}

type ReminderEvent struct {
	SessionID string
	SlotIndex int
	UserID    string
	Reason    string
}

type AccessEvent struct {
	SessionID string
	SlotIndex int
	UserID    string
	Reason    string
}

type TaskEvent struct {
	Name    string
	Attempt int
	Err     string
}
