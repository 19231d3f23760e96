package notifier

import "time"

// Config controls the async notification pipeline.
type Config struct {
	Enabled         bool
	Workers         int
	QueueSize       int
	RatePerSec      int
	RetryMax        int
	RetryBase       time.Duration
	RetryMaxDelay   time.Duration
	SendTimeout     time.Duration
	DedupWindow     time.Duration
	DedupMaxEntries int
	PersistDedup    bool
}

// Notification is one message for one user.
type Notification struct {
	UserID string
	Text   string
	// Key identifies the logical message for dedup. Empty derives one from
	// UserID and Text.
	Key string
	// Kind prefixes the event types published for this notification, e.g.
	// "reminder" yields "reminder.sent". Empty uses "notifier".
	Kind string
	// NoRetry sends at most once; a failure is reported, not retried.
	NoRetry bool
}

type HistoryItem struct {
	At     time.Time
	UserID string
	Text   string
}

// NotificationEvent is the Data of notifier events on the bus.
type NotificationEvent struct {
	Kind   string    `json:"kind"`
	UserID string    `json:"user_id"`
	Key    string    `json:"key"`
	Sender string    `json:"sender"`
	At     time.Time `json:"at"`
	Error  string    `json:"error,omitempty"`
}
