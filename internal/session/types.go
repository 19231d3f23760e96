package session

import (
	"context"
	"fmt"
	"strings"
	"time"

	"skillswap/internal/model"
	"skillswap/internal/slot"
	"skillswap/internal/storage"
	"skillswap/internal/task/scheduler"
)

// Store is the subset of storage the session package needs.
type Store interface {
	CreateSession(ctx context.Context, s *model.Session) error
	GetSession(ctx context.Context, id string) (*model.Session, error)
	ListSessionIDs(ctx context.Context, f storage.SessionFilter) ([]string, error)
	TransitionSession(ctx context.Context, id string, to model.Status, at time.Time) (bool, error)
	EnsureRoom(ctx context.Context, sessionID string, room model.MeetingRoom) (model.MeetingRoom, error)
	AppendAudit(ctx context.Context, e storage.AuditEntry) error
}

// Triggers is the trigger registry used for expiry jobs and the sweep.
type Triggers interface {
	AddOnce(name string, at time.Time, timeout time.Duration, opt scheduler.TaskOptions, job scheduler.Job) (string, error)
	AddInterval(name string, every, timeout time.Duration, opt scheduler.TaskOptions, job scheduler.Job) (string, error)
	Remove(name string) bool
}

// Reminders registers and retires the weekly reminder triggers of a session.
type Reminders interface {
	ScheduleReminders(ctx context.Context, s *model.Session) error
	ClearReminders(sessionID string) int
}

// NewSession is the input to Manager.CreateSession. Slots are canonical UTC.
type NewSession struct {
	Participants  [2]string
	Skills        [2]string
	Slots         []slot.Slot
	DurationWeeks int
}

func (n NewSession) Validate() error {
	for i, p := range n.Participants {
		if strings.TrimSpace(p) == "" {
			return fmt.Errorf("%w: participant %d is empty", ErrInvalidSession, i)
		}
	}
	if n.Participants[0] == n.Participants[1] {
		return fmt.Errorf("%w: participants must differ", ErrInvalidSession)
	}
	for i, s := range n.Skills {
		if strings.TrimSpace(s) == "" {
			return fmt.Errorf("%w: skill %d is empty", ErrInvalidSession, i)
		}
	}
	if len(n.Slots) == 0 {
		return fmt.Errorf("%w: no slots", ErrInvalidSession)
	}
	for i, s := range n.Slots {
		if err := s.ValidateCanonical(); err != nil {
			return fmt.Errorf("slot %d: %w", i, err)
		}
	}
	if n.DurationWeeks < 1 {
		return fmt.Errorf("%w: duration_weeks must be at least 1, got %d", ErrInvalidSession, n.DurationWeeks)
	}
	return nil
}

// Config tunes the lifecycle manager.
type Config struct {
	SweepInterval time.Duration
	SweepBatch    int
	SweepTimeout  time.Duration
	ExpiryTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.SweepInterval <= 0 {
		c.SweepInterval = time.Minute
	}
	if c.SweepBatch <= 0 {
		c.SweepBatch = 200
	}
	if c.SweepTimeout <= 0 {
		c.SweepTimeout = 30 * time.Second
	}
	if c.ExpiryTimeout <= 0 {
		c.ExpiryTimeout = 10 * time.Second
	}
	return c
}

// Job names in the trigger registry.
const SweepJobName = "lifecycle:sweep"

func ExpiryJobName(sessionID string) string { return "expire:" + sessionID }
