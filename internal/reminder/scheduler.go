package reminder

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"text/template"
	"time"

	"skillswap/internal/eventbus"
	"skillswap/internal/model"
	"skillswap/internal/notifier"
	"skillswap/internal/slot"
	"skillswap/internal/storage"
	"skillswap/internal/task/engine"
	"skillswap/internal/task/scheduler"
	logx "skillswap/pkg/logx"
)

// Lead is how long before an occurrence start its reminder fires.
const Lead = 5 * time.Minute

const DefaultTemplate = `Reminder: your skill swap with {{.Partner}} ({{.Teach}} for {{.Learn}}) starts at {{.Start.Format "Mon 15:04"}} UTC.`

// Config controls reminder registration and rendering.
type Config struct {
	Enabled    bool
	JobTimeout time.Duration
	Template   string
}

// Registry is the recurring-trigger registry reminders are installed on.
type Registry interface {
	AddWeekly(name string, weekday time.Weekday, hour, minute int, loc *time.Location, timeout time.Duration, opt scheduler.TaskOptions, job scheduler.Job) (string, error)
	RemovePrefix(prefix string) int
	Names(prefix string) []string
}

// SessionSource loads a session by id.
type SessionSource interface {
	GetSession(ctx context.Context, id string) (*model.Session, error)
}

// Notifier queues a notification without waiting for delivery.
type Notifier interface {
	Notify(ctx context.Context, n notifier.Notification) error
}

// Scheduler owns the reminder triggers of every active session.
type Scheduler struct {
	cfg      Config
	tmpl     *template.Template
	reg      Registry
	sessions SessionSource
	notify   Notifier
	bus      eventbus.Bus
	log      logx.Logger
	now      func() time.Time

	locks keyedMutex
}

type Option func(*Scheduler)

func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) {
		if now != nil {
			s.now = now
		}
	}
}

func New(cfg Config, reg Registry, sessions SessionSource, notify Notifier, bus eventbus.Bus, log logx.Logger, opts ...Option) (*Scheduler, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = 10 * time.Second
	}
	if strings.TrimSpace(cfg.Template) == "" {
		cfg.Template = DefaultTemplate
	}
	tmpl, err := template.New("reminder").Parse(cfg.Template)
	if err != nil {
		return nil, fmt.Errorf("parse reminder template: %w", err)
	}
	s := &Scheduler{
		cfg:      cfg,
		tmpl:     tmpl,
		reg:      reg,
		sessions: sessions,
		notify:   notify,
		bus:      bus,
		log:      log.With(logx.String("comp", "reminder")),
		now:      time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// JobName is the trigger name for one slot of a session.
func JobName(sessionID string, slotIndex int) string {
	return prefix(sessionID) + strconv.Itoa(slotIndex)
}

func prefix(sessionID string) string { return "reminder:" + sessionID + ":" }

// TriggerTime returns the weekly UTC weekday and time of day at which the
// reminder for canonical slot s fires.
func TriggerTime(s slot.Slot) (time.Weekday, int, int) {
	const week = 7 * 24 * 60
	m := int(s.Day)*24*60 + int(s.Start) - int(Lead/time.Minute)
	m = ((m % week) + week) % week
	return time.Weekday(m / (24 * 60)), (m % (24 * 60)) / 60, m % 60
}

// ScheduleReminders replaces the triggers of s with one per current slot.
// Sessions that are inactive, either in s or in the store, end up with none.
// A slot that cannot be registered is logged and skipped; the joined errors
// are returned.
func (r *Scheduler) ScheduleReminders(ctx context.Context, s *model.Session) error {
	if s == nil {
		return nil
	}
	unlock := r.locks.Lock(s.ID)
	defer unlock()

	cleared := r.reg.RemovePrefix(prefix(s.ID))
	if !r.cfg.Enabled || s.Status != model.StatusActive {
		return nil
	}
	// Status is re-read under the lock; s may predate a transition.
	cur, err := r.sessions.GetSession(ctx, s.ID)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		r.log.Debug("reminders not scheduled", logx.String("session", s.ID), logx.String("reason", "session-not-found"))
		return nil
	case err != nil:
		return fmt.Errorf("load session %s: %w", s.ID, err)
	case cur.Status != model.StatusActive:
		r.log.Debug("reminders not scheduled", logx.String("session", s.ID), logx.String("reason", "session-"+string(cur.Status)))
		return nil
	}

	var errs []error
	registered := 0
	for i, sl := range s.Slots {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		if err := sl.ValidateCanonical(); err != nil {
			r.log.Warn("skipping invalid slot", logx.String("session", s.ID), logx.Int("slot", i), logx.Err(err))
			errs = append(errs, fmt.Errorf("slot %d: %w", i, err))
			continue
		}
		day, hour, minute := TriggerTime(sl)
		_, err := r.reg.AddWeekly(JobName(s.ID, i), day, hour, minute, time.UTC, r.cfg.JobTimeout,
			scheduler.TaskOptions{Overlap: scheduler.OverlapSkipIfRunning, RetryMax: -1},
			r.fireJob(s.ID, i))
		if err != nil {
			r.log.Warn("reminder registration failed", logx.String("session", s.ID), logx.Int("slot", i), logx.Err(err))
			errs = append(errs, fmt.Errorf("slot %d: %w", i, err))
			continue
		}
		registered++
	}
	r.log.Debug("reminders scheduled",
		logx.String("session", s.ID),
		logx.Int("cleared", cleared),
		logx.Int("registered", registered))
	return errors.Join(errs...)
}

// ClearReminders removes every trigger of the session and returns how many
// were removed.
func (r *Scheduler) ClearReminders(sessionID string) int {
	unlock := r.locks.Lock(sessionID)
	defer unlock()
	return r.reg.RemovePrefix(prefix(sessionID))
}

// Registered counts the reminder triggers currently installed.
func (r *Scheduler) Registered() int { return len(r.reg.Names("reminder:")) }

func (r *Scheduler) fireJob(sessionID string, slotIndex int) scheduler.Job {
	return func(ctx context.Context) error { return r.Fire(ctx, sessionID, slotIndex) }
}

// Fire delivers the reminder for one slot. The session is loaded fresh and
// nothing is sent unless it is still active. Errors are not retried; the
// next weekly fire is the retry.
func (r *Scheduler) Fire(ctx context.Context, sessionID string, slotIndex int) error {
	now := r.now().UTC()
	s, err := r.sessions.GetSession(ctx, sessionID)
	if errors.Is(err, storage.ErrNotFound) {
		r.skip(sessionID, slotIndex, "session-not-found")
		return nil
	}
	if err != nil {
		r.log.Warn("reminder lookup failed", logx.String("session", sessionID), logx.Int("slot", slotIndex), logx.Err(err))
		r.publish(eventbus.ReminderFailed, eventbus.ReminderEvent{SessionID: sessionID, SlotIndex: slotIndex, Reason: "lookup"})
		return engine.NoRetry(err)
	}
	if s.Status != model.StatusActive {
		r.skip(sessionID, slotIndex, "session-"+string(s.Status))
		return nil
	}
	if slotIndex < 0 || slotIndex >= len(s.Slots) {
		r.skip(sessionID, slotIndex, "slot-removed")
		return nil
	}

	occ := slot.NextOccurrence(s.Slots[slotIndex], now)
	r.publish(eventbus.ReminderFired, eventbus.ReminderEvent{SessionID: s.ID, SlotIndex: slotIndex})

	var errs []error
	for i, user := range s.Participants {
		partner := s.Participants[1-i]
		text, err := r.render(templateData{
			SessionID: s.ID,
			SlotIndex: slotIndex,
			UserID:    user,
			Partner:   partner,
			Teach:     s.Skills[i],
			Learn:     s.Skills[1-i],
			Start:     occ.Start,
			End:       occ.End,
		})
		if err != nil {
			errs = append(errs, err)
			continue
		}
		n := notifier.Notification{
			UserID:  user,
			Text:    text,
			Key:     fmt.Sprintf("%s%d:%s:%s", prefix(s.ID), slotIndex, occ.Start.Format("2006-01-02"), user),
			Kind:    "reminder",
			NoRetry: true,
		}
		if err := r.notify.Notify(ctx, n); err != nil {
			r.log.Warn("reminder enqueue failed", logx.String("session", s.ID), logx.Int("slot", slotIndex), logx.String("user", user), logx.Err(err))
			r.publish(eventbus.ReminderFailed, eventbus.ReminderEvent{SessionID: s.ID, SlotIndex: slotIndex, UserID: user, Reason: err.Error()})
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return engine.NoRetry(err)
	}
	return nil
}

type templateData struct {
	SessionID string
	SlotIndex int
	UserID    string
	Partner   string
	Teach     string
	Learn     string
	Start     time.Time
	End       time.Time
}

func (r *Scheduler) render(d templateData) (string, error) {
	var b bytes.Buffer
	if err := r.tmpl.Execute(&b, d); err != nil {
		return "", fmt.Errorf("render reminder: %w", err)
	}
	return b.String(), nil
}

func (r *Scheduler) skip(sessionID string, slotIndex int, reason string) {
	r.log.Debug("reminder skipped", logx.String("session", sessionID), logx.Int("slot", slotIndex), logx.String("reason", reason))
	r.publish(eventbus.ReminderSkipped, eventbus.ReminderEvent{SessionID: sessionID, SlotIndex: slotIndex, Reason: reason})
}

func (r *Scheduler) publish(typ string, ev eventbus.ReminderEvent) {
	if r.bus == nil {
		return
	}
	r.bus.Publish(eventbus.Event{Type: typ, Time: r.now(), Data: ev})
}
