package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"skillswap/internal/eventbus"
	"skillswap/internal/model"
	"skillswap/internal/slot"
	"skillswap/internal/storage"
	"skillswap/internal/task/engine"
	"skillswap/internal/task/scheduler"
	logx "skillswap/pkg/logx"
)

// ComputeExpiry returns the latest occurrence end any slot reaches within
// the first weeks weeks counted from now.
func ComputeExpiry(slots []slot.Slot, weeks int, now time.Time) time.Time {
	var latest time.Time
	if weeks < 1 {
		return latest
	}
	for _, s := range slots {
		// The last week dominates every earlier one for the same slot.
		end := slot.NthOccurrence(s, now, weeks-1).End
		if end.After(latest) {
			latest = end
		}
	}
	return latest
}

// Manager drives session creation and status transitions and keeps the
// expiry job and reminder triggers of every active session registered.
type Manager struct {
	cfg   Config
	store Store
	trig  Triggers
	rem   Reminders
	bus   eventbus.Bus
	log   logx.Logger

	now   func() time.Time
	newID func() string
}

type Option func(*Manager)

// WithClock overrides the wall clock, for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// WithIDGenerator overrides session id generation, for tests.
func WithIDGenerator(fn func() string) Option {
	return func(m *Manager) {
		if fn != nil {
			m.newID = fn
		}
	}
}

func NewManager(cfg Config, store Store, trig Triggers, rem Reminders, bus eventbus.Bus, log logx.Logger, opts ...Option) *Manager {
	if log.IsZero() {
		log = logx.Nop()
	}
	m := &Manager{
		cfg:   cfg.withDefaults(),
		store: store,
		trig:  trig,
		rem:   rem,
		bus:   bus,
		log:   log.With(logx.String("comp", "lifecycle")),
		now:   time.Now,
		newID: uuid.NewString,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Get loads a session.
func (m *Manager) Get(ctx context.Context, id string) (*model.Session, error) {
	s, err := m.store.GetSession(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return s, err
}

// CreateSession persists a new active session, arms its expiry job and
// registers its reminders. When the schedule cannot be registered the
// session is cancelled and the error returned.
func (m *Manager) CreateSession(ctx context.Context, n NewSession) (*model.Session, error) {
	if err := n.Validate(); err != nil {
		return nil, err
	}
	now := m.now().UTC()
	s := &model.Session{
		ID:            m.newID(),
		Participants:  n.Participants,
		Skills:        n.Skills,
		Slots:         append([]slot.Slot(nil), n.Slots...),
		DurationWeeks: n.DurationWeeks,
		ExpiresAt:     ComputeExpiry(n.Slots, n.DurationWeeks, now),
		Status:        model.StatusActive,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := m.store.CreateSession(ctx, s); err != nil {
		return nil, fmt.Errorf("persist session: %w", err)
	}

	if err := m.armExpiry(s); err != nil {
		m.abandon(ctx, s, err)
		return nil, fmt.Errorf("schedule expiry: %w", err)
	}
	if m.rem != nil {
		if err := m.rem.ScheduleReminders(ctx, s); err != nil {
			m.trig.Remove(ExpiryJobName(s.ID))
			m.rem.ClearReminders(s.ID)
			m.abandon(ctx, s, err)
			return nil, fmt.Errorf("schedule reminders: %w", err)
		}
	}

	m.audit(ctx, "system", "session.created", s.ID, s.ExpiresAt.Format(time.RFC3339))
	m.publish(eventbus.SessionCreated, eventbus.SessionEvent{SessionID: s.ID, To: string(s.Status), ExpiresAt: s.ExpiresAt})
	m.log.Info("session created",
		logx.String("session", s.ID),
		logx.Int("slots", len(s.Slots)),
		logx.Int("weeks", s.DurationWeeks),
		logx.Time("expires_at", s.ExpiresAt))
	return s, nil
}

// abandon cancels a session whose schedule could not be registered.
func (m *Manager) abandon(ctx context.Context, s *model.Session, cause error) {
	if _, err := m.store.TransitionSession(ctx, s.ID, model.StatusCancelled, m.now().UTC()); err != nil {
		m.log.Error("cancel unscheduled session failed", logx.String("session", s.ID), logx.Err(err))
		return
	}
	s.Status = model.StatusCancelled
	m.log.Warn("session cancelled: schedule registration failed", logx.String("session", s.ID), logx.Err(cause))
}

func (m *Manager) armExpiry(s *model.Session) error {
	id := s.ID
	_, err := m.trig.AddOnce(ExpiryJobName(id), s.ExpiresAt, m.cfg.ExpiryTimeout,
		scheduler.TaskOptions{Overlap: scheduler.OverlapSkipIfRunning},
		func(ctx context.Context) error {
			_, err := m.Transition(ctx, id, model.StatusCompleted)
			if errors.Is(err, ErrNotFound) {
				return engine.NoRetry(err)
			}
			return err
		})
	return err
}

// Transition moves an active session to a terminal status. It reports
// whether this call made the change; a session that is already terminal is
// left untouched and no side effects run.
func (m *Manager) Transition(ctx context.Context, id string, to model.Status) (bool, error) {
	if !to.Valid() || !to.Terminal() {
		return false, fmt.Errorf("%w: %q", ErrInvalidStatus, to)
	}
	changed, err := m.store.TransitionSession(ctx, id, to, m.now().UTC())
	if errors.Is(err, storage.ErrNotFound) {
		return false, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return false, fmt.Errorf("transition %s to %s: %w", id, to, err)
	}
	if !changed {
		m.log.Debug("transition skipped, session not active", logx.String("session", id), logx.String("to", string(to)))
		return false, nil
	}

	cleared := 0
	if m.rem != nil {
		cleared = m.rem.ClearReminders(id)
	}
	m.trig.Remove(ExpiryJobName(id))

	m.audit(ctx, "system", "session."+string(to), id, "")
	m.publish(eventbus.SessionTransitioned, eventbus.SessionEvent{SessionID: id, From: string(model.StatusActive), To: string(to)})
	m.log.Info("session transitioned",
		logx.String("session", id),
		logx.String("to", string(to)),
		logx.Int("reminders_cleared", cleared))
	return true, nil
}

// Cancel ends a session on behalf of one of its participants.
func (m *Manager) Cancel(ctx context.Context, id, userID string) (*model.Session, error) {
	s, err := m.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !s.IsParticipant(userID) {
		return nil, ErrForbidden
	}
	changed, err := m.Transition(ctx, id, model.StatusCancelled)
	if err != nil {
		return nil, err
	}
	if !changed {
		return nil, ErrSessionNotActive
	}
	m.audit(ctx, userID, "session.cancel", id, "")
	return m.Get(ctx, id)
}

// Sweep expires every active session whose expiry has passed. It is the
// backstop for expiry jobs that never ran. Per-session failures are logged
// and skipped.
func (m *Manager) Sweep(ctx context.Context) (int, error) {
	now := m.now().UTC()
	total := 0
	for {
		ids, err := m.store.ListSessionIDs(ctx, storage.SessionFilter{
			Status:        string(model.StatusActive),
			ExpiresBefore: now,
			Limit:         m.cfg.SweepBatch,
		})
		if err != nil {
			return total, fmt.Errorf("list overdue sessions: %w", err)
		}
		changedInBatch := 0
		for _, id := range ids {
			if ctx.Err() != nil {
				return total, ctx.Err()
			}
			changed, err := m.Transition(ctx, id, model.StatusExpired)
			if err != nil {
				m.log.Warn("sweep transition failed", logx.String("session", id), logx.Err(err))
				continue
			}
			if changed {
				changedInBatch++
				m.publish(eventbus.SessionSwept, eventbus.SessionEvent{SessionID: id, From: string(model.StatusActive), To: string(model.StatusExpired)})
			}
		}
		total += changedInBatch
		// A full batch with no progress would repeat forever.
		if len(ids) < m.cfg.SweepBatch || changedInBatch == 0 {
			break
		}
	}
	if total > 0 {
		m.log.Info("sweep expired sessions", logx.Int("count", total))
	}
	return total, nil
}

// RegisterSweep installs the periodic sweep on the trigger registry.
func (m *Manager) RegisterSweep() error {
	_, err := m.trig.AddInterval(SweepJobName, m.cfg.SweepInterval, m.cfg.SweepTimeout,
		scheduler.TaskOptions{Overlap: scheduler.OverlapSkipIfRunning},
		func(ctx context.Context) error {
			_, err := m.Sweep(ctx)
			return err
		})
	return err
}

// RehydrateReport summarizes a boot-time schedule rebuild.
type RehydrateReport struct {
	Active  int
	Armed   int
	Skipped int
}

// Rehydrate re-registers the expiry job and reminders of every active
// session from persisted records. Sessions that cannot be loaded or
// scheduled are logged and skipped.
func (m *Manager) Rehydrate(ctx context.Context) (RehydrateReport, error) {
	var rep RehydrateReport
	ids, err := m.store.ListSessionIDs(ctx, storage.SessionFilter{Status: string(model.StatusActive)})
	if err != nil {
		return rep, fmt.Errorf("list active sessions: %w", err)
	}
	rep.Active = len(ids)
	for _, id := range ids {
		if ctx.Err() != nil {
			return rep, ctx.Err()
		}
		s, err := m.store.GetSession(ctx, id)
		if err != nil {
			rep.Skipped++
			m.log.Error("rehydrate: load session failed", logx.String("session", id), logx.Err(err))
			continue
		}
		if s.Status != model.StatusActive {
			continue
		}
		if err := m.armExpiry(s); err != nil {
			rep.Skipped++
			m.log.Error("rehydrate: arm expiry failed", logx.String("session", id), logx.Err(err))
			continue
		}
		if m.rem != nil {
			if err := m.rem.ScheduleReminders(ctx, s); err != nil {
				m.log.Warn("rehydrate: some reminders not registered", logx.String("session", id), logx.Err(err))
			}
		}
		rep.Armed++
	}
	m.log.Info("schedule rehydrated",
		logx.Int("active", rep.Active),
		logx.Int("armed", rep.Armed),
		logx.Int("skipped", rep.Skipped))
	return rep, nil
}

func (m *Manager) audit(ctx context.Context, actor, action, target, detail string) {
	if err := m.store.AppendAudit(ctx, storage.AuditEntry{At: m.now().UTC(), Actor: actor, Action: action, Target: target, Detail: detail}); err != nil {
		m.log.Debug("audit append failed", logx.String("action", action), logx.Err(err))
	}
}

func (m *Manager) publish(typ string, data any) {
	if m.bus == nil {
		return
	}
	m.bus.Publish(eventbus.Event{Type: typ, Time: m.now(), Data: data})
}
