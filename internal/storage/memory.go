package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"skillswap/internal/model"
	"skillswap/internal/slot"
)

type memoryStore struct {
	mu       sync.Mutex
	closed   bool
	sessions map[string]*model.Session
	avail    map[string]model.Availability
	requests map[string]*model.SwapRequest
	dedup    map[string]time.Time
	audit    []AuditEntry
}

// NewMemory returns a non-persistent Store. Values are deep-copied on the
// way in and out so callers never share state with the store.
func NewMemory() Store {
	return &memoryStore{
		sessions: make(map[string]*model.Session),
		avail:    make(map[string]model.Availability),
		requests: make(map[string]*model.SwapRequest),
		dedup:    make(map[string]time.Time),
	}
}

func (m *memoryStore) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

func (m *memoryStore) CreateSession(_ context.Context, s *model.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if _, ok := m.sessions[s.ID]; ok {
		return fmt.Errorf("session %s: %w", s.ID, ErrConflict)
	}
	m.sessions[s.ID] = cloneSession(s)
	return nil
}

func (m *memoryStore) GetSession(_ context.Context, id string) (*model.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	s, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	return cloneSession(s), nil
}

func (m *memoryStore) ListSessionIDs(_ context.Context, f SessionFilter) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	matched := make([]*model.Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		if f.Status != "" && string(s.Status) != f.Status {
			continue
		}
		if !f.ExpiresBefore.IsZero() && s.ExpiresAt.After(f.ExpiresBefore) {
			continue
		}
		matched = append(matched, s)
	}
	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].ExpiresAt.Equal(matched[j].ExpiresAt) {
			return matched[i].ExpiresAt.Before(matched[j].ExpiresAt)
		}
		return matched[i].ID < matched[j].ID
	})
	if f.Limit > 0 && len(matched) > f.Limit {
		matched = matched[:f.Limit]
	}
	ids := make([]string, len(matched))
	for i, s := range matched {
		ids[i] = s.ID
	}
	return ids, nil
}

func (m *memoryStore) TransitionSession(_ context.Context, id string, to model.Status, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return false, ErrClosed
	}
	s, ok := m.sessions[id]
	if !ok {
		return false, fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	if s.Status != model.StatusActive {
		return false, nil
	}
	s.Status = to
	s.UpdatedAt = at
	return true, nil
}

func (m *memoryStore) EnsureRoom(_ context.Context, sessionID string, room model.MeetingRoom) (model.MeetingRoom, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return model.MeetingRoom{}, ErrClosed
	}
	s, ok := m.sessions[sessionID]
	if !ok {
		return model.MeetingRoom{}, fmt.Errorf("session %s: %w", sessionID, ErrNotFound)
	}
	if r, ok := s.Room(room.SlotIndex); ok {
		return r, nil
	}
	s.Rooms = append(s.Rooms, room)
	sort.Slice(s.Rooms, func(i, j int) bool { return s.Rooms[i].SlotIndex < s.Rooms[j].SlotIndex })
	return room, nil
}

func (m *memoryStore) ReplaceAvailability(_ context.Context, a model.Availability) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	for uid, other := range m.avail {
		if uid == a.UserID {
			continue
		}
		for _, as := range a.Slots {
			if _, dup := other.Slot(as.ID); dup {
				return fmt.Errorf("availability slot %s: %w", as.ID, ErrConflict)
			}
		}
	}
	a.Slots = append([]model.AvailabilitySlot(nil), a.Slots...)
	m.avail[a.UserID] = a
	return nil
}

func (m *memoryStore) GetAvailability(_ context.Context, userID string) (model.Availability, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return model.Availability{}, ErrClosed
	}
	a, ok := m.avail[userID]
	if !ok {
		return model.Availability{}, fmt.Errorf("availability %s: %w", userID, ErrNotFound)
	}
	a.Slots = append([]model.AvailabilitySlot(nil), a.Slots...)
	return a, nil
}

func (m *memoryStore) CreateSwapRequest(_ context.Context, r *model.SwapRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if _, ok := m.requests[r.ID]; ok {
		return fmt.Errorf("swap request %s: %w", r.ID, ErrConflict)
	}
	cp := *r
	cp.Slots = append([]slot.Slot(nil), r.Slots...)
	m.requests[r.ID] = &cp
	return nil
}

func (m *memoryStore) GetSwapRequest(_ context.Context, id string) (*model.SwapRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	r, ok := m.requests[id]
	if !ok {
		return nil, fmt.Errorf("swap request %s: %w", id, ErrNotFound)
	}
	cp := *r
	cp.Slots = append([]slot.Slot(nil), r.Slots...)
	return &cp, nil
}

func (m *memoryStore) DeleteSwapRequest(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return false, ErrClosed
	}
	if _, ok := m.requests[id]; !ok {
		return false, nil
	}
	delete(m.requests, id)
	return true, nil
}

func (m *memoryStore) AppendAudit(_ context.Context, e AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}
	m.audit = append(m.audit, e)
	// Keep memory bounded.
	if len(m.audit) > 4096 {
		m.audit = append([]AuditEntry(nil), m.audit[len(m.audit)-2048:]...)
	}
	return nil
}

func (m *memoryStore) PutDedup(_ context.Context, key string, until time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if key == "" {
		return nil
	}
	m.dedup[key] = until
	if len(m.dedup)%500 == 0 {
		now := time.Now()
		for k, u := range m.dedup {
			if u.Before(now) {
				delete(m.dedup, k)
			}
		}
	}
	return nil
}

func (m *memoryStore) GetDedup(_ context.Context, key string) (time.Time, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return time.Time{}, false, ErrClosed
	}
	u, ok := m.dedup[key]
	return u, ok, nil
}

func cloneSession(s *model.Session) *model.Session {
	cp := *s
	cp.Slots = append([]slot.Slot(nil), s.Slots...)
	cp.Rooms = append([]model.MeetingRoom(nil), s.Rooms...)
	return &cp
}
