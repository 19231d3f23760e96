package session

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"skillswap/internal/eventbus"
	"skillswap/internal/model"
	"skillswap/internal/slot"
	"skillswap/internal/storage"
	logx "skillswap/pkg/logx"
)

// Grace widens each occurrence on both sides for room access.
const Grace = 5 * time.Minute

// roomNamespace scopes UUIDv5 room ids. Changing it changes every room id.
var roomNamespace = uuid.MustParse("8b0f3c52-6a0e-5d8e-9f21-4f3b7a1c2d90")

// RoomID derives the stable room id for a session slot.
func RoomID(sessionID string, slotIndex int) string {
	return uuid.NewSHA1(roomNamespace, []byte(sessionID+":"+strconv.Itoa(slotIndex))).String()
}

// IsAccessible reports whether slot slotIndex of s is joinable at now.
func IsAccessible(s *model.Session, slotIndex int, now time.Time) bool {
	_, err := accessWindow(s, slotIndex, now)
	return err == nil
}

// accessWindow resolves the occurrence relevant at now. The resolver is
// asked from now-Grace so an occurrence that ended less than Grace ago is
// still the current one.
func accessWindow(s *model.Session, slotIndex int, now time.Time) (slot.Occurrence, error) {
	if s == nil || s.Status != model.StatusActive {
		return slot.Occurrence{}, ErrSessionNotActive
	}
	if slotIndex < 0 || slotIndex >= len(s.Slots) {
		return slot.Occurrence{}, fmt.Errorf("%w: %d of %d", ErrInvalidSlotIndex, slotIndex, len(s.Slots))
	}
	occ := slot.NextOccurrence(s.Slots[slotIndex], now.Add(-Grace))
	if !occ.Contains(now, Grace) {
		return occ, ErrNotInWindow
	}
	return occ, nil
}

// Access is a granted room access.
type Access struct {
	RoomID       string
	WindowStart  time.Time
	WindowEnd    time.Time
	Participants [2]string
}

// Gate issues meeting-room access.
type Gate struct {
	store Store
	bus   eventbus.Bus
	log   logx.Logger
}

func NewGate(store Store, bus eventbus.Bus, log logx.Logger) *Gate {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Gate{store: store, bus: bus, log: log.With(logx.String("comp", "gate"))}
}

// RequestAccess checks userID against the session and, inside the window,
// returns the room for the slot. The room record is created on first access.
func (g *Gate) RequestAccess(ctx context.Context, sessionID string, slotIndex int, userID string, now time.Time) (Access, error) {
	acc, err := g.requestAccess(ctx, sessionID, slotIndex, userID, now)
	if g.bus != nil {
		ev := eventbus.AccessEvent{SessionID: sessionID, SlotIndex: slotIndex, UserID: userID}
		typ := eventbus.AccessGranted
		if err != nil {
			typ = eventbus.AccessDenied
			ev.Reason = Reason(err)
		}
		if err == nil || ev.Reason != "" {
			g.bus.Publish(eventbus.Event{Type: typ, Time: now, Data: ev})
		}
	}
	return acc, err
}

func (g *Gate) requestAccess(ctx context.Context, sessionID string, slotIndex int, userID string, now time.Time) (Access, error) {
	s, err := g.store.GetSession(ctx, sessionID)
	if errors.Is(err, storage.ErrNotFound) {
		return Access{}, fmt.Errorf("%w: %s", ErrNotFound, sessionID)
	}
	if err != nil {
		return Access{}, err
	}
	if !s.IsParticipant(userID) {
		return Access{}, ErrForbidden
	}
	occ, err := accessWindow(s, slotIndex, now)
	if err != nil {
		return Access{}, err
	}

	room, err := g.store.EnsureRoom(ctx, s.ID, model.MeetingRoom{
		SlotIndex: slotIndex,
		RoomID:    RoomID(s.ID, slotIndex),
		CreatedAt: now.UTC(),
	})
	if err != nil {
		return Access{}, fmt.Errorf("ensure room: %w", err)
	}
	g.log.Debug("access granted",
		logx.String("session", s.ID), logx.Int("slot", slotIndex),
		logx.String("user", userID), logx.String("room", room.RoomID))
	return Access{
		RoomID:       room.RoomID,
		WindowStart:  occ.Start,
		WindowEnd:    occ.End,
		Participants: s.Participants,
	}, nil
}
