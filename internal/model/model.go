// Package model holds the persisted domain records shared by storage and the
// services built on it.
package model

import (
	"time"

	"skillswap/internal/slot"
)

type Status string

const (
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
	StatusExpired   Status = "expired"
)

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool { return s != StatusActive }

func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusCompleted, StatusCancelled, StatusExpired:
		return true
	}
	return false
}

// Session is an accepted swap: two participants meeting in a fixed list of
// canonical UTC weekly slots for DurationWeeks weeks.
//
// Participants[i] teaches Skills[i]. Slots and DurationWeeks never change
// after creation; the schedule is always re-derivable from them.
type Session struct {
	ID            string
	Participants  [2]string
	Skills        [2]string
	Slots         []slot.Slot
	DurationWeeks int
	ExpiresAt     time.Time
	Status        Status
	CreatedAt     time.Time
	UpdatedAt     time.Time
	Rooms         []MeetingRoom
}

func (s *Session) IsParticipant(userID string) bool {
	return userID != "" && (s.Participants[0] == userID || s.Participants[1] == userID)
}

// Room returns the meeting room for slotIndex, if one was issued.
func (s *Session) Room(slotIndex int) (MeetingRoom, bool) {
	for _, r := range s.Rooms {
		if r.SlotIndex == slotIndex {
			return r, true
		}
	}
	return MeetingRoom{}, false
}

// MeetingRoom addresses the video room for one slot of a session. Activation
// belongs to the video provider; the engine only records the address.
type MeetingRoom struct {
	SlotIndex int
	RoomID    string
	IsActive  bool
	CreatedAt time.Time
}

// AvailabilitySlot is one weekly window a user offers, kept both as entered
// and in canonical UTC form.
type AvailabilitySlot struct {
	ID        string
	Original  slot.Slot
	Canonical slot.Slot
}

// Availability is a user's full set of offered windows plus their timezone.
type Availability struct {
	UserID    string
	Timezone  string
	Slots     []AvailabilitySlot
	UpdatedAt time.Time
}

// Slot returns the availability slot with the given id.
func (a Availability) Slot(id string) (AvailabilitySlot, bool) {
	for _, s := range a.Slots {
		if s.ID == id {
			return s, true
		}
	}
	return AvailabilitySlot{}, false
}

// SwapRequest is an immutable proposal. Slots are copied from the recipient's
// availability at creation time.
type SwapRequest struct {
	ID             string
	RequesterID    string
	RecipientID    string
	OfferedSkill   string
	RequestedSkill string
	Slots          []slot.Slot
	DurationWeeks  int
	CreatedAt      time.Time
}
