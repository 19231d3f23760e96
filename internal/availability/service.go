// Package availability stores each user's weekly availability in canonical
// UTC form and renders it back in any timezone.
package availability

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"skillswap/internal/model"
	"skillswap/internal/slot"
	"skillswap/internal/storage"
	logx "skillswap/pkg/logx"
)

var ErrSlotNotFound = errors.New("availability slot not found")

type Store interface {
	ReplaceAvailability(ctx context.Context, a model.Availability) error
	GetAvailability(ctx context.Context, userID string) (model.Availability, error)
}

type Service struct {
	store Store
	log   logx.Logger
	now   func() time.Time
}

func New(store Store, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{store: store, log: log.With(logx.String("comp", "availability")), now: time.Now}
}

// Update replaces userID's availability. Local slots are interpreted in tz
// for the current week and stored alongside their canonical form.
func (s *Service) Update(ctx context.Context, userID, tz string, local []slot.Slot) (model.Availability, error) {
	if _, err := slot.LoadLocation(tz); err != nil {
		return model.Availability{}, err
	}
	now := s.now().UTC()
	out := model.Availability{UserID: userID, Timezone: tz, UpdatedAt: now}
	for i, l := range local {
		c, err := slot.ToCanonical(l, tz, now)
		if err != nil {
			return model.Availability{}, fmt.Errorf("slot %d: %w", i, err)
		}
		out.Slots = append(out.Slots, model.AvailabilitySlot{ID: uuid.NewString(), Original: l, Canonical: c})
	}
	if err := s.store.ReplaceAvailability(ctx, out); err != nil {
		return model.Availability{}, fmt.Errorf("store availability: %w", err)
	}
	s.log.Info("availability updated", logx.String("user", userID), logx.String("tz", tz), logx.Int("slots", len(out.Slots)))
	return out, nil
}

// ViewSlot is one availability slot as shown to a reader.
type ViewSlot struct {
	ID        string
	Canonical slot.Slot
	Local     slot.Slot
}

// View is a user's availability rendered in Timezone.
type View struct {
	UserID   string
	Timezone string
	Slots    []ViewSlot
}

// Get renders userID's availability. An empty tz renders in the owner's
// timezone. Unknown users have an empty availability.
func (s *Service) Get(ctx context.Context, userID, tz string) (View, error) {
	a, err := s.store.GetAvailability(ctx, userID)
	if errors.Is(err, storage.ErrNotFound) {
		if tz == "" {
			tz = "UTC"
		}
		if _, err := slot.LoadLocation(tz); err != nil {
			return View{}, err
		}
		return View{UserID: userID, Timezone: tz}, nil
	}
	if err != nil {
		return View{}, err
	}
	if tz == "" {
		tz = a.Timezone
	}
	if _, err := slot.LoadLocation(tz); err != nil {
		return View{}, err
	}
	now := s.now().UTC()
	v := View{UserID: userID, Timezone: tz, Slots: make([]ViewSlot, 0, len(a.Slots))}
	for _, as := range a.Slots {
		// The local form may wrap midnight when tz differs from the owner's.
		local, err := slot.ToLocal(as.Canonical, tz, now)
		if err != nil {
			return View{}, fmt.Errorf("slot %s: %w", as.ID, err)
		}
		v.Slots = append(v.Slots, ViewSlot{ID: as.ID, Canonical: as.Canonical, Local: local})
	}
	return v, nil
}

// ResolveSlots returns the canonical slots with the given ids from userID's
// availability, in the order requested.
func (s *Service) ResolveSlots(ctx context.Context, userID string, ids []string) ([]slot.Slot, error) {
	a, err := s.store.GetAvailability(ctx, userID)
	if errors.Is(err, storage.ErrNotFound) {
		if len(ids) == 0 {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %s", ErrSlotNotFound, ids[0])
	}
	if err != nil {
		return nil, err
	}
	out := make([]slot.Slot, 0, len(ids))
	for _, id := range ids {
		as, ok := a.Slot(id)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrSlotNotFound, id)
		}
		out = append(out, as.Canonical)
	}
	return out, nil
}
