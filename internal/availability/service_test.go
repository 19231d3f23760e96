package availability

import (
	"context"
	"errors"
	"testing"
	"time"

	"skillswap/internal/slot"
	"skillswap/internal/storage"
	logx "skillswap/pkg/logx"
)

func newService(t *testing.T) *Service {
	t.Helper()
	s := New(storage.NewMemory(), logx.Nop())
	// 2024-01-10: no DST transitions nearby for the zones used here.
	s.now = func() time.Time { return time.Date(2024, 1, 10, 12, 0, 0, 0, time.UTC) }
	return s
}

func local(t *testing.T, in ...string) []slot.Slot {
	t.Helper()
	out := make([]slot.Slot, 0, len(in))
	for _, v := range in {
		s, err := slot.Parse(v)
		if err != nil {
			t.Fatal(err)
		}
		out = append(out, s)
	}
	return out
}

func TestUpdateCanonicalizes(t *testing.T) {
	t.Parallel()
	s := newService(t)
	a, err := s.Update(context.Background(), "alice", "Asia/Kolkata", local(t, "Monday 09:00-10:00", "Monday 02:00-03:00"))
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	want := []string{"Monday 03:30-04:30", "Sunday 20:30-21:30"}
	if len(a.Slots) != 2 {
		t.Fatalf("slots = %+v", a.Slots)
	}
	for i, w := range want {
		if got := a.Slots[i].Canonical.String(); got != w {
			t.Fatalf("slot %d canonical = %s, want %s", i, got, w)
		}
		if a.Slots[i].ID == "" {
			t.Fatalf("slot %d has no id", i)
		}
	}
}

func TestUpdateErrors(t *testing.T) {
	t.Parallel()
	s := newService(t)
	ctx := context.Background()
	if _, err := s.Update(ctx, "alice", "Mars/Olympus", local(t, "Monday 09:00-10:00")); !errors.Is(err, slot.ErrInvalidTimezone) {
		t.Fatalf("bad tz err = %v", err)
	}
	bad := []slot.Slot{{Day: 1, Start: 600, End: 540}}
	if _, err := s.Update(ctx, "alice", "UTC", bad); !errors.Is(err, slot.ErrInvalidSlot) {
		t.Fatalf("bad slot err = %v", err)
	}
}

func TestGetRendersInRequestedZone(t *testing.T) {
	t.Parallel()
	s := newService(t)
	ctx := context.Background()
	if _, err := s.Update(ctx, "alice", "America/New_York", local(t, "Friday 18:00-19:00")); err != nil {
		t.Fatal(err)
	}
	v, err := s.Get(ctx, "alice", "")
	if err != nil {
		t.Fatal(err)
	}
	if v.Timezone != "America/New_York" || v.Slots[0].Local.String() != "Friday 18:00-19:00" || v.Slots[0].Canonical.String() != "Friday 23:00-00:00" {
		t.Fatalf("owner view = %+v", v)
	}
	v, err = s.Get(ctx, "alice", "Europe/Berlin")
	if err != nil {
		t.Fatal(err)
	}
	if got := v.Slots[0].Local.String(); got != "Saturday 00:00-01:00" {
		t.Fatalf("Berlin view = %s", got)
	}
	if _, err := s.Get(ctx, "alice", "Nowhere/City"); !errors.Is(err, slot.ErrInvalidTimezone) {
		t.Fatalf("bad tz err = %v", err)
	}
	empty, err := s.Get(ctx, "nobody", "")
	if err != nil || len(empty.Slots) != 0 {
		t.Fatalf("unknown user view = %+v, %v", empty, err)
	}
}

func TestResolveSlots(t *testing.T) {
	t.Parallel()
	s := newService(t)
	ctx := context.Background()
	a, err := s.Update(ctx, "bob", "UTC", local(t, "Monday 09:00-10:00", "Tuesday 09:00-10:00"))
	if err != nil {
		t.Fatal(err)
	}
	got, err := s.ResolveSlots(ctx, "bob", []string{a.Slots[1].ID, a.Slots[0].ID})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].Day != time.Tuesday || got[1].Day != time.Monday {
		t.Fatalf("ResolveSlots = %v", got)
	}
	if _, err := s.ResolveSlots(ctx, "bob", []string{"gone"}); !errors.Is(err, ErrSlotNotFound) {
		t.Fatalf("missing id err = %v", err)
	}
	if _, err := s.ResolveSlots(ctx, "carol", []string{"x"}); !errors.Is(err, ErrSlotNotFound) {
		t.Fatalf("unknown user err = %v", err)
	}
}
