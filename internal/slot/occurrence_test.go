package slot

import (
	"math/rand"
	"testing"
	"time"
)

func utc(y int, m time.Month, d, h, min int) time.Time {
	return time.Date(y, m, d, h, min, 0, 0, time.UTC)
}

func TestNextOccurrenceExamples(t *testing.T) {
	t.Parallel()
	monday := Slot{Day: time.Monday, Start: 14 * 60, End: 15 * 60}
	// 2024-05-15 is a Wednesday; 2024-05-20 the following Monday.
	tests := []struct {
		name      string
		slot      Slot
		from      time.Time
		wantStart time.Time
	}{
		{name: "later this week", slot: monday, from: utc(2024, 5, 15, 10, 0), wantStart: utc(2024, 5, 20, 14, 0)},
		{name: "same day before start", slot: monday, from: utc(2024, 5, 20, 9, 0), wantStart: utc(2024, 5, 20, 14, 0)},
		{name: "exactly at start", slot: monday, from: utc(2024, 5, 20, 14, 0), wantStart: utc(2024, 5, 20, 14, 0)},
		{name: "in progress", slot: monday, from: utc(2024, 5, 20, 14, 30), wantStart: utc(2024, 5, 20, 14, 0)},
		{name: "exactly at end", slot: monday, from: utc(2024, 5, 20, 15, 0), wantStart: utc(2024, 5, 20, 14, 0)},
		{name: "just after end rolls over", slot: monday, from: utc(2024, 5, 20, 15, 0).Add(time.Second), wantStart: utc(2024, 5, 27, 14, 0)},
		{name: "non utc input", slot: monday, from: time.Date(2024, 5, 20, 23, 0, 0, 0, time.FixedZone("X", 9*3600)), wantStart: utc(2024, 5, 20, 14, 0)},
		{name: "wrap still running", slot: Slot{Day: time.Sunday, Start: 23 * 60, End: 60}, from: utc(2024, 5, 20, 0, 30), wantStart: utc(2024, 5, 19, 23, 0)},
		{name: "wrap finished", slot: Slot{Day: time.Sunday, Start: 23 * 60, End: 60}, from: utc(2024, 5, 20, 1, 1), wantStart: utc(2024, 5, 26, 23, 0)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := NextOccurrence(tt.slot, tt.from)
			if !got.Start.Equal(tt.wantStart) {
				t.Fatalf("Start = %v, want %v", got.Start, tt.wantStart)
			}
			if got.End.Sub(got.Start) != tt.slot.Duration() {
				t.Fatalf("End-Start = %v, want %v", got.End.Sub(got.Start), tt.slot.Duration())
			}
		})
	}
}

func randomSlot(rng *rand.Rand) Slot {
	start := rng.Intn(minutesPerDay)
	end := rng.Intn(minutesPerDay)
	if end == start {
		end = (start + 1) % minutesPerDay
	}
	return Slot{Day: time.Weekday(rng.Intn(7)), Start: Clock(start), End: Clock(end)}
}

func TestNextOccurrenceProperties(t *testing.T) {
	t.Parallel()
	rng := rand.New(rand.NewSource(42))
	base := utc(2024, 1, 1, 0, 0)
	for i := 0; i < 5000; i++ {
		s := randomSlot(rng)
		from := base.Add(time.Duration(rng.Int63n(int64(400 * 24 * time.Hour))))
		occ := NextOccurrence(s, from)

		if occ.End.Before(from) {
			t.Fatalf("%s from %v: end %v is in the past", s, from, occ.End)
		}
		if occ.Start.Weekday() != s.Day {
			t.Fatalf("%s from %v: start weekday %v", s, from, occ.Start.Weekday())
		}
		if occ.Start.Sub(from) > week {
			t.Fatalf("%s from %v: start %v more than a week ahead", s, from, occ.Start)
		}

		later := from.Add(time.Duration(rng.Int63n(int64(week))))
		if NextOccurrence(s, later).Start.Before(occ.Start) {
			t.Fatalf("%s: not monotonic between %v and %v", s, from, later)
		}
	}
}

func TestNthOccurrence(t *testing.T) {
	t.Parallel()
	s := Slot{Day: time.Monday, Start: 14 * 60, End: 15 * 60}
	got := NthOccurrence(s, utc(2024, 5, 15, 10, 0), 1)
	if !got.End.Equal(utc(2024, 5, 27, 15, 0)) {
		t.Fatalf("End = %v", got.End)
	}
}

func TestOccurrenceContains(t *testing.T) {
	t.Parallel()
	o := Occurrence{Start: utc(2024, 5, 20, 14, 0), End: utc(2024, 5, 20, 15, 0)}
	grace := 5 * time.Minute
	tests := []struct {
		at   time.Time
		want bool
	}{
		{o.Start, true},
		{o.Start.Add(-grace), true},
		{o.End.Add(grace), true},
		{o.Start.Add(-grace - time.Second), false},
		{o.End.Add(grace + time.Second), false},
	}
	for _, tt := range tests {
		if got := o.Contains(tt.at, grace); got != tt.want {
			t.Fatalf("Contains(%v) = %v, want %v", tt.at, got, tt.want)
		}
	}
}
