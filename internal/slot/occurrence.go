package slot

import "time"

// Occurrence is one concrete calendar instance of a weekly slot, in UTC.
type Occurrence struct {
	Start time.Time
	End   time.Time
}

// Contains reports whether t lies in [Start-grace, End+grace].
func (o Occurrence) Contains(t time.Time, grace time.Duration) bool {
	return !t.Before(o.Start.Add(-grace)) && !t.After(o.End.Add(grace))
}

const week = 7 * 24 * time.Hour

// NextOccurrence returns the occurrence of canonical slot s that is current
// at from or comes next. It never reads the clock.
//
// Starting at UTC midnight of from, it advances to s.Day and builds the
// window there; if that window ended strictly before from, it rolls over by
// exactly one week. A from equal to the start yields the current occurrence.
func NextOccurrence(s Slot, from time.Time) Occurrence {
	f := from.UTC()
	day0 := time.Date(f.Year(), f.Month(), f.Day(), 0, 0, 0, 0, time.UTC)
	steps := (int(s.Day) - int(day0.Weekday()) + 7) % 7

	start := day0.AddDate(0, 0, steps).Add(time.Duration(s.Start) * time.Minute)
	occ := Occurrence{Start: start, End: start.Add(s.Duration())}

	// A window wrapping midnight may have started on the previous week's day
	// and still be running.
	if s.Wraps() {
		prev := Occurrence{Start: occ.Start.Add(-week), End: occ.End.Add(-week)}
		if !prev.End.Before(f) {
			return prev
		}
	}
	if occ.End.Before(f) {
		occ.Start = occ.Start.Add(week)
		occ.End = occ.End.Add(week)
	}
	return occ
}

// NthOccurrence returns the occurrence n weeks after NextOccurrence(s, from).
func NthOccurrence(s Slot, from time.Time, n int) Occurrence {
	occ := NextOccurrence(s, from)
	shift := time.Duration(n) * week
	return Occurrence{Start: occ.Start.Add(shift), End: occ.End.Add(shift)}
}
