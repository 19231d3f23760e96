package slot

import (
	"fmt"
	"strings"
	"time"
)

// LoadLocation resolves an IANA timezone name. Empty and "Local" are rejected:
// a stored slot must never depend on the server's zone.
func LoadLocation(tz string) (*time.Location, error) {
	name := strings.TrimSpace(tz)
	if name == "" || name == "Local" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTimezone, tz)
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTimezone, tz)
	}
	return loc, nil
}

// ToCanonical converts a locally entered slot into its UTC weekly form.
//
// The local day/time is placed in the Monday-start week containing anchor,
// as observed in tz, and both boundaries are re-projected onto UTC weekday
// and time of day. The result is only exact for weeks sharing anchor's UTC
// offset.
func ToCanonical(local Slot, tz string, anchor time.Time) (Slot, error) {
	loc, err := LoadLocation(tz)
	if err != nil {
		return Slot{}, err
	}
	if err := local.Validate(); err != nil {
		return Slot{}, err
	}
	start, end := place(local, anchor.In(loc), loc)
	return project(start.UTC(), end.UTC()), nil
}

// ToLocal is the display-side inverse of ToCanonical: the canonical slot is
// placed in the UTC week containing anchor and re-projected onto tz.
func ToLocal(canonical Slot, tz string, anchor time.Time) (Slot, error) {
	loc, err := LoadLocation(tz)
	if err != nil {
		return Slot{}, err
	}
	if err := canonical.ValidateCanonical(); err != nil {
		return Slot{}, err
	}
	start, end := place(canonical, anchor.UTC(), time.UTC)
	return project(start.In(loc), end.In(loc)), nil
}

// place builds the concrete start/end of s in the Monday-start week of ref.
func place(s Slot, ref time.Time, loc *time.Location) (time.Time, time.Time) {
	back := (int(ref.Weekday()) + 6) % 7 // days since Monday
	offset := (int(s.Day) + 6) % 7
	y, m, d := ref.Date()
	// time.Date normalizes day overflow and resolves DST against loc.
	start := time.Date(y, m, d-back+offset, s.Start.Hour(), s.Start.Minute(), 0, 0, loc)
	end := start.Add(s.Duration())
	if !s.Wraps() {
		end = time.Date(y, m, d-back+offset, s.End.Hour(), s.End.Minute(), 0, 0, loc)
	}
	return start, end
}

func project(start, end time.Time) Slot {
	return Slot{
		Day:   start.Weekday(),
		Start: Clock(start.Hour()*60 + start.Minute()),
		End:   Clock(end.Hour()*60 + end.Minute()),
	}
}
