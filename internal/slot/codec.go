// Package slot holds the weekly-slot value type and the pure calendar
// arithmetic around it: wire codec, timezone normalization and next-occurrence
// resolution.
package slot

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var (
	ErrInvalidSlot     = errors.New("invalid slot")
	ErrInvalidTimezone = errors.New("invalid timezone")
)

const (
	minutesPerDay  = 24 * 60
	minutesPerWeek = 7 * minutesPerDay
)

// Clock is a minute-of-day in [0, 1440).
type Clock int

// NewClock builds a Clock from hour and minute.
func NewClock(hour, minute int) (Clock, error) {
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return 0, fmt.Errorf("%w: time %02d:%02d out of range", ErrInvalidSlot, hour, minute)
	}
	return Clock(hour*60 + minute), nil
}

// ParseClock parses "HH:MM" (24h). A single-digit hour is accepted.
func ParseClock(s string) (Clock, error) {
	s = strings.TrimSpace(s)
	hh, mm, ok := strings.Cut(s, ":")
	if !ok || len(mm) != 2 || len(hh) < 1 || len(hh) > 2 {
		return 0, fmt.Errorf("%w: time %q, expected HH:MM", ErrInvalidSlot, s)
	}
	h, err := strconv.Atoi(hh)
	if err != nil {
		return 0, fmt.Errorf("%w: hour in %q", ErrInvalidSlot, s)
	}
	m, err := strconv.Atoi(mm)
	if err != nil {
		return 0, fmt.Errorf("%w: minute in %q", ErrInvalidSlot, s)
	}
	return NewClock(h, m)
}

func (c Clock) Hour() int   { return int(c) / 60 }
func (c Clock) Minute() int { return int(c) % 60 }

func (c Clock) String() string { return fmt.Sprintf("%02d:%02d", c.Hour(), c.Minute()) }

// Slot is a weekly recurring window: a weekday plus start and end time of day.
//
// Locally entered slots always have Start < End. Canonical UTC slots may wrap:
// when End <= Start the window ends on the following day.
type Slot struct {
	Day   time.Weekday
	Start Clock
	End   Clock
}

// Validate checks a locally entered slot: fields in range and Start < End.
func (s Slot) Validate() error {
	if err := s.validateFields(); err != nil {
		return err
	}
	if s.Start >= s.End {
		return fmt.Errorf("%w: start %s not before end %s", ErrInvalidSlot, s.Start, s.End)
	}
	return nil
}

// ValidateCanonical checks a canonical slot: fields in range and a non-empty window.
func (s Slot) ValidateCanonical() error {
	if err := s.validateFields(); err != nil {
		return err
	}
	if s.Start == s.End {
		return fmt.Errorf("%w: empty window at %s", ErrInvalidSlot, s.Start)
	}
	return nil
}

func (s Slot) validateFields() error {
	if s.Day < time.Sunday || s.Day > time.Saturday {
		return fmt.Errorf("%w: weekday %d", ErrInvalidSlot, int(s.Day))
	}
	if s.Start < 0 || s.Start >= minutesPerDay || s.End < 0 || s.End >= minutesPerDay {
		return fmt.Errorf("%w: time of day out of range", ErrInvalidSlot)
	}
	return nil
}

// Wraps reports whether the window crosses midnight into the next day.
func (s Slot) Wraps() bool { return s.End <= s.Start }

// Duration is the window length, accounting for a midnight wrap.
func (s Slot) Duration() time.Duration {
	m := int(s.End) - int(s.Start)
	if m <= 0 {
		m += minutesPerDay
	}
	return time.Duration(m) * time.Minute
}

// startOfWeek is the slot start as minutes after Sunday 00:00.
func (s Slot) startOfWeek() int { return int(s.Day)*minutesPerDay + int(s.Start) }

// String renders the wire format, e.g. "Monday 14:00-15:00".
func (s Slot) String() string {
	return fmt.Sprintf("%s %s-%s", s.Day, s.Start, s.End)
}

// MarshalText encodes the wire format.
func (s Slot) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// UnmarshalText decodes the wire format without the Start < End check;
// callers validate according to whether the value is local or canonical.
func (s *Slot) UnmarshalText(b []byte) error {
	v, err := parse(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// Parse decodes a locally entered slot "<DayName> <HH:MM>-<HH:MM>".
// Spaces around the dash are accepted. It enforces Start < End.
func Parse(s string) (Slot, error) {
	v, err := parse(s)
	if err != nil {
		return Slot{}, err
	}
	return v, v.Validate()
}

// ParseCanonical decodes a stored canonical UTC slot, which may wrap midnight.
func ParseCanonical(s string) (Slot, error) {
	v, err := parse(s)
	if err != nil {
		return Slot{}, err
	}
	return v, v.ValidateCanonical()
}

// ParseAll decodes a list of canonical slot strings.
func ParseAll(in []string) ([]Slot, error) {
	out := make([]Slot, 0, len(in))
	for i, raw := range in {
		v, err := ParseCanonical(raw)
		if err != nil {
			return nil, fmt.Errorf("slot %d: %w", i, err)
		}
		out = append(out, v)
	}
	return out, nil
}

// Strings renders slots in wire format.
func Strings(in []Slot) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = s.String()
	}
	return out
}

func parse(raw string) (Slot, error) {
	s := strings.TrimSpace(raw)
	dayPart, rest, ok := strings.Cut(s, " ")
	if !ok {
		return Slot{}, fmt.Errorf("%w: %q, expected \"<Day> <HH:MM>-<HH:MM>\"", ErrInvalidSlot, raw)
	}
	day, err := ParseWeekday(dayPart)
	if err != nil {
		return Slot{}, err
	}
	from, to, ok := strings.Cut(rest, "-")
	if !ok {
		return Slot{}, fmt.Errorf("%w: %q, missing '-'", ErrInvalidSlot, raw)
	}
	start, err := ParseClock(from)
	if err != nil {
		return Slot{}, err
	}
	end, err := ParseClock(to)
	if err != nil {
		return Slot{}, err
	}
	return Slot{Day: day, Start: start, End: end}, nil
}

var weekdays = map[string]time.Weekday{
	"sunday": time.Sunday, "sun": time.Sunday,
	"monday": time.Monday, "mon": time.Monday,
	"tuesday": time.Tuesday, "tue": time.Tuesday,
	"wednesday": time.Wednesday, "wed": time.Wednesday,
	"thursday": time.Thursday, "thu": time.Thursday,
	"friday": time.Friday, "fri": time.Friday,
	"saturday": time.Saturday, "sat": time.Saturday,
}

// ParseWeekday accepts full or three-letter English day names, any case.
func ParseWeekday(s string) (time.Weekday, error) {
	d, ok := weekdays[strings.ToLower(strings.TrimSpace(s))]
	if !ok {
		return 0, fmt.Errorf("%w: unknown day %q", ErrInvalidSlot, s)
	}
	return d, nil
}
