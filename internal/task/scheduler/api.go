package scheduler

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"skillswap/internal/task/engine"
	logx "skillswap/pkg/logx"
)

var (
	ErrDisabled     = errors.New("scheduler disabled")
	ErrNameRequired = errors.New("schedule name required")
	ErrJobRequired  = errors.New("schedule job required")
)

// AddCron registers (or replaces) a cron trigger under name.
//
// Specs accept an optional seconds field and a CRON_TZ=<zone> prefix, e.g.
// "CRON_TZ=UTC 55 13 * * 1". Without a prefix the scheduler timezone applies.
func (s *Service) AddCron(name, spec string, timeout time.Duration, opt TaskOptions, job Job) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", ErrNameRequired
	}
	if job == nil {
		return "", ErrJobRequired
	}
	spec = strings.TrimSpace(spec)
	sched, err := s.parser.Parse(spec)
	if err != nil {
		return "", fmt.Errorf("parse cron spec %q: %w", spec, err)
	}
	s.register(&scheduleDef{name: name, spec: spec, sched: sched, timeout: timeout, job: job, opt: opt, state: &engine.RunState{}})
	return name, nil
}

// AddInterval registers (or replaces) a fixed-interval trigger under name.
func (s *Service) AddInterval(name string, every, timeout time.Duration, opt TaskOptions, job Job) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", ErrNameRequired
	}
	if job == nil {
		return "", ErrJobRequired
	}
	if every <= 0 {
		return "", fmt.Errorf("interval must be positive, got %s", every)
	}
	s.register(&scheduleDef{name: name, spec: "@every " + every.String(), sched: cron.Every(every), timeout: timeout, job: job, opt: opt, state: &engine.RunState{}})
	return name, nil
}

// AddWeekly registers a trigger firing every week on weekday at hour:minute in loc.
// A nil loc uses the scheduler timezone.
func (s *Service) AddWeekly(name string, weekday time.Weekday, hour, minute int, loc *time.Location, timeout time.Duration, opt TaskOptions, job Job) (string, error) {
	if weekday < time.Sunday || weekday > time.Saturday {
		return "", fmt.Errorf("invalid weekday %d", weekday)
	}
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return "", fmt.Errorf("invalid time %02d:%02d", hour, minute)
	}
	spec := WeeklySpec(weekday, hour, minute, loc)
	return s.AddCron(name, spec, timeout, opt, job)
}

// WeeklySpec renders the cron spec AddWeekly registers.
func WeeklySpec(weekday time.Weekday, hour, minute int, loc *time.Location) string {
	spec := fmt.Sprintf("%d %d * * %d", minute, hour, int(weekday)) // Sunday=0
	if loc != nil {
		spec = "CRON_TZ=" + loc.String() + " " + spec
	}
	return spec
}

func (s *Service) register(d *scheduleDef) {
	s.mu.Lock()
	defer s.mu.Unlock()
	// Upsert by name across both trigger kinds.
	s.removeScheduleLocked(d.name)
	s.removeOnce(d.name)
	s.defs[d.name] = d
	if s.c == nil {
		// Not started: kept and registered when Start() runs.
		return
	}
	s.addCronLocked(d)
	if s.log.Enabled(logx.LevelDebug) {
		s.log.Debug("schedule registered", logx.String("name", d.name), logx.String("spec", d.spec), logx.String("next", previewNextRuns(d.sched, time.Now().In(s.loc), 3)))
	}
}

// AddOnce registers (or replaces) a one-time trigger at the given instant.
// Instants in the past fire as soon as the scheduler is running.
func (s *Service) AddOnce(name string, at time.Time, timeout time.Duration, opt TaskOptions, job Job) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", ErrNameRequired
	}
	if job == nil {
		return "", ErrJobRequired
	}
	if at.IsZero() {
		return "", errors.New("at required")
	}

	s.mu.Lock()
	if !s.cfg.Enabled {
		s.mu.Unlock()
		return "", ErrDisabled
	}
	s.removeScheduleLocked(name)
	s.mu.Unlock()

	s.tmu.Lock()
	defer s.tmu.Unlock()
	if prev := s.once[name]; prev != nil && prev.timer != nil {
		prev.timer.Stop()
	}
	s.onceSeq++
	d := &onceDef{at: at, timeout: timeout, opt: opt, job: job, ver: s.onceSeq}
	s.once[name] = d
	if s.started {
		s.armOnceLocked(name, d)
	}
	s.log.Debug("once registered", logx.String("name", name), logx.Time("at", at))
	return name, nil
}

// armOnceLocked starts the runtime timer for d. Call with s.tmu held.
func (s *Service) armOnceLocked(name string, d *onceDef) {
	delay := max(time.Until(d.at), 0)
	ver := d.ver
	d.timer = time.AfterFunc(delay, func() { s.fireOnce(name, ver) })
}

func (s *Service) fireOnce(name string, ver uint64) {
	s.tmu.Lock()
	d := s.once[name]
	// Removed, replaced or stopped since the timer was armed.
	if d == nil || d.ver != ver || !s.started {
		s.tmu.Unlock()
		return
	}
	d.timer = nil
	s.tmu.Unlock()

	err := s.enqueue(engine.Task{Name: name, Timeout: d.timeout, Run: d.job, Opt: d.opt})

	s.mu.Lock()
	retry := s.cfg.OnceRetryDelay
	s.mu.Unlock()

	s.tmu.Lock()
	defer s.tmu.Unlock()
	cur := s.once[name]
	if cur == nil || cur.ver != ver {
		return
	}
	switch {
	case err == nil:
		delete(s.once, name)
	case errors.Is(err, engine.ErrDisabled):
		delete(s.once, name)
		s.reportEnqueueError(name, err)
	default:
		// Queue full or engine restarting: keep the definition and try again.
		s.reportEnqueueError(name, err)
		if s.started {
			cur.timer = time.AfterFunc(retry, func() { s.fireOnce(name, ver) })
		}
	}
}

// Remove unschedules the trigger registered under name (cron, interval or once).
// Safe to call when the scheduler is not started.
func (s *Service) Remove(name string) bool {
	name = strings.TrimSpace(name)
	if name == "" {
		return false
	}
	s.mu.Lock()
	removed := s.removeScheduleLocked(name)
	s.mu.Unlock()
	removed = s.removeOnce(name) || removed

	if removed {
		s.log.Debug("schedule removed", logx.String("name", name))
	}
	return removed
}

// RemovePrefix removes every trigger whose name starts with prefix and
// returns how many were removed.
func (s *Service) RemovePrefix(prefix string) int {
	if prefix == "" {
		return 0
	}
	n := 0
	for _, name := range s.Names(prefix) {
		if s.Remove(name) {
			n++
		}
	}
	return n
}

// Has reports whether a trigger is registered under name.
func (s *Service) Has(name string) bool {
	s.mu.Lock()
	_, ok := s.defs[name]
	s.mu.Unlock()
	if ok {
		return true
	}
	s.tmu.Lock()
	_, ok = s.once[name]
	s.tmu.Unlock()
	return ok
}

// Names lists registered trigger names with the given prefix, sorted.
func (s *Service) Names(prefix string) []string {
	var out []string
	s.mu.Lock()
	for name := range s.defs {
		if strings.HasPrefix(name, prefix) {
			out = append(out, name)
		}
	}
	s.mu.Unlock()
	s.tmu.Lock()
	for name := range s.once {
		if strings.HasPrefix(name, prefix) {
			out = append(out, name)
		}
	}
	s.tmu.Unlock()
	sort.Strings(out)
	return out
}

// removeScheduleLocked drops a cron/interval def. Call with s.mu held.
func (s *Service) removeScheduleLocked(name string) bool {
	d, ok := s.defs[name]
	if !ok {
		return false
	}
	if s.c != nil && d.entryID != 0 {
		s.c.Remove(d.entryID)
	}
	delete(s.defs, name)
	return true
}

func (s *Service) removeOnce(name string) bool {
	s.tmu.Lock()
	defer s.tmu.Unlock()
	d, ok := s.once[name]
	if !ok {
		return false
	}
	if d.timer != nil {
		d.timer.Stop()
	}
	delete(s.once, name)
	return true
}

// addCronLocked registers d with the running cron. Call with s.mu held.
func (s *Service) addCronLocked(d *scheduleDef) {
	d.entryID = s.c.Schedule(d.sched, cron.FuncJob(func() {
		err := s.enqueue(engine.Task{
			Name:    d.name,
			Timeout: d.timeout,
			Run:     d.job,
			Opt:     d.opt,
			State:   d.state,
		})
		if err != nil {
			s.reportEnqueueError(d.name, err)
		}
	}))
}

func (s *Service) enqueue(t engine.Task) error {
	if s.engine == nil {
		return engine.ErrStopped
	}
	return s.engine.Enqueue(t)
}

// previewNextRuns renders the next n trigger times for debug logs.
func previewNextRuns(sched cron.Schedule, from time.Time, n int) string {
	var b strings.Builder
	t := from
	for i := 0; i < n; i++ {
		t = sched.Next(t)
		if t.IsZero() {
			break
		}
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(t.Format("2006-01-02 15:04:05Z07:00"))
	}
	return b.String()
}
