package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"skillswap/internal/model"
	"skillswap/internal/slot"
	"skillswap/internal/task/scheduler"
)

type onceReg struct {
	at  time.Time
	job scheduler.Job
}

type fakeTriggers struct {
	mu        sync.Mutex
	once      map[string]onceReg
	intervals map[string]time.Duration
	jobs      map[string]scheduler.Job
	removed   []string
	addOnceFn func(name string) error
}

func newFakeTriggers() *fakeTriggers {
	return &fakeTriggers{once: map[string]onceReg{}, intervals: map[string]time.Duration{}, jobs: map[string]scheduler.Job{}}
}

func (f *fakeTriggers) AddOnce(name string, at time.Time, _ time.Duration, _ scheduler.TaskOptions, job scheduler.Job) (string, error) {
	if f.addOnceFn != nil {
		if err := f.addOnceFn(name); err != nil {
			return "", err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.once[name] = onceReg{at: at, job: job}
	return name, nil
}

func (f *fakeTriggers) AddInterval(name string, every, _ time.Duration, _ scheduler.TaskOptions, job scheduler.Job) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.intervals[name] = every
	f.jobs[name] = job
	return name, nil
}

func (f *fakeTriggers) Remove(name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, name)
	_, ok := f.once[name]
	delete(f.once, name)
	return ok
}

func (f *fakeTriggers) onceNames() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.once))
	for n := range f.once {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

func (f *fakeTriggers) onceAt(name string) (onceReg, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.once[name]
	return r, ok
}

type fakeReminders struct {
	mu        sync.Mutex
	scheduled map[string]int
	clears    map[string]int
	err       error
}

func newFakeReminders() *fakeReminders {
	return &fakeReminders{scheduled: map[string]int{}, clears: map[string]int{}}
}

func (f *fakeReminders) ScheduleReminders(_ context.Context, s *model.Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.scheduled[s.ID] = len(s.Slots)
	return nil
}

func (f *fakeReminders) ClearReminders(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.clears[id]++
	n := f.scheduled[id]
	delete(f.scheduled, id)
	return n
}

func (f *fakeReminders) counts(id string) (scheduled, clears int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.scheduled[id], f.clears[id]
}

var errBoom = errors.New("boom")

func mustSlots(t *testing.T, in ...string) []slot.Slot {
	t.Helper()
	out, err := slot.ParseAll(in)
	if err != nil {
		t.Fatalf("ParseAll(%v): %v", in, err)
	}
	return out
}

func seqIDs(prefix string) func() string {
	var (
		mu sync.Mutex
		n  int
	)
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("%s-%d", prefix, n)
	}
}

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	c.t = t
	c.mu.Unlock()
}
