package reminder

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"skillswap/internal/eventbus"
	"skillswap/internal/model"
	"skillswap/internal/notifier"
	"skillswap/internal/slot"
	"skillswap/internal/storage"
	"skillswap/internal/task/engine"
	"skillswap/internal/task/scheduler"
	logx "skillswap/pkg/logx"
)

type fakeNotifier struct {
	mu  sync.Mutex
	got []notifier.Notification
	err error
}

func (f *fakeNotifier) Notify(_ context.Context, n notifier.Notification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.got = append(f.got, n)
	return nil
}

func (f *fakeNotifier) all() []notifier.Notification {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]notifier.Notification(nil), f.got...)
}

func mustSlots(t *testing.T, in ...string) []slot.Slot {
	t.Helper()
	out, err := slot.ParseAll(in)
	if err != nil {
		t.Fatal(err)
	}
	return out
}

func newSession(t *testing.T, id string, slots ...string) *model.Session {
	return &model.Session{
		ID:            id,
		Participants:  [2]string{"alice", "bob"},
		Skills:        [2]string{"go", "guitar"},
		Slots:         mustSlots(t, slots...),
		DurationWeeks: 4,
		Status:        model.StatusActive,
	}
}

type fixture struct {
	r     *Scheduler
	reg   *scheduler.Service
	st    storage.Store
	notif *fakeNotifier
	bus   eventbus.Bus
}

func newFixture(t *testing.T, now time.Time) *fixture {
	t.Helper()
	f := &fixture{
		reg:   scheduler.New(scheduler.Config{Enabled: true}, nil, logx.Nop()),
		st:    storage.NewMemory(),
		notif: &fakeNotifier{},
		bus:   eventbus.New(),
	}
	r, err := New(Config{Enabled: true}, f.reg, f.st, f.notif, f.bus, logx.Nop(), WithClock(func() time.Time { return now }))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	f.r = r
	return f
}

// put stores sessions so scheduling sees them as live.
func (f *fixture) put(t *testing.T, ss ...*model.Session) {
	t.Helper()
	for _, s := range ss {
		if err := f.st.CreateSession(context.Background(), s); err != nil {
			t.Fatalf("CreateSession(%s): %v", s.ID, err)
		}
	}
}

// specs maps reminder trigger names to their cron specs.
func specs(reg *scheduler.Service) map[string]string {
	out := map[string]string{}
	for _, it := range reg.Snapshot().Schedules {
		out[it.Name] = it.Spec
	}
	return out
}

func TestTriggerTime(t *testing.T) {
	t.Parallel()
	tests := []struct {
		slot      string
		day       time.Weekday
		hour, min int
	}{
		{"Monday 14:00-15:00", time.Monday, 13, 55},
		{"Friday 09:05-10:00", time.Friday, 9, 0},
		{"Monday 00:03-01:00", time.Sunday, 23, 58},
		{"Sunday 00:02-00:30", time.Saturday, 23, 57},
		{"Saturday 23:30-00:30", time.Saturday, 23, 25},
	}
	for _, tt := range tests {
		s, err := slot.ParseCanonical(tt.slot)
		if err != nil {
			t.Fatal(err)
		}
		day, hour, min := TriggerTime(s)
		if day != tt.day || hour != tt.hour || min != tt.min {
			t.Fatalf("TriggerTime(%s) = %s %02d:%02d, want %s %02d:%02d", tt.slot, day, hour, min, tt.day, tt.hour, tt.min)
		}
	}
}

func TestTriggerTimeMatchesOccurrenceLead(t *testing.T) {
	t.Parallel()
	from := time.Date(2024, 5, 15, 0, 0, 0, 0, time.UTC)
	for day := time.Sunday; day <= time.Saturday; day++ {
		for _, start := range []int{0, 4, 5, 59, 600, 1439} {
			s := slot.Slot{Day: day, Start: slot.Clock(start), End: slot.Clock((start + 30) % 1440)}
			occ := slot.NextOccurrence(s, from.Add(7*24*time.Hour))
			fire := occ.Start.Add(-Lead)
			d, h, m := TriggerTime(s)
			if fire.Weekday() != d || fire.Hour() != h || fire.Minute() != m {
				t.Fatalf("%s: trigger %s %02d:%02d, occurrence-lead %v", s, d, h, m, fire)
			}
		}
	}
}

func TestScheduleRemindersRegistersOnePerSlot(t *testing.T) {
	t.Parallel()
	f := newFixture(t, time.Now())
	s := newSession(t, "s1", "Monday 14:00-15:00", "Thursday 23:30-00:30")
	f.put(t, s)
	if err := f.r.ScheduleReminders(context.Background(), s); err != nil {
		t.Fatalf("ScheduleReminders: %v", err)
	}
	want := map[string]string{
		"reminder:s1:0": "CRON_TZ=UTC 55 13 * * 1",
		"reminder:s1:1": "CRON_TZ=UTC 25 23 * * 4",
	}
	got := specs(f.reg)
	if len(got) != len(want) {
		t.Fatalf("triggers = %v, want %v", got, want)
	}
	for name, spec := range want {
		if got[name] != spec {
			t.Fatalf("%s spec = %q, want %q", name, got[name], spec)
		}
	}
	if f.r.Registered() != 2 {
		t.Fatalf("Registered = %d, want 2", f.r.Registered())
	}
}

func TestRescheduleAfterEditLeavesOnlyCurrentSlots(t *testing.T) {
	t.Parallel()
	f := newFixture(t, time.Now())
	ctx := context.Background()
	s := newSession(t, "s1", "Monday 14:00-15:00", "Wednesday 10:00-11:00", "Friday 18:00-19:00")
	other := newSession(t, "s10", "Tuesday 08:00-09:00")
	f.put(t, s, other)
	for _, ss := range []*model.Session{s, other} {
		if err := f.r.ScheduleReminders(ctx, ss); err != nil {
			t.Fatal(err)
		}
	}

	s.Slots = mustSlots(t, "Saturday 12:00-13:00")
	if err := f.r.ScheduleReminders(ctx, s); err != nil {
		t.Fatal(err)
	}
	got := specs(f.reg)
	want := map[string]string{
		"reminder:s1:0":  "CRON_TZ=UTC 55 11 * * 6",
		"reminder:s10:0": "CRON_TZ=UTC 55 7 * * 2",
	}
	if len(got) != len(want) {
		t.Fatalf("triggers = %v, want %v", got, want)
	}
	for name, spec := range want {
		if got[name] != spec {
			t.Fatalf("%s spec = %q, want %q", name, got[name], spec)
		}
	}
}

func TestInactiveSessionHasNoTriggers(t *testing.T) {
	t.Parallel()
	f := newFixture(t, time.Now())
	ctx := context.Background()
	s := newSession(t, "s1", "Monday 14:00-15:00", "Friday 18:00-19:00")
	f.put(t, s)
	if err := f.r.ScheduleReminders(ctx, s); err != nil {
		t.Fatal(err)
	}
	if n := f.r.ClearReminders("s1"); n != 2 {
		t.Fatalf("ClearReminders = %d, want 2", n)
	}
	if n := f.r.ClearReminders("s1"); n != 0 {
		t.Fatalf("second ClearReminders = %d, want 0", n)
	}

	_ = f.r.ScheduleReminders(ctx, s)
	cancelled := *s
	cancelled.Status = model.StatusCancelled
	if err := f.r.ScheduleReminders(ctx, &cancelled); err != nil {
		t.Fatal(err)
	}
	if n := f.r.Registered(); n != 0 {
		t.Fatalf("Registered = %d, want 0", n)
	}

	if err := f.r.ScheduleReminders(ctx, newSession(t, "ghost", "Monday 14:00-15:00")); err != nil {
		t.Fatalf("unknown session: %v", err)
	}
	if n := f.r.Registered(); n != 0 {
		t.Fatalf("unknown session registered %d triggers", n)
	}
}

func TestStaleActiveCopyDoesNotResurrectTriggers(t *testing.T) {
	t.Parallel()
	now := time.Date(2024, 5, 20, 12, 0, 0, 0, time.UTC)
	f := newFixture(t, now)
	ctx := context.Background()
	s := newSession(t, "s1", "Monday 14:00-15:00", "Friday 18:00-19:00")
	f.put(t, s)

	// The expiry job completes the session and clears its reminders before
	// the creator gets to register them with its still-active copy.
	if ok, err := f.st.TransitionSession(ctx, "s1", model.StatusCompleted, now); err != nil || !ok {
		t.Fatalf("TransitionSession = %v, %v", ok, err)
	}
	f.r.ClearReminders("s1")
	if err := f.r.ScheduleReminders(ctx, s); err != nil {
		t.Fatalf("ScheduleReminders: %v", err)
	}
	if n := f.r.Registered(); n != 0 {
		t.Fatalf("Registered = %d, want 0", n)
	}
}

func TestConcurrentSchedulingConverges(t *testing.T) {
	t.Parallel()
	f := newFixture(t, time.Now())
	ctx := context.Background()
	f.put(t, newSession(t, "s1", "Monday 14:00-15:00", "Friday 18:00-19:00"))
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s := newSession(t, "s1", "Monday 14:00-15:00", "Friday 18:00-19:00")
			if i%3 == 0 {
				f.r.ClearReminders("s1")
				return
			}
			_ = f.r.ScheduleReminders(ctx, s)
		}(i)
	}
	wg.Wait()
	_ = f.r.ScheduleReminders(ctx, newSession(t, "s1", "Monday 14:00-15:00", "Friday 18:00-19:00"))
	if n := f.r.Registered(); n != 2 {
		t.Fatalf("Registered = %d, want 2", n)
	}
	if n := f.r.locks.size(); n != 0 {
		t.Fatalf("keyed locks leaked: %d", n)
	}
}

func TestRebuildProducesSameTriggers(t *testing.T) {
	t.Parallel()
	f := newFixture(t, time.Now())
	ctx := context.Background()
	sessions := []*model.Session{
		newSession(t, "a", "Monday 14:00-15:00", "Thursday 23:30-00:30"),
		newSession(t, "b", "Sunday 00:00-01:00"),
	}
	f.put(t, sessions...)
	for _, s := range sessions {
		if err := f.r.ScheduleReminders(ctx, s); err != nil {
			t.Fatal(err)
		}
	}
	before := specs(f.reg)

	// Fresh process: new registry, same records.
	reg := scheduler.New(scheduler.Config{Enabled: true}, nil, logx.Nop())
	r, err := New(Config{Enabled: true}, reg, f.st, f.notif, nil, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	for _, s := range sessions {
		if err := r.ScheduleReminders(ctx, s); err != nil {
			t.Fatal(err)
		}
	}
	after := specs(reg)
	if fmt.Sprint(before) != fmt.Sprint(after) {
		t.Fatalf("rebuilt triggers = %v, want %v", after, before)
	}
}

func TestFireNotifiesBothParticipants(t *testing.T) {
	t.Parallel()
	// Five minutes before Monday 2024-05-20 14:00 UTC.
	now := time.Date(2024, 5, 20, 13, 55, 0, 0, time.UTC)
	f := newFixture(t, now)
	ctx := context.Background()
	s := newSession(t, "s1", "Monday 14:00-15:00")
	if err := f.st.CreateSession(ctx, s); err != nil {
		t.Fatal(err)
	}
	if err := f.r.Fire(ctx, "s1", 0); err != nil {
		t.Fatalf("Fire: %v", err)
	}
	got := f.notif.all()
	if len(got) != 2 {
		t.Fatalf("notifications = %d, want 2", len(got))
	}
	wantKeys := map[string]bool{
		"reminder:s1:0:2024-05-20:alice": true,
		"reminder:s1:0:2024-05-20:bob":   true,
	}
	for _, n := range got {
		if !wantKeys[n.Key] || n.Kind != "reminder" || !n.NoRetry {
			t.Fatalf("notification = %+v", n)
		}
	}
	if got[0].Text != "Reminder: your skill swap with bob (go for guitar) starts at Mon 14:00 UTC." {
		t.Fatalf("text = %q", got[0].Text)
	}
}

func TestFireSkipsInactiveOrMissing(t *testing.T) {
	t.Parallel()
	now := time.Date(2024, 5, 20, 13, 55, 0, 0, time.UTC)
	f := newFixture(t, now)
	ctx := context.Background()
	events, unsub := f.bus.Subscribe(8, eventbus.ReminderSkipped)
	defer unsub()

	s := newSession(t, "s1", "Monday 14:00-15:00")
	if err := f.st.CreateSession(ctx, s); err != nil {
		t.Fatal(err)
	}
	if _, err := f.st.TransitionSession(ctx, "s1", model.StatusCancelled, now); err != nil {
		t.Fatal(err)
	}
	for _, tc := range []struct {
		id  string
		idx int
	}{{"s1", 0}, {"missing", 0}} {
		if err := f.r.Fire(ctx, tc.id, tc.idx); err != nil {
			t.Fatalf("Fire(%s): %v", tc.id, err)
		}
	}
	if n := len(f.notif.all()); n != 0 {
		t.Fatalf("notifications = %d, want 0", n)
	}
	for i := 0; i < 2; i++ {
		select {
		case <-events:
		case <-time.After(time.Second):
			t.Fatal("missing reminder.skipped event")
		}
	}
}

func TestFireNotifierErrorIsNotRetried(t *testing.T) {
	t.Parallel()
	now := time.Date(2024, 5, 20, 13, 55, 0, 0, time.UTC)
	f := newFixture(t, now)
	ctx := context.Background()
	f.notif.err = notifier.ErrQueueFull
	if err := f.st.CreateSession(ctx, newSession(t, "s1", "Monday 14:00-15:00")); err != nil {
		t.Fatal(err)
	}
	err := f.r.Fire(ctx, "s1", 0)
	if !engine.IsNoRetry(err) || !errors.Is(err, notifier.ErrQueueFull) {
		t.Fatalf("Fire err = %v, want no-retry wrapping ErrQueueFull", err)
	}
}

func TestBadTemplateRejected(t *testing.T) {
	t.Parallel()
	if _, err := New(Config{Template: "{{.Nope"}, nil, nil, nil, nil, logx.Nop()); err == nil {
		t.Fatal("expected template parse error")
	}
}
