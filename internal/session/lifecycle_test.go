package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"skillswap/internal/eventbus"
	"skillswap/internal/model"
	"skillswap/internal/storage"
	logx "skillswap/pkg/logx"
)

type lifecycleFixture struct {
	m     *Manager
	st    storage.Store
	trig  *fakeTriggers
	rem   *fakeReminders
	clock *clock
	bus   eventbus.Bus
}

// 2024-05-15 is a Wednesday.
var wednesday = time.Date(2024, 5, 15, 10, 0, 0, 0, time.UTC)

func newLifecycleFixture(t *testing.T) *lifecycleFixture {
	t.Helper()
	f := &lifecycleFixture{
		st:    storage.NewMemory(),
		trig:  newFakeTriggers(),
		rem:   newFakeReminders(),
		clock: &clock{t: wednesday},
		bus:   eventbus.New(),
	}
	f.m = NewManager(Config{SweepBatch: 2}, f.st, f.trig, f.rem, f.bus, logx.Nop(),
		WithClock(f.clock.Now), WithIDGenerator(seqIDs("s")))
	return f
}

func (f *lifecycleFixture) create(t *testing.T, weeks int, slots ...string) *model.Session {
	t.Helper()
	s, err := f.m.CreateSession(context.Background(), NewSession{
		Participants:  [2]string{"alice", "bob"},
		Skills:        [2]string{"go", "guitar"},
		Slots:         mustSlots(t, slots...),
		DurationWeeks: weeks,
	})
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	return s
}

func TestComputeExpiry(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name  string
		slots []string
		weeks int
		now   time.Time
		want  time.Time
	}{
		{
			name: "monday slot two weeks from wednesday", slots: []string{"Monday 14:00-15:00"}, weeks: 2,
			now: wednesday, want: time.Date(2024, 5, 27, 15, 0, 0, 0, time.UTC),
		},
		{
			name: "latest slot in the last week wins", slots: []string{"Friday 09:00-10:00", "Tuesday 20:00-21:00"}, weeks: 1,
			now: wednesday, want: time.Date(2024, 5, 21, 21, 0, 0, 0, time.UTC),
		},
		{
			name: "current occurrence counts", slots: []string{"Wednesday 09:00-11:00"}, weeks: 3,
			now: wednesday, want: time.Date(2024, 5, 29, 11, 0, 0, 0, time.UTC),
		},
		{
			name: "wrapping slot ends next day", slots: []string{"Sunday 23:00-01:00"}, weeks: 1,
			now: wednesday, want: time.Date(2024, 5, 20, 1, 0, 0, 0, time.UTC),
		},
	}
	for _, tt := range tests {
		got := ComputeExpiry(mustSlots(t, tt.slots...), tt.weeks, tt.now)
		if !got.Equal(tt.want) {
			t.Fatalf("%s: ComputeExpiry = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestComputeExpiryIsMaxOverWeeks(t *testing.T) {
	t.Parallel()
	slots := mustSlots(t, "Monday 14:00-15:00", "Saturday 22:00-02:00", "Wednesday 08:00-09:00")
	for weeks := 1; weeks <= 6; weeks++ {
		got := ComputeExpiry(slots, weeks, wednesday)
		var want time.Time
		for _, s := range slots {
			base := ComputeExpiry(mustSlots(t, s.String()), 1, wednesday)
			for w := 0; w < weeks; w++ {
				if e := base.Add(time.Duration(w) * 7 * 24 * time.Hour); e.After(want) {
					want = e
				}
			}
		}
		if !got.Equal(want) {
			t.Fatalf("weeks=%d: ComputeExpiry = %v, want %v", weeks, got, want)
		}
	}
}

func TestCreateSessionArmsExpiryAndReminders(t *testing.T) {
	t.Parallel()
	f := newLifecycleFixture(t)
	s := f.create(t, 2, "Monday 14:00-15:00")

	want := time.Date(2024, 5, 27, 15, 0, 0, 0, time.UTC)
	if !s.ExpiresAt.Equal(want) || s.Status != model.StatusActive {
		t.Fatalf("session = %+v", s)
	}
	reg, ok := f.trig.onceAt(ExpiryJobName(s.ID))
	if !ok || !reg.at.Equal(want) {
		t.Fatalf("expiry job = %+v, %v", reg, ok)
	}
	if n, _ := f.rem.counts(s.ID); n != 1 {
		t.Fatalf("reminders scheduled = %d, want 1", n)
	}
	stored, err := f.st.GetSession(context.Background(), s.ID)
	if err != nil || !stored.ExpiresAt.Equal(want) {
		t.Fatalf("stored = %+v, %v", stored, err)
	}
}

func TestCreateSessionValidation(t *testing.T) {
	t.Parallel()
	f := newLifecycleFixture(t)
	ctx := context.Background()
	good := NewSession{
		Participants: [2]string{"alice", "bob"}, Skills: [2]string{"go", "guitar"},
		Slots: mustSlots(t, "Monday 14:00-15:00"), DurationWeeks: 1,
	}
	tests := []struct {
		name   string
		mutate func(n *NewSession)
	}{
		{"same participant", func(n *NewSession) { n.Participants[1] = "alice" }},
		{"empty participant", func(n *NewSession) { n.Participants[0] = " " }},
		{"empty skill", func(n *NewSession) { n.Skills[1] = "" }},
		{"no slots", func(n *NewSession) { n.Slots = nil }},
		{"zero weeks", func(n *NewSession) { n.DurationWeeks = 0 }},
	}
	for _, tt := range tests {
		n := good
		n.Slots = append(n.Slots[:0:0], good.Slots...)
		tt.mutate(&n)
		if _, err := f.m.CreateSession(ctx, n); !errors.Is(err, ErrInvalidSession) {
			t.Fatalf("%s: err = %v, want ErrInvalidSession", tt.name, err)
		}
	}
	if names := f.trig.onceNames(); len(names) != 0 {
		t.Fatalf("expiry jobs after invalid input = %v", names)
	}
}

func TestCreateSessionFailsWhenExpiryCannotBeScheduled(t *testing.T) {
	t.Parallel()
	f := newLifecycleFixture(t)
	f.trig.addOnceFn = func(string) error { return errBoom }

	_, err := f.m.CreateSession(context.Background(), NewSession{
		Participants: [2]string{"alice", "bob"}, Skills: [2]string{"go", "guitar"},
		Slots: mustSlots(t, "Monday 14:00-15:00"), DurationWeeks: 1,
	})
	if !errors.Is(err, errBoom) {
		t.Fatalf("err = %v, want errBoom", err)
	}
	s, gerr := f.st.GetSession(context.Background(), "s-1")
	if gerr != nil || s.Status != model.StatusCancelled {
		t.Fatalf("compensated session = %+v, %v; want cancelled", s, gerr)
	}
}

func TestCreateSessionFailsWhenRemindersCannotBeScheduled(t *testing.T) {
	t.Parallel()
	f := newLifecycleFixture(t)
	f.rem.err = errBoom
	_, err := f.m.CreateSession(context.Background(), NewSession{
		Participants: [2]string{"alice", "bob"}, Skills: [2]string{"go", "guitar"},
		Slots: mustSlots(t, "Monday 14:00-15:00"), DurationWeeks: 1,
	})
	if !errors.Is(err, errBoom) {
		t.Fatalf("err = %v, want errBoom", err)
	}
	if names := f.trig.onceNames(); len(names) != 0 {
		t.Fatalf("expiry job left behind: %v", names)
	}
}

func TestTransitionIdempotent(t *testing.T) {
	t.Parallel()
	f := newLifecycleFixture(t)
	ctx := context.Background()
	s := f.create(t, 2, "Monday 14:00-15:00")

	changed, err := f.m.Transition(ctx, s.ID, model.StatusCompleted)
	if err != nil || !changed {
		t.Fatalf("first Transition = %v, %v", changed, err)
	}
	changed, err = f.m.Transition(ctx, s.ID, model.StatusCompleted)
	if err != nil || changed {
		t.Fatalf("second Transition = %v, %v; want false, nil", changed, err)
	}
	if _, clears := f.rem.counts(s.ID); clears != 1 {
		t.Fatalf("reminder clears = %d, want 1", clears)
	}
	if _, ok := f.trig.onceAt(ExpiryJobName(s.ID)); ok {
		t.Fatal("expiry job still registered after completion")
	}
	got, _ := f.st.GetSession(ctx, s.ID)
	if got.Status != model.StatusCompleted {
		t.Fatalf("status = %s, want completed", got.Status)
	}

	if _, err := f.m.Transition(ctx, s.ID, model.StatusActive); !errors.Is(err, ErrInvalidStatus) {
		t.Fatalf("Transition(active) err = %v", err)
	}
	if _, err := f.m.Transition(ctx, "missing", model.StatusExpired); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Transition(missing) err = %v", err)
	}
}

func TestConcurrentTransitionsApplyOnce(t *testing.T) {
	t.Parallel()
	f := newLifecycleFixture(t)
	ctx := context.Background()
	s := f.create(t, 1, "Monday 14:00-15:00")

	var (
		wg   sync.WaitGroup
		wins atomic.Int32
	)
	for _, to := range []model.Status{model.StatusCompleted, model.StatusExpired, model.StatusCancelled, model.StatusCompleted} {
		wg.Add(1)
		go func(to model.Status) {
			defer wg.Done()
			if changed, _ := f.m.Transition(ctx, s.ID, to); changed {
				wins.Add(1)
			}
		}(to)
	}
	wg.Wait()
	if wins.Load() != 1 {
		t.Fatalf("winners = %d, want 1", wins.Load())
	}
	if _, clears := f.rem.counts(s.ID); clears != 1 {
		t.Fatalf("reminder clears = %d, want 1", clears)
	}
}

func TestExpiryJobCompletesSession(t *testing.T) {
	t.Parallel()
	f := newLifecycleFixture(t)
	ctx := context.Background()
	s := f.create(t, 1, "Monday 14:00-15:00")

	reg, ok := f.trig.onceAt(ExpiryJobName(s.ID))
	if !ok {
		t.Fatal("expiry job missing")
	}
	f.clock.Set(reg.at)
	if err := reg.job(ctx); err != nil {
		t.Fatalf("expiry job: %v", err)
	}
	// A retried run is a no-op.
	if err := reg.job(ctx); err != nil {
		t.Fatalf("expiry job rerun: %v", err)
	}
	got, _ := f.st.GetSession(ctx, s.ID)
	if got.Status != model.StatusCompleted {
		t.Fatalf("status = %s, want completed", got.Status)
	}
}

func TestCancel(t *testing.T) {
	t.Parallel()
	f := newLifecycleFixture(t)
	ctx := context.Background()
	s := f.create(t, 3, "Monday 14:00-15:00")

	if _, err := f.m.Cancel(ctx, s.ID, "mallory"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("Cancel(stranger) err = %v", err)
	}
	got, err := f.m.Cancel(ctx, s.ID, "bob")
	if err != nil || got.Status != model.StatusCancelled {
		t.Fatalf("Cancel = %+v, %v", got, err)
	}
	if _, err := f.m.Cancel(ctx, s.ID, "alice"); !errors.Is(err, ErrSessionNotActive) {
		t.Fatalf("second Cancel err = %v", err)
	}
	if n, _ := f.rem.counts(s.ID); n != 0 {
		t.Fatalf("reminders remaining = %d", n)
	}
}

func TestSweepExpiresOverdueSessions(t *testing.T) {
	t.Parallel()
	f := newLifecycleFixture(t)
	ctx := context.Background()
	events, unsub := f.bus.Subscribe(32, eventbus.SessionSwept)
	defer unsub()

	a := f.create(t, 1, "Monday 14:00-15:00")   // 2024-05-20
	b := f.create(t, 1, "Tuesday 14:00-15:00")  // 2024-05-21
	c := f.create(t, 1, "Thursday 14:00-15:00") // 2024-05-16
	d := f.create(t, 4, "Monday 14:00-15:00")   // 2024-06-10
	if _, err := f.m.Transition(ctx, c.ID, model.StatusCancelled); err != nil {
		t.Fatal(err)
	}

	f.clock.Set(time.Date(2024, 5, 22, 0, 0, 0, 0, time.UTC))
	n, err := f.m.Sweep(ctx)
	if err != nil || n != 2 {
		t.Fatalf("Sweep = %d, %v; want 2", n, err)
	}
	for id, want := range map[string]model.Status{
		a.ID: model.StatusExpired, b.ID: model.StatusExpired,
		c.ID: model.StatusCancelled, d.ID: model.StatusActive,
	} {
		got, _ := f.st.GetSession(ctx, id)
		if got.Status != want {
			t.Fatalf("%s status = %s, want %s", id, got.Status, want)
		}
	}
	if n, err := f.m.Sweep(ctx); err != nil || n != 0 {
		t.Fatalf("second Sweep = %d, %v; want 0", n, err)
	}
	for i := 0; i < 2; i++ {
		select {
		case <-events:
		case <-time.After(time.Second):
			t.Fatal("missing session.swept event")
		}
	}
}

func TestRegisterSweep(t *testing.T) {
	t.Parallel()
	f := newLifecycleFixture(t)
	if err := f.m.RegisterSweep(); err != nil {
		t.Fatal(err)
	}
	if got := f.trig.intervals[SweepJobName]; got != time.Minute {
		t.Fatalf("sweep interval = %v, want 1m", got)
	}
	if err := f.trig.jobs[SweepJobName](context.Background()); err != nil {
		t.Fatalf("sweep job: %v", err)
	}
}

func TestRehydrateRebuildsSchedule(t *testing.T) {
	t.Parallel()
	f := newLifecycleFixture(t)
	ctx := context.Background()
	a := f.create(t, 2, "Monday 14:00-15:00", "Friday 09:00-10:00")
	b := f.create(t, 1, "Tuesday 14:00-15:00")
	c := f.create(t, 1, "Thursday 14:00-15:00")
	if _, err := f.m.Transition(ctx, c.ID, model.StatusCompleted); err != nil {
		t.Fatal(err)
	}
	before := f.trig.onceNames()

	// Fresh process: empty registries over the same store.
	trig, rem := newFakeTriggers(), newFakeReminders()
	m := NewManager(Config{}, f.st, trig, rem, nil, logx.Nop(), WithClock(f.clock.Now))
	rep, err := m.Rehydrate(ctx)
	if err != nil {
		t.Fatalf("Rehydrate: %v", err)
	}
	if rep.Active != 2 || rep.Armed != 2 || rep.Skipped != 0 {
		t.Fatalf("report = %+v", rep)
	}
	after := trig.onceNames()
	if len(after) != len(before) || after[0] != before[0] || after[1] != before[1] {
		t.Fatalf("expiry jobs = %v, want %v", after, before)
	}
	if n, _ := rem.counts(a.ID); n != 2 {
		t.Fatalf("reminders for a = %d, want 2", n)
	}
	if n, _ := rem.counts(b.ID); n != 1 {
		t.Fatalf("reminders for b = %d, want 1", n)
	}
	if n, _ := rem.counts(c.ID); n != 0 {
		t.Fatalf("reminders for completed session = %d", n)
	}
}

// corruptStore fails to load selected sessions.
type corruptStore struct {
	storage.Store
	bad map[string]bool
}

func (c corruptStore) GetSession(ctx context.Context, id string) (*model.Session, error) {
	if c.bad[id] {
		return nil, errors.New("decode slots: corrupt")
	}
	return c.Store.GetSession(ctx, id)
}

func TestRehydrateSkipsCorruptRecords(t *testing.T) {
	t.Parallel()
	f := newLifecycleFixture(t)
	ctx := context.Background()
	a := f.create(t, 2, "Monday 14:00-15:00")
	b := f.create(t, 2, "Tuesday 14:00-15:00")

	trig, rem := newFakeTriggers(), newFakeReminders()
	m := NewManager(Config{}, corruptStore{Store: f.st, bad: map[string]bool{a.ID: true}}, trig, rem, nil, logx.Nop())
	rep, err := m.Rehydrate(ctx)
	if err != nil {
		t.Fatalf("Rehydrate: %v", err)
	}
	if rep.Armed != 1 || rep.Skipped != 1 {
		t.Fatalf("report = %+v, want 1 armed 1 skipped", rep)
	}
	if _, ok := trig.onceAt(ExpiryJobName(b.ID)); !ok {
		t.Fatal("healthy session not rearmed")
	}
}
