package notifier

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"skillswap/internal/eventbus"
	"skillswap/internal/storage"
	"skillswap/internal/transport"
	logx "skillswap/pkg/logx"
)

type fakeSender struct {
	mu    sync.Mutex
	sent  []string
	fails int // fail this many sends first
	err   error
	ch    chan string
}

func newFakeSender() *fakeSender { return &fakeSender{ch: make(chan string, 16)} }

func (f *fakeSender) Name() string { return "fake" }

func (f *fakeSender) Send(_ context.Context, userID, text string) error {
	f.mu.Lock()
	if f.err != nil {
		err := f.err
		f.mu.Unlock()
		f.ch <- "err:" + userID
		return err
	}
	if f.fails > 0 {
		f.fails--
		f.mu.Unlock()
		return errors.New("transient")
	}
	f.sent = append(f.sent, userID+":"+text)
	f.mu.Unlock()
	f.ch <- userID
	return nil
}

func (f *fakeSender) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func testConfig() Config {
	return Config{
		Enabled:       true,
		Workers:       1,
		QueueSize:     8,
		RatePerSec:    1000,
		RetryMax:      2,
		RetryBase:     time.Millisecond,
		RetryMaxDelay: 5 * time.Millisecond,
		DedupWindow:   time.Hour,
		PersistDedup:  true,
	}
}

func waitFor(t *testing.T, ch <-chan string) string {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for send")
		return ""
	}
}

func TestNotifyDisabledAndStopped(t *testing.T) {
	t.Parallel()
	s := New(Config{}, newFakeSender(), logx.Nop(), nil, nil)
	if err := s.Notify(context.Background(), Notification{UserID: "u", Text: "x"}); !errors.Is(err, ErrDisabled) {
		t.Fatalf("disabled err = %v", err)
	}
	s = New(testConfig(), newFakeSender(), logx.Nop(), nil, nil)
	if err := s.Notify(context.Background(), Notification{UserID: "u", Text: "x"}); !errors.Is(err, ErrStopped) {
		t.Fatalf("not started err = %v", err)
	}
}

func TestNotifyDeliversAndDedups(t *testing.T) {
	t.Parallel()
	snd := newFakeSender()
	bus := eventbus.New()
	events, unsub := bus.Subscribe(16, "reminder.sent", "reminder.deduped")
	defer unsub()

	s := New(testConfig(), snd, logx.Nop(), bus, storage.NewMemory())
	ctx := context.Background()
	s.Start(ctx)
	defer s.Stop(ctx)

	n := Notification{UserID: "alice", Text: "starts soon", Key: "reminder:s1:0:2024-05-20:alice", Kind: "reminder"}
	if err := s.Notify(ctx, n); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	waitFor(t, snd.ch)
	if err := s.Notify(ctx, n); err != nil {
		t.Fatalf("Notify duplicate: %v", err)
	}

	seen := map[string]int{}
	for i := 0; i < 2; i++ {
		select {
		case ev := <-events:
			seen[ev.Type]++
		case <-time.After(2 * time.Second):
			t.Fatalf("events so far %v", seen)
		}
	}
	if seen["reminder.sent"] != 1 || seen["reminder.deduped"] != 1 {
		t.Fatalf("events = %v", seen)
	}
	if snd.count() != 1 {
		t.Fatalf("sent = %d, want 1", snd.count())
	}
	if h := s.Snapshot(); len(h) != 1 || h[0].UserID != "alice" {
		t.Fatalf("history = %+v", h)
	}
}

func TestDedupSurvivesRestartThroughStore(t *testing.T) {
	t.Parallel()
	st := storage.NewMemory()
	ctx := context.Background()
	key := "reminder:s1:0:2024-05-20:bob"
	if err := st.PutDedup(ctx, key, time.Now().Add(time.Hour)); err != nil {
		t.Fatal(err)
	}
	snd := newFakeSender()
	s := New(testConfig(), snd, logx.Nop(), nil, st)
	s.Start(ctx)
	if err := s.Notify(ctx, Notification{UserID: "bob", Text: "x", Key: key}); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	s.Stop(ctx)
	if snd.count() != 0 {
		t.Fatalf("sent = %d, want 0 (persisted dedup)", snd.count())
	}
}

func TestRetriesTransientFailures(t *testing.T) {
	t.Parallel()
	snd := newFakeSender()
	snd.fails = 2
	s := New(testConfig(), snd, logx.Nop(), nil, nil)
	ctx := context.Background()
	s.Start(ctx)
	defer s.Stop(ctx)

	if err := s.Notify(ctx, Notification{UserID: "alice", Text: "x"}); err != nil {
		t.Fatal(err)
	}
	if got := waitFor(t, snd.ch); got != "alice" {
		t.Fatalf("sent to %q", got)
	}
}

func TestNoRecipientIsNotRetried(t *testing.T) {
	t.Parallel()
	snd := newFakeSender()
	snd.err = transport.ErrNoRecipient
	bus := eventbus.New()
	events, unsub := bus.Subscribe(4, "notifier.failed")
	defer unsub()

	s := New(testConfig(), snd, logx.Nop(), bus, nil)
	ctx := context.Background()
	s.Start(ctx)
	defer s.Stop(ctx)

	if err := s.Notify(ctx, Notification{UserID: "ghost", Text: "x"}); err != nil {
		t.Fatal(err)
	}
	waitFor(t, snd.ch)
	select {
	case ev := <-events:
		if d := ev.Data.(NotificationEvent); d.UserID != "ghost" || d.Error == "" {
			t.Fatalf("event = %+v", d)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("missing failed event")
	}
	select {
	case v := <-snd.ch:
		t.Fatalf("unexpected retry %q", v)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestReminderFailureSentOnce(t *testing.T) {
	t.Parallel()
	snd := newFakeSender()
	snd.err = errors.New("telegram down")
	bus := eventbus.New()
	events, unsub := bus.Subscribe(4, "reminder.failed")
	defer unsub()

	s := New(testConfig(), snd, logx.Nop(), bus, nil)
	ctx := context.Background()
	s.Start(ctx)
	defer s.Stop(ctx)

	n := Notification{UserID: "alice", Text: "starts soon", Key: "reminder:s1:0:2024-05-20:alice", Kind: "reminder", NoRetry: true}
	if err := s.Notify(ctx, n); err != nil {
		t.Fatal(err)
	}
	select {
	case <-events:
	case <-time.After(2 * time.Second):
		t.Fatal("missing reminder.failed event")
	}
	if got := len(snd.ch); got != 1 {
		t.Fatalf("send attempts = %d, want 1", got)
	}
}

func TestQueueFull(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	cfg.QueueSize = 1
	cfg.DedupWindow = 0
	block := make(chan struct{})
	snd := &blockingSender{release: block}
	s := New(cfg, snd, logx.Nop(), nil, nil)
	ctx := context.Background()
	s.Start(ctx)
	defer func() {
		close(block)
		s.Stop(ctx)
	}()

	var full bool
	for i := 0; i < 5; i++ {
		if err := s.Notify(ctx, Notification{UserID: "u", Text: "x"}); errors.Is(err, ErrQueueFull) {
			full = true
			break
		}
	}
	if !full {
		t.Fatal("expected ErrQueueFull")
	}
}

type blockingSender struct{ release chan struct{} }

func (b *blockingSender) Name() string { return "blocking" }
func (b *blockingSender) Send(ctx context.Context, _, _ string) error {
	select {
	case <-b.release:
	case <-ctx.Done():
	}
	return nil
}

func TestRetryDelayBounded(t *testing.T) {
	t.Parallel()
	cfg := Config{RetryBase: 100 * time.Millisecond, RetryMaxDelay: time.Second}
	for attempt := 1; attempt < 10; attempt++ {
		if d := retryDelay(cfg, attempt); d < 0 || d > time.Second {
			t.Fatalf("retryDelay(%d) = %v", attempt, d)
		}
	}
}
