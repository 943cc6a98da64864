package notifier

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"meetflow/internal/eventbus"
	"meetflow/internal/queue"
	logx "meetflow/pkg/logx"
)

type fakeSender struct {
	mu    sync.Mutex
	sent  []string
	fails int // fail this many calls first
	calls int
}

func (f *fakeSender) SendAlert(_ context.Context, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls <= f.fails {
		return errors.New("telegram: 502")
	}
	f.sent = append(f.sent, text)
	return nil
}

func (f *fakeSender) texts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent...)
}

type memDedup struct {
	mu sync.Mutex
	m  map[string]time.Time
}

func (d *memDedup) PutDedup(_ context.Context, key string, until time.Time) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.m[key] = until
	return nil
}

func (d *memDedup) GetDedup(_ context.Context, key string) (time.Time, bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	u, ok := d.m[key]
	return u, ok, nil
}

func testConfig() Config {
	return Config{
		Enabled:       true,
		RatePerSec:    100,
		RetryMax:      2,
		RetryBase:     time.Millisecond,
		RetryMaxDelay: 5 * time.Millisecond,
		DedupWindow:   time.Minute,
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met before deadline")
}

func TestNotifyDisabled(t *testing.T) {
	t.Parallel()
	s := New(Config{}, &fakeSender{}, logx.Nop(), nil, nil)
	s.Start(context.Background())
	if err := s.Notify(context.Background(), Alert{Text: "x"}); !errors.Is(err, ErrDisabled) {
		t.Fatalf("err = %v, want ErrDisabled", err)
	}
}

func TestNotifyBeforeStart(t *testing.T) {
	t.Parallel()
	s := New(testConfig(), &fakeSender{}, logx.Nop(), nil, nil)
	if err := s.Notify(context.Background(), Alert{Text: "x"}); !errors.Is(err, ErrStopped) {
		t.Fatalf("err = %v, want ErrStopped", err)
	}
}

func TestNotifyRetriesThenSends(t *testing.T) {
	t.Parallel()
	fs := &fakeSender{fails: 2}
	s := New(testConfig(), fs, logx.Nop(), nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)
	defer s.Stop(context.Background())

	if err := s.Notify(ctx, Alert{Priority: 9, Text: "queue stuck"}); err != nil {
		t.Fatalf("notify: %v", err)
	}
	waitFor(t, func() bool { return len(fs.texts()) == 1 })
	if got := fs.texts()[0]; got != "🚨 queue stuck" {
		t.Fatalf("text = %q", got)
	}
	if h := s.Snapshot(); len(h) != 1 {
		t.Fatalf("history = %d, want 1", len(h))
	}
}

func TestNotifyDedupWindow(t *testing.T) {
	t.Parallel()
	fs := &fakeSender{}
	bus := eventbus.New()
	events, unsubscribe := bus.Subscribe(16, "alert.")
	defer unsubscribe()

	s := New(testConfig(), fs, logx.Nop(), bus, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)

	for i := 0; i < 3; i++ {
		if err := s.Notify(ctx, Alert{Key: "same", Text: "boom"}); err != nil {
			t.Fatalf("notify %d: %v", i, err)
		}
	}
	if err := s.Notify(ctx, Alert{Key: "other", Text: "boom"}); err != nil {
		t.Fatalf("notify other: %v", err)
	}
	s.Stop(context.Background())

	if got := len(fs.texts()); got != 2 {
		t.Fatalf("sent = %d, want 2", got)
	}
	deduped := 0
	for len(events) > 0 {
		if e := <-events; e.Type == EventDeduped {
			deduped++
		}
	}
	if deduped != 2 {
		t.Fatalf("deduped events = %d, want 2", deduped)
	}
}

func TestPersistedDedupSurvivesRestart(t *testing.T) {
	t.Parallel()
	st := &memDedup{m: map[string]time.Time{}}
	cfg := testConfig()
	cfg.PersistDedup = true

	first := &fakeSender{}
	s1 := New(cfg, first, logx.Nop(), nil, st)
	s1.Start(context.Background())
	if err := s1.Notify(context.Background(), Alert{Key: "k", Text: "down"}); err != nil {
		t.Fatalf("notify: %v", err)
	}
	waitFor(t, func() bool {
		st.mu.Lock()
		defer st.mu.Unlock()
		return len(st.m) == 1
	})
	s1.Stop(context.Background())

	second := &fakeSender{}
	s2 := New(cfg, second, logx.Nop(), nil, st)
	s2.Start(context.Background())
	if err := s2.Notify(context.Background(), Alert{Key: "k", Text: "down"}); err != nil {
		t.Fatalf("notify: %v", err)
	}
	s2.Stop(context.Background())

	if len(first.texts()) != 1 || len(second.texts()) != 0 {
		t.Fatalf("sent first=%d second=%d, want 1/0", len(first.texts()), len(second.texts()))
	}
}

func TestWatchAlertsOnlyFinalFailures(t *testing.T) {
	t.Parallel()
	fs := &fakeSender{}
	bus := eventbus.New()
	s := New(testConfig(), fs, logx.Nop(), bus, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)
	defer s.Stop(context.Background())

	done := make(chan error, 1)
	go func() { done <- s.Watch(ctx, bus) }()
	// Let the subscription land before publishing.
	time.Sleep(20 * time.Millisecond)

	bus.Publish(eventbus.Event{Type: queue.EventFailed, Data: queue.Event{Queue: "email", Name: "send-email", JobID: "1", Attempt: 1, Err: "timeout"}})
	bus.Publish(eventbus.Event{Type: queue.EventFailed, Data: queue.Event{Queue: "email", Name: "send-email", JobID: "1", Attempt: 3, Err: "timeout", Final: true}})
	bus.Publish(eventbus.Event{Type: queue.EventCompleted, Data: queue.Event{Queue: "email", Name: "send-email", JobID: "2"}})

	waitFor(t, func() bool { return len(fs.texts()) == 1 })
	time.Sleep(20 * time.Millisecond)
	got := fs.texts()
	if len(got) != 1 {
		t.Fatalf("sent = %d, want 1", len(got))
	}
	if !strings.Contains(got[0], "email/send-email") || !strings.Contains(got[0], "attempts: 3") {
		t.Fatalf("unexpected alert text %q", got[0])
	}
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("watch returned %v", err)
	}
}

func TestJobFailureAlertTruncates(t *testing.T) {
	t.Parallel()
	a := JobFailureAlert(queue.Event{Queue: "q", Name: "n", JobID: "1", Err: strings.Repeat("x", 1000)})
	if !strings.HasSuffix(a.Text, "…") {
		t.Fatalf("expected truncated text, got %d chars", len(a.Text))
	}
	if a.Priority != 7 || !strings.HasPrefix(a.Key, "job.failed|q|n|") {
		t.Fatalf("unexpected alert %+v", a)
	}
}

func TestRetryDelayCapped(t *testing.T) {
	t.Parallel()
	cfg := Config{RetryBase: 100 * time.Millisecond, RetryMaxDelay: time.Second}
	for attempt := 1; attempt <= 10; attempt++ {
		if d := retryDelay(cfg, attempt); d <= 0 || d > time.Second {
			t.Fatalf("attempt %d: delay %v out of range", attempt, d)
		}
	}
}
