package notifier

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"remindd/internal/eventbus"
	logx "remindd/pkg/logx"
)

type recordSink struct {
	mu       sync.Mutex
	got      []Message
	failures int
	calls    int
}

func (r *recordSink) Name() string { return "record" }

func (r *recordSink) Deliver(_ context.Context, m Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if r.failures > 0 {
		r.failures--
		return errors.New("temporary")
	}
	r.got = append(r.got, m)
	return nil
}

func (r *recordSink) snapshot() ([]Message, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Message(nil), r.got...), r.calls
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met before deadline")
}

func testConfig() Config {
	return Config{Enabled: true, Workers: 1, QueueSize: 8, RatePerSec: 1000, RetryMax: 2,
		RetryBase: time.Millisecond, RetryMaxDelay: 2 * time.Millisecond, DedupWindow: time.Minute}
}

func TestNotifyDeliversToEverySink(t *testing.T) {
	t.Parallel()
	a, b := &recordSink{}, &recordSink{}
	s := New(testConfig(), logx.Nop(), nil, a, b)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)
	defer s.Stop(context.Background())

	if err := s.Notify(ctx, Message{Key: "h1", ReminderID: "r1", Title: "T", Body: "B"}); err != nil {
		t.Fatalf("notify: %v", err)
	}
	waitFor(t, func() bool {
		ga, _ := a.snapshot()
		gb, _ := b.snapshot()
		return len(ga) == 1 && len(gb) == 1
	})
	if h := s.Snapshot(); len(h) != 2 || h[0].Text != "T\nB" {
		t.Fatalf("history=%+v", h)
	}
}

func TestNotifyDedupsByKey(t *testing.T) {
	t.Parallel()
	sink := &recordSink{}
	bus := eventbus.New()
	ch, unsub := bus.Subscribe(16, EventDeduped)
	defer unsub()

	s := New(testConfig(), logx.Nop(), bus, sink)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)
	defer s.Stop(context.Background())

	for i := 0; i < 3; i++ {
		if err := s.Notify(ctx, Message{Key: "same", ReminderID: "r1"}); err != nil {
			t.Fatalf("notify: %v", err)
		}
	}
	waitFor(t, func() bool { got, _ := sink.snapshot(); return len(got) == 1 })
	for i := 0; i < 2; i++ {
		select {
		case <-ch:
		case <-time.After(time.Second):
			t.Fatalf("missing dedup event %d", i)
		}
	}
}

func TestNotifyRetriesSinkFailures(t *testing.T) {
	t.Parallel()
	sink := &recordSink{failures: 2}
	s := New(testConfig(), logx.Nop(), nil, sink)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)
	defer s.Stop(context.Background())

	if err := s.Notify(ctx, Message{ReminderID: "r1"}); err != nil {
		t.Fatalf("notify: %v", err)
	}
	waitFor(t, func() bool { got, calls := sink.snapshot(); return len(got) == 1 && calls == 3 })
}

func TestNotifyStates(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	cfg.Enabled = false
	if err := New(cfg, logx.Nop(), nil, &recordSink{}).Notify(context.Background(), Message{}); !errors.Is(err, ErrDisabled) {
		t.Fatalf("disabled: err=%v", err)
	}
	if err := New(testConfig(), logx.Nop(), nil).Notify(context.Background(), Message{}); !errors.Is(err, ErrNoSinks) {
		t.Fatalf("no sinks: err=%v", err)
	}
	if err := New(testConfig(), logx.Nop(), nil, &recordSink{}).Notify(context.Background(), Message{}); !errors.Is(err, ErrStopped) {
		t.Fatalf("not started: err=%v", err)
	}
	if New(testConfig(), logx.Nop(), nil).CanPresent() {
		t.Fatalf("no sinks should not present")
	}
}

func TestStopDrainsQueue(t *testing.T) {
	t.Parallel()
	sink := &recordSink{}
	s := New(testConfig(), logx.Nop(), nil, sink)
	s.Start(context.Background())
	for i := 0; i < 5; i++ {
		_ = s.Notify(context.Background(), Message{ReminderID: "r", Key: string(rune('a' + i))})
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	s.Stop(ctx)
	if got, _ := sink.snapshot(); len(got) != 5 {
		t.Fatalf("delivered %d want 5", len(got))
	}
	if err := s.Notify(context.Background(), Message{}); !errors.Is(err, ErrStopped) {
		t.Fatalf("after stop: err=%v", err)
	}
}

func TestBackoffBounds(t *testing.T) {
	t.Parallel()
	cfg := Config{RetryBase: 100 * time.Millisecond, RetryMaxDelay: time.Second}
	for attempt := 1; attempt <= 40; attempt++ {
		for _, j := range []float64{0, 0.5, 0.999} {
			if d := backoff(cfg, attempt, j); d <= 0 || d > time.Second {
				t.Fatalf("attempt %d jitter %v: delay %v out of bounds", attempt, j, d)
			}
		}
	}
	if d := backoff(cfg, 1, 0); d < 69*time.Millisecond || d > 71*time.Millisecond {
		t.Fatalf("first attempt low jitter = %v", d)
	}
	if d := backoff(cfg, 3, 0.999); d < 500*time.Millisecond || d > 530*time.Millisecond {
		t.Fatalf("third attempt high jitter = %v", d)
	}
}

func TestDedupSetWindowAndCap(t *testing.T) {
	t.Parallel()
	d := newDedupSet()
	now := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)

	if !d.admit("a", now, time.Minute, 2) {
		t.Fatal("first sighting rejected")
	}
	if d.admit("a", now.Add(30*time.Second), time.Minute, 2) {
		t.Fatal("duplicate inside window admitted")
	}
	if !d.admit("a", now.Add(2*time.Minute), time.Minute, 2) {
		t.Fatal("key not admitted after window")
	}

	later := now.Add(3 * time.Minute)
	d.admit("b", later, time.Minute, 2)
	d.admit("c", later.Add(time.Second), time.Minute, 2)
	d.admit("e", later.Add(2*time.Second), time.Minute, 2)
	if n := d.len(); n != 2 {
		t.Fatalf("len = %d, want cap 2", n)
	}
	if !d.admit("b", later.Add(3*time.Second), time.Minute, 2) {
		t.Fatal("soonest-expiring key should have been evicted")
	}
}
