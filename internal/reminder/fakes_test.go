package reminder

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"remindd/internal/clock"
	"remindd/internal/scheduling"
	"remindd/internal/store"
)

// fakeScheduler records the order of schedule and cancel calls and tracks
// which handles are live.
type fakeScheduler struct {
	t     *testing.T
	clock clock.Clock

	mu      sync.Mutex
	seq     int
	calls   []string
	live    map[string]string // handle -> reminder id
	outcome scheduling.Outcome
	liveErr error
}

func newFakeScheduler(t *testing.T, c clock.Clock) *fakeScheduler {
	return &fakeScheduler{t: t, clock: c, live: map[string]string{}, outcome: scheduling.OutcomeArmed}
}

func (f *fakeScheduler) Schedule(_ context.Context, n scheduling.Notification) scheduling.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !n.FireAt.After(f.clock.Now()) {
		f.t.Errorf("schedule called with non-future trigger %v (now %v)", n.FireAt, f.clock.Now())
	}
	f.calls = append(f.calls, "schedule:"+n.ReminderID)
	if f.outcome != scheduling.OutcomeArmed {
		return scheduling.Result{Outcome: f.outcome}
	}
	f.seq++
	h := fmt.Sprintf("H%d", f.seq)
	f.live[h] = n.ReminderID
	return scheduling.Result{Handle: h, Outcome: scheduling.OutcomeArmed}
}

func (f *fakeScheduler) Cancel(_ context.Context, handle string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "cancel:"+handle)
	delete(f.live, handle)
}

func (f *fakeScheduler) Live(_ context.Context, handle string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.liveErr != nil {
		return false, f.liveErr
	}
	_, ok := f.live[handle]
	return ok, nil
}

// fire simulates a timer going off.
func (f *fakeScheduler) fire(handle string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.live, handle)
}

func (f *fakeScheduler) liveFor(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, rid := range f.live {
		if rid == id {
			n++
		}
	}
	return n
}

func (f *fakeScheduler) reset() {
	f.mu.Lock()
	f.calls = nil
	f.mu.Unlock()
}

func (f *fakeScheduler) log() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeScheduler) count(prefix string) int {
	n := 0
	for _, c := range f.log() {
		if len(c) >= len(prefix) && c[:len(prefix)] == prefix {
			n++
		}
	}
	return n
}

// flakyStore fails selected operations.
type flakyStore struct {
	store.Store

	mu               sync.Mutex
	failHandleWrites bool
	failUpdates      bool
	failDeletes      bool
	updates          int
}

var errFlaky = &store.Error{Op: "update", Err: errors.New("connection reset"), Retryable: true}

func (s *flakyStore) Update(ctx context.Context, id, owner string, p store.Patch) (store.Reminder, error) {
	s.mu.Lock()
	s.updates++
	handleOnly := p.LocalHandle != nil && *p.LocalHandle != "" && p.Enabled == nil && p.TriggerAt == nil
	fail := s.failUpdates || (s.failHandleWrites && handleOnly)
	s.mu.Unlock()
	if fail {
		return store.Reminder{}, errFlaky
	}
	return s.Store.Update(ctx, id, owner, p)
}

func (s *flakyStore) Delete(ctx context.Context, id, owner string) error {
	s.mu.Lock()
	fail := s.failDeletes
	s.mu.Unlock()
	if fail {
		return &store.Error{Op: "delete", Err: errors.New("timeout"), Retryable: true}
	}
	return s.Store.Delete(ctx, id, owner)
}
