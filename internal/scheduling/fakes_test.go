package scheduling

import (
	"context"
	"fmt"
	"sync"
	"time"

	"remindd/internal/capability"
	"remindd/internal/notifier"
)

type fakeBackend struct {
	mu       sync.Mutex
	mode     capability.Mode
	armErr   error
	armed    map[string]Notification
	arms     int
	disarms  int
	disarmEr error
	seq      int
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{mode: capability.ModeRuntime, armed: map[string]Notification{}}
}

func (f *fakeBackend) Mode() capability.Mode { return f.mode }

func (f *fakeBackend) Arm(_ context.Context, n Notification, delay time.Duration) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.arms++
	if f.armErr != nil {
		return "", f.armErr
	}
	if delay <= 0 {
		panic("armed with non-positive delay")
	}
	f.seq++
	h := fmt.Sprintf("rt:test:%d", f.seq)
	f.armed[h] = n
	return h, nil
}

func (f *fakeBackend) Disarm(_ context.Context, h string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disarms++
	if f.disarmEr != nil {
		return f.disarmEr
	}
	if _, ok := f.armed[h]; !ok {
		return ErrUnknownHandle
	}
	delete(f.armed, h)
	return nil
}

func (f *fakeBackend) Live(_ context.Context, h string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.armed[h]
	return ok, nil
}

func (f *fakeBackend) Close() error { return nil }

type recordNotifier struct {
	mu  sync.Mutex
	got []notifier.Message
	ch  chan notifier.Message
}

func newRecordNotifier() *recordNotifier {
	return &recordNotifier{ch: make(chan notifier.Message, 64)}
}

func (r *recordNotifier) Notify(_ context.Context, m notifier.Message) error {
	r.mu.Lock()
	r.got = append(r.got, m)
	r.mu.Unlock()
	r.ch <- m
	return nil
}

func (r *recordNotifier) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.got)
}

func capable(mode capability.Mode) *capability.Probe {
	return capability.Static(capability.Result{Capable: true, Mode: mode, Reason: capability.ReasonRuntimeReady})
}
