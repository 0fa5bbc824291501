package reminder

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestKeyedMutexSerializesSameKey(t *testing.T) {
	t.Parallel()
	k := newKeyedMutex()
	var inside, peak atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := k.Lock(context.Background(), "a")
			if err != nil {
				t.Errorf("lock: %v", err)
				return
			}
			n := inside.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			inside.Add(-1)
			unlock()
		}()
	}
	wg.Wait()
	if peak.Load() != 1 {
		t.Fatalf("peak holders = %d, want 1", peak.Load())
	}
	if k.size() != 0 {
		t.Fatalf("size = %d after all unlocks", k.size())
	}
}

func TestKeyedMutexIndependentKeys(t *testing.T) {
	t.Parallel()
	k := newKeyedMutex()
	ua, err := k.Lock(context.Background(), "a")
	if err != nil {
		t.Fatal(err)
	}
	defer ua()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	ub, err := k.Lock(ctx, "b")
	if err != nil {
		t.Fatalf("other key blocked: %v", err)
	}
	ub()
}

func TestKeyedMutexContextCancel(t *testing.T) {
	t.Parallel()
	k := newKeyedMutex()
	unlock, err := k.Lock(context.Background(), "a")
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := k.Lock(ctx, "a"); err == nil {
		t.Fatal("expected context error while held")
	}
	if k.size() != 1 {
		t.Fatalf("size = %d, want 1", k.size())
	}

	unlock()
	unlock() // second call is a no-op
	if k.size() != 0 {
		t.Fatalf("size = %d, want 0", k.size())
	}
}
