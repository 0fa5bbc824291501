package notifier

import (
	"math"
	"sync"
	"time"
)

// dedupSet remembers recently delivered keys until their window expires.
// A timer that fires twice (native retry after a lost ack, or a reconcile
// race) must not notify the user twice.
type dedupSet struct {
	mu    sync.Mutex
	until map[string]time.Time
}

func newDedupSet() *dedupSet { return &dedupSet{until: map[string]time.Time{}} }

// admit records key and reports whether it was not already inside its
// window. The set is pruned of expired keys and trimmed to maxEntries,
// evicting the soonest-expiring first.
func (d *dedupSet) admit(key string, now time.Time, window time.Duration, maxEntries int) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if exp, seen := d.until[key]; seen && now.Before(exp) {
		return false
	}
	d.until[key] = now.Add(window)

	for k, exp := range d.until {
		if !now.Before(exp) {
			delete(d.until, k)
		}
	}
	for len(d.until) > maxEntries {
		var oldest string
		for k, exp := range d.until {
			if oldest == "" || exp.Before(d.until[oldest]) {
				oldest = k
			}
		}
		delete(d.until, oldest)
	}
	return true
}

func (d *dedupSet) len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.until)
}

// backoff is the wait before attempt+1: RetryBase doubled per attempt,
// scaled by 0.7+0.6*jitter (jitter in [0,1)) and capped at RetryMaxDelay.
func backoff(cfg Config, attempt int, jitter float64) time.Duration {
	exp := math.Pow(2, float64(max(attempt-1, 0)))
	d := time.Duration(float64(cfg.RetryBase) * exp * (0.7 + jitter*0.6))
	if d <= 0 || d > cfg.RetryMaxDelay {
		return cfg.RetryMaxDelay
	}
	return d
}
