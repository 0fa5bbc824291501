package trigger

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// Parse turns a user-supplied trigger string into an absolute instant.
//
// Supported forms:
//   - RFC3339: "2026-03-01T07:30:00+07:00" (zone argument ignored)
//   - Local wall clock in zone: "2026-03-01 07:30" or "2026-03-01 07:30:00"
//   - Relative to now: "+90m", "in 2h30m"
//
// Parse does not check that the result is in the future; callers run
// ComputeDelay for that so the rejection stays a distinct result.
func Parse(raw, zone string, now time.Time) (time.Time, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return time.Time{}, ErrZeroTime
	}

	low := strings.ToLower(s)
	if strings.HasPrefix(low, "+") || strings.HasPrefix(low, "in ") {
		v := strings.TrimSpace(strings.TrimPrefix(strings.TrimPrefix(low, "+"), "in "))
		d, err := time.ParseDuration(v)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid relative trigger %q (use '+90m' or 'in 2h'): %w", raw, err)
		}
		return now.Add(d), nil
	}

	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}

	if reWall.MatchString(s) {
		layout := "2006-01-02 15:04"
		if strings.Count(s, ":") == 2 {
			layout = "2006-01-02 15:04:05"
		}
		wall, err := time.Parse(layout, strings.Join(strings.Fields(s), " "))
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid trigger %q: %w", raw, err)
		}
		return Resolve(wall, zone)
	}

	return time.Time{}, fmt.Errorf(
		"invalid trigger %q (use RFC3339, 'YYYY-MM-DD HH:MM' or '+90m')", raw,
	)
}

var reWall = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}\s+\d{1,2}:\d{2}(:\d{2})?$`)
