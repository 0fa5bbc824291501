package trigger

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrNotFuture is matched (errors.Is) by every Rejection.
	ErrNotFuture   = errors.New("trigger time is not in the future")
	ErrZeroTime    = errors.New("trigger time required")
	ErrUnknownZone = errors.New("unknown timezone")
)

// Rejection is the explicit "not scheduled" result of ComputeDelay.
type Rejection struct {
	Now    time.Time
	At     time.Time
	Reason string // "past" | "now" | "sub_second"
}

func (r *Rejection) Error() string {
	return fmt.Sprintf("trigger %s rejected at %s: %s",
		r.At.UTC().Format(time.RFC3339), r.Now.UTC().Format(time.RFC3339), r.Reason)
}

func (r *Rejection) Is(target error) bool { return target == ErrNotFuture }

// IsRejected reports whether err is a calculator rejection.
func IsRejected(err error) bool { return errors.Is(err, ErrNotFuture) }

// ComputeDelay returns the whole-second delay from now until at.
//
// The delay is floored to seconds. A delay that floors to zero is rejected
// rather than treated as "fire immediately", so a trigger that is only a few
// hundred milliseconds ahead of the caller's clock never arms a timer.
func ComputeDelay(now, at time.Time) (time.Duration, error) {
	if at.IsZero() {
		return 0, &Rejection{Now: now, At: at, Reason: "past"}
	}
	raw := at.Sub(now)
	switch {
	case raw < 0:
		return 0, &Rejection{Now: now, At: at, Reason: "past"}
	case raw == 0:
		return 0, &Rejection{Now: now, At: at, Reason: "now"}
	}
	// Truncate rounds toward zero, which is floor for positive durations.
	d := raw.Truncate(time.Second)
	if d <= 0 {
		return 0, &Rejection{Now: now, At: at, Reason: "sub_second"}
	}
	return d, nil
}

// IsFuture is ComputeDelay without the delay.
func IsFuture(now, at time.Time) bool {
	_, err := ComputeDelay(now, at)
	return err == nil
}

// LoadZone resolves an IANA zone name. Empty means UTC.
func LoadZone(name string) (*time.Location, error) {
	name = strings.TrimSpace(name)
	if name == "" || strings.EqualFold(name, "UTC") {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("%w %q: %v", ErrUnknownZone, name, err)
	}
	return loc, nil
}

// Resolve interprets the wall-clock fields of wall (its own location is
// ignored) in the named zone and returns the absolute instant.
func Resolve(wall time.Time, zone string) (time.Time, error) {
	if wall.IsZero() {
		return time.Time{}, ErrZeroTime
	}
	loc, err := LoadZone(zone)
	if err != nil {
		return time.Time{}, err
	}
	y, mo, d := wall.Date()
	h, mi, s := wall.Clock()
	return time.Date(y, mo, d, h, mi, s, wall.Nanosecond(), loc), nil
}
