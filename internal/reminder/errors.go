package reminder

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrInvalidTrigger matches every *InvalidTriggerError.
	ErrInvalidTrigger = errors.New("invalid trigger")
	ErrInvalidInput   = errors.New("invalid reminder input")
)

// InvalidTriggerError is a validation failure on the requested fire time.
// It is returned before any store or scheduler call, so callers should
// re-prompt rather than retry.
type InvalidTriggerError struct {
	TriggerAt time.Time
	Reason    string
	Err       error
}

func (e *InvalidTriggerError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid trigger %s: %s: %v", formatTrigger(e.TriggerAt), e.Reason, e.Err)
	}
	return fmt.Sprintf("invalid trigger %s: %s", formatTrigger(e.TriggerAt), e.Reason)
}

func (e *InvalidTriggerError) Is(target error) bool { return target == ErrInvalidTrigger }
func (e *InvalidTriggerError) Unwrap() error        { return e.Err }

func formatTrigger(t time.Time) string {
	if t.IsZero() {
		return "(unset)"
	}
	return t.UTC().Format(time.RFC3339)
}

func invalidTrigger(at time.Time, reason string, err error) error {
	return &InvalidTriggerError{TriggerAt: at, Reason: reason, Err: err}
}

func invalidInput(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}
