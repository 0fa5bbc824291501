package scheduling

import (
	"context"
	"errors"
	"time"

	"remindd/internal/capability"
)

// Noop is the backend for hosts where nothing can be armed. Reason, if set,
// is reported instead of the probe's when the host itself was capable.
type Noop struct{ Reason string }

func (Noop) Mode() capability.Mode { return capability.ModeUnavailable }

func (Noop) Arm(context.Context, Notification, time.Duration) (string, error) {
	return "", errors.New("scheduling unavailable")
}

func (Noop) Disarm(context.Context, string) error      { return ErrUnknownHandle }
func (Noop) Live(context.Context, string) (bool, error) { return false, nil }
func (Noop) Close() error                               { return nil }
