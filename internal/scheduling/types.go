package scheduling

import (
	"context"
	"errors"
	"time"

	"remindd/internal/capability"
)

var (
	// ErrUnknownHandle is returned by backends for handles they do not hold:
	// already fired, already cancelled, issued by another process or mode.
	ErrUnknownHandle = errors.New("unknown schedule handle")
	// ErrForeignHandle means the timer belongs to another process, or to a
	// backend this process cannot reach, and its liveness is unknown.
	ErrForeignHandle = errors.New("schedule handle owned elsewhere")
	ErrClosed        = errors.New("scheduling backend closed")
)

// ReasonOneShot is the outcome reason when a capable host is running a
// short-lived command that cannot hold runtime timers.
const ReasonOneShot = "one_shot"

// TaskType is the asynq task type of a native reminder.
const TaskType = "reminder:fire"

// Notification is what a timer shows when it fires.
type Notification struct {
	ReminderID string    `json:"reminder_id"`
	OwnerID    string    `json:"owner_id"`
	Title      string    `json:"title"`
	Body       string    `json:"body"`
	FireAt     time.Time `json:"fire_at"`
}

type Outcome string

const (
	OutcomeArmed            Outcome = "armed"
	OutcomeUnavailable      Outcome = "unavailable"
	OutcomePermissionDenied Outcome = "permission_denied"
	OutcomeRejected         Outcome = "rejected"
	OutcomeBackendError     Outcome = "backend_error"
)

// Result of a Schedule call. Handle is set only when Outcome is armed.
type Result struct {
	Handle  string  `json:"handle,omitempty"`
	Outcome Outcome `json:"outcome"`
	Reason  string  `json:"reason,omitempty"`
}

func (r Result) Armed() bool { return r.Outcome == OutcomeArmed && r.Handle != "" }

// Backend is one timer mechanism.
type Backend interface {
	Mode() capability.Mode
	// Arm starts a timer that fires n after delay. delay is always positive.
	Arm(ctx context.Context, n Notification, delay time.Duration) (handle string, err error)
	// Disarm stops a pending timer; ErrUnknownHandle if there is none.
	Disarm(ctx context.Context, handle string) error
	// Live reports whether handle still names a pending timer.
	Live(ctx context.Context, handle string) (bool, error)
	Close() error
}

// FireCheck is consulted just before a fired timer is delivered. false means
// the stored reminder was edited, disabled or deleted since the timer was
// armed, possibly by another process, and the timer is dropped.
type FireCheck func(ctx context.Context, handle string, n Notification) (bool, error)

// PermissionGate asks the user whether notifications may be shown.
type PermissionGate interface {
	Request(ctx context.Context) (granted bool, err error)
}

// GateFunc adapts a function to PermissionGate.
type GateFunc func(ctx context.Context) (bool, error)

func (f GateFunc) Request(ctx context.Context) (bool, error) { return f(ctx) }

// AllowAll grants every request.
var AllowAll PermissionGate = GateFunc(func(context.Context) (bool, error) { return true, nil })

// DenyAll refuses every request.
var DenyAll PermissionGate = GateFunc(func(context.Context) (bool, error) { return false, nil })
