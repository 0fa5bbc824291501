package scheduling

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"remindd/internal/capability"
	"remindd/internal/clock"
	"remindd/internal/eventbus"
	"remindd/internal/trigger"
	logx "remindd/pkg/logx"
)

// Adapter is the single entry point the lifecycle manager uses to arm and
// cancel timers.
type Adapter struct {
	probe   *capability.Probe
	backend Backend
	gate    PermissionGate
	clock   clock.Clock
	bus     eventbus.Bus
	log     logx.Logger

	permMu  sync.Mutex
	permSet bool
	permOK  bool
}

type Option func(*Adapter)

func WithClock(c clock.Clock) Option   { return func(a *Adapter) { a.clock = c } }
func WithGate(g PermissionGate) Option { return func(a *Adapter) { a.gate = g } }
func WithBus(b eventbus.Bus) Option    { return func(a *Adapter) { a.bus = b } }
func WithLogger(l logx.Logger) Option  { return func(a *Adapter) { a.log = l } }

// NewAdapter binds a probe to the backend that was selected from it. A nil
// backend behaves like Noop.
func NewAdapter(probe *capability.Probe, backend Backend, opts ...Option) *Adapter {
	if probe == nil {
		probe = capability.Unavailable()
	}
	if backend == nil {
		backend = Noop{}
	}
	a := &Adapter{
		probe:   probe,
		backend: backend,
		gate:    AllowAll,
		clock:   clock.Real(),
		bus:     eventbus.Nop{},
		log:     logx.Nop(),
	}
	for _, o := range opts {
		o(a)
	}
	if a.log.IsZero() {
		a.log = logx.Nop()
	}
	if a.bus == nil {
		a.bus = eventbus.Nop{}
	}
	if a.clock == nil {
		a.clock = clock.Real()
	}
	if a.gate == nil {
		a.gate = AllowAll
	}
	a.log = a.log.With(logx.String("comp", "scheduling"), logx.String("backend", string(backend.Mode())))
	return a
}

func (a *Adapter) Mode() capability.Mode { return a.backend.Mode() }

func (a *Adapter) Capability(ctx context.Context) capability.Result { return a.probe.Result(ctx) }

// Schedule arms a timer for n. It never returns an error; the outcome says
// what happened.
func (a *Adapter) Schedule(ctx context.Context, n Notification) Result {
	res := a.probe.Result(ctx)
	if !res.Capable || a.backend.Mode() == capability.ModeUnavailable {
		reason := a.unavailableReason(res)
		a.log.Debug("schedule skipped", logx.String("reminder_id", n.ReminderID), logx.String("reason", reason))
		return Result{Outcome: OutcomeUnavailable, Reason: reason}
	}

	delay, err := trigger.ComputeDelay(a.clock.Now(), n.FireAt)
	if err != nil {
		a.log.Debug("schedule rejected", logx.String("reminder_id", n.ReminderID), logx.Err(err))
		return Result{Outcome: OutcomeRejected, Reason: err.Error()}
	}

	if ok, reason := a.permitted(ctx); !ok {
		a.log.Info("notification permission not granted", logx.String("reminder_id", n.ReminderID), logx.String("reason", reason))
		return Result{Outcome: OutcomePermissionDenied, Reason: reason}
	}

	handle, err := a.backend.Arm(ctx, n, delay)
	if err != nil {
		a.log.Warn("arm failed", logx.String("reminder_id", n.ReminderID), logx.Err(err))
		a.bus.Publish(eventbus.Event{Type: eventbus.ScheduleFailed, Data: eventbus.ReminderEvent{
			ReminderID: n.ReminderID, OwnerID: n.OwnerID, TriggerAt: n.FireAt, Outcome: string(OutcomeBackendError),
		}})
		return Result{Outcome: OutcomeBackendError, Reason: err.Error()}
	}
	a.log.Debug("timer armed", logx.String("reminder_id", n.ReminderID), logx.String("handle", handle), logx.Duration("delay", delay))
	return Result{Handle: handle, Outcome: OutcomeArmed}
}

// unavailableReason prefers the probe's reason, unless the host was capable
// and the backend was left out on purpose.
func (a *Adapter) unavailableReason(res capability.Result) string {
	if !res.Capable {
		return string(res.Reason)
	}
	if nb, ok := a.backend.(Noop); ok && nb.Reason != "" {
		return nb.Reason
	}
	return "no_backend"
}

// permitted asks the gate once. A definite answer is cached for the process
// lifetime; a gate error is not.
func (a *Adapter) permitted(ctx context.Context) (bool, string) {
	a.permMu.Lock()
	defer a.permMu.Unlock()
	if a.permSet {
		if a.permOK {
			return true, ""
		}
		return false, "denied"
	}
	ok, err := a.gate.Request(ctx)
	if err != nil {
		return false, "permission request failed: " + err.Error()
	}
	a.permSet, a.permOK = true, ok
	if !ok {
		return false, "denied"
	}
	return true, ""
}

type ownership int

const (
	handleOwn ownership = iota
	handleDead
	handleForeign
)

type handleOwner interface {
	Owns(handle string) bool
}

// classify decides whether handle is this adapter's to act on. Runtime
// handles from a process that has exited are dead; ones from a process that
// may still run, and native handles without a native backend, are foreign.
func (a *Adapter) classify(handle string) ownership {
	prefix, scope, _, err := splitHandle(handle)
	if err != nil || ModeOf(handle) == "" {
		return handleDead
	}
	if ModeOf(handle) == string(a.backend.Mode()) {
		o, ok := a.backend.(handleOwner)
		if !ok || o.Owns(handle) {
			return handleOwn
		}
	}
	if prefix == runtimePrefix && !epochMayBeLive(scope) {
		return handleDead
	}
	return handleForeign
}

// Cancel stops the timer behind handle. Unknown handles and backend
// failures are logged and swallowed. A foreign timer cannot be stopped from
// here; its owner drops it at fire time once the record no longer matches.
func (a *Adapter) Cancel(ctx context.Context, handle string) {
	if handle == "" {
		return
	}
	switch a.classify(handle) {
	case handleDead:
		a.log.Debug("cancel miss", logx.String("handle", handle))
		a.bus.Publish(eventbus.Event{Type: eventbus.CancelMiss, Data: eventbus.ReminderEvent{Handle: handle}})
		return
	case handleForeign:
		a.log.Debug("timer owned elsewhere; left to its fire check", logx.String("handle", handle))
		a.bus.Publish(eventbus.Event{Type: eventbus.CancelForeign, Data: eventbus.ReminderEvent{Handle: handle}})
		return
	}
	err := a.backend.Disarm(ctx, handle)
	switch {
	case err == nil:
		a.log.Debug("timer cancelled", logx.String("handle", handle))
	case errors.Is(err, ErrUnknownHandle):
		a.log.Debug("cancel miss", logx.String("handle", handle))
		a.bus.Publish(eventbus.Event{Type: eventbus.CancelMiss, Data: eventbus.ReminderEvent{Handle: handle}})
	default:
		a.log.Warn("cancel failed", logx.String("handle", handle), logx.Err(err))
	}
}

// Live reports whether handle still names a pending timer. For foreign
// handles liveness is unknown and the error wraps ErrForeignHandle.
func (a *Adapter) Live(ctx context.Context, handle string) (bool, error) {
	if handle == "" {
		return false, nil
	}
	switch a.classify(handle) {
	case handleDead:
		return false, nil
	case handleForeign:
		return false, fmt.Errorf("%w: %s", ErrForeignHandle, handle)
	}
	return a.backend.Live(ctx, handle)
}

func (a *Adapter) Close() error { return a.backend.Close() }
