package scheduling

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"remindd/internal/capability"
	"remindd/internal/eventbus"
	"remindd/internal/notifier"
	logx "remindd/pkg/logx"
)

// State is the terminal state of a runtime timer.
type State string

const (
	StatePending   State = "pending"
	StateFired     State = "fired"
	StateCancelled State = "cancelled"
)

const finishedKeep = 4096

type runtimeTimer struct {
	timer *time.Timer
	n     Notification
	done  chan struct{}
	state State
}

// Runtime arms in-process timers. Timers die with the process; handles carry
// a per-process epoch so handles from an earlier run are never mistaken for
// live ones.
type Runtime struct {
	epoch    string
	notifier notifier.Notifier
	bus      eventbus.Bus
	log      logx.Logger

	// mu orders fire against cancel: whichever takes it first wins and the
	// other becomes a no-op.
	mu       sync.Mutex
	closed   bool
	check    FireCheck
	pending  map[string]*runtimeTimer
	finished map[string]State
	order    []string
}

func NewRuntime(n notifier.Notifier, bus eventbus.Bus, log logx.Logger) *Runtime {
	if log.IsZero() {
		log = logx.Nop()
	}
	if bus == nil {
		bus = eventbus.Nop{}
	}
	r := &Runtime{
		epoch:    newEpoch(),
		notifier: n,
		bus:      bus,
		log:      log.With(logx.String("comp", "scheduling.runtime")),
		pending:  map[string]*runtimeTimer{},
		finished: map[string]State{},
	}
	openEpochs.Store(r.epoch, struct{}{})
	return r
}

func (r *Runtime) Mode() capability.Mode { return capability.ModeRuntime }

// Owns reports whether handle was issued by this Runtime.
func (r *Runtime) Owns(handle string) bool {
	prefix, scope, _, err := splitHandle(handle)
	return err == nil && prefix == runtimePrefix && scope == r.epoch
}

// SetFireCheck installs the check run before each delivery.
func (r *Runtime) SetFireCheck(fc FireCheck) {
	r.mu.Lock()
	r.check = fc
	r.mu.Unlock()
}

func (r *Runtime) Arm(_ context.Context, n Notification, delay time.Duration) (string, error) {
	handle := joinHandle(runtimePrefix, r.epoch, uuid.NewString())

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return "", ErrClosed
	}
	t := &runtimeTimer{n: n, done: make(chan struct{}), state: StatePending}
	r.pending[handle] = t
	// The callback blocks on mu until this function returns, so t.timer is set
	// before fire can look at it.
	t.timer = time.AfterFunc(delay, func() { r.fire(handle) })
	return handle, nil
}

func (r *Runtime) fire(handle string) {
	r.mu.Lock()
	t, ok := r.pending[handle]
	if !ok || t.state != StatePending {
		r.mu.Unlock()
		return
	}
	r.finishLocked(handle, t, StateFired)
	check := r.check
	r.mu.Unlock()

	r.deliver(handle, t.n, check)
}

func (r *Runtime) deliver(handle string, n Notification, check FireCheck) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if !stillDue(ctx, check, handle, n, r.bus, r.log) {
		return
	}
	r.log.Debug("runtime timer fired", logx.String("handle", handle), logx.String("reminder_id", n.ReminderID))
	eventbus.Reminder(r.bus, eventbus.ReminderFired, eventbus.ReminderEvent{
		ReminderID: n.ReminderID, OwnerID: n.OwnerID, Handle: handle, Enabled: true, TriggerAt: n.FireAt,
	})
	if r.notifier == nil {
		return
	}
	err := r.notifier.Notify(ctx, notifier.Message{
		Key:        handle,
		ReminderID: n.ReminderID,
		OwnerID:    n.OwnerID,
		Title:      n.Title,
		Body:       n.Body,
		FireAt:     n.FireAt,
	})
	if err != nil {
		r.log.Warn("fired reminder not presented", logx.String("reminder_id", n.ReminderID), logx.Err(err))
	}
}

func (r *Runtime) Disarm(_ context.Context, handle string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.pending[handle]
	if !ok {
		return ErrUnknownHandle
	}
	t.timer.Stop()
	r.finishLocked(handle, t, StateCancelled)
	return nil
}

func (r *Runtime) finishLocked(handle string, t *runtimeTimer, st State) {
	t.state = st
	delete(r.pending, handle)
	close(t.done)

	r.finished[handle] = st
	r.order = append(r.order, handle)
	if len(r.order) > finishedKeep {
		drop := r.order[0]
		r.order = r.order[1:]
		delete(r.finished, drop)
	}
}

func (r *Runtime) Live(_ context.Context, handle string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.pending[handle]
	return ok, nil
}

// Done returns a channel closed exactly once when handle fires or is
// cancelled. ok is false for handles this process never issued or has
// forgotten.
func (r *Runtime) Done(handle string) (done <-chan struct{}, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.pending[handle]; ok {
		return t.done, true
	}
	if _, ok := r.finished[handle]; ok {
		ch := make(chan struct{})
		close(ch)
		return ch, true
	}
	return nil, false
}

// State reports where handle is in its lifecycle.
func (r *Runtime) State(handle string) (State, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.pending[handle]; ok {
		return StatePending, true
	}
	st, ok := r.finished[handle]
	return st, ok
}

// Pending counts armed timers.
func (r *Runtime) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

// Close cancels every pending timer.
func (r *Runtime) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	openEpochs.Delete(r.epoch)
	for h, t := range r.pending {
		t.timer.Stop()
		r.finishLocked(h, t, StateCancelled)
	}
	return nil
}

// stillDue runs check. A failing check delivers anyway: a duplicate is
// better than a lost reminder.
func stillDue(ctx context.Context, check FireCheck, handle string, n Notification, bus eventbus.Bus, log logx.Logger) bool {
	if check == nil {
		return true
	}
	ok, err := check(ctx, handle, n)
	if err != nil {
		log.Warn("fire check failed; delivering", logx.String("reminder_id", n.ReminderID), logx.String("handle", handle), logx.Err(err))
		return true
	}
	if !ok {
		log.Info("stale timer dropped", logx.String("reminder_id", n.ReminderID), logx.String("handle", handle))
		eventbus.Reminder(bus, eventbus.ReminderStale, eventbus.ReminderEvent{
			ReminderID: n.ReminderID, OwnerID: n.OwnerID, Handle: handle, TriggerAt: n.FireAt,
		})
	}
	return ok
}
