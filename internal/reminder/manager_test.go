package reminder

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"remindd/internal/capability"
	"remindd/internal/clock"
	"remindd/internal/scheduling"
	"remindd/internal/store"
)

var t0 = time.Date(2030, 3, 10, 8, 0, 0, 0, time.UTC)

type harness struct {
	clock *clock.Manual
	sched *fakeScheduler
	store *flakyStore
	mgr   *Manager
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	c := clock.NewManual(t0)
	h := &harness{clock: c, sched: newFakeScheduler(t, c), store: &flakyStore{Store: store.NewMemory()}}
	h.mgr = NewManager(h.store, h.sched, cfg, WithClock(c))
	return h
}

func (h *harness) create(t *testing.T, at time.Time) Result {
	t.Helper()
	res, err := h.mgr.Create(context.Background(), Input{OwnerID: "u1", Type: "feeding", TriggerAt: at})
	require.NoError(t, err)
	return res
}

func ptr[T any](v T) *T { return &v }

func TestCreateThenEditSwapsHandle(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{})
	ctx := context.Background()

	created := h.create(t, t0.Add(5*time.Second))
	require.NotNil(t, created.Schedule)
	require.Equal(t, scheduling.OutcomeArmed, created.Schedule.Outcome)
	h1 := created.Reminder.LocalHandle
	require.Equal(t, "H1", h1)

	h.sched.reset()
	edited, err := h.mgr.Edit(ctx, "u1", created.Reminder.ID, Changes{TriggerAt: ptr(t0.Add(10 * time.Second))})
	require.NoError(t, err)

	assert.Equal(t, []string{"cancel:H1", "schedule:" + created.Reminder.ID}, h.sched.log())
	assert.Equal(t, "H2", edited.Reminder.LocalHandle)

	stored, err := h.mgr.Get(ctx, "u1", created.Reminder.ID)
	require.NoError(t, err)
	assert.Equal(t, "H2", stored.LocalHandle)
	assert.True(t, stored.TriggerAt.Equal(t0.Add(10*time.Second)))
}

func TestCreateInThePastStoresWithoutHandle(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{})

	res := h.create(t, t0.Add(-time.Second))
	assert.Zero(t, h.sched.count("schedule:"))
	require.NotNil(t, res.Schedule)
	assert.Equal(t, scheduling.OutcomeRejected, res.Schedule.Outcome)
	assert.Empty(t, res.Reminder.LocalHandle)
	assert.True(t, res.Reminder.Enabled)

	stored, err := h.mgr.Get(context.Background(), "u1", res.Reminder.ID)
	require.NoError(t, err)
	assert.Empty(t, stored.LocalHandle)
}

func TestNonFutureTriggersNeverReachScheduler(t *testing.T) {
	t.Parallel()
	offsets := []time.Duration{-24 * time.Hour, -time.Second, 0, 500 * time.Millisecond, 999 * time.Millisecond}
	for _, off := range offsets {
		h := newHarness(t, Config{})
		ctx := context.Background()
		at := t0.Add(off)

		res := h.create(t, at)
		_, err := h.mgr.Edit(ctx, "u1", res.Reminder.ID, Changes{TriggerAt: &at})
		require.NoError(t, err)
		_, err = h.mgr.Toggle(ctx, "u1", res.Reminder.ID, false)
		require.NoError(t, err)
		_, err = h.mgr.Toggle(ctx, "u1", res.Reminder.ID, true)
		require.ErrorIs(t, err, ErrInvalidTrigger)

		assert.Zero(t, h.sched.count("schedule:"), "offset %v", off)
	}
}

func TestStrictTriggersRejectBeforeIO(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{StrictTriggers: true})
	ctx := context.Background()

	_, err := h.mgr.Create(ctx, Input{OwnerID: "u1", TriggerAt: t0.Add(-time.Minute)})
	var ite *InvalidTriggerError
	require.ErrorAs(t, err, &ite)
	assert.ErrorIs(t, err, ErrInvalidTrigger)

	list, err := h.store.ListUpcoming(ctx, "u1", time.Time{}, 0)
	require.NoError(t, err)
	assert.Empty(t, list)

	ok := h.create(t, t0.Add(time.Hour))
	h.sched.reset()
	_, err = h.mgr.Edit(ctx, "u1", ok.Reminder.ID, Changes{TriggerAt: ptr(t0)})
	require.ErrorIs(t, err, ErrInvalidTrigger)
	assert.Empty(t, h.sched.log(), "rejected edit must not cancel")
}

func TestCreateValidation(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{})
	ctx := context.Background()

	_, err := h.mgr.Create(ctx, Input{TriggerAt: t0.Add(time.Hour)})
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = h.mgr.Create(ctx, Input{OwnerID: "u1"})
	assert.ErrorIs(t, err, ErrInvalidTrigger)

	_, err = h.mgr.Create(ctx, Input{OwnerID: "u1", TriggerAt: t0.Add(time.Hour), Timezone: "Mars/Olympus"})
	assert.ErrorIs(t, err, ErrInvalidTrigger)
}

func TestRepeatedEditsKeepOneLiveTimer(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{})
	ctx := context.Background()
	res := h.create(t, t0.Add(time.Minute))
	id := res.Reminder.ID

	for i := 1; i <= 20; i++ {
		at := t0.Add(time.Duration(i) * time.Minute)
		if i%5 == 0 {
			at = t0.Add(-time.Minute)
		}
		_, err := h.mgr.Edit(ctx, "u1", id, Changes{TriggerAt: &at})
		require.NoError(t, err)
		require.LessOrEqual(t, h.sched.liveFor(id), 1, "after edit %d", i)

		stored, err := h.mgr.Get(ctx, "u1", id)
		require.NoError(t, err)
		if stored.LocalHandle != "" {
			live, _ := h.sched.Live(ctx, stored.LocalHandle)
			require.True(t, live, "stored handle must be the live one")
		}
	}
}

func TestConcurrentEditsKeepOneLiveTimer(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{})
	ctx := context.Background()
	res := h.create(t, t0.Add(time.Minute))
	id := res.Reminder.ID

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			at := t0.Add(time.Duration(i+2) * time.Minute)
			_, err := h.mgr.Edit(ctx, "u1", id, Changes{TriggerAt: &at})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, h.sched.liveFor(id))
	stored, err := h.mgr.Get(ctx, "u1", id)
	require.NoError(t, err)
	live, _ := h.sched.Live(ctx, stored.LocalHandle)
	assert.True(t, live)
	assert.Equal(t, h.sched.count("schedule:"), h.sched.count("cancel:")+1)
	assert.Zero(t, h.mgr.locks.size())
}

func TestDeleteRemovesRecordAndTimer(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{})
	ctx := context.Background()
	res := h.create(t, t0.Add(time.Hour))
	handle := res.Reminder.LocalHandle

	require.NoError(t, h.mgr.Delete(ctx, "u1", res.Reminder.ID))
	_, err := h.mgr.Get(ctx, "u1", res.Reminder.ID)
	assert.True(t, IsNotFound(err))
	assert.Zero(t, h.sched.liveFor(res.Reminder.ID))

	// A retried cancel on the now-unknown handle is harmless.
	h.sched.Cancel(ctx, handle)

	err = h.mgr.Delete(ctx, "u1", res.Reminder.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestDeleteProceedsWhenCancelFails(t *testing.T) {
	t.Parallel()
	st := store.NewMemory()
	backend := &brokenBackend{}
	adapter := scheduling.NewAdapter(
		capability.Static(capability.Result{Capable: true, Mode: capability.ModeRuntime}),
		backend,
	)
	m := NewManager(st, adapter, Config{})
	ctx := context.Background()

	rec, err := st.Insert(ctx, store.Reminder{OwnerID: "u1", TriggerAt: time.Now().Add(time.Hour), Enabled: true, LocalHandle: "rt:old:1"})
	require.NoError(t, err)
	require.NoError(t, m.Delete(ctx, "u1", rec.ID))
	assert.Equal(t, 1, backend.disarms)
	_, err = st.Get(ctx, rec.ID, "u1")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

type brokenBackend struct{ disarms int }

func (b *brokenBackend) Mode() capability.Mode { return capability.ModeRuntime }
func (b *brokenBackend) Arm(context.Context, scheduling.Notification, time.Duration) (string, error) {
	return "", errors.New("broken")
}
func (b *brokenBackend) Disarm(context.Context, string) error {
	b.disarms++
	return errors.New("broken")
}
func (b *brokenBackend) Live(context.Context, string) (bool, error) { return false, errors.New("broken") }
func (b *brokenBackend) Close() error                               { return nil }

func TestDegradedModeIsNonFatal(t *testing.T) {
	t.Parallel()
	st := store.NewMemory()
	adapter := scheduling.NewAdapter(capability.Unavailable(), scheduling.Noop{})
	m := NewManager(st, adapter, Config{})
	ctx := context.Background()

	res, err := m.Create(ctx, Input{OwnerID: "u1", Type: "sleep", TriggerAt: time.Now().Add(time.Hour)})
	require.NoError(t, err)
	assert.Empty(t, res.Reminder.LocalHandle)
	assert.Equal(t, scheduling.OutcomeUnavailable, res.Schedule.Outcome)

	res, err = m.Edit(ctx, "u1", res.Reminder.ID, Changes{TriggerAt: ptr(time.Now().Add(2 * time.Hour))})
	require.NoError(t, err)
	assert.Empty(t, res.Reminder.LocalHandle)

	res, err = m.Toggle(ctx, "u1", res.Reminder.ID, false)
	require.NoError(t, err)
	assert.Empty(t, res.Reminder.LocalHandle)

	res, err = m.Toggle(ctx, "u1", res.Reminder.ID, true)
	require.NoError(t, err)
	assert.Empty(t, res.Reminder.LocalHandle)
	assert.True(t, res.Reminder.Enabled)

	require.NoError(t, m.Delete(ctx, "u1", res.Reminder.ID))
}

func TestToggle(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{})
	ctx := context.Background()
	res := h.create(t, t0.Add(time.Hour))
	id := res.Reminder.ID

	off, err := h.mgr.Toggle(ctx, "u1", id, false)
	require.NoError(t, err)
	assert.False(t, off.Reminder.Enabled)
	assert.Empty(t, off.Reminder.LocalHandle)
	assert.Zero(t, h.sched.liveFor(id))

	on, err := h.mgr.Toggle(ctx, "u1", id, true)
	require.NoError(t, err)
	assert.True(t, on.Reminder.Enabled)
	assert.NotEmpty(t, on.Reminder.LocalHandle)
	assert.Equal(t, 1, h.sched.liveFor(id))

	// Enabling an already enabled reminder re-arms without doubling up.
	_, err = h.mgr.Toggle(ctx, "u1", id, true)
	require.NoError(t, err)
	assert.Equal(t, 1, h.sched.liveFor(id))
}

func TestToggleEnableAfterTriggerPassed(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{})
	ctx := context.Background()
	res := h.create(t, t0.Add(time.Minute))
	id := res.Reminder.ID
	_, err := h.mgr.Toggle(ctx, "u1", id, false)
	require.NoError(t, err)
	before, err := h.mgr.Get(ctx, "u1", id)
	require.NoError(t, err)

	h.clock.Advance(2 * time.Minute)
	h.sched.reset()
	_, err = h.mgr.Toggle(ctx, "u1", id, true)
	require.ErrorIs(t, err, ErrInvalidTrigger)
	assert.Empty(t, h.sched.log())

	after, err := h.mgr.Get(ctx, "u1", id)
	require.NoError(t, err)
	assert.False(t, after.Enabled)
	assert.Equal(t, before.UpdatedAt, after.UpdatedAt)
}

func TestHandleWriteBackFailureCancelsTimer(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{})
	h.store.failHandleWrites = true

	res := h.create(t, t0.Add(time.Hour))
	require.NotNil(t, res.Schedule)
	assert.Equal(t, scheduling.OutcomeBackendError, res.Schedule.Outcome)
	assert.Empty(t, res.Reminder.LocalHandle)
	assert.True(t, res.Reminder.Enabled)
	assert.Zero(t, h.sched.liveFor(res.Reminder.ID), "orphan timer left behind")
	assert.Equal(t, []string{"schedule:" + res.Reminder.ID, "cancel:H1"}, h.sched.log())

	// The next edit self-heals.
	h.store.failHandleWrites = false
	edited, err := h.mgr.Edit(context.Background(), "u1", res.Reminder.ID, Changes{})
	require.NoError(t, err)
	assert.NotEmpty(t, edited.Reminder.LocalHandle)
}

func TestStoreErrorsPropagate(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{})
	ctx := context.Background()
	res := h.create(t, t0.Add(time.Hour))

	h.store.failUpdates = true
	_, err := h.mgr.Edit(ctx, "u1", res.Reminder.ID, Changes{TriggerAt: ptr(t0.Add(2 * time.Hour))})
	require.Error(t, err)
	assert.True(t, store.IsRetryable(err))

	h.store.failUpdates = false
	h.store.failDeletes = true
	err = h.mgr.Delete(ctx, "u1", res.Reminder.ID)
	assert.True(t, store.IsRetryable(err))
}

func TestOwnerScoping(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{})
	ctx := context.Background()
	res := h.create(t, t0.Add(time.Hour))
	h.sched.reset()

	_, err := h.mgr.Edit(ctx, "intruder", res.Reminder.ID, Changes{TriggerAt: ptr(t0.Add(2 * time.Hour))})
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = h.mgr.Toggle(ctx, "intruder", res.Reminder.ID, false)
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.ErrorIs(t, h.mgr.Delete(ctx, "intruder", res.Reminder.ID), store.ErrNotFound)
	assert.Empty(t, h.sched.log())
}

func TestTextComputedFromType(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{})
	ctx := context.Background()

	res := h.create(t, t0.Add(time.Hour))
	assert.Equal(t, "Feeding time", res.Reminder.NotificationTitle)

	edited, err := h.mgr.Edit(ctx, "u1", res.Reminder.ID, Changes{Type: ptr("Medication")})
	require.NoError(t, err)
	assert.Equal(t, "medication", edited.Reminder.Type)
	assert.Equal(t, "Medication", edited.Reminder.NotificationTitle)

	edited, err = h.mgr.Edit(ctx, "u1", res.Reminder.ID, Changes{Message: ptr("Half a tablet")})
	require.NoError(t, err)
	assert.Equal(t, "Medication", edited.Reminder.NotificationTitle)
	assert.Equal(t, "Half a tablet", edited.Reminder.NotificationMessage)

	custom, err := h.mgr.Create(ctx, Input{OwnerID: "u1", Type: "walk the dog", TriggerAt: t0.Add(time.Hour)})
	require.NoError(t, err)
	assert.Equal(t, "Reminder", custom.Reminder.NotificationTitle)
}

func TestCreateDisabled(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{})
	res, err := h.mgr.Create(context.Background(), Input{OwnerID: "u1", TriggerAt: t0.Add(time.Hour), Disabled: true})
	require.NoError(t, err)
	assert.Nil(t, res.Schedule)
	assert.False(t, res.Reminder.Enabled)
	assert.Zero(t, h.sched.count("schedule:"))
}

func TestListUpcoming(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{PageSize: 2})
	for _, off := range []time.Duration{3 * time.Hour, -time.Hour, time.Hour, 2 * time.Hour} {
		h.create(t, t0.Add(off))
	}
	list, err := h.mgr.ListUpcoming(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.True(t, list[0].TriggerAt.Equal(t0.Add(time.Hour)))
	assert.True(t, list[1].TriggerAt.Equal(t0.Add(2*time.Hour)))
}
