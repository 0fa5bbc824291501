package reminder

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"remindd/internal/clock"
	"remindd/internal/eventbus"
	"remindd/internal/scheduling"
	"remindd/internal/store"
	"remindd/internal/trigger"
	logx "remindd/pkg/logx"
)

// Scheduler is the part of scheduling.Adapter the manager drives.
type Scheduler interface {
	Schedule(ctx context.Context, n scheduling.Notification) scheduling.Result
	Cancel(ctx context.Context, handle string)
	Live(ctx context.Context, handle string) (bool, error)
}

type Config struct {
	// StrictTriggers rejects non-future triggers on Create and Edit with
	// InvalidTriggerError. Otherwise such reminders are stored unarmed.
	StrictTriggers bool
	PageSize       int
	// ReconcileLimit caps how many armed records one Reconcile pass checks.
	ReconcileLimit int
	Catalog        Catalog
}

// Input describes a new reminder.
type Input struct {
	OwnerID    string          `json:"owner_id"`
	Type       string          `json:"type"`
	TriggerAt  time.Time       `json:"trigger_at"`
	Timezone   string          `json:"timezone,omitempty"`
	Recurrence json.RawMessage `json:"recurrence,omitempty"`
	// Disabled stores the reminder without arming it.
	Disabled bool `json:"disabled,omitempty"`
	// Title and Message override the catalog copy for Type.
	Title   string `json:"title,omitempty"`
	Message string `json:"message,omitempty"`
}

// Changes is a partial edit. Nil fields keep their stored value.
type Changes struct {
	Type       *string          `json:"type,omitempty"`
	TriggerAt  *time.Time       `json:"trigger_at,omitempty"`
	Timezone   *string          `json:"timezone,omitempty"`
	Recurrence *json.RawMessage `json:"recurrence,omitempty"`
	Title      *string          `json:"title,omitempty"`
	Message    *string          `json:"message,omitempty"`
}

// Result is a stored reminder plus what happened to its timer. Schedule is
// nil when no schedule attempt was made (disabled reminders, deletes).
type Result struct {
	Reminder store.Reminder     `json:"reminder"`
	Schedule *scheduling.Result `json:"schedule,omitempty"`
}

type Manager struct {
	store store.Store
	sched Scheduler
	clock clock.Clock
	bus   eventbus.Bus
	log   logx.Logger
	cfg   Config
	locks *keyedMutex
}

type Option func(*Manager)

func WithClock(c clock.Clock) Option  { return func(m *Manager) { m.clock = c } }
func WithBus(b eventbus.Bus) Option   { return func(m *Manager) { m.bus = b } }
func WithLogger(l logx.Logger) Option { return func(m *Manager) { m.log = l } }

func NewManager(st store.Store, sched Scheduler, cfg Config, opts ...Option) *Manager {
	if cfg.PageSize <= 0 {
		cfg.PageSize = store.DefaultPageSize
	}
	if cfg.ReconcileLimit <= 0 {
		cfg.ReconcileLimit = 1000
	}
	if cfg.Catalog == nil {
		cfg.Catalog = DefaultCatalog()
	}
	m := &Manager{
		store: st,
		sched: sched,
		clock: clock.Real(),
		bus:   eventbus.Nop{},
		log:   logx.Nop(),
		cfg:   cfg,
		locks: newKeyedMutex(),
	}
	for _, o := range opts {
		o(m)
	}
	if m.bus == nil {
		m.bus = eventbus.Nop{}
	}
	if m.log.IsZero() {
		m.log = logx.Nop()
	}
	m.log = m.log.With(logx.String("comp", "reminder"))
	return m
}

func (m *Manager) validateTrigger(at time.Time, zone string) error {
	if at.IsZero() {
		return invalidTrigger(at, "trigger_at is required", trigger.ErrZeroTime)
	}
	if _, err := trigger.LoadZone(zone); err != nil {
		return invalidTrigger(at, "timezone "+zone, err)
	}
	if m.cfg.StrictTriggers {
		if _, err := trigger.ComputeDelay(m.clock.Now(), at); err != nil {
			return invalidTrigger(at, "not in the future", err)
		}
	}
	return nil
}

// Create stores a new reminder and arms its timer when possible. Scheduling
// problems leave the record stored without a handle.
func (m *Manager) Create(ctx context.Context, in Input) (Result, error) {
	in.OwnerID = strings.TrimSpace(in.OwnerID)
	if in.OwnerID == "" {
		return Result{}, invalidInput("owner_id is required")
	}
	if err := m.validateTrigger(in.TriggerAt, in.Timezone); err != nil {
		return Result{}, err
	}
	typ := NormalizeType(in.Type)
	txt := m.cfg.Catalog.For(typ)
	if in.Title != "" {
		txt.Title = in.Title
	}
	if in.Message != "" {
		txt.Message = in.Message
	}

	rec, err := m.store.Insert(ctx, store.Reminder{
		OwnerID:             in.OwnerID,
		Type:                typ,
		TriggerAt:           in.TriggerAt.UTC(),
		Timezone:            in.Timezone,
		Recurrence:          in.Recurrence,
		Enabled:             !in.Disabled,
		NotificationTitle:   txt.Title,
		NotificationMessage: txt.Message,
	})
	if err != nil {
		return Result{}, err
	}

	unlock, err := m.locks.Lock(ctx, rec.ID)
	if err != nil {
		return Result{Reminder: rec}, err
	}
	defer unlock()

	res := Result{Reminder: rec}
	if rec.Enabled {
		res.Reminder, res.Schedule = m.armAndRecord(ctx, rec)
	}
	m.publish(eventbus.ReminderCreated, res)
	return res, nil
}

// Edit applies changes to a reminder. Any live timer is cancelled before the
// store is touched and a fresh one is armed from the updated record.
func (m *Manager) Edit(ctx context.Context, ownerID, id string, ch Changes) (Result, error) {
	if ch.TriggerAt != nil || ch.Timezone != nil {
		at, zone := time.Time{}, ""
		if ch.TriggerAt != nil {
			at = *ch.TriggerAt
		}
		if ch.Timezone != nil {
			zone = *ch.Timezone
		}
		if ch.TriggerAt == nil {
			// Only the zone changed; the trigger itself is checked after the read.
			if _, err := trigger.LoadZone(zone); err != nil {
				return Result{}, invalidTrigger(at, "timezone "+zone, err)
			}
		} else if err := m.validateTrigger(at, zone); err != nil {
			return Result{}, err
		}
	}

	unlock, err := m.locks.Lock(ctx, id)
	if err != nil {
		return Result{}, err
	}
	defer unlock()

	cur, err := m.store.Get(ctx, id, ownerID)
	if err != nil {
		return Result{}, err
	}
	if cur.LocalHandle != "" {
		m.sched.Cancel(ctx, cur.LocalHandle)
	}

	cleared := ""
	patch := store.Patch{
		TriggerAt:   ch.TriggerAt,
		Timezone:    ch.Timezone,
		Recurrence:  ch.Recurrence,
		LocalHandle: &cleared,
	}
	if ch.Type != nil {
		typ := NormalizeType(*ch.Type)
		patch.Type = &typ
		if typ != cur.Type {
			txt := m.cfg.Catalog.For(typ)
			patch.NotificationTitle, patch.NotificationMessage = &txt.Title, &txt.Message
		}
	}
	if ch.Title != nil {
		patch.NotificationTitle = ch.Title
	}
	if ch.Message != nil {
		patch.NotificationMessage = ch.Message
	}

	updated, err := m.store.Update(ctx, id, ownerID, patch)
	if err != nil {
		return Result{}, err
	}

	res := Result{Reminder: updated}
	if updated.Enabled {
		res.Reminder, res.Schedule = m.armAndRecord(ctx, updated)
	}
	m.publish(eventbus.ReminderUpdated, res)
	return res, nil
}

// Delete cancels any timer and removes the record. Cancel problems never
// block the delete.
func (m *Manager) Delete(ctx context.Context, ownerID, id string) error {
	unlock, err := m.locks.Lock(ctx, id)
	if err != nil {
		return err
	}
	defer unlock()

	cur, err := m.store.Get(ctx, id, ownerID)
	if err != nil {
		return err
	}
	if cur.LocalHandle != "" {
		m.sched.Cancel(ctx, cur.LocalHandle)
	}
	if err := m.store.Delete(ctx, id, ownerID); err != nil {
		return err
	}
	cur.LocalHandle = ""
	m.publish(eventbus.ReminderDeleted, Result{Reminder: cur})
	return nil
}

// Toggle enables or disables a reminder. Enabling recomputes the delay from
// now; a trigger already in the past is an InvalidTriggerError and nothing
// is written.
func (m *Manager) Toggle(ctx context.Context, ownerID, id string, enabled bool) (Result, error) {
	unlock, err := m.locks.Lock(ctx, id)
	if err != nil {
		return Result{}, err
	}
	defer unlock()

	cur, err := m.store.Get(ctx, id, ownerID)
	if err != nil {
		return Result{}, err
	}

	if !enabled {
		if cur.LocalHandle != "" {
			m.sched.Cancel(ctx, cur.LocalHandle)
		}
		if !cur.Enabled && cur.LocalHandle == "" {
			return Result{Reminder: cur}, nil
		}
		off, cleared := false, ""
		updated, err := m.store.Update(ctx, id, ownerID, store.Patch{Enabled: &off, LocalHandle: &cleared})
		if err != nil {
			return Result{}, err
		}
		res := Result{Reminder: updated}
		m.publish(eventbus.ReminderToggled, res)
		return res, nil
	}

	if _, err := trigger.ComputeDelay(m.clock.Now(), cur.TriggerAt); err != nil {
		return Result{Reminder: cur}, invalidTrigger(cur.TriggerAt, "already passed; edit the trigger first", err)
	}
	if cur.LocalHandle != "" {
		m.sched.Cancel(ctx, cur.LocalHandle)
	}
	sr := m.arm(ctx, cur)
	on, handle := true, sr.Handle
	updated, err := m.store.Update(ctx, id, ownerID, store.Patch{Enabled: &on, LocalHandle: &handle})
	if err != nil {
		if sr.Armed() {
			m.sched.Cancel(ctx, sr.Handle)
		}
		return Result{}, err
	}
	res := Result{Reminder: updated, Schedule: &sr}
	m.publish(eventbus.ReminderToggled, res)
	return res, nil
}

func (m *Manager) Get(ctx context.Context, ownerID, id string) (store.Reminder, error) {
	return m.store.Get(ctx, id, ownerID)
}

// ListUpcoming returns the owner's reminders due from now on.
func (m *Manager) ListUpcoming(ctx context.Context, ownerID string) ([]store.Reminder, error) {
	return m.store.ListUpcoming(ctx, ownerID, m.clock.Now(), m.cfg.PageSize)
}

// arm schedules rec's notification. Non-future triggers never reach the
// scheduler.
func (m *Manager) arm(ctx context.Context, rec store.Reminder) scheduling.Result {
	if _, err := trigger.ComputeDelay(m.clock.Now(), rec.TriggerAt); err != nil {
		m.log.Debug("not scheduling past trigger", logx.String("reminder_id", rec.ID), logx.Err(err))
		return scheduling.Result{Outcome: scheduling.OutcomeRejected, Reason: err.Error()}
	}
	return m.sched.Schedule(ctx, scheduling.Notification{
		ReminderID: rec.ID,
		OwnerID:    rec.OwnerID,
		Title:      rec.NotificationTitle,
		Body:       rec.NotificationMessage,
		FireAt:     rec.TriggerAt,
	})
}

// armAndRecord arms rec and writes the handle back. If the write-back fails
// the fresh timer is cancelled so no orphan outlives the call; the record
// stays enabled without a handle until the next edit or toggle.
func (m *Manager) armAndRecord(ctx context.Context, rec store.Reminder) (store.Reminder, *scheduling.Result) {
	sr := m.arm(ctx, rec)
	if !sr.Armed() {
		return rec, &sr
	}
	handle := sr.Handle
	updated, err := m.store.Update(ctx, rec.ID, rec.OwnerID, store.Patch{LocalHandle: &handle})
	if err != nil {
		m.sched.Cancel(ctx, handle)
		m.log.Warn("handle write-back failed; timer cancelled",
			logx.String("reminder_id", rec.ID), logx.String("handle", handle), logx.Err(err),
			logx.Bool("retryable", store.IsRetryable(err)))
		return rec, &scheduling.Result{Outcome: scheduling.OutcomeBackendError, Reason: "handle write-back: " + err.Error()}
	}
	return updated, &sr
}

func (m *Manager) publish(typ string, res Result) {
	ev := eventbus.ReminderEvent{
		ReminderID: res.Reminder.ID,
		OwnerID:    res.Reminder.OwnerID,
		Handle:     res.Reminder.LocalHandle,
		Enabled:    res.Reminder.Enabled,
		TriggerAt:  res.Reminder.TriggerAt,
	}
	if res.Schedule != nil {
		ev.Outcome = string(res.Schedule.Outcome)
	}
	eventbus.Reminder(m.bus, typ, ev)
}

// IsNotFound reports whether err means the reminder does not exist for the owner.
func IsNotFound(err error) bool { return errors.Is(err, store.ErrNotFound) }
