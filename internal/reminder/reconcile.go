package reminder

import (
	"context"
	"errors"

	"remindd/internal/eventbus"
	"remindd/internal/scheduling"
	"remindd/internal/store"
	logx "remindd/pkg/logx"
)

// ReconcileReport summarizes one Reconcile pass.
type ReconcileReport struct {
	Checked int `json:"checked"`
	Dropped int `json:"dropped"`
	// Foreign counts handles held by another process; they are kept.
	Foreign int `json:"foreign"`
	Failed  int `json:"failed"`
}

// Reconcile clears stored handles that no longer name a pending timer: fired
// timers, timers from an earlier process, timers lost with the backend. It
// never reschedules; the record keeps its enabled flag and is re-armed by
// the next Edit or Toggle.
func (m *Manager) Reconcile(ctx context.Context) (ReconcileReport, error) {
	var rep ReconcileReport
	recs, err := m.store.ListArmed(ctx, m.cfg.ReconcileLimit)
	if err != nil {
		return rep, err
	}
	for _, rec := range recs {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		rep.Checked++
		dropped, err := m.reconcileOne(ctx, rec)
		switch {
		case errors.Is(err, scheduling.ErrForeignHandle):
			rep.Foreign++
		case err != nil:
			rep.Failed++
			m.log.Debug("reconcile check failed", logx.String("reminder_id", rec.ID), logx.Err(err))
		case dropped:
			rep.Dropped++
		}
	}
	m.bus.Publish(eventbus.Event{Type: eventbus.ReconcileDone, Data: eventbus.ReconcileEvent(rep)})
	if rep.Dropped > 0 || rep.Failed > 0 {
		m.log.Info("reconcile finished", logx.Int("checked", rep.Checked), logx.Int("dropped", rep.Dropped),
			logx.Int("foreign", rep.Foreign), logx.Int("failed", rep.Failed))
	}
	return rep, nil
}

func (m *Manager) reconcileOne(ctx context.Context, rec store.Reminder) (bool, error) {
	live, err := m.sched.Live(ctx, rec.LocalHandle)
	if err != nil {
		return false, err
	}
	if live && rec.Enabled {
		return false, nil
	}

	unlock, err := m.locks.Lock(ctx, rec.ID)
	if err != nil {
		return false, err
	}
	defer unlock()

	// Another operation may have replaced the handle since the listing.
	cur, err := m.store.Get(ctx, rec.ID, rec.OwnerID)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if cur.LocalHandle != rec.LocalHandle {
		return false, nil
	}
	if live {
		// A disabled record must not keep a timer.
		m.sched.Cancel(ctx, cur.LocalHandle)
	}
	cleared := ""
	if _, err := m.store.Update(ctx, cur.ID, cur.OwnerID, store.Patch{LocalHandle: &cleared}); err != nil {
		return false, err
	}
	eventbus.Reminder(m.bus, eventbus.ReminderDropped, eventbus.ReminderEvent{
		ReminderID: cur.ID, OwnerID: cur.OwnerID, Handle: rec.LocalHandle, Enabled: cur.Enabled, TriggerAt: cur.TriggerAt,
	})
	return true, nil
}

// StillDue reports whether a fired timer still matches its stored reminder.
// It is installed as the backends' FireCheck so a timer armed by one process
// is dropped when another process edited, disabled or deleted the record.
// An empty stored handle with unchanged content is the window between arm
// and handle write-back, and counts as due.
func (m *Manager) StillDue(ctx context.Context, handle string, n scheduling.Notification) (bool, error) {
	rec, err := m.store.Get(ctx, n.ReminderID, n.OwnerID)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if !rec.Enabled {
		return false, nil
	}
	if rec.LocalHandle == handle {
		return true, nil
	}
	return rec.LocalHandle == "" &&
		rec.TriggerAt.Equal(n.FireAt) &&
		rec.NotificationTitle == n.Title &&
		rec.NotificationMessage == n.Body, nil
}
