package eventbus

import "time"

const (
	ReminderCreated  = "reminder.created"
	ReminderUpdated  = "reminder.updated"
	ReminderDeleted  = "reminder.deleted"
	ReminderToggled  = "reminder.toggled"
	ReminderFired    = "reminder.fired"
	ReminderDropped  = "reminder.handle_dropped"
	ReminderStale    = "reminder.stale"
	CancelMiss       = "reminder.cancel_miss"
	CancelForeign    = "reminder.cancel_foreign"
	ScheduleFailed   = "schedule.failed"
	ReconcileDone    = "reconcile.done"
	NotificationSent = "notification.sent"
)

// ReminderEvent is the Data of every reminder.* event.
type ReminderEvent struct {
	ReminderID string    `json:"reminder_id"`
	OwnerID    string    `json:"owner_id"`
	Handle     string    `json:"handle,omitempty"`
	Enabled    bool      `json:"enabled"`
	TriggerAt  time.Time `json:"trigger_at"`
	Outcome    string    `json:"outcome,omitempty"`
}

// ReconcileEvent is the Data of reconcile.done.
type ReconcileEvent struct {
	Checked int `json:"checked"`
	Dropped int `json:"dropped"`
	Foreign int `json:"foreign"`
	Failed  int `json:"failed"`
}

// Reminder publishes a reminder.* event.
func Reminder(b Bus, typ string, ev ReminderEvent) {
	if b == nil {
		return
	}
	b.Publish(Event{Type: typ, Data: ev})
}
