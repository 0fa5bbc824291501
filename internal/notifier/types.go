package notifier

import (
	"context"
	"time"
)

// Config controls the async notification pipeline.
type Config struct {
	Enabled         bool
	Workers         int
	QueueSize       int
	RatePerSec      int
	RetryMax        int
	RetryBase       time.Duration
	RetryMaxDelay   time.Duration
	DedupWindow     time.Duration
	DedupMaxEntries int
}

// Message is one fired reminder ready for display.
type Message struct {
	Key        string    `json:"key,omitempty"` // scheduling handle; dedup key
	ReminderID string    `json:"reminder_id"`
	OwnerID    string    `json:"owner_id"`
	Title      string    `json:"title"`
	Body       string    `json:"body"`
	FireAt     time.Time `json:"fire_at"`
}

// Text renders title and body as one line block.
func (m Message) Text() string {
	switch {
	case m.Title == "":
		return m.Body
	case m.Body == "":
		return m.Title
	default:
		return m.Title + "\n" + m.Body
	}
}

// Sink presents a message to the user.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, m Message) error
}

// Notifier is what the scheduling backends hand fired timers to.
type Notifier interface {
	Notify(ctx context.Context, m Message) error
}

type HistoryItem struct {
	At         time.Time `json:"at"`
	Sink       string    `json:"sink"`
	ReminderID string    `json:"reminder_id"`
	Text       string    `json:"text"`
}

// NotificationEvent is published on the bus for pipeline outcomes.
type NotificationEvent struct {
	Sink       string    `json:"sink,omitempty"`
	Key        string    `json:"key,omitempty"`
	ReminderID string    `json:"reminder_id"`
	OwnerID    string    `json:"owner_id"`
	At         time.Time `json:"at"`
	Error      string    `json:"error,omitempty"`
}
