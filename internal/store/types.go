package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotFound is returned for missing ids and for ids owned by someone else.
	ErrNotFound = errors.New("reminder not found")
	ErrClosed   = errors.New("store closed")
)

// DefaultPageSize caps ListUpcoming when the caller passes limit <= 0.
const DefaultPageSize = 50

// Reminder is the durable record.
type Reminder struct {
	ID                  string          `json:"id" bson:"_id"`
	OwnerID             string          `json:"owner_id" bson:"owner_id"`
	Type                string          `json:"type" bson:"type"`
	TriggerAt           time.Time       `json:"trigger_at" bson:"trigger_at"`
	Timezone            string          `json:"timezone,omitempty" bson:"timezone,omitempty"`
	Recurrence          json.RawMessage `json:"recurrence,omitempty" bson:"recurrence,omitempty"`
	Enabled             bool            `json:"enabled" bson:"enabled"`
	NotificationTitle   string          `json:"notification_title" bson:"notification_title"`
	NotificationMessage string          `json:"notification_message" bson:"notification_message"`
	LocalHandle         string          `json:"local_handle,omitempty" bson:"local_handle,omitempty"`
	CreatedAt           time.Time       `json:"created_at" bson:"created_at"`
	UpdatedAt           time.Time       `json:"updated_at" bson:"updated_at"`
}

// Armed reports whether the record claims a live local timer.
func (r Reminder) Armed() bool { return r.Enabled && r.LocalHandle != "" }

// Patch is a partial update. Nil fields are left untouched; an empty
// LocalHandle clears the handle.
type Patch struct {
	Type                *string
	TriggerAt           *time.Time
	Timezone            *string
	Recurrence          *json.RawMessage
	Enabled             *bool
	NotificationTitle   *string
	NotificationMessage *string
	LocalHandle         *string
}

func (p Patch) IsZero() bool {
	return p.Type == nil && p.TriggerAt == nil && p.Timezone == nil && p.Recurrence == nil &&
		p.Enabled == nil && p.NotificationTitle == nil && p.NotificationMessage == nil && p.LocalHandle == nil
}

// Apply writes the patch onto r in place.
func (p Patch) Apply(r *Reminder) {
	if p.Type != nil {
		r.Type = *p.Type
	}
	if p.TriggerAt != nil {
		r.TriggerAt = p.TriggerAt.UTC()
	}
	if p.Timezone != nil {
		r.Timezone = *p.Timezone
	}
	if p.Recurrence != nil {
		r.Recurrence = append(json.RawMessage(nil), (*p.Recurrence)...)
	}
	if p.Enabled != nil {
		r.Enabled = *p.Enabled
	}
	if p.NotificationTitle != nil {
		r.NotificationTitle = *p.NotificationTitle
	}
	if p.NotificationMessage != nil {
		r.NotificationMessage = *p.NotificationMessage
	}
	if p.LocalHandle != nil {
		r.LocalHandle = *p.LocalHandle
	}
}

// Store is the persistence API consumed by the lifecycle manager.
type Store interface {
	Insert(ctx context.Context, r Reminder) (Reminder, error)
	Get(ctx context.Context, id, ownerID string) (Reminder, error)
	Update(ctx context.Context, id, ownerID string, p Patch) (Reminder, error)
	Delete(ctx context.Context, id, ownerID string) error
	// ListUpcoming returns enabled and disabled reminders with trigger_at >= now,
	// ascending by trigger_at, capped at limit.
	ListUpcoming(ctx context.Context, ownerID string, now time.Time, limit int) ([]Reminder, error)
	// ListArmed returns records that carry a local handle, across owners.
	// Only the reconciliation pass uses it.
	ListArmed(ctx context.Context, limit int) ([]Reminder, error)
	Close() error
}

// Error is the StoreError of the lifecycle taxonomy: a backend failure that
// aborted the operation. Retryable marks transient failures (network,
// timeouts, busy database).
type Error struct {
	Op        string
	Err       error
	Retryable bool
}

func (e *Error) Error() string {
	if e.Retryable {
		return fmt.Sprintf("store %s (retryable): %v", e.Op, e.Err)
	}
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func wrap(op string, err error, retryable bool) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNotFound) {
		return err
	}
	var se *Error
	if errors.As(err, &se) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		retryable = true
	}
	return &Error{Op: op, Err: err, Retryable: retryable}
}

// IsRetryable reports whether err is a transient store failure.
func IsRetryable(err error) bool {
	var se *Error
	return errors.As(err, &se) && se.Retryable
}

// Config configures the store.
//
// Driver values: "memory", "file", "sqlite", "mongo".
// If Driver is empty, "memory" is used.
type Config struct {
	Driver      string
	Path        string        // file / sqlite
	BusyTimeout time.Duration // sqlite only; 0 means default

	MongoURI        string
	MongoDatabase   string
	MongoCollection string
	MongoTimeout    time.Duration
}
