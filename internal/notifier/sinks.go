package notifier

import (
	"context"

	"remindd/internal/eventbus"
	logx "remindd/pkg/logx"
)

// Presented is published by BusSink for every delivered message.
const Presented = "notification.presented"

// LogSink writes the notification to the structured log. It is always
// available, which makes the runtime backend usable on a bare host.
type LogSink struct {
	Log logx.Logger
}

func (LogSink) Name() string { return "log" }

func (s LogSink) Deliver(_ context.Context, m Message) error {
	s.Log.Info("reminder",
		logx.String("reminder_id", m.ReminderID),
		logx.String("owner_id", m.OwnerID),
		logx.String("title", m.Title),
		logx.String("body", m.Body),
		logx.Time("fire_at", m.FireAt),
	)
	return nil
}

// BusSink republishes the message so in-process consumers (CLI watch, MCP
// status) can show it.
type BusSink struct {
	Bus eventbus.Bus
}

func (BusSink) Name() string { return "bus" }

func (s BusSink) Deliver(_ context.Context, m Message) error {
	s.Bus.Publish(eventbus.Event{Type: Presented, Data: m})
	return nil
}
