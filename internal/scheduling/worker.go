package scheduling

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"remindd/internal/eventbus"
	"remindd/internal/notifier"
	logx "remindd/pkg/logx"
)

// WorkerConfig tunes the asynq server that delivers native timers.
type WorkerConfig struct {
	Concurrency     int
	ShutdownTimeout time.Duration
}

// Worker consumes fired native tasks and hands them to the notifier. It
// reads the store only through the FireCheck, if one is set.
type Worker struct {
	native   NativeConfig
	cfg      WorkerConfig
	notifier notifier.Notifier
	bus      eventbus.Bus
	log      logx.Logger
	check    FireCheck
}

func NewWorker(native NativeConfig, cfg WorkerConfig, n notifier.Notifier, bus eventbus.Bus, log logx.Logger) *Worker {
	if log.IsZero() {
		log = logx.Nop()
	}
	if bus == nil {
		bus = eventbus.Nop{}
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 8 * time.Second
	}
	return &Worker{native: native, cfg: cfg, notifier: n, bus: bus, log: log.With(logx.String("comp", "scheduling.worker"))}
}

// SetFireCheck installs the check run before each delivery. Call it before Run.
func (w *Worker) SetFireCheck(fc FireCheck) { w.check = fc }

// Mux exposes the task routing for tests and embedding.
func (w *Worker) Mux() *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(TaskType, w.handle)
	return mux
}

// Run serves until ctx is canceled.
func (w *Worker) Run(ctx context.Context) error {
	srv := asynq.NewServer(w.native.redisOpt(), asynq.Config{
		Concurrency:     w.cfg.Concurrency,
		Queues:          map[string]int{w.native.queue(): 1},
		ShutdownTimeout: w.cfg.ShutdownTimeout,
		Logger:          asynqLogger{log: w.log},
		LogLevel:        asynq.WarnLevel,
	})
	if err := srv.Start(w.Mux()); err != nil {
		return fmt.Errorf("start worker: %w", err)
	}
	w.log.Info("native worker started", logx.String("queue", w.native.queue()))
	<-ctx.Done()
	srv.Shutdown()
	w.log.Info("native worker stopped")
	return nil
}

func (w *Worker) handle(ctx context.Context, task *asynq.Task) error {
	var n Notification
	if err := json.Unmarshal(task.Payload(), &n); err != nil {
		w.log.Warn("bad reminder payload", logx.Err(err))
		return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
	}
	id, _ := asynq.GetTaskID(ctx)
	queue, _ := asynq.GetQueueName(ctx)
	handle := joinHandle(nativePrefix, queue, id)

	if !stillDue(ctx, w.check, handle, n, w.bus, w.log) {
		return nil
	}
	eventbus.Reminder(w.bus, eventbus.ReminderFired, eventbus.ReminderEvent{
		ReminderID: n.ReminderID, OwnerID: n.OwnerID, Handle: handle, Enabled: true, TriggerAt: n.FireAt,
	})
	if w.notifier == nil {
		return nil
	}
	err := w.notifier.Notify(ctx, notifier.Message{
		Key:        handle,
		ReminderID: n.ReminderID,
		OwnerID:    n.OwnerID,
		Title:      n.Title,
		Body:       n.Body,
		FireAt:     n.FireAt,
	})
	switch {
	case err == nil:
		return nil
	case errors.Is(err, notifier.ErrDisabled), errors.Is(err, notifier.ErrNoSinks):
		w.log.Warn("fired reminder has nowhere to go", logx.String("reminder_id", n.ReminderID), logx.Err(err))
		return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
	default:
		// Queue full or stopping: let asynq retry.
		return err
	}
}
