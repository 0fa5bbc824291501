package scheduling

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"remindd/internal/capability"
	logx "remindd/pkg/logx"
)

// NativeConfig points the native backend at Redis.
type NativeConfig struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	Queue         string
	MaxRetry      int
	// Retention keeps completed tasks inspectable; zero deletes them on completion.
	Retention time.Duration
}

func (c NativeConfig) redisOpt() asynq.RedisClientOpt {
	return asynq.RedisClientOpt{Addr: c.RedisAddr, Password: c.RedisPassword, DB: c.RedisDB}
}

func (c NativeConfig) queue() string {
	if q := strings.TrimSpace(c.Queue); q != "" {
		return q
	}
	return "reminders"
}

// Native enqueues reminders as delayed asynq tasks. Timers outlive the
// process; a Worker delivers them.
type Native struct {
	cfg       NativeConfig
	client    *asynq.Client
	inspector *asynq.Inspector
	log       logx.Logger
}

func NewNative(cfg NativeConfig, log logx.Logger) *Native {
	if log.IsZero() {
		log = logx.Nop()
	}
	opt := cfg.redisOpt()
	return &Native{
		cfg:       cfg,
		client:    asynq.NewClient(opt),
		inspector: asynq.NewInspector(opt),
		log:       log.With(logx.String("comp", "scheduling.native")),
	}
}

func (b *Native) Mode() capability.Mode { return capability.ModeNative }

func (b *Native) Arm(ctx context.Context, n Notification, _ time.Duration) (string, error) {
	payload, err := json.Marshal(n)
	if err != nil {
		return "", err
	}
	queue := b.cfg.queue()
	id := uuid.NewString()
	opts := []asynq.Option{
		asynq.TaskID(id),
		asynq.Queue(queue),
		asynq.ProcessAt(n.FireAt),
		asynq.MaxRetry(b.cfg.MaxRetry),
	}
	if b.cfg.Retention > 0 {
		opts = append(opts, asynq.Retention(b.cfg.Retention))
	}
	info, err := b.client.EnqueueContext(ctx, asynq.NewTask(TaskType, payload), opts...)
	if err != nil {
		return "", fmt.Errorf("enqueue %s: %w", TaskType, err)
	}
	return joinHandle(nativePrefix, info.Queue, info.ID), nil
}

func (b *Native) parse(handle string) (queue, id string, err error) {
	prefix, queue, id, err := splitHandle(handle)
	if err != nil {
		return "", "", err
	}
	if prefix != nativePrefix {
		return "", "", fmt.Errorf("%w: %q is not a native handle", ErrUnknownHandle, handle)
	}
	return queue, id, nil
}

func (b *Native) Disarm(_ context.Context, handle string) error {
	queue, id, err := b.parse(handle)
	if err != nil {
		return err
	}
	err = b.inspector.DeleteTask(queue, id)
	if isTaskMissing(err) {
		return ErrUnknownHandle
	}
	return err
}

func (b *Native) Live(_ context.Context, handle string) (bool, error) {
	queue, id, err := b.parse(handle)
	if err != nil {
		return false, nil
	}
	info, err := b.inspector.GetTaskInfo(queue, id)
	if isTaskMissing(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	switch info.State {
	case asynq.TaskStateScheduled, asynq.TaskStatePending, asynq.TaskStateRetry:
		return true, nil
	default:
		return false, nil
	}
}

func isTaskMissing(err error) bool {
	return errors.Is(err, asynq.ErrTaskNotFound) || errors.Is(err, asynq.ErrQueueNotFound)
}

func (b *Native) Close() error {
	err := b.client.Close()
	if ierr := b.inspector.Close(); err == nil {
		err = ierr
	}
	return err
}
