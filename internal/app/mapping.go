package app

import (
	"fmt"
	"strings"
	"time"

	"remindd/internal/config"
	"remindd/internal/notifier"
	"remindd/internal/reminder"
	"remindd/internal/scheduling"
	"remindd/internal/store"
	"remindd/internal/sweep"
	"remindd/internal/transport/telegram"
	logx "remindd/pkg/logx"
)

func mapLoggingConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func mapStoreConfig(cfg *config.Config) (store.Config, error) {
	sc := cfg.Store
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	out := store.Config{Driver: driver, Path: strings.TrimSpace(sc.Path)}
	switch driver {
	case "", "memory":
		out.Driver = "memory"
	case "file":
		if out.Path == "" {
			return store.Config{}, fmt.Errorf("store.path is required when store.driver=file")
		}
	case "sqlite", "sqlite3":
		if out.Path == "" {
			return store.Config{}, fmt.Errorf("store.path is required when store.driver=sqlite")
		}
		busy, err := config.ParseDurationOrDefault("store.busy_timeout", sc.BusyTimeout, 5*time.Second)
		if err != nil {
			return store.Config{}, err
		}
		out.BusyTimeout = busy
	case "mongo", "mongodb":
		if strings.TrimSpace(sc.MongoURI) == "" {
			return store.Config{}, fmt.Errorf("store.mongo_uri is required when store.driver=mongo")
		}
		to, err := config.ParseDurationOrDefault("store.mongo_timeout", sc.MongoTimeout, 10*time.Second)
		if err != nil {
			return store.Config{}, err
		}
		out.MongoURI = strings.TrimSpace(sc.MongoURI)
		out.MongoDatabase = sc.MongoDatabase
		out.MongoCollection = sc.MongoCollection
		out.MongoTimeout = to
	default:
		return store.Config{}, fmt.Errorf("unknown store.driver: %s", sc.Driver)
	}
	return out, nil
}

type schedulingSettings struct {
	mode         string
	probeTimeout time.Duration
	gate         scheduling.PermissionGate
	native       scheduling.NativeConfig
	nativeSet    bool
}

func mapSchedulingConfig(cfg *config.Config) (schedulingSettings, error) {
	sc := cfg.Scheduling
	mode := strings.ToLower(strings.TrimSpace(sc.Mode))
	switch mode {
	case "":
		mode = "auto"
	case "auto", "native", "runtime", "none":
	default:
		return schedulingSettings{}, fmt.Errorf("scheduling.mode: unknown %q (auto|native|runtime|none)", sc.Mode)
	}
	probeTimeout, err := config.ParseDurationOrDefault("scheduling.probe_timeout", sc.ProbeTimeout, 2*time.Second)
	if err != nil {
		return schedulingSettings{}, err
	}
	retention, err := config.ParseDurationField("scheduling.retention", sc.Retention)
	if err != nil {
		return schedulingSettings{}, err
	}
	if sc.MaxRetry < 0 {
		return schedulingSettings{}, fmt.Errorf("scheduling.max_retry must be >= 0")
	}

	var gate scheduling.PermissionGate
	switch strings.ToLower(strings.TrimSpace(sc.Permission)) {
	case "", "allow", "granted":
		gate = scheduling.AllowAll
	case "deny", "denied":
		gate = scheduling.DenyAll
	default:
		return schedulingSettings{}, fmt.Errorf("scheduling.permission: unknown %q (allow|deny)", sc.Permission)
	}

	addr := strings.TrimSpace(sc.Redis.Addr)
	if mode == "native" && addr == "" {
		return schedulingSettings{}, fmt.Errorf("scheduling.redis.addr is required when scheduling.mode=native")
	}
	maxRetry := sc.MaxRetry
	if maxRetry == 0 {
		maxRetry = 3
	}
	return schedulingSettings{
		mode:         mode,
		probeTimeout: probeTimeout,
		gate:         gate,
		nativeSet:    addr != "",
		native: scheduling.NativeConfig{
			RedisAddr:     addr,
			RedisPassword: sc.Redis.Password,
			RedisDB:       sc.Redis.DB,
			Queue:         sc.Queue,
			MaxRetry:      maxRetry,
			Retention:     retention,
		},
	}, nil
}

func mapWorkerConfig(cfg *config.Config) (scheduling.WorkerConfig, error) {
	if cfg.Worker.Concurrency < 0 {
		return scheduling.WorkerConfig{}, fmt.Errorf("worker.concurrency must be >= 0")
	}
	to, err := config.ParseDurationField("worker.shutdown_timeout", cfg.Worker.ShutdownTimeout)
	if err != nil {
		return scheduling.WorkerConfig{}, err
	}
	return scheduling.WorkerConfig{Concurrency: cfg.Worker.Concurrency, ShutdownTimeout: to}, nil
}

func mapNotifierConfig(cfg *config.Config) (notifier.Config, error) {
	if cfg.Notifier == nil {
		return notifier.Config{
			Enabled:         true,
			Workers:         2,
			QueueSize:       256,
			RatePerSec:      5,
			RetryMax:        3,
			RetryBase:       500 * time.Millisecond,
			RetryMaxDelay:   10 * time.Second,
			DedupWindow:     10 * time.Minute,
			DedupMaxEntries: 2000,
		}, nil
	}
	n := cfg.Notifier
	if n.Workers < 0 || n.QueueSize < 0 || n.RatePerSec < 0 || n.RetryMax < 0 || n.DedupMaxEntries < 0 {
		return notifier.Config{}, fmt.Errorf("notifier: numeric fields must be >= 0")
	}
	base, err := config.ParseDurationOrDefault("notifier.retry_base", n.RetryBase, 500*time.Millisecond)
	if err != nil {
		return notifier.Config{}, err
	}
	maxDelay, err := config.ParseDurationOrDefault("notifier.retry_max_delay", n.RetryMaxDelay, 10*time.Second)
	if err != nil {
		return notifier.Config{}, err
	}
	window, err := config.ParseDurationField("notifier.dedup_window", n.DedupWindow)
	if err != nil {
		return notifier.Config{}, err
	}
	return notifier.Config{
		Enabled:         n.Enabled,
		Workers:         n.Workers,
		QueueSize:       n.QueueSize,
		RatePerSec:      n.RatePerSec,
		RetryMax:        n.RetryMax,
		RetryBase:       base,
		RetryMaxDelay:   maxDelay,
		DedupWindow:     window,
		DedupMaxEntries: n.DedupMaxEntries,
	}, nil
}

// mapTelegramConfig reports ok=false when the sink is disabled.
func mapTelegramConfig(cfg *config.Config) (telegram.Config, bool, error) {
	tc := cfg.Sinks.Telegram
	if !tc.Enabled {
		return telegram.Config{}, false, nil
	}
	if strings.TrimSpace(tc.Token) == "" {
		return telegram.Config{}, false, fmt.Errorf("sinks.telegram.token is required when the telegram sink is enabled")
	}
	to, err := config.ParseDurationOrDefault("sinks.telegram.timeout", tc.Timeout, 10*time.Second)
	if err != nil {
		return telegram.Config{}, false, err
	}
	return telegram.Config{
		Token:       tc.Token,
		Chats:       tc.Chats,
		DefaultChat: tc.DefaultChat,
		ThreadID:    tc.ThreadID,
		Timeout:     to,
	}, true, nil
}

func mapReminderConfig(cfg *config.Config) (reminder.Config, error) {
	rc := cfg.Reminders
	if rc.PageSize < 0 || rc.Reconcile.Limit < 0 {
		return reminder.Config{}, fmt.Errorf("reminders: page_size and reconcile.limit must be >= 0")
	}
	overrides := make(map[string]reminder.Text, len(rc.Catalog))
	for k, v := range rc.Catalog {
		overrides[k] = reminder.Text{Title: v.Title, Message: v.Message}
	}
	return reminder.Config{
		StrictTriggers: rc.StrictTriggers,
		PageSize:       rc.PageSize,
		ReconcileLimit: rc.Reconcile.Limit,
		Catalog:        reminder.DefaultCatalog().Merge(overrides),
	}, nil
}

type reconcileSettings struct {
	enabled  bool
	schedule string
	timezone string
	timeout  time.Duration
}

func mapReconcileConfig(cfg *config.Config) (reconcileSettings, error) {
	rc := cfg.Reminders.Reconcile
	to, err := config.ParseDurationOrDefault("reminders.reconcile.timeout", rc.Timeout, time.Minute)
	if err != nil {
		return reconcileSettings{}, err
	}
	if tz := strings.TrimSpace(rc.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return reconcileSettings{}, fmt.Errorf("reminders.reconcile.timezone: invalid %q: %w", tz, err)
		}
	}
	schedule := strings.TrimSpace(rc.Schedule)
	if schedule == "" {
		schedule = "5m"
	}
	return reconcileSettings{enabled: rc.Enabled, schedule: schedule, timezone: rc.Timezone, timeout: to}, nil
}

// Validate checks every section the way startup would, without opening
// anything. It guards hot reloads.
func Validate(cfg *config.Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}
	if _, err := mapStoreConfig(cfg); err != nil {
		return err
	}
	if _, err := mapSchedulingConfig(cfg); err != nil {
		return err
	}
	if _, err := mapWorkerConfig(cfg); err != nil {
		return err
	}
	if _, err := mapNotifierConfig(cfg); err != nil {
		return err
	}
	if _, _, err := mapTelegramConfig(cfg); err != nil {
		return err
	}
	if _, err := mapReminderConfig(cfg); err != nil {
		return err
	}
	if rs, err := mapReconcileConfig(cfg); err != nil {
		return err
	} else if _, err := sweep.ParseSchedule(rs.schedule); err != nil {
		return fmt.Errorf("reminders.reconcile.schedule: %w", err)
	}
	return nil
}
