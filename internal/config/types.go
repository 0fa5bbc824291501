package config

// Config is the on-disk configuration. Durations are Go duration strings
// ("500ms", "10s", "1m").
type Config struct {
	Logging    LoggingConfig    `json:"logging"`
	Store      StoreConfig      `json:"store"`
	Scheduling SchedulingConfig `json:"scheduling"`
	// Notifier defaults to enabled when the section is omitted.
	Notifier  *NotifierConfig `json:"notifier,omitempty"`
	Sinks     SinksConfig     `json:"sinks"`
	Reminders RemindersConfig `json:"reminders"`
	Worker    WorkerConfig    `json:"worker"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// StoreConfig selects the reminder store driver.
//
// Example:
//
//	"store": { "driver": "sqlite", "path": "./remindd.db", "busy_timeout": "5s" }
type StoreConfig struct {
	Driver      string `json:"driver"` // memory | file | sqlite | mongo
	Path        string `json:"path,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"`

	MongoURI        string `json:"mongo_uri,omitempty"`
	MongoDatabase   string `json:"mongo_database,omitempty"`
	MongoCollection string `json:"mongo_collection,omitempty"`
	MongoTimeout    string `json:"mongo_timeout,omitempty"`
}

// SchedulingConfig controls backend selection. Mode "auto" prefers the
// native backend when Redis answers, then the runtime backend.
type SchedulingConfig struct {
	Mode         string `json:"mode"` // auto | native | runtime | none
	ProbeTimeout string `json:"probe_timeout,omitempty"`
	// Permission is the answer the notification permission gate gives:
	// "allow" (default) or "deny".
	Permission string      `json:"permission,omitempty"`
	Redis      RedisConfig `json:"redis"`
	Queue      string      `json:"queue,omitempty"`
	MaxRetry   int         `json:"max_retry,omitempty"`
	Retention  string      `json:"retention,omitempty"`
}

type RedisConfig struct {
	Addr     string `json:"addr,omitempty"`
	Password string `json:"password,omitempty"`
	DB       int    `json:"db,omitempty"`
}

// NotifierConfig controls the async notification pipeline.
type NotifierConfig struct {
	Enabled         bool   `json:"enabled"`
	Workers         int    `json:"workers"`
	QueueSize       int    `json:"queue_size"`
	RatePerSec      int    `json:"rate_per_sec"`
	RetryMax        int    `json:"retry_max"`
	RetryBase       string `json:"retry_base"`
	RetryMaxDelay   string `json:"retry_max_delay"`
	DedupWindow     string `json:"dedup_window"`
	DedupMaxEntries int    `json:"dedup_max_entries"`
}

type SinksConfig struct {
	// Log writes every notification to the application log.
	Log      bool           `json:"log"`
	Telegram TelegramConfig `json:"telegram"`
}

type TelegramConfig struct {
	Enabled bool   `json:"enabled"`
	Token   string `json:"token"`
	// Chats maps reminder owner ids to Telegram chat ids.
	Chats       map[string]int64 `json:"chats,omitempty"`
	DefaultChat int64            `json:"default_chat,omitempty"`
	ThreadID    int              `json:"thread_id,omitempty"`
	Timeout     string           `json:"timeout,omitempty"`
}

type RemindersConfig struct {
	StrictTriggers bool                    `json:"strict_triggers"`
	PageSize       int                     `json:"page_size,omitempty"`
	Catalog        map[string]CatalogEntry `json:"catalog,omitempty"`
	Reconcile      ReconcileConfig         `json:"reconcile"`
}

type CatalogEntry struct {
	Title   string `json:"title,omitempty"`
	Message string `json:"message,omitempty"`
}

// ReconcileConfig drives the periodic pass that clears dead handles.
type ReconcileConfig struct {
	Enabled  bool   `json:"enabled"`
	Schedule string `json:"schedule,omitempty"` // cron, "@every 5m", "5m" or "HH:MM"
	Timezone string `json:"timezone,omitempty"`
	Limit    int    `json:"limit,omitempty"`
	Timeout  string `json:"timeout,omitempty"`
}

// WorkerConfig tunes the asynq worker that delivers native timers.
type WorkerConfig struct {
	Concurrency     int    `json:"concurrency,omitempty"`
	ShutdownTimeout string `json:"shutdown_timeout,omitempty"`
}

// Default is the configuration used when no file is given: in-memory store,
// runtime timers, log sink.
func Default() *Config {
	return &Config{
		Logging:    LoggingConfig{Level: "info", Console: true},
		Store:      StoreConfig{Driver: "memory"},
		Scheduling: SchedulingConfig{Mode: "auto"},
		Sinks:      SinksConfig{Log: true},
		Reminders: RemindersConfig{
			Reconcile: ReconcileConfig{Enabled: true, Schedule: "5m"},
		},
	}
}
