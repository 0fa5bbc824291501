package config

import (
	"hash/fnv"
	"reflect"
	"strings"

	logx "remindd/pkg/logx"
)

// Change describes the sections that differ between two configs.
type Change struct {
	Sections []string
	// Attrs are safe to log: secrets (tokens, passwords, URIs) never appear.
	Attrs []logx.Field
	// RestartRequired lists changed sections that only take effect on restart.
	RestartRequired []string
}

func (c Change) Empty() bool { return len(c.Sections) == 0 }

// Summarize compares two configs section by section.
func Summarize(oldCfg, newCfg *Config) Change {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	var ch Change

	if oldCfg.Logging != newCfg.Logging {
		ch.Sections = append(ch.Sections, "logging")
		ch.Attrs = append(ch.Attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}
	if oldCfg.Store != newCfg.Store {
		ch.Sections = append(ch.Sections, "store")
		ch.RestartRequired = append(ch.RestartRequired, "store")
		ch.Attrs = append(ch.Attrs, logx.String("store.driver", newCfg.Store.Driver))
	}
	if oldCfg.Scheduling != newCfg.Scheduling {
		ch.Sections = append(ch.Sections, "scheduling")
		ch.RestartRequired = append(ch.RestartRequired, "scheduling")
		ch.Attrs = append(ch.Attrs,
			logx.String("scheduling.mode", newCfg.Scheduling.Mode),
			logx.Bool("scheduling.redis_set", strings.TrimSpace(newCfg.Scheduling.Redis.Addr) != ""),
		)
	}
	on, nn := derefNotifier(oldCfg.Notifier), derefNotifier(newCfg.Notifier)
	if on != nn {
		ch.Sections = append(ch.Sections, "notifier")
		ch.Attrs = append(ch.Attrs,
			logx.Bool("notifier.enabled", nn.Enabled),
			logx.Int("notifier.workers", nn.Workers),
			logx.Int("notifier.rate_per_sec", nn.RatePerSec),
		)
	}
	if !reflect.DeepEqual(oldCfg.Sinks, newCfg.Sinks) {
		ch.Sections = append(ch.Sections, "sinks")
		ch.RestartRequired = append(ch.RestartRequired, "sinks")
		ch.Attrs = append(ch.Attrs,
			logx.Bool("sinks.log", newCfg.Sinks.Log),
			logx.Bool("sinks.telegram", newCfg.Sinks.Telegram.Enabled),
			logx.Int("sinks.telegram_chats", len(newCfg.Sinks.Telegram.Chats)),
		)
	}
	if !reflect.DeepEqual(oldCfg.Reminders, newCfg.Reminders) {
		ch.Sections = append(ch.Sections, "reminders")
		o, n := oldCfg.Reminders, newCfg.Reminders
		if o.StrictTriggers != n.StrictTriggers || o.PageSize != n.PageSize || !reflect.DeepEqual(o.Catalog, n.Catalog) {
			ch.RestartRequired = append(ch.RestartRequired, "reminders")
		}
		ch.Attrs = append(ch.Attrs,
			logx.Bool("reminders.reconcile_enabled", n.Reconcile.Enabled),
			logx.String("reminders.reconcile_schedule", n.Reconcile.Schedule),
		)
	}
	if oldCfg.Worker != newCfg.Worker {
		ch.Sections = append(ch.Sections, "worker")
		ch.RestartRequired = append(ch.RestartRequired, "worker")
	}
	return ch
}

// derefNotifier mirrors the runtime default: an omitted section is enabled.
func derefNotifier(n *NotifierConfig) NotifierConfig {
	if n == nil {
		return NotifierConfig{Enabled: true}
	}
	return *n
}

func hashBytes(b []byte) uint64 {
	if len(b) == 0 {
		return 0
	}
	h := fnv.New64a()
	_, _ = h.Write(b)
	return h.Sum64()
}
