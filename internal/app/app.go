package app

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"remindd/internal/capability"
	"remindd/internal/config"
	"remindd/internal/eventbus"
	"remindd/internal/notifier"
	"remindd/internal/reminder"
	"remindd/internal/runtime/supervisor"
	"remindd/internal/scheduling"
	"remindd/internal/store"
	"remindd/internal/sweep"
	"remindd/internal/transport/telegram"
	logx "remindd/pkg/logx"
)

const reconcileJob = "reconcile"

type options struct {
	oneShot  bool
	logLevel string
}

type Option func(*options)

// OneShot builds an app for a single command. Runtime timers would die with
// the process, so in runtime mode reminders are stored without arming; the
// native backend still enqueues, and no worker or watcher runs.
func OneShot() Option { return func(o *options) { o.oneShot = true } }

// LogLevel overrides logging.level from the config file.
func LogLevel(level string) Option { return func(o *options) { o.logLevel = level } }

type App struct {
	opts    options
	stopped atomic.Bool

	cfgm *config.ConfigManager
	sup  *supervisor.Supervisor

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus

	store   store.Store
	notif   *notifier.Service
	probe   *capability.Probe
	backend scheduling.Backend
	worker  *scheduling.Worker
	adapter *scheduling.Adapter
	mgr     *reminder.Manager
	sweep   *sweep.Service
}

// New loads the config at cfgPath (empty means defaults), probes scheduling
// capability once and wires every component. Nothing runs until Start.
func New(ctx context.Context, cfgPath string, opts ...Option) (*App, error) {
	var o options
	for _, fn := range opts {
		fn(&o)
	}

	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	lc := mapLoggingConfig(cfg)
	if o.logLevel != "" {
		lc.Level = o.logLevel
	}
	logSvc, log := logx.New(lc)
	log = log.With(logx.String("comp", "app"))
	bus := eventbus.New()

	a := &App{opts: o, cfgm: cfgm, log: log, logs: logSvc, bus: bus}
	if err := a.build(ctx, cfg); err != nil {
		a.closeBuilt()
		return nil, err
	}
	return a, nil
}

func (a *App) build(ctx context.Context, cfg *config.Config) error {
	log := a.log

	sc, err := mapStoreConfig(cfg)
	if err != nil {
		return err
	}
	st, err := store.Open(sc, log.With(logx.String("comp", "store")))
	if err != nil {
		return err
	}
	a.store = st
	log.Debug("store opened", logx.String("driver", sc.Driver))

	var sinks []notifier.Sink
	if cfg.Sinks.Log {
		sinks = append(sinks, notifier.LogSink{Log: log.With(logx.String("comp", "sink.log"))})
	}
	if tc, ok, err := mapTelegramConfig(cfg); err != nil {
		return err
	} else if ok {
		tg, err := telegram.New(tc, log.With(logx.String("comp", "sink.telegram")))
		if err != nil {
			return fmt.Errorf("telegram sink: %w", err)
		}
		sinks = append(sinks, tg)
	}
	if len(sinks) > 0 {
		sinks = append(sinks, notifier.BusSink{Bus: a.bus})
	}
	ncfg, err := mapNotifierConfig(cfg)
	if err != nil {
		return err
	}
	a.notif = notifier.New(ncfg, log, a.bus, sinks...)

	ss, err := mapSchedulingConfig(cfg)
	if err != nil {
		return err
	}
	checks := capability.Checks{
		Preferred: ss.mode,
		Timeout:   ss.probeTimeout,
		Runtime:   a.notif.CanPresent,
	}
	if ss.nativeSet {
		checks.Native = redisCheck(ss.native)
	}
	a.probe = capability.New(checks, log.With(logx.String("comp", "capability")))
	res := a.probe.Result(ctx)

	a.backend = scheduling.Select(res, scheduling.Factories{
		Native: func() scheduling.Backend {
			return scheduling.NewNative(ss.native, log)
		},
		Runtime: func() scheduling.Backend {
			if a.opts.oneShot {
				log.Info("runtime timers need a long-lived process (serve or mcp); storing without arming")
				return scheduling.Noop{Reason: scheduling.ReasonOneShot}
			}
			return scheduling.NewRuntime(a.notif, a.bus, log)
		},
	})
	if a.backend.Mode() == capability.ModeNative && !a.opts.oneShot {
		wcfg, err := mapWorkerConfig(cfg)
		if err != nil {
			return err
		}
		a.worker = scheduling.NewWorker(ss.native, wcfg, a.notif, a.bus, log)
	}
	a.adapter = scheduling.NewAdapter(a.probe, a.backend,
		scheduling.WithGate(ss.gate),
		scheduling.WithBus(a.bus),
		scheduling.WithLogger(log),
	)

	rcfg, err := mapReminderConfig(cfg)
	if err != nil {
		return err
	}
	a.mgr = reminder.NewManager(a.store, a.adapter, rcfg,
		reminder.WithBus(a.bus),
		reminder.WithLogger(log),
	)
	if rt, ok := a.backend.(*scheduling.Runtime); ok {
		rt.SetFireCheck(a.mgr.StillDue)
	}
	if a.worker != nil {
		a.worker.SetFireCheck(a.mgr.StillDue)
	}

	rs, err := mapReconcileConfig(cfg)
	if err != nil {
		return err
	}
	a.sweep = sweep.New(sweep.Config{Enabled: rs.enabled, Timezone: rs.timezone}, log)
	if err := a.sweep.Add(reconcileJob, rs.schedule, rs.timeout, a.reconcile); err != nil {
		return fmt.Errorf("reminders.reconcile.schedule: %w", err)
	}

	log.Info("remindd ready",
		logx.String("store", sc.Driver),
		logx.String("scheduling", string(a.backend.Mode())),
		logx.String("reason", string(res.Reason)),
		logx.Any("sinks", a.notif.SinkNames()),
	)
	return nil
}

func (a *App) reconcile(ctx context.Context) error {
	_, err := a.mgr.Reconcile(ctx)
	return err
}

func (a *App) Manager() *reminder.Manager         { return a.mgr }
func (a *App) Adapter() *scheduling.Adapter       { return a.adapter }
func (a *App) Notifier() *notifier.Service        { return a.notif }
func (a *App) Sweeper() *sweep.Service            { return a.sweep }
func (a *App) Bus() eventbus.Bus                  { return a.bus }
func (a *App) Logger() logx.Logger                { return a.log }
func (a *App) Config() *config.Config             { return a.cfgm.Get() }
func (a *App) Worker() *scheduling.Worker         { return a.worker }
func (a *App) Backend() scheduling.Backend        { return a.backend }
func (a *App) Store() store.Store                 { return a.store }
func (a *App) Supervisor() *supervisor.Supervisor { return a.sup }

// Capability returns the cached probe result.
func (a *App) Capability(ctx context.Context) capability.Result { return a.probe.Result(ctx) }

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// Start launches the background parts: notifier workers, the native worker,
// the sweeper and, unless one-shot, the config watcher.
func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))
	runCtx := a.sup.Context()

	a.notif.Start(runCtx)
	if a.worker != nil {
		a.sup.GoRestart("scheduling.worker", a.worker.Run,
			supervisor.WithRestartBackoff(time.Second, 30*time.Second))
	}
	if err := a.sweep.Start(runCtx); err != nil {
		return err
	}

	// Handles left by an earlier process are cleared right away rather than
	// waiting for the first tick.
	a.sup.Go("reconcile.startup", func(c context.Context) error {
		if err := a.sweep.RunNow(c, reconcileJob); err != nil && c.Err() == nil {
			a.log.Warn("startup reconcile failed", logx.Err(err))
		}
		return nil
	})

	events, unsub := a.bus.Subscribe(128)
	a.sup.Go("eventbus.log", func(c context.Context) error {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return nil
			case e, ok := <-events:
				if !ok {
					return nil
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Any("data", e.Data))
			}
		}
	})

	if !a.opts.oneShot && a.cfgm.Path() != "" {
		a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
		a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error { return Validate(cfg) })
		sub := a.cfgm.Subscribe(8)
		a.sup.Go("config.reload", func(c context.Context) error {
			defer a.cfgm.Unsubscribe(sub)
			a.reloadLoop(c, sub)
			return nil
		})
		a.sup.Go("config.watch", a.cfgm.Watch)
	}

	a.log.Info("app started")
	return nil
}

func (a *App) reloadLoop(ctx context.Context, sub chan *config.Config) {
	lastApplied := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case newCfg, ok := <-sub:
			if !ok {
				return
			}
			// Coalesce bursts: keep only the latest config.
		drain:
			for {
				select {
				case newer := <-sub:
					if newer != nil {
						newCfg = newer
					}
				default:
					break drain
				}
			}
			a.apply(ctx, lastApplied, newCfg)
			lastApplied = newCfg
		}
	}
}

// apply pushes the live-reloadable sections: logging, notifier, reconcile
// schedule. Everything else is reported as needing a restart.
func (a *App) apply(ctx context.Context, oldCfg, newCfg *config.Config) {
	ch := config.Summarize(oldCfg, newCfg)
	if ch.Empty() {
		a.log.Info("config reloaded (no changes)")
		return
	}
	if len(ch.RestartRequired) > 0 {
		a.log.Warn("config changed; restart required for these sections",
			logx.String("sections", strings.Join(ch.RestartRequired, ",")))
	}

	lc := mapLoggingConfig(newCfg)
	if a.opts.logLevel != "" {
		lc.Level = a.opts.logLevel
	}
	a.logs.Apply(lc)

	if ncfg, err := mapNotifierConfig(newCfg); err != nil {
		a.log.Warn("invalid notifier config; keeping previous", logx.Err(err))
	} else {
		wasEnabled := a.notif.Enabled()
		a.notif.Apply(ncfg)
		switch {
		case wasEnabled && !ncfg.Enabled:
			a.log.Info("notifier disabled via config")
			stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
			a.notif.Stop(stopCtx)
			cancel()
		case !wasEnabled && ncfg.Enabled:
			a.log.Info("notifier enabled via config")
			a.notif.Start(ctx)
		}
	}

	if rs, err := mapReconcileConfig(newCfg); err != nil {
		a.log.Warn("invalid reconcile config; keeping previous", logx.Err(err))
	} else {
		if err := a.sweep.Add(reconcileJob, rs.schedule, rs.timeout, a.reconcile); err != nil {
			a.log.Warn("reconcile schedule rejected", logx.Err(err))
		}
		if err := a.sweep.Apply(ctx, sweep.Config{Enabled: rs.enabled, Timezone: rs.timezone}); err != nil {
			a.log.Warn("sweeper apply failed", logx.Err(err))
		}
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(ch.Sections, ","))}, ch.Attrs...)
	a.log.Info("config reloaded", fields...)
}

// Stop shuts everything down in dependency order. Each step is bounded so
// one stuck component cannot stall the rest. Later calls are no-ops.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if !a.stopped.CompareAndSwap(false, true) {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))

	step := func(name string, limit time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx, cancel := context.WithTimeout(ctx, limit)
		defer cancel()

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
		}
	}

	step("sweeper", 2*time.Second, func(c context.Context) error { a.sweep.Stop(c); return nil })
	if a.sup != nil {
		// Cancels the worker and loops; the notifier drains below.
		step("supervisor", 10*time.Second, a.sup.Stop)
	}
	step("notifier", 3*time.Second, func(c context.Context) error { a.notif.Stop(c); return nil })
	a.closeBuilt()

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}

// closeBuilt releases what build opened. Safe on a partially built app.
func (a *App) closeBuilt() {
	if a.adapter != nil {
		if err := a.adapter.Close(); err != nil {
			a.log.Warn("scheduling backend close failed", logx.Err(err))
		}
	} else if a.backend != nil {
		_ = a.backend.Close()
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn("store close failed", logx.Err(err))
		}
	}
}
