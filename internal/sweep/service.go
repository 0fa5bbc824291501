package sweep

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	logx "remindd/pkg/logx"
)

var (
	ErrUnknownJob = errors.New("sweep: unknown job")
	ErrBusy       = errors.New("sweep: job already running")
)

type Config struct {
	Enabled  bool
	Timezone string // IANA zone for cron expressions; empty means local
}

// Job is one unit of periodic work.
type Job func(ctx context.Context) error

type jobDef struct {
	name     string
	schedule string
	timeout  time.Duration
	job      Job
	entryID  cron.EntryID
	running  *atomic.Bool
}

// Run records one execution.
type Run struct {
	Name    string        `json:"name"`
	Started time.Time     `json:"started"`
	Took    time.Duration `json:"took"`
	Err     string        `json:"err,omitempty"`
	Skipped bool          `json:"skipped,omitempty"`
}

type JobInfo struct {
	Name     string        `json:"name"`
	Schedule string        `json:"schedule"`
	Timeout  time.Duration `json:"timeout"`
	Next     time.Time     `json:"next"`
	Prev     time.Time     `json:"prev"`
}

type Snapshot struct {
	Enabled  bool      `json:"enabled"`
	Timezone string    `json:"timezone"`
	Jobs     []JobInfo `json:"jobs"`
	History  []Run     `json:"history"`
}

const historyKeep = 100

// Service triggers registered jobs. Jobs never overlap with themselves; a
// tick that lands while the previous run is still going is skipped.
type Service struct {
	mu sync.Mutex

	log    logx.Logger
	cfg    Config
	loc    *time.Location
	parser cron.Parser
	c      *cron.Cron
	ctx    context.Context
	cancel context.CancelFunc
	defs   []jobDef

	hmu     sync.Mutex
	history []Run
}

func New(cfg Config, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg: cfg,
		log: log.With(logx.String("comp", "sweep")),
		// SecondOptional accepts both 5-field and 6-field expressions.
		parser: cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
	}
}

// Add registers job under name, replacing any previous job with that name.
func (s *Service) Add(name, schedule string, timeout time.Duration, job Job) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.New("sweep: name required")
	}
	if job == nil {
		return errors.New("sweep: job required")
	}
	ps, err := ParseSchedule(schedule)
	if err != nil {
		return err
	}
	if ps.Kind == KindCron {
		if _, err := s.parser.Parse(ps.Cron); err != nil {
			return fmt.Errorf("sweep: %s: %w", name, err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	// A replacement shares the overlap flag, so a run still in flight under
	// the old definition keeps the next tick out.
	running := &atomic.Bool{}
	if old, ok := s.findLocked(name); ok {
		running = old.running
	}
	s.removeLocked(name)
	s.defs = append(s.defs, jobDef{name: name, schedule: schedule, timeout: timeout, job: job, running: running})
	if s.c != nil {
		return s.registerLocked(&s.defs[len(s.defs)-1])
	}
	return nil
}

// Remove unregisters name. It reports whether a job was removed.
func (s *Service) Remove(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.removeLocked(name)
}

func (s *Service) findLocked(name string) (jobDef, bool) {
	for _, d := range s.defs {
		if d.name == name {
			return d, true
		}
	}
	return jobDef{}, false
}

func (s *Service) removeLocked(name string) bool {
	for i, d := range s.defs {
		if d.name != name {
			continue
		}
		if s.c != nil && d.entryID != 0 {
			s.c.Remove(d.entryID)
		}
		s.defs = append(s.defs[:i], s.defs[i+1:]...)
		return true
	}
	return false
}

func (s *Service) registerLocked(d *jobDef) error {
	ps, err := ParseSchedule(d.schedule)
	if err != nil {
		return err
	}
	def := *d
	run := cron.FuncJob(func() { s.execute(def) })
	switch ps.Kind {
	case KindInterval:
		sched, jitter := intervalWithSpread(ps.Every, time.Now().In(s.loc), d.name)
		d.entryID = s.c.Schedule(sched, run)
		s.log.Debug("job registered", logx.String("name", d.name), logx.Duration("every", ps.Every), logx.Duration("spread", jitter))
	default:
		id, err := s.c.AddJob(ps.Cron, run)
		if err != nil {
			return fmt.Errorf("sweep: %s: %w", d.name, err)
		}
		d.entryID = id
		s.log.Debug("job registered", logx.String("name", d.name), logx.String("cron", ps.Cron))
	}
	return nil
}

// Start begins triggering. It is a no-op when disabled or already running.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil || !s.cfg.Enabled {
		return nil
	}
	loc, err := loadLocation(s.cfg.Timezone)
	if err != nil {
		return err
	}
	s.loc = loc
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.c = cron.New(
		cron.WithParser(s.parser),
		cron.WithLocation(loc),
		cron.WithChain(cron.Recover(cronLogger{s.log})),
	)
	for i := range s.defs {
		if err := s.registerLocked(&s.defs[i]); err != nil {
			s.log.Error("job register failed", logx.String("name", s.defs[i].name), logx.Err(err))
		}
	}
	s.c.Start()
	s.log.Info("sweeper started", logx.String("tz", loc.String()), logx.Int("jobs", len(s.defs)))
	return nil
}

// Apply swaps the config. A running sweeper restarts when the timezone
// changes and stops when disabled; a stopped one starts when enabled.
func (s *Service) Apply(ctx context.Context, cfg Config) error {
	s.mu.Lock()
	running := s.c != nil
	prev := s.cfg
	s.cfg = cfg
	s.mu.Unlock()

	if running && (!cfg.Enabled || strings.TrimSpace(prev.Timezone) != strings.TrimSpace(cfg.Timezone)) {
		s.Stop(ctx)
		running = false
	}
	if !running && cfg.Enabled {
		return s.Start(ctx)
	}
	return nil
}

// Stop halts triggering and waits for in-flight jobs until ctx is done.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	c, cancel := s.c, s.cancel
	s.c, s.cancel = nil, nil
	for i := range s.defs {
		s.defs[i].entryID = 0
	}
	s.mu.Unlock()
	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
	cancel()
	s.log.Info("sweeper stopped")
}

// RunNow executes name synchronously with ctx, outside the schedule.
func (s *Service) RunNow(ctx context.Context, name string) error {
	s.mu.Lock()
	var def *jobDef
	for i := range s.defs {
		if s.defs[i].name == name {
			d := s.defs[i]
			def = &d
			break
		}
	}
	s.mu.Unlock()
	if def == nil {
		return fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}
	return s.run(ctx, *def)
}

func (s *Service) execute(d jobDef) {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()
	if ctx == nil {
		return
	}
	if err := s.run(ctx, d); err != nil && !errors.Is(err, ErrBusy) {
		s.log.Warn("job failed", logx.String("name", d.name), logx.Err(err))
	}
}

func (s *Service) run(ctx context.Context, d jobDef) error {
	if !d.running.CompareAndSwap(false, true) {
		s.record(Run{Name: d.name, Started: time.Now(), Skipped: true})
		s.log.Debug("job still running; tick skipped", logx.String("name", d.name))
		return ErrBusy
	}
	defer d.running.Store(false)

	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}
	start := time.Now()
	err := d.job(ctx)
	r := Run{Name: d.name, Started: start, Took: time.Since(start)}
	if err != nil {
		r.Err = err.Error()
	}
	s.record(r)
	return err
}

func (s *Service) record(r Run) {
	s.hmu.Lock()
	s.history = append(s.history, r)
	if len(s.history) > historyKeep {
		s.history = s.history[len(s.history)-historyKeep:]
	}
	s.hmu.Unlock()
}

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	snap := Snapshot{Enabled: s.cfg.Enabled, Timezone: s.cfg.Timezone}
	if s.loc != nil {
		snap.Timezone = s.loc.String()
	}
	for _, d := range s.defs {
		it := JobInfo{Name: d.name, Schedule: d.schedule, Timeout: d.timeout}
		if s.c != nil && d.entryID != 0 {
			e := s.c.Entry(d.entryID)
			it.Next, it.Prev = e.Next, e.Prev
		}
		snap.Jobs = append(snap.Jobs, it)
	}
	s.mu.Unlock()

	s.hmu.Lock()
	snap.History = append([]Run(nil), s.history...)
	s.hmu.Unlock()
	return snap
}

func loadLocation(tz string) (*time.Location, error) {
	tz = strings.TrimSpace(tz)
	if tz == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("sweep: timezone %q: %w", tz, err)
	}
	return loc, nil
}

// cronLogger routes robfig/cron's logging through logx.
type cronLogger struct{ log logx.Logger }

func (l cronLogger) Info(msg string, kv ...interface{}) {
	l.log.Debug("cron: "+msg, logx.Any("kv", kv))
}

func (l cronLogger) Error(err error, msg string, kv ...interface{}) {
	l.log.Error("cron: "+msg, logx.Err(err), logx.Any("kv", kv))
}
