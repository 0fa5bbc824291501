// Package capability decides, once per process, which scheduling backend
// the current runtime can use.
//
// The result is injected into the scheduling adapter instead of being read
// from a package-level flag, so tests can build several probe outcomes side
// by side.
package capability

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	logx "remindd/pkg/logx"
)

type Mode string

const (
	ModeNative      Mode = "native"
	ModeRuntime     Mode = "runtime"
	ModeUnavailable Mode = "unavailable"
)

type Reason string

const (
	ReasonNativeReady       Reason = "native_ready"
	ReasonRuntimeReady      Reason = "runtime_ready"
	ReasonNativeUnreachable Reason = "native_unreachable"
	ReasonNoPresenter       Reason = "no_presenter"
	ReasonDisabled          Reason = "disabled"
	ReasonProbeFailed       Reason = "probe_failed"
)

// Result is the cached outcome of a probe.
type Result struct {
	Capable  bool      `json:"capable"`
	Mode     Mode      `json:"mode"`
	Reason   Reason    `json:"reason"`
	Detail   string    `json:"detail,omitempty"`
	ProbedAt time.Time `json:"probed_at"`
}

func (r Result) String() string {
	if r.Detail != "" {
		return fmt.Sprintf("%s (%s: %s)", r.Mode, r.Reason, r.Detail)
	}
	return fmt.Sprintf("%s (%s)", r.Mode, r.Reason)
}

// Checks are the runtime facts a probe consults.
//
// Native is a reachability check for the durable scheduler; nil means the
// native backend is not configured. Runtime reports whether an in-process
// timer can surface a notification to the user (at least one sink).
type Checks struct {
	Preferred string // "auto" | "native" | "runtime" | "none"
	Timeout   time.Duration
	Native    func(ctx context.Context) error
	Runtime   func() bool
}

// Probe computes a Result once and caches it for the process lifetime.
type Probe struct {
	checks Checks
	log    logx.Logger
	now    func() time.Time

	once sync.Once
	res  Result
}

func New(checks Checks, log logx.Logger) *Probe {
	if log.IsZero() {
		log = logx.Nop()
	}
	if checks.Timeout <= 0 {
		checks.Timeout = 2 * time.Second
	}
	return &Probe{checks: checks, log: log, now: time.Now}
}

// Static returns a probe that always reports res.
func Static(res Result) *Probe {
	p := &Probe{log: logx.Nop(), now: time.Now}
	p.once.Do(func() { p.res = res })
	return p
}

// Unavailable is a convenience for tests and degraded environments.
func Unavailable() *Probe {
	return Static(Result{Mode: ModeUnavailable, Reason: ReasonDisabled})
}

// Result runs the probe on first call. It never panics and never returns an
// error: anything that goes wrong is reported as ModeUnavailable.
func (p *Probe) Result(ctx context.Context) Result {
	p.once.Do(func() {
		p.res = p.run(ctx)
		p.res.ProbedAt = p.now()
		p.log.Info("scheduling capability probed",
			logx.String("mode", string(p.res.Mode)),
			logx.String("reason", string(p.res.Reason)),
			logx.Bool("capable", p.res.Capable),
			logx.String("detail", p.res.Detail),
		)
	})
	return p.res
}

func (p *Probe) run(ctx context.Context) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			res = Result{Mode: ModeUnavailable, Reason: ReasonProbeFailed, Detail: fmt.Sprint(r)}
		}
	}()
	if ctx == nil {
		ctx = context.Background()
	}

	pref := strings.ToLower(strings.TrimSpace(p.checks.Preferred))
	switch pref {
	case "none", "off", "disabled":
		return Result{Mode: ModeUnavailable, Reason: ReasonDisabled}
	case "native":
		return p.native(ctx)
	case "runtime":
		return p.runtime()
	}

	// auto: prefer the durable backend, fall back to in-process timers.
	if p.checks.Native != nil {
		if res := p.native(ctx); res.Capable {
			return res
		} else if rt := p.runtime(); rt.Capable {
			rt.Detail = "native: " + res.Detail
			return rt
		} else {
			return res
		}
	}
	return p.runtime()
}

func (p *Probe) native(ctx context.Context) Result {
	if p.checks.Native == nil {
		return Result{Mode: ModeUnavailable, Reason: ReasonNativeUnreachable, Detail: "native backend not configured"}
	}
	cctx, cancel := context.WithTimeout(ctx, p.checks.Timeout)
	defer cancel()
	if err := p.checks.Native(cctx); err != nil {
		return Result{Mode: ModeUnavailable, Reason: ReasonNativeUnreachable, Detail: err.Error()}
	}
	return Result{Capable: true, Mode: ModeNative, Reason: ReasonNativeReady}
}

func (p *Probe) runtime() Result {
	if p.checks.Runtime == nil || !p.checks.Runtime() {
		return Result{Mode: ModeUnavailable, Reason: ReasonNoPresenter}
	}
	return Result{Capable: true, Mode: ModeRuntime, Reason: ReasonRuntimeReady}
}
