package capability

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestProbeModes(t *testing.T) {
	t.Parallel()
	ok := func(context.Context) error { return nil }
	down := func(context.Context) error { return errors.New("dial tcp: refused") }
	yes := func() bool { return true }
	no := func() bool { return false }

	tests := []struct {
		name    string
		checks  Checks
		mode    Mode
		reason  Reason
		capable bool
	}{
		{name: "auto native", checks: Checks{Native: ok, Runtime: yes}, mode: ModeNative, reason: ReasonNativeReady, capable: true},
		{name: "auto falls back", checks: Checks{Native: down, Runtime: yes}, mode: ModeRuntime, reason: ReasonRuntimeReady, capable: true},
		{name: "auto no native configured", checks: Checks{Runtime: yes}, mode: ModeRuntime, reason: ReasonRuntimeReady, capable: true},
		{name: "auto nothing", checks: Checks{Native: down, Runtime: no}, mode: ModeUnavailable, reason: ReasonNativeUnreachable},
		{name: "auto no presenter", checks: Checks{Runtime: no}, mode: ModeUnavailable, reason: ReasonNoPresenter},
		{name: "forced native down", checks: Checks{Preferred: "native", Native: down, Runtime: yes}, mode: ModeUnavailable, reason: ReasonNativeUnreachable},
		{name: "forced runtime", checks: Checks{Preferred: "runtime", Native: ok, Runtime: yes}, mode: ModeRuntime, reason: ReasonRuntimeReady, capable: true},
		{name: "disabled", checks: Checks{Preferred: "none", Native: ok, Runtime: yes}, mode: ModeUnavailable, reason: ReasonDisabled},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			res := New(tt.checks, nilLogger()).Result(context.Background())
			if res.Mode != tt.mode || res.Reason != tt.reason || res.Capable != tt.capable {
				t.Fatalf("Result = %+v, want mode=%s reason=%s capable=%v", res, tt.mode, tt.reason, tt.capable)
			}
			if res.ProbedAt.IsZero() {
				t.Fatalf("ProbedAt not set")
			}
		})
	}
}

func TestProbeRunsOnce(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	p := New(Checks{Native: func(context.Context) error {
		calls.Add(1)
		return nil
	}}, nilLogger())
	for i := 0; i < 5; i++ {
		_ = p.Result(context.Background())
	}
	if calls.Load() != 1 {
		t.Fatalf("native check ran %d times, want 1", calls.Load())
	}
}

func TestProbePanicIsUnavailable(t *testing.T) {
	t.Parallel()
	p := New(Checks{Runtime: func() bool { panic("no notification api") }}, nilLogger())
	res := p.Result(context.Background())
	if res.Capable || res.Mode != ModeUnavailable || res.Reason != ReasonProbeFailed {
		t.Fatalf("Result = %+v, want unavailable/probe_failed", res)
	}
}

func TestProbeNativeTimeout(t *testing.T) {
	t.Parallel()
	p := New(Checks{
		Preferred: "native",
		Timeout:   20 * time.Millisecond,
		Native: func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		},
	}, nilLogger())
	res := p.Result(context.Background())
	if res.Mode != ModeUnavailable || res.Reason != ReasonNativeUnreachable {
		t.Fatalf("Result = %+v, want native_unreachable", res)
	}
}

func TestStaticProbesCoexist(t *testing.T) {
	t.Parallel()
	a := Static(Result{Capable: true, Mode: ModeRuntime, Reason: ReasonRuntimeReady})
	b := Unavailable()
	if !a.Result(context.Background()).Capable {
		t.Fatalf("static runtime probe not capable")
	}
	if b.Result(context.Background()).Capable {
		t.Fatalf("unavailable probe reported capable")
	}
}
