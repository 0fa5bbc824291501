package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"remindd/internal/app"
	logx "remindd/pkg/logx"
	"remindd/pkg/systemd"
)

func NewServeCommand(opts *RootOptions) *cobra.Command {
	var shutdown time.Duration

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the daemon: timers, worker, reconcile sweep and config watch",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, opts, shutdown)
		},
	}
	cmd.Flags().DurationVar(&shutdown, "shutdown-timeout", 20*time.Second, "upper bound on graceful shutdown")
	return cmd
}

func runServe(cmd *cobra.Command, opts *RootOptions, shutdown time.Duration) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	var appOpts []app.Option
	if opts.Verbose {
		appOpts = append(appOpts, app.LogLevel("debug"))
	}
	a, err := app.New(ctx, opts.Config, appOpts...)
	if err != nil {
		_ = opts.formatter(cmd).Error("E_CONFIG", err.Error(), nil)
		return WrapExitError(ExitCommandError, "startup", err)
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigs)

	if err := a.Start(ctx); err != nil {
		_ = a.Stop(context.Background(), app.StopFatalError)
		return WrapExitError(ExitFailure, "start", err)
	}

	log := a.Logger()
	res := a.Capability(ctx)
	if _, err := systemd.Ready(); err != nil {
		log.Warn("sd_notify ready failed", logx.Err(err))
	}
	_, _ = systemd.Status("scheduling: " + res.String())
	a.Supervisor().Go("systemd.watchdog", systemd.Watchdog)

	reason := app.StopAppStop
	select {
	case sig := <-sigs:
		reason = app.ReasonForSignal(sig)
	case <-a.Done():
		reason = app.StopFatalError
	case <-ctx.Done():
	}

	_, _ = systemd.Stopping()
	stopCtx, cancel := context.WithTimeout(context.Background(), shutdown)
	defer cancel()
	_ = a.Stop(stopCtx, reason)

	if reason == app.StopFatalError {
		return WrapExitError(ExitFailure, "fatal", a.Err())
	}
	return nil
}
