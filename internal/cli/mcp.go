package cli

import (
	"context"

	"github.com/spf13/cobra"

	"remindd/internal/app"
	"remindd/internal/mcpserver"
	logx "remindd/pkg/logx"
)

func NewMCPCommand(opts *RootOptions) *cobra.Command {
	var zone string

	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Serve reminder tools over MCP on stdio",
		Long: "Serve reminder tools over MCP on stdio. The process stays up for the " +
			"whole session, so runtime timers fire while it runs.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMCP(cmd, opts, zone)
		},
	}
	cmd.Flags().StringVar(&zone, "tz", "", "default IANA zone for wall-clock triggers")
	return cmd
}

func runMCP(cmd *cobra.Command, opts *RootOptions, zone string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	// stdout carries JSON-RPC; logs stay on stderr at warn unless verbose.
	a, err := app.New(ctx, opts.Config, app.LogLevel(opts.logLevel()))
	if err != nil {
		return WrapExitError(ExitCommandError, "startup", err)
	}
	if err := a.Start(ctx); err != nil {
		_ = a.Stop(context.Background(), app.StopFatalError)
		return WrapExitError(ExitFailure, "start", err)
	}

	srv := mcpserver.New(a.Manager(), a.Capability, Version,
		mcpserver.WithDefaultZone(zone),
		mcpserver.WithLogger(a.Logger().With(logx.String("comp", "mcp"))),
	)
	serveErr := srv.ServeStdio()

	_ = a.Stop(context.Background(), app.StopAppStop)
	if serveErr != nil {
		return WrapExitError(ExitFailure, "mcp", serveErr)
	}
	return nil
}
