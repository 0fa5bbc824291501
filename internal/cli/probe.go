package cli

import (
	"context"

	"github.com/spf13/cobra"

	"remindd/internal/app"
)

func NewProbeCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "probe",
		Short: "Report which scheduling backend this environment supports",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd, func(ctx context.Context, a *app.App) error {
				res := a.Capability(ctx)
				return opts.formatter(cmd).Success(res, renderCapability(res))
			})
		},
	}
}
