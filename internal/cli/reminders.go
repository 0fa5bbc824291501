package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"remindd/internal/app"
	"remindd/internal/reminder"
	"remindd/internal/trigger"
)

type reminderFlags struct {
	at      string
	typ     string
	zone    string
	title   string
	message string
}

func (f *reminderFlags) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.at, "at", "", "trigger: RFC3339, 'YYYY-MM-DD HH:MM' in --tz, or '+90m'")
	cmd.Flags().StringVar(&f.typ, "type", "", "reminder type (feeding, sleep, immunization, medication, custom)")
	cmd.Flags().StringVar(&f.zone, "tz", "", "IANA zone for wall-clock triggers")
	cmd.Flags().StringVar(&f.title, "title", "", "notification title override")
	cmd.Flags().StringVar(&f.message, "message", "", "notification body override")
}

func parseAt(raw, zone string) (time.Time, error) {
	at, err := trigger.Parse(raw, zone, time.Now())
	if err != nil {
		return time.Time{}, WrapExitError(ExitCommandError, "--at", err)
	}
	return at, nil
}

func NewCreateCommand(opts *RootOptions) *cobra.Command {
	var f reminderFlags
	var disabled bool

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a reminder",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			at, err := parseAt(f.at, f.zone)
			if err != nil {
				return err
			}
			in := reminder.Input{
				OwnerID:   opts.Owner,
				Type:      f.typ,
				TriggerAt: at,
				Timezone:  f.zone,
				Title:     f.title,
				Message:   f.message,
				Disabled:  disabled,
			}
			return opts.withApp(cmd, func(ctx context.Context, a *app.App) error {
				out := opts.formatter(cmd)
				res, err := a.Manager().Create(ctx, in)
				if err != nil {
					return out.fail("create", err)
				}
				return out.Success(res, renderResult(res))
			})
		},
	}
	f.bind(cmd)
	cmd.Flags().BoolVar(&disabled, "disabled", false, "store without arming")
	_ = cmd.MarkFlagRequired("at")
	return cmd
}

func NewEditCommand(opts *RootOptions) *cobra.Command {
	var f reminderFlags

	cmd := &cobra.Command{
		Use:   "edit <id>",
		Short: "Change a reminder; its timer is replaced",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var ch reminder.Changes
			flags := cmd.Flags()
			if flags.Changed("type") {
				ch.Type = &f.typ
			}
			if flags.Changed("tz") {
				ch.Timezone = &f.zone
			}
			if flags.Changed("title") {
				ch.Title = &f.title
			}
			if flags.Changed("message") {
				ch.Message = &f.message
			}
			if flags.Changed("at") {
				at, err := parseAt(f.at, f.zone)
				if err != nil {
					return err
				}
				ch.TriggerAt = &at
			}
			return opts.withApp(cmd, func(ctx context.Context, a *app.App) error {
				out := opts.formatter(cmd)
				res, err := a.Manager().Edit(ctx, opts.Owner, args[0], ch)
				if err != nil {
					return out.fail("edit", err)
				}
				return out.Success(res, renderResult(res))
			})
		},
	}
	f.bind(cmd)
	return cmd
}

func NewDeleteCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "delete <id>",
		Aliases: []string{"rm"},
		Short:   "Delete a reminder and cancel its timer",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd, func(ctx context.Context, a *app.App) error {
				out := opts.formatter(cmd)
				if err := a.Manager().Delete(ctx, opts.Owner, args[0]); err != nil {
					return out.fail("delete", err)
				}
				return out.Success(map[string]string{"id": args[0]}, successStyle.Render("deleted ")+args[0])
			})
		},
	}
}

func NewToggleCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:       "toggle <id> <on|off>",
		Short:     "Enable or disable a reminder",
		Args:      cobra.ExactArgs(2),
		ValidArgs: []string{"on", "off"},
		RunE: func(cmd *cobra.Command, args []string) error {
			var enabled bool
			switch strings.ToLower(args[1]) {
			case "on", "enable", "true":
				enabled = true
			case "off", "disable", "false":
			default:
				return NewExitError(ExitCommandError, fmt.Sprintf("state must be on or off, got %q", args[1]))
			}
			return opts.withApp(cmd, func(ctx context.Context, a *app.App) error {
				out := opts.formatter(cmd)
				res, err := a.Manager().Toggle(ctx, opts.Owner, args[0], enabled)
				if err != nil {
					return out.fail("toggle", err)
				}
				return out.Success(res, renderResult(res))
			})
		},
	}
}

func NewGetCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Show one reminder",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd, func(ctx context.Context, a *app.App) error {
				out := opts.formatter(cmd)
				rec, err := a.Manager().Get(ctx, opts.Owner, args[0])
				if err != nil {
					return out.fail("get", err)
				}
				return out.Success(rec, renderReminder(rec))
			})
		},
	}
}

func NewListCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List reminders due from now on",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd, func(ctx context.Context, a *app.App) error {
				list, err := a.Manager().ListUpcoming(ctx, opts.Owner)
				out := opts.formatter(cmd)
				if err != nil {
					return out.fail("list", err)
				}
				return out.Success(list, renderList(list))
			})
		},
	}
}
