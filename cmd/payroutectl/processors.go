package main

import (
	"context"
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/mbd888/payroute/internal/apiclient"
)

// simpleCmd builds a command whose only job is one API call and printing its result.
func simpleCmd(opts *cliOptions, use, short string, args cobra.PositionalArgs,
	call func(ctx context.Context, c *apiclient.Client, args []string) (json.RawMessage, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  args,
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := call(cmd.Context(), opts.client(), args)
			if err != nil {
				return err
			}
			return opts.print(raw)
		},
	}
}

func processorsCmd(opts *cliOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "processors",
		Aliases: []string{"proc"},
		Short:   "Inspect and operate payment processors",
	}

	cmd.AddCommand(simpleCmd(opts, "list", "List processors with health and metrics", cobra.NoArgs,
		func(ctx context.Context, c *apiclient.Client, _ []string) (json.RawMessage, error) {
			return c.ListProcessors(ctx)
		}))
	cmd.AddCommand(simpleCmd(opts, "get <id>", "Show one processor", cobra.ExactArgs(1),
		func(ctx context.Context, c *apiclient.Client, args []string) (json.RawMessage, error) {
			return c.GetProcessor(ctx, args[0])
		}))
	cmd.AddCommand(chainCmd(opts))
	cmd.AddCommand(riskCmd(opts))
	cmd.AddCommand(simpleCmd(opts, "freeze <id>", "Freeze a processor (operator)", cobra.ExactArgs(1),
		func(ctx context.Context, c *apiclient.Client, args []string) (json.RawMessage, error) {
			return c.FreezeProcessor(ctx, args[0])
		}))
	cmd.AddCommand(simpleCmd(opts, "restore <id>", "Lift a freeze (operator)", cobra.ExactArgs(1),
		func(ctx context.Context, c *apiclient.Client, args []string) (json.RawMessage, error) {
			return c.RestoreProcessor(ctx, args[0])
		}))
	cmd.AddCommand(maintenanceCmd(opts))

	return cmd
}

func chainCmd(opts *cliOptions) *cobra.Command {
	var exclude []string

	cmd := &cobra.Command{
		Use:   "chain",
		Short: "Show routable processors in fallback order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := opts.client().FallbackChain(cmd.Context(), exclude)
			if err != nil {
				return err
			}
			return opts.print(raw)
		},
	}
	cmd.Flags().StringSliceVarP(&exclude, "exclude", "x", nil, "Processor ids to leave out")

	return cmd
}

func riskCmd(opts *cliOptions) *cobra.Command {
	var amount, currency string

	cmd := &cobra.Command{
		Use:   "risk <id>",
		Short: "Assess the risk of sending an amount to a processor",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := opts.client().AssessProcessor(cmd.Context(), args[0], amount, currency)
			if err != nil {
				return err
			}
			return opts.print(raw)
		},
	}
	cmd.Flags().StringVar(&amount, "amount", "", "Payment amount (server default when empty)")
	cmd.Flags().StringVar(&currency, "currency", "", "Currency code")

	return cmd
}

func maintenanceCmd(opts *cliOptions) *cobra.Command {
	var off bool

	cmd := &cobra.Command{
		Use:   "maintenance <id>",
		Short: "Put a processor into maintenance, or take it out with --off (operator)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := opts.client().SetMaintenance(cmd.Context(), args[0], !off)
			if err != nil {
				return err
			}
			return opts.print(raw)
		},
	}
	cmd.Flags().BoolVar(&off, "off", false, "End maintenance")

	return cmd
}
