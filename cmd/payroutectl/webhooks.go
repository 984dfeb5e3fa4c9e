package main

import (
	"context"
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/mbd888/payroute/internal/apiclient"
)

func webhooksCmd(opts *cliOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "webhooks",
		Short: "Manage audit event webhooks (operator)",
	}

	var kinds []string
	create := &cobra.Command{
		Use:   "create <url>",
		Short: "Subscribe a URL to audit events",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := opts.client().CreateWebhook(cmd.Context(), args[0], kinds)
			if err != nil {
				return err
			}
			return opts.print(raw)
		},
	}
	create.Flags().StringSliceVarP(&kinds, "kinds", "k", nil, "Event kinds to deliver (all when empty)")

	cmd.AddCommand(create)
	cmd.AddCommand(simpleCmd(opts, "list", "List webhook subscriptions", cobra.NoArgs,
		func(ctx context.Context, c *apiclient.Client, _ []string) (json.RawMessage, error) {
			return c.ListWebhooks(ctx)
		}))
	cmd.AddCommand(simpleCmd(opts, "delete <id>", "Remove a webhook subscription", cobra.ExactArgs(1),
		func(ctx context.Context, c *apiclient.Client, args []string) (json.RawMessage, error) {
			return c.DeleteWebhook(ctx, args[0])
		}))

	return cmd
}
