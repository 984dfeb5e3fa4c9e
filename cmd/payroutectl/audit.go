package main

import (
	"context"
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/mbd888/payroute/internal/apiclient"
)

func auditCmd(opts *cliOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Read the routing audit log",
	}

	cmd.AddCommand(simpleCmd(opts, "trail <payment-id>", "Show every event recorded for a payment", cobra.ExactArgs(1),
		func(ctx context.Context, c *apiclient.Client, args []string) (json.RawMessage, error) {
			return c.Trail(ctx, args[0])
		}))
	cmd.AddCommand(simpleCmd(opts, "report <payment-id>", "Explain how a payment was routed", cobra.ExactArgs(1),
		func(ctx context.Context, c *apiclient.Client, args []string) (json.RawMessage, error) {
			return c.Report(ctx, args[0])
		}))
	cmd.AddCommand(simpleCmd(opts, "summary", "Summarize routing activity for the session", cobra.NoArgs,
		func(ctx context.Context, c *apiclient.Client, _ []string) (json.RawMessage, error) {
			return c.Summary(ctx)
		}))
	cmd.AddCommand(eventsCmd(opts))
	cmd.AddCommand(exportCmd(opts))

	return cmd
}

func eventsCmd(opts *cliOptions) *cobra.Command {
	var kind, paymentID, cursor string
	var limit int

	cmd := &cobra.Command{
		Use:   "events",
		Short: "List audit events, one page at a time",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := opts.client().Events(cmd.Context(), kind, paymentID, cursor, limit)
			if err != nil {
				return err
			}
			return opts.print(raw)
		},
	}
	cmd.Flags().StringVarP(&kind, "kind", "k", "", "Event kind (routing_decision, processor_failure, processor_recovery, fallback_escalation, routing_outcome)")
	cmd.Flags().StringVar(&paymentID, "payment", "", "Only events for this payment")
	cmd.Flags().StringVar(&cursor, "cursor", "", "Cursor from the previous page")
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "Page size")

	return cmd
}

func exportCmd(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "export",
		Short: "Dump the session audit log as JSON lines (operator)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := opts.client().Export(cmd.Context())
			if err != nil {
				return err
			}
			_, err = opts.out.Write(data)
			return err
		},
	}
}
