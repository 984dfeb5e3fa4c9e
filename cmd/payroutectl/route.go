package main

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/mbd888/payroute/internal/apiclient"
)

func routeCmd(opts *cliOptions) *cobra.Command {
	var req apiclient.RouteRequest
	var risk map[string]string

	cmd := &cobra.Command{
		Use:   "route <amount> <currency>",
		Short: "Route a payment through the fallback chain",
		Long: `Route a payment and print the outcome with every attempt made.

Exits non-zero when every attempt failed; the outcome is still printed.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			req.Amount = args[0]
			req.Currency = args[1]
			if req.MerchantID == "" {
				req.MerchantID = opts.merchant
			}
			indicators, err := parseRiskIndicators(risk)
			if err != nil {
				return err
			}
			req.RiskIndicators = indicators

			raw, err := opts.client().RoutePayment(cmd.Context(), req)
			var apiErr *apiclient.APIError
			if errors.As(err, &apiErr) && apiErr.Body != "" {
				if perr := opts.print([]byte(apiErr.Body)); perr != nil {
					return perr
				}
				return err
			}
			if err != nil {
				return err
			}
			return opts.print(raw)
		},
	}

	cmd.Flags().StringVar(&req.PaymentID, "payment-id", "", "Idempotent payment id (generated when empty)")
	cmd.Flags().StringVar(&req.MerchantID, "merchant-id", "", "Merchant id (defaults to --merchant)")
	cmd.Flags().StringVar(&req.Description, "description", "", "Payment description")
	cmd.Flags().StringToStringVar(&risk, "risk", nil, "Risk indicators as name=score (e.g. velocity=0.4)")
	cmd.Flags().StringVarP(&req.BusinessPriority, "priority", "p", "", "Business priority (cost, speed, reliability, risk_minimization, compliance)")
	cmd.Flags().StringVarP(&req.Urgency, "urgency", "u", "", "Urgency (routine, normal, elevated, critical)")
	cmd.Flags().IntVarP(&req.MaxAttempts, "max-attempts", "n", 0, "Attempt budget (server default when 0)")

	return cmd
}

func previewCmd(opts *cliOptions) *cobra.Command {
	var priority, urgency string

	cmd := &cobra.Command{
		Use:   "preview <amount> [currency]",
		Short: "Show the routing plan for a payment without executing it",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			currency := "USD"
			if len(args) == 2 {
				currency = args[1]
			}
			raw, err := opts.client().Preview(cmd.Context(), args[0], currency, priority, urgency)
			if err != nil {
				return err
			}
			return opts.print(raw)
		},
	}

	cmd.Flags().StringVarP(&priority, "priority", "p", "", "Business priority")
	cmd.Flags().StringVarP(&urgency, "urgency", "u", "", "Urgency")

	return cmd
}

func parseRiskIndicators(raw map[string]string) (map[string]float64, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	out := make(map[string]float64, len(raw))
	for name, v := range raw {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, fmt.Errorf("risk indicator %s: %q is not a number", name, v)
		}
		out[name] = f
	}
	return out, nil
}
