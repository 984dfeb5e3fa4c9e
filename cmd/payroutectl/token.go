package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/mbd888/payroute/internal/apiclient"
	"github.com/mbd888/payroute/internal/auth"
)

func tokenCmd(opts *cliOptions) *cobra.Command {
	var secret string
	var ttl time.Duration

	cmd := &cobra.Command{
		Use:   "token <operator>",
		Short: "Mint an operator token signed with ADMIN_JWT_SECRET",
		Long: `Mint an operator token locally. The secret must match the server's
ADMIN_JWT_SECRET; it is read from the environment or a .env file.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if secret == "" {
				secret = os.Getenv("ADMIN_JWT_SECRET")
			}
			token, err := auth.NewManager(secret).IssueToken(args[0], ttl)
			if err != nil {
				return fmt.Errorf("mint token: %w", err)
			}
			_, err = fmt.Fprintln(opts.out, token)
			return err
		},
	}
	cmd.Flags().StringVar(&secret, "secret", "", "Signing secret (defaults to ADMIN_JWT_SECRET)")
	cmd.Flags().DurationVar(&ttl, "ttl", auth.DefaultTTL, "Token lifetime")

	return cmd
}

func whoamiCmd(opts *cliOptions) *cobra.Command {
	return simpleCmd(opts, "whoami", "Show the operator the current token authenticates as", cobra.NoArgs,
		func(ctx context.Context, c *apiclient.Client, _ []string) (json.RawMessage, error) {
			return c.Whoami(ctx)
		})
}
