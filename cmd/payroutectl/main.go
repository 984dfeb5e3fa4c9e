// payroutectl - command line client for the payroute API
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/mbd888/payroute/internal/apiclient"
)

// Version is set by ldflags
var Version = "dev"

func main() {
	_ = godotenv.Load()

	if err := newRootCmd(os.Stdout).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// cliOptions holds the connection flags shared by every subcommand.
type cliOptions struct {
	apiURL   string
	token    string
	merchant string
	timeout  time.Duration
	out      io.Writer
}

func (o *cliOptions) client() *apiclient.Client {
	return apiclient.New(apiclient.Config{
		APIURL:     o.apiURL,
		Token:      o.token,
		MerchantID: o.merchant,
		Timeout:    o.timeout,
	})
}

// print pretty-prints a JSON response body.
func (o *cliOptions) print(raw []byte) error {
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		_, werr := o.out.Write(raw)
		return werr
	}
	buf.WriteByte('\n')
	_, err := o.out.Write(buf.Bytes())
	return err
}

func newRootCmd(out io.Writer) *cobra.Command {
	opts := &cliOptions{out: out}

	rootCmd := &cobra.Command{
		Use:           "payroutectl",
		Short:         "payroutectl - operate a payroute routing server",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.SetOut(out)

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&opts.apiURL, "api-url", envOrDefault("PAYROUTE_API_URL", "http://localhost:8080"), "payroute API base URL")
	flags.StringVar(&opts.token, "token", os.Getenv("PAYROUTE_TOKEN"), "Operator bearer token")
	flags.StringVar(&opts.merchant, "merchant", os.Getenv("PAYROUTE_MERCHANT_ID"), "Merchant id sent as X-Merchant-ID")
	flags.DurationVar(&opts.timeout, "timeout", 60*time.Second, "Request timeout")

	rootCmd.AddCommand(routeCmd(opts))
	rootCmd.AddCommand(previewCmd(opts))
	rootCmd.AddCommand(processorsCmd(opts))
	rootCmd.AddCommand(auditCmd(opts))
	rootCmd.AddCommand(webhooksCmd(opts))
	rootCmd.AddCommand(tokenCmd(opts))
	rootCmd.AddCommand(whoamiCmd(opts))
	rootCmd.AddCommand(healthCmd(opts))
	rootCmd.AddCommand(infoCmd(opts))

	return rootCmd
}

func healthCmd(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Show server health checks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := opts.client().Health(cmd.Context())
			if raw != nil {
				if perr := opts.print(raw); perr != nil {
					return perr
				}
			}
			return err
		},
	}
}

func infoCmd(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Show server version, oracle and processor counts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := opts.client().Info(cmd.Context())
			if err != nil {
				return err
			}
			return opts.print(raw)
		},
	}
}

func envOrDefault(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}
