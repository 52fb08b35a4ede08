package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var registerCmd = &cobra.Command{
	Use:   "register",
	Short: "Register in IMS and keep the registration until interrupted",
	Long: `Register sends REGISTER to the home domain through the configured
proxy, refreshes it periodically and unregisters on SIGINT or SIGTERM.

Examples:
  rcscore register -c rcs.yaml
  RCS_SIP_PUBLIC_URI=sip:+33600000001@ims.example.com rcscore register`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		c, err := startCore(ctx, true)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "registered, expires in %s\n", c.Registrar().Expire())

		<-ctx.Done()
		return stopCore(c)
	},
}
