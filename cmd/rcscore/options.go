package main

import (
	"fmt"
	"strings"

	"github.com/arzzra/rcs_core/pkg/sip/featuretag"
	"github.com/spf13/cobra"
)

var optionsRegister bool

var optionsCmd = &cobra.Command{
	Use:   "options <target>",
	Short: "Query the capabilities of a contact",
	Long: `Options sends OPTIONS to the target and prints the status and the
feature tags from the Contact of the response.

Examples:
  rcscore options sip:+33600000002@ims.example.com
  rcscore options tel:+33600000002 --register`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := startCore(cmd.Context(), optionsRegister)
		if err != nil {
			return err
		}
		defer func() { _ = stopCore(c) }()

		tc, err := c.SendOptions(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		res := tc.Response()
		fmt.Fprintf(cmd.OutOrStdout(), "%d %s\n", res.StatusCode, res.Reason)
		if tags := featuretag.DecodeContactTags(res); len(tags) > 0 {
			fmt.Fprintf(cmd.OutOrStdout(), "capabilities: %s\n", strings.Join(tags, ", "))
		}
		return nil
	},
}

func init() {
	optionsCmd.Flags().BoolVar(&optionsRegister, "register", false,
		"register before sending OPTIONS")
}
