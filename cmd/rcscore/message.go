package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	messageContentType string
	messageRegister    bool
)

var messageCmd = &cobra.Command{
	Use:   "message <target> <text>",
	Short: "Send a pager mode MESSAGE",
	Long: `Message sends a single MESSAGE outside of any session and prints
the final response.

Examples:
  rcscore message sip:+33600000002@ims.example.com "hello" --register
  rcscore message tel:+33600000002 '{"a":1}' -t application/json`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := startCore(cmd.Context(), messageRegister)
		if err != nil {
			return err
		}
		defer func() { _ = stopCore(c) }()

		tc, err := c.SendMessage(cmd.Context(), args[0], messageContentType, []byte(args[1]))
		if err != nil {
			return err
		}
		res := tc.Response()
		fmt.Fprintf(cmd.OutOrStdout(), "%d %s\n", res.StatusCode, res.Reason)
		return nil
	},
}

func init() {
	messageCmd.Flags().StringVarP(&messageContentType, "type", "t", "text/plain",
		"content type of the message body")
	messageCmd.Flags().BoolVar(&messageRegister, "register", true,
		"register before sending MESSAGE")
}
