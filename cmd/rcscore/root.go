package main

import (
	"context"
	"fmt"
	"time"

	"github.com/arzzra/rcs_core/pkg/config"
	"github.com/arzzra/rcs_core/pkg/core"
	"github.com/emiago/sipgo/sip"
	"github.com/spf13/cobra"
)

var (
	// глобальные флаги
	configFile string
	debug      bool
)

var rootCmd = &cobra.Command{
	Use:   "rcscore",
	Short: "RCS signalling core over IMS",
	Long: `rcscore drives the IMS/RCS signalling core: registration with
periodic refresh, capability exchange, pager mode messages and
incoming session handling.

Settings come from the config file and RCS_* environment variables,
for example RCS_SIP_PUBLIC_URI or RCS_SIP_PROXY.`,
	Version:       "0.1.0",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if debug {
			sip.SIPDebug = true
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "",
		"config file path (yaml)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false,
		"print SIP messages")

	rootCmd.AddCommand(registerCmd)
	rootCmd.AddCommand(optionsCmd)
	rootCmd.AddCommand(messageCmd)
	rootCmd.AddCommand(serveCmd)
}

// startCore загружает конфигурацию и запускает ядро
func startCore(ctx context.Context, register bool, opts ...core.Option) (*core.Core, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, err
	}
	cfg.Registration.Enabled = register

	c, err := core.New(cfg, opts...)
	if err != nil {
		return nil, fmt.Errorf("create core: %w", err)
	}
	if err := c.Start(ctx); err != nil {
		_ = stopCore(c)
		return nil, err
	}
	return c, nil
}

func stopCore(c *core.Core) error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*c.Config().SIP.Timeout+time.Second)
	defer cancel()
	return c.Stop(ctx)
}
