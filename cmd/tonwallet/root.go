package main

import (
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/xssnick/tonwallet/config"
)

type rootOptions struct {
	v          *viper.Viper
	configPath string
	app        *app
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{v: config.New()}

	cmd := &cobra.Command{
		Use:           "tonwallet",
		Short:         "TON wallet with TON Connect support",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := opts.v.BindPFlags(cmd.Flags()); err != nil {
				return err
			}

			cfg, err := config.Load(opts.v, opts.configPath)
			if err != nil {
				return err
			}

			opts.app, err = newApp(cmd.Context(), cfg)
			return err
		},
		PersistentPostRunE: func(*cobra.Command, []string) error {
			if opts.app == nil {
				return nil
			}
			return opts.app.Close()
		},
	}

	f := cmd.PersistentFlags()
	f.StringVar(&opts.configPath, "config", "", "path to a yaml config file")
	f.String("network", config.NetworkMainnet, "mainnet or testnet")
	f.String("log.env", "production", "production for json logs, anything else for console")
	f.String("log.level", "info", "log level")
	f.String("toncenter.url", "https://toncenter.com", "toncenter base url")
	f.String("toncenter.api_key", "", "toncenter api key")
	f.Float64("toncenter.rps", 1, "toncenter requests per second, 0 disables the limit")
	f.Duration("toncenter.timeout", 10*time.Second, "toncenter request timeout")
	f.String("bridge.url", "https://bridge.tonapi.io", "TON Connect bridge url")
	f.Duration("bridge.ttl", 5*time.Minute, "bridge message ttl")
	f.String("relay.battery_url", "", "battery relay url")
	f.String("relay.gasless_url", "", "gasless relay url")
	f.String("relay.twofa_url", "", "2FA relay url")
	f.Duration("sender.ttl", 5*time.Minute, "external message validity")
	f.Duration("twofa.poll_interval", 2*time.Second, "2FA confirmation poll interval")
	f.Duration("twofa.timeout", 3*time.Minute, "2FA confirmation timeout")
	f.String("storage.driver", "memory", "memory, leveldb or redis")
	f.String("storage.path", "", "leveldb directory")
	f.String("storage.redis_addr", "", "redis host:port")
	f.String("wallet.version", "v5r1", "wallet revision: v3r1, v3r2, v4r2 or v5r1")
	f.Uint32("wallet.subwallet", 0, "subwallet id, 0 uses the revision default")
	f.String("metrics.addr", "", "address to serve prometheus metrics on")

	cmd.AddCommand(
		newAddressCmd(opts),
		newBalanceCmd(opts),
		newSendCmd(opts),
		newJettonCmd(opts),
		newConnectCmd(opts),
		newServeCmd(opts),
		newDisconnectCmd(opts),
	)
	return cmd
}
