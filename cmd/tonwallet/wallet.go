package main

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/xssnick/tonwallet/address"
	"github.com/xssnick/tonwallet/tlb"
	"github.com/xssnick/tonwallet/ton/sender"
	"github.com/xssnick/tonwallet/ton/transfer"
	"github.com/xssnick/tonwallet/ton/wallet"
)

func parseAddress(s string) (*address.Address, error) {
	if strings.Contains(s, ":") {
		return address.ParseRawAddr(s)
	}
	return address.ParseAddr(s)
}

func newAddressCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "address",
		Short: "Print the wallet address",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			id, err := opts.app.wallet()
			if err != nil {
				return err
			}
			addr, err := id.Address()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "address:    %s\n", addr.String())
			fmt.Fprintf(out, "raw:        %s\n", addr.StringRaw())
			fmt.Fprintf(out, "version:    %s\n", id.Version)
			fmt.Fprintf(out, "subwallet:  %d\n", id.WalletID())
			fmt.Fprintf(out, "public key: %s\n", hex.EncodeToString(id.PublicKey))
			return nil
		},
	}
}

func newBalanceCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "balance [address]",
		Short: "Print balance, seqno and status of the wallet or of another account",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := opts.app

			var addr *address.Address
			var err error
			if len(args) == 1 {
				addr, err = parseAddress(args[0])
			} else {
				addr, err = a.address()
			}
			if err != nil {
				return err
			}

			st, err := a.chain.GetSeqnoAndBalance(cmd.Context(), addr)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s\n", addr.String())
			fmt.Fprintf(out, "status:  %s\n", st.Status)
			fmt.Fprintf(out, "balance: %s TON\n", st.Balance.String())
			fmt.Fprintf(out, "seqno:   %d\n", st.Seqno)
			return nil
		},
	}
}

type sendFlags struct {
	strategy string
	plugin   string
	multisig string
	yes      bool
}

func (f *sendFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.strategy, "strategy", string(sender.StrategySelf), "how to send: self, battery, gasless, 2fa or multisig")
	cmd.Flags().StringVar(&f.plugin, "twofa-plugin", "", "2FA plugin address, for --strategy 2fa")
	cmd.Flags().StringVar(&f.multisig, "multisig", "", "multisig address to create the order in, for --strategy multisig")
	cmd.Flags().BoolVarP(&f.yes, "yes", "y", false, "send without asking")
}

// estimateAndSend shows the fee, asks and sends.
func (f *sendFlags) estimateAndSend(cmd *cobra.Command, opts *rootOptions, t *wallet.Transfer) error {
	a := opts.app

	var (
		targets strategyTargets
		err     error
	)
	if f.plugin != "" {
		if targets.twoFAPlugin, err = parseAddress(f.plugin); err != nil {
			return fmt.Errorf("invalid plugin address: %w", err)
		}
	}
	if f.multisig != "" {
		if targets.multisig, err = parseAddress(f.multisig); err != nil {
			return fmt.Errorf("invalid multisig address: %w", err)
		}
	}

	snd, err := a.sender(sender.Strategy(f.strategy), targets)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	est, err := snd.Estimate(ctx, t)
	if err != nil {
		return fmt.Errorf("failed to estimate: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "fee: %s %s (%s)\n", est.Fee.Amount.String(), est.Fee.Asset.Symbol, est.Strategy)
	if !f.yes && !newPrompt(cmd).confirm("send?") {
		return fmt.Errorf("canceled")
	}

	res, err := snd.Send(ctx, t, est, a.signer)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "%s, seqno %d, hash %s\n", res.State, res.Seqno, hex.EncodeToString(res.Hash))
	if res.MessageID != "" {
		fmt.Fprintf(out, "relay message id: %s\n", res.MessageID)
	}
	return nil
}

func newSendCmd(opts *rootOptions) *cobra.Command {
	var (
		sf      sendFlags
		comment string
		all     bool
	)

	cmd := &cobra.Command{
		Use:   "send <destination> <amount>",
		Short: "Send TON",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			dst, err := parseAddress(args[0])
			if err != nil {
				return fmt.Errorf("invalid destination: %w", err)
			}
			amount, err := tlb.FromTON(args[1])
			if err != nil {
				return fmt.Errorf("invalid amount: %w", err)
			}

			t, err := transfer.Native(cmd.Context(), opts.app.center, transfer.NativeParams{
				Destination: dst,
				Amount:      amount,
				Comment:     comment,
				SendAll:     all,
			})
			if err != nil {
				return err
			}
			return sf.estimateAndSend(cmd, opts, t)
		},
	}

	sf.register(cmd)
	cmd.Flags().StringVar(&comment, "comment", "", "text comment")
	cmd.Flags().BoolVar(&all, "all", false, "send the whole balance")
	return cmd
}

func newJettonCmd(opts *rootOptions) *cobra.Command {
	var (
		sf       sendFlags
		comment  string
		decimals int
	)

	cmd := &cobra.Command{
		Use:   "jetton <master> <destination> <amount>",
		Short: "Send jettons",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			master, err := parseAddress(args[0])
			if err != nil {
				return fmt.Errorf("invalid jetton master: %w", err)
			}
			dst, err := parseAddress(args[1])
			if err != nil {
				return fmt.Errorf("invalid destination: %w", err)
			}
			amount, err := tlb.FromDecimal(args[2], decimals)
			if err != nil {
				return fmt.Errorf("invalid amount: %w", err)
			}
			owner, err := opts.app.address()
			if err != nil {
				return err
			}

			t, err := transfer.Jetton(cmd.Context(), opts.app.center, transfer.JettonParams{
				Master:      master,
				Owner:       owner,
				Destination: dst,
				Amount:      amount,
				Comment:     comment,
			})
			if err != nil {
				return err
			}
			if sender.Strategy(sf.strategy) == sender.StrategyGasless {
				t.Mode = sender.GaslessMode
			}
			return sf.estimateAndSend(cmd, opts, t)
		},
	}

	sf.register(cmd)
	cmd.Flags().StringVar(&comment, "comment", "", "forward comment")
	cmd.Flags().IntVar(&decimals, "decimals", 9, "jetton decimals")
	return cmd
}
