package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xssnick/tonwallet/ton/signer"
	"github.com/xssnick/tonwallet/tonconnect"
)

type prompt struct {
	mx  sync.Mutex
	in  *bufio.Reader
	out io.Writer
}

func newPrompt(cmd *cobra.Command) *prompt {
	return &prompt{in: bufio.NewReader(cmd.InOrStdin()), out: cmd.OutOrStdout()}
}

func (p *prompt) confirm(question string) bool {
	p.mx.Lock()
	defer p.mx.Unlock()

	fmt.Fprintf(p.out, "%s [y/N] ", question)
	line, err := p.in.ReadString('\n')
	if err != nil && line == "" {
		return false
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true
	}
	return false
}

// terminalApprover asks on the terminal and signs with the wallet key.
type terminalApprover struct {
	p  *prompt
	sg signer.Signer
}

func (t *terminalApprover) decide(question string) (signer.Signer, error) {
	if !t.p.confirm(question) {
		return nil, signer.ErrCanceled
	}
	return t.sg, nil
}

func (t *terminalApprover) ApproveConnect(_ context.Context, req *tonconnect.ConnectIntent) (signer.Signer, error) {
	return t.decide(fmt.Sprintf("connect %s (%s)?", req.Manifest.Name, req.Manifest.URL))
}

func (t *terminalApprover) ApproveTransaction(_ context.Context, req *tonconnect.TransactionIntent) (signer.Signer, error) {
	fmt.Fprintf(t.p.out, "%s asks to send %d message(s):\n", req.Connection.Manifest.Name, len(req.Transfer.Messages))
	for _, m := range req.Transfer.Messages {
		fmt.Fprintf(t.p.out, "  %s TON to %s\n", m.Amount().String(), m.Destination().String())
	}
	fmt.Fprintf(t.p.out, "fee: %s %s\n", req.Estimation.Fee.Amount.String(), req.Estimation.Fee.Asset.Symbol)
	return t.decide("approve?")
}

func (t *terminalApprover) ApproveSignData(_ context.Context, req *tonconnect.SignDataIntent) (signer.Signer, error) {
	what := string(req.Payload.Type)
	if req.Payload.Type == tonconnect.SignDataText {
		what = fmt.Sprintf("text %q", req.Payload.Text)
	}
	return t.decide(fmt.Sprintf("%s asks to sign %s, approve?", req.Connection.Manifest.Name, what))
}

// runBridge serves dApp requests until interrupted.
func runBridge(cmd *cobra.Command, opts *rootOptions, link string) error {
	a := opts.app
	if a.signer == nil {
		return errNoSeed
	}

	d, err := a.dispatcher(&terminalApprover{p: newPrompt(cmd), sg: a.signer})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tr := a.bridge(d)
	if link != "" {
		conn, err := tr.Pair(ctx, link)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "connected to %s\n", conn.Manifest.Name)
	}

	if err = tr.Start(); err != nil {
		return err
	}
	defer tr.Close()

	a.log.Info("listening for dApp requests", zap.String("bridge", a.cfg.Bridge.URL))
	<-ctx.Done()
	return nil
}

func newConnectCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "connect <link>",
		Short: "Connect a dApp from its tc:// or universal link and serve its requests",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBridge(cmd, opts, args[0])
		},
	}
}

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve requests of connected dApps",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runBridge(cmd, opts, "")
		},
	}
}

func newDisconnectCmd(opts *rootOptions) *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "disconnect [name]",
		Short: "List connected dApps or disconnect them",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := opts.app
			d, err := a.dispatcher(&terminalApprover{p: newPrompt(cmd)})
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			list, err := d.Registry().List(ctx, d.Scope())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(args) == 0 && !all {
				for _, c := range list {
					fmt.Fprintf(out, "%s\t%s\t%s\n", c.SessionID(), c.Manifest.Name, c.Manifest.URL)
				}
				return nil
			}

			tr := a.bridge(d)
			for _, c := range list {
				if !all && c.Manifest.Name != args[0] && c.SessionID() != args[0] {
					continue
				}
				if err = tr.Disconnect(ctx, c); err != nil {
					return err
				}
				fmt.Fprintf(out, "disconnected %s\n", c.Manifest.Name)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "disconnect every dApp")
	return cmd
}
