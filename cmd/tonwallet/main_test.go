package main

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xssnick/tonwallet/address"
	"github.com/xssnick/tonwallet/config"
	"github.com/xssnick/tonwallet/ton/sender"
	"github.com/xssnick/tonwallet/ton/signer"
	"github.com/xssnick/tonwallet/tonconnect"
)

const testSeed = "0100000000000000000000000000000000000000000000000000000000000000"

func run(t *testing.T, stdin string, args ...string) (string, error) {
	cmd := newRootCmd()
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(out)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestAddressCommand(t *testing.T) {
	t.Setenv(seedEnv, testSeed)

	out, err := run(t, "", "address", "--wallet.version", "v4r2", "--log.env", "development")
	require.NoError(t, err)
	assert.Contains(t, out, "version:    V4R2")
	assert.Contains(t, out, "subwallet:  698983191")

	testnet, err := run(t, "", "address", "--wallet.version", "v4r2", "--network", "testnet")
	require.NoError(t, err)
	assert.NotEqual(t, out, testnet)
}

func TestAddressWithoutSeed(t *testing.T) {
	t.Setenv(seedEnv, "")

	_, err := run(t, "", "address")
	require.ErrorIs(t, err, errNoSeed)
}

func TestInvalidConfig(t *testing.T) {
	_, err := run(t, "", "address", "--storage.driver", "bolt")
	require.Error(t, err)
}

func TestTerminalApprover(t *testing.T) {
	sw, err := signer.NewSoftwareFromSeed(make([]byte, 32))
	require.NoError(t, err)

	for _, tt := range []struct {
		input    string
		approved bool
	}{
		{"y\n", true},
		{"YES\n", true},
		{"n\n", false},
		{"\n", false},
		{"", false},
	} {
		t.Run(strings.TrimSpace(tt.input), func(t *testing.T) {
			cmd := &cobra.Command{}
			cmd.SetIn(strings.NewReader(tt.input))
			cmd.SetOut(&bytes.Buffer{})

			a := &terminalApprover{p: newPrompt(cmd), sg: sw}
			sg, err := a.ApproveConnect(context.Background(), &tonconnect.ConnectIntent{
				Manifest: &tonconnect.Manifest{URL: "https://app.example", Name: "App"},
			})
			if tt.approved {
				require.NoError(t, err)
				assert.Equal(t, sw, sg)
				return
			}
			require.ErrorIs(t, err, signer.ErrCanceled)
			assert.True(t, signer.IsCanceled(err))
		})
	}
}

func TestSenderStrategies(t *testing.T) {
	t.Setenv(seedEnv, testSeed)

	cfg, err := config.Load(config.New(), "")
	require.NoError(t, err)
	a, err := newApp(context.Background(), cfg)
	require.NoError(t, err)
	defer a.Close()

	msig := address.MustParseRawAddr("0:" + strings.Repeat("ab", 32))

	tests := []struct {
		name     string
		strategy sender.Strategy
		targets  strategyTargets
		want     any
		err      string
	}{
		{"default", "", strategyTargets{}, &sender.WalletSender{}, ""},
		{"multisig", sender.StrategyMultisig, strategyTargets{multisig: msig}, &sender.MultisigSender{}, ""},
		{"multisig without address", sender.StrategyMultisig, strategyTargets{}, nil, "multisig address is required"},
		{"battery without relay", sender.StrategyBattery, strategyTargets{}, nil, "relay.battery_url is not set"},
		{"hardware", "ledger", strategyTargets{}, nil, "unknown strategy"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := a.sender(tt.strategy, tt.targets)
			if tt.err != "" {
				require.ErrorContains(t, err, tt.err)
				return
			}
			require.NoError(t, err)
			assert.IsType(t, tt.want, s)
		})
	}
}
