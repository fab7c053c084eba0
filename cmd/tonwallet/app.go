package main

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/xssnick/tonwallet/address"
	"github.com/xssnick/tonwallet/config"
	"github.com/xssnick/tonwallet/metrics"
	"github.com/xssnick/tonwallet/relay"
	"github.com/xssnick/tonwallet/storage"
	"github.com/xssnick/tonwallet/ton"
	"github.com/xssnick/tonwallet/ton/sender"
	"github.com/xssnick/tonwallet/ton/signer"
	"github.com/xssnick/tonwallet/ton/wallet"
	"github.com/xssnick/tonwallet/toncenter"
	"github.com/xssnick/tonwallet/tonconnect"
	"github.com/xssnick/tonwallet/tonconnect/bridge"
)

// seedEnv holds the hex encoded 32 byte key seed, it is never read from the config file.
const seedEnv = "TONWALLET_SEED"

const version = "0.1.0"

var errNoSeed = errors.New(seedEnv + " is not set")

type app struct {
	cfg     *config.Config
	log     *zap.Logger
	metrics *metrics.Metrics

	center *toncenter.Client
	chain  ton.ChainAPI
	store  storage.Store

	signer   *signer.Software
	identity *wallet.Identity

	metricsSrv *http.Server
}

func newApp(_ context.Context, cfg *config.Config) (*app, error) {
	log, err := config.NewLogger(cfg.Log.Env, cfg.Log.Level)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, log: log}

	reg := prometheus.NewRegistry()
	a.metrics = metrics.New(reg)
	if cfg.Metrics.Addr != "" {
		a.serveMetrics(reg)
	}

	opts := []toncenter.Option{
		toncenter.WithTimeout(cfg.Toncenter.Timeout),
		toncenter.WithLogger(log.Named("toncenter")),
		toncenter.WithMetrics(a.metrics),
	}
	if cfg.Toncenter.APIKey != "" {
		opts = append(opts, toncenter.WithAPIKey(cfg.Toncenter.APIKey))
	}
	if cfg.Toncenter.RPS > 0 {
		opts = append(opts, toncenter.WithRateLimit(cfg.Toncenter.RPS))
	}

	if a.center, err = toncenter.New(cfg.Toncenter.URL, opts...); err != nil {
		return nil, fmt.Errorf("failed to init toncenter client: %w", err)
	}
	a.chain = ton.WithTimeout(a.center, cfg.Toncenter.Timeout)

	if a.store, err = storage.Open(cfg.StorageConfig()); err != nil {
		return nil, fmt.Errorf("failed to open storage: %w", err)
	}

	if err = a.loadKey(); err != nil && !errors.Is(err, errNoSeed) {
		return nil, err
	}
	return a, nil
}

func (a *app) loadKey() error {
	raw := strings.TrimSpace(os.Getenv(seedEnv))
	if raw == "" {
		return errNoSeed
	}

	seed, err := hex.DecodeString(raw)
	if err != nil {
		return fmt.Errorf("%s is not hex", seedEnv)
	}

	if a.signer, err = signer.NewSoftwareFromSeed(seed); err != nil {
		return err
	}

	idOpts := []wallet.IdentityOption{wallet.WithNetwork(a.cfg.GlobalID())}
	if a.cfg.Wallet.Subwallet != 0 {
		idOpts = append(idOpts, wallet.WithSubwallet(a.cfg.Wallet.Subwallet))
	}

	a.identity, err = wallet.NewIdentity(ed25519.PublicKey(a.signer.PublicKey()), a.cfg.WalletVersion(), idOpts...)
	if err != nil {
		return fmt.Errorf("failed to init wallet: %w", err)
	}
	return nil
}

// wallet returns the identity or explains how to provide the key.
func (a *app) wallet() (*wallet.Identity, error) {
	if a.identity == nil {
		return nil, errNoSeed
	}
	return a.identity, nil
}

func (a *app) address() (*address.Address, error) {
	id, err := a.wallet()
	if err != nil {
		return nil, err
	}
	return id.Address()
}

func (a *app) senderOptions() []sender.Option {
	return []sender.Option{
		sender.WithLogger(a.log.Named("sender")),
		sender.WithMetrics(a.metrics),
		sender.WithTTL(a.cfg.Sender.TTL),
		sender.WithPolling(a.cfg.TwoFA.PollInterval, a.cfg.TwoFA.Timeout),
	}
}

func (a *app) relayOptions(name string) []relay.Option {
	return []relay.Option{
		relay.WithTimeout(a.cfg.Toncenter.Timeout),
		relay.WithLogger(a.log.Named(name)),
		relay.WithMetrics(a.metrics),
	}
}

// strategyTargets are the contracts some strategies act through.
type strategyTargets struct {
	twoFAPlugin *address.Address
	multisig    *address.Address
}

// sender builds the sender of a strategy. Hardware signing needs a device driver and is not offered here.
func (a *app) sender(strategy sender.Strategy, targets strategyTargets) (sender.Sender, error) {
	id, err := a.wallet()
	if err != nil {
		return nil, err
	}

	switch strategy {
	case "", sender.StrategySelf:
		return sender.NewWalletSender(a.chain, id, a.senderOptions()...)
	case sender.StrategyBattery:
		if a.cfg.Relay.BatteryURL == "" {
			return nil, fmt.Errorf("relay.battery_url is not set")
		}
		return sender.NewBatterySender(a.chain, id, relay.NewBattery(a.cfg.Relay.BatteryURL, a.relayOptions("battery")...), a.senderOptions()...)
	case sender.StrategyGasless:
		if a.cfg.Relay.GaslessURL == "" {
			return nil, fmt.Errorf("relay.gasless_url is not set")
		}
		return sender.NewGaslessSender(a.chain, id, relay.NewGasless(a.cfg.Relay.GaslessURL, a.relayOptions("gasless")...), a.center, a.senderOptions()...)
	case sender.StrategyTwoFA:
		if a.cfg.Relay.TwoFAURL == "" {
			return nil, fmt.Errorf("relay.twofa_url is not set")
		}
		return sender.NewTwoFASender(a.chain, id, targets.twoFAPlugin, a.center, relay.NewTwoFA(a.cfg.Relay.TwoFAURL, a.relayOptions("twofa")...), a.senderOptions()...)
	case sender.StrategyMultisig:
		if targets.multisig == nil {
			return nil, fmt.Errorf("multisig address is required")
		}
		host, err := sender.NewWalletSender(a.chain, id, a.senderOptions()...)
		if err != nil {
			return nil, err
		}
		hostAddr, err := id.Address()
		if err != nil {
			return nil, err
		}
		return sender.NewMultisigSender(sender.MultisigConfig{
			Host:        host,
			HostAddress: hostAddr,
			Multisig:    targets.multisig,
			Chain:       a.chain,
			Source:      a.center,
		}, a.senderOptions()...)
	}
	return nil, fmt.Errorf("unknown strategy %q", strategy)
}

// dispatcher wires the TON Connect side of the wallet to the self paid sender.
func (a *app) dispatcher(approver tonconnect.Approver) (*tonconnect.Dispatcher, error) {
	id, err := a.wallet()
	if err != nil {
		return nil, err
	}

	snd, err := a.sender(sender.StrategySelf, strategyTargets{})
	if err != nil {
		return nil, err
	}

	return tonconnect.NewDispatcher(tonconnect.Config{
		Identity:  id,
		Sender:    snd,
		Registry:  tonconnect.NewRegistry(a.store),
		Manifests: tonconnect.NewManifestLoader(a.cfg.Toncenter.Timeout),
		Approver:  approver,
		Device:    tonconnect.NewDeviceInfo("linux", "tonwallet", version, id.Version.MaxMessages()),
	}, tonconnect.WithLogger(a.log.Named("tonconnect")), tonconnect.WithMetrics(a.metrics))
}

func (a *app) bridge(d *tonconnect.Dispatcher) *bridge.Transport {
	return bridge.New(a.cfg.Bridge.URL, d, a.store,
		bridge.WithTTL(a.cfg.Bridge.TTL),
		bridge.WithLogger(a.log.Named("bridge")),
		bridge.WithMetrics(a.metrics),
	)
}

func (a *app) serveMetrics(reg *prometheus.Registry) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	a.metricsSrv = &http.Server{
		Addr:              a.cfg.Metrics.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := a.metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Error("metrics server stopped", zap.Error(err))
		}
	}()
}

func (a *app) Close() error {
	if a.metricsSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = a.metricsSrv.Shutdown(ctx)
	}
	_ = a.log.Sync()
	return a.store.Close()
}
