package sender

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/xssnick/tonwallet/metrics"
	"github.com/xssnick/tonwallet/tlb"
	"github.com/xssnick/tonwallet/ton/signer"
	"github.com/xssnick/tonwallet/ton/wallet"
	"github.com/xssnick/tonwallet/tvm/cell"
)

const (
	DefaultTTL               = 300 * time.Second
	DefaultEstimationMaxAge  = 2 * time.Minute
	DefaultPollInterval      = 2 * time.Second
	DefaultConfirmationDelay = 3 * time.Minute
)

// Sender runs a transfer through estimate, balance check, sign, wrap and broadcast.
type Sender interface {
	Estimate(ctx context.Context, t *wallet.Transfer) (*Estimation, error)
	Send(ctx context.Context, t *wallet.Transfer, est *Estimation, s signer.Signer) (*Result, error)
}

// Result describes what was handed to the network or to a relay.
type Result struct {
	State      State
	Seqno      uint32
	ValidUntil uint32
	// Hash is the hash of the external message, or of the signed request for relayed sends.
	Hash []byte
	BOC  []byte
	// MessageID is set by relays that track messages themselves.
	MessageID string
}

type Option func(*options)

type options struct {
	logger  *zap.Logger
	clk     clock.Clock
	metrics *metrics.Metrics

	ttl          time.Duration
	maxAge       time.Duration
	pollInterval time.Duration
	pollTimeout  time.Duration
}

func buildOptions(opts []Option) options {
	o := options{
		logger:       zap.NewNop(),
		clk:          clock.New(),
		ttl:          DefaultTTL,
		maxAge:       DefaultEstimationMaxAge,
		pollInterval: DefaultPollInterval,
		pollTimeout:  DefaultConfirmationDelay,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

func WithClock(c clock.Clock) Option {
	return func(o *options) {
		o.clk = c
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}

// WithTTL sets how long a signed message stays valid after the server time it was built at.
func WithTTL(d time.Duration) Option {
	return func(o *options) {
		o.ttl = d
	}
}

// WithEstimationMaxAge sets how old an estimation can be at send time, zero disables the check.
func WithEstimationMaxAge(d time.Duration) Option {
	return func(o *options) {
		o.maxAge = d
	}
}

// WithPolling sets the confirmation poll interval and the overall wait for 2FA sends.
func WithPolling(interval, timeout time.Duration) Option {
	return func(o *options) {
		o.pollInterval = interval
		o.pollTimeout = timeout
	}
}

// requiredValue is what the messages take from the balance, nothing is summed when all balance is sent.
func requiredValue(t *wallet.Transfer) tlb.Coins {
	if t.CarriesAllBalance() {
		return tlb.ZeroCoins
	}
	return t.TotalAmount()
}

// signWith adapts a signer to the wallet payload signer and records how long it took.
func (o *options) signWith(s signer.Signer) wallet.Signer {
	return func(ctx context.Context, payload *cell.Cell) ([]byte, error) {
		start := o.clk.Now()
		sig, err := s.SignCell(ctx, payload)
		o.metrics.ObserveSign(s.Kind().String(), o.clk.Since(start).Seconds())
		return sig, err
	}
}

func checkSigner(s signer.Signer) error {
	if s == nil {
		return ErrNoSigner
	}
	if s.Kind() == signer.KindEmulation {
		return ErrEmulationSigner
	}
	return nil
}

// expired tells whether validUntil has passed on the server clock, offset is server time minus local time.
func (o *options) expired(validUntil uint32, offset int64) bool {
	return o.clk.Now().Unix()+offset >= int64(validUntil)
}

func (o *options) report(strategy Strategy, res *Result, err error, fields ...zap.Field) {
	fields = append(fields, zap.String("strategy", string(strategy)))

	switch {
	case err == nil:
		o.metrics.ObserveBroadcast(string(strategy), metrics.OutcomeOK)
		o.logger.Info("message sent", append(fields,
			zap.Uint32("seqno", res.Seqno),
			zap.Uint32("valid_until", res.ValidUntil),
		)...)
	case signer.IsCanceled(err):
		o.metrics.ObserveBroadcast(string(strategy), metrics.OutcomeCanceled)
		o.logger.Info("send canceled by user", fields...)
	default:
		o.metrics.ObserveBroadcast(string(strategy), metrics.OutcomeError)
		o.logger.Warn("send failed", append(fields, zap.Error(err))...)
	}
}
