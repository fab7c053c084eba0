package sender

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/avast/retry-go/v4"
	"go.uber.org/zap"

	"github.com/xssnick/tonwallet/address"
	"github.com/xssnick/tonwallet/tlb"
	"github.com/xssnick/tonwallet/ton"
	"github.com/xssnick/tonwallet/ton/plugin"
	"github.com/xssnick/tonwallet/ton/signer"
	"github.com/xssnick/tonwallet/ton/transfer"
	"github.com/xssnick/tonwallet/ton/wallet"
)

var errPending = errors.New("confirmation is pending")

// TwoFASource reads the 2FA plugin data.
type TwoFASource interface {
	GetTwoFA(ctx context.Context, plugin *address.Address) (*plugin.TwoFA, error)
}

// TwoFASender sends through the 2FA plugin: the user signs a plugin request, the relay
// collects the server confirmation and the plugin makes the wallet send.
type TwoFASender struct {
	w      *WalletSender
	plugin *address.Address
	source TwoFASource
	relay  TwoFARelay

	mu    sync.Mutex
	polls map[string]uint64
}

func NewTwoFASender(chain ton.ChainAPI, id *wallet.Identity, pluginAddr *address.Address, source TwoFASource, relay TwoFARelay, opts ...Option) (*TwoFASender, error) {
	if id.Version != wallet.V5R1 {
		return nil, fmt.Errorf("%w: 2fa needs %s, got %s", wallet.ErrUnsupportedForVersion, wallet.V5R1, id.Version)
	}
	if pluginAddr == nil {
		return nil, fmt.Errorf("plugin address is required")
	}

	w, err := NewWalletSender(chain, id, opts...)
	if err != nil {
		return nil, err
	}
	return &TwoFASender{
		w:      w,
		plugin: pluginAddr,
		source: source,
		relay:  relay,
		polls:  map[string]uint64{},
	}, nil
}

// Estimate emulates the same actions sent by the wallet directly, the wallet pays the same fees
// when the plugin asks it to act.
func (s *TwoFASender) Estimate(ctx context.Context, t *wallet.Transfer) (*Estimation, error) {
	return s.w.estimate(ctx, t, StrategyTwoFA)
}

func (s *TwoFASender) Send(ctx context.Context, t *wallet.Transfer, est *Estimation, sg signer.Signer) (res *Result, err error) {
	defer func() {
		s.w.opts.report(StrategyTwoFA, res, err, zap.String("wallet", s.w.addr.String()), zap.String("plugin", s.plugin.String()))
	}()

	p := newPipeline(sendFlow)
	if err = checkSigner(sg); err != nil {
		return nil, err
	}
	if err = t.Validate(wallet.V5R1); err != nil {
		return nil, err
	}
	if err = consume(est, StrategyTwoFA, t, s.w.opts.clk.Now(), s.w.opts.maxAge); err != nil {
		return nil, err
	}
	if err = p.advance(StateEstimated); err != nil {
		return nil, err
	}

	acc, err := s.w.state(ctx)
	if err != nil {
		return nil, err
	}
	required, err := requiredValue(t).Add(est.Fee.Amount)
	if err != nil {
		return nil, err
	}
	if err = checkBalance(AssetTON, required, acc.Balance); err != nil {
		return nil, err
	}
	if err = p.advance(StateBalanceChecked); err != nil {
		return nil, err
	}

	cfg, err := s.source.GetTwoFA(ctx, s.plugin)
	if err != nil {
		return nil, fmt.Errorf("failed to get 2fa plugin data: %w", err)
	}

	serverTime, offset, err := s.w.serverTime(ctx)
	if err != nil {
		return nil, err
	}
	validUntil := serverTime + s.w.ttlSeconds()

	data, err := plugin.TwoFARequest(cfg.Seqno, validUntil, transfer.NewQueryID(), t)
	if err != nil {
		return nil, err
	}

	sig, err := s.w.opts.signWith(sg)(ctx, data)
	if err != nil {
		return nil, fmt.Errorf("failed to sign: %w", err)
	}
	if err = p.advance(StateSigned); err != nil {
		return nil, err
	}

	var si *tlb.StateInit
	if acc.Status != tlb.AccountStatusActive {
		if si, err = s.w.id.StateInit(); err != nil {
			return nil, fmt.Errorf("failed to get wallet state init: %w", err)
		}
	}
	if err = p.advance(StateWrapped); err != nil {
		return nil, err
	}

	msg := &signedMessage{
		cell:       data,
		boc:        data.ToBOCWithFlags(false),
		seqno:      cfg.Seqno,
		validUntil: validUntil,
		offset:     offset,
	}

	var messageID string
	res, err = s.w.opts.submit(ctx, p, msg, func(ctx context.Context, boc []byte) error {
		gen := s.startPoll()

		id, err := s.relay.Submit(ctx, boc, sig, si)
		if err != nil {
			return err
		}
		messageID = id

		return s.poll(ctx, gen, id)
	})
	if err != nil {
		return nil, err
	}
	res.MessageID = messageID
	return res, nil
}

// startPoll makes every earlier poll for this plugin stale.
func (s *TwoFASender) startPoll() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := s.plugin.String()
	s.polls[key]++
	return s.polls[key]
}

func (s *TwoFASender) isCurrent(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.polls[s.plugin.String()] == gen
}

// poll waits for a terminal confirmation status, attempts are the timeout divided by the interval.
func (s *TwoFASender) poll(ctx context.Context, gen uint64, messageID string) error {
	o := s.w.opts
	attempts := uint(o.pollTimeout / o.pollInterval)
	if attempts == 0 {
		attempts = 1
	}

	status := "superseded"
	err := retry.Do(func() error {
		if !s.isCurrent(gen) {
			return retry.Unrecoverable(ErrPollSuperseded)
		}

		res, err := s.relay.GetStatus(ctx, messageID)
		if err != nil {
			return fmt.Errorf("failed to get confirmation status: %w", err)
		}
		status = res.Status.String()

		switch res.Status {
		case TwoFAPending:
			return errPending
		case TwoFAConfirmed:
			return nil
		}
		return retry.Unrecoverable(fmt.Errorf("%w: %s", ErrConfirmationFailed, res.Status))
	},
		retry.Attempts(attempts),
		retry.Delay(o.pollInterval),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.Context(ctx),
		retry.WithTimer(o.clk),
	)
	o.metrics.ObservePoll(status)

	if errors.Is(err, errPending) {
		return fmt.Errorf("%w: message %s", ErrConfirmationTimeout, messageID)
	}
	return err
}
