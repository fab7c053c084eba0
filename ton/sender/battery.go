package sender

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/xssnick/tonwallet/ton"
	"github.com/xssnick/tonwallet/ton/signer"
	"github.com/xssnick/tonwallet/ton/wallet"
)

// BatterySender builds the same message as WalletSender, but the relay broadcasts it
// and takes the fee from the prepaid battery balance.
type BatterySender struct {
	w     *WalletSender
	relay BatteryRelay
}

func NewBatterySender(chain ton.ChainAPI, id *wallet.Identity, relay BatteryRelay, opts ...Option) (*BatterySender, error) {
	w, err := NewWalletSender(chain, id, opts...)
	if err != nil {
		return nil, err
	}
	return &BatterySender{w: w, relay: relay}, nil
}

func (s *BatterySender) Estimate(ctx context.Context, t *wallet.Transfer) (*Estimation, error) {
	if err := t.Validate(s.w.id.Version); err != nil {
		return nil, err
	}

	acc, err := s.w.state(ctx)
	if err != nil {
		return nil, err
	}
	serverTime, _, err := s.w.serverTime(ctx)
	if err != nil {
		return nil, err
	}

	ext, err := s.w.stubExternal(ctx, t, acc, serverTime+s.w.ttlSeconds())
	if err != nil {
		return nil, err
	}
	c, err := ext.ToCell()
	if err != nil {
		return nil, fmt.Errorf("failed to serialize external message: %w", err)
	}

	quote, err := s.relay.EstimateRelayedFee(ctx, RelayRequest{
		Wallet:    s.w.Address(),
		PublicKey: s.w.id.PublicKey,
		BOC:       c.ToBOCWithFlags(false),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to estimate battery fee: %w", err)
	}

	est, err := newEstimation(StrategyBattery, t, Fee{Asset: AssetBattery, Amount: quote.Fee}, quote.Preview, s.w.opts.clk.Now())
	if err != nil {
		return nil, err
	}
	est.quote = quote
	return est, nil
}

func (s *BatterySender) Send(ctx context.Context, t *wallet.Transfer, est *Estimation, sg signer.Signer) (res *Result, err error) {
	defer func() {
		s.w.opts.report(StrategyBattery, res, err, zap.String("wallet", s.w.addr.String()))
	}()

	p := newPipeline(sendFlow)
	if err = checkSigner(sg); err != nil {
		return nil, err
	}
	if err = t.Validate(s.w.id.Version); err != nil {
		return nil, err
	}
	if err = consume(est, StrategyBattery, t, s.w.opts.clk.Now(), s.w.opts.maxAge); err != nil {
		return nil, err
	}
	if err = p.advance(StateEstimated); err != nil {
		return nil, err
	}

	acc, err := s.w.state(ctx)
	if err != nil {
		return nil, err
	}
	// values still come from the wallet, only the fee is prepaid
	if err = checkBalance(AssetTON, requiredValue(t), acc.Balance); err != nil {
		return nil, err
	}
	if err = checkBalance(AssetBattery, est.Fee.Amount, est.quote.Available); err != nil {
		return nil, err
	}
	if err = p.advance(StateBalanceChecked); err != nil {
		return nil, err
	}

	msg, err := s.w.signAndWrap(ctx, p, t, acc, sg)
	if err != nil {
		return nil, err
	}

	return s.w.opts.submit(ctx, p, msg, func(ctx context.Context, boc []byte) error {
		return s.relay.SubmitRelayed(ctx, boc, est.quote)
	})
}
