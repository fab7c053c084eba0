package sender

import (
	"context"
	"fmt"
	"math/big"

	"go.uber.org/zap"

	"github.com/xssnick/tonwallet/address"
	"github.com/xssnick/tonwallet/tlb"
	"github.com/xssnick/tonwallet/ton"
	"github.com/xssnick/tonwallet/ton/jetton"
	"github.com/xssnick/tonwallet/ton/signer"
	"github.com/xssnick/tonwallet/ton/wallet"
)

// GaslessMode is the only send mode a gasless transfer may use.
const GaslessMode = wallet.PayGasSeparately | wallet.IgnoreErrors

// JettonWalletData is the state of a jetton wallet.
type JettonWalletData struct {
	Balance tlb.Coins
	Owner   *address.Address
	Master  *address.Address
}

type JettonWalletSource interface {
	GetJettonWalletData(ctx context.Context, jettonWallet *address.Address) (*JettonWalletData, error)
}

// GaslessSender lets a relay pay the fees of a jetton transfer and take its commission in the same jetton.
// The wallet signs an internal request that the relay delivers.
type GaslessSender struct {
	w       *WalletSender
	relay   GaslessRelay
	jettons JettonWalletSource
}

func NewGaslessSender(chain ton.ChainAPI, id *wallet.Identity, relay GaslessRelay, jettons JettonWalletSource, opts ...Option) (*GaslessSender, error) {
	if id.Version != wallet.V5R1 {
		return nil, fmt.Errorf("%w: gasless needs %s, got %s", wallet.ErrUnsupportedForVersion, wallet.V5R1, id.Version)
	}

	w, err := NewWalletSender(chain, id, opts...)
	if err != nil {
		return nil, err
	}
	return &GaslessSender{w: w, relay: relay, jettons: jettons}, nil
}

// checkGasless accepts exactly one jetton transfer with GaslessMode.
func checkGasless(t *wallet.Transfer) (*jetton.TransferPayload, error) {
	if len(t.Messages) != 1 {
		return nil, fmt.Errorf("%w: exactly one message is allowed, got %d", ErrGaslessNotAllowed, len(t.Messages))
	}
	if t.Mode != GaslessMode {
		return nil, fmt.Errorf("%w: send mode should be %d, got %d", ErrGaslessNotAllowed, GaslessMode, t.Mode)
	}
	if t.Plugin != nil || len(t.Extensions) > 0 {
		return nil, fmt.Errorf("%w: wallet actions are not allowed", ErrGaslessNotAllowed)
	}

	payload, err := jetton.ParseTransfer(t.Messages[0].Body())
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrGaslessNotAllowed, err.Error())
	}
	return payload, nil
}

func (s *GaslessSender) Estimate(ctx context.Context, t *wallet.Transfer) (*Estimation, error) {
	if _, err := checkGasless(t); err != nil {
		return nil, err
	}

	jw := t.Messages[0].Destination()
	data, err := s.jettons.GetJettonWalletData(ctx, jw)
	if err != nil {
		return nil, fmt.Errorf("failed to get jetton wallet data: %w", err)
	}

	quote, err := s.relay.EstimateRelayedFee(ctx, RelayRequest{
		Wallet:    s.w.Address(),
		PublicKey: s.w.id.PublicKey,
		Messages:  t.Messages,
		FeeJetton: data.Master,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to estimate gasless fee: %w", err)
	}

	asset := quote.Asset
	if asset.Jetton == nil {
		asset.Jetton = data.Master
	}

	est, err := newEstimation(StrategyGasless, t, Fee{Asset: asset, Amount: quote.Fee}, quote.Preview, s.w.opts.clk.Now())
	if err != nil {
		return nil, err
	}
	est.quote = quote
	return est, nil
}

func (s *GaslessSender) Send(ctx context.Context, t *wallet.Transfer, est *Estimation, sg signer.Signer) (res *Result, err error) {
	defer func() {
		s.w.opts.report(StrategyGasless, res, err, zap.String("wallet", s.w.addr.String()))
	}()

	p := newPipeline(sendFlow)
	if err = checkSigner(sg); err != nil {
		return nil, err
	}
	payload, err := checkGasless(t)
	if err != nil {
		return nil, err
	}
	if err = consume(est, StrategyGasless, t, s.w.opts.clk.Now(), s.w.opts.maxAge); err != nil {
		return nil, err
	}
	if err = p.advance(StateEstimated); err != nil {
		return nil, err
	}

	data, err := s.jettons.GetJettonWalletData(ctx, t.Messages[0].Destination())
	if err != nil {
		return nil, fmt.Errorf("failed to get jetton wallet data: %w", err)
	}

	// the commission is paid in the transferred jetton on top of the amount
	decimals := est.Fee.Amount.Decimals()
	if decimals == 0 {
		decimals = data.Balance.Decimals()
	}
	required, err := tlb.FromNano(new(big.Int).Add(payload.Amount.Nano(), est.Fee.Amount.Nano()), decimals)
	if err != nil {
		return nil, err
	}
	if err = checkBalance(est.Fee.Asset, required, data.Balance); err != nil {
		return nil, err
	}
	if err = p.advance(StateBalanceChecked); err != nil {
		return nil, err
	}

	acc, err := s.w.state(ctx)
	if err != nil {
		return nil, err
	}
	serverTime, offset, err := s.w.serverTime(ctx)
	if err != nil {
		return nil, err
	}

	validUntil := serverTime + s.w.ttlSeconds()
	if est.quote.ValidUntil != 0 && est.quote.ValidUntil < validUntil {
		validUntil = est.quote.ValidUntil
	}

	messages := est.quote.Messages
	if len(messages) == 0 {
		messages = t.Messages
	}

	body, err := s.w.id.SignedBody(ctx, wallet.Request{
		Seqno:      acc.Seqno,
		ValidUntil: validUntil,
		Transfer:   wallet.NewTransfer(GaslessMode, messages...),
		Auth:       wallet.AuthInternal,
	}, s.w.opts.signWith(sg))
	if err != nil {
		return nil, err
	}
	if err = p.advance(StateSigned); err != nil {
		return nil, err
	}
	// the relay delivers the signed body in its own internal message
	if err = p.advance(StateWrapped); err != nil {
		return nil, err
	}

	msg := &signedMessage{
		cell:       body,
		boc:        body.ToBOCWithFlags(false),
		seqno:      acc.Seqno,
		validUntil: validUntil,
		offset:     offset,
	}
	return s.w.opts.submit(ctx, p, msg, func(ctx context.Context, boc []byte) error {
		return s.relay.SubmitRelayed(ctx, boc, est.quote)
	})
}
