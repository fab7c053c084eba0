package sender

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/xssnick/tonwallet/address"
	"github.com/xssnick/tonwallet/tlb"
	"github.com/xssnick/tonwallet/ton"
	"github.com/xssnick/tonwallet/ton/signer"
	"github.com/xssnick/tonwallet/ton/wallet"
	"github.com/xssnick/tonwallet/tvm/cell"
)

// WalletSender signs with the wallet key and broadcasts through the chain API, the wallet pays its fees.
type WalletSender struct {
	chain ton.ChainAPI
	id    *wallet.Identity
	addr  *address.Address
	opts  options
}

func NewWalletSender(chain ton.ChainAPI, id *wallet.Identity, opts ...Option) (*WalletSender, error) {
	addr, err := id.Address()
	if err != nil {
		return nil, fmt.Errorf("failed to get wallet address: %w", err)
	}

	return &WalletSender{
		chain: chain,
		id:    id,
		addr:  addr,
		opts:  buildOptions(opts),
	}, nil
}

func (s *WalletSender) Address() *address.Address {
	return s.addr.Copy()
}

func (s *WalletSender) Identity() *wallet.Identity {
	return s.id
}

func (s *WalletSender) Estimate(ctx context.Context, t *wallet.Transfer) (*Estimation, error) {
	return s.estimate(ctx, t, StrategySelf)
}

func (s *WalletSender) estimate(ctx context.Context, t *wallet.Transfer, strategy Strategy) (*Estimation, error) {
	if err := t.Validate(s.id.Version); err != nil {
		return nil, err
	}

	acc, err := s.state(ctx)
	if err != nil {
		return nil, err
	}

	serverTime, _, err := s.serverTime(ctx)
	if err != nil {
		return nil, err
	}

	ext, err := s.stubExternal(ctx, t, acc, serverTime+s.ttlSeconds())
	if err != nil {
		return nil, err
	}

	preview, err := s.chain.Emulate(ctx, ext)
	if err != nil {
		return nil, fmt.Errorf("failed to emulate message: %w", err)
	}
	return newEstimation(strategy, t, Fee{Asset: AssetTON, Amount: preview.Fee}, preview, s.opts.clk.Now())
}

// stubExternal is the external message signed with zero bytes, it is only good for emulation.
func (s *WalletSender) stubExternal(ctx context.Context, t *wallet.Transfer, acc *ton.AccountState, validUntil uint32) (*tlb.ExternalMessage, error) {
	body, err := s.id.SignedBody(ctx, wallet.Request{
		Seqno:      acc.Seqno,
		ValidUntil: validUntil,
		Transfer:   t,
	}, signer.Emulation{}.SignCell)
	if err != nil {
		return nil, err
	}
	return s.id.WrapExternal(body, acc.Status != tlb.AccountStatusActive)
}

func (s *WalletSender) Send(ctx context.Context, t *wallet.Transfer, est *Estimation, sg signer.Signer) (res *Result, err error) {
	defer func() {
		s.opts.report(StrategySelf, res, err, zap.String("wallet", s.addr.String()))
	}()

	p := newPipeline(sendFlow)
	if err = checkSigner(sg); err != nil {
		return nil, err
	}
	if err = t.Validate(s.id.Version); err != nil {
		return nil, err
	}
	if err = consume(est, StrategySelf, t, s.opts.clk.Now(), s.opts.maxAge); err != nil {
		return nil, err
	}
	if err = p.advance(StateEstimated); err != nil {
		return nil, err
	}

	acc, err := s.state(ctx)
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

	msg, err := s.signAndWrap(ctx, p, t, acc, sg)
	if err != nil {
		return nil, err
	}
	return s.opts.submit(ctx, p, msg, s.chain.Broadcast)
}

// signedMessage is a wrapped request ready to be handed out.
type signedMessage struct {
	ext        *tlb.ExternalMessage
	cell       *cell.Cell
	boc        []byte
	seqno      uint32
	validUntil uint32
	// server time minus local time when the request was built
	offset int64
}

func (s *WalletSender) signAndWrap(ctx context.Context, p *pipeline, t *wallet.Transfer, acc *ton.AccountState, sg signer.Signer) (*signedMessage, error) {
	serverTime, offset, err := s.serverTime(ctx)
	if err != nil {
		return nil, err
	}
	validUntil := serverTime + s.ttlSeconds()

	body, err := s.id.SignedBody(ctx, wallet.Request{
		Seqno:      acc.Seqno,
		ValidUntil: validUntil,
		Transfer:   t,
	}, s.opts.signWith(sg))
	if err != nil {
		return nil, err
	}
	if err = p.advance(StateSigned); err != nil {
		return nil, err
	}

	ext, err := s.id.WrapExternal(body, acc.Status != tlb.AccountStatusActive)
	if err != nil {
		return nil, err
	}

	c, err := ext.ToCell()
	if err != nil {
		return nil, fmt.Errorf("failed to serialize external message: %w", err)
	}
	if err = p.advance(StateWrapped); err != nil {
		return nil, err
	}

	return &signedMessage{
		ext:        ext,
		cell:       c,
		boc:        c.ToBOCWithFlags(false),
		seqno:      acc.Seqno,
		validUntil: validUntil,
		offset:     offset,
	}, nil
}

// submit hands the message out unless it has expired while waiting for the signer.
func (o *options) submit(ctx context.Context, p *pipeline, m *signedMessage, send func(context.Context, []byte) error) (*Result, error) {
	if o.expired(m.validUntil, m.offset) {
		return nil, fmt.Errorf("%w: valid until %d", ErrMessageExpired, m.validUntil)
	}

	if err := send(ctx, m.boc); err != nil {
		return nil, fmt.Errorf("failed to broadcast: %w", err)
	}
	if err := p.advance(StateBroadcast); err != nil {
		return nil, err
	}

	return &Result{
		State:      p.State(),
		Seqno:      m.seqno,
		ValidUntil: m.validUntil,
		Hash:       m.cell.Hash(),
		BOC:        m.boc,
	}, nil
}

func (s *WalletSender) state(ctx context.Context) (*ton.AccountState, error) {
	acc, err := s.chain.GetSeqnoAndBalance(ctx, s.addr)
	if err != nil {
		return nil, fmt.Errorf("failed to get wallet state: %w", err)
	}
	return acc, nil
}

func (s *WalletSender) serverTime(ctx context.Context) (uint32, int64, error) {
	st, err := s.chain.GetServerTime(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to get server time: %w", err)
	}
	return st, int64(st) - s.opts.clk.Now().Unix(), nil
}

func (s *WalletSender) ttlSeconds() uint32 {
	return uint32(s.opts.ttl / time.Second)
}
