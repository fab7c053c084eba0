package sender

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"go.uber.org/zap"

	"github.com/xssnick/tonwallet/address"
	"github.com/xssnick/tonwallet/tlb"
	"github.com/xssnick/tonwallet/ton"
	"github.com/xssnick/tonwallet/ton/multisig"
	"github.com/xssnick/tonwallet/ton/signer"
	"github.com/xssnick/tonwallet/ton/transfer"
	"github.com/xssnick/tonwallet/ton/wallet"
	"github.com/xssnick/tonwallet/tvm/cell"
)

const (
	DefaultOrderTTL      = 7 * 24 * time.Hour
	DefaultSeqnoAttempts = 16
)

var DefaultOrderAmount = tlb.MustFromTON("0.2")

// MultisigSource reads multisig data and finds order contracts.
type MultisigSource interface {
	GetMultisigData(ctx context.Context, addr *address.Address) (*multisig.Info, error)
	multisig.OrderLookup
}

type MultisigConfig struct {
	// Host sends the new order message, its wallet has to be a signer or a proposer.
	Host        Sender
	HostAddress *address.Address
	Multisig    *address.Address
	Chain       ton.ChainAPI
	Source      MultisigSource

	OrderTTL      time.Duration
	OrderAmount   tlb.Coins
	SeqnoAttempts int
}

// MultisigSender turns a transfer into a multisig order created by the host wallet.
type MultisigSender struct {
	cfg  MultisigConfig
	opts options
}

// hostOrder is the host side of a multisig estimation.
type hostOrder struct {
	transfer *wallet.Transfer
	est      *Estimation
	seqno    *big.Int
}

func NewMultisigSender(cfg MultisigConfig, opts ...Option) (*MultisigSender, error) {
	if cfg.Host == nil || cfg.HostAddress == nil || cfg.Multisig == nil || cfg.Chain == nil || cfg.Source == nil {
		return nil, fmt.Errorf("host, host address, multisig, chain and source are required")
	}
	if cfg.OrderTTL == 0 {
		cfg.OrderTTL = DefaultOrderTTL
	}
	if cfg.OrderAmount.IsZero() {
		cfg.OrderAmount = DefaultOrderAmount
	}
	if cfg.SeqnoAttempts == 0 {
		cfg.SeqnoAttempts = DefaultSeqnoAttempts
	}
	return &MultisigSender{cfg: cfg, opts: buildOptions(opts)}, nil
}

func (s *MultisigSender) Estimate(ctx context.Context, t *wallet.Transfer) (*Estimation, error) {
	if t.Plugin != nil || len(t.Extensions) > 0 {
		return nil, fmt.Errorf("%w: wallet actions in a multisig order", wallet.ErrUnsupportedForVersion)
	}

	actions := multisig.ActionsFromTransfer(t)
	order, err := multisig.PackOrder(actions)
	if err != nil {
		return nil, err
	}

	info, err := s.cfg.Source.GetMultisigData(ctx, s.cfg.Multisig)
	if err != nil {
		return nil, fmt.Errorf("failed to get multisig data: %w", err)
	}

	index, isSigner, err := info.Index(s.cfg.HostAddress)
	if err != nil {
		return nil, err
	}

	now := s.opts.clk.Now()
	seqno, err := multisig.FreeOrderSeqno(ctx, s.cfg.Source, s.cfg.Multisig, info, now, s.cfg.SeqnoAttempts)
	if err != nil {
		return nil, err
	}

	queryID := transfer.NewQueryID()
	expiration := now.Add(s.cfg.OrderTTL)
	body, err := multisig.NewOrderBody(multisig.NewOrderParams{
		QueryID:    queryID,
		OrderSeqno: seqno,
		IsSigner:   isSigner,
		Index:      index,
		Expiration: expiration,
		Order:      order,
	})
	if err != nil {
		return nil, err
	}

	msg, err := wallet.NewMessage(s.cfg.Multisig, s.cfg.OrderAmount, wallet.WithBody(body), wallet.WithBounce(true))
	if err != nil {
		return nil, err
	}
	hostTransfer := wallet.NewTransfer(wallet.PayGasSeparately|wallet.IgnoreErrors, msg)

	hostEst, err := s.cfg.Host.Estimate(ctx, hostTransfer)
	if err != nil {
		return nil, fmt.Errorf("failed to estimate host message: %w", err)
	}

	preview := multisig.FilterEffects(hostEst.Preview, s.cfg.Multisig, actions)
	if emu, ok := s.cfg.Chain.(ton.InternalEmulator); ok {
		if preview, err = s.emulateExecute(ctx, emu, info, hostEst.Preview, seqno, queryID, expiration, order); err != nil {
			return nil, err
		}
	}

	est, err := newEstimation(StrategyMultisig, t, hostEst.Fee, preview, now)
	if err != nil {
		return nil, err
	}
	est.order = &hostOrder{transfer: hostTransfer, est: hostEst, seqno: seqno}

	s.opts.logger.Debug("multisig order estimated",
		zap.String("multisig", s.cfg.Multisig.String()),
		zap.String("order_seqno", seqno.String()),
		zap.Int("actions", len(actions)),
	)
	return est, nil
}

// emulateExecute runs the execute call the order sends once approved and shows its legs
// instead of the host to multisig leg.
func (s *MultisigSender) emulateExecute(ctx context.Context, emu ton.InternalEmulator, info *multisig.Info, host *ton.EffectPreview,
	seqno *big.Int, queryID uint64, expiration time.Time, order *cell.Cell) (*ton.EffectPreview, error) {
	if seqno.Cmp(multisig.UnsetSeqno) == 0 {
		// the contract will take its own counter
		seqno = info.NextOrderSeqno
	}

	signersHash, err := multisig.SignersHash(info.Signers)
	if err != nil {
		return nil, err
	}
	exec, err := multisig.ExecuteBody(queryID, seqno, expiration, info.Threshold, signersHash, order)
	if err != nil {
		return nil, err
	}

	orderAddr, err := s.cfg.Source.GetOrderAddress(ctx, s.cfg.Multisig, seqno)
	if err != nil {
		return nil, fmt.Errorf("failed to get order address: %w", err)
	}

	res, err := emu.EmulateInternal(ctx, orderAddr, s.cfg.Multisig, s.cfg.OrderAmount, exec)
	if err != nil {
		return nil, fmt.Errorf("failed to emulate order execution: %w", err)
	}

	preview := multisig.FilterEffects(host, s.cfg.Multisig, nil)
	preview.Legs = append(preview.Legs, res.Legs...)
	return preview, nil
}

func (s *MultisigSender) Send(ctx context.Context, t *wallet.Transfer, est *Estimation, sg signer.Signer) (res *Result, err error) {
	defer func() {
		s.opts.report(StrategyMultisig, res, err, zap.String("multisig", s.cfg.Multisig.String()))
	}()

	if err = checkSigner(sg); err != nil {
		return nil, err
	}
	if err = consume(est, StrategyMultisig, t, s.opts.clk.Now(), s.opts.maxAge); err != nil {
		return nil, err
	}

	acc, err := s.cfg.Chain.GetSeqnoAndBalance(ctx, s.cfg.Multisig)
	if err != nil {
		return nil, fmt.Errorf("failed to get multisig state: %w", err)
	}
	// the order values leave the multisig, the host only pays for creating the order
	if err = checkBalance(AssetTON, requiredValue(t), acc.Balance); err != nil {
		return nil, err
	}

	return s.cfg.Host.Send(ctx, est.order.transfer, est.order.est, sg)
}
