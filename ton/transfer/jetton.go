package transfer

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/xssnick/tonwallet/address"
	"github.com/xssnick/tonwallet/tlb"
	"github.com/xssnick/tonwallet/ton/jetton"
	"github.com/xssnick/tonwallet/ton/wallet"
	"github.com/xssnick/tonwallet/tvm/cell"
)

var (
	// JettonTransferAmount is attached to a transfer to pay the jetton wallets.
	JettonTransferAmount = tlb.MustFromTON("0.05")
	// JettonTransferAmountCustomPayload is attached when the sender wallet has to be deployed first.
	JettonTransferAmountCustomPayload = tlb.MustFromTON("0.1")
	// JettonForwardAmount makes the receiver get a notification.
	JettonForwardAmount = tlb.FromNanoTONU(1)
)

var ErrCustomPayloadInBatch = errors.New("jettons that need a custom payload cannot be sent in a batch")

type JettonParams struct {
	Master      *address.Address
	Owner       *address.Address
	Destination *address.Address
	Amount      tlb.Coins
	Comment     string
	// ForwardPayload replaces the comment.
	ForwardPayload *cell.Cell
	// AttachedAmount overrides JettonTransferAmount.
	AttachedAmount *tlb.Coins
	// ForwardAmount overrides JettonForwardAmount.
	ForwardAmount *tlb.Coins
	QueryID       uint64
}

func (p JettonParams) forwardPayload() (*cell.Cell, error) {
	if p.ForwardPayload != nil && p.Comment != "" {
		return nil, ErrBodyConflict
	}
	if p.ForwardPayload != nil || p.Comment == "" {
		return p.ForwardPayload, nil
	}
	return tlb.BuildComment(p.Comment)
}

func (p JettonParams) message(jw *JettonWallet) (*wallet.OutgoingMessage, error) {
	if p.Owner == nil {
		return nil, fmt.Errorf("jetton owner is required")
	}

	fwd, err := p.forwardPayload()
	if err != nil {
		return nil, err
	}

	qid := p.QueryID
	if qid == 0 {
		qid = NewQueryID()
	}

	fwdAmount := JettonForwardAmount
	if p.ForwardAmount != nil {
		fwdAmount = *p.ForwardAmount
	}

	attached := JettonTransferAmount
	if jw.CustomPayload != nil {
		attached = JettonTransferAmountCustomPayload
	}
	if p.AttachedAmount != nil {
		attached = *p.AttachedAmount
	}

	body, err := jetton.BuildTransferPayload(jetton.TransferParams{
		QueryID:          qid,
		Amount:           p.Amount,
		Destination:      p.Destination,
		ResponseTo:       p.Owner,
		CustomPayload:    jw.CustomPayload,
		ForwardTONAmount: fwdAmount,
		ForwardPayload:   fwd,
	})
	if err != nil {
		return nil, err
	}

	opts := []wallet.MessageOption{wallet.WithBody(body), wallet.WithBounce(true)}
	if jw.StateInit != nil {
		opts = append(opts, wallet.WithStateInit(jw.StateInit))
	}
	return wallet.NewMessage(jw.Address, attached, opts...)
}

func resolveJettonWallet(ctx context.Context, resolver JettonWalletResolver, p JettonParams) (*JettonWallet, error) {
	if p.Master == nil || p.Owner == nil {
		return nil, fmt.Errorf("jetton master and owner are required")
	}

	jw, err := resolver.GetJettonWallet(ctx, p.Master, p.Owner)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve jetton wallet: %w", err)
	}
	if jw == nil || jw.Address == nil {
		return nil, fmt.Errorf("jetton wallet of %s is unknown", p.Owner.String())
	}
	return jw, nil
}

// Jetton builds a transfer of jettons from the owner's jetton wallet.
func Jetton(ctx context.Context, resolver JettonWalletResolver, p JettonParams) (*wallet.Transfer, error) {
	jw, err := resolveJettonWallet(ctx, resolver, p)
	if err != nil {
		return nil, err
	}

	msg, err := p.message(jw)
	if err != nil {
		return nil, err
	}
	return wallet.NewTransfer(DefaultMode, msg), nil
}

// JettonBatch builds several jetton transfers in one wallet call. Custom payloads are
// rejected, a compressed jetton wallet has to be claimed with a single transfer first.
func JettonBatch(ctx context.Context, resolver JettonWalletResolver, ver wallet.Version, items []JettonParams) (*wallet.Transfer, error) {
	if len(items) == 0 {
		return nil, wallet.ErrNoMessages
	}
	if len(items) > ver.MaxMessages() {
		return nil, fmt.Errorf("%w: %d messages, %s allows %d", wallet.ErrTooManyMessages, len(items), ver, ver.MaxMessages())
	}

	wallets := make([]*JettonWallet, len(items))
	g, gctx := errgroup.WithContext(ctx)
	for i := range items {
		i := i
		g.Go(func() error {
			jw, err := resolveJettonWallet(gctx, resolver, items[i])
			if err != nil {
				return fmt.Errorf("item %d: %w", i, err)
			}
			if jw.CustomPayload != nil {
				return fmt.Errorf("item %d: %w", i, ErrCustomPayloadInBatch)
			}
			wallets[i] = jw
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	msgs := make([]*wallet.OutgoingMessage, 0, len(items))
	for i, it := range items {
		msg, err := it.message(wallets[i])
		if err != nil {
			return nil, fmt.Errorf("item %d: %w", i, err)
		}
		msgs = append(msgs, msg)
	}
	return wallet.NewTransfer(DefaultMode, msgs...), nil
}
