package transfer

import (
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"
	"math/big"

	"golang.org/x/sync/errgroup"

	"github.com/xssnick/tonwallet/address"
	"github.com/xssnick/tonwallet/tlb"
	"github.com/xssnick/tonwallet/ton/wallet"
	"github.com/xssnick/tonwallet/tvm/cell"
)

// DefaultMode is used by all encoders unless the whole balance is sent.
const DefaultMode = wallet.PayGasSeparately | wallet.IgnoreErrors

var ErrBodyConflict = errors.New("only one of comment, encrypted comment and body can be set")

// Encryption carries the keys for an encrypted comment. Sender is the wallet address.
type Encryption struct {
	Sender       *address.Address
	OurKey       ed25519.PrivateKey
	RecipientKey ed25519.PublicKey
}

type NativeParams struct {
	Destination *address.Address
	Amount      tlb.Coins
	Comment     string
	// Encryption turns Comment into an encrypted comment.
	Encryption      *Encryption
	Body            *cell.Cell
	StateInit       *tlb.StateInit
	ExtraCurrencies map[uint32]*big.Int
	// SendAll sends the whole balance, Amount is ignored by the contract.
	SendAll bool
}

func (p NativeParams) body() (*cell.Cell, error) {
	if p.Body != nil && p.Comment != "" {
		return nil, ErrBodyConflict
	}
	if p.Body != nil {
		return p.Body, nil
	}
	if p.Comment == "" {
		return nil, nil
	}
	if p.Encryption != nil {
		return wallet.EncryptComment(p.Comment, p.Encryption.Sender, p.Encryption.OurKey, p.Encryption.RecipientKey)
	}
	return tlb.BuildComment(p.Comment)
}

func (p NativeParams) message(bounce bool) (*wallet.OutgoingMessage, error) {
	body, err := p.body()
	if err != nil {
		return nil, fmt.Errorf("failed to build body: %w", err)
	}

	opts := []wallet.MessageOption{wallet.WithBounce(bounce)}
	if body != nil {
		opts = append(opts, wallet.WithBody(body))
	}
	if p.StateInit != nil {
		opts = append(opts, wallet.WithStateInit(p.StateInit))
	}
	for id, v := range p.ExtraCurrencies {
		opts = append(opts, wallet.WithExtraCurrency(id, v))
	}
	return wallet.NewMessage(p.Destination, p.Amount, opts...)
}

func mode(sendAll bool) uint8 {
	if sendAll {
		return wallet.CarryAllRemainingBalance | wallet.IgnoreErrors
	}
	return DefaultMode
}

// Native builds a single native coin transfer.
func Native(ctx context.Context, statuses AccountStatusSource, p NativeParams) (*wallet.Transfer, error) {
	if p.Destination == nil {
		return nil, wallet.ErrNoDestination
	}

	bounce, err := ShouldBounce(ctx, statuses, p.Destination)
	if err != nil {
		return nil, err
	}

	msg, err := p.message(bounce)
	if err != nil {
		return nil, err
	}
	return wallet.NewTransfer(mode(p.SendAll), msg), nil
}

// NativeBatch builds one transfer with a message per item. Destinations are resolved
// concurrently, any failure aborts the whole batch.
func NativeBatch(ctx context.Context, statuses AccountStatusSource, ver wallet.Version, items []NativeParams) (*wallet.Transfer, error) {
	if len(items) == 0 {
		return nil, wallet.ErrNoMessages
	}
	if len(items) > ver.MaxMessages() {
		return nil, fmt.Errorf("%w: %d messages, %s allows %d", wallet.ErrTooManyMessages, len(items), ver, ver.MaxMessages())
	}

	bounces := make([]bool, len(items))
	g, gctx := errgroup.WithContext(ctx)
	for i, it := range items {
		if it.Destination == nil {
			return nil, fmt.Errorf("item %d: %w", i, wallet.ErrNoDestination)
		}
		if it.SendAll {
			return nil, fmt.Errorf("item %d: sending all balance is not possible in a batch", i)
		}

		i, dst := i, it.Destination
		g.Go(func() error {
			b, err := ShouldBounce(gctx, statuses, dst)
			if err != nil {
				return err
			}
			bounces[i] = b
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	msgs := make([]*wallet.OutgoingMessage, 0, len(items))
	for i, it := range items {
		msg, err := it.message(bounces[i])
		if err != nil {
			return nil, fmt.Errorf("item %d: %w", i, err)
		}
		msgs = append(msgs, msg)
	}
	return wallet.NewTransfer(DefaultMode, msgs...), nil
}
