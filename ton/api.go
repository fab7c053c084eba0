package ton

import (
	"context"
	"errors"

	"github.com/xssnick/tonwallet/address"
	"github.com/xssnick/tonwallet/tlb"
	"github.com/xssnick/tonwallet/tvm/cell"
)

var ErrMessageNotAccepted = errors.New("message was not accepted by the network")

// AccountState is what a sender needs to know about the wallet before signing.
type AccountState struct {
	Seqno   uint32
	Balance tlb.Coins
	Status  tlb.AccountStatus
}

// Leg is one outgoing message produced by executing a message.
type Leg struct {
	Destination *address.Address
	Amount      tlb.Coins
	ForwardFee  tlb.Coins
	Body        *cell.Cell
}

// EffectPreview is the emulated outcome of a message.
type EffectPreview struct {
	Fee  tlb.Coins
	Legs []Leg
}

// ChainAPI is the only way this module reaches the chain.
type ChainAPI interface {
	GetSeqnoAndBalance(ctx context.Context, addr *address.Address) (*AccountState, error)
	// Emulate must accept messages signed with an all zero signature.
	Emulate(ctx context.Context, msg *tlb.ExternalMessage) (*EffectPreview, error)
	Broadcast(ctx context.Context, boc []byte) error
	GetServerTime(ctx context.Context) (uint32, error)
}

// InternalEmulator is implemented by chain clients that can run an internal message against an account.
type InternalEmulator interface {
	EmulateInternal(ctx context.Context, src, dst *address.Address, amount tlb.Coins, body *cell.Cell) (*EffectPreview, error)
}
