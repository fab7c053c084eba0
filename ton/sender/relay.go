package sender

import (
	"context"
	"crypto/ed25519"

	"github.com/xssnick/tonwallet/address"
	"github.com/xssnick/tonwallet/tlb"
	"github.com/xssnick/tonwallet/ton"
	"github.com/xssnick/tonwallet/ton/wallet"
)

// RelayRequest is what a relay needs to price a send.
type RelayRequest struct {
	Wallet    *address.Address
	PublicKey ed25519.PublicKey
	// BOC is an emulation signed external message, set for battery requests.
	BOC []byte
	// Messages and FeeJetton are set for gasless requests.
	Messages  []*wallet.OutgoingMessage
	FeeJetton *address.Address
}

// RelayQuote is the relay's price of carrying a request.
type RelayQuote struct {
	Request RelayRequest
	Asset   Asset
	Fee     tlb.Coins
	// Available is the prepaid balance the fee is taken from, battery only.
	Available tlb.Coins
	// Messages replace the requested ones for gasless sends, they include the relay commission.
	Messages   []*wallet.OutgoingMessage
	ValidUntil uint32
	Preview    *ton.EffectPreview
}

// Relay estimates and submits messages on the wallet's behalf.
type Relay interface {
	EstimateRelayedFee(ctx context.Context, req RelayRequest) (*RelayQuote, error)
	SubmitRelayed(ctx context.Context, boc []byte, quote *RelayQuote) error
}

// BatteryRelay pays fees from a prepaid off-chain balance.
type BatteryRelay interface {
	Relay
}

// GaslessRelay takes its commission in a jetton from the message itself.
type GaslessRelay interface {
	Relay
}

type TwoFAStatus int

const (
	TwoFAPending TwoFAStatus = iota
	TwoFAConfirmed
	TwoFAFailed
	TwoFACanceled
	TwoFAExpired
)

func (s TwoFAStatus) String() string {
	switch s {
	case TwoFAPending:
		return "pending"
	case TwoFAConfirmed:
		return "confirmed"
	case TwoFAFailed:
		return "failed"
	case TwoFACanceled:
		return "canceled"
	case TwoFAExpired:
		return "expired"
	}
	return "unknown"
}

type TwoFAResult struct {
	Status TwoFAStatus
	// Payload is the confirmed message BOC.
	Payload []byte
}

// TwoFARelay collects the server confirmation of 2FA plugin requests.
type TwoFARelay interface {
	Submit(ctx context.Context, data []byte, signature []byte, walletStateInit *tlb.StateInit) (string, error)
	GetStatus(ctx context.Context, messageID string) (*TwoFAResult, error)
}
