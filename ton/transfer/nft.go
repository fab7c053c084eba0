package transfer

import (
	"fmt"

	"github.com/xssnick/tonwallet/address"
	"github.com/xssnick/tonwallet/tlb"
	"github.com/xssnick/tonwallet/ton/nft"
	"github.com/xssnick/tonwallet/ton/wallet"
	"github.com/xssnick/tonwallet/tvm/cell"
)

var (
	NFTTransferAmount = tlb.MustFromTON("0.05")
	NFTForwardAmount  = tlb.FromNanoTONU(1)
	DNSLinkAmount     = tlb.MustFromTON("0.02")
	DNSRenewAmount    = tlb.MustFromTON("0.02")
)

type NFTParams struct {
	Item     *address.Address
	Owner    *address.Address
	NewOwner *address.Address
	Comment  string
	// ForwardPayload replaces the comment.
	ForwardPayload *cell.Cell
	// Amount overrides NFTTransferAmount.
	Amount *tlb.Coins
	// ForwardAmount overrides NFTForwardAmount.
	ForwardAmount *tlb.Coins
	QueryID       uint64
}

func orDefault(v *tlb.Coins, def tlb.Coins) tlb.Coins {
	if v != nil {
		return *v
	}
	return def
}

func orNewQueryID(qid uint64) uint64 {
	if qid == 0 {
		return NewQueryID()
	}
	return qid
}

func itemMessage(item *address.Address, amount tlb.Coins, body *cell.Cell) (*wallet.Transfer, error) {
	if item == nil {
		return nil, fmt.Errorf("item address is required")
	}

	msg, err := wallet.NewMessage(item, amount, wallet.WithBody(body), wallet.WithBounce(true))
	if err != nil {
		return nil, err
	}
	return wallet.NewTransfer(DefaultMode, msg), nil
}

// NFT builds an ownership transfer of an NFT item, the excess returns to the owner.
func NFT(p NFTParams) (*wallet.Transfer, error) {
	if p.ForwardPayload != nil && p.Comment != "" {
		return nil, ErrBodyConflict
	}

	fwd := p.ForwardPayload
	if fwd == nil && p.Comment != "" {
		var err error
		if fwd, err = tlb.BuildComment(p.Comment); err != nil {
			return nil, err
		}
	}

	body, err := nft.BuildTransferPayload(orNewQueryID(p.QueryID), p.NewOwner, p.Owner,
		orDefault(p.ForwardAmount, NFTForwardAmount), fwd)
	if err != nil {
		return nil, err
	}
	return itemMessage(p.Item, orDefault(p.Amount, NFTTransferAmount), body)
}

// DNSLink points the wallet record of a DNS item to target, nil target unlinks.
func DNSLink(item, target *address.Address, amount *tlb.Coins) (*wallet.Transfer, error) {
	return itemMessage(item, orDefault(amount, DNSLinkAmount), nft.BuildLinkPayload(NewQueryID(), target))
}

// DNSRenew extends the expiration of a DNS item.
func DNSRenew(item *address.Address, amount *tlb.Coins) (*wallet.Transfer, error) {
	return itemMessage(item, orDefault(amount, DNSRenewAmount), nft.BuildRenewPayload(NewQueryID()))
}
