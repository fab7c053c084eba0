package jetton

import (
	"errors"
	"fmt"

	"github.com/xssnick/tonwallet/address"
	"github.com/xssnick/tonwallet/tlb"
	"github.com/xssnick/tonwallet/tvm/cell"
)

const (
	OpTransfer             = 0x0f8a7ea5
	OpTransferNotification = 0x7362d09c
	OpBurn                 = 0x595f07bc
)

var ErrNotTransfer = errors.New("body is not a jetton transfer")

type TransferPayload struct {
	_                   tlb.Magic        `tlb:"#0f8a7ea5"`
	QueryID             uint64           `tlb:"## 64"`
	Amount              tlb.Coins        `tlb:"."`
	Destination         *address.Address `tlb:"addr"`
	ResponseDestination *address.Address `tlb:"addr"`
	CustomPayload       *cell.Cell       `tlb:"maybe ^"`
	ForwardTONAmount    tlb.Coins        `tlb:"."`
	ForwardPayload      *cell.Cell       `tlb:"either . ^"`
}

type BurnPayload struct {
	_                   tlb.Magic        `tlb:"#595f07bc"`
	QueryID             uint64           `tlb:"## 64"`
	Amount              tlb.Coins        `tlb:"."`
	ResponseDestination *address.Address `tlb:"addr"`
	CustomPayload       *cell.Cell       `tlb:"maybe ^"`
}

// TransferParams describes one jetton transfer from the owner's jetton wallet.
type TransferParams struct {
	QueryID          uint64
	Amount           tlb.Coins
	Destination      *address.Address
	ResponseTo       *address.Address
	CustomPayload    *cell.Cell
	ForwardTONAmount tlb.Coins
	ForwardPayload   *cell.Cell
}

// BuildTransferPayload builds the transfer body sent to the owner's jetton wallet.
func BuildTransferPayload(p TransferParams) (*cell.Cell, error) {
	if p.Destination == nil || p.Destination.IsAddrNone() {
		return nil, fmt.Errorf("jetton destination is required")
	}

	body, err := tlb.ToCell(TransferPayload{
		QueryID:             p.QueryID,
		Amount:              p.Amount,
		Destination:         p.Destination,
		ResponseDestination: p.ResponseTo,
		CustomPayload:       p.CustomPayload,
		ForwardTONAmount:    p.ForwardTONAmount,
		ForwardPayload:      p.ForwardPayload,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to convert TransferPayload to cell: %w", err)
	}
	return body, nil
}

func BuildBurnPayload(queryID uint64, amount tlb.Coins, notify *address.Address) (*cell.Cell, error) {
	body, err := tlb.ToCell(BurnPayload{
		QueryID:             queryID,
		Amount:              amount,
		ResponseDestination: notify,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to convert BurnPayload to cell: %w", err)
	}
	return body, nil
}

// ParseTransfer reads a jetton transfer body, it is used to check what a relay is asked to sign.
func ParseTransfer(body *cell.Cell) (*TransferPayload, error) {
	if body == nil {
		return nil, ErrNotTransfer
	}

	op, err := body.BeginParse().PreloadUInt(32)
	if err != nil || op != OpTransfer {
		return nil, ErrNotTransfer
	}

	var p TransferPayload
	if err = tlb.LoadFromCell(&p, body.BeginParse()); err != nil {
		return nil, fmt.Errorf("failed to parse jetton transfer: %w", err)
	}
	return &p, nil
}
