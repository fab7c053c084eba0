package nft

import (
	"crypto/sha256"
	"fmt"

	"github.com/xssnick/tonwallet/address"
	"github.com/xssnick/tonwallet/tlb"
	"github.com/xssnick/tonwallet/tvm/cell"
)

const (
	OpTransfer        = 0x5fcc3d14
	OpChangeDNSRecord = 0x4eb1f0f9

	categoryContractAddr = 0x9fd3
)

type TransferPayload struct {
	_                   tlb.Magic        `tlb:"#5fcc3d14"`
	QueryID             uint64           `tlb:"## 64"`
	NewOwner            *address.Address `tlb:"addr"`
	ResponseDestination *address.Address `tlb:"addr"`
	CustomPayload       *cell.Cell       `tlb:"maybe ^"`
	ForwardAmount       tlb.Coins        `tlb:"."`
	ForwardPayload      *cell.Cell       `tlb:"either . ^"`
}

func BuildTransferPayload(queryID uint64, newOwner, responseTo *address.Address, forwardAmount tlb.Coins, forwardPayload *cell.Cell) (*cell.Cell, error) {
	if newOwner == nil || newOwner.IsAddrNone() {
		return nil, fmt.Errorf("new owner is required")
	}

	body, err := tlb.ToCell(TransferPayload{
		QueryID:             queryID,
		NewOwner:            newOwner,
		ResponseDestination: responseTo,
		ForwardAmount:       forwardAmount,
		ForwardPayload:      forwardPayload,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to convert TransferPayload to cell: %w", err)
	}
	return body, nil
}

// BuildSetRecordPayload changes one record of a DNS item, nil value deletes the record.
func BuildSetRecordPayload(queryID uint64, name string, value *cell.Cell) *cell.Cell {
	h := sha256.Sum256([]byte(name))

	b := cell.BeginCell().
		MustStoreUInt(OpChangeDNSRecord, 32).
		MustStoreUInt(queryID, 64).
		MustStoreSlice(h[:], 256)
	if value != nil {
		b.MustStoreRef(value)
	}
	return b.EndCell()
}

// BuildLinkPayload points the "wallet" record of a DNS item to addr, nil addr unlinks.
func BuildLinkPayload(queryID uint64, addr *address.Address) *cell.Cell {
	if addr == nil {
		return BuildSetRecordPayload(queryID, "wallet", nil)
	}

	record := cell.BeginCell().
		MustStoreUInt(categoryContractAddr, 16).
		MustStoreAddr(addr).
		MustStoreUInt(0, 8). // no capabilities
		EndCell()
	return BuildSetRecordPayload(queryID, "wallet", record)
}

// BuildRenewPayload is a change with zero key and no value, the item only refreshes its expiry.
func BuildRenewPayload(queryID uint64) *cell.Cell {
	return cell.BeginCell().
		MustStoreUInt(OpChangeDNSRecord, 32).
		MustStoreUInt(queryID, 64).
		MustStoreUInt(0, 256).
		EndCell()
}
