package transfer

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/xssnick/tonwallet/address"
	"github.com/xssnick/tonwallet/tlb"
	"github.com/xssnick/tonwallet/tvm/cell"
)

var timeNow = time.Now

// AccountStatusSource tells whether a destination is deployed.
type AccountStatusSource interface {
	GetAccountStatus(ctx context.Context, addr *address.Address) (tlb.AccountStatus, error)
}

// JettonWallet is the owner's jetton wallet together with what is needed to
// spend from it when it is not deployed yet (compressed jettons).
type JettonWallet struct {
	Address       *address.Address
	CustomPayload *cell.Cell
	StateInit     *tlb.StateInit
}

type JettonWalletResolver interface {
	GetJettonWallet(ctx context.Context, master, owner *address.Address) (*JettonWallet, error)
}

// ShouldBounce resolves the bounce flag of a native transfer: the non-bounceable
// flag of the address wins, otherwise only active accounts get bounceable transfers.
func ShouldBounce(ctx context.Context, src AccountStatusSource, dst *address.Address) (bool, error) {
	if !dst.IsBounceable() {
		return false, nil
	}

	status, err := src.GetAccountStatus(ctx, dst)
	if err != nil {
		return false, fmt.Errorf("failed to get account status of %s: %w", dst.String(), err)
	}
	return status.CanReceiveBounceable(), nil
}

// NewQueryID puts the unix time in the high half and random bits in the low half.
func NewQueryID() uint64 {
	buf := make([]byte, 4)
	if _, err := rand.Read(buf); err != nil {
		panic(err)
	}
	return uint64(timeNow().Unix())<<32 | uint64(binary.LittleEndian.Uint32(buf))
}
