package plugin

import (
	"errors"
	"fmt"

	"github.com/xssnick/tonwallet/address"
	"github.com/xssnick/tonwallet/tlb"
)

// DefaultShardPrefixBits is how many leading address bits a plugin shares with its wallet.
const DefaultShardPrefixBits = 8

const maxPrefixBits = 20

var (
	ErrSaltNotFound  = errors.New("no salt gives a same shard address")
	ErrNoCode        = errors.New("plugin code is required")
	ErrInvalidPrefix = errors.New("invalid shard prefix length")
)

// StateBuilder returns the plugin state init for a salt.
type StateBuilder func(salt uint32) (*tlb.StateInit, error)

// FindSameShardSalt tries salts from zero and returns the first one whose plugin address
// shares prefixBits leading bits and the workchain with the wallet address.
func FindSameShardSalt(wallet *address.Address, build StateBuilder, prefixBits uint) (uint32, *address.Address, error) {
	if wallet == nil || wallet.Type() != address.StdAddress {
		return 0, nil, fmt.Errorf("wallet should have a standard address")
	}
	if prefixBits > maxPrefixBits {
		return 0, nil, fmt.Errorf("%w: %d bits, at most %d", ErrInvalidPrefix, prefixBits, maxPrefixBits)
	}

	// on average 2^prefixBits tries are needed
	limit := uint64(64) << prefixBits
	for salt := uint64(0); salt < limit; salt++ {
		si, err := build(uint32(salt))
		if err != nil {
			return 0, nil, fmt.Errorf("failed to build plugin state for salt %d: %w", salt, err)
		}

		addr, err := si.CalcAddress(int(wallet.Workchain()))
		if err != nil {
			return 0, nil, fmt.Errorf("failed to calc plugin address: %w", err)
		}

		if samePrefix(wallet.Data(), addr.Data(), prefixBits) {
			return uint32(salt), addr, nil
		}
	}
	return 0, nil, ErrSaltNotFound
}

func samePrefix(a, b []byte, bits uint) bool {
	for i := uint(0); i < bits; i++ {
		mask := byte(0x80) >> (i % 8)
		if a[i/8]&mask != b[i/8]&mask {
			return false
		}
	}
	return true
}
