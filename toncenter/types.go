package toncenter

import (
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/xssnick/tonwallet/tlb"
)

// NanoCoins is an amount toncenter sends as a decimal string.
type NanoCoins struct {
	val *big.Int
}

func (n NanoCoins) TON() tlb.Coins {
	if n.val == nil {
		return tlb.ZeroCoins
	}
	return tlb.FromNanoTON(n.val)
}

func (n NanoCoins) Coins(decimals int) (tlb.Coins, error) {
	if n.val == nil {
		return tlb.FromNano(big.NewInt(0), decimals)
	}
	return tlb.FromNano(n.val, decimals)
}

func (n *NanoCoins) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		n.val = nil
		return nil
	}

	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		// some endpoints send plain numbers
		s = string(b)
	}

	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return fmt.Errorf("invalid amount %q", s)
	}
	n.val = v
	return nil
}

func (n NanoCoins) MarshalJSON() ([]byte, error) {
	if n.val == nil {
		return json.Marshal("0")
	}
	return json.Marshal(n.val.String())
}
