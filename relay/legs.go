package relay

import (
	"fmt"

	"github.com/xssnick/tonwallet/address"
	"github.com/xssnick/tonwallet/tlb"
	"github.com/xssnick/tonwallet/ton"
	"github.com/xssnick/tonwallet/tvm/cell"
)

// leg is one emulated outgoing message as relays report it.
type leg struct {
	Destination string `json:"destination"`
	Amount      uint64 `json:"amount,string"`
	ForwardFee  uint64 `json:"forward_fee,string"`
	Body        []byte `json:"body,omitempty"`
}

func parseLegs(list []leg) ([]ton.Leg, error) {
	res := make([]ton.Leg, 0, len(list))
	for i, l := range list {
		dst, err := address.ParseAnyAddr(l.Destination)
		if err != nil {
			return nil, fmt.Errorf("%w: leg %d destination: %v", ErrRelay, i, err)
		}

		var body *cell.Cell
		if len(l.Body) > 0 {
			if body, err = cell.FromBOC(l.Body); err != nil {
				return nil, fmt.Errorf("%w: leg %d body: %v", ErrRelay, i, err)
			}
		}

		res = append(res, ton.Leg{
			Destination: dst,
			Amount:      tlb.FromNanoTONU(l.Amount),
			ForwardFee:  tlb.FromNanoTONU(l.ForwardFee),
			Body:        body,
		})
	}
	return res, nil
}
