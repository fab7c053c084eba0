package relay

import (
	"context"
	"encoding/hex"
	"fmt"
	"net/http"

	"github.com/xssnick/tonwallet/tlb"
	"github.com/xssnick/tonwallet/ton"
	"github.com/xssnick/tonwallet/ton/sender"
)

var _ sender.BatteryRelay = (*Battery)(nil)

// Battery is a client of a relay that pays network fees from a prepaid balance.
type Battery struct {
	c *client
}

func NewBattery(baseURL string, opts ...Option) *Battery {
	return &Battery{c: newClient(baseURL, opts)}
}

type batteryEstimateRequest struct {
	Wallet    string `json:"wallet"`
	PublicKey string `json:"public_key"`
	BOC       []byte `json:"boc"`
}

type batteryEstimateResponse struct {
	Fee     uint64 `json:"fee,string"`
	Balance uint64 `json:"balance,string"`
	Legs    []leg  `json:"legs"`
}

type batterySendRequest struct {
	BOC []byte `json:"boc"`
}

func (b *Battery) EstimateRelayedFee(ctx context.Context, req sender.RelayRequest) (*sender.RelayQuote, error) {
	if len(req.BOC) == 0 {
		return nil, fmt.Errorf("%w: battery estimate needs a message", ErrRelay)
	}

	var res batteryEstimateResponse
	err := b.c.call(ctx, http.MethodPost, "/v1/battery/estimate", batteryEstimateRequest{
		Wallet:    req.Wallet.String(),
		PublicKey: hex.EncodeToString(req.PublicKey),
		BOC:       req.BOC,
	}, &res)
	if err != nil {
		return nil, err
	}

	legs, err := parseLegs(res.Legs)
	if err != nil {
		return nil, err
	}

	fee := tlb.FromNanoTONU(res.Fee)
	return &sender.RelayQuote{
		Request:   req,
		Asset:     sender.AssetBattery,
		Fee:       fee,
		Available: tlb.FromNanoTONU(res.Balance),
		Preview:   &ton.EffectPreview{Fee: fee, Legs: legs},
	}, nil
}

func (b *Battery) SubmitRelayed(ctx context.Context, boc []byte, _ *sender.RelayQuote) error {
	return b.c.call(ctx, http.MethodPost, "/v1/battery/send", batterySendRequest{BOC: boc}, nil)
}
