package relay

import (
	"context"
	"encoding/hex"
	"fmt"
	"math/big"
	"net/http"

	"github.com/xssnick/tonwallet/address"
	"github.com/xssnick/tonwallet/tlb"
	"github.com/xssnick/tonwallet/ton"
	"github.com/xssnick/tonwallet/ton/sender"
	"github.com/xssnick/tonwallet/ton/wallet"
	"github.com/xssnick/tonwallet/tvm/cell"
)

// DefaultJettonDecimals is used for commissions when the relay does not tell the decimals.
const DefaultJettonDecimals = 9

var _ sender.GaslessRelay = (*Gasless)(nil)

// Gasless is a client of a relay that takes its commission in the transferred jetton
// and pays network fees in TON.
type Gasless struct {
	c *client
}

func NewGasless(baseURL string, opts ...Option) *Gasless {
	return &Gasless{c: newClient(baseURL, opts)}
}

type gaslessMessage struct {
	Address   string `json:"address"`
	Amount    string `json:"amount"`
	Payload   []byte `json:"payload,omitempty"`
	StateInit []byte `json:"state_init,omitempty"`
}

type gaslessEstimateRequest struct {
	Wallet    string   `json:"wallet_address"`
	PublicKey string   `json:"wallet_public_key"`
	Messages  [][]byte `json:"messages"`
}

type gaslessEstimateResponse struct {
	Symbol     string           `json:"symbol"`
	Decimals   *int             `json:"decimals"`
	Commission string           `json:"commission"`
	ValidUntil uint32           `json:"valid_until"`
	Messages   []gaslessMessage `json:"messages"`
	Legs       []leg            `json:"legs"`
}

type gaslessSendRequest struct {
	PublicKey string `json:"wallet_public_key"`
	BOC       []byte `json:"boc"`
}

func (g *Gasless) EstimateRelayedFee(ctx context.Context, req sender.RelayRequest) (*sender.RelayQuote, error) {
	if req.FeeJetton == nil {
		return nil, fmt.Errorf("%w: gasless estimate needs a fee jetton", ErrRelay)
	}

	msgs := make([][]byte, 0, len(req.Messages))
	for i, m := range req.Messages {
		c, err := m.ToCell()
		if err != nil {
			return nil, fmt.Errorf("failed to serialize message %d: %w", i, err)
		}
		msgs = append(msgs, c.ToBOCWithFlags(false))
	}

	var res gaslessEstimateResponse
	err := g.c.call(ctx, http.MethodPost, "/v1/gasless/estimate/"+req.FeeJetton.StringRaw(), gaslessEstimateRequest{
		Wallet:    req.Wallet.String(),
		PublicKey: hex.EncodeToString(req.PublicKey),
		Messages:  msgs,
	}, &res)
	if err != nil {
		return nil, err
	}

	decimals := DefaultJettonDecimals
	if res.Decimals != nil {
		decimals = *res.Decimals
	}
	commission, ok := new(big.Int).SetString(res.Commission, 10)
	if !ok {
		return nil, fmt.Errorf("%w: bad commission %q", ErrRelay, res.Commission)
	}
	fee, err := tlb.FromNano(commission, decimals)
	if err != nil {
		return nil, fmt.Errorf("%w: bad commission %q: %v", ErrRelay, res.Commission, err)
	}

	out := make([]*wallet.OutgoingMessage, 0, len(res.Messages))
	for i, m := range res.Messages {
		msg, err := m.toOutgoing()
		if err != nil {
			return nil, fmt.Errorf("%w: message %d: %v", ErrRelay, i, err)
		}
		out = append(out, msg)
	}

	legs, err := parseLegs(res.Legs)
	if err != nil {
		return nil, err
	}

	return &sender.RelayQuote{
		Request:    req,
		Asset:      sender.Asset{Symbol: res.Symbol, Jetton: req.FeeJetton},
		Fee:        fee,
		Messages:   out,
		ValidUntil: res.ValidUntil,
		Preview:    &ton.EffectPreview{Fee: tlb.ZeroCoins, Legs: legs},
	}, nil
}

func (m gaslessMessage) toOutgoing() (*wallet.OutgoingMessage, error) {
	dst, err := address.ParseAnyAddr(m.Address)
	if err != nil {
		return nil, err
	}

	amount, ok := new(big.Int).SetString(m.Amount, 10)
	if !ok || amount.Sign() < 0 {
		return nil, fmt.Errorf("bad amount %q", m.Amount)
	}

	var opts []wallet.MessageOption
	if len(m.Payload) > 0 {
		body, err := cell.FromBOC(m.Payload)
		if err != nil {
			return nil, fmt.Errorf("bad payload: %w", err)
		}
		opts = append(opts, wallet.WithBody(body))
	}
	if len(m.StateInit) > 0 {
		c, err := cell.FromBOC(m.StateInit)
		if err != nil {
			return nil, fmt.Errorf("bad state init: %w", err)
		}
		var si tlb.StateInit
		if err = si.LoadFromCell(c.BeginParse()); err != nil {
			return nil, fmt.Errorf("bad state init: %w", err)
		}
		opts = append(opts, wallet.WithStateInit(&si))
	}
	return wallet.NewMessage(dst, tlb.FromNanoTON(amount), opts...)
}

func (g *Gasless) SubmitRelayed(ctx context.Context, boc []byte, quote *sender.RelayQuote) error {
	if quote == nil {
		return fmt.Errorf("%w: gasless send needs the quote", ErrRelay)
	}
	return g.c.call(ctx, http.MethodPost, "/v1/gasless/send", gaslessSendRequest{
		PublicKey: hex.EncodeToString(quote.Request.PublicKey),
		BOC:       boc,
	}, nil)
}
