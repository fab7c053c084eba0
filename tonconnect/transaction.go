package tonconnect

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/big"
	"strconv"
	"time"

	"github.com/xssnick/tonwallet/address"
	"github.com/xssnick/tonwallet/tlb"
	"github.com/xssnick/tonwallet/ton/wallet"
	"github.com/xssnick/tonwallet/tvm/cell"
)

// TransactionMessage is one message of a sendTransaction request.
type TransactionMessage struct {
	Address       string            `json:"address"`
	Amount        string            `json:"amount"`
	Payload       string            `json:"payload,omitempty"`
	StateInit     string            `json:"stateInit,omitempty"`
	ExtraCurrency map[string]string `json:"extra_currency,omitempty"`
}

// SendTransactionRequest is the param of a sendTransaction request.
type SendTransactionRequest struct {
	ValidUntil int64                `json:"valid_until,omitempty"`
	Network    string               `json:"network,omitempty"`
	From       string               `json:"from,omitempty"`
	Messages   []TransactionMessage `json:"messages"`
}

// ParseSendTransaction decodes the request param, errors are BAD_REQUEST.
func ParseSendTransaction(param string) (*SendTransactionRequest, error) {
	var r SendTransactionRequest
	if err := json.Unmarshal([]byte(param), &r); err != nil {
		return nil, &ConnectError{Code: CodeBadRequest, Message: "invalid transaction request", Err: err}
	}
	if len(r.Messages) == 0 {
		return nil, NewConnectError(CodeBadRequest, "transaction has no messages")
	}

	// some dApps send milliseconds
	if r.ValidUntil > 1e12 {
		r.ValidUntil /= 1000
	}
	return &r, nil
}

// Expired reports whether valid_until has passed.
func (r *SendTransactionRequest) Expired(now time.Time) bool {
	return r.ValidUntil > 0 && now.Unix() > r.ValidUntil
}

// Transfer converts the request into wallet messages sent with pay-fees-separately and ignore-errors.
func (r *SendTransactionRequest) Transfer() (*wallet.Transfer, error) {
	msgs := make([]*wallet.OutgoingMessage, 0, len(r.Messages))
	for i, m := range r.Messages {
		msg, err := m.toOutgoing()
		if err != nil {
			return nil, &ConnectError{Code: CodeBadRequest, Message: fmt.Sprintf("message %d is invalid", i), Err: err}
		}
		msgs = append(msgs, msg)
	}
	return wallet.NewTransfer(wallet.PayGasSeparately|wallet.IgnoreErrors, msgs...), nil
}

func (m TransactionMessage) toOutgoing() (*wallet.OutgoingMessage, error) {
	dst, err := address.ParseAnyAddr(m.Address)
	if err != nil {
		return nil, fmt.Errorf("failed to parse address: %w", err)
	}

	nano, ok := new(big.Int).SetString(m.Amount, 10)
	if !ok || nano.Sign() < 0 {
		return nil, fmt.Errorf("%w: %q", tlb.ErrInvalidAmount, m.Amount)
	}

	var opts []wallet.MessageOption
	if m.Payload != "" {
		body, err := decodeBOC(m.Payload)
		if err != nil {
			return nil, fmt.Errorf("failed to parse payload: %w", err)
		}
		opts = append(opts, wallet.WithBody(body))
	}

	if m.StateInit != "" {
		c, err := decodeBOC(m.StateInit)
		if err != nil {
			return nil, fmt.Errorf("failed to parse state init: %w", err)
		}
		var si tlb.StateInit
		if err = si.LoadFromCell(c.BeginParse()); err != nil {
			return nil, fmt.Errorf("failed to load state init: %w", err)
		}
		opts = append(opts, wallet.WithStateInit(&si))
	}

	for id, v := range m.ExtraCurrency {
		cid, err := strconv.ParseUint(id, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid extra currency id %q", id)
		}
		amt, ok := new(big.Int).SetString(v, 10)
		if !ok {
			return nil, fmt.Errorf("%w: extra currency %s amount %q", tlb.ErrInvalidAmount, id, v)
		}
		opts = append(opts, wallet.WithExtraCurrency(uint32(cid), amt))
	}

	return wallet.NewMessage(dst, tlb.FromNanoTON(nano), opts...)
}

func decodeBOC(s string) (*cell.Cell, error) {
	boc, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		if boc, err = base64.URLEncoding.DecodeString(s); err != nil {
			return nil, err
		}
	}
	return cell.FromBOC(boc)
}
