package relay

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/xssnick/tonwallet/tlb"
	"github.com/xssnick/tonwallet/ton/sender"
)

var _ sender.TwoFARelay = (*TwoFA)(nil)

// TwoFA is a client of the confirmation server of the 2FA extension.
type TwoFA struct {
	c *client
}

func NewTwoFA(baseURL string, opts ...Option) *TwoFA {
	return &TwoFA{c: newClient(baseURL, opts)}
}

type twoFASubmitRequest struct {
	Data      []byte `json:"data"`
	Signature []byte `json:"signature"`
	StateInit []byte `json:"state_init,omitempty"`
}

type twoFASubmitResponse struct {
	ID string `json:"id"`
}

type twoFAStatusResponse struct {
	Status  string `json:"status"`
	Payload []byte `json:"payload,omitempty"`
}

var twoFAStatuses = map[string]sender.TwoFAStatus{
	"pending":   sender.TwoFAPending,
	"confirmed": sender.TwoFAConfirmed,
	"failed":    sender.TwoFAFailed,
	"canceled":  sender.TwoFACanceled,
	"expired":   sender.TwoFAExpired,
}

// Submit hands the signed plugin request to the server, the wallet state init goes
// along when the wallet is not deployed.
func (t *TwoFA) Submit(ctx context.Context, data, signature []byte, walletStateInit *tlb.StateInit) (string, error) {
	req := twoFASubmitRequest{Data: data, Signature: signature}
	if walletStateInit != nil {
		c, err := walletStateInit.ToCell()
		if err != nil {
			return "", fmt.Errorf("failed to serialize state init: %w", err)
		}
		req.StateInit = c.ToBOCWithFlags(false)
	}

	var res twoFASubmitResponse
	if err := t.c.call(ctx, http.MethodPost, "/v1/requests", req, &res); err != nil {
		return "", err
	}
	if res.ID == "" {
		return "", fmt.Errorf("%w: no request id", ErrRelay)
	}
	return res.ID, nil
}

func (t *TwoFA) GetStatus(ctx context.Context, id string) (*sender.TwoFAResult, error) {
	var res twoFAStatusResponse
	if err := t.c.call(ctx, http.MethodGet, "/v1/requests/"+url.PathEscape(id), nil, &res); err != nil {
		return nil, err
	}

	st, ok := twoFAStatuses[res.Status]
	if !ok {
		return nil, fmt.Errorf("%w: unknown status %q", ErrRelay, res.Status)
	}
	return &sender.TwoFAResult{Status: st, Payload: res.Payload}, nil
}
