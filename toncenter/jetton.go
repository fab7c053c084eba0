package toncenter

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/xssnick/tonwallet/address"
	"github.com/xssnick/tonwallet/metrics"
	"github.com/xssnick/tonwallet/tlb"
	"github.com/xssnick/tonwallet/ton/transfer"
	"github.com/xssnick/tonwallet/tvm/cell"
)

type JettonMasterV3 struct {
	Address       string         `json:"address"`
	JettonContent map[string]any `json:"jetton_content"`
}

type jettonMastersV3Result struct {
	JettonMasters []JettonMasterV3 `json:"jetton_masters"`
}

// GetJettonMaster /jetton/masters, the indexed master with its metadata.
func (v *V3) GetJettonMaster(ctx context.Context, master *address.Address) (*JettonMasterV3, error) {
	q := url.Values{
		"address": []string{master.String()},
		"limit":   []string{"1"},
	}

	res, err := V3GetCall[jettonMastersV3Result](ctx, v, "jetton/masters", q)
	if err != nil {
		return nil, err
	}
	if len(res.JettonMasters) == 0 {
		return nil, fmt.Errorf("%w: jetton master %s is not indexed", ErrNotDeployed, master.String())
	}
	return &res.JettonMasters[0], nil
}

// CustomPayload is the claim data a custom payload api returns for an owner of a compressed jetton.
type CustomPayload struct {
	Owner         string `json:"owner"`
	JettonWallet  string `json:"jetton_wallet"`
	CustomPayload string `json:"custom_payload"`
	StateInit     string `json:"state_init"`
}

// GetJettonWallet asks the master for the owner's jetton wallet. Addresses are cached, they never change.
// Compressed jettons also get the claim payload, and the state init while the wallet is not deployed.
func (c *Client) GetJettonWallet(ctx context.Context, master, owner *address.Address) (*transfer.JettonWallet, error) {
	addr, err := c.jettonWalletAddress(ctx, master, owner)
	if err != nil {
		return nil, err
	}
	jw := &transfer.JettonWallet{Address: addr}

	api, err := c.customPayloadAPI(ctx, master)
	if err != nil {
		return nil, err
	}
	if api == "" {
		return jw, nil
	}

	claim, err := c.fetchCustomPayload(ctx, api, owner)
	if err != nil {
		return nil, err
	}
	if claim == nil || claim.CustomPayload == "" {
		return jw, nil
	}

	if jw.CustomPayload, err = decodeBOC(claim.CustomPayload); err != nil {
		return nil, fmt.Errorf("bad custom payload: %w", err)
	}

	if claim.StateInit == "" {
		return jw, nil
	}
	st, err := c.GetAccountStatus(ctx, addr)
	if err != nil {
		return nil, err
	}
	if st == tlb.AccountStatusActive {
		return jw, nil
	}

	si, err := decodeBOC(claim.StateInit)
	if err != nil {
		return nil, fmt.Errorf("bad state init: %w", err)
	}
	jw.StateInit = &tlb.StateInit{}
	if err = jw.StateInit.LoadFromCell(si.BeginParse()); err != nil {
		return nil, fmt.Errorf("failed to parse state init: %w", err)
	}
	if !jw.StateInit.MustCalcAddress(int(addr.Workchain())).Equals(addr) {
		return nil, fmt.Errorf("%w: state init does not match jetton wallet %s", ErrAPI, addr.String())
	}
	return jw, nil
}

func (c *Client) jettonWalletAddress(ctx context.Context, master, owner *address.Address) (*address.Address, error) {
	key := addrKey(master) + "/" + addrKey(owner)
	if v, ok := c.jettonWallets.Get(key); ok {
		return v.(*address.Address), nil
	}

	res, err := c.V3().RunGetMethod(ctx, master, "get_wallet_address", []any{owner})
	if err != nil {
		return nil, fmt.Errorf("failed to run get_wallet_address: %w", err)
	}

	addr, err := stackAddr(res.Stack, 0)
	if err != nil {
		return nil, err
	}
	c.jettonWallets.Add(key, addr)
	return addr, nil
}

// customPayloadAPI returns the custom payload api of the master, empty for regular jettons.
func (c *Client) customPayloadAPI(ctx context.Context, master *address.Address) (string, error) {
	key := addrKey(master)
	if v, ok := c.payloadAPIs.Get(key); ok {
		return v.(string), nil
	}

	m, err := c.V3().GetJettonMaster(ctx, master)
	if err != nil {
		if errors.Is(err, ErrNotDeployed) {
			// fresh masters are not indexed yet, they cannot have claims either
			return "", nil
		}
		return "", fmt.Errorf("failed to get jetton master: %w", err)
	}

	api, _ := m.JettonContent["custom_payload_api_uri"].(string)
	api = strings.TrimRight(api, "/")
	c.payloadAPIs.Add(key, api)
	return api, nil
}

// fetchCustomPayload returns nil when the owner has nothing to claim.
func (c *Client) fetchCustomPayload(ctx context.Context, api string, owner *address.Address) (res *CustomPayload, err error) {
	path := api + "/wallet/" + owner.StringRaw()
	defer func() {
		outcome := metrics.OutcomeOK
		if err != nil {
			outcome = metrics.OutcomeError
		}
		c.metrics.ObserveRPC("custom_payload", outcome)
	}()

	resp, err := c.payloads.R().
		SetContext(ctx).
		Get(path)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch custom payload: %w", err)
	}
	if resp.StatusCode() == http.StatusNotFound {
		return nil, nil
	}
	if resp.IsError() {
		c.logger.Debug("custom payload api rejected request",
			zap.String("api", api),
			zap.Int("status", resp.StatusCode()),
		)
		return nil, fmt.Errorf("%w: custom payload api status %d", ErrAPI, resp.StatusCode())
	}

	var claim CustomPayload
	if err = json.Unmarshal(resp.Body(), &claim); err != nil {
		return nil, fmt.Errorf("failed to parse custom payload: %w", err)
	}
	return &claim, nil
}

func decodeBOC(s string) (*cell.Cell, error) {
	boc, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		if boc, err = base64.URLEncoding.DecodeString(s); err != nil {
			return nil, fmt.Errorf("not base64: %w", err)
		}
	}
	return cell.FromBOC(boc)
}
