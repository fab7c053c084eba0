package toncenter

import (
	"context"
	"net/url"
	"strings"

	"github.com/xssnick/tonwallet/address"
	"github.com/xssnick/tonwallet/tvm/cell"
)

type V2 struct {
	client *Client
}

func (c *Client) V2() *V2 {
	return &V2{client: c}
}

func (v *V2) apiBase() string {
	return strings.TrimRight(v.client.baseURL, "/") + "/api/v2"
}

type AddressInformationV2Result struct {
	Balance NanoCoins  `json:"balance"`
	Code    *cell.Cell `json:"code"`
	Data    *cell.Cell `json:"data"`
	State   string     `json:"state"` // "active", "uninitialized", "frozen"
}

// GetAddressInformation /getAddressInformation
func (v *V2) GetAddressInformation(ctx context.Context, addr *address.Address) (*AddressInformationV2Result, error) {
	q := url.Values{"address": []string{addr.String()}}
	return V2GetCall[AddressInformationV2Result](ctx, v, "getAddressInformation", q)
}

type WalletInformationV2Result struct {
	IsWallet     bool      `json:"wallet"`
	Balance      NanoCoins `json:"balance"`
	AccountState string    `json:"account_state"`
	WalletType   string    `json:"wallet_type"`
	Seqno        uint64    `json:"seqno"`
	WalletID     int64     `json:"wallet_id"`
}

// GetWalletInformation /getWalletInformation
func (v *V2) GetWalletInformation(ctx context.Context, addr *address.Address) (*WalletInformationV2Result, error) {
	q := url.Values{"address": []string{addr.String()}}
	return V2GetCall[WalletInformationV2Result](ctx, v, "getWalletInformation", q)
}

type ConsensusBlockV2Result struct {
	Seqno     uint64  `json:"consensus_block"`
	Timestamp float64 `json:"timestamp"`
}

// GetConsensusBlock /getConsensusBlock, its timestamp is the chain time.
func (v *V2) GetConsensusBlock(ctx context.Context) (*ConsensusBlockV2Result, error) {
	return V2GetCall[ConsensusBlockV2Result](ctx, v, "getConsensusBlock", nil)
}

func (v *V2) SendBoc(ctx context.Context, data []byte) error {
	_, err := V2PostCall[any](ctx, v, "sendBoc", map[string][]byte{
		"boc": data,
	})
	return err
}

type EstimateFeeRequest struct {
	Address      *address.Address `json:"address"`
	Body         *cell.Cell       `json:"body"`
	InitCode     *cell.Cell       `json:"init_code,omitempty"`
	InitData     *cell.Cell       `json:"init_data,omitempty"`
	IgnoreChkSig bool             `json:"ignore_chksig"`
}

type Fee struct {
	InFwdFee   uint64 `json:"in_fwd_fee"`
	StorageFee uint64 `json:"storage_fee"`
	GasFee     uint64 `json:"gas_fee"`
	FwdFee     uint64 `json:"fwd_fee"`
}

func (f Fee) Total() uint64 {
	return f.InFwdFee + f.StorageFee + f.GasFee + f.FwdFee
}

type EstimateFeeV2Result struct {
	SourceFees      Fee   `json:"source_fees"`
	DestinationFees []Fee `json:"destination_fees"`
}

// EstimateFee /estimateFee
func (v *V2) EstimateFee(ctx context.Context, req EstimateFeeRequest) (*EstimateFeeV2Result, error) {
	return V2PostCall[EstimateFeeV2Result](ctx, v, "estimateFee", req)
}

func V2PostCall[T any](ctx context.Context, v *V2, method string, req any) (*T, error) {
	return doPOST[T](ctx, v.client, v.apiBase()+"/"+method, req, false)
}

func V2GetCall[T any](ctx context.Context, v *V2, method string, query url.Values) (*T, error) {
	return doGET[T](ctx, v.client, v.apiBase()+"/"+method, query, false)
}
