package toncenter

import (
	"context"
	"errors"
	"fmt"

	"github.com/xssnick/tonwallet/address"
	"github.com/xssnick/tonwallet/tlb"
	"github.com/xssnick/tonwallet/ton"
)

var _ ton.ChainAPI = (*Client)(nil)

func (c *Client) GetSeqnoAndBalance(ctx context.Context, addr *address.Address) (*ton.AccountState, error) {
	info, err := c.V2().GetWalletInformation(ctx, addr)
	if err != nil {
		return nil, fmt.Errorf("failed to get wallet information: %w", err)
	}

	st := &ton.AccountState{
		Balance: info.Balance.TON(),
		Status:  tlb.ParseAccountStatus(info.AccountState),
	}
	if info.IsWallet {
		st.Seqno = uint32(info.Seqno)
	}
	if st.Status == tlb.AccountStatusActive {
		c.active.Add(addrKey(addr), struct{}{})
	}
	return st, nil
}

// Emulate estimates the fees of an external message with the signature check skipped.
// The fee endpoint reports no outgoing messages, so the preview has no legs.
func (c *Client) Emulate(ctx context.Context, msg *tlb.ExternalMessage) (*ton.EffectPreview, error) {
	req := EstimateFeeRequest{
		Address:      msg.DstAddr,
		Body:         msg.Body,
		IgnoreChkSig: true,
	}
	if msg.StateInit != nil {
		req.InitCode = msg.StateInit.Code
		req.InitData = msg.StateInit.Data
	}

	res, err := c.V2().EstimateFee(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("failed to estimate fee: %w", err)
	}

	total := res.SourceFees.Total()
	for _, f := range res.DestinationFees {
		total += f.Total()
	}
	return &ton.EffectPreview{Fee: tlb.FromNanoTONU(total)}, nil
}

func (c *Client) Broadcast(ctx context.Context, boc []byte) error {
	if err := c.V2().SendBoc(ctx, boc); err != nil {
		if errors.Is(err, ErrAPI) {
			return fmt.Errorf("%w: %w", ton.ErrMessageNotAccepted, err)
		}
		return fmt.Errorf("failed to send boc: %w", err)
	}
	return nil
}

func (c *Client) GetServerTime(ctx context.Context) (uint32, error) {
	res, err := c.V2().GetConsensusBlock(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to get consensus block: %w", err)
	}
	return uint32(res.Timestamp), nil
}
