package toncenter

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/xssnick/tonwallet/address"
	"github.com/xssnick/tonwallet/tlb"
	"github.com/xssnick/tonwallet/ton"
	"github.com/xssnick/tonwallet/tvm/cell"
)

var ErrEmulationFailed = errors.New("message execution failed in emulation")

var _ ton.InternalEmulator = (*Client)(nil)

type EmulateTraceRequest struct {
	Boc             string `json:"boc"`
	IgnoreChksig    bool   `json:"ignore_chksig"`
	IncludeCodeData bool   `json:"include_code_data"`
	WithActions     bool   `json:"with_actions"`
}

type EmulatedMessage struct {
	Source      string    `json:"source"`
	Destination string    `json:"destination"`
	Value       NanoCoins `json:"value"`
	FwdFee      NanoCoins `json:"fwd_fee"`
	Content     *struct {
		Body string `json:"body"`
	} `json:"message_content"`
}

type EmulatedTransaction struct {
	Account     string            `json:"account"`
	TotalFees   NanoCoins         `json:"total_fees"`
	OutMsgs     []EmulatedMessage `json:"out_msgs"`
	Description struct {
		Aborted   bool `json:"aborted"`
		ComputePh struct {
			Skipped  bool `json:"skipped"`
			Success  bool `json:"success"`
			ExitCode int  `json:"exit_code"`
		} `json:"compute_ph"`
	} `json:"description"`
}

type EmulatedTrace struct {
	TxHash   string          `json:"tx_hash"`
	Children []EmulatedTrace `json:"children"`
}

type EmulateTraceResult struct {
	Trace        EmulatedTrace                   `json:"trace"`
	Transactions map[string]*EmulatedTransaction `json:"transactions"`
}

// EmulateTrace runs a message and everything it causes on top of the latest state.
func (c *Client) EmulateTrace(ctx context.Context, msg *cell.Cell) (*EmulateTraceResult, error) {
	req := EmulateTraceRequest{
		Boc:          base64.StdEncoding.EncodeToString(msg.ToBOC()),
		IgnoreChksig: true,
	}
	return doPOST[EmulateTraceResult](ctx, c, strings.TrimRight(c.baseURL, "/")+"/api/emulate/v1/emulateTrace", req, true)
}

// EmulateInternal runs an internal message from src to dst. The preview fee sums every
// transaction of the trace, legs are the messages sent by dst.
func (c *Client) EmulateInternal(ctx context.Context, src, dst *address.Address, amount tlb.Coins, body *cell.Cell) (*ton.EffectPreview, error) {
	msg, err := (&tlb.InternalMessage{
		IHRDisabled: true,
		Bounce:      true,
		SrcAddr:     src,
		DstAddr:     dst,
		Amount:      amount,
		Body:        body,
	}).ToCell()
	if err != nil {
		return nil, fmt.Errorf("failed to serialize message: %w", err)
	}

	res, err := c.EmulateTrace(ctx, msg)
	if err != nil {
		return nil, fmt.Errorf("failed to emulate trace: %w", err)
	}

	root, ok := res.Transactions[res.Trace.TxHash]
	if !ok {
		return nil, fmt.Errorf("%w: no transaction for trace root", ErrAPI)
	}
	if root.Description.Aborted {
		return nil, fmt.Errorf("%w: exit code %d", ErrEmulationFailed, root.Description.ComputePh.ExitCode)
	}

	fee := new(big.Int)
	for _, tx := range res.Transactions {
		fee.Add(fee, tx.TotalFees.TON().Nano())
	}

	preview := &ton.EffectPreview{Fee: tlb.FromNanoTON(fee)}
	for i, m := range root.OutMsgs {
		leg, err := m.leg()
		if err != nil {
			return nil, fmt.Errorf("bad out message %d: %w", i, err)
		}
		preview.Legs = append(preview.Legs, leg)
	}
	return preview, nil
}

func (m EmulatedMessage) leg() (ton.Leg, error) {
	dst, err := address.ParseRawAddr(m.Destination)
	if err != nil {
		if dst, err = address.ParseAddr(m.Destination); err != nil {
			return ton.Leg{}, fmt.Errorf("bad destination: %w", err)
		}
	}

	leg := ton.Leg{
		Destination: dst,
		Amount:      m.Value.TON(),
		ForwardFee:  m.FwdFee.TON(),
	}
	if m.Content != nil && m.Content.Body != "" {
		boc, err := base64.StdEncoding.DecodeString(m.Content.Body)
		if err != nil {
			return ton.Leg{}, fmt.Errorf("bad body: %w", err)
		}
		if leg.Body, err = cell.FromBOC(boc); err != nil {
			return ton.Leg{}, fmt.Errorf("bad body: %w", err)
		}
	}
	return leg, nil
}
