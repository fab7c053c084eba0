package toncenter

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/xssnick/tonwallet/address"
	"github.com/xssnick/tonwallet/tlb"
	"github.com/xssnick/tonwallet/ton/multisig"
	"github.com/xssnick/tonwallet/ton/plugin"
	"github.com/xssnick/tonwallet/ton/sender"
	"github.com/xssnick/tonwallet/ton/transfer"
	"github.com/xssnick/tonwallet/tvm/cell"
)

var (
	ErrUnexpectedStack = errors.New("unexpected get method result")
	ErrNotDeployed     = errors.New("contract is not deployed")
)

var (
	_ transfer.JettonWalletResolver = (*Client)(nil)
	_ transfer.AccountStatusSource  = (*Client)(nil)
	_ sender.JettonWalletSource     = (*Client)(nil)
	_ sender.MultisigSource         = (*Client)(nil)
	_ sender.TwoFASource            = (*Client)(nil)
)

func stackSlice(stack []any, i int) (*cell.Slice, error) {
	if len(stack) <= i {
		return nil, fmt.Errorf("%w: %d elements, need %d", ErrUnexpectedStack, len(stack), i+1)
	}
	switch v := stack[i].(type) {
	case *cell.Slice:
		return v, nil
	case *cell.Cell:
		return v.BeginParse(), nil
	}
	return nil, fmt.Errorf("%w: element %d is %T, not a slice", ErrUnexpectedStack, i, stack[i])
}

func stackInt(stack []any, i int) (*big.Int, error) {
	if len(stack) <= i {
		return nil, fmt.Errorf("%w: %d elements, need %d", ErrUnexpectedStack, len(stack), i+1)
	}
	v, ok := stack[i].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("%w: element %d is %T, not a number", ErrUnexpectedStack, i, stack[i])
	}
	return v, nil
}

func stackAddr(stack []any, i int) (*address.Address, error) {
	s, err := stackSlice(stack, i)
	if err != nil {
		return nil, err
	}
	addr, err := s.LoadAddr()
	if err != nil {
		return nil, fmt.Errorf("%w: element %d: %v", ErrUnexpectedStack, i, err)
	}
	return addr, nil
}

func (c *Client) GetJettonWalletData(ctx context.Context, jettonWallet *address.Address) (*sender.JettonWalletData, error) {
	res, err := c.V3().RunGetMethod(ctx, jettonWallet, "get_wallet_data", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to run get_wallet_data: %w", err)
	}

	balance, err := stackInt(res.Stack, 0)
	if err != nil {
		return nil, err
	}
	owner, err := stackAddr(res.Stack, 1)
	if err != nil {
		return nil, err
	}
	master, err := stackAddr(res.Stack, 2)
	if err != nil {
		return nil, err
	}

	amount, err := tlb.FromNano(balance, 9)
	if err != nil {
		return nil, fmt.Errorf("bad jetton balance: %w", err)
	}
	return &sender.JettonWalletData{Balance: amount, Owner: owner, Master: master}, nil
}

// contractData reads the persistent data of a deployed contract.
func (c *Client) contractData(ctx context.Context, addr *address.Address) (*cell.Cell, error) {
	info, err := c.V2().GetAddressInformation(ctx, addr)
	if err != nil {
		return nil, fmt.Errorf("failed to get address information: %w", err)
	}
	if tlb.ParseAccountStatus(info.State) != tlb.AccountStatusActive || info.Data == nil {
		return nil, fmt.Errorf("%w: %s is %s", ErrNotDeployed, addr.String(), info.State)
	}
	return info.Data, nil
}

func (c *Client) GetMultisigData(ctx context.Context, addr *address.Address) (*multisig.Info, error) {
	data, err := c.contractData(ctx, addr)
	if err != nil {
		return nil, err
	}
	return multisig.ParseData(data)
}

func (c *Client) GetOrderAddress(ctx context.Context, ms *address.Address, seqno *big.Int) (*address.Address, error) {
	res, err := c.V3().RunGetMethod(ctx, ms, "get_order_address", []any{seqno})
	if err != nil {
		return nil, fmt.Errorf("failed to run get_order_address: %w", err)
	}
	return stackAddr(res.Stack, 0)
}

func (c *Client) GetTwoFA(ctx context.Context, pluginAddr *address.Address) (*plugin.TwoFA, error) {
	data, err := c.contractData(ctx, pluginAddr)
	if err != nil {
		return nil, err
	}

	var tf plugin.TwoFA
	if err = tf.LoadFromCell(data.BeginParse()); err != nil {
		return nil, fmt.Errorf("failed to parse 2fa data: %w", err)
	}
	return &tf, nil
}
