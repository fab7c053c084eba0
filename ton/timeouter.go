package ton

import (
	"context"
	"time"

	"github.com/xssnick/tonwallet/address"
	"github.com/xssnick/tonwallet/tlb"
	"github.com/xssnick/tonwallet/tvm/cell"
)

type timeoutClient struct {
	original ChainAPI
	timeout  time.Duration
}

type timeoutEmulator struct {
	*timeoutClient
	emu InternalEmulator
}

// WithTimeout bounds every call of api, errors are returned as is.
// The result is an InternalEmulator when api is one.
func WithTimeout(api ChainAPI, timeout time.Duration) ChainAPI {
	c := &timeoutClient{original: api, timeout: timeout}
	if emu, ok := api.(InternalEmulator); ok {
		return &timeoutEmulator{timeoutClient: c, emu: emu}
	}
	return c
}

func (c *timeoutClient) GetSeqnoAndBalance(ctx context.Context, addr *address.Address) (*AccountState, error) {
	tCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	return c.original.GetSeqnoAndBalance(tCtx, addr)
}

func (c *timeoutClient) Emulate(ctx context.Context, msg *tlb.ExternalMessage) (*EffectPreview, error) {
	tCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	return c.original.Emulate(tCtx, msg)
}

func (c *timeoutClient) Broadcast(ctx context.Context, boc []byte) error {
	tCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	return c.original.Broadcast(tCtx, boc)
}

func (c *timeoutClient) GetServerTime(ctx context.Context) (uint32, error) {
	tCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	return c.original.GetServerTime(tCtx)
}

func (c *timeoutEmulator) EmulateInternal(ctx context.Context, src, dst *address.Address, amount tlb.Coins, body *cell.Cell) (*EffectPreview, error) {
	tCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	return c.emu.EmulateInternal(tCtx, src, dst, amount, body)
}
