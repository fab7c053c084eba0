package ton

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xssnick/tonwallet/address"
	"github.com/xssnick/tonwallet/tlb"
	"github.com/xssnick/tonwallet/tvm/cell"
)

type blockingAPI struct{}

func (blockingAPI) GetSeqnoAndBalance(ctx context.Context, _ *address.Address) (*AccountState, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (blockingAPI) Emulate(ctx context.Context, _ *tlb.ExternalMessage) (*EffectPreview, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (blockingAPI) Broadcast(ctx context.Context, _ []byte) error {
	<-ctx.Done()
	return ctx.Err()
}

func (blockingAPI) GetServerTime(ctx context.Context) (uint32, error) {
	if _, ok := ctx.Deadline(); !ok {
		return 0, nil
	}
	return 42, nil
}

func TestWithTimeout(t *testing.T) {
	api := WithTimeout(blockingAPI{}, 20*time.Millisecond)

	_, err := api.GetSeqnoAndBalance(context.Background(), nil)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	_, err = api.Emulate(context.Background(), nil)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	require.ErrorIs(t, api.Broadcast(context.Background(), nil), context.DeadlineExceeded)

	now, err := api.GetServerTime(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint32(42), now)
}

type blockingEmulator struct {
	blockingAPI
}

func (blockingEmulator) EmulateInternal(ctx context.Context, _, _ *address.Address, _ tlb.Coins, _ *cell.Cell) (*EffectPreview, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestWithTimeout_InternalEmulator(t *testing.T) {
	_, ok := WithTimeout(blockingAPI{}, time.Second).(InternalEmulator)
	assert.False(t, ok)

	emu, ok := WithTimeout(blockingEmulator{}, 20*time.Millisecond).(InternalEmulator)
	require.True(t, ok)

	_, err := emu.EmulateInternal(context.Background(), nil, nil, tlb.ZeroCoins, nil)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}
