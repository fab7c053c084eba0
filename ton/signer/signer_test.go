package signer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/oasisprotocol/curve25519-voi/primitives/ed25519"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xssnick/tonwallet/tvm/cell"
)

type mockDevice struct {
	signTransactions func(ctx context.Context, payloads []*cell.Cell) ([][]byte, error)
	signProof        func(ctx context.Context, message []byte) ([]byte, error)
}

func (m *mockDevice) SignTransactions(ctx context.Context, payloads []*cell.Cell) ([][]byte, error) {
	return m.signTransactions(ctx, payloads)
}

func (m *mockDevice) SignProof(ctx context.Context, message []byte) ([]byte, error) {
	return m.signProof(ctx, message)
}

type mockRelay struct {
	shown []*RemoteRequest
	await func(ctx context.Context, req *RemoteRequest) (*RemoteResponse, error)
}

func (m *mockRelay) Show(_ context.Context, req *RemoteRequest) error {
	m.shown = append(m.shown, req)
	return nil
}

func (m *mockRelay) Await(ctx context.Context, id string) (*RemoteResponse, error) {
	return m.await(ctx, m.shown[len(m.shown)-1])
}

func payloads(n int) []*cell.Cell {
	var res []*cell.Cell
	for i := 0; i < n; i++ {
		res = append(res, cell.BeginCell().MustStoreUInt(uint64(i), 32).EndCell())
	}
	return res
}

func TestSoftware(t *testing.T) {
	seed := bytes.Repeat([]byte{7}, 32)
	s, err := NewSoftwareFromSeed(seed)
	require.NoError(t, err)
	assert.Equal(t, KindSoftware, s.Kind())

	c := payloads(1)[0]
	sig, err := s.SignCell(context.Background(), c)
	require.NoError(t, err)
	assert.True(t, ed25519.Verify(s.PublicKey(), c.Hash(), sig))

	sig, err = s.SignData(context.Background(), []byte("data"))
	require.NoError(t, err)
	assert.True(t, ed25519.Verify(s.PublicKey(), []byte("data"), sig))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = s.SignCell(ctx, c)
	require.True(t, IsCanceled(err))

	_, err = NewSoftwareFromSeed(seed[:5])
	require.Error(t, err)
	_, err = NewSoftware(ed25519.PrivateKey(seed))
	require.Error(t, err)
}

func TestEmulation(t *testing.T) {
	var e Emulation
	assert.Equal(t, KindEmulation, e.Kind())

	sig, err := e.SignCell(context.Background(), payloads(1)[0])
	require.NoError(t, err)
	assert.Equal(t, make([]byte, 64), sig)

	sigs, err := SignAll(context.Background(), e, payloads(3))
	require.NoError(t, err)
	assert.Len(t, sigs, 3)
}

func TestHardware(t *testing.T) {
	t.Run("batch", func(t *testing.T) {
		calls := 0
		h := NewHardware(&mockDevice{signTransactions: func(ctx context.Context, p []*cell.Cell) ([][]byte, error) {
			calls++
			res := make([][]byte, len(p))
			for i := range p {
				res[i] = bytes.Repeat([]byte{byte(i)}, 64)
			}
			return res, nil
		}})

		sigs, err := SignAll(context.Background(), h, payloads(3))
		require.NoError(t, err)
		assert.Equal(t, 1, calls)
		assert.Equal(t, byte(2), sigs[2][0])
	})

	t.Run("canceled mid batch", func(t *testing.T) {
		h := NewHardware(&mockDevice{signTransactions: func(ctx context.Context, p []*cell.Cell) ([][]byte, error) {
			return [][]byte{make([]byte, 64)}, fmt.Errorf("user rejected: %w", ErrCanceled)
		}})

		_, err := h.SignCells(context.Background(), payloads(3))
		require.True(t, IsCanceled(err))

		var bErr *BatchError
		require.ErrorAs(t, err, &bErr)
		assert.Len(t, bErr.Signed, 1)
	})

	t.Run("canceled", func(t *testing.T) {
		h := NewHardware(&mockDevice{signTransactions: func(ctx context.Context, p []*cell.Cell) ([][]byte, error) {
			return nil, ErrCanceled
		}})

		_, err := h.SignCell(context.Background(), payloads(1)[0])
		require.True(t, IsCanceled(err))

		var bErr *BatchError
		assert.False(t, errors.As(err, &bErr))
	})

	t.Run("failure", func(t *testing.T) {
		h := NewHardware(&mockDevice{signTransactions: func(ctx context.Context, p []*cell.Cell) ([][]byte, error) {
			return nil, errors.New("usb disconnected")
		}})

		_, err := h.SignCell(context.Background(), payloads(1)[0])
		require.Error(t, err)
		assert.False(t, IsCanceled(err))
	})

	t.Run("proof gets raw message", func(t *testing.T) {
		var got []byte
		h := NewHardware(&mockDevice{signProof: func(ctx context.Context, msg []byte) ([]byte, error) {
			got = msg
			return make([]byte, 64), nil
		}})

		_, err := h.SignData(context.Background(), []byte("pre-hash"))
		require.NoError(t, err)
		assert.Equal(t, []byte("pre-hash"), got)
		assert.True(t, h.Kind().HashesInternally())
	})
}

func TestRemote(t *testing.T) {
	pub := bytes.Repeat([]byte{1}, 32)

	t.Run("ok", func(t *testing.T) {
		relay := &mockRelay{await: func(ctx context.Context, req *RemoteRequest) (*RemoteResponse, error) {
			return &RemoteResponse{ID: req.ID, Signatures: [][]byte{make([]byte, 64), make([]byte, 64)}}, nil
		}}
		r := NewRemote(pub, relay)

		sigs, err := SignAll(context.Background(), r, payloads(2))
		require.NoError(t, err)
		assert.Len(t, sigs, 2)

		require.Len(t, relay.shown, 1)
		parsed, err := ParseRemoteRequest(relay.shown[0].Link())
		require.NoError(t, err)
		assert.Equal(t, relay.shown[0].ID, parsed.ID)
		assert.Equal(t, pub, parsed.PublicKey)
		require.Len(t, parsed.Payloads, 2)

		c, err := cell.FromBOC(parsed.Payloads[1])
		require.NoError(t, err)
		assert.Equal(t, payloads(2)[1].Hash(), c.Hash())
	})

	t.Run("rejected", func(t *testing.T) {
		r := NewRemote(pub, &mockRelay{await: func(ctx context.Context, req *RemoteRequest) (*RemoteResponse, error) {
			return &RemoteResponse{ID: req.ID, Rejected: true}, nil
		}})

		_, err := r.SignData(context.Background(), []byte("x"))
		require.ErrorIs(t, err, ErrCanceled)
	})

	t.Run("partial", func(t *testing.T) {
		r := NewRemote(pub, &mockRelay{await: func(ctx context.Context, req *RemoteRequest) (*RemoteResponse, error) {
			return &RemoteResponse{ID: req.ID, Signatures: [][]byte{make([]byte, 64)}}, nil
		}})

		_, err := r.SignCells(context.Background(), payloads(3))
		var bErr *BatchError
		require.ErrorAs(t, err, &bErr)
		assert.True(t, IsCanceled(err))
	})

	t.Run("bad link", func(t *testing.T) {
		_, err := ParseRemoteRequest("https://example.com/?pk=00")
		require.Error(t, err)
	})
}

func TestKind(t *testing.T) {
	assert.Equal(t, "hardware", KindHardware.String())
	assert.False(t, KindSoftware.HashesInternally())
	assert.True(t, KindRemote.HashesInternally())
	assert.Equal(t, "kind(9)", Kind(9).String())
}
