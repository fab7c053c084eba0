package sender

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xssnick/tonwallet/address"
	"github.com/xssnick/tonwallet/tlb"
	"github.com/xssnick/tonwallet/ton/plugin"
	"github.com/xssnick/tonwallet/ton/wallet"
	"github.com/xssnick/tonwallet/tvm/cell"
)

var twoFAPlugin = address.MustParseAddr("EQAeZUWXO8dY43v8Z5Eh6_b67WJSDvppPfhu0fuLbipQJe-K")

type mockTwoFASource struct {
	seqno uint32
}

func (m *mockTwoFASource) GetTwoFA(context.Context, *address.Address) (*plugin.TwoFA, error) {
	return &plugin.TwoFA{Seqno: m.seqno}, nil
}

type mockTwoFARelay struct {
	mu       sync.Mutex
	requests [][]byte
	statuses map[string][]TwoFAStatus
	polls    map[string]int
}

func newMockTwoFARelay() *mockTwoFARelay {
	return &mockTwoFARelay{statuses: map[string][]TwoFAStatus{}, polls: map[string]int{}}
}

func (m *mockTwoFARelay) Submit(_ context.Context, data, signature []byte, _ *tlb.StateInit) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.requests = append(m.requests, data)
	return fmt.Sprintf("msg-%d", len(m.requests)), nil
}

// GetStatus walks through the scripted statuses of a message and keeps returning the last one.
func (m *mockTwoFARelay) GetStatus(_ context.Context, id string) (*TwoFAResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	list := m.statuses[id]
	if len(list) == 0 {
		return &TwoFAResult{Status: TwoFAPending}, nil
	}
	n := m.polls[id]
	m.polls[id]++
	if n >= len(list) {
		n = len(list) - 1
	}
	return &TwoFAResult{Status: list[n]}, nil
}

func (m *mockTwoFARelay) submitted() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

func newTestTwoFASender(t *testing.T, relay *mockTwoFARelay) (*TwoFASender, *mockChain, *clock.Mock) {
	sw := softwareSigner(t)
	chain := newMockChain()
	clk := clock.NewMock()
	clk.Set(time.Unix(testServerTime, 0))

	s, err := NewTwoFASender(chain, testIdentity(t, sw, wallet.V5R1), twoFAPlugin, &mockTwoFASource{seqno: 7}, relay,
		WithClock(clk), WithPolling(time.Second, 3*time.Second), WithTTL(time.Hour), WithEstimationMaxAge(time.Hour))
	require.NoError(t, err)
	chain.setState(s.w.Address(), 2, "10", tlb.AccountStatusActive)
	return s, chain, clk
}

// sendAsync runs Send and moves the mock clock until it returns.
func sendAsync(t *testing.T, s *TwoFASender, clk *clock.Mock, tr *wallet.Transfer) (*Result, error) {
	est, err := s.Estimate(context.Background(), tr)
	require.NoError(t, err)

	var (
		res  *Result
		done = make(chan struct{})
	)
	go func() {
		defer close(done)
		res, err = s.Send(context.Background(), tr, est, softwareSigner(t))
	}()

	require.Eventually(t, func() bool {
		select {
		case <-done:
			return true
		default:
			clk.Add(time.Second)
			return false
		}
	}, 5*time.Second, time.Millisecond)
	return res, err
}

func TestTwoFASenderConfirmed(t *testing.T) {
	relay := newMockTwoFARelay()
	relay.statuses["msg-1"] = []TwoFAStatus{TwoFAPending, TwoFAConfirmed}
	s, chain, clk := newTestTwoFASender(t, relay)

	res, err := sendAsync(t, s, clk, simpleTransfer("1"))
	require.NoError(t, err)
	assert.Equal(t, "msg-1", res.MessageID)
	assert.Equal(t, uint32(7), res.Seqno)
	assert.Empty(t, chain.broadcasts)

	req, err := cell.FromBOC(relay.requests[0])
	require.NoError(t, err)
	sl := req.BeginParse()
	assert.Equal(t, uint64(plugin.OpTwoFASendActions), sl.MustLoadUInt(32))
	assert.Equal(t, uint64(7), sl.MustLoadUInt(32))
	assert.Equal(t, uint64(wallet.OpV5AuthExtension), sl.MustLoadRef().MustLoadUInt(32))
}

func TestTwoFASenderTerminalStatuses(t *testing.T) {
	tests := []struct {
		name     string
		statuses []TwoFAStatus
		err      error
	}{
		{"failed", []TwoFAStatus{TwoFAPending, TwoFAFailed}, ErrConfirmationFailed},
		{"canceled", []TwoFAStatus{TwoFACanceled}, ErrConfirmationFailed},
		{"expired", []TwoFAStatus{TwoFAExpired}, ErrConfirmationFailed},
		{"timeout", []TwoFAStatus{TwoFAPending}, ErrConfirmationTimeout},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			relay := newMockTwoFARelay()
			relay.statuses["msg-1"] = test.statuses
			s, _, clk := newTestTwoFASender(t, relay)

			_, err := sendAsync(t, s, clk, simpleTransfer("1"))
			require.ErrorIs(t, err, test.err)
		})
	}
}

func TestTwoFASenderSupersededPoll(t *testing.T) {
	relay := newMockTwoFARelay()
	relay.statuses["msg-2"] = []TwoFAStatus{TwoFAConfirmed}
	s, _, clk := newTestTwoFASender(t, relay)

	tr := simpleTransfer("1")
	est, err := s.Estimate(context.Background(), tr)
	require.NoError(t, err)

	firstErr := make(chan error, 1)
	go func() {
		_, err := s.Send(context.Background(), tr, est, softwareSigner(t))
		firstErr <- err
	}()
	require.Eventually(t, func() bool { return relay.submitted() == 1 }, 5*time.Second, time.Millisecond)

	// a newer request for the same plugin replaces the pending one
	tr2 := simpleTransfer("2")
	est2, err := s.Estimate(context.Background(), tr2)
	require.NoError(t, err)
	res, err := s.Send(context.Background(), tr2, est2, softwareSigner(t))
	require.NoError(t, err)
	assert.Equal(t, "msg-2", res.MessageID)

	require.Eventually(t, func() bool {
		select {
		case err := <-firstErr:
			assert.ErrorIs(t, err, ErrPollSuperseded)
			return true
		default:
			clk.Add(time.Second)
			return false
		}
	}, 5*time.Second, time.Millisecond)
}

func TestTwoFASenderVersion(t *testing.T) {
	sw := softwareSigner(t)
	_, err := NewTwoFASender(newMockChain(), testIdentity(t, sw, wallet.V4R2), twoFAPlugin, &mockTwoFASource{}, newMockTwoFARelay())
	require.ErrorIs(t, err, wallet.ErrUnsupportedForVersion)
}
