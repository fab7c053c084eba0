package tonconnect

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xssnick/tonwallet/address"
	"github.com/xssnick/tonwallet/storage"
	"github.com/xssnick/tonwallet/tlb"
	"github.com/xssnick/tonwallet/ton/sender"
	"github.com/xssnick/tonwallet/ton/signer"
	"github.com/xssnick/tonwallet/ton/wallet"
)

const testNow = 1700000000

type mockApprover struct {
	connect  func(ctx context.Context, req *ConnectIntent) (signer.Signer, error)
	tx       func(ctx context.Context, req *TransactionIntent) (signer.Signer, error)
	signData func(ctx context.Context, req *SignDataIntent) (signer.Signer, error)
}

func (m *mockApprover) ApproveConnect(ctx context.Context, req *ConnectIntent) (signer.Signer, error) {
	return m.connect(ctx, req)
}

func (m *mockApprover) ApproveTransaction(ctx context.Context, req *TransactionIntent) (signer.Signer, error) {
	return m.tx(ctx, req)
}

func (m *mockApprover) ApproveSignData(ctx context.Context, req *SignDataIntent) (signer.Signer, error) {
	return m.signData(ctx, req)
}

type mockSender struct {
	mx        sync.Mutex
	estimated []*wallet.Transfer
	sent      []*wallet.Transfer
	sendErr   error
}

func (m *mockSender) Estimate(_ context.Context, t *wallet.Transfer) (*sender.Estimation, error) {
	m.mx.Lock()
	defer m.mx.Unlock()
	m.estimated = append(m.estimated, t)
	return &sender.Estimation{
		Strategy: sender.StrategySelf,
		Fee:      sender.Fee{Asset: sender.AssetTON, Amount: tlb.MustFromTON("0.01")},
	}, nil
}

func (m *mockSender) Send(_ context.Context, t *wallet.Transfer, _ *sender.Estimation, _ signer.Signer) (*sender.Result, error) {
	m.mx.Lock()
	defer m.mx.Unlock()
	if m.sendErr != nil {
		return nil, m.sendErr
	}
	m.sent = append(m.sent, t)
	return &sender.Result{State: sender.StateBroadcast, BOC: []byte{0xb5, 0xee}}, nil
}

type dispatcherEnv struct {
	d        *Dispatcher
	sw       *signer.Software
	approver *mockApprover
	sender   *mockSender
	registry *Registry
	addr     *address.Address
	manifest string
	clk      *clock.Mock
}

func newDispatcherEnv(t *testing.T) *dispatcherEnv {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/manifest.json":
			_, _ = w.Write([]byte(`{"url":"https://app.example","name":"Example","iconUrl":"https://app.example/icon.png"}`))
		case "/broken.json":
			_, _ = w.Write([]byte(`{"url":"ftp://x","name":""}`))
		case "/garbage.json":
			_, _ = w.Write([]byte(`<html>`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(srv.Close)

	seed := make([]byte, 32)
	seed[0] = 1
	sw, err := signer.NewSoftwareFromSeed(seed)
	require.NoError(t, err)

	id, err := wallet.NewIdentity(ed25519.PublicKey(sw.PublicKey()), wallet.V4R2)
	require.NoError(t, err)

	clk := clock.NewMock()
	clk.Set(time.Unix(testNow, 0))

	approver := &mockApprover{
		connect: func(context.Context, *ConnectIntent) (signer.Signer, error) {
			return sw, nil
		},
		tx: func(context.Context, *TransactionIntent) (signer.Signer, error) {
			return sw, nil
		},
		signData: func(context.Context, *SignDataIntent) (signer.Signer, error) {
			return sw, nil
		},
	}

	ms := &mockSender{}
	reg := NewRegistry(storage.NewMemory())
	d, err := NewDispatcher(Config{
		Identity:  id,
		Sender:    ms,
		Registry:  reg,
		Manifests: NewManifestLoader(time.Second),
		Approver:  approver,
		Device:    NewDeviceInfo("linux", "tonwallet", "1.0.0", wallet.V4R2.MaxMessages()),
	}, WithClock(clk))
	require.NoError(t, err)

	return &dispatcherEnv{
		d:        d,
		sw:       sw,
		approver: approver,
		sender:   ms,
		registry: reg,
		addr:     id.MustAddress(),
		manifest: srv.URL + "/manifest.json",
		clk:      clk,
	}
}

func (e *dispatcherEnv) link(manifest string, items ...ConnectItem) *ConnectLink {
	if len(items) == 0 {
		items = []ConnectItem{{Name: ItemTonAddr}}
	}
	return &ConnectLink{
		Version:  ProtocolVersion,
		ClientID: testClientID,
		Request:  ConnectRequest{ManifestURL: manifest, Items: items},
	}
}

func (e *dispatcherEnv) connect(t *testing.T) *Connection {
	conn, _, err := e.d.Connect(context.Background(), e.link(e.manifest))
	require.NoError(t, err)
	return conn
}

func decodeItems(t *testing.T, ev *WalletEvent) map[string]json.RawMessage {
	p, ok := ev.Payload.(ConnectPayload)
	require.True(t, ok)

	res := map[string]json.RawMessage{}
	for _, raw := range p.Items {
		var it struct {
			Name string `json:"name"`
		}
		require.NoError(t, json.Unmarshal(raw, &it))
		res[it.Name] = raw
	}
	return res
}

func TestDispatcherConnect(t *testing.T) {
	env := newDispatcherEnv(t)

	conn, ev, err := env.d.Connect(context.Background(), env.link(env.manifest,
		ConnectItem{Name: ItemTonAddr}, ConnectItem{Name: ItemTonProof, Payload: "challenge"}))
	require.NoError(t, err)
	require.NotNil(t, conn)
	assert.Equal(t, EventConnect, ev.Event)
	assert.Equal(t, testClientID, conn.ClientID)
	assert.Equal(t, "Example", conn.Manifest.Name)

	items := decodeItems(t, ev)

	var addrItem TonAddressItem
	require.NoError(t, json.Unmarshal(items[ItemTonAddr], &addrItem))
	assert.Equal(t, env.addr.StringRaw(), addrItem.Address)
	assert.Equal(t, "-239", addrItem.Network)
	assert.NotEmpty(t, addrItem.WalletStateInit)

	stateInit, err := base64.StdEncoding.DecodeString(addrItem.WalletStateInit)
	require.NoError(t, err)
	key, err := PublicKeyFromStateInit(env.addr, stateInit)
	require.NoError(t, err)

	var proofItem TonProofItem
	require.NoError(t, json.Unmarshal(items[ItemTonProof], &proofItem))
	require.NotNil(t, proofItem.Proof)
	assert.Equal(t, "app.example", proofItem.Proof.Domain.Value)
	assert.Equal(t, int64(testNow), proofItem.Proof.Timestamp)

	v := NewProofVerifier("app.example", time.Minute)
	v.now = func() time.Time { return time.Unix(testNow, 0) }
	require.NoError(t, v.Verify(env.addr, proofItem.Proof, key))

	list, err := env.registry.List(context.Background(), env.d.Scope())
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, conn.SessionID(), list[0].SessionID())
}

func TestDispatcherConnectErrors(t *testing.T) {
	env := newDispatcherEnv(t)
	base := env.manifest[:len(env.manifest)-len("/manifest.json")]

	tests := []struct {
		name     string
		link     *ConnectLink
		rejected bool
		code     ErrorCode
	}{
		{"manifest not found", env.link(base + "/missing.json"), false, CodeManifestNotFound},
		{"manifest not json", env.link(base + "/garbage.json"), false, CodeManifestContentError},
		{"manifest invalid", env.link(base + "/broken.json"), false, CodeManifestContentError},
		{"user rejected", env.link(env.manifest), true, CodeUserRejected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env.approver.connect = func(context.Context, *ConnectIntent) (signer.Signer, error) {
				if tt.rejected {
					return nil, signer.ErrCanceled
				}
				return env.sw, nil
			}

			conn, ev, err := env.d.Connect(context.Background(), tt.link)
			require.Error(t, err)
			assert.Nil(t, conn)
			assert.Equal(t, EventConnectError, ev.Event)
			assert.Equal(t, tt.code, ev.Payload.(ConnectErrorPayload).Code)
		})
	}

	t.Run("version", func(t *testing.T) {
		link := env.link(env.manifest)
		link.Version = 3
		_, ev, err := env.d.Connect(context.Background(), link)
		require.Error(t, err)
		assert.Equal(t, CodeBadRequest, ev.Payload.(ConnectErrorPayload).Code)
	})

	list, err := env.registry.List(context.Background(), env.d.Scope())
	require.NoError(t, err)
	assert.Empty(t, list)
}

func txParam(t *testing.T, req SendTransactionRequest) string {
	b, err := json.Marshal(req)
	require.NoError(t, err)
	return string(b)
}

func TestDispatcherSendTransaction(t *testing.T) {
	env := newDispatcherEnv(t)
	conn := env.connect(t)

	dst := "EQCD39VS5jcptHL8vMjEXrzGaRcCVYto7HUn4bpAOg8xqB2N"
	var intent *TransactionIntent
	env.approver.tx = func(_ context.Context, req *TransactionIntent) (signer.Signer, error) {
		intent = req
		return env.sw, nil
	}

	resp := env.d.HandleRequest(context.Background(), conn, &AppRequest{
		Method: MethodSendTransaction,
		ID:     "7",
		Params: []string{txParam(t, SendTransactionRequest{
			ValidUntil: testNow + 300,
			Network:    "-239",
			From:       env.addr.String(),
			Messages:   []TransactionMessage{{Address: dst, Amount: "1500000000"}},
		})},
	})
	require.Nil(t, resp.Error)
	assert.Equal(t, "7", resp.ID)
	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte{0xb5, 0xee}), resp.Result)

	require.NotNil(t, intent)
	assert.Equal(t, "0.01", intent.Estimation.Fee.Amount.String())
	require.Len(t, env.sender.sent, 1)

	tr := env.sender.sent[0]
	assert.Equal(t, uint8(wallet.PayGasSeparately|wallet.IgnoreErrors), tr.Mode)
	require.Len(t, tr.Messages, 1)
	assert.Equal(t, "1.5", tr.Messages[0].Amount().String())
	assert.True(t, tr.Messages[0].Destination().Equals(address.MustParseAddr(dst)))
}

func TestDispatcherSendTransactionErrors(t *testing.T) {
	env := newDispatcherEnv(t)
	conn := env.connect(t)

	dst := "EQCD39VS5jcptHL8vMjEXrzGaRcCVYto7HUn4bpAOg8xqB2N"
	msgs := func(n int) []TransactionMessage {
		res := make([]TransactionMessage, n)
		for i := range res {
			res[i] = TransactionMessage{Address: dst, Amount: "1"}
		}
		return res
	}

	tests := []struct {
		name    string
		params  []string
		reject  bool
		sendErr error
		code    ErrorCode
	}{
		{"no params", nil, false, nil, CodeBadRequest},
		{"not json", []string{"{"}, false, nil, CodeBadRequest},
		{"expired", []string{txParam(t, SendTransactionRequest{ValidUntil: testNow - 1, Messages: msgs(1)})}, false, nil, CodeBadRequest},
		{"expired ms", []string{txParam(t, SendTransactionRequest{ValidUntil: (testNow - 1) * 1000, Messages: msgs(1)})}, false, nil, CodeBadRequest},
		{"wrong network", []string{txParam(t, SendTransactionRequest{Network: "-3", Messages: msgs(1)})}, false, nil, CodeBadRequest},
		{"other wallet", []string{txParam(t, SendTransactionRequest{From: dst, Messages: msgs(1)})}, false, nil, CodeBadRequest},
		{"too many messages", []string{txParam(t, SendTransactionRequest{Messages: msgs(5)})}, false, nil, CodeBadRequest},
		{"bad amount", []string{txParam(t, SendTransactionRequest{Messages: []TransactionMessage{{Address: dst, Amount: "-1"}}})}, false, nil, CodeBadRequest},
		{"bad payload", []string{txParam(t, SendTransactionRequest{Messages: []TransactionMessage{{Address: dst, Amount: "1", Payload: "AQID"}}})}, false, nil, CodeBadRequest},
		{"user rejected", []string{txParam(t, SendTransactionRequest{Messages: msgs(1)})}, true, nil, CodeUserRejected},
		{"device canceled", []string{txParam(t, SendTransactionRequest{Messages: msgs(1)})}, false, fmt.Errorf("device failed to sign: %w", signer.ErrCanceled), CodeUserRejected},
		{"insufficient balance", []string{txParam(t, SendTransactionRequest{Messages: msgs(1)})}, false, sender.ErrInsufficientBalance, CodeUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env.sender.sendErr = tt.sendErr
			env.approver.tx = func(context.Context, *TransactionIntent) (signer.Signer, error) {
				if tt.reject {
					return nil, fmt.Errorf("declined: %w", signer.ErrCanceled)
				}
				return env.sw, nil
			}

			resp := env.d.HandleRequest(context.Background(), conn, &AppRequest{
				Method: MethodSendTransaction,
				ID:     "1",
				Params: tt.params,
			})
			require.NotNil(t, resp.Error)
			assert.Equal(t, tt.code, resp.Error.Code)
			assert.Nil(t, resp.Result)
			if tt.sendErr != nil && tt.code == CodeUnknown {
				assert.Contains(t, resp.Error.Message, tt.sendErr.Error())
			}
		})
	}
}

func TestDispatcherSignData(t *testing.T) {
	env := newDispatcherEnv(t)
	conn := env.connect(t)

	resp := env.d.HandleRequest(context.Background(), conn, &AppRequest{
		Method: MethodSignData,
		ID:     "3",
		Params: []string{`{"type":"text","text":"I agree"}`},
	})
	require.Nil(t, resp.Error)

	res, ok := resp.Result.(*SignDataResult)
	require.True(t, ok)
	assert.Equal(t, "app.example", res.Domain)
	assert.Equal(t, env.addr.StringRaw(), res.Address)

	env.approver.signData = func(context.Context, *SignDataIntent) (signer.Signer, error) {
		return nil, signer.ErrCanceled
	}
	resp = env.d.HandleRequest(context.Background(), conn, &AppRequest{
		Method: MethodSignData,
		ID:     "4",
		Params: []string{`{"type":"text","text":"I agree"}`},
	})
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeUserRejected, resp.Error.Code)
}

func TestDispatcherSignDataSigner(t *testing.T) {
	env := newDispatcherEnv(t)
	conn := env.connect(t)

	tests := []struct {
		name string
		sg   signer.Signer
		code ErrorCode
	}{
		{"no signer", nil, CodeUserRejected},
		{"emulation", signer.Emulation{}, CodeBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env.approver.signData = func(context.Context, *SignDataIntent) (signer.Signer, error) {
				return tt.sg, nil
			}

			resp := env.d.HandleRequest(context.Background(), conn, &AppRequest{
				Method: MethodSignData,
				ID:     "5",
				Params: []string{`{"type":"text","text":"I agree"}`},
			})
			require.NotNil(t, resp.Error)
			assert.Equal(t, tt.code, resp.Error.Code)
			assert.Equal(t, "5", resp.ID)
		})
	}

	t.Run("connect proof", func(t *testing.T) {
		env.approver.connect = func(context.Context, *ConnectIntent) (signer.Signer, error) {
			return nil, nil
		}
		_, ev, err := env.d.Connect(context.Background(), env.link(env.manifest,
			ConnectItem{Name: ItemTonAddr}, ConnectItem{Name: ItemTonProof, Payload: "challenge"}))
		require.Error(t, err)
		assert.Equal(t, CodeUserRejected, ev.Payload.(ConnectErrorPayload).Code)
	})
}

func TestDispatcherUnsupportedMethod(t *testing.T) {
	env := newDispatcherEnv(t)
	conn := env.connect(t)

	resp := env.d.HandleRequest(context.Background(), conn, &AppRequest{Method: "signMessage", ID: "9"})
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeMethodNotSupported, resp.Error.Code)
	assert.Equal(t, "9", resp.ID)

	data, err := json.Marshal(resp)
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"9","error":{"code":400,"message":"method \"signMessage\" is not supported"}}`, string(data))
}

func TestDispatcherDisconnect(t *testing.T) {
	env := newDispatcherEnv(t)
	ctx := context.Background()

	c1 := env.connect(t)
	other := env.link(env.manifest)
	other.ClientID = "c1f0ee2a3fa0fe8b5f3f33e3b1dca5d2b0a1b1d8a4a0b5e5f4c3c2c1b0a09f8e"
	c2, _, err := env.d.Connect(ctx, other)
	require.NoError(t, err)

	resp := env.d.HandleRequest(ctx, c1, &AppRequest{Method: MethodDisconnect, ID: "2"})
	require.Nil(t, resp.Error)

	list, err := env.registry.List(ctx, env.d.Scope())
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, c2.SessionID(), list[0].SessionID())

	// repeated disconnect is still answered
	resp = env.d.HandleRequest(ctx, c1, &AppRequest{Method: MethodDisconnect, ID: "3"})
	require.Nil(t, resp.Error)
}

func TestInPage(t *testing.T) {
	env := newDispatcherEnv(t)
	ctx := context.Background()
	page := env.d.InPage("https://app.example")

	ev := page.Restore(ctx)
	assert.Equal(t, EventConnectError, ev.Event)
	assert.Equal(t, CodeUnknownApp, ev.Payload.(ConnectErrorPayload).Code)

	resp := page.Send(ctx, &AppRequest{Method: MethodDisconnect, ID: "1"})
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeUnknownApp, resp.Error.Code)

	ev = page.Connect(ctx, 1, ConnectRequest{ManifestURL: env.manifest})
	assert.Equal(t, EventConnectError, ev.Event)
	assert.Equal(t, CodeBadRequest, ev.Payload.(ConnectErrorPayload).Code)

	ev = page.Connect(ctx, ProtocolVersion, ConnectRequest{ManifestURL: env.manifest, Items: []ConnectItem{{Name: ItemTonAddr}}})
	assert.Equal(t, EventConnect, ev.Event)

	conn, err := env.registry.FindByOrigin(ctx, env.d.Scope(), "https://app.example")
	require.NoError(t, err)
	assert.True(t, conn.IsInPage())

	ev = page.Restore(ctx)
	assert.Equal(t, EventConnect, ev.Event)
	assert.Contains(t, decodeItems(t, ev), ItemTonAddr)

	resp = page.Send(ctx, &AppRequest{Method: MethodDisconnect, ID: "2"})
	require.Nil(t, resp.Error)

	_, err = env.registry.FindByOrigin(ctx, env.d.Scope(), "https://app.example")
	require.True(t, errors.Is(err, ErrConnectionNotFound))
}

func TestEventIDsIncrease(t *testing.T) {
	env := newDispatcherEnv(t)

	a := env.d.DisconnectEvent().ID
	b := env.d.DisconnectEvent().ID
	assert.Greater(t, b, a)
}
