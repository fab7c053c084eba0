package bridge

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xssnick/tonwallet/storage"
	"github.com/xssnick/tonwallet/tonconnect"
	"github.com/xssnick/tonwallet/tonconnect/session"
)

var testScope = tonconnect.Scope{Wallet: "0:960ab627408d5472d9d125b667cbe00ce17eeaa44e9dc6a86e93cdfef2c480d5", Network: -239}

type fakeDispatcher struct {
	registry *tonconnect.Registry
	connect  func(ctx context.Context, link *tonconnect.ConnectLink) (*tonconnect.Connection, *tonconnect.WalletEvent, error)
	// wait, when set, runs before a request is answered
	wait func(ctx context.Context)

	mx       sync.Mutex
	requests []*tonconnect.AppRequest
}

func (f *fakeDispatcher) Scope() tonconnect.Scope {
	return testScope
}

func (f *fakeDispatcher) Registry() *tonconnect.Registry {
	return f.registry
}

func (f *fakeDispatcher) Connect(ctx context.Context, link *tonconnect.ConnectLink) (*tonconnect.Connection, *tonconnect.WalletEvent, error) {
	return f.connect(ctx, link)
}

func (f *fakeDispatcher) HandleRequest(ctx context.Context, _ *tonconnect.Connection, req *tonconnect.AppRequest) *tonconnect.WalletResponse {
	if f.wait != nil {
		f.wait(ctx)
	}

	f.mx.Lock()
	defer f.mx.Unlock()
	f.requests = append(f.requests, req)
	return &tonconnect.WalletResponse{ID: req.ID, Result: "handled " + req.Method}
}

func (f *fakeDispatcher) DisconnectEvent() *tonconnect.WalletEvent {
	return &tonconnect.WalletEvent{Event: tonconnect.EventDisconnect, ID: 7, Payload: struct{}{}}
}

func (f *fakeDispatcher) handled() []*tonconnect.AppRequest {
	f.mx.Lock()
	defer f.mx.Unlock()
	return append([]*tonconnect.AppRequest(nil), f.requests...)
}

type pushed struct {
	query url.Values
	body  string
}

// fakeBridge streams frames written to events to whichever subscriber is connected.
type fakeBridge struct {
	*httptest.Server
	events chan string

	mx          sync.Mutex
	subscribes  []url.Values
	messages    []pushed
	dropStreams int
}

func newFakeBridge(t *testing.T) *fakeBridge {
	b := &fakeBridge{events: make(chan string, 16)}

	mux := http.NewServeMux()
	mux.HandleFunc("/bridge/events", func(w http.ResponseWriter, r *http.Request) {
		b.mx.Lock()
		b.subscribes = append(b.subscribes, r.URL.Query())
		drop := b.dropStreams > 0
		if drop {
			b.dropStreams--
		}
		b.mx.Unlock()

		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		w.(http.Flusher).Flush()
		if drop {
			return
		}

		for {
			select {
			case <-r.Context().Done():
				return
			case frame := <-b.events:
				_, _ = io.WriteString(w, frame)
				w.(http.Flusher).Flush()
			}
		}
	})
	mux.HandleFunc("/bridge/message", func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		b.mx.Lock()
		b.messages = append(b.messages, pushed{query: r.URL.Query(), body: string(body)})
		b.mx.Unlock()
		_, _ = w.Write([]byte(`{"message":"OK","statusCode":200}`))
	})

	b.Server = httptest.NewServer(mux)
	t.Cleanup(b.Close)
	return b
}

func (b *fakeBridge) subscriptions() []url.Values {
	b.mx.Lock()
	defer b.mx.Unlock()
	return append([]url.Values(nil), b.subscribes...)
}

func (b *fakeBridge) pushed() []pushed {
	b.mx.Lock()
	defer b.mx.Unlock()
	return append([]pushed(nil), b.messages...)
}

type env struct {
	bridge *fakeBridge
	disp   *fakeDispatcher
	store  storage.Store
	tr     *Transport
	dapp   *session.Keypair
	conn   *tonconnect.Connection
}

func newEnv(t *testing.T) *env {
	dapp, err := session.GenerateKeypair()
	require.NoError(t, err)
	wk, err := session.GenerateKeypair()
	require.NoError(t, err)

	store := storage.NewMemory()
	disp := &fakeDispatcher{registry: tonconnect.NewRegistry(store)}
	conn := &tonconnect.Connection{
		Keypair:     wk,
		ClientID:    dapp.SessionID(),
		Manifest:    tonconnect.Manifest{URL: "https://app.example", Name: "App"},
		ManifestURL: "https://app.example/m.json",
		CreatedAt:   1700000000,
	}
	require.NoError(t, disp.registry.Add(context.Background(), testScope, conn))

	bridge := newFakeBridge(t)
	tr := New(bridge.URL, disp, store, WithBackOff(func() backoff.BackOff {
		return backoff.NewConstantBackOff(10 * time.Millisecond)
	}))
	t.Cleanup(tr.Close)

	return &env{bridge: bridge, disp: disp, store: store, tr: tr, dapp: dapp, conn: conn}
}

// frame builds an SSE event carrying a request from the dApp.
func (e *env) frame(t *testing.T, id string, req tonconnect.AppRequest) string {
	data, err := json.Marshal(req)
	require.NoError(t, err)

	enc, err := e.dapp.Encrypt(data, e.conn.Keypair.Public)
	require.NoError(t, err)

	msg, err := json.Marshal(bridgeMessage{From: e.dapp.SessionID(), Message: base64.StdEncoding.EncodeToString(enc)})
	require.NoError(t, err)
	return fmt.Sprintf("id: %s\ndata: %s\n\n", id, msg)
}

// open decrypts a pushed message on the dApp side.
func (e *env) open(t *testing.T, p pushed, v any) {
	raw, err := base64.StdEncoding.DecodeString(p.body)
	require.NoError(t, err)

	peer, err := session.ParseSessionID(p.query.Get("client_id"))
	require.NoError(t, err)

	plain, err := e.dapp.Decrypt(raw, peer)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(plain, v))
}

func TestTransportHandlesRequest(t *testing.T) {
	e := newEnv(t)
	require.NoError(t, e.tr.Start())
	require.ErrorIs(t, e.tr.Start(), ErrAlreadyStarted)

	require.Eventually(t, func() bool {
		return len(e.bridge.subscriptions()) == 1
	}, 3*time.Second, 10*time.Millisecond)

	sub := e.bridge.subscriptions()[0]
	assert.Equal(t, e.conn.SessionID(), sub.Get("client_id"))
	assert.Empty(t, sub.Get("last_event_id"))

	e.bridge.events <- "event: heartbeat\n\n"
	e.bridge.events <- e.frame(t, "101", tonconnect.AppRequest{Method: tonconnect.MethodSignData, Params: []string{"{}"}, ID: "5"})

	require.Eventually(t, func() bool {
		return len(e.bridge.pushed()) == 1
	}, 3*time.Second, 10*time.Millisecond)

	p := e.bridge.pushed()[0]
	assert.Equal(t, e.conn.SessionID(), p.query.Get("client_id"))
	assert.Equal(t, e.dapp.SessionID(), p.query.Get("to"))
	assert.Equal(t, "300", p.query.Get("ttl"))

	var resp tonconnect.WalletResponse
	e.open(t, p, &resp)
	assert.Equal(t, "5", resp.ID)
	assert.Equal(t, "handled signData", resp.Result)

	require.Eventually(t, func() bool {
		c, err := e.tr.Cursor(context.Background())
		return err == nil && c == "101"
	}, 3*time.Second, 10*time.Millisecond)

	require.Len(t, e.disp.handled(), 1)
	e.tr.Close()
	e.tr.Close()
}

func TestTransportResumesFromCursor(t *testing.T) {
	e := newEnv(t)
	require.NoError(t, e.store.Put(context.Background(), e.tr.cursorKey(), []byte("55")))

	require.NoError(t, e.tr.Start())
	require.Eventually(t, func() bool {
		return len(e.bridge.subscriptions()) == 1
	}, 3*time.Second, 10*time.Millisecond)

	assert.Equal(t, "55", e.bridge.subscriptions()[0].Get("last_event_id"))
}

func TestTransportDecryptFailureKeepsCursor(t *testing.T) {
	e := newEnv(t)
	require.NoError(t, e.tr.Start())
	require.Eventually(t, func() bool {
		return len(e.bridge.subscriptions()) == 1
	}, 3*time.Second, 10*time.Millisecond)

	bad, err := json.Marshal(bridgeMessage{From: e.dapp.SessionID(), Message: base64.StdEncoding.EncodeToString(make([]byte, 80))})
	require.NoError(t, err)
	e.bridge.events <- fmt.Sprintf("id: 7\ndata: %s\n\n", bad)
	e.bridge.events <- e.frame(t, "8", tonconnect.AppRequest{Method: tonconnect.MethodDisconnect, Params: []string{}, ID: "9"})

	require.Eventually(t, func() bool {
		return len(e.bridge.pushed()) == 1
	}, 3*time.Second, 10*time.Millisecond)

	handled := e.disp.handled()
	require.Len(t, handled, 1)
	assert.Equal(t, "9", handled[0].ID)

	require.Eventually(t, func() bool {
		c, err := e.tr.Cursor(context.Background())
		return err == nil && c == "8"
	}, 3*time.Second, 10*time.Millisecond)
}

func TestTransportCloseKeepsInFlightRequest(t *testing.T) {
	e := newEnv(t)
	started := make(chan struct{})
	e.disp.wait = func(ctx context.Context) {
		close(started)
		<-ctx.Done()
	}

	require.NoError(t, e.tr.Start())
	require.Eventually(t, func() bool {
		return len(e.bridge.subscriptions()) == 1
	}, 3*time.Second, 10*time.Millisecond)

	e.bridge.events <- e.frame(t, "42", tonconnect.AppRequest{Method: tonconnect.MethodSendTransaction, Params: []string{"{}"}, ID: "3"})

	select {
	case <-started:
	case <-time.After(3 * time.Second):
		t.Fatal("request was not dispatched")
	}
	e.tr.Close()

	c, err := e.tr.Cursor(context.Background())
	require.NoError(t, err)
	assert.Empty(t, c)
	assert.Empty(t, e.bridge.pushed())
}

func TestTransportResubscribesOnNewConnection(t *testing.T) {
	e := newEnv(t)
	require.NoError(t, e.tr.Start())
	require.Eventually(t, func() bool {
		return len(e.bridge.subscriptions()) == 1
	}, 3*time.Second, 10*time.Millisecond)

	other, err := session.GenerateKeypair()
	require.NoError(t, err)
	wk, err := session.GenerateKeypair()
	require.NoError(t, err)
	require.NoError(t, e.disp.registry.Add(context.Background(), testScope, &tonconnect.Connection{
		Keypair:     wk,
		ClientID:    other.SessionID(),
		Manifest:    tonconnect.Manifest{URL: "https://other.example", Name: "Other"},
		ManifestURL: "https://other.example/m.json",
	}))

	require.Eventually(t, func() bool {
		return len(e.bridge.subscriptions()) == 2
	}, 3*time.Second, 10*time.Millisecond)

	ids := strings.Split(e.bridge.subscriptions()[1].Get("client_id"), ",")
	assert.ElementsMatch(t, []string{e.conn.SessionID(), wk.SessionID()}, ids)
}

func TestTransportReconnects(t *testing.T) {
	e := newEnv(t)
	e.bridge.dropStreams = 2

	require.NoError(t, e.tr.Start())
	require.Eventually(t, func() bool {
		return len(e.bridge.subscriptions()) == 3
	}, 3*time.Second, 10*time.Millisecond)

	e.bridge.events <- e.frame(t, "1", tonconnect.AppRequest{Method: tonconnect.MethodSendTransaction, Params: []string{"{}"}, ID: "1"})
	require.Eventually(t, func() bool {
		return len(e.disp.handled()) == 1
	}, 3*time.Second, 10*time.Millisecond)
}

func TestTransportIdleWithoutConnections(t *testing.T) {
	e := newEnv(t)
	require.NoError(t, e.disp.registry.RemoveAll(context.Background(), testScope))

	require.NoError(t, e.tr.Start())
	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, e.bridge.subscriptions())

	done := make(chan struct{})
	go func() {
		e.tr.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("close did not return")
	}
}

func TestTransportPair(t *testing.T) {
	e := newEnv(t)
	wk, err := session.GenerateKeypair()
	require.NoError(t, err)

	var gotLink *tonconnect.ConnectLink
	e.disp.connect = func(_ context.Context, link *tonconnect.ConnectLink) (*tonconnect.Connection, *tonconnect.WalletEvent, error) {
		gotLink = link
		return &tonconnect.Connection{Keypair: wk, ClientID: link.ClientID},
			&tonconnect.WalletEvent{Event: tonconnect.EventConnect, ID: 1, Payload: map[string]string{"ok": "yes"}}, nil
	}

	q := url.Values{}
	q.Set("v", "2")
	q.Set("id", e.dapp.SessionID())
	q.Set("r", `{"manifestUrl":"https://app.example/m.json","items":[{"name":"ton_addr"}]}`)

	conn, err := e.tr.Pair(context.Background(), "tc://?"+q.Encode())
	require.NoError(t, err)
	assert.Equal(t, e.dapp.SessionID(), conn.ClientID)
	assert.Equal(t, "https://app.example/m.json", gotLink.Request.ManifestURL)

	msgs := e.bridge.pushed()
	require.Len(t, msgs, 1)
	assert.Equal(t, wk.SessionID(), msgs[0].query.Get("client_id"))

	var ev tonconnect.WalletEvent
	e.open(t, msgs[0], &ev)
	assert.Equal(t, tonconnect.EventConnect, ev.Event)
}

func TestTransportPairErrors(t *testing.T) {
	e := newEnv(t)
	e.disp.connect = func(_ context.Context, _ *tonconnect.ConnectLink) (*tonconnect.Connection, *tonconnect.WalletEvent, error) {
		err := tonconnect.NewConnectError(tonconnect.CodeUserRejected, "user declined")
		return nil, tonconnect.ConnectErrorEvent(3, err), err
	}

	q := url.Values{}
	q.Set("v", "2")
	q.Set("id", e.dapp.SessionID())
	q.Set("r", `{"manifestUrl":"https://app.example/m.json","items":[{"name":"ton_addr"}]}`)

	_, err := e.tr.Pair(context.Background(), "tc://?"+q.Encode())
	require.Error(t, err)

	msgs := e.bridge.pushed()
	require.Len(t, msgs, 1)

	var ev struct {
		Event   string                         `json:"event"`
		Payload tonconnect.ConnectErrorPayload `json:"payload"`
	}
	e.open(t, msgs[0], &ev)
	assert.Equal(t, tonconnect.EventConnectError, ev.Event)
	assert.Equal(t, tonconnect.CodeUserRejected, ev.Payload.Code)

	q.Set("v", "3")
	_, err = e.tr.Pair(context.Background(), "tc://?"+q.Encode())
	require.ErrorIs(t, err, tonconnect.ErrUnsupportedVersion)
	assert.Len(t, e.bridge.pushed(), 1)
}

func TestTransportDisconnect(t *testing.T) {
	e := newEnv(t)
	require.NoError(t, e.tr.Disconnect(context.Background(), e.conn))

	msgs := e.bridge.pushed()
	require.Len(t, msgs, 1)

	var ev tonconnect.WalletEvent
	e.open(t, msgs[0], &ev)
	assert.Equal(t, tonconnect.EventDisconnect, ev.Event)

	list, err := e.disp.registry.List(context.Background(), testScope)
	require.NoError(t, err)
	assert.Empty(t, list)
}
