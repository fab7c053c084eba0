// Package bridge connects the wallet to dApps over an HTTP bridge:
// messages are pushed with POST and received from a server-sent event stream.
package bridge

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/cenkalti/backoff/v4"
	"github.com/go-resty/resty/v2"
	"github.com/r3labs/sse"
	"go.uber.org/zap"
	ssebackoff "gopkg.in/cenkalti/backoff.v1"

	"github.com/xssnick/tonwallet/metrics"
	"github.com/xssnick/tonwallet/storage"
	"github.com/xssnick/tonwallet/tonconnect"
	"github.com/xssnick/tonwallet/tonconnect/session"
)

const (
	DefaultTTL         = 5 * time.Minute
	DefaultPushTimeout = 15 * time.Second
)

var (
	ErrAlreadyStarted = errors.New("bridge is already started")
	ErrPush           = errors.New("bridge rejected message")
)

// Dispatcher is the protocol side the transport feeds, tonconnect.Dispatcher implements it.
type Dispatcher interface {
	Scope() tonconnect.Scope
	Registry() *tonconnect.Registry
	Connect(ctx context.Context, link *tonconnect.ConnectLink) (*tonconnect.Connection, *tonconnect.WalletEvent, error)
	HandleRequest(ctx context.Context, conn *tonconnect.Connection, req *tonconnect.AppRequest) *tonconnect.WalletResponse
	DisconnectEvent() *tonconnect.WalletEvent
}

type Option func(*Transport)

func WithTTL(d time.Duration) Option {
	return func(t *Transport) {
		t.ttl = d
	}
}

// WithHTTPClient sets the client of the event stream, it should have no timeout.
func WithHTTPClient(c *http.Client) Option {
	return func(t *Transport) {
		t.streamClient = c
	}
}

// WithBackOff sets the reconnect policy of the event stream.
func WithBackOff(fn func() backoff.BackOff) Option {
	return func(t *Transport) {
		t.newBackOff = fn
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(t *Transport) {
		t.logger = l
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(t *Transport) {
		t.metrics = m
	}
}

func WithClock(c clock.Clock) Option {
	return func(t *Transport) {
		t.clk = c
	}
}

func defaultBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Second
	b.MaxInterval = 30 * time.Second
	b.MaxElapsedTime = 0
	return b
}

// Transport is the HTTP bridge of one wallet. It keeps a single listen loop
// subscribed to the sessions of all bridge connections of the wallet.
type Transport struct {
	baseURL      string
	http         *resty.Client
	streamClient *http.Client
	d            Dispatcher
	store        storage.Store
	ttl          time.Duration
	newBackOff   func() backoff.BackOff

	logger  *zap.Logger
	metrics *metrics.Metrics
	clk     clock.Clock

	mx     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func New(baseURL string, d Dispatcher, store storage.Store, opts ...Option) *Transport {
	baseURL = strings.TrimRight(baseURL, "/")
	t := &Transport{
		baseURL:      baseURL,
		http:         resty.New().SetBaseURL(baseURL).SetTimeout(DefaultPushTimeout),
		streamClient: &http.Client{},
		d:            d,
		store:        store,
		ttl:          DefaultTTL,
		newBackOff:   defaultBackOff,
		logger:       zap.NewNop(),
		clk:          clock.New(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *Transport) cursorKey() string {
	s := t.d.Scope()
	return fmt.Sprintf("tonconnect:cursor:%d:%s", s.Network, s.Wallet)
}

// Cursor is the id of the last processed event, empty when nothing was processed yet.
func (t *Transport) Cursor(ctx context.Context) (string, error) {
	v, err := t.store.Get(ctx, t.cursorKey())
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return "", nil
		}
		return "", fmt.Errorf("failed to read cursor: %w", err)
	}
	return string(v), nil
}

func (t *Transport) saveCursor(ctx context.Context, id string) error {
	if err := t.store.Put(ctx, t.cursorKey(), []byte(id)); err != nil {
		return fmt.Errorf("failed to save cursor: %w", err)
	}
	return nil
}

// Start runs the listen loop until Close.
func (t *Transport) Start() error {
	t.mx.Lock()
	defer t.mx.Unlock()

	if t.done != nil {
		return ErrAlreadyStarted
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.cancel = cancel
	t.done = make(chan struct{})
	go t.listen(ctx, t.done)
	return nil
}

// Close stops the listen loop and waits for it to exit. An event that is being
// dispatched gets a canceled context.
func (t *Transport) Close() {
	t.mx.Lock()
	cancel, done := t.cancel, t.done
	t.cancel, t.done = nil, nil
	t.mx.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Pair connects a dApp from its link and sends it the result. Only an unsupported
// protocol version is not reported to the dApp, no session key exists for it yet.
func (t *Transport) Pair(ctx context.Context, rawLink string) (*tonconnect.Connection, error) {
	link, err := tonconnect.ParseConnectLink(rawLink)
	if err != nil {
		return nil, err
	}

	conn, ev, err := t.d.Connect(ctx, link)
	if err != nil {
		kp, kerr := session.GenerateKeypair()
		if kerr != nil {
			return nil, errors.Join(err, kerr)
		}
		if perr := t.push(ctx, kp, link.ClientID, ev); perr != nil {
			t.logger.Warn("failed to send connect error", zap.String("client_id", link.ClientID), zap.Error(perr))
		}
		return nil, err
	}

	if err = t.push(ctx, conn.Keypair, conn.ClientID, ev); err != nil {
		return conn, fmt.Errorf("failed to send connect event: %w", err)
	}
	return conn, nil
}

// Disconnect tells the dApp the wallet dropped it and forgets the connection.
func (t *Transport) Disconnect(ctx context.Context, conn *tonconnect.Connection) error {
	if !conn.IsInPage() {
		if err := t.push(ctx, conn.Keypair, conn.ClientID, t.d.DisconnectEvent()); err != nil {
			t.logger.Warn("failed to send disconnect event", zap.String("session_id", conn.SessionID()), zap.Error(err))
		}
	}
	return t.d.Registry().Remove(ctx, t.d.Scope(), conn.SessionID())
}

// push encrypts the payload for the peer and posts it to the bridge.
func (t *Transport) push(ctx context.Context, kp *session.Keypair, to string, payload any) error {
	peer, err := session.ParseSessionID(to)
	if err != nil {
		return err
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}

	enc, err := kp.Encrypt(data, peer)
	if err != nil {
		return err
	}

	resp, err := t.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"client_id": kp.SessionID(),
			"to":        to,
			"ttl":       strconv.Itoa(int(t.ttl / time.Second)),
		}).
		SetHeader("Content-Type", "text/plain").
		SetBody(base64.StdEncoding.EncodeToString(enc)).
		Post("/bridge/message")
	if err != nil {
		return fmt.Errorf("failed to push message: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("%w: status %d", ErrPush, resp.StatusCode())
	}
	return nil
}

func bridgeConnections(list []*tonconnect.Connection) []*tonconnect.Connection {
	res := make([]*tonconnect.Connection, 0, len(list))
	for _, c := range list {
		if !c.IsInPage() {
			res = append(res, c)
		}
	}
	return res
}

// listen re-reads the connections before every subscribe, so it never streams for a stale set.
func (t *Transport) listen(ctx context.Context, done chan struct{}) {
	defer close(done)

	changes, unsubscribe := t.d.Registry().Subscribe()
	defer unsubscribe()

	scope := t.d.Scope()
	bo := t.newBackOff()

	for {
		conns, err := t.d.Registry().List(ctx, scope)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			t.logger.Warn("failed to load connections", zap.Error(err))
			if !t.wait(ctx, bo.NextBackOff()) {
				return
			}
			continue
		}

		conns = bridgeConnections(conns)
		if len(conns) == 0 {
			if !t.waitChange(ctx, changes, scope) {
				return
			}
			continue
		}

		subCtx, cancel := context.WithCancel(ctx)
		errCh := make(chan error, 1)
		go func() {
			errCh <- t.subscribe(subCtx, ctx, conns, bo)
		}()

		resubscribe, streamErr := t.watch(ctx, changes, scope, errCh)
		cancel()
		if resubscribe {
			<-errCh
			if ctx.Err() != nil {
				return
			}
			continue
		}

		if ctx.Err() != nil {
			return
		}

		t.metrics.ObserveReconnect()
		next := bo.NextBackOff()
		t.logger.Debug("bridge stream closed, reconnecting", zap.Duration("in", next), zap.Error(streamErr))
		if next == backoff.Stop || !t.wait(ctx, next) {
			return
		}
	}
}

// watch waits for the stream to end or for the connection set to change.
func (t *Transport) watch(ctx context.Context, changes <-chan tonconnect.Scope, scope tonconnect.Scope, errCh <-chan error) (bool, error) {
	for {
		select {
		case <-ctx.Done():
			return true, ctx.Err()
		case s := <-changes:
			if s == scope {
				return true, nil
			}
		case err := <-errCh:
			return false, err
		}
	}
}

func (t *Transport) waitChange(ctx context.Context, changes <-chan tonconnect.Scope, scope tonconnect.Scope) bool {
	for {
		select {
		case <-ctx.Done():
			return false
		case s := <-changes:
			if s == scope {
				return true
			}
		}
	}
}

func (t *Transport) wait(ctx context.Context, d time.Duration) bool {
	timer := t.clk.Timer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func (t *Transport) streamURL(ctx context.Context, conns []*tonconnect.Connection) (string, error) {
	ids := make([]string, 0, len(conns))
	for _, c := range conns {
		ids = append(ids, c.SessionID())
	}

	q := url.Values{}
	q.Set("client_id", strings.Join(ids, ","))

	cursor, err := t.Cursor(ctx)
	if err != nil {
		return "", err
	}
	if cursor != "" {
		q.Set("last_event_id", cursor)
	}
	return t.baseURL + "/bridge/events?" + q.Encode(), nil
}

// subscribe streams events until the stream breaks or subCtx ends.
// Events are dispatched with the transport context so a resubscribe does not abort them.
func (t *Transport) subscribe(subCtx, ctx context.Context, conns []*tonconnect.Connection, bo backoff.BackOff) error {
	u, err := t.streamURL(subCtx, conns)
	if err != nil {
		return err
	}

	client := sse.NewClient(u)
	client.Connection = t.streamClient
	// reconnects are ours, the stream url has to be rebuilt with the new cursor
	client.ReconnectStrategy = &ssebackoff.StopBackOff{}

	byPeer := make(map[string]*tonconnect.Connection, len(conns))
	for _, c := range conns {
		byPeer[c.ClientID] = c
	}

	t.logger.Debug("subscribing to bridge", zap.Int("sessions", len(conns)))
	err = client.SubscribeRawWithContext(subCtx, func(ev *sse.Event) {
		bo.Reset()
		t.handleEvent(ctx, byPeer, ev)
	})
	if err == nil {
		err = errors.New("stream closed by bridge")
	}
	return err
}

type bridgeMessage struct {
	From    string `json:"from"`
	Message string `json:"message"`
}

// handleEvent decrypts and dispatches one event, the cursor moves only after the event was handled.
func (t *Transport) handleEvent(ctx context.Context, byPeer map[string]*tonconnect.Connection, ev *sse.Event) {
	if len(ev.Data) == 0 || string(ev.Event) == "heartbeat" {
		return
	}

	var msg bridgeMessage
	if err := json.Unmarshal(ev.Data, &msg); err != nil {
		t.metrics.ObserveBridgeEvent("invalid")
		t.logger.Debug("skipping non message event", zap.ByteString("event_id", ev.ID))
		return
	}

	conn, ok := byPeer[msg.From]
	if !ok {
		t.metrics.ObserveBridgeEvent("unknown_peer")
		t.logger.Debug("message from unknown peer", zap.String("from", msg.From))
		return
	}

	req, err := t.decrypt(conn, msg.Message)
	if err != nil {
		t.metrics.ObserveBridgeEvent("decrypt_error")
		t.logger.Warn("failed to decrypt bridge message",
			zap.String("session_id", conn.SessionID()),
			zap.String("from", msg.From),
			zap.Int("size", len(msg.Message)),
			zap.Error(err),
		)
		return
	}

	var resp *tonconnect.WalletResponse
	if req == nil {
		resp = &tonconnect.WalletResponse{Error: tonconnect.NewConnectError(tonconnect.CodeBadRequest, "invalid request").Reply()}
	} else {
		resp = t.d.HandleRequest(ctx, conn, req)
	}

	// interrupted by Close, the bridge redelivers the event after the stored cursor
	if ctx.Err() != nil {
		t.logger.Info("request interrupted by shutdown, leaving it for the next start",
			zap.String("session_id", conn.SessionID()),
			zap.ByteString("event_id", ev.ID),
		)
		return
	}

	if err = t.push(ctx, conn.Keypair, conn.ClientID, resp); err != nil {
		t.metrics.ObserveBridgeEvent(metrics.OutcomeError)
		t.logger.Warn("failed to send reply",
			zap.String("session_id", conn.SessionID()),
			zap.String("id", resp.ID),
			zap.Error(err),
		)
	} else {
		t.metrics.ObserveBridgeEvent(metrics.OutcomeOK)
	}

	// the request was handled even when the reply was lost, it must not run again
	if len(ev.ID) > 0 {
		if err = t.saveCursor(context.WithoutCancel(ctx), string(ev.ID)); err != nil {
			t.logger.Error("failed to persist bridge cursor", zap.Error(err))
		}
	}
}

// decrypt opens the message, a nil request means it decrypted but is not a request.
func (t *Transport) decrypt(conn *tonconnect.Connection, message string) (*tonconnect.AppRequest, error) {
	data, err := base64.StdEncoding.DecodeString(message)
	if err != nil {
		return nil, fmt.Errorf("%w: message is not base64", session.ErrDecrypt)
	}

	peer, err := session.ParseSessionID(conn.ClientID)
	if err != nil {
		return nil, err
	}

	plain, err := conn.Keypair.Decrypt(data, peer)
	if err != nil {
		return nil, err
	}

	var req tonconnect.AppRequest
	if err = json.Unmarshal(plain, &req); err != nil || req.Method == "" {
		return nil, nil
	}
	return &req, nil
}
