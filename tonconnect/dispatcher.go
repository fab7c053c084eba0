package tonconnect

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/xssnick/tonwallet/address"
	"github.com/xssnick/tonwallet/metrics"
	"github.com/xssnick/tonwallet/ton/sender"
	"github.com/xssnick/tonwallet/ton/signer"
	"github.com/xssnick/tonwallet/ton/wallet"
	"github.com/xssnick/tonwallet/tonconnect/session"
)

// ConnectIntent is what the user approves on pairing.
type ConnectIntent struct {
	Manifest *Manifest
	Items    []ConnectItem
	ClientID string
	Origin   string
}

// TransactionIntent is a dApp transaction with its fresh estimation.
type TransactionIntent struct {
	Connection *Connection
	Request    *SendTransactionRequest
	Transfer   *wallet.Transfer
	Estimation *sender.Estimation
}

type SignDataIntent struct {
	Connection *Connection
	Payload    *SignDataPayload
}

// Approver asks the user. It returns a signer for the operation, or an error
// wrapping signer.ErrCanceled when the user declines.
type Approver interface {
	ApproveConnect(ctx context.Context, req *ConnectIntent) (signer.Signer, error)
	ApproveTransaction(ctx context.Context, req *TransactionIntent) (signer.Signer, error)
	ApproveSignData(ctx context.Context, req *SignDataIntent) (signer.Signer, error)
}

type Config struct {
	Identity  *wallet.Identity
	Sender    sender.Sender
	Registry  *Registry
	Manifests *ManifestLoader
	Approver  Approver
	Device    DeviceInfo
}

type Option func(*Dispatcher)

func WithLogger(l *zap.Logger) Option {
	return func(d *Dispatcher) {
		d.logger = l
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(d *Dispatcher) {
		d.metrics = m
	}
}

func WithClock(c clock.Clock) Option {
	return func(d *Dispatcher) {
		d.clk = c
	}
}

// Dispatcher handles pairing and RPC requests of dApps for one wallet.
type Dispatcher struct {
	cfg     Config
	addr    *address.Address
	scope   Scope
	network string

	logger  *zap.Logger
	metrics *metrics.Metrics
	clk     clock.Clock

	eventMx     sync.Mutex
	lastEventID int64
}

func NewDispatcher(cfg Config, opts ...Option) (*Dispatcher, error) {
	if cfg.Identity == nil || cfg.Sender == nil || cfg.Registry == nil || cfg.Manifests == nil || cfg.Approver == nil {
		return nil, fmt.Errorf("identity, sender, registry, manifests and approver are required")
	}

	addr, err := cfg.Identity.Address()
	if err != nil {
		return nil, fmt.Errorf("failed to get wallet address: %w", err)
	}

	d := &Dispatcher{
		cfg:     cfg,
		addr:    addr,
		scope:   ScopeOf(addr, cfg.Identity.NetworkGlobalID),
		network: strconv.Itoa(int(cfg.Identity.NetworkGlobalID)),
		logger:  zap.NewNop(),
		clk:     clock.New(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

func (d *Dispatcher) Scope() Scope {
	return d.scope
}

func (d *Dispatcher) Registry() *Registry {
	return d.cfg.Registry
}

// nextEventID returns increasing ids for wallet events.
func (d *Dispatcher) nextEventID() int64 {
	d.eventMx.Lock()
	defer d.eventMx.Unlock()

	id := d.clk.Now().UnixMilli()
	if id <= d.lastEventID {
		id = d.lastEventID + 1
	}
	d.lastEventID = id
	return id
}

// Connect pairs a dApp from a bridge link. The returned event goes to the dApp
// in both cases, the connection is nil when pairing failed.
func (d *Dispatcher) Connect(ctx context.Context, link *ConnectLink) (*Connection, *WalletEvent, error) {
	if link.Version != ProtocolVersion {
		err := NewConnectError(CodeBadRequest, fmt.Sprintf("protocol version %d is not supported", link.Version))
		return nil, connectErrorEvent(d.nextEventID(), err), err
	}
	return d.connect(ctx, link.ClientID, "", &link.Request)
}

func (d *Dispatcher) connect(ctx context.Context, clientID, origin string, req *ConnectRequest) (conn *Connection, ev *WalletEvent, err error) {
	defer func() {
		d.metrics.ObserveRPC(EventConnect, outcome(err))
	}()

	fail := func(err error) (*Connection, *WalletEvent, error) {
		ce := replyError(err)
		if ce.Code != CodeUserRejected {
			d.logger.Debug("dApp connect failed",
				zap.String("client_id", clientID),
				zap.String("origin", origin),
				zap.Error(err),
			)
		}
		return nil, connectErrorEvent(d.nextEventID(), ce), ce
	}

	manifest, err := d.cfg.Manifests.Load(ctx, req.ManifestURL)
	if err != nil {
		return fail(err)
	}

	sg, err := d.cfg.Approver.ApproveConnect(ctx, &ConnectIntent{
		Manifest: manifest,
		Items:    req.Items,
		ClientID: clientID,
		Origin:   origin,
	})
	if err != nil {
		return fail(err)
	}

	items := []any{d.addressItem()}
	if payload, ok := req.ProofPayload(); ok {
		if err = dataSigner(sg); err != nil {
			return fail(err)
		}
		proof, err := SignProof(ctx, sg, d.addr, manifest.Domain(), d.clk.Now().Unix(), payload)
		if err != nil {
			if signer.IsCanceled(err) {
				return fail(err)
			}
			items = append(items, TonProofItem{Name: ItemTonProof, Error: &ErrorReply{Code: CodeUnknown, Message: err.Error()}})
		} else {
			items = append(items, TonProofItem{Name: ItemTonProof, Proof: proof})
		}
	}

	kp, err := session.GenerateKeypair()
	if err != nil {
		return fail(err)
	}

	conn = &Connection{
		Keypair:     kp,
		ClientID:    clientID,
		Manifest:    *manifest,
		ManifestURL: req.ManifestURL,
		Origin:      origin,
		CreatedAt:   d.clk.Now().Unix(),
	}
	if err = d.cfg.Registry.Add(ctx, d.scope, conn); err != nil {
		return fail(err)
	}

	ev, err = d.connectEvent(items)
	if err != nil {
		return fail(err)
	}

	d.logger.Info("dApp connected",
		zap.String("app", manifest.Name),
		zap.String("session_id", conn.SessionID()),
		zap.String("client_id", clientID),
	)
	return conn, ev, nil
}

func (d *Dispatcher) addressItem() TonAddressItem {
	item := TonAddressItem{
		Name:      ItemTonAddr,
		Address:   d.addr.StringRaw(),
		Network:   d.network,
		PublicKey: hex.EncodeToString(d.cfg.Identity.PublicKey),
	}
	if si, err := d.cfg.Identity.StateInit(); err == nil {
		if c, err := si.ToCell(); err == nil {
			item.WalletStateInit = base64.StdEncoding.EncodeToString(c.ToBOC())
		}
	}
	return item
}

func (d *Dispatcher) connectEvent(items []any) (*WalletEvent, error) {
	raw := make([]json.RawMessage, 0, len(items))
	for _, it := range items {
		b, err := json.Marshal(it)
		if err != nil {
			return nil, fmt.Errorf("failed to encode connect item: %w", err)
		}
		raw = append(raw, b)
	}
	return &WalletEvent{
		Event:   EventConnect,
		ID:      d.nextEventID(),
		Payload: ConnectPayload{Items: raw, Device: d.cfg.Device},
	}, nil
}

// Reconnect restores an in-page connection, refreshing its manifest when it changed.
func (d *Dispatcher) Reconnect(ctx context.Context, origin string) (*WalletEvent, error) {
	conn, err := d.cfg.Registry.FindByOrigin(ctx, d.scope, origin)
	if err != nil {
		if errors.Is(err, ErrConnectionNotFound) {
			ce := NewConnectError(CodeUnknownApp, "app is not connected")
			return connectErrorEvent(d.nextEventID(), ce), ce
		}
		ce := replyError(err)
		return connectErrorEvent(d.nextEventID(), ce), ce
	}

	if m, err := d.cfg.Manifests.Load(ctx, conn.ManifestURL); err == nil {
		if err = d.cfg.Registry.UpdateManifest(ctx, d.scope, conn.SessionID(), *m); err != nil {
			d.logger.Warn("failed to update manifest", zap.String("origin", origin), zap.Error(err))
		}
	} else {
		d.logger.Debug("manifest refresh failed", zap.String("origin", origin), zap.Error(err))
	}

	ev, err := d.connectEvent([]any{d.addressItem()})
	if err != nil {
		ce := replyError(err)
		return connectErrorEvent(d.nextEventID(), ce), ce
	}
	return ev, nil
}

// DisconnectEvent is sent to the dApp when the wallet drops the connection itself.
func (d *Dispatcher) DisconnectEvent() *WalletEvent {
	return &WalletEvent{
		Event:   EventDisconnect,
		ID:      d.nextEventID(),
		Payload: struct{}{},
	}
}

// HandleRequest answers an RPC request of a connected dApp. Every request gets a reply.
func (d *Dispatcher) HandleRequest(ctx context.Context, conn *Connection, req *AppRequest) *WalletResponse {
	var result any
	var err error

	method := req.Method
	switch method {
	case MethodSendTransaction:
		result, err = d.sendTransaction(ctx, conn, req)
	case MethodSignData:
		result, err = d.signData(ctx, conn, req)
	case MethodDisconnect:
		result, err = d.disconnect(ctx, conn)
	default:
		err = NewConnectError(CodeMethodNotSupported, fmt.Sprintf("method %q is not supported", req.Method))
		method = "unsupported"
	}
	d.metrics.ObserveRPC(method, outcome(err))

	if err != nil {
		ce := replyError(err)
		if ce.Code != CodeUserRejected {
			d.logger.Debug("dApp request failed",
				zap.String("method", req.Method),
				zap.String("id", req.ID),
				zap.String("session_id", conn.SessionID()),
				zap.Error(err),
			)
		}
		return errorResponse(req.ID, ce)
	}
	return &WalletResponse{ID: req.ID, Result: result}
}

func (d *Dispatcher) checkSource(network, from string) error {
	if network != "" && network != d.network {
		return NewConnectError(CodeBadRequest, fmt.Sprintf("wrong network %s", network))
	}
	if from != "" {
		addr, err := address.ParseAnyAddr(from)
		if err != nil {
			return &ConnectError{Code: CodeBadRequest, Message: "invalid from address", Err: err}
		}
		if !addr.Equals(d.addr) {
			return NewConnectError(CodeBadRequest, "request is for another wallet")
		}
	}
	return nil
}

func (d *Dispatcher) sendTransaction(ctx context.Context, conn *Connection, req *AppRequest) (any, error) {
	if len(req.Params) == 0 {
		return nil, NewConnectError(CodeBadRequest, "params are empty")
	}

	tx, err := ParseSendTransaction(req.Params[0])
	if err != nil {
		return nil, err
	}
	if err = d.checkSource(tx.Network, tx.From); err != nil {
		return nil, err
	}
	if tx.Expired(d.clk.Now()) {
		return nil, NewConnectError(CodeBadRequest, "request is expired")
	}

	t, err := tx.Transfer()
	if err != nil {
		return nil, err
	}
	if err = t.Validate(d.cfg.Identity.Version); err != nil {
		return nil, &ConnectError{Code: CodeBadRequest, Message: err.Error(), Err: err}
	}

	est, err := d.cfg.Sender.Estimate(ctx, t)
	if err != nil {
		return nil, fmt.Errorf("failed to estimate: %w", err)
	}

	sg, err := d.cfg.Approver.ApproveTransaction(ctx, &TransactionIntent{
		Connection: conn,
		Request:    tx,
		Transfer:   t,
		Estimation: est,
	})
	if err != nil {
		return nil, err
	}

	if tx.Expired(d.clk.Now()) {
		return nil, NewConnectError(CodeBadRequest, "request expired while waiting for approval")
	}

	res, err := d.cfg.Sender.Send(ctx, t, est, sg)
	if err != nil {
		return nil, err
	}
	return base64.StdEncoding.EncodeToString(res.BOC), nil
}

func (d *Dispatcher) signData(ctx context.Context, conn *Connection, req *AppRequest) (any, error) {
	if len(req.Params) == 0 {
		return nil, NewConnectError(CodeBadRequest, "params are empty")
	}

	p, err := ParseSignDataPayload(req.Params[0])
	if err != nil {
		return nil, err
	}
	if err = d.checkSource(p.Network, p.From); err != nil {
		return nil, err
	}

	sg, err := d.cfg.Approver.ApproveSignData(ctx, &SignDataIntent{Connection: conn, Payload: p})
	if err != nil {
		return nil, err
	}
	if err = dataSigner(sg); err != nil {
		return nil, err
	}

	return SignData(ctx, sg, p, d.addr, conn.Manifest.Domain(), d.clk.Now().Unix())
}

func (d *Dispatcher) disconnect(ctx context.Context, conn *Connection) (any, error) {
	if err := d.cfg.Registry.Remove(ctx, d.scope, conn.SessionID()); err != nil && !errors.Is(err, ErrConnectionNotFound) {
		return nil, err
	}
	d.logger.Info("dApp disconnected", zap.String("session_id", conn.SessionID()))
	return struct{}{}, nil
}

// dataSigner checks that an approval returned a signer able to sign arbitrary data.
func dataSigner(sg signer.Signer) error {
	if sg == nil {
		return NewConnectError(CodeUserRejected, "request was approved without a signer")
	}
	if sg.Kind() == signer.KindEmulation {
		return NewConnectError(CodeBadRequest, "emulation signer cannot sign data")
	}
	return nil
}

// replyError maps an error to the reply sent to the dApp.
func replyError(err error) *ConnectError {
	if signer.IsCanceled(err) {
		return &ConnectError{Code: CodeUserRejected, Message: "user rejected the request", Err: err}
	}
	return asConnectError(err)
}

func outcome(err error) string {
	switch {
	case err == nil:
		return metrics.OutcomeOK
	case signer.IsCanceled(err):
		return metrics.OutcomeCanceled
	}
	var ce *ConnectError
	if errors.As(err, &ce) && ce.Code != CodeUnknown {
		return metrics.OutcomeRejected
	}
	return metrics.OutcomeError
}
