package tonconnect

import (
	"context"
	"errors"
	"fmt"
)

// InPage is the synchronous bridge of a dApp opened in the wallet webview.
// Messages are not encrypted, the webview origin identifies the dApp.
type InPage struct {
	d      *Dispatcher
	origin string
}

func (d *Dispatcher) InPage(origin string) *InPage {
	return &InPage{d: d, origin: origin}
}

// Connect pairs the page, the version is checked before anything else happens.
func (p *InPage) Connect(ctx context.Context, version int, req ConnectRequest) *WalletEvent {
	if version != ProtocolVersion {
		return connectErrorEvent(p.d.nextEventID(),
			NewConnectError(CodeBadRequest, fmt.Sprintf("protocol version %d is not supported", version)))
	}
	_, ev, _ := p.d.connect(ctx, "", p.origin, &req)
	return ev
}

// Restore is called on page load to pick up an existing connection.
func (p *InPage) Restore(ctx context.Context) *WalletEvent {
	ev, _ := p.d.Reconnect(ctx, p.origin)
	return ev
}

// Send handles an RPC request of the page.
func (p *InPage) Send(ctx context.Context, req *AppRequest) *WalletResponse {
	conn, err := p.d.cfg.Registry.FindByOrigin(ctx, p.d.scope, p.origin)
	if err != nil {
		if errors.Is(err, ErrConnectionNotFound) {
			return errorResponse(req.ID, NewConnectError(CodeUnknownApp, "app is not connected"))
		}
		return errorResponse(req.ID, replyError(err))
	}
	return p.d.HandleRequest(ctx, conn, req)
}

// Disconnect drops the page connection on the wallet side.
func (p *InPage) Disconnect(ctx context.Context) error {
	conn, err := p.d.cfg.Registry.FindByOrigin(ctx, p.d.scope, p.origin)
	if err != nil {
		return err
	}
	return p.d.cfg.Registry.Remove(ctx, p.d.scope, conn.SessionID())
}
