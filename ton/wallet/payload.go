package wallet

import (
	"context"
	"errors"
	"fmt"

	"github.com/xssnick/tonwallet/tlb"
	"github.com/xssnick/tonwallet/tvm/cell"
)

// AuthKind selects how a v5 request is authorized.
type AuthKind int

const (
	AuthExternal AuthKind = iota
	// AuthInternal is a signed request delivered by an internal message, used by relays.
	AuthInternal
)

var ErrInvalidSignature = errors.New("signature should be 64 bytes")

// Signer signs the payload cell hash.
type Signer func(ctx context.Context, payload *cell.Cell) ([]byte, error)

// Request is the unsigned content of one wallet call.
type Request struct {
	Seqno      uint32
	ValidUntil uint32
	Transfer   *Transfer
	Auth       AuthKind
}

// BuildPayload lays out the unsigned request body for the wallet revision.
func (i *Identity) BuildPayload(req Request) (*cell.Cell, error) {
	if req.Transfer == nil {
		return nil, ErrNoMessages
	}
	if err := req.Transfer.Validate(i.Version); err != nil {
		return nil, err
	}
	if req.Auth == AuthInternal && i.Version != V5R1 {
		return nil, fmt.Errorf("%w: internal signed request on %s", ErrUnsupportedForVersion, i.Version)
	}

	switch i.Version {
	case V3R1, V3R2:
		b := cell.BeginCell().
			MustStoreUInt(uint64(i.WalletID()), 32).
			MustStoreUInt(uint64(req.ValidUntil), 32).
			MustStoreUInt(uint64(req.Seqno), 32)
		if err := storeMessages(b, req.Transfer); err != nil {
			return nil, err
		}
		return b.EndCell(), nil
	case V4R2:
		b := cell.BeginCell().
			MustStoreUInt(uint64(i.WalletID()), 32).
			MustStoreUInt(uint64(req.ValidUntil), 32).
			MustStoreUInt(uint64(req.Seqno), 32)

		if req.Transfer.Plugin != nil {
			pb, err := req.Transfer.Plugin.pluginBody()
			if err != nil {
				return nil, fmt.Errorf("failed to build plugin action: %w", err)
			}
			if err = b.StoreBuilder(pb); err != nil {
				return nil, fmt.Errorf("failed to store plugin action: %w", err)
			}
			return b.EndCell(), nil
		}

		b.MustStoreUInt(OpV4Send, 8)
		if err := storeMessages(b, req.Transfer); err != nil {
			return nil, err
		}
		return b.EndCell(), nil
	case V5R1:
		return i.buildV5Payload(req)
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupportedWalletVersion, i.Version)
}

func storeMessages(b *cell.Builder, t *Transfer) error {
	for i, m := range t.Messages {
		mc, err := m.ToCell()
		if err != nil {
			return fmt.Errorf("failed to serialize message %d: %w", i, err)
		}
		if err = b.StoreUInt(uint64(t.Mode), 8); err != nil {
			return err
		}
		if err = b.StoreRef(mc); err != nil {
			return fmt.Errorf("failed to store message %d: %w", i, err)
		}
	}
	return nil
}

func (i *Identity) buildV5Payload(req Request) (*cell.Cell, error) {
	op := uint64(OpV5AuthSignedExternal)
	if req.Auth == AuthInternal {
		op = OpV5AuthSignedInternal
	}

	b := cell.BeginCell().
		MustStoreUInt(op, 32).
		MustStoreUInt(uint64(i.WalletID()), 32).
		MustStoreUInt(uint64(req.ValidUntil), 32).
		MustStoreUInt(uint64(req.Seqno), 32)

	if err := storeV5Actions(b, req.Transfer); err != nil {
		return nil, err
	}
	return b.EndCell(), nil
}

// storeV5Actions writes the inner request: maybe ^OutList, has_other_actions, extended actions inline.
func storeV5Actions(b *cell.Builder, t *Transfer) error {
	var outList *cell.Cell
	if len(t.Messages) > 0 {
		var err error
		if outList, err = packOutList(t.Messages, t.Mode); err != nil {
			return err
		}
	}
	if err := b.StoreMaybeRef(outList); err != nil {
		return err
	}

	if len(t.Extensions) == 0 {
		return b.StoreBoolBit(false)
	}

	ext, err := packExtendedActions(t.Extensions)
	if err != nil {
		return err
	}
	if err = b.StoreBoolBit(true); err != nil {
		return err
	}
	if err = b.StoreBuilder(ext.ToBuilder()); err != nil {
		return fmt.Errorf("failed to store extended actions: %w", err)
	}
	return nil
}

// AttachSignature places the signature where the revision expects it:
// before the payload for v3 and v4, after it for v5.
func (i *Identity) AttachSignature(payload *cell.Cell, sig []byte) (*cell.Cell, error) {
	if len(sig) != 64 {
		return nil, ErrInvalidSignature
	}

	switch i.Version {
	case V3R1, V3R2, V4R2:
		b := cell.BeginCell().MustStoreSlice(sig, 512)
		if err := b.StoreBuilder(payload.ToBuilder()); err != nil {
			return nil, fmt.Errorf("failed to store payload: %w", err)
		}
		return b.EndCell(), nil
	case V5R1:
		b := payload.ToBuilder()
		if err := b.StoreSlice(sig, 512); err != nil {
			return nil, fmt.Errorf("failed to store signature: %w", err)
		}
		return b.EndCell(), nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupportedWalletVersion, i.Version)
}

// SignedBody builds the payload, signs it and attaches the signature.
func (i *Identity) SignedBody(ctx context.Context, req Request, sign Signer) (*cell.Cell, error) {
	payload, err := i.BuildPayload(req)
	if err != nil {
		return nil, err
	}

	sig, err := sign(ctx, payload)
	if err != nil {
		return nil, fmt.Errorf("failed to sign: %w", err)
	}
	return i.AttachSignature(payload, sig)
}

// WrapExternal puts a signed body into an external message to the wallet,
// with the state init attached when the wallet is not deployed yet.
func (i *Identity) WrapExternal(body *cell.Cell, withStateInit bool) (*tlb.ExternalMessage, error) {
	addr, err := i.Address()
	if err != nil {
		return nil, err
	}

	ext := &tlb.ExternalMessage{
		DstAddr: addr,
		Body:    body,
	}

	if withStateInit {
		if ext.StateInit, err = i.StateInit(); err != nil {
			return nil, fmt.Errorf("failed to get state init: %w", err)
		}
	}
	return ext, nil
}

// ExtensionRequest is the body an installed extension sends to a v5 wallet to make it act.
func ExtensionRequest(queryID uint64, t *Transfer) (*cell.Cell, error) {
	if t == nil {
		return nil, ErrNoMessages
	}
	if err := t.Validate(V5R1); err != nil {
		return nil, err
	}

	b := cell.BeginCell().
		MustStoreUInt(OpV5AuthExtension, 32).
		MustStoreUInt(queryID, 64)
	if err := storeV5Actions(b, t); err != nil {
		return nil, err
	}
	return b.EndCell(), nil
}
