package wallet

import (
	"fmt"

	"github.com/xssnick/tonwallet/address"
	"github.com/xssnick/tonwallet/tlb"
	"github.com/xssnick/tonwallet/tvm/cell"
)

// v4 wallet ops
const (
	OpV4Send          = 0
	OpV4DeployInstall = 1
	OpV4Install       = 2
	OpV4Remove        = 3
)

// v5 extended action prefixes
const (
	OpV5AddExtension       = 0x02
	OpV5RemoveExtension    = 0x03
	OpV5SetSignatureAuth   = 0x04
	OpV5ActionSendMsg      = 0x0ec3c86d
	OpV5AuthSignedExternal = 0x7369676e
	OpV5AuthSignedInternal = 0x73696e74
	OpV5AuthExtension      = 0x6578746e
)

// PluginAction is a v4 wallet op other than plain sending.
type PluginAction interface {
	pluginBody() (*cell.Builder, error)
}

// PluginDeployAndInstall deploys a plugin from the wallet and installs it in one step.
type PluginDeployAndInstall struct {
	Workchain int8
	Balance   tlb.Coins
	StateInit *tlb.StateInit
	Body      *cell.Cell
}

// PluginInstall registers an already deployed plugin.
type PluginInstall struct {
	Plugin  *address.Address
	Amount  tlb.Coins
	QueryID uint64
}

// PluginRemove unregisters a plugin, the wallet then sends it a destruct request.
type PluginRemove struct {
	Plugin  *address.Address
	Amount  tlb.Coins
	QueryID uint64
}

func (p PluginDeployAndInstall) pluginBody() (*cell.Builder, error) {
	if p.StateInit == nil {
		return nil, fmt.Errorf("plugin state init is required")
	}

	si, err := p.StateInit.ToCell()
	if err != nil {
		return nil, fmt.Errorf("failed to serialize plugin state init: %w", err)
	}

	body := p.Body
	if body == nil {
		body = cell.BeginCell().EndCell()
	}

	b := cell.BeginCell().MustStoreUInt(OpV4DeployInstall, 8)
	if err = b.StoreInt(int64(p.Workchain), 8); err != nil {
		return nil, err
	}
	if err = b.StoreBigCoins(p.Balance.Nano()); err != nil {
		return nil, err
	}
	return b.MustStoreRef(si).MustStoreRef(body), nil
}

func (p PluginInstall) pluginBody() (*cell.Builder, error) {
	return pluginRefBody(OpV4Install, p.Plugin, p.Amount, p.QueryID)
}

func (p PluginRemove) pluginBody() (*cell.Builder, error) {
	return pluginRefBody(OpV4Remove, p.Plugin, p.Amount, p.QueryID)
}

func pluginRefBody(op uint64, plugin *address.Address, amount tlb.Coins, queryID uint64) (*cell.Builder, error) {
	if plugin == nil || plugin.Type() != address.StdAddress {
		return nil, fmt.Errorf("plugin address should be a standard address")
	}

	b := cell.BeginCell().
		MustStoreUInt(op, 8).
		MustStoreInt(int64(plugin.Workchain()), 8).
		MustStoreSlice(plugin.Data(), 256)
	if err := b.StoreBigCoins(amount.Nano()); err != nil {
		return nil, err
	}
	return b.MustStoreUInt(queryID, 64), nil
}

// ExtensionAction is a v5 extended action.
type ExtensionAction interface {
	storeAction(b *cell.Builder) error
}

type AddExtension struct {
	Address *address.Address
}

type RemoveExtension struct {
	Address *address.Address
}

// SetSignatureAuth toggles whether the wallet accepts requests signed by its key.
type SetSignatureAuth struct {
	Allowed bool
}

func (a AddExtension) storeAction(b *cell.Builder) error {
	if err := b.StoreUInt(OpV5AddExtension, 8); err != nil {
		return err
	}
	return b.StoreAddr(a.Address)
}

func (a RemoveExtension) storeAction(b *cell.Builder) error {
	if err := b.StoreUInt(OpV5RemoveExtension, 8); err != nil {
		return err
	}
	return b.StoreAddr(a.Address)
}

func (a SetSignatureAuth) storeAction(b *cell.Builder) error {
	if err := b.StoreUInt(OpV5SetSignatureAuth, 8); err != nil {
		return err
	}
	return b.StoreBoolBit(a.Allowed)
}

// packExtendedActions returns the first action with the rest chained through refs.
func packExtendedActions(actions []ExtensionAction) (*cell.Cell, error) {
	var next *cell.Cell
	for i := len(actions) - 1; i >= 0; i-- {
		b := cell.BeginCell()
		if err := actions[i].storeAction(b); err != nil {
			return nil, fmt.Errorf("failed to store extended action %d: %w", i, err)
		}
		if next != nil {
			if err := b.StoreRef(next); err != nil {
				return nil, err
			}
		}
		next = b.EndCell()
	}
	return next, nil
}

// packOutList builds the v5 OutList: each node refers to the previous one, the first to an empty cell.
func packOutList(messages []*OutgoingMessage, mode uint8) (*cell.Cell, error) {
	list := cell.BeginCell().EndCell()
	for i, m := range messages {
		mc, err := m.ToCell()
		if err != nil {
			return nil, fmt.Errorf("failed to serialize message %d: %w", i, err)
		}

		list = cell.BeginCell().
			MustStoreRef(list).
			MustStoreUInt(OpV5ActionSendMsg, 32).
			MustStoreUInt(uint64(mode), 8).
			MustStoreRef(mc).
			EndCell()
	}
	return list, nil
}
