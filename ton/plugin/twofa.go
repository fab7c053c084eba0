package plugin

import (
	"crypto/ed25519"
	"fmt"

	"github.com/xssnick/tonwallet/address"
	"github.com/xssnick/tonwallet/tlb"
	"github.com/xssnick/tonwallet/ton/wallet"
	"github.com/xssnick/tonwallet/tvm/cell"
)

const (
	OpTwoFAInstall     = 0x43563174
	OpTwoFASendActions = 0xb15f2c8c
)

// TwoFA is the data of the two factor extension. Requests are signed by the user
// key and confirmed by the server key, the user can recover alone after RecoveryDelay.
type TwoFA struct {
	Seqno         uint32
	Wallet        *address.Address
	ServerKey     ed25519.PublicKey
	UserKey       ed25519.PublicKey
	RecoveryDelay uint32
	Salt          uint32
}

func (t *TwoFA) ToCell() (*cell.Cell, error) {
	if t.Wallet == nil {
		return nil, fmt.Errorf("wallet is required")
	}
	if len(t.ServerKey) != ed25519.PublicKeySize || len(t.UserKey) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("server and user keys should be %d bytes", ed25519.PublicKeySize)
	}

	b := cell.BeginCell().MustStoreUInt(uint64(t.Seqno), 32)
	if err := b.StoreAddr(t.Wallet); err != nil {
		return nil, fmt.Errorf("failed to store wallet: %w", err)
	}
	return b.MustStoreSlice(t.ServerKey, 256).
		MustStoreSlice(t.UserKey, 256).
		MustStoreUInt(uint64(t.RecoveryDelay), 32).
		MustStoreUInt(uint64(t.Salt), 32).
		EndCell(), nil
}

func (t *TwoFA) LoadFromCell(loader *cell.Slice) error {
	seqno, err := loader.LoadUInt(32)
	if err != nil {
		return fmt.Errorf("failed to load seqno: %w", err)
	}
	t.Seqno = uint32(seqno)

	if t.Wallet, err = loader.LoadAddr(); err != nil {
		return fmt.Errorf("failed to load wallet: %w", err)
	}
	if t.ServerKey, err = loader.LoadSlice(256); err != nil {
		return fmt.Errorf("failed to load server key: %w", err)
	}
	if t.UserKey, err = loader.LoadSlice(256); err != nil {
		return fmt.Errorf("failed to load user key: %w", err)
	}

	delay, err := loader.LoadUInt(32)
	if err != nil {
		return fmt.Errorf("failed to load recovery delay: %w", err)
	}
	t.RecoveryDelay = uint32(delay)

	salt, err := loader.LoadUInt(32)
	if err != nil {
		return fmt.Errorf("failed to load salt: %w", err)
	}
	t.Salt = uint32(salt)
	return nil
}

func (t *TwoFA) StateInit(code *cell.Cell) (*tlb.StateInit, error) {
	if code == nil {
		return nil, ErrNoCode
	}
	data, err := t.ToCell()
	if err != nil {
		return nil, err
	}
	return &tlb.StateInit{Code: code, Data: data}, nil
}

type InstallTwoFAParams struct {
	Code          *cell.Cell
	ServerKey     ed25519.PublicKey
	RecoveryDelay uint32
	// Amount is sent to the plugin with deployment.
	Amount  tlb.Coins
	QueryID uint64
	// DisableSignature turns off direct signing by the wallet key, so every send needs a confirmation.
	DisableSignature bool
	PrefixBits       uint
}

// InstallTwoFA deploys the extension at a same shard address and registers it in the v5 wallet.
// The user key is the wallet key.
func InstallTwoFA(w *wallet.Identity, p InstallTwoFAParams) (*wallet.Transfer, *address.Address, error) {
	if w.Version != wallet.V5R1 {
		return nil, nil, fmt.Errorf("%w: 2fa needs %s, got %s", wallet.ErrUnsupportedForVersion, wallet.V5R1, w.Version)
	}

	walletAddr, err := w.Address()
	if err != nil {
		return nil, nil, err
	}

	cfg := TwoFA{
		Wallet:        walletAddr,
		ServerKey:     p.ServerKey,
		UserKey:       w.PublicKey,
		RecoveryDelay: p.RecoveryDelay,
	}

	salt, pluginAddr, err := FindSameShardSalt(walletAddr, func(salt uint32) (*tlb.StateInit, error) {
		c := cfg
		c.Salt = salt
		return c.StateInit(p.Code)
	}, p.PrefixBits)
	if err != nil {
		return nil, nil, err
	}

	cfg.Salt = salt
	si, err := cfg.StateInit(p.Code)
	if err != nil {
		return nil, nil, err
	}

	deploy, err := wallet.NewMessage(pluginAddr, p.Amount,
		wallet.WithStateInit(si),
		wallet.WithBounce(false),
		wallet.WithBody(cell.BeginCell().
			MustStoreUInt(OpTwoFAInstall, 32).
			MustStoreUInt(p.QueryID, 64).
			EndCell()),
	)
	if err != nil {
		return nil, nil, err
	}

	t := wallet.NewTransfer(wallet.PayGasSeparately|wallet.IgnoreErrors, deploy)
	t.Extensions = []wallet.ExtensionAction{wallet.AddExtension{Address: pluginAddr}}
	if p.DisableSignature {
		t.Extensions = append(t.Extensions, wallet.SetSignatureAuth{Allowed: false})
	}
	return t, pluginAddr, nil
}

// TwoFARequest builds the data the user signs: the plugin checks seqno and expiry
// and forwards the inner extension request to the wallet.
func TwoFARequest(seqno, validUntil uint32, queryID uint64, t *wallet.Transfer) (*cell.Cell, error) {
	inner, err := wallet.ExtensionRequest(queryID, t)
	if err != nil {
		return nil, fmt.Errorf("failed to build extension request: %w", err)
	}

	return cell.BeginCell().
		MustStoreUInt(OpTwoFASendActions, 32).
		MustStoreUInt(uint64(seqno), 32).
		MustStoreUInt(uint64(validUntil), 32).
		MustStoreRef(inner).
		EndCell(), nil
}

// RemoveTwoFA is the transfer a plugin request carries to detach the plugin. Signature auth
// is turned back on first, the wallet refuses to drop its last extension while it is off.
func RemoveTwoFA(pluginAddr *address.Address, signatureDisabled bool) (*wallet.Transfer, error) {
	if pluginAddr == nil {
		return nil, fmt.Errorf("plugin address is required")
	}

	t := &wallet.Transfer{Mode: wallet.PayGasSeparately | wallet.IgnoreErrors}
	if signatureDisabled {
		t.Extensions = append(t.Extensions, wallet.SetSignatureAuth{Allowed: true})
	}
	t.Extensions = append(t.Extensions, wallet.RemoveExtension{Address: pluginAddr})
	return t, nil
}
