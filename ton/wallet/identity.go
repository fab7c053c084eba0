package wallet

import (
	"crypto/ed25519"
	"fmt"

	"github.com/xssnick/tonwallet/address"
	"github.com/xssnick/tonwallet/tlb"
	"github.com/xssnick/tonwallet/tvm/cell"
)

// Identity is everything needed to derive a wallet address and to lay out its messages.
type Identity struct {
	PublicKey       ed25519.PublicKey
	Version         Version
	Subwallet       uint32
	NetworkGlobalID int32
	Workchain       int8
}

type IdentityOption func(*Identity)

func WithSubwallet(id uint32) IdentityOption {
	return func(i *Identity) {
		i.Subwallet = id
	}
}

func WithNetwork(globalID int32) IdentityOption {
	return func(i *Identity) {
		i.NetworkGlobalID = globalID
	}
}

func WithWorkchain(wc int8) IdentityOption {
	return func(i *Identity) {
		i.Workchain = wc
	}
}

// NewIdentity uses the default subwallet of the revision on mainnet workchain 0 unless overridden.
func NewIdentity(key ed25519.PublicKey, ver Version, opts ...IdentityOption) (*Identity, error) {
	if !ver.IsSupported() {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedWalletVersion, ver)
	}
	if len(key) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("invalid public key size %d", len(key))
	}

	id := &Identity{
		PublicKey:       key,
		Version:         ver,
		Subwallet:       DefaultSubwallet,
		NetworkGlobalID: MainnetGlobalID,
	}
	if ver == V5R1 {
		id.Subwallet = 0
	}

	for _, opt := range opts {
		opt(id)
	}

	if ver == V5R1 && id.Subwallet >= 1<<15 {
		return nil, fmt.Errorf("v5 subwallet number should fit 15 bits")
	}
	return id, nil
}

// WalletID is the 32-bit id stored in the contract data and in every signed request.
// For V5R1 it packs the client context and is xored with the network id.
func (i *Identity) WalletID() uint32 {
	if i.Version != V5R1 {
		return i.Subwallet
	}

	// client context: 1 bit flag, workchain 8, version 8, subwallet 15
	ctx := uint32(1)<<31 | uint32(uint8(i.Workchain))<<23 | i.Subwallet&0x7FFF
	return ctx ^ uint32(i.NetworkGlobalID)
}

func (i *Identity) data() (*cell.Cell, error) {
	switch i.Version {
	case V3R1, V3R2:
		return cell.BeginCell().
			MustStoreUInt(0, 32). // seqno
			MustStoreUInt(uint64(i.WalletID()), 32).
			MustStoreSlice(i.PublicKey, 256).
			EndCell(), nil
	case V4R2:
		return cell.BeginCell().
			MustStoreUInt(0, 32).
			MustStoreUInt(uint64(i.WalletID()), 32).
			MustStoreSlice(i.PublicKey, 256).
			MustStoreDict(nil). // plugins
			EndCell(), nil
	case V5R1:
		return cell.BeginCell().
			MustStoreBoolBit(true). // signature auth allowed
			MustStoreUInt(0, 32).
			MustStoreUInt(uint64(i.WalletID()), 32).
			MustStoreSlice(i.PublicKey, 256).
			MustStoreDict(nil). // extensions
			EndCell(), nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupportedWalletVersion, i.Version)
}

func (i *Identity) StateInit() (*tlb.StateInit, error) {
	code, err := GetCode(i.Version)
	if err != nil {
		return nil, err
	}

	data, err := i.data()
	if err != nil {
		return nil, err
	}

	return &tlb.StateInit{
		Code: code,
		Data: data,
	}, nil
}

// Address returns the bounceable address of the wallet, testnet flag set for the test network.
func (i *Identity) Address() (*address.Address, error) {
	si, err := i.StateInit()
	if err != nil {
		return nil, fmt.Errorf("failed to get state init: %w", err)
	}

	addr, err := si.CalcAddress(int(i.Workchain))
	if err != nil {
		return nil, fmt.Errorf("failed to calc address: %w", err)
	}
	return addr.Testnet(i.NetworkGlobalID == TestnetGlobalID), nil
}

func (i *Identity) MustAddress() *address.Address {
	addr, err := i.Address()
	if err != nil {
		panic(err)
	}
	return addr
}

// AddressFromPubKey derives the default wallet address of the revision.
func AddressFromPubKey(key ed25519.PublicKey, ver Version, opts ...IdentityOption) (*address.Address, error) {
	id, err := NewIdentity(key, ver, opts...)
	if err != nil {
		return nil, err
	}
	return id.Address()
}

// PublicKeyFromData extracts the key from the contract data of a supported revision.
func PublicKeyFromData(ver Version, data *cell.Cell) (ed25519.PublicKey, error) {
	s := data.BeginParse()

	var skip uint
	switch ver {
	case V3R1, V3R2, V4R2:
		skip = 64
	case V5R1:
		skip = 65
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedWalletVersion, ver)
	}

	if _, err := s.LoadSlice(skip); err != nil {
		return nil, fmt.Errorf("failed to skip header: %w", err)
	}
	key, err := s.LoadSlice(256)
	if err != nil {
		return nil, fmt.Errorf("failed to load public key: %w", err)
	}
	return key, nil
}
