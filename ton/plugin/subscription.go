package plugin

import (
	"fmt"

	"github.com/xssnick/tonwallet/address"
	"github.com/xssnick/tonwallet/tlb"
	"github.com/xssnick/tonwallet/ton/wallet"
	"github.com/xssnick/tonwallet/tvm/cell"
)

const (
	// OpSubscriptionPayment is the "plug" op, the deploy body sets the high bit.
	OpSubscriptionPayment = 0x706c7567
	OpSubscriptionDeploy  = OpSubscriptionPayment | 0x80000000
	OpSubscriptionDestroy = 0x64737472
)

// Subscription is the data of a recurring payment plugin.
type Subscription struct {
	Wallet         *address.Address
	Beneficiary    *address.Address
	Amount         tlb.Coins
	Period         uint32
	StartTime      uint32
	Timeout        uint32
	LastPayment    uint32
	LastRequest    uint32
	FailedAttempts uint8
	SubscriptionID uint32
}

func (s *Subscription) ToCell() (*cell.Cell, error) {
	if s.Wallet == nil || s.Beneficiary == nil {
		return nil, fmt.Errorf("wallet and beneficiary are required")
	}

	b := cell.BeginCell()
	if err := b.StoreAddr(s.Wallet); err != nil {
		return nil, fmt.Errorf("failed to store wallet: %w", err)
	}
	if err := b.StoreAddr(s.Beneficiary); err != nil {
		return nil, fmt.Errorf("failed to store beneficiary: %w", err)
	}
	if err := b.StoreBigCoins(s.Amount.Nano()); err != nil {
		return nil, fmt.Errorf("failed to store amount: %w", err)
	}

	return b.MustStoreUInt(uint64(s.Period), 32).
		MustStoreUInt(uint64(s.StartTime), 32).
		MustStoreUInt(uint64(s.Timeout), 32).
		MustStoreUInt(uint64(s.LastPayment), 32).
		MustStoreUInt(uint64(s.LastRequest), 32).
		MustStoreUInt(uint64(s.FailedAttempts), 8).
		MustStoreUInt(uint64(s.SubscriptionID), 32).
		EndCell(), nil
}

func (s *Subscription) LoadFromCell(loader *cell.Slice) error {
	var err error
	if s.Wallet, err = loader.LoadAddr(); err != nil {
		return fmt.Errorf("failed to load wallet: %w", err)
	}
	if s.Beneficiary, err = loader.LoadAddr(); err != nil {
		return fmt.Errorf("failed to load beneficiary: %w", err)
	}
	if err = s.Amount.LoadFromCell(loader); err != nil {
		return fmt.Errorf("failed to load amount: %w", err)
	}

	fields := []*uint32{&s.Period, &s.StartTime, &s.Timeout, &s.LastPayment, &s.LastRequest}
	for _, f := range fields {
		v, err := loader.LoadUInt(32)
		if err != nil {
			return err
		}
		*f = uint32(v)
	}

	failed, err := loader.LoadUInt(8)
	if err != nil {
		return err
	}
	s.FailedAttempts = uint8(failed)

	id, err := loader.LoadUInt(32)
	if err != nil {
		return err
	}
	s.SubscriptionID = uint32(id)
	return nil
}

// StateInit of the plugin with the given code.
func (s *Subscription) StateInit(code *cell.Cell) (*tlb.StateInit, error) {
	if code == nil {
		return nil, ErrNoCode
	}
	data, err := s.ToCell()
	if err != nil {
		return nil, err
	}
	return &tlb.StateInit{Code: code, Data: data}, nil
}

// DeploySubscription picks a same shard subscription id and builds the v4 deploy and install request.
// balance is sent to the plugin with deployment and covers its storage and the first payment request.
func DeploySubscription(w *wallet.Identity, code *cell.Cell, sub Subscription, balance tlb.Coins, prefixBits uint) (*wallet.Transfer, *address.Address, error) {
	if w.Version != wallet.V4R2 {
		return nil, nil, fmt.Errorf("%w: subscriptions need %s, got %s", wallet.ErrUnsupportedForVersion, wallet.V4R2, w.Version)
	}

	walletAddr, err := w.Address()
	if err != nil {
		return nil, nil, err
	}
	sub.Wallet = walletAddr

	salt, pluginAddr, err := FindSameShardSalt(walletAddr, func(salt uint32) (*tlb.StateInit, error) {
		s := sub
		s.SubscriptionID = salt
		return s.StateInit(code)
	}, prefixBits)
	if err != nil {
		return nil, nil, err
	}

	sub.SubscriptionID = salt
	si, err := sub.StateInit(code)
	if err != nil {
		return nil, nil, err
	}

	t := &wallet.Transfer{
		Plugin: wallet.PluginDeployAndInstall{
			Workchain: int8(walletAddr.Workchain()),
			Balance:   balance,
			StateInit: si,
			Body:      cell.BeginCell().MustStoreUInt(OpSubscriptionDeploy, 32).EndCell(),
		},
	}
	return t, pluginAddr, nil
}

// DestructSubscription removes the plugin from the wallet, which then sends it the destroy request.
func DestructSubscription(w *wallet.Identity, pluginAddr *address.Address, amount tlb.Coins, queryID uint64) (*wallet.Transfer, error) {
	if w.Version != wallet.V4R2 {
		return nil, fmt.Errorf("%w: subscriptions need %s, got %s", wallet.ErrUnsupportedForVersion, wallet.V4R2, w.Version)
	}
	if pluginAddr == nil {
		return nil, fmt.Errorf("plugin address is required")
	}

	return &wallet.Transfer{
		Plugin: wallet.PluginRemove{
			Plugin:  pluginAddr,
			Amount:  amount,
			QueryID: queryID,
		},
	}, nil
}
