package sender

import (
	"bytes"
	"sync"
	"time"

	"github.com/xssnick/tonwallet/address"
	"github.com/xssnick/tonwallet/tlb"
	"github.com/xssnick/tonwallet/ton"
	"github.com/xssnick/tonwallet/ton/wallet"
)

// Strategy is how the fee of a send is paid.
type Strategy string

const (
	StrategySelf     Strategy = "self"
	StrategyBattery  Strategy = "battery"
	StrategyGasless  Strategy = "gasless"
	StrategyTwoFA    Strategy = "2fa"
	StrategyMultisig Strategy = "multisig"
)

// Asset a fee or a balance is counted in. Jetton is nil for native coins and battery charges.
type Asset struct {
	Symbol string
	Jetton *address.Address
}

var (
	AssetTON     = Asset{Symbol: "TON"}
	AssetBattery = Asset{Symbol: "BATTERY"}
)

type Fee struct {
	Asset  Asset
	Amount tlb.Coins
}

// Estimation is the fee and the emulated effect of a transfer. It can be used for one send only,
// and only for the transfer it was made for.
type Estimation struct {
	Fee       Fee
	Strategy  Strategy
	Preview   *ton.EffectPreview
	CreatedAt time.Time

	fingerprint []byte
	quote       *RelayQuote
	order       *hostOrder

	mu   sync.Mutex
	used bool
}

func newEstimation(strategy Strategy, t *wallet.Transfer, fee Fee, preview *ton.EffectPreview, now time.Time) (*Estimation, error) {
	fp, err := t.Fingerprint()
	if err != nil {
		return nil, err
	}
	return &Estimation{
		Fee:         fee,
		Strategy:    strategy,
		Preview:     preview,
		CreatedAt:   now,
		fingerprint: fp,
	}, nil
}

func (e *Estimation) Fingerprint() []byte {
	return append([]byte{}, e.fingerprint...)
}

// consume checks the estimation belongs to the transfer and is fresh, then marks it used.
func consume(e *Estimation, strategy Strategy, t *wallet.Transfer, now time.Time, maxAge time.Duration) error {
	if e == nil {
		return ErrNoEstimation
	}
	if e.Strategy != strategy {
		return ErrStaleEstimation
	}

	fp, err := t.Fingerprint()
	if err != nil {
		return err
	}
	if !bytes.Equal(fp, e.fingerprint) {
		return ErrStaleEstimation
	}
	if maxAge > 0 && now.Sub(e.CreatedAt) > maxAge {
		return ErrStaleEstimation
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.used {
		return ErrEstimationUsed
	}
	e.used = true
	return nil
}
