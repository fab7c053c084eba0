package tlb

import (
	"fmt"
	"math/big"
	"sort"

	"github.com/xssnick/tonwallet/tvm/cell"
)

// ExtraCurrencies is the extra part of a CurrencyCollection, currency id to amount.
type ExtraCurrencies struct {
	amounts map[uint32]*big.Int
}

func NewExtraCurrencies() *ExtraCurrencies {
	return &ExtraCurrencies{amounts: map[uint32]*big.Int{}}
}

// Set replaces the amount of a currency, zero removes it.
func (e *ExtraCurrencies) Set(id uint32, amount *big.Int) error {
	if amount.Sign() < 0 {
		return fmt.Errorf("%w: negative extra currency amount", ErrInvalidAmount)
	}
	if amount.Sign() == 0 {
		delete(e.amounts, id)
		return nil
	}
	e.amounts[id] = new(big.Int).Set(amount)
	return nil
}

func (e *ExtraCurrencies) Get(id uint32) *big.Int {
	if v, ok := e.amounts[id]; ok {
		return new(big.Int).Set(v)
	}
	return big.NewInt(0)
}

func (e *ExtraCurrencies) IDs() []uint32 {
	ids := make([]uint32, 0, len(e.amounts))
	for id := range e.amounts {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (e *ExtraCurrencies) IsEmpty() bool {
	return e == nil || len(e.amounts) == 0
}

// ToDict builds HashmapE 32 (VarUInteger 32).
func (e *ExtraCurrencies) ToDict() (*cell.Dictionary, error) {
	d := cell.NewDict(32)
	for _, id := range e.IDs() {
		v := cell.BeginCell()
		if err := v.StoreVarUInt(e.amounts[id], 32); err != nil {
			return nil, fmt.Errorf("failed to store extra currency %d: %w", id, err)
		}
		if err := d.Set(cell.BeginCell().MustStoreUInt(uint64(id), 32).EndCell(), v.EndCell()); err != nil {
			return nil, err
		}
	}
	return d, nil
}

func ExtraCurrenciesFromDict(d *cell.Dictionary) (*ExtraCurrencies, error) {
	e := NewExtraCurrencies()
	for _, kv := range d.All() {
		id, err := kv.Key.BeginParse().LoadUInt(32)
		if err != nil {
			return nil, err
		}
		amount, err := kv.Value.BeginParse().LoadVarUInt(32)
		if err != nil {
			return nil, fmt.Errorf("failed to load extra currency %d: %w", id, err)
		}
		if err = e.Set(uint32(id), amount); err != nil {
			return nil, err
		}
	}
	return e, nil
}
