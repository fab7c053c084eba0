package tlb

import (
	"fmt"

	"github.com/xssnick/tonwallet/address"
	"github.com/xssnick/tonwallet/tvm/cell"
)

type TickTock struct {
	Tick bool `tlb:"bool"`
	Tock bool `tlb:"bool"`
}

// StateInit is the initial code and data of a contract; its hash is the contract address.
type StateInit struct {
	Depth    *uint64
	TickTock *TickTock
	Code     *cell.Cell
	Data     *cell.Cell
	Lib      *cell.Dictionary
}

func (s *StateInit) ToCell() (*cell.Cell, error) {
	b := cell.BeginCell()

	if s.Depth != nil {
		if err := b.StoreBoolBit(true); err != nil {
			return nil, err
		}
		if err := b.StoreUInt(*s.Depth, 5); err != nil {
			return nil, fmt.Errorf("failed to store split depth: %w", err)
		}
	} else if err := b.StoreBoolBit(false); err != nil {
		return nil, err
	}

	if s.TickTock != nil {
		b.MustStoreBoolBit(true).MustStoreBoolBit(s.TickTock.Tick).MustStoreBoolBit(s.TickTock.Tock)
	} else {
		b.MustStoreBoolBit(false)
	}

	if err := b.StoreMaybeRef(s.Code); err != nil {
		return nil, fmt.Errorf("failed to store code: %w", err)
	}
	if err := b.StoreMaybeRef(s.Data); err != nil {
		return nil, fmt.Errorf("failed to store data: %w", err)
	}
	if err := b.StoreDict(s.Lib); err != nil {
		return nil, fmt.Errorf("failed to store libs: %w", err)
	}
	return b.EndCell(), nil
}

func (s *StateInit) LoadFromCell(loader *cell.Slice) error {
	hasDepth, err := loader.LoadBoolBit()
	if err != nil {
		return err
	}
	if hasDepth {
		d, err := loader.LoadUInt(5)
		if err != nil {
			return fmt.Errorf("failed to load split depth: %w", err)
		}
		s.Depth = &d
	}

	hasTickTock, err := loader.LoadBoolBit()
	if err != nil {
		return err
	}
	if hasTickTock {
		var tt TickTock
		if err = LoadFromCell(&tt, loader); err != nil {
			return fmt.Errorf("failed to load tick tock: %w", err)
		}
		s.TickTock = &tt
	}

	if s.Code, err = loader.LoadMaybeRefCell(); err != nil {
		return fmt.Errorf("failed to load code: %w", err)
	}
	if s.Data, err = loader.LoadMaybeRefCell(); err != nil {
		return fmt.Errorf("failed to load data: %w", err)
	}
	if s.Lib, err = loader.LoadDict(256); err != nil {
		return fmt.Errorf("failed to load libs: %w", err)
	}
	return nil
}

// CalcAddress returns a bounceable address of the contract deployed with this state.
func (s *StateInit) CalcAddress(workchain int) (*address.Address, error) {
	c, err := s.ToCell()
	if err != nil {
		return nil, err
	}
	return address.NewAddress(0, byte(workchain), c.Hash()), nil
}

func (s *StateInit) MustCalcAddress(workchain int) *address.Address {
	a, err := s.CalcAddress(workchain)
	if err != nil {
		panic(err)
	}
	return a
}
