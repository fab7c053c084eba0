package tlb

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"

	"github.com/xssnick/tonwallet/tvm/cell"
)

var (
	ErrInvalidAmount = errors.New("invalid amount")
	ErrTooBigAmount  = errors.New("too big number for coins")
	ErrDecimals      = errors.New("decimals mismatch")
)

// Coins is a non-negative amount of the smallest units together with the number of decimals used for display.
type Coins struct {
	decimals int
	val      *big.Int
}

var ZeroCoins = FromNanoTONU(0)

func (g Coins) String() string {
	if g.val == nil {
		return "0"
	}
	return decimal.NewFromBigInt(g.val, int32(-g.decimals)).String()
}

func (g Coins) Nano() *big.Int {
	if g.val == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(g.val)
}

func (g Coins) Decimals() int {
	return g.decimals
}

func (g Coins) IsZero() bool {
	return g.val == nil || g.val.Sign() == 0
}

func (g Coins) Compare(other Coins) int {
	return g.Nano().Cmp(other.Nano())
}

func (g Coins) GreaterThan(other Coins) bool {
	return g.Compare(other) > 0
}

func (g Coins) Add(other Coins) (Coins, error) {
	if !g.IsZero() && !other.IsZero() && g.decimals != other.decimals {
		return Coins{}, ErrDecimals
	}
	dec := g.decimals
	if g.IsZero() {
		dec = other.decimals
	}
	return FromNano(new(big.Int).Add(g.Nano(), other.Nano()), dec)
}

// Sub returns g - other, negative results are rejected.
func (g Coins) Sub(other Coins) (Coins, error) {
	if !g.IsZero() && !other.IsZero() && g.decimals != other.decimals {
		return Coins{}, ErrDecimals
	}
	return FromNano(new(big.Int).Sub(g.Nano(), other.Nano()), g.decimals)
}

func MustFromDecimal(val string, decimals int) Coins {
	v, err := FromDecimal(val, decimals)
	if err != nil {
		panic(err)
	}
	return v
}

func MustFromTON(val string) Coins {
	v, err := FromTON(val)
	if err != nil {
		panic(err)
	}
	return v
}

func MustFromNano(val *big.Int, decimals int) Coins {
	v, err := FromNano(val, decimals)
	if err != nil {
		panic(err)
	}
	return v
}

func FromNano(val *big.Int, decimals int) (Coins, error) {
	if val.Sign() < 0 {
		return Coins{}, fmt.Errorf("%w: negative", ErrInvalidAmount)
	}
	if uint((val.BitLen()+7)>>3) >= 16 {
		return Coins{}, ErrTooBigAmount
	}

	return Coins{
		decimals: decimals,
		val:      new(big.Int).Set(val),
	}, nil
}

func FromNanoTON(val *big.Int) Coins {
	return Coins{
		decimals: 9,
		val:      new(big.Int).Set(val),
	}
}

func FromNanoTONU(val uint64) Coins {
	return Coins{
		decimals: 9,
		val:      new(big.Int).SetUint64(val),
	}
}

func FromTON(val string) (Coins, error) {
	return FromDecimal(val, 9)
}

// FromDecimal parses a human readable amount, digits beyond the precision are truncated.
func FromDecimal(val string, decimals int) (Coins, error) {
	if decimals < 0 || decimals >= 128 {
		return Coins{}, fmt.Errorf("%w: invalid decimals %d", ErrInvalidAmount, decimals)
	}

	d, err := decimal.NewFromString(val)
	if err != nil {
		return Coins{}, fmt.Errorf("%w: %s", ErrInvalidAmount, err.Error())
	}

	nano := d.Shift(int32(decimals)).Truncate(0).BigInt()
	return FromNano(nano, decimals)
}

func (g *Coins) LoadFromCell(loader *cell.Slice) error {
	coins, err := loader.LoadBigCoins()
	if err != nil {
		return err
	}
	g.val = coins
	if g.decimals == 0 {
		g.decimals = 9
	}
	return nil
}

func (g Coins) ToCell() (*cell.Cell, error) {
	b := cell.BeginCell()
	if err := b.StoreBigCoins(g.Nano()); err != nil {
		return nil, err
	}
	return b.EndCell(), nil
}

func (g Coins) MarshalJSON() ([]byte, error) {
	return []byte(fmt.Sprintf("%q", g.Nano().String())), nil
}

func (g *Coins) UnmarshalJSON(data []byte) error {
	if len(data) < 2 || data[0] != '"' || data[len(data)-1] != '"' {
		return fmt.Errorf("%w: coins should be a quoted string", ErrInvalidAmount)
	}

	v, ok := new(big.Int).SetString(string(data[1:len(data)-1]), 10)
	if !ok {
		return ErrInvalidAmount
	}

	dec := g.decimals
	if dec == 0 {
		dec = 9
	}

	c, err := FromNano(v, dec)
	if err != nil {
		return err
	}
	*g = c
	return nil
}
