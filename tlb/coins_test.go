package tlb

import (
	"encoding/json"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xssnick/tonwallet/tvm/cell"
)

func TestCoins_FromTON(t *testing.T) {
	tests := []struct {
		in   string
		nano uint64
	}{
		{"0", 0},
		{"0.0000", 0},
		{"7", 7_000_000_000},
		{"7.518", 7_518_000_000},
		{"17.98765432111", 17_987_654_321},
		{"0.000000001", 1},
		{"0.090000001", 90_000_001},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			c, err := FromTON(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.nano, c.Nano().Uint64())
		})
	}

	for _, bad := range []string{"17.987654.32111", "0..17", "abc", "-1", ""} {
		_, err := FromTON(bad)
		assert.ErrorIs(t, err, ErrInvalidAmount, bad)
	}
}

func TestCoins_String(t *testing.T) {
	tests := []struct {
		nano     int64
		decimals int
		want     string
	}{
		{0, 9, "0"},
		{1, 9, "0.000000001"},
		{1_500_000_000, 9, "1.5"},
		{7_000_000_000, 9, "7"},
		{123456, 6, "0.123456"},
		{100, 0, "100"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, MustFromNano(big.NewInt(tt.nano), tt.decimals).String())
	}
	assert.Equal(t, "0", Coins{}.String())
}

func TestCoins_Limits(t *testing.T) {
	_, err := FromNano(new(big.Int).Lsh(big.NewInt(1), 120), 9)
	require.ErrorIs(t, err, ErrTooBigAmount)

	_, err = FromNano(big.NewInt(-5), 9)
	require.ErrorIs(t, err, ErrInvalidAmount)
}

func TestCoins_Arithmetic(t *testing.T) {
	a := MustFromTON("1.5")
	b := MustFromTON("0.25")

	sum, err := a.Add(b)
	require.NoError(t, err)
	assert.Equal(t, "1.75", sum.String())

	diff, err := a.Sub(b)
	require.NoError(t, err)
	assert.Equal(t, "1.25", diff.String())

	_, err = b.Sub(a)
	require.ErrorIs(t, err, ErrInvalidAmount)

	_, err = a.Add(MustFromDecimal("1", 6))
	require.ErrorIs(t, err, ErrDecimals)

	assert.True(t, a.GreaterThan(b))
	assert.True(t, ZeroCoins.IsZero())
}

func TestCoins_CellAndJSON(t *testing.T) {
	c := MustFromTON("3.000000007")

	cl, err := c.ToCell()
	require.NoError(t, err)

	var back Coins
	require.NoError(t, back.LoadFromCell(cl.BeginParse()))
	assert.Equal(t, 0, c.Compare(back))

	data, err := json.Marshal(c)
	require.NoError(t, err)
	assert.Equal(t, `"3000000007"`, string(data))

	var parsed Coins
	require.NoError(t, json.Unmarshal(data, &parsed))
	assert.Equal(t, c.String(), parsed.String())

	big120 := cell.BeginCell().MustStoreBigCoins(new(big.Int).Lsh(big.NewInt(1), 100)).EndCell()
	var huge Coins
	require.NoError(t, huge.LoadFromCell(big120.BeginParse()))
	assert.Equal(t, 101, huge.Nano().BitLen())
}
