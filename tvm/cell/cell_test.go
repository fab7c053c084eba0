package cell

import (
	"encoding/base64"
	"encoding/hex"
	"math/big"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xssnick/tonwallet/address"
)

func TestCell_EmptyHash(t *testing.T) {
	c := BeginCell().EndCell()
	assert.Equal(t, "96a296d224f285c67bee93c30f8a309157f0daa35dc5b87e410b78630a09cfc7", hex.EncodeToString(c.Hash()))
	assert.Equal(t, "te6cckEBAQEAAgAAAEysuc0=", base64.StdEncoding.EncodeToString(c.ToBOC()))
}

func TestCell_StructuralEquality(t *testing.T) {
	build := func() *Cell {
		ref := BeginCell().MustStoreUInt(7, 3).EndCell()
		return BeginCell().
			MustStoreUInt(0x0f8a7ea5, 32).
			MustStoreCoins(1_500_000_000).
			MustStoreBoolBit(true).
			MustStoreRef(ref).
			EndCell()
	}

	a, b := build(), build()
	assert.NotSame(t, a, b)
	assert.Equal(t, a.Hash(), b.Hash())

	c := BeginCell().MustStoreUInt(0x0f8a7ea5, 32).MustStoreCoins(1_500_000_001).EndCell()
	assert.NotEqual(t, a.Hash(), c.Hash())
}

func TestBuilder_Limits(t *testing.T) {
	t.Run("uint overflow", func(t *testing.T) {
		require.ErrorIs(t, BeginCell().StoreUInt(256, 8), ErrTooBigValue)
		require.NoError(t, BeginCell().StoreUInt(255, 8))
	})

	t.Run("int range", func(t *testing.T) {
		require.ErrorIs(t, BeginCell().StoreInt(128, 8), ErrTooBigValue)
		require.ErrorIs(t, BeginCell().StoreInt(-129, 8), ErrTooBigValue)
		require.NoError(t, BeginCell().StoreInt(-128, 8))
	})

	t.Run("big uint", func(t *testing.T) {
		v := new(big.Int).Lsh(big.NewInt(1), 256)
		require.ErrorIs(t, BeginCell().StoreBigUInt(v, 256), ErrTooBigValue)
		require.ErrorIs(t, BeginCell().StoreBigUInt(big.NewInt(-1), 256), ErrNegative)
	})

	t.Run("coins", func(t *testing.T) {
		v := new(big.Int).Lsh(big.NewInt(1), 120)
		require.ErrorIs(t, BeginCell().StoreBigCoins(v), ErrTooBigValue)
		require.NoError(t, BeginCell().StoreBigCoins(new(big.Int).Sub(v, big.NewInt(1))))
	})

	t.Run("bits", func(t *testing.T) {
		b := BeginCell()
		for i := 0; i < 15; i++ {
			require.NoError(t, b.StoreUInt(0, 64))
		}
		require.NoError(t, b.StoreUInt(0, 63))
		require.ErrorIs(t, b.StoreBoolBit(true), ErrNotFit1023)
		assert.Equal(t, uint(1023), b.BitsUsed())
	})

	t.Run("refs", func(t *testing.T) {
		b := BeginCell()
		for i := 0; i < 4; i++ {
			require.NoError(t, b.StoreRef(BeginCell().EndCell()))
		}
		require.ErrorIs(t, b.StoreRef(BeginCell().EndCell()), ErrTooMuchRefs)
		require.ErrorIs(t, BeginCell().StoreRef(nil), ErrRefCannotBeNil)
	})

	t.Run("depth", func(t *testing.T) {
		c := BeginCell().EndCell()
		for i := 0; i < MaxDepth; i++ {
			c = BeginCell().MustStoreRef(c).EndCell()
		}
		assert.Equal(t, uint16(MaxDepth), c.Depth())
		require.ErrorIs(t, BeginCell().StoreRef(c), ErrTooDeep)
	})
}

func TestSlice_Load(t *testing.T) {
	addr := address.MustParseAddr("EQC6KV4zs8TJtSZapOrRFmqSkxzpq-oSCoxekQRKElf4nC1I")
	ref := BeginCell().MustStoreStringSnake("hello").EndCell()

	c := BeginCell().
		MustStoreUInt(5, 3).
		MustStoreInt(-42, 17).
		MustStoreBoolBit(true).
		MustStoreCoins(123456789).
		MustStoreAddr(addr).
		MustStoreAddr(nil).
		MustStoreBigUInt(new(big.Int).Lsh(big.NewInt(1), 200), 256).
		MustStoreMaybeRef(nil).
		MustStoreMaybeRef(ref).
		EndCell()

	s := c.BeginParse()
	assert.Equal(t, uint64(5), s.MustLoadUInt(3))
	assert.Equal(t, int64(-42), s.MustLoadInt(17))
	assert.True(t, s.MustLoadBoolBit())
	assert.Equal(t, uint64(123456789), s.MustLoadCoins())

	got := s.MustLoadAddr()
	assert.True(t, addr.Equals(got))
	assert.True(t, s.MustLoadAddr().IsAddrNone())
	assert.Equal(t, 0, s.MustLoadBigUInt(256).Cmp(new(big.Int).Lsh(big.NewInt(1), 200)))
	assert.Nil(t, s.MustLoadMaybeRef())
	assert.Equal(t, "hello", s.MustLoadMaybeRef().MustLoadStringSnake())
	assert.Equal(t, uint(0), s.BitsLeft())

	_, err := s.LoadUInt(1)
	require.ErrorIs(t, err, ErrNotEnoughData)
	_, err = s.LoadRef()
	require.ErrorIs(t, err, ErrNoMoreRefs)
}

func TestSnake_Long(t *testing.T) {
	text := strings.Repeat("ton wallet snake ", 40)

	c := BeginCell().MustStoreUInt(0, 32).MustStoreStringSnake(text).EndCell()
	assert.Equal(t, 1, c.RefsNum())

	s := c.BeginParse()
	s.MustLoadUInt(32)
	assert.Equal(t, text, s.MustLoadStringSnake())
}

func TestBOC_RoundTrip(t *testing.T) {
	shared := BeginCell().MustStoreUInt(0xdeadbeef, 32).EndCell()
	inner := BeginCell().MustStoreUInt(1, 1).MustStoreRef(shared).EndCell()
	root := BeginCell().
		MustStoreUInt(3, 5).
		MustStoreRef(inner).
		MustStoreRef(shared).
		MustStoreRef(BeginCell().MustStoreSlice([]byte{0xAB}, 4).EndCell()).
		EndCell()

	for _, crc := range []bool{true, false} {
		boc := root.ToBOCWithFlags(crc)

		parsed, err := FromBOC(boc)
		require.NoError(t, err)
		assert.Equal(t, root.Hash(), parsed.Hash())
		assert.Equal(t, root.Depth(), parsed.Depth())
		assert.Equal(t, boc, parsed.ToBOCWithFlags(crc), "re-encoding must be stable")
	}
}

func TestBOC_MultiRoot(t *testing.T) {
	a := BeginCell().MustStoreUInt(1, 8).EndCell()
	b := BeginCell().MustStoreUInt(2, 8).MustStoreRef(a).EndCell()

	roots, err := FromBOCMultiRoot(ToBOCWithFlags([]*Cell{a, b}, true))
	require.NoError(t, err)
	require.Len(t, roots, 2)
	assert.Equal(t, a.Hash(), roots[0].Hash())
	assert.Equal(t, b.Hash(), roots[1].Hash())
}

func TestBOC_Invalid(t *testing.T) {
	boc := BeginCell().MustStoreUInt(77, 16).EndCell().ToBOC()

	broken := append([]byte{}, boc...)
	broken[len(broken)-6] ^= 0xFF
	_, err := FromBOC(broken)
	require.ErrorIs(t, err, ErrInvalidChecksum)

	_, err = FromBOC([]byte{1, 2, 3, 4, 5})
	require.ErrorIs(t, err, ErrInvalidBOC)

	_, err = FromBOC(boc[:len(boc)/2])
	require.Error(t, err)
}

func TestBOC_WalletCode(t *testing.T) {
	// v3r2 wallet code
	boc, err := hex.DecodeString("B5EE9C724101010100710000DEFF0020DD2082014C97BA218201339CBAB19F71B0ED44D0D31FD31F31D70BFFE304E0A4F2608308D71820D31FD31FD31FF82313BBF263ED44D0D31FD31FD3FFD15132BAF2A15144BAF2A204F901541055F910F2A3F8009320D74A96D307D402FB00E8D101A4C8CB1FCB1FCBFFC9ED5410BD6DAD")
	require.NoError(t, err)

	c, err := FromBOC(boc)
	require.NoError(t, err)
	assert.Equal(t, "84dafa449f98a6987789ba232358072bc0f76dc4524002a5d0918b9a75d2d599", hex.EncodeToString(c.Hash()))
	assert.Equal(t, boc, c.ToBOC())
}

func TestCell_JSON(t *testing.T) {
	c := BeginCell().MustStoreUInt(42, 64).EndCell()

	data, err := c.MarshalJSON()
	require.NoError(t, err)

	var parsed Cell
	require.NoError(t, parsed.UnmarshalJSON(data))
	assert.Equal(t, c.Hash(), parsed.Hash())
}
