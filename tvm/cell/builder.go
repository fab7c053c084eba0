package cell

import (
	"errors"
	"math/big"

	"github.com/xssnick/tonwallet/address"
)

var (
	ErrTooBigValue             = errors.New("too big value")
	ErrNegative                = errors.New("value should be non negative")
	ErrNotFit1023              = errors.New("cell data size should fit into 1023 bits")
	ErrTooMuchRefs             = errors.New("too much refs")
	ErrTooDeep                 = errors.New("cell tree depth exceeds 1024")
	ErrRefCannotBeNil          = errors.New("ref cannot be nil")
	ErrSmallSlice              = errors.New("too small slice for this size")
	ErrAddressTypeNotSupported = errors.New("address type is not supported")
)

type Builder struct {
	bitsSz uint
	data   []byte
	refs   []*Cell
}

func BeginCell() *Builder {
	return &Builder{}
}

func (b *Builder) MustStoreCoins(value uint64) *Builder {
	if err := b.StoreCoins(value); err != nil {
		panic(err)
	}
	return b
}

func (b *Builder) StoreCoins(value uint64) error {
	return b.StoreBigCoins(new(big.Int).SetUint64(value))
}

func (b *Builder) MustStoreBigCoins(value *big.Int) *Builder {
	if err := b.StoreBigCoins(value); err != nil {
		panic(err)
	}
	return b
}

// StoreBigCoins stores value as VarUInteger 16.
func (b *Builder) StoreBigCoins(value *big.Int) error {
	return b.StoreVarUInt(value, 16)
}

func (b *Builder) MustStoreVarUInt(value *big.Int, sz uint) *Builder {
	if err := b.StoreVarUInt(value, sz); err != nil {
		panic(err)
	}
	return b
}

// StoreVarUInt stores VarUInteger sz: length in bytes (less than sz) followed by the value.
func (b *Builder) StoreVarUInt(value *big.Int, sz uint) error {
	if value.Sign() < 0 {
		return ErrNegative
	}

	ln := uint((value.BitLen() + 7) / 8)
	if ln >= sz {
		return ErrTooBigValue
	}

	lenBits := uint(big.NewInt(int64(sz - 1)).BitLen())
	if b.bitsSz+lenBits+ln*8 > MaxBits {
		return ErrNotFit1023
	}

	if err := b.StoreUInt(uint64(ln), lenBits); err != nil {
		return err
	}
	return b.StoreBigUInt(value, ln*8)
}

func (b *Builder) MustStoreUInt(value uint64, sz uint) *Builder {
	if err := b.StoreUInt(value, sz); err != nil {
		panic(err)
	}
	return b
}

func (b *Builder) StoreUInt(value uint64, sz uint) error {
	if sz > 64 {
		return b.StoreBigUInt(new(big.Int).SetUint64(value), sz)
	}
	if sz < 64 && value>>sz != 0 {
		return ErrTooBigValue
	}
	if b.bitsSz+sz > MaxBits {
		return ErrNotFit1023
	}

	for i := int(sz) - 1; i >= 0; i-- {
		b.appendBit(value>>uint(i)&1 == 1)
	}
	return nil
}

func (b *Builder) MustStoreInt(value int64, sz uint) *Builder {
	if err := b.StoreInt(value, sz); err != nil {
		panic(err)
	}
	return b
}

func (b *Builder) StoreInt(value int64, sz uint) error {
	return b.StoreBigInt(big.NewInt(value), sz)
}

func (b *Builder) MustStoreBoolBit(value bool) *Builder {
	if err := b.StoreBoolBit(value); err != nil {
		panic(err)
	}
	return b
}

func (b *Builder) StoreBoolBit(value bool) error {
	if b.bitsSz+1 > MaxBits {
		return ErrNotFit1023
	}
	b.appendBit(value)
	return nil
}

func (b *Builder) MustStoreBigUInt(value *big.Int, sz uint) *Builder {
	if err := b.StoreBigUInt(value, sz); err != nil {
		panic(err)
	}
	return b
}

func (b *Builder) StoreBigUInt(value *big.Int, sz uint) error {
	if value.Sign() < 0 {
		return ErrNegative
	}
	if uint(value.BitLen()) > sz {
		return ErrTooBigValue
	}
	return b.storeBig(value, sz)
}

func (b *Builder) MustStoreBigInt(value *big.Int, sz uint) *Builder {
	if err := b.StoreBigInt(value, sz); err != nil {
		panic(err)
	}
	return b
}

// StoreBigInt stores a signed value in two's complement form.
func (b *Builder) StoreBigInt(value *big.Int, sz uint) error {
	if sz == 0 {
		if value.Sign() != 0 {
			return ErrTooBigValue
		}
		return nil
	}

	limit := new(big.Int).Lsh(big.NewInt(1), sz-1)
	if value.Cmp(limit) >= 0 || value.Cmp(new(big.Int).Neg(limit)) < 0 {
		return ErrTooBigValue
	}

	v := value
	if value.Sign() < 0 {
		v = new(big.Int).Add(value, new(big.Int).Lsh(big.NewInt(1), sz))
	}
	return b.storeBig(v, sz)
}

func (b *Builder) storeBig(value *big.Int, sz uint) error {
	if b.bitsSz+sz > MaxBits {
		return ErrNotFit1023
	}
	for i := int(sz) - 1; i >= 0; i-- {
		b.appendBit(value.Bit(i) == 1)
	}
	return nil
}

func (b *Builder) MustStoreAddr(addr *address.Address) *Builder {
	if err := b.StoreAddr(addr); err != nil {
		panic(err)
	}
	return b
}

// StoreAddr stores MsgAddress, nil is stored as addr_none.
func (b *Builder) StoreAddr(addr *address.Address) error {
	if addr == nil || addr.IsAddrNone() {
		return b.StoreUInt(0, 2)
	}

	switch addr.Type() {
	case address.StdAddress:
		if b.bitsSz+267 > MaxBits {
			return ErrNotFit1023
		}
		// addr_std$10 anycast:(Maybe Anycast)
		b.MustStoreUInt(0b100, 3)
		b.MustStoreInt(int64(addr.Workchain()), 8)
		return b.StoreSlice(addr.Data(), 256)
	case address.ExtAddress:
		if b.bitsSz+2+9+addr.BitsLen() > MaxBits {
			return ErrNotFit1023
		}
		b.MustStoreUInt(0b01, 2)
		b.MustStoreUInt(uint64(addr.BitsLen()), 9)
		return b.StoreSlice(addr.Data(), addr.BitsLen())
	}
	return ErrAddressTypeNotSupported
}

func (b *Builder) MustStoreStringSnake(str string) *Builder {
	if err := b.StoreStringSnake(str); err != nil {
		panic(err)
	}
	return b
}

func (b *Builder) MustStoreBinarySnake(data []byte) *Builder {
	if err := b.StoreBinarySnake(data); err != nil {
		panic(err)
	}
	return b
}

func (b *Builder) StoreStringSnake(str string) error {
	return b.StoreBinarySnake([]byte(str))
}

// StoreBinarySnake fills the current builder and continues in a chain of refs.
func (b *Builder) StoreBinarySnake(data []byte) error {
	fit := int(b.BitsLeft() / 8)
	if fit >= len(data) {
		return b.StoreSlice(data, uint(len(data))*8)
	}

	if b.RefsLeft() == 0 {
		return ErrTooMuchRefs
	}

	next := BeginCell()
	if err := next.StoreBinarySnake(data[fit:]); err != nil {
		return err
	}

	if err := b.StoreSlice(data[:fit], uint(fit)*8); err != nil {
		return err
	}
	return b.StoreRef(next.EndCell())
}

func (b *Builder) MustStoreDict(dict *Dictionary) *Builder {
	if err := b.StoreDict(dict); err != nil {
		panic(err)
	}
	return b
}

// StoreDict stores HashmapE, nil or empty dictionary is stored as a single 0 bit.
func (b *Builder) StoreDict(dict *Dictionary) error {
	if dict == nil || dict.IsEmpty() {
		return b.StoreBoolBit(false)
	}

	root, err := dict.AsCell()
	if err != nil {
		return err
	}
	return b.StoreMaybeRef(root)
}

func (b *Builder) MustStoreMaybeRef(ref *Cell) *Builder {
	if err := b.StoreMaybeRef(ref); err != nil {
		panic(err)
	}
	return b
}

func (b *Builder) StoreMaybeRef(ref *Cell) error {
	if ref == nil {
		return b.StoreBoolBit(false)
	}

	if b.bitsSz+1 > MaxBits {
		return ErrNotFit1023
	}
	if len(b.refs) >= MaxRefs {
		return ErrTooMuchRefs
	}
	if ref.depth+1 > MaxDepth {
		return ErrTooDeep
	}

	b.appendBit(true)
	return b.StoreRef(ref)
}

func (b *Builder) MustStoreRef(ref *Cell) *Builder {
	if err := b.StoreRef(ref); err != nil {
		panic(err)
	}
	return b
}

func (b *Builder) StoreRef(ref *Cell) error {
	if ref == nil {
		return ErrRefCannotBeNil
	}
	if len(b.refs) >= MaxRefs {
		return ErrTooMuchRefs
	}
	if ref.depth+1 > MaxDepth {
		return ErrTooDeep
	}

	b.refs = append(b.refs, ref)
	return nil
}

func (b *Builder) MustStoreSlice(bytes []byte, sz uint) *Builder {
	if err := b.StoreSlice(bytes, sz); err != nil {
		panic(err)
	}
	return b
}

// StoreSlice stores first sz bits of bytes.
func (b *Builder) StoreSlice(bytes []byte, sz uint) error {
	if uint(len(bytes))*8 < sz {
		return ErrSmallSlice
	}
	if b.bitsSz+sz > MaxBits {
		return ErrNotFit1023
	}

	if b.bitsSz%8 == 0 && sz%8 == 0 {
		b.data = append(b.data[:b.bitsSz/8], bytes[:sz/8]...)
		b.bitsSz += sz
		return nil
	}

	for i := uint(0); i < sz; i++ {
		b.appendBit(bytes[i/8]&(0x80>>(i%8)) != 0)
	}
	return nil
}

func (b *Builder) MustStoreBuilder(builder *Builder) *Builder {
	if err := b.StoreBuilder(builder); err != nil {
		panic(err)
	}
	return b
}

func (b *Builder) StoreBuilder(builder *Builder) error {
	if len(b.refs)+len(builder.refs) > MaxRefs {
		return ErrTooMuchRefs
	}
	if b.bitsSz+builder.bitsSz > MaxBits {
		return ErrNotFit1023
	}

	b.refs = append(b.refs, builder.refs...)
	return b.StoreSlice(builder.data, builder.bitsSz)
}

func (b *Builder) appendBit(v bool) {
	if b.bitsSz%8 == 0 {
		b.data = append(b.data[:b.bitsSz/8], 0)
	}
	if v {
		b.data[b.bitsSz/8] |= 0x80 >> (b.bitsSz % 8)
	}
	b.bitsSz++
}

func (b *Builder) RefsUsed() int {
	return len(b.refs)
}

func (b *Builder) BitsUsed() uint {
	return b.bitsSz
}

func (b *Builder) BitsLeft() uint {
	return MaxBits - b.bitsSz
}

func (b *Builder) RefsLeft() uint {
	return MaxRefs - uint(len(b.refs))
}

func (b *Builder) Copy() *Builder {
	return &Builder{
		bitsSz: b.bitsSz,
		data:   append([]byte{}, b.data...),
		refs:   append([]*Cell{}, b.refs...),
	}
}

// EndCell finalizes the builder. Limits are enforced on every store, so it cannot fail.
func (b *Builder) EndCell() *Cell {
	c, err := newCell(false, b.bitsSz, append([]byte{}, b.data...), append([]*Cell{}, b.refs...))
	if err != nil {
		panic(err)
	}
	return c
}
