package cell

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/xssnick/tonwallet/address"
)

var (
	ErrNotEnoughData = errors.New("not enough data in reader")
	ErrNoMoreRefs    = errors.New("no more refs exists")
)

// Slice is a read cursor over a cell, loads consume bits and refs from the front.
type Slice struct {
	special  bool
	bitsSz   uint
	loadedSz uint
	data     []byte
	refs     []*Cell
}

func (c *Slice) MustLoadRef() *Slice {
	r, err := c.LoadRef()
	if err != nil {
		panic(err)
	}
	return r
}

func (c *Slice) LoadRef() (*Slice, error) {
	ref, err := c.LoadRefCell()
	if err != nil {
		return nil, err
	}
	return ref.BeginParse(), nil
}

func (c *Slice) LoadRefCell() (*Cell, error) {
	if len(c.refs) == 0 {
		return nil, ErrNoMoreRefs
	}
	ref := c.refs[0]
	c.refs = c.refs[1:]
	return ref, nil
}

func (c *Slice) PreloadRefCell() (*Cell, error) {
	if len(c.refs) == 0 {
		return nil, ErrNoMoreRefs
	}
	return c.refs[0], nil
}

func (c *Slice) MustLoadMaybeRef() *Slice {
	r, err := c.LoadMaybeRef()
	if err != nil {
		panic(err)
	}
	return r
}

// LoadMaybeRef returns nil slice when the flag bit is 0.
func (c *Slice) LoadMaybeRef() (*Slice, error) {
	ref, err := c.LoadMaybeRefCell()
	if err != nil || ref == nil {
		return nil, err
	}
	return ref.BeginParse(), nil
}

func (c *Slice) LoadMaybeRefCell() (*Cell, error) {
	has, err := c.LoadBoolBit()
	if err != nil {
		return nil, err
	}
	if !has {
		return nil, nil
	}
	return c.LoadRefCell()
}

func (c *Slice) RefsNum() int {
	return len(c.refs)
}

func (c *Slice) MustLoadCoins() uint64 {
	v, err := c.LoadCoins()
	if err != nil {
		panic(err)
	}
	return v
}

func (c *Slice) LoadCoins() (uint64, error) {
	value, err := c.LoadBigCoins()
	if err != nil {
		return 0, err
	}
	if !value.IsUint64() {
		return 0, ErrTooBigValue
	}
	return value.Uint64(), nil
}

func (c *Slice) MustLoadBigCoins() *big.Int {
	v, err := c.LoadBigCoins()
	if err != nil {
		panic(err)
	}
	return v
}

func (c *Slice) LoadBigCoins() (*big.Int, error) {
	return c.LoadVarUInt(16)
}

func (c *Slice) MustLoadVarUInt(sz uint) *big.Int {
	v, err := c.LoadVarUInt(sz)
	if err != nil {
		panic(err)
	}
	return v
}

func (c *Slice) LoadVarUInt(sz uint) (*big.Int, error) {
	ln, err := c.LoadUInt(uint(big.NewInt(int64(sz - 1)).BitLen()))
	if err != nil {
		return nil, err
	}
	return c.LoadBigUInt(uint(ln * 8))
}

func (c *Slice) MustLoadUInt(sz uint) uint64 {
	v, err := c.LoadUInt(sz)
	if err != nil {
		panic(err)
	}
	return v
}

func (c *Slice) LoadUInt(sz uint) (uint64, error) {
	if sz > 64 {
		return 0, ErrTooBigValue
	}
	if c.BitsLeft() < sz {
		return 0, ErrNotEnoughData
	}

	var v uint64
	for i := uint(0); i < sz; i++ {
		v <<= 1
		if c.bit(c.loadedSz + i) {
			v |= 1
		}
	}
	c.loadedSz += sz
	return v, nil
}

func (c *Slice) PreloadUInt(sz uint) (uint64, error) {
	cp := *c
	return cp.LoadUInt(sz)
}

func (c *Slice) MustLoadInt(sz uint) int64 {
	v, err := c.LoadInt(sz)
	if err != nil {
		panic(err)
	}
	return v
}

func (c *Slice) LoadInt(sz uint) (int64, error) {
	if sz > 64 {
		return 0, ErrTooBigValue
	}
	v, err := c.LoadBigInt(sz)
	if err != nil {
		return 0, err
	}
	return v.Int64(), nil
}

func (c *Slice) MustLoadBoolBit() bool {
	v, err := c.LoadBoolBit()
	if err != nil {
		panic(err)
	}
	return v
}

func (c *Slice) LoadBoolBit() (bool, error) {
	v, err := c.LoadUInt(1)
	if err != nil {
		return false, err
	}
	return v == 1, nil
}

func (c *Slice) MustLoadBigUInt(sz uint) *big.Int {
	v, err := c.LoadBigUInt(sz)
	if err != nil {
		panic(err)
	}
	return v
}

func (c *Slice) LoadBigUInt(sz uint) (*big.Int, error) {
	if c.BitsLeft() < sz {
		return nil, ErrNotEnoughData
	}

	v := new(big.Int)
	for i := uint(0); i < sz; i++ {
		v.Lsh(v, 1)
		if c.bit(c.loadedSz + i) {
			v.SetBit(v, 0, 1)
		}
	}
	c.loadedSz += sz
	return v, nil
}

func (c *Slice) LoadBigInt(sz uint) (*big.Int, error) {
	v, err := c.LoadBigUInt(sz)
	if err != nil {
		return nil, err
	}

	if sz > 0 && v.Bit(int(sz-1)) == 1 {
		v.Sub(v, new(big.Int).Lsh(big.NewInt(1), sz))
	}
	return v, nil
}

func (c *Slice) MustLoadSlice(sz uint) []byte {
	v, err := c.LoadSlice(sz)
	if err != nil {
		panic(err)
	}
	return v
}

// LoadSlice returns sz bits packed from the most significant bit, the tail of the last byte is zeroed.
func (c *Slice) LoadSlice(sz uint) ([]byte, error) {
	if c.BitsLeft() < sz {
		return nil, ErrNotEnoughData
	}

	res := make([]byte, (sz+7)/8)
	if c.loadedSz%8 == 0 {
		copy(res, c.data[c.loadedSz/8:])
		if rest := sz % 8; rest != 0 {
			res[len(res)-1] &= ^byte(0xFF >> rest)
		}
	} else {
		for i := uint(0); i < sz; i++ {
			if c.bit(c.loadedSz + i) {
				res[i/8] |= 0x80 >> (i % 8)
			}
		}
	}
	c.loadedSz += sz
	return res, nil
}

func (c *Slice) MustLoadAddr() *address.Address {
	a, err := c.LoadAddr()
	if err != nil {
		panic(err)
	}
	return a
}

func (c *Slice) LoadAddr() (*address.Address, error) {
	typ, err := c.LoadUInt(2)
	if err != nil {
		return nil, err
	}

	switch typ {
	case 0:
		return address.NewAddressNone(), nil
	case 1:
		ln, err := c.LoadUInt(9)
		if err != nil {
			return nil, fmt.Errorf("failed to load ext address len: %w", err)
		}
		data, err := c.LoadSlice(uint(ln))
		if err != nil {
			return nil, fmt.Errorf("failed to load ext address data: %w", err)
		}
		return address.NewAddressExt(0, uint(ln), data), nil
	case 2:
		anycast, err := c.LoadBoolBit()
		if err != nil {
			return nil, err
		}
		if anycast {
			return nil, fmt.Errorf("%w: anycast", ErrAddressTypeNotSupported)
		}

		wc, err := c.LoadInt(8)
		if err != nil {
			return nil, fmt.Errorf("failed to load workchain: %w", err)
		}
		data, err := c.LoadSlice(256)
		if err != nil {
			return nil, fmt.Errorf("failed to load address data: %w", err)
		}
		return address.NewAddress(0, byte(wc), data), nil
	}
	return nil, ErrAddressTypeNotSupported
}

func (c *Slice) MustLoadStringSnake() string {
	s, err := c.LoadStringSnake()
	if err != nil {
		panic(err)
	}
	return s
}

func (c *Slice) LoadStringSnake() (string, error) {
	data, err := c.LoadBinarySnake()
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func (c *Slice) LoadBinarySnake() ([]byte, error) {
	var data []byte
	cur := c
	for {
		if cur.BitsLeft()%8 != 0 {
			return nil, fmt.Errorf("snake part is not byte aligned")
		}

		part, err := cur.LoadSlice(cur.BitsLeft())
		if err != nil {
			return nil, err
		}
		data = append(data, part...)

		if cur.RefsNum() == 0 {
			return data, nil
		}
		if cur, err = cur.LoadRef(); err != nil {
			return nil, err
		}
	}
}

func (c *Slice) MustLoadDict(keySz uint) *Dictionary {
	d, err := c.LoadDict(keySz)
	if err != nil {
		panic(err)
	}
	return d
}

// LoadDict loads HashmapE with the given key size.
func (c *Slice) LoadDict(keySz uint) (*Dictionary, error) {
	root, err := c.LoadMaybeRefCell()
	if err != nil {
		return nil, fmt.Errorf("failed to load dict root: %w", err)
	}
	if root == nil {
		return NewDict(keySz), nil
	}
	return root.AsDict(keySz)
}

func (c *Slice) IsSpecial() bool {
	return c.special
}

func (c *Slice) BitsLeft() uint {
	return c.bitsSz - c.loadedSz
}

func (c *Slice) Copy() *Slice {
	cp := *c
	return &cp
}

func (c *Slice) MustToCell() *Cell {
	cl, err := c.ToCell()
	if err != nil {
		panic(err)
	}
	return cl
}

// ToCell builds a cell from the unread bits and refs.
func (c *Slice) ToCell() (*Cell, error) {
	cp := c.Copy()
	data, err := cp.LoadSlice(cp.BitsLeft())
	if err != nil {
		return nil, err
	}
	return newCell(c.special, c.BitsLeft(), data, append([]*Cell{}, c.refs...))
}

func (c *Slice) ToBuilder() *Builder {
	cp := c.Copy()
	sz := cp.BitsLeft()
	data, _ := cp.LoadSlice(sz)
	return &Builder{
		bitsSz: sz,
		data:   data,
		refs:   append([]*Cell{}, c.refs...),
	}
}

func (c *Slice) bit(i uint) bool {
	return c.data[i/8]&(0x80>>(i%8)) != 0
}
