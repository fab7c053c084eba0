package cell

import (
	"errors"
	"fmt"
	"math/big"
	"math/bits"
	"sort"
)

var (
	ErrIncorrectKeySize = errors.New("incorrect key size")
	ErrNoSuchKeyInDict  = errors.New("no such key in dict")
)

// Dictionary is a HashmapE with fixed-size keys.
type Dictionary struct {
	keySz   uint
	storage map[string]*HashmapKV
}

type HashmapKV struct {
	Key   *Cell
	Value *Cell
}

type dictItem struct {
	key   []byte
	value *Cell
}

func NewDict(keySz uint) *Dictionary {
	return &Dictionary{
		keySz:   keySz,
		storage: map[string]*HashmapKV{},
	}
}

func (d *Dictionary) KeySize() uint {
	return d.keySz
}

func (d *Dictionary) Size() int {
	return len(d.storage)
}

func (d *Dictionary) IsEmpty() bool {
	return len(d.storage) == 0
}

func (d *Dictionary) keyBits(key *Cell) ([]byte, error) {
	if key.BitsSize() < d.keySz {
		return nil, ErrIncorrectKeySize
	}
	return key.BeginParse().LoadSlice(d.keySz)
}

// Set adds or replaces the value, nil value deletes the key.
func (d *Dictionary) Set(key, value *Cell) error {
	data, err := d.keyBits(key)
	if err != nil {
		return err
	}

	if value == nil {
		delete(d.storage, string(data))
		return nil
	}

	d.storage[string(data)] = &HashmapKV{
		Key:   BeginCell().MustStoreSlice(data, d.keySz).EndCell(),
		Value: value,
	}
	return nil
}

func (d *Dictionary) SetIntKey(key *big.Int, value *Cell) error {
	b := BeginCell()
	if err := b.StoreBigUInt(key, d.keySz); err != nil {
		return fmt.Errorf("failed to store key: %w", err)
	}
	return d.Set(b.EndCell(), value)
}

func (d *Dictionary) Get(key *Cell) *Cell {
	data, err := d.keyBits(key)
	if err != nil {
		return nil
	}

	kv := d.storage[string(data)]
	if kv == nil {
		return nil
	}
	return kv.Value
}

func (d *Dictionary) LoadValueByIntKey(key *big.Int) (*Slice, error) {
	b := BeginCell()
	if err := b.StoreBigUInt(key, d.keySz); err != nil {
		return nil, err
	}

	v := d.Get(b.EndCell())
	if v == nil {
		return nil, ErrNoSuchKeyInDict
	}
	return v.BeginParse(), nil
}

func (d *Dictionary) Delete(key *Cell) error {
	return d.Set(key, nil)
}

// All returns entries ordered by key.
func (d *Dictionary) All() []*HashmapKV {
	keys := make([]string, 0, len(d.storage))
	for k := range d.storage {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	all := make([]*HashmapKV, 0, len(keys))
	for _, k := range keys {
		all = append(all, d.storage[k])
	}
	return all
}

// AsCell returns the Hashmap root, nil for an empty dictionary.
func (d *Dictionary) AsCell() (*Cell, error) {
	if d.IsEmpty() {
		return nil, nil
	}

	items := make([]dictItem, 0, len(d.storage))
	for k, kv := range d.storage {
		items = append(items, dictItem{key: []byte(k), value: kv.Value})
	}

	b, err := storeNode(items, 0, d.keySz)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize dict: %w", err)
	}
	return b.EndCell(), nil
}

func (d *Dictionary) MustToCell() *Cell {
	c, err := d.ToCell()
	if err != nil {
		panic(err)
	}
	return c
}

// ToCell returns the HashmapE form: maybe bit and the root ref.
func (d *Dictionary) ToCell() (*Cell, error) {
	b := BeginCell()
	if err := b.StoreDict(d); err != nil {
		return nil, err
	}
	return b.EndCell(), nil
}

func storeNode(items []dictItem, offset, m uint) (*Builder, error) {
	l := commonPrefix(items, offset, m)

	b := BeginCell()
	if err := storeLabel(b, items[0].key, offset, l, m); err != nil {
		return nil, err
	}

	if l == m {
		if err := b.StoreBuilder(items[0].value.ToBuilder()); err != nil {
			return nil, fmt.Errorf("failed to store value: %w", err)
		}
		return b, nil
	}

	var left, right []dictItem
	for _, it := range items {
		if keyBit(it.key, offset+l) {
			right = append(right, it)
		} else {
			left = append(left, it)
		}
	}

	for _, branch := range [][]dictItem{left, right} {
		nb, err := storeNode(branch, offset+l+1, m-l-1)
		if err != nil {
			return nil, err
		}
		if err = b.StoreRef(nb.EndCell()); err != nil {
			return nil, err
		}
	}
	return b, nil
}

func commonPrefix(items []dictItem, offset, m uint) uint {
	if len(items) == 1 {
		return m
	}

	l := uint(0)
	for ; l < m; l++ {
		bit := keyBit(items[0].key, offset+l)
		for _, it := range items[1:] {
			if keyBit(it.key, offset+l) != bit {
				return l
			}
		}
	}
	return l
}

// storeLabel picks the shortest of hml_short, hml_long and hml_same.
func storeLabel(b *Builder, key []byte, offset, ln, m uint) error {
	k := uint(bits.Len(m))

	if ln == 0 {
		return b.StoreUInt(0, 2)
	}

	if ln > 1 && k < 2*ln-1 {
		first := keyBit(key, offset)
		same := true
		for i := uint(1); i < ln; i++ {
			if keyBit(key, offset+i) != first {
				same = false
				break
			}
		}
		if same {
			v := uint64(0b110)
			if first {
				v = 0b111
			}
			if err := b.StoreUInt(v, 3); err != nil {
				return err
			}
			return b.StoreUInt(uint64(ln), k)
		}
	}

	if k < ln {
		if err := b.StoreUInt(0b10, 2); err != nil {
			return err
		}
		if err := b.StoreUInt(uint64(ln), k); err != nil {
			return err
		}
	} else {
		if err := b.StoreBoolBit(false); err != nil {
			return err
		}
		for i := uint(0); i < ln; i++ {
			if err := b.StoreBoolBit(true); err != nil {
				return err
			}
		}
		if err := b.StoreBoolBit(false); err != nil {
			return err
		}
	}

	for i := uint(0); i < ln; i++ {
		if err := b.StoreBoolBit(keyBit(key, offset+i)); err != nil {
			return err
		}
	}
	return nil
}

func keyBit(key []byte, i uint) bool {
	return key[i/8]&(0x80>>(i%8)) != 0
}

func (c *Cell) AsDict(keySz uint) (*Dictionary, error) {
	d := NewDict(keySz)
	if err := d.loadNode(c.BeginParse(), BeginCell(), keySz); err != nil {
		return nil, fmt.Errorf("failed to parse dict: %w", err)
	}
	return d, nil
}

func (d *Dictionary) loadNode(loader *Slice, prefix *Builder, m uint) error {
	ln, err := loadLabel(loader, prefix, m)
	if err != nil {
		return err
	}

	if ln == m {
		value, err := loader.ToCell()
		if err != nil {
			return err
		}
		return d.Set(prefix.EndCell(), value)
	}

	for _, bit := range []bool{false, true} {
		ref, err := loader.LoadRef()
		if err != nil {
			return fmt.Errorf("failed to load fork: %w", err)
		}
		if err = d.loadNode(ref, prefix.Copy().MustStoreBoolBit(bit), m-ln-1); err != nil {
			return err
		}
	}
	return nil
}

func loadLabel(loader *Slice, key *Builder, m uint) (uint, error) {
	k := uint(bits.Len(m))

	first, err := loader.LoadBoolBit()
	if err != nil {
		return 0, err
	}

	// hml_short$0
	if !first {
		ln := uint(0)
		for {
			bit, err := loader.LoadBoolBit()
			if err != nil {
				return 0, err
			}
			if !bit {
				break
			}
			ln++
		}
		if ln > m {
			return 0, ErrIncorrectKeySize
		}

		data, err := loader.LoadSlice(ln)
		if err != nil {
			return 0, err
		}
		return ln, key.StoreSlice(data, ln)
	}

	second, err := loader.LoadBoolBit()
	if err != nil {
		return 0, err
	}

	// hml_long$10
	if !second {
		ln, err := loader.LoadUInt(k)
		if err != nil {
			return 0, err
		}
		if uint(ln) > m {
			return 0, ErrIncorrectKeySize
		}

		data, err := loader.LoadSlice(uint(ln))
		if err != nil {
			return 0, err
		}
		return uint(ln), key.StoreSlice(data, uint(ln))
	}

	// hml_same$11
	bit, err := loader.LoadBoolBit()
	if err != nil {
		return 0, err
	}
	ln, err := loader.LoadUInt(k)
	if err != nil {
		return 0, err
	}
	if uint(ln) > m {
		return 0, ErrIncorrectKeySize
	}

	for i := uint64(0); i < ln; i++ {
		if err = key.StoreBoolBit(bit); err != nil {
			return 0, err
		}
	}
	return uint(ln), nil
}
