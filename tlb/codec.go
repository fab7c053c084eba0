package tlb

import (
	"fmt"
	"math/big"
	"reflect"
	"strconv"
	"strings"

	"github.com/xssnick/tonwallet/address"
	"github.com/xssnick/tonwallet/tvm/cell"
)

// Magic is a zero-size marker for constructor tags and opcodes.
type Magic struct{}

type manualLoader interface {
	LoadFromCell(loader *cell.Slice) error
}

type manualStore interface {
	ToCell() (*cell.Cell, error)
}

var (
	cellType   = reflect.TypeOf(&cell.Cell{})
	addrType   = reflect.TypeOf(&address.Address{})
	bigIntType = reflect.TypeOf(&big.Int{})
	dictType   = reflect.TypeOf(&cell.Dictionary{})
	magicType  = reflect.TypeOf(Magic{})
)

// LoadFromCell parses a struct by its field tags:
//
//	## N       - N bit integer, *big.Int for sizes above 64
//	bool       - 1 bit
//	addr       - MsgAddress
//	bits N     - N raw bits into []byte
//	var uint N - VarUInteger N into *big.Int
//	dict N     - HashmapE with N bit keys
//	^          - value is stored in a ref, *cell.Cell fields take the ref as is
//	.          - inner struct continues in the same cell
//	maybe X    - 1 bit flag, then X if set; field must be a pointer
//	either . ^ - 1 bit flag, then *cell.Cell inline or in a ref; stored inline when it fits
//
// Magic fields carry the prefix in #hex or $bin form and are checked on load.
func LoadFromCell(v any, loader *cell.Slice) error {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		return fmt.Errorf("v should be a pointer and not nil")
	}

	if ld, ok := v.(manualLoader); ok {
		return ld.LoadFromCell(loader)
	}

	rv = rv.Elem()
	for i := 0; i < rv.NumField(); i++ {
		field := rv.Type().Field(i)
		tag := strings.TrimSpace(field.Tag.Get("tlb"))
		if tag == "" || tag == "-" {
			continue
		}

		if err := loadField(rv.Field(i), field.Type, strings.Fields(tag), loader); err != nil {
			return fmt.Errorf("failed to load field %s of %s: %w", field.Name, rv.Type().Name(), err)
		}
	}
	return nil
}

func loadField(dst reflect.Value, typ reflect.Type, settings []string, loader *cell.Slice) error {
	if settings[0] == "maybe" {
		has, err := loader.LoadBoolBit()
		if err != nil {
			return err
		}
		if !has {
			return nil
		}
		settings = settings[1:]
	}

	if settings[0] == "either" {
		if typ != cellType {
			panic("either tag requires *cell.Cell")
		}
		isRef, err := loader.LoadBoolBit()
		if err != nil {
			return err
		}
		var c *cell.Cell
		if isRef {
			c, err = loader.LoadRefCell()
		} else {
			c, err = loader.ToCell()
		}
		if err != nil {
			return err
		}
		dst.Set(reflect.ValueOf(c))
		return nil
	}

	if settings[0] == "^" {
		ref, err := loader.LoadRefCell()
		if err != nil {
			return err
		}
		if typ == cellType {
			dst.Set(reflect.ValueOf(ref))
			return nil
		}
		settings = settings[1:]
		loader = ref.BeginParse()
		if len(settings) == 0 {
			settings = []string{"."}
		}
	}

	switch settings[0] {
	case ".":
		if typ == cellType {
			// takes the rest of the slice, so it can only be the last field
			c, err := loader.ToCell()
			if err != nil {
				return err
			}
			dst.Set(reflect.ValueOf(c))
			return nil
		}

		elem := typ
		if elem.Kind() == reflect.Pointer {
			elem = elem.Elem()
		}
		nv := reflect.New(elem)
		if err := LoadFromCell(nv.Interface(), loader); err != nil {
			return err
		}
		if typ.Kind() == reflect.Pointer {
			dst.Set(nv)
		} else {
			dst.Set(nv.Elem())
		}
		return nil
	case "##":
		sz := tagNum(settings)
		if typ == bigIntType {
			v, err := loader.LoadBigUInt(sz)
			if err != nil {
				return err
			}
			dst.Set(reflect.ValueOf(v))
			return nil
		}

		switch typ.Kind() {
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			v, err := loader.LoadInt(sz)
			if err != nil {
				return err
			}
			dst.SetInt(v)
		case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
			v, err := loader.LoadUInt(sz)
			if err != nil {
				return err
			}
			dst.SetUint(v)
		default:
			panic("unexpected field type for tag ## - " + typ.String())
		}
		return nil
	case "bool":
		v, err := loader.LoadBoolBit()
		if err != nil {
			return err
		}
		dst.SetBool(v)
		return nil
	case "addr":
		v, err := loader.LoadAddr()
		if err != nil {
			return err
		}
		dst.Set(reflect.ValueOf(v))
		return nil
	case "bits":
		v, err := loader.LoadSlice(tagNum(settings))
		if err != nil {
			return err
		}
		dst.SetBytes(v)
		return nil
	case "var":
		v, err := loader.LoadVarUInt(tagNum(settings[1:]))
		if err != nil {
			return err
		}
		dst.Set(reflect.ValueOf(v))
		return nil
	case "dict":
		v, err := loader.LoadDict(tagNum(settings))
		if err != nil {
			return err
		}
		dst.Set(reflect.ValueOf(v))
		return nil
	}

	if typ == magicType {
		val, sz := parseMagic(settings[0])
		got, err := loader.LoadUInt(sz)
		if err != nil {
			return err
		}
		if got != val {
			return fmt.Errorf("%w: want %s, got %x", ErrUnexpectedOpcode, settings[0], got)
		}
		return nil
	}

	panic(fmt.Sprintf("cannot deserialize tag '%s'", strings.Join(settings, " ")))
}

// ToCell serializes a struct by the same tags LoadFromCell understands.
func ToCell(v any) (*cell.Cell, error) {
	if st, ok := v.(manualStore); ok {
		return st.ToCell()
	}

	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return nil, fmt.Errorf("v should not be nil")
		}
		rv = rv.Elem()
	}

	b := cell.BeginCell()
	for i := 0; i < rv.NumField(); i++ {
		field := rv.Type().Field(i)
		tag := strings.TrimSpace(field.Tag.Get("tlb"))
		if tag == "" || tag == "-" {
			continue
		}

		if err := storeField(b, rv.Field(i), field.Type, strings.Fields(tag)); err != nil {
			return nil, fmt.Errorf("failed to store field %s of %s: %w", field.Name, rv.Type().Name(), err)
		}
	}
	return b.EndCell(), nil
}

func storeField(b *cell.Builder, val reflect.Value, typ reflect.Type, settings []string) error {
	if settings[0] == "maybe" {
		if val.IsNil() {
			return b.StoreBoolBit(false)
		}
		if err := b.StoreBoolBit(true); err != nil {
			return err
		}
		settings = settings[1:]
	}

	if settings[0] == "either" {
		if typ != cellType {
			panic("either tag requires *cell.Cell")
		}
		c, _ := val.Interface().(*cell.Cell)
		if c == nil {
			c = cell.BeginCell().EndCell()
		}
		if b.BitsLeft() >= c.BitsSize()+1 && int(b.RefsLeft()) >= c.RefsNum() {
			if err := b.StoreBoolBit(false); err != nil {
				return err
			}
			return b.StoreBuilder(c.ToBuilder())
		}
		if err := b.StoreBoolBit(true); err != nil {
			return err
		}
		return b.StoreRef(c)
	}

	if settings[0] == "^" {
		if typ == cellType {
			if val.IsNil() {
				return cell.ErrRefCannotBeNil
			}
			return b.StoreRef(val.Interface().(*cell.Cell))
		}

		rest := settings[1:]
		if len(rest) == 0 {
			rest = []string{"."}
		}
		inner := cell.BeginCell()
		if err := storeField(inner, val, typ, rest); err != nil {
			return err
		}
		return b.StoreRef(inner.EndCell())
	}

	switch settings[0] {
	case ".":
		if typ == cellType {
			if val.IsNil() {
				return nil
			}
			return b.StoreBuilder(val.Interface().(*cell.Cell).ToBuilder())
		}
		c, err := ToCell(val.Interface())
		if err != nil {
			return err
		}
		return b.StoreBuilder(c.ToBuilder())
	case "##":
		sz := tagNum(settings)
		if typ == bigIntType {
			v := val.Interface().(*big.Int)
			if v == nil {
				v = big.NewInt(0)
			}
			return b.StoreBigUInt(v, sz)
		}

		switch typ.Kind() {
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			return b.StoreInt(val.Int(), sz)
		case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
			return b.StoreUInt(val.Uint(), sz)
		}
		panic("unexpected field type for tag ## - " + typ.String())
	case "bool":
		return b.StoreBoolBit(val.Bool())
	case "addr":
		if typ != addrType {
			panic("addr tag requires *address.Address")
		}
		return b.StoreAddr(val.Interface().(*address.Address))
	case "bits":
		return b.StoreSlice(val.Bytes(), tagNum(settings))
	case "var":
		v := val.Interface().(*big.Int)
		if v == nil {
			v = big.NewInt(0)
		}
		return b.StoreVarUInt(v, tagNum(settings[1:]))
	case "dict":
		if typ != dictType {
			panic("dict tag requires *cell.Dictionary")
		}
		return b.StoreDict(val.Interface().(*cell.Dictionary))
	}

	if typ == magicType {
		v, sz := parseMagic(settings[0])
		return b.StoreUInt(v, sz)
	}

	panic(fmt.Sprintf("cannot serialize tag '%s'", strings.Join(settings, " ")))
}

// tag errors are programming mistakes, so they panic
func tagNum(settings []string) uint {
	if len(settings) < 2 {
		panic("size is missing in tag " + strings.Join(settings, " "))
	}
	n, err := strconv.ParseUint(settings[1], 10, 16)
	if err != nil {
		panic("corrupted size in tag " + strings.Join(settings, " "))
	}
	return uint(n)
}

func parseMagic(tag string) (uint64, uint) {
	var base int
	var sz uint
	switch {
	case strings.HasPrefix(tag, "#"):
		base, sz = 16, uint(len(tag)-1)*4
	case strings.HasPrefix(tag, "$"):
		base, sz = 2, uint(len(tag)-1)
	default:
		panic("unknown magic format: " + tag)
	}
	if sz > 64 {
		panic("too big magic: " + tag)
	}

	v, err := strconv.ParseUint(tag[1:], base, 64)
	if err != nil {
		panic("corrupted magic: " + tag)
	}
	return v, sz
}
