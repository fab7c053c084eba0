package address

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/howeyc/crc16"
)

type AddrType int

const (
	NoneAddress AddrType = 0
	ExtAddress  AddrType = 1
	StdAddress  AddrType = 2
	VarAddress  AddrType = 3
)

var (
	ErrInvalidLength   = errors.New("invalid address length")
	ErrInvalidChecksum = errors.New("invalid address checksum")
	ErrInvalidFormat   = errors.New("invalid address format")
)

// xmodem flavour: ccitt polynomial, msb first, zero init
var crcTable = crc16.MakeBitsReversedTable(crc16.CCITTFalse)

type flags struct {
	bounceable bool
	testnet    bool
}

// Address is a message address. Modifiers return copies, the value itself is never mutated.
type Address struct {
	flags     flags
	addrType  AddrType
	workchain int32
	bitsLen   uint
	data      []byte
}

func NewAddress(flags byte, workchain byte, data []byte) *Address {
	return &Address{
		flags:     parseFlags(flags),
		addrType:  StdAddress,
		workchain: int32(int8(workchain)),
		bitsLen:   256,
		data:      append([]byte{}, data...),
	}
}

func NewAddressExt(flags byte, bitsLen uint, data []byte) *Address {
	return &Address{
		flags:    parseFlags(flags),
		addrType: ExtAddress,
		bitsLen:  bitsLen,
		data:     append([]byte{}, data...),
	}
}

func NewAddressNone() *Address {
	return &Address{addrType: NoneAddress}
}

func (a *Address) String() string {
	switch a.addrType {
	case NoneAddress:
		return "NONE"
	case StdAddress:
		var address [36]byte
		address[0] = a.FlagsToByte()
		address[1] = byte(a.workchain)
		copy(address[2:34], a.data)
		binary.BigEndian.PutUint16(address[34:], crc16.Update(0, crcTable, address[:34]))
		return base64.RawURLEncoding.EncodeToString(address[:])
	case ExtAddress:
		return fmt.Sprintf("EXT:%d:%s", a.bitsLen, hex.EncodeToString(a.data))
	default:
		return "NOT_SUPPORTED"
	}
}

// StringRaw returns the workchain:hex form used in RPC payloads.
func (a *Address) StringRaw() string {
	if a.addrType != StdAddress {
		return a.String()
	}
	return strconv.Itoa(int(a.workchain)) + ":" + hex.EncodeToString(a.data)
}

func (a *Address) FlagsToByte() (flags byte) {
	// show as bounceable by default
	flags = 0b00010001
	if !a.flags.bounceable {
		flags |= 0b01000000
	}
	if a.flags.testnet {
		flags |= 0b10000000
	}
	return flags
}

func parseFlags(data byte) flags {
	return flags{
		bounceable: data&0b01000000 == 0,
		testnet:    data&0b10000000 != 0,
	}
}

func (a *Address) Copy() *Address {
	c := *a
	c.data = append([]byte{}, a.data...)
	return &c
}

// Bounce returns a copy with the bounceable flag set to v.
func (a *Address) Bounce(v bool) *Address {
	c := a.Copy()
	c.flags.bounceable = v
	return c
}

// Testnet returns a copy with the testnet-only flag set to v.
func (a *Address) Testnet(v bool) *Address {
	c := a.Copy()
	c.flags.testnet = v
	return c
}

func (a *Address) IsBounceable() bool {
	return a.flags.bounceable
}

func (a *Address) IsTestnetOnly() bool {
	return a.flags.testnet
}

func (a *Address) IsAddrNone() bool {
	return a.addrType == NoneAddress
}

func (a *Address) Type() AddrType {
	return a.addrType
}

func (a *Address) Workchain() int32 {
	return a.workchain
}

func (a *Address) BitsLen() uint {
	return a.bitsLen
}

func (a *Address) Data() []byte {
	return a.data
}

// Equals compares type, workchain and account id, flags are ignored.
func (a *Address) Equals(b *Address) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.addrType == b.addrType && a.workchain == b.workchain &&
		a.bitsLen == b.bitsLen && bytes.Equal(a.data, b.data)
}

func (a *Address) MarshalJSON() ([]byte, error) {
	return []byte(strconv.Quote(a.String())), nil
}

func (a *Address) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}

	addr, err := ParseAnyAddr(str)
	if err != nil {
		return err
	}
	*a = *addr
	return nil
}

func MustParseAddr(addr string) *Address {
	a, err := ParseAddr(addr)
	if err != nil {
		panic(err)
	}
	return a
}

// ParseAddr parses user-friendly base64 (url or std alphabet) form.
func ParseAddr(addr string) (*Address, error) {
	if len(addr) != 48 {
		return nil, ErrInvalidLength
	}

	data, err := base64.RawURLEncoding.DecodeString(addr)
	if err != nil {
		data, err = base64.RawStdEncoding.DecodeString(addr)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidFormat, err)
		}
	}

	if len(data) != 36 {
		return nil, ErrInvalidLength
	}

	if crc16.Update(0, crcTable, data[:34]) != binary.BigEndian.Uint16(data[34:]) {
		return nil, ErrInvalidChecksum
	}

	return &Address{
		flags:     parseFlags(data[0]),
		addrType:  StdAddress,
		workchain: int32(int8(data[1])),
		bitsLen:   256,
		data:      data[2:34],
	}, nil
}

func MustParseRawAddr(addr string) *Address {
	a, err := ParseRawAddr(addr)
	if err != nil {
		panic(err)
	}
	return a
}

// ParseRawAddr parses workchain:hex form, the result is bounceable.
func ParseRawAddr(addr string) (*Address, error) {
	idx := strings.IndexByte(addr, ':')
	if idx <= 0 {
		return nil, ErrInvalidFormat
	}

	wc, err := strconv.ParseInt(addr[:idx], 10, 8)
	if err != nil {
		return nil, fmt.Errorf("%w: bad workchain: %v", ErrInvalidFormat, err)
	}

	data, err := hex.DecodeString(addr[idx+1:])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFormat, err)
	}

	if len(data) != 32 {
		return nil, ErrInvalidLength
	}

	return &Address{
		flags:     flags{bounceable: true},
		addrType:  StdAddress,
		workchain: int32(wc),
		bitsLen:   256,
		data:      data,
	}, nil
}

// ParseAnyAddr accepts both raw and user-friendly forms.
func ParseAnyAddr(addr string) (*Address, error) {
	if strings.IndexByte(addr, ':') > 0 {
		return ParseRawAddr(addr)
	}
	return ParseAddr(addr)
}
