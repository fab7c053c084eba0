package multisig

import (
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/xssnick/tonwallet/address"
	"github.com/xssnick/tonwallet/tvm/cell"
)

const (
	OpNewOrder       = 0xf718510f
	OpSendMessage    = 0xf1381e5b
	OpUpdateParams   = 0x1d0cfbd3
	OpApprove        = 0xa762230f
	OpExecute        = 0x75097f5d
	MaxActions       = 255
	maxParticipants  = 255
	expirationBits   = 48
	orderSeqnoBits   = 256
	participantBits  = 8
	thresholdBits    = 8
	participantsBits = 8
)

var (
	ErrEmptyOrder      = errors.New("order should contain at least one action")
	ErrTooManyActions  = errors.New("order cannot contain more than 255 actions")
	ErrUpdateNotAlone  = errors.New("parameters update should be the only action of an order")
	ErrNotParticipant  = errors.New("address is neither a signer nor a proposer")
	ErrInvalidParams   = errors.New("invalid multisig parameters")
	ErrSeqnoCollision  = errors.New("no free order seqno found")
	ErrUnexpectedData  = errors.New("unexpected multisig data layout")
)

// UnsetSeqno makes the contract take its own next_order_seqno, it is required when arbitrary seqno is off.
var UnsetSeqno = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), orderSeqnoBits), big.NewInt(1))

// Params are the multisig members and rules.
type Params struct {
	Threshold           uint8
	Signers             []*address.Address
	Proposers           []*address.Address
	AllowArbitrarySeqno bool
}

// Info is the parsed contract data.
type Info struct {
	Params
	NextOrderSeqno *big.Int
}

func (p Params) Validate() error {
	if len(p.Signers) == 0 || len(p.Signers) > maxParticipants || len(p.Proposers) > maxParticipants {
		return fmt.Errorf("%w: %d signers, %d proposers", ErrInvalidParams, len(p.Signers), len(p.Proposers))
	}
	if p.Threshold == 0 || int(p.Threshold) > len(p.Signers) {
		return fmt.Errorf("%w: threshold %d of %d signers", ErrInvalidParams, p.Threshold, len(p.Signers))
	}
	return nil
}

// Index finds the participant slot of addr, signer slots are checked first.
func (p Params) Index(addr *address.Address) (index uint8, isSigner bool, err error) {
	for i, s := range p.Signers {
		if s.Equals(addr) {
			return uint8(i), true, nil
		}
	}
	for i, s := range p.Proposers {
		if s.Equals(addr) {
			return uint8(i), false, nil
		}
	}
	return 0, false, ErrNotParticipant
}

func addrDict(list []*address.Address) (*cell.Dictionary, error) {
	d := cell.NewDict(participantBits)
	for i, a := range list {
		v := cell.BeginCell().MustStoreAddr(a).EndCell()
		if err := d.SetIntKey(big.NewInt(int64(i)), v); err != nil {
			return nil, err
		}
	}
	return d, nil
}

func dictAddrs(d *cell.Dictionary) ([]*address.Address, error) {
	if d == nil {
		return nil, nil
	}

	var res []*address.Address
	for i, kv := range d.All() {
		idx, err := kv.Key.BeginParse().LoadUInt(participantBits)
		if err != nil {
			return nil, err
		}
		// indexes are dense and start from zero
		if idx != uint64(i) {
			return nil, fmt.Errorf("%w: participant index %d at position %d", ErrUnexpectedData, idx, i)
		}

		addr, err := kv.Value.BeginParse().LoadAddr()
		if err != nil {
			return nil, fmt.Errorf("failed to load participant %d: %w", idx, err)
		}
		res = append(res, addr)
	}
	return res, nil
}

// storeParams writes threshold ^signers [signers_num] proposers, the count is only present in contract data.
func storeParams(b *cell.Builder, p Params, withCount bool) error {
	signers, err := addrDict(p.Signers)
	if err != nil {
		return err
	}
	proposers, err := addrDict(p.Proposers)
	if err != nil {
		return err
	}

	signersRoot, err := signers.AsCell()
	if err != nil {
		return err
	}

	b.MustStoreUInt(uint64(p.Threshold), thresholdBits).MustStoreRef(signersRoot)
	if withCount {
		b.MustStoreUInt(uint64(len(p.Signers)), participantsBits)
	}
	return b.StoreDict(proposers)
}

// DataCell builds the initial contract data.
func DataCell(p Params) (*cell.Cell, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	b := cell.BeginCell().MustStoreUInt(0, orderSeqnoBits)
	if err := storeParams(b, p, true); err != nil {
		return nil, fmt.Errorf("failed to store params: %w", err)
	}
	return b.MustStoreBoolBit(p.AllowArbitrarySeqno).EndCell(), nil
}

// ParseData reads next_order_seqno threshold ^signers signers_num proposers allow_arbitrary_seqno.
func ParseData(data *cell.Cell) (*Info, error) {
	s := data.BeginParse()

	seqno, err := s.LoadBigUInt(orderSeqnoBits)
	if err != nil {
		return nil, fmt.Errorf("failed to load next order seqno: %w", err)
	}
	threshold, err := s.LoadUInt(thresholdBits)
	if err != nil {
		return nil, fmt.Errorf("failed to load threshold: %w", err)
	}

	signersRoot, err := s.LoadRefCell()
	if err != nil {
		return nil, fmt.Errorf("failed to load signers: %w", err)
	}
	signersDict, err := signersRoot.AsDict(participantBits)
	if err != nil {
		return nil, fmt.Errorf("failed to parse signers: %w", err)
	}

	num, err := s.LoadUInt(participantsBits)
	if err != nil {
		return nil, fmt.Errorf("failed to load signers num: %w", err)
	}

	proposersDict, err := s.LoadDict(participantBits)
	if err != nil {
		return nil, fmt.Errorf("failed to load proposers: %w", err)
	}

	arbitrary, err := s.LoadBoolBit()
	if err != nil {
		return nil, fmt.Errorf("failed to load arbitrary seqno flag: %w", err)
	}

	info := &Info{
		Params: Params{
			Threshold:           uint8(threshold),
			AllowArbitrarySeqno: arbitrary,
		},
		NextOrderSeqno: seqno,
	}
	if info.Signers, err = dictAddrs(signersDict); err != nil {
		return nil, err
	}
	if info.Proposers, err = dictAddrs(proposersDict); err != nil {
		return nil, err
	}
	if uint64(len(info.Signers)) != num {
		return nil, fmt.Errorf("%w: %d signers stored, %d declared", ErrUnexpectedData, len(info.Signers), num)
	}
	return info, nil
}

// NextOrderSeqno picks the seqno for a new order. Without arbitrary seqno the contract
// assigns its own counter, so the sentinel is sent. Otherwise wall clock milliseconds
// are used; they can collide with an order created in the same millisecond, callers
// that can look up order addresses should pick one with FreeOrderSeqno.
func NextOrderSeqno(info *Info, now time.Time) *big.Int {
	if !info.AllowArbitrarySeqno {
		return new(big.Int).Set(UnsetSeqno)
	}
	return big.NewInt(now.UnixMilli())
}
