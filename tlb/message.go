package tlb

import (
	"errors"
	"fmt"

	"github.com/xssnick/tonwallet/address"
	"github.com/xssnick/tonwallet/tvm/cell"
)

var (
	ErrUnexpectedOpcode = errors.New("unexpected opcode")
	ErrUnknownMsgType   = errors.New("unknown message type")
)

type MsgType string

const (
	MsgTypeInternal   MsgType = "INTERNAL"
	MsgTypeExternalIn MsgType = "EXTERNAL_IN"
)

// InternalMessage is a message between contracts. Built by a wallet it is the relaxed form,
// source is left empty and filled by the validator.
type InternalMessage struct {
	IHRDisabled     bool
	Bounce          bool
	Bounced         bool
	SrcAddr         *address.Address
	DstAddr         *address.Address
	Amount          Coins
	ExtraCurrencies *ExtraCurrencies
	IHRFee          Coins
	FwdFee          Coins
	CreatedLT       uint64
	CreatedAt       uint32

	StateInit *StateInit
	Body      *cell.Cell
}

// ExternalMessage is an inbound message from outside the chain, used to deliver signed wallet bodies.
type ExternalMessage struct {
	SrcAddr   *address.Address
	DstAddr   *address.Address
	ImportFee Coins

	StateInit *StateInit
	Body      *cell.Cell
}

type Message struct {
	MsgType MsgType
	Msg     any
}

func (m *InternalMessage) Comment() string {
	if m.Body == nil {
		return ""
	}
	text, err := ParseComment(m.Body)
	if err != nil {
		return ""
	}
	return text
}

func (m *InternalMessage) ToCell() (*cell.Cell, error) {
	b := cell.BeginCell()
	b.MustStoreUInt(0, 1)
	b.MustStoreBoolBit(m.IHRDisabled)
	b.MustStoreBoolBit(m.Bounce)
	b.MustStoreBoolBit(m.Bounced)

	if err := b.StoreAddr(m.SrcAddr); err != nil {
		return nil, fmt.Errorf("failed to store source: %w", err)
	}
	if err := b.StoreAddr(m.DstAddr); err != nil {
		return nil, fmt.Errorf("failed to store destination: %w", err)
	}
	if err := b.StoreBigCoins(m.Amount.Nano()); err != nil {
		return nil, fmt.Errorf("failed to store amount: %w", err)
	}

	var extra *cell.Dictionary
	if m.ExtraCurrencies != nil {
		var err error
		if extra, err = m.ExtraCurrencies.ToDict(); err != nil {
			return nil, err
		}
	}
	if err := b.StoreDict(extra); err != nil {
		return nil, fmt.Errorf("failed to store extra currencies: %w", err)
	}

	if err := b.StoreBigCoins(m.IHRFee.Nano()); err != nil {
		return nil, err
	}
	if err := b.StoreBigCoins(m.FwdFee.Nano()); err != nil {
		return nil, err
	}
	if err := b.StoreUInt(m.CreatedLT, 64); err != nil {
		return nil, err
	}
	if err := b.StoreUInt(uint64(m.CreatedAt), 32); err != nil {
		return nil, err
	}

	if err := appendStateInitAndBody(b, m.StateInit, m.Body); err != nil {
		return nil, err
	}
	return b.EndCell(), nil
}

func (m *InternalMessage) LoadFromCell(loader *cell.Slice) error {
	tag, err := loader.LoadUInt(1)
	if err != nil {
		return err
	}
	if tag != 0 {
		return fmt.Errorf("%w: not an internal message", ErrUnexpectedOpcode)
	}

	if m.IHRDisabled, err = loader.LoadBoolBit(); err != nil {
		return err
	}
	if m.Bounce, err = loader.LoadBoolBit(); err != nil {
		return err
	}
	if m.Bounced, err = loader.LoadBoolBit(); err != nil {
		return err
	}
	if m.SrcAddr, err = loader.LoadAddr(); err != nil {
		return fmt.Errorf("failed to load source: %w", err)
	}
	if m.DstAddr, err = loader.LoadAddr(); err != nil {
		return fmt.Errorf("failed to load destination: %w", err)
	}
	if err = m.Amount.LoadFromCell(loader); err != nil {
		return fmt.Errorf("failed to load amount: %w", err)
	}

	extra, err := loader.LoadDict(32)
	if err != nil {
		return fmt.Errorf("failed to load extra currencies: %w", err)
	}
	if !extra.IsEmpty() {
		if m.ExtraCurrencies, err = ExtraCurrenciesFromDict(extra); err != nil {
			return err
		}
	}

	if err = m.IHRFee.LoadFromCell(loader); err != nil {
		return err
	}
	if err = m.FwdFee.LoadFromCell(loader); err != nil {
		return err
	}
	if m.CreatedLT, err = loader.LoadUInt(64); err != nil {
		return err
	}
	at, err := loader.LoadUInt(32)
	if err != nil {
		return err
	}
	m.CreatedAt = uint32(at)

	m.StateInit, m.Body, err = loadStateInitAndBody(loader)
	return err
}

func (m *ExternalMessage) ToCell() (*cell.Cell, error) {
	b := cell.BeginCell().MustStoreUInt(0b10, 2)
	if err := b.StoreAddr(m.SrcAddr); err != nil {
		return nil, err
	}
	if err := b.StoreAddr(m.DstAddr); err != nil {
		return nil, err
	}
	if err := b.StoreBigCoins(m.ImportFee.Nano()); err != nil {
		return nil, err
	}

	if err := appendStateInitAndBody(b, m.StateInit, m.Body); err != nil {
		return nil, err
	}
	return b.EndCell(), nil
}

func (m *ExternalMessage) LoadFromCell(loader *cell.Slice) error {
	tag, err := loader.LoadUInt(2)
	if err != nil {
		return err
	}
	if tag != 0b10 {
		return fmt.Errorf("%w: not an external inbound message", ErrUnexpectedOpcode)
	}

	if m.SrcAddr, err = loader.LoadAddr(); err != nil {
		return err
	}
	if m.DstAddr, err = loader.LoadAddr(); err != nil {
		return err
	}
	if err = m.ImportFee.LoadFromCell(loader); err != nil {
		return err
	}

	m.StateInit, m.Body, err = loadStateInitAndBody(loader)
	return err
}

func (m *Message) LoadFromCell(loader *cell.Slice) error {
	tag, err := loader.Copy().LoadUInt(2)
	if err != nil {
		return fmt.Errorf("failed to load message tag: %w", err)
	}

	switch {
	case tag>>1 == 0:
		var msg InternalMessage
		if err = msg.LoadFromCell(loader); err != nil {
			return fmt.Errorf("failed to parse internal message: %w", err)
		}
		m.MsgType, m.Msg = MsgTypeInternal, &msg
	case tag == 0b10:
		var msg ExternalMessage
		if err = msg.LoadFromCell(loader); err != nil {
			return fmt.Errorf("failed to parse external message: %w", err)
		}
		m.MsgType, m.Msg = MsgTypeExternalIn, &msg
	default:
		return ErrUnknownMsgType
	}
	return nil
}

func (m *Message) AsInternal() *InternalMessage {
	return m.Msg.(*InternalMessage)
}

func (m *Message) AsExternalIn() *ExternalMessage {
	return m.Msg.(*ExternalMessage)
}

// appendStateInitAndBody stores init and body inline when they fit, otherwise as refs.
func appendStateInitAndBody(b *cell.Builder, stateInit *StateInit, body *cell.Cell) error {
	if b.BitsLeft() < 2 {
		return fmt.Errorf("not enough space to serialize state init and body")
	}

	if stateInit == nil {
		b.MustStoreBoolBit(false)
	} else {
		sc, err := stateInit.ToCell()
		if err != nil {
			return fmt.Errorf("failed to serialize state init: %w", err)
		}

		b.MustStoreBoolBit(true)
		// 2 flag bits for init and body, one ref kept for the body
		if int(sc.BitsSize()) > int(b.BitsLeft())-2 || sc.RefsNum() > int(b.RefsLeft())-1 {
			b.MustStoreBoolBit(true)
			err = b.StoreRef(sc)
		} else {
			b.MustStoreBoolBit(false)
			err = b.StoreBuilder(sc.ToBuilder())
		}
		if err != nil {
			return fmt.Errorf("failed to store state init: %w", err)
		}
	}

	if body == nil {
		return b.StoreBoolBit(false)
	}

	var err error
	if int(body.BitsSize()) > int(b.BitsLeft())-1 || body.RefsNum() > int(b.RefsLeft()) {
		b.MustStoreBoolBit(true)
		err = b.StoreRef(body)
	} else {
		b.MustStoreBoolBit(false)
		err = b.StoreBuilder(body.ToBuilder())
	}
	if err != nil {
		return fmt.Errorf("failed to store body: %w", err)
	}
	return nil
}

func loadStateInitAndBody(loader *cell.Slice) (*StateInit, *cell.Cell, error) {
	hasInit, err := loader.LoadBoolBit()
	if err != nil {
		return nil, nil, err
	}

	var si *StateInit
	if hasInit {
		asRef, err := loader.LoadBoolBit()
		if err != nil {
			return nil, nil, err
		}

		from := loader
		if asRef {
			if from, err = loader.LoadRef(); err != nil {
				return nil, nil, fmt.Errorf("failed to load state init ref: %w", err)
			}
		}

		si = &StateInit{}
		if err = si.LoadFromCell(from); err != nil {
			return nil, nil, fmt.Errorf("failed to load state init: %w", err)
		}
	}

	bodyRef, err := loader.LoadBoolBit()
	if err != nil {
		return nil, nil, err
	}

	var body *cell.Cell
	if bodyRef {
		body, err = loader.LoadRefCell()
	} else {
		body, err = loader.ToCell()
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load body: %w", err)
	}
	return si, body, nil
}
