package wallet

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/xssnick/tonwallet/address"
	"github.com/xssnick/tonwallet/tlb"
	"github.com/xssnick/tonwallet/tvm/cell"
)

var ErrNoDestination = errors.New("message destination is not set")

// OutgoingMessage is one internal message sent by the wallet. It is immutable, With* methods return copies.
type OutgoingMessage struct {
	dst       *address.Address
	amount    tlb.Coins
	extra     map[uint32]*big.Int
	body      *cell.Cell
	stateInit *tlb.StateInit
	bounce    bool
}

type MessageOption func(*OutgoingMessage)

func WithBody(body *cell.Cell) MessageOption {
	return func(m *OutgoingMessage) {
		m.body = body
	}
}

func WithStateInit(si *tlb.StateInit) MessageOption {
	return func(m *OutgoingMessage) {
		m.stateInit = si
	}
}

func WithBounce(bounce bool) MessageOption {
	return func(m *OutgoingMessage) {
		m.bounce = bounce
	}
}

func WithExtraCurrency(id uint32, amount *big.Int) MessageOption {
	return func(m *OutgoingMessage) {
		m.extra[id] = new(big.Int).Set(amount)
	}
}

// NewMessage builds a message, bounce follows the destination address flag unless set by an option.
func NewMessage(dst *address.Address, amount tlb.Coins, opts ...MessageOption) (*OutgoingMessage, error) {
	if dst == nil || dst.IsAddrNone() {
		return nil, ErrNoDestination
	}

	m := &OutgoingMessage{
		dst:    dst.Copy(),
		amount: amount,
		extra:  map[uint32]*big.Int{},
		bounce: dst.IsBounceable(),
	}
	for _, opt := range opts {
		opt(m)
	}

	for id, v := range m.extra {
		if v.Sign() < 0 {
			return nil, fmt.Errorf("%w: negative extra currency %d", tlb.ErrInvalidAmount, id)
		}
	}
	return m, nil
}

func MustNewMessage(dst *address.Address, amount tlb.Coins, opts ...MessageOption) *OutgoingMessage {
	m, err := NewMessage(dst, amount, opts...)
	if err != nil {
		panic(err)
	}
	return m
}

func (m *OutgoingMessage) Destination() *address.Address {
	return m.dst.Copy()
}

func (m *OutgoingMessage) Amount() tlb.Coins {
	return m.amount
}

func (m *OutgoingMessage) ExtraCurrencies() map[uint32]*big.Int {
	res := make(map[uint32]*big.Int, len(m.extra))
	for id, v := range m.extra {
		res[id] = new(big.Int).Set(v)
	}
	return res
}

func (m *OutgoingMessage) Body() *cell.Cell {
	return m.body
}

func (m *OutgoingMessage) StateInit() *tlb.StateInit {
	return m.stateInit
}

func (m *OutgoingMessage) Bounce() bool {
	return m.bounce
}

func (m *OutgoingMessage) clone() *OutgoingMessage {
	cp := *m
	cp.extra = m.ExtraCurrencies()
	return &cp
}

func (m *OutgoingMessage) WithBounce(bounce bool) *OutgoingMessage {
	cp := m.clone()
	cp.bounce = bounce
	return cp
}

func (m *OutgoingMessage) WithAmount(amount tlb.Coins) *OutgoingMessage {
	cp := m.clone()
	cp.amount = amount
	return cp
}

func (m *OutgoingMessage) WithBody(body *cell.Cell) *OutgoingMessage {
	cp := m.clone()
	cp.body = body
	return cp
}

func (m *OutgoingMessage) ToInternal() (*tlb.InternalMessage, error) {
	msg := &tlb.InternalMessage{
		IHRDisabled: true,
		Bounce:      m.bounce,
		DstAddr:     m.dst,
		Amount:      m.amount,
		StateInit:   m.stateInit,
		Body:        m.body,
	}

	if len(m.extra) > 0 {
		msg.ExtraCurrencies = tlb.NewExtraCurrencies()
		for id, v := range m.extra {
			if err := msg.ExtraCurrencies.Set(id, v); err != nil {
				return nil, err
			}
		}
	}
	return msg, nil
}

// ToCell serializes the relaxed internal message the wallet sends.
func (m *OutgoingMessage) ToCell() (*cell.Cell, error) {
	msg, err := m.ToInternal()
	if err != nil {
		return nil, err
	}
	return msg.ToCell()
}

// Transfer is a set of messages sent with one mode plus optional wallet level actions.
type Transfer struct {
	Messages []*OutgoingMessage
	Mode     uint8

	// v4 only
	Plugin PluginAction
	// v5 only
	Extensions []ExtensionAction
}

func NewTransfer(mode uint8, messages ...*OutgoingMessage) *Transfer {
	return &Transfer{
		Messages: messages,
		Mode:     mode,
	}
}

// TotalAmount sums the native value of all messages.
func (t *Transfer) TotalAmount() tlb.Coins {
	sum := big.NewInt(0)
	for _, m := range t.Messages {
		sum.Add(sum, m.amount.Nano())
	}
	return tlb.FromNanoTON(sum)
}

// CarriesAllBalance reports whether the mode sends the whole balance, so values are not summed.
func (t *Transfer) CarriesAllBalance() bool {
	return t.Mode&CarryAllRemainingBalance != 0
}

// Validate checks the transfer against what the revision supports.
func (t *Transfer) Validate(ver Version) error {
	if !ver.IsSupported() {
		return fmt.Errorf("%w: %d", ErrUnsupportedWalletVersion, ver)
	}

	if len(t.Messages) > ver.MaxMessages() {
		return fmt.Errorf("%w: %d messages, %s allows %d", ErrTooManyMessages, len(t.Messages), ver, ver.MaxMessages())
	}

	if t.Plugin != nil && !ver.SupportsPlugins() {
		return fmt.Errorf("%w: plugin action on %s", ErrUnsupportedForVersion, ver)
	}
	if len(t.Extensions) > 0 && !ver.SupportsExtensions() {
		return fmt.Errorf("%w: extension action on %s", ErrUnsupportedForVersion, ver)
	}
	if t.Plugin != nil && len(t.Messages) > 0 {
		return fmt.Errorf("%w: plugin action cannot be combined with messages", ErrUnsupportedForVersion)
	}

	if len(t.Messages) == 0 && t.Plugin == nil && len(t.Extensions) == 0 {
		return ErrNoMessages
	}

	for i, m := range t.Messages {
		if m == nil {
			return fmt.Errorf("message %d is nil", i)
		}
	}
	return nil
}

// Fingerprint is the hash of the unsigned transfer content.
func (t *Transfer) Fingerprint() ([]byte, error) {
	b := cell.BeginCell().MustStoreUInt(uint64(t.Mode), 8)

	list := cell.BeginCell().EndCell()
	for i, m := range t.Messages {
		mc, err := m.ToCell()
		if err != nil {
			return nil, fmt.Errorf("failed to serialize message %d: %w", i, err)
		}
		list = cell.BeginCell().MustStoreRef(list).MustStoreRef(mc).EndCell()
	}
	b.MustStoreRef(list)

	if t.Plugin != nil {
		pc, err := t.Plugin.pluginBody()
		if err != nil {
			return nil, err
		}
		b.MustStoreRef(pc.EndCell())
	}

	if len(t.Extensions) > 0 {
		ec, err := packExtendedActions(t.Extensions)
		if err != nil {
			return nil, err
		}
		b.MustStoreRef(ec)
	}
	return b.EndCell().Hash(), nil
}
