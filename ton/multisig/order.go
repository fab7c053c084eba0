package multisig

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/xssnick/tonwallet/address"
	"github.com/xssnick/tonwallet/tlb"
	"github.com/xssnick/tonwallet/ton/wallet"
	"github.com/xssnick/tonwallet/tvm/cell"
)

// Action is one step of an order.
type Action interface {
	actionCell() (*cell.Cell, error)
}

// SendMessage makes the multisig send a message with the given mode.
type SendMessage struct {
	Message *wallet.OutgoingMessage
	Mode    uint8
}

// UpdateParams replaces threshold, signers and proposers.
type UpdateParams struct {
	Threshold uint8
	Signers   []*address.Address
	Proposers []*address.Address
}

func (a SendMessage) actionCell() (*cell.Cell, error) {
	if a.Message == nil {
		return nil, fmt.Errorf("message is required")
	}

	msg, err := a.Message.ToCell()
	if err != nil {
		return nil, fmt.Errorf("failed to serialize message: %w", err)
	}
	return cell.BeginCell().
		MustStoreUInt(OpSendMessage, 32).
		MustStoreUInt(uint64(a.Mode), 8).
		MustStoreRef(msg).
		EndCell(), nil
}

func (a UpdateParams) actionCell() (*cell.Cell, error) {
	p := Params{Threshold: a.Threshold, Signers: a.Signers, Proposers: a.Proposers}
	if err := p.Validate(); err != nil {
		return nil, err
	}

	b := cell.BeginCell().MustStoreUInt(OpUpdateParams, 32)
	if err := storeParams(b, p, false); err != nil {
		return nil, err
	}
	return b.EndCell(), nil
}

// PackOrder builds the order dictionary: action index to a ref with the action.
func PackOrder(actions []Action) (*cell.Cell, error) {
	if len(actions) == 0 {
		return nil, ErrEmptyOrder
	}
	if len(actions) > MaxActions {
		return nil, fmt.Errorf("%w: %d", ErrTooManyActions, len(actions))
	}

	for _, a := range actions {
		if _, ok := a.(UpdateParams); ok && len(actions) > 1 {
			return nil, ErrUpdateNotAlone
		}
	}

	d := cell.NewDict(8)
	for i, a := range actions {
		c, err := a.actionCell()
		if err != nil {
			return nil, fmt.Errorf("failed to build action %d: %w", i, err)
		}
		if err = d.SetIntKey(big.NewInt(int64(i)), cell.BeginCell().MustStoreRef(c).EndCell()); err != nil {
			return nil, err
		}
	}
	return d.AsCell()
}

// ActionsFromTransfer turns wallet messages into send actions keeping the transfer mode.
func ActionsFromTransfer(t *wallet.Transfer) []Action {
	res := make([]Action, 0, len(t.Messages))
	for _, m := range t.Messages {
		res = append(res, SendMessage{Message: m, Mode: t.Mode})
	}
	return res
}

type NewOrderParams struct {
	QueryID    uint64
	OrderSeqno *big.Int
	IsSigner   bool
	Index      uint8
	Expiration time.Time
	Order      *cell.Cell
}

// NewOrderBody is sent by a participant to the multisig to create an order and approve it as a signer.
func NewOrderBody(p NewOrderParams) (*cell.Cell, error) {
	if p.Order == nil {
		return nil, ErrEmptyOrder
	}
	if p.OrderSeqno == nil {
		return nil, fmt.Errorf("order seqno is required")
	}

	if p.OrderSeqno.Sign() < 0 || p.OrderSeqno.BitLen() > orderSeqnoBits {
		return nil, fmt.Errorf("order seqno does not fit %d bits", orderSeqnoBits)
	}
	exp := p.Expiration.Unix()
	if exp <= 0 || exp >= 1<<expirationBits {
		return nil, fmt.Errorf("invalid expiration %d", exp)
	}

	return cell.BeginCell().
		MustStoreUInt(OpNewOrder, 32).
		MustStoreUInt(p.QueryID, 64).
		MustStoreBigUInt(p.OrderSeqno, orderSeqnoBits).
		MustStoreBoolBit(p.IsSigner).
		MustStoreUInt(uint64(p.Index), participantBits).
		MustStoreUInt(uint64(exp), expirationBits).
		MustStoreRef(p.Order).
		EndCell(), nil
}

// ApproveBody is sent by a signer to an existing order contract.
func ApproveBody(queryID uint64, signerIndex uint8) *cell.Cell {
	return cell.BeginCell().
		MustStoreUInt(OpApprove, 32).
		MustStoreUInt(queryID, 64).
		MustStoreUInt(uint64(signerIndex), participantBits).
		EndCell()
}

// ExecuteBody is what an order sends to the multisig once approved, it is only built for emulation.
func ExecuteBody(queryID uint64, orderSeqno *big.Int, expiration time.Time, approvals uint8, signersHash []byte, order *cell.Cell) (*cell.Cell, error) {
	if len(signersHash) != 32 {
		return nil, fmt.Errorf("signers hash should be 32 bytes")
	}

	b := cell.BeginCell().
		MustStoreUInt(OpExecute, 32).
		MustStoreUInt(queryID, 64)
	if err := b.StoreBigUInt(orderSeqno, orderSeqnoBits); err != nil {
		return nil, err
	}
	return b.MustStoreUInt(uint64(expiration.Unix()), expirationBits).
		MustStoreUInt(uint64(approvals), 8).
		MustStoreSlice(signersHash, 256).
		MustStoreRef(order).
		EndCell(), nil
}

// SignersHash is the hash of the signers dictionary root the contract compares on execute.
func SignersHash(signers []*address.Address) ([]byte, error) {
	d, err := addrDict(signers)
	if err != nil {
		return nil, err
	}
	root, err := d.AsCell()
	if err != nil {
		return nil, err
	}
	if root == nil {
		return nil, fmt.Errorf("%w: no signers", ErrInvalidParams)
	}
	return root.Hash(), nil
}

// DeployStateInit is the state init of a new multisig built from caller supplied code.
func DeployStateInit(code *cell.Cell, p Params) (*tlb.StateInit, error) {
	if code == nil {
		return nil, fmt.Errorf("multisig code is required")
	}

	data, err := DataCell(p)
	if err != nil {
		return nil, err
	}
	return &tlb.StateInit{Code: code, Data: data}, nil
}

// DeployMessage deploys a multisig with an initial balance.
func DeployMessage(code *cell.Cell, p Params, workchain int8, amount tlb.Coins) (*wallet.OutgoingMessage, error) {
	si, err := DeployStateInit(code, p)
	if err != nil {
		return nil, err
	}

	addr, err := si.CalcAddress(int(workchain))
	if err != nil {
		return nil, err
	}
	return wallet.NewMessage(addr, amount, wallet.WithStateInit(si), wallet.WithBounce(false))
}

// OrderLookup finds the order contract of a seqno and whether it exists on chain.
type OrderLookup interface {
	GetOrderAddress(ctx context.Context, multisig *address.Address, seqno *big.Int) (*address.Address, error)
	GetAccountStatus(ctx context.Context, addr *address.Address) (tlb.AccountStatus, error)
}

// FreeOrderSeqno starts from NextOrderSeqno and moves forward while an order with the seqno is already deployed.
func FreeOrderSeqno(ctx context.Context, lookup OrderLookup, multisig *address.Address, info *Info, now time.Time, attempts int) (*big.Int, error) {
	seqno := NextOrderSeqno(info, now)
	if !info.AllowArbitrarySeqno {
		return seqno, nil
	}

	for i := 0; i < attempts; i++ {
		orderAddr, err := lookup.GetOrderAddress(ctx, multisig, seqno)
		if err != nil {
			return nil, fmt.Errorf("failed to get order address: %w", err)
		}

		st, err := lookup.GetAccountStatus(ctx, orderAddr)
		if err != nil {
			return nil, fmt.Errorf("failed to get order status: %w", err)
		}
		if st == tlb.AccountStatusNonExist || st == tlb.AccountStatusUninit {
			return seqno, nil
		}
		seqno = new(big.Int).Add(seqno, big.NewInt(1))
	}
	return nil, ErrSeqnoCollision
}
