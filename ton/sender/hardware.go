package sender

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/xssnick/tonwallet/tlb"
	"github.com/xssnick/tonwallet/ton"
	"github.com/xssnick/tonwallet/ton/signer"
	"github.com/xssnick/tonwallet/ton/transfer"
	"github.com/xssnick/tonwallet/ton/wallet"
	"github.com/xssnick/tonwallet/tvm/cell"
)

var ErrSeqnoChanged = errors.New("wallet seqno changed after signing")

// HardwareSender is the direct flow for device signers. It can sign several requests
// with one device interaction and prepare single transfers that are signed before estimation.
type HardwareSender struct {
	*WalletSender
	statuses transfer.AccountStatusSource
	jettons  transfer.JettonWalletResolver
}

func NewHardwareSender(chain ton.ChainAPI, id *wallet.Identity, statuses transfer.AccountStatusSource, jettons transfer.JettonWalletResolver, opts ...Option) (*HardwareSender, error) {
	w, err := NewWalletSender(chain, id, opts...)
	if err != nil {
		return nil, err
	}
	return &HardwareSender{WalletSender: w, statuses: statuses, jettons: jettons}, nil
}

func checkHardware(sg signer.Signer) error {
	if err := checkSigner(sg); err != nil {
		return err
	}
	if sg.Kind() != signer.KindHardware {
		return fmt.Errorf("%w: %s", ErrWrongSignerKind, sg.Kind())
	}
	return nil
}

func (s *HardwareSender) Send(ctx context.Context, t *wallet.Transfer, est *Estimation, sg signer.Signer) (*Result, error) {
	if err := checkHardware(sg); err != nil {
		return nil, err
	}
	return s.WalletSender.Send(ctx, t, est, sg)
}

// EstimateBatch emulates every transfer of a batch with consecutive seqnos and sums the fees.
func (s *HardwareSender) EstimateBatch(ctx context.Context, transfers []*wallet.Transfer) (*Estimation, error) {
	batch, err := s.batchFingerprint(transfers)
	if err != nil {
		return nil, err
	}

	acc, err := s.state(ctx)
	if err != nil {
		return nil, err
	}
	serverTime, _, err := s.serverTime(ctx)
	if err != nil {
		return nil, err
	}

	total := &ton.EffectPreview{Fee: tlb.ZeroCoins}
	for i, t := range transfers {
		st := *acc
		st.Seqno = acc.Seqno + uint32(i)
		if i > 0 {
			// the first request deploys the wallet
			st.Status = tlb.AccountStatusActive
		}

		ext, err := s.stubExternal(ctx, t, &st, serverTime+s.ttlSeconds())
		if err != nil {
			return nil, fmt.Errorf("failed to build request %d: %w", i, err)
		}
		preview, err := s.chain.Emulate(ctx, ext)
		if err != nil {
			return nil, fmt.Errorf("failed to emulate request %d: %w", i, err)
		}

		if total.Fee, err = total.Fee.Add(preview.Fee); err != nil {
			return nil, err
		}
		total.Legs = append(total.Legs, preview.Legs...)
	}

	return newEstimation(StrategySelf, batch, Fee{Asset: AssetTON, Amount: total.Fee}, total, s.opts.clk.Now())
}

// batchFingerprint folds a batch into one transfer so a batch estimation is bound to all of it.
func (s *HardwareSender) batchFingerprint(transfers []*wallet.Transfer) (*wallet.Transfer, error) {
	if len(transfers) == 0 {
		return nil, ErrEmptyBatch
	}

	var all []*wallet.OutgoingMessage
	for i, t := range transfers {
		if err := t.Validate(s.id.Version); err != nil {
			return nil, fmt.Errorf("request %d: %w", i, err)
		}
		if t.CarriesAllBalance() && i != len(transfers)-1 {
			return nil, fmt.Errorf("request %d: only the last request of a batch can send all balance", i)
		}
		all = append(all, t.Messages...)
	}

	// the mode byte is the batch length so different splits of the same messages differ
	return wallet.NewTransfer(uint8(len(transfers)), all...), nil
}

// SendBatch signs all requests with one signer call and broadcasts them in seqno order.
func (s *HardwareSender) SendBatch(ctx context.Context, transfers []*wallet.Transfer, est *Estimation, sg signer.Signer) (res []*Result, err error) {
	defer func() {
		var last *Result
		if len(res) > 0 {
			last = res[len(res)-1]
		}
		s.opts.report(StrategySelf, last, err, zap.String("wallet", s.addr.String()), zap.Int("batch", len(transfers)))
	}()

	if err = checkHardware(sg); err != nil {
		return nil, err
	}
	batch, err := s.batchFingerprint(transfers)
	if err != nil {
		return nil, err
	}

	p := newPipeline(sendFlow)
	if err = consume(est, StrategySelf, batch, s.opts.clk.Now(), s.opts.maxAge); err != nil {
		return nil, err
	}
	if err = p.advance(StateEstimated); err != nil {
		return nil, err
	}

	acc, err := s.state(ctx)
	if err != nil {
		return nil, err
	}

	required := est.Fee.Amount
	for _, t := range transfers {
		if required, err = required.Add(requiredValue(t)); err != nil {
			return nil, err
		}
	}
	if err = checkBalance(AssetTON, required, acc.Balance); err != nil {
		return nil, err
	}
	if err = p.advance(StateBalanceChecked); err != nil {
		return nil, err
	}

	serverTime, offset, err := s.serverTime(ctx)
	if err != nil {
		return nil, err
	}
	validUntil := serverTime + s.ttlSeconds()

	payloads := make([]*cell.Cell, 0, len(transfers))
	for i, t := range transfers {
		payload, err := s.id.BuildPayload(wallet.Request{
			Seqno:      acc.Seqno + uint32(i),
			ValidUntil: validUntil,
			Transfer:   t,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to build request %d: %w", i, err)
		}
		payloads = append(payloads, payload)
	}

	start := s.opts.clk.Now()
	sigs, err := signer.SignAll(ctx, sg, payloads)
	s.opts.metrics.ObserveSign(sg.Kind().String(), s.opts.clk.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("failed to sign batch: %w", err)
	}
	if err = p.advance(StateSigned); err != nil {
		return nil, err
	}

	msgs := make([]*signedMessage, 0, len(transfers))
	for i := range payloads {
		body, err := s.id.AttachSignature(payloads[i], sigs[i])
		if err != nil {
			return nil, err
		}

		ext, err := s.id.WrapExternal(body, i == 0 && acc.Status != tlb.AccountStatusActive)
		if err != nil {
			return nil, err
		}
		c, err := ext.ToCell()
		if err != nil {
			return nil, fmt.Errorf("failed to serialize request %d: %w", i, err)
		}

		msgs = append(msgs, &signedMessage{
			ext:        ext,
			cell:       c,
			boc:        c.ToBOCWithFlags(false),
			seqno:      acc.Seqno + uint32(i),
			validUntil: validUntil,
			offset:     offset,
		})
	}
	if err = p.advance(StateWrapped); err != nil {
		return nil, err
	}

	if s.opts.expired(validUntil, offset) {
		return nil, fmt.Errorf("%w: valid until %d", ErrMessageExpired, validUntil)
	}

	for i, m := range msgs {
		if err = s.chain.Broadcast(ctx, m.boc); err != nil {
			return res, fmt.Errorf("failed to broadcast request %d: %w", i, err)
		}
		res = append(res, &Result{
			State:      StateBroadcast,
			Seqno:      m.seqno,
			ValidUntil: m.validUntil,
			Hash:       m.cell.Hash(),
			BOC:        m.boc,
		})
	}
	if err = p.advance(StateBroadcast); err != nil {
		return nil, err
	}
	return res, nil
}

// Prepared is one signed request with its own estimate and send, the device is asked once.
type Prepared struct {
	s   *HardwareSender
	t   *wallet.Transfer
	msg *signedMessage

	mu  sync.Mutex
	p   *pipeline
	est *Estimation
}

func (s *HardwareSender) TonTransfer(ctx context.Context, sg signer.Signer, p transfer.NativeParams) (*Prepared, error) {
	t, err := transfer.Native(ctx, s.statuses, p)
	if err != nil {
		return nil, err
	}
	return s.Prepare(ctx, t, sg)
}

func (s *HardwareSender) JettonTransfer(ctx context.Context, sg signer.Signer, p transfer.JettonParams) (*Prepared, error) {
	if p.Owner == nil {
		p.Owner = s.Address()
	}
	t, err := transfer.Jetton(ctx, s.jettons, p)
	if err != nil {
		return nil, err
	}
	return s.Prepare(ctx, t, sg)
}

func (s *HardwareSender) NFTTransfer(ctx context.Context, sg signer.Signer, p transfer.NFTParams) (*Prepared, error) {
	t, err := transfer.NFT(p)
	if err != nil {
		return nil, err
	}
	return s.Prepare(ctx, t, sg)
}

// Prepare signs the transfer right away, Estimate and Send of the result reuse this signature.
func (s *HardwareSender) Prepare(ctx context.Context, t *wallet.Transfer, sg signer.Signer) (*Prepared, error) {
	if err := checkHardware(sg); err != nil {
		return nil, err
	}
	if err := t.Validate(s.id.Version); err != nil {
		return nil, err
	}

	acc, err := s.state(ctx)
	if err != nil {
		return nil, err
	}

	p := newPipeline(preparedFlow)
	msg, err := s.signAndWrap(ctx, p, t, acc, sg)
	if err != nil {
		return nil, err
	}

	return &Prepared{s: s, t: t, msg: msg, p: p}, nil
}

func (pr *Prepared) Transfer() *wallet.Transfer {
	return pr.t
}

// Estimate emulates the signed message. It has to be called once before Send.
func (pr *Prepared) Estimate(ctx context.Context) (*Estimation, error) {
	pr.mu.Lock()
	defer pr.mu.Unlock()

	if pr.p.State() != StateWrapped {
		return nil, fmt.Errorf("%w: estimate in state %s", ErrInvalidTransition, pr.p.State())
	}

	preview, err := pr.s.chain.Emulate(ctx, pr.msg.ext)
	if err != nil {
		return nil, fmt.Errorf("failed to emulate message: %w", err)
	}

	est, err := newEstimation(StrategySelf, pr.t, Fee{Asset: AssetTON, Amount: preview.Fee}, preview, pr.s.opts.clk.Now())
	if err != nil {
		return nil, err
	}
	if err = pr.p.advance(StateEstimated); err != nil {
		return nil, err
	}
	pr.est = est
	return est, nil
}

// Send checks the balance against the estimation and broadcasts the signed message.
func (pr *Prepared) Send(ctx context.Context) (res *Result, err error) {
	pr.mu.Lock()
	defer pr.mu.Unlock()

	s := pr.s
	defer func() {
		s.opts.report(StrategySelf, res, err, zap.String("wallet", s.addr.String()))
	}()

	if pr.p.State() != StateEstimated {
		return nil, fmt.Errorf("%w: send in state %s", ErrInvalidTransition, pr.p.State())
	}
	if err = consume(pr.est, StrategySelf, pr.t, s.opts.clk.Now(), s.opts.maxAge); err != nil {
		return nil, err
	}

	acc, err := s.state(ctx)
	if err != nil {
		return nil, err
	}
	if acc.Seqno != pr.msg.seqno {
		return nil, fmt.Errorf("%w: signed for %d, wallet is at %d", ErrSeqnoChanged, pr.msg.seqno, acc.Seqno)
	}

	required, err := requiredValue(pr.t).Add(pr.est.Fee.Amount)
	if err != nil {
		return nil, err
	}
	if err = checkBalance(AssetTON, required, acc.Balance); err != nil {
		return nil, err
	}
	if err = pr.p.advance(StateBalanceChecked); err != nil {
		return nil, err
	}

	return s.opts.submit(ctx, pr.p, pr.msg, s.chain.Broadcast)
}
