package signer

import (
	"context"
	"errors"
	"fmt"

	"github.com/xssnick/tonwallet/tvm/cell"
)

// Kind tells senders how a signer authorizes payloads.
type Kind int

const (
	KindSoftware Kind = iota + 1
	KindHardware
	KindRemote
	KindEmulation
)

func (k Kind) String() string {
	switch k {
	case KindSoftware:
		return "software"
	case KindHardware:
		return "hardware"
	case KindRemote:
		return "remote"
	case KindEmulation:
		return "emulation"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// HashesInternally reports whether the signer hashes data itself, so it has to get the pre-hash message.
func (k Kind) HashesInternally() bool {
	return k == KindHardware || k == KindRemote
}

var (
	ErrCanceled          = errors.New("signing was canceled by user")
	ErrSignatureMismatch = errors.New("number of signatures does not match payloads")
)

// Signer authorizes one operation. It is never stored, callers get a fresh one per operation.
type Signer interface {
	Kind() Kind
	// SignCell signs the representation hash of the payload.
	SignCell(ctx context.Context, payload *cell.Cell) ([]byte, error)
	// SignData signs arbitrary bytes as is.
	SignData(ctx context.Context, data []byte) ([]byte, error)
}

// BatchSigner signs several payloads in one user interaction, signatures keep the payload order.
type BatchSigner interface {
	Signer
	SignCells(ctx context.Context, payloads []*cell.Cell) ([][]byte, error)
}

// BatchError is returned when a batch was interrupted after some payloads got signed.
type BatchError struct {
	Signed [][]byte
	Err    error
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("batch interrupted after %d signatures: %s", len(e.Signed), e.Err.Error())
}

func (e *BatchError) Unwrap() error {
	return e.Err
}

// IsCanceled distinguishes user cancellation from failures, it must not be retried or reported as an error.
func IsCanceled(err error) bool {
	return errors.Is(err, ErrCanceled) || errors.Is(err, context.Canceled)
}

// SignAll signs payloads with one call when the signer supports batches, one by one otherwise.
func SignAll(ctx context.Context, s Signer, payloads []*cell.Cell) ([][]byte, error) {
	if bs, ok := s.(BatchSigner); ok {
		sigs, err := bs.SignCells(ctx, payloads)
		if err != nil {
			return nil, err
		}
		if len(sigs) != len(payloads) {
			return nil, fmt.Errorf("%w: got %d for %d", ErrSignatureMismatch, len(sigs), len(payloads))
		}
		return sigs, nil
	}

	sigs := make([][]byte, 0, len(payloads))
	for _, p := range payloads {
		sig, err := s.SignCell(ctx, p)
		if err != nil {
			if len(sigs) > 0 {
				return nil, &BatchError{Signed: sigs, Err: err}
			}
			return nil, err
		}
		sigs = append(sigs, sig)
	}
	return sigs, nil
}
