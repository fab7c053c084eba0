package signer

import (
	"context"
	"fmt"

	"github.com/xssnick/tonwallet/tvm/cell"
)

// Device is a connected hardware wallet. Implementations return ErrCanceled
// (or an error wrapping it) when the user rejects on the device, together with
// the signatures made before the rejection.
type Device interface {
	SignTransactions(ctx context.Context, payloads []*cell.Cell) ([][]byte, error)
	// SignProof gets the pre-hash message, the device hashes it itself.
	SignProof(ctx context.Context, message []byte) ([]byte, error)
}

type Hardware struct {
	dev Device
}

func NewHardware(dev Device) *Hardware {
	return &Hardware{dev: dev}
}

func (h *Hardware) Kind() Kind {
	return KindHardware
}

func (h *Hardware) SignCell(ctx context.Context, payload *cell.Cell) ([]byte, error) {
	sigs, err := h.SignCells(ctx, []*cell.Cell{payload})
	if err != nil {
		return nil, err
	}
	return sigs[0], nil
}

func (h *Hardware) SignCells(ctx context.Context, payloads []*cell.Cell) ([][]byte, error) {
	if len(payloads) == 0 {
		return nil, nil
	}

	sigs, err := h.dev.SignTransactions(ctx, payloads)
	if err != nil {
		if len(sigs) > 0 && len(sigs) < len(payloads) {
			return nil, &BatchError{Signed: sigs, Err: err}
		}
		return nil, fmt.Errorf("device failed to sign: %w", err)
	}
	if len(sigs) != len(payloads) {
		return nil, fmt.Errorf("%w: device returned %d for %d", ErrSignatureMismatch, len(sigs), len(payloads))
	}
	return sigs, nil
}

func (h *Hardware) SignData(ctx context.Context, data []byte) ([]byte, error) {
	sig, err := h.dev.SignProof(ctx, data)
	if err != nil {
		return nil, fmt.Errorf("device failed to sign data: %w", err)
	}
	return sig, nil
}
