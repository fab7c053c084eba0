package sender

import (
	"errors"
	"fmt"

	"github.com/xssnick/tonwallet/tlb"
)

var (
	ErrInvalidTransition   = errors.New("invalid send state transition")
	ErrMessageExpired      = errors.New("signed message has expired")
	ErrStaleEstimation     = errors.New("estimation does not match the transfer")
	ErrEstimationUsed      = errors.New("estimation was already used")
	ErrNoEstimation        = errors.New("estimation is required")
	ErrEmulationSigner     = errors.New("emulation signer cannot authorize a broadcast")
	ErrNoSigner            = errors.New("signer is required")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrGaslessNotAllowed   = errors.New("transfer cannot be sent gasless")
	ErrWrongSignerKind     = errors.New("signer kind is not supported by this sender")
	ErrPollSuperseded      = errors.New("confirmation poll was superseded by a newer send")
	ErrConfirmationTimeout = errors.New("confirmation was not received in time")
	ErrConfirmationFailed  = errors.New("confirmation failed")
	ErrEmptyBatch          = errors.New("batch is empty")
)

// InsufficientBalanceError carries what was needed and what the account has.
type InsufficientBalanceError struct {
	Asset     Asset
	Required  tlb.Coins
	Available tlb.Coins
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient %s balance: required %s, available %s", e.Asset.Symbol, e.Required.String(), e.Available.String())
}

func (e *InsufficientBalanceError) Is(target error) bool {
	return target == ErrInsufficientBalance
}

func checkBalance(asset Asset, required, available tlb.Coins) error {
	if required.Compare(available) > 0 {
		return &InsufficientBalanceError{
			Asset:     asset,
			Required:  required,
			Available: available,
		}
	}
	return nil
}
