package signer

import (
	"context"
	"fmt"

	"github.com/oasisprotocol/curve25519-voi/primitives/ed25519"

	"github.com/xssnick/tonwallet/tvm/cell"
)

// Software signs with a private key held in memory.
type Software struct {
	key ed25519.PrivateKey
}

func NewSoftware(key ed25519.PrivateKey) (*Software, error) {
	if len(key) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("invalid private key size %d", len(key))
	}
	return &Software{key: key}, nil
}

// NewSoftwareFromSeed derives the key from a 32 byte seed.
func NewSoftwareFromSeed(seed []byte) (*Software, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("invalid seed size %d", len(seed))
	}
	return &Software{key: ed25519.NewKeyFromSeed(seed)}, nil
}

func (s *Software) Kind() Kind {
	return KindSoftware
}

func (s *Software) PublicKey() ed25519.PublicKey {
	return s.key.Public().(ed25519.PublicKey)
}

// PrivateKey is needed to encrypt comments, it is never logged or stored by this package.
func (s *Software) PrivateKey() ed25519.PrivateKey {
	return s.key
}

func (s *Software) SignCell(ctx context.Context, payload *cell.Cell) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return payload.Sign(s.key), nil
}

func (s *Software) SignData(ctx context.Context, data []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return ed25519.Sign(s.key, data), nil
}
