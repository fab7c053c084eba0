package tonconnect

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/xssnick/tonwallet/address"
	"github.com/xssnick/tonwallet/tlb"
	"github.com/xssnick/tonwallet/ton/signer"
	"github.com/xssnick/tonwallet/ton/wallet"
	"github.com/xssnick/tonwallet/tvm/cell"
)

const (
	tonProofPrefix   = "ton-proof-item-v2/"
	tonConnectPrefix = "ton-connect"
	maxDomainLen     = 2048
)

var (
	ErrDomainTooLong     = errors.New("domain length too big")
	ErrProofDomain       = errors.New("invalid domain in proof")
	ErrProofExpired      = errors.New("timestamp out of allowed range")
	ErrProofSignature    = errors.New("signature verification failed")
	ErrUnknownWalletCode = errors.New("state init has unknown code")
)

// ProofMessage is the pre-hash ownership message:
// "ton-proof-item-v2/" ++ workchain(BE) ++ hash ++ domainLen(LE) ++ domain ++ timestamp(LE) ++ payload.
func ProofMessage(addr *address.Address, domain string, timestamp int64, payload string) ([]byte, error) {
	if len(domain) > maxDomainLen {
		return nil, ErrDomainTooLong
	}

	var msg bytes.Buffer
	msg.WriteString(tonProofPrefix)
	_ = binary.Write(&msg, binary.BigEndian, addr.Workchain())
	msg.Write(addr.Data())
	_ = binary.Write(&msg, binary.LittleEndian, uint32(len(domain)))
	msg.WriteString(domain)
	_ = binary.Write(&msg, binary.LittleEndian, timestamp)
	msg.WriteString(payload)
	return msg.Bytes(), nil
}

// proofSigningMessage is 0xffff ++ "ton-connect" ++ sha256(message), its sha256 is what gets signed.
func proofSigningMessage(message []byte) []byte {
	h := sha256.Sum256(message)

	var full bytes.Buffer
	full.Write([]byte{0xff, 0xff})
	full.WriteString(tonConnectPrefix)
	full.Write(h[:])
	return full.Bytes()
}

// SignProof signs the ownership proof. Signers that hash on their own side get the
// pre-hash message, the others get its hash; both produce the same signature.
func SignProof(ctx context.Context, s signer.Signer, addr *address.Address, domain string, timestamp int64, payload string) (*TonProof, error) {
	msg, err := ProofMessage(addr, domain, timestamp, payload)
	if err != nil {
		return nil, err
	}
	full := proofSigningMessage(msg)

	var sig []byte
	if s.Kind().HashesInternally() {
		sig, err = s.SignData(ctx, full)
	} else {
		h := sha256.Sum256(full)
		sig, err = s.SignData(ctx, h[:])
	}
	if err != nil {
		return nil, fmt.Errorf("failed to sign proof: %w", err)
	}

	return &TonProof{
		Timestamp: timestamp,
		Domain: ProofDomain{
			LengthBytes: uint32(len(domain)),
			Value:       domain,
		},
		Signature: sig,
		Payload:   payload,
	}, nil
}

// ProofVerifier checks proofs on the dApp backend side.
type ProofVerifier struct {
	domain string
	ttl    time.Duration
	now    func() time.Time
}

func NewProofVerifier(domain string, ttl time.Duration) *ProofVerifier {
	return &ProofVerifier{
		domain: domain,
		ttl:    ttl,
		now:    time.Now,
	}
}

func (v *ProofVerifier) Verify(addr *address.Address, proof *TonProof, key ed25519.PublicKey) error {
	if !strings.EqualFold(proof.Domain.Value, v.domain) {
		return ErrProofDomain
	}
	if proof.Domain.LengthBytes != uint32(len(proof.Domain.Value)) {
		return fmt.Errorf("%w: length mismatch", ErrProofDomain)
	}

	if skew := v.now().Sub(time.Unix(proof.Timestamp, 0)); skew > v.ttl || skew < -v.ttl {
		return ErrProofExpired
	}

	msg, err := ProofMessage(addr, proof.Domain.Value, proof.Timestamp, proof.Payload)
	if err != nil {
		return err
	}
	h := sha256.Sum256(proofSigningMessage(msg))

	if len(proof.Signature) != ed25519.SignatureSize || len(key) != ed25519.PublicKeySize {
		return fmt.Errorf("%w: bad signature or key size", ErrProofSignature)
	}
	if !ed25519.Verify(key, h[:], proof.Signature) {
		return ErrProofSignature
	}
	return nil
}

// PublicKeyFromStateInit takes the key from the state init a dApp got in ton_addr,
// after checking that it belongs to the address.
func PublicKeyFromStateInit(addr *address.Address, stateInit []byte) (ed25519.PublicKey, error) {
	if len(stateInit) == 0 {
		return nil, errors.New("state init is empty")
	}

	siCell, err := cell.FromBOC(stateInit)
	if err != nil {
		return nil, fmt.Errorf("failed to parse state init boc: %w", err)
	}
	if !bytes.Equal(siCell.Hash(), addr.Data()) {
		return nil, errors.New("state init hash does not match address")
	}

	var si tlb.StateInit
	if err = si.LoadFromCell(siCell.BeginParse()); err != nil {
		return nil, fmt.Errorf("failed to parse state init: %w", err)
	}
	if si.Code == nil || si.Data == nil {
		return nil, errors.New("state init has no code or data")
	}

	ver, ok := wallet.VersionByCode(si.Code)
	if !ok {
		return nil, ErrUnknownWalletCode
	}

	key, err := wallet.PublicKeyFromData(ver, si.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse public key: %w", err)
	}
	return ed25519.PublicKey(key), nil
}
