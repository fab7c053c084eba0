package wallet

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/ed25519"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha512"
	"errors"
	"fmt"

	"github.com/oasisprotocol/curve25519-voi/curve"
	ed25519crv "github.com/oasisprotocol/curve25519-voi/primitives/ed25519"
	"github.com/oasisprotocol/curve25519-voi/primitives/x25519"

	"github.com/xssnick/tonwallet/address"
	"github.com/xssnick/tonwallet/tlb"
	"github.com/xssnick/tonwallet/tvm/cell"
)

var (
	ErrNotEncryptedComment = errors.New("body is not an encrypted comment")
	ErrWrongCommentKeys    = errors.New("comment was encrypted for other keys")
	ErrCorruptedComment    = errors.New("encrypted comment is corrupted")
)

// sharedKey is the x25519 ECDH secret of our ed25519 key and their ed25519 public key.
func sharedKey(ourKey ed25519.PrivateKey, theirKey ed25519.PublicKey) ([]byte, error) {
	comp, err := curve.NewCompressedEdwardsYFromBytes(theirKey)
	if err != nil {
		return nil, err
	}

	ep, err := curve.NewEdwardsPoint().SetCompressedY(comp)
	if err != nil {
		return nil, err
	}

	mp := curve.NewMontgomeryPoint().SetEdwards(ep)
	sk := x25519.EdPrivateKeyToX25519(ed25519crv.PrivateKey(ourKey))

	return x25519.X25519(sk, mp[:])
}

func commentCipher(shared, msgKey []byte) (cipher.Block, []byte, error) {
	h := hmac.New(sha512.New, shared)
	h.Write(msgKey)
	x := h.Sum(nil)

	c, err := aes.NewCipher(x[:32])
	if err != nil {
		return nil, nil, err
	}
	return c, x[32:48], nil
}

// EncryptComment builds an encrypted comment body readable by the holder of theirKey.
// sender is the wallet that sends the message, it salts the message key.
func EncryptComment(text string, sender *address.Address, ourKey ed25519.PrivateKey, theirKey ed25519.PublicKey) (*cell.Cell, error) {
	shared, err := sharedKey(ourKey, theirKey)
	if err != nil {
		return nil, fmt.Errorf("failed to compute shared key: %w", err)
	}

	data := []byte(text)

	// random prefix of 16 to 31 bytes pads data to the block size, first byte is its length
	pfxSz := 16
	if len(data)%16 != 0 {
		pfxSz += 16 - len(data)%16
	}

	pfx := make([]byte, pfxSz)
	pfx[0] = byte(pfxSz)
	if _, err = rand.Read(pfx[1:]); err != nil {
		return nil, fmt.Errorf("failed to generate prefix: %w", err)
	}
	data = append(pfx, data...)

	h := hmac.New(sha512.New, []byte(sender.String()))
	h.Write(data)
	msgKey := h.Sum(nil)[:16]

	c, iv, err := commentCipher(shared, msgKey)
	if err != nil {
		return nil, err
	}
	cipher.NewCBCEncrypter(c, iv).CryptBlocks(data, data)

	xorKey := make([]byte, 32)
	ourPub := ourKey.Public().(ed25519.PublicKey)
	for i := range xorKey {
		xorKey[i] = ourPub[i] ^ theirKey[i]
	}

	root := cell.BeginCell().
		MustStoreUInt(tlb.OpEncryptedComment, 32).
		MustStoreSlice(xorKey, 256).
		MustStoreSlice(msgKey, 128)
	if err = root.StoreBinarySnake(data); err != nil {
		return nil, fmt.Errorf("failed to store encrypted data: %w", err)
	}
	return root.EndCell(), nil
}

// DecryptComment opens an encrypted comment. Errors never include key or plaintext bytes.
func DecryptComment(body *cell.Cell, sender *address.Address, ourKey ed25519.PrivateKey, theirKey ed25519.PublicKey) (string, error) {
	s := body.BeginParse()

	op, err := s.LoadUInt(32)
	if err != nil || op != tlb.OpEncryptedComment {
		return "", ErrNotEncryptedComment
	}

	xorKey, err := s.LoadSlice(256)
	if err != nil {
		return "", fmt.Errorf("%w: no xor key", ErrCorruptedComment)
	}
	for i := range xorKey {
		xorKey[i] ^= theirKey[i]
	}
	if !bytes.Equal(xorKey, ourKey.Public().(ed25519.PublicKey)) {
		return "", ErrWrongCommentKeys
	}

	msgKey, err := s.LoadSlice(128)
	if err != nil {
		return "", fmt.Errorf("%w: no message key", ErrCorruptedComment)
	}

	data, err := s.LoadBinarySnake()
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrCorruptedComment, err)
	}
	if len(data) < 32 || len(data)%16 != 0 {
		return "", fmt.Errorf("%w: bad data length %d", ErrCorruptedComment, len(data))
	}

	shared, err := sharedKey(ourKey, theirKey)
	if err != nil {
		return "", fmt.Errorf("failed to compute shared key: %w", err)
	}

	c, iv, err := commentCipher(shared, msgKey)
	if err != nil {
		return "", err
	}
	cipher.NewCBCDecrypter(c, iv).CryptBlocks(data, data)

	if data[0] < 16 || data[0] > 31 {
		return "", fmt.Errorf("%w: bad prefix size", ErrCorruptedComment)
	}

	h := hmac.New(sha512.New, []byte(sender.String()))
	h.Write(data)
	if !hmac.Equal(msgKey, h.Sum(nil)[:16]) {
		return "", fmt.Errorf("%w: message key mismatch", ErrCorruptedComment)
	}
	return string(data[data[0]:]), nil
}
