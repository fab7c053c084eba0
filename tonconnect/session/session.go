// Package session implements the end-to-end encryption of bridge messages.
package session

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/nacl/box"
)

const (
	KeySize   = 32
	NonceSize = 24
)

var (
	ErrDecrypt    = errors.New("failed to decrypt message")
	ErrInvalidKey = errors.New("invalid session key")
)

// Keypair is the box keypair of one dApp connection.
type Keypair struct {
	Public [KeySize]byte
	Secret [KeySize]byte
}

// GenerateKeypair creates a fresh keypair for a new pairing.
func GenerateKeypair() (*Keypair, error) {
	return generateKeypair(rand.Reader)
}

func generateKeypair(r io.Reader) (*Keypair, error) {
	pub, sec, err := box.GenerateKey(r)
	if err != nil {
		return nil, fmt.Errorf("failed to generate keypair: %w", err)
	}
	return &Keypair{Public: *pub, Secret: *sec}, nil
}

// KeypairFromSecret restores a keypair from its secret half.
func KeypairFromSecret(secret []byte) (*Keypair, error) {
	if len(secret) != KeySize {
		return nil, fmt.Errorf("%w: secret should be %d bytes", ErrInvalidKey, KeySize)
	}

	pub, err := curve25519.X25519(secret, curve25519.Basepoint)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}

	kp := &Keypair{}
	copy(kp.Secret[:], secret)
	copy(kp.Public[:], pub)
	return kp, nil
}

// SessionID is the hex public key, dApps address this session with it on the bridge.
func (k *Keypair) SessionID() string {
	return hex.EncodeToString(k.Public[:])
}

// ParseSessionID decodes a peer session id into its public key.
func ParseSessionID(id string) ([KeySize]byte, error) {
	var key [KeySize]byte
	b, err := hex.DecodeString(id)
	if err != nil || len(b) != KeySize {
		return key, fmt.Errorf("%w: bad session id", ErrInvalidKey)
	}
	copy(key[:], b)
	return key, nil
}

// Encrypt seals msg for the peer, a fresh random nonce is prepended to the result.
func (k *Keypair) Encrypt(msg []byte, peer [KeySize]byte) ([]byte, error) {
	var nonce [NonceSize]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	return box.Seal(nonce[:], msg, &nonce, &peer, &k.Secret), nil
}

// Decrypt opens a nonce prefixed message from the peer.
// Errors describe only lengths, never key or message bytes.
func (k *Keypair) Decrypt(data []byte, peer [KeySize]byte) ([]byte, error) {
	if len(data) < NonceSize+box.Overhead {
		return nil, fmt.Errorf("%w: message of %d bytes is too short", ErrDecrypt, len(data))
	}

	var nonce [NonceSize]byte
	copy(nonce[:], data[:NonceSize])

	msg, ok := box.Open(nil, data[NonceSize:], &nonce, &peer, &k.Secret)
	if !ok {
		return nil, fmt.Errorf("%w: authentication failed", ErrDecrypt)
	}
	return msg, nil
}

type keypairJSON struct {
	Secret string `json:"secret"`
}

// MarshalJSON stores only the secret, the public key is derived on load.
func (k *Keypair) MarshalJSON() ([]byte, error) {
	return json.Marshal(keypairJSON{Secret: hex.EncodeToString(k.Secret[:])})
}

func (k *Keypair) UnmarshalJSON(data []byte) error {
	var v keypairJSON
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}

	sec, err := hex.DecodeString(v.Secret)
	if err != nil {
		return fmt.Errorf("%w: secret is not hex", ErrInvalidKey)
	}

	kp, err := KeypairFromSecret(sec)
	if err != nil {
		return err
	}
	*k = *kp
	return nil
}

// String hides the secret.
func (k *Keypair) String() string {
	return "session(" + k.SessionID() + ")"
}
