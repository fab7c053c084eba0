package tonconnect

import (
	"context"
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"hash/crc32"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xssnick/tonwallet/address"
	"github.com/xssnick/tonwallet/ton/signer"
	"github.com/xssnick/tonwallet/tvm/cell"
)

func TestParseSignDataPayload(t *testing.T) {
	c := cell.BeginCell().MustStoreUInt(777, 32).EndCell()
	cellB64 := base64.StdEncoding.EncodeToString(c.ToBOC())

	tests := []struct {
		name  string
		param string
		ok    bool
	}{
		{"text", `{"type":"text","text":"hello"}`, true},
		{"binary", `{"type":"binary","bytes":"AQID"}`, true},
		{"cell", `{"type":"cell","schema":"foo#_ x:uint32 = Foo;","cell":"` + cellB64 + `"}`, true},
		{"binary not base64", `{"type":"binary","bytes":"@@"}`, false},
		{"cell without schema", `{"type":"cell","cell":"` + cellB64 + `"}`, false},
		{"cell not boc", `{"type":"cell","schema":"x","cell":"AQID"}`, false},
		{"unknown type", `{"type":"image"}`, false},
		{"not json", `text`, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := ParseSignDataPayload(tt.param)
			if tt.ok {
				require.NoError(t, err)
				assert.NotEmpty(t, p.Type)
				return
			}

			var ce *ConnectError
			require.True(t, errors.As(err, &ce))
			assert.Equal(t, CodeBadRequest, ce.Code)
		})
	}
}

func TestSignData(t *testing.T) {
	seed := make([]byte, 32)
	seed[31] = 3
	key := ed25519.NewKeyFromSeed(seed)
	pub := key.Public().(ed25519.PublicKey)

	sw, err := signer.NewSoftwareFromSeed(seed)
	require.NoError(t, err)

	addr := address.MustParseRawAddr("0:960ab627408d5472d9d125b667cbe00ce17eeaa44e9dc6a86e93cdfef2c480d5")
	const ts = 1700000000

	for _, p := range []*SignDataPayload{
		{Type: SignDataText, Text: "Confirm action"},
		{Type: SignDataBinary, Bytes: base64.StdEncoding.EncodeToString([]byte{1, 2, 3})},
	} {
		t.Run(string(p.Type), func(t *testing.T) {
			res, err := SignData(context.Background(), sw, p, addr, "app.example", ts)
			require.NoError(t, err)
			assert.Equal(t, addr.StringRaw(), res.Address)
			assert.Equal(t, "app.example", res.Domain)
			assert.Equal(t, int64(ts), res.Timestamp)

			msg, err := p.Message(addr, "app.example", ts)
			require.NoError(t, err)
			h := sha256.Sum256(msg)
			assert.True(t, ed25519.Verify(pub, h[:], res.Signature))

			hw, err := SignData(context.Background(), signer.NewHardware(&hashingDevice{key: key}), p, addr, "app.example", ts)
			require.NoError(t, err)
			assert.Equal(t, res.Signature, hw.Signature)
		})
	}

	t.Run("cell", func(t *testing.T) {
		payload := cell.BeginCell().MustStoreUInt(42, 64).EndCell()
		p := &SignDataPayload{
			Type:   SignDataCell,
			Schema: "comment#_ v:uint64 = Comment;",
			Cell:   base64.StdEncoding.EncodeToString(payload.ToBOC()),
		}

		res, err := SignData(context.Background(), sw, p, addr, "ton.org", ts)
		require.NoError(t, err)

		c, err := p.MessageCell(addr, "ton.org", ts)
		require.NoError(t, err)
		assert.True(t, ed25519.Verify(pub, c.Hash(), res.Signature))

		s := c.BeginParse()
		assert.Equal(t, uint64(OpSignDataCell), s.MustLoadUInt(32))
		assert.Equal(t, uint64(crc32.ChecksumIEEE([]byte(p.Schema))), s.MustLoadUInt(32))
		assert.Equal(t, uint64(ts), s.MustLoadUInt(64))
		a, err := s.LoadAddr()
		require.NoError(t, err)
		assert.True(t, a.Equals(addr))

		dom, err := s.LoadRef()
		require.NoError(t, err)
		domain, err := dom.LoadBinarySnake()
		require.NoError(t, err)
		assert.Equal(t, []byte("org\x00ton\x00"), domain)

		pl, err := s.LoadRefCell()
		require.NoError(t, err)
		assert.Equal(t, payload.Hash(), pl.Hash())
	})
}

func TestSignDataMessageLayout(t *testing.T) {
	addr := address.MustParseRawAddr("0:0000000000000000000000000000000000000000000000000000000000000001")
	p := &SignDataPayload{Type: SignDataText, Text: "hi"}

	msg, err := p.Message(addr, "a.b", 1)
	require.NoError(t, err)

	exp := []byte{0xff, 0xff}
	exp = append(exp, signDataPrefix...)
	exp = append(exp, 0, 0, 0, 0)
	exp = append(exp, addr.Data()...)
	exp = append(exp, 0, 0, 0, 3, 'a', '.', 'b')
	exp = append(exp, 0, 0, 0, 0, 0, 0, 0, 1)
	exp = append(exp, 't', 'x', 't', 0, 0, 0, 2, 'h', 'i')
	assert.Equal(t, exp, msg)
}
