package nft

import (
	"crypto/sha256"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xssnick/tonwallet/address"
	"github.com/xssnick/tonwallet/tlb"
)

func TestBuildTransferPayload(t *testing.T) {
	owner := address.MustParseAddr("EQC6KV4zs8TJtSZapOrRFmqSkxzpq-oSCoxekQRKElf4nC1I")
	resp := address.MustParseAddr("EQDTfiC_IZ4yY-2KMRBEbypS2W_zbA4bCLu7G9_oAx6amof2")

	body, err := BuildTransferPayload(5, owner, resp, tlb.FromNanoTONU(1), nil)
	require.NoError(t, err)

	var p TransferPayload
	require.NoError(t, tlb.LoadFromCell(&p, body.BeginParse()))
	assert.Equal(t, uint64(5), p.QueryID)
	assert.True(t, owner.Equals(p.NewOwner))
	assert.True(t, resp.Equals(p.ResponseDestination))
	assert.Nil(t, p.CustomPayload)
	assert.Equal(t, "1", p.ForwardAmount.Nano().String())
	assert.Equal(t, uint(0), p.ForwardPayload.BitsSize())

	assert.Equal(t, uint64(OpTransfer), body.BeginParse().MustLoadUInt(32))

	_, err = BuildTransferPayload(5, nil, resp, tlb.ZeroCoins, nil)
	require.Error(t, err)
}

func TestDNSPayloads(t *testing.T) {
	target := address.MustParseAddr("EQC6KV4zs8TJtSZapOrRFmqSkxzpq-oSCoxekQRKElf4nC1I")
	walletKey := sha256.Sum256([]byte("wallet"))

	t.Run("link", func(t *testing.T) {
		s := BuildLinkPayload(7, target).BeginParse()
		assert.Equal(t, uint64(OpChangeDNSRecord), s.MustLoadUInt(32))
		assert.Equal(t, uint64(7), s.MustLoadUInt(64))
		assert.Equal(t, walletKey[:], s.MustLoadSlice(256))

		rec := s.MustLoadRef()
		assert.Equal(t, uint64(categoryContractAddr), rec.MustLoadUInt(16))
		assert.True(t, target.Equals(rec.MustLoadAddr()))
	})

	t.Run("unlink", func(t *testing.T) {
		c := BuildLinkPayload(7, nil)
		assert.Equal(t, 0, c.RefsNum())
		assert.Equal(t, uint(32+64+256), c.BitsSize())
	})

	t.Run("renew", func(t *testing.T) {
		s := BuildRenewPayload(8).BeginParse()
		assert.Equal(t, uint64(OpChangeDNSRecord), s.MustLoadUInt(32))
		assert.Equal(t, uint64(8), s.MustLoadUInt(64))
		assert.Equal(t, make([]byte, 32), s.MustLoadSlice(256))
		assert.Equal(t, 0, s.RefsNum())
	})
}
