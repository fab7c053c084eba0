package plugin

import (
	"crypto/ed25519"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xssnick/tonwallet/address"
	"github.com/xssnick/tonwallet/tlb"
	"github.com/xssnick/tonwallet/ton/wallet"
	"github.com/xssnick/tonwallet/tvm/cell"
)

var pluginCode = cell.BeginCell().MustStoreUInt(0xFF00F4A4, 32).EndCell()

func testKey(seed byte) ed25519.PublicKey {
	k := make([]byte, 32)
	for i := range k {
		k[i] = seed + byte(i)
	}
	return ed25519.NewKeyFromSeed(k).Public().(ed25519.PublicKey)
}

func identity(t *testing.T, ver wallet.Version) *wallet.Identity {
	w, err := wallet.NewIdentity(testKey(1), ver)
	require.NoError(t, err)
	return w
}

func TestFindSameShardSalt(t *testing.T) {
	walletAddr := identity(t, wallet.V4R2).MustAddress()
	sub := Subscription{
		Wallet:      walletAddr,
		Beneficiary: address.MustParseAddr("EQC6KV4zs8TJtSZapOrRFmqSkxzpq-oSCoxekQRKElf4nC1I"),
		Amount:      tlb.MustFromTON("1"),
		Period:      86400,
	}
	build := func(salt uint32) (*tlb.StateInit, error) {
		s := sub
		s.SubscriptionID = salt
		return s.StateInit(pluginCode)
	}

	salt, addr, err := FindSameShardSalt(walletAddr, build, 4)
	require.NoError(t, err)
	assert.Equal(t, walletAddr.Data()[0]>>4, addr.Data()[0]>>4)
	assert.Equal(t, walletAddr.Workchain(), addr.Workchain())

	// the first matching salt is returned
	for i := uint32(0); i < salt; i++ {
		si, err := build(i)
		require.NoError(t, err)
		assert.NotEqual(t, walletAddr.Data()[0]>>4, si.MustCalcAddress(0).Data()[0]>>4)
	}

	salt, _, err = FindSameShardSalt(walletAddr, build, 0)
	require.NoError(t, err)
	assert.Equal(t, uint32(0), salt)

	_, _, err = FindSameShardSalt(walletAddr, build, 32)
	require.ErrorIs(t, err, ErrInvalidPrefix)
}

func TestFindSameShardSaltNotFound(t *testing.T) {
	si := &tlb.StateInit{Code: pluginCode, Data: cell.BeginCell().EndCell()}
	pluginAddr := si.MustCalcAddress(0)

	data := pluginAddr.Data()
	data[0] ^= 0x80
	walletAddr := address.NewAddress(0, 0, data)

	_, _, err := FindSameShardSalt(walletAddr, func(uint32) (*tlb.StateInit, error) {
		return si, nil
	}, 2)
	require.ErrorIs(t, err, ErrSaltNotFound)
}

func TestSubscription(t *testing.T) {
	w := identity(t, wallet.V4R2)
	beneficiary := address.MustParseAddr("EQC6KV4zs8TJtSZapOrRFmqSkxzpq-oSCoxekQRKElf4nC1I")

	tr, pluginAddr, err := DeploySubscription(w, pluginCode, Subscription{
		Beneficiary: beneficiary,
		Amount:      tlb.MustFromTON("2.5"),
		Period:      30 * 86400,
		StartTime:   1700000000,
		Timeout:     3600,
	}, tlb.MustFromTON("2.6"), DefaultShardPrefixBits)
	require.NoError(t, err)
	assert.Equal(t, w.MustAddress().Data()[0], pluginAddr.Data()[0])

	deploy, ok := tr.Plugin.(wallet.PluginDeployAndInstall)
	require.True(t, ok)
	assert.Equal(t, pluginAddr.Data(), deploy.StateInit.MustCalcAddress(0).Data())
	assert.Equal(t, uint64(OpSubscriptionDeploy), deploy.Body.BeginParse().MustLoadUInt(32))

	var sub Subscription
	require.NoError(t, sub.LoadFromCell(deploy.StateInit.Data.BeginParse()))
	assert.True(t, sub.Wallet.Equals(w.MustAddress()))
	assert.True(t, sub.Beneficiary.Equals(beneficiary))
	assert.Equal(t, "2.5", sub.Amount.String())
	assert.Equal(t, uint32(30*86400), sub.Period)
	assert.Equal(t, uint32(3600), sub.Timeout)

	payload, err := w.BuildPayload(wallet.Request{Seqno: 3, ValidUntil: 100, Transfer: tr})
	require.NoError(t, err)
	s := payload.BeginParse()
	s.MustLoadSlice(96)
	assert.Equal(t, uint64(wallet.OpV4DeployInstall), s.MustLoadUInt(8))

	destruct, err := DestructSubscription(w, pluginAddr, tlb.MustFromTON("0.05"), 7)
	require.NoError(t, err)
	payload, err = w.BuildPayload(wallet.Request{Seqno: 4, ValidUntil: 100, Transfer: destruct})
	require.NoError(t, err)
	s = payload.BeginParse()
	s.MustLoadSlice(96)
	assert.Equal(t, uint64(wallet.OpV4Remove), s.MustLoadUInt(8))

	_, _, err = DeploySubscription(identity(t, wallet.V5R1), pluginCode, Subscription{Beneficiary: beneficiary}, tlb.ZeroCoins, 4)
	require.ErrorIs(t, err, wallet.ErrUnsupportedForVersion)
	_, err = DestructSubscription(identity(t, wallet.V3R2), pluginAddr, tlb.ZeroCoins, 1)
	require.ErrorIs(t, err, wallet.ErrUnsupportedForVersion)
}

func TestTwoFA(t *testing.T) {
	w := identity(t, wallet.V5R1)

	tr, pluginAddr, err := InstallTwoFA(w, InstallTwoFAParams{
		Code:             pluginCode,
		ServerKey:        testKey(50),
		RecoveryDelay:    86400,
		Amount:           tlb.MustFromTON("0.1"),
		DisableSignature: true,
		PrefixBits:       DefaultShardPrefixBits,
	})
	require.NoError(t, err)
	require.NoError(t, tr.Validate(wallet.V5R1))

	require.Len(t, tr.Messages, 1)
	msg := tr.Messages[0]
	assert.True(t, msg.Destination().Equals(pluginAddr))
	assert.False(t, msg.Bounce())
	require.NotNil(t, msg.StateInit())

	var cfg TwoFA
	require.NoError(t, cfg.LoadFromCell(msg.StateInit().Data.BeginParse()))
	assert.Equal(t, []byte(w.PublicKey), []byte(cfg.UserKey))
	assert.Equal(t, []byte(testKey(50)), []byte(cfg.ServerKey))
	assert.Equal(t, uint32(86400), cfg.RecoveryDelay)

	require.Len(t, tr.Extensions, 2)
	assert.Equal(t, wallet.AddExtension{Address: pluginAddr}, tr.Extensions[0])
	assert.Equal(t, wallet.SetSignatureAuth{Allowed: false}, tr.Extensions[1])

	_, _, err = InstallTwoFA(identity(t, wallet.V4R2), InstallTwoFAParams{Code: pluginCode, ServerKey: testKey(50)})
	require.ErrorIs(t, err, wallet.ErrUnsupportedForVersion)

	send := wallet.NewTransfer(wallet.PayGasSeparately, wallet.MustNewMessage(pluginAddr, tlb.MustFromTON("1")))
	req, err := TwoFARequest(5, 1700000300, 11, send)
	require.NoError(t, err)

	s := req.BeginParse()
	assert.Equal(t, uint64(OpTwoFASendActions), s.MustLoadUInt(32))
	assert.Equal(t, uint64(5), s.MustLoadUInt(32))
	assert.Equal(t, uint64(1700000300), s.MustLoadUInt(32))
	inner := s.MustLoadRef()
	assert.Equal(t, uint64(wallet.OpV5AuthExtension), inner.MustLoadUInt(32))
	assert.Equal(t, uint64(11), inner.MustLoadUInt(64))

	remove, err := RemoveTwoFA(pluginAddr, true)
	require.NoError(t, err)
	require.Len(t, remove.Extensions, 2)
	assert.Equal(t, wallet.SetSignatureAuth{Allowed: true}, remove.Extensions[0])
	assert.Equal(t, wallet.RemoveExtension{Address: pluginAddr}, remove.Extensions[1])

	remove, err = RemoveTwoFA(pluginAddr, false)
	require.NoError(t, err)
	assert.Len(t, remove.Extensions, 1)
	_, err = TwoFARequest(6, 1700000300, 12, remove)
	require.NoError(t, err)
}
