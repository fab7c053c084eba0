package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/xssnick/tonwallet/storage"
	"github.com/xssnick/tonwallet/ton/wallet"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(New(), "")
	require.NoError(t, err)

	assert.Equal(t, NetworkMainnet, cfg.Network)
	assert.Equal(t, wallet.MainnetGlobalID, cfg.GlobalID())
	assert.Equal(t, wallet.V5R1, cfg.WalletVersion())
	assert.Equal(t, 10*time.Second, cfg.Toncenter.Timeout)
	assert.Equal(t, 5*time.Minute, cfg.Bridge.TTL)
	assert.Equal(t, storage.DriverMemory, cfg.Storage.Driver)
	assert.Empty(t, cfg.Relay.BatteryURL)
}

func TestLoadFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tonwallet.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
network: testnet
toncenter:
  url: https://testnet.toncenter.com
  rps: 10
  timeout: 3s
wallet:
  version: v4r2
  subwallet: 698983192
storage:
  driver: leveldb
  path: /tmp/tonwallet
twofa:
  poll_interval: 1s
  timeout: 1m
`), 0o600))

	t.Setenv("TONWALLET_TONCENTER_API_KEY", "secret")
	t.Setenv("TONWALLET_BRIDGE_TTL", "90s")

	cfg, err := Load(New(), path)
	require.NoError(t, err)

	assert.Equal(t, wallet.TestnetGlobalID, cfg.GlobalID())
	assert.Equal(t, "https://testnet.toncenter.com", cfg.Toncenter.URL)
	assert.Equal(t, 10.0, cfg.Toncenter.RPS)
	assert.Equal(t, 3*time.Second, cfg.Toncenter.Timeout)
	assert.Equal(t, "secret", cfg.Toncenter.APIKey)
	assert.Equal(t, 90*time.Second, cfg.Bridge.TTL)
	assert.Equal(t, wallet.V4R2, cfg.WalletVersion())
	assert.Equal(t, uint32(698983192), cfg.Wallet.Subwallet)
	assert.Equal(t, time.Minute, cfg.TwoFA.Timeout)

	sc := cfg.StorageConfig()
	assert.Equal(t, storage.DriverLevelDB, sc.Driver)
	assert.Equal(t, "/tmp/tonwallet", sc.Path)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(New(), filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	for _, tt := range []struct {
		name   string
		mutate func(c *Config)
	}{
		{"network", func(c *Config) { c.Network = "devnet" }},
		{"toncenter url", func(c *Config) { c.Toncenter.URL = "" }},
		{"negative rps", func(c *Config) { c.Toncenter.RPS = -1 }},
		{"wallet version", func(c *Config) { c.Wallet.Version = "v2" }},
		{"leveldb without path", func(c *Config) { c.Storage.Driver = storage.DriverLevelDB }},
		{"redis without addr", func(c *Config) { c.Storage.Driver = storage.DriverRedis }},
		{"storage driver", func(c *Config) { c.Storage.Driver = "bolt" }},
		{"twofa timeout", func(c *Config) { c.TwoFA.Timeout = time.Millisecond }},
	} {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load(New(), "")
			require.NoError(t, err)

			tt.mutate(cfg)
			require.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
		})
	}
}

func TestNewLogger(t *testing.T) {
	log, err := NewLogger("production", "warn")
	require.NoError(t, err)
	assert.False(t, log.Core().Enabled(zapcore.InfoLevel))
	assert.True(t, log.Core().Enabled(zapcore.WarnLevel))

	log, err = NewLogger("development", "")
	require.NoError(t, err)
	assert.True(t, log.Core().Enabled(zapcore.DebugLevel))

	_, err = NewLogger("production", "loud")
	require.Error(t, err)
}
