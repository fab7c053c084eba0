// Package config loads the wallet configuration from a YAML file and TONWALLET_ environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/xssnick/tonwallet/storage"
	"github.com/xssnick/tonwallet/ton/wallet"
)

const EnvPrefix = "TONWALLET"

const (
	NetworkMainnet = "mainnet"
	NetworkTestnet = "testnet"
)

var ErrInvalidConfig = errors.New("invalid config")

type Config struct {
	Network   string          `mapstructure:"network"`
	Log       LogConfig       `mapstructure:"log"`
	Toncenter ToncenterConfig `mapstructure:"toncenter"`
	Bridge    BridgeConfig    `mapstructure:"bridge"`
	Relay     RelayConfig     `mapstructure:"relay"`
	Sender    SenderConfig    `mapstructure:"sender"`
	TwoFA     TwoFAConfig     `mapstructure:"twofa"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Wallet    WalletConfig    `mapstructure:"wallet"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
}

type LogConfig struct {
	Env   string `mapstructure:"env"`
	Level string `mapstructure:"level"`
}

type ToncenterConfig struct {
	URL     string        `mapstructure:"url"`
	APIKey  string        `mapstructure:"api_key"`
	RPS     float64       `mapstructure:"rps"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type BridgeConfig struct {
	URL string        `mapstructure:"url"`
	TTL time.Duration `mapstructure:"ttl"`
}

// RelayConfig holds the relay endpoints, an empty url disables the strategy.
type RelayConfig struct {
	BatteryURL string `mapstructure:"battery_url"`
	GaslessURL string `mapstructure:"gasless_url"`
	TwoFAURL   string `mapstructure:"twofa_url"`
}

type SenderConfig struct {
	TTL time.Duration `mapstructure:"ttl"`
}

type TwoFAConfig struct {
	PollInterval time.Duration `mapstructure:"poll_interval"`
	Timeout      time.Duration `mapstructure:"timeout"`
}

type StorageConfig struct {
	Driver    string `mapstructure:"driver"`
	Path      string `mapstructure:"path"`
	RedisAddr string `mapstructure:"redis_addr"`
}

type WalletConfig struct {
	Version   string `mapstructure:"version"`
	Subwallet uint32 `mapstructure:"subwallet"`
}

type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("network", NetworkMainnet)

	v.SetDefault("log.env", "production")
	v.SetDefault("log.level", "info")

	v.SetDefault("toncenter.url", "https://toncenter.com")
	v.SetDefault("toncenter.api_key", "")
	v.SetDefault("toncenter.rps", 1.0)
	v.SetDefault("toncenter.timeout", 10*time.Second)

	v.SetDefault("bridge.url", "https://bridge.tonapi.io")
	v.SetDefault("bridge.ttl", 5*time.Minute)

	v.SetDefault("relay.battery_url", "")
	v.SetDefault("relay.gasless_url", "")
	v.SetDefault("relay.twofa_url", "")

	v.SetDefault("sender.ttl", 5*time.Minute)

	v.SetDefault("twofa.poll_interval", 2*time.Second)
	v.SetDefault("twofa.timeout", 3*time.Minute)

	v.SetDefault("storage.driver", storage.DriverMemory)
	v.SetDefault("storage.path", "")
	v.SetDefault("storage.redis_addr", "")

	v.SetDefault("wallet.version", wallet.V5R1.String())
	v.SetDefault("wallet.subwallet", 0)

	v.SetDefault("metrics.addr", "")
}

// New makes a viper instance with defaults and environment overrides,
// TONWALLET_TONCENTER_API_KEY sets toncenter.api_key.
func New() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)
	return v
}

// Load reads the file when path is not empty and decodes the result.
func Load(v *viper.Viper, path string) (*Config, error) {
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.Network != NetworkMainnet && c.Network != NetworkTestnet {
		return fmt.Errorf("%w: unknown network %q", ErrInvalidConfig, c.Network)
	}
	if c.Toncenter.URL == "" {
		return fmt.Errorf("%w: toncenter.url is required", ErrInvalidConfig)
	}
	if c.Toncenter.RPS < 0 {
		return fmt.Errorf("%w: toncenter.rps should not be negative", ErrInvalidConfig)
	}
	if _, err := wallet.ParseVersion(c.Wallet.Version); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	switch c.Storage.Driver {
	case storage.DriverMemory:
	case storage.DriverLevelDB:
		if c.Storage.Path == "" {
			return fmt.Errorf("%w: storage.path is required for leveldb", ErrInvalidConfig)
		}
	case storage.DriverRedis:
		if c.Storage.RedisAddr == "" {
			return fmt.Errorf("%w: storage.redis_addr is required for redis", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown storage driver %q", ErrInvalidConfig, c.Storage.Driver)
	}

	if c.TwoFA.PollInterval <= 0 || c.TwoFA.Timeout < c.TwoFA.PollInterval {
		return fmt.Errorf("%w: twofa.timeout should be not less than twofa.poll_interval", ErrInvalidConfig)
	}
	return nil
}

// GlobalID is the network id wallet identities and dApp scopes use.
func (c *Config) GlobalID() int32 {
	if c.Network == NetworkTestnet {
		return wallet.TestnetGlobalID
	}
	return wallet.MainnetGlobalID
}

func (c *Config) WalletVersion() wallet.Version {
	v, _ := wallet.ParseVersion(c.Wallet.Version)
	return v
}

func (c *Config) StorageConfig() storage.Config {
	return storage.Config{
		Driver:    c.Storage.Driver,
		Path:      c.Storage.Path,
		RedisAddr: c.Storage.RedisAddr,
		Prefix:    "tonwallet:",
	}
}
