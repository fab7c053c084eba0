// Package storage keeps small key-value records: dApp connections and bridge cursors.
package storage

import (
	"context"
	"errors"
	"fmt"
)

var ErrNotFound = errors.New("key not found")

// Store is a key-value store. Values returned by Get are copies.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// Drivers
const (
	DriverMemory  = "memory"
	DriverLevelDB = "leveldb"
	DriverRedis   = "redis"
)

// Config selects and configures a driver.
type Config struct {
	Driver string
	// Path is the leveldb directory.
	Path string
	// RedisAddr is host:port of the redis server.
	RedisAddr string
	// Prefix namespaces redis keys.
	Prefix string
}

// Open creates the store described by cfg.
func Open(cfg Config) (Store, error) {
	switch cfg.Driver {
	case "", DriverMemory:
		return NewMemory(), nil
	case DriverLevelDB:
		if cfg.Path == "" {
			return nil, fmt.Errorf("leveldb path is not set")
		}
		return OpenLevelDB(cfg.Path)
	case DriverRedis:
		if cfg.RedisAddr == "" {
			return nil, fmt.Errorf("redis address is not set")
		}
		return NewRedis(cfg.RedisAddr, cfg.Prefix), nil
	}
	return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
}
