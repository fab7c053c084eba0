package wallet

import (
	"errors"
	"fmt"
	"strings"
)

// Version is a wallet contract revision. Higher values support more messages and extensions.
type Version int

const (
	Unknown Version = 0
	V3R1    Version = 31
	V3R2    Version = 32
	V4R2    Version = 42
	V5R1    Version = 51
)

// Network IDs
const (
	MainnetGlobalID int32 = -239
	TestnetGlobalID int32 = -3
)

const DefaultSubwallet = 698983191

// Send modes
const (
	PayGasSeparately               = 1
	IgnoreErrors                   = 2
	DestroyAccountIfZero           = 32
	CarryAllRemainingIncomingValue = 64
	CarryAllRemainingBalance       = 128
)

var (
	ErrUnsupportedWalletVersion = errors.New("wallet version is not supported")
	ErrUnsupportedForVersion    = errors.New("operation is not supported by this wallet version")
	ErrTooManyMessages          = errors.New("too many messages for this wallet version")
	ErrNoMessages               = errors.New("transfer should contain at least one message or action")
)

var maxMessages = map[Version]int{
	V3R1: 4,
	V3R2: 4,
	V4R2: 4,
	V5R1: 255,
}

func (v Version) String() string {
	switch v {
	case V3R1, V3R2, V4R2, V5R1:
		return fmt.Sprintf("V%dR%d", v/10, v%10)
	}
	return "unknown"
}

// MaxMessages is how many outgoing messages one external call may carry.
func (v Version) MaxMessages() int {
	return maxMessages[v]
}

func (v Version) IsSupported() bool {
	_, ok := maxMessages[v]
	return ok
}

// SupportsPlugins reports whether the v4 plugin ops can be used.
func (v Version) SupportsPlugins() bool {
	return v == V4R2
}

// SupportsExtensions reports whether v5 extension actions can be used.
func (v Version) SupportsExtensions() bool {
	return v >= V5R1
}

func ParseVersion(s string) (Version, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "v3r1":
		return V3R1, nil
	case "v3r2", "v3":
		return V3R2, nil
	case "v4r2", "v4":
		return V4R2, nil
	case "v5r1", "v5", "w5":
		return V5R1, nil
	}
	return Unknown, fmt.Errorf("%w: %q", ErrUnsupportedWalletVersion, s)
}
