package tlb

import "strings"

type AccountStatus string

const (
	AccountStatusActive   AccountStatus = "ACTIVE"
	AccountStatusUninit   AccountStatus = "UNINIT"
	AccountStatusFrozen   AccountStatus = "FROZEN"
	AccountStatusNonExist AccountStatus = "NON_EXIST"
)

// ParseAccountStatus accepts the spellings used by public indexers.
func ParseAccountStatus(s string) AccountStatus {
	switch strings.ToLower(s) {
	case "active":
		return AccountStatusActive
	case "uninit", "uninitialized":
		return AccountStatusUninit
	case "frozen":
		return AccountStatusFrozen
	default:
		return AccountStatusNonExist
	}
}

// CanReceiveBounceable reports whether a bounceable transfer will stay on the account.
func (s AccountStatus) CanReceiveBounceable() bool {
	return s == AccountStatusActive
}
