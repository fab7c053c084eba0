package toncenter

import (
	"context"
	"fmt"

	"github.com/xssnick/tonwallet/address"
	"github.com/xssnick/tonwallet/tlb"
)

// GetAccountStatus resolves the status of one account. Concurrent calls are merged
// into one accountStates request.
func (c *Client) GetAccountStatus(ctx context.Context, addr *address.Address) (tlb.AccountStatus, error) {
	key := addrKey(addr)
	if _, ok := c.active.Get(key); ok {
		return tlb.AccountStatusActive, nil
	}

	st, err := c.statuses.Get(ctx, key)
	if err != nil {
		return "", fmt.Errorf("failed to get account status: %w", err)
	}
	return st, nil
}

// GetAccountStatuses resolves many accounts at once, keyed by raw address.
func (c *Client) GetAccountStatuses(ctx context.Context, addrs []*address.Address) (map[string]tlb.AccountStatus, error) {
	res := make(map[string]tlb.AccountStatus, len(addrs))

	var keys []string
	for _, a := range addrs {
		key := addrKey(a)
		if _, ok := c.active.Get(key); ok {
			res[key] = tlb.AccountStatusActive
			continue
		}
		keys = append(keys, key)
	}

	for len(keys) > 0 {
		n := min(len(keys), maxStatusBatch)
		part, err := c.fetchStatuses(ctx, keys[:n])
		if err != nil {
			return nil, fmt.Errorf("failed to get account statuses: %w", err)
		}
		for k, v := range part {
			res[k] = v
		}
		keys = keys[n:]
	}
	return res, nil
}

func (c *Client) fetchStatuses(ctx context.Context, keys []string) (map[string]tlb.AccountStatus, error) {
	addrs := make([]*address.Address, 0, len(keys))
	for _, k := range keys {
		a, err := address.ParseRawAddr(k)
		if err != nil {
			return nil, err
		}
		addrs = append(addrs, a)
	}

	states, err := c.V3().GetAccountStates(ctx, addrs)
	if err != nil {
		return nil, err
	}

	res := make(map[string]tlb.AccountStatus, len(keys))
	for _, st := range states {
		a, err := address.ParseAnyAddr(st.Address)
		if err != nil {
			return nil, fmt.Errorf("bad address in response: %w", err)
		}

		key := addrKey(a)
		status := tlb.ParseAccountStatus(st.Status)
		if status == tlb.AccountStatusActive {
			c.active.Add(key, struct{}{})
		}
		res[key] = status
	}

	// accounts the indexer has never seen are not returned
	for _, k := range keys {
		if _, ok := res[k]; !ok {
			res[k] = tlb.AccountStatusNonExist
		}
	}
	return res, nil
}
