package tonconnect

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/xssnick/tonwallet/address"
	"github.com/xssnick/tonwallet/storage"
	"github.com/xssnick/tonwallet/tonconnect/session"
)

// Scope is the wallet and network a set of connections belongs to,
// mainnet and testnet pairings of one key never mix.
type Scope struct {
	Wallet  string
	Network int32
}

func ScopeOf(addr *address.Address, network int32) Scope {
	return Scope{Wallet: addr.StringRaw(), Network: network}
}

func (s Scope) key() string {
	return fmt.Sprintf("tonconnect:connections:%d:%s", s.Network, s.Wallet)
}

// Connection is one paired dApp. Records are replaced as a whole, never changed in place.
// ClientID is the dApp session id of bridge connections, in-page ones have Origin instead.
type Connection struct {
	Keypair     *session.Keypair `json:"keypair"`
	ClientID    string           `json:"client_id,omitempty"`
	Manifest    Manifest         `json:"manifest"`
	ManifestURL string           `json:"manifest_url"`
	Origin      string           `json:"origin,omitempty"`
	CreatedAt   int64            `json:"created_at"`
}

// SessionID is our side of the connection, it identifies the record.
func (c *Connection) SessionID() string {
	return c.Keypair.SessionID()
}

func (c *Connection) IsInPage() bool {
	return c.ClientID == ""
}

func (c *Connection) sameApp(o *Connection) bool {
	if c.IsInPage() {
		return o.IsInPage() && c.Origin == o.Origin
	}
	return c.ClientID == o.ClientID
}

// Registry stores connections per scope. Mutations are serialized so concurrent
// RPCs cannot lose each other's updates.
type Registry struct {
	store storage.Store
	mx    sync.Mutex

	subsMx  sync.Mutex
	subs    map[uint64]chan Scope
	nextSub uint64
}

func NewRegistry(store storage.Store) *Registry {
	return &Registry{
		store: store,
		subs:  map[uint64]chan Scope{},
	}
}

// Subscribe notifies about changed scopes. Slow readers miss repeated notifications, not the last one.
func (r *Registry) Subscribe() (<-chan Scope, func()) {
	r.subsMx.Lock()
	defer r.subsMx.Unlock()

	id := r.nextSub
	r.nextSub++
	ch := make(chan Scope, 1)
	r.subs[id] = ch

	return ch, func() {
		r.subsMx.Lock()
		defer r.subsMx.Unlock()
		delete(r.subs, id)
	}
}

func (r *Registry) notify(s Scope) {
	r.subsMx.Lock()
	defer r.subsMx.Unlock()

	for _, ch := range r.subs {
		select {
		case ch <- s:
		default:
		}
	}
}

func (r *Registry) load(ctx context.Context, s Scope) ([]*Connection, error) {
	data, err := r.store.Get(ctx, s.key())
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read connections: %w", err)
	}

	var list []*Connection
	if err = json.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("failed to decode connections: %w", err)
	}
	return list, nil
}

// List returns the connections of the scope as stored now.
func (r *Registry) List(ctx context.Context, s Scope) ([]*Connection, error) {
	return r.load(ctx, s)
}

// update runs a read-modify-write of the scope, fn returns the new list and whether it changed.
func (r *Registry) update(ctx context.Context, s Scope, fn func([]*Connection) ([]*Connection, bool, error)) error {
	r.mx.Lock()
	defer r.mx.Unlock()

	list, err := r.load(ctx, s)
	if err != nil {
		return err
	}

	next, changed, err := fn(list)
	if err != nil || !changed {
		return err
	}

	if len(next) == 0 {
		err = r.store.Delete(ctx, s.key())
	} else {
		var data []byte
		if data, err = json.Marshal(next); err != nil {
			return fmt.Errorf("failed to encode connections: %w", err)
		}
		err = r.store.Put(ctx, s.key(), data)
	}
	if err != nil {
		return fmt.Errorf("failed to save connections: %w", err)
	}

	r.notify(s)
	return nil
}

// Add stores the connection, a previous pairing of the same dApp is replaced.
func (r *Registry) Add(ctx context.Context, s Scope, c *Connection) error {
	return r.update(ctx, s, func(list []*Connection) ([]*Connection, bool, error) {
		next := make([]*Connection, 0, len(list)+1)
		for _, old := range list {
			if !old.sameApp(c) {
				next = append(next, old)
			}
		}
		return append(next, c), true, nil
	})
}

// Remove deletes exactly the connection with the session id.
func (r *Registry) Remove(ctx context.Context, s Scope, sessionID string) error {
	return r.update(ctx, s, func(list []*Connection) ([]*Connection, bool, error) {
		next := make([]*Connection, 0, len(list))
		for _, c := range list {
			if c.SessionID() != sessionID {
				next = append(next, c)
			}
		}
		if len(next) == len(list) {
			return nil, false, ErrConnectionNotFound
		}
		return next, true, nil
	})
}

// RemoveAll forgets every connection of the scope.
func (r *Registry) RemoveAll(ctx context.Context, s Scope) error {
	return r.update(ctx, s, func(list []*Connection) ([]*Connection, bool, error) {
		return nil, len(list) > 0, nil
	})
}

// UpdateManifest replaces the manifest of a connection.
func (r *Registry) UpdateManifest(ctx context.Context, s Scope, sessionID string, m Manifest) error {
	return r.update(ctx, s, func(list []*Connection) ([]*Connection, bool, error) {
		next := make([]*Connection, len(list))
		found, changed := false, false
		for i, c := range list {
			next[i] = c
			if c.SessionID() != sessionID {
				continue
			}
			found = true
			if c.Manifest != m {
				cp := *c
				cp.Manifest = m
				next[i] = &cp
				changed = true
			}
		}
		if !found {
			return nil, false, ErrConnectionNotFound
		}
		return next, changed, nil
	})
}

// FindByClient returns the bridge connection with the dApp session id.
func (r *Registry) FindByClient(ctx context.Context, s Scope, clientID string) (*Connection, error) {
	return r.find(ctx, s, func(c *Connection) bool {
		return !c.IsInPage() && c.ClientID == clientID
	})
}

// FindByOrigin returns the in-page connection of the webview origin.
func (r *Registry) FindByOrigin(ctx context.Context, s Scope, origin string) (*Connection, error) {
	return r.find(ctx, s, func(c *Connection) bool {
		return c.IsInPage() && c.Origin == origin
	})
}

func (r *Registry) find(ctx context.Context, s Scope, match func(*Connection) bool) (*Connection, error) {
	list, err := r.load(ctx, s)
	if err != nil {
		return nil, err
	}
	for _, c := range list {
		if match(c) {
			return c, nil
		}
	}
	return nil, ErrConnectionNotFound
}
