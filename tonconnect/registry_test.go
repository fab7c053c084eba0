package tonconnect

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xssnick/tonwallet/storage"
	"github.com/xssnick/tonwallet/tonconnect/session"
)

var testScope = Scope{Wallet: "0:960ab627408d5472d9d125b667cbe00ce17eeaa44e9dc6a86e93cdfef2c480d5", Network: -239}

func newTestConnection(t *testing.T, clientID string) *Connection {
	kp, err := session.GenerateKeypair()
	require.NoError(t, err)
	return &Connection{
		Keypair:     kp,
		ClientID:    clientID,
		Manifest:    Manifest{URL: "https://app.example", Name: "App " + clientID},
		ManifestURL: "https://app.example/m.json",
		CreatedAt:   1700000000,
	}
}

func TestRegistryAddRemove(t *testing.T) {
	ctx := context.Background()
	r := NewRegistry(storage.NewMemory())

	a := newTestConnection(t, "aa")
	b := newTestConnection(t, "bb")
	c := newTestConnection(t, "cc")
	for _, conn := range []*Connection{a, b, c} {
		require.NoError(t, r.Add(ctx, testScope, conn))
	}

	list, err := r.List(ctx, testScope)
	require.NoError(t, err)
	require.Len(t, list, 3)

	require.NoError(t, r.Remove(ctx, testScope, b.SessionID()))

	list, err = r.List(ctx, testScope)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, a.SessionID(), list[0].SessionID())
	assert.Equal(t, c.SessionID(), list[1].SessionID())
	assert.Equal(t, a.Keypair.Secret, list[0].Keypair.Secret)

	require.ErrorIs(t, r.Remove(ctx, testScope, b.SessionID()), ErrConnectionNotFound)

	found, err := r.FindByClient(ctx, testScope, "cc")
	require.NoError(t, err)
	assert.Equal(t, c.SessionID(), found.SessionID())

	_, err = r.FindByClient(ctx, testScope, "bb")
	require.ErrorIs(t, err, ErrConnectionNotFound)
}

func TestRegistryReplacesSameApp(t *testing.T) {
	ctx := context.Background()
	r := NewRegistry(storage.NewMemory())

	first := newTestConnection(t, "aa")
	second := newTestConnection(t, "aa")
	require.NoError(t, r.Add(ctx, testScope, first))
	require.NoError(t, r.Add(ctx, testScope, second))

	page := newTestConnection(t, "")
	page.Origin = "https://game.example"
	require.NoError(t, r.Add(ctx, testScope, page))

	list, err := r.List(ctx, testScope)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, second.SessionID(), list[0].SessionID())

	found, err := r.FindByOrigin(ctx, testScope, "https://game.example")
	require.NoError(t, err)
	assert.True(t, found.IsInPage())
}

func TestRegistryScopes(t *testing.T) {
	ctx := context.Background()
	r := NewRegistry(storage.NewMemory())

	testnet := testScope
	testnet.Network = -3

	require.NoError(t, r.Add(ctx, testScope, newTestConnection(t, "aa")))
	require.NoError(t, r.Add(ctx, testnet, newTestConnection(t, "bb")))

	main, err := r.List(ctx, testScope)
	require.NoError(t, err)
	require.Len(t, main, 1)
	assert.Equal(t, "aa", main[0].ClientID)

	test, err := r.List(ctx, testnet)
	require.NoError(t, err)
	require.Len(t, test, 1)
	assert.Equal(t, "bb", test[0].ClientID)

	require.NoError(t, r.RemoveAll(ctx, testScope))
	main, err = r.List(ctx, testScope)
	require.NoError(t, err)
	assert.Empty(t, main)

	test, err = r.List(ctx, testnet)
	require.NoError(t, err)
	assert.Len(t, test, 1)
}

func TestRegistryUpdateManifest(t *testing.T) {
	ctx := context.Background()
	r := NewRegistry(storage.NewMemory())

	conn := newTestConnection(t, "aa")
	require.NoError(t, r.Add(ctx, testScope, conn))

	ch, cancel := r.Subscribe()
	defer cancel()

	m := Manifest{URL: "https://app.example", Name: "Renamed"}
	require.NoError(t, r.UpdateManifest(ctx, testScope, conn.SessionID(), m))
	assert.Equal(t, testScope, <-ch)

	// records are replaced, the old value is untouched
	assert.Equal(t, "App aa", conn.Manifest.Name)

	list, err := r.List(ctx, testScope)
	require.NoError(t, err)
	assert.Equal(t, "Renamed", list[0].Manifest.Name)

	// same manifest does not notify
	require.NoError(t, r.UpdateManifest(ctx, testScope, conn.SessionID(), m))
	select {
	case <-ch:
		t.Fatal("unexpected notification")
	default:
	}

	require.ErrorIs(t, r.UpdateManifest(ctx, testScope, "missing", m), ErrConnectionNotFound)
}

func TestRegistryConcurrentAdds(t *testing.T) {
	ctx := context.Background()
	r := NewRegistry(storage.NewMemory())

	const n = 20
	conns := make([]*Connection, n)
	for i := range conns {
		conns[i] = newTestConnection(t, fmt.Sprintf("%02d", i))
	}

	var wg sync.WaitGroup
	for _, c := range conns {
		wg.Add(1)
		go func(c *Connection) {
			defer wg.Done()
			assert.NoError(t, r.Add(ctx, testScope, c))
		}(c)
	}
	wg.Wait()

	list, err := r.List(ctx, testScope)
	require.NoError(t, err)
	assert.Len(t, list, n)
}
