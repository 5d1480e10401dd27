package hostcache

import (
	"context"
	"net/netip"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_SerializeThenRestoreRoundTrips(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "hostcache.db")
	store, err := OpenStore(dbPath, nil)
	require.NoError(t, err)
	defer func() { _ = store.Close() }()

	now := time.Now()
	original := New(8, nil, nil)
	k := testKey("example.com")
	addr, err := netip.ParseAddr("93.184.216.34")
	require.NoError(t, err)
	entry := NewEntry(0, []Endpoint{{Addr: addr, Port: 443}}, SourceKindDNS, time.Minute, now, 0)
	original.Set(k, entry, now)

	ctx := context.Background()
	require.NoError(t, store.Serialize(ctx, original))

	restoredCache := New(8, nil, nil)
	n, err := store.Restore(ctx, restoredCache, now)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, ok := restoredCache.Lookup(k, now)
	require.True(t, ok)
	assert.Equal(t, entry.Error, got.Error)
	require.Len(t, got.Addresses, 1)
	assert.Equal(t, "93.184.216.34", got.Addresses[0].Addr.String())
}

func TestStore_RestoreSkipsKeysAlreadyPresent(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "hostcache.db")
	store, err := OpenStore(dbPath, nil)
	require.NoError(t, err)
	defer func() { _ = store.Close() }()

	now := time.Now()
	k := testKey("example.com")
	snapshot := New(8, nil, nil)
	snapshot.Set(k, NewEntry(0, nil, SourceKindDNS, time.Minute, now, 0), now)

	ctx := context.Background()
	require.NoError(t, store.Serialize(ctx, snapshot))

	live := New(8, nil, nil)
	live.Set(k, NewEntry(0, nil, SourceKindHosts, time.Hour, now, 0), now)

	n, err := store.Restore(ctx, live, now)
	require.NoError(t, err)
	assert.Equal(t, 0, n, "restore must not overwrite an entry already present")

	got, ok := live.Lookup(k, now)
	require.True(t, ok)
	assert.Equal(t, SourceKindHosts, got.SourceKind)
}
