package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddIsSetIfAbsent(t *testing.T) {
	store := NewStore(Options{DefaultTTL: time.Minute})
	ctx := context.Background()

	require.True(t, store.Add(ctx, "lock", 1, time.Minute))
	assert.False(t, store.Add(ctx, "lock", 2, time.Minute))

	store.Delete(ctx, "lock")
	assert.True(t, store.Add(ctx, "lock", 3, time.Minute))
}

func TestNamespaceIsolatesKeys(t *testing.T) {
	store := NewStore(Options{DefaultTTL: time.Minute})
	ctx := context.Background()

	a := store.Namespace("a")
	b := store.Namespace("b")

	require.NoError(t, a.Set(ctx, "k", "from-a", 0))
	_, ok := b.Get(ctx, "k")
	assert.False(t, ok)

	got, ok := a.GetString(ctx, "k")
	require.True(t, ok)
	assert.Equal(t, "from-a", got)
}

func TestNestedNamespacePrefix(t *testing.T) {
	store := NewStore(Options{DefaultTTL: time.Minute, Prefix: "resellerd"})
	ctx := context.Background()

	inner := store.Namespace("lock")
	require.NoError(t, inner.Set(ctx, "sweep", "held", 0))

	// The same key is reachable through the flat store with the full prefix.
	got, ok := store.GetString(ctx, "lock:sweep")
	require.True(t, ok)
	assert.Equal(t, "held", got)
}

func TestTTLReporting(t *testing.T) {
	store := NewStore(Options{DefaultTTL: time.Minute})
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "k", "v", time.Hour))
	ttl, ok := store.TTL(ctx, "k")
	require.True(t, ok)
	assert.Greater(t, ttl, 59*time.Minute)

	_, ok = store.TTL(ctx, "missing")
	assert.False(t, ok)
}
