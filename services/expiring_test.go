package services

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryKVExpires(t *testing.T) {
	clock := clockwork.NewFakeClock()
	kv := NewMemoryKV(clock)
	ctx := context.Background()

	require.NoError(t, kv.Set(ctx, "a", "1", time.Minute))
	v, ok, err := kv.Get(ctx, "a")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "1", v)

	clock.Advance(time.Minute)
	_, ok, err = kv.Get(ctx, "a")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryKVKeysSkipsExpired(t *testing.T) {
	clock := clockwork.NewFakeClock()
	kv := NewMemoryKV(clock)
	ctx := context.Background()

	require.NoError(t, kv.Set(ctx, kvKilled+"1", "1", time.Hour))
	require.NoError(t, kv.Set(ctx, kvKilled+"2", "1", time.Second))
	require.NoError(t, kv.Set(ctx, kvStandingHash+"1", "h", time.Hour))
	clock.Advance(2 * time.Second)

	keys, err := kv.Keys(ctx, kvKilled)
	require.NoError(t, err)
	sort.Strings(keys)
	assert.Equal(t, []string{kvKilled + "1"}, keys)

	require.NoError(t, kv.Delete(ctx, kvKilled+"1"))
	keys, err = kv.Keys(ctx, kvKilled)
	require.NoError(t, err)
	assert.Empty(t, keys)
}
