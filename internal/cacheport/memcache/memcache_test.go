package memcache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetGet_RoundTrips(t *testing.T) {
	c := New()
	ctx := context.Background()
	require.NoError(t, c.Set(ctx, "k", "v", 0))
	v, ok, err := c.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "v", v)
}

func TestGet_MissingKeyReturnsFalse(t *testing.T) {
	c := New()
	_, ok, err := c.Get(context.Background(), "nope")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestGet_ExpiredEntryReturnsFalse(t *testing.T) {
	c := New()
	ctx := context.Background()
	require.NoError(t, c.Set(ctx, "k", "v", time.Millisecond))
	time.Sleep(5 * time.Millisecond)
	_, ok, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestInvalidate_RemovesEntry(t *testing.T) {
	c := New()
	ctx := context.Background()
	require.NoError(t, c.Set(ctx, "k", "v", 0))
	require.NoError(t, c.Invalidate(ctx, "k"))
	_, ok, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestAcquireLock_SecondAcquireFailsUntilReleased(t *testing.T) {
	c := New()
	ctx := context.Background()
	release, ok, err := c.AcquireLock(ctx, "lock", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok2, err := c.AcquireLock(ctx, "lock", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok2, "lock already held must fail a second acquire")

	release(ctx)
	_, ok3, err := c.AcquireLock(ctx, "lock", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok3, "lock must be re-acquirable after release")
}

func TestAcquireLock_ExpiresAfterTTL(t *testing.T) {
	c := New()
	ctx := context.Background()
	_, ok, err := c.AcquireLock(ctx, "lock", time.Millisecond)
	require.NoError(t, err)
	require.True(t, ok)

	time.Sleep(5 * time.Millisecond)
	_, ok2, err := c.AcquireLock(ctx, "lock", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok2, "an expired lock must be acquirable again without an explicit release")
}
