package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMemorySetGet(t *testing.T) {
	c := NewMemory()
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", map[string]string{"a": "b"}, time.Minute))

	var dest map[string]string
	ok, err := c.Get(ctx, "k", &dest)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "b", dest["a"])
}

func TestMemoryGetMissingKey(t *testing.T) {
	c := NewMemory()
	var dest string
	ok, err := c.Get(context.Background(), "missing", &dest)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestMemoryExpiry(t *testing.T) {
	c := NewMemory()
	ctx := context.Background()
	require.NoError(t, c.Set(ctx, "k", "v", time.Millisecond))
	time.Sleep(5 * time.Millisecond)

	var dest string
	ok, _ := c.Get(ctx, "k", &dest)
	require.False(t, ok)
}

func TestMemoryClearByPrefix(t *testing.T) {
	c := NewMemory()
	ctx := context.Background()
	require.NoError(t, c.Set(ctx, "chat:1", "a", 0))
	require.NoError(t, c.Set(ctx, "chat:2", "b", 0))
	require.NoError(t, c.Set(ctx, "embed:1", "c", 0))

	require.NoError(t, c.Clear(ctx, "chat:"))

	exists, _ := c.Exists(ctx, "chat:1")
	require.False(t, exists)
	exists, _ = c.Exists(ctx, "embed:1")
	require.True(t, exists)
}
