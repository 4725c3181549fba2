package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMemoryAllowWithinLimit(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		result, err := m.Allow(ctx, "user-1", "/notebooks", 3, time.Minute)
		require.NoError(t, err)
		require.True(t, result.Allowed)
	}
}

func TestMemoryBlocksOverLimit(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := m.Allow(ctx, "user-2", "/notebooks", 3, time.Minute)
		require.NoError(t, err)
	}
	result, err := m.Allow(ctx, "user-2", "/notebooks", 3, time.Minute)
	require.NoError(t, err)
	require.False(t, result.Allowed)
	require.Equal(t, 0, result.Remaining)
}

func TestMemoryWindowResets(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	result, err := m.Allow(ctx, "user-3", "/notebooks", 1, 5*time.Millisecond)
	require.NoError(t, err)
	require.True(t, result.Allowed)

	result, err = m.Allow(ctx, "user-3", "/notebooks", 1, 5*time.Millisecond)
	require.NoError(t, err)
	require.False(t, result.Allowed)

	time.Sleep(10 * time.Millisecond)
	result, err = m.Allow(ctx, "user-3", "/notebooks", 1, 5*time.Millisecond)
	require.NoError(t, err)
	require.True(t, result.Allowed)
}

func TestMemoryIsolatesByIdentityAndPath(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	_, err := m.Allow(ctx, "user-4", "/a", 1, time.Minute)
	require.NoError(t, err)
	result, err := m.Allow(ctx, "user-4", "/b", 1, time.Minute)
	require.NoError(t, err)
	require.True(t, result.Allowed, "different path should have its own bucket")

	result, err = m.Allow(ctx, "user-5", "/a", 1, time.Minute)
	require.NoError(t, err)
	require.True(t, result.Allowed, "different identity should have its own bucket")
}
