package memory_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fincontrol/sheetsync/internal/cache/memory"
	"github.com/fincontrol/sheetsync/internal/model"
)

func testTask(id string) model.Task {
	return model.Task{
		ID:        id,
		Fields:    model.Fields{{Name: "amount", Value: "10.00"}},
		Version:   1,
		SyncState: model.SyncStateSynced,
	}
}

func TestCacheGetSet(t *testing.T) {
	c, err := memory.NewCache(memory.CacheConfig{TTL: time.Minute})
	require.NoError(t, err)

	ctx := context.Background()

	_, err = c.Get(ctx, "task1")
	assert.ErrorIs(t, err, model.ErrNotFound)

	require.NoError(t, c.Set(ctx, testTask("task1")))

	got, err := c.Get(ctx, "task1")
	require.NoError(t, err)
	assert.Equal(t, "task1", got.ID)
}

func TestCacheTTLExpiry(t *testing.T) {
	now := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	c, err := memory.NewCache(memory.CacheConfig{TTL: time.Minute, Now: clock})
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, c.Set(ctx, testTask("task1")))

	// Still fresh just before the TTL.
	now = now.Add(59 * time.Second)
	_, err = c.Get(ctx, "task1")
	require.NoError(t, err)

	// Expired after the TTL.
	now = now.Add(2 * time.Second)
	_, err = c.Get(ctx, "task1")
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestCacheDelete(t *testing.T) {
	c, err := memory.NewCache(memory.CacheConfig{TTL: time.Minute})
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, c.Set(ctx, testTask("task1")))
	require.NoError(t, c.Delete(ctx, "task1"))

	_, err = c.Get(ctx, "task1")
	assert.ErrorIs(t, err, model.ErrNotFound)

	// Deleting an absent entry is not an error.
	require.NoError(t, c.Delete(ctx, "task1"))
}

func TestCacheGetReturnsCopy(t *testing.T) {
	c, err := memory.NewCache(memory.CacheConfig{TTL: time.Minute})
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, c.Set(ctx, testTask("task1")))

	got, err := c.Get(ctx, "task1")
	require.NoError(t, err)
	got.Fields[0].Value = "999"

	again, err := c.Get(ctx, "task1")
	require.NoError(t, err)
	v, _ := again.Fields.Get("amount")
	assert.Equal(t, "10.00", v)
}

func TestCacheInvalidConfig(t *testing.T) {
	_, err := memory.NewCache(memory.CacheConfig{})
	require.Error(t, err)
}
