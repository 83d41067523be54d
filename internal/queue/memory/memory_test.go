package memory_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fincontrol/sheetsync/internal/model"
	"github.com/fincontrol/sheetsync/internal/queue/memory"
)

func testMutation(taskID string, op model.MutationOp) model.Mutation {
	m := model.Mutation{
		TaskID:      taskID,
		Op:          op,
		BaseVersion: 1,
		CreatedAt:   time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC),
	}
	if op != model.MutationOpDelete {
		m.Fields = model.Fields{{Name: "amount", Value: "10.00"}}
	}
	return m
}

func TestQueueClaimLifecycle(t *testing.T) {
	q, err := memory.NewQueue(memory.QueueConfig{})
	require.NoError(t, err)

	ctx := context.Background()
	now := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)

	require.NoError(t, q.Enqueue(ctx, testMutation("task1", model.MutationOpCreate)))

	m, err := q.Claim(ctx, now)
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, "task1", m.TaskID)

	// Claimed entry is out of rotation.
	m2, err := q.Claim(ctx, now)
	require.NoError(t, err)
	assert.Nil(t, m2)

	// Release with backoff keeps it out until the next attempt time.
	require.NoError(t, q.Release(ctx, "task1", 1, now.Add(time.Minute)))

	m2, err = q.Claim(ctx, now)
	require.NoError(t, err)
	assert.Nil(t, m2)

	m2, err = q.Claim(ctx, now.Add(time.Minute))
	require.NoError(t, err)
	require.NotNil(t, m2)
	assert.Equal(t, 1, m2.Attempts)

	require.NoError(t, q.Complete(ctx, "task1"))
	_, err = q.Get(ctx, "task1")
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestQueueEnqueueSupersedes(t *testing.T) {
	q, err := memory.NewQueue(memory.QueueConfig{})
	require.NoError(t, err)

	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, testMutation("task1", model.MutationOpCreate)))
	require.NoError(t, q.Release(ctx, "task1", 3, time.Now().Add(time.Hour)))

	update := testMutation("task1", model.MutationOpUpdate)
	require.NoError(t, q.Enqueue(ctx, update))

	got, err := q.Get(ctx, "task1")
	require.NoError(t, err)
	assert.Equal(t, model.MutationOpUpdate, got.Op)
	assert.Equal(t, 0, got.Attempts)
	assert.True(t, got.NextAttempt.IsZero())
}

func TestQueueEntriesOrder(t *testing.T) {
	q, err := memory.NewQueue(memory.QueueConfig{})
	require.NoError(t, err)

	ctx := context.Background()

	second := testMutation("task2", model.MutationOpCreate)
	second.CreatedAt = time.Date(2026, 2, 1, 11, 0, 0, 0, time.UTC)
	require.NoError(t, q.Enqueue(ctx, second))
	require.NoError(t, q.Enqueue(ctx, testMutation("task1", model.MutationOpCreate)))

	entries, err := q.Entries(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "task1", entries[0].TaskID)
	assert.Equal(t, "task2", entries[1].TaskID)
}

func TestQueueReleaseAll(t *testing.T) {
	q, err := memory.NewQueue(memory.QueueConfig{})
	require.NoError(t, err)

	ctx := context.Background()
	now := time.Now()

	require.NoError(t, q.Enqueue(ctx, testMutation("task1", model.MutationOpCreate)))

	m, err := q.Claim(ctx, now)
	require.NoError(t, err)
	require.NotNil(t, m)

	require.NoError(t, q.ReleaseAll(ctx))

	m, err = q.Claim(ctx, now)
	require.NoError(t, err)
	assert.NotNil(t, m)
}
