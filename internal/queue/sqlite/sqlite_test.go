package sqlite_test

import (
	"context"
	"database/sql"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fincontrol/sheetsync/internal/model"
	queuesqlite "github.com/fincontrol/sheetsync/internal/queue/sqlite"
	storagesqlite "github.com/fincontrol/sheetsync/internal/storage/sqlite"
)

func testDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := storagesqlite.Open(context.Background(), filepath.Join(t.TempDir(), "sheetsync.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return db
}

func testQueue(t *testing.T) *queuesqlite.Queue {
	t.Helper()

	q, err := queuesqlite.NewQueue(queuesqlite.QueueConfig{DB: testDB(t)})
	require.NoError(t, err)

	return q
}

func testMutation(taskID string, op model.MutationOp) model.Mutation {
	m := model.Mutation{
		TaskID:      taskID,
		Op:          op,
		BaseVersion: 1,
		BaseHash:    "hash",
		CreatedAt:   time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC),
	}
	if op != model.MutationOpDelete {
		m.Fields = model.Fields{{Name: "amount", Value: "10.00"}}
	}
	return m
}

func TestQueueEnqueueGet(t *testing.T) {
	q := testQueue(t)
	ctx := context.Background()

	m := testMutation("task1", model.MutationOpCreate)
	require.NoError(t, q.Enqueue(ctx, m))

	got, err := q.Get(ctx, "task1")
	require.NoError(t, err)
	assert.Equal(t, m, *got)
}

func TestQueueGetMissing(t *testing.T) {
	q := testQueue(t)

	_, err := q.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestQueueEnqueueCoalesces(t *testing.T) {
	q := testQueue(t)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, testMutation("task1", model.MutationOpCreate)))

	// A claimed, retried entry gets superseded by a newer mutation.
	claimed, err := q.Claim(ctx, time.Now())
	require.NoError(t, err)
	require.NotNil(t, claimed)

	update := testMutation("task1", model.MutationOpUpdate)
	update.BaseVersion = 2
	require.NoError(t, q.Enqueue(ctx, update))

	entries, err := q.Entries(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, model.MutationOpUpdate, entries[0].Op)
	assert.Equal(t, int64(2), entries[0].BaseVersion)
	assert.Equal(t, 0, entries[0].Attempts)

	// The claim was reset too, so the entry is claimable again.
	claimed, err = q.Claim(ctx, time.Now())
	require.NoError(t, err)
	require.NotNil(t, claimed)
	assert.Equal(t, model.MutationOpUpdate, claimed.Op)
}

func TestQueueClaim(t *testing.T) {
	q := testQueue(t)
	ctx := context.Background()
	now := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)

	t.Run("Empty queue should claim nothing", func(t *testing.T) {
		m, err := q.Claim(ctx, now)
		require.NoError(t, err)
		assert.Nil(t, m)
	})

	require.NoError(t, q.Enqueue(ctx, testMutation("task1", model.MutationOpCreate)))

	t.Run("Due entry should be claimed once", func(t *testing.T) {
		m, err := q.Claim(ctx, now)
		require.NoError(t, err)
		require.NotNil(t, m)
		assert.Equal(t, "task1", m.TaskID)

		// Already claimed, nothing left.
		m, err = q.Claim(ctx, now)
		require.NoError(t, err)
		assert.Nil(t, m)
	})

	t.Run("Released entry should respect next attempt time", func(t *testing.T) {
		retryAt := now.Add(time.Minute)
		require.NoError(t, q.Release(ctx, "task1", 1, retryAt))

		m, err := q.Claim(ctx, now)
		require.NoError(t, err)
		assert.Nil(t, m)

		m, err = q.Claim(ctx, retryAt)
		require.NoError(t, err)
		require.NotNil(t, m)
		assert.Equal(t, 1, m.Attempts)
	})
}

func TestQueueReleaseParkedEntryNeverDue(t *testing.T) {
	q := testQueue(t)
	ctx := context.Background()
	now := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)

	require.NoError(t, q.Enqueue(ctx, testMutation("task1", model.MutationOpCreate)))

	m, err := q.Claim(ctx, now)
	require.NoError(t, err)
	require.NotNil(t, m)

	// Parking at the last representable instant must survive nanosecond
	// storage without wrapping into the past.
	parkedAt := time.Unix(0, math.MaxInt64).UTC()
	require.NoError(t, q.Release(ctx, "task1", 5, parkedAt))

	m, err = q.Claim(ctx, now)
	require.NoError(t, err)
	assert.Nil(t, m)

	// The entry stays listed for inspection with its attempt count.
	got, err := q.Get(ctx, "task1")
	require.NoError(t, err)
	assert.Equal(t, 5, got.Attempts)
	assert.Equal(t, parkedAt, got.NextAttempt)
}

func TestQueueClaimOldestFirst(t *testing.T) {
	q := testQueue(t)
	ctx := context.Background()

	first := testMutation("task1", model.MutationOpCreate)
	first.CreatedAt = time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)
	second := testMutation("task2", model.MutationOpCreate)
	second.CreatedAt = time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)

	require.NoError(t, q.Enqueue(ctx, second))
	require.NoError(t, q.Enqueue(ctx, first))

	m, err := q.Claim(ctx, time.Now())
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, "task1", m.TaskID)
}

func TestQueueComplete(t *testing.T) {
	q := testQueue(t)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, testMutation("task1", model.MutationOpCreate)))
	require.NoError(t, q.Complete(ctx, "task1"))

	_, err := q.Get(ctx, "task1")
	assert.ErrorIs(t, err, model.ErrNotFound)

	err = q.Complete(ctx, "task1")
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestQueueReleaseMissing(t *testing.T) {
	q := testQueue(t)

	err := q.Release(context.Background(), "missing", 1, time.Now())
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestQueueReleaseAll(t *testing.T) {
	q := testQueue(t)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, q.Enqueue(ctx, testMutation("task1", model.MutationOpCreate)))
	require.NoError(t, q.Enqueue(ctx, testMutation("task2", model.MutationOpDelete)))

	m1, err := q.Claim(ctx, now)
	require.NoError(t, err)
	require.NotNil(t, m1)
	m2, err := q.Claim(ctx, now)
	require.NoError(t, err)
	require.NotNil(t, m2)

	// Simulate a restart: stale claims are cleared and entries flow again.
	require.NoError(t, q.ReleaseAll(ctx))

	m, err := q.Claim(ctx, now)
	require.NoError(t, err)
	assert.NotNil(t, m)
}

func TestQueueDeleteMutationWithoutFields(t *testing.T) {
	q := testQueue(t)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, testMutation("task1", model.MutationOpDelete)))

	got, err := q.Get(ctx, "task1")
	require.NoError(t, err)
	assert.Equal(t, model.MutationOpDelete, got.Op)
	assert.Empty(t, got.Fields)
}
