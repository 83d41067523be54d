package engine_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cachememory "github.com/fincontrol/sheetsync/internal/cache/memory"
	"github.com/fincontrol/sheetsync/internal/config"
	"github.com/fincontrol/sheetsync/internal/engine"
	"github.com/fincontrol/sheetsync/internal/model"
	queuememory "github.com/fincontrol/sheetsync/internal/queue/memory"
	"github.com/fincontrol/sheetsync/internal/sheet"
	sheetfake "github.com/fincontrol/sheetsync/internal/sheet/fake"
	storagememory "github.com/fincontrol/sheetsync/internal/storage/memory"
)

// clock is a controllable test clock.
type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type testEnv struct {
	engine   *engine.Engine
	gateway  *sheetfake.Gateway
	repo     *storagememory.Repository
	queue    *queuememory.Queue
	cache    *cachememory.Cache
	clock    *clock
	settings *config.Settings
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	clk := &clock{t: time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)}

	settings := &config.Settings{
		SpreadsheetID:  "test-sheet",
		DBPath:         "unused",
		MaxRows:        50,
		MaxAttempts:    3,
		RetryBaseDelay: 10 * time.Millisecond,
		RetryMaxDelay:  40 * time.Millisecond,
	}
	settings.Defaults()

	gateway, err := sheetfake.NewGateway(sheetfake.GatewayConfig{MaxRows: settings.MaxRows})
	require.NoError(t, err)
	repo, err := storagememory.NewRepository(storagememory.RepositoryConfig{})
	require.NoError(t, err)
	q, err := queuememory.NewQueue(queuememory.QueueConfig{})
	require.NoError(t, err)
	c, err := cachememory.NewCache(cachememory.CacheConfig{TTL: settings.CacheTTL, Now: clk.Now})
	require.NoError(t, err)

	eng, err := engine.New(engine.Config{
		Gateway:  gateway,
		Cache:    c,
		Repo:     repo,
		Queue:    q,
		Settings: settings,
		Now:      clk.Now,
	})
	require.NoError(t, err)

	return &testEnv{
		engine:   eng,
		gateway:  gateway,
		repo:     repo,
		queue:    q,
		cache:    c,
		clock:    clk,
		settings: settings,
	}
}

// flushAll drives FlushOnce across backoff windows until the queue drains or
// every remaining entry is parked.
func (env *testEnv) flushAll(t *testing.T) {
	t.Helper()

	ctx := context.Background()
	for i := 0; i < 20; i++ {
		_, err := env.engine.FlushOnce(ctx)
		require.NoError(t, err)

		entries, err := env.queue.Entries(ctx)
		require.NoError(t, err)

		due := false
		for _, m := range entries {
			if !m.NextAttempt.After(env.clock.Now().Add(time.Second)) {
				due = true
			}
		}
		if !due {
			return
		}
		env.clock.Advance(time.Second)
	}
	t.Fatal("queue did not drain")
}

func amountFields(amount string) model.Fields {
	return model.Fields{
		{Name: "date", Value: "2026-02-01"},
		{Name: "category", Value: "groceries"},
		{Name: "amount", Value: amount},
	}
}

func TestCreateThenFlush(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	task, err := env.engine.Create(ctx, amountFields("10.00"))
	require.NoError(t, err)
	assert.Equal(t, model.SyncStatePendingWrite, task.SyncState)
	assert.Equal(t, int64(0), task.Version)

	// Read-your-writes before the flush.
	got, err := env.engine.Read(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SyncStatePendingWrite, got.SyncState)

	n, err := env.engine.FlushOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err = env.engine.Read(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SyncStateSynced, got.SyncState)
	assert.Equal(t, int64(0), got.Version)
	assert.NotEmpty(t, got.ContentHash)

	// The remote row carries the task id as its first column.
	row, err := env.gateway.FetchRow(ctx, got.RowIndex)
	require.NoError(t, err)
	id, ok := row.TaskID()
	assert.True(t, ok)
	assert.Equal(t, task.ID, id)

	// Queue drained.
	entries, err := env.queue.Entries(ctx)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestCreateEmptyFieldsFails(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.engine.Create(context.Background(), nil)
	assert.ErrorIs(t, err, model.ErrNotValid)
}

func TestFlushRetriesTransientFailures(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.gateway.FailNext(2)

	task, err := env.engine.Create(ctx, amountFields("10.00"))
	require.NoError(t, err)

	// First attempt fails transiently, the entry goes back with backoff.
	n, err := env.engine.FlushOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	state, err := env.engine.Status(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SyncStatePendingWrite, state)

	m, err := env.queue.Get(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, m.Attempts)
	assert.True(t, m.NextAttempt.After(env.clock.Now()))

	// Retries eventually land within the attempt budget.
	env.flushAll(t)

	state, err = env.engine.Status(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SyncStateSynced, state)
}

func TestFlushExhaustsAttempts(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.gateway.FailNext(100)

	task, err := env.engine.Create(ctx, amountFields("10.00"))
	require.NoError(t, err)

	env.flushAll(t)

	state, err := env.engine.Status(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SyncStateFailedSync, state)

	// The entry stays parked for inspection but is never claimed again.
	m, err := env.queue.Get(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, env.settings.MaxAttempts, m.Attempts)

	claimed, err := env.queue.Claim(ctx, env.clock.Now())
	require.NoError(t, err)
	assert.Nil(t, claimed)
}

func TestFlushPermanentFailureFailsFast(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// Fill the sheet so the append fails permanently.
	for i := 0; i < env.settings.MaxRows; i++ {
		_, err := env.gateway.AppendRow(ctx, sheet.WithRowID("ext", amountFields("1")))
		require.NoError(t, err)
	}
	callsBefore := env.gateway.Calls()

	task, err := env.engine.Create(ctx, amountFields("10.00"))
	require.NoError(t, err)

	_, err = env.engine.FlushOnce(ctx)
	require.NoError(t, err)

	state, err := env.engine.Status(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SyncStateFailedSync, state)

	// No retries happened for the permanent failure.
	assert.Equal(t, callsBefore+1, env.gateway.Calls())
}

func TestSequentialUpdatesCoalesce(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	task, err := env.engine.Create(ctx, amountFields("10.00"))
	require.NoError(t, err)
	env.flushAll(t)

	_, err = env.engine.Update(ctx, task.ID, model.Fields{{Name: "amount", Value: "20.00"}})
	require.NoError(t, err)
	updated, err := env.engine.Update(ctx, task.ID, model.Fields{{Name: "amount", Value: "30.00"}})
	require.NoError(t, err)
	assert.Equal(t, int64(2), updated.Version)

	// Only the latest intent is queued.
	entries, err := env.queue.Entries(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	v, _ := entries[0].Fields.Get("amount")
	assert.Equal(t, "30.00", v)

	env.flushAll(t)

	got, err := env.engine.Read(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SyncStateSynced, got.SyncState)
	assert.Equal(t, int64(2), got.Version)

	row, err := env.gateway.FetchRow(ctx, got.RowIndex)
	require.NoError(t, err)
	v, _ = row.Fields.Get("amount")
	assert.Equal(t, "30.00", v)
}

func TestUpdateBeforeFirstFlushStaysCreate(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	task, err := env.engine.Create(ctx, amountFields("10.00"))
	require.NoError(t, err)

	// The update supersedes the queued create before anything reached the
	// sheet; the merged intent must still append, there is no row to update.
	_, err = env.engine.Update(ctx, task.ID, model.Fields{{Name: "amount", Value: "20.00"}})
	require.NoError(t, err)

	entries, err := env.queue.Entries(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, model.MutationOpCreate, entries[0].Op)
	assert.Empty(t, entries[0].BaseHash)

	env.flushAll(t)

	got, err := env.engine.Read(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SyncStateSynced, got.SyncState)
	assert.Equal(t, int64(1), got.Version)

	rows, err := env.gateway.FetchRows(ctx, 0, env.settings.MaxRows)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	v, _ := rows[0].Fields.Get("amount")
	assert.Equal(t, "20.00", v)
}

func TestConcurrentUpdatesBumpVersionOnce(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	task, err := env.engine.Create(ctx, amountFields("10.00"))
	require.NoError(t, err)
	env.flushAll(t)

	const writers = 10
	var wg sync.WaitGroup
	wg.Add(writers)
	for i := 0; i < writers; i++ {
		go func() {
			defer wg.Done()
			_, err := env.engine.Update(ctx, task.ID, model.Fields{{Name: "amount", Value: "99.00"}})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	got, err := env.engine.Read(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(writers), got.Version)
}

func TestConflictDetectionAndResolve(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	task, err := env.engine.Create(ctx, amountFields("10.00"))
	require.NoError(t, err)
	env.flushAll(t)

	synced, err := env.engine.Read(ctx, task.ID)
	require.NoError(t, err)

	// Somebody edits the row behind the engine's back.
	env.gateway.SetRow(synced.RowIndex, sheet.WithRowID(task.ID, amountFields("77.00")))

	_, err = env.engine.Update(ctx, task.ID, model.Fields{{Name: "amount", Value: "20.00"}})
	require.NoError(t, err)
	env.flushAll(t)

	// The divergent edit is surfaced, not overwritten.
	got, err := env.engine.Read(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SyncStateConflict, got.SyncState)

	// Local fields keep the caller's write.
	v, _ := got.Fields.Get("amount")
	assert.Equal(t, "20.00", v)

	// The remote row keeps the external edit.
	row, err := env.gateway.FetchRow(ctx, synced.RowIndex)
	require.NoError(t, err)
	v, _ = row.Fields.Get("amount")
	assert.Equal(t, "77.00", v)

	// Further updates are rejected until resolved.
	_, err = env.engine.Update(ctx, task.ID, model.Fields{{Name: "amount", Value: "30.00"}})
	assert.ErrorIs(t, err, model.ErrConflict)

	// Manual resolution wins.
	require.NoError(t, env.engine.Resolve(ctx, task.ID, amountFields("25.00")))
	env.flushAll(t)

	got, err = env.engine.Read(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SyncStateSynced, got.SyncState)

	row, err = env.gateway.FetchRow(ctx, got.RowIndex)
	require.NoError(t, err)
	v, _ = row.Fields.Get("amount")
	assert.Equal(t, "25.00", v)
}

func TestResolveRequiresConflictState(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	task, err := env.engine.Create(ctx, amountFields("10.00"))
	require.NoError(t, err)

	err = env.engine.Resolve(ctx, task.ID, amountFields("20.00"))
	assert.ErrorIs(t, err, model.ErrNotValid)
}

func TestResolveRecreatesVanishedRow(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	task, err := env.engine.Create(ctx, amountFields("10.00"))
	require.NoError(t, err)
	env.flushAll(t)

	synced, err := env.engine.Read(ctx, task.ID)
	require.NoError(t, err)

	// External edit puts the task in conflict.
	env.gateway.SetRow(synced.RowIndex, sheet.WithRowID(task.ID, amountFields("77.00")))
	_, err = env.engine.Update(ctx, task.ID, model.Fields{{Name: "amount", Value: "20.00"}})
	require.NoError(t, err)
	env.flushAll(t)

	// Then the row disappears entirely.
	require.NoError(t, env.gateway.DeleteRow(ctx, synced.RowIndex))

	require.NoError(t, env.engine.Resolve(ctx, task.ID, amountFields("25.00")))
	env.flushAll(t)

	got, err := env.engine.Read(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SyncStateSynced, got.SyncState)

	row, err := env.gateway.FetchRow(ctx, got.RowIndex)
	require.NoError(t, err)
	v, _ := row.Fields.Get("amount")
	assert.Equal(t, "25.00", v)
}

func TestEquivalentNumericEditIsNotAConflict(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	task, err := env.engine.Create(ctx, amountFields("100"))
	require.NoError(t, err)
	env.flushAll(t)

	synced, err := env.engine.Read(ctx, task.ID)
	require.NoError(t, err)

	// The sheet renders the amount differently but equivalently.
	env.gateway.SetRow(synced.RowIndex, sheet.WithRowID(task.ID, amountFields("100,00")))

	_, err = env.engine.Update(ctx, task.ID, model.Fields{{Name: "amount", Value: "20.00"}})
	require.NoError(t, err)
	env.flushAll(t)

	got, err := env.engine.Read(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SyncStateSynced, got.SyncState)
}

func TestDeleteTombstoneThenPurge(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	task, err := env.engine.Create(ctx, amountFields("10.00"))
	require.NoError(t, err)
	env.flushAll(t)

	require.NoError(t, env.engine.Delete(ctx, task.ID))

	// Tombstoned tasks read as gone immediately.
	_, err = env.engine.Read(ctx, task.ID)
	assert.ErrorIs(t, err, model.ErrNotFound)

	stored, err := env.repo.Get(ctx, task.ID)
	require.NoError(t, err)
	assert.True(t, stored.Deleted)

	env.flushAll(t)

	// Purged everywhere after the remote delete confirmed.
	_, err = env.repo.Get(ctx, task.ID)
	assert.ErrorIs(t, err, model.ErrNotFound)

	rows, err := env.gateway.FetchRows(ctx, 0, env.settings.MaxRows)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestDeleteBeforeFirstFlushSkipsRemote(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	task, err := env.engine.Create(ctx, amountFields("10.00"))
	require.NoError(t, err)

	// The delete supersedes the queued create.
	require.NoError(t, env.engine.Delete(ctx, task.ID))

	callsBefore := env.gateway.Calls()
	env.flushAll(t)

	// No remote call was needed, the task never reached the sheet.
	assert.Equal(t, callsBefore, env.gateway.Calls())

	_, err = env.repo.Get(ctx, task.ID)
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestDeleteDivergedRowConflicts(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	task, err := env.engine.Create(ctx, amountFields("10.00"))
	require.NoError(t, err)
	env.flushAll(t)

	synced, err := env.engine.Read(ctx, task.ID)
	require.NoError(t, err)

	env.gateway.SetRow(synced.RowIndex, sheet.WithRowID(task.ID, amountFields("77.00")))

	require.NoError(t, env.engine.Delete(ctx, task.ID))
	env.flushAll(t)

	state, err := env.engine.Status(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SyncStateConflict, state)

	// The external edit survived.
	row, err := env.gateway.FetchRow(ctx, synced.RowIndex)
	require.NoError(t, err)
	v, _ := row.Fields.Get("amount")
	assert.Equal(t, "77.00", v)
}

func TestResolveAfterDeleteConflictLiftsTombstone(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	task, err := env.engine.Create(ctx, amountFields("10.00"))
	require.NoError(t, err)
	env.flushAll(t)

	synced, err := env.engine.Read(ctx, task.ID)
	require.NoError(t, err)

	// The row diverges while the delete is queued, surfacing a conflict.
	env.gateway.SetRow(synced.RowIndex, sheet.WithRowID(task.ID, amountFields("77.00")))
	require.NoError(t, env.engine.Delete(ctx, task.ID))
	env.flushAll(t)

	state, err := env.engine.Status(ctx, task.ID)
	require.NoError(t, err)
	require.Equal(t, model.SyncStateConflict, state)

	// Resolution re-submits content, abandoning the delete.
	require.NoError(t, env.engine.Resolve(ctx, task.ID, amountFields("88.00")))
	env.flushAll(t)

	got, err := env.engine.Read(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SyncStateSynced, got.SyncState)
	assert.False(t, got.Deleted)

	row, err := env.gateway.FetchRow(ctx, got.RowIndex)
	require.NoError(t, err)
	v, _ := row.Fields.Get("amount")
	assert.Equal(t, "88.00", v)
}

func TestReadFallsThroughToSheet(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// A row exists remotely that the engine has never seen.
	_, err := env.gateway.AppendRow(ctx, sheet.WithRowID("external1", amountFields("5.00")))
	require.NoError(t, err)

	got, err := env.engine.Read(ctx, "external1")
	require.NoError(t, err)
	assert.Equal(t, model.SyncStateSynced, got.SyncState)
	assert.Equal(t, int64(0), got.Version)
	assert.Equal(t, 0, got.RowIndex)

	// The task is durable now, later reads skip the sheet.
	callsBefore := env.gateway.Calls()
	_, err = env.engine.Read(ctx, "external1")
	require.NoError(t, err)
	assert.Equal(t, callsBefore, env.gateway.Calls())
}

func TestReadUnknownTask(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.engine.Read(context.Background(), "missing")
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestReadRepopulatesCacheFromStore(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	task, err := env.engine.Create(ctx, amountFields("10.00"))
	require.NoError(t, err)
	env.flushAll(t)

	// Let the cache entry expire.
	env.clock.Advance(env.settings.CacheTTL + time.Second)

	_, err = env.cache.Get(ctx, task.ID)
	assert.ErrorIs(t, err, model.ErrNotFound)

	got, err := env.engine.Read(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SyncStateSynced, got.SyncState)

	// Repopulated without touching the sheet.
	cached, err := env.cache.Get(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, got.ID, cached.ID)
}

func TestReplayPendingIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	task, err := env.engine.Create(ctx, amountFields("10.00"))
	require.NoError(t, err)
	env.flushAll(t)

	// Simulate a crash right before the queue entry removal: the flushed
	// mutation is still queued on restart.
	require.NoError(t, env.queue.Enqueue(ctx, model.Mutation{
		TaskID:      task.ID,
		Op:          model.MutationOpCreate,
		Fields:      task.Fields,
		BaseVersion: task.Version,
	}))

	require.NoError(t, env.engine.ReplayPending(ctx))

	callsBefore := env.gateway.Calls()
	env.flushAll(t)

	// The replay guard completed the entry without re-appending the row.
	assert.Equal(t, callsBefore, env.gateway.Calls())

	rows, err := env.gateway.FetchRows(ctx, 0, env.settings.MaxRows)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestUpdateWait(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	task, err := env.engine.Create(ctx, amountFields("10.00"))
	require.NoError(t, err)
	env.flushAll(t)

	t.Run("Context expiry should leave the write durable", func(t *testing.T) {
		waitCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
		defer cancel()

		// No flusher is running, the wait can only time out.
		_, err := env.engine.UpdateWait(waitCtx, task.ID, model.Fields{{Name: "amount", Value: "20.00"}})
		require.Error(t, err)
		assert.ErrorIs(t, err, context.DeadlineExceeded)

		stored, err := env.repo.Get(ctx, task.ID)
		require.NoError(t, err)
		assert.Equal(t, model.SyncStatePendingWrite, stored.SyncState)
		v, _ := stored.Fields.Get("amount")
		assert.Equal(t, "20.00", v)
	})

	t.Run("Flush should release the waiter with the synced task", func(t *testing.T) {
		type result struct {
			task *model.Task
			err  error
		}
		done := make(chan result, 1)
		go func() {
			waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()
			task, err := env.engine.UpdateWait(waitCtx, task.ID, model.Fields{{Name: "amount", Value: "30.00"}})
			done <- result{task: task, err: err}
		}()

		// Flush in a loop until the waiter is released.
		deadline := time.After(5 * time.Second)
		for {
			select {
			case res := <-done:
				require.NoError(t, res.err)
				require.NotNil(t, res.task)
				assert.Equal(t, model.SyncStateSynced, res.task.SyncState)
				v, _ := res.task.Fields.Get("amount")
				assert.Equal(t, "30.00", v)
				return
			case <-deadline:
				t.Fatal("waiter was not released")
			default:
				_, err := env.engine.FlushOnce(ctx)
				require.NoError(t, err)
				time.Sleep(time.Millisecond)
			}
		}
	})
}

func TestUpdateWaitSurfacesConflict(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	task, err := env.engine.Create(ctx, amountFields("10.00"))
	require.NoError(t, err)
	env.flushAll(t)

	synced, err := env.engine.Read(ctx, task.ID)
	require.NoError(t, err)
	env.gateway.SetRow(synced.RowIndex, sheet.WithRowID(task.ID, amountFields("77.00")))

	done := make(chan error, 1)
	go func() {
		waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		_, err := env.engine.UpdateWait(waitCtx, task.ID, model.Fields{{Name: "amount", Value: "20.00"}})
		done <- err
	}()

	deadline := time.After(5 * time.Second)
	for {
		select {
		case err := <-done:
			assert.ErrorIs(t, err, model.ErrConflict)
			return
		case <-deadline:
			t.Fatal("waiter was not released")
		default:
			_, err := env.engine.FlushOnce(ctx)
			require.NoError(t, err)
			time.Sleep(time.Millisecond)
		}
	}
}

func TestUpdateMissingTask(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.engine.Update(context.Background(), "missing", amountFields("10.00"))
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestRowIndexRepairAfterShift(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// Two tasks, synced to rows 0 and 1.
	first, err := env.engine.Create(ctx, amountFields("10.00"))
	require.NoError(t, err)
	second, err := env.engine.Create(ctx, amountFields("20.00"))
	require.NoError(t, err)
	env.flushAll(t)

	// Deleting the first shifts the second's row up; its stored index is
	// stale until the next update or reconciliation.
	require.NoError(t, env.engine.Delete(ctx, first.ID))
	env.flushAll(t)

	// An update still finds the row by scanning for the embedded id.
	_, err = env.engine.Update(ctx, second.ID, model.Fields{{Name: "amount", Value: "30.00"}})
	require.NoError(t, err)
	env.flushAll(t)

	got, err := env.engine.Read(ctx, second.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SyncStateSynced, got.SyncState)
	assert.Equal(t, 0, got.RowIndex)
}
