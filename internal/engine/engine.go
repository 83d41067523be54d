// Package engine implements the synchronization engine reconciling reads and
// writes across the remote sheet, the ephemeral cache and the durable store.
//
// Writes are applied write-through to the local layers and flushed to the
// sheet asynchronously through the pending write queue. A per-task-id lock
// guarantees at most one in-flight write per task.
package engine

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/fincontrol/sheetsync/internal/cache"
	"github.com/fincontrol/sheetsync/internal/config"
	"github.com/fincontrol/sheetsync/internal/lock"
	"github.com/fincontrol/sheetsync/internal/log"
	"github.com/fincontrol/sheetsync/internal/model"
	"github.com/fincontrol/sheetsync/internal/queue"
	"github.com/fincontrol/sheetsync/internal/sheet"
	"github.com/fincontrol/sheetsync/internal/storage"
)

// Config is the configuration for the sync engine.
type Config struct {
	Gateway  sheet.Gateway
	Cache    cache.Cache
	Repo     storage.Repository
	Queue    queue.Queue
	Settings *config.Settings
	// Locks is the per-task-id mutex set. Shared with the reconciler so both
	// serialize against the same write locks.
	Locks  *lock.KeyedMutex
	Logger log.Logger
	// Now overrides the clock, used by tests.
	Now func() time.Time
}

func (c *Config) defaults() error {
	if c.Gateway == nil {
		return fmt.Errorf("gateway is required")
	}
	if c.Cache == nil {
		return fmt.Errorf("cache is required")
	}
	if c.Repo == nil {
		return fmt.Errorf("repository is required")
	}
	if c.Queue == nil {
		return fmt.Errorf("queue is required")
	}
	if c.Settings == nil {
		return fmt.Errorf("settings are required")
	}
	if c.Locks == nil {
		c.Locks = lock.NewKeyedMutex()
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "engine.Sync"})
	return nil
}

// Engine serves task reads and writes, keeping the three layers consistent.
type Engine struct {
	gateway  sheet.Gateway
	cache    cache.Cache
	repo     storage.Repository
	queue    queue.Queue
	settings *config.Settings
	locks    *lock.KeyedMutex
	logger   log.Logger
	now      func() time.Time

	kick    chan struct{}
	waiters *waiterSet
}

// New creates a new sync engine.
func New(cfg Config) (*Engine, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Engine{
		gateway:  cfg.Gateway,
		cache:    cfg.Cache,
		repo:     cfg.Repo,
		queue:    cfg.Queue,
		settings: cfg.Settings,
		locks:    cfg.Locks,
		logger:   cfg.Logger,
		now:      cfg.Now,
		kick:     make(chan struct{}, 1),
		waiters:  newWaiterSet(),
	}, nil
}

// Locks returns the per-task-id mutex set, shared with the reconciler.
func (e *Engine) Locks() *lock.KeyedMutex { return e.locks }

// Create registers a new task, durable locally, and schedules the remote
// append. The returned task is in pending write state.
func (e *Engine) Create(ctx context.Context, fields model.Fields) (*model.Task, error) {
	if len(fields) == 0 {
		return nil, fmt.Errorf("fields are required: %w", model.ErrNotValid)
	}

	id := ulid.MustNew(ulid.Timestamp(e.now()), rand.Reader).String()
	task := model.Task{
		ID:           id,
		Fields:       fields.Clone(),
		Version:      0,
		SyncState:    model.SyncStatePendingWrite,
		LastModified: e.now().UTC(),
	}

	e.locks.Lock(id)
	defer e.locks.Unlock(id)

	if err := e.repo.Put(ctx, task, -1); err != nil {
		return nil, fmt.Errorf("could not store task: %w", err)
	}
	e.cacheSet(ctx, task)

	err := e.queue.Enqueue(ctx, model.Mutation{
		TaskID:      id,
		Op:          model.MutationOpCreate,
		Fields:      task.Fields,
		BaseVersion: task.Version,
	})
	if err != nil {
		return nil, fmt.Errorf("could not enqueue create: %w", err)
	}

	e.Kick()
	e.logger.Infof("Created task %s", id)

	return &task, nil
}

// Read returns the task, resolving cache misses through the store and, on a
// secondary miss, through a sheet fetch that repopulates both layers.
func (e *Engine) Read(ctx context.Context, id string) (*model.Task, error) {
	if t, err := e.cache.Get(ctx, id); err == nil {
		if t.Deleted {
			return nil, fmt.Errorf("task %s: %w", id, model.ErrNotFound)
		}
		return t, nil
	} else if !errors.Is(err, model.ErrNotFound) {
		// The cache is never authoritative: any failure is a miss.
		e.logger.Warningf("Cache get failed for %s: %v", id, err)
	}

	t, err := e.repo.Get(ctx, id)
	if err == nil {
		if t.Deleted {
			return nil, fmt.Errorf("task %s: %w", id, model.ErrNotFound)
		}
		e.cacheSet(ctx, *t)
		return t, nil
	}
	if !errors.Is(err, model.ErrNotFound) {
		return nil, fmt.Errorf("could not read task: %w", err)
	}

	return e.readFromSheet(ctx, id)
}

// readFromSheet recovers a task that is absent from both local layers by
// scanning the sheet for its id, repopulating store and cache on a hit.
func (e *Engine) readFromSheet(ctx context.Context, id string) (*model.Task, error) {
	rows, err := e.gateway.FetchRows(ctx, 0, e.settings.MaxRows)
	if err != nil {
		return nil, fmt.Errorf("could not fetch sheet rows: %w", err)
	}

	for _, row := range rows {
		rowID, ok := row.TaskID()
		if !ok || rowID != id {
			continue
		}

		task := model.Task{
			ID:           id,
			RowIndex:     row.Index,
			Fields:       row.Content(),
			Version:      0,
			SyncState:    model.SyncStateSynced,
			ContentHash:  row.Hash(),
			LastModified: e.now().UTC(),
		}
		if err := e.repo.Put(ctx, task, -1); err != nil && !errors.Is(err, model.ErrAlreadyExists) {
			return nil, fmt.Errorf("could not store recovered task: %w", err)
		}
		e.cacheSet(ctx, task)

		e.logger.Debugf("Recovered task %s from sheet row %d", id, row.Index)
		return &task, nil
	}

	return nil, fmt.Errorf("task %s: %w", id, model.ErrNotFound)
}

// Update applies the patch write-through to the local layers and schedules
// the remote flush. It returns once the local write is durable; tasks in
// conflict state must be resolved first.
func (e *Engine) Update(ctx context.Context, id string, patch model.Fields) (*model.Task, error) {
	if len(patch) == 0 {
		return nil, fmt.Errorf("patch is required: %w", model.ErrNotValid)
	}

	e.locks.Lock(id)
	defer e.locks.Unlock(id)

	task, err := e.applyUpdate(ctx, id, patch)
	if err != nil {
		return nil, err
	}

	e.Kick()
	return task, nil
}

// UpdateWait is the blocking variant of Update: it additionally awaits the
// result of the remote flush. When the context expires first, the local
// write remains durable and the flush continues in the background.
func (e *Engine) UpdateWait(ctx context.Context, id string, patch model.Fields) (*model.Task, error) {
	if len(patch) == 0 {
		return nil, fmt.Errorf("patch is required: %w", model.ErrNotValid)
	}

	e.locks.Lock(id)
	if _, err := e.applyUpdate(ctx, id, patch); err != nil {
		e.locks.Unlock(id)
		return nil, err
	}
	// Register before releasing the lock so the flush result cannot slip by.
	done := e.waiters.add(id)
	e.locks.Unlock(id)

	e.Kick()

	select {
	case err := <-done:
		if err != nil {
			return nil, err
		}
		return e.Read(ctx, id)
	case <-ctx.Done():
		return nil, fmt.Errorf("write is durable locally, remote confirmation pending: %w", ctx.Err())
	}
}

func (e *Engine) applyUpdate(ctx context.Context, id string, patch model.Fields) (*model.Task, error) {
	current, err := e.repo.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("could not read task: %w", err)
	}
	if current.Deleted {
		return nil, fmt.Errorf("task %s: %w", id, model.ErrNotFound)
	}
	if current.SyncState == model.SyncStateConflict {
		return nil, fmt.Errorf("task %s has a conflicting remote edit, resolve it first: %w", id, model.ErrConflict)
	}

	task := current.Clone()
	task.Fields = current.Fields.Merge(patch)
	task.Version = current.Version + 1
	task.SyncState = model.SyncStatePendingWrite
	task.LastModified = e.now().UTC()

	if err := e.repo.Put(ctx, task, current.Version); err != nil {
		return nil, fmt.Errorf("could not store task: %w", err)
	}
	e.cacheSet(ctx, task)

	// Superseding a create that has not reached the sheet yet must stay a
	// create: there is no remote row to update.
	op := model.MutationOpUpdate
	baseHash := current.ContentHash
	pending, err := e.queue.Get(ctx, id)
	if err != nil && !errors.Is(err, model.ErrNotFound) {
		return nil, fmt.Errorf("could not read pending write: %w", err)
	}
	if pending != nil && pending.Op == model.MutationOpCreate {
		op = model.MutationOpCreate
		baseHash = ""
	}

	err = e.queue.Enqueue(ctx, model.Mutation{
		TaskID:      id,
		Op:          op,
		Fields:      task.Fields,
		BaseVersion: task.Version,
		// The hash of the last known remote content; a differing remote hash
		// at flush time means somebody else edited the row.
		BaseHash: baseHash,
	})
	if err != nil {
		return nil, fmt.Errorf("could not enqueue update: %w", err)
	}

	e.logger.Infof("Updated task %s to version %d", id, task.Version)
	return &task, nil
}

// Delete tombstones the task locally and schedules the remote row removal.
// The task is purged from store and cache once the removal is confirmed.
func (e *Engine) Delete(ctx context.Context, id string) error {
	e.locks.Lock(id)
	defer e.locks.Unlock(id)

	current, err := e.repo.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("could not read task: %w", err)
	}
	if current.Deleted {
		return fmt.Errorf("task %s: %w", id, model.ErrNotFound)
	}

	task := current.Clone()
	task.Deleted = true
	task.Version = current.Version + 1
	task.SyncState = model.SyncStatePendingWrite
	task.LastModified = e.now().UTC()

	if err := e.repo.Put(ctx, task, current.Version); err != nil {
		return fmt.Errorf("could not store tombstone: %w", err)
	}
	if err := e.cache.Delete(ctx, id); err != nil {
		e.logger.Warningf("Cache delete failed for %s: %v", id, err)
	}

	err = e.queue.Enqueue(ctx, model.Mutation{
		TaskID:      id,
		Op:          model.MutationOpDelete,
		BaseVersion: task.Version,
		BaseHash:    current.ContentHash,
	})
	if err != nil {
		return fmt.Errorf("could not enqueue delete: %w", err)
	}

	e.Kick()
	e.logger.Infof("Tombstoned task %s", id)

	return nil
}

// Status returns the sync state of the task.
func (e *Engine) Status(ctx context.Context, id string) (model.SyncState, error) {
	task, err := e.repo.Get(ctx, id)
	if err != nil {
		return "", fmt.Errorf("could not read task: %w", err)
	}
	return task.SyncState, nil
}

// List returns all tasks known locally, tombstoned included.
func (e *Engine) List(ctx context.Context) ([]model.Task, error) {
	return e.repo.List(ctx)
}

// Resolve re-submits a conflicted task with the given resolved fields,
// rebased on the current remote content.
func (e *Engine) Resolve(ctx context.Context, id string, fields model.Fields) error {
	if len(fields) == 0 {
		return fmt.Errorf("fields are required: %w", model.ErrNotValid)
	}

	e.locks.Lock(id)
	defer e.locks.Unlock(id)

	current, err := e.repo.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("could not read task: %w", err)
	}
	if current.SyncState != model.SyncStateConflict {
		return fmt.Errorf("task %s is not in conflict state: %w", id, model.ErrNotValid)
	}

	// Rebase on whatever the remote row holds now so the flush does not trip
	// over the same conflict again.
	op := model.MutationOpUpdate
	baseHash := ""
	remote, err := e.remoteRow(ctx, id, current.RowIndex)
	if err != nil && !errors.Is(err, model.ErrNotFound) {
		return fmt.Errorf("could not fetch remote row: %w", err)
	}
	if remote == nil {
		// The remote row vanished, the resolution re-creates it.
		op = model.MutationOpCreate
	} else {
		baseHash = remote.Hash()
	}

	task := current.Clone()
	task.Fields = fields.Clone()
	task.Version = current.Version + 1
	task.SyncState = model.SyncStatePendingWrite
	// Resolution re-submits content, so a pending delete is abandoned and the
	// tombstone lifted.
	task.Deleted = false
	task.LastModified = e.now().UTC()
	if remote != nil {
		task.RowIndex = remote.Index
		task.ContentHash = baseHash
	}

	if err := e.repo.Put(ctx, task, current.Version); err != nil {
		return fmt.Errorf("could not store resolved task: %w", err)
	}
	e.cacheSet(ctx, task)

	err = e.queue.Enqueue(ctx, model.Mutation{
		TaskID:      id,
		Op:          op,
		Fields:      task.Fields,
		BaseVersion: task.Version,
		BaseHash:    baseHash,
	})
	if err != nil {
		return fmt.Errorf("could not enqueue resolution: %w", err)
	}

	e.Kick()
	e.logger.Infof("Resolved conflict on task %s", id)

	return nil
}

// ReplayPending clears stale queue claims left by a previous process and
// schedules a flush for every persisted entry.
func (e *Engine) ReplayPending(ctx context.Context) error {
	if err := e.queue.ReleaseAll(ctx); err != nil {
		return fmt.Errorf("could not release stale claims: %w", err)
	}

	entries, err := e.queue.Entries(ctx)
	if err != nil {
		return fmt.Errorf("could not list pending entries: %w", err)
	}
	if len(entries) > 0 {
		e.logger.Infof("Replaying %d pending mutations from previous run", len(entries))
		e.Kick()
	}

	return nil
}

// Kick wakes the flush worker. Safe to call concurrently, never blocks.
func (e *Engine) Kick() {
	select {
	case e.kick <- struct{}{}:
	default:
	}
}

// cacheSet populates the cache, logging instead of failing: the cache is
// never authoritative.
func (e *Engine) cacheSet(ctx context.Context, task model.Task) {
	if err := e.cache.Set(ctx, task); err != nil {
		e.logger.Warningf("Cache set failed for %s: %v", task.ID, err)
	}
}

// remoteRow locates the task's row remotely, trying the last known index
// first and falling back to a scan when the row moved.
func (e *Engine) remoteRow(ctx context.Context, id string, lastIndex int) (*sheet.Row, error) {
	row, err := e.gateway.FetchRow(ctx, lastIndex)
	if err == nil {
		if rowID, ok := row.TaskID(); ok && rowID == id {
			return row, nil
		}
	} else if !errors.Is(err, model.ErrNotFound) {
		return nil, err
	}

	// Row positions shift on deletes, scan for the id.
	rows, err := e.gateway.FetchRows(ctx, 0, e.settings.MaxRows)
	if err != nil {
		return nil, err
	}
	for i := range rows {
		if rowID, ok := rows[i].TaskID(); ok && rowID == id {
			return &rows[i], nil
		}
	}

	return nil, fmt.Errorf("row for task %s: %w", id, model.ErrNotFound)
}
