package engine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/fincontrol/sheetsync/internal/model"
	"github.com/fincontrol/sheetsync/internal/sheet"
)

// Run drives the flush worker until the context is cancelled. The worker
// wakes on every Kick and on a poll interval, then drains all due queue
// entries. Intended for an oklog/run group.
func (e *Engine) Run(ctx context.Context) error {
	ticker := time.NewTicker(e.settings.RetryBaseDelay)
	defer ticker.Stop()

	e.logger.Infof("Flush worker started")
	for {
		select {
		case <-ctx.Done():
			e.logger.Infof("Flush worker stopped")
			return nil
		case <-e.kick:
		case <-ticker.C:
		}

		if _, err := e.FlushOnce(ctx); err != nil {
			// Local storage failures are fatal to the engine process.
			return fmt.Errorf("flush failed: %w", err)
		}
	}
}

// FlushOnce drains every due queue entry, returning the number of flushed
// mutations. Transient gateway failures reschedule the entry and are not
// returned as errors; local storage failures are.
func (e *Engine) FlushOnce(ctx context.Context) (int, error) {
	flushed := 0
	for {
		m, err := e.queue.Claim(ctx, e.now())
		if err != nil {
			return flushed, fmt.Errorf("could not claim entry: %w", err)
		}
		if m == nil {
			return flushed, nil
		}

		if err := e.flushMutation(ctx, *m); err != nil {
			return flushed, err
		}
		flushed++
	}
}

// flushMutation flushes one claimed queue entry under the task's write lock.
func (e *Engine) flushMutation(ctx context.Context, m model.Mutation) error {
	e.locks.Lock(m.TaskID)
	defer e.locks.Unlock(m.TaskID)

	// The entry may have been superseded between claim and lock; the newer
	// intent is unclaimed and will be picked up on the next pass.
	current, err := e.queue.Get(ctx, m.TaskID)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("could not re-read entry: %w", err)
	}
	if current.BaseVersion != m.BaseVersion || current.Op != m.Op {
		return nil
	}

	task, err := e.repo.Get(ctx, m.TaskID)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			// Orphan entry, nothing left to flush.
			return e.queue.Complete(ctx, m.TaskID)
		}
		return fmt.Errorf("could not read task: %w", err)
	}

	// Replay guard: a restart may re-claim an entry whose flush already
	// landed. The synced state at the same version means there is nothing
	// left to do, so replaying is idempotent.
	if task.SyncState == model.SyncStateSynced && task.Version == m.BaseVersion {
		return e.queue.Complete(ctx, m.TaskID)
	}

	err = e.applyRemote(ctx, task, m)
	switch {
	case err == nil:
		return nil

	case errors.Is(err, model.ErrConflict):
		// Surfaced for manual resolution, never silently overwritten. The
		// local fields stay as the caller wrote them.
		e.logger.Warningf("Conflicting remote edit on task %s", m.TaskID)
		if err := e.markState(ctx, *task, model.SyncStateConflict); err != nil {
			return err
		}
		if err := e.queue.Complete(ctx, m.TaskID); err != nil {
			return err
		}
		e.waiters.notify(m.TaskID, fmt.Errorf("task %s: %w", m.TaskID, model.ErrConflict))
		return nil

	case sheet.IsTransient(err):
		attempts := m.Attempts + 1
		if attempts >= e.settings.MaxAttempts {
			return e.exhaust(ctx, *task, m, err)
		}
		delay := e.backoff(attempts)
		e.logger.Warningf("Transient flush failure on task %s (attempt %d/%d), retrying in %s: %v",
			m.TaskID, attempts, e.settings.MaxAttempts, delay, err)
		return e.queue.Release(ctx, m.TaskID, attempts, e.now().Add(delay))

	default:
		// Permanent gateway failure, retrying cannot help.
		return e.exhaust(ctx, *task, m, err)
	}
}

// applyRemote performs the remote sheet operation for the mutation, checking
// for conflicting remote edits first.
func (e *Engine) applyRemote(ctx context.Context, task *model.Task, m model.Mutation) error {
	switch m.Op {
	case model.MutationOpCreate:
		rowIndex, err := e.gateway.AppendRow(ctx, sheet.WithRowID(m.TaskID, m.Fields))
		if err != nil {
			return err
		}
		return e.markSynced(ctx, *task, rowIndex, m)

	case model.MutationOpUpdate:
		remote, err := e.remoteRow(ctx, m.TaskID, task.RowIndex)
		if err != nil {
			if errors.Is(err, model.ErrNotFound) {
				// The row vanished under us, that is a divergent edit too.
				return fmt.Errorf("remote row disappeared: %w", model.ErrConflict)
			}
			return err
		}
		if m.BaseHash != "" && remote.Hash() != m.BaseHash {
			return fmt.Errorf("remote content diverged: %w", model.ErrConflict)
		}
		if err := e.gateway.UpdateRow(ctx, remote.Index, sheet.WithRowID(m.TaskID, m.Fields)); err != nil {
			return err
		}
		return e.markSynced(ctx, *task, remote.Index, m)

	case model.MutationOpDelete:
		// A task that never reached the sheet has no remote row to remove.
		if m.BaseHash == "" {
			return e.purge(ctx, *task, m)
		}
		remote, err := e.remoteRow(ctx, m.TaskID, task.RowIndex)
		if err != nil {
			if errors.Is(err, model.ErrNotFound) {
				// Already gone remotely.
				return e.purge(ctx, *task, m)
			}
			return err
		}
		if remote.Hash() != m.BaseHash {
			return fmt.Errorf("remote content diverged: %w", model.ErrConflict)
		}
		if err := e.gateway.DeleteRow(ctx, remote.Index); err != nil {
			return err
		}
		return e.purge(ctx, *task, m)

	default:
		return fmt.Errorf("unknown mutation op %q: %w", m.Op, model.ErrNotValid)
	}
}

// markSynced records a successful flush: row index assigned, content hash
// refreshed, state synced, entry removed, waiters notified.
func (e *Engine) markSynced(ctx context.Context, task model.Task, rowIndex int, m model.Mutation) error {
	task.RowIndex = rowIndex
	task.SyncState = model.SyncStateSynced
	task.ContentHash = m.Fields.Hash()
	task.LastModified = e.now().UTC()

	if err := e.repo.Put(ctx, task, task.Version); err != nil {
		return fmt.Errorf("could not store synced task: %w", err)
	}
	e.cacheSet(ctx, task)

	if err := e.queue.Complete(ctx, m.TaskID); err != nil {
		return err
	}

	e.logger.Infof("Flushed %s for task %s (row %d)", m.Op, m.TaskID, rowIndex)
	e.waiters.notify(m.TaskID, nil)
	return nil
}

// purge removes a confirmed-deleted task from store and cache.
func (e *Engine) purge(ctx context.Context, task model.Task, m model.Mutation) error {
	if err := e.repo.Delete(ctx, task.ID); err != nil && !errors.Is(err, model.ErrNotFound) {
		return fmt.Errorf("could not purge task: %w", err)
	}
	if err := e.cache.Delete(ctx, task.ID); err != nil {
		e.logger.Warningf("Cache delete failed for %s: %v", task.ID, err)
	}
	if err := e.queue.Complete(ctx, m.TaskID); err != nil {
		return err
	}

	e.logger.Infof("Purged deleted task %s", task.ID)
	e.waiters.notify(m.TaskID, nil)
	return nil
}

// exhaust takes a mutation out of the retry rotation, marking the task
// failed. The entry stays visible for manual intervention.
func (e *Engine) exhaust(ctx context.Context, task model.Task, m model.Mutation, cause error) error {
	e.logger.Errorf("Flush retries exhausted for task %s: %v", m.TaskID, cause)

	if err := e.markState(ctx, task, model.SyncStateFailedSync); err != nil {
		return err
	}
	if err := e.queue.Release(ctx, m.TaskID, m.Attempts+1, farFuture); err != nil {
		return err
	}

	e.waiters.notify(m.TaskID, fmt.Errorf("task %s: %w", m.TaskID, model.ErrQueueExhausted))
	return nil
}

// farFuture keeps exhausted entries out of the claim rotation while leaving
// them listed for inspection. The latest instant representable in nanosecond
// storage; anything later overflows int64.
var farFuture = time.Unix(0, math.MaxInt64).UTC()

func (e *Engine) markState(ctx context.Context, task model.Task, state model.SyncState) error {
	task.SyncState = state
	task.LastModified = e.now().UTC()
	if err := e.repo.Put(ctx, task, task.Version); err != nil {
		return fmt.Errorf("could not store task state: %w", err)
	}
	e.cacheSet(ctx, task)
	return nil
}

// backoff computes the exponential retry delay with ±50% jitter.
func (e *Engine) backoff(attempts int) time.Duration {
	d := e.settings.RetryBaseDelay
	for i := 1; i < attempts; i++ {
		d *= 2
		if d >= e.settings.RetryMaxDelay {
			d = e.settings.RetryMaxDelay
			break
		}
	}
	jitter := 0.5 + rand.Float64()
	return time.Duration(float64(d) * jitter)
}
