// Package reconcile implements the periodic full refresh pulling remote
// sheet state into the store and cache without clobbering unflushed local
// changes.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/fincontrol/sheetsync/internal/cache"
	"github.com/fincontrol/sheetsync/internal/config"
	"github.com/fincontrol/sheetsync/internal/lock"
	"github.com/fincontrol/sheetsync/internal/log"
	"github.com/fincontrol/sheetsync/internal/model"
	"github.com/fincontrol/sheetsync/internal/sheet"
	"github.com/fincontrol/sheetsync/internal/storage"
)

// Config is the configuration for the reconciliation scheduler.
type Config struct {
	Gateway  sheet.Gateway
	Cache    cache.Cache
	Repo     storage.Repository
	Settings *config.Settings
	// Locks must be the same per-task-id mutex set the engine writes under.
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
	if c.Settings == nil {
		return fmt.Errorf("settings are required")
	}
	if c.Locks == nil {
		return fmt.Errorf("locks are required")
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "reconcile.Scheduler"})
	return nil
}

// Stats are the counters of a single reconciliation sweep.
type Stats struct {
	Added   int
	Updated int
	Removed int
	// Skipped counts tasks left untouched because a local change is pending
	// or unresolved.
	Skipped int
}

// Scheduler periodically reconciles sheet state into store and cache.
type Scheduler struct {
	gateway  sheet.Gateway
	cache    cache.Cache
	repo     storage.Repository
	settings *config.Settings
	locks    *lock.KeyedMutex
	logger   log.Logger
	now      func() time.Time

	group singleflight.Group
}

// New creates a new reconciliation scheduler.
func New(cfg Config) (*Scheduler, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Scheduler{
		gateway:  cfg.Gateway,
		cache:    cfg.Cache,
		repo:     cfg.Repo,
		settings: cfg.Settings,
		locks:    cfg.Locks,
		logger:   cfg.Logger,
		now:      cfg.Now,
	}, nil
}

// Run reconciles on the configured interval until the context is cancelled.
// Intended for an oklog/run group.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.settings.ReconcileInterval)
	defer ticker.Stop()

	s.logger.Infof("Reconciliation scheduler started (interval %s)", s.settings.ReconcileInterval)
	for {
		select {
		case <-ctx.Done():
			s.logger.Infof("Reconciliation scheduler stopped")
			return nil
		case <-ticker.C:
		}

		if _, err := s.Refresh(ctx); err != nil {
			s.logger.Errorf("Reconciliation sweep failed: %v", err)
		}
	}
}

// Refresh runs one reconciliation sweep. Concurrent callers collapse into a
// single in-flight sweep and share its result.
func (s *Scheduler) Refresh(ctx context.Context) (Stats, error) {
	v, err, _ := s.group.Do("refresh", func() (interface{}, error) {
		return s.sweep(ctx)
	})
	if err != nil {
		return Stats{}, err
	}
	return v.(Stats), nil
}

func (s *Scheduler) sweep(ctx context.Context) (Stats, error) {
	stats := Stats{}

	rows, err := s.gateway.FetchRows(ctx, 0, s.settings.MaxRows)
	if err != nil {
		return stats, fmt.Errorf("could not fetch sheet rows: %w", err)
	}

	tasks, err := s.repo.List(ctx)
	if err != nil {
		return stats, fmt.Errorf("could not list tasks: %w", err)
	}

	known := make(map[string]model.Task, len(tasks))
	for _, t := range tasks {
		known[t.ID] = t
	}

	remote := make(map[string]sheet.Row, len(rows))
	unidentified := 0
	for _, row := range rows {
		id, ok := row.TaskID()
		if !ok {
			// Rows added out of band carry no task id; adopting them blind
			// would mint a new id every sweep.
			unidentified++
			continue
		}
		remote[id] = row
	}
	if unidentified > 0 {
		s.logger.Warningf("Skipping %d rows without a task id", unidentified)
	}

	for id, row := range remote {
		task, ok := known[id]
		if !ok {
			if err := s.adopt(ctx, id, row); err != nil {
				return stats, err
			}
			stats.Added++
			continue
		}

		// Never clobber unflushed or unresolved local changes.
		if task.SyncState != model.SyncStateSynced {
			stats.Skipped++
			continue
		}
		if task.ContentHash == row.Hash() && task.RowIndex == row.Index {
			continue
		}

		if err := s.apply(ctx, task, row); err != nil {
			return stats, err
		}
		stats.Updated++
	}

	for id, task := range known {
		if _, ok := remote[id]; ok {
			continue
		}
		if task.SyncState != model.SyncStateSynced {
			stats.Skipped++
			continue
		}

		if err := s.remove(ctx, task); err != nil {
			return stats, err
		}
		stats.Removed++
	}

	s.logger.Infof("Reconciliation sweep: added=%d updated=%d removed=%d skipped=%d",
		stats.Added, stats.Updated, stats.Removed, stats.Skipped)
	return stats, nil
}

// adopt registers a row created out of band as a synced task.
func (s *Scheduler) adopt(ctx context.Context, id string, row sheet.Row) error {
	s.locks.Lock(id)
	defer s.locks.Unlock(id)

	task := model.Task{
		ID:           id,
		RowIndex:     row.Index,
		Fields:       row.Content(),
		Version:      0,
		SyncState:    model.SyncStateSynced,
		ContentHash:  row.Hash(),
		LastModified: s.now().UTC(),
	}

	err := s.repo.Put(ctx, task, -1)
	if err != nil {
		// A concurrent writer may have created it since the snapshot.
		if errors.Is(err, model.ErrAlreadyExists) {
			return nil
		}
		return fmt.Errorf("could not adopt task %s: %w", id, err)
	}
	s.cacheSet(ctx, task)

	return nil
}

// apply folds a remote row change into a synced task.
func (s *Scheduler) apply(ctx context.Context, task model.Task, row sheet.Row) error {
	s.locks.Lock(task.ID)
	defer s.locks.Unlock(task.ID)

	// Re-read under the lock, a write may have raced the snapshot.
	current, err := s.repo.Get(ctx, task.ID)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("could not re-read task %s: %w", task.ID, err)
	}
	if current.SyncState != model.SyncStateSynced {
		return nil
	}

	updated := current.Clone()
	updated.RowIndex = row.Index
	if current.ContentHash != row.Hash() {
		updated.Fields = row.Content()
		updated.ContentHash = row.Hash()
		updated.Version = current.Version + 1
		updated.LastModified = s.now().UTC()
	}

	if err := s.repo.Put(ctx, updated, current.Version); err != nil {
		if errors.Is(err, model.ErrVersionMismatch) {
			return nil
		}
		return fmt.Errorf("could not apply remote change to task %s: %w", task.ID, err)
	}
	s.cacheSet(ctx, updated)

	return nil
}

// remove drops a synced task whose row disappeared remotely.
func (s *Scheduler) remove(ctx context.Context, task model.Task) error {
	s.locks.Lock(task.ID)
	defer s.locks.Unlock(task.ID)

	current, err := s.repo.Get(ctx, task.ID)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("could not re-read task %s: %w", task.ID, err)
	}
	if current.SyncState != model.SyncStateSynced {
		return nil
	}

	if err := s.repo.Delete(ctx, task.ID); err != nil && !errors.Is(err, model.ErrNotFound) {
		return fmt.Errorf("could not remove task %s: %w", task.ID, err)
	}
	if err := s.cache.Delete(ctx, task.ID); err != nil {
		s.logger.Warningf("Cache delete failed for %s: %v", task.ID, err)
	}

	return nil
}

func (s *Scheduler) cacheSet(ctx context.Context, task model.Task) {
	if err := s.cache.Set(ctx, task); err != nil {
		s.logger.Warningf("Cache set failed for %s: %v", task.ID, err)
	}
}
