// Package memory provides an in-memory implementation of the task repository,
// used by tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/fincontrol/sheetsync/internal/log"
	"github.com/fincontrol/sheetsync/internal/model"
	"github.com/fincontrol/sheetsync/internal/storage"
)

// RepositoryConfig is the configuration for the memory repository.
type RepositoryConfig struct {
	Logger log.Logger
}

func (c *RepositoryConfig) defaults() error {
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "storage.Memory"})
	return nil
}

// Repository is an in-memory implementation of storage.Repository.
type Repository struct {
	tasks  map[string]model.Task
	mu     sync.RWMutex
	logger log.Logger
}

var _ storage.Repository = &Repository{}

// NewRepository creates a new memory repository.
func NewRepository(cfg RepositoryConfig) (*Repository, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Repository{
		tasks:  map[string]model.Task{},
		logger: cfg.Logger,
	}, nil
}

// Get retrieves a task by ID.
func (r *Repository) Get(ctx context.Context, id string) (*model.Task, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.tasks[id]
	if !ok {
		return nil, fmt.Errorf("task %s: %w", id, model.ErrNotFound)
	}

	c := t.Clone()
	return &c, nil
}

// List returns all tasks ordered by last modified, newest first.
func (r *Repository) List(ctx context.Context) ([]model.Task, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tasks := make([]model.Task, 0, len(r.tasks))
	for _, t := range r.tasks {
		tasks = append(tasks, t.Clone())
	}
	sort.Slice(tasks, func(i, j int) bool {
		return tasks[i].LastModified.After(tasks[j].LastModified)
	})

	return tasks, nil
}

// Put writes the task with compare-and-swap on the stored version.
func (r *Repository) Put(ctx context.Context, task model.Task, expectedVersion int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.tasks[task.ID]
	if expectedVersion < 0 {
		if ok {
			return fmt.Errorf("task %s: %w", task.ID, model.ErrAlreadyExists)
		}
		r.tasks[task.ID] = task.Clone()
		return nil
	}

	if !ok {
		return fmt.Errorf("task %s: %w", task.ID, model.ErrNotFound)
	}
	if stored.Version != expectedVersion {
		return fmt.Errorf("task %s expected version %d, stored %d: %w",
			task.ID, expectedVersion, stored.Version, model.ErrVersionMismatch)
	}

	r.tasks[task.ID] = task.Clone()
	return nil
}

// Delete physically removes the task.
func (r *Repository) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.tasks[id]; !ok {
		return fmt.Errorf("task %s: %w", id, model.ErrNotFound)
	}
	delete(r.tasks, id)

	return nil
}
