// Package memory provides an in-memory queue implementation, used by tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/fincontrol/sheetsync/internal/log"
	"github.com/fincontrol/sheetsync/internal/model"
	"github.com/fincontrol/sheetsync/internal/queue"
)

// QueueConfig is the configuration for the memory queue.
type QueueConfig struct {
	Logger log.Logger
}

func (c *QueueConfig) defaults() error {
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "queue.Memory"})
	return nil
}

type entry struct {
	mutation model.Mutation
	claimed  bool
}

// Queue is an in-memory implementation of queue.Queue.
type Queue struct {
	entries map[string]*entry
	mu      sync.Mutex
	logger  log.Logger
}

var _ queue.Queue = &Queue{}

// NewQueue creates a new memory queue.
func NewQueue(cfg QueueConfig) (*Queue, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Queue{
		entries: map[string]*entry{},
		logger:  cfg.Logger,
	}, nil
}

// Enqueue adds or supersedes the mutation for its task id.
func (q *Queue) Enqueue(ctx context.Context, m model.Mutation) error {
	if err := m.Validate(); err != nil {
		return err
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	m.Attempts = 0
	m.NextAttempt = time.Time{}
	m.Fields = m.Fields.Clone()
	q.entries[m.TaskID] = &entry{mutation: m}

	return nil
}

// Claim atomically claims the next due unclaimed entry.
func (q *Queue) Claim(ctx context.Context, now time.Time) (*model.Mutation, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var candidate *entry
	for _, e := range q.entries {
		if e.claimed || e.mutation.NextAttempt.After(now) {
			continue
		}
		if candidate == nil || e.mutation.CreatedAt.Before(candidate.mutation.CreatedAt) {
			candidate = e
		}
	}
	if candidate == nil {
		return nil, nil
	}

	candidate.claimed = true
	m := candidate.mutation
	m.Fields = m.Fields.Clone()
	return &m, nil
}

// Release returns a claimed entry to the retry rotation.
func (q *Queue) Release(ctx context.Context, taskID string, attempts int, nextAttempt time.Time) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	e, ok := q.entries[taskID]
	if !ok {
		return fmt.Errorf("mutation for task %s: %w", taskID, model.ErrNotFound)
	}
	e.claimed = false
	e.mutation.Attempts = attempts
	e.mutation.NextAttempt = nextAttempt

	return nil
}

// Complete removes the entry for the task id.
func (q *Queue) Complete(ctx context.Context, taskID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, ok := q.entries[taskID]; !ok {
		return fmt.Errorf("mutation for task %s: %w", taskID, model.ErrNotFound)
	}
	delete(q.entries, taskID)

	return nil
}

// Get returns the entry for the task id.
func (q *Queue) Get(ctx context.Context, taskID string) (*model.Mutation, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	e, ok := q.entries[taskID]
	if !ok {
		return nil, fmt.Errorf("mutation for task %s: %w", taskID, model.ErrNotFound)
	}

	m := e.mutation
	m.Fields = m.Fields.Clone()
	return &m, nil
}

// Entries returns all entries, oldest first.
func (q *Queue) Entries(ctx context.Context) ([]model.Mutation, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	ms := make([]model.Mutation, 0, len(q.entries))
	for _, e := range q.entries {
		m := e.mutation
		m.Fields = m.Fields.Clone()
		ms = append(ms, m)
	}
	sort.Slice(ms, func(i, j int) bool { return ms[i].CreatedAt.Before(ms[j].CreatedAt) })

	return ms, nil
}

// ReleaseAll clears every claim.
func (q *Queue) ReleaseAll(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, e := range q.entries {
		e.claimed = false
	}
	return nil
}
