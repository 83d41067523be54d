// Package memory provides an in-process TTL cache, used by tests and by the
// daemon when no Redis address is configured.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/fincontrol/sheetsync/internal/cache"
	"github.com/fincontrol/sheetsync/internal/log"
	"github.com/fincontrol/sheetsync/internal/model"
)

// CacheConfig is the configuration for the memory cache.
type CacheConfig struct {
	TTL time.Duration
	// Now overrides the clock, used by tests.
	Now    func() time.Time
	Logger log.Logger
}

func (c *CacheConfig) defaults() error {
	if c.TTL <= 0 {
		return fmt.Errorf("ttl must be positive")
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "cache.Memory"})
	return nil
}

type entry struct {
	task      model.Task
	expiresAt time.Time
}

// Cache is an in-memory implementation of cache.Cache.
type Cache struct {
	entries map[string]entry
	ttl     time.Duration
	now     func() time.Time
	mu      sync.RWMutex
	logger  log.Logger
}

var _ cache.Cache = &Cache{}

// NewCache creates a new memory cache.
func NewCache(cfg CacheConfig) (*Cache, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Cache{
		entries: map[string]entry{},
		ttl:     cfg.TTL,
		now:     cfg.Now,
		logger:  cfg.Logger,
	}, nil
}

// Get returns the cached task or model.ErrNotFound on miss or expiry.
func (c *Cache) Get(ctx context.Context, id string) (*model.Task, error) {
	c.mu.RLock()
	e, ok := c.entries[id]
	c.mu.RUnlock()

	if !ok || c.now().After(e.expiresAt) {
		return nil, fmt.Errorf("cache entry %s: %w", id, model.ErrNotFound)
	}

	t := e.task.Clone()
	return &t, nil
}

// Set stores the task for the configured TTL.
func (c *Cache) Set(ctx context.Context, task model.Task) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[task.ID] = entry{task: task.Clone(), expiresAt: c.now().Add(c.ttl)}
	return nil
}

// Delete removes the task from the cache.
func (c *Cache) Delete(ctx context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.entries, id)
	return nil
}
