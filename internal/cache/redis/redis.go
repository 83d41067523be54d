// Package redis provides a Redis-backed implementation of the task cache.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/fincontrol/sheetsync/internal/cache"
	"github.com/fincontrol/sheetsync/internal/log"
	"github.com/fincontrol/sheetsync/internal/model"
)

const keyPrefix = "sheetsync:task:"

// CacheConfig is the configuration for the Redis cache.
type CacheConfig struct {
	Client *goredis.Client
	TTL    time.Duration
	Logger log.Logger
}

func (c *CacheConfig) defaults() error {
	if c.Client == nil {
		return fmt.Errorf("redis client is required")
	}
	if c.TTL <= 0 {
		return fmt.Errorf("ttl must be positive")
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "cache.Redis"})
	return nil
}

// Cache is a Redis implementation of cache.Cache. Entries expire through the
// Redis TTL mechanism.
type Cache struct {
	client *goredis.Client
	ttl    time.Duration
	logger log.Logger
}

var _ cache.Cache = &Cache{}

// NewCache creates a new Redis cache.
func NewCache(cfg CacheConfig) (*Cache, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Cache{
		client: cfg.Client,
		ttl:    cfg.TTL,
		logger: cfg.Logger,
	}, nil
}

// taskJSON is the serialized cache representation of a task.
type taskJSON struct {
	ID           string      `json:"id"`
	RowIndex     int         `json:"row_index"`
	Fields       []fieldJSON `json:"fields"`
	Version      int64       `json:"version"`
	SyncState    string      `json:"sync_state"`
	ContentHash  string      `json:"content_hash"`
	Deleted      bool        `json:"deleted"`
	LastModified time.Time   `json:"last_modified"`
}

type fieldJSON struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Get returns the cached task or model.ErrNotFound on miss or expiry.
func (c *Cache) Get(ctx context.Context, id string) (*model.Task, error) {
	data, err := c.client.Get(ctx, keyPrefix+id).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, fmt.Errorf("cache entry %s: %w", id, model.ErrNotFound)
		}
		return nil, fmt.Errorf("could not get cache entry: %w", err)
	}

	var tj taskJSON
	if err := json.Unmarshal(data, &tj); err != nil {
		return nil, fmt.Errorf("could not decode cache entry: %w", err)
	}

	t := fromJSON(tj)
	return &t, nil
}

// Set stores the task with the configured TTL.
func (c *Cache) Set(ctx context.Context, task model.Task) error {
	data, err := json.Marshal(toJSON(task))
	if err != nil {
		return fmt.Errorf("could not encode cache entry: %w", err)
	}

	if err := c.client.Set(ctx, keyPrefix+task.ID, data, c.ttl).Err(); err != nil {
		return fmt.Errorf("could not set cache entry: %w", err)
	}

	return nil
}

// Delete removes the task from the cache.
func (c *Cache) Delete(ctx context.Context, id string) error {
	if err := c.client.Del(ctx, keyPrefix+id).Err(); err != nil {
		return fmt.Errorf("could not delete cache entry: %w", err)
	}
	return nil
}

func toJSON(t model.Task) taskJSON {
	fields := make([]fieldJSON, 0, len(t.Fields))
	for _, f := range t.Fields {
		fields = append(fields, fieldJSON{Name: f.Name, Value: f.Value})
	}
	return taskJSON{
		ID:           t.ID,
		RowIndex:     t.RowIndex,
		Fields:       fields,
		Version:      t.Version,
		SyncState:    string(t.SyncState),
		ContentHash:  t.ContentHash,
		Deleted:      t.Deleted,
		LastModified: t.LastModified,
	}
}

func fromJSON(tj taskJSON) model.Task {
	fields := make(model.Fields, 0, len(tj.Fields))
	for _, f := range tj.Fields {
		fields = append(fields, model.Field{Name: f.Name, Value: f.Value})
	}
	return model.Task{
		ID:           tj.ID,
		RowIndex:     tj.RowIndex,
		Fields:       fields,
		Version:      tj.Version,
		SyncState:    model.SyncState(tj.SyncState),
		ContentHash:  tj.ContentHash,
		Deleted:      tj.Deleted,
		LastModified: tj.LastModified,
	}
}
