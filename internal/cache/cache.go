// Package cache defines the ephemeral, TTL-bounded task cache. The cache is
// never authoritative: a miss always falls through to the persistent store.
package cache

import (
	"context"

	"github.com/fincontrol/sheetsync/internal/model"
)

// Cache is the interface for the ephemeral task cache.
type Cache interface {
	// Get returns the cached task, or model.ErrNotFound on miss or expiry.
	Get(ctx context.Context, id string) (*model.Task, error)
	// Set stores the task for the configured TTL.
	Set(ctx context.Context, task model.Task) error
	// Delete removes the task from the cache. Deleting an absent entry is
	// not an error.
	Delete(ctx context.Context, id string) error
}
