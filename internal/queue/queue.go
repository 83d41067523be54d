// Package queue defines the durable pending write queue. Mutations wait here
// until they are flushed to the remote sheet, surviving process restarts.
package queue

import (
	"context"
	"time"

	"github.com/fincontrol/sheetsync/internal/model"
)

// Queue is the interface for the durable pending write queue. It keeps at
// most one live entry per task id: enqueueing for an id that already has an
// entry supersedes it, so intermediate states coalesce and only the latest
// intent is flushed.
type Queue interface {
	// Enqueue adds or supersedes the mutation for its task id. Superseding
	// resets the attempt counter and any claim.
	Enqueue(ctx context.Context, m model.Mutation) error
	// Claim atomically claims the next due unclaimed entry so no two workers
	// flush the same entry twice. It returns nil when nothing is due.
	Claim(ctx context.Context, now time.Time) (*model.Mutation, error)
	// Release returns a claimed entry to the retry rotation with the given
	// attempt count and earliest next attempt time.
	Release(ctx context.Context, taskID string, attempts int, nextAttempt time.Time) error
	// Complete removes the entry for the task id.
	Complete(ctx context.Context, taskID string) error
	// Get returns the entry for the task id, or model.ErrNotFound.
	Get(ctx context.Context, taskID string) (*model.Mutation, error)
	// Entries returns all entries, claimed included, oldest first.
	Entries(ctx context.Context) ([]model.Mutation, error)
	// ReleaseAll clears every claim. Called on startup: claims held by a
	// previous process are stale after a restart.
	ReleaseAll(ctx context.Context) error
}
