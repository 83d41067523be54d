package storage

import (
	"context"

	"github.com/fincontrol/sheetsync/internal/model"
)

// Repository is the interface for durable task persistence. It is the
// authoritative task source when the remote sheet is unreachable.
type Repository interface {
	// Get returns the task, including tombstoned ones, or model.ErrNotFound.
	Get(ctx context.Context, id string) (*model.Task, error)
	// List returns all tasks, tombstoned included, ordered by last modified.
	List(ctx context.Context) ([]model.Task, error)
	// Put writes the task using compare-and-swap on the stored version.
	// expectedVersion is the version currently stored; -1 means the task must
	// not exist yet. A mismatch returns model.ErrVersionMismatch, a missing
	// task model.ErrNotFound, an unexpected existing one model.ErrAlreadyExists.
	Put(ctx context.Context, task model.Task, expectedVersion int64) error
	// Delete physically removes the task. Used to purge tombstones after the
	// remote delete is confirmed.
	Delete(ctx context.Context, id string) error
}
