package model

import (
	"fmt"
	"time"
)

// MutationOp is the kind of a pending mutation.
type MutationOp string

const (
	// MutationOpCreate appends a new row to the sheet.
	MutationOpCreate MutationOp = "create"
	// MutationOpUpdate rewrites an existing row.
	MutationOpUpdate MutationOp = "update"
	// MutationOpDelete removes a row.
	MutationOpDelete MutationOp = "delete"
)

// Mutation is a not-yet-flushed local change queued for the remote sheet.
// At most one live mutation exists per task id: a newer mutation supersedes
// the queued one so only the latest intent is flushed.
type Mutation struct {
	TaskID string
	Op     MutationOp
	// Fields is the full intended row content, not a partial patch.
	Fields Fields
	// BaseVersion is the task version the mutation was computed against.
	BaseVersion int64
	// BaseHash is the remote content hash the mutation was computed against.
	// A differing remote hash at flush time means a conflicting edit.
	BaseHash string
	// Attempts is the number of flush attempts performed so far.
	Attempts int
	// NextAttempt is the earliest time the mutation may be flushed again.
	NextAttempt time.Time
	CreatedAt   time.Time
}

// Validate checks the mutation is well formed.
func (m Mutation) Validate() error {
	if m.TaskID == "" {
		return fmt.Errorf("mutation task id is required: %w", ErrNotValid)
	}
	switch m.Op {
	case MutationOpCreate, MutationOpUpdate, MutationOpDelete:
	default:
		return fmt.Errorf("unknown mutation op %q: %w", m.Op, ErrNotValid)
	}
	if m.Op != MutationOpDelete && len(m.Fields) == 0 {
		return fmt.Errorf("mutation fields are required for %s: %w", m.Op, ErrNotValid)
	}
	return nil
}
