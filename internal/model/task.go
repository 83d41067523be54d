package model

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// SyncState represents the synchronization state of a task against the
// remote sheet.
type SyncState string

const (
	// SyncStateSynced indicates the task matches the remote sheet row.
	SyncStateSynced SyncState = "synced"
	// SyncStatePendingWrite indicates a local mutation has not been flushed yet.
	SyncStatePendingWrite SyncState = "pending_write"
	// SyncStateConflict indicates the remote row diverged and needs manual resolution.
	SyncStateConflict SyncState = "conflict"
	// SyncStateFailedSync indicates flush retries were exhausted.
	SyncStateFailedSync SyncState = "failed_sync"
)

// validTransitions is the sync state machine. Synced is the only resting
// state reachable from all others through a new write.
var validTransitions = map[SyncState][]SyncState{
	SyncStatePendingWrite: {SyncStateSynced, SyncStatePendingWrite, SyncStateConflict, SyncStateFailedSync},
	SyncStateConflict:     {SyncStatePendingWrite},
	SyncStateFailedSync:   {SyncStatePendingWrite},
	SyncStateSynced:       {SyncStatePendingWrite},
}

// ValidTransition reports whether the sync state machine allows moving from
// one state to another.
func ValidTransition(from, to SyncState) bool {
	for _, s := range validTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Field is a single named task attribute (date, category, amount, ...).
// Field order is significant: it mirrors the column order of the sheet row.
type Field struct {
	Name  string
	Value string
}

// Fields is the ordered attribute list of a task.
type Fields []Field

// Get returns the value of the named field and whether it exists.
func (f Fields) Get(name string) (string, bool) {
	for _, fl := range f {
		if fl.Name == name {
			return fl.Value, true
		}
	}
	return "", false
}

// Clone returns a deep copy of the fields.
func (f Fields) Clone() Fields {
	if f == nil {
		return nil
	}
	c := make(Fields, len(f))
	copy(c, f)
	return c
}

// Merge returns a copy of the fields with the patch applied. Patched fields
// replace existing values by name, unknown names are appended in patch order.
func (f Fields) Merge(patch Fields) Fields {
	merged := f.Clone()
	for _, p := range patch {
		found := false
		for i := range merged {
			if merged[i].Name == p.Name {
				merged[i].Value = p.Value
				found = true
				break
			}
		}
		if !found {
			merged = append(merged, p)
		}
	}
	return merged
}

// Hash returns the content hash of the fields, used for conflict detection
// against the remote row. Values are normalized first so that numeric
// renderings like "100", "100.00" and "100,00" hash equal.
func (f Fields) Hash() string {
	parts := make([]string, 0, len(f))
	for _, fl := range f {
		parts = append(parts, fl.Name+"="+NormalizeValue(fl.Value))
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, "\x1f")))
	return hex.EncodeToString(sum[:])
}

// NormalizeValue normalizes the string rendering of a numeric value for
// comparison. Non-numeric values are returned unchanged.
func NormalizeValue(v string) string {
	n := strings.ReplaceAll(v, ",", ".")
	fv, err := strconv.ParseFloat(n, 64)
	if err != nil {
		return v
	}
	return strconv.FormatFloat(fv, 'f', 2, 64)
}

// Task represents a financial task tracked in the remote sheet.
type Task struct {
	ID string
	// RowIndex is the task's current sheet row. It is only trusted while
	// SyncState is synced; during a pending write it may be stale.
	RowIndex     int
	Fields       Fields
	Version      int64
	SyncState    SyncState
	ContentHash  string
	Deleted      bool
	LastModified time.Time
}

// Validate checks the task satisfies the model invariants.
func (t Task) Validate(maxRows int) error {
	if t.ID == "" {
		return fmt.Errorf("task id is required: %w", ErrNotValid)
	}
	if t.Version < 0 {
		return fmt.Errorf("task version must not be negative: %w", ErrNotValid)
	}
	if t.SyncState == SyncStateSynced && (t.RowIndex < 0 || t.RowIndex >= maxRows) {
		return fmt.Errorf("row index %d out of range [0, %d): %w", t.RowIndex, maxRows, ErrNotValid)
	}
	switch t.SyncState {
	case SyncStateSynced, SyncStatePendingWrite, SyncStateConflict, SyncStateFailedSync:
	default:
		return fmt.Errorf("unknown sync state %q: %w", t.SyncState, ErrNotValid)
	}
	return nil
}

// Clone returns a deep copy of the task.
func (t Task) Clone() Task {
	c := t
	c.Fields = t.Fields.Clone()
	return c
}
