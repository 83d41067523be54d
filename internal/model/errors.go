package model

import "errors"

var (
	// ErrNotFound is returned when a task is not found in any layer.
	ErrNotFound = errors.New("not found")
	// ErrAlreadyExists is returned when a task already exists.
	ErrAlreadyExists = errors.New("already exists")
	// ErrNotValid is returned when a resource is not valid.
	ErrNotValid = errors.New("not valid")
	// ErrConflict is returned when the remote row diverged from the base the
	// local mutation was computed against.
	ErrConflict = errors.New("conflicting remote edit")
	// ErrVersionMismatch is returned by compare-and-swap writes when the
	// stored version differs from the expected one.
	ErrVersionMismatch = errors.New("version mismatch")
	// ErrQueueExhausted is returned when flush retries for a mutation are
	// exhausted.
	ErrQueueExhausted = errors.New("flush retries exhausted")
)
