package domain

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned by stores when a document does not exist.
var ErrNotFound = errors.New("not found")

// ResolutionError means a referenced transaction or line item could not be read.
type ResolutionError struct {
	Kind string // "transaction" or "item"
	ID   string
	Err  error
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("resolve %s %s: %v", e.Kind, e.ID, e.Err)
}

func (e *ResolutionError) Unwrap() error { return e.Err }

// PersistenceError means a bucket read or write failed.
type PersistenceError struct {
	BucketID string
	Op       string // "read", "write", "replace"
	Err      error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s bucket %s: %v", e.Op, e.BucketID, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// GenerationError means the insight model failed or answered with malformed data.
// It never leaves the insights package.
type GenerationError struct {
	Reason string
	Err    error
}

func (e *GenerationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("insight generation: %s: %v", e.Reason, e.Err)
	}
	return "insight generation: " + e.Reason
}

func (e *GenerationError) Unwrap() error { return e.Err }
