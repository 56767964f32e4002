package flower

import (
	"errors"
	"fmt"
)

// ErrNotFound is the root of every unresolved-identifier error. Use
// errors.Is(err, ErrNotFound) to catch both flower and session misses.
var ErrNotFound = errors.New("not found")

var (
	ErrFlowerNotFound   = fmt.Errorf("flower %w", ErrNotFound)
	ErrSessionNotFound  = fmt.Errorf("session %w", ErrNotFound)
	ErrInvalidConfig    = errors.New("invalid config")
	ErrProviderNotFound = errors.New("provider not found")
	ErrArchived         = errors.New("flower archived")
)

// ProviderError wraps a failure reported by a completion backend. The
// backend's error is passed through untouched.
type ProviderError struct {
	Provider string
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider %s: %v", e.Provider, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// PersistenceError wraps a durable read or write failure.
type PersistenceError struct {
	Op  string
	ID  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s flower %s: %v", e.Op, e.ID, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }
