package engine

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound is returned when a record id does not exist.
	ErrNotFound = errors.New("engine: record not found")

	// ErrDuplicateID is returned by Insert when the id already exists.
	ErrDuplicateID = errors.New("engine: duplicate id")

	// ErrCorrupted is returned when the index and record store disagree.
	// The collection rebuilds the index automatically; operations observing
	// this error were retried against the rebuilt index first.
	ErrCorrupted = errors.New("engine: index corrupted")
)

// NotFoundError reports which ids of a multi-get were missing. It unwraps
// to ErrNotFound.
type NotFoundError struct {
	IDs []string
}

func (e *NotFoundError) Error() string {
	if len(e.IDs) == 1 {
		return fmt.Sprintf("engine: record not found: %s", e.IDs[0])
	}

	return fmt.Sprintf("engine: records not found: %s", strings.Join(e.IDs, ", "))
}

// Unwrap returns ErrNotFound so errors.Is works across the taxonomy.
func (e *NotFoundError) Unwrap() error { return ErrNotFound }
