// Package index provides interfaces and types for vector search indexes.
package index

import (
	"context"
	"errors"
	"fmt"

	"github.com/hupe1980/embeddb/distance"
)

// ErrDimensionMismatch is a named error type for dimension mismatch.
type ErrDimensionMismatch struct {
	Expected int // Expected dimensions
	Actual   int // Actual dimensions
}

// Error returns the error message for dimension mismatch.
func (e *ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d", e.Expected, e.Actual)
}

var (
	// ErrInvalidK is returned when a search is requested with k < 1.
	ErrInvalidK = errors.New("index: k must be positive")

	// ErrSlotNotFound is returned when an operation references a slot that
	// holds no live vector.
	ErrSlotNotFound = errors.New("index: slot not found")
)

// FilterFunc decides whether a slot is eligible as a search result.
// A nil FilterFunc accepts every slot.
type FilterFunc func(slot uint32) bool

// TieBreakFunc reports whether slot a ranks before slot b when both are at
// the same distance from the query. It decides which record survives at the
// k boundary, so it must impose a total order that does not depend on slot
// assignment. A nil TieBreakFunc orders by ascending slot.
type TieBreakFunc func(a, b uint32) bool

// SearchResult represents a search result.
type SearchResult struct {
	// Slot is the dense identifier assigned by the index on insert.
	Slot uint32

	// Distance is the distance between the query vector and the result vector.
	Distance float32
}

// Index is a vector search index over dense uint32 slots.
//
// Implementations are safe for concurrent use. Mutations are serialized;
// searches observe a consistent state.
type Index interface {
	// Insert adds a vector and returns the slot assigned to it.
	// Slots freed by Delete are reused.
	Insert(ctx context.Context, v []float32) (uint32, error)

	// Update replaces the vector stored at slot.
	Update(ctx context.Context, slot uint32, v []float32) error

	// Delete removes the vector stored at slot.
	Delete(ctx context.Context, slot uint32) error

	// KNNSearch returns the k nearest live slots to q. The ef parameter
	// bounds the candidate list for approximate indexes; exact indexes
	// ignore it. Results are sorted by ascending distance; equal distances
	// resolve through the configured TieBreakFunc, at the k boundary as
	// well as in the returned order.
	KNNSearch(ctx context.Context, q []float32, k int, ef int, filter FilterFunc) ([]SearchResult, error)

	// BruteSearch performs an exact scan over all live slots.
	BruteSearch(ctx context.Context, q []float32, k int, filter FilterFunc) ([]SearchResult, error)

	// Len returns the number of live vectors.
	Len() int

	// Dimension returns the vector dimensionality the index enforces.
	Dimension() int

	// Metric returns the distance metric the index was built with.
	Metric() distance.Metric
}

// ValidateVector checks v against the expected dimension.
func ValidateVector(v []float32, dim int) error {
	if len(v) != dim {
		return &ErrDimensionMismatch{Expected: dim, Actual: len(v)}
	}

	return nil
}

// ValidateK checks that k is a usable result count.
func ValidateK(k int) error {
	if k < 1 {
		return ErrInvalidK
	}

	return nil
}
