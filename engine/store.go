package engine

import (
	"context"

	"github.com/hupe1980/embeddb/payload"
)

// Record is the unit stored in a collection.
type Record struct {
	// ID is the caller-assigned identifier.
	ID string `json:"id"`

	// Vector is the embedding. Its length must match the collection
	// dimension.
	Vector []float32 `json:"vector"`

	// Payload holds typed key/value data used for filtering.
	Payload payload.Payload `json:"payload,omitempty"`

	// Content optionally keeps the source text the vector was derived from.
	Content string `json:"content,omitempty"`
}

// Clone returns a deep enough copy that callers can mutate the original.
func (r Record) Clone() Record {
	clone := r
	clone.Vector = make([]float32, len(r.Vector))
	copy(clone.Vector, r.Vector)
	clone.Payload = r.Payload.Clone()

	return clone
}

// Store persists records by id.
//
// Implementations must be safe for concurrent use.
type Store interface {
	// Get retrieves the record stored under id.
	Get(ctx context.Context, id string) (Record, bool, error)

	// Set stores the record under id, replacing any previous one.
	Set(ctx context.Context, id string, rec Record) error

	// Delete removes the record under id. Deleting a missing id is a no-op.
	Delete(ctx context.Context, id string) error

	// Len returns the number of stored records.
	Len(ctx context.Context) (int, error)

	// Clear removes all records.
	Clear(ctx context.Context) error

	// ToMap returns a copy of all records keyed by id.
	ToMap(ctx context.Context) (map[string]Record, error)
}
