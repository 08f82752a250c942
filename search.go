package embeddb

import (
	"context"

	"github.com/hupe1980/embeddb/payload"
)

// SearchBuilder provides a fluent API for vector searches.
//
//	results, err := db.Search(vec).
//		KNN(10).
//		Filter("category", payload.OpEqual, payload.String("news")).
//		Execute(ctx)
type SearchBuilder struct {
	db      *DB
	vector  []float32
	k       int
	ef      int
	filters payload.FilterSet
}

// Search starts a fluent search for the given query vector.
func (db *DB) Search(vector []float32) *SearchBuilder {
	return &SearchBuilder{
		db:     db,
		vector: vector,
		k:      10,
	}
}

// KNN sets the number of neighbors to return.
func (b *SearchBuilder) KNN(k int) *SearchBuilder {
	b.k = k
	return b
}

// EF sets the candidate list size on the approximate index.
func (b *SearchBuilder) EF(ef int) *SearchBuilder {
	b.ef = ef
	return b
}

// Filter adds a payload predicate; multiple filters are conjoined.
func (b *SearchBuilder) Filter(field string, op payload.Operator, value payload.Value) *SearchBuilder {
	b.filters = b.filters.And(field, op, value)
	return b
}

// FilterSet replaces the filters with a prebuilt set.
func (b *SearchBuilder) FilterSet(fs payload.FilterSet) *SearchBuilder {
	b.filters = fs
	return b
}

// Execute runs the search.
func (b *SearchBuilder) Execute(ctx context.Context) ([]QueryResult, error) {
	return b.db.SimilaritySearchByVector(ctx, b.vector, b.k, func(o *QueryOptions) {
		o.EF = b.ef
		o.Filters = b.filters
	})
}

// First returns the single nearest result, or ErrNotFound if the search
// matched nothing.
func (b *SearchBuilder) First(ctx context.Context) (QueryResult, error) {
	results, err := b.db.SimilaritySearchByVector(ctx, b.vector, 1, func(o *QueryOptions) {
		o.EF = b.ef
		o.Filters = b.filters
	})
	if err != nil {
		return QueryResult{}, err
	}

	if len(results) == 0 {
		return QueryResult{}, ErrNotFound
	}

	return results[0], nil
}

// Count returns the number of results the search would yield.
func (b *SearchBuilder) Count(ctx context.Context) (int, error) {
	results, err := b.Execute(ctx)
	if err != nil {
		return 0, err
	}

	return len(results), nil
}

// Exists reports whether the search matches anything.
func (b *SearchBuilder) Exists(ctx context.Context) (bool, error) {
	n, err := b.Count(ctx)
	if err != nil {
		return false, err
	}

	return n > 0, nil
}
