// Package testutil provides deterministic helpers for tests and benchmarks.
package testutil

import (
	"math/rand"
	"sort"
	"sync"

	"github.com/hupe1980/embeddb/distance"
)

// RNG is a thread-safe seeded random number generator.
type RNG struct {
	mu   sync.Mutex
	rand *rand.Rand
	seed int64
}

// NewRNG creates a new RNG instance with the specified seed.
func NewRNG(seed int64) *RNG {
	return &RNG{
		rand: rand.New(rand.NewSource(seed)),
		seed: seed,
	}
}

// Reset resets the RNG to its initial seed.
func (r *RNG) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rand.Seed(r.seed)
}

// Intn returns a non-negative pseudo-random number in [0,n).
func (r *RNG) Intn(n int) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.rand.Intn(n)
}

// Float32 returns a pseudo-random number in [0.0,1.0).
func (r *RNG) Float32() float32 {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.rand.Float32()
}

// UniformVector fills a new vector of the given dimension with values in
// [-1, 1).
func (r *RNG) UniformVector(dim int) []float32 {
	r.mu.Lock()
	defer r.mu.Unlock()

	v := make([]float32, dim)
	for i := range v {
		v[i] = r.rand.Float32()*2 - 1
	}

	return v
}

// UniformVectors generates count vectors of the given dimension.
func (r *RNG) UniformVectors(count, dim int) [][]float32 {
	vectors := make([][]float32, count)
	for i := range vectors {
		vectors[i] = r.UniformVector(dim)
	}

	return vectors
}

// Neighbor is a reference search result.
type Neighbor struct {
	Slot     uint32
	Distance float32
}

// ReferenceSearch computes the exact k nearest neighbors of q by scanning
// all vectors, breaking distance ties by ascending slot. Entries with a nil
// vector are skipped.
func ReferenceSearch(vectors [][]float32, q []float32, k int, fn distance.Func) []Neighbor {
	neighbors := make([]Neighbor, 0, len(vectors))
	for slot, v := range vectors {
		if v == nil {
			continue
		}

		neighbors = append(neighbors, Neighbor{Slot: uint32(slot), Distance: fn(q, v)})
	}

	sort.Slice(neighbors, func(i, j int) bool {
		if neighbors[i].Distance != neighbors[j].Distance {
			return neighbors[i].Distance < neighbors[j].Distance
		}

		return neighbors[i].Slot < neighbors[j].Slot
	})

	if len(neighbors) > k {
		neighbors = neighbors[:k]
	}

	return neighbors
}
