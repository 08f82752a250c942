// Package flat provides an exact brute-force index.
//
// Mutations copy the index state and publish it atomically, so searches run
// lock-free against an immutable snapshot.
package flat

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/hupe1980/embeddb/distance"
	"github.com/hupe1980/embeddb/index"
	"github.com/hupe1980/embeddb/internal/queue"
)

// Compile time check to ensure Flat satisfies the Index interface.
var _ index.Index = (*Flat)(nil)

// ctxCheckInterval is the number of vectors scanned between context checks.
const ctxCheckInterval = 1024

// Options for the flat index.
type Options struct {
	// Dimension of the indexed vectors. Required.
	Dimension int

	// Metric used for ranking. Defaults to cosine distance.
	Metric distance.Metric

	// TieBreak orders slots at equal distance. Defaults to ascending slot.
	TieBreak index.TieBreakFunc
}

type state struct {
	vectors  [][]float32 // nil entry = free slot
	freeList []uint32
	size     int
}

// Flat is an exact index that scans every live vector on search.
type Flat struct {
	opts    Options
	distFn  distance.Func
	writeMu sync.Mutex
	state   atomic.Value // *state
}

// New creates a flat index.
func New(optFns ...func(o *Options)) (*Flat, error) {
	opts := Options{Metric: distance.Cosine}
	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.Dimension < 1 {
		return nil, fmt.Errorf("flat: dimension must be positive, got %d", opts.Dimension)
	}

	distFn, err := distance.Provider(opts.Metric)
	if err != nil {
		return nil, err
	}

	if opts.TieBreak == nil {
		opts.TieBreak = func(a, b uint32) bool { return a < b }
	}

	f := &Flat{opts: opts, distFn: distFn}
	f.state.Store(&state{})

	return f, nil
}

// before imposes the total search order: ascending distance, ties resolved
// by the configured comparator.
func (f *Flat) before(a, b queue.Item) bool {
	if a.Distance != b.Distance {
		return a.Distance < b.Distance
	}

	return f.opts.TieBreak(a.Slot, b.Slot)
}

func (f *Flat) getState() *state {
	return f.state.Load().(*state)
}

func (f *Flat) cloneState(st *state) *state {
	clone := &state{
		vectors:  make([][]float32, len(st.vectors)),
		freeList: make([]uint32, len(st.freeList)),
		size:     st.size,
	}
	copy(clone.vectors, st.vectors)
	copy(clone.freeList, st.freeList)

	return clone
}

// Insert adds a vector and returns its slot, reusing freed slots first.
func (f *Flat) Insert(ctx context.Context, v []float32) (uint32, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	if err := index.ValidateVector(v, f.opts.Dimension); err != nil {
		return 0, err
	}

	vec := make([]float32, len(v))
	copy(vec, v)

	f.writeMu.Lock()
	defer f.writeMu.Unlock()

	st := f.cloneState(f.getState())

	var slot uint32
	if n := len(st.freeList); n > 0 {
		slot = st.freeList[n-1]
		st.freeList = st.freeList[:n-1]
		st.vectors[slot] = vec
	} else {
		slot = uint32(len(st.vectors))
		st.vectors = append(st.vectors, vec)
	}

	st.size++
	f.state.Store(st)

	return slot, nil
}

// Update replaces the vector stored at slot.
func (f *Flat) Update(ctx context.Context, slot uint32, v []float32) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := index.ValidateVector(v, f.opts.Dimension); err != nil {
		return err
	}

	vec := make([]float32, len(v))
	copy(vec, v)

	f.writeMu.Lock()
	defer f.writeMu.Unlock()

	st := f.cloneState(f.getState())
	if int(slot) >= len(st.vectors) || st.vectors[slot] == nil {
		return index.ErrSlotNotFound
	}

	st.vectors[slot] = vec
	f.state.Store(st)

	return nil
}

// Delete removes the vector stored at slot and releases the slot for reuse.
func (f *Flat) Delete(ctx context.Context, slot uint32) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	f.writeMu.Lock()
	defer f.writeMu.Unlock()

	st := f.cloneState(f.getState())
	if int(slot) >= len(st.vectors) || st.vectors[slot] == nil {
		return index.ErrSlotNotFound
	}

	st.vectors[slot] = nil
	st.freeList = append(st.freeList, slot)
	st.size--
	f.state.Store(st)

	return nil
}

// KNNSearch is exact for the flat index; ef is ignored.
func (f *Flat) KNNSearch(ctx context.Context, q []float32, k int, _ int, filter index.FilterFunc) ([]index.SearchResult, error) {
	return f.BruteSearch(ctx, q, k, filter)
}

// BruteSearch scans every live vector and returns the k nearest.
func (f *Flat) BruteSearch(ctx context.Context, q []float32, k int, filter index.FilterFunc) ([]index.SearchResult, error) {
	if err := index.ValidateK(k); err != nil {
		return nil, err
	}

	if err := index.ValidateVector(q, f.opts.Dimension); err != nil {
		return nil, err
	}

	st := f.getState()

	// Bounded max-heap: the root is the worst of the best k seen so far.
	// Admission uses the full (distance, tie-break) order so the selected
	// set is deterministic when distances tie at the boundary.
	top := queue.NewMaxRanked(k+1, f.before)

	for slot, vec := range st.vectors {
		if slot%ctxCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}

		if vec == nil {
			continue
		}

		if filter != nil && !filter(uint32(slot)) {
			continue
		}

		item := queue.Item{Slot: uint32(slot), Distance: f.distFn(q, vec)}
		if top.Len() < k {
			top.Push(item)
			continue
		}

		if worst, _ := top.Top(); f.before(item, worst) {
			top.Push(item)
			top.Pop()
		}
	}

	results := make([]index.SearchResult, 0, top.Len())
	for top.Len() > 0 {
		item, _ := top.Pop()
		results = append(results, index.SearchResult{Slot: item.Slot, Distance: item.Distance})
	}

	// Pops arrive worst-first; reverse into rank order.
	for i, j := 0, len(results)-1; i < j; i, j = i+1, j-1 {
		results[i], results[j] = results[j], results[i]
	}

	return results, nil
}

// Len returns the number of live vectors.
func (f *Flat) Len() int {
	return f.getState().size
}

// Dimension returns the enforced vector dimensionality.
func (f *Flat) Dimension() int {
	return f.opts.Dimension
}

// Metric returns the distance metric.
func (f *Flat) Metric() distance.Metric {
	return f.opts.Metric
}
