// Package hnsw provides an approximate nearest neighbor index based on the
// Hierarchical Navigable Small World graph.
//
// Deletes are logical: the slot is tombstoned and skipped in results while
// the node keeps serving as a routing point. Compaction happens when the
// owner rebuilds the index from its record store.
package hnsw

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sort"
	"sync"

	"github.com/bits-and-blooms/bitset"

	"github.com/hupe1980/embeddb/distance"
	"github.com/hupe1980/embeddb/index"
	"github.com/hupe1980/embeddb/internal/queue"
	"github.com/hupe1980/embeddb/internal/visited"
)

// Compile time check to ensure HNSW satisfies the Index interface.
var _ index.Index = (*HNSW)(nil)

const (
	// DefaultM is the default number of neighbors per node and layer.
	DefaultM = 16

	// DefaultEF is the default size of the dynamic candidate list during
	// construction.
	DefaultEF = 200

	// DefaultEFSearch is the default candidate list size for searches that
	// pass ef <= 0.
	DefaultEFSearch = 64

	// DefaultExactThreshold is the live count at or below which searches
	// fall back to an exact scan.
	DefaultExactThreshold = 1000
)

// Options for the HNSW index.
type Options struct {
	// Dimension of the indexed vectors. Required.
	Dimension int

	// Metric used for ranking. Defaults to cosine distance.
	Metric distance.Metric

	// M is the maximum number of connections per node and layer. Layer 0
	// allows 2*M.
	M int

	// EF is the candidate list size during construction.
	EF int

	// EFSearch is the candidate list size used when a search passes ef <= 0.
	EFSearch int

	// Heuristic selects neighbors with the relative neighborhood heuristic
	// instead of plain nearest-first.
	Heuristic bool

	// ExactThreshold switches searches to an exact scan while the live
	// count is at or below it. Zero keeps the default; negative disables
	// the fallback.
	ExactThreshold int

	// Seed for the level generator. Zero seeds from a fixed default so
	// graphs are reproducible unless the caller opts out.
	Seed int64

	// TieBreak orders slots at equal distance. Defaults to ascending slot.
	TieBreak index.TieBreakFunc
}

type node struct {
	vector      []float32
	connections [][]uint32
	layer       int
}

// HNSW is a navigable small world graph index.
type HNSW struct {
	mu     sync.RWMutex
	opts   Options
	distFn distance.Func
	ml     float64

	nodes      []*node
	freeList   []uint32
	tombstones *bitset.BitSet
	visitPool  sync.Pool

	ep       uint32
	maxLayer int
	size     int

	rng *rand.Rand
}

// New creates an HNSW index.
func New(optFns ...func(o *Options)) (*HNSW, error) {
	opts := Options{
		Metric:         distance.Cosine,
		M:              DefaultM,
		EF:             DefaultEF,
		EFSearch:       DefaultEFSearch,
		Heuristic:      true,
		ExactThreshold: DefaultExactThreshold,
		Seed:           1,
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.Dimension < 1 {
		return nil, fmt.Errorf("hnsw: dimension must be positive, got %d", opts.Dimension)
	}

	if opts.M < 2 {
		return nil, fmt.Errorf("hnsw: M must be at least 2, got %d", opts.M)
	}

	if opts.EF < opts.M {
		opts.EF = opts.M
	}

	if opts.ExactThreshold == 0 {
		opts.ExactThreshold = DefaultExactThreshold
	}

	if opts.TieBreak == nil {
		opts.TieBreak = func(a, b uint32) bool { return a < b }
	}

	distFn, err := distance.Provider(opts.Metric)
	if err != nil {
		return nil, err
	}

	h := &HNSW{
		opts:       opts,
		distFn:     distFn,
		ml:         1 / math.Log(float64(opts.M)),
		tombstones: bitset.New(1024),
		maxLayer:   -1,
		rng:        rand.New(rand.NewSource(opts.Seed)),
	}
	h.visitPool.New = func() any { return visited.New(1024) }

	return h, nil
}

// Insert adds a vector and returns its slot, reusing tombstoned slots first.
func (h *HNSW) Insert(ctx context.Context, v []float32) (uint32, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	if err := index.ValidateVector(v, h.opts.Dimension); err != nil {
		return 0, err
	}

	vec := make([]float32, len(v))
	copy(vec, v)

	h.mu.Lock()
	defer h.mu.Unlock()

	slot := h.allocateSlot()
	h.insertAt(slot, vec)

	return slot, nil
}

// Update replaces the vector at slot. The old node is tombstoned and the
// slot is reinserted with the new vector, keeping its identity stable.
func (h *HNSW) Update(ctx context.Context, slot uint32, v []float32) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := index.ValidateVector(v, h.opts.Dimension); err != nil {
		return err
	}

	vec := make([]float32, len(v))
	copy(vec, v)

	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.live(slot) {
		return index.ErrSlotNotFound
	}

	h.tombstones.Set(uint(slot))
	h.size--
	h.insertAt(slot, vec)

	return nil
}

// Delete tombstones the slot. The node keeps routing searches until the
// next rebuild.
func (h *HNSW) Delete(ctx context.Context, slot uint32) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.live(slot) {
		return index.ErrSlotNotFound
	}

	h.tombstones.Set(uint(slot))
	h.freeList = append(h.freeList, slot)
	h.size--

	if slot == h.ep {
		h.repairEntryPoint()
	}

	return nil
}

// KNNSearch returns the k nearest live slots to q.
//
// While the live count is at or below ExactThreshold the search is an exact
// scan, so small collections agree with brute force.
func (h *HNSW) KNNSearch(ctx context.Context, q []float32, k int, ef int, filter index.FilterFunc) ([]index.SearchResult, error) {
	if err := index.ValidateK(k); err != nil {
		return nil, err
	}

	if err := index.ValidateVector(q, h.opts.Dimension); err != nil {
		return nil, err
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.size == 0 {
		return nil, nil
	}

	if h.opts.ExactThreshold > 0 && h.size <= h.opts.ExactThreshold {
		return h.bruteSearchLocked(ctx, q, k, filter)
	}

	if ef <= 0 {
		ef = h.opts.EFSearch
	}

	if ef < k {
		ef = k
	}

	eligible := func(slot uint32) bool {
		if h.tombstones.Test(uint(slot)) {
			return false
		}

		return filter == nil || filter(slot)
	}

	ep := queue.Item{Slot: h.ep, Distance: h.distFn(q, h.nodes[h.ep].vector)}
	for layer := h.maxLayer; layer > 0; layer-- {
		ep = h.greedyDescend(q, ep, layer)
	}

	results := h.searchLayer(q, ep, 0, ef, eligible)

	return h.sortedTopK(results, k), nil
}

// BruteSearch performs an exact scan over all live slots.
func (h *HNSW) BruteSearch(ctx context.Context, q []float32, k int, filter index.FilterFunc) ([]index.SearchResult, error) {
	if err := index.ValidateK(k); err != nil {
		return nil, err
	}

	if err := index.ValidateVector(q, h.opts.Dimension); err != nil {
		return nil, err
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	return h.bruteSearchLocked(ctx, q, k, filter)
}

// Len returns the number of live vectors.
func (h *HNSW) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return h.size
}

// Dimension returns the enforced vector dimensionality.
func (h *HNSW) Dimension() int {
	return h.opts.Dimension
}

// Metric returns the distance metric.
func (h *HNSW) Metric() distance.Metric {
	return h.opts.Metric
}

func (h *HNSW) live(slot uint32) bool {
	return int(slot) < len(h.nodes) && h.nodes[slot] != nil && !h.tombstones.Test(uint(slot))
}

func (h *HNSW) allocateSlot() uint32 {
	if n := len(h.freeList); n > 0 {
		slot := h.freeList[n-1]
		h.freeList = h.freeList[:n-1]

		return slot
	}

	h.nodes = append(h.nodes, nil)

	return uint32(len(h.nodes) - 1)
}

// insertAt links a new node into the graph. Caller holds the write lock.
func (h *HNSW) insertAt(slot uint32, vec []float32) {
	layer := h.randomLayer()

	n := &node{
		vector:      vec,
		connections: make([][]uint32, layer+1),
		layer:       layer,
	}
	h.nodes[slot] = n
	h.tombstones.Clear(uint(slot))
	h.size++

	if h.size == 1 {
		h.ep = slot
		h.maxLayer = layer

		return
	}

	eligible := func(s uint32) bool { return s != slot && !h.tombstones.Test(uint(s)) }

	ep := queue.Item{Slot: h.ep, Distance: h.distFn(vec, h.nodes[h.ep].vector)}
	for l := h.maxLayer; l > layer; l-- {
		ep = h.greedyDescend(vec, ep, l)
	}

	for l := min(layer, h.maxLayer); l >= 0; l-- {
		results := h.searchLayer(vec, ep, l, h.opts.EF, eligible)

		neighbors := h.selectNeighbors(results, h.opts.M)
		n.connections[l] = neighbors

		for _, nb := range neighbors {
			h.link(nb, slot, l)
		}

		if item, ok := nearestOf(results); ok {
			ep = item
		}
	}

	if layer > h.maxLayer {
		h.maxLayer = layer
		h.ep = slot
	}
}

func (h *HNSW) randomLayer() int {
	return int(math.Floor(-math.Log(h.rng.Float64()) * h.ml))
}

// greedyDescend walks the given layer toward q until no neighbor improves.
func (h *HNSW) greedyDescend(q []float32, ep queue.Item, layer int) queue.Item {
	for {
		improved := false

		n := h.nodes[ep.Slot]
		if layer < len(n.connections) {
			for _, nb := range n.connections[layer] {
				if h.nodes[nb] == nil {
					continue
				}

				if d := h.distFn(q, h.nodes[nb].vector); d < ep.Distance {
					ep = queue.Item{Slot: nb, Distance: d}
					improved = true
				}
			}
		}

		if !improved {
			return ep
		}
	}
}

// searchLayer runs a best-first search over one layer. It returns a max-heap
// of up to ef eligible results. Tombstoned nodes are traversed but never
// returned.
func (h *HNSW) searchLayer(q []float32, ep queue.Item, layer, ef int, eligible func(uint32) bool) *queue.PriorityQueue {
	vs := h.visitPool.Get().(*visited.Set)
	defer func() {
		vs.Reset()
		h.visitPool.Put(vs)
	}()

	candidates := queue.NewMin(ef)
	results := queue.NewMax(ef + 1)

	vs.Visit(ep.Slot)
	candidates.Push(ep)

	if eligible(ep.Slot) {
		results.Push(ep)
	}

	for candidates.Len() > 0 {
		c, _ := candidates.Pop()

		if results.Len() >= ef {
			if worst, _ := results.Top(); c.Distance > worst.Distance {
				break
			}
		}

		n := h.nodes[c.Slot]
		if layer >= len(n.connections) {
			continue
		}

		for _, nb := range n.connections[layer] {
			if vs.Visited(nb) || h.nodes[nb] == nil {
				continue
			}
			vs.Visit(nb)

			d := h.distFn(q, h.nodes[nb].vector)

			worst, full := results.Top()
			if results.Len() < ef || !full || d < worst.Distance {
				candidates.Push(queue.Item{Slot: nb, Distance: d})

				if eligible(nb) {
					results.Push(queue.Item{Slot: nb, Distance: d})
					if results.Len() > ef {
						results.Pop()
					}
				}
			}
		}
	}

	return results
}

// selectNeighbors picks up to m neighbors from the search results.
func (h *HNSW) selectNeighbors(results *queue.PriorityQueue, m int) []uint32 {
	items := make([]queue.Item, len(results.Items()))
	copy(items, results.Items())
	sort.Slice(items, func(i, j int) bool { return items[i].Distance < items[j].Distance })

	if !h.opts.Heuristic {
		if len(items) > m {
			items = items[:m]
		}

		neighbors := make([]uint32, len(items))
		for i, it := range items {
			neighbors[i] = it.Slot
		}

		return neighbors
	}

	return h.selectNeighborsHeuristic(items, m)
}

// selectNeighborsHeuristic keeps a candidate only if it is closer to the
// query than to every neighbor already selected, which spreads connections
// across directions instead of clustering them.
func (h *HNSW) selectNeighborsHeuristic(sorted []queue.Item, m int) []uint32 {
	selected := make([]uint32, 0, m)

	for _, c := range sorted {
		if len(selected) >= m {
			break
		}

		keep := true
		for _, s := range selected {
			if h.distFn(h.nodes[c.Slot].vector, h.nodes[s].vector) < c.Distance {
				keep = false

				break
			}
		}

		if keep {
			selected = append(selected, c.Slot)
		}
	}

	// Backfill with nearest-first if the heuristic was too strict.
	if len(selected) < m {
		for _, c := range sorted {
			if len(selected) >= m {
				break
			}

			if !contains(selected, c.Slot) {
				selected = append(selected, c.Slot)
			}
		}
	}

	return selected
}

// link adds target to source's neighbor list at layer, pruning to the layer
// capacity when it overflows.
func (h *HNSW) link(source, target uint32, layer int) {
	n := h.nodes[source]
	if layer >= len(n.connections) {
		return
	}

	conns := n.connections[layer]
	if contains(conns, target) {
		return
	}

	conns = append(conns, target)

	maxM := h.opts.M
	if layer == 0 {
		maxM = h.opts.M * 2
	}

	if len(conns) > maxM {
		items := make([]queue.Item, 0, len(conns))
		for _, c := range conns {
			items = append(items, queue.Item{Slot: c, Distance: h.distFn(n.vector, h.nodes[c].vector)})
		}
		sort.Slice(items, func(i, j int) bool { return items[i].Distance < items[j].Distance })

		pruned := h.selectNeighborsHeuristic(items, maxM)
		conns = pruned
	}

	n.connections[layer] = conns
}

// repairEntryPoint picks a new entry point after the current one was
// tombstoned. Caller holds the write lock.
func (h *HNSW) repairEntryPoint() {
	if h.size == 0 {
		h.maxLayer = -1

		return
	}

	bestSlot := uint32(0)
	bestLayer := -1
	for slot := range h.nodes {
		if !h.live(uint32(slot)) {
			continue
		}

		if h.nodes[slot].layer > bestLayer {
			bestLayer = h.nodes[slot].layer
			bestSlot = uint32(slot)
		}
	}

	h.ep = bestSlot
	h.maxLayer = bestLayer
}

// before imposes the total search order: ascending distance, ties resolved
// by the configured comparator.
func (h *HNSW) before(a, b queue.Item) bool {
	if a.Distance != b.Distance {
		return a.Distance < b.Distance
	}

	return h.opts.TieBreak(a.Slot, b.Slot)
}

func (h *HNSW) bruteSearchLocked(ctx context.Context, q []float32, k int, filter index.FilterFunc) ([]index.SearchResult, error) {
	// Admission uses the full (distance, tie-break) order so the selected
	// set is deterministic when distances tie at the boundary.
	top := queue.NewMaxRanked(k+1, h.before)

	for slot, n := range h.nodes {
		if slot%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}

		if n == nil || h.tombstones.Test(uint(slot)) {
			continue
		}

		if filter != nil && !filter(uint32(slot)) {
			continue
		}

		item := queue.Item{Slot: uint32(slot), Distance: h.distFn(q, n.vector)}
		if top.Len() < k {
			top.Push(item)
			continue
		}

		if worst, _ := top.Top(); h.before(item, worst) {
			top.Push(item)
			top.Pop()
		}
	}

	return h.sortedTopK(top, k), nil
}

func (h *HNSW) sortedTopK(heap *queue.PriorityQueue, k int) []index.SearchResult {
	items := make([]queue.Item, len(heap.Items()))
	copy(items, heap.Items())
	sort.Slice(items, func(i, j int) bool { return h.before(items[i], items[j]) })

	if len(items) > k {
		items = items[:k]
	}

	results := make([]index.SearchResult, 0, len(items))
	for _, item := range items {
		results = append(results, index.SearchResult{Slot: item.Slot, Distance: item.Distance})
	}

	return results
}

func nearestOf(heap *queue.PriorityQueue) (queue.Item, bool) {
	items := heap.Items()
	if len(items) == 0 {
		return queue.Item{}, false
	}

	best := items[0]
	for _, it := range items[1:] {
		if it.Distance < best.Distance {
			best = it
		}
	}

	return best, true
}

func contains(s []uint32, v uint32) bool {
	for _, x := range s {
		if x == v {
			return true
		}
	}

	return false
}
