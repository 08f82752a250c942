// Package queue provides a value-based binary heap keyed by distance.
package queue

// Item is an element in the priority queue.
type Item struct {
	Slot     uint32
	Distance float32
}

// PriorityQueue is a binary heap over Items. The zero value is not usable;
// use one of the constructors.
type PriorityQueue struct {
	max    bool
	before func(a, b Item) bool
	items  []Item
}

// NewMin creates a min-heap: Top returns the smallest distance.
func NewMin(capacity int) *PriorityQueue {
	return &PriorityQueue{items: make([]Item, 0, capacity)}
}

// NewMax creates a max-heap: Top returns the largest distance.
func NewMax(capacity int) *PriorityQueue {
	return &PriorityQueue{max: true, items: make([]Item, 0, capacity)}
}

// NewMaxRanked creates a max-heap over the total order given by before
// (before(a, b) means a ranks ahead of b): Top returns the item that ranks
// last. Bounded top-k selection needs the full order, not just the
// distance, so equal-distance items at the boundary resolve consistently.
func NewMaxRanked(capacity int, before func(a, b Item) bool) *PriorityQueue {
	return &PriorityQueue{max: true, before: before, items: make([]Item, 0, capacity)}
}

// Len returns the number of items in the queue.
func (pq *PriorityQueue) Len() int { return len(pq.items) }

// Top returns the root of the heap without removing it.
func (pq *PriorityQueue) Top() (Item, bool) {
	if len(pq.items) == 0 {
		return Item{}, false
	}

	return pq.items[0], true
}

// Push inserts an item while maintaining the heap invariant.
func (pq *PriorityQueue) Push(item Item) {
	pq.items = append(pq.items, item)
	pq.siftUp(len(pq.items) - 1)
}

// Pop removes and returns the root of the heap.
func (pq *PriorityQueue) Pop() (Item, bool) {
	n := len(pq.items)
	if n == 0 {
		return Item{}, false
	}

	root := pq.items[0]
	last := pq.items[n-1]
	pq.items = pq.items[:n-1]

	if n-1 > 0 {
		pq.items[0] = last
		pq.siftDown(0)
	}

	return root, true
}

// Items returns the backing slice in heap order. The caller must not mutate it.
func (pq *PriorityQueue) Items() []Item { return pq.items }

// Reset clears the queue for reuse, keeping the backing storage.
func (pq *PriorityQueue) Reset() { pq.items = pq.items[:0] }

func (pq *PriorityQueue) less(i, j int) bool {
	if pq.before != nil {
		if pq.max {
			return pq.before(pq.items[j], pq.items[i])
		}

		return pq.before(pq.items[i], pq.items[j])
	}

	if pq.max {
		return pq.items[i].Distance > pq.items[j].Distance
	}

	return pq.items[i].Distance < pq.items[j].Distance
}

func (pq *PriorityQueue) siftUp(i int) {
	for i > 0 {
		p := (i - 1) / 2
		if !pq.less(i, p) {
			return
		}

		pq.items[i], pq.items[p] = pq.items[p], pq.items[i]
		i = p
	}
}

func (pq *PriorityQueue) siftDown(i int) {
	n := len(pq.items)
	for {
		l := 2*i + 1
		if l >= n {
			return
		}

		best := l
		if r := l + 1; r < n && pq.less(r, l) {
			best = r
		}

		if !pq.less(best, i) {
			return
		}

		pq.items[i], pq.items[best] = pq.items[best], pq.items[i]
		i = best
	}
}
