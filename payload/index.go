package payload

import (
	"sync"

	"github.com/RoaringBitmap/roaring/v2"
)

// Index maps slots to payloads and maintains a roaring inverted index over
// equality terms so equality-heavy filters can be prefiltered cheaply.
type Index struct {
	mu       sync.RWMutex
	payloads map[uint32]Payload
	terms    map[string]map[string]*roaring.Bitmap // field -> value key -> slots
}

// NewIndex creates an empty payload index.
func NewIndex() *Index {
	return &Index{
		payloads: make(map[uint32]Payload),
		terms:    make(map[string]map[string]*roaring.Bitmap),
	}
}

// Set stores the payload for a slot, replacing any previous one.
func (ix *Index) Set(slot uint32, p Payload) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	ix.removeLocked(slot)

	if p == nil {
		return
	}

	ix.payloads[slot] = p
	for field, v := range p {
		for _, key := range termKeys(v) {
			byValue := ix.terms[field]
			if byValue == nil {
				byValue = make(map[string]*roaring.Bitmap)
				ix.terms[field] = byValue
			}

			bm := byValue[key]
			if bm == nil {
				bm = roaring.New()
				byValue[key] = bm
			}
			bm.Add(slot)
		}
	}
}

// Remove drops the payload and index terms for a slot.
func (ix *Index) Remove(slot uint32) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	ix.removeLocked(slot)
}

func (ix *Index) removeLocked(slot uint32) {
	p, ok := ix.payloads[slot]
	if !ok {
		return
	}

	for field, v := range p {
		for _, key := range termKeys(v) {
			if bm := ix.terms[field][key]; bm != nil {
				bm.Remove(slot)
				if bm.IsEmpty() {
					delete(ix.terms[field], key)
				}
			}
		}
	}

	delete(ix.payloads, slot)
}

// Get returns the payload stored for a slot.
func (ix *Index) Get(slot uint32) (Payload, bool) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	p, ok := ix.payloads[slot]

	return p, ok
}

// Len returns the number of slots with a payload.
func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	return len(ix.payloads)
}

// FilterFunc compiles a filter set into a slot predicate. Equality filters
// intersect inverted index bitmaps up front; the remaining operators are
// verified against the stored payload per slot. An empty set returns nil.
func (ix *Index) FilterFunc(fs FilterSet) func(slot uint32) bool {
	if fs.Empty() {
		return nil
	}

	ix.mu.RLock()
	var candidates *roaring.Bitmap
	for i := range fs.Filters {
		f := &fs.Filters[i]
		if f.Operator != OpEqual {
			continue
		}

		key := f.Value.Key()
		if key == "" {
			continue
		}

		bm := ix.terms[f.Field][key]
		if bm == nil {
			bm = roaring.New()
		}

		if candidates == nil {
			candidates = bm.Clone()
		} else {
			candidates.And(bm)
		}
	}
	ix.mu.RUnlock()

	return func(slot uint32) bool {
		if candidates != nil && !candidates.Contains(slot) {
			return false
		}

		p, ok := ix.Get(slot)
		if !ok {
			return false
		}

		return fs.Matches(p)
	}
}

// termKeys returns the inverted index terms for a value. Scalar values
// contribute one term, slices one per element.
func termKeys(v Value) []string {
	if v.Kind == KindStrings {
		keys := make([]string, 0, len(v.A))
		for _, s := range v.A {
			keys = append(keys, "s:"+s)
		}

		return keys
	}

	if key := v.Key(); key != "" {
		return []string{key}
	}

	return nil
}
