// Package engine coordinates a record store, a vector index and a payload
// index into one consistent collection.
//
// The engine owns the mapping between caller-assigned string ids and the
// dense uint32 slots the index works with. Mutations hold the write lock,
// so the store and index never diverge observably; queries hold the read
// lock and see a consistent snapshot.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/hupe1980/embeddb/distance"
	"github.com/hupe1980/embeddb/index"
	"github.com/hupe1980/embeddb/payload"
)

// IndexFactory creates a fresh, empty index configured with the given
// tie-break comparator. The engine calls it once at construction and again
// on every rebuild.
type IndexFactory func(tieBreak index.TieBreakFunc) (index.Index, error)

// Result is a query hit.
type Result struct {
	// ID is the caller-assigned identifier of the matched record.
	ID string

	// Distance to the query vector; smaller is closer.
	Distance float32

	// Record is the full stored record.
	Record Record
}

// UpsertReport lists the per-record outcome of an UpsertMany call.
type UpsertReport struct {
	Succeeded []string
	Failed    map[string]error
}

// Collection binds a Store and an Index together.
type Collection struct {
	mu       sync.RWMutex
	store    Store
	newIndex IndexFactory
	idx      index.Index
	payloads *payload.Index

	idToSlot map[string]uint32
	slotToID map[uint32]string

	corrupted atomic.Bool
}

// New creates a collection over the given store.
func New(store Store, newIndex IndexFactory) (*Collection, error) {
	if store == nil {
		return nil, errors.New("engine: store is nil")
	}

	if newIndex == nil {
		return nil, errors.New("engine: index factory is nil")
	}

	c := &Collection{
		store:    store,
		newIndex: newIndex,
		payloads: payload.NewIndex(),
		idToSlot: make(map[string]uint32),
		slotToID: make(map[uint32]string),
	}

	idx, err := newIndex(c.slotBefore)
	if err != nil {
		return nil, err
	}
	c.idx = idx

	// A non-empty store means we are reopening; build the index from it.
	n, err := store.Len(context.Background())
	if err != nil {
		return nil, err
	}
	if n > 0 {
		if err := c.rebuildLocked(context.Background()); err != nil {
			return nil, err
		}
	}

	return c, nil
}

// Insert adds a new record. Inserting an existing id returns ErrDuplicateID.
func (c *Collection) Insert(ctx context.Context, rec Record) error {
	if rec.ID == "" {
		return errors.New("engine: empty record id")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.healLocked(ctx); err != nil {
		return err
	}

	if _, exists := c.idToSlot[rec.ID]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateID, rec.ID)
	}

	return c.insertLocked(ctx, rec)
}

// Upsert inserts or replaces a record.
func (c *Collection) Upsert(ctx context.Context, rec Record) error {
	if rec.ID == "" {
		return errors.New("engine: empty record id")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.healLocked(ctx); err != nil {
		return err
	}

	if _, exists := c.idToSlot[rec.ID]; exists {
		return c.updateLocked(ctx, rec)
	}

	return c.insertLocked(ctx, rec)
}

// UpsertMany applies each record independently: a failing record is reported
// and never aborts the rest. Context cancellation stops processing and
// returns the report accumulated so far.
func (c *Collection) UpsertMany(ctx context.Context, recs []Record) (UpsertReport, error) {
	report := UpsertReport{Failed: make(map[string]error)}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.healLocked(ctx); err != nil {
		return report, err
	}

	for i, rec := range recs {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		if rec.ID == "" {
			report.Failed[fmt.Sprintf("#%d", i)] = errors.New("engine: empty record id")
			continue
		}

		var err error
		if _, exists := c.idToSlot[rec.ID]; exists {
			err = c.updateLocked(ctx, rec)
		} else {
			err = c.insertLocked(ctx, rec)
		}

		if err != nil {
			report.Failed[rec.ID] = err
		} else {
			report.Succeeded = append(report.Succeeded, rec.ID)
		}
	}

	return report, nil
}

// Get retrieves a single record.
func (c *Collection) Get(ctx context.Context, id string) (Record, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	rec, ok, err := c.store.Get(ctx, id)
	if err != nil {
		return Record{}, err
	}

	if !ok {
		return Record{}, &NotFoundError{IDs: []string{id}}
	}

	return rec, nil
}

// GetMany retrieves records preserving the order of ids. Found records are
// returned even when some ids are missing; the missing ones are listed in
// the returned NotFoundError.
func (c *Collection) GetMany(ctx context.Context, ids []string) ([]Record, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	recs := make([]Record, 0, len(ids))

	var missing []string
	for _, id := range ids {
		rec, ok, err := c.store.Get(ctx, id)
		if err != nil {
			return nil, err
		}

		if !ok {
			missing = append(missing, id)
			continue
		}

		recs = append(recs, rec)
	}

	if len(missing) > 0 {
		return recs, &NotFoundError{IDs: missing}
	}

	return recs, nil
}

// Delete removes a record and its index entry.
func (c *Collection) Delete(ctx context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.healLocked(ctx); err != nil {
		return err
	}

	slot, ok := c.idToSlot[id]
	if !ok {
		return &NotFoundError{IDs: []string{id}}
	}

	if err := c.idx.Delete(ctx, slot); err != nil {
		if errors.Is(err, index.ErrSlotNotFound) {
			// The store knows the id but the index lost the slot.
			c.corrupted.Store(true)
			if err := c.healLocked(ctx); err != nil {
				return err
			}

			return c.deleteHealedLocked(ctx, id)
		}

		return err
	}

	return c.finishDeleteLocked(ctx, id, slot)
}

// Query returns the k nearest records to q, optionally prefiltered by
// payload. Ties between equal distances break by ascending id.
func (c *Collection) Query(ctx context.Context, q []float32, k, ef int, fs payload.FilterSet) ([]Result, error) {
	if err := index.ValidateK(k); err != nil {
		return nil, err
	}

	if c.corrupted.Load() {
		if err := c.Heal(ctx); err != nil {
			return nil, err
		}
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	hits, err := c.idx.KNNSearch(ctx, q, k, ef, c.payloads.FilterFunc(fs))
	if err != nil {
		return nil, err
	}

	results := make([]Result, 0, len(hits))
	for _, hit := range hits {
		id, ok := c.slotToID[hit.Slot]
		if !ok {
			c.corrupted.Store(true)

			return nil, fmt.Errorf("%w: slot %d has no id", ErrCorrupted, hit.Slot)
		}

		rec, ok, err := c.store.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if !ok {
			c.corrupted.Store(true)

			return nil, fmt.Errorf("%w: id %s missing from store", ErrCorrupted, id)
		}

		results = append(results, Result{ID: id, Distance: hit.Distance, Record: rec})
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Distance != results[j].Distance {
			return results[i].Distance < results[j].Distance
		}

		return results[i].ID < results[j].ID
	})

	if len(results) > k {
		results = results[:k]
	}

	return results, nil
}

// Len returns the number of live records.
func (c *Collection) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.idx.Len()
}

// Dimension returns the collection's vector dimensionality.
func (c *Collection) Dimension() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.idx.Dimension()
}

// Metric returns the collection's distance metric.
func (c *Collection) Metric() distance.Metric {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.idx.Metric()
}

// MarkCorrupted flags the index for rebuild on the next operation.
func (c *Collection) MarkCorrupted() {
	c.corrupted.Store(true)
}

// Heal rebuilds the index from the record store if the collection was
// marked corrupted. Calling it on a healthy collection is a no-op.
func (c *Collection) Heal(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.healLocked(ctx)
}

// Rebuild unconditionally reconstructs the index from the record store,
// compacting away tombstones.
func (c *Collection) Rebuild(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.rebuildLocked(ctx)
}

func (c *Collection) insertLocked(ctx context.Context, rec Record) error {
	slot, err := c.idx.Insert(ctx, rec.Vector)
	if err != nil {
		return err
	}

	if err := c.store.Set(ctx, rec.ID, rec.Clone()); err != nil {
		// Roll back the index entry so store and index stay in sync.
		_ = c.idx.Delete(context.WithoutCancel(ctx), slot)

		return err
	}

	c.idToSlot[rec.ID] = slot
	c.slotToID[slot] = rec.ID
	c.payloads.Set(slot, rec.Payload)

	return nil
}

func (c *Collection) updateLocked(ctx context.Context, rec Record) error {
	slot := c.idToSlot[rec.ID]

	if err := c.idx.Update(ctx, slot, rec.Vector); err != nil {
		return err
	}

	if err := c.store.Set(ctx, rec.ID, rec.Clone()); err != nil {
		return err
	}

	c.payloads.Set(slot, rec.Payload)

	return nil
}

func (c *Collection) finishDeleteLocked(ctx context.Context, id string, slot uint32) error {
	if err := c.store.Delete(ctx, id); err != nil {
		return err
	}

	c.payloads.Remove(slot)
	delete(c.idToSlot, id)
	delete(c.slotToID, slot)

	return nil
}

// deleteHealedLocked retries a delete after a rebuild.
func (c *Collection) deleteHealedLocked(ctx context.Context, id string) error {
	slot, ok := c.idToSlot[id]
	if !ok {
		return &NotFoundError{IDs: []string{id}}
	}

	if err := c.idx.Delete(ctx, slot); err != nil {
		return err
	}

	return c.finishDeleteLocked(ctx, id, slot)
}

func (c *Collection) healLocked(ctx context.Context) error {
	if !c.corrupted.Load() {
		return nil
	}

	return c.rebuildLocked(ctx)
}

// slotBefore ranks slots by the external id they map to. The index resolves
// equal-distance ties through it, so the records selected at the k boundary
// do not depend on slot assignment order and survive a rebuild unchanged.
// Searches hold at least the read lock, so reading the mapping is safe.
func (c *Collection) slotBefore(a, b uint32) bool {
	ida, oka := c.slotToID[a]
	idb, okb := c.slotToID[b]
	if oka && okb {
		return ida < idb
	}

	return a < b
}

// rebuildLocked reconstructs the index and all mappings from the record
// store. Records are inserted in id order so rebuilds are deterministic.
func (c *Collection) rebuildLocked(ctx context.Context) error {
	idx, err := c.newIndex(c.slotBefore)
	if err != nil {
		return err
	}

	recs, err := c.store.ToMap(ctx)
	if err != nil {
		return err
	}

	ids := make([]string, 0, len(recs))
	for id := range recs {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	payloads := payload.NewIndex()
	idToSlot := make(map[string]uint32, len(ids))
	slotToID := make(map[uint32]string, len(ids))

	for _, id := range ids {
		rec := recs[id]

		slot, err := idx.Insert(ctx, rec.Vector)
		if err != nil {
			return fmt.Errorf("engine: rebuild failed for %s: %w", id, err)
		}

		idToSlot[id] = slot
		slotToID[slot] = id
		payloads.Set(slot, rec.Payload)
	}

	c.idx = idx
	c.payloads = payloads
	c.idToSlot = idToSlot
	c.slotToID = slotToID
	c.corrupted.Store(false)

	return nil
}
