// Package embeddb is an embedded vector database: it stores embedding
// vectors with typed payloads and retrieves nearest neighbors exactly (flat
// index) or approximately (HNSW graph).
//
// A retrieval layer on top turns texts into records through a pluggable
// Embedder and can answer questions over the stored content through a
// ChatClient. Collections persist via snapshots written to a BlobStore
// (memory, local disk, MinIO or S3).
package embeddb

import (
	"context"
	"time"

	"github.com/hupe1980/embeddb/blobstore"
	"github.com/hupe1980/embeddb/distance"
	"github.com/hupe1980/embeddb/engine"
	"github.com/hupe1980/embeddb/index"
	"github.com/hupe1980/embeddb/index/flat"
	"github.com/hupe1980/embeddb/index/hnsw"
	"github.com/hupe1980/embeddb/payload"
)

// Record is the unit stored in the database.
type Record = engine.Record

// QueryResult is a search hit.
type QueryResult = engine.Result

// UpsertReport lists the per-record outcome of a batch upsert.
type UpsertReport = engine.UpsertReport

// DB is an embedded vector database over a single collection.
type DB struct {
	collection *engine.Collection
	opts       options
	logger     *Logger
	metrics    MetricsCollector
}

// NewHNSW creates a database with an approximate HNSW index.
func NewHNSW(dimension int, metric distance.Metric, optFns ...Option) (*DB, error) {
	opts := applyOptions(optFns...)

	return newDB(opts, func(tieBreak index.TieBreakFunc) (index.Index, error) {
		return hnsw.New(func(o *hnsw.Options) {
			o.Dimension = dimension
			o.Metric = metric
			o.TieBreak = tieBreak
			if opts.m > 0 {
				o.M = opts.m
			}
			if opts.efConstruction > 0 {
				o.EF = opts.efConstruction
			}
			if opts.efSearch > 0 {
				o.EFSearch = opts.efSearch
			}
			if opts.exactThreshold != 0 {
				o.ExactThreshold = opts.exactThreshold
			}
		})
	})
}

// NewFlat creates a database with an exact brute-force index.
func NewFlat(dimension int, metric distance.Metric, optFns ...Option) (*DB, error) {
	opts := applyOptions(optFns...)

	return newDB(opts, func(tieBreak index.TieBreakFunc) (index.Index, error) {
		return flat.New(func(o *flat.Options) {
			o.Dimension = dimension
			o.Metric = metric
			o.TieBreak = tieBreak
		})
	})
}

func newDB(opts options, factory engine.IndexFactory) (*DB, error) {
	collection, err := engine.New(opts.store, factory)
	if err != nil {
		return nil, err
	}

	return &DB{
		collection: collection,
		opts:       opts,
		logger:     opts.logger,
		metrics:    opts.metrics,
	}, nil
}

// Insert adds a new record. Inserting an existing id returns ErrDuplicateID.
func (db *DB) Insert(ctx context.Context, rec Record) error {
	start := time.Now()

	err := translateError(db.collection.Insert(ctx, rec))

	db.metrics.RecordInsert(time.Since(start), err)
	db.logger.LogInsert(ctx, rec.ID, len(rec.Vector), err)

	return err
}

// Upsert inserts or replaces a record.
func (db *DB) Upsert(ctx context.Context, rec Record) error {
	start := time.Now()

	err := translateError(db.collection.Upsert(ctx, rec))

	db.metrics.RecordInsert(time.Since(start), err)
	db.logger.LogInsert(ctx, rec.ID, len(rec.Vector), err)

	return err
}

// UpsertMany applies each record independently and reports per-record
// outcomes; one failing record never aborts the rest.
func (db *DB) UpsertMany(ctx context.Context, recs []Record) (UpsertReport, error) {
	start := time.Now()

	report, err := db.collection.UpsertMany(ctx, recs)
	for id, recErr := range report.Failed {
		report.Failed[id] = translateError(recErr)
	}

	db.metrics.RecordUpsertMany(len(recs), len(report.Failed), time.Since(start))
	db.logger.LogUpsertMany(ctx, len(recs), len(report.Failed))

	return report, translateError(err)
}

// Get retrieves a single record by id.
func (db *DB) Get(ctx context.Context, id string) (Record, error) {
	rec, err := db.collection.Get(ctx, id)

	return rec, translateError(err)
}

// GetMany retrieves records preserving the order of ids. Missing ids are
// reported through the returned error (see NotFoundIDs) while the found
// records are still returned.
func (db *DB) GetMany(ctx context.Context, ids []string) ([]Record, error) {
	recs, err := db.collection.GetMany(ctx, ids)

	return recs, translateError(err)
}

// Delete removes a record and its index entry.
func (db *DB) Delete(ctx context.Context, id string) error {
	start := time.Now()

	err := translateError(db.collection.Delete(ctx, id))

	db.metrics.RecordDelete(time.Since(start), err)
	db.logger.LogDelete(ctx, id, err)

	return err
}

// QueryOptions tune a single search.
type QueryOptions struct {
	// EF bounds the candidate list on the approximate index. Zero uses
	// the index default.
	EF int

	// Filters restrict results to records whose payload matches.
	Filters payload.FilterSet
}

// SimilaritySearchByVector returns the k nearest records to the query
// vector. Ties between equal distances break by ascending id.
func (db *DB) SimilaritySearchByVector(ctx context.Context, q []float32, k int, optFns ...func(o *QueryOptions)) ([]QueryResult, error) {
	var qo QueryOptions
	for _, fn := range optFns {
		fn(&qo)
	}

	start := time.Now()

	results, err := db.collection.Query(ctx, q, k, qo.EF, qo.Filters)
	err = translateError(err)

	db.metrics.RecordSearch(k, time.Since(start), err)
	db.logger.LogSearch(ctx, k, len(results), err)

	return results, err
}

// Len returns the number of live records.
func (db *DB) Len() int { return db.collection.Len() }

// Dimension returns the collection's vector dimensionality.
func (db *DB) Dimension() int { return db.collection.Dimension() }

// Metric returns the collection's distance metric.
func (db *DB) Metric() distance.Metric { return db.collection.Metric() }

// Rebuild reconstructs the index from the record store, compacting away
// deleted entries.
func (db *DB) Rebuild(ctx context.Context) error {
	return translateError(db.collection.Rebuild(ctx))
}

// SaveSnapshot writes the collection's records to the blob store under key.
func (db *DB) SaveSnapshot(ctx context.Context, bs blobstore.BlobStore, key string) error {
	err := db.collection.SaveSnapshot(ctx, bs, key, func(o *engine.SnapshotOptions) {
		o.Codec = db.opts.snapshotCodec
		o.Compression = db.opts.snapshotCompression
	})

	db.logger.LogSnapshot(ctx, "save", key, err)

	return err
}

// LoadSnapshot replaces the collection's contents with the snapshot stored
// under key and rebuilds the index from it.
func (db *DB) LoadSnapshot(ctx context.Context, bs blobstore.BlobStore, key string) error {
	err := db.collection.LoadSnapshot(ctx, bs, key)

	db.logger.LogSnapshot(ctx, "load", key, err)

	return err
}
