package embeddb

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/embeddb/blobstore"
	"github.com/hupe1980/embeddb/distance"
	"github.com/hupe1980/embeddb/payload"
	"github.com/hupe1980/embeddb/testutil"
)

func TestInsertDuplicateAndDimension(t *testing.T) {
	ctx := context.Background()

	db, err := NewFlat(2, distance.Euclidean)
	require.NoError(t, err)

	require.NoError(t, db.Insert(ctx, Record{ID: "a", Vector: []float32{1, 2}}))

	err = db.Insert(ctx, Record{ID: "a", Vector: []float32{3, 4}})
	require.ErrorIs(t, err, ErrDuplicateID)

	err = db.Insert(ctx, Record{ID: "b", Vector: []float32{1, 2, 3}})

	var dimErr *ErrDimensionMismatch
	require.ErrorAs(t, err, &dimErr)
	assert.Equal(t, 2, dimErr.Expected)
	assert.Equal(t, 3, dimErr.Actual)
}

func TestCosineOrdering(t *testing.T) {
	ctx := context.Background()

	db, err := NewFlat(2, distance.Cosine)
	require.NoError(t, err)

	require.NoError(t, db.Insert(ctx, Record{ID: "aligned", Vector: []float32{2, 0}}))
	require.NoError(t, db.Insert(ctx, Record{ID: "close", Vector: []float32{1, 0.2}}))
	require.NoError(t, db.Insert(ctx, Record{ID: "orthogonal", Vector: []float32{0, 3}}))
	require.NoError(t, db.Insert(ctx, Record{ID: "zero", Vector: []float32{0, 0}}))

	results, err := db.SimilaritySearchByVector(ctx, []float32{1, 0}, 4)
	require.NoError(t, err)
	require.Len(t, results, 4)

	assert.Equal(t, "aligned", results[0].ID)
	assert.InDelta(t, 0.0, results[0].Distance, 1e-6)
	assert.Equal(t, "close", results[1].ID)
	assert.Equal(t, "orthogonal", results[2].ID)
	assert.InDelta(t, 1.0, results[2].Distance, 1e-6)

	// Zero-magnitude vectors rank last at the sentinel distance, never NaN.
	assert.Equal(t, "zero", results[3].ID)
	assert.InDelta(t, float64(distance.MaxCosineDistance), float64(results[3].Distance), 1e-6)
}

func TestHNSWAgreesWithFlatOnSmallCollections(t *testing.T) {
	ctx := context.Background()
	rng := testutil.NewRNG(99)

	approx, err := NewHNSW(8, distance.Cosine)
	require.NoError(t, err)
	exact, err := NewFlat(8, distance.Cosine)
	require.NoError(t, err)

	for i := 0; i < 1000; i++ {
		rec := Record{ID: fmt.Sprintf("r%04d", i), Vector: rng.UniformVector(8)}
		require.NoError(t, approx.Insert(ctx, rec))
		require.NoError(t, exact.Insert(ctx, rec.Clone()))
	}

	for i := 0; i < 5; i++ {
		q := rng.UniformVector(8)

		got, err := approx.SimilaritySearchByVector(ctx, q, 10)
		require.NoError(t, err)
		want, err := exact.SimilaritySearchByVector(ctx, q, 10)
		require.NoError(t, err)

		require.Len(t, got, len(want))
		for j := range want {
			assert.Equal(t, want[j].ID, got[j].ID)
			assert.InDelta(t, want[j].Distance, got[j].Distance, 1e-5)
		}
	}
}

func TestGetManyOrderAndMissing(t *testing.T) {
	ctx := context.Background()

	db, err := NewFlat(2, distance.Euclidean)
	require.NoError(t, err)

	for _, id := range []string{"a", "b"} {
		require.NoError(t, db.Insert(ctx, Record{ID: id, Vector: []float32{1, 1}}))
	}

	recs, err := db.GetMany(ctx, []string{"b", "x", "a"})
	require.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, []string{"x"}, NotFoundIDs(err))

	require.Len(t, recs, 2)
	assert.Equal(t, "b", recs[0].ID)
	assert.Equal(t, "a", recs[1].ID)
}

func TestDeleteThenQuery(t *testing.T) {
	ctx := context.Background()

	db, err := NewHNSW(2, distance.Euclidean)
	require.NoError(t, err)

	require.NoError(t, db.Insert(ctx, Record{ID: "keep", Vector: []float32{0, 0}}))
	require.NoError(t, db.Insert(ctx, Record{ID: "drop", Vector: []float32{0.1, 0}}))
	require.NoError(t, db.Delete(ctx, "drop"))

	require.ErrorIs(t, db.Delete(ctx, "drop"), ErrNotFound)

	results, err := db.SimilaritySearchByVector(ctx, []float32{0, 0}, 5)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "keep", results[0].ID)
}

func TestUpsertManyReport(t *testing.T) {
	ctx := context.Background()

	db, err := NewFlat(2, distance.Euclidean)
	require.NoError(t, err)

	report, err := db.UpsertMany(ctx, []Record{
		{ID: "ok", Vector: []float32{1, 1}},
		{ID: "bad", Vector: []float32{1}},
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"ok"}, report.Succeeded)

	var dimErr *ErrDimensionMismatch
	require.ErrorAs(t, report.Failed["bad"], &dimErr)
}

func TestMetricsAreRecorded(t *testing.T) {
	ctx := context.Background()
	metrics := &BasicMetricsCollector{}

	db, err := NewFlat(2, distance.Euclidean, WithMetricsCollector(metrics))
	require.NoError(t, err)

	require.NoError(t, db.Insert(ctx, Record{ID: "a", Vector: []float32{1, 1}}))
	_, err = db.SimilaritySearchByVector(ctx, []float32{1, 1}, 1)
	require.NoError(t, err)
	require.NoError(t, db.Delete(ctx, "a"))

	assert.Equal(t, int64(1), metrics.InsertCount.Load())
	assert.Equal(t, int64(1), metrics.SearchCount.Load())
	assert.Equal(t, int64(1), metrics.DeleteCount.Load())
	assert.Equal(t, int64(0), metrics.SearchErrors.Load())
}

func TestSnapshotThroughFacade(t *testing.T) {
	ctx := context.Background()

	src, err := NewHNSW(2, distance.Euclidean)
	require.NoError(t, err)

	for i := 0; i < 20; i++ {
		require.NoError(t, src.Insert(ctx, Record{
			ID:      fmt.Sprintf("r%02d", i),
			Vector:  []float32{float32(i), 0},
			Payload: payload.Payload{"even": payload.Bool(i%2 == 0)},
		}))
	}

	bs := blobstore.NewMemory()
	require.NoError(t, src.SaveSnapshot(ctx, bs, "snapshots/facade"))

	dst, err := NewHNSW(2, distance.Euclidean)
	require.NoError(t, err)
	require.NoError(t, dst.LoadSnapshot(ctx, bs, "snapshots/facade"))

	assert.Equal(t, 20, dst.Len())

	results, err := dst.SimilaritySearchByVector(ctx, []float32{4, 0}, 1, func(o *QueryOptions) {
		o.Filters = payload.Eq("even", payload.Bool(true))
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "r04", results[0].ID)
}

func TestRebuildThroughFacade(t *testing.T) {
	ctx := context.Background()

	db, err := NewHNSW(2, distance.Euclidean)
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		require.NoError(t, db.Insert(ctx, Record{ID: fmt.Sprintf("r%d", i), Vector: []float32{float32(i), 0}}))
	}
	for i := 0; i < 5; i++ {
		require.NoError(t, db.Delete(ctx, fmt.Sprintf("r%d", i)))
	}

	require.NoError(t, db.Rebuild(ctx))
	assert.Equal(t, 5, db.Len())

	results, err := db.SimilaritySearchByVector(ctx, []float32{0, 0}, 10)
	require.NoError(t, err)
	assert.Len(t, results, 5)
}
