package embeddb

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/embeddb/distance"
	"github.com/hupe1980/embeddb/payload"
)

func newSearchDB(t *testing.T) *DB {
	t.Helper()

	db, err := NewFlat(2, distance.Euclidean)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, db.Insert(ctx, Record{
		ID:      "news-1",
		Vector:  []float32{0, 0},
		Payload: payload.Payload{"category": payload.String("news"), "views": payload.Int64(100)},
	}))
	require.NoError(t, db.Insert(ctx, Record{
		ID:      "news-2",
		Vector:  []float32{1, 0},
		Payload: payload.Payload{"category": payload.String("news"), "views": payload.Int64(5)},
	}))
	require.NoError(t, db.Insert(ctx, Record{
		ID:      "blog-1",
		Vector:  []float32{0.5, 0},
		Payload: payload.Payload{"category": payload.String("blog"), "views": payload.Int64(50)},
	}))

	return db
}

func TestSearchBuilderExecute(t *testing.T) {
	db := newSearchDB(t)

	results, err := db.Search([]float32{0, 0}).KNN(2).Execute(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "news-1", results[0].ID)
	assert.Equal(t, "blog-1", results[1].ID)
}

func TestSearchBuilderFilter(t *testing.T) {
	db := newSearchDB(t)
	ctx := context.Background()

	results, err := db.Search([]float32{0, 0}).
		KNN(3).
		Filter("category", payload.OpEqual, payload.String("news")).
		Filter("views", payload.OpGreaterThan, payload.Int64(10)).
		Execute(ctx)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "news-1", results[0].ID)
}

func TestSearchBuilderFirst(t *testing.T) {
	db := newSearchDB(t)
	ctx := context.Background()

	hit, err := db.Search([]float32{0.6, 0}).First(ctx)
	require.NoError(t, err)
	assert.Equal(t, "blog-1", hit.ID)

	_, err = db.Search([]float32{0, 0}).
		Filter("category", payload.OpEqual, payload.String("podcast")).
		First(ctx)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestSearchBuilderExists(t *testing.T) {
	db := newSearchDB(t)
	ctx := context.Background()

	ok, err := db.Search([]float32{0, 0}).
		Filter("category", payload.OpEqual, payload.String("blog")).
		Exists(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = db.Search([]float32{0, 0}).
		Filter("views", payload.OpGreaterThan, payload.Int64(1000)).
		Exists(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSearchBuilderInvalidK(t *testing.T) {
	db := newSearchDB(t)

	_, err := db.Search([]float32{0, 0}).KNN(0).Execute(context.Background())
	require.ErrorIs(t, err, ErrInvalidK)
}
