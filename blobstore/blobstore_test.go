package blobstore

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testStores(t *testing.T) map[string]BlobStore {
	t.Helper()

	local, err := NewLocal(t.TempDir())
	require.NoError(t, err)

	return map[string]BlobStore{
		"memory": NewMemory(),
		"local":  local,
	}
}

func TestPutGetRoundTrip(t *testing.T) {
	ctx := context.Background()

	for name, bs := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, bs.Put(ctx, "snapshots/a", strings.NewReader("hello")))

			r, err := bs.Get(ctx, "snapshots/a")
			require.NoError(t, err)
			defer r.Close()

			data, err := io.ReadAll(r)
			require.NoError(t, err)
			assert.Equal(t, "hello", string(data))
		})
	}
}

func TestPutReplaces(t *testing.T) {
	ctx := context.Background()

	for name, bs := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, bs.Put(ctx, "k", strings.NewReader("v1")))
			require.NoError(t, bs.Put(ctx, "k", strings.NewReader("v2")))

			r, err := bs.Get(ctx, "k")
			require.NoError(t, err)
			defer r.Close()

			data, _ := io.ReadAll(r)
			assert.Equal(t, "v2", string(data))
		})
	}
}

func TestGetMissing(t *testing.T) {
	ctx := context.Background()

	for name, bs := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			_, err := bs.Get(ctx, "missing")
			require.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestDelete(t *testing.T) {
	ctx := context.Background()

	for name, bs := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, bs.Put(ctx, "k", strings.NewReader("v")))
			require.NoError(t, bs.Delete(ctx, "k"))

			ok, err := bs.Exists(ctx, "k")
			require.NoError(t, err)
			assert.False(t, ok)

			require.ErrorIs(t, bs.Delete(ctx, "k"), ErrNotFound)
		})
	}
}

func TestExists(t *testing.T) {
	ctx := context.Background()

	for name, bs := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			ok, err := bs.Exists(ctx, "k")
			require.NoError(t, err)
			assert.False(t, ok)

			require.NoError(t, bs.Put(ctx, "k", strings.NewReader("v")))

			ok, err = bs.Exists(ctx, "k")
			require.NoError(t, err)
			assert.True(t, ok)
		})
	}
}

func TestListByPrefix(t *testing.T) {
	ctx := context.Background()

	for name, bs := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, bs.Put(ctx, "snapshots/b", strings.NewReader("1")))
			require.NoError(t, bs.Put(ctx, "snapshots/a", strings.NewReader("2")))
			require.NoError(t, bs.Put(ctx, "other/c", strings.NewReader("3")))

			keys, err := bs.List(ctx, "snapshots/")
			require.NoError(t, err)
			assert.Equal(t, []string{"snapshots/a", "snapshots/b"}, keys)
		})
	}
}

func TestContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	for name, bs := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			require.ErrorIs(t, bs.Put(ctx, "k", strings.NewReader("v")), context.Canceled)

			_, err := bs.Get(ctx, "k")
			require.ErrorIs(t, err, context.Canceled)
		})
	}
}
