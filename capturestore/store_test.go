package capturestore

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func storeSuite(t *testing.T, store Store) {
	t.Helper()
	ctx := context.Background()

	t.Run("PutGet", func(t *testing.T) {
		data := []byte("capture payload")
		require.NoError(t, store.Put(ctx, "a/1.flsc", data))

		got, err := store.Get(ctx, "a/1.flsc")
		require.NoError(t, err)
		assert.Equal(t, data, got)

		// Returned slices are private copies.
		got[0] = 'X'
		again, err := store.Get(ctx, "a/1.flsc")
		require.NoError(t, err)
		assert.Equal(t, data, again)
	})

	t.Run("Replace", func(t *testing.T) {
		require.NoError(t, store.Put(ctx, "a/2.flsc", []byte("old")))
		require.NoError(t, store.Put(ctx, "a/2.flsc", []byte("new")))
		got, err := store.Get(ctx, "a/2.flsc")
		require.NoError(t, err)
		assert.Equal(t, []byte("new"), got)
	})

	t.Run("NotFound", func(t *testing.T) {
		_, err := store.Get(ctx, "missing")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("List", func(t *testing.T) {
		require.NoError(t, store.Put(ctx, "b/1.flsc", []byte("x")))
		names, err := store.List(ctx, "a/")
		require.NoError(t, err)
		assert.Equal(t, []string{"a/1.flsc", "a/2.flsc"}, names)

		all, err := store.List(ctx, "")
		require.NoError(t, err)
		assert.Equal(t, []string{"a/1.flsc", "a/2.flsc", "b/1.flsc"}, all)
	})

	t.Run("Delete", func(t *testing.T) {
		require.NoError(t, store.Delete(ctx, "b/1.flsc"))
		_, err := store.Get(ctx, "b/1.flsc")
		assert.ErrorIs(t, err, ErrNotFound)
		assert.NoError(t, store.Delete(ctx, "b/1.flsc"))
	})

	t.Run("Canceled", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		assert.ErrorIs(t, store.Put(cctx, "c.flsc", []byte("x")), context.Canceled)
	})
}

func TestMemoryStore(t *testing.T) {
	storeSuite(t, NewMemoryStore())
}

func TestLocalStore(t *testing.T) {
	storeSuite(t, NewLocalStore(t.TempDir()))
}

func TestLocalStore_InvalidName(t *testing.T) {
	store := NewLocalStore(t.TempDir())
	ctx := context.Background()

	for _, name := range []string{"", "../escape", "/abs", "a/../../b", "dir/.tmp-x"} {
		t.Run(name, func(t *testing.T) {
			assert.ErrorIs(t, store.Put(ctx, name, []byte("x")), ErrInvalidName)
		})
	}
}

func TestLocalStore_SkipsTempFiles(t *testing.T) {
	root := t.TempDir()
	store := NewLocalStore(root)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "keep.flsc", []byte("x")))
	require.NoError(t, os.WriteFile(filepath.Join(root, tempPrefix+"partial"), []byte("y"), 0o644))

	names, err := store.List(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"keep.flsc"}, names)
}

func TestLocalStore_MissingRoot(t *testing.T) {
	store := NewLocalStore(filepath.Join(t.TempDir(), "nope"))
	names, err := store.List(context.Background(), "")
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestLocalStore_EmptyCapture(t *testing.T) {
	store := NewLocalStore(t.TempDir())
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "empty", nil))
	got, err := store.Get(ctx, "empty")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestThrottledStore(t *testing.T) {
	t.Run("Unlimited", func(t *testing.T) {
		store := NewThrottledStore(NewMemoryStore(), 0)
		storeSuite(t, store)
	})

	t.Run("Limited", func(t *testing.T) {
		store := NewThrottledStore(NewMemoryStore(), 1000)
		ctx := context.Background()

		// The first write drains the burst; the second must wait.
		require.NoError(t, store.Put(ctx, "a", make([]byte, 1000)))
		start := time.Now()
		require.NoError(t, store.Put(ctx, "b", make([]byte, 200)))
		assert.GreaterOrEqual(t, time.Since(start), 150*time.Millisecond)
	})

	t.Run("Canceled", func(t *testing.T) {
		store := NewThrottledStore(NewMemoryStore(), 10)
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()

		require.NoError(t, store.Put(context.Background(), "a", make([]byte, 10)))
		assert.Error(t, store.Put(ctx, "b", make([]byte, 10)))
	})
}
