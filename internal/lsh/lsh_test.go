package lsh

import (
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/flesh/internal/arena"
	"github.com/hupe1980/flesh/internal/count"
	"github.com/hupe1980/flesh/internal/embed"
)

func newIndex(t *testing.T, points int, optFns ...func(*Options)) *Index {
	t.Helper()
	a := arena.New(arena.WithChunkSize(1 << 20))
	t.Cleanup(a.Free)

	x := New(a, optFns...)
	require.NoError(t, x.Build(t.Context(), points))
	return x
}

func query(x *Index, blob embed.Blob, topK int) []uint32 {
	counts := count.Get()
	defer count.Put(counts)

	seen := make(map[uint32]bool)
	var out []uint32
	x.Query(blob, topK, counts, func(id uint32) bool {
		if seen[id] {
			return false
		}
		seen[id] = true
		out = append(out, id)
		return true
	})
	return out
}

func TestIndex_FindsOwnPoints(t *testing.T) {
	const n = 2000
	rng := rand.New(rand.NewPCG(1, 2))

	blobs := make([]embed.Blob, n)
	for i := range blobs {
		blobs[i] = embed.Blob(rng.Uint64() >> 8)
	}

	x := newIndex(t, n)
	first, err := x.AddPoints(blobs)
	require.NoError(t, err)
	assert.Zero(t, first)
	assert.Equal(t, n, x.Len())
	assert.Equal(t, uint8(3), x.Threshold())

	found := 0
	for i, blob := range blobs {
		for _, id := range query(x, blob, 20) {
			if id == uint32(i) {
				found++
				break
			}
		}
	}
	recall := float64(found) / n
	t.Logf("self recall: %.4f", recall)
	assert.GreaterOrEqual(t, recall, 0.99)

	st := x.Stats()
	assert.Equal(t, uint32(n), st.Points)
	assert.Equal(t, uint64(n*4*2)-st.BucketDrops, st.Entries)
}

func TestIndex_SharedHashGroups(t *testing.T) {
	x := newIndex(t, 16)
	blobs := make([]embed.Blob, 16)
	for i := range blobs {
		blobs[i] = embed.Blob(0xabc)
		if i%2 == 1 {
			blobs[i] = embed.Blob(0x123456789)
		}
	}
	_, err := x.AddPoints(blobs)
	require.NoError(t, err)

	got := query(x, embed.Blob(0xabc), 100)
	for _, id := range []uint32{0, 2, 4, 6, 8, 10, 12, 14} {
		assert.Contains(t, got, id)
	}
}

func TestIndex_TopK(t *testing.T) {
	x := newIndex(t, 64)
	blobs := make([]embed.Blob, 64)
	_, err := x.AddPoints(blobs)
	require.NoError(t, err)

	assert.Len(t, query(x, 0, 5), 5)
	assert.Empty(t, query(x, 0, 0))

	counts := count.Get()
	defer count.Put(counts)
	seen := make(map[uint32]bool)
	accept := func(id uint32) bool {
		if seen[id] {
			return false
		}
		seen[id] = true
		return true
	}

	n, truncated := x.Query(0, 5, counts, accept)
	assert.Equal(t, 5, n)
	assert.True(t, truncated)

	// Every point shares the blob, so an unbounded query returns the rest.
	counts.Reset()
	n, truncated = x.Query(0, 1000, counts, accept)
	assert.Equal(t, 59, n)
	assert.False(t, truncated)
	assert.Len(t, seen, 64)
	assert.Zero(t, x.Stats().BucketDrops)
}

func TestIndex_Empty(t *testing.T) {
	x := newIndex(t, 0)
	assert.Empty(t, query(x, 42, 20), "an empty index has no candidates")

	unbuilt := New(arena.New())
	_, err := unbuilt.AddPoints([]embed.Blob{1})
	assert.ErrorIs(t, err, ErrNotBuilt)
	assert.Empty(t, query(unbuilt, 1, 20))
}

func TestIndex_Capacity(t *testing.T) {
	x := newIndex(t, 2)
	_, err := x.AddPoints([]embed.Blob{1, 2, 3})
	assert.ErrorIs(t, err, ErrCapacity)

	first, err := x.AddPoints([]embed.Blob{1})
	require.NoError(t, err)
	assert.Zero(t, first)
	first, err = x.AddPoints([]embed.Blob{2})
	require.NoError(t, err)
	assert.Equal(t, uint32(1), first)
}

func TestIndex_ArenaLimit(t *testing.T) {
	a := arena.New(arena.WithChunkSize(1<<16), arena.WithMaxBytes(1<<16))
	defer a.Free()

	x := New(a)
	err := x.Build(t.Context(), 1000)
	assert.ErrorIs(t, err, arena.ErrMaxBytesExceeded)
}

func TestIndex_InvalidOptions(t *testing.T) {
	a := arena.New()
	defer a.Free()

	x := New(a, func(o *Options) { o.Bands = 8; o.BandBits = 9 })
	assert.ErrorIs(t, x.Build(t.Context(), 1), ErrInvalidOptions)

	x = New(a, func(o *Options) { o.CellsPerPoint = 9 })
	assert.ErrorIs(t, x.Build(t.Context(), 1), ErrInvalidOptions)
}

func TestIndex_Deterministic(t *testing.T) {
	blobs := make([]embed.Blob, 500)
	for i := range blobs {
		blobs[i] = embed.Blob(uint64(i) * 0x9e3779b97f4a7c15 >> 8)
	}

	a, b := newIndex(t, len(blobs)), newIndex(t, len(blobs))
	_, err := a.AddPoints(blobs)
	require.NoError(t, err)
	_, err = b.AddPoints(blobs)
	require.NoError(t, err)

	for _, blob := range blobs[:50] {
		assert.Equal(t, query(a, blob, 20), query(b, blob, 20))
	}
	assert.Equal(t, a.Stats(), b.Stats())
}
