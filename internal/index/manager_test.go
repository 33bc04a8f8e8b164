package index

import (
	"context"
	"math/rand/v2"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/flesh/internal/geom"
	"github.com/hupe1980/flesh/internal/resource"
	"github.com/hupe1980/flesh/internal/shadow"
)

func randomRecords(n int, seed uint64, world float32) []shadow.Record {
	rng := rand.New(rand.NewPCG(seed, seed^0x5eed))
	out := make([]shadow.Record, n)
	for i := range out {
		c := geom.V(rng.Float32()*world, rng.Float32()*world, rng.Float32()*world)
		e := geom.V(0.25+rng.Float32()*0.75, 0.25+rng.Float32()*0.75, 0.25+rng.Float32()*0.75)
		out[i] = shadow.New(c, e, uint8(i%4), shadow.FlagRigid|shadow.FlagDynamic|shadow.FlagActive, uint32(i))
	}
	return out
}

func newManager(t *testing.T, optFns ...func(*Options)) *Manager {
	t.Helper()
	optFns = append([]func(*Options){func(o *Options) { o.ChunkSize = 1 << 20 }}, optFns...)
	m := New(optFns...)
	t.Cleanup(m.Close)
	return m
}

func inBox(g *Generation, b geom.AABox) []uint32 {
	var out []uint32
	g.CandidatesInBox(b, 0, func(rec uint32) bool {
		out = append(out, rec)
		return true
	})
	return out
}

func alongSegment(g *Generation, origin, delta geom.Vec3) []uint32 {
	var out []uint32
	g.CandidatesAlongSegment(origin, delta, 0, func(rec uint32) bool {
		out = append(out, rec)
		return true
	})
	return out
}

func sorted(ids []uint32) []uint32 {
	out := append([]uint32(nil), ids...)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func TestManager_Empty(t *testing.T) {
	m := newManager(t)

	g := m.Acquire()
	defer g.Release()

	assert.Zero(t, g.Epoch())
	assert.Zero(t, g.Len())
	assert.True(t, g.Bounds().IsEmpty())
	assert.Empty(t, inBox(g, geom.Box(geom.Splat(-1e6), geom.Splat(1e6))))
	assert.Empty(t, alongSegment(g, geom.V(0, 0, 0), geom.V(100, 0, 0)))
	_, ok := g.Lookup(0)
	assert.False(t, ok)
}

func TestManager_RebuildAll(t *testing.T) {
	m := newManager(t)
	records := randomRecords(500, 1, 50)

	st, err := m.RebuildAll(t.Context(), records)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), st.Epoch)
	assert.Equal(t, 500, st.Records)
	assert.Equal(t, uint32(1000), st.LSH.Points)
	assert.Positive(t, st.CellSize)
	assert.GreaterOrEqual(t, st.Reach, int32(1))
	assert.Positive(t, st.ArenaUsed)

	g := m.Acquire()
	defer g.Release()
	assert.Equal(t, uint64(1), m.Epoch())
	assert.Equal(t, records, g.Records())

	for i, r := range records {
		rec, ok := g.Lookup(r.Body())
		require.True(t, ok)
		assert.Equal(t, uint32(i), rec)
	}
	_, ok := g.Lookup(InvalidBody)
	assert.False(t, ok)
	_, ok = g.Lookup(1<<23 | 3) // right slot, stale sequence
	assert.False(t, ok)

	want := geom.EmptyBox()
	for _, r := range records {
		want = want.Encapsulate(r.Bounds())
	}
	assert.Equal(t, want, g.Bounds())
}

func TestManager_BoxCandidatesAreComplete(t *testing.T) {
	m := newManager(t)
	records := randomRecords(2000, 2, 60)
	_, err := m.RebuildAll(t.Context(), records)
	require.NoError(t, err)

	g := m.Acquire()
	defer g.Release()

	rng := rand.New(rand.NewPCG(3, 4))
	for range 200 {
		c := geom.V(rng.Float32()*60, rng.Float32()*60, rng.Float32()*60)
		q := geom.FromCenterExtent(c, geom.Splat(0.5+rng.Float32()*3))

		got := make(map[uint32]bool)
		for _, rec := range inBox(g, q) {
			assert.False(t, got[rec], "record %d reported twice", rec)
			got[rec] = true
		}
		for i, r := range records {
			if r.Bounds().Overlaps(q) {
				assert.True(t, got[uint32(i)], "missed record %d", i)
			}
		}
	}
}

func TestManager_DensePileCandidatesAreComplete(t *testing.T) {
	m := newManager(t)
	records := randomRecords(200, 11, 20)
	pile := geom.V(30, 30, 30)
	for i := range 60 {
		records = append(records, shadow.New(pile, geom.Splat(0.05), 0, shadow.FlagRigid|shadow.FlagDynamic, uint32(1000+i)))
	}
	_, err := m.RebuildAll(t.Context(), records)
	require.NoError(t, err)

	g := m.Acquire()
	defer g.Release()

	var raw int
	g.SampleCenter(pile, func(uint32) bool {
		raw++
		return true
	})
	assert.Less(t, raw, 60, "a single sample stops at TopK")

	got := make(map[uint32]bool)
	for _, rec := range inBox(g, geom.FromCenterExtent(pile, geom.Splat(0.1))) {
		got[rec] = true
	}
	for i := 200; i < len(records); i++ {
		assert.True(t, got[uint32(i)], "missed record %d", i)
	}
	assert.Positive(t, g.Stats().WidenedSamples)
}

func TestManager_SegmentCandidatesAreComplete(t *testing.T) {
	m := newManager(t)
	records := randomRecords(2000, 5, 60)
	_, err := m.RebuildAll(t.Context(), records)
	require.NoError(t, err)

	g := m.Acquire()
	defer g.Release()

	rng := rand.New(rand.NewPCG(6, 7))
	for range 100 {
		origin := geom.V(rng.Float32()*80-10, rng.Float32()*80-10, rng.Float32()*80-10)
		delta := geom.V(rng.Float32()*40-20, rng.Float32()*40-20, rng.Float32()*40-20)

		got := make(map[uint32]bool)
		for _, rec := range alongSegment(g, origin, delta) {
			got[rec] = true
		}
		for i, r := range records {
			if _, hit := geom.RayBox(origin, delta, r.Bounds()); hit {
				assert.True(t, got[uint32(i)], "missed record %d", i)
			}
		}
	}
}

func TestManager_Recall(t *testing.T) {
	m := newManager(t)
	records := randomRecords(10_000, 8, 200)
	_, err := m.RebuildAll(t.Context(), records)
	require.NoError(t, err)

	g := m.Acquire()
	defer g.Release()

	found := 0
	for i, r := range records {
		g.SampleCenter(r.Center(), func(rec uint32) bool {
			if rec == uint32(i) {
				found++
				return false
			}
			return true
		})
	}
	recall := float64(found) / float64(len(records))
	t.Logf("raw LSH recall over %d boxes: %.4f", len(records), recall)
	assert.GreaterOrEqual(t, recall, 0.95)
}

func TestManager_Deterministic(t *testing.T) {
	records := randomRecords(1500, 9, 40)

	a, b := newManager(t), newManager(t)
	_, err := a.RebuildAll(t.Context(), records)
	require.NoError(t, err)
	_, err = b.RebuildAll(t.Context(), records)
	require.NoError(t, err)

	ga, gb := a.Acquire(), b.Acquire()
	defer ga.Release()
	defer gb.Release()

	rng := rand.New(rand.NewPCG(10, 11))
	for range 50 {
		q := geom.FromCenterExtent(geom.V(rng.Float32()*40, rng.Float32()*40, rng.Float32()*40), geom.Splat(2))
		assert.Equal(t, inBox(ga, q), inBox(gb, q))

		o := geom.V(rng.Float32()*40, rng.Float32()*40, rng.Float32()*40)
		d := geom.V(rng.Float32()*10, rng.Float32()*10, rng.Float32()*10)
		assert.Equal(t, alongSegment(ga, o, d), alongSegment(gb, o, d))
	}
	assert.Equal(t, ga.Stats().LSH, gb.Stats().LSH)
}

func TestManager_Oversized(t *testing.T) {
	m := newManager(t)
	records := randomRecords(200, 12, 30)
	huge := shadow.New(geom.V(500, 500, 500), geom.Splat(1000), 0, shadow.FlagRigid|shadow.FlagStatic, 999)
	records = append(records, huge)

	st, err := m.RebuildAll(t.Context(), records)
	require.NoError(t, err)
	assert.Equal(t, 1, st.Oversized)

	g := m.Acquire()
	defer g.Release()

	assert.Contains(t, inBox(g, geom.FromCenterExtent(geom.V(-100, -100, -100), geom.Splat(1))), uint32(200))
	assert.Contains(t, alongSegment(g, geom.V(-50, 0, 0), geom.V(1, 0, 0)), uint32(200))
}

func TestManager_LinearFallback(t *testing.T) {
	m := newManager(t, func(o *Options) { o.MaxSamplesPerQuery = 1 })
	records := randomRecords(300, 13, 20)
	_, err := m.RebuildAll(t.Context(), records)
	require.NoError(t, err)

	g := m.Acquire()
	defer g.Release()

	got := inBox(g, geom.Box(geom.Splat(0), geom.Splat(20)))
	assert.Len(t, got, len(records), "an over-budget query scans every record")
	assert.Len(t, alongSegment(g, geom.V(0, 0, 0), geom.V(20, 20, 20)), len(records))
}

func TestManager_EarlyStop(t *testing.T) {
	m := newManager(t)
	_, err := m.RebuildAll(t.Context(), randomRecords(500, 14, 10))
	require.NoError(t, err)

	g := m.Acquire()
	defer g.Release()

	n := 0
	g.CandidatesInBox(geom.Box(geom.Splat(0), geom.Splat(10)), 0, func(uint32) bool {
		n++
		return n < 3
	})
	assert.Equal(t, 3, n)
}

func TestManager_ArenaExhausted(t *testing.T) {
	m := newManager(t, func(o *Options) {
		o.ChunkSize = 1 << 16
		o.MaxArenaBytes = 12 << 20
	})

	small := randomRecords(100, 15, 20)
	_, err := m.RebuildAll(t.Context(), small)
	require.NoError(t, err)

	_, err = m.RebuildAll(t.Context(), randomRecords(400_000, 16, 500))
	require.ErrorIs(t, err, ErrArenaExhausted)

	g := m.Acquire()
	defer g.Release()
	assert.Equal(t, uint64(1), g.Epoch(), "the previous generation keeps serving")
	assert.Equal(t, small, g.Records())
	assert.NotEmpty(t, inBox(g, g.Bounds()))
}

func TestManager_MemoryBudget(t *testing.T) {
	rc := resource.NewController(resource.Config{MemoryLimitBytes: 4 << 20})
	m := newManager(t, func(o *Options) {
		o.ChunkSize = 1 << 20
		o.MemoryAcquirer = rc
		o.Slots = rc
	})

	_, err := m.RebuildAll(t.Context(), randomRecords(10, 17, 5))
	require.ErrorIs(t, err, ErrArenaExhausted)
	assert.ErrorIs(t, err, resource.ErrMemoryLimitExceeded)
	assert.Zero(t, m.Epoch())
	assert.True(t, rc.TryAcquireBackground(), "the rebuild slot is returned")
	rc.ReleaseBackground()
}

func TestManager_ResetWaitsForReaders(t *testing.T) {
	m := newManager(t)
	first := randomRecords(50, 18, 10)
	_, err := m.RebuildAll(t.Context(), first)
	require.NoError(t, err)

	held := m.Acquire()

	_, err = m.RebuildAll(t.Context(), randomRecords(50, 19, 10))
	require.NoError(t, err)
	assert.Equal(t, uint64(2), m.Epoch())

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = m.RebuildAll(context.Background(), randomRecords(50, 20, 10))
	}()

	select {
	case <-done:
		t.Fatal("rebuild reused an arena that is still pinned")
	case <-time.After(50 * time.Millisecond):
	}
	assert.Equal(t, first, held.Records(), "pinned records stay intact")

	held.Release()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("rebuild did not resume after release")
	}
	assert.Equal(t, uint64(3), m.Epoch())
}

func TestManager_ConcurrentQueries(t *testing.T) {
	m := newManager(t)
	_, err := m.RebuildAll(t.Context(), randomRecords(500, 21, 20))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(t.Context())
	var wg sync.WaitGroup
	for w := range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rng := rand.New(rand.NewPCG(uint64(w), 22))
			for ctx.Err() == nil {
				g := m.Acquire()
				q := geom.FromCenterExtent(geom.V(rng.Float32()*20, rng.Float32()*20, rng.Float32()*20), geom.Splat(1))
				g.CandidatesInBox(q, 0, func(rec uint32) bool {
					_ = g.Record(rec).Bounds()
					return true
				})
				g.Release()
			}
		}()
	}

	for i := range 10 {
		_, err := m.RebuildAll(t.Context(), randomRecords(500, uint64(100+i), 20))
		require.NoError(t, err)
	}
	cancel()
	wg.Wait()
	assert.Equal(t, uint64(11), m.Epoch())
}

func TestManager_Closed(t *testing.T) {
	m := New()
	_, err := m.RebuildAll(t.Context(), randomRecords(10, 23, 5))
	require.NoError(t, err)
	m.Close()
	m.Close()

	_, err = m.RebuildAll(t.Context(), nil)
	assert.ErrorIs(t, err, ErrClosed)

	g := m.Acquire()
	assert.Zero(t, g.Len())
	g.Release()
}
