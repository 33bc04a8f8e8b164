package index

import (
	"context"
	"sync/atomic"

	"github.com/chewxy/math32"

	"github.com/hupe1980/flesh/internal/arena"
	"github.com/hupe1980/flesh/internal/embed"
	"github.com/hupe1980/flesh/internal/geom"
	"github.com/hupe1980/flesh/internal/lsh"
	"github.com/hupe1980/flesh/internal/shadow"
)

// Generation is an immutable snapshot of the index. It must only be read
// between Manager.Acquire and Release.
type Generation struct {
	arena *arena.Arena
	opts  *Options
	epoch uint64

	records   []shadow.Record
	oversized []uint32
	byBody    []uint32 // slot -> record+1, 0 if absent

	emb    *embed.Embedder
	lsh    *lsh.Index
	bounds geom.AABox
	reach  int32

	// Voxel bounds of the centers of all regular records. lo > hi when
	// there are none.
	lo, hi embed.Voxel

	// widened counts query samples that exceeded TopK.
	widened atomic.Uint64
}

// Stats describes a generation.
type Stats struct {
	Epoch     uint64
	Records   int
	CellSize  float32
	Reach     int32
	Oversized int
	LSH       lsh.Stats
	// WidenedSamples counts query samples whose admitted cells held more
	// than TopK new points and were read in full.
	WidenedSamples uint64
	ArenaUsed      uint64
	ArenaReserved  uint64
}

// Release unpins the generation.
func (g *Generation) Release() {
	g.arena.DecRef()
}

// Epoch returns the generation number. The initial empty generation is 0.
func (g *Generation) Epoch() uint64 { return g.epoch }

// Len returns the number of records.
func (g *Generation) Len() int { return len(g.records) }

// Record returns record i.
func (g *Generation) Record(i uint32) shadow.Record { return g.records[i] }

// Records returns all records in build order. The slice is arena memory
// and must not be retained past Release.
func (g *Generation) Records() []shadow.Record { return g.records }

// CellSize returns the voxel edge length, or 0 for an empty generation.
func (g *Generation) CellSize() float32 {
	if g.emb == nil {
		return 0
	}
	return g.emb.CellSize()
}

// Bounds returns the union of all record bounds.
func (g *Generation) Bounds() geom.AABox { return g.bounds }

// Lookup returns the record of a body.
func (g *Generation) Lookup(body uint32) (uint32, bool) {
	slot := body & BodyIndexMask
	if body == InvalidBody || int(slot) >= len(g.byBody) {
		return 0, false
	}
	ref := g.byBody[slot]
	if ref == 0 || g.records[ref-1].Body() != body {
		return 0, false
	}
	return ref - 1, true
}

// Stats returns the generation statistics.
func (g *Generation) Stats() Stats {
	st := Stats{
		Epoch:     g.epoch,
		Records:   len(g.records),
		Reach:     g.reach,
		Oversized: len(g.oversized),

		WidenedSamples: g.widened.Load(),
	}
	if g.emb != nil {
		st.CellSize = g.emb.CellSize()
	}
	if g.lsh != nil {
		st.LSH = g.lsh.Stats()
	}
	as := g.arena.Stats()
	st.ArenaUsed = as.BytesUsed
	st.ArenaReserved = as.BytesReserved
	return st
}

// partition computes the reach and splits off oversized records.
func (g *Generation) partition(ctx context.Context) error {
	cs := g.emb.CellSize()
	limit := cs * float32(g.opts.MaxReach)

	var (
		maxHalf   float32
		oversized int
	)
	g.lo = embed.Voxel{embed.MaxCoord, embed.MaxCoord, embed.MaxCoord}
	g.hi = embed.Voxel{embed.MinCoord, embed.MinCoord, embed.MinCoord}

	for _, r := range g.records {
		h := r.Extent().MaxComponent()
		if !(h <= limit) {
			oversized++
			continue
		}
		maxHalf = math32.Max(maxHalf, h)
		v := g.emb.Voxel(r.Center())
		for k := range 3 {
			g.lo[k] = min(g.lo[k], v[k])
			g.hi[k] = max(g.hi[k], v[k])
		}
	}

	g.reach = max(1, int32(math32.Ceil(maxHalf/cs)))

	if oversized == 0 {
		return nil
	}
	list, err := arena.MakeSlice[uint32](ctx, g.arena, oversized)
	if err != nil {
		return err
	}
	n := 0
	for i, r := range g.records {
		if !(r.Extent().MaxComponent() <= limit) {
			list[n] = uint32(i)
			n++
		}
	}
	g.oversized = list
	return nil
}

func (g *Generation) buildLookup(ctx context.Context) error {
	size := -1
	for _, r := range g.records {
		if b := r.Body(); b != InvalidBody {
			size = max(size, int(b&BodyIndexMask))
		}
	}
	if size < 0 {
		return nil
	}

	byBody, err := arena.MakeSlice[uint32](ctx, g.arena, size+1)
	if err != nil {
		return err
	}
	for i, r := range g.records {
		if b := r.Body(); b != InvalidBody {
			byBody[b&BodyIndexMask] = uint32(i) + 1
		}
	}
	g.byBody = byBody
	return nil
}
