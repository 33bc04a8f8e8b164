package index

import (
	"math"
	"sync"

	"github.com/bits-and-blooms/bitset"

	"github.com/hupe1980/flesh/internal/count"
	"github.com/hupe1980/flesh/internal/embed"
	"github.com/hupe1980/flesh/internal/geom"
)

var visitedPool = sync.Pool{
	New: func() any { return bitset.New(1024) },
}

var samplesPool = sync.Pool{
	New: func() any { return make(map[embed.Voxel]struct{}, 256) },
}

// gatherer deduplicates candidate records of one query and forwards them
// until the consumer asks to stop.
type gatherer struct {
	g       *Generation
	visited *bitset.BitSet
	counts  *count.Table
	fn      func(rec uint32) bool
	stopped bool

	// exhaustive lifts the TopK cut-off of a sample that reached it.
	exhaustive bool
	widened    int
}

func (g *Generation) gatherer(fn func(rec uint32) bool) *gatherer {
	visited := visitedPool.Get().(*bitset.BitSet)
	visited.ClearAll()
	return &gatherer{g: g, visited: visited, counts: count.Get(), fn: fn, exhaustive: true}
}

// release returns the pooled state and reports the number of widened
// samples.
func (q *gatherer) release() int {
	visitedPool.Put(q.visited)
	count.Put(q.counts)
	if q.widened > 0 {
		q.g.widened.Add(uint64(q.widened))
	}
	return q.widened
}

// offer reports whether rec was new.
func (q *gatherer) offer(rec uint32) bool {
	if q.stopped || q.visited.Test(uint(rec)) {
		return false
	}
	q.visited.Set(uint(rec))
	if !q.fn(rec) {
		q.stopped = true
	}
	return true
}

// point maps a point id to its record.
func (q *gatherer) point(id uint32) bool {
	return q.offer(id >> 1)
}

// query offers the points of the cells blob admits. A sample that reaches
// TopK is queried again without the limit; ids from the first pass are
// duplicates by then, so the second pass yields the rest of the cells.
func (q *gatherer) query(blob embed.Blob) {
	q.counts.Reset()
	_, truncated := q.g.lsh.Query(blob, q.g.opts.TopK, q.counts, q.point)
	if !truncated || !q.exhaustive || q.stopped {
		return
	}
	q.widened++
	q.counts.Reset()
	q.g.lsh.Query(blob, math.MaxInt, q.counts, q.point)
}

func (q *gatherer) sample(v embed.Voxel) {
	q.query(q.g.emb.Hash(q.g.emb.CenterPoint(v)))
}

func (q *gatherer) region(b geom.AABox) {
	if !q.stopped {
		q.query(q.g.emb.Hash(q.g.emb.LinePoint(b)))
	}
}

func (q *gatherer) scanOversized() {
	for _, rec := range q.g.oversized {
		if q.stopped {
			return
		}
		q.offer(rec)
	}
}

func (q *gatherer) linear() {
	for i := range q.g.records {
		if q.stopped {
			return
		}
		q.offer(uint32(i))
	}
}

// clip dilates [lo, hi] by d and intersects it with the voxel bounds of the
// record centers.
func (g *Generation) clip(lo, hi embed.Voxel, d int32) (embed.Voxel, embed.Voxel, bool) {
	for k := range 3 {
		lo[k] = max(lo[k]-d, g.lo[k])
		hi[k] = min(hi[k]+d, g.hi[k])
		if lo[k] > hi[k] {
			return lo, hi, false
		}
	}
	return lo, hi, true
}

// CandidatesInBox streams every record whose box may overlap b, plus false
// positives, to fn. Each record is reported at most once. fn returns false
// to stop. extra widens the search by that many cells. It returns the
// number of samples that exceeded TopK and were widened.
func (g *Generation) CandidatesInBox(b geom.AABox, extra int32, fn func(rec uint32) bool) (widened int) {
	if len(g.records) == 0 {
		return 0
	}
	q := g.gatherer(fn)
	defer func() { widened = q.release() }()

	q.scanOversized()

	lo, hi := g.emb.VoxelRange(b)
	if lo, hi, ok := g.clip(lo, hi, g.reach+max(extra, 0)); ok {
		samples := int64(hi[0]-lo[0]+1) * int64(hi[1]-lo[1]+1) * int64(hi[2]-lo[2]+1)
		if samples > int64(g.opts.MaxSamplesPerQuery) {
			q.linear()
			return
		}
		for x := lo[0]; x <= hi[0]; x++ {
			for y := lo[1]; y <= hi[1]; y++ {
				for z := lo[2]; z <= hi[2]; z++ {
					if q.stopped {
						return
					}
					q.sample(embed.Voxel{x, y, z})
				}
			}
		}
	}

	q.region(b)
	return
}

// CandidatesAlongSegment streams every record whose box may intersect the
// segment origin + t*delta, t in [0, 1], to fn. Semantics as in
// CandidatesInBox.
func (g *Generation) CandidatesAlongSegment(origin, delta geom.Vec3, extra int32, fn func(rec uint32) bool) (widened int) {
	if len(g.records) == 0 {
		return 0
	}
	q := g.gatherer(fn)
	defer func() { widened = q.release() }()

	q.scanOversized()

	// One extra cell absorbs rounding at voxel faces during the walk.
	d := g.reach + max(extra, 0) + 1
	cs := g.emb.CellSize()
	world := geom.Box(
		geom.V(float32(g.lo[0]-d)*cs, float32(g.lo[1]-d)*cs, float32(g.lo[2]-d)*cs),
		geom.V(float32(g.hi[0]+d+1)*cs, float32(g.hi[1]+d+1)*cs, float32(g.hi[2]+d+1)*cs),
	)

	if t0, t1, ok := geom.ClipSegment(origin, delta, world); ok && g.lo[0] <= g.hi[0] {
		seen := samplesPool.Get().(map[embed.Voxel]struct{})
		defer func() {
			clear(seen)
			samplesPool.Put(seen)
		}()

		budget := g.opts.MaxSamplesPerQuery
		overBudget := false
		g.emb.WalkRay(origin.Add(delta.Scale(t0)), delta.Scale(t1-t0), func(v embed.Voxel) bool {
			lo, hi, ok := g.clip(v, v, d)
			if !ok {
				return true
			}
			for x := lo[0]; x <= hi[0]; x++ {
				for y := lo[1]; y <= hi[1]; y++ {
					for z := lo[2]; z <= hi[2]; z++ {
						s := embed.Voxel{x, y, z}
						if _, dup := seen[s]; dup {
							continue
						}
						if len(seen) >= budget {
							overBudget = true
							return false
						}
						seen[s] = struct{}{}
						q.sample(s)
						if q.stopped {
							return false
						}
					}
				}
			}
			return true
		})
		if overBudget {
			q.linear()
			return
		}
	}

	q.region(geom.Box(origin.Min(origin.Add(delta)), origin.Max(origin.Add(delta))))
	return
}

// SampleCenter runs the single LSH query of the voxel containing p and
// streams the resulting records to fn. It exposes the raw index, TopK
// cut-off included, for recall measurements.
func (g *Generation) SampleCenter(p geom.Vec3, fn func(rec uint32) bool) {
	if len(g.records) == 0 {
		return
	}
	q := g.gatherer(fn)
	defer q.release()
	q.exhaustive = false
	q.sample(g.emb.Voxel(p))
}

// ScanAll streams every record to fn in build order.
func (g *Generation) ScanAll(fn func(rec uint32) bool) {
	for i := range g.records {
		if !fn(uint32(i)) {
			return
		}
	}
}
