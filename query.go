package flesh

import (
	"context"
	"sync"
	"time"

	"github.com/chewxy/math32"

	"github.com/hupe1980/flesh/internal/geom"
	"github.com/hupe1980/flesh/internal/index"
	"github.com/hupe1980/flesh/internal/shadow"
)

// maxExtraCells bounds the dilation of a shape cast. Larger casts exceed
// any sample budget and scan linearly anyway.
const maxExtraCells = 1 << 16

type layerTest struct {
	layers BroadPhaseLayerInterface
	bpf    BroadPhaseLayerFilter
	olf    ObjectLayerFilter
}

func (t layerTest) accept(r shadow.Record) bool {
	l := ObjectLayer(r.Layer())
	if t.bpf != nil && !t.bpf.ShouldCollide(t.layers.BroadPhaseLayer(l)) {
		return false
	}
	return t.olf == nil || t.olf.ShouldCollide(l)
}

// castSink reports cast hits, honouring the collector's early-out
// fraction and the per-cast hit limit.
type castSink struct {
	c       Collector[CastResult]
	limiter FractionLimiter
	limit   int
	hits    int
}

func newCastSink(c Collector[CastResult], limit int) *castSink {
	s := &castSink{c: c, limit: limit}
	s.limiter, _ = c.(FractionLimiter)
	return s
}

// add reports whether the query should continue.
func (s *castSink) add(body uint32, f float32) bool {
	if s.limiter != nil && f >= s.limiter.EarlyOutFraction() {
		return true
	}
	s.c.AddHit(CastResult{BodyID: BodyID(body), Fraction: f})
	s.hits++
	return s.hits < s.limit && !s.c.ShouldEarlyOut()
}

// CastRay reports every body whose bounds the segment
// ray.Origin + t*ray.Direction, t in [0, 1], enters, with the entry
// fraction. At most MaxHitsPerCast hits are reported.
func (bp *BroadPhase) CastRay(ray RayCast, c RayCastBodyCollector, bpf BroadPhaseLayerFilter, olf ObjectLayerFilter) error {
	if !ray.IsValid() {
		return bp.rejectInput("CastRay", "ray is not finite")
	}
	start := time.Now()

	g := bp.mgr.Acquire()
	defer g.Release()

	lt := layerTest{layers: bp.layers(), bpf: bpf, olf: olf}
	sink := newCastSink(c, bp.opts.maxHitsPerCast)
	candidates := 0

	widened := g.CandidatesAlongSegment(ray.Origin, ray.Direction, 0, func(rec uint32) bool {
		candidates++
		r := g.Record(rec)
		if !lt.accept(r) {
			return true
		}
		f, ok := geom.RayBox(ray.Origin, ray.Direction, r.Bounds())
		if !ok {
			return true
		}
		return sink.add(r.Body(), f)
	})

	bp.noteWidened(g, widened)
	bp.metrics.RecordQuery(QueryCastRay, candidates, sink.hits, time.Since(start))
	return nil
}

// CastAABox sweeps cast.Box along cast.Direction and reports every body it
// touches with the entry fraction.
func (bp *BroadPhase) CastAABox(cast AABoxCast, c CastShapeBodyCollector, bpf BroadPhaseLayerFilter, olf ObjectLayerFilter) error {
	if !cast.IsValid() {
		return bp.rejectInput("CastAABox", "cast is not finite or box is inverted")
	}
	start := time.Now()

	g := bp.mgr.Acquire()
	defer g.Release()

	lt := layerTest{layers: bp.layers(), bpf: bpf, olf: olf}
	sink := newCastSink(c, bp.opts.maxHitsPerCast)
	candidates := 0

	half := cast.Box.Extent()
	var extra int32
	if cs := g.CellSize(); cs > 0 {
		extra = int32(math32.Min(math32.Ceil(half.MaxComponent()/cs), maxExtraCells))
	}

	widened := g.CandidatesAlongSegment(cast.Box.Center(), cast.Direction, extra, func(rec uint32) bool {
		candidates++
		r := g.Record(rec)
		if !lt.accept(r) {
			return true
		}
		f, ok := geom.SweepBox(cast, r.Bounds())
		if !ok {
			return true
		}
		return sink.add(r.Body(), f)
	})

	bp.noteWidened(g, widened)
	bp.metrics.RecordQuery(QueryCastAABox, candidates, sink.hits, time.Since(start))
	return nil
}

// collide runs a region query over box and reports the bodies passing hit.
func (bp *BroadPhase) collide(kind QueryKind, box AABox, c CollideShapeBodyCollector, lt layerTest, hit func(AABox) bool) {
	start := time.Now()

	g := bp.mgr.Acquire()
	defer g.Release()

	candidates, hits := 0, 0
	widened := g.CandidatesInBox(box, 0, func(rec uint32) bool {
		candidates++
		r := g.Record(rec)
		if !lt.accept(r) || !hit(r.Bounds()) {
			return true
		}
		c.AddHit(BodyID(r.Body()))
		hits++
		return !c.ShouldEarlyOut()
	})

	bp.noteWidened(g, widened)
	bp.metrics.RecordQuery(kind, candidates, hits, time.Since(start))
}

// CollideAABox reports every body whose bounds overlap box. Touching
// counts as overlap.
func (bp *BroadPhase) CollideAABox(box AABox, c CollideShapeBodyCollector, bpf BroadPhaseLayerFilter, olf ObjectLayerFilter) error {
	if !box.IsValid() {
		return bp.rejectInput("CollideAABox", "box is not finite or inverted")
	}
	bp.collide(QueryCollideAABox, box, c, layerTest{layers: bp.layers(), bpf: bpf, olf: olf}, box.Overlaps)
	return nil
}

// CollideSphere reports every body whose bounds intersect the sphere.
func (bp *BroadPhase) CollideSphere(center Vec3, radius float32, c CollideShapeBodyCollector, bpf BroadPhaseLayerFilter, olf ObjectLayerFilter) error {
	if !center.IsFinite() || !(radius >= 0) || math32.IsInf(radius, 1) {
		return bp.rejectInput("CollideSphere", "center or radius is not finite, or radius is negative")
	}
	box := geom.FromCenterExtent(center, geom.Splat(radius))
	bp.collide(QueryCollideSphere, box, c, layerTest{layers: bp.layers(), bpf: bpf, olf: olf}, func(b AABox) bool {
		return b.OverlapsSphere(center, radius)
	})
	return nil
}

// CollidePoint reports every body whose bounds lie within PointQueryRadius
// of point. With a zero radius the point must be inside the bounds.
func (bp *BroadPhase) CollidePoint(point Vec3, c CollideShapeBodyCollector, bpf BroadPhaseLayerFilter, olf ObjectLayerFilter) error {
	if !point.IsFinite() {
		return bp.rejectInput("CollidePoint", "point is not finite")
	}
	r := bp.opts.pointQueryRadius
	box := geom.FromCenterExtent(point, geom.Splat(r))
	lt := layerTest{layers: bp.layers(), bpf: bpf, olf: olf}
	if r == 0 {
		bp.collide(QueryCollidePoint, box, c, lt, func(b AABox) bool { return b.Contains(point) })
		return nil
	}
	bp.collide(QueryCollidePoint, box, c, lt, func(b AABox) bool { return b.OverlapsSphere(point, r) })
	return nil
}

// CollideOrientedBox is not supported and always fails with ErrUnsupported.
func (bp *BroadPhase) CollideOrientedBox(_ OrientedBox, _ CollideShapeBodyCollector, _ BroadPhaseLayerFilter, _ ObjectLayerFilter) error {
	bp.logger.LogUnsupported(context.Background(), QueryCollideOrientedBox.String())
	bp.metrics.RecordQuery(QueryCollideOrientedBox, 0, 0, 0)
	return &ErrUnsupportedQuery{Query: QueryCollideOrientedBox.String()}
}

var activeOrderPool = sync.Pool{
	New: func() any { return new([]uint32) },
}

// FindCollidingPairs reports each eligible overlapping pair that involves
// an active body exactly once. The bounds of the active body are grown by
// margin before the overlap test.
//
// When both bodies are active the pair is reported from the body that
// comes first in active; bodies not in active rank after all others.
func (bp *BroadPhase) FindCollidingPairs(active []BodyID, margin float32, ovb ObjectVsBroadPhaseLayerFilter, pf ObjectLayerPairFilter, c BodyPairCollector) error {
	if !(margin >= 0) || math32.IsInf(margin, 1) {
		return bp.rejectInput("FindCollidingPairs", "margin is not finite or negative")
	}
	start := time.Now()

	g := bp.mgr.Acquire()
	defer g.Release()

	orderp := activeOrderPool.Get().(*[]uint32)
	order := (*orderp)[:0]
	for range g.Len() {
		order = append(order, index.InvalidBody)
	}
	defer func() {
		*orderp = order
		activeOrderPool.Put(orderp)
	}()

	// First occurrence wins, so duplicated ids report their pairs once.
	for i, id := range active {
		if rec, ok := g.Lookup(uint32(id)); ok && order[rec] == index.InvalidBody {
			order[rec] = uint32(i)
		}
	}

	layers := bp.layers()
	grow := geom.Splat(margin)
	pairs, widened := 0, 0
	stopped := false

	for i, id := range active {
		if stopped {
			break
		}
		ra, ok := g.Lookup(uint32(id))
		if !ok || order[ra] != uint32(i) {
			continue
		}
		a := g.Record(ra)
		la := ObjectLayer(a.Layer())
		box := a.Bounds().ExpandBy(grow)

		widened += g.CandidatesInBox(box, 0, func(rb uint32) bool {
			if rb == ra || order[rb] < uint32(i) {
				return true
			}
			b := g.Record(rb)
			if !shadow.CanCollide(a, b) {
				return true
			}
			lb := ObjectLayer(b.Layer())
			if ovb != nil && !ovb.ShouldCollide(la, layers.BroadPhaseLayer(lb)) {
				return true
			}
			if pf != nil && !pf.ShouldCollide(la, lb) {
				return true
			}
			if !box.Overlaps(b.Bounds()) {
				return true
			}
			c.AddHit(BodyPair{A: BodyID(a.Body()), B: BodyID(b.Body())})
			pairs++
			if c.ShouldEarlyOut() {
				stopped = true
				return false
			}
			return true
		})
	}

	bp.noteWidened(g, widened)
	bp.metrics.RecordPairs(len(active), pairs, time.Since(start))
	return nil
}
